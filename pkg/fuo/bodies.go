package fuo

// Bodies below are the #format=json renderings of response bodies.

// StatusBody is the reply to status.
type StatusBody struct {
	URI          string `json:"uri,omitempty"`
	Title        string `json:"title,omitempty"`
	Artists      string `json:"artists,omitempty"`
	State        string `json:"state"`
	PositionMS   int64  `json:"position"`
	DurationMS   int64  `json:"duration"`
	Volume       int    `json:"volume"`
	Mode         string `json:"mode"`
	PlaylistSize int    `json:"playlist_size"`
	Lyric        string `json:"lyric,omitempty"`
}

// ModelBody describes a song, album, artist, playlist, user or mv.
type ModelBody struct {
	URI         string      `json:"uri,omitempty"`
	Kind        string      `json:"kind,omitempty"`
	Title       string      `json:"title"`
	Artists     []string    `json:"artists,omitempty"`
	Album       string      `json:"album,omitempty"`
	Creator     string      `json:"creator,omitempty"`
	DurationMS  int64       `json:"duration_ms,omitempty"`
	CoverURL    string      `json:"cover,omitempty"`
	Description string      `json:"description,omitempty"`
	Songs       []ModelBody `json:"songs,omitempty"`
	Albums      []ModelBody `json:"albums,omitempty"`
	Playlists   []ModelBody `json:"playlists,omitempty"`
}

// ListItemBody is one playlist entry in the reply to list.
type ListItemBody struct {
	ModelBody
	Current bool `json:"current,omitempty"`
}

// SearchBody is one provider's answer in the reply to search.
type SearchBody struct {
	Provider string      `json:"provider"`
	Error    string      `json:"error,omitempty"`
	Items    []ModelBody `json:"items,omitempty"`
}

// ProviderBody is one entry of the reply to show without arguments.
type ProviderBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CollectionBody is one entry of the reply to collections.
type CollectionBody struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Count int    `json:"count"`
}

// CoverBody is the reply to cover.
type CoverBody struct {
	URL   string `json:"url"`
	Key   string `json:"key"`
	Bytes int    `json:"bytes"`
}
