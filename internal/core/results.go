package core

import "github.com/feeluown/fuocore/pkg/fuo"

// StatusResult holds the player status.
type StatusResult struct {
	Status fuo.StatusBody
}

// MessageResult holds a plain response body.
type MessageResult struct {
	Text string
}

// SongResult holds the song a skip landed on, if any.
type SongResult struct {
	Song *fuo.ModelBody
}

// ModelResult holds one hydrated model.
type ModelResult struct {
	Model fuo.ModelBody
}

// ModelListResult holds a list of models, such as a provider playlist or a
// collection.
type ModelListResult struct {
	Items []fuo.ModelBody
}

// QueueResult holds the current playlist.
type QueueResult struct {
	Items []fuo.ListItemBody
}

// SearchResult holds search hits grouped by provider.
type SearchResult struct {
	Keyword string
	Groups  []fuo.SearchBody
}

// ProvidersResult holds the registered providers.
type ProvidersResult struct {
	Providers []fuo.ProviderBody
}

// CollectionsResult holds collection summaries.
type CollectionsResult struct {
	Collections []fuo.CollectionBody
}

// CoverResult describes a cached cover image.
type CoverResult struct {
	Cover fuo.CoverBody
}

// EventResult is one pubsub message.
type EventResult struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}
