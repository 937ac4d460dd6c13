package library

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/core"
)

// Standby scores.
const (
	StandbyMinScore  = 0.5
	StandbyFullScore = 1.0
)

// standbyPerProvider caps how many partial matches are tried per provider.
const standbyPerProvider = 2

// Standby is a replacement for a song whose media could not be resolved,
// with the media already selected.
type Standby struct {
	Song    Model
	URL     string
	Quality Quality
	Score   float64
}

// StandbyScore rates how likely candidate is the same recording as origin,
// from 0 to 1. Artists, title, album and a duration within 10% count.
// When origin has no album or no duration, artists and title weigh more.
func StandbyScore(origin Model, candidate Model) float64 {
	weights := [4]int{3, 2, 2, 3}
	album := origin.AlbumName()
	if album == "" || origin.DurationMS <= 0 {
		weights = [4]int{4, 4, 1, 1}
	}

	score := 0
	if origin.ArtistsName() == candidate.ArtistsName() {
		score += weights[0]
	}
	if origin.Title == candidate.Title {
		score += weights[1]
	}
	if album != "" && album == candidate.AlbumName() {
		score += weights[2]
	}
	if d := origin.DurationMS; d > 0 && abs64(d-candidate.DurationMS)*10 < d {
		score += weights[3]
	}
	return float64(score) / 10
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Standby searches the standby sources, or every provider, for song and
// returns the best match whose media resolves. Full matches are tried in
// provider order, then partial matches by score. It fails with NotFound
// when nothing playable scores at least StandbyMinScore.
func (l *Library) Standby(ctx context.Context, song Model) (Standby, error) {
	keyword := strings.TrimSpace(song.Title + " " + song.ArtistsName())
	if keyword == "" {
		return Standby{}, core.Errorf(core.KindNotFound, "no standby for %s", song.URI)
	}
	results, err := l.Search(ctx, keyword, SearchOptions{
		Sources: l.opts.StandbySources,
		Kinds:   []ModelKind{KindSong},
	})
	if err != nil {
		return Standby{}, err
	}

	var partial []Standby
	perProvider := map[string]int{}
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		for _, candidate := range res.Result.Songs {
			if candidate.URI == song.URI {
				continue
			}
			score := StandbyScore(song, candidate)
			switch {
			case score >= StandbyFullScore:
				if found, ok := l.standbyMedia(ctx, candidate, score); ok {
					return found, nil
				}
			case score >= StandbyMinScore && perProvider[res.Provider] < standbyPerProvider:
				perProvider[res.Provider]++
				partial = append(partial, Standby{Song: candidate, Score: score})
			}
		}
	}

	sort.SliceStable(partial, func(i, j int) bool { return partial[i].Score > partial[j].Score })
	for _, c := range partial {
		if found, ok := l.standbyMedia(ctx, c.Song, c.Score); ok {
			return found, nil
		}
	}
	return Standby{}, core.Errorf(core.KindNotFound, "no standby for %s", song.URI)
}

func (l *Library) standbyMedia(ctx context.Context, candidate Model, score float64) (Standby, bool) {
	url, q, err := l.SongMedia(ctx, candidate)
	if err != nil {
		l.log.Debug("standby media unavailable", zap.Stringer("uri", candidate.URI), zap.Error(err))
		return Standby{}, false
	}
	return Standby{Song: candidate, URL: url, Quality: q, Score: score}, true
}
