package library

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/feeluown/fuocore/internal/core"
)

// DefaultSearchKinds is used when a search names no kinds.
var DefaultSearchKinds = []ModelKind{KindSong}

// SearchOptions narrow a fan-out search.
type SearchOptions struct {
	// Sources limits the search to these provider ids. Empty means all.
	Sources []string
	Kinds   []ModelKind
	Limit   int
}

// ProviderResult is one provider's answer to a fan-out search.
// Err carries a ProviderTimeout or ProviderError kind.
type ProviderResult struct {
	Provider string
	Result   SearchResult
	Err      error
}

func (l *Library) searchTargets(sources []string) []Provider {
	providers := l.Providers()
	if len(sources) > 0 {
		providers = lo.Filter(providers, func(p Provider, _ int) bool {
			return lo.Contains(sources, p.ID())
		})
	}
	return lo.Filter(providers, func(p Provider, _ int) bool {
		_, ok := p.(Searcher)
		return ok
	})
}

// SearchStream searches every matching provider concurrently and streams
// results as each provider finishes. One provider failing does not affect
// the others. The channel is closed when all providers are done. When ctx
// is cancelled, pending results are dropped.
func (l *Library) SearchStream(ctx context.Context, keyword string, opts SearchOptions) <-chan ProviderResult {
	targets := l.searchTargets(opts.Sources)
	out := make(chan ProviderResult, len(targets))
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = DefaultSearchKinds
	}

	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(l.opts.Workers)
		for _, p := range targets {
			p := p
			searcher := p.(Searcher)
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				res, err := callWithTimeout(ctx, l.opts.SearchTimeout, func(ctx context.Context) (SearchResult, error) {
					return searcher.Search(ctx, keyword, kinds, opts.Limit)
				})
				if ctx.Err() != nil {
					l.log.Debug("search dropped, client gone", zap.String("provider", p.ID()))
					return nil
				}
				item := ProviderResult{Provider: p.ID()}
				if err != nil {
					item.Err = providerError(p.ID(), err)
					l.log.Warn("provider search failed", zap.String("provider", p.ID()), zap.Error(err))
				} else {
					item.Result = res.Trim(kinds, opts.Limit)
				}
				select {
				case out <- item:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}

// Search collects a fan-out search, ordered by provider registration.
func (l *Library) Search(ctx context.Context, keyword string, opts SearchOptions) ([]ProviderResult, error) {
	got := map[string]ProviderResult{}
	for item := range l.SearchStream(ctx, keyword, opts) {
		got[item.Provider] = item
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []ProviderResult{}
	for _, p := range l.searchTargets(opts.Sources) {
		if item, ok := got[p.ID()]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// IsTimeout reports whether a search entry failed by timing out.
func (r ProviderResult) IsTimeout() bool {
	return core.KindOf(r.Err) == core.KindProviderTimeout
}
