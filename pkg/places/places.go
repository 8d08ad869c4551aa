// Package places looks up nearby points of interest around a route
// endpoint, one category at a time.
package places

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/saferoute/internal/model"
)

// Place is one nearby point of interest.
type Place struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Address  string       `json:"address,omitempty"`
	Location model.LatLng `json:"location"`
	Category string       `json:"category"`
}

// Searcher finds places of one category near a point.
type Searcher interface {
	Nearby(ctx context.Context, at model.LatLng, category string) ([]Place, error)
}

// Result groups places by category. Categories whose lookup failed are
// listed in Failed and absent from ByCategory.
type Result struct {
	ByCategory map[string][]Place `json:"by_category"`
	Failed     []string           `json:"failed,omitempty"`
}

// Enrich runs one lookup per category concurrently and waits for all of
// them. A failed category is dropped, not fatal.
func Enrich(ctx context.Context, s Searcher, at model.LatLng, categories []string) Result {
	res := Result{ByCategory: make(map[string][]Place, len(categories))}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range categories {
		g.Go(func() error {
			found, err := s.Nearby(gctx, at, cat)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("places: category lookup failed",
					zap.String("category", cat),
					zap.Error(err),
				)
				res.Failed = append(res.Failed, cat)
				return nil
			}
			res.ByCategory[cat] = found
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Failed)
	return res
}
