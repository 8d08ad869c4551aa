// Package compare scores every alternative for one origin/destination pair
// and picks the shortest, safest and balanced representatives.
package compare

import (
	"context"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/reports"
	"github.com/sells-group/saferoute/internal/scoring"
)

// ErrNoRoutes is returned when Compare is called with nothing to compare.
// Callers must check for an empty provider response before comparing.
var ErrNoRoutes = eris.New("compare: no candidate routes")

// Options controls selection.
type Options struct {
	// BalancedPenalty is P in combined - P * extraDistanceRatio.
	BalancedPenalty float64
	// DistanceOnly makes safest and balanced fall back to the shortest route.
	DistanceOnly bool
	// DegradedReason is recorded on the comparison when DistanceOnly is set.
	DegradedReason string
}

// Compare selects representatives from already scored routes. The returned
// comparison owns a copy of scores; the role pointers point into it.
func Compare(scores []model.RouteScore, opts Options) (*model.RouteComparison, error) {
	if len(scores) == 0 {
		return nil, ErrNoRoutes
	}

	c := &model.RouteComparison{Routes: make([]model.RouteScore, len(scores))}
	copy(c.Routes, scores)
	rs := c.Routes

	c.ShortestIndex = best(len(rs), func(i, j int) bool {
		return shorter(rs[i], rs[j])
	})

	if opts.DistanceOnly {
		c.SafestIndex = c.ShortestIndex
		c.BalancedIndex = c.ShortestIndex
		c.Degraded = true
		c.DegradedReason = opts.DegradedReason
	} else {
		c.SafestIndex = best(len(rs), func(i, j int) bool {
			if rs[i].CombinedSafetyScore != rs[j].CombinedSafetyScore {
				return rs[i].CombinedSafetyScore > rs[j].CombinedSafetyScore
			}
			return shorter(rs[i], rs[j])
		})

		base := rs[c.ShortestIndex].DistanceMeters
		obj := make([]float64, len(rs))
		for i, r := range rs {
			obj[i] = Objective(r, base, opts.BalancedPenalty)
		}
		c.BalancedIndex = best(len(rs), func(i, j int) bool {
			if obj[i] != obj[j] {
				return obj[i] > obj[j]
			}
			return shorter(rs[i], rs[j])
		})
	}

	c.Shortest = &rs[c.ShortestIndex]
	c.Safest = &rs[c.SafestIndex]
	c.Balanced = &rs[c.BalancedIndex]
	return c, nil
}

// Objective is the balanced-route score: combined safety minus penalty times
// the extra distance over the shortest route, as a ratio. A zero shortest
// distance gives a ratio of zero.
func Objective(r model.RouteScore, shortestMeters, penalty float64) float64 {
	var ratio float64
	if shortestMeters > 0 {
		ratio = (r.DistanceMeters - shortestMeters) / shortestMeters
	}
	return r.CombinedSafetyScore - penalty*ratio
}

// shorter orders by distance, then duration. Index order breaks the rest.
func shorter(a, b model.RouteScore) bool {
	if a.DistanceMeters != b.DistanceMeters {
		return a.DistanceMeters < b.DistanceMeters
	}
	return a.DurationSeconds < b.DurationSeconds
}

// best returns the first index that nothing later strictly beats.
func best(n int, less func(i, j int) bool) int {
	b := 0
	for i := 1; i < n; i++ {
		if less(i, b) {
			b = i
		}
	}
	return b
}

// Comparator scores candidates in parallel and selects representatives.
type Comparator struct {
	scorer  *scoring.Scorer
	penalty float64
}

// New returns a Comparator for profile p.
func New(p scoring.Profile) *Comparator {
	return &Comparator{scorer: scoring.New(p), penalty: p.BalancedPenalty}
}

// CompareRoutes scores every candidate against the grids and reports and
// selects the representatives. If either grid is missing or empty the
// comparison is marked degraded and ranks by distance only.
func (c *Comparator) CompareRoutes(ctx context.Context, candidates []model.RoutePath, crime, lighting *grid.SafetyGrid, adj *reports.Adjuster) (*model.RouteComparison, error) {
	if len(candidates) == 0 {
		return nil, ErrNoRoutes
	}

	scores := make([]model.RouteScore, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = c.scorer.Score(candidates[i], crime, lighting, adj)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "compare: score candidates")
	}

	opts := Options{BalancedPenalty: c.penalty}
	if reason := degradedReason(crime, lighting); reason != "" {
		opts.DistanceOnly = true
		opts.DegradedReason = reason
		zap.L().Warn("compare: degraded scoring, ranking by distance only",
			zap.String("reason", reason),
			zap.Int("candidates", len(candidates)),
		)
	}
	return Compare(scores, opts)
}

func degradedReason(crime, lighting *grid.SafetyGrid) string {
	var missing []string
	if crime.Empty() {
		missing = append(missing, "crime")
	}
	if lighting.Empty() {
		missing = append(missing, "lighting")
	}
	if len(missing) == 0 {
		return ""
	}
	return strings.Join(missing, " and ") + " grid unavailable"
}
