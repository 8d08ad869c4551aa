// Package planner turns an origin/destination request into a scored route
// comparison: it calls the directions provider with a bounded retry,
// deduplicates work per origin/destination and scores against the current
// grid snapshot.
package planner

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/saferoute/internal/compare"
	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/reports"
	"github.com/sells-group/saferoute/internal/resilience"
	"github.com/sells-group/saferoute/internal/scoring"
	"github.com/sells-group/saferoute/pkg/directions"
)

var (
	// ErrNoRouteFound is returned when the provider answers with zero routes.
	ErrNoRouteFound = eris.New("planner: no route found")
	// ErrProviderUnavailable is matched by errors.Is on a *ProviderError.
	ErrProviderUnavailable = eris.New("planner: directions provider unavailable")
)

// ProviderError is returned when the provider failed after all attempts.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return "planner: directions provider " + e.Provider + " unavailable: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrProviderUnavailable) match.
func (e *ProviderError) Is(target error) bool { return target == ErrProviderUnavailable }

// ReportSource supplies the community reports to score against.
type ReportSource interface {
	ActiveReports(ctx context.Context) ([]model.CommunityReport, error)
}

// Config controls a Planner.
type Config struct {
	Retry   resilience.Policy
	Breaker resilience.BreakerConfig
	// RequestTimeout bounds one shared provider call across all attempts.
	RequestTimeout time.Duration
	CacheSize      int
	CacheTTL       time.Duration
	// AllowStale serves the last cached comparison, marked Stale, when the
	// provider is unavailable.
	AllowStale bool
	Reports    reports.Config
	Profile    scoring.Profile
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Retry:          resilience.DefaultPolicy(),
		Breaker:        resilience.DefaultBreakerConfig(),
		RequestTimeout: 30 * time.Second,
		CacheSize:      512,
		CacheTTL:       10 * time.Minute,
		Reports:        reports.DefaultConfig(),
		Profile:        scoring.DefaultProfile(),
	}
}

// Request asks for a comparison between two points.
type Request struct {
	Origin      model.LatLng    `json:"origin" validate:"required"`
	Destination model.LatLng    `json:"destination" validate:"required"`
	Selection   model.Selection `json:"selection,omitempty"`
}

// Result is a comparison plus the role the caller asked to display.
type Result struct {
	Comparison *model.RouteComparison `json:"comparison"`
	Selection  model.Selection        `json:"selection"`
	Key        Key                    `json:"key"`
	CacheHit   bool                   `json:"cache_hit"`
	Generation int64                  `json:"grid_generation"`
}

// Selected returns the route for the requested role.
func (r *Result) Selected() *model.RouteScore {
	if r == nil || r.Comparison == nil {
		return nil
	}
	return r.Comparison.Select(r.Selection)
}

// WithSelection returns a copy of r showing a different role. No work is
// redone.
func (r *Result) WithSelection(s model.Selection) *Result {
	out := *r
	out.Selection = s
	return &out
}

// Planner is safe for concurrent use.
type Planner struct {
	provider   directions.Provider
	grids      *grid.Holder
	reports    ReportSource
	comparator *compare.Comparator
	cache      *ComparisonCache
	breaker    *resilience.Breaker
	group      singleflight.Group
	cfg        Config

	nowFunc func() time.Time
}

// New builds a Planner. src may be nil, in which case no reports are applied.
func New(provider directions.Provider, grids *grid.Holder, src ReportSource, cfg Config) *Planner {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger(provider.Name(), "routes")
	}
	return &Planner{
		provider:   provider,
		grids:      grids,
		reports:    src,
		comparator: compare.New(cfg.Profile),
		cache:      NewComparisonCache(cfg.CacheSize, cfg.CacheTTL),
		breaker:    resilience.NewBreaker("directions:"+provider.Name(), cfg.Breaker),
		cfg:        cfg,
		nowFunc:    time.Now,
	}
}

// Plan returns the comparison for req. A cached comparison for the same
// origin and destination is reused whatever the selection.
func (p *Planner) Plan(ctx context.Context, req Request) (*Result, error) {
	if !req.Origin.Valid() || !req.Destination.Valid() {
		return nil, eris.Errorf("planner: invalid origin %s or destination %s", req.Origin, req.Destination)
	}
	sel := req.Selection
	if sel == "" {
		sel = model.SelectBalanced
	}
	if !sel.Valid() {
		return nil, eris.Errorf("planner: unknown selection %q", sel)
	}

	key := KeyFor(req.Origin, req.Destination)
	snap := p.grids.Load()
	res := &Result{Selection: sel, Key: key, Generation: snap.Generation}

	if cmp, ok := p.cache.Get(key, snap.Generation); ok {
		res.Comparison = cmp
		res.CacheHit = true
		return res, nil
	}

	// Concurrent identical requests share one provider call. The shared
	// call is detached from any single caller's cancellation.
	ch := p.group.DoChan(string(key), func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RequestTimeout)
		defer cancel()
		return p.compute(cctx, key, req, snap)
	})

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "planner: plan")
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res.Comparison = r.Val.(*model.RouteComparison).Clone()
		return res, nil
	}
}

func (p *Planner) compute(ctx context.Context, key Key, req Request, snap *grid.Snapshot) (*model.RouteComparison, error) {
	log := zap.L().With(zap.String("key", string(key)), zap.String("provider", p.provider.Name()))

	q := directions.NewQuery(req.Origin, req.Destination)
	routes, err := resilience.Retry(ctx, p.cfg.Retry, func(ctx context.Context) ([]model.RoutePath, error) {
		return resilience.Call(ctx, p.breaker, func(ctx context.Context) ([]model.RoutePath, error) {
			return p.provider.Routes(ctx, q)
		})
	})
	if err != nil {
		perr := &ProviderError{Provider: p.provider.Name(), Err: err}
		if p.cfg.AllowStale {
			if cmp, ok := p.cache.Stale(key); ok {
				log.Warn("planner: provider unavailable, serving stale comparison", zap.Error(err))
				return cmp, nil
			}
		}
		log.Error("planner: provider unavailable", zap.Error(err))
		return nil, perr
	}
	if len(routes) == 0 {
		return nil, eris.Wrapf(ErrNoRouteFound, "%s", key)
	}

	adj := reports.NewAdjuster(p.loadReports(ctx, log), p.cfg.Reports, p.nowFunc())

	cmp, err := p.comparator.CompareRoutes(ctx, routes, snap.Crime, snap.Lighting, adj)
	if err != nil {
		return nil, eris.Wrap(err, "planner: compare routes")
	}
	p.cache.Put(key, snap.Generation, cmp)

	log.Info("planner: compared routes",
		zap.Int("candidates", len(routes)),
		zap.Int("valid_reports", len(adj.Valid())),
		zap.Bool("degraded", cmp.Degraded),
	)
	return cmp, nil
}

func (p *Planner) loadReports(ctx context.Context, log *zap.Logger) []model.CommunityReport {
	if p.reports == nil {
		return nil
	}
	rs, err := p.reports.ActiveReports(ctx)
	if err != nil {
		log.Warn("planner: report store unavailable, scoring without reports", zap.Error(err))
		return nil
	}
	return rs
}

// Stats describes the planner for /v1/stats.
type Stats struct {
	Cache          CacheStats              `json:"cache"`
	Breaker        resilience.BreakerStats `json:"breaker"`
	GridGeneration int64                   `json:"grid_generation"`
	CrimeVersion   string                  `json:"crime_grid_version"`
	LightVersion   string                  `json:"lighting_grid_version"`
	Degraded       bool                    `json:"degraded"`
}

// Stats returns current counters.
func (p *Planner) Stats() Stats {
	snap := p.grids.Load()
	s := Stats{
		Cache:          p.cache.Stats(),
		Breaker:        p.breaker.Stats(),
		GridGeneration: snap.Generation,
		Degraded:       snap.Degraded(),
	}
	if snap.Crime != nil {
		s.CrimeVersion = snap.Crime.Version
	}
	if snap.Lighting != nil {
		s.LightVersion = snap.Lighting.Version
	}
	return s
}
