package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/api"
	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/planner"
	"github.com/sells-group/saferoute/internal/reports"
	"github.com/sells-group/saferoute/internal/store"
	"github.com/sells-group/saferoute/pkg/directions"
	"github.com/sells-group/saferoute/pkg/places"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the route comparison API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		holder := grid.NewHolder()
		if _, err := loadGrids(ctx, st, holder); err != nil {
			return err
		}
		if cfg.Grid.Reload > 0 {
			go reloadGrids(ctx, st, holder, cfg.Grid.Reload)
		}

		handler, err := buildHandler(st, holder)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildHandler wires the planner and API around an open store and grid holder.
func buildHandler(st store.Store, holder *grid.Holder) (http.Handler, error) {
	provider, err := directions.New(cfg.Directions)
	if err != nil {
		return nil, err
	}
	pc, err := cfg.PlannerConfig()
	if err != nil {
		return nil, err
	}
	p := planner.New(provider, holder, st, pc)

	deps := api.Deps{
		Planner:  p,
		Sessions: planner.NewSessions(p, cfg.Planner.MaxSessions, cfg.Planner.SessionIdle),
		Reports:  st,
		Grids:    holder,
		Drafts:   reports.NewDrafts(0),
	}
	if cfg.Places.Enabled() {
		deps.Places = places.NewGoogle(cfg.Places.Key,
			places.WithRadius(cfg.Places.RadiusMeters),
			places.WithRateLimit(cfg.Places.RateLimit),
		)
		deps.Categories = cfg.Places.Categories
	}
	return api.New(deps).Handler(cfg.Server.CORSOrigins), nil
}

// loadGrids publishes the latest stored grid of each kind. A missing grid is
// not an error: comparisons fall back to distance-only selection.
func loadGrids(ctx context.Context, src store.GridStore, holder *grid.Holder) (*grid.Snapshot, error) {
	crime, err := latestGrid(ctx, src, grid.KindCrime)
	if err != nil {
		return nil, err
	}
	lighting, err := latestGrid(ctx, src, grid.KindLighting)
	if err != nil {
		return nil, err
	}
	snap := holder.Publish(crime, lighting)
	if snap.Degraded() {
		zap.L().Warn("serving without complete safety grids; routes will be ranked by distance only",
			zap.Bool("crime_loaded", !crime.Empty()),
			zap.Bool("lighting_loaded", !lighting.Empty()),
		)
	}
	return snap, nil
}

func latestGrid(ctx context.Context, src store.GridStore, kind grid.Kind) (*grid.SafetyGrid, error) {
	g, err := src.LoadGrid(ctx, kind)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "load %s grid", kind)
	}
	zap.L().Info("loaded grid",
		zap.String("kind", string(kind)),
		zap.String("version", g.Version),
		zap.Int("cells", len(g.Cells)),
	)
	return g, nil
}

// reloadGrids republishes grids whenever a newer version has been saved.
func reloadGrids(ctx context.Context, src store.GridStore, holder *grid.Holder, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := refreshGrids(ctx, src, holder); err != nil {
				zap.L().Warn("grid reload failed", zap.Error(err))
			}
		}
	}
}

// refreshGrids swaps in any stored grid whose version differs from the one
// currently published. It reports whether anything changed.
func refreshGrids(ctx context.Context, src store.GridStore, holder *grid.Holder) (bool, error) {
	changed := false
	for _, kind := range []grid.Kind{grid.KindCrime, grid.KindLighting} {
		g, err := latestGrid(ctx, src, kind)
		if err != nil {
			return changed, err
		}
		if g == nil {
			continue
		}
		cur := holder.Load().Crime
		if kind == grid.KindLighting {
			cur = holder.Load().Lighting
		}
		if cur != nil && cur.Version == g.Version && cur.BuiltAt.Equal(g.BuiltAt) {
			continue
		}
		holder.Replace(g)
		changed = true
	}
	return changed, nil
}
