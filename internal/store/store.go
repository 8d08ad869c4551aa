// Package store persists community reports and safety grid artifacts.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
)

// ErrNotFound is returned when a report or grid does not exist.
var ErrNotFound = eris.New("store: not found")

// ReportFilter specifies criteria for listing reports.
type ReportFilter struct {
	IncludeDismissed bool             `json:"include_dismissed,omitempty"`
	Type             model.ReportType `json:"type,omitempty"`
	BBox             *model.BBox      `json:"bbox,omitempty"`
	Limit            int              `json:"limit,omitempty"`
}

// ReportStore holds community reports.
type ReportStore interface {
	ListReports(ctx context.Context, filter ReportFilter) ([]model.CommunityReport, error)
	// ActiveReports returns every report that has not been dismissed. Age and
	// vote filtering happen in the adjuster.
	ActiveReports(ctx context.Context) ([]model.CommunityReport, error)
	GetReport(ctx context.Context, id string) (*model.CommunityReport, error)
	CreateReport(ctx context.Context, r model.CommunityReport) (*model.CommunityReport, error)
	Vote(ctx context.Context, id string, up bool) (*model.CommunityReport, error)
	Dismiss(ctx context.Context, id string) error
	// PurgeReports deletes reports submitted before the cutoff, except those
	// keep retains. A nil keep retains nothing.
	PurgeReports(ctx context.Context, before time.Time, keep func(model.CommunityReport) bool) (int, error)
}

// GridStore holds serialized safety grids. Each save is a new version.
type GridStore interface {
	SaveGrid(ctx context.Context, g *grid.SafetyGrid) error
	// LoadGrid returns the most recently saved grid of kind.
	LoadGrid(ctx context.Context, kind grid.Kind) (*grid.SafetyGrid, error)
}

// Store is the full persistence interface.
type Store interface {
	ReportStore
	GridStore

	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures the store driver.
type Config struct {
	Driver string     `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string     `yaml:"dsn" mapstructure:"dsn" validate:"required"`
	Pool   PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open connects to the configured store and runs migrations.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		st, err = NewSQLite(cfg.DSN)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DSN, &cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// purgeable returns the ids of the reports keep does not retain.
func purgeable(list []model.CommunityReport, keep func(model.CommunityReport) bool) []string {
	var ids []string
	for _, r := range list {
		if keep == nil || !keep(r) {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func prepareReport(r model.CommunityReport, newID func() string, now time.Time) (model.CommunityReport, error) {
	if !r.Type.Valid() {
		return r, eris.Errorf("store: unknown report type %q", r.Type)
	}
	if !r.Point().Valid() {
		return r, eris.Errorf("store: report location %s out of range", r.Point())
	}
	if r.Upvotes < 0 || r.Downvotes < 0 {
		return r, eris.New("store: vote counts must be non-negative")
	}
	if r.ID == "" {
		r.ID = newID()
	}
	if r.TimestampMillis == 0 {
		r.TimestampMillis = now.UnixMilli()
	}
	return r, nil
}
