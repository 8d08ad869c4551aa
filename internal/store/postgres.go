package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/db"
	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
)

// PostgresStore implements Store using pgxpool. Grid cells are written to
// their own table with COPY.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()

	nowFunc func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id               TEXT PRIMARY KEY,
	lat              DOUBLE PRECISION NOT NULL,
	lng              DOUBLE PRECISION NOT NULL,
	type             TEXT NOT NULL,
	upvotes          INTEGER NOT NULL DEFAULT 0,
	downvotes        INTEGER NOT NULL DEFAULT 0,
	timestamp_millis BIGINT NOT NULL,
	dismissed        BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_reports_active ON reports(dismissed, timestamp_millis DESC);

CREATE TABLE IF NOT EXISTS grids (
	id                    TEXT PRIMARY KEY,
	kind                  TEXT NOT NULL,
	version               TEXT NOT NULL DEFAULT '',
	cell_size_degrees     DOUBLE PRECISION NOT NULL,
	min_lat               DOUBLE PRECISION NOT NULL,
	max_lat               DOUBLE PRECISION NOT NULL,
	min_lng               DOUBLE PRECISION NOT NULL,
	max_lng               DOUBLE PRECISION NOT NULL,
	percentile_thresholds JSONB NOT NULL,
	total_weight          DOUBLE PRECISION NOT NULL,
	built_at              TIMESTAMPTZ NOT NULL,
	saved_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_grids_kind_saved ON grids(kind, saved_at DESC);

CREATE TABLE IF NOT EXISTS grid_cells (
	grid_id     TEXT NOT NULL REFERENCES grids(id) ON DELETE CASCADE,
	lat_bin     INTEGER NOT NULL,
	lng_bin     INTEGER NOT NULL,
	lat_min     DOUBLE PRECISION NOT NULL,
	lat_max     DOUBLE PRECISION NOT NULL,
	lng_min     DOUBLE PRECISION NOT NULL,
	lng_max     DOUBLE PRECISION NOT NULL,
	count       DOUBLE PRECISION NOT NULL,
	percentile  INTEGER NOT NULL,
	score       DOUBLE PRECISION NOT NULL,
	visual_hint TEXT NOT NULL,
	PRIMARY KEY (grid_id, lat_bin, lng_bin)
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgReportColumns = `id, lat, lng, type, upvotes, downvotes, timestamp_millis, dismissed`

func (s *PostgresStore) CreateReport(ctx context.Context, r model.CommunityReport) (*model.CommunityReport, error) {
	r, err := prepareReport(r, uuid.NewString, s.now())
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (`+pgReportColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Lat, r.Lng, string(r.Type), r.Upvotes, r.Downvotes, r.TimestampMillis, r.Dismissed,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert report")
	}
	return &r, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*model.CommunityReport, error) {
	r, err := scanReport(s.pool.QueryRow(ctx, `SELECT `+pgReportColumns+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "report %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get report")
	}
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.CommunityReport, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.IncludeDismissed {
		where = append(where, "dismissed = false")
	}
	if filter.Type != "" {
		where = append(where, "type = "+arg(string(filter.Type)))
	}
	if b := filter.BBox; b != nil {
		where = append(where,
			"lat BETWEEN "+arg(b.MinLat)+" AND "+arg(b.MaxLat),
			"lng BETWEEN "+arg(b.MinLng)+" AND "+arg(b.MaxLng),
		)
	}

	query := `SELECT ` + pgReportColumns + ` FROM reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp_millis DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var out []model.CommunityReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reports")
}

func (s *PostgresStore) ActiveReports(ctx context.Context) ([]model.CommunityReport, error) {
	return s.ListReports(ctx, ReportFilter{})
}

func (s *PostgresStore) Vote(ctx context.Context, id string, up bool) (*model.CommunityReport, error) {
	col := "downvotes"
	if up {
		col = "upvotes"
	}
	r, err := scanReport(s.pool.QueryRow(ctx,
		`UPDATE reports SET `+col+` = `+col+` + 1 WHERE id = $1 RETURNING `+pgReportColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "report %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: vote report %s", id)
	}
	return r, nil
}

func (s *PostgresStore) Dismiss(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE reports SET dismissed = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: dismiss report %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "report %s", id)
	}
	return nil
}

func (s *PostgresStore) PurgeReports(ctx context.Context, before time.Time, keep func(model.CommunityReport) bool) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin purge")
	}

	rows, err := tx.Query(ctx,
		`SELECT `+pgReportColumns+` FROM reports WHERE timestamp_millis < $1 FOR UPDATE`, before.UnixMilli())
	if err != nil {
		rollback(ctx, tx)
		return 0, eris.Wrap(err, "postgres: select purge candidates")
	}
	var old []model.CommunityReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			rows.Close()
			rollback(ctx, tx)
			return 0, eris.Wrap(err, "postgres: scan report")
		}
		old = append(old, *r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		rollback(ctx, tx)
		return 0, eris.Wrap(err, "postgres: select purge candidates")
	}

	ids := purgeable(old, keep)
	if len(ids) == 0 {
		rollback(ctx, tx)
		return 0, nil
	}
	tag, err := tx.Exec(ctx, `DELETE FROM reports WHERE id = ANY($1)`, ids)
	if err != nil {
		rollback(ctx, tx)
		return 0, eris.Wrap(err, "postgres: purge reports")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit purge")
	}
	return int(tag.RowsAffected()), nil
}

var gridCellColumns = []string{
	"grid_id", "lat_bin", "lng_bin", "lat_min", "lat_max", "lng_min", "lng_max",
	"count", "percentile", "score", "visual_hint",
}

func (s *PostgresStore) SaveGrid(ctx context.Context, g *grid.SafetyGrid) error {
	if g == nil {
		return eris.New("postgres: save nil grid")
	}
	thresholds, err := json.Marshal(g.PercentileThresholds)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal thresholds")
	}

	id := uuid.NewString()
	rows := make([][]any, 0, len(g.Cells))
	for _, c := range g.Cells {
		rows = append(rows, []any{
			id, c.LatBin, c.LngBin, c.LatMin, c.LatMax, c.LngMin, c.LngMax,
			c.Count, c.Percentile, c.Score, c.VisualHint,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save grid")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO grids (id, kind, version, cell_size_degrees, min_lat, max_lat, min_lng, max_lng, percentile_thresholds, total_weight, built_at, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, string(g.Kind), g.Version, g.CellSizeDegrees,
		g.Bounds.MinLat, g.Bounds.MaxLat, g.Bounds.MinLng, g.Bounds.MaxLng,
		thresholds, g.TotalWeight, g.BuiltAt, s.now(),
	)
	if err != nil {
		rollback(ctx, tx)
		return eris.Wrapf(err, "postgres: insert %s grid", g.Kind)
	}
	if _, err := db.CopyFrom(ctx, tx, "grid_cells", gridCellColumns, rows); err != nil {
		rollback(ctx, tx)
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save grid")
}

func (s *PostgresStore) LoadGrid(ctx context.Context, kind grid.Kind) (*grid.SafetyGrid, error) {
	var (
		id         string
		thresholds []byte
		g          = grid.SafetyGrid{Kind: kind}
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, version, cell_size_degrees, min_lat, max_lat, min_lng, max_lng, percentile_thresholds, total_weight, built_at
		FROM grids WHERE kind = $1 ORDER BY saved_at DESC LIMIT 1`,
		string(kind),
	).Scan(&id, &g.Version, &g.CellSizeDegrees,
		&g.Bounds.MinLat, &g.Bounds.MaxLat, &g.Bounds.MinLng, &g.Bounds.MaxLng,
		&thresholds, &g.TotalWeight, &g.BuiltAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "%s grid", kind)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s grid", kind)
	}
	if err := json.Unmarshal(thresholds, &g.PercentileThresholds); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal thresholds")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT lat_bin, lng_bin, lat_min, lat_max, lng_min, lng_max, count, percentile, score, visual_hint
		FROM grid_cells WHERE grid_id = $1 ORDER BY lat_bin, lng_bin`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s grid cells", kind)
	}
	defer rows.Close()

	for rows.Next() {
		var c grid.Cell
		if err := rows.Scan(&c.LatBin, &c.LngBin, &c.LatMin, &c.LatMax, &c.LngMin, &c.LngMax,
			&c.Count, &c.Percentile, &c.Score, &c.VisualHint); err != nil {
			return nil, eris.Wrap(err, "postgres: scan grid cell")
		}
		g.Cells = append(g.Cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s grid cells", kind)
	}
	return grid.Restore(g)
}

func (s *PostgresStore) now() time.Time {
	if s.nowFunc == nil {
		return time.Now()
	}
	return s.nowFunc()
}

func rollback(ctx context.Context, tx pgx.Tx) {
	tx.Rollback(ctx) //nolint:errcheck
}
