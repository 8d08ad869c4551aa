package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Grids are stored
// as their JSON artifact.
type SQLiteStore struct {
	db *sql.DB

	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id               TEXT PRIMARY KEY,
	lat              REAL NOT NULL,
	lng              REAL NOT NULL,
	type             TEXT NOT NULL,
	upvotes          INTEGER NOT NULL DEFAULT 0,
	downvotes        INTEGER NOT NULL DEFAULT 0,
	timestamp_millis INTEGER NOT NULL,
	dismissed        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_reports_dismissed ON reports(dismissed);
CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp_millis);

CREATE TABLE IF NOT EXISTS grids (
	id       TEXT PRIMARY KEY,
	kind     TEXT NOT NULL,
	version  TEXT NOT NULL DEFAULT '',
	artifact TEXT NOT NULL,
	saved_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_grids_kind_saved ON grids(kind, saved_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteReportColumns = `id, lat, lng, type, upvotes, downvotes, timestamp_millis, dismissed`

func (s *SQLiteStore) CreateReport(ctx context.Context, r model.CommunityReport) (*model.CommunityReport, error) {
	r, err := prepareReport(r, uuid.NewString, s.nowFunc())
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (`+sqliteReportColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Lat, r.Lng, string(r.Type), r.Upvotes, r.Downvotes, r.TimestampMillis, r.Dismissed,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert report")
	}
	return &r, nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*model.CommunityReport, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteReportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "report %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get report")
	}
	return r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.CommunityReport, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeDismissed {
		where = append(where, "dismissed = 0")
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if b := filter.BBox; b != nil {
		where = append(where, "lat BETWEEN ? AND ?", "lng BETWEEN ? AND ?")
		args = append(args, b.MinLat, b.MaxLat, b.MinLng, b.MaxLng)
	}

	query := `SELECT ` + sqliteReportColumns + ` FROM reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp_millis DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CommunityReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reports")
}

func (s *SQLiteStore) ActiveReports(ctx context.Context) ([]model.CommunityReport, error) {
	return s.ListReports(ctx, ReportFilter{})
}

func (s *SQLiteStore) Vote(ctx context.Context, id string, up bool) (*model.CommunityReport, error) {
	query := `UPDATE reports SET downvotes = downvotes + 1 WHERE id = ?`
	if up {
		query = `UPDATE reports SET upvotes = upvotes + 1 WHERE id = ?`
	}
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: vote report %s", id)
	}
	if err := checkRowsAffected(res, "report", id); err != nil {
		return nil, err
	}
	return s.GetReport(ctx, id)
}

func (s *SQLiteStore) Dismiss(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reports SET dismissed = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: dismiss report %s", id)
	}
	return checkRowsAffected(res, "report", id)
}

func (s *SQLiteStore) PurgeReports(ctx context.Context, before time.Time, keep func(model.CommunityReport) bool) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin purge")
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports WHERE timestamp_millis < ?`, before.UnixMilli())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: select purge candidates")
	}
	var old []model.CommunityReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return 0, eris.Wrap(err, "sqlite: scan report")
		}
		old = append(old, *r)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: select purge candidates")
	}

	ids := purgeable(old, keep)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id); err != nil {
			return 0, eris.Wrapf(err, "sqlite: delete report %s", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit purge")
	}
	return len(ids), nil
}

func (s *SQLiteStore) SaveGrid(ctx context.Context, g *grid.SafetyGrid) error {
	if g == nil {
		return eris.New("sqlite: save nil grid")
	}
	var buf strings.Builder
	if err := grid.Encode(&buf, g); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grids (id, kind, version, artifact, saved_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), string(g.Kind), g.Version, buf.String(), s.nowFunc().UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: save %s grid", g.Kind)
}

func (s *SQLiteStore) LoadGrid(ctx context.Context, kind grid.Kind) (*grid.SafetyGrid, error) {
	var artifact string
	err := s.db.QueryRowContext(ctx,
		`SELECT artifact FROM grids WHERE kind = ? ORDER BY saved_at DESC, rowid DESC LIMIT 1`,
		string(kind),
	).Scan(&artifact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "%s grid", kind)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s grid", kind)
	}
	return grid.Unmarshal([]byte(artifact))
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReport(row scannable) (*model.CommunityReport, error) {
	var (
		r   model.CommunityReport
		typ string
	)
	if err := row.Scan(&r.ID, &r.Lat, &r.Lng, &typ, &r.Upvotes, &r.Downvotes, &r.TimestampMillis, &r.Dismissed); err != nil {
		return nil, err
	}
	r.Type = model.ReportType(typ)
	return &r, nil
}
