// Package db maintains a SQLite side-index of sealed investigation report
// metadata, so internal/server can answer filtered list queries (spec
// §6.2's GET /api/investigations?mode=&status=&limit=) without a linear scan of the
// in-memory archive or the reports directory.
//
// The on-disk JSON/.txt report written by internal/report remains
// canonical (spec §4.7, §6.5); this index is rebuildable from that
// directory and is never the only copy of a report's data. Grounded on
// the teacher's (deleted) internal/db/sqlite.go: a pure-Go
// modernc.org/sqlite driver, WAL mode, foreign-key pragmas, and a
// migration-as-Go-slice pattern (a schema_versions table gating each
// numbered migration), narrowed here to the one table this index needs.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kubilitics/invcore/internal/coremodel"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version    INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS report_index (
    id           TEXT PRIMARY KEY,
    mode         TEXT NOT NULL,
    status       TEXT NOT NULL,
    started_at   DATETIME NOT NULL,
    finished_at  DATETIME,
    findings     INTEGER NOT NULL DEFAULT 0,
    critical     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_report_index_started_at ON report_index(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_report_index_mode ON report_index(mode);
CREATE INDEX IF NOT EXISTS idx_report_index_status ON report_index(status);
`,
	},
}

// Index is a rebuildable SQLite side-index over sealed report metadata.
type Index struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite file at path and applies any
// unapplied migrations.
func Open(path string) (*Index, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if _, err := conn.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := conn.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	idx := &Index{db: conn}
	if err := idx.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	_, err := idx.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := idx.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := idx.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := idx.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (idx *Index) Close() error { return idx.db.Close() }

// Ping verifies the connection is alive.
func (idx *Index) Ping(ctx context.Context) error { return idx.db.PingContext(ctx) }

// Upsert records or updates one sealed report's metadata. Called by
// report.Store immediately after a successful Seal.
func (idx *Index) Upsert(ctx context.Context, r coremodel.InvestigationReport) error {
	critical := 0
	for _, f := range r.Findings {
		if f.Severity == coremodel.SeverityCritical {
			critical++
		}
	}

	var finishedAt any
	if !r.FinishedAt.IsZero() {
		finishedAt = r.FinishedAt.UTC()
	}

	_, err := idx.db.ExecContext(ctx, `
        INSERT INTO report_index(id, mode, status, started_at, finished_at, findings, critical)
        VALUES(?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            status=excluded.status, finished_at=excluded.finished_at,
            findings=excluded.findings, critical=excluded.critical`,
		r.ID, string(r.Mode), string(r.Status), r.StartedAt.UTC(), finishedAt, len(r.Findings), critical)
	return err
}

// Entry is one row of report metadata returned by List.
type Entry struct {
	ID         string
	Mode       coremodel.Mode
	Status     coremodel.ReportStatus
	StartedAt  time.Time
	FindingCount int
	CriticalCount int
}

// ListFilter narrows List's results; zero values mean "no filter."
type ListFilter struct {
	Mode   coremodel.Mode
	Status coremodel.ReportStatus
	Limit  int
}

// List returns report metadata newest-first, optionally filtered by mode
// and/or status. Callers needing the full report still fetch it from
// report.Store by ID; this index only resolves which IDs match a filter.
func (idx *Index) List(ctx context.Context, f ListFilter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, mode, status, started_at, findings, critical FROM report_index WHERE 1=1`
	var args []any
	if f.Mode != "" {
		query += ` AND mode = ?`
		args = append(args, string(f.Mode))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var mode, status string
		var startedAt time.Time
		if err := rows.Scan(&e.ID, &mode, &status, &startedAt, &e.FindingCount, &e.CriticalCount); err != nil {
			return nil, err
		}
		e.Mode, e.Status, e.StartedAt = coremodel.Mode(mode), coremodel.ReportStatus(status), startedAt
		out = append(out, e)
	}
	return out, rows.Err()
}
