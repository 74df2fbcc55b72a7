// Package statecache maintains a small SQLite-backed index derived from
// the authoritative JSON state file: one row per payment ID recording
// completeness, attempt count, last error, and extraction time, so the
// status HTTP surface can answer "how many complete / which errored"
// without re-parsing the full state array on every poll. It is never
// authoritative — the JSON state file (internal/state) remains the
// source of truth; this index is rebuilt from a state.Store snapshot at
// load and upserted record by record as crawl results are merged. Follows the teacher's
// session.SQLiteStore idiom: modernc.org/sqlite pure-Go driver, WAL mode,
// a single-writer connection pool, upsert-on-conflict writes.
package statecache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmylchreest/toastextract/internal/model"
)

// Index wraps the derived SQLite index.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// Row is one payment ID's cached status, returned by Summary/List queries.
type Row struct {
	PaymentID   string
	Complete    bool
	Attempts    int
	LastError   string
	ExtractedAt *time.Time
}

// Open creates or attaches to the SQLite index at dbPath, running its
// migration. A blank dbPath is the caller's signal that the index is
// disabled (SessionDBPath unset), in which case Open returns nil, nil and
// every other method on *Index must tolerate a nil receiver.
func Open(dbPath string, logger *slog.Logger) (*Index, error) {
	if dbPath == "" {
		return nil, nil
	}

	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create statecache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_timeout=5000&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open statecache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	idx := &Index{db: db, logger: logger}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate statecache database: %w", err)
	}
	logger.Info("statecache_opened", "path", dbPath)
	return idx, nil
}

func (idx *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checks (
		payment_id TEXT PRIMARY KEY,
		complete INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		extracted_at TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_checks_complete ON checks(complete);
	`
	_, err := idx.db.Exec(schema)
	return err
}

// Rebuild replaces the entire index with rows, wrapped in a single
// transaction so a reader never observes a half-rebuilt table. Called
// once after state.Load, using the freshly loaded store's snapshot.
func (idx *Index) Rebuild(records []*model.CheckRecord) error {
	if idx == nil {
		return nil
	}
	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM checks`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO checks (payment_id, complete, attempts, last_error, extracted_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		lastErr := ""
		if rec.LastError != nil {
			lastErr = *rec.LastError
		}
		extractedAt := ""
		if rec.ExtractedAt != nil {
			extractedAt = rec.ExtractedAt.Format(time.RFC3339)
		}
		if _, err := stmt.Exec(rec.PaymentID, rec.Complete, rec.Attempts, lastErr, extractedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Upsert records one record's current status, called after every
// state.Store.Upsert during a crawl so the index never lags more than one
// record behind the in-memory store.
func (idx *Index) Upsert(rec *model.CheckRecord) error {
	if idx == nil {
		return nil
	}
	lastErr := ""
	if rec.LastError != nil {
		lastErr = *rec.LastError
	}
	extractedAt := ""
	if rec.ExtractedAt != nil {
		extractedAt = rec.ExtractedAt.Format(time.RFC3339)
	}
	query := `
	INSERT INTO checks (payment_id, complete, attempts, last_error, extracted_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(payment_id) DO UPDATE SET
		complete = excluded.complete,
		attempts = excluded.attempts,
		last_error = excluded.last_error,
		extracted_at = excluded.extracted_at
	`
	_, err := idx.db.Exec(query, rec.PaymentID, rec.Complete, rec.Attempts, lastErr, extractedAt)
	return err
}

// Summary aggregates total/complete/errored counts with three single
// COUNT(*) queries rather than scanning every row client-side — the
// entire point of carrying a derived index alongside the JSON file.
type Summary struct {
	Total    int
	Complete int
	Errored  int
}

// Summary returns the current aggregate counts.
func (idx *Index) Summary() (Summary, error) {
	if idx == nil {
		return Summary{}, nil
	}
	var s Summary
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM checks`).Scan(&s.Total); err != nil {
		return Summary{}, err
	}
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM checks WHERE complete = 1`).Scan(&s.Complete); err != nil {
		return Summary{}, err
	}
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM checks WHERE last_error != ''`).Scan(&s.Errored); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// Errored returns every row currently carrying a last_error, for an
// operator who wants the specific payment IDs rather than just a count.
func (idx *Index) Errored() ([]Row, error) {
	if idx == nil {
		return nil, nil
	}
	rows, err := idx.db.Query(`SELECT payment_id, complete, attempts, last_error, extracted_at FROM checks WHERE last_error != '' ORDER BY payment_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var extractedAt string
		if err := rows.Scan(&r.PaymentID, &r.Complete, &r.Attempts, &r.LastError, &extractedAt); err != nil {
			return nil, err
		}
		if extractedAt != "" {
			if t, err := time.Parse(time.RFC3339, extractedAt); err == nil {
				r.ExtractedAt = &t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	if idx == nil {
		return nil
	}
	return idx.db.Close()
}
