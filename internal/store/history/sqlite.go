package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"transmute/internal/models"
	"transmute/internal/store"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS job_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id        TEXT NOT NULL UNIQUE,
	status        TEXT NOT NULL,
	output_format TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	recorded_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_history_recorded_at ON job_history(recorded_at);
`

// SQLiteStore implements store.HistoryStore on a local SQLite file.
// Timestamps are stored as Unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.HistoryStore = (*SQLiteStore)(nil)

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps :memory: databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL;`, `PRAGMA busy_timeout=5000;`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create job_history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, e *models.HistoryEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO job_history (job_id, status, output_format, message, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.JobID, string(e.Status), e.OutputFormat, e.Message, e.Error, e.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record history for job %s: %w", e.JobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	id, err := res.LastInsertId()
	if err == nil {
		e.ID = id
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, jobID string) (*models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, status, output_format, message, error, recorded_at
		FROM job_history WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("get history for job %s: %w", jobID, err)
	}
	entries, err := scanSQLiteEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
	}
	return entries[0], nil
}

func (s *SQLiteStore) List(ctx context.Context, filter store.HistoryFilter) ([]*models.HistoryEntry, error) {
	f := normalizeFilter(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, status, output_format, message, error, recorded_at
		FROM job_history
		WHERE (? = '' OR status = ?)
		ORDER BY recorded_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		string(f.Status), string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return scanSQLiteEntries(rows)
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM job_history GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan history count: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_history WHERE recorded_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteEntries(rows *sql.Rows) ([]*models.HistoryEntry, error) {
	defer rows.Close()
	var out []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var status string
		var recordedAt int64
		if err := rows.Scan(&e.ID, &e.JobID, &status, &e.OutputFormat, &e.Message, &e.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Status = models.Status(status)
		e.RecordedAt = time.UnixMilli(recordedAt).UTC()
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}
