package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transmute/internal/models"
	"transmute/internal/store"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS job_history (
	id            BIGSERIAL PRIMARY KEY,
	job_id        TEXT NOT NULL UNIQUE,
	status        TEXT NOT NULL,
	output_format TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	recorded_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS job_history_recorded_at_idx ON job_history (recorded_at DESC);
`

// PostgresStore implements store.HistoryStore using PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ store.HistoryStore = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("database DSN cannot be empty")
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database DSN: %w", err)
	}

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if _, err := dbpool.Exec(ctx, postgresSchema); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("create job_history schema: %w", err)
	}

	return &PostgresStore{db: dbpool}, nil
}

func (s *PostgresStore) Record(ctx context.Context, e *models.HistoryEntry) error {
	query := `
		INSERT INTO job_history (job_id, status, output_format, message, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO NOTHING
		RETURNING id`
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	err := s.db.QueryRow(ctx, query,
		e.JobID, string(e.Status), e.OutputFormat, e.Message, e.Error, e.RecordedAt,
	).Scan(&e.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already recorded.
		return nil
	}
	if err != nil {
		return fmt.Errorf("record history for job %s: %w", e.JobID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*models.HistoryEntry, error) {
	query := `SELECT id, job_id, status, output_format, message, error, recorded_at
		FROM job_history WHERE job_id = $1`
	rows, err := s.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("get history for job %s: %w", jobID, err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
	}
	return entries[0], nil
}

func (s *PostgresStore) List(ctx context.Context, filter store.HistoryFilter) ([]*models.HistoryEntry, error) {
	f := normalizeFilter(filter)
	query := `SELECT id, job_id, status, output_format, message, error, recorded_at
		FROM job_history
		WHERE ($1 = '' OR status = $1)
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, query, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return collectEntries(rows)
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM job_history GROUP BY status`)
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

func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	cmdTag, err := s.db.Exec(ctx, `DELETE FROM job_history WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// collectEntries scans history rows in the column order used by the
// SELECT statements above.
func collectEntries(rows pgx.Rows) ([]*models.HistoryEntry, error) {
	defer rows.Close()
	var out []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var status string
		if err := rows.Scan(&e.ID, &e.JobID, &status, &e.OutputFormat, &e.Message, &e.Error, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Status = models.Status(status)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}
