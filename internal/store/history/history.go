// Package history persists terminal job outcomes in PostgreSQL or SQLite.
package history

import (
	"context"
	"fmt"
	"strings"

	"transmute/internal/models"
	"transmute/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// Open picks a backend from the DSN scheme: postgres:// and postgresql://
// use pgx, sqlite:// (or a bare path / :memory:) uses go-sqlite3.
func Open(ctx context.Context, dsn string) (store.HistoryStore, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("%w: empty DSN", store.ErrUnsupportedDSN)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.Contains(dsn, "://"):
		return nil, fmt.Errorf("%w: %s", store.ErrUnsupportedDSN, dsn[:strings.Index(dsn, "://")])
	default:
		return NewSQLiteStore(ctx, dsn)
	}
}

// EntryFromUpdate builds the history record for a terminal progress update.
func EntryFromUpdate(u models.ProgressUpdate) *models.HistoryEntry {
	return &models.HistoryEntry{
		JobID:        u.JobID,
		Status:       u.Status,
		OutputFormat: u.OutputFormat,
		Message:      u.Message,
		Error:        u.Error,
		RecordedAt:   u.Timestamp,
	}
}

func normalizeFilter(f store.HistoryFilter) store.HistoryFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
