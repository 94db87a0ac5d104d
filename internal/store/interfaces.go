package store

import (
	"context"
	"time"

	"transmute/internal/models"
)

// --- Removal Scheduler ---

// RemovalScheduler arranges for a finished job to be removed from the
// queue (and its files deleted) after a delay.
type RemovalScheduler interface {
	ScheduleRemoval(ctx context.Context, jobID string, after time.Duration) error
	Close() error
}

// --- History Store ---

// HistoryFilter narrows a history listing. A zero Status matches all.
type HistoryFilter struct {
	Status models.Status
	Limit  int
	Offset int
}

// HistoryStore persists one record per job that reached a terminal state.
type HistoryStore interface {
	// Record stores entry; recording the same job twice is a no-op.
	Record(ctx context.Context, entry *models.HistoryEntry) error
	Get(ctx context.Context, jobID string) (*models.HistoryEntry, error)
	List(ctx context.Context, filter HistoryFilter) ([]*models.HistoryEntry, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)
	// Prune deletes records older than before and returns how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
