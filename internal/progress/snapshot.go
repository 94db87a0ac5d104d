package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"transmute/internal/models"
)

// ErrNoSnapshot is returned when no update was recorded for a job.
var ErrNoSnapshot = errors.New("no progress snapshot")

// SnapshotStore returns the last update published for a job. It lets
// clients learn why a job disappeared from the queue (for example a
// cancellation reason) after its record was purged.
type SnapshotStore interface {
	Snapshot(ctx context.Context, jobID string) (models.ProgressUpdate, error)
}

// MemoryStore keeps the latest update per job in memory. It is used when
// Redis is not configured.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	last map[string]memEntry
}

type memEntry struct {
	update  models.ProgressUpdate
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, last: make(map[string]memEntry)}
}

func (m *MemoryStore) Publish(_ context.Context, u models.ProgressUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.last[u.JobID]; ok && cur.update.Seq > u.Seq {
		return nil
	}
	m.last[u.JobID] = memEntry{update: u, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context, jobID string) (models.ProgressUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.last[jobID]
	if !ok || m.now().After(e.expires) {
		return models.ProgressUpdate{}, ErrNoSnapshot
	}
	return e.update, nil
}

// Prune drops expired snapshots and returns how many were removed.
func (m *MemoryStore) Prune() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.last {
		if now.After(e.expires) {
			delete(m.last, id)
			n++
		}
	}
	return n
}
