package progress

import (
	"context"
	"sync"

	"transmute/internal/models"
)

// Broker hands terminal updates to in-process waiters, e.g. a convert
// request that holds the connection open for a short while hoping the job
// finishes quickly.
type Broker struct {
	mu      sync.Mutex
	waiters map[string][]chan models.ProgressUpdate
}

func NewBroker() *Broker {
	return &Broker{waiters: make(map[string][]chan models.ProgressUpdate)}
}

// Register returns a channel that receives the job's terminal update. It
// must be registered before the job is submitted to avoid missing it.
func (b *Broker) Register(jobID string) chan models.ProgressUpdate {
	ch := make(chan models.ProgressUpdate, 1)
	b.mu.Lock()
	b.waiters[jobID] = append(b.waiters[jobID], ch)
	b.mu.Unlock()
	return ch
}

// Unregister drops ch if it is still waiting.
func (b *Broker) Unregister(jobID string, ch chan models.ProgressUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	waiters := b.waiters[jobID]
	for i, c := range waiters {
		if c == ch {
			b.waiters[jobID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(b.waiters[jobID]) == 0 {
		delete(b.waiters, jobID)
	}
}

// Publish wakes every waiter of a job once it reaches a terminal status.
func (b *Broker) Publish(_ context.Context, u models.ProgressUpdate) error {
	if !u.Status.Terminal() {
		return nil
	}
	b.mu.Lock()
	waiters := b.waiters[u.JobID]
	delete(b.waiters, u.JobID)
	b.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- u:
		default:
		}
	}
	return nil
}

// Waiting reports how many waiters are registered for jobID.
func (b *Broker) Waiting(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters[jobID])
}
