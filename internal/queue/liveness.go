package queue

import (
	"time"

	"transmute/internal/models"
)

// monitor sweeps liveness records every interval until Shutdown.
func (q *Queue) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.SweepLiveness()
		case <-q.stop:
			return
		}
	}
}

// SweepLiveness cancels every non-terminal job whose last heartbeat is
// older than the heartbeat timeout and returns how many were cancelled.
func (q *Queue) SweepLiveness() int {
	now := q.now()

	q.mu.Lock()
	var expired []string
	for id, last := range q.liveness {
		if now.Sub(last) <= q.cfg.HeartbeatTimeout {
			continue
		}
		if e, ok := q.jobs[id]; ok && !e.job.Status.Terminal() {
			expired = append(expired, id)
		}
	}
	q.mu.Unlock()

	// A job may finish or heartbeat between the scan and the cancellation.
	stillStale := func(id string) bool {
		last, ok := q.liveness[id]
		return ok && now.Sub(last) > q.cfg.HeartbeatTimeout
	}
	cancelled := 0
	for _, id := range expired {
		if q.cancelInternal(id, models.ReasonClientDisconnected, stillStale) {
			cancelled++
		}
	}
	if cancelled > 0 {
		q.logger.WithField("cancelled", cancelled).Info("reclaimed abandoned jobs")
	}
	return cancelled
}
