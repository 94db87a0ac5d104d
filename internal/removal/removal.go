// Package removal drops downloaded jobs from the queue after a grace
// period, either through asynq delayed tasks or in-process timers.
package removal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"transmute/internal/store"
	"transmute/internal/tasks"
)

// Remover is the part of the queue removal needs.
type Remover interface {
	Remove(id string) bool
}

// HandleRemoveArtifact returns the asynq handler for TypeRemoveArtifact.
// A job that is already gone is not an error; the task is not retried.
func HandleRemoveArtifact(r Remover, logger log.FieldLogger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := tasks.ParseRemoveArtifactPayload(t)
		if err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		if r.Remove(p.JobID) {
			logger.WithField("job_id", p.JobID).Info("removed downloaded job")
		} else {
			logger.WithField("job_id", p.JobID).Debug("removal skipped: job unknown or still running")
		}
		return nil
	}
}

// RegisterHandlers wires removal tasks into mux.
func RegisterHandlers(mux *asynq.ServeMux, r Remover, logger log.FieldLogger) {
	mux.HandleFunc(tasks.TypeRemoveArtifact, HandleRemoveArtifact(r, logger))
}

// NewServer builds the asynq server that processes maintenance tasks.
func NewServer(opt asynq.RedisConnOpt, logger *log.Entry) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{tasks.QueueMaintenance: 1},
		Logger:      logger,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.WithFields(log.Fields{
				"task_id": task.ResultWriter().TaskID(),
				"type":    task.Type(),
				"payload": string(task.Payload()),
			}).WithError(err).Error("asynq task failed")
		}),
	})
}

// TimerScheduler is the in-process RemovalScheduler used without Redis.
// Pending removals are lost on restart.
type TimerScheduler struct {
	r Remover

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

var _ store.RemovalScheduler = (*TimerScheduler)(nil)

func NewTimerScheduler(r Remover) *TimerScheduler {
	return &TimerScheduler{r: r, timers: make(map[string]*time.Timer)}
}

func (s *TimerScheduler) ScheduleRemoval(_ context.Context, jobID string, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("schedule removal for job %s: scheduler closed", jobID)
	}
	if _, ok := s.timers[jobID]; ok {
		return nil
	}
	s.timers[jobID] = time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.timers, jobID)
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.r.Remove(jobID)
		}
	})
	return nil
}

// Pending reports how many removals are scheduled.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels every pending removal.
func (s *TimerScheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	return nil
}
