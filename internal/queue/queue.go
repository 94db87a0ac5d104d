// Package queue accepts conversion jobs, bounds how many run at once,
// tracks their lifecycle and reclaims the resources of cancelled or
// abandoned jobs.
package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"transmute/internal/models"
)

// Config holds the limits the queue enforces.
type Config struct {
	// BacklogCapacity is the maximum number of pending jobs. It is
	// independent of ConcurrencyLimit.
	BacklogCapacity int
	// ConcurrencyLimit is the hard ceiling on jobs in processing.
	ConcurrencyLimit int
	// HeartbeatTimeout is the allowed silence before a job is cancelled
	// as abandoned.
	HeartbeatTimeout time.Duration
	// HeartbeatInterval is how often the liveness monitor sweeps. Zero
	// disables the background monitor; SweepLiveness can still be called.
	HeartbeatInterval time.Duration
}

func (c Config) validate() error {
	if c.BacklogCapacity <= 0 {
		return fmt.Errorf("%w: backlog capacity must be positive", models.ErrValidation)
	}
	if c.ConcurrencyLimit <= 0 {
		return fmt.Errorf("%w: concurrency limit must be positive", models.ErrValidation)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("%w: heartbeat timeout must be positive", models.ErrValidation)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("%w: heartbeat interval must not be negative", models.ErrValidation)
	}
	return nil
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	BacklogLength    int                   `json:"backlog_length"`
	ExecutingCount   int                   `json:"executing_count"`
	ConcurrencyLimit int                   `json:"concurrency_limit"`
	BacklogCapacity  int                   `json:"backlog_capacity"`
	TotalJobs        int                   `json:"total_jobs"`
	CountByStatus    map[models.Status]int `json:"count_by_status"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithStorage sets the collaborator used to delete job resources.
func WithStorage(s Storage) Option {
	return func(q *Queue) { q.storage = s }
}

// WithNotifier sets the sink that receives every job state change.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger used for suppressed teardown errors.
func WithLogger(l log.FieldLogger) Option {
	return func(q *Queue) { q.logger = l }
}

type entry struct {
	job models.Job
	seq uint64
}

// Queue is the job queue and execution coordinator. All shared state is
// guarded by mu and every transition happens in one critical section.
type Queue struct {
	cfg      Config
	unit     Unit
	storage  Storage
	notifier Notifier
	now      func() time.Time
	logger   log.FieldLogger

	mu           sync.Mutex
	jobs         map[string]*entry
	liveness     map[string]time.Time
	backlog      *list.List
	backlogIndex map[string]*list.Element
	executing    map[string]*Run
	// reclaiming counts slots whose job was cancelled but whose teardown
	// has not finished yet. They still count against ConcurrencyLimit.
	reclaiming int
	inflight   int
	idle       chan struct{}
	// stopped is set by Shutdown; no pending job is started afterwards.
	stopped bool

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a queue and starts its liveness monitor.
func New(cfg Config, unit Unit, opts ...Option) (*Queue, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, fmt.Errorf("%w: execution unit is required", models.ErrValidation)
	}
	q := &Queue{
		cfg:          cfg,
		unit:         unit,
		storage:      fileRemover{},
		now:          time.Now,
		logger:       log.StandardLogger(),
		jobs:         make(map[string]*entry),
		liveness:     make(map[string]time.Time),
		backlog:      list.New(),
		backlogIndex: make(map[string]*list.Element),
		executing:    make(map[string]*Run),
		idle:         closedChan(),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if cfg.HeartbeatInterval > 0 {
		go q.monitor(cfg.HeartbeatInterval)
	}
	return q, nil
}

// Submit records a pending job and asks the scheduler to drain. When the
// backlog is at capacity it returns models.ErrRejectedFull and changes
// nothing. An empty job.ID is replaced with a generated one.
func (q *Queue) Submit(job models.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := q.now()

	q.mu.Lock()
	if q.backlog.Len() >= q.cfg.BacklogCapacity {
		q.mu.Unlock()
		return "", models.ErrRejectedFull
	}
	if _, exists := q.jobs[job.ID]; exists {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %s", models.ErrDuplicateJob, job.ID)
	}

	job.Status = models.StatusPending
	job.Progress = 0
	job.Message = "Queued"
	job.Error = ""
	job.CreatedAt = now
	job.StartedAt = time.Time{}
	job.FinishedAt = time.Time{}

	e := &entry{job: job}
	q.jobs[job.ID] = e
	q.liveness[job.ID] = now
	q.backlogIndex[job.ID] = q.backlog.PushBack(job.ID)
	q.publishLocked(e)

	started := q.drainLocked()
	q.mu.Unlock()

	q.start(started)
	return job.ID, nil
}

// Heartbeat marks the job as still observed. Unknown or terminal jobs are
// ignored.
func (q *Queue) Heartbeat(id string) {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.jobs[id]; ok && !e.job.Status.Terminal() {
		q.liveness[id] = now
	}
}

// Status returns a snapshot of the job.
func (q *Queue) Status(id string) (models.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return e.job, true
}

// Remove drops a terminal job and deletes its remaining resources. It
// returns false for unknown and non-terminal jobs.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok || !e.job.Status.Terminal() {
		q.mu.Unlock()
		return false
	}
	delete(q.jobs, id)
	delete(q.liveness, id)
	job := e.job
	q.mu.Unlock()

	q.deleteResources(job)
	return true
}

// CleanupOlderThan removes terminal jobs created before now-maxAge and
// returns how many were removed.
func (q *Queue) CleanupOlderThan(maxAge time.Duration) int {
	cutoff := q.now().Add(-maxAge)

	q.mu.Lock()
	var removed []models.Job
	for id, e := range q.jobs {
		if e.job.Status.Terminal() && e.job.CreatedAt.Before(cutoff) {
			removed = append(removed, e.job)
			delete(q.jobs, id)
			delete(q.liveness, id)
		}
	}
	q.mu.Unlock()

	for _, job := range removed {
		q.deleteResources(job)
	}
	if len(removed) > 0 {
		q.logger.WithField("removed", len(removed)).Info("cleaned up expired jobs")
	}
	return len(removed)
}

// Stats reports backlog, execution and per-status counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[models.Status]int, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		counts[s] = 0
	}
	for _, e := range q.jobs {
		counts[e.job.Status]++
	}
	return Stats{
		BacklogLength:    q.backlog.Len(),
		ExecutingCount:   len(q.executing),
		ConcurrencyLimit: q.cfg.ConcurrencyLimit,
		BacklogCapacity:  q.cfg.BacklogCapacity,
		TotalJobs:        len(q.jobs),
		CountByStatus:    counts,
	}
}

// Shutdown stops the liveness monitor and the scheduler. Running jobs are
// left alone and pending jobs stay pending; use Wait to let in-flight work
// finish.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.stopOnce.Do(func() { close(q.stop) })
}

// Wait blocks until no execution is in flight or ctx is done. After
// Shutdown that covers only the jobs already processing.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.inflight == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// publishLocked bumps the job's sequence number and hands the new state to
// the notifier. Callers hold q.mu.
func (q *Queue) publishLocked(e *entry) {
	e.seq++
	if q.notifier == nil {
		return
	}
	q.notifier.Notify(models.ProgressUpdate{
		JobID:        e.job.ID,
		Seq:          e.seq,
		OutputFormat: e.job.OutputFormat,
		Status:       e.job.Status,
		Progress:     e.job.Progress,
		Message:      e.job.Message,
		Error:        e.job.Error,
		Timestamp:    q.now(),
	})
}

// deleteResources removes every resource owned by job. Missing files count
// as deleted; other errors are logged and suppressed.
func (q *Queue) deleteResources(job models.Job) {
	for _, path := range job.Resources() {
		err := q.storage.Delete(context.Background(), path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		q.logger.WithFields(log.Fields{
			"job_id": job.ID,
			"path":   path,
		}).WithError(err).Warn("failed to delete job resource")
	}
}

type fileRemover struct{}

func (fileRemover) Delete(_ context.Context, path string) error {
	return os.Remove(path)
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
