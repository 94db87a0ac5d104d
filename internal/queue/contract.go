package queue

import (
	"context"
	"sync"

	"transmute/internal/models"
)

// Unit performs the actual conversion for a job. Execute must return once
// ctx is cancelled; a nil error marks the job completed, anything else
// marks it failed.
type Unit interface {
	Execute(ctx context.Context, run *Run) error
}

// UnitFunc adapts a plain function to the Unit interface.
type UnitFunc func(ctx context.Context, run *Run) error

func (f UnitFunc) Execute(ctx context.Context, run *Run) error { return f(ctx, run) }

// Handle is an abortable resource backing a running job, e.g. a child process.
type Handle interface {
	Abort() error
}

// Storage deletes resources owned by jobs. A missing resource should be
// reported with an error wrapping fs.ErrNotExist; the queue treats it as success.
type Storage interface {
	Delete(ctx context.Context, path string) error
}

// Notifier receives every job state change. Notify is called with the
// queue lock held and must not block.
type Notifier interface {
	Notify(update models.ProgressUpdate)
}

// Run is the per-invocation view a Unit gets of its job. Reports coming
// from a Run that is no longer the job's current execution are dropped.
type Run struct {
	q      *Queue
	job    models.Job
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	handle Handle
}

// Job returns the job snapshot taken when execution started.
func (r *Run) Job() models.Job { return r.job }

// Attach registers the handle used to abort this execution.
func (r *Run) Attach(h Handle) {
	r.mu.Lock()
	r.handle = h
	r.mu.Unlock()
}

// Report records advisory progress. percent is clamped to [0, 99].
func (r *Run) Report(percent int, message string) {
	r.q.report(r, percent, message)
}

// abort asks the attached handle to stop and cancels the run context.
func (r *Run) abort() error {
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()

	var err error
	if h != nil {
		err = h.Abort()
	}
	r.cancel()
	return err
}
