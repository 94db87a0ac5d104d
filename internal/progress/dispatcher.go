// Package progress fans job state changes out of the queue to interested
// parties: Redis subscribers, in-process waiters and the history store.
package progress

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"transmute/internal/models"
)

const publishTimeout = 5 * time.Second

// Sink receives progress updates from the dispatcher goroutine. Publish may
// block; it never runs under the queue lock.
type Sink interface {
	Publish(ctx context.Context, update models.ProgressUpdate) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, update models.ProgressUpdate) error

func (f SinkFunc) Publish(ctx context.Context, update models.ProgressUpdate) error {
	return f(ctx, update)
}

// TerminalOnly forwards only updates that end a job.
func TerminalOnly(s Sink) Sink {
	return SinkFunc(func(ctx context.Context, u models.ProgressUpdate) error {
		if !u.Status.Terminal() {
			return nil
		}
		return s.Publish(ctx, u)
	})
}

// Dispatcher implements queue.Notifier. Every sink has its own queue and
// goroutine, so a slow sink only delays itself. Each sink sees a job's
// updates in notification order; a non-terminal update still waiting for
// delivery is replaced by a newer one for the same job, terminal updates
// are always delivered.
type Dispatcher struct {
	workers []*sinkWorker
	logger  log.FieldLogger
}

func NewDispatcher(logger log.FieldLogger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	d := &Dispatcher{logger: logger}
	for _, s := range sinks {
		w := &sinkWorker{
			sink:   s,
			logger: logger,
			latest: make(map[string]int),
			wake:   make(chan struct{}, 1),
			done:   make(chan struct{}),
		}
		d.workers = append(d.workers, w)
		go w.run()
	}
	return d
}

// Notify queues update for every sink. It never blocks. Updates arriving
// after Close are dropped.
func (d *Dispatcher) Notify(update models.ProgressUpdate) {
	for _, w := range d.workers {
		w.enqueue(update)
	}
}

// Close stops accepting updates and waits until every sink has been handed
// what was already queued, or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	for _, w := range d.workers {
		w.close()
	}
	for _, w := range d.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type sinkWorker struct {
	sink   Sink
	logger log.FieldLogger

	mu      sync.Mutex
	pending []models.ProgressUpdate
	// latest maps a job to the index in pending of its undelivered
	// non-terminal update.
	latest map[string]int
	closed bool

	wake chan struct{}
	done chan struct{}
}

func (w *sinkWorker) enqueue(u models.ProgressUpdate) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	idx, queued := w.latest[u.JobID]
	switch {
	case u.Status.Terminal():
		delete(w.latest, u.JobID)
		w.pending = append(w.pending, u)
	case queued:
		w.pending[idx] = u
	default:
		w.latest[u.JobID] = len(w.pending)
		w.pending = append(w.pending, u)
	}
	w.mu.Unlock()
	w.signal()
}

func (w *sinkWorker) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.signal()
}

func (w *sinkWorker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *sinkWorker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		batch := w.pending
		w.pending = nil
		clear(w.latest)
		closed := w.closed
		w.mu.Unlock()

		for _, u := range batch {
			w.deliver(u)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-w.wake
	}
}

func (w *sinkWorker) deliver(u models.ProgressUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	err := w.sink.Publish(ctx, u)
	cancel()
	if err != nil {
		w.logger.WithFields(log.Fields{
			"job_id": u.JobID,
			"seq":    u.Seq,
			"status": u.Status,
		}).WithError(err).Warn("progress sink failed")
	}
}
