package queue

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"transmute/internal/models"
)

const (
	startingProgress = 5
	maxRunningPct    = 99
)

// drainLocked moves jobs from the head of the backlog into processing
// while slots are free. It returns the runs the caller must start once the
// lock is released. Nothing is started once the queue is stopped. Callers
// hold q.mu.
func (q *Queue) drainLocked() []*Run {
	if q.stopped {
		return nil
	}
	var started []*Run
	for q.backlog.Len() > 0 && len(q.executing)+q.reclaiming < q.cfg.ConcurrencyLimit {
		id := q.backlog.Remove(q.backlog.Front()).(string)
		delete(q.backlogIndex, id)

		e, ok := q.jobs[id]
		if !ok || e.job.Status != models.StatusPending {
			continue
		}
		e.job.Status = models.StatusProcessing
		e.job.Progress = startingProgress
		e.job.Message = "Starting conversion"
		e.job.StartedAt = q.now()

		ctx, cancel := context.WithCancel(context.Background())
		run := &Run{q: q, job: e.job, ctx: ctx, cancel: cancel}
		q.executing[id] = run
		q.publishLocked(e)

		if q.inflight == 0 {
			q.idle = make(chan struct{})
		}
		q.inflight++
		started = append(started, run)
	}
	return started
}

// start launches each run off the scheduler's critical path.
func (q *Queue) start(runs []*Run) {
	for _, run := range runs {
		go q.execute(run.ctx, run)
	}
}

func (q *Queue) execute(ctx context.Context, run *Run) {
	defer q.executionDone()

	logger := q.logger.WithField("job_id", run.job.ID)
	logger.Debug("conversion started")

	err := q.safeExecute(ctx, run)
	q.finish(run, err)
}

// safeExecute turns a panicking unit into an ordinary execution failure.
func (q *Queue) safeExecute(ctx context.Context, run *Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversion panicked: %v", r)
		}
	}()
	return q.unit.Execute(ctx, run)
}

// finish records the terminal state of a run unless the run was already
// claimed by the cancellation path, then frees the slot and drains.
func (q *Queue) finish(run *Run, execErr error) {
	id := run.job.ID

	q.mu.Lock()
	if q.executing[id] != run {
		// Cancelled while running: the coordinator owns the slot.
		q.mu.Unlock()
		run.cancel()
		return
	}
	delete(q.executing, id)
	delete(q.liveness, id)

	e := q.jobs[id]
	e.job.FinishedAt = q.now()
	if execErr == nil {
		e.job.Status = models.StatusCompleted
		e.job.Progress = 100
		e.job.Message = "Conversion complete"
	} else {
		e.job.Status = models.StatusFailed
		e.job.Progress = 0
		e.job.Message = "Conversion failed: " + execErr.Error()
		e.job.Error = execErr.Error()
	}
	q.publishLocked(e)
	job := e.job

	started := q.drainLocked()
	q.mu.Unlock()

	run.cancel()
	q.start(started)

	logger := q.logger.WithFields(log.Fields{"job_id": id, "status": job.Status})
	if execErr != nil {
		logger.WithError(execErr).Warn("conversion failed")
		q.deleteResources(job)
		return
	}
	logger.Info("conversion completed")
}

func (q *Queue) executionDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	if q.inflight == 0 {
		close(q.idle)
	}
}

// report applies a progress callback from run if it is still the job's
// current execution.
func (q *Queue) report(run *Run, percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > maxRunningPct {
		percent = maxRunningPct
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.executing[run.job.ID] != run {
		return
	}
	e := q.jobs[run.job.ID]
	e.job.Progress = percent
	if message != "" {
		e.job.Message = message
	}
	q.publishLocked(e)
}
