package queue

import (
	log "github.com/sirupsen/logrus"

	"transmute/internal/models"
)

// Cancel stops a pending or processing job. It returns false when the id is
// unknown or the job already reached a terminal state; repeated calls are
// safe.
func (q *Queue) Cancel(id, reason string) bool {
	if reason == "" {
		reason = models.ReasonUserCancelled
	}
	return q.cancelInternal(id, reason, nil)
}

// cancelInternal is the single cancellation path shared by Cancel and the
// liveness monitor. A non-nil guard is evaluated under the lock and can veto
// the cancellation.
//
// The job is claimed under the lock first so a racing completion loses.
// Its concurrency slot stays reserved while the process is aborted and its
// files deleted, and is released last, after the record is purged.
func (q *Queue) cancelInternal(id, reason string, guard func(id string) bool) bool {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok || e.job.Status.Terminal() || (guard != nil && !guard(id)) {
		q.mu.Unlock()
		return false
	}

	if el, queued := q.backlogIndex[id]; queued {
		q.backlog.Remove(el)
		delete(q.backlogIndex, id)
	}
	run := q.executing[id]
	if run != nil {
		delete(q.executing, id)
		q.reclaiming++
	}

	e.job.Status = models.StatusCancelled
	e.job.Message = reason
	e.job.Error = reason
	e.job.FinishedAt = q.now()
	delete(q.liveness, id)
	q.publishLocked(e)
	job := e.job
	q.mu.Unlock()

	logger := q.logger.WithFields(log.Fields{"job_id": id, "reason": reason})
	if run != nil {
		if err := run.abort(); err != nil {
			logger.WithError(err).Warn("abort request failed")
		}
	}
	q.deleteResources(job)

	q.mu.Lock()
	if cur, ok := q.jobs[id]; ok && cur == e {
		delete(q.jobs, id)
	}
	var started []*Run
	if run != nil {
		q.reclaiming--
		started = q.drainLocked()
	}
	q.mu.Unlock()

	q.start(started)
	logger.Info("job cancelled")
	return true
}
