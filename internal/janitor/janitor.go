// Package janitor runs periodic housekeeping: sweeping old terminal jobs
// out of the queue and pruning progress snapshots and job history.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const taskTimeout = time.Minute

// cronParser supports standard 5-field cron and descriptors like "@every 10m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// TaskFunc is one housekeeping step.
type TaskFunc func(ctx context.Context) error

type task struct {
	name string
	fn   TaskFunc
}

// Janitor runs every registered task on one cron schedule.
type Janitor struct {
	cron   *cronlib.Cron
	logger log.FieldLogger

	mu    sync.Mutex
	tasks []task
}

func New(schedule string, logger log.FieldLogger) (*Janitor, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	cl := cronLogger{logger}
	j := &Janitor{
		logger: logger,
		cron: cronlib.New(
			cronlib.WithParser(cronParser),
			cronlib.WithLogger(cl),
			cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
		),
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.RunNow(context.Background()) }); err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Add registers a task. Tasks run in registration order.
func (j *Janitor) Add(name string, fn TaskFunc) {
	j.mu.Lock()
	j.tasks = append(j.tasks, task{name: name, fn: fn})
	j.mu.Unlock()
}

// RunNow runs every task once, logging failures. It returns the number of
// tasks that failed.
func (j *Janitor) RunNow(ctx context.Context) int {
	j.mu.Lock()
	tasks := append([]task(nil), j.tasks...)
	j.mu.Unlock()

	failed := 0
	for _, t := range tasks {
		tctx, cancel := context.WithTimeout(ctx, taskTimeout)
		err := t.fn(tctx)
		cancel()
		if err != nil {
			failed++
			j.logger.WithField("task", t.name).WithError(err).Warn("janitor task failed")
		}
	}
	return failed
}

func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started")
}

// Stop halts the schedule and waits for a running sweep, or ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop().Done()
	select {
	case <-done:
		j.logger.Info("janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	l log.FieldLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithFields(fields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func fields(kv []interface{}) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
