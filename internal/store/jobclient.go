package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"transmute/internal/tasks"
)

// AsynqRemovalClient schedules deferred removals as asynq tasks.
var _ RemovalScheduler = (*AsynqRemovalClient)(nil)

type AsynqRemovalClient struct {
	client *asynq.Client
	queue  string
}

func NewAsynqRemovalClient(opt asynq.RedisConnOpt) *AsynqRemovalClient {
	return &AsynqRemovalClient{client: asynq.NewClient(opt), queue: tasks.QueueMaintenance}
}

func (jc *AsynqRemovalClient) Close() error {
	return jc.client.Close()
}

// ScheduleRemoval enqueues an artifact removal to run after the delay. The
// task id is derived from the job id, so scheduling twice is harmless.
func (jc *AsynqRemovalClient) ScheduleRemoval(ctx context.Context, jobID string, after time.Duration) error {
	task, err := tasks.NewRemoveArtifactTask(jobID)
	if err != nil {
		return err
	}
	info, err := jc.client.EnqueueContext(ctx, task,
		asynq.Queue(jc.queue),
		asynq.ProcessIn(after),
		asynq.TaskID(tasks.RemovalTaskID(jobID)),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.WithField("job_id", jobID).Debug("removal already scheduled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue removal for job %s: %w", jobID, err)
	}
	log.WithFields(log.Fields{
		"job_id":  jobID,
		"task_id": info.ID,
		"queue":   info.Queue,
		"at":      info.NextProcessAt,
	}).Debug("removal scheduled")
	return nil
}
