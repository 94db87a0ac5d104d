package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types and queues used with asynq.
const (
	// TypeRemoveArtifact removes a downloaded job and its files.
	TypeRemoveArtifact = "artifact:remove"

	QueueMaintenance = "maintenance"
)

// RemoveArtifactPayload is the payload of a TypeRemoveArtifact task.
type RemoveArtifactPayload struct {
	JobID string `json:"job_id"`
}

func NewRemoveArtifactTask(jobID string) (*asynq.Task, error) {
	if jobID == "" {
		return nil, fmt.Errorf("remove artifact task: empty job id")
	}
	payload, err := json.Marshal(RemoveArtifactPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("encode remove artifact payload: %w", err)
	}
	return asynq.NewTask(TypeRemoveArtifact, payload), nil
}

func ParseRemoveArtifactPayload(t *asynq.Task) (RemoveArtifactPayload, error) {
	var p RemoveArtifactPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode remove artifact payload: %w", err)
	}
	if p.JobID == "" {
		return p, fmt.Errorf("remove artifact payload: empty job id")
	}
	return p, nil
}

// RemovalTaskID is the asynq task id used to deduplicate removals.
func RemovalTaskID(jobID string) string {
	return "remove:" + jobID
}
