package models

import (
	"time"
)

// Job is one conversion request as tracked by the queue.
type Job struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message"`
	InputPath    string    `json:"-"`
	OutputPath   string    `json:"-"`
	OutputFormat string    `json:"output_format"`
	OriginalName string    `json:"original_name,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// Resources returns the non-empty resource paths owned by the job.
func (j Job) Resources() []string {
	paths := make([]string, 0, 2)
	if j.InputPath != "" {
		paths = append(paths, j.InputPath)
	}
	if j.OutputPath != "" && j.OutputPath != j.InputPath {
		paths = append(paths, j.OutputPath)
	}
	return paths
}

// ProgressUpdate is pushed to progress sinks on every status, progress or
// message change of a job. Seq increases monotonically per job.
type ProgressUpdate struct {
	JobID        string    `json:"job_id"`
	Seq          uint64    `json:"seq"`
	OutputFormat string    `json:"output_format,omitempty"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// HistoryEntry is a persisted record of a job that reached a terminal state.
type HistoryEntry struct {
	ID           int64     `db:"id" json:"id"`
	JobID        string    `db:"job_id" json:"job_id"`
	Status       Status    `db:"status" json:"status"`
	OutputFormat string    `db:"output_format" json:"output_format"`
	Message      string    `db:"message" json:"message"`
	Error        string    `db:"error" json:"error,omitempty"`
	RecordedAt   time.Time `db:"recorded_at" json:"recorded_at"`
}
