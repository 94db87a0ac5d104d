package models

/*
Job status constants for use throughout the codebase.
A job moves pending -> processing -> one of the terminal states; cancelled is
also reachable straight from pending. Nothing leaves a terminal state.
*/

// Status is the lifecycle state of a conversion job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Reasons recorded as the message of a cancelled job.
const (
	ReasonUserCancelled      = "Cancelled by user"
	ReasonClientDisconnected = "Client disconnected"
)
