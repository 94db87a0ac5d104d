package models

import (
	"errors"
)

var (
	// ErrRejectedFull is returned by Submit when the backlog is at capacity.
	ErrRejectedFull = errors.New("queue is full")
	ErrDuplicateJob = errors.New("job id already exists")
	ErrValidation   = errors.New("validation error")
)
