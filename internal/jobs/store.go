package jobs

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a job id has no persisted record.
	ErrNotFound = errors.New("job not found")
	// ErrStatusConflict is returned when a compare-and-swap transition finds
	// the job outside the expected previous statuses. Duplicate at-least-once
	// deliveries surface as this error and are safe to treat as no-ops.
	ErrStatusConflict = errors.New("job status conflict")
	// ErrResultExists is returned when a second result write is attempted.
	// Results are append-once per successful run.
	ErrResultExists = errors.New("job result already recorded")
)

// Transition describes one guarded status move. When From is non-empty the
// store only applies the transition if the current status is a member;
// otherwise any non-terminal status is accepted.
type Transition struct {
	To      Status
	From    []Status
	Message string
	Details map[string]any
	// Error replaces the job's failure reason. An empty value clears it.
	Error string
}

// ListFilter narrows ListJobs. Zero value lists everything.
type ListFilter struct {
	Status Status
	Limit  int
}

// Store is the keyed persistent job record store. It is the sole writer of
// persisted job state; the status log stays consistent with the current
// status because transitions append and update in one transaction.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error)
	StatusCounts(ctx context.Context) (map[Status]int, error)
	TransitionStatus(ctx context.Context, id string, t Transition) (*Job, error)
	SetResult(ctx context.Context, id string, result *Result) error
	DeleteJob(ctx context.Context, id string) error
}
