package domain

import "context"

// JobRepository defines persistence for generation jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errCode, errMsg string, generation *Generation) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// ClaimQueued moves the oldest QUEUED job to RUNNING and returns it, or
	// ErrNotFound when the queue is empty.
	ClaimQueued(ctx context.Context) (*Job, error)
	// GetGeneration finds the generation of a SUCCEEDED job.
	GetGeneration(ctx context.Context, generationID string) (*Generation, error)
}
