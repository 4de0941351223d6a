package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"svgstudio/internal/domain"
)

// JobRepositoryMemory keeps jobs in process. It is the devserver default when
// no database is configured.
type JobRepositoryMemory struct {
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	generations map[string]string // generation id -> job id
	now         func() time.Time
}

func NewJobRepositoryMemory() *JobRepositoryMemory {
	return &JobRepositoryMemory{
		jobs:        make(map[string]*domain.Job),
		generations: make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *JobRepositoryMemory) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("repo: job %s: %w", job.ID, domain.ErrDuplicateOperation)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.now()
	}
	job.UpdatedAt = job.CreatedAt
	stored := job.Clone()
	r.jobs[job.ID] = &stored
	return nil
}

func (r *JobRepositoryMemory) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus, errCode, errMsg string, generation *domain.Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = status
	job.UpdatedAt = r.now()
	if errCode != "" {
		job.ErrorCode = errCode
	}
	if errMsg != "" {
		job.ErrorMessage = errMsg
	}
	if generation != nil {
		g := *generation
		job.Generation = &g
		r.generations[g.ID] = jobID
	}
	return nil
}

func (r *JobRepositoryMemory) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := job.Clone()
	return &out, nil
}

func (r *JobRepositoryMemory) ClaimQueued(_ context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var queued []*domain.Job
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusQueued {
			queued = append(queued, job)
		}
	}
	if len(queued) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].ID < queued[j].ID
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	next := queued[0]
	next.Status = domain.JobStatusRunning
	next.UpdatedAt = r.now()
	out := next.Clone()
	return &out, nil
}

func (r *JobRepositoryMemory) GetGeneration(_ context.Context, generationID string) (*domain.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobID, ok := r.generations[generationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	job := r.jobs[jobID]
	if job == nil || job.Status != domain.JobStatusSucceeded || job.Generation == nil {
		return nil, domain.ErrNotFound
	}
	g := *job.Generation
	return &g, nil
}

var _ domain.JobRepository = (*JobRepositoryMemory)(nil)
