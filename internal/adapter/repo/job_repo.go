package repo

import (
	"context"
	"fmt"
	"time"

	"svgstudio/internal/domain"
	"svgstudio/internal/infra"
	"svgstudio/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL through the
// marker-checked SQL runner.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// EnsureSchema creates the jobs table when missing.
func (r *JobRepositoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, sqlinline.QCreateJobSchema); err != nil {
		return fmt.Errorf("repo: ensure schema: %w", err)
	}
	return nil
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	_, err := r.db.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerID,
		string(job.Status),
		job.Prompt,
		job.Style,
		job.Model,
		string(job.Privacy),
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repo: insert job: %w", err)
	}
	return nil
}

// UpdateStatus sets the status and, when given, the error fields or generation.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errCode, errMsg string, generation *domain.Generation) error {
	var genID, svg *string
	if generation != nil {
		genID, svg = &generation.ID, &generation.SVG
	}
	tag, err := r.db.Exec(ctx, sqlinline.QUpdateJobStatus,
		jobID, string(status), nullable(errCode), nullable(errMsg), genID, svg)
	if err != nil {
		return fmt.Errorf("repo: update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	return r.scanOne(r.db.QueryRow(ctx, sqlinline.QGetJob, jobID))
}

// ClaimQueued locks the oldest queued job, marks it RUNNING and returns it.
func (r *JobRepositoryPG) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	return r.scanOne(r.db.QueryRow(ctx, sqlinline.QClaimQueuedJob))
}

// GetGeneration returns the generation of a succeeded job.
func (r *JobRepositoryPG) GetGeneration(ctx context.Context, generationID string) (*domain.Generation, error) {
	job, err := r.scanOne(r.db.QueryRow(ctx, sqlinline.QGetGeneration, generationID))
	if err != nil {
		return nil, err
	}
	if job.Generation == nil {
		return nil, domain.ErrNotFound
	}
	return job.Generation, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *JobRepositoryPG) scanOne(row rowScanner) (*domain.Job, error) {
	var (
		job                   domain.Job
		status, privacy       string
		genID, svg, code, msg *string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&status,
		&job.Prompt,
		&job.Style,
		&job.Model,
		&privacy,
		&genID,
		&svg,
		&code,
		&msg,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: scan job: %w", err)
	}
	parsed, err := domain.ParseJobStatus(status)
	if err != nil {
		return nil, fmt.Errorf("repo: stored job %s: %w", job.ID, err)
	}
	job.Status = parsed
	job.Privacy = domain.Privacy(privacy)
	job.ErrorCode = deref(code)
	job.ErrorMessage = deref(msg)
	if genID != nil {
		job.Generation = &domain.Generation{
			ID:        *genID,
			OwnerID:   job.OwnerID,
			SVG:       deref(svg),
			Prompt:    job.Prompt,
			Style:     job.Style,
			Model:     job.Model,
			Privacy:   job.Privacy,
			CreatedAt: job.UpdatedAt,
		}
	}
	return &job, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
