package devserver

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"svgstudio/internal/domain"
	"svgstudio/internal/infra"
	"svgstudio/internal/progress"
)

const (
	failureCode    = "GENERATION_FAILED"
	failureMessage = "the model could not render this prompt"
)

// runningMilestones are the progress values pushed while a job renders.
var runningMilestones = []float64{40, 80}

// Publisher delivers a push event to one user's sockets. *Hub implements it.
type Publisher interface {
	Publish(owner, event string, data any)
}

// Simulator claims queued jobs and walks each one to a terminal status,
// pushing an update at every step.
type Simulator struct {
	repo      domain.JobRepository
	publisher Publisher
	logger    *infra.Logger
	step      time.Duration
	onClaim   func()
	busy      atomic.Bool
}

func NewSimulator(repo domain.JobRepository, publisher Publisher, logger *infra.Logger, step time.Duration) *Simulator {
	if step <= 0 {
		step = 2 * time.Second
	}
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Simulator{repo: repo, publisher: publisher, logger: logger, step: step}
}

// Run processes jobs one at a time until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info().Dur("step", s.step).Msg("simulator: started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := s.repo.ClaimQueued(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("simulator: failed to claim job")
			}
			if !sleep(ctx, s.step) {
				return ctx.Err()
			}
			continue
		}
		if s.onClaim != nil {
			s.onClaim()
		}
		s.busy.Store(true)
		s.handle(ctx, job)
		s.busy.Store(false)
	}
}

func (s *Simulator) running() int {
	if s.busy.Load() {
		return 1
	}
	return 0
}

func (s *Simulator) handle(ctx context.Context, job *domain.Job) {
	log := s.logger.With().Str("job_id", job.ID).Logger()
	log.Info().Str("style", job.Style).Msg("simulator: picked job")

	for _, pct := range runningMilestones {
		s.publish(job.OwnerID, progress.Event{JobID: job.ID, Status: domain.JobStatusRunning, Progress: &pct})
		if !sleep(ctx, s.step) {
			s.fail(job, "CANCELLED", "server shutting down")
			return
		}
	}

	if strings.Contains(strings.ToLower(job.Prompt), "fail") {
		s.fail(job, failureCode, failureMessage)
		return
	}

	gen := &domain.Generation{
		ID:        uuid.NewString(),
		OwnerID:   job.OwnerID,
		SVG:       renderSVG(*job),
		Prompt:    job.Prompt,
		Style:     job.Style,
		Model:     job.Model,
		Privacy:   job.Privacy,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.UpdateStatus(ctx, job.ID, domain.JobStatusSucceeded, "", "", gen); err != nil {
		log.Error().Err(err).Msg("simulator: update status failed")
		return
	}
	s.publish(job.OwnerID, progress.Event{JobID: job.ID, Status: domain.JobStatusSucceeded, GenerationID: gen.ID})
	log.Info().Str("generation_id", gen.ID).Msg("simulator: job succeeded")
}

// fail records a FAILED job. It uses a fresh context so shutdown still
// leaves the job terminal.
func (s *Simulator) fail(job *domain.Job, code, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, code, msg, nil); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("simulator: update status failed")
		return
	}
	s.publish(job.OwnerID, progress.Event{JobID: job.ID, Status: domain.JobStatusFailed, ErrorCode: code, ErrorMessage: msg})
	s.logger.Warn().Str("job_id", job.ID).Str("error_code", code).Msg("simulator: job failed")
}

func (s *Simulator) publish(owner string, ev progress.Event) {
	if s.publisher != nil {
		s.publisher.Publish(owner, progress.UpdateEvent, ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
