// Package attempt owns the user-facing generation flow: one active attempt at a
// time, a single view of its progress, and resume of a job left in flight.
package attempt

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"svgstudio/internal/domain"
	"svgstudio/internal/domain/jsoncfg"
	"svgstudio/internal/infra"
	"svgstudio/internal/progress"
)

// Submitter starts a generation. *svgapi.Client implements it.
type Submitter interface {
	Submit(ctx context.Context, req jsoncfg.GenerateInput, idempotencyKey string) (*domain.SubmitResult, error)
}

// Tracker follows a job to a terminal status. *progress.Bridge implements it.
type Tracker interface {
	Track(ctx context.Context, job domain.Job, onProgress progress.Func) (domain.Job, error)
	Resume(ctx context.Context, jobID string, onProgress progress.Func) (domain.Job, error)
}

// Sessions persists the draft and the job in flight. *session.Store implements it.
type Sessions interface {
	SaveDraft(ctx context.Context, draft jsoncfg.GenerateInput) error
	SaveActiveJob(ctx context.Context, jobID string) error
	ActiveJob(ctx context.Context) (string, error)
	ClearActiveJob(ctx context.Context) error
}

// View is everything a presentation layer shows for the active attempt.
type View struct {
	AttemptID  string
	Open       bool
	Generating bool
	Progress   progress.Snapshot
	Job        *domain.Job
	Generation *domain.Generation
	Duplicate  bool
	Queue      *domain.QueueStats
	Credits    *domain.Credits
	Err        error
}

// Failed reports whether the attempt ended with a FAILED job.
func (v View) Failed() bool {
	return v.Job != nil && v.Job.Status == domain.JobStatusFailed
}

func (v View) clone() View {
	if v.Job != nil {
		j := v.Job.Clone()
		v.Job = &j
	}
	if v.Generation != nil {
		g := *v.Generation
		v.Generation = &g
	}
	if v.Queue != nil {
		q := *v.Queue
		v.Queue = &q
	}
	if v.Credits != nil {
		c := *v.Credits
		v.Credits = &c
	}
	return v
}

// Options configures a Coordinator.
type Options struct {
	Submitter Submitter
	Tracker   Tracker
	Sessions  Sessions
	Logger    *infra.Logger
	// OnChange runs with the coordinator locked after every view change. It
	// must not call back into the Coordinator.
	OnChange func(View)
}

// Coordinator runs attempts. Only the newest attempt may change the view.
type Coordinator struct {
	submitter Submitter
	tracker   Tracker
	sessions  Sessions
	logger    *infra.Logger
	onChange  func(View)

	mu              sync.Mutex
	view            View
	cancel          context.CancelFunc
	identity        string
	resumeAttempted bool
}

// NewCoordinator constructs a Coordinator. Sessions may be nil.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Submitter == nil {
		return nil, errors.New("attempt: submitter is required")
	}
	if opts.Tracker == nil {
		return nil, errors.New("attempt: tracker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Coordinator{
		submitter: opts.Submitter,
		tracker:   opts.Tracker,
		sessions:  opts.Sessions,
		logger:    logger,
		onChange:  opts.OnChange,
		view:      View{Progress: progress.Initial()},
	}, nil
}

// Attempt is one user-triggered generation.
type Attempt struct {
	ID string

	done chan struct{}
	job  domain.Job
	err  error
}

// Done is closed once the attempt has an outcome.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Wait blocks for the outcome. A FAILED job is returned with a nil error.
func (a *Attempt) Wait(ctx context.Context) (domain.Job, error) {
	select {
	case <-a.done:
		return a.job, a.err
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}
}

// View returns a copy of the current view.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.clone()
}

// StartAttempt supersedes any running attempt, resets the view and submits in
// the background. The previous attempt's context is cancelled so its listener
// and timers are released.
func (c *Coordinator) StartAttempt(ctx context.Context, in jsoncfg.GenerateInput) *Attempt {
	a, attemptCtx := c.begin(ctx)
	go c.submitAndTrack(attemptCtx, a, in)
	return a
}

// HandleExistingJob resumes a job left in flight by an earlier run. It is
// honoured once per identity; later calls return nil, false.
func (c *Coordinator) HandleExistingJob(ctx context.Context, jobID string) (*Attempt, bool) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, false
	}
	c.mu.Lock()
	if c.resumeAttempted {
		c.mu.Unlock()
		return nil, false
	}
	c.resumeAttempted = true
	c.mu.Unlock()

	a, attemptCtx := c.begin(ctx)
	go c.resume(attemptCtx, a, jobID)
	return a, true
}

// ResumeFromSession resumes the job id remembered in the session store, if any.
func (c *Coordinator) ResumeFromSession(ctx context.Context) (*Attempt, bool, error) {
	if c.sessions == nil {
		return nil, false, nil
	}
	jobID, err := c.sessions.ActiveJob(ctx)
	if err != nil {
		return nil, false, err
	}
	a, ok := c.HandleExistingJob(ctx, jobID)
	return a, ok, nil
}

// SetIdentity records the signed-in user. A different user may resume again.
func (c *Coordinator) SetIdentity(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if userID != c.identity {
		c.identity = userID
		c.resumeAttempted = false
	}
}

// Close hides the view and cancels the active attempt.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.view.AttemptID = ""
	c.view.Open = false
	c.view.Generating = false
	c.notifyLocked()
}

func (c *Coordinator) begin(ctx context.Context) (*Attempt, context.Context) {
	a := &Attempt{ID: uuid.NewString(), done: make(chan struct{})}
	attemptCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.view = View{
		AttemptID:  a.ID,
		Open:       true,
		Generating: true,
		Progress:   progress.Initial(),
	}
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Debug().Str("attempt_id", a.ID).Msg("attempt: started")
	return a, attemptCtx
}

func (c *Coordinator) submitAndTrack(ctx context.Context, a *Attempt, in jsoncfg.GenerateInput) {
	in.Normalize()
	if c.sessions != nil {
		if err := c.sessions.SaveDraft(ctx, in); err != nil {
			c.logger.Warn().Err(err).Str("attempt_id", a.ID).Msg("attempt: save draft failed")
		}
	}

	res, err := c.submitter.Submit(ctx, in, uuid.NewString())
	if err != nil {
		c.finish(a, domain.Job{}, err)
		return
	}
	c.apply(a.ID, func(v *View) {
		job := res.Job.Clone()
		v.Job = &job
		v.Duplicate = res.Duplicate
		v.Queue = res.Queue
		v.Credits = res.Credits
		v.Progress = progress.Compute(job.Status, nil)
	})
	if res.Duplicate || res.Job.Status.IsTerminal() {
		c.finish(a, res.Job, nil)
		return
	}

	c.saveActiveJob(ctx, a.ID, res.Job.ID)
	job, err := c.tracker.Track(ctx, res.Job, c.progressFunc(a.ID))
	c.settleSession(ctx, a.ID, job, err)
	c.finish(a, job, err)
}

func (c *Coordinator) resume(ctx context.Context, a *Attempt, jobID string) {
	c.logger.Info().Str("attempt_id", a.ID).Str("job_id", jobID).Msg("attempt: resuming job")
	job, err := c.tracker.Resume(ctx, jobID, c.progressFunc(a.ID))
	c.settleSession(ctx, a.ID, job, err)
	c.finish(a, job, err)
}

func (c *Coordinator) progressFunc(attemptID string) progress.Func {
	return func(snap progress.Snapshot, job domain.Job) {
		c.apply(attemptID, func(v *View) {
			v.Progress = snap
			v.Job = &job
		})
	}
}

func (c *Coordinator) saveActiveJob(ctx context.Context, attemptID, jobID string) {
	if c.sessions == nil {
		return
	}
	if err := c.sessions.SaveActiveJob(ctx, jobID); err != nil {
		c.logger.Warn().Err(err).Str("attempt_id", attemptID).Str("job_id", jobID).Msg("attempt: save active job failed")
	}
}

// settleSession forgets the job once it is terminal. Timed out or cancelled
// jobs stay remembered for a later resume.
func (c *Coordinator) settleSession(ctx context.Context, attemptID string, job domain.Job, err error) {
	if c.sessions == nil || err != nil || !job.Status.IsTerminal() {
		return
	}
	if cerr := c.sessions.ClearActiveJob(context.WithoutCancel(ctx)); cerr != nil {
		c.logger.Warn().Err(cerr).Str("attempt_id", attemptID).Msg("attempt: clear active job failed")
	}
}

func (c *Coordinator) finish(a *Attempt, job domain.Job, err error) {
	a.job, a.err = job, err
	applied := c.apply(a.ID, func(v *View) {
		v.Generating = false
		if err != nil {
			v.Err = err
			return
		}
		final := job.Clone()
		v.Job = &final
		v.Generation = final.Generation
		v.Progress = progress.Compute(final.Status, nil)
	})
	close(a.done)

	ev := c.logger.Info()
	if err != nil {
		ev = c.logger.Warn().Err(err)
	}
	ev.Str("attempt_id", a.ID).Str("job_id", job.ID).Str("status", string(job.Status)).
		Bool("stale", !applied).Msg("attempt: finished")
}

// apply mutates the view only when attemptID is still the active attempt.
func (c *Coordinator) apply(attemptID string, mutate func(*View)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if attemptID == "" || c.view.AttemptID != attemptID {
		return false
	}
	mutate(&c.view)
	c.notifyLocked()
	return true
}

func (c *Coordinator) notifyLocked() {
	if c.onChange != nil {
		c.onChange(c.view.clone())
	}
}
