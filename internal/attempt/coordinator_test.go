package attempt

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"svgstudio/internal/domain"
	"svgstudio/internal/domain/jsoncfg"
	"svgstudio/internal/progress"
)

type submitCall struct {
	req jsoncfg.GenerateInput
	key string
}

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []submitCall
	results []*domain.SubmitResult
	err     error
	gate    chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, req jsoncfg.GenerateInput, key string) (*domain.SubmitResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submitCall{req, key})
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.calls) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

func (f *fakeSubmitter) snapshot() []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitCall(nil), f.calls...)
}

type fakeTracker struct {
	mu         sync.Mutex
	tracked    []domain.Job
	resumed    []string
	callbacks  []progress.Func
	started    chan struct{}
	onTrack    func(ctx context.Context, job domain.Job, fn progress.Func) (domain.Job, error)
	resumeWith func(ctx context.Context, jobID string, fn progress.Func) (domain.Job, error)
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{started: make(chan struct{}, 8)}
}

func (f *fakeTracker) Track(ctx context.Context, job domain.Job, fn progress.Func) (domain.Job, error) {
	f.mu.Lock()
	f.tracked = append(f.tracked, job)
	f.callbacks = append(f.callbacks, fn)
	handler := f.onTrack
	f.mu.Unlock()
	f.started <- struct{}{}
	return handler(ctx, job, fn)
}

func (f *fakeTracker) Resume(ctx context.Context, jobID string, fn progress.Func) (domain.Job, error) {
	f.mu.Lock()
	f.resumed = append(f.resumed, jobID)
	handler := f.resumeWith
	f.mu.Unlock()
	return handler(ctx, jobID, fn)
}

func (f *fakeTracker) trackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracked)
}

type memSessions struct {
	mu        sync.Mutex
	activeJob string
	draft     *jsoncfg.GenerateInput
	saves     []string
}

func (m *memSessions) SaveDraft(_ context.Context, d jsoncfg.GenerateInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = &d
	return nil
}

func (m *memSessions) SaveActiveJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeJob = id
	m.saves = append(m.saves, id)
	return nil
}

func (m *memSessions) ActiveJob(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeJob, nil
}

func (m *memSessions) ClearActiveJob(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeJob = ""
	return nil
}

func (m *memSessions) active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeJob
}

func waitAttempt(t *testing.T, a *Attempt) (domain.Job, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := a.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		t.Fatalf("attempt %s never finished", a.ID)
	}
	return job, err
}

func TestDuplicateSucceededSkipsTracking(t *testing.T) {
	sub := &fakeSubmitter{results: []*domain.SubmitResult{{
		Duplicate: true,
		Job: domain.Job{ID: "job-1", Status: domain.JobStatusSucceeded,
			Generation: &domain.Generation{ID: "gen-1", SVG: "<svg/>"}},
	}}}
	tracker := newFakeTracker()
	sessions := &memSessions{}
	c, err := NewCoordinator(Options{Submitter: sub, Tracker: tracker, Sessions: sessions})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	a := c.StartAttempt(context.Background(), jsoncfg.GenerateInput{Prompt: "a cat", Style: "flat"})
	job, err := waitAttempt(t, a)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if job.Generation == nil || job.Generation.SVG != "<svg/>" {
		t.Fatalf("job = %+v", job)
	}
	if tracker.trackCount() != 0 {
		t.Fatalf("duplicate result was tracked")
	}
	if len(sessions.saves) != 0 {
		t.Fatalf("duplicate result persisted an active job: %v", sessions.saves)
	}

	v := c.View()
	if v.Generating || !v.Open || !v.Duplicate {
		t.Fatalf("view = %+v", v)
	}
	if v.Generation == nil || v.Generation.ID != "gen-1" || v.Progress.Percent != 100 {
		t.Fatalf("view result = %+v / %+v", v.Generation, v.Progress)
	}
	calls := sub.snapshot()
	if len(calls) != 1 || calls[0].key == "" {
		t.Fatalf("submit calls = %+v", calls)
	}
}

func TestAttemptTracksToCompletion(t *testing.T) {
	sub := &fakeSubmitter{results: []*domain.SubmitResult{{
		Job:   domain.Job{ID: "job-1", Status: domain.JobStatusQueued},
		Queue: &domain.QueueStats{Position: 2},
	}}}
	tracker := newFakeTracker()
	var percents []int
	sessions := &memSessions{}
	tracker.onTrack = func(ctx context.Context, job domain.Job, fn progress.Func) (domain.Job, error) {
		if got := sessions.active(); got != "job-1" {
			t.Errorf("active job during tracking = %q, want job-1", got)
		}
		forty := 40.0
		running := job
		running.Status = domain.JobStatusRunning
		fn(progress.Compute(domain.JobStatusRunning, &forty), running)
		return domain.Job{ID: "job-1", Status: domain.JobStatusSucceeded, Generation: &domain.Generation{ID: "gen-1"}}, nil
	}
	c, _ := NewCoordinator(Options{
		Submitter: sub,
		Tracker:   tracker,
		Sessions:  sessions,
		OnChange:  func(v View) { percents = append(percents, v.Progress.Percent) },
	})

	a := c.StartAttempt(context.Background(), jsoncfg.GenerateInput{Prompt: "  a fox "})
	if _, err := waitAttempt(t, a); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	want := []int{4, 18, 40, 100}
	if !reflect.DeepEqual(percents, want) {
		t.Fatalf("percents = %v, want %v", percents, want)
	}
	if sessions.active() != "" {
		t.Fatalf("active job not cleared after success")
	}
	if sessions.draft == nil || sessions.draft.Prompt != "a fox" || sessions.draft.Style != jsoncfg.DefaultStyle {
		t.Fatalf("draft = %+v", sessions.draft)
	}
	v := c.View()
	if v.Generation == nil || v.Generation.ID != "gen-1" || v.Queue == nil || v.Queue.Position != 2 {
		t.Fatalf("view = %+v", v)
	}
}

func TestStaleAttemptCallbacksAreNoOps(t *testing.T) {
	sub := &fakeSubmitter{results: []*domain.SubmitResult{
		{Job: domain.Job{ID: "job-a", Status: domain.JobStatusQueued}},
		{Job: domain.Job{ID: "job-b", Status: domain.JobStatusQueued}},
	}}
	tracker := newFakeTracker()
	release := make(chan struct{})
	tracker.onTrack = func(ctx context.Context, job domain.Job, fn progress.Func) (domain.Job, error) {
		if job.ID == "job-a" {
			<-ctx.Done()
			return domain.Job{}, ctx.Err()
		}
		<-release
		return domain.Job{ID: "job-b", Status: domain.JobStatusSucceeded}, nil
	}
	c, _ := NewCoordinator(Options{Submitter: sub, Tracker: tracker})

	first := c.StartAttempt(context.Background(), jsoncfg.GenerateInput{Prompt: "first"})
	<-tracker.started
	second := c.StartAttempt(context.Background(), jsoncfg.GenerateInput{Prompt: "second"})
	<-tracker.started

	if _, err := waitAttempt(t, first); !errors.Is(err, context.Canceled) {
		t.Fatalf("first attempt err = %v, want context.Canceled", err)
	}

	before := c.View()
	tracker.mu.Lock()
	staleFn := tracker.callbacks[0]
	tracker.mu.Unlock()
	staleFn(progress.Compute(domain.JobStatusSucceeded, nil), domain.Job{ID: "job-a", Status: domain.JobStatusSucceeded})
	if after := c.View(); !reflect.DeepEqual(before, after) {
		t.Fatalf("stale callback changed the view:\n%+v\n%+v", before, after)
	}
	if before.AttemptID != second.ID || before.Err != nil {
		t.Fatalf("view = %+v, want active attempt %s", before, second.ID)
	}

	close(release)
	if _, err := waitAttempt(t, second); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if v := c.View(); v.Job == nil || v.Job.ID != "job-b" {
		t.Fatalf("view job = %+v", v.Job)
	}
}

func TestSubmitErrorSurfacesInView(t *testing.T) {
	rateErr := &domain.RateLimitError{RetryAfter: 30 * time.Second}
	sub := &fakeSubmitter{err: rateErr}
	c, _ := NewCoordinator(Options{Submitter: sub, Tracker: newFakeTracker()})

	a := c.StartAttempt(context.Background(), jsoncfg.GenerateInput{Prompt: "x"})
	_, err := waitAttempt(t, a)
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != 30*time.Second {
		t.Fatalf("err = %v, want rate limit", err)
	}
	v := c.View()
	if v.Generating || !errors.Is(v.Err, rateErr) {
		t.Fatalf("view = %+v", v)
	}
}

func TestFailedJobKeepsErrorFields(t *testing.T) {
	sub := &fakeSubmitter{results: []*domain.SubmitResult{{Job: domain.Job{ID: "job-1", Status: domain.JobStatusRunning}}}}
	tracker := newFakeTracker()
	tracker.onTrack = func(ctx context.Context, job domain.Job, fn progress.Func) (domain.Job, error) {
		return domain.Job{ID: "job-1", Status: domain.JobStatusFailed, ErrorCode: "UNSAFE", ErrorMessage: "blocked"}, nil
	}
	c, _ := NewCoordinator(Options{Submitter: sub, Tracker: tracker})

	a := c.StartAttempt(context.Background(), jsoncfg.GenerateInput{Prompt: "x"})
	if _, err := waitAttempt(t, a); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	v := c.View()
	if !v.Failed() || v.Job.ErrorMessage != "blocked" || v.Generation != nil || v.Err != nil {
		t.Fatalf("view = %+v", v)
	}
}

func TestHandleExistingJobOncePerIdentity(t *testing.T) {
	tracker := newFakeTracker()
	tracker.resumeWith = func(ctx context.Context, jobID string, fn progress.Func) (domain.Job, error) {
		return domain.Job{ID: jobID, Status: domain.JobStatusSucceeded}, nil
	}
	sessions := &memSessions{activeJob: "job-9"}
	c, _ := NewCoordinator(Options{Submitter: &fakeSubmitter{}, Tracker: tracker, Sessions: sessions})
	c.SetIdentity("user-1")

	a, ok, err := c.ResumeFromSession(context.Background())
	if err != nil || !ok {
		t.Fatalf("ResumeFromSession = %v, %v", ok, err)
	}
	if job, err := waitAttempt(t, a); err != nil || job.ID != "job-9" {
		t.Fatalf("resume = %+v, %v", job, err)
	}
	if sessions.active() != "" {
		t.Fatalf("active job not cleared after resume")
	}

	if _, ok := c.HandleExistingJob(context.Background(), "job-9"); ok {
		t.Fatalf("second resume for same identity ran")
	}
	c.SetIdentity("user-1")
	if _, ok := c.HandleExistingJob(context.Background(), "job-9"); ok {
		t.Fatalf("same identity reset the resume flag")
	}
	c.SetIdentity("user-2")
	a, ok = c.HandleExistingJob(context.Background(), "job-9")
	if !ok {
		t.Fatalf("new identity could not resume")
	}
	waitAttempt(t, a)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if !reflect.DeepEqual(tracker.resumed, []string{"job-9", "job-9"}) {
		t.Fatalf("resumed = %v", tracker.resumed)
	}
}

func TestResumeFromSessionWithoutActiveJob(t *testing.T) {
	c, _ := NewCoordinator(Options{Submitter: &fakeSubmitter{}, Tracker: newFakeTracker(), Sessions: &memSessions{}})
	if _, ok, err := c.ResumeFromSession(context.Background()); ok || err != nil {
		t.Fatalf("ResumeFromSession = %v, %v, want nothing to resume", ok, err)
	}
	// the flag is untouched when nothing was resumed
	if c.resumeAttempted {
		t.Fatalf("resume flag set without a job id")
	}
}

func TestCloseCancelsActiveAttempt(t *testing.T) {
	sub := &fakeSubmitter{results: []*domain.SubmitResult{{Job: domain.Job{ID: "job-1", Status: domain.JobStatusQueued}}}}
	tracker := newFakeTracker()
	tracker.onTrack = func(ctx context.Context, job domain.Job, fn progress.Func) (domain.Job, error) {
		<-ctx.Done()
		return domain.Job{}, ctx.Err()
	}
	sessions := &memSessions{}
	c, _ := NewCoordinator(Options{Submitter: sub, Tracker: tracker, Sessions: sessions})

	a := c.StartAttempt(context.Background(), jsoncfg.GenerateInput{Prompt: "x"})
	<-tracker.started
	c.Close()

	if _, err := waitAttempt(t, a); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	v := c.View()
	if v.Open || v.Generating || v.AttemptID != "" {
		t.Fatalf("view after Close = %+v", v)
	}
	if sessions.active() != "job-1" {
		t.Fatalf("cancelled job should stay resumable, active = %q", sessions.active())
	}
}

func TestNewCoordinatorRequiresDependencies(t *testing.T) {
	if _, err := NewCoordinator(Options{Tracker: newFakeTracker()}); err == nil {
		t.Fatalf("expected error without submitter")
	}
	if _, err := NewCoordinator(Options{Submitter: &fakeSubmitter{}}); err == nil {
		t.Fatalf("expected error without tracker")
	}
}
