package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"svgstudio/internal/domain"
	"svgstudio/internal/infra"
	"svgstudio/internal/realtime"
)

// EventSource delivers named push events. *realtime.Manager implements it.
type EventSource interface {
	Subscribe(event string, handler realtime.Handler) func()
}

// Connector opens the push connection. *realtime.Manager implements it.
type Connector interface {
	AwaitConnected(ctx context.Context, timeout time.Duration) error
}

// JobFetcher loads the authoritative job record. *svgapi.Client implements it.
type JobFetcher interface {
	GetJob(ctx context.Context, jobID string) (*domain.SubmitResult, error)
}

// Func receives every snapshot together with the merged job it was derived from.
type Func func(Snapshot, domain.Job)

// Options configures a Bridge. Zero durations take the defaults.
type Options struct {
	Source         EventSource
	Connector      Connector
	Jobs           JobFetcher
	Logger         *infra.Logger
	Timeout        time.Duration
	ConnectTimeout time.Duration
	FallbackAfter  time.Duration
	PollInterval   time.Duration
	PollDeadline   time.Duration
}

const (
	DefaultTimeout       = 120 * time.Second
	DefaultFallbackAfter = 120 * time.Second
	DefaultPollInterval  = 5 * time.Second
	DefaultPollDeadline  = 120 * time.Second

	eventBuffer = 32
)

// Bridge tracks generation jobs to a terminal status.
type Bridge struct {
	source         EventSource
	connector      Connector
	jobs           JobFetcher
	logger         *infra.Logger
	timeout        time.Duration
	connectTimeout time.Duration
	fallbackAfter  time.Duration
	pollInterval   time.Duration
	pollDeadline   time.Duration
}

// NewBridge constructs a Bridge.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Source == nil {
		return nil, errors.New("progress: event source is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("progress: job fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Bridge{
		source:         opts.Source,
		connector:      opts.Connector,
		jobs:           opts.Jobs,
		logger:         logger,
		timeout:        orDefault(opts.Timeout, DefaultTimeout),
		connectTimeout: orDefault(opts.ConnectTimeout, realtime.DefaultConnectTimeout),
		fallbackAfter:  orDefault(opts.FallbackAfter, DefaultFallbackAfter),
		pollInterval:   orDefault(opts.PollInterval, DefaultPollInterval),
		pollDeadline:   orDefault(opts.PollDeadline, DefaultPollDeadline),
	}, nil
}

// Track follows a freshly submitted job until it is terminal. A job that is
// already terminal, duplicates included, is returned as is without touching
// the push channel. A terminal push event triggers one GetJob whose result is
// returned. Without a terminal event within the timeout it fails with
// domain.ErrTrackTimeout.
//
// FAILED jobs are returned with a nil error.
func (b *Bridge) Track(ctx context.Context, job domain.Job, onProgress Func) (domain.Job, error) {
	if job.Status.IsTerminal() {
		emit(onProgress, Compute(job.Status, nil), job)
		return job, nil
	}
	m := b.newMachine(job, onProgress)
	m.deadlineErr = func() error {
		return fmt.Errorf("progress: job %s not finished within %s: %w", job.ID, b.timeout, domain.ErrTrackTimeout)
	}
	return m.run(ctx, b.timeout, 0)
}

// Resume follows a job known only by id, typically one left in flight before a
// restart. When no push update resolves it within FallbackAfter, it stops
// listening and polls GetJob every PollInterval for up to PollDeadline.
func (b *Bridge) Resume(ctx context.Context, jobID string, onProgress Func) (domain.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.Job{}, errors.New("progress: job id is required")
	}
	res, err := b.jobs.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("progress: load job %s: %w", jobID, err)
	}
	job := res.Job
	if job.Status.IsTerminal() {
		emit(onProgress, Compute(job.Status, nil), job)
		return job, nil
	}
	m := b.newMachine(job, onProgress)
	m.deadlineErr = func() error {
		return fmt.Errorf("progress: job %s unresolved after %s on the socket and %s of polling: %w",
			jobID, b.fallbackAfter, b.pollDeadline, domain.ErrTrackTimeout)
	}
	return m.run(ctx, 0, b.fallbackAfter)
}

func (b *Bridge) newMachine(job domain.Job, onProgress Func) *machine {
	return &machine{
		b:          b,
		job:        job.Clone(),
		onProgress: onProgress,
		events:     make(chan json.RawMessage, eventBuffer),
		done:       make(chan struct{}),
	}
}

type phase int

const (
	phaseAwaitingSocket phase = iota
	phasePolling
	phaseSettled
)

func (p phase) String() string {
	switch p {
	case phaseAwaitingSocket:
		return "awaiting_socket"
	case phasePolling:
		return "polling"
	default:
		return "settled"
	}
}

type inputKind int

const (
	inputEvent inputKind = iota
	inputFallback
	inputDeadline
	inputTick
	inputCancel
)

type input struct {
	kind inputKind
	raw  json.RawMessage
}

// machine is single-use and driven by one goroutine, the caller of run.
type machine struct {
	b           *Bridge
	job         domain.Job
	onProgress  Func
	deadlineErr func() error

	phase       phase
	events      chan json.RawMessage
	done        chan struct{}
	unsubscribe func()
	deadline    *time.Timer
	fallback    *time.Timer
	ticker      *time.Ticker

	result domain.Job
	err    error
}

// run subscribes, arms the socket-phase timers and feeds inputs through step
// until the machine settles. timeout bounds the whole wait when positive;
// fallbackAfter switches to polling when positive.
func (m *machine) run(ctx context.Context, timeout, fallbackAfter time.Duration) (domain.Job, error) {
	jobID := m.job.ID
	m.unsubscribe = m.b.source.Subscribe(UpdateEvent, func(data json.RawMessage) {
		select {
		case m.events <- data:
		case <-m.done:
		}
	})
	emit(m.onProgress, Compute(m.job.Status, nil), m.job)

	if timeout > 0 {
		m.deadline = time.NewTimer(timeout)
	}
	if fallbackAfter > 0 {
		m.fallback = time.NewTimer(fallbackAfter)
	}
	if m.b.connector != nil {
		connectCtx := ctx
		if timeout > 0 {
			// The connect wait counts against the outer timeout.
			var cancel context.CancelFunc
			connectCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := m.b.connector.AwaitConnected(connectCtx, m.b.connectTimeout); err != nil && ctx.Err() == nil {
			m.b.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress: push channel unavailable, polling instead")
			m.enterPolling()
		}
	}

	for m.phase != phaseSettled {
		select {
		case raw := <-m.events:
			m.step(ctx, input{kind: inputEvent, raw: raw})
		case <-timerC(m.fallback):
			m.step(ctx, input{kind: inputFallback})
		case <-timerC(m.deadline):
			m.step(ctx, input{kind: inputDeadline})
		case <-tickerC(m.ticker):
			m.step(ctx, input{kind: inputTick})
		case <-ctx.Done():
			m.step(ctx, input{kind: inputCancel})
		}
	}
	return m.result, m.err
}

// step is the transition function.
func (m *machine) step(ctx context.Context, in input) {
	if in.kind == inputCancel {
		m.settle(domain.Job{}, ctx.Err())
		return
	}
	switch m.phase {
	case phaseAwaitingSocket:
		switch in.kind {
		case inputEvent:
			m.applyEvent(ctx, in.raw)
		case inputFallback:
			m.b.logger.Info().Str("job_id", m.job.ID).Msg("progress: no push update, falling back to polling")
			m.enterPolling()
		case inputDeadline:
			m.settle(domain.Job{}, m.deadlineErr())
		}
	case phasePolling:
		switch in.kind {
		case inputTick:
			m.poll(ctx)
		case inputDeadline:
			m.settle(domain.Job{}, m.deadlineErr())
		}
	}
}

func (m *machine) applyEvent(ctx context.Context, raw json.RawMessage) {
	ev, err := ParseEvent(raw)
	if err != nil {
		m.b.logger.Warn().Err(err).Str("job_id", m.job.ID).Msg("progress: rejected push payload")
		return
	}
	if ev.JobID != m.job.ID {
		return
	}
	m.job = Merge(m.job, ev)
	if !m.job.Status.IsTerminal() {
		emit(m.onProgress, Compute(m.job.Status, ev.Progress), m.job)
		return
	}
	res, err := m.b.jobs.GetJob(ctx, m.job.ID)
	if err != nil {
		m.settle(domain.Job{}, fmt.Errorf("progress: confirm job %s: %w", m.job.ID, err))
		return
	}
	m.settle(res.Job, nil)
}

func (m *machine) poll(ctx context.Context) {
	res, err := m.b.jobs.GetJob(ctx, m.job.ID)
	if err != nil {
		if ctx.Err() != nil {
			m.settle(domain.Job{}, ctx.Err())
			return
		}
		m.b.logger.Warn().Err(err).Str("job_id", m.job.ID).Msg("progress: poll failed")
		return
	}
	if res.Job.Status.IsTerminal() {
		m.settle(res.Job, nil)
		return
	}
	if res.Job.Status.Rank() >= m.job.Status.Rank() {
		m.job = res.Job.Clone()
	}
	emit(m.onProgress, Compute(m.job.Status, nil), m.job)
}

// enterPolling drops the socket listener before the first poll so the two
// never run together. An outer deadline already running is kept; otherwise
// polling is bounded by PollDeadline.
func (m *machine) enterPolling() {
	m.phase = phasePolling
	m.dropSubscription()
	stopTimer(m.fallback)
	m.fallback = nil
	if m.deadline == nil {
		m.deadline = time.NewTimer(m.b.pollDeadline)
	}
	m.ticker = time.NewTicker(m.b.pollInterval)
}

func (m *machine) settle(job domain.Job, err error) {
	if m.phase == phaseSettled {
		return
	}
	m.phase = phaseSettled
	m.dropSubscription()
	close(m.done)
	stopTimer(m.fallback)
	stopTimer(m.deadline)
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.result, m.err = job, err
	if err == nil {
		emit(m.onProgress, Compute(job.Status, nil), job)
	}
}

func (m *machine) dropSubscription() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func emit(fn Func, snap Snapshot, job domain.Job) {
	if fn != nil {
		fn(snap, job.Clone())
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
