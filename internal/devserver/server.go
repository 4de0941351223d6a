// Package devserver is a self-contained generation backend for local work
// and integration tests. It speaks the same REST and push protocol as the
// production service and renders placeholder artwork.
package devserver

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"svgstudio/internal/domain"
	"svgstudio/internal/domain/jsoncfg"
	"svgstudio/internal/infra"
	"svgstudio/internal/middleware"
	"svgstudio/internal/progress"
)

const (
	idempotencyHeader = "X-Idempotency-Key"
	downloadLinkTTL   = 5 * time.Minute
	maxBodyBytes      = 64 << 10
)

// Options configures a Server.
type Options struct {
	Repo            domain.JobRepository
	Logger          *infra.Logger
	Token           string
	JWTSecret       string
	RateLimitPerMin int
	CORSOrigins     []string
	StepInterval    time.Duration
	InitialCredits  int
	Now             func() time.Time
}

// Server wires the REST endpoints, the push hub and the job simulator.
type Server struct {
	repo        domain.JobRepository
	hub         *Hub
	sim         *Simulator
	idem        *idempotencyCache
	credits     *ledger
	logger      *infra.Logger
	auth        middleware.AuthOptions
	signingKey  string
	rateLimit   int
	corsOrigins []string
	now         func() time.Time

	waiting atomic.Int64
}

func New(opts Options) (*Server, error) {
	if opts.Repo == nil {
		return nil, errors.New("devserver: job repository is required")
	}
	signingKey := opts.JWTSecret
	if signingKey == "" {
		signingKey = opts.Token
	}
	if signingKey == "" {
		return nil, errors.New("devserver: api token or jwt secret is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	credits := opts.InitialCredits
	if credits <= 0 {
		credits = DefaultCredits
	}
	s := &Server{
		repo:        opts.Repo,
		hub:         NewHub(logger),
		idem:        newIdempotencyCache(IdempotencyWindow, now),
		credits:     newLedger(credits),
		logger:      logger,
		auth:        middleware.AuthOptions{StaticToken: opts.Token, JWTSecret: opts.JWTSecret},
		signingKey:  signingKey,
		rateLimit:   opts.RateLimitPerMin,
		corsOrigins: opts.CORSOrigins,
		now:         now,
	}
	s.sim = NewSimulator(opts.Repo, s.hub, logger, opts.StepInterval)
	s.sim.onClaim = func() {
		if s.waiting.Add(-1) < 0 {
			s.waiting.Store(0)
		}
	}
	return s, nil
}

// Handler returns the HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(*s.logger), middleware.CORS(s.corsOrigins))

	r.Get("/v1/healthz", s.health)
	r.Get("/files/{file}", s.file)
	r.With(middleware.Auth(s.auth)).Get("/socket", s.hub.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(s.auth))
		r.With(middleware.RateLimit(s.rateLimit, time.Minute)).Post("/svg/generate-svg", s.generate)
		r.Get("/svg/generation-jobs/{jobID}", s.getJob)
		r.Get("/svg/{generationID}/download", s.download)
	})
	return r
}

// RunSimulator processes queued jobs until ctx is done.
func (s *Server) RunSimulator(ctx context.Context) error {
	return s.sim.Run(ctx)
}

// Hub exposes the push hub, mainly for tests and shutdown.
func (s *Server) Hub() *Hub { return s.hub }

// Close disconnects all sockets.
func (s *Server) Close() { s.hub.Close() }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserIDFromContext(r.Context())
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		s.error(w, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "x-idempotency-key header is required")
		return
	}
	var in jsoncfg.GenerateInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		s.error(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload")
		return
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		s.error(w, http.StatusBadRequest, "INVALID_PROMPT", err.Error())
		return
	}

	jobID := uuid.NewString()
	existing, fresh := s.idem.reserve(owner, key, jobID)
	if !fresh {
		s.replay(w, r, owner, existing)
		return
	}

	credits, err := s.credits.spend(owner)
	if err != nil {
		s.idem.release(owner, key, jobID)
		s.error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "no generation credits left")
		return
	}
	job := &domain.Job{
		ID:        jobID,
		OwnerID:   owner,
		Status:    domain.JobStatusQueued,
		Prompt:    in.Prompt,
		Style:     in.Style,
		Model:     in.Model,
		Privacy:   in.Privacy,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(r.Context(), job); err != nil {
		s.idem.release(owner, key, jobID)
		s.credits.refund(owner)
		s.log(r).Error().Err(err).Str("job_id", jobID).Msg("devserver: create job failed")
		s.error(w, http.StatusInternalServerError, "INTERNAL", "failed to queue job")
		return
	}
	waiting := int(s.waiting.Add(1))
	s.hub.Publish(owner, progress.UpdateEvent, progress.Event{JobID: job.ID, Status: job.Status})
	s.log(r).Info().Str("job_id", job.ID).Str("user_id", owner).Str("style", job.Style).Msg("devserver: job queued")

	s.json(w, http.StatusAccepted, domain.SubmitResult{
		Job:     *job,
		Queue:   &domain.QueueStats{Position: waiting, Waiting: waiting, Running: s.sim.running()},
		Credits: &credits,
	})
}

// replay answers a repeated idempotency key with the job it first created.
func (s *Server) replay(w http.ResponseWriter, r *http.Request, owner, jobID string) {
	job, err := s.repo.GetByID(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		s.error(w, http.StatusConflict, "REQUEST_IN_PROGRESS", "an identical request is still being accepted")
		return
	}
	if err != nil {
		s.log(r).Error().Err(err).Str("job_id", jobID).Msg("devserver: load duplicate job failed")
		s.error(w, http.StatusInternalServerError, "INTERNAL", "failed to load job")
		return
	}
	credits := s.credits.balance(owner)
	s.log(r).Info().Str("job_id", jobID).Msg("devserver: duplicate submission")
	s.json(w, http.StatusOK, domain.SubmitResult{Job: *job, Duplicate: true, Credits: &credits})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserIDFromContext(r.Context())
	jobID := chi.URLParam(r, "jobID")
	if _, err := uuid.Parse(jobID); err != nil {
		s.error(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	job, err := s.repo.GetByID(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && job.OwnerID != owner) {
		s.error(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	if err != nil {
		s.log(r).Error().Err(err).Str("job_id", jobID).Msg("devserver: load job failed")
		s.error(w, http.StatusInternalServerError, "INTERNAL", "failed to load job")
		return
	}
	s.json(w, http.StatusOK, domain.SubmitResult{Job: *job})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserIDFromContext(r.Context())
	genID := chi.URLParam(r, "generationID")
	gen, ok := s.visibleGeneration(w, r, genID, owner)
	if !ok {
		return
	}
	expires := strconv.FormatInt(s.now().Add(downloadLinkTTL).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", middleware.Sign(s.signingKey, gen.ID+"."+expires))
	link := fmt.Sprintf("%s/files/%s.svg?%s", requestBaseURL(r), gen.ID, q.Encode())
	s.json(w, http.StatusOK, map[string]string{"downloadUrl": link})
}

// file serves a signed download link. It needs no bearer token.
func (s *Server) file(w http.ResponseWriter, r *http.Request) {
	genID := strings.TrimSuffix(chi.URLParam(r, "file"), ".svg")
	expires := r.URL.Query().Get("expires")
	sig := r.URL.Query().Get("sig")
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().Unix() > exp {
		s.error(w, http.StatusForbidden, "LINK_EXPIRED", "download link expired")
		return
	}
	expected := middleware.Sign(s.signingKey, genID+"."+expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		s.error(w, http.StatusForbidden, "BAD_SIGNATURE", "invalid download link")
		return
	}
	gen, err := s.repo.GetGeneration(r.Context(), genID)
	if err != nil {
		s.error(w, http.StatusNotFound, "NOT_FOUND", "generation not found")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.svg"`, gen.ID))
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write([]byte(gen.SVG))
}

// visibleGeneration loads a generation the caller may see: their own or a
// public one. It writes the error response itself.
func (s *Server) visibleGeneration(w http.ResponseWriter, r *http.Request, genID, owner string) (*domain.Generation, bool) {
	if _, err := uuid.Parse(genID); err != nil {
		s.error(w, http.StatusNotFound, "NOT_FOUND", "generation not found")
		return nil, false
	}
	gen, err := s.repo.GetGeneration(r.Context(), genID)
	if errors.Is(err, domain.ErrNotFound) ||
		(err == nil && gen.OwnerID != owner && gen.Privacy == domain.PrivacyPrivate) {
		s.error(w, http.StatusNotFound, "NOT_FOUND", "generation not found")
		return nil, false
	}
	if err != nil {
		s.log(r).Error().Err(err).Str("generation_id", genID).Msg("devserver: load generation failed")
		s.error(w, http.StatusInternalServerError, "INTERNAL", "failed to load generation")
		return nil, false
	}
	return gen, true
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) error(w http.ResponseWriter, code int, errCode, msg string) {
	s.json(w, code, map[string]string{"message": msg, "code": errCode})
}

// log returns the request-scoped logger.
func (s *Server) log(r *http.Request) *infra.Logger {
	l := middleware.LoggerFrom(r.Context(), *s.logger)
	return &l
}
