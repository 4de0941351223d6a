package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"svgstudio/internal/adapter/repo"
	"svgstudio/internal/devserver"
	"svgstudio/internal/domain"
	"svgstudio/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var jobs domain.JobRepository
	pool, err := infra.NewDBPool(ctx, cfg)
	switch {
	case errors.Is(err, infra.ErrNoDatabase):
		jobs = repo.NewJobRepositoryMemory()
		logger.Info().Msg("svgdev: using in-memory job repository")
	case err != nil:
		logger.Fatal().Err(err).Msg("svgdev: db connection failed")
	default:
		defer pool.Close()
		runner := infra.NewSQLRunner(pool, logger).WithSlowThreshold(cfg.DBSlowQuery)
		pg := repo.NewJobRepository(runner)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("svgdev: ensure schema failed")
		}
		jobs = pg
		logger.Info().Msg("svgdev: using postgres job repository")
	}

	srv, err := devserver.New(devserver.Options{
		Repo:            jobs,
		Logger:          &logger,
		Token:           cfg.DevAPIToken,
		JWTSecret:       cfg.DevJWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		StepInterval:    cfg.DevStepInterval,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("svgdev: invalid configuration")
	}
	defer srv.Close()

	go func() {
		if err := srv.RunSimulator(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("svgdev: simulator stopped")
		}
	}()

	server := infra.NewHTTPServer(cfg, srv.Handler())
	ln, err := net.Listen("tcp", server.Addr())
	if err != nil {
		logger.Fatal().Err(err).Str("addr", server.Addr()).Msg("svgdev: listen failed")
	}
	logger.Info().Msgf("svgdev listening on %s", ln.Addr())

	if err := server.Run(ctx, ln); err != nil {
		logger.Error().Err(err).Msg("svgdev: http server failed")
	}
	logger.Info().Msg("svgdev: stopped")
}
