// Package cli is the svgctl command line: it submits prompts, follows jobs
// with a progress bar and stores the resulting artwork.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"svgstudio/internal/attempt"
	"svgstudio/internal/infra"
	"svgstudio/internal/progress"
	"svgstudio/internal/realtime"
	"svgstudio/internal/session"
	"svgstudio/internal/storage"
	"svgstudio/internal/svgapi"
)

// app holds the collaborators shared by every command. They are built once in
// setup from the resolved configuration.
type app struct {
	configPath  string
	sessionPath string

	cfg      *infra.Config
	logger   infra.Logger
	client   *svgapi.Client
	socket   *realtime.Manager
	bridge   *progress.Bridge
	sessions *session.Store
}

func (a *app) setup(cmd *cobra.Command) error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := infra.LoadConfigFile(a.configPath)
	if err != nil {
		return err
	}
	if p := strings.TrimSpace(a.sessionPath); p != "" {
		cfg.SessionDBPath = p
	}
	logger := infra.NewLoggerTo(cmd.ErrOrStderr(), cfg.AppEnv)

	client, err := svgapi.NewClient(svgapi.Options{
		BaseURL:        cfg.APIBaseURL,
		Token:          cfg.APIToken,
		Logger:         &logger,
		RequestTimeout: cfg.HTTPTimeout,
		UserAgent:      "svgctl",
	})
	if err != nil {
		return err
	}
	socket, err := realtime.NewManager(realtime.Options{
		URL:              cfg.SocketURL,
		Token:            cfg.APIToken,
		HandshakeTimeout: cfg.ConnectTimeout,
		Logger:           &logger,
	})
	if err != nil {
		return err
	}
	bridge, err := progress.NewBridge(progress.Options{
		Source:         socket,
		Connector:      socket,
		Jobs:           client,
		Logger:         &logger,
		Timeout:        cfg.TrackTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		FallbackAfter:  cfg.FallbackAfter,
		PollInterval:   cfg.PollInterval,
		PollDeadline:   cfg.PollDeadline,
	})
	if err != nil {
		return err
	}
	sessions, err := session.Open(cfg.SessionDBPath)
	if err != nil {
		return err
	}
	if n, err := sessions.Purge(cmd.Context()); err != nil {
		logger.Warn().Err(err).Msg("svgctl: purge session failed")
	} else if n > 0 {
		logger.Debug().Int64("entries", n).Msg("svgctl: purged expired session entries")
	}

	a.cfg, a.logger, a.client, a.socket, a.bridge, a.sessions = cfg, logger, client, socket, bridge, sessions
	return nil
}

func (a *app) close() {
	if a.socket != nil {
		a.socket.Disconnect()
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("svgctl: close session store")
		}
	}
}

func (a *app) coordinator(onChange func(attempt.View)) (*attempt.Coordinator, error) {
	return attempt.NewCoordinator(attempt.Options{
		Submitter: a.client,
		Tracker:   a.bridge,
		Sessions:  a.sessions,
		Logger:    &a.logger,
		OnChange:  onChange,
	})
}

// warmSocket opens the push channel before submitting so early updates are
// not missed. Failure is not fatal; tracking falls back to polling.
func (a *app) warmSocket(ctx context.Context) {
	if err := a.socket.AwaitConnected(ctx, a.cfg.ConnectTimeout); err != nil {
		a.logger.Warn().Err(err).Msg("svgctl: push channel unavailable")
	}
}

func (a *app) store(dir string) (*storage.FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = a.cfg.OutputDir
	}
	fs, err := storage.NewFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}
	return fs, nil
}
