package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoDatabase is returned by NewDBPool when DATABASE_URL is unset. svgdev
// treats it as "use the in-memory job store".
var ErrNoDatabase = errors.New("infra: DATABASE_URL is empty")

const dbConnectTimeout = 5 * time.Second

// NewDBPool opens the svgdev job database and pings it once.
func NewDBPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, errors.New("infra: config is required")
	}
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, ErrNoDatabase
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("infra: parse DATABASE_URL: %w", err)
	}
	// The dev backend has one simulator and a handful of handlers.
	poolCfg.MaxConns = int32(max(cfg.DBMaxConns, 2))
	poolCfg.MinConns = 0
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "svgdev"

	ctx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("infra: open job database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("infra: ping job database: %w", err)
	}
	return pool, nil
}
