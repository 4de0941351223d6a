package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor is what the job repository runs its statements through. It is
// satisfied by *pgxpool.Pool, *pgx.Conn, pgx.Tx and SQLRunner itself.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// DefaultSlowQuery is the duration above which a statement is logged at warn.
const DefaultSlowQuery = 250 * time.Millisecond

var markerRegexp = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

var (
	ErrEmptyQuery    = errors.New("infra: empty query")
	ErrMissingMarker = errors.New("infra: sql marker missing or invalid")
)

// SQLRunner strips the "--sql <uuid>" marker off every statement before
// handing it to the underlying querier, and logs the call under that marker.
type SQLRunner struct {
	db     SQLExecutor
	logger zerolog.Logger
	slow   time.Duration
	now    func() time.Time
}

// NewSQLRunner wraps db, usually a *pgxpool.Pool.
func NewSQLRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{
		db:     db,
		logger: logger.With().Str("component", "sql").Logger(),
		slow:   DefaultSlowQuery,
		now:    time.Now,
	}
}

// WithSlowThreshold returns a copy of r that warns on statements slower than d.
func (r *SQLRunner) WithSlowThreshold(d time.Duration) *SQLRunner {
	cp := *r
	cp.slow = d
	return &cp
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := r.now()
	tag, err := r.db.Exec(ctx, body, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("marker", marker).Msg("sql exec failed")
		return tag, err
	}
	r.event(marker, start).Int64("rows", tag.RowsAffected()).Msg("sql exec")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return &timedRow{
		row:    r.db.QueryRow(ctx, body, args...),
		runner: r,
		marker: marker,
		start:  r.now(),
	}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	start := r.now()
	rows, err := r.db.Query(ctx, body, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("marker", marker).Msg("sql query failed")
		return nil, err
	}
	return &timedRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// event picks the level from the elapsed time since start.
func (r *SQLRunner) event(marker string, start time.Time) *zerolog.Event {
	elapsed := r.now().Sub(start)
	ev := r.logger.Debug()
	if r.slow > 0 && elapsed >= r.slow {
		ev = r.logger.Warn().Bool("slow", true)
	}
	return ev.Str("marker", marker).Dur("elapsed", elapsed)
}

type timedRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (t *timedRow) Scan(dest ...any) error {
	err := t.row.Scan(dest...)
	switch {
	case err == nil:
		t.runner.event(t.marker, t.start).Msg("sql query_row")
	case IsNoRows(err):
		t.runner.event(t.marker, t.start).Bool("empty", true).Msg("sql query_row")
	default:
		t.runner.logger.Error().Err(err).Str("marker", t.marker).Msg("sql scan failed")
	}
	return err
}

type timedRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
	closed bool
}

func (t *timedRows) Close() {
	t.Rows.Close()
	if t.closed {
		return
	}
	t.closed = true
	if err := t.Rows.Err(); err != nil {
		t.runner.logger.Error().Err(err).Str("marker", t.marker).Msg("sql rows failed")
		return
	}
	t.runner.event(t.marker, t.start).Msg("sql query")
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

// extractMarker splits a tagged statement into its marker uuid and the SQL
// that follows it.
func extractMarker(query string) (marker, body string, err error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", ErrEmptyQuery
	}
	first, rest, _ := strings.Cut(trimmed, "\n")
	m := markerRegexp.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", "", ErrMissingMarker
	}
	body = strings.TrimSpace(rest)
	if body == "" {
		return "", "", ErrEmptyQuery
	}
	return m[1], body, nil
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ SQLExecutor = (*SQLRunner)(nil)
