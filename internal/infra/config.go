package infra

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents application configuration loaded from environment variables
// with an optional YAML file underneath.
type Config struct {
	AppEnv string

	APIBaseURL     string
	SocketURL      string
	APIToken       string
	SessionDBPath  string
	OutputDir      string
	HTTPTimeout    time.Duration
	ConnectTimeout time.Duration
	TrackTimeout   time.Duration
	FallbackAfter  time.Duration
	PollInterval   time.Duration
	PollDeadline   time.Duration

	Port             string
	DatabaseURL      string
	DBMaxConns       int
	DBSlowQuery      time.Duration
	DevAPIToken      string
	DevJWTSecret     string
	DevStepInterval  time.Duration
	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	return load(envSource{})
}

// LoadConfigFile loads configuration like LoadConfig, using the YAML file at path
// for keys the environment leaves unset. File keys are the environment names in
// lower case without the SVG_ prefix, e.g. api_base_url or poll_interval.
func LoadConfigFile(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return LoadConfig()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	file := make(map[string]string, len(values))
	for k, v := range values {
		file[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(fmt.Sprint(v))
	}
	return load(envSource{file: file})
}

func load(src envSource) (*Config, error) {
	cfg := &Config{
		AppEnv:         src.get("APP_ENV", "development"),
		APIBaseURL:     strings.TrimRight(src.get("SVG_API_BASE_URL", "http://localhost:8080/api"), "/"),
		SocketURL:      src.get("SVG_SOCKET_URL", ""),
		APIToken:       src.get("SVG_API_TOKEN", ""),
		SessionDBPath:  src.get("SVG_SESSION_DB", defaultSessionPath()),
		OutputDir:      src.get("SVG_OUTPUT_DIR", "."),
		HTTPTimeout:    src.duration("SVG_HTTP_TIMEOUT", 30*time.Second),
		ConnectTimeout: src.duration("SVG_CONNECT_TIMEOUT", 8*time.Second),
		TrackTimeout:   src.duration("SVG_TRACK_TIMEOUT", 120*time.Second),
		FallbackAfter:  src.duration("SVG_FALLBACK_AFTER", 120*time.Second),
		PollInterval:   src.duration("SVG_POLL_INTERVAL", 5*time.Second),
		PollDeadline:   src.duration("SVG_POLL_DEADLINE", 120*time.Second),

		Port:             src.get("PORT", "8080"),
		DatabaseURL:      src.get("DATABASE_URL", ""),
		DBMaxConns:       src.integer("DB_MAX_CONNS", 4),
		DBSlowQuery:      src.duration("DB_SLOW_QUERY", DefaultSlowQuery),
		DevAPIToken:      src.get("DEV_API_TOKEN", "dev-token"),
		DevJWTSecret:     src.get("DEV_JWT_SECRET", ""),
		DevStepInterval:  src.duration("DEV_STEP_INTERVAL", 2*time.Second),
		CORSOrigins:      src.list("CORS_ALLOWED_ORIGINS"),
		HTTPReadTimeout:  time.Second * time.Duration(src.integer("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(src.integer("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(src.integer("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  src.integer("RATE_LIMIT_PER_MINUTE", 30),
	}

	base, err := url.Parse(cfg.APIBaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("SVG_API_BASE_URL must be an absolute url, got %q", cfg.APIBaseURL)
	}
	if cfg.SocketURL == "" {
		cfg.SocketURL = deriveSocketURL(base)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("SVG_POLL_INTERVAL must be positive")
	}
	return cfg, nil
}

// deriveSocketURL maps http(s)://host/api to ws(s)://host/socket.
func deriveSocketURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/socket"
	u.RawQuery = ""
	return u.String()
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "svgstudio", "session.db")
	}
	return filepath.Join(home, ".svgstudio", "session.db")
}

type envSource struct {
	file map[string]string
}

func (s envSource) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	fileKey := strings.ToLower(strings.TrimPrefix(key, "SVG_"))
	if v, ok := s.file[fileKey]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (s envSource) get(key, fallback string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return fallback
}

func (s envSource) integer(key string, fallback int) int {
	if v, ok := s.lookup(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// list splits a comma-separated value, dropping blanks.
func (s envSource) list(key string) []string {
	v, ok := s.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// duration accepts Go duration strings ("90s") or plain seconds ("90").
func (s envSource) duration(key string, fallback time.Duration) time.Duration {
	v, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}
