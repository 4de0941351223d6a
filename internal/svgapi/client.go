// Package svgapi is the HTTP client for the SVG generation backend.
package svgapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"svgstudio/internal/domain"
	"svgstudio/internal/domain/jsoncfg"
	"svgstudio/internal/infra"
)

// IdempotencyHeader carries the client-generated deduplication key.
const IdempotencyHeader = "x-idempotency-key"

// maxArtifactBytes caps downloaded artifacts.
const maxArtifactBytes = 20 << 20

// maxResponseBytes caps JSON bodies. Job records may carry inline markup.
const maxResponseBytes = 4 << 20

// Options configures the API client.
type Options struct {
	BaseURL        string
	Token          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	UserAgent      string
}

// Client performs calls against the generation REST API.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest is the user input of one generation.
type SubmitRequest = jsoncfg.GenerateInput

type downloadResponse struct {
	DownloadURL string `json:"downloadUrl"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("svgapi: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("svgapi: invalid base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "svgstudio-client"
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Submit starts a generation. A retried call with the same idempotency key is
// deduplicated by the server and comes back with Duplicate set.
func (c *Client) Submit(ctx context.Context, req SubmitRequest, idempotencyKey string) (*domain.SubmitResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, errors.New("svgapi: idempotency key is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("svgapi: encode request: %w", err)
	}
	header := http.Header{}
	header.Set(IdempotencyHeader, idempotencyKey)

	var out domain.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/svg/generate-svg", header, body, &out); err != nil {
		return nil, err
	}
	if out.Job.ID == "" {
		return nil, errors.New("svgapi: response missing job id")
	}
	c.logger.Debug().
		Str("job_id", out.Job.ID).
		Str("status", string(out.Job.Status)).
		Bool("duplicate", out.Duplicate).
		Msg("svgapi: submitted generation")
	return &out, nil
}

// GetJob fetches the authoritative job record.
func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.SubmitResult, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("svgapi: job id is required")
	}
	var out domain.SubmitResult
	if err := c.do(ctx, http.MethodGet, "/svg/generation-jobs/"+url.PathEscape(jobID), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Job.ID == "" {
		return nil, errors.New("svgapi: response missing job id")
	}
	return &out, nil
}

// DownloadURL resolves a short-lived download link for a generation.
func (c *Client) DownloadURL(ctx context.Context, generationID string) (string, error) {
	generationID = strings.TrimSpace(generationID)
	if generationID == "" {
		return "", errors.New("svgapi: generation id is required")
	}
	var out downloadResponse
	if err := c.do(ctx, http.MethodGet, "/svg/"+url.PathEscape(generationID)+"/download", nil, nil, &out); err != nil {
		return "", err
	}
	link := strings.TrimSpace(out.DownloadURL)
	if link == "" {
		return "", errors.New("svgapi: empty download url")
	}
	return link, nil
}

// FetchArtifact downloads the bytes behind a download URL and returns them with
// the reported content type.
func (c *Client) FetchArtifact(ctx context.Context, downloadURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(downloadURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("svgapi: invalid download url: %s", downloadURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("svgapi: build download request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("svgapi: download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, "", decodeError(resp, raw)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes))
	if err != nil {
		return nil, "", fmt.Errorf("svgapi: read artifact: %w", err)
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = "image/svg+xml"
	}
	return data, format, nil
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("svgapi: build request: %w", err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("svgapi: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return fmt.Errorf("svgapi: read response: %w", err)
	}
	tooLarge := len(raw) > maxResponseBytes
	if tooLarge {
		raw = raw[:maxResponseBytes]
	}
	if resp.StatusCode >= 300 {
		apiErr := decodeError(resp, raw)
		c.logger.Debug().Err(apiErr).Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("svgapi: request failed")
		return apiErr
	}
	if out == nil {
		return nil
	}
	if tooLarge {
		return fmt.Errorf("svgapi: %s %s: response exceeds %d bytes", method, path, maxResponseBytes)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("svgapi: decode response: %w", err)
	}
	return nil
}
