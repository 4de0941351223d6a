package svgapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"svgstudio/internal/domain"
)

func TestSubmitSendsIdempotencyKeyAndBody(t *testing.T) {
	var captured map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/svg/generate-svg" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(IdempotencyHeader); got != "key-1" {
			t.Fatalf("idempotency header = %q, want key-1", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"job":{"id":"job-1","status":"queued","prompt":"a fox"},"queue":{"position":3,"waiting":5,"running":1},"credits":{"remaining":9,"spent":1}}`)
	}))
	defer ts.Close()

	client, err := NewClient(Options{BaseURL: ts.URL + "/api/", Token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	res, err := client.Submit(context.Background(), SubmitRequest{Prompt: " a fox "}, "key-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Job.ID != "job-1" || res.Job.Status != domain.JobStatusQueued {
		t.Fatalf("job = %+v", res.Job)
	}
	if res.Queue == nil || res.Queue.Position != 3 {
		t.Fatalf("queue = %+v", res.Queue)
	}
	if res.Credits == nil || res.Credits.Remaining != 9 {
		t.Fatalf("credits = %+v", res.Credits)
	}
	if res.Duplicate {
		t.Fatalf("duplicate should be false")
	}
	want := map[string]any{"prompt": "a fox", "style": "flat", "privacy": "public", "model": "svg-standard"}
	for k, v := range want {
		if captured[k] != v {
			t.Fatalf("body[%s] = %v, want %v", k, captured[k], v)
		}
	}
}

func TestSubmitDuplicateResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"duplicate":true,"job":{"id":"job-9","status":"SUCCEEDED","generation":{"id":"gen-9","svg":"<svg/>"}}}`)
	}))
	defer ts.Close()

	client, _ := NewClient(Options{BaseURL: ts.URL})
	res, err := client.Submit(context.Background(), SubmitRequest{Prompt: "a fox"}, "K1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Duplicate || res.Job.Generation == nil || res.Job.Generation.ID != "gen-9" {
		t.Fatalf("result = %+v", res)
	}
}

func TestSubmitValidatesBeforeSending(t *testing.T) {
	transport := &captureTransport{}
	client, _ := NewClient(Options{BaseURL: "http://api.test", HTTPClient: &http.Client{Transport: transport}})

	if _, err := client.Submit(context.Background(), SubmitRequest{Prompt: "  "}, "k"); !errors.Is(err, domain.ErrInvalidPrompt) {
		t.Fatalf("Submit error = %v, want ErrInvalidPrompt", err)
	}
	if _, err := client.Submit(context.Background(), SubmitRequest{Prompt: "x"}, ""); err == nil {
		t.Fatalf("expected error for missing idempotency key")
	}
	if transport.calls != 0 {
		t.Fatalf("transport called %d times, want 0", transport.calls)
	}
}

func TestRateLimitErrorCarriesRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		body   string
		want   time.Duration
	}{
		{name: "header seconds", header: "30", body: `{"message":"slow down"}`, want: 30 * time.Second},
		{name: "body retryAfter", body: `{"message":"slow down","retryAfter":12}`, want: 12 * time.Second},
		{name: "body retryAfter as string", body: `{"message":"slow down","retryAfter":"30"}`, want: 30 * time.Second},
		{name: "numeric code keeps message", body: `{"message":"slow down","code":429,"retryAfter":1.5}`, want: 1500 * time.Millisecond},
		{name: "unknown", body: `{}`, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transport := &captureTransport{status: http.StatusTooManyRequests, header: tc.header, body: tc.body}
			client, _ := NewClient(Options{BaseURL: "http://api.test", HTTPClient: &http.Client{Transport: transport}})

			_, err := client.Submit(context.Background(), SubmitRequest{Prompt: "a fox"}, "k")
			var rl *domain.RateLimitError
			if !errors.As(err, &rl) {
				t.Fatalf("error = %v, want RateLimitError", err)
			}
			if rl.RetryAfter != tc.want {
				t.Fatalf("RetryAfter = %s, want %s", rl.RetryAfter, tc.want)
			}
		})
	}
}

func TestErrorMessageNormalization(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantCode string
	}{
		{name: "message field", status: 400, body: `{"message":"Prompt is too short","code":"PROMPT_SHORT"}`, wantMsg: "Prompt is too short", wantCode: "PROMPT_SHORT"},
		{name: "error string", status: 402, body: `{"error":"Not enough credits"}`, wantMsg: "Not enough credits"},
		{name: "nested error", status: 403, body: `{"error":{"message":"Forbidden model","code":"MODEL"}}`, wantMsg: "Forbidden model", wantCode: "MODEL"},
		{name: "errors list", status: 422, body: `{"errors":[{"message":"style is invalid"}]}`, wantMsg: "style is invalid"},
		{name: "numeric code", status: 400, body: `{"message":"x","code":429}`, wantMsg: "x", wantCode: "429"},
		{name: "numeric nested code", status: 409, body: `{"error":{"message":"Duplicate","code":17}}`, wantMsg: "Duplicate", wantCode: "17"},
		{name: "object message skipped", status: 422, body: `{"message":{"en":"bad"},"errors":[{"message":"style is invalid"}]}`, wantMsg: "style is invalid"},
		{name: "status text fallback", status: 502, body: `<html>bad gateway</html>`, wantMsg: "Bad Gateway"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transport := &captureTransport{status: tc.status, body: tc.body}
			client, _ := NewClient(Options{BaseURL: "http://api.test", HTTPClient: &http.Client{Transport: transport}})

			_, err := client.GetJob(context.Background(), "job-1")
			var apiErr *domain.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want APIError", err)
			}
			if apiErr.Message != tc.wantMsg || apiErr.Code != tc.wantCode || apiErr.Status != tc.status {
				t.Fatalf("APIError = %+v, want message %q code %q", apiErr, tc.wantMsg, tc.wantCode)
			}
		})
	}
}

func TestOversizedResponseIsRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"job":{"id":"job-1","status":"RUNNING","prompt":"`)
		_, _ = io.WriteString(w, strings.Repeat("a", maxResponseBytes))
		_, _ = io.WriteString(w, `"}}`)
	}))
	defer ts.Close()

	client, _ := NewClient(Options{BaseURL: ts.URL})
	_, err := client.GetJob(context.Background(), "job-1")
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("err = %v, want size error", err)
	}
}

func TestGetJobAndDownload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/svg/generation-jobs/job-1":
			_, _ = io.WriteString(w, `{"job":{"id":"job-1","status":"FAILED","errorCode":"UNSAFE","errorMessage":"blocked"}}`)
		case "/svg/gen-1/download":
			_, _ = io.WriteString(w, `{"downloadUrl":"`+"http://"+r.Host+`/files/gen-1.svg"}`)
		case "/files/gen-1.svg":
			w.Header().Set("Content-Type", "image/svg+xml")
			_, _ = io.WriteString(w, `<svg xmlns="http://www.w3.org/2000/svg"/>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	client, _ := NewClient(Options{BaseURL: ts.URL})
	res, err := client.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if res.Job.Status != domain.JobStatusFailed || res.Job.ErrorCode != "UNSAFE" {
		t.Fatalf("job = %+v", res.Job)
	}

	link, err := client.DownloadURL(context.Background(), "gen-1")
	if err != nil {
		t.Fatalf("DownloadURL: %v", err)
	}
	data, format, err := client.FetchArtifact(context.Background(), link)
	if err != nil {
		t.Fatalf("FetchArtifact: %v", err)
	}
	if format != "image/svg+xml" || !bytes.HasPrefix(data, []byte("<svg")) {
		t.Fatalf("artifact = %q (%s)", data, format)
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	value := now.Add(90 * time.Second).Format(http.TimeFormat)
	if got := parseRetryAfter(value, now); got != 90*time.Second {
		t.Fatalf("parseRetryAfter = %s, want 90s", got)
	}
	if got := parseRetryAfter("-5", now); got != 0 {
		t.Fatalf("parseRetryAfter negative = %s, want 0", got)
	}
}

type captureTransport struct {
	status int
	header string
	body   string
	calls  int
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls++
	if req.Body != nil {
		_, _ = io.Copy(io.Discard, req.Body)
		req.Body.Close()
	}
	header := http.Header{"Content-Type": []string{"application/json"}}
	if c.header != "" {
		header.Set("Retry-After", c.header)
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(c.body)),
		Request:    req,
	}, nil
}
