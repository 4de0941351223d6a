package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidPrompt      = errors.New("invalid prompt")
	ErrDuplicateOperation = errors.New("duplicate operation")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrTrackTimeout       = errors.New("generation timed out")
	ErrInvalidEvent       = errors.New("invalid push event")
)

// APIError is a non-2xx response from the generation backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// RateLimitError is returned for HTTP 429. RetryAfter is zero when the server
// did not say.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "too many requests"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s, retry after %s", msg, e.RetryAfter.Round(time.Second))
	}
	return msg
}
