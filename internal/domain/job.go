package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
)

// ParseJobStatus normalizes a wire status into a JobStatus.
func ParseJobStatus(raw string) (JobStatus, error) {
	status := JobStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown job status %q", raw)
	}
}

// UnmarshalJSON accepts any letter case on the wire.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("job status: %w", err)
	}
	*s = JobStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return nil
}

// IsTerminal reports whether no further transitions can follow.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Rank orders statuses along the forward-only lifecycle.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusQueued:
		return 1
	case JobStatusRunning:
		return 2
	case JobStatusSucceeded, JobStatusFailed:
		return 3
	default:
		return 0
	}
}

// Privacy controls gallery visibility of a generation.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
)

// ParsePrivacy defaults to public when raw is empty.
func ParsePrivacy(raw string) (Privacy, error) {
	switch Privacy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PrivacyPublic:
		return PrivacyPublic, nil
	case PrivacyPrivate:
		return PrivacyPrivate, nil
	default:
		return "", fmt.Errorf("unknown privacy %q", raw)
	}
}

// Generation is the artifact produced by a succeeded job.
type Generation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	SVG       string    `json:"svg,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Style     string    `json:"style,omitempty"`
	Model     string    `json:"model,omitempty"`
	Privacy   Privacy   `json:"privacy,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Job mirrors one server-side generation request.
type Job struct {
	ID           string      `json:"id"`
	OwnerID      string      `json:"-"`
	Status       JobStatus   `json:"status"`
	Prompt       string      `json:"prompt"`
	Style        string      `json:"style"`
	Model        string      `json:"model"`
	Privacy      Privacy     `json:"privacy"`
	Generation   *Generation `json:"generation,omitempty"`
	ErrorCode    string      `json:"errorCode,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt,omitempty"`
	UpdatedAt    time.Time   `json:"updatedAt,omitempty"`
}

// Clone returns a copy that shares no pointers with j.
func (j Job) Clone() Job {
	if j.Generation != nil {
		g := *j.Generation
		j.Generation = &g
	}
	return j
}

// QueueStats reports the backend queue at submission time.
type QueueStats struct {
	Position int `json:"position"`
	Waiting  int `json:"waiting"`
	Running  int `json:"running"`
}

// Credits reports the account balance after a submission.
type Credits struct {
	Remaining int `json:"remaining"`
	Spent     int `json:"spent"`
}

// SubmitResult is the job wrapper returned by the submission and status endpoints.
type SubmitResult struct {
	Job       Job         `json:"job"`
	Duplicate bool        `json:"duplicate,omitempty"`
	Queue     *QueueStats `json:"queue,omitempty"`
	Credits   *Credits    `json:"credits,omitempty"`
}
