package progress

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"svgstudio/internal/domain"
)

// UpdateEvent is the push event name carrying job updates.
const UpdateEvent = "generation-job:update"

const updateSchema = `{
  "type": "object",
  "required": ["jobId", "status"],
  "properties": {
    "jobId": {"type": "string", "minLength": 1},
    "status": {"type": "string", "pattern": "^(?i)(queued|running|succeeded|failed)$"},
    "progress": {"type": ["number", "null"]},
    "generationId": {"type": ["string", "null"]},
    "errorCode": {"type": ["string", "null"]},
    "errorMessage": {"type": ["string", "null"]}
  }
}`

var compiledUpdateSchema = jsonschema.MustCompileString("generation-job-update.json", updateSchema)

// Event is one validated generation-job:update payload.
type Event struct {
	JobID        string           `json:"jobId"`
	Status       domain.JobStatus `json:"status"`
	Progress     *float64         `json:"progress,omitempty"`
	GenerationID string           `json:"generationId,omitempty"`
	ErrorCode    string           `json:"errorCode,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

// ParseEvent validates raw against the update schema. Payloads that do not
// match are rejected with domain.ErrInvalidEvent.
func ParseEvent(raw json.RawMessage) (Event, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	if err := compiledUpdateSchema.Validate(generic); err != nil {
		return Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	return ev, nil
}

// Merge applies ev on top of job. Fields absent from ev keep their value and
// the status never moves backwards.
func Merge(job domain.Job, ev Event) domain.Job {
	next := job.Clone()
	if ev.Status.Rank() >= next.Status.Rank() {
		next.Status = ev.Status
	}
	if ev.GenerationID != "" {
		if next.Generation == nil {
			next.Generation = &domain.Generation{}
		}
		next.Generation.ID = ev.GenerationID
	}
	if ev.ErrorCode != "" {
		next.ErrorCode = ev.ErrorCode
	}
	if ev.ErrorMessage != "" {
		next.ErrorMessage = ev.ErrorMessage
	}
	return next
}
