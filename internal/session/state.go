package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"svgstudio/internal/domain/jsoncfg"
)

// SaveActiveJob remembers the job in flight for ActiveJobTTL.
func (s *Store) SaveActiveJob(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return s.ClearActiveJob(ctx)
	}
	return s.Set(ctx, ActiveJobKey, jobID, ActiveJobTTL)
}

// ActiveJob returns the remembered job id, "" when none is live.
func (s *Store) ActiveJob(ctx context.Context) (string, error) {
	id, _, err := s.Get(ctx, ActiveJobKey)
	return id, err
}

func (s *Store) ClearActiveJob(ctx context.Context) error {
	return s.Delete(ctx, ActiveJobKey)
}

// SaveDraft remembers the last submitted input for DraftTTL.
func (s *Store) SaveDraft(ctx context.Context, draft jsoncfg.GenerateInput) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("session: encode draft: %w", err)
	}
	return s.Set(ctx, DraftKey, string(raw), DraftTTL)
}

// Draft returns the remembered input. ok is false when nothing usable is stored.
func (s *Store) Draft(ctx context.Context) (jsoncfg.GenerateInput, bool, error) {
	raw, ok, err := s.Get(ctx, DraftKey)
	if err != nil || !ok {
		return jsoncfg.GenerateInput{}, false, err
	}
	var draft jsoncfg.GenerateInput
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		// unreadable drafts are dropped rather than surfaced
		_ = s.Delete(ctx, DraftKey)
		return jsoncfg.GenerateInput{}, false, nil
	}
	return draft, true, nil
}

func (s *Store) ClearDraft(ctx context.Context) error {
	return s.Delete(ctx, DraftKey)
}
