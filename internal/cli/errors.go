package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"svgstudio/internal/domain"
)

// jobFailedError reports a job that ended FAILED.
type jobFailedError struct {
	job domain.Job
}

func (e *jobFailedError) Error() string {
	msg := e.job.ErrorMessage
	if msg == "" {
		msg = "generation failed"
	}
	if e.job.ErrorCode != "" {
		return fmt.Sprintf("%s (%s)", msg, e.job.ErrorCode)
	}
	return msg
}

// describeError turns err into the line shown to the user.
func describeError(err error) string {
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		if rl.RetryAfter > 0 {
			return fmt.Sprintf("rate limited, try again in %s", rl.RetryAfter.Round(time.Second))
		}
		return "rate limited, try again shortly"
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var failed *jobFailedError
	if errors.As(err, &failed) {
		return failed.Error()
	}
	switch {
	case errors.Is(err, domain.ErrTrackTimeout):
		return "the generation is taking longer than expected; run `svgctl resume` to keep following it"
	case errors.Is(err, context.Canceled):
		return "cancelled; run `svgctl resume` to keep following the job"
	}
	return err.Error()
}
