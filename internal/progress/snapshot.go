// Package progress turns push updates and status polls for one generation job
// into progress snapshots and a single terminal resolution.
package progress

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"svgstudio/internal/domain"
)

// Snapshot is the derived progress state shown to the user.
type Snapshot struct {
	Status  domain.JobStatus `json:"status"`
	Percent int              `json:"percent"`
	Label   string           `json:"label"`
	Subtext string           `json:"subtext"`
}

var baselines = map[domain.JobStatus]int{
	domain.JobStatusQueued:    18,
	domain.JobStatusRunning:   62,
	domain.JobStatusSucceeded: 100,
	domain.JobStatusFailed:    100,
}

var subtexts = map[domain.JobStatus]string{
	domain.JobStatusQueued:    "Waiting for a free generator",
	domain.JobStatusRunning:   "Drawing your vector paths",
	domain.JobStatusSucceeded: "Your SVG is ready",
	domain.JobStatusFailed:    "The generation could not be completed",
}

var titleCaser = cases.Title(language.English)

// Initial is shown between starting an attempt and the first server response.
func Initial() Snapshot {
	return Snapshot{Percent: 4, Label: "Submitting", Subtext: "Sending your prompt"}
}

// Compute derives the snapshot for status. An explicit progress value is
// clamped to [0,100] and rounded; it replaces the baseline except for
// terminal statuses, which always report 100.
func Compute(status domain.JobStatus, progress *float64) Snapshot {
	percent := baselines[status]
	if progress != nil && !status.IsTerminal() && !math.IsNaN(*progress) {
		percent = int(math.Round(math.Max(0, math.Min(100, *progress))))
	}
	label := "Working"
	if status != "" {
		label = titleCaser.String(strings.ToLower(string(status)))
	}
	subtext, ok := subtexts[status]
	if !ok {
		subtext = "Generating"
	}
	return Snapshot{Status: status, Percent: percent, Label: label, Subtext: subtext}
}
