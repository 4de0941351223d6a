package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"svgstudio/internal/attempt"
	"svgstudio/internal/domain"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

const barWidth = 32

// renderer prints one line per visible progress change.
type renderer struct {
	out io.Writer
	bar progressbar.Model

	mu   sync.Mutex
	last string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out: out,
		bar: progressbar.New(progressbar.WithDefaultGradient(), progressbar.WithWidth(barWidth)),
	}
}

// update is the coordinator's change hook.
func (r *renderer) update(v attempt.View) {
	if !v.Open {
		return
	}
	line := r.line(v)
	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.last {
		return
	}
	r.last = line
	fmt.Fprintln(r.out, line)
}

func (r *renderer) line(v attempt.View) string {
	snap := v.Progress
	parts := []string{
		r.bar.ViewAs(float64(snap.Percent) / 100),
		labelStyle.Render(snap.Label),
		subtleStyle.Render(snap.Subtext),
	}
	if v.Queue != nil && snap.Status == domain.JobStatusQueued && v.Queue.Position > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("(queue position %d)", v.Queue.Position)))
	}
	return strings.Join(parts, " ")
}

// describeJob renders the summary printed by status and after generation.
func describeJob(job domain.Job) string {
	var b strings.Builder
	status := string(job.Status)
	switch job.Status {
	case domain.JobStatusSucceeded:
		status = successStyle.Render(status)
	case domain.JobStatusFailed:
		status = errorStyle.Render(status)
	default:
		status = labelStyle.Render(status)
	}
	fmt.Fprintf(&b, "job        %s\n", job.ID)
	fmt.Fprintf(&b, "status     %s\n", status)
	if job.Prompt != "" {
		fmt.Fprintf(&b, "prompt     %s\n", job.Prompt)
	}
	if job.Style != "" {
		fmt.Fprintf(&b, "style      %s\n", job.Style)
	}
	if job.Generation != nil {
		fmt.Fprintf(&b, "generation %s\n", job.Generation.ID)
	}
	if job.ErrorCode != "" || job.ErrorMessage != "" {
		fmt.Fprintf(&b, "error      %s %s\n", job.ErrorCode, subtleStyle.Render(job.ErrorMessage))
	}
	return b.String()
}
