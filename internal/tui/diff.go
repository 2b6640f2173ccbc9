package tui

import (
	"strings"

	"github.com/muesli/reflow/truncate"
)

// maxDiffLines bounds how much of a change preview the transcript shows.
// The full diff still reaches the model-facing confirmation flow.
const maxDiffLines = 40

// DiffRenderer colorizes line diffs produced by the tool dispatcher: one
// line per row, prefixed "+", "-", or " ".
type DiffRenderer struct {
	theme Theme
}

func NewDiffRenderer(theme Theme) *DiffRenderer {
	return &DiffRenderer{theme: theme}
}

// Render styles a prefixed line diff for display, truncating long lines to
// width and long diffs to maxDiffLines.
func (d *DiffRenderer) Render(diff string, width int) string {
	diff = strings.TrimRight(diff, "\n")
	if diff == "" {
		return ""
	}

	lines := strings.Split(diff, "\n")
	truncated := false
	if len(lines) > maxDiffLines {
		lines = lines[:maxDiffLines]
		truncated = true
	}

	var b strings.Builder
	for i, line := range lines {
		if width > 4 {
			line = truncate.StringWithTail(line, uint(width), "…")
		}
		switch {
		case strings.HasPrefix(line, "+"):
			b.WriteString(d.theme.DiffAdd.Render(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(d.theme.DiffDel.Render(line))
		default:
			b.WriteString(d.theme.DiffContext.Render(line))
		}
		if i != len(lines)-1 {
			b.WriteString("\n")
		}
	}
	if truncated {
		b.WriteString("\n")
		b.WriteString(d.theme.DiffContext.Render("… diff truncated …"))
	}
	return b.String()
}

// Stats counts added and removed lines, for one-line summaries next to
// tool results.
func (d *DiffRenderer) Stats(diff string) (added, removed int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
