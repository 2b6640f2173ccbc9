package tui

import (
	"strings"
	"testing"
)

func newTestDiffRenderer(t *testing.T) *DiffRenderer {
	t.Helper()
	t.Setenv("FORGE_NO_COLOR", "1")
	return NewDiffRenderer(NewTheme())
}

func TestDiffRenderKeepsPrefixes(t *testing.T) {
	d := newTestDiffRenderer(t)

	out := d.Render("+added line\n-removed line\n unchanged line", 80)
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), out)
	}
	for _, want := range []string{"+added line", "-removed line", " unchanged line"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDiffRenderTruncatesLongDiffs(t *testing.T) {
	d := newTestDiffRenderer(t)

	var b strings.Builder
	for i := 0; i < maxDiffLines+10; i++ {
		b.WriteString("+line\n")
	}
	out := d.Render(b.String(), 80)
	lines := strings.Split(out, "\n")
	if len(lines) != maxDiffLines+1 {
		t.Fatalf("expected %d lines, got %d", maxDiffLines+1, len(lines))
	}
	if !strings.Contains(lines[len(lines)-1], "diff truncated") {
		t.Fatalf("missing truncation marker: %q", lines[len(lines)-1])
	}
}

func TestDiffRenderTruncatesWideLines(t *testing.T) {
	d := newTestDiffRenderer(t)

	wide := "+" + strings.Repeat("x", 200)
	out := d.Render(wide, 40)
	if strings.Contains(out, strings.Repeat("x", 100)) {
		t.Fatalf("wide line not truncated:\n%s", out)
	}
	if !strings.Contains(out, "…") {
		t.Fatalf("missing line truncation tail:\n%s", out)
	}
}

func TestDiffRenderEmpty(t *testing.T) {
	d := newTestDiffRenderer(t)
	if out := d.Render("", 80); out != "" {
		t.Fatalf("empty diff should render empty, got %q", out)
	}
}

func TestDiffStats(t *testing.T) {
	d := newTestDiffRenderer(t)

	added, removed := d.Stats("+a\n+b\n-c\n d\n e")
	if added != 2 || removed != 1 {
		t.Fatalf("got %d added %d removed, want 2 and 1", added, removed)
	}
}

func TestThemeSelection(t *testing.T) {
	t.Setenv("FORGE_NO_COLOR", "")

	t.Setenv("FORGE_THEME", "midnight")
	if th := NewTheme(); th.Name != ThemeMidnight {
		t.Fatalf("FORGE_THEME=midnight picked %q", th.Name)
	}

	t.Setenv("FORGE_THEME", "")
	if th := NewTheme(); th.Name != ThemePorcelain {
		t.Fatalf("default theme should be porcelain, got %q", th.Name)
	}

	t.Setenv("FORGE_NO_COLOR", "1")
	if th := NewTheme(); th.Name == ThemePorcelain || th.Name == ThemeMidnight {
		t.Fatalf("FORGE_NO_COLOR should pick the mono theme, got %q", th.Name)
	}
}
