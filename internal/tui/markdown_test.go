package tui

import (
	"strings"
	"testing"
)

func newTestRenderer(t *testing.T) *MarkdownRenderer {
	t.Helper()
	t.Setenv("FORGE_NO_COLOR", "1")
	return NewMarkdownRenderer(NewTheme())
}

func TestMarkdownRenderBasics(t *testing.T) {
	r := newTestRenderer(t)

	out := r.Render("# Title\n\nSome **bold** text with `inline` code.", 80)
	for _, want := range []string{"Title", "bold", "inline"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	for _, leak := range []string{"<h1", "<p>", "<strong>", "<code>"} {
		if strings.Contains(out, leak) {
			t.Fatalf("raw HTML leaked %q:\n%s", leak, out)
		}
	}
}

func TestMarkdownRenderLists(t *testing.T) {
	r := newTestRenderer(t)

	out := r.Render("- alpha\n- beta", 80)
	if !strings.Contains(out, "• alpha") || !strings.Contains(out, "• beta") {
		t.Fatalf("bullet list not rendered:\n%s", out)
	}

	out = r.Render("1. one\n2. two", 80)
	if !strings.Contains(out, "1. one") || !strings.Contains(out, "2. two") {
		t.Fatalf("ordered list not rendered:\n%s", out)
	}
}

func TestMarkdownRenderCodeBlock(t *testing.T) {
	r := newTestRenderer(t)

	out := r.Render("Before\n\n```go\nfmt.Println(42)\n```\n\nAfter", 80)
	if !strings.Contains(out, "Println") {
		t.Fatalf("code block content missing:\n%s", out)
	}
	if strings.Contains(out, "{{FORGE_CODE") {
		t.Fatalf("placeholder leaked:\n%s", out)
	}
	if strings.Contains(out, "<pre>") || strings.Contains(out, "</code>") {
		t.Fatalf("raw HTML leaked:\n%s", out)
	}
	if !strings.Contains(out, "Before") || !strings.Contains(out, "After") {
		t.Fatalf("surrounding prose lost:\n%s", out)
	}
}

func TestMarkdownRenderLink(t *testing.T) {
	r := newTestRenderer(t)

	out := r.Render("See [the docs](https://example.dev) for more.", 80)
	if !strings.Contains(out, "the docs (https://example.dev)") {
		t.Fatalf("link not rendered with target:\n%s", out)
	}
}

func TestMarkdownRenderEntities(t *testing.T) {
	r := newTestRenderer(t)

	out := r.Render("compare a < b && c > d", 80)
	if !strings.Contains(out, "a < b && c > d") {
		t.Fatalf("entities not decoded:\n%s", out)
	}
}

func TestMarkdownRenderBlockquote(t *testing.T) {
	r := newTestRenderer(t)

	out := r.Render("> quoted wisdom", 80)
	if !strings.Contains(out, "quoted wisdom") {
		t.Fatalf("blockquote content missing:\n%s", out)
	}
	if strings.Contains(out, "<blockquote>") {
		t.Fatalf("raw HTML leaked:\n%s", out)
	}
}
