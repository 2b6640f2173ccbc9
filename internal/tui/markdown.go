package tui

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	codeBlockRe  = regexp.MustCompile(`(?s)<pre><code(?: class="language-([a-zA-Z0-9]+)")?>(.*?)</code></pre>`)
	inlineCodeRe = regexp.MustCompile(`<code>([^<]+)</code>`)
	headingRe    = regexp.MustCompile(`<h([1-6]) id="[^"]*">(.*?)</h[1-6]>`)
	strongRe     = regexp.MustCompile(`<strong>(.*?)</strong>`)
	emRe         = regexp.MustCompile(`<em>(.*?)</em>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]*)">(.*?)</a>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	listRe       = regexp.MustCompile(`(?s)<(ul|ol)>(.*?)</(?:ul|ol)>`)
	listItemRe   = regexp.MustCompile(`<li>(.*?)</li>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	multiBlankRe = regexp.MustCompile(`\n{3,}`)
)

// MarkdownRenderer turns assistant markdown into styled terminal text:
// goldmark renders to HTML, the HTML is rewritten tag by tag into lipgloss
// output, and fenced code goes through chroma.
type MarkdownRenderer struct {
	md        goldmark.Markdown
	formatter chroma.Formatter
	codeStyle *chroma.Style
	theme     Theme

	headingStyle   lipgloss.Style
	boldStyle      lipgloss.Style
	italicStyle    lipgloss.Style
	linkStyle      lipgloss.Style
	quoteStyle     lipgloss.Style
	bulletStyle    lipgloss.Style
	inlineCode     lipgloss.Style
	codeBlockStyle lipgloss.Style
}

func NewMarkdownRenderer(theme Theme) *MarkdownRenderer {
	md := goldmark.New(
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
		goldmark.WithExtensions(extension.GFM, extension.Strikethrough, extension.TaskList),
	)

	return &MarkdownRenderer{
		md:        md,
		formatter: formatters.Get("terminal256"),
		codeStyle: styles.Get("dracula"),
		theme:     theme,

		headingStyle: lipgloss.NewStyle().Bold(true).Foreground(theme.Accent),
		boldStyle:    lipgloss.NewStyle().Bold(true).Foreground(theme.TextPrimary),
		italicStyle:  lipgloss.NewStyle().Italic(true).Foreground(theme.TextPrimary),
		linkStyle:    lipgloss.NewStyle().Underline(true).Foreground(theme.Accent),
		quoteStyle: lipgloss.NewStyle().Foreground(theme.TextMuted).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(theme.Border).PaddingLeft(1),
		bulletStyle: lipgloss.NewStyle().Foreground(theme.Success),
		inlineCode:  lipgloss.NewStyle().Foreground(theme.Warn),
		codeBlockStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).BorderForeground(theme.Border).Padding(0, 1),
	}
}

// Render converts markdown to terminal text wrapped to width. On any parse
// failure the raw content comes back unstyled.
func (r *MarkdownRenderer) Render(content string, width int) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return content
	}
	return r.rewrite(buf.String(), width)
}

func (r *MarkdownRenderer) rewrite(doc string, width int) string {
	// Code blocks are lifted out first so later tag passes cannot touch
	// highlighted output.
	var blocks []string
	doc = codeBlockRe.ReplaceAllStringFunc(doc, func(m string) string {
		sub := codeBlockRe.FindStringSubmatch(m)
		code := decodeEntities(sub[2])
		rendered := r.codeBlockStyle.Width(clampWidth(width-4, 20)).
			Render(r.RenderCodeBlock(strings.TrimRight(code, "\n"), sub[1]))
		blocks = append(blocks, rendered)
		return fmt.Sprintf("\n{{FORGE_CODE_%d}}\n", len(blocks)-1)
	})

	doc = inlineCodeRe.ReplaceAllStringFunc(doc, func(m string) string {
		sub := inlineCodeRe.FindStringSubmatch(m)
		return r.inlineCode.Render(decodeEntities(sub[1]))
	})

	doc = headingRe.ReplaceAllStringFunc(doc, func(m string) string {
		sub := headingRe.FindStringSubmatch(m)
		text := htmlTagRe.ReplaceAllString(sub[2], "")
		if sub[1] == "1" {
			return r.headingStyle.Underline(true).Render(text) + "\n"
		}
		return r.headingStyle.Render(text) + "\n"
	})

	doc = strongRe.ReplaceAllStringFunc(doc, func(m string) string {
		return r.boldStyle.Render(strongRe.FindStringSubmatch(m)[1])
	})
	doc = emRe.ReplaceAllStringFunc(doc, func(m string) string {
		return r.italicStyle.Render(emRe.FindStringSubmatch(m)[1])
	})
	doc = linkRe.ReplaceAllStringFunc(doc, func(m string) string {
		sub := linkRe.FindStringSubmatch(m)
		return r.linkStyle.Render(fmt.Sprintf("%s (%s)", sub[2], sub[1]))
	})
	doc = blockquoteRe.ReplaceAllStringFunc(doc, func(m string) string {
		sub := blockquoteRe.FindStringSubmatch(m)
		text := strings.TrimSpace(htmlTagRe.ReplaceAllString(sub[1], ""))
		return r.quoteStyle.Width(clampWidth(width-4, 20)).Render(text) + "\n"
	})

	doc = listRe.ReplaceAllStringFunc(doc, func(m string) string {
		sub := listRe.FindStringSubmatch(m)
		items := listItemRe.FindAllStringSubmatch(sub[2], -1)
		ordered := sub[1] == "ol"
		var b strings.Builder
		for i, item := range items {
			text := htmlTagRe.ReplaceAllString(item[1], "")
			if ordered {
				b.WriteString(r.bulletStyle.Render(fmt.Sprintf("  %d. ", i+1)))
			} else {
				b.WriteString(r.bulletStyle.Render("  • "))
			}
			b.WriteString(text)
			b.WriteString("\n")
		}
		return b.String()
	})

	replacer := strings.NewReplacer("<p>", "", "</p>", "\n", "<br>", "\n", "<br/>", "\n", "<br />", "\n")
	doc = replacer.Replace(doc)

	for i, block := range blocks {
		doc = strings.ReplaceAll(doc, fmt.Sprintf("{{FORGE_CODE_%d}}", i), block)
	}

	doc = htmlTagRe.ReplaceAllString(doc, "")
	doc = decodeEntities(doc)
	doc = multiBlankRe.ReplaceAllString(doc, "\n\n")
	return strings.TrimSpace(doc)
}

// RenderCodeBlock highlights one fenced block. Unknown languages fall back
// to content analysis, then to plain text.
func (r *MarkdownRenderer) RenderCodeBlock(code, lang string) string {
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := r.formatter.Format(&buf, r.codeStyle, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#x27;", "'",
	"&#x60;", "`",
	"&nbsp;", " ",
	"&hellip;", "...",
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}

func clampWidth(w, min int) int {
	if w < min {
		return min
	}
	return w
}
