package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Patch location errors. All of them are recoverable: the dispatcher returns
// them verbatim to the model so it can retry with a more specific block.
var (
	ErrAmbiguousExact = errors.New("ambiguous match: the search block was found multiple times in the file; include more surrounding lines to make it unique")
	ErrAmbiguousFuzzy = errors.New("ambiguous fuzzy match: the search block matches multiple locations ignoring whitespace; include more surrounding lines")
	ErrNoMatch        = errors.New("match not found: the search block could not be located even with whitespace-insensitive matching; verify the code exists in the file")
	ErrEmptySearch    = errors.New("search block is empty")
)

// Success messages returned to the model after an applied edit.
const (
	editAppliedExact = "Edit applied successfully using exact match."
	editAppliedFuzzy = "Edit applied successfully using fuzzy match (indentation corrected)."
)

// ApplyEdit replaces one occurrence of searchBlock in rel with replaceBlock
// and reports which strategy located it. The file is read once, fully, and
// written back only on success.
func (w *Workspace) ApplyEdit(rel, searchBlock, replaceBlock string) (string, error) {
	abs, err := w.Resolve(rel)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	content, err := w.ReadFile(rel)
	if err != nil {
		return "", err
	}
	updated, message, err := applySearchReplace(content, searchBlock, replaceBlock)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return "", err
	}
	return message, nil
}

// applySearchReplace locates searchBlock inside content and substitutes
// replaceBlock, in two phases:
//
//  1. Exact: count non-overlapping literal occurrences. One occurrence is
//     replaced in place; several fail as ambiguous without ever consulting the
//     fuzzy phase (exact-level ambiguity is never escalated); none falls
//     through to the fuzzy phase.
//  2. Fuzzy: compare line sequences with every line stripped of leading and
//     trailing whitespace on both sides. Exactly one matching window is
//     required. If the replacement's first line carries no indentation while
//     the matched original line does, the original's leading whitespace is
//     prepended to every replacement line uniformly.
//
// An empty searchBlock is rejected only by the fuzzy phase. The exact phase
// counts the empty string at every position, so against non-empty content it
// fails as ambiguous; against empty content it counts once and replaces the
// whole file.
func applySearchReplace(content, searchBlock, replaceBlock string) (string, string, error) {
	switch count := strings.Count(content, searchBlock); {
	case count == 1:
		return strings.Replace(content, searchBlock, replaceBlock, 1), editAppliedExact, nil
	case count > 1:
		return "", "", fmt.Errorf("%w (%d occurrences)", ErrAmbiguousExact, count)
	}

	fileLines := splitLines(content)
	searchLines := splitLines(searchBlock)
	if len(searchLines) == 0 {
		return "", "", ErrEmptySearch
	}

	strippedFile := make([]string, len(fileLines))
	for i, line := range fileLines {
		strippedFile[i] = strings.TrimSpace(line)
	}
	strippedSearch := make([]string, len(searchLines))
	for i, line := range searchLines {
		strippedSearch[i] = strings.TrimSpace(line)
	}

	var matches []int
	for i := 0; i+len(strippedSearch) <= len(strippedFile); i++ {
		if equalLines(strippedFile[i:i+len(strippedSearch)], strippedSearch) {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		return "", "", ErrNoMatch
	}
	if len(matches) > 1 {
		return "", "", fmt.Errorf("%w (%d occurrences)", ErrAmbiguousFuzzy, len(matches))
	}

	start := matches[0]
	end := start + len(strippedSearch)

	replacement := replaceBlock
	indent := leadingWhitespace(fileLines[start])
	replaceLines := splitLines(replaceBlock)
	if len(replaceLines) > 0 && indent != "" {
		first := replaceLines[0]
		if !strings.HasPrefix(first, " ") && !strings.HasPrefix(first, "\t") {
			for i, line := range replaceLines {
				replaceLines[i] = indent + line
			}
			replacement = strings.Join(replaceLines, "\n")
		}
	}

	pre := strings.Join(fileLines[:start], "\n")
	post := strings.Join(fileLines[end:], "\n")

	var b strings.Builder
	if pre != "" {
		b.WriteString(pre)
		b.WriteString("\n")
	}
	b.WriteString(replacement)
	if post != "" {
		if replacement != "" && !strings.HasSuffix(replacement, "\n") {
			b.WriteString("\n")
		}
		b.WriteString(post)
	}
	return b.String(), editAppliedFuzzy, nil
}

// splitLines splits on line boundaries without a phantom trailing element for
// a final newline, tolerating CRLF endings.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func equalLines(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeftFunc(s, unicode.IsSpace))]
}
