package tui

import (
	"strings"

	"forge-agent/internal/app"

	"github.com/sahilm/fuzzy"
)

// slashItem is one row in the command completion popup.
type slashItem struct {
	Name        string
	Description string
}

// slashMatches filters the command catalog against the line being typed.
// The popup only applies while the command name itself is incomplete: once
// a space or newline appears the user is past the name.
func slashMatches(input string) []slashItem {
	raw := strings.TrimLeft(input, " \t")
	if !strings.HasPrefix(raw, "/") || strings.ContainsAny(raw, " \t\n\r") {
		return nil
	}

	catalog := app.Commands()
	query := strings.TrimPrefix(raw, "/")
	if query == "" {
		items := make([]slashItem, len(catalog))
		for i, c := range catalog {
			items[i] = slashItem{Name: c.Name, Description: c.Description}
		}
		return items
	}

	names := make([]string, len(catalog))
	for i, c := range catalog {
		names[i] = strings.TrimPrefix(c.Name, "/")
	}
	var items []slashItem
	for _, match := range fuzzy.Find(query, names) {
		c := catalog[match.Index]
		items = append(items, slashItem{Name: c.Name, Description: c.Description})
	}
	return items
}
