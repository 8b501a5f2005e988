// Package history renders a conversation window as model input text.
package history

import (
	"strings"

	"github.com/stellarlinkco/geminibot/internal/store"
)

// Format renders pinned records, then recent records, each group in
// chronological order, one "author: content" line per record.
func Format(w store.Window) string {
	if w.Len() == 0 {
		return ""
	}

	lines := make([]string, 0, w.Len())
	lines = appendChronological(lines, w.Pinned)
	lines = appendChronological(lines, w.Recent)
	return strings.Join(lines, "\n")
}

func appendChronological(lines []string, newestFirst []store.Record) []string {
	for i := len(newestFirst) - 1; i >= 0; i-- {
		r := newestFirst[i]
		lines = append(lines, r.Author+": "+r.Content)
	}
	return lines
}

// WithQuery appends the current request to the rendered history. An empty
// history yields the bare query.
func WithQuery(history, query string) string {
	if history == "" {
		return query
	}
	return history + "\n\nCurrent user request: " + query
}
