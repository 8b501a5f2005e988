package store

import (
	"fmt"
	"time"
)

// Importance classifies a record for context windowing.
type Importance int

const (
	Default Importance = iota
	Pinned
	GeneratedReply
)

// Persisted labels match the databases written by earlier bot versions.
const (
	labelDefault   = "None"
	labelPinned    = "Important"
	labelGenerated = "Gemini"
)

func (i Importance) String() string {
	switch i {
	case Pinned:
		return labelPinned
	case GeneratedReply:
		return labelGenerated
	default:
		return labelDefault
	}
}

func parseImportance(s string) (Importance, error) {
	switch s {
	case labelDefault, "":
		return Default, nil
	case labelPinned:
		return Pinned, nil
	case labelGenerated:
		return GeneratedReply, nil
	}
	return Default, fmt.Errorf("unknown importance %q", s)
}

// Record is one logged chat event or generated reply. Records are never
// updated after Append.
type Record struct {
	Seq        int64
	ChatID     int64
	MessageID  int64
	Author     string
	Date       time.Time
	Content    string
	Tags       string
	Importance Importance
}

// Window is the context slice for one chat. Both groups are ordered
// most-recent-first.
type Window struct {
	Pinned []Record
	Recent []Record
}

// Len is the total number of records in the window.
func (w Window) Len() int {
	return len(w.Pinned) + len(w.Recent)
}
