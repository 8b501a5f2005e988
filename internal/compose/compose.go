// Package compose orders media references and prompt text into a
// generation request and picks the model variant.
package compose

import (
	"errors"
	"strings"
)

// ErrEmptyRequest means there is nothing to send.
var ErrEmptyRequest = errors.New("empty request: no text or media")

type PartKind int

const (
	PartText PartKind = iota
	PartMedia
)

// Part is one ordered element of a request.
type Part struct {
	Kind     PartKind
	Text     string
	URI      string
	MIMEType string
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func MediaPart(uri, mimeType string) Part {
	return Part{Kind: PartMedia, URI: uri, MIMEType: mimeType}
}

// Variant selects the remote model family.
type Variant int

const (
	Standard Variant = iota
	Reasoning
	Multimodal
)

func (v Variant) String() string {
	switch v {
	case Reasoning:
		return "reasoning"
	case Multimodal:
		return "multimodal"
	default:
		return "standard"
	}
}

// Request is a composed single-turn generation request.
type Request struct {
	Parts   []Part
	Variant Variant
	// Attachments names the local files behind the media parts, for
	// diagnostics only.
	Attachments []string
}

// HasMedia reports whether any part references an uploaded file.
func (r Request) HasMedia() bool {
	for _, p := range r.Parts {
		if p.Kind == PartMedia {
			return true
		}
	}
	return false
}

// Compose keeps media in the given order and appends text last. Blank text
// is dropped when media is present. Any media forces the multimodal
// variant; otherwise analytical selects the reasoning variant.
func Compose(media []Part, text string, analytical bool) (Request, error) {
	hasText := strings.TrimSpace(text) != ""
	if !hasText && len(media) == 0 {
		return Request{}, ErrEmptyRequest
	}

	parts := make([]Part, 0, len(media)+1)
	parts = append(parts, media...)
	if hasText {
		parts = append(parts, TextPart(text))
	}

	req := Request{Parts: parts, Variant: Standard}
	switch {
	case len(media) > 0:
		req.Variant = Multimodal
	case analytical:
		req.Variant = Reasoning
	}
	return req, nil
}
