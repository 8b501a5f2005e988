// Package generate executes composed requests against the model and turns
// the outcome into renderable text.
package generate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/geminibot/internal/compose"
)

// ReasoningMarker prefixes answers produced by the reasoning model.
const ReasoningMarker = "🎩"

// ErrGeneration matches every *Error via errors.Is.
var ErrGeneration = errors.New("generation failed")

var errEmptyResponse = errors.New("model returned no text")

// Error is a failed remote generation call.
type Error struct {
	Model string
	Err   error
}

func (e *Error) Error() string {
	return "Error calling Gemini API: " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrGeneration }

// Settings are the fixed decoding parameters sent with every call.
type Settings struct {
	SystemInstruction string
	Temperature       float32
	TopP              float32
	TopK              float32
	MaxOutputTokens   int32
	ResponseMIMEType  string
	WebSearch         bool
}

// Call is one single-turn request as the client sees it.
type Call struct {
	Model    string
	Parts    []compose.Part
	Settings Settings
}

type Client interface {
	GenerateContent(ctx context.Context, call Call) (string, error)
}

// Models maps each variant to a concrete model name.
type Models struct {
	Standard   string
	Reasoning  string
	Multimodal string
}

func (m Models) For(v compose.Variant) string {
	switch v {
	case compose.Reasoning:
		return m.Reasoning
	case compose.Multimodal:
		return m.Multimodal
	}
	return m.Standard
}

// Result is either model text or a failure. Both shapes render.
type Result struct {
	Text        string
	Err         error
	Variant     compose.Variant
	Model       string
	Attachments []string
}

func (r Result) Failed() bool { return r.Err != nil }

// Render returns what the chat should show. Failures become an error
// message so callers always have text to display.
func (r Result) Render() string {
	if r.Err != nil {
		msg := r.Err.Error()
		var genErr *Error
		if !errors.As(r.Err, &genErr) {
			msg = "Error calling Gemini API: " + msg
		}
		if len(r.Attachments) > 0 {
			msg += "\nFiles: " + strings.Join(r.Attachments, ", ")
		}
		return msg
	}
	if r.Variant == compose.Reasoning {
		return ReasoningMarker + r.Text
	}
	return r.Text
}

type Orchestrator struct {
	client   Client
	models   Models
	settings Settings
	timeout  time.Duration
	log      zerolog.Logger
}

func New(client Client, models Models, settings Settings, timeout time.Duration, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		client:   client,
		models:   models,
		settings: settings,
		timeout:  timeout,
		log:      log,
	}
}

// Generate runs req once. It never retries and never returns an error
// separately from the Result.
func (o *Orchestrator) Generate(ctx context.Context, req compose.Request) Result {
	model := o.models.For(req.Variant)
	res := Result{Variant: req.Variant, Model: model, Attachments: req.Attachments}
	if len(req.Parts) == 0 {
		res.Err = compose.ErrEmptyRequest
		return res
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	log := o.log.With().Str("model", model).Int("parts", len(req.Parts)).Logger()
	log.Info().Msg("Sending generation request")

	started := time.Now()
	text, err := o.client.GenerateContent(ctx, Call{Model: model, Parts: req.Parts, Settings: o.settings})
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyResponse
	}
	if err != nil {
		log.Error().Err(err).Msg("Error calling Gemini API")
		res.Err = &Error{Model: model, Err: err}
		return res
	}

	log.Info().Dur("took", time.Since(started)).Msg("Received response")
	res.Text = text
	return res
}
