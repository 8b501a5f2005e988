// Package assistant runs one chat event through context assembly, media
// ingestion, request composition and generation.
package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/geminibot/internal/compose"
	"github.com/stellarlinkco/geminibot/internal/generate"
	"github.com/stellarlinkco/geminibot/internal/history"
	"github.com/stellarlinkco/geminibot/internal/media"
	"github.com/stellarlinkco/geminibot/internal/store"
)

// History is the read side of the conversation store.
type History interface {
	Windowed(ctx context.Context, chatID int64, limit int) (store.Window, error)
}

// Generator executes composed requests.
type Generator interface {
	Generate(ctx context.Context, req compose.Request) generate.Result
}

// TextEvent is a text request addressed to the bot.
type TextEvent struct {
	ChatID int64
	Query  string
	// Analytical forces the reasoning model. The think marker inside
	// Query has the same effect.
	Analytical bool
}

// MediaEvent is a request carrying local files. History is not attached.
type MediaEvent struct {
	ChatID     int64
	Files      []media.Input
	Analytical bool
}

type Options struct {
	HistoryLimit int
	ThinkMarker  string
}

type Processor struct {
	history   History
	pipeline  *media.Pipeline
	generator Generator
	opts      Options
	log       zerolog.Logger
}

func NewProcessor(h History, p *media.Pipeline, g Generator, opts Options, log zerolog.Logger) *Processor {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = store.DefaultWindow
	}
	return &Processor{
		history:   h,
		pipeline:  p,
		generator: g,
		opts:      opts,
		log:       log,
	}
}

// ProcessTextEvent answers a text request using the chat's context window.
// Generation failures come back as renderable text with a nil error.
func (p *Processor) ProcessTextEvent(ctx context.Context, ev TextEvent) (string, error) {
	window, err := p.history.Windowed(ctx, ev.ChatID, p.opts.HistoryLimit)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	prompt := history.WithQuery(history.Format(window), ev.Query)
	req, err := compose.Compose(nil, prompt, ev.Analytical || p.wantsReasoning(ev.Query))
	if err != nil {
		return "", err
	}

	p.log.Info().
		Int64("chat_id", ev.ChatID).
		Int("history", window.Len()).
		Str("variant", req.Variant.String()).
		Msg("Processing text request")
	return p.generator.Generate(ctx, req).Render(), nil
}

// ProcessMediaEvent ingests the event's files, asks the model about them
// with prompt and releases every asset before returning, whatever the
// outcome.
func (p *Processor) ProcessMediaEvent(ctx context.Context, ev MediaEvent, prompt string) (string, error) {
	batch, err := p.pipeline.Ingest(ctx, ev.Files)
	if err != nil {
		return "", err
	}
	defer batch.Release(ctx)

	parts := batch.Parts()
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no usable media among %d files", media.ErrNotFound, len(ev.Files))
	}

	req, err := compose.Compose(parts, prompt, ev.Analytical)
	if err != nil {
		return "", err
	}
	req.Attachments = batch.Paths()

	p.log.Info().
		Int64("chat_id", ev.ChatID).
		Int("files", len(parts)).
		Msg("Processing media request")
	return p.generator.Generate(ctx, req).Render(), nil
}

func (p *Processor) wantsReasoning(query string) bool {
	marker := strings.ToLower(strings.TrimSpace(p.opts.ThinkMarker))
	return marker != "" && strings.Contains(strings.ToLower(query), marker)
}
