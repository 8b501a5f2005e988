package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/geminibot/internal/assistant"
	"github.com/stellarlinkco/geminibot/internal/config"
	"github.com/stellarlinkco/geminibot/internal/gemini"
	"github.com/stellarlinkco/geminibot/internal/generate"
	"github.com/stellarlinkco/geminibot/internal/logging"
	"github.com/stellarlinkco/geminibot/internal/media"
	"github.com/stellarlinkco/geminibot/internal/store"
)

// Core is the transport-independent part of the bot: the conversation
// store and the request processor. The CLI uses it without Telegram.
type Core struct {
	Store     *store.Store
	Processor *assistant.Processor
}

func NewCore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Core, error) {
	client, err := gemini.New(ctx, cfg.Gemini, log)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pipeline := media.NewPipeline(client, media.Options{
		PollAttempts:   cfg.Media.PollAttempts,
		PollInterval:   cfg.Media.PollInterval(),
		Concurrency:    cfg.Media.UploadConcurrency,
		CleanupTimeout: cfg.Media.CleanupTimeout(),
	}, logging.Component(log, "media"))

	orchestrator := generate.New(client,
		gemini.Models(cfg.Gemini),
		gemini.Settings(cfg.Gemini),
		time.Duration(cfg.Gemini.TimeoutSec)*time.Second,
		logging.Component(log, "generate"))

	proc := assistant.NewProcessor(st, pipeline, orchestrator, assistant.Options{
		HistoryLimit: cfg.Bot.HistoryLimit,
		ThinkMarker:  cfg.Bot.ThinkMarker,
	}, logging.Component(log, "assistant"))

	return &Core{Store: st, Processor: proc}, nil
}

func (c *Core) Close() error {
	return c.Store.Close()
}
