package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/geminibot/internal/assistant"
	"github.com/stellarlinkco/geminibot/internal/bus"
	"github.com/stellarlinkco/geminibot/internal/channel"
	"github.com/stellarlinkco/geminibot/internal/config"
	"github.com/stellarlinkco/geminibot/internal/cron"
	"github.com/stellarlinkco/geminibot/internal/history"
	"github.com/stellarlinkco/geminibot/internal/media"
	"github.com/stellarlinkco/geminibot/internal/store"
)

const (
	thinkingText  = "💭 Thinking..."
	botAuthor     = "Gemini"
	mediaCommand  = "media"
	sweepJobName  = "media-sweep"
	pinnedConfirm = "Marked as important ⭐"
)

// Transport is the chat side of the gateway.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) (int, error)
	Edit(chatID int64, messageID int, content string) error
	Download(ctx context.Context, att bus.Attachment, messageID int, dir string) (string, error)
}

// Conversations is the store surface the gateway needs.
type Conversations interface {
	Append(ctx context.Context, r store.Record) error
	Windowed(ctx context.Context, chatID int64, limit int) (store.Window, error)
	IsWhitelisted(ctx context.Context, chatID int64) (bool, error)
	Allow(ctx context.Context, chatID int64) (bool, error)
	Disallow(ctx context.Context, chatID int64) (bool, error)
}

type Processor interface {
	ProcessTextEvent(ctx context.Context, ev assistant.TextEvent) (string, error)
	ProcessMediaEvent(ctx context.Context, ev assistant.MediaEvent, prompt string) (string, error)
}

// Options for creating a Gateway
type Options struct {
	SignalChan chan os.Signal // for testing signal handling
	Transport  Transport
	Store      Conversations
	Processor  Processor
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	transport  Transport
	store      Conversations
	processor  Processor
	cron       *cron.Service
	closers    []func() error
	signalChan chan os.Signal
	wg         sync.WaitGroup
	log        zerolog.Logger
}

// New creates a Gateway with default options
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Gateway, error) {
	return NewWithOptions(ctx, cfg, log, Options{})
}

// NewWithOptions creates a Gateway; any collaborator left nil in opts is
// built from cfg.
func NewWithOptions(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		store:      opts.Store,
		processor:  opts.Processor,
		transport:  opts.Transport,
		signalChan: opts.SignalChan,
		log:        log.With().Str("component", "gateway").Logger(),
	}

	if g.store == nil || g.processor == nil {
		core, err := NewCore(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		g.closers = append(g.closers, core.Close)
		if g.store == nil {
			g.store = core.Store
		}
		if g.processor == nil {
			g.processor = core.Processor
		}
	}

	if g.transport == nil {
		tg, err := channel.NewTelegramChannel(cfg.Telegram, g.bus, log)
		if err != nil {
			g.close()
			return nil, fmt.Errorf("create telegram channel: %w", err)
		}
		g.transport = tg
	}

	g.cron = cron.NewService(log)
	if _, err := g.cron.AddJob(sweepJobName, cfg.Media.SweepSchedule, g.sweepMedia); err != nil {
		g.log.Warn().Err(err).Msg("Media sweep disabled")
	}

	return g, nil
}

// Inbound exposes the bus transports publish to.
func (g *Gateway) Inbound() chan<- bus.InboundMessage {
	return g.bus.Inbound
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.transport.Start(ctx); err != nil {
		g.close()
		return fmt.Errorf("start transport: %w", err)
	}
	g.cron.Start(ctx)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		g.processLoop(ctx)
	}()

	g.log.Info().Int64("owner_id", g.cfg.Telegram.OwnerID).Msg("Running")

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.log.Info().Msg("Shutting down")
	cancel()
	<-loopDone
	return g.Shutdown()
}

// processLoop runs every inbound event on its own goroutine.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.wg.Add(1)
			go func() {
				defer g.wg.Done()
				g.handle(ctx, msg)
			}()
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	if err := g.transport.Stop(); err != nil {
		g.log.Warn().Err(err).Msg("Stop transport")
	}
	g.wg.Wait()
	g.close()
	g.log.Info().Msg("Shutdown complete")
	return nil
}

func (g *Gateway) close() {
	for _, c := range g.closers {
		if err := c(); err != nil {
			g.log.Warn().Err(err).Msg("Close resource")
		}
	}
	g.closers = nil
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	log := g.log.With().Int64("chat_id", msg.ChatID).Int("message_id", msg.MessageID).Logger()
	text := strings.TrimSpace(msg.Text)
	owner := g.isOwner(msg.SenderID)

	cmd, args := parseCommand(text)
	if owner && g.ownerCommand(ctx, msg, cmd) {
		return
	}

	if text != "" {
		if err := g.store.Append(ctx, recordOf(msg, store.Default)); err != nil {
			log.Error().Err(err).Msg("Store message")
		}
	}

	switch {
	case cmd == mediaCommand:
		if !g.authorized(ctx, msg.ChatID, owner) {
			log.Debug().Msg("Ignoring media request in non-whitelisted chat")
			return
		}
		g.answerMedia(ctx, msg, args)
	case assistant.ContainsTrigger(text, g.cfg.Bot.Triggers):
		if !g.authorized(ctx, msg.ChatID, owner) {
			log.Debug().Msg("Ignoring request in non-whitelisted chat")
			return
		}
		log.Info().Str("text", truncate(text, 20)).Msg("Processing request")
		g.answerText(ctx, msg, assistant.ExtractQuery(text))
	}
}

// ownerCommand runs an owner-only command and reports whether text was one.
func (g *Gateway) ownerCommand(ctx context.Context, msg bus.InboundMessage, cmd string) bool {
	if cmd == "" {
		return false
	}
	switch cmd {
	case "enable":
		added, err := g.store.Allow(ctx, msg.ChatID)
		g.replyResult(msg, err, pick(added, "Chat enabled ✅", "Chat already enabled ✅"))
	case "disable":
		removed, err := g.store.Disallow(ctx, msg.ChatID)
		g.replyResult(msg, err, pick(removed, "Chat disabled ❌", "Chat already disabled ❌"))
	case "debug":
		w, err := g.store.Windowed(ctx, msg.ChatID, g.cfg.Bot.DebugLimit)
		g.replyResult(msg, err, fmt.Sprintf("Last %d messages:\n\n%s", g.cfg.Bot.DebugLimit, history.Format(w)))
	case g.cfg.Bot.PinCommand:
		err := g.store.Append(ctx, recordOf(msg, store.Pinned))
		g.replyResult(msg, err, pinnedConfirm)
	default:
		return false
	}
	return true
}

func (g *Gateway) answerText(ctx context.Context, msg bus.InboundMessage, query string) {
	placeholder := g.placeholder(msg)
	out, err := g.processor.ProcessTextEvent(ctx, assistant.TextEvent{ChatID: msg.ChatID, Query: query})
	g.deliver(ctx, msg, placeholder, out, err)
}

func (g *Gateway) answerMedia(ctx context.Context, msg bus.InboundMessage, prompt string) {
	source := msg.ReplyTo
	if source == nil || source.Attachment == nil {
		source = &msg
	}
	if source.Attachment == nil {
		g.reply(msg, "Reply to a message with media to use !"+mediaCommand)
		return
	}

	placeholder := g.placeholder(msg)
	path, err := g.transport.Download(ctx, *source.Attachment, source.MessageID, g.cfg.Storage.MediaDir)
	if err != nil {
		g.deliver(ctx, msg, placeholder, "", fmt.Errorf("download media: %w", err))
		return
	}

	att := source.Attachment
	out, err := g.processor.ProcessMediaEvent(ctx, assistant.MediaEvent{
		ChatID: msg.ChatID,
		Files:  []media.Input{{Path: path, MIMEType: att.Kind.MIMEType(att.MIMEType)}},
	}, prompt)
	g.deliver(ctx, msg, placeholder, out, err)
}

// placeholder posts the thinking notice and returns its id, or 0 when it
// could not be sent.
func (g *Gateway) placeholder(msg bus.InboundMessage) int {
	id, err := g.transport.Send(bus.OutboundMessage{ChatID: msg.ChatID, ReplyTo: msg.MessageID, Content: thinkingText})
	if err != nil {
		g.log.Warn().Err(err).Msg("Send placeholder")
		return 0
	}
	return id
}

// deliver shows the answer in place of the placeholder and stores it.
func (g *Gateway) deliver(ctx context.Context, msg bus.InboundMessage, placeholder int, out string, err error) {
	if err != nil {
		g.log.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("Error processing request")
		g.show(msg, placeholder, "❌ Error processing request: "+err.Error())
		return
	}

	replyID := g.show(msg, placeholder, out)
	if err := g.store.Append(ctx, store.Record{
		ChatID:     msg.ChatID,
		MessageID:  int64(replyID),
		Author:     botAuthor,
		Date:       time.Now(),
		Content:    out,
		Importance: store.GeneratedReply,
	}); err != nil {
		g.log.Error().Err(err).Msg("Store reply")
	}
}

// show edits the placeholder, falling back to a fresh reply, and returns
// the id of the message carrying text.
func (g *Gateway) show(msg bus.InboundMessage, placeholder int, text string) int {
	if placeholder != 0 {
		err := g.transport.Edit(msg.ChatID, placeholder, text)
		if err == nil {
			return placeholder
		}
		g.log.Warn().Err(err).Msg("Edit placeholder")
	}
	return g.reply(msg, text)
}

func (g *Gateway) reply(msg bus.InboundMessage, text string) int {
	id, err := g.transport.Send(bus.OutboundMessage{ChatID: msg.ChatID, ReplyTo: msg.MessageID, Content: text})
	if err != nil {
		g.log.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("Send reply")
	}
	return id
}

func (g *Gateway) replyResult(msg bus.InboundMessage, err error, ok string) {
	if err != nil {
		g.log.Error().Err(err).Msg("Owner command failed")
		g.reply(msg, "❌ "+err.Error())
		return
	}
	g.reply(msg, ok)
}

func (g *Gateway) isOwner(senderID int64) bool {
	return g.cfg.Telegram.OwnerID != 0 && senderID == g.cfg.Telegram.OwnerID
}

func (g *Gateway) authorized(ctx context.Context, chatID int64, owner bool) bool {
	if owner {
		return true
	}
	ok, err := g.store.IsWhitelisted(ctx, chatID)
	if err != nil {
		g.log.Error().Err(err).Msg("Check whitelist")
		return false
	}
	return ok
}

func (g *Gateway) sweepMedia(context.Context) (string, error) {
	n, err := media.SweepStale(g.cfg.Storage.MediaDir, g.cfg.Media.MaxAge(), time.Now())
	return fmt.Sprintf("removed %d stale media files", n), err
}

// parseCommand splits "!name rest" into name and rest.
func parseCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "!") {
		return "", ""
	}
	name, rest, _ := strings.Cut(text[1:], " ")
	return name, strings.TrimSpace(rest)
}

func recordOf(msg bus.InboundMessage, imp store.Importance) store.Record {
	date := msg.Timestamp
	if date.IsZero() {
		date = time.Now()
	}
	return store.Record{
		ChatID:     msg.ChatID,
		MessageID:  int64(msg.MessageID),
		Author:     msg.Author,
		Date:       date,
		Content:    msg.Text,
		Tags:       msg.Tags(),
		Importance: imp,
	}
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
