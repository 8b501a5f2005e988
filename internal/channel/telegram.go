package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/geminibot/internal/bus"
	"github.com/stellarlinkco/geminibot/internal/config"
	"github.com/stellarlinkco/geminibot/internal/media"
)

const telegramChannelName = "telegram"

// Telegram rejects messages over 4096 characters.
const maxMessageLen = 4000

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

func (w *tgBotWrapper) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	return w.bot.GetFile(config)
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	bot        TelegramBot
	proxy      string
	httpClient *http.Client
	cancel     context.CancelFunc
	botFactory BotFactory
	log        zerolog.Logger
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus, log zerolog.Logger) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, log, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, log zerolog.Logger, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		httpClient:  http.DefaultClient,
		botFactory:  factory,
		log:         log.With().Str("component", telegramChannelName).Logger(),
	}
	return ch, nil
}

func (t *TelegramChannel) initBot() error {
	var client *http.Client
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	} else {
		client = http.DefaultClient
	}
	t.httpClient = client

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	t.log.Info().Str("username", bot.GetSelf().UserName).Msg("Authorized")
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				t.handleMessage(ctx, update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	t.log.Info().Msg("Polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	inbound := toInbound(msg)
	if inbound.Text == "" && inbound.Attachment == nil {
		return
	}
	if !t.IsAllowed(inbound.SenderID) {
		t.log.Debug().Int64("sender_id", inbound.SenderID).Msg("Rejected message from sender")
		return
	}

	select {
	case t.bus.Inbound <- inbound:
	case <-ctx.Done():
	}
}

// toInbound converts a Telegram message, including the one it replies to.
func toInbound(msg *tgbotapi.Message) bus.InboundMessage {
	in := bus.InboundMessage{
		MessageID:  msg.MessageID,
		Author:     "unknown",
		Text:       msg.Text,
		Timestamp:  time.Unix(int64(msg.Date), 0),
		Forwarded:  msg.ForwardDate != 0,
		Attachment: attachmentOf(msg),
	}
	if in.Text == "" {
		in.Text = msg.Caption
	}
	if msg.Chat != nil {
		in.ChatID = msg.Chat.ID
	}
	if msg.From != nil {
		in.SenderID = msg.From.ID
		if msg.From.FirstName != "" {
			in.Author = msg.From.FirstName
		} else if msg.From.UserName != "" {
			in.Author = msg.From.UserName
		}
	}
	if msg.ReplyToMessage != nil {
		reply := toInbound(msg.ReplyToMessage)
		in.ReplyTo = &reply
	}
	return in
}

func attachmentOf(msg *tgbotapi.Message) *bus.Attachment {
	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		return &bus.Attachment{Kind: media.Photo, FileID: photo.FileID}
	case msg.Video != nil:
		return &bus.Attachment{Kind: media.Video, FileID: msg.Video.FileID, MIMEType: msg.Video.MimeType}
	case msg.Voice != nil:
		return &bus.Attachment{Kind: media.Voice, FileID: msg.Voice.FileID, MIMEType: msg.Voice.MimeType}
	case msg.Audio != nil:
		return &bus.Attachment{Kind: media.Audio, FileID: msg.Audio.FileID, MIMEType: msg.Audio.MimeType}
	case msg.Document != nil:
		return &bus.Attachment{
			Kind:     media.Document,
			FileID:   msg.Document.FileID,
			MIMEType: msg.Document.MimeType,
			FileName: msg.Document.FileName,
		}
	}
	return nil
}

// Download saves att under dir as {kind}_{message-id}{ext} and returns the
// local path.
func (t *TelegramChannel) Download(ctx context.Context, att bus.Attachment, messageID int, dir string) (string, error) {
	if t.bot == nil {
		return "", fmt.Errorf("telegram bot not initialized")
	}

	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: att.FileID})
	if err != nil {
		return "", fmt.Errorf("get telegram file: %w", err)
	}

	client := t.httpClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(t.token), nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download telegram file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download telegram file: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	path := filepath.Join(dir, att.Kind.FileName(int64(messageID), att.MIMEType, att.FileName))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("telegram file is empty")
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}

	t.log.Info().Str("path", path).Int64("bytes", n).Msg("Downloaded attachment")
	return path, nil
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	t.log.Info().Msg("Stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

// Send delivers msg in chunks and returns the id of the first one.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) (int, error) {
	if t.bot == nil {
		return 0, fmt.Errorf("telegram bot not initialized")
	}

	firstID := 0
	for i, chunk := range splitMessage(msg.Content, maxMessageLen) {
		tgMsg := tgbotapi.NewMessage(msg.ChatID, toTelegramHTML(chunk))
		tgMsg.ParseMode = tgbotapi.ModeHTML
		if i == 0 && msg.ReplyTo != 0 {
			tgMsg.ReplyToMessageID = msg.ReplyTo
		}
		sent, err := t.bot.Send(tgMsg)
		if err != nil {
			// Retry without HTML parse mode
			tgMsg.ParseMode = ""
			tgMsg.Text = chunk
			if sent, err = t.bot.Send(tgMsg); err != nil {
				return firstID, fmt.Errorf("send telegram message: %w", err)
			}
		}
		if i == 0 {
			firstID = sent.MessageID
		}
	}
	return firstID, nil
}

// Edit replaces the text of an earlier message. Overflow beyond one
// message is sent as follow-ups.
func (t *TelegramChannel) Edit(chatID int64, messageID int, content string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chunks := splitMessage(content, maxMessageLen)
	edit := tgbotapi.NewEditMessageText(chatID, messageID, toTelegramHTML(chunks[0]))
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(edit); err != nil {
		t.log.Warn().Err(err).Msg("Failed to edit with HTML, retrying as plain text")
		edit.ParseMode = ""
		edit.Text = chunks[0]
		if _, err := t.bot.Send(edit); err != nil {
			return fmt.Errorf("edit telegram message: %w", err)
		}
	}

	if len(chunks) > 1 {
		rest := strings.Join(chunks[1:], "")
		if _, err := t.Send(bus.OutboundMessage{ChatID: chatID, Content: rest}); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage cuts s into pieces of at most maxLen bytes, preferring the
// last newline and never splitting a UTF-8 sequence.
func splitMessage(s string, maxLen int) []string {
	if s == "" {
		return []string{""}
	}
	var chunks []string
	for len(s) > 0 {
		chunk := s
		if len(chunk) > maxLen {
			cut := maxLen
			for cut > 0 && !isRuneStart(s[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			if idx := strings.LastIndex(s[:cut], "\n"); idx > 0 {
				cut = idx
			}
			chunk = s[:cut]
		}
		chunks = append(chunks, chunk)
		s = s[len(chunk):]
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// toTelegramHTML converts basic markdown to Telegram HTML.
func toTelegramHTML(s string) string {
	// Escape HTML entities first
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	// Code blocks: ```...``` -> <pre>...</pre>
	for {
		start := strings.Index(s, "```")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+3:], "```")
		if end == -1 {
			break
		}
		end += start + 3
		code := s[start+3 : end]
		// Strip optional language tag on first line
		if nl := strings.Index(code, "\n"); nl >= 0 {
			firstLine := strings.TrimSpace(code[:nl])
			if len(firstLine) > 0 && !strings.Contains(firstLine, " ") {
				code = code[nl+1:]
			}
		}
		s = s[:start] + "<pre>" + code + "</pre>" + s[end+3:]
	}

	s = replacePairs(s, "`", "<code>", "</code>")
	s = replacePairs(s, "**", "<b>", "</b>")
	// Italic after bold so ** is already consumed.
	s = replacePairs(s, "*", "<i>", "</i>")
	return s
}

func replacePairs(s, marker, open, close string) string {
	for {
		start := strings.Index(s, marker)
		if start == -1 {
			return s
		}
		end := strings.Index(s[start+len(marker):], marker)
		if end == -1 {
			return s
		}
		end += start + len(marker)
		s = s[:start] + open + s[start+len(marker):end] + close + s[end+len(marker):]
	}
}
