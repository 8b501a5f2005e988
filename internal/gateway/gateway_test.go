package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/geminibot/internal/assistant"
	"github.com/stellarlinkco/geminibot/internal/bus"
	"github.com/stellarlinkco/geminibot/internal/config"
	"github.com/stellarlinkco/geminibot/internal/media"
	"github.com/stellarlinkco/geminibot/internal/store"
)

const (
	ownerID = 1000
	chatID  = -200
)

type edit struct {
	messageID int
	content   string
}

type fakeTransport struct {
	mu        sync.Mutex
	started   bool
	stopped   bool
	sent      []bus.OutboundMessage
	edits     []edit
	editErr   error
	downloads []int
	nextID    int
}

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeTransport) Send(msg bus.OutboundMessage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	f.nextID++
	return 500 + f.nextID, nil
}

func (f *fakeTransport) Edit(_ int64, messageID int, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, edit{messageID, content})
	return nil
}

func (f *fakeTransport) Download(_ context.Context, att bus.Attachment, messageID int, dir string) (string, error) {
	f.mu.Lock()
	f.downloads = append(f.downloads, messageID)
	f.mu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, att.Kind.FileName(int64(messageID), att.MIMEType, att.FileName))
	return path, os.WriteFile(path, []byte{0xff, 0xd8, 0xff}, 0o644)
}

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Content
	}
	return out
}

type fakeProcessor struct {
	mu          sync.Mutex
	textEvents  []assistant.TextEvent
	mediaEvents []assistant.MediaEvent
	prompts     []string
	answer      string
	err         error
}

func (p *fakeProcessor) ProcessTextEvent(_ context.Context, ev assistant.TextEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.textEvents = append(p.textEvents, ev)
	return p.answer, p.err
}

func (p *fakeProcessor) ProcessMediaEvent(_ context.Context, ev assistant.MediaEvent, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mediaEvents = append(p.mediaEvents, ev)
	p.prompts = append(p.prompts, prompt)
	return p.answer, p.err
}

func (p *fakeProcessor) textCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.textEvents)
}

type harness struct {
	gw        *Gateway
	store     *store.Store
	transport *fakeTransport
	processor *fakeProcessor
	sigCh     chan os.Signal
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig()
	cfg.Telegram.OwnerID = ownerID
	cfg.Storage.MediaDir = filepath.Join(t.TempDir(), "media")

	h := &harness{
		store:     st,
		transport: &fakeTransport{},
		processor: &fakeProcessor{answer: "4"},
		sigCh:     make(chan os.Signal, 1),
	}
	h.gw, err = NewWithOptions(context.Background(), cfg, zerolog.Nop(), Options{
		SignalChan: h.sigCh,
		Transport:  h.transport,
		Store:      st,
		Processor:  h.processor,
	})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	return h
}

func message(sender int64, id int, text string) bus.InboundMessage {
	return bus.InboundMessage{
		ChatID:    chatID,
		MessageID: id,
		SenderID:  sender,
		Author:    "alice",
		Text:      text,
		Timestamp: time.Now(),
	}
}

func (h *harness) window(t *testing.T) store.Window {
	t.Helper()
	w, err := h.store.Windowed(context.Background(), chatID, 0)
	if err != nil {
		t.Fatalf("windowed: %v", err)
	}
	return w
}

func TestHandle_OwnerTrigger(t *testing.T) {
	h := newHarness(t)

	h.gw.handle(context.Background(), message(ownerID, 10, "Gemini, what is 2+2"))

	if len(h.processor.textEvents) != 1 {
		t.Fatalf("text events = %d, want 1", len(h.processor.textEvents))
	}
	if got := h.processor.textEvents[0].Query; got != "what is 2+2" {
		t.Errorf("query = %q, want 'what is 2+2'", got)
	}
	if len(h.transport.sent) != 1 || h.transport.sent[0].Content != thinkingText || h.transport.sent[0].ReplyTo != 10 {
		t.Errorf("sent = %+v, want one placeholder replying to 10", h.transport.sent)
	}
	if len(h.transport.edits) != 1 || h.transport.edits[0].content != "4" {
		t.Errorf("edits = %+v, want answer in placeholder", h.transport.edits)
	}

	w := h.window(t)
	if len(w.Recent) != 2 {
		t.Fatalf("recent = %d, want question and answer", len(w.Recent))
	}
	reply := w.Recent[0]
	if reply.Importance != store.GeneratedReply || reply.Author != botAuthor || reply.Content != "4" {
		t.Errorf("reply record = %+v", reply)
	}
	if reply.MessageID != int64(h.transport.edits[0].messageID) {
		t.Errorf("reply id = %d, want placeholder id", reply.MessageID)
	}
}

func TestHandle_NotWhitelistedIgnored(t *testing.T) {
	h := newHarness(t)

	h.gw.handle(context.Background(), message(42, 10, "Gemini, hi"))

	if h.processor.textCount() != 0 {
		t.Error("non-whitelisted chat should not be answered")
	}
	if len(h.transport.sent) != 0 {
		t.Errorf("sent = %v, want nothing", h.transport.sentTexts())
	}
	if got := h.window(t).Len(); got != 1 {
		t.Errorf("stored = %d, want the message still logged", got)
	}
}

func TestHandle_EnableDisable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gw.handle(ctx, message(ownerID, 1, "!enable"))
	h.gw.handle(ctx, message(ownerID, 2, "!enable"))
	h.gw.handle(ctx, message(42, 3, "Гемини, привет"))
	h.gw.handle(ctx, message(ownerID, 4, "!disable"))
	h.gw.handle(ctx, message(ownerID, 5, "!disable"))
	h.gw.handle(ctx, message(42, 6, "Гемини, ещё раз"))

	texts := h.transport.sentTexts()
	want := []string{"Chat enabled ✅", "Chat already enabled ✅", thinkingText, "Chat disabled ❌", "Chat already disabled ❌"}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Errorf("sent = %q, want %q", texts, want)
	}
	if h.processor.textCount() != 1 {
		t.Errorf("text events = %d, want 1", h.processor.textCount())
	}
	if got := h.processor.textEvents[0].Query; got != "привет" {
		t.Errorf("query = %q", got)
	}
}

func TestHandle_CommandsFromOthersAreJustText(t *testing.T) {
	h := newHarness(t)

	h.gw.handle(context.Background(), message(42, 1, "!enable"))

	if len(h.transport.sent) != 0 {
		t.Errorf("sent = %v, want nothing", h.transport.sentTexts())
	}
	ok, _ := h.store.IsWhitelisted(context.Background(), chatID)
	if ok {
		t.Error("non-owner must not whitelist a chat")
	}
	if h.window(t).Len() != 1 {
		t.Error("message should be logged")
	}
}

func TestHandle_Debug(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gw.handle(ctx, message(42, 1, "first"))
	h.gw.handle(ctx, message(42, 2, "second"))
	h.gw.handle(ctx, message(ownerID, 3, "!debug"))

	texts := h.transport.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("sent = %q", texts)
	}
	want := "Last 10 messages:\n\nalice: first\nalice: second"
	if texts[0] != want {
		t.Errorf("debug = %q, want %q", texts[0], want)
	}
}

func TestHandle_Pin(t *testing.T) {
	h := newHarness(t)

	h.gw.handle(context.Background(), message(ownerID, 7, "!Гемини the wifi password is hunter2"))

	w := h.window(t)
	if len(w.Pinned) != 1 || len(w.Recent) != 0 {
		t.Fatalf("window = %+v, want one pinned record", w)
	}
	if w.Pinned[0].Content != "!Гемини the wifi password is hunter2" {
		t.Errorf("pinned content = %q", w.Pinned[0].Content)
	}
	if texts := h.transport.sentTexts(); len(texts) != 1 || texts[0] != pinnedConfirm {
		t.Errorf("sent = %q", texts)
	}
	if h.processor.textCount() != 0 {
		t.Error("pin must not trigger generation")
	}
}

func TestHandle_MediaReply(t *testing.T) {
	h := newHarness(t)
	h.processor.answer = "a cat"

	msg := message(ownerID, 11, "!media describe")
	msg.ReplyTo = &bus.InboundMessage{
		ChatID:     chatID,
		MessageID:  10,
		Attachment: &bus.Attachment{Kind: media.Photo, FileID: "photo-1"},
	}
	h.gw.handle(context.Background(), msg)

	if len(h.transport.downloads) != 1 || h.transport.downloads[0] != 10 {
		t.Fatalf("downloads = %v, want the replied-to message", h.transport.downloads)
	}
	if len(h.processor.mediaEvents) != 1 {
		t.Fatalf("media events = %d, want 1", len(h.processor.mediaEvents))
	}
	ev := h.processor.mediaEvents[0]
	if len(ev.Files) != 1 || filepath.Base(ev.Files[0].Path) != "photo_10.jpg" || ev.Files[0].MIMEType != "image/jpeg" {
		t.Errorf("files = %+v", ev.Files)
	}
	if h.processor.prompts[0] != "describe" {
		t.Errorf("prompt = %q, want describe", h.processor.prompts[0])
	}
	if len(h.transport.edits) != 1 || h.transport.edits[0].content != "a cat" {
		t.Errorf("edits = %+v", h.transport.edits)
	}
}

func TestHandle_MediaWithoutAttachment(t *testing.T) {
	h := newHarness(t)

	h.gw.handle(context.Background(), message(ownerID, 11, "!media describe"))

	if len(h.processor.mediaEvents) != 0 {
		t.Error("no media event expected")
	}
	texts := h.transport.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0], "!media") {
		t.Errorf("sent = %q, want usage hint", texts)
	}
}

func TestHandle_ProcessorError(t *testing.T) {
	h := newHarness(t)
	h.processor.err = fmt.Errorf("%w: files/1", media.ErrUpload)

	h.gw.handle(context.Background(), message(ownerID, 10, "Gemini, hi"))

	if len(h.transport.edits) != 1 || !strings.HasPrefix(h.transport.edits[0].content, "❌ Error processing request: ") {
		t.Errorf("edits = %+v", h.transport.edits)
	}
	if got := h.window(t).Len(); got != 1 {
		t.Errorf("stored = %d, failures are not stored as replies", got)
	}
}

func TestHandle_EditFailureFallsBackToReply(t *testing.T) {
	h := newHarness(t)
	h.transport.editErr = errors.New("message not modified")

	h.gw.handle(context.Background(), message(ownerID, 10, "Gemini, hi"))

	texts := h.transport.sentTexts()
	if len(texts) != 2 || texts[1] != "4" {
		t.Errorf("sent = %q, want placeholder then answer", texts)
	}
}

func TestRun_ProcessesInboundAndShutsDown(t *testing.T) {
	h := newHarness(t)

	done := make(chan error, 1)
	go func() { done <- h.gw.Run(context.Background()) }()

	h.gw.Inbound() <- message(ownerID, 10, "Gemini, ping")

	deadline := time.After(2 * time.Second)
	for h.processor.textCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("inbound message was not processed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	h.sigCh <- os.Interrupt
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after signal")
	}

	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	if !h.transport.started || !h.transport.stopped {
		t.Errorf("transport started=%v stopped=%v", h.transport.started, h.transport.stopped)
	}
}

func TestSweepMedia(t *testing.T) {
	h := newHarness(t)
	dir := h.gw.cfg.Storage.MediaDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "photo_1.jpg")
	os.WriteFile(stale, []byte("x"), 0o644)
	old := time.Now().Add(-3 * time.Hour)
	os.Chtimes(stale, old, old)

	jobs := h.gw.cron.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != sweepJobName {
		t.Fatalf("jobs = %+v, want the media sweep", jobs)
	}
	if err := h.gw.cron.RunNow(jobs[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale media should be swept")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in, name, rest string
	}{
		{"!enable", "enable", ""},
		{"!media  describe this ", "media", "describe this"},
		{"!Гемини note", "Гемини", "note"},
		{"Gemini, hi", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		name, rest := parseCommand(tt.in)
		if name != tt.name || rest != tt.rest {
			t.Errorf("parseCommand(%q) = %q, %q; want %q, %q", tt.in, name, rest, tt.name, tt.rest)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"привет мир", 6, "привет..."},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}

func TestNew_RequiresGeminiKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := config.DefaultConfig()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "bot.db")
	if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Error("expected error without api key")
	}
}
