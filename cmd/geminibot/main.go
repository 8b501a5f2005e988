package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/geminibot/internal/assistant"
	"github.com/stellarlinkco/geminibot/internal/config"
	"github.com/stellarlinkco/geminibot/internal/gateway"
	"github.com/stellarlinkco/geminibot/internal/logging"
	"github.com/stellarlinkco/geminibot/internal/media"
	"github.com/stellarlinkco/geminibot/internal/store"
)

// cliChatID keys the conversation the ask command keeps in the store.
const cliChatID int64 = 0

const cliAuthor = "cli"

// Runtime answers requests outside of Telegram (allows mocking in tests)
type Runtime interface {
	ProcessTextEvent(ctx context.Context, ev assistant.TextEvent) (string, error)
	ProcessMediaEvent(ctx context.Context, ev assistant.MediaEvent, prompt string) (string, error)
	Close() error
}

// coreRuntime records the CLI conversation around the shared processor.
type coreRuntime struct {
	core *gateway.Core
}

func (r *coreRuntime) ProcessTextEvent(ctx context.Context, ev assistant.TextEvent) (string, error) {
	r.record(ctx, cliAuthor, ev.Query, store.Default)
	out, err := r.core.Processor.ProcessTextEvent(ctx, ev)
	if err == nil {
		r.record(ctx, "Gemini", out, store.GeneratedReply)
	}
	return out, err
}

func (r *coreRuntime) ProcessMediaEvent(ctx context.Context, ev assistant.MediaEvent, prompt string) (string, error) {
	return r.core.Processor.ProcessMediaEvent(ctx, ev, prompt)
}

func (r *coreRuntime) Close() error {
	return r.core.Close()
}

func (r *coreRuntime) record(ctx context.Context, author, content string, imp store.Importance) {
	_ = r.core.Store.Append(ctx, store.Record{
		ChatID:     cliChatID,
		Author:     author,
		Date:       time.Now(),
		Content:    content,
		Importance: imp,
	})
}

// RuntimeFactory creates a Runtime instance
type RuntimeFactory func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Runtime, error)

// DefaultRuntimeFactory builds the Gemini-backed core
func DefaultRuntimeFactory(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Runtime, error) {
	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'geminibot onboard' or set GEMINIBOT_GEMINI_API_KEY / GEMINI_API_KEY")
	}
	core, err := gateway.NewCore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &coreRuntime{core: core}, nil
}

// AskOptions for running ask with custom dependencies
type AskOptions struct {
	RuntimeFactory RuntimeFactory
	Message        string
	Files          []string
	Think          bool
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "geminibot",
	Short: "geminibot - Gemini assistant for Telegram group chats",
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask once with -m, or start a REPL",
	RunE:  runAsk,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the Telegram gateway (bot + media sweep)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show geminibot status",
	RunE:  runStatus,
}

var (
	messageFlag string
	fileFlags   []string
	thinkFlag   bool
)

func init() {
	askCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	askCmd.Flags().StringArrayVar(&fileFlags, "file", nil, "Attach a local file (repeatable)")
	askCmd.Flags().BoolVar(&thinkFlag, "think", false, "Use the reasoning model")
	rootCmd.AddCommand(askCmd, gatewayCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	return runAskWithOptions(cmd.Context(), AskOptions{
		Message: messageFlag,
		Files:   fileFlags,
		Think:   thinkFlag,
	})
}

// runAskWithOptions runs ask with injectable dependencies for testing
func runAskWithOptions(ctx context.Context, opts AskOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.RuntimeFactory
	if factory == nil {
		factory = DefaultRuntimeFactory
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	log := logging.NewWithWriter(cfg.Log, stderr)
	rt, err := factory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	if len(opts.Files) > 0 {
		inputs, err := stageFiles(opts.Files, cfg.Storage.MediaDir)
		if err != nil {
			return err
		}
		out, err := rt.ProcessMediaEvent(ctx, assistant.MediaEvent{
			ChatID:     cliChatID,
			Files:      inputs,
			Analytical: opts.Think,
		}, opts.Message)
		if err != nil {
			return fmt.Errorf("ask error: %w", err)
		}
		fmt.Fprintln(stdout, out)
		return nil
	}

	// Single message mode
	if opts.Message != "" {
		out, err := rt.ProcessTextEvent(ctx, assistant.TextEvent{
			ChatID:     cliChatID,
			Query:      opts.Message,
			Analytical: opts.Think,
		})
		if err != nil {
			return fmt.Errorf("ask error: %w", err)
		}
		fmt.Fprintln(stdout, out)
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "geminibot (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		out, err := rt.ProcessTextEvent(ctx, assistant.TextEvent{
			ChatID:     cliChatID,
			Query:      input,
			Analytical: opts.Think,
		})
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, out)
	}
	return nil
}

// stageFiles copies the given files into the media directory so that
// the pipeline's cleanup never touches the originals.
func stageFiles(paths []string, dir string) ([]media.Input, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	inputs := make([]media.Input, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		staged := filepath.Join(dir, "cli_"+uuid.NewString()[:8]+"_"+filepath.Base(p))
		if err := os.WriteFile(staged, data, 0o644); err != nil {
			return nil, fmt.Errorf("stage %s: %w", p, err)
		}
		inputs = append(inputs, media.Input{Path: staged, MIMEType: media.ResolveMIME("", p)})
	}
	return inputs, nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Gemini.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'geminibot onboard' or set GEMINIBOT_GEMINI_API_KEY / GEMINI_API_KEY")
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token not set. Edit %s or set GEMINIBOT_TELEGRAM_TOKEN", config.ConfigPath())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := logging.New(cfg.Log)
	gw, err := gateway.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	return onboard(cmd.OutOrStdout())
}

func onboard(out io.Writer) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, dir := range []string{filepath.Dir(cfg.Storage.DBPath), cfg.Storage.MediaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	fmt.Fprintf(out, "Data ready: %s\n", filepath.Dir(cfg.Storage.DBPath))
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key, bot token and owner id\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set GEMINIBOT_GEMINI_API_KEY and GEMINIBOT_TELEGRAM_TOKEN")
	fmt.Fprintln(out, "  3. Run 'geminibot ask -m \"Hello\"' to test")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	status(cmd.OutOrStdout())
	return nil
}

func status(out io.Writer) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Models: %s / %s / %s\n", cfg.Gemini.Model, cfg.Gemini.ReasoningModel, cfg.Gemini.MultimodalModel)
	fmt.Fprintf(out, "API Key: %s\n", mask(cfg.Gemini.APIKey))
	fmt.Fprintf(out, "Telegram Token: %s\n", mask(cfg.Telegram.Token))
	fmt.Fprintf(out, "Owner: %d\n", cfg.Telegram.OwnerID)
	fmt.Fprintf(out, "Triggers: %s\n", strings.Join(cfg.Bot.Triggers, ", "))

	if _, err := os.Stat(cfg.Storage.DBPath); err != nil {
		fmt.Fprintln(out, "Database: not found (run 'geminibot onboard')")
	} else {
		fmt.Fprintf(out, "Database: %s\n", cfg.Storage.DBPath)
	}
	fmt.Fprintf(out, "Media: %s (sweep %s, max age %s)\n", cfg.Storage.MediaDir, cfg.Media.SweepSchedule, cfg.Media.MaxAge())
}

func mask(secret string) string {
	switch {
	case secret == "":
		return "not set"
	case len(secret) > 8:
		return secret[:4] + "..." + secret[len(secret)-4:]
	default:
		return "set"
	}
}
