package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultModel             = "gemini-2.0-flash"
	DefaultReasoningModel    = "gemini-2.0-flash-thinking-exp-01-21"
	DefaultMultimodalModel   = "gemini-2.0-flash"
	DefaultTemperature       = 1.0
	DefaultTopP              = 0.95
	DefaultTopK              = 60
	DefaultMaxOutputTokens   = 8192
	DefaultGeminiTimeout     = 120
	DefaultPollAttempts      = 30
	DefaultPollIntervalMs    = 500
	DefaultUploadConcurrency = 2
	DefaultCleanupTimeout    = 30
	DefaultSweepSchedule     = "@every 30m"
	DefaultSweepMaxAge       = "2h"
	DefaultHistoryLimit      = 120
	DefaultDebugLimit        = 10
	DefaultPinCommand        = "Гемини"
	DefaultThinkMarker       = "!думай"
	DefaultLogLevel          = "info"
	DefaultBufSize           = 100
)

// DefaultTriggers are the words that make the bot answer a message.
var DefaultTriggers = []string{"Гемини", "Gemini"}

type Config struct {
	Gemini   GeminiConfig   `json:"gemini"`
	Telegram TelegramConfig `json:"telegram"`
	Storage  StorageConfig  `json:"storage"`
	Media    MediaConfig    `json:"media"`
	Bot      BotConfig      `json:"bot"`
	Log      LogConfig      `json:"log"`
}

type GeminiConfig struct {
	APIKey          string  `json:"apiKey"`
	BaseURL         string  `json:"baseUrl,omitempty"`
	Model           string  `json:"model"`
	ReasoningModel  string  `json:"reasoningModel"`
	MultimodalModel string  `json:"multimodalModel"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            float64 `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	WebSearch       bool    `json:"webSearch"`
	SystemPrompt    string  `json:"systemPrompt,omitempty"`
	TimeoutSec      int     `json:"timeoutSec"`
}

type TelegramConfig struct {
	Token     string   `json:"token"`
	Proxy     string   `json:"proxy,omitempty"`
	OwnerID   int64    `json:"ownerId"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

type StorageConfig struct {
	DBPath   string `json:"dbPath,omitempty"`
	MediaDir string `json:"mediaDir,omitempty"`
}

type MediaConfig struct {
	PollAttempts      int    `json:"pollAttempts"`
	PollIntervalMs    int    `json:"pollIntervalMs"`
	UploadConcurrency int    `json:"uploadConcurrency"`
	CleanupTimeoutSec int    `json:"cleanupTimeoutSec"`
	SweepSchedule     string `json:"sweepSchedule"`
	SweepMaxAge       string `json:"sweepMaxAge"`
}

// PollInterval returns the spacing between readiness checks.
func (m MediaConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMs) * time.Millisecond
}

// CleanupTimeout bounds a single teardown pass.
func (m MediaConfig) CleanupTimeout() time.Duration {
	return time.Duration(m.CleanupTimeoutSec) * time.Second
}

// MaxAge parses SweepMaxAge, falling back to the default on bad input.
func (m MediaConfig) MaxAge() time.Duration {
	if d, err := time.ParseDuration(m.SweepMaxAge); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultSweepMaxAge)
	return d
}

type BotConfig struct {
	Triggers     []string `json:"triggers"`
	PinCommand   string   `json:"pinCommand"`
	ThinkMarker  string   `json:"thinkMarker"`
	HistoryLimit int      `json:"historyLimit"`
	DebugLimit   int      `json:"debugLimit"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

func DefaultConfig() *Config {
	return &Config{
		Gemini: GeminiConfig{
			Model:           DefaultModel,
			ReasoningModel:  DefaultReasoningModel,
			MultimodalModel: DefaultMultimodalModel,
			Temperature:     DefaultTemperature,
			TopP:            DefaultTopP,
			TopK:            DefaultTopK,
			MaxOutputTokens: DefaultMaxOutputTokens,
			WebSearch:       true,
			TimeoutSec:      DefaultGeminiTimeout,
		},
		Storage: StorageConfig{
			DBPath:   filepath.Join(ConfigDir(), "data", "bot.db"),
			MediaDir: filepath.Join(ConfigDir(), "data", "media"),
		},
		Media: MediaConfig{
			PollAttempts:      DefaultPollAttempts,
			PollIntervalMs:    DefaultPollIntervalMs,
			UploadConcurrency: DefaultUploadConcurrency,
			CleanupTimeoutSec: DefaultCleanupTimeout,
			SweepSchedule:     DefaultSweepSchedule,
			SweepMaxAge:       DefaultSweepMaxAge,
		},
		Bot: BotConfig{
			Triggers:     append([]string(nil), DefaultTriggers...),
			PinCommand:   DefaultPinCommand,
			ThinkMarker:  DefaultThinkMarker,
			HistoryLimit: DefaultHistoryLimit,
			DebugLimit:   DefaultDebugLimit,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".geminibot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("GEMINIBOT_GEMINI_API_KEY"); key != "" {
		cfg.Gemini.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = key
	}
	if url := os.Getenv("GEMINIBOT_BASE_URL"); url != "" {
		cfg.Gemini.BaseURL = url
	}
	if token := os.Getenv("GEMINIBOT_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if owner := os.Getenv("GEMINIBOT_OWNER_ID"); owner != "" {
		if parsed, err := strconv.ParseInt(owner, 10, 64); err == nil {
			cfg.Telegram.OwnerID = parsed
		}
	}
	if dbPath := os.Getenv("GEMINIBOT_DB_PATH"); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if dir := os.Getenv("GEMINIBOT_MEDIA_DIR"); dir != "" {
		cfg.Storage.MediaDir = dir
	}
	if level := os.Getenv("GEMINIBOT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// applyDefaults repairs zero values left by a partial config file.
func applyDefaults(cfg *Config) {
	def := DefaultConfig()

	if strings.TrimSpace(cfg.Gemini.Model) == "" {
		cfg.Gemini.Model = def.Gemini.Model
	}
	if strings.TrimSpace(cfg.Gemini.ReasoningModel) == "" {
		cfg.Gemini.ReasoningModel = def.Gemini.ReasoningModel
	}
	if strings.TrimSpace(cfg.Gemini.MultimodalModel) == "" {
		cfg.Gemini.MultimodalModel = def.Gemini.MultimodalModel
	}
	if cfg.Gemini.MaxOutputTokens <= 0 {
		cfg.Gemini.MaxOutputTokens = def.Gemini.MaxOutputTokens
	}
	if cfg.Gemini.TimeoutSec <= 0 {
		cfg.Gemini.TimeoutSec = def.Gemini.TimeoutSec
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = def.Storage.DBPath
	}
	if cfg.Storage.MediaDir == "" {
		cfg.Storage.MediaDir = def.Storage.MediaDir
	}
	if cfg.Media.PollAttempts <= 0 {
		cfg.Media.PollAttempts = DefaultPollAttempts
	}
	if cfg.Media.PollIntervalMs <= 0 {
		cfg.Media.PollIntervalMs = DefaultPollIntervalMs
	}
	if cfg.Media.UploadConcurrency <= 0 {
		cfg.Media.UploadConcurrency = DefaultUploadConcurrency
	}
	if cfg.Media.CleanupTimeoutSec <= 0 {
		cfg.Media.CleanupTimeoutSec = DefaultCleanupTimeout
	}
	if cfg.Media.SweepSchedule == "" {
		cfg.Media.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Media.SweepMaxAge == "" {
		cfg.Media.SweepMaxAge = DefaultSweepMaxAge
	}
	if len(cfg.Bot.Triggers) == 0 {
		cfg.Bot.Triggers = append([]string(nil), DefaultTriggers...)
	}
	if cfg.Bot.PinCommand == "" {
		cfg.Bot.PinCommand = DefaultPinCommand
	}
	if cfg.Bot.ThinkMarker == "" {
		cfg.Bot.ThinkMarker = DefaultThinkMarker
	}
	if cfg.Bot.HistoryLimit <= 0 {
		cfg.Bot.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Bot.DebugLimit <= 0 {
		cfg.Bot.DebugLimit = DefaultDebugLimit
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}
