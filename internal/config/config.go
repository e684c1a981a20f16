package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	AdminUserID      int64  `env:"ADMIN_USER"`

	// Storage
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite+aiosqlite:///telegram_bot.db"`

	// Logging
	LogLevel       string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"text"`
	LogFilePath    string `env:"LOG_FILE_PATH" envDefault:"logs/bot.log"`
	MaxLogSizeMB   int    `env:"MAX_LOG_SIZE_MB" envDefault:"10"`
	LogBackupCount int    `env:"LOG_BACKUP_COUNT" envDefault:"5"`

	// LLM settings
	AIProvider       LLMProvider   `env:"AI_PROVIDER" envDefault:"openai"`
	Models           []string      `env:"AI_MODELS" envSeparator:"," envDefault:"gpt-3.5-turbo,gpt-4,gpt-4-turbo"`
	AttemptTimeout   time.Duration `env:"AI_TIMEOUT" envDefault:"30s"`
	Workers          int           `env:"AI_WORKERS" envDefault:"2"`
	MaxTokens        int           `env:"AI_MAX_TOKENS" envDefault:"2048"`
	Temperature      float32       `env:"AI_TEMPERATURE" envDefault:"0.7"`
	SelfTest         bool          `env:"AI_SELF_TEST" envDefault:"false"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL"`
	YandexOAuthToken string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string        `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH"`

	// Conversation
	HistoryLimit int `env:"HISTORY_LIMIT" envDefault:"10"`

	// Formatting
	MessageParseMode string `env:"MESSAGE_PARSE_MODE" envDefault:"HTML"`

	// Daily report, UTC cron expression; empty disables it
	ReportSchedule string `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var logLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARN": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN must not be empty")
	}
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	c.AIProvider = LLMProvider(strings.ToLower(string(c.AIProvider)))
	switch c.AIProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER=openai")
		}
	case ProviderYandex:
		if c.YandexOAuthToken == "" || c.YandexFolderID == "" {
			return fmt.Errorf("YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID are required when AI_PROVIDER=yandex")
		}
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}

	models := c.Models[:0]
	for _, m := range c.Models {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	c.Models = models
	if len(c.Models) == 0 {
		return fmt.Errorf("AI_MODELS must name at least one model")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("AI_WORKERS must be positive, got %d", c.Workers)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive, got %s", c.AttemptTimeout)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}
	if c.MaxLogSizeMB <= 0 {
		return fmt.Errorf("MAX_LOG_SIZE_MB must be positive, got %d", c.MaxLogSizeMB)
	}
	if c.LogBackupCount < 0 {
		return fmt.Errorf("LOG_BACKUP_COUNT must not be negative, got %d", c.LogBackupCount)
	}
	return nil
}
