package llm

import (
	"fmt"

	"assistant-bot/internal/config"
)

// NewBackend builds the backend selected by AI_PROVIDER.
func NewBackend(cfg *config.Config) (Backend, error) {
	switch cfg.AIProvider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenRouterReferrer, cfg.OpenRouterTitle), nil
	case config.ProviderYandex:
		return NewYandex(cfg.YandexOAuthToken, cfg.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.AIProvider)
	}
}

// OptionsFromConfig maps generation settings onto Options. The system
// prompt is passed separately because it may come from a file.
func OptionsFromConfig(cfg *config.Config, systemPrompt string) Options {
	return Options{
		SystemPrompt:   systemPrompt,
		Models:         append([]string(nil), cfg.Models...),
		AttemptTimeout: cfg.AttemptTimeout,
		MaxTokens:      cfg.MaxTokens,
		Temperature:    cfg.Temperature,
	}
}
