package llm

import (
	"testing"
	"time"

	"assistant-bot/internal/config"
)

func TestNewBackend_OpenAI(t *testing.T) {
	b, err := NewBackend(&config.Config{AIProvider: config.ProviderOpenAI, OpenAIAPIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*OpenAIBackend); !ok {
		t.Fatalf("backend = %T, want *OpenAIBackend", b)
	}
}

func TestNewBackend_Unknown(t *testing.T) {
	if _, err := NewBackend(&config.Config{AIProvider: "anthropic"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Models:         []string{"a", "b"},
		AttemptTimeout: 5 * time.Second,
		MaxTokens:      100,
		Temperature:    0.2,
	}
	opts := OptionsFromConfig(cfg, "be brief")
	if opts.SystemPrompt != "be brief" || opts.AttemptTimeout != 5*time.Second || opts.MaxTokens != 100 || opts.Temperature != 0.2 {
		t.Fatalf("unexpected options %+v", opts)
	}
	opts.Models[0] = "changed"
	if cfg.Models[0] != "a" {
		t.Fatal("options share the config model slice")
	}
}
