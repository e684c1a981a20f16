package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"assistant-bot/internal/logging"
)

const DefaultSystemPrompt = "You are a helpful AI assistant in a Telegram bot. " +
	"Be concise, friendly, and helpful. " +
	"Keep responses reasonably short for mobile users."

// Apology is the reply used when no model could produce an answer.
const Apology = "I apologize, but I'm having trouble processing your request right now. " +
	"Please try again in a moment. If the problem persists, " +
	"the administrator has been notified."

const DefaultAttemptTimeout = 30 * time.Second

// DefaultModels is the fallback order, cheapest first.
var DefaultModels = []string{"gpt-3.5-turbo", "gpt-4", "gpt-4-turbo"}

type Options struct {
	SystemPrompt   string
	Models         []string
	AttemptTimeout time.Duration
	MaxTokens      int
	Temperature    float32
}

// Attempt is the outcome of asking one model.
type Attempt struct {
	Model    string
	Response Response
	Err      error
}

func (a Attempt) OK() bool { return a.Err == nil }

// ExhaustedError reports that every configured model failed.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all AI models failed (%d tried). Last error: %v", len(e.Attempts), e.last())
}

func (e *ExhaustedError) Unwrap() error { return e.last() }

// Generator turns a user message plus history into a reply, trying
// each configured model in order.
type Generator struct {
	backend Backend
	pool    *Pool
	opts    Options
}

func NewGenerator(backend Backend, pool *Pool, opts Options) *Generator {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if len(opts.Models) == 0 {
		opts.Models = append([]string(nil), DefaultModels...)
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Generator{backend: backend, pool: pool, opts: opts}
}

func (g *Generator) Models() []string { return append([]string(nil), g.opts.Models...) }

// BuildPrompt returns system prompt, history (already chronological)
// and the new user message, in that order.
func (g *Generator) BuildPrompt(message string, history []Message) []Message {
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: "system", Content: g.opts.SystemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: message})
	return msgs
}

// Generate returns the trimmed reply of the first model that succeeds,
// or an *ExhaustedError.
func (g *Generator) Generate(ctx context.Context, message string, history []Message) (string, error) {
	resp, err := g.complete(ctx, g.BuildPrompt(message, history))
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(resp.Content)
	logging.FromContext(ctx).Debug("generated response", "model", resp.Model, "preview", truncate(reply, 100))
	return reply, nil
}

// GenerateResponse never fails: any error is logged and replaced by Apology.
func (g *Generator) GenerateResponse(ctx context.Context, message string, history []Message) string {
	reply, err := g.Generate(ctx, message, history)
	if err != nil {
		logging.FromContext(ctx).Error("failed to generate AI response", "error", err)
		return Apology
	}
	return reply
}

// Ping sends a fixed probe through the fallback chain.
func (g *Generator) Ping(ctx context.Context) bool {
	resp, err := g.complete(ctx, []Message{
		{Role: "system", Content: "You are a test assistant."},
		{Role: "user", Content: "Say 'Hello' if you're working."},
	})
	if err != nil {
		logging.FromContext(ctx).Error("AI service test failed", "error", err)
		return false
	}
	return strings.Contains(strings.ToLower(resp.Content), "hello")
}

// Close shuts the worker pool without waiting for running calls.
func (g *Generator) Close() {
	g.pool.Close()
	slog.Info("AI service cleanup completed")
}

func (g *Generator) complete(ctx context.Context, messages []Message) (Response, error) {
	log := logging.FromContext(ctx)
	attempts := make([]Attempt, 0, len(g.opts.Models))
	for _, model := range g.opts.Models {
		a := g.attempt(ctx, model, messages)
		if a.OK() {
			log.Info("successfully generated response", "model", model,
				"prompt_tokens", a.Response.PromptTokens, "completion_tokens", a.Response.CompletionTokens)
			return a.Response, nil
		}
		log.Warn("model failed", "model", model, "error", truncate(a.Err.Error(), 100))
		attempts = append(attempts, a)
		if ctx.Err() != nil {
			break
		}
	}
	err := &ExhaustedError{Attempts: attempts}
	log.Error(err.Error())
	return Response{}, err
}

func (g *Generator) attempt(ctx context.Context, model string, messages []Message) Attempt {
	logging.FromContext(ctx).Debug("trying model", "model", model)
	req := Request{
		Model:       model,
		Messages:    messages,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	}
	resp, err := g.pool.Run(ctx, g.opts.AttemptTimeout, func(ctx context.Context) (Response, error) {
		return g.backend.Complete(ctx, req)
	})
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = ErrEmptyResponse
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return Attempt{Model: model, Response: resp, Err: err}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
