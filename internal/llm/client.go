package llm

import (
	"context"
	"errors"
)

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is one chat completion call against a named model.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Backend is a remote text-generation service.
type Backend interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("llm: empty response")
