package llm

import (
	"context"
	"fmt"

	"github.com/Morwran/yagpt"
)

// YandexBackend talks to YandexGPT. The folder decides which model
// serves the request, so Request.Model is only echoed back.
type YandexBackend struct {
	ya       yagpt.YaGPTFace
	iamToken string
}

func NewYandex(oauthToken, folderID string) (*YandexBackend, error) {
	// Create IAM token from OAuth token
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	resp, err := iam.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create iam token: %w", err)
	}

	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}

	return &YandexBackend{
		ya:       ya,
		iamToken: resp.IamToken,
	}, nil
}

func (c *YandexBackend) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]yagpt.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, yagpt.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := c.ya.CompletionWithCtx(ctx, c.iamToken, messages)
	if err != nil {
		return Response{}, fmt.Errorf("yagpt completion failed: %w", err)
	}
	if resp == nil || len(resp.Alternatives) == 0 || resp.Alternatives[0].Message.Content == "" {
		return Response{}, ErrEmptyResponse
	}
	model := req.Model
	if model == "" {
		model = yagpt.YaModelLite
	}
	out := Response{Content: resp.Alternatives[0].Message.Content, Model: model}
	out.PromptTokens = int(resp.Usage.InputTextTokens)
	out.CompletionTokens = int(resp.Usage.CompletionTokens)
	out.TotalTokens = int(resp.Usage.TotalTokens)
	return out, nil
}
