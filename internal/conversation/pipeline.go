// Package conversation ties the user directory, the conversation log
// and the generator together for one inbound message at a time.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"assistant-bot/internal/history"
	"assistant-bot/internal/llm"
	"assistant-bot/internal/logging"
	"assistant-bot/internal/users"
)

type UserDirectory interface {
	GetOrCreate(ctx context.Context, externalID int64, displayName string) (users.User, error)
	UpdateDisplayName(ctx context.Context, externalID int64, name string) (bool, error)
}

type ConversationLog interface {
	Append(ctx context.Context, userID int64, role history.Role, content string) (history.Message, error)
	Recent(ctx context.Context, userID int64, limit int) ([]history.Message, error)
	Count(ctx context.Context, userID int64) (int, error)
	Clear(ctx context.Context, userID int64) (bool, error)
}

// Responder always produces some text; failures are its own concern.
type Responder interface {
	GenerateResponse(ctx context.Context, message string, history []llm.Message) string
}

// TypingNotifier asks the transport to show an activity indicator.
type TypingNotifier interface {
	Typing(ctx context.Context) error
}

// Identity is the sender as reported by the platform.
type Identity struct {
	ExternalID  int64
	DisplayName string
}

type Inbound struct {
	Identity
	Text string
}

type Reply struct {
	Text    string
	Ignored bool
}

type Stats struct {
	UserID        int64
	DisplayName   string
	JoinedAt      time.Time
	TotalMessages int
}

type Pipeline struct {
	users        UserDirectory
	log          ConversationLog
	responder    Responder
	historyLimit int
}

func NewPipeline(users UserDirectory, log ConversationLog, responder Responder, historyLimit int) *Pipeline {
	if historyLimit <= 0 {
		historyLimit = history.DefaultLimit
	}
	return &Pipeline{users: users, log: log, responder: responder, historyLimit: historyLimit}
}

// HandleMessage runs one inbound text through the pipeline. Empty input
// is ignored without touching storage. Storage errors are returned; the
// generator never fails.
func (p *Pipeline) HandleMessage(ctx context.Context, in Inbound, typing TypingNotifier) (Reply, error) {
	if strings.TrimSpace(in.Text) == "" {
		return Reply{Ignored: true}, nil
	}
	if logging.RequestID(ctx) == "" {
		ctx = logging.WithRequestID(ctx)
	}
	log := logging.FromContext(ctx).With("external_id", in.ExternalID)

	user, err := p.resolve(ctx, in.Identity)
	if err != nil {
		return Reply{}, err
	}

	stored, err := p.log.Append(ctx, user.ID, history.RoleUser, in.Text)
	if err != nil {
		return Reply{}, err
	}

	window, err := p.log.Recent(ctx, user.ID, p.historyLimit)
	if err != nil {
		return Reply{}, err
	}
	prior := toPrompt(history.Chronological(window), stored.ID)

	if typing != nil {
		if err := typing.Typing(ctx); err != nil {
			log.Debug("typing indicator failed", "error", err)
		}
	}

	reply := p.responder.GenerateResponse(ctx, in.Text, prior)

	if _, err := p.log.Append(ctx, user.ID, history.RoleAssistant, reply); err != nil {
		return Reply{}, err
	}
	log.Info("message handled", "user_id", user.ID, "history", len(prior))
	return Reply{Text: reply}, nil
}

// Reset wipes the sender's history. The user row is kept.
func (p *Pipeline) Reset(ctx context.Context, id Identity) (bool, error) {
	user, err := p.resolve(ctx, id)
	if err != nil {
		return false, err
	}
	return p.log.Clear(ctx, user.ID)
}

func (p *Pipeline) Stats(ctx context.Context, id Identity) (Stats, error) {
	user, err := p.resolve(ctx, id)
	if err != nil {
		return Stats{}, err
	}
	n, err := p.log.Count(ctx, user.ID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		UserID:        user.ID,
		DisplayName:   user.DisplayName,
		JoinedAt:      user.CreatedAt,
		TotalMessages: n,
	}, nil
}

// Register makes sure the sender has a user row, as /start does.
func (p *Pipeline) Register(ctx context.Context, id Identity) error {
	_, err := p.resolve(ctx, id)
	return err
}

// resolve returns the user for id and refreshes a changed display name.
func (p *Pipeline) resolve(ctx context.Context, id Identity) (users.User, error) {
	user, err := p.users.GetOrCreate(ctx, id.ExternalID, id.DisplayName)
	if err != nil {
		return users.User{}, fmt.Errorf("resolve user: %w", err)
	}
	if id.DisplayName != "" && id.DisplayName != user.DisplayName {
		if _, err := p.users.UpdateDisplayName(ctx, id.ExternalID, id.DisplayName); err != nil {
			return users.User{}, fmt.Errorf("resolve user: %w", err)
		}
		user.DisplayName = id.DisplayName
	}
	return user, nil
}

// toPrompt converts stored messages for the generator, leaving out the
// message being answered since the generator appends it itself.
func toPrompt(msgs []history.Message, skipID int64) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == skipID {
			continue
		}
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
