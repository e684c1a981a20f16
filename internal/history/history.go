// Package history is the append-only conversation log kept per user.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"assistant-bot/internal/storage"
)

// Role tags who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

var (
	ErrInvalidRole  = errors.New("history: invalid role")
	ErrEmptyContent = errors.New("history: empty content")
)

// DefaultLimit is the history window used as generation context.
const DefaultLimit = 10

// Message is one stored turn. Messages are never updated.
type Message struct {
	ID        int64
	UserID    int64
	Role      Role
	Content   string
	CreatedAt time.Time
}

type Log struct {
	db  *storage.Engine
	now func() time.Time
}

func NewLog(db *storage.Engine) *Log {
	return &Log{db: db, now: time.Now}
}

const messageColumns = `id, user_id, role, content, created_at`

func scanMessage(m *Message) storage.ScanFunc {
	return func(s storage.Scanner) error {
		var role string
		var created int64
		if err := s.Scan(&m.ID, &m.UserID, &role, &m.Content, &created); err != nil {
			return err
		}
		m.Role = Role(role)
		m.CreatedAt = time.UnixMilli(created).UTC()
		return nil
	}
}

// Append stores a message and returns the created row. RETURNING reads
// the row back in the same statement.
func (l *Log) Append(ctx context.Context, userID int64, role Role, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if content == "" {
		return Message{}, ErrEmptyContent
	}
	var m Message
	err := l.db.WithTx(ctx, func(q storage.Querier) error {
		found, err := q.FetchOne(ctx, scanMessage(&m),
			`INSERT INTO messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)
			 RETURNING `+messageColumns,
			userID, string(role), content, l.now().UTC().UnixMilli())
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("insert returned no row")
		}
		return nil
	})
	if err != nil {
		return Message{}, fmt.Errorf("append %s message for user %d: %w", role, userID, err)
	}
	slog.Debug("message created", "user_id", userID, "role", role)
	return m, nil
}

// Recent returns at most limit messages, newest first.
func (l *Log) Recent(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []Message
	err := l.db.FetchAll(ctx, func(s storage.Scanner) error {
		var m Message
		if err := scanMessage(&m)(s); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	}, `SELECT `+messageColumns+` FROM messages WHERE user_id = ?
	    ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history for user %d: %w", userID, err)
	}
	return out, nil
}

// Chronological reverses a newest-first window into conversation order.
// The input is left untouched.
func Chronological(newestFirst []Message) []Message {
	out := make([]Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out
}

// Count returns how many messages are stored for the user.
func (l *Log) Count(ctx context.Context, userID int64) (int, error) {
	var n int
	_, err := l.db.FetchOne(ctx, func(s storage.Scanner) error { return s.Scan(&n) },
		`SELECT COUNT(*) FROM messages WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("count messages for user %d: %w", userID, err)
	}
	return n, nil
}

// Clear deletes every message of the user and reports whether anything
// was removed.
func (l *Log) Clear(ctx context.Context, userID int64) (bool, error) {
	n, err := l.db.Execute(ctx, `DELETE FROM messages WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("clear conversation for user %d: %w", userID, err)
	}
	if n > 0 {
		slog.Info("conversation cleared", "user_id", userID, "deleted", n)
	}
	return n > 0, nil
}

// Activity is the number of messages one user wrote (or received) with
// a given role inside a time window.
type Activity struct {
	UserID int64
	Role   Role
	Count  int
}

// Activity aggregates messages created in [from, to).
func (l *Log) Activity(ctx context.Context, from, to time.Time) ([]Activity, error) {
	var out []Activity
	err := l.db.FetchAll(ctx, func(s storage.Scanner) error {
		var a Activity
		var role string
		if err := s.Scan(&a.UserID, &role, &a.Count); err != nil {
			return err
		}
		a.Role = Role(role)
		out = append(out, a)
		return nil
	}, `SELECT user_id, role, COUNT(*) FROM messages
	    WHERE created_at >= ? AND created_at < ?
	    GROUP BY user_id, role ORDER BY user_id, role`,
		from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}
	return out, nil
}
