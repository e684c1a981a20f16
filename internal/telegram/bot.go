package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"assistant-bot/internal/conversation"
	"assistant-bot/internal/logging"
)

// maxMessageRunes is the Telegram limit for one text message.
const maxMessageRunes = 4096

// DefaultShutdownGrace bounds how long Start waits for running handlers
// once polling stops.
const DefaultShutdownGrace = 90 * time.Second

// Conversation is what the bot needs from the message pipeline.
type Conversation interface {
	HandleMessage(ctx context.Context, in conversation.Inbound, typing conversation.TypingNotifier) (conversation.Reply, error)
	Reset(ctx context.Context, id conversation.Identity) (bool, error)
	Stats(ctx context.Context, id conversation.Identity) (conversation.Stats, error)
	Register(ctx context.Context, id conversation.Identity) error
}

// ReportFunc renders the current activity report.
type ReportFunc func(ctx context.Context) (string, error)

type Bot struct {
	api         poller
	s           sender
	conv        Conversation
	parseMode   string
	adminUserID int64
	report      ReportFunc

	shutdownGrace time.Duration
	wg            sync.WaitGroup
}

func New(botToken string, conv Conversation, parseMode string, adminUserID int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	slog.Info("authorized on telegram", "account", api.Self.UserName)
	return newBot(api, api, conv, parseMode, adminUserID), nil
}

func newBot(p poller, s sender, conv Conversation, parseMode string, adminUserID int64) *Bot {
	return &Bot{
		api:         p,
		s:           s,
		conv:        conv,
		parseMode:   parseMode,
		adminUserID: adminUserID,

		shutdownGrace: DefaultShutdownGrace,
	}
}

// SetReportFunction enables the admin /report command.
func (b *Bot) SetReportFunction(f ReportFunc) { b.report = f }

// Start long-polls for updates and handles each in its own goroutine.
// It returns once ctx is cancelled and every running handler finished.
// Handlers run on a context detached from ctx: after ctx is done they
// get shutdownGrace to deliver their reply before being cancelled.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	slog.Info("polling started")

	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		b.api.StopReceivingUpdates()
		grace := time.AfterFunc(b.shutdownGrace, func() {
			slog.Warn("shutdown grace elapsed, cancelling running handlers", "grace", b.shutdownGrace)
			cancelHandlers()
		})
		b.wg.Wait()
		grace.Stop()
		cancelHandlers()
		slog.Info("polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(handlerCtx, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while handling update", "update_id", update.UpdateID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	ctx = logging.WithRequestID(ctx)

	if msg.IsCommand() && b.handleCommand(ctx, msg) {
		return
	}
	b.handleIncomingMessage(ctx, msg)
}

// SendReport delivers text to the admin. Without an admin it does nothing.
func (b *Bot) SendReport(ctx context.Context, text string) error {
	if b.adminUserID == 0 {
		slog.Debug("no admin configured, report not sent")
		return nil
	}
	if err := b.sendMessage(b.adminUserID, text); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	slog.Info("report sent", "admin", b.adminUserID)
	return nil
}

// sendMessage sends text in chunks that fit one message. A chunk the
// API rejects under the configured parse mode is resent as plain text.
func (b *Bot) sendMessage(chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = b.parseMode
		_, err := b.s.Send(msg)
		if err != nil && b.parseMode != "" {
			slog.Warn("send with parse mode failed, retrying as plain text", "chat_id", chatID, "error", err)
			msg.ParseMode = ""
			_, err = b.s.Send(msg)
		}
		if err != nil {
			slog.Error("failed to send message", "chat_id", chatID, "error", err)
			return err
		}
	}
	return nil
}

// splitMessage cuts text into pieces of at most limit runes, preferring
// to break after a newline.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
