package telegram

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"assistant-bot/internal/conversation"
	"assistant-bot/internal/logging"
)

const welcomeText = "🤖 <b>Welcome to AI Assistant Bot!</b>\n\n" +
	"I'm here to help you with any questions you have.\n" +
	"Just send me a message and I'll respond!\n\n" +
	"Available commands:\n" +
	"/help - Show this help message\n" +
	"/clear - Clear conversation history\n" +
	"/stats - Show your usage statistics\n\n" +
	"Let's start our conversation!"

const helpText = "📚 <b>Help & Commands</b>\n\n" +
	"<b>Available Commands:</b>\n" +
	"/start - Start the bot and see welcome message\n" +
	"/help - Show this help message\n" +
	"/clear - Clear your conversation history\n" +
	"/stats - Show your usage statistics\n\n" +
	"<b>How to use:</b>\n" +
	"• Just type your message and I'll respond\n" +
	"• I remember our conversation history\n" +
	"• Use /clear to start a new conversation\n\n" +
	"Need help? Contact the administrator!"

const clearedText = "🗑️ <b>Conversation cleared!</b>\n\n" +
	"I've deleted all our previous messages. " +
	"We can start a fresh conversation!"

const processingErrorText = "⚠️ <b>Sorry, I encountered an error processing your request.</b>\n\n" +
	"Please try again in a moment. " +
	"If the problem persists, contact the administrator."

func identityOf(msg *tgbotapi.Message) conversation.Identity {
	return conversation.Identity{ExternalID: msg.From.ID, DisplayName: msg.From.UserName}
}

// handleCommand reports whether msg was a known command. Unknown
// commands are treated as ordinary text.
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) bool {
	log := logging.FromContext(ctx).With("command", msg.Command(), "external_id", msg.From.ID)
	id := identityOf(msg)

	switch msg.Command() {
	case "start":
		if err := b.conv.Register(ctx, id); err != nil {
			log.Error("start failed", "error", err)
			b.sendMessage(msg.Chat.ID, processingErrorText)
			return true
		}
		b.sendMessage(msg.Chat.ID, welcomeText)
	case "help":
		b.sendMessage(msg.Chat.ID, helpText)
	case "clear":
		if _, err := b.conv.Reset(ctx, id); err != nil {
			log.Error("clear failed", "error", err)
			b.sendMessage(msg.Chat.ID, processingErrorText)
			return true
		}
		b.sendMessage(msg.Chat.ID, clearedText)
	case "stats":
		st, err := b.conv.Stats(ctx, id)
		if err != nil {
			log.Error("stats failed", "error", err)
			b.sendMessage(msg.Chat.ID, processingErrorText)
			return true
		}
		b.sendMessage(msg.Chat.ID, formatStats(st))
	case "report":
		if b.report == nil || b.adminUserID == 0 || msg.From.ID != b.adminUserID {
			return false
		}
		text, err := b.report(ctx)
		if err != nil {
			log.Error("report failed", "error", err)
			b.sendMessage(msg.Chat.ID, processingErrorText)
			return true
		}
		b.sendMessage(msg.Chat.ID, text)
	default:
		return false
	}
	log.Info("command handled")
	return true
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	log := logging.FromContext(ctx).With("external_id", msg.From.ID, "chat_id", msg.Chat.ID)
	log.Debug("incoming message", "length", len([]rune(msg.Text)))

	reply, err := b.conv.HandleMessage(ctx, conversation.Inbound{
		Identity: identityOf(msg),
		Text:     msg.Text,
	}, chatTyping{s: b.s, chatID: msg.Chat.ID})
	if err != nil {
		log.Error("failed to process message", "error", err)
		b.sendMessage(msg.Chat.ID, processingErrorText)
		return
	}
	if reply.Ignored {
		return
	}
	b.sendMessage(msg.Chat.ID, reply.Text)
}

func formatStats(st conversation.Stats) string {
	name := "Not set"
	if st.DisplayName != "" {
		name = html.EscapeString(st.DisplayName)
	}
	return fmt.Sprintf("📊 <b>Your Statistics</b>\n\n"+
		"<b>User ID:</b> %d\n"+
		"<b>Username:</b> @%s\n"+
		"<b>Joined:</b> %s\n"+
		"<b>Total Messages:</b> %d\n\n"+
		"Keep chatting to increase your stats!",
		st.UserID, name, st.JoinedAt.UTC().Format("2006-01-02 15:04:05"), st.TotalMessages)
}
