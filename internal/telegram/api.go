package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the outbound half of *tgbotapi.BotAPI. Request is used for
// calls whose result is not a message, such as chat actions.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// poller is the inbound half of *tgbotapi.BotAPI.
type poller interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// chatTyping shows the typing indicator in one chat.
type chatTyping struct {
	s      sender
	chatID int64
}

func (t chatTyping) Typing(ctx context.Context) error {
	_, err := t.s.Request(tgbotapi.NewChatAction(t.chatID, tgbotapi.ChatTyping))
	return err
}
