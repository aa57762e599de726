package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender adapts the bot API to the broadcaster's delivery interface.
type Sender struct {
	api *tgbotapi.BotAPI
}

// NewSender creates a sender over an authorized bot API
func NewSender(api *tgbotapi.BotAPI) *Sender {
	return &Sender{api: api}
}

// Send delivers a plain text message to one chat.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
