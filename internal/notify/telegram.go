package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mmeshcher/familypoints/internal/model"
)

// BotAPI описывает часть *tgbotapi.BotAPI, нужную для отправки сообщений.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender публикует уведомления в семейный чат Telegram.
type TelegramSender struct {
	api    BotAPI
	chatID int64
}

// NewTelegramSender создаёт отправителя поверх готового клиента бота.
func NewTelegramSender(api BotAPI, chatID int64) *TelegramSender {
	return &TelegramSender{api: api, chatID: chatID}
}

// NewTelegramBot подключается к Bot API по токену.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return api, nil
}

// Send отправляет уведомление сообщением в чат.
func (s *TelegramSender) Send(ctx context.Context, n model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(s.chatID, n.Title+"\n"+n.Body)
	msg.DisableNotification = n.Kind == model.NotificationTaskCompleted
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// MultiSender доставляет уведомление всем получателям и объединяет их ошибки.
type MultiSender []Sender

// Send вызывает Send у каждого получателя.
func (m MultiSender) Send(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
