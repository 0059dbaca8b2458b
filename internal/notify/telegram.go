package notify

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Telegram delivers through the Bot API to a single chat. The channel only
// sends; it never polls for updates.
type Telegram struct {
	name   string
	bot    *tele.Bot
	chatID int64
}

func NewTelegram(name, token string, chatID int64) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram: bot token is empty")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram: chat_id is required")
	}
	if name == "" {
		name = "telegram"
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{name: name, bot: b, chatID: chatID}, nil
}

func (t *Telegram) ID() string { return t.name }

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	title, body := render(msg)
	text := fmt.Sprintf("<b>%s</b>\n%s", title, body)
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}
