package alert

import (
	"context"
	"fmt"
	"time"

	httpclient "github.com/didac-crst/mockexchange-api/pkg/http"
)

// TelegramChannel posts notifications through the Telegram bot API.
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *httpclient.Client
}

// NewTelegramChannel creates a channel for the given bot and chat. Empty
// credentials make Send a no-op.
func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   httpclient.NewClient(5 * time.Second),
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Send(ctx context.Context, p Payload) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	icon := "ℹ️"
	switch p.Level {
	case LevelWarning:
		icon = "⚠️"
	case LevelError:
		icon = "❌"
	case LevelCritical:
		icon = "🚨"
	}

	text := fmt.Sprintf("%s *[%s] %s*\n\n%s", icon, p.Level, p.Title, p.Message)
	if len(p.Fields) > 0 {
		text += "\n"
		for k, v := range p.Fields {
			text += fmt.Sprintf("\n- *%s*: %s", k, v)
		}
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	body := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	if _, err := t.client.PostJSON(ctx, url, body); err != nil {
		return fmt.Errorf("telegram api: %w", err)
	}
	return nil
}
