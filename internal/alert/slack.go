package alert

import (
	"context"
	"fmt"
	"time"

	httpclient "github.com/didac-crst/mockexchange-api/pkg/http"
)

// SlackChannel posts notifications to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *httpclient.Client
}

// NewSlackChannel creates a channel for the given webhook URL. An empty
// URL makes Send a no-op.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     httpclient.NewClient(5 * time.Second),
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, p Payload) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f"
	switch p.Level {
	case LevelWarning:
		color = "#ffcc00"
	case LevelError:
		color = "#ff0000"
	case LevelCritical:
		color = "#8b0000"
	}

	var fields []map[string]interface{}
	for k, v := range p.Fields {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": v,
			"short": true,
		})
	}

	body := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] %s", p.Level, p.Title),
				"text":    p.Message,
				"fields":  fields,
				"ts":      p.Timestamp.Unix(),
				"footer":  "MockExchange",
			},
		},
	}

	if _, err := s.client.PostJSON(ctx, s.webhookURL, body); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
