// Package alert pushes operator notifications (consistency mismatches,
// scheduler failures) to webhook channels. Delivery is fire-and-forget;
// the trading path never blocks on it.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/didac-crst/mockexchange-api/internal/config"
	"github.com/didac-crst/mockexchange-api/internal/core"
)

// Level grades a notification.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Payload is one notification.
type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers payloads to one destination.
type Channel interface {
	Send(ctx context.Context, p Payload) error
	Name() string
}

// channelTimeout bounds one delivery attempt.
const channelTimeout = 10 * time.Second

// Manager fans notifications out to every configured channel.
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	logger   core.ILogger
}

// NewManager creates an empty manager; use AddChannel or NewFromConfig.
func NewManager(logger core.ILogger) *Manager {
	return &Manager{logger: logger.WithField("component", "alert")}
}

// NewFromConfig wires the channels the configuration enables.
func NewFromConfig(cfg config.AlertsConfig, logger core.ILogger) *Manager {
	m := NewManager(logger)
	if cfg.SlackWebhookURL != "" {
		m.AddChannel(NewSlackChannel(string(cfg.SlackWebhookURL)))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		m.AddChannel(NewTelegramChannel(string(cfg.TelegramBotToken), cfg.TelegramChatID))
	}
	return m
}

// AddChannel registers a delivery channel.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("alert channel registered", "name", ch.Name())
}

// Notify delivers one notification to every channel asynchronously.
// Failures are logged, never returned.
func (m *Manager) Notify(ctx context.Context, level Level, title, message string, fields map[string]string) {
	p := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	if len(channels) == 0 {
		return
	}
	m.logger.Info("alert dispatched", "title", title, "level", level, "channels", len(channels))

	for _, ch := range channels {
		go func(c Channel) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), channelTimeout)
			defer cancel()
			if err := c.Send(sendCtx, p); err != nil {
				m.logger.Error("alert delivery failed", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}
