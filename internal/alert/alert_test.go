package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didac-crst/mockexchange-api/internal/config"
	"github.com/didac-crst/mockexchange-api/pkg/logging"
)

type stubChannel struct {
	name string
	mu   sync.Mutex
	sent []Payload
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(_ context.Context, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, p)
	return nil
}

func (s *stubChannel) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *stubChannel) last() Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func TestNotifyFansOut(t *testing.T) {
	m := NewManager(logging.NewNop())
	ch1 := &stubChannel{name: "one"}
	ch2 := &stubChannel{name: "two"}
	m.AddChannel(ch1)
	m.AddChannel(ch2)

	m.Notify(context.Background(), LevelError, "reconciliation mismatch", "used diverged", map[string]string{"asset": "USDT"})

	require.Eventually(t, func() bool {
		return ch1.count() == 1 && ch2.count() == 1
	}, time.Second, time.Millisecond)

	p := ch1.last()
	assert.Equal(t, LevelError, p.Level)
	assert.Equal(t, "reconciliation mismatch", p.Title)
	assert.Equal(t, "USDT", p.Fields["asset"])
}

func TestNotifyWithoutChannelsIsNoop(t *testing.T) {
	m := NewManager(logging.NewNop())
	m.Notify(context.Background(), LevelInfo, "t", "m", nil) // must not panic or block
}

func TestNewFromConfig(t *testing.T) {
	m := NewFromConfig(config.AlertsConfig{}, logging.NewNop())
	assert.Empty(t, m.channels)

	m = NewFromConfig(config.AlertsConfig{
		SlackWebhookURL:  "https://hooks.slack.example/x",
		TelegramBotToken: "token",
		TelegramChatID:   "42",
	}, logging.NewNop())
	assert.Len(t, m.channels, 2)
}

func TestSlackChannelPosts(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Payload{
		Level:     LevelCritical,
		Title:     "ledger mismatch",
		Message:   "used != expected",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Contains(t, string(gotBody), "ledger mismatch")
}

func TestSlackChannelEmptyURLIsNoop(t *testing.T) {
	ch := NewSlackChannel("")
	require.NoError(t, ch.Send(context.Background(), Payload{Title: "x"}))
}

func TestSlackChannelNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Payload{Title: "x"})
	assert.Error(t, err)
}

func TestTelegramChannelEmptyCredsIsNoop(t *testing.T) {
	ch := NewTelegramChannel("", "")
	require.NoError(t, ch.Send(context.Background(), Payload{Title: "x"}))
}
