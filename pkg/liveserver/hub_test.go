package liveserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == want
	}, time.Second, time.Millisecond)
}

func TestHubBroadcast(t *testing.T) {
	hub := startHub(t)

	c1 := NewClient("c1")
	c2 := NewClient("c2")
	hub.Register(c1)
	hub.Register(c2)
	waitForCount(t, hub, 2)

	hub.Broadcast(NewOrderMessage(map[string]string{"oid": "o1"}))

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Outbound():
			assert.Equal(t, TypeOrder, msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive broadcast", c.ID())
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := startHub(t)

	slow := NewClient("slow")
	hub.Register(slow)
	waitForCount(t, hub, 1)

	// Never drained: once the buffer fills, the hub unregisters the client.
	for i := 0; i < cap(slow.send)+8; i++ {
		hub.Broadcast(NewTickerMessage(i))
	}
	waitForCount(t, hub, 0)
}

func TestHubUnregisterIdempotent(t *testing.T) {
	hub := startHub(t)

	c := NewClient("c")
	hub.Register(c)
	waitForCount(t, hub, 1)

	hub.Unregister(c)
	waitForCount(t, hub, 0)
	hub.Unregister(c)
	waitForCount(t, hub, 0)
}

func TestClientSendAfterClose(t *testing.T) {
	c := NewClient("c")
	assert.True(t, c.Send(NewOrderMessage(nil)))
	c.Close()
	assert.False(t, c.Send(NewOrderMessage(nil)))
	c.Close() // double close is safe
}

func TestHubRunShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	c := NewClient("c")
	hub.Register(c)
	waitForCount(t, hub, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.False(t, c.Send(NewOrderMessage(nil)))
}
