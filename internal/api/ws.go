package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/didac-crst/mockexchange-api/pkg/liveserver"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// handleWS upgrades the connection and streams hub events (order
// transitions, ticker writes) as JSON envelopes until the client leaves.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", clientIP(r), "error", err)
		return
	}

	client := liveserver.NewClient(uuid.NewString())
	s.hub.Register(client)
	s.metrics.SetWSClients(int64(s.hub.ClientCount()))

	go s.wsWritePump(conn, client)
	s.wsReadPump(conn, client)
}

// wsReadPump discards inbound frames; the stream is one-way. It exists to
// service pongs and notice disconnects.
func (s *Server) wsReadPump(conn *websocket.Conn, client *liveserver.Client) {
	defer func() {
		s.hub.Unregister(client)
		s.metrics.SetWSClients(int64(s.hub.ClientCount()))
		_ = conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsWritePump drains the client's queue onto the wire and keeps the
// connection alive with pings.
func (s *Server) wsWritePump(conn *websocket.Conn, client *liveserver.Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Outbound():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
