package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdbot/pagerbridge/internal/broadcast"
	"github.com/clawdbot/pagerbridge/pkg/protocol"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = 30 * time.Second
	maxWSMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboards are served from arbitrary dev hosts on the LAN.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades an observer connection and streams state/event
// messages: first the current snapshot, then the replay buffer, then live.
// The pumps mirror the usual split: writes and pings on one goroutine,
// reads (and liveness) on the caller's.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	snapshot, err := protocol.NewStateMessage(s.mediator.Snapshot())
	if err != nil {
		conn.Close()
		return
	}
	sub := s.caster.Subscribe(snapshot)

	go s.observerWritePump(conn, sub)
	s.observerReadPump(conn, sub)
}

func (s *Server) observerWritePump(conn *websocket.Conn, sub *broadcast.Handle) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) observerReadPump(conn *websocket.Conn, sub *broadcast.Handle) {
	defer func() {
		s.caster.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(maxWSMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("observer read error", "id", sub.ID(), "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		s.handleObserverMessage(conn, data)
	}
}

type observerMessage struct {
	Type  string `json:"type"`
	Notes string `json:"notes,omitempty"`
	Note  string `json:"note,omitempty"`
}

// handleObserverMessage processes dashboard-initiated commands: keepalive
// pings and recording controls.
func (s *Server) handleObserverMessage(conn *websocket.Conn, data []byte) {
	var msg observerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "ping":
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		conn.WriteJSON(protocol.StreamMessage{Type: protocol.StreamTypePong})

	case "start_session":
		if s.sessions != nil {
			s.sessions.Start(msg.Notes)
		}

	case "end_session":
		if s.sessions != nil {
			s.sessions.End()
		}

	case "add_note":
		if s.sessions != nil {
			s.sessions.AddNote(msg.Note)
		}
	}
}
