// Package device owns the single live session to the pager and translates
// high-level display operations into link service calls.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdbot/pagerbridge/pkg/protocol"
)

const writeTimeout = 10 * time.Second

// StateHandler receives inbound (entityKey, value) state notifications.
type StateHandler func(key, value string)

// Link manages the WebSocket session to the pager. All display traffic in
// the bridge goes through exactly one Link; display state is latest-wins,
// so writes while disconnected are dropped rather than queued.
type Link struct {
	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	reportedMode  string
	commandedMode string
	commandedText string
	onState       StateHandler
}

// NewLink creates an unconnected link.
func NewLink() *Link {
	return &Link{reportedMode: protocol.ModeIdle}
}

// OnStateChange registers the handler for inbound state notifications.
// Must be set before Connect.
func (l *Link) OnStateChange(h StateHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = h
}

// Connect dials the pager at address (host:port) and starts the state
// listener. On failure the link stays disconnected and the error is
// returned for the caller to retry later.
func (l *Link) Connect(ctx context.Context, address string) error {
	u := url.URL{Scheme: "ws", Host: address, Path: "/link"}
	slog.Info("connecting to pager", "url", u.String())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial pager %s: %w", address, err)
	}

	l.mu.Lock()
	l.conn = conn
	l.connected = true
	l.mu.Unlock()

	go l.readLoop(conn)

	slog.Info("connected to pager", "address", address)
	return nil
}

// Disconnect closes the session.
func (l *Link) Disconnect() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.connected = false
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Connected reports whether the pager session is live.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// ReportedMode returns the last mode the pager itself reported. This is
// distinct from the mode the bridge last commanded; the two converge only
// when the pager echoes the command back through its state stream.
func (l *Link) ReportedMode() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reportedMode
}

// CommandedDisplay returns the last text and mode the bridge wrote.
func (l *Link) CommandedDisplay() (text, mode string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commandedText, l.commandedMode
}

// SetDisplay writes text to the pager display in the given mode. When
// disconnected the call is logged and dropped — a stale queued message
// would mislead the user once the pager comes back.
func (l *Link) SetDisplay(text, mode string) {
	if err := l.call(protocol.ServiceSetDisplay, map[string]string{
		"my_text": text,
		"my_mode": mode,
	}); err != nil {
		slog.Warn("set_display dropped", "mode", mode, "error", err)
		return
	}

	l.mu.Lock()
	l.commandedText = text
	l.commandedMode = strings.TrimPrefix(mode, protocol.SilentPrefix)
	l.mu.Unlock()
}

// Alert triggers the pager's attention-grabbing alert. Same
// drop-on-disconnect semantics as SetDisplay.
func (l *Link) Alert(text string) {
	if err := l.call(protocol.ServiceAlert, map[string]string{
		"my_text": text,
	}); err != nil {
		slog.Warn("alert dropped", "error", err)
	}
}

var errNotConnected = fmt.Errorf("pager not connected")

func (l *Link) call(service string, args map[string]string) error {
	l.mu.Lock()
	conn := l.conn
	ok := l.connected
	l.mu.Unlock()

	if !ok || conn == nil {
		return errNotConnected
	}

	frame := protocol.NewCall(service, args)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		if isSessionGone(err) {
			l.markDisconnected(conn)
		}
		return fmt.Errorf("call %s: %w", service, err)
	}
	return nil
}

// readLoop consumes inbound state frames until the session drops. It is
// the only channel through which physical button presses become visible.
func (l *Link) readLoop(conn *websocket.Conn) {
	defer l.markDisconnected(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("pager link read error", "error", err)
			}
			return
		}

		frameType, err := protocol.ParseFrameType(data)
		if err != nil || frameType != protocol.FrameTypeState {
			continue
		}

		var state protocol.StateFrame
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		l.handleState(state.Key, state.Value)
	}
}

// HandleState processes a single inbound state notification. Exported for
// the mediator's tests; the read loop is the production caller.
func (l *Link) HandleState(key, value string) {
	l.handleState(key, value)
}

func (l *Link) handleState(key, value string) {
	l.mu.Lock()
	var handler StateHandler
	if key == protocol.StateKeyDisplayMode {
		if !protocol.KnownReportedMode(value) {
			l.mu.Unlock()
			return
		}
		old := l.reportedMode
		l.reportedMode = value
		if old != value {
			slog.Info("pager mode", "from", old, "to", value)
		}
	}
	handler = l.onState
	l.mu.Unlock()

	if handler != nil {
		handler(key, value)
	}
}

func (l *Link) markDisconnected(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
		l.connected = false
	}
	l.mu.Unlock()
	conn.Close()
	slog.Warn("pager disconnected")
}

func isSessionGone(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
		return true
	}
	// Write on a torn-down TCP session surfaces as a net error, not a
	// close frame.
	return strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset")
}
