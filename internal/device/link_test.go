package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdbot/pagerbridge/pkg/protocol"
)

func TestHandleStateTracksKnownModes(t *testing.T) {
	l := NewLink()

	l.HandleState(protocol.StateKeyDisplayMode, protocol.ModeListening)
	if got := l.ReportedMode(); got != protocol.ModeListening {
		t.Errorf("reported mode = %q, want LISTENING", got)
	}

	// Unrecognized tokens must not clobber the tracked mode.
	l.HandleState(protocol.StateKeyDisplayMode, "REBOOTING")
	if got := l.ReportedMode(); got != protocol.ModeListening {
		t.Errorf("reported mode after junk = %q, want LISTENING", got)
	}
}

func TestHandleStateForwardsOtherKeys(t *testing.T) {
	l := NewLink()

	var mu sync.Mutex
	var gotKey, gotValue string
	l.OnStateChange(func(key, value string) {
		mu.Lock()
		gotKey, gotValue = key, value
		mu.Unlock()
	})

	l.HandleState("battery_level", "42")

	mu.Lock()
	defer mu.Unlock()
	if gotKey != "battery_level" || gotValue != "42" {
		t.Errorf("handler got %q=%q", gotKey, gotValue)
	}
	if l.ReportedMode() != protocol.ModeIdle {
		t.Errorf("battery update changed reported mode to %q", l.ReportedMode())
	}
}

func TestHandleStateJunkModeNotForwardedAsMode(t *testing.T) {
	l := NewLink()

	called := false
	l.OnStateChange(func(key, value string) { called = true })

	l.HandleState(protocol.StateKeyDisplayMode, "GARBAGE")
	if called {
		t.Error("handler invoked for unrecognized mode token")
	}
}

func TestSetDisplayDroppedWhileDisconnected(t *testing.T) {
	l := NewLink()

	l.SetDisplay("HELLO", protocol.ModeAgent)

	text, mode := l.CommandedDisplay()
	if text != "" || mode != "" {
		t.Errorf("dropped write recorded as commanded: %q/%q", text, mode)
	}
}

// pagerStub is a minimal WS endpoint standing in for the pager firmware.
type pagerStub struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conn   *websocket.Conn
	frames []protocol.CallFrame
}

func (p *pagerStub) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	for {
		var frame protocol.CallFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		p.mu.Lock()
		p.frames = append(p.frames, frame)
		p.mu.Unlock()
	}
}

func (p *pagerStub) sendState(t *testing.T, key, value string) {
	t.Helper()
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		t.Fatal("no pager connection")
	}
	data, _ := json.Marshal(protocol.StateFrame{Type: protocol.FrameTypeState, Key: key, Value: value})
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("send state: %v", err)
	}
}

func (p *pagerStub) received() []protocol.CallFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.CallFrame, len(p.frames))
	copy(out, p.frames)
	return out
}

func TestConnectRoundtrip(t *testing.T) {
	stub := &pagerStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	address := strings.TrimPrefix(srv.URL, "http://")

	l := NewLink()
	modes := make(chan string, 4)
	l.OnStateChange(func(key, value string) {
		if key == protocol.StateKeyDisplayMode {
			modes <- value
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Connect(ctx, address); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer l.Disconnect()

	if !l.Connected() {
		t.Fatal("link not connected")
	}

	l.SetDisplay("BUILD OK", protocol.SilentPrefix+protocol.ModeAgent)

	waitFor(t, func() bool { return len(stub.received()) == 1 })
	frame := stub.received()[0]
	if frame.Service != protocol.ServiceSetDisplay {
		t.Errorf("service = %q", frame.Service)
	}
	if frame.Args["my_text"] != "BUILD OK" || frame.Args["my_mode"] != "SILENT_AGENT" {
		t.Errorf("args = %v", frame.Args)
	}

	text, mode := l.CommandedDisplay()
	if text != "BUILD OK" || mode != protocol.ModeAgent {
		t.Errorf("commanded = %q/%q, want silent prefix stripped", text, mode)
	}

	stub.sendState(t, protocol.StateKeyDisplayMode, protocol.ModeApproved)
	select {
	case got := <-modes:
		if got != protocol.ModeApproved {
			t.Errorf("mode notification = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("state frame never reached the handler")
	}
	if l.ReportedMode() != protocol.ModeApproved {
		t.Errorf("reported mode = %q", l.ReportedMode())
	}
}

func TestServerCloseMarksDisconnected(t *testing.T) {
	stub := &pagerStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))

	l := NewLink()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Connect(ctx, strings.TrimPrefix(srv.URL, "http://")); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	srv.CloseClientConnections()
	waitFor(t, func() bool { return !l.Connected() })
	srv.Close()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
