package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdbot/pagerbridge/internal/bridge"
	"github.com/clawdbot/pagerbridge/internal/broadcast"
	"github.com/clawdbot/pagerbridge/internal/permission"
	"github.com/clawdbot/pagerbridge/pkg/protocol"
)

// nullLink satisfies the mediator's device dependency without a pager.
type nullLink struct {
	mu   sync.Mutex
	mode string
}

func (n *nullLink) SetDisplay(text, mode string) {}
func (n *nullLink) Alert(text string)            {}
func (n *nullLink) Connected() bool              { return false }

func (n *nullLink) ReportedMode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

func (n *nullLink) CommandedDisplay() (string, string) { return "", "" }

func (n *nullLink) setMode(mode string) {
	n.mu.Lock()
	n.mode = mode
	n.mu.Unlock()
}

func newTestServer(t *testing.T) (*httptest.Server, *nullLink) {
	t.Helper()
	link := &nullLink{mode: protocol.ModeIdle}
	caster := broadcast.New()
	m := bridge.New(link, permission.NewTracker(), caster, nil, bridge.Options{})
	t.Cleanup(m.Shutdown)

	srv := NewServer(m, caster, nil, nil, nil)
	mux := http.NewServeMux()
	srv.Routes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, link
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestAgentAlwaysAcks(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := postJSON(t, ts.URL+"/agent", `{"event_type":"TOOL_START","tool":"Bash"}`)
	if resp.StatusCode != http.StatusOK || out["ok"] != true {
		t.Errorf("status=%d body=%v", resp.StatusCode, out)
	}

	// Unknown event types are dropped server-side but still acked.
	resp, out = postJSON(t, ts.URL+"/agent", `{"event_type":"SOMETHING_ELSE"}`)
	if resp.StatusCode != http.StatusOK || out["ok"] != true {
		t.Errorf("unknown event: status=%d body=%v", resp.StatusCode, out)
	}
}

func TestAgentBadJSON(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := postJSON(t, ts.URL+"/agent", `{"event_type":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPermissionLifecycle(t *testing.T) {
	ts, link := newTestServer(t)

	resp, out := postJSON(t, ts.URL+"/permission", `{"tool":"Bash","command":"make deploy"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	id, _ := out["request_id"].(string)
	if len(id) != 8 {
		t.Fatalf("request_id = %q, want 8-char token", id)
	}

	resp, out = getJSON(t, ts.URL+"/permission/"+id)
	if resp.StatusCode != http.StatusOK || out["status"] != "pending" {
		t.Errorf("poll: status=%d body=%v", resp.StatusCode, out)
	}

	// The pager reports the button press; the next poll reconciles it.
	link.setMode(protocol.ModeApproved)
	resp, out = getJSON(t, ts.URL+"/permission/"+id)
	if out["status"] != "approved" {
		t.Errorf("after approval: %v", out)
	}
}

func TestPermissionPollUnknownID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := getJSON(t, ts.URL+"/permission/deadbeef")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if out["error"] != "not found" {
		t.Errorf("body = %v", out)
	}
}

func TestPermissionDefaultsTool(t *testing.T) {
	ts, _ := newTestServer(t)

	_, out := postJSON(t, ts.URL+"/permission", `{"command":"ls"}`)
	if out["request_id"] == "" {
		t.Errorf("create without tool failed: %v", out)
	}
}

func TestHealthAndStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := getJSON(t, ts.URL+"/health")
	if resp.StatusCode != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health: %v", out)
	}
	if out["pager"] != false {
		t.Errorf("pager = %v, want false (no device attached)", out["pager"])
	}

	_, out = getJSON(t, ts.URL+"/status")
	if out["connected"] != false {
		t.Errorf("status: %v", out)
	}
	if out["display_mode"] != protocol.ModeIdle {
		t.Errorf("display_mode = %v", out["display_mode"])
	}
}

func TestEventQueriesWithoutLog(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/api/events", "/api/events/recent"} {
		resp, _ := getJSON(t, ts.URL+path)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, resp.StatusCode)
		}
	}
}

func TestLogEventRequiresType(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := postJSON(t, ts.URL+"/api/log", `{"source":"device"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLogEventInvalidSourceFallsBack(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, out := postJSON(t, ts.URL+"/api/log", `{"source":"martian","event_type":"NOTE","data":{"note":"hi"}}`)
	if resp.StatusCode != http.StatusOK || out["status"] != "logged" {
		t.Errorf("status=%d body=%v", resp.StatusCode, out)
	}
}

func TestSessionEndpointsDisabled(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := getJSON(t, ts.URL+"/api/sessions")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("sessions list status = %d, want 503", resp.StatusCode)
	}
}

func TestObserverReceivesSnapshotThenLive(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var first protocol.StreamMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != protocol.StreamTypeState {
		t.Fatalf("first message type = %q, want state snapshot", first.Type)
	}

	var snap protocol.StateSnapshot
	if err := json.Unmarshal(first.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Connected {
		t.Error("snapshot claims a connected pager")
	}

	// A hook event arriving now reaches the live observer.
	postJSON(t, ts.URL+"/agent", `{"event_type":"TOOL_START","tool":"Bash"}`)

	var live protocol.StreamMessage
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if live.Type != protocol.StreamTypeEvent {
		t.Errorf("live message type = %q", live.Type)
	}
}

func TestObserverPing(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var snapshot protocol.StreamMessage
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong protocol.StreamMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != protocol.StreamTypePong {
		t.Errorf("reply type = %q, want pong", pong.Type)
	}
}

func TestRateLimit(t *testing.T) {
	link := &nullLink{mode: protocol.ModeIdle}
	caster := broadcast.New()
	m := bridge.New(link, permission.NewTracker(), caster, nil, bridge.Options{})
	t.Cleanup(m.Shutdown)

	srv := NewServer(m, caster, nil, nil, NewRateLimiter(60, 2))
	mux := http.NewServeMux()
	srv.Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	var limited bool
	for i := 0; i < 5; i++ {
		resp, _ := postJSON(t, ts.URL+"/agent", `{"event_type":"WAITING"}`)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("burst of 5 never hit the rate limit (burst=2)")
	}
}
