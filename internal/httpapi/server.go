package httpapi

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/clawdbot/pagerbridge/internal/bridge"
	"github.com/clawdbot/pagerbridge/internal/broadcast"
	"github.com/clawdbot/pagerbridge/internal/eventlog"
	"github.com/clawdbot/pagerbridge/internal/session"
)

// Server is the bridge's HTTP control surface: hook-client ingestion,
// permission polling, direct device control, event-log queries, and the
// observer WebSocket.
type Server struct {
	mediator *bridge.Mediator
	caster   *broadcast.Broadcaster
	log      *eventlog.Log   // nil when the event log is disabled
	sessions *session.Store  // nil when recordings are disabled
	limiter  *RateLimiter

	// DefaultPermissionTimeout applies when a create-permission request
	// carries no timeout.
	DefaultPermissionTimeout time.Duration
}

// NewServer wires the control surface.
func NewServer(m *bridge.Mediator, caster *broadcast.Broadcaster, log *eventlog.Log, sessions *session.Store, limiter *RateLimiter) *Server {
	return &Server{
		mediator:                 m,
		caster:                   caster,
		log:                      log,
		sessions:                 sessions,
		limiter:                  limiter,
		DefaultPermissionTimeout: 90 * time.Second,
	}
}

// Routes registers all endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	// Hook-client surface
	mux.HandleFunc("POST /agent", s.handleAgent)
	mux.HandleFunc("POST /permission", s.handlePermissionCreate)
	mux.HandleFunc("GET /permission/{id}", s.handlePermissionPoll)

	// Direct device control
	mux.HandleFunc("POST /device/display", s.handleDisplay)
	mux.HandleFunc("POST /device/alert", s.handleAlert)

	// Status
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Observer stream
	mux.HandleFunc("GET /ws", s.handleWS)

	// Event log and recordings
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/events/recent", s.handleRecentEvents)
	mux.HandleFunc("POST /api/log", s.handleLogEvent)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/start", s.handleStartSession)
	mux.HandleFunc("POST /api/sessions/end", s.handleEndSession)
}

// allow applies the ingestion rate limit per remote host.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.limiter.Allow(host) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "rate limited"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func badJSON(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad json"})
}
