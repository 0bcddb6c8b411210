package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/clawdbot/pagerbridge/internal/bridge"
	"github.com/clawdbot/pagerbridge/internal/session"
	"github.com/clawdbot/pagerbridge/pkg/protocol"
)

type agentEventRequest struct {
	EventType   string `json:"event_type"`
	Tool        string `json:"tool,omitempty"`
	DisplayMode string `json:"display_mode,omitempty"`
	DisplayText string `json:"display_text,omitempty"`
	DisplaySub  string `json:"display_sub,omitempty"`
	CodePreview string `json:"code_preview,omitempty"`
}

// handleAgent accepts tool lifecycle notifications. The hook client is
// fire-and-forget: the response is an ack regardless of whether the pager
// write reached the device.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	var req agentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}

	s.mediator.OnAgentEvent(bridge.AgentEvent{
		Kind:        bridge.ParseAgentEventKind(req.EventType),
		Tool:        req.Tool,
		DisplayMode: req.DisplayMode,
		DisplayText: req.DisplayText,
		DisplaySub:  req.DisplaySub,
		CodePreview: req.CodePreview,
	})

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type permissionRequest struct {
	Tool        string `json:"tool"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Timeout     int    `json:"timeout,omitempty"` // seconds
}

func (s *Server) handlePermissionCreate(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	var req permissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}

	if req.Tool == "" {
		req.Tool = "Unknown"
	}
	timeout := s.DefaultPermissionTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	id := s.mediator.OnPermissionRequest(req.Tool, req.Command, req.Description, timeout)
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id})
}

func (s *Server) handlePermissionPoll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status, ok := s.mediator.OnPermissionPoll(id)
	if !ok {
		// Unknown is distinct from pending and expired.
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": id,
		"status":     string(status),
	})
}

type displayRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode,omitempty"`
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	var req displayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}
	if req.Mode == "" {
		req.Mode = protocol.ModeResponse
	}

	s.mediator.DisplayNow(req.Text, req.Mode)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	var req displayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}

	s.mediator.AlertNow(req.Text)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mediator.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"pager":  s.mediator.Status().Connected,
	})
}

// --- Event log queries ---

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "event log disabled"})
		return
	}

	events, err := s.log.SessionEvents(r.URL.Query().Get("session_id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if events == nil {
		events = []protocol.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "event log disabled"})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.log.Recent(limit, r.URL.Query().Get("type"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if events == nil {
		events = []protocol.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

type logEventRequest struct {
	Source    string         `json:"source,omitempty"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}

// handleLogEvent ingests an event from an external source (dev scripts,
// dashboards) into the log and broadcast stream.
func (s *Server) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	var req logEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}
	if req.EventType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "event_type is required"})
		return
	}

	source := protocol.EventSource(req.Source)
	if !protocol.ValidSource(source) {
		source = protocol.SourceUser
	}

	ev := s.mediator.IngestExternal(source, req.EventType, req.Data)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "logged",
		"sequence": ev.Sequence,
	})
}

// --- Session recordings ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "recordings disabled"})
		return
	}
	list := s.sessions.List()
	if list == nil {
		list = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "recordings disabled"})
		return
	}

	rec, err := s.sessions.Load(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type startSessionRequest struct {
	Notes string `json:"notes,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "recordings disabled"})
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badJSON(w)
		return
	}

	id := s.sessions.Start(req.Notes)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "started",
		"session_id": id,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "recordings disabled"})
		return
	}

	id := s.sessions.End()
	if id == "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "no_session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ended",
		"session_id": id,
	})
}

