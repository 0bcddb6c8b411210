// Package session records and replays bridge sessions. A recording is the
// slice of event-log history between an explicit start and end, plus
// operator notes, stored as a gzip-compressed JSON file.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/clawdbot/pagerbridge/internal/eventlog"
	"github.com/clawdbot/pagerbridge/pkg/protocol"
)

const timestampLayout = "2006-01-02T15:04:05.000"

// Recording is one complete recorded session.
type Recording struct {
	SessionID string           `json:"session_id"`
	StartTime string           `json:"start_time"`
	EndTime   string           `json:"end_time,omitempty"`
	Notes     string           `json:"notes,omitempty"`
	Events    []protocol.Event `json:"events"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// Duration returns the recording length, or zero while still open.
func (r *Recording) Duration() time.Duration {
	if r.EndTime == "" {
		return 0
	}
	start, err1 := time.Parse(timestampLayout, r.StartTime)
	end, err2 := time.Parse(timestampLayout, r.EndTime)
	if err1 != nil || err2 != nil {
		return 0
	}
	return end.Sub(start)
}

// ErrorCount counts ERROR events in the recording.
func (r *Recording) ErrorCount() int {
	n := 0
	for _, ev := range r.Events {
		if ev.Type == protocol.EventError {
			n++
		}
	}
	return n
}

// Summary is the list view of a stored recording.
type Summary struct {
	SessionID  string  `json:"session_id"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time,omitempty"`
	DurationS  float64 `json:"duration_s"`
	EventCount int     `json:"event_count"`
	ErrorCount int     `json:"error_count"`
	Notes      string  `json:"notes,omitempty"`
}

// Store manages recordings on disk. At most one recording is open at a
// time; starting a new one ends the current one first.
type Store struct {
	dir string
	log *eventlog.Log

	mu      sync.Mutex
	current *Recording
	now     func() time.Time
}

// NewStore creates the recording store rooted at dir. log supplies the
// events captured between start and end; it may be nil (recordings are
// then notes-only).
func NewStore(dir string, log *eventlog.Log) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir, log: log, now: time.Now}, nil
}

// Recording reports whether a session is currently open.
func (s *Store) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Start opens a new recording and returns its ID.
func (s *Store) Start(notes string) string {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		s.End()
		s.mu.Lock()
	}

	id := s.now().Format("20060102_150405")
	s.current = &Recording{
		SessionID: id,
		StartTime: s.now().Format(timestampLayout),
		Notes:     notes,
		Metadata:  map[string]any{},
	}
	s.mu.Unlock()

	if s.log != nil {
		s.log.Log(protocol.SourceUser, protocol.EventSessionStart, map[string]any{
			"recording_session_id": id,
			"notes":                notes,
		})
	}
	slog.Info("recording started", "session", id)
	return id
}

// AddNote appends a timestamped note to the open recording. No-op when
// nothing is recording.
func (s *Store) AddNote(note string) {
	s.mu.Lock()
	if s.current != nil {
		stamp := s.now().Format(timestampLayout)
		s.current.Notes += fmt.Sprintf("\n[%s] %s", stamp, note)
	}
	open := s.current != nil
	s.mu.Unlock()

	if open && s.log != nil {
		s.log.Log(protocol.SourceUser, protocol.EventNote, map[string]any{"note": note})
	}
}

// End closes the open recording, captures its events from the log, and
// saves it. Returns the session ID, or "" when nothing was recording.
func (s *Store) End() string {
	s.mu.Lock()
	rec := s.current
	s.current = nil
	s.mu.Unlock()

	if rec == nil {
		return ""
	}

	rec.EndTime = s.now().Format(timestampLayout)

	if s.log != nil {
		events, err := s.log.SessionEvents("")
		if err != nil {
			slog.Error("capture session events failed", "error", err)
		} else {
			rec.Events = events
		}
	}

	if err := s.save(rec); err != nil {
		slog.Error("save recording failed", "session", rec.SessionID, "error", err)
	}

	if s.log != nil {
		s.log.Log(protocol.SourceUser, protocol.EventSessionEnd, map[string]any{
			"recording_session_id": rec.SessionID,
			"event_count":          len(rec.Events),
			"duration_s":           rec.Duration().Seconds(),
		})
	}

	slog.Info("recording saved", "session", rec.SessionID, "events", len(rec.Events))
	return rec.SessionID
}

// Load reads a stored recording. Returns os.ErrNotExist for unknown IDs.
func (s *Store) Load(sessionID string) (*Recording, error) {
	f, err := os.Open(s.path(sessionID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", sessionID, err)
	}
	defer zr.Close()

	var rec Recording
	if err := json.NewDecoder(zr).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode recording %s: %w", sessionID, err)
	}
	return &rec, nil
}

// List summarizes all stored recordings, newest first. Corrupted files are
// skipped.
func (s *Store) List() []Summary {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Warn("list recordings failed", "dir", s.dir, "error", err)
		return nil
	}

	var out []Summary
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json.gz") {
			continue
		}
		id := strings.TrimSuffix(name, ".json.gz")
		rec, err := s.Load(id)
		if err != nil {
			continue
		}
		notes := rec.Notes
		if len(notes) > 100 {
			notes = notes[:100]
		}
		out = append(out, Summary{
			SessionID:  rec.SessionID,
			StartTime:  rec.StartTime,
			EndTime:    rec.EndTime,
			DurationS:  rec.Duration().Seconds(),
			EventCount: len(rec.Events),
			ErrorCount: rec.ErrorCount(),
			Notes:      notes,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID > out[j].SessionID })
	return out
}

// Delete removes a stored recording. Returns false when it did not exist.
func (s *Store) Delete(sessionID string) bool {
	err := os.Remove(s.path(sessionID))
	return err == nil
}

func (s *Store) save(rec *Recording) error {
	f, err := os.Create(s.path(rec.SessionID))
	if err != nil {
		return err
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json.gz")
}
