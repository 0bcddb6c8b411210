// Package eventlog persists every observed pager event to SQLite for
// post-mortem debugging and session replay. Single writer, append only.
package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clawdbot/pagerbridge/pkg/protocol"
)

// SessionSummary aggregates one bridge session's events.
type SessionSummary struct {
	SessionID  string `json:"session_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	EventCount int    `json:"event_count"`
	ErrorCount int    `json:"error_count"`
}

// Log is the SQLite-backed event log. A log instance belongs to one bridge
// process; its session ID is derived from the start time.
type Log struct {
	db        *sql.DB
	mu        sync.Mutex
	sessionID string
	seq       int64
	now       func() time.Time
}

// Open opens (or creates) the event log at path and records SESSION_START.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	l := &Log{
		db:        db,
		sessionID: time.Now().Format("20060102_150405"),
		now:       time.Now,
	}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("event log opened", "path", path, "session", l.sessionID)

	l.Log(protocol.SourceBridge, protocol.EventSessionStart, map[string]any{
		"session_id": l.sessionID,
		"pid":        os.Getpid(),
	})
	return l, nil
}

func (l *Log) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			session_id TEXT NOT NULL,
			source TEXT NOT NULL,
			event_type TEXT NOT NULL,
			data JSON,
			sequence INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
	}

	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// SessionID returns this process's log session.
func (l *Log) SessionID() string { return l.sessionID }

// Log appends one event and returns it with its assigned sequence number.
func (l *Log) Log(source protocol.EventSource, eventType string, data map[string]any) (protocol.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	ev := protocol.Event{
		Timestamp: l.now().Format("2006-01-02T15:04:05.000"),
		SessionID: l.sessionID,
		Source:    source,
		Type:      eventType,
		Data:      data,
		Sequence:  l.seq,
	}

	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return ev, fmt.Errorf("marshal event data: %w", err)
	}

	_, err = l.db.Exec(
		`INSERT INTO events (timestamp, session_id, source, event_type, data, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Timestamp, ev.SessionID, string(ev.Source), ev.Type, string(payload), ev.Sequence,
	)
	if err != nil {
		return ev, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// LogError is a convenience wrapper for ERROR events.
func (l *Log) LogError(source protocol.EventSource, errorType, message string) {
	if _, err := l.Log(source, protocol.EventError, map[string]any{
		"error_type": errorType,
		"message":    message,
	}); err != nil {
		slog.Error("event log write failed", "error", err)
	}
}

// SessionEvents returns all events for a session in sequence order.
// An empty sessionID means the current session.
func (l *Log) SessionEvents(sessionID string) ([]protocol.Event, error) {
	if sessionID == "" {
		sessionID = l.sessionID
	}
	rows, err := l.db.Query(
		`SELECT timestamp, session_id, source, event_type, data, sequence
		 FROM events WHERE session_id = ? ORDER BY sequence`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Recent returns the newest events across all sessions, newest first.
// eventType filters when non-empty.
func (l *Log) Recent(limit int, eventType string) ([]protocol.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if eventType != "" {
		rows, err = l.db.Query(
			`SELECT timestamp, session_id, source, event_type, data, sequence
			 FROM events WHERE event_type = ? ORDER BY id DESC LIMIT ?`,
			eventType, limit,
		)
	} else {
		rows, err = l.db.Query(
			`SELECT timestamp, session_id, source, event_type, data, sequence
			 FROM events ORDER BY id DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListSessions summarizes every recorded session, newest first.
func (l *Log) ListSessions() ([]SessionSummary, error) {
	rows, err := l.db.Query(`
		SELECT
			session_id,
			MIN(timestamp),
			MAX(timestamp),
			COUNT(*),
			SUM(CASE WHEN event_type = 'ERROR' THEN 1 ELSE 0 END)
		FROM events
		GROUP BY session_id
		ORDER BY MIN(timestamp) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.SessionID, &s.StartTime, &s.EndTime, &s.EventCount, &s.ErrorCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountsByType returns per-type event counts for a session.
func (l *Log) CountsByType(sessionID string) (map[string]int, error) {
	if sessionID == "" {
		sessionID = l.sessionID
	}
	rows, err := l.db.Query(
		`SELECT event_type, COUNT(*) FROM events
		 WHERE session_id = ? GROUP BY event_type ORDER BY COUNT(*) DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// Search returns events whose data contains the query text, newest first.
func (l *Log) Search(query string, limit int) ([]protocol.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(
		`SELECT timestamp, session_id, source, event_type, data, sequence
		 FROM events WHERE data LIKE ? ORDER BY id DESC LIMIT ?`,
		"%"+query+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Close records SESSION_END and closes the database.
func (l *Log) Close() error {
	l.mu.Lock()
	total := l.seq
	l.mu.Unlock()

	l.Log(protocol.SourceBridge, protocol.EventSessionEnd, map[string]any{
		"session_id":   l.sessionID,
		"total_events": total,
	})
	return l.db.Close()
}

func scanEvents(rows *sql.Rows) ([]protocol.Event, error) {
	var out []protocol.Event
	for rows.Next() {
		var ev protocol.Event
		var source, data string
		if err := rows.Scan(&ev.Timestamp, &ev.SessionID, &source, &ev.Type, &data, &ev.Sequence); err != nil {
			return nil, err
		}
		ev.Source = protocol.EventSource(source)
		if data != "" && data != "null" {
			if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
				ev.Data = nil
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
