package session

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStartEndLoadRoundtrip(t *testing.T) {
	s := newTestStore(t)

	id := s.Start("deploy run")
	if !s.Recording() {
		t.Fatal("not recording after Start")
	}

	ended := s.End()
	if ended != id {
		t.Fatalf("End returned %q, want %q", ended, id)
	}
	if s.Recording() {
		t.Error("still recording after End")
	}

	rec, err := s.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.SessionID != id {
		t.Errorf("loaded session = %q, want %q", rec.SessionID, id)
	}
	if rec.Notes != "deploy run" {
		t.Errorf("notes = %q", rec.Notes)
	}
	if rec.EndTime == "" {
		t.Error("end time not set")
	}
}

func TestAddNoteTimestamped(t *testing.T) {
	s := newTestStore(t)
	clock := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	id := s.Start("")
	clock = clock.Add(5 * time.Second)
	s.AddNote("battery swapped")
	s.End()

	rec, err := s.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(rec.Notes, "[2026-08-29T10:00:05.000] battery swapped") {
		t.Errorf("notes = %q", rec.Notes)
	}
}

func TestAddNoteWithoutRecordingIsNoop(t *testing.T) {
	s := newTestStore(t)
	s.AddNote("dropped")

	if got := s.End(); got != "" {
		t.Errorf("End with nothing open = %q, want empty", got)
	}
}

func TestStartEndsCurrentFirst(t *testing.T) {
	s := newTestStore(t)
	clock := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	first := s.Start("one")
	clock = clock.Add(time.Minute)
	second := s.Start("two")

	if first == second {
		t.Fatal("second Start reused the first session id")
	}

	// The first recording was closed and saved.
	rec, err := s.Load(first)
	if err != nil {
		t.Fatalf("first recording not saved: %v", err)
	}
	if rec.EndTime == "" {
		t.Error("first recording left open")
	}
	if !s.Recording() {
		t.Error("second recording not open")
	}
}

func TestListNewestFirstAndDelete(t *testing.T) {
	s := newTestStore(t)
	clock := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	old := s.Start("old")
	s.End()
	clock = clock.Add(time.Hour)
	recent := s.Start("recent")
	s.End()

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("got %d summaries, want 2", len(list))
	}
	if list[0].SessionID != recent || list[1].SessionID != old {
		t.Errorf("order = %s, %s; want newest first", list[0].SessionID, list[1].SessionID)
	}

	if !s.Delete(old) {
		t.Error("Delete reported missing file")
	}
	if _, err := s.Load(old); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load after delete: %v", err)
	}
	if s.Delete(old) {
		t.Error("second Delete succeeded")
	}
}

func TestListSkipsCorruptFiles(t *testing.T) {
	s := newTestStore(t)
	id := s.Start("good")
	s.End()

	if err := os.WriteFile(s.path("garbage"), []byte("not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}

	list := s.List()
	if len(list) != 1 || list[0].SessionID != id {
		t.Errorf("list = %+v, want only the good recording", list)
	}
}
