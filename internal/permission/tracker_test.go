package permission

import (
	"testing"
	"time"
)

func TestResolveFirstWins(t *testing.T) {
	tr := NewTracker()
	id := tr.Create("Bash", "rm -rf /tmp/x", time.Minute)

	tr.Resolve(id, true)
	tr.Resolve(id, false) // late deny must not flip it

	status, ok := tr.StatusOf(id)
	if !ok {
		t.Fatalf("request %s unknown", id)
	}
	if status != StatusApproved {
		t.Errorf("status = %s, want %s", status, StatusApproved)
	}
}

func TestUnknownIDDistinctFromPending(t *testing.T) {
	tr := NewTracker()

	if _, ok := tr.StatusOf("deadbeef"); ok {
		t.Error("unknown id reported as known")
	}

	id := tr.Create("Edit", "", time.Minute)
	status, ok := tr.StatusOf(id)
	if !ok || status != StatusPending {
		t.Errorf("StatusOf(%s) = %s, %v; want pending, true", id, status, ok)
	}
}

func TestLazyExpiryIsSticky(t *testing.T) {
	tr := NewTracker()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	id := tr.Create("Bash", "ls", 30*time.Second)

	clock = clock.Add(31 * time.Second)
	status, _ := tr.StatusOf(id)
	if status != StatusExpired {
		t.Fatalf("status after timeout = %s, want %s", status, StatusExpired)
	}

	// A button press arriving after expiry must not resurrect it.
	tr.Resolve(id, true)
	status, _ = tr.StatusOf(id)
	if status != StatusExpired {
		t.Errorf("status after late resolve = %s, want %s", status, StatusExpired)
	}
}

func TestActiveIDEarliestWins(t *testing.T) {
	tr := NewTracker()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	first := tr.Create("Bash", "ls", time.Minute)
	clock = clock.Add(time.Second)
	tr.Create("Bash", "pwd", time.Minute)

	id, ok := tr.ActiveID()
	if !ok {
		t.Fatal("no active request")
	}
	if id != first {
		t.Errorf("ActiveID = %s, want earliest %s", id, first)
	}
}

func TestActiveIDSkipsResolvedAndExpired(t *testing.T) {
	tr := NewTracker()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	stale := tr.Create("Bash", "ls", 10*time.Second)
	clock = clock.Add(time.Second)
	answered := tr.Create("Edit", "", time.Minute)
	tr.Resolve(answered, false)
	clock = clock.Add(time.Second)
	live := tr.Create("Write", "", time.Minute)

	clock = clock.Add(9 * time.Second) // stale is now past its timeout

	id, ok := tr.ActiveID()
	if !ok {
		t.Fatal("no active request")
	}
	if id != live {
		t.Errorf("ActiveID = %s, want %s (stale=%s answered=%s)", id, live, stale, answered)
	}
}

func TestSweepDropsOldRegardlessOfStatus(t *testing.T) {
	tr := NewTracker()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	old := tr.Create("Bash", "ls", time.Minute)
	tr.Resolve(old, true)
	clock = clock.Add(6 * time.Minute)
	fresh := tr.Create("Bash", "pwd", time.Minute)

	if removed := tr.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, ok := tr.StatusOf(old); ok {
		t.Error("swept request still known")
	}
	if _, ok := tr.StatusOf(fresh); !ok {
		t.Error("fresh request swept away")
	}
}
