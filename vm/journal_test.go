package vm

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "keel.db"))
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)

	events := []Event{
		{Assumption: "leaf-class:Point", Code: "Point>>x", Reason: "subclass loaded"},
		{Assumption: "stable-global:Transcript", Code: "Main>>run", Reason: "rebound"},
	}
	for _, ev := range events {
		if err := j.Append(ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recent, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d events, want 2", len(recent))
	}
	// Newest first.
	if recent[0].Assumption != "stable-global:Transcript" {
		t.Errorf("recent[0].Assumption = %q", recent[0].Assumption)
	}
	if recent[1].Code != "Point>>x" || recent[1].Reason != "subclass loaded" {
		t.Errorf("recent[1] = %+v", recent[1])
	}
	if recent[0].Time.IsZero() {
		t.Error("Append should stamp events with the current time")
	}
}

func TestJournalCount(t *testing.T) {
	j := openTestJournal(t)

	for i := 0; i < 5; i++ {
		if err := j.Append(Event{Assumption: "g", Code: "A>>m", Reason: "r"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	n, err := j.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Count = %d, want 5", n)
	}
}

func TestJournalPreservesTimestamps(t *testing.T) {
	j := openTestJournal(t)

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	if err := j.Append(Event{Time: at, Assumption: "g", Code: "A>>m", Reason: "r"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	recent, err := j.Recent(1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if !recent[0].Time.Equal(at) {
		t.Errorf("Time = %v, want %v", recent[0].Time, at)
	}
}

// End to end: an invalidation through an engine with a journal attached
// lands in the journal.
func TestInvalidationIsJournaled(t *testing.T) {
	j := openTestJournal(t)
	engine := NewEngine("journal-test", DefaultOptions())
	engine.AttachJournal(j)

	a := NewAssumption("leaf-class:Point")
	code := NewInstalledCode(engine, "Point>>x")
	a.RegisterDependency().Resolve(code)

	a.Invalidate("subclass loaded")

	recent, err := j.Recent(1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("journal has %d events, want 1", len(recent))
	}
	ev := recent[0]
	if ev.Assumption != "leaf-class:Point" || ev.Code != "Point>>x" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Reason != "leaf-class:Point subclass loaded" {
		t.Errorf("Reason = %q", ev.Reason)
	}
}
