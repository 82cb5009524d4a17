package session

import (
	"testing"
)

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	m := NewManager("")
	a := m.GetOrCreate("conv-1")
	b := m.GetOrCreate("conv-1")
	if a != b {
		t.Fatal("GetOrCreate should return the existing session")
	}
}

func TestHistoryIsACopy(t *testing.T) {
	m := NewManager("")
	m.AddMessage("conv-1", "p1", "user", "p1", "hello")

	history := m.History("conv-1")
	if len(history) != 1 {
		t.Fatalf("got %d messages, want 1", len(history))
	}
	history[0].Content = "mutated"
	if m.History("conv-1")[0].Content != "hello" {
		t.Fatal("History must return a copy")
	}
}

func TestHistoryUnknownKey(t *testing.T) {
	m := NewManager("")
	if got := m.History("nope"); len(got) != 0 {
		t.Fatalf("got %d messages for unknown key", len(got))
	}
}

func TestSearchAcrossSessions(t *testing.T) {
	m := NewManager("")
	m.AddMessage("conv-1", "p1", "user", "p1", "lunch on Friday?")
	m.AddMessage("conv-2", "p1", "assistant", "", "I booked lunch with Sam")
	m.AddMessage("conv-2", "p1", "user", "p1", "thanks")

	hits := m.Search("p1", "LUNCH", 10)
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	// Newest first.
	if !hits[0].Timestamp.After(hits[1].Timestamp) && !hits[0].Timestamp.Equal(hits[1].Timestamp) {
		t.Fatal("hits not ordered newest first")
	}
}

func TestSearchLimit(t *testing.T) {
	m := NewManager("")
	for i := 0; i < 5; i++ {
		m.AddMessage("conv-1", "p1", "user", "p1", "ping")
	}
	if hits := m.Search("p1", "ping", 3); len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	m := NewManager("")
	m.AddMessage("conv-1", "p1", "user", "p1", "hello")
	if hits := m.Search("p1", "   ", 10); hits != nil {
		t.Fatalf("blank query should return nil, got %v", hits)
	}
}

func TestSearchStaysWithinOwner(t *testing.T) {
	m := NewManager("")
	m.AddMessage("alice-conv", "alice", "user", "alice", "the door code is 4417")
	m.AddMessage("bob-conv", "bob", "user", "bob", "lunch tomorrow?")

	if hits := m.Search("bob", "door code", 10); len(hits) != 0 {
		t.Fatalf("bob searched into alice's history: %+v", hits)
	}
	hits := m.Search("alice", "door code", 10)
	if len(hits) != 1 || hits[0].SessionKey != "alice-conv" {
		t.Fatalf("alice should find her own message, got %+v", hits)
	}
}

func TestSessionOwnerFixedOnFirstWrite(t *testing.T) {
	m := NewManager("")
	m.AddMessage("shared", "alice", "user", "alice", "booking the hall")
	m.AddMessage("shared", "bob", "user", "bob", "ok")

	if hits := m.Search("bob", "hall", 10); len(hits) != 0 {
		t.Fatalf("ownership must not transfer after first write, got %+v", hits)
	}
	if hits := m.Search("alice", "hall", 10); len(hits) != 1 {
		t.Fatalf("owner lost access to own session, got %+v", hits)
	}
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(dir)
	m.AddMessage("conv/1", "p1", "user", "p1", "persist me")

	reloaded := NewManager(dir)
	history := reloaded.History("conv/1")
	if len(history) != 1 || history[0].Content != "persist me" {
		t.Fatalf("reloaded history = %+v", history)
	}
}
