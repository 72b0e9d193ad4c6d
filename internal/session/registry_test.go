package session

import (
	"testing"

	"github.com/mossy-p/meeting-signaling/internal/models"
)

func TestRegisterStartsAnonymousAndRoomless(t *testing.T) {
	r := NewRegistry()
	if !r.Register("a") {
		t.Fatal("Register failed")
	}
	if r.Register("a") {
		t.Error("registering a live connection id twice must be refused")
	}

	ep, ok := r.Get("a")
	if !ok {
		t.Fatal("endpoint not found")
	}
	if ep.Announced() || ep.RoomID != "" {
		t.Errorf("new endpoint should have no identity and no room: %+v", ep)
	}
	if len(r.Roster()) != 0 {
		t.Error("anonymous endpoints must not appear in the roster")
	}
}

func TestAnnounceOverwritesWithoutDuplicating(t *testing.T) {
	r := NewRegistry()
	r.Register("a")
	r.Register("b")

	r.Announce("a", models.Identity{ID: "u1", Name: "Alice"})
	r.Announce("b", models.Identity{ID: "u2", Name: "Bob"})
	r.Announce("a", models.Identity{ID: "u1", Name: "Alice Cooper"})

	roster := r.Roster()
	if len(roster) != 2 {
		t.Fatalf("expected 2 roster entries, got %d: %+v", len(roster), roster)
	}
	if roster[0].Name != "Alice Cooper" || roster[1].Name != "Bob" {
		t.Errorf("unexpected roster order or content: %+v", roster)
	}

	if r.Announce("ghost", models.Identity{ID: "x"}) {
		t.Error("announce on unknown connection must report false")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("a")
	r.Announce("a", models.Identity{ID: "u1"})
	r.SetRoom("a", "demo")

	ep, ok := r.Remove("a")
	if !ok {
		t.Fatal("first Remove should find the endpoint")
	}
	if ep.UserID() != "u1" || ep.RoomID != "demo" {
		t.Errorf("Remove should return last known state, got %+v", ep)
	}

	if _, ok := r.Remove("a"); ok {
		t.Error("second Remove should report not found")
	}
	if r.SetRoom("a", "other") {
		t.Error("SetRoom on removed connection should be a no-op")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestConnectionsForUserDoesNotDeduplicate(t *testing.T) {
	r := NewRegistry()
	r.Register("old")
	r.Register("new")
	r.Announce("old", models.Identity{ID: "u1"})
	r.Announce("new", models.Identity{ID: "u1"})

	ids := r.ConnectionsForUser("u1")
	if len(ids) != 2 || ids[0] != "old" || ids[1] != "new" {
		t.Errorf("expected both connections in order, got %v", ids)
	}
	if got := r.ConnectionIDs(); len(got) != 2 {
		t.Errorf("expected 2 connection ids, got %v", got)
	}
}
