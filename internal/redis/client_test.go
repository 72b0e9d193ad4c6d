package redis

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/mossy-p/meeting-signaling/config"
	"github.com/mossy-p/meeting-signaling/internal/models"
)

func newMirror(t *testing.T) (*Mirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := Connect(context.Background(), config.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return m, mr
}

// flush runs the queue until everything submitted so far is applied.
func flush(m *Mirror) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Host: mr.Host(), Port: mr.Port()}
	mr.Close()

	if _, err := Connect(context.Background(), cfg); err == nil {
		t.Fatal("expected an error when Redis is unreachable")
	}
}

func TestMirrorMembership(t *testing.T) {
	m, mr := newMirror(t)

	m.Connected("a")
	m.Connected("b")
	m.Joined("demo", "a", "u1")
	m.Joined("demo", "b", "u2")
	m.Left("demo", "b", "u2")
	flush(m)

	members, err := mr.Members(RoomKey("demo"))
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0] != "a" {
		t.Errorf("expected [a], got %v", members)
	}
	if ttl := mr.TTL(RoomKey("demo")); ttl != roomTTL {
		t.Errorf("expected room ttl %v, got %v", roomTTL, ttl)
	}

	peers, err := m.RoomPeers(context.Background(), "demo")
	if err != nil || len(peers) != 1 {
		t.Errorf("RoomPeers: %v %v", peers, err)
	}

	online, _ := mr.Members(onlineKey)
	sort.Strings(online)
	if len(online) != 2 || online[0] != "a" || online[1] != "b" {
		t.Errorf("unexpected online set %v", online)
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestMirrorPresence(t *testing.T) {
	m, mr := newMirror(t)

	m.Connected("a")
	m.Announced("a", models.Identity{ID: "u1", Name: "Alice"})
	flush(m)

	raw, err := mr.Get(PresenceKey("a"))
	if err != nil {
		t.Fatalf("presence key missing: %v", err)
	}
	var identity models.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil || identity.Name != "Alice" {
		t.Errorf("unexpected identity %q: %v", raw, err)
	}
}

func TestMirrorDisconnectCleansUp(t *testing.T) {
	m, mr := newMirror(t)

	m.Connected("a")
	m.Announced("a", models.Identity{ID: "u1"})
	m.Disconnected("a", "u1")
	flush(m)

	if mr.Exists(PresenceKey("a")) {
		t.Error("presence key should be deleted")
	}
	if n, _ := m.Online(context.Background()); n != 0 {
		t.Errorf("expected nobody online, got %d", n)
	}
}
