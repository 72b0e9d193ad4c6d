package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/protocol"
)

type received struct {
	Event models.EventType `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

func (r received) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Data, v); err != nil {
		t.Fatalf("decode %s payload: %v", r.Event, err)
	}
}

// countingSink records lifecycle calls. Reads happen after a hub barrier.
type countingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *countingSink) add(e string) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *countingSink) Connected(connID string)                  { s.add("connect " + connID) }
func (s *countingSink) Announced(connID string, _ models.Identity) { s.add("announce " + connID) }
func (s *countingSink) Joined(roomID, connID, _ string)          { s.add("join " + roomID + " " + connID) }
func (s *countingSink) Left(roomID, connID, _ string)            { s.add("leave " + roomID + " " + connID) }
func (s *countingSink) Disconnected(connID, _ string)            { s.add("disconnect " + connID) }

func (s *countingSink) count(e string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, got := range s.events {
		if got == e {
			n++
		}
	}
	return n
}

func startHub(t *testing.T, sinks ...Sink) *Hub {
	t.Helper()
	h := NewHub(Options{SendBuffer: 64}, sinks...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func connect(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := NewClient(h, nil, protocol.JSON{})
	if err := h.Register(context.Background(), c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	msg := next(t, c)
	if msg.Event != models.EventConnected {
		t.Fatalf("expected connected first, got %s", msg.Event)
	}
	return c
}

func send(t *testing.T, h *Hub, c *Client, event models.EventType, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if !h.submit(c, models.Frame{Event: event, Data: raw}) {
		t.Fatal("hub stopped")
	}
}

func next(t *testing.T, c *Client) received {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send queue closed")
		}
		var r received
		if err := json.Unmarshal(data, &r); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a message")
	}
	return received{}
}

// expect skips roster and typing noise until it finds event.
func expect(t *testing.T, c *Client, event models.EventType) received {
	t.Helper()
	for {
		r := next(t, c)
		if r.Event == event {
			return r
		}
		if r.Event != models.EventRoster {
			t.Fatalf("expected %s, got %s", event, r.Event)
		}
	}
}

// quiet waits until the hub has handled everything queued so far and checks
// that c received nothing.
func quiet(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	if _, err := h.Rooms(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message %s", data)
	default:
	}
}

func TestConnectSendsConnectionID(t *testing.T) {
	h := startHub(t)
	c := NewClient(h, nil, protocol.JSON{})
	h.Register(context.Background(), c)

	msg := next(t, c)
	var payload models.Connected
	msg.decode(t, &payload)
	if payload.ConnectionID != c.ID {
		t.Errorf("expected %s, got %s", c.ID, payload.ConnectionID)
	}
}

func TestJoinScenario(t *testing.T) {
	sink := &countingSink{}
	h := startHub(t, sink)
	a := connect(t, h)
	b := connect(t, h)

	send(t, h, a, models.EventJoinRoom, "demo")
	var joined models.RoomJoined
	expect(t, a, models.EventRoomJoined).decode(t, &joined)
	if !joined.IsFirst {
		t.Error("a should be first")
	}

	send(t, h, b, models.EventJoinRoom, "demo")
	expect(t, b, models.EventRoomJoined).decode(t, &joined)
	if joined.IsFirst || len(joined.Peers) != 1 || joined.Peers[0] != a.ID {
		t.Errorf("b: unexpected room-joined %+v", joined)
	}
	var peer string
	expect(t, a, models.EventPeerJoined).decode(t, &peer)
	if peer != b.ID {
		t.Errorf("a: expected peer-joined(%s), got %s", b.ID, peer)
	}
	quiet(t, h, a)
	quiet(t, h, b)

	// a offers, b answers
	send(t, h, a, models.EventOffer, models.SignalPayload{SDP: "o", TargetConnectionID: b.ID})
	var sig models.SignalPayload
	expect(t, b, models.EventOffer).decode(t, &sig)
	if sig.SDP != "o" || sig.FromConnectionID != a.ID {
		t.Errorf("unexpected relayed offer %+v", sig)
	}
	send(t, h, b, models.EventAnswer, models.SignalPayload{SDP: "ans", TargetConnectionID: a.ID})
	expect(t, a, models.EventAnswer).decode(t, &sig)
	if sig.SDP != "ans" || sig.FromConnectionID != b.ID {
		t.Errorf("unexpected relayed answer %+v", sig)
	}

	// b disconnects
	h.Unregister(b)
	var left string
	expect(t, a, models.EventPeerLeft).decode(t, &left)
	if left != b.ID {
		t.Errorf("expected peer-left(%s), got %s", b.ID, left)
	}
	quiet(t, h, a)

	info, ok, _ := h.Room(context.Background(), "demo")
	if !ok || info.Size != 1 {
		t.Fatalf("expected demo with one member, got %+v ok=%v", info, ok)
	}

	h.Unregister(a)
	if _, ok, _ := h.Room(context.Background(), "demo"); ok {
		t.Error("demo should be removed once empty")
	}
	if n := sink.count("disconnect " + b.ID); n != 1 {
		t.Errorf("expected one disconnect for b, got %d", n)
	}
	if n := sink.count("leave demo " + b.ID); n != 1 {
		t.Errorf("expected one leave for b, got %d", n)
	}
}

func TestThirdJoinGetsRoomFull(t *testing.T) {
	h := startHub(t)
	a, b, c := connect(t, h), connect(t, h), connect(t, h)

	send(t, h, a, models.EventJoinRoom, "demo")
	send(t, h, b, models.EventJoinRoom, "demo")
	expect(t, a, models.EventRoomJoined)
	expect(t, a, models.EventPeerJoined)
	expect(t, b, models.EventRoomJoined)

	send(t, h, c, models.EventJoinRoom, "demo")
	var e models.ErrorPayload
	expect(t, c, models.EventError).decode(t, &e)
	if e.Code != models.ErrCodeRoomFull || e.RoomID != "demo" {
		t.Errorf("unexpected error %+v", e)
	}
	quiet(t, h, a)
	quiet(t, h, b)

	// c is outside the room, so its offers go nowhere
	send(t, h, c, models.EventOffer, models.SignalPayload{SDP: "x", TargetConnectionID: a.ID})
	quiet(t, h, a)
}

func TestDisconnectRunsOnce(t *testing.T) {
	sink := &countingSink{}
	h := startHub(t, sink)
	a := connect(t, h)
	b := connect(t, h)
	send(t, h, a, models.EventJoinRoom, "demo")
	send(t, h, b, models.EventJoinRoom, "demo")
	expect(t, a, models.EventRoomJoined)
	expect(t, a, models.EventPeerJoined)

	h.Unregister(b)
	h.Unregister(b)
	expect(t, a, models.EventPeerLeft)
	quiet(t, h, a)

	if n := sink.count("disconnect " + b.ID); n != 1 {
		t.Errorf("expected exactly one disconnect, got %d", n)
	}
}

func TestReannounceUpdatesRoster(t *testing.T) {
	h := startHub(t)
	a := connect(t, h)
	b := connect(t, h)

	send(t, h, a, models.EventAnnounce, models.Identity{ID: "u1", Name: "Alice"})
	expect(t, b, models.EventRoster)
	send(t, h, a, models.EventAnnounce, models.Identity{ID: "u1", Name: "Alice B"})

	var roster []models.Identity
	r := next(t, b)
	if r.Event != models.EventRoster {
		t.Fatalf("expected roster, got %s", r.Event)
	}
	r.decode(t, &roster)
	if len(roster) != 1 || roster[0].Name != "Alice B" {
		t.Errorf("expected one updated entry, got %+v", roster)
	}

	got, _ := h.Roster(context.Background())
	if len(got) != 1 {
		t.Errorf("expected one roster entry, got %d", len(got))
	}
}

func TestAnonymousDisconnectSkipsRoster(t *testing.T) {
	h := startHub(t)
	a := connect(t, h)
	b := connect(t, h)

	h.Unregister(b)
	quiet(t, h, a)
}

func TestTypingStopOnDisconnect(t *testing.T) {
	h := startHub(t)
	a := connect(t, h)
	b := connect(t, h)
	send(t, h, a, models.EventAnnounce, models.Identity{ID: "u1"})
	send(t, h, b, models.EventAnnounce, models.Identity{ID: "u2"})
	send(t, h, a, models.EventJoinRoom, "demo")
	send(t, h, b, models.EventJoinRoom, "demo")
	expect(t, b, models.EventRoomJoined)

	send(t, h, a, models.EventTypingStart, models.TypingRequest{RoomID: "demo"})
	var ev models.TypingEvent
	expect(t, b, models.EventTypingStart).decode(t, &ev)
	if ev.UserID != "u1" {
		t.Errorf("unexpected typing event %+v", ev)
	}

	h.Unregister(a)
	expect(t, b, models.EventTypingStop).decode(t, &ev)
	if ev.UserID != "u1" || ev.RoomID != "demo" {
		t.Errorf("unexpected typing-stop %+v", ev)
	}
	expect(t, b, models.EventPeerLeft)
}

func TestRejoinSameRoomSkipsPeerJoined(t *testing.T) {
	h := startHub(t)
	a := connect(t, h)
	b := connect(t, h)
	send(t, h, a, models.EventJoinRoom, "demo")
	send(t, h, b, models.EventJoinRoom, "demo")
	expect(t, a, models.EventRoomJoined)
	expect(t, a, models.EventPeerJoined)
	expect(t, b, models.EventRoomJoined)

	send(t, h, b, models.EventJoinRoom, "demo")
	var joined models.RoomJoined
	expect(t, b, models.EventRoomJoined).decode(t, &joined)
	if joined.IsFirst {
		t.Error("rejoin into a full room is not first")
	}
	quiet(t, h, a)
}

func TestPrivateMessage(t *testing.T) {
	h := startHub(t)
	a := connect(t, h)
	b1 := connect(t, h)
	b2 := connect(t, h)

	send(t, h, a, models.EventMessagePrivate, models.PrivateMessageRequest{Content: "hi", ReceiverID: "u2"})
	var e models.ErrorPayload
	expect(t, a, models.EventError).decode(t, &e)
	if e.Code != models.ErrCodeNotAnnounce {
		t.Errorf("expected not-announced, got %+v", e)
	}

	send(t, h, a, models.EventAnnounce, models.Identity{ID: "u1"})
	send(t, h, b1, models.EventAnnounce, models.Identity{ID: "u2"})
	send(t, h, b2, models.EventAnnounce, models.Identity{ID: "u2"})
	send(t, h, a, models.EventMessagePrivate, models.PrivateMessageRequest{Content: "hi", ReceiverID: "u2"})

	var msg models.ChatMessage
	for _, c := range []*Client{b1, b2} {
		expect(t, c, models.EventMessageReceive).decode(t, &msg)
		if msg.Content != "hi" || msg.SenderID != "u1" || msg.ID == "" {
			t.Errorf("unexpected message %+v", msg)
		}
	}
	expect(t, a, models.EventMessageSent).decode(t, &msg)
	if msg.ReceiverID != "u2" {
		t.Errorf("unexpected echo %+v", msg)
	}
}

func TestGroupMessageReachesEveryone(t *testing.T) {
	h := startHub(t)
	a := connect(t, h)
	b := connect(t, h)
	send(t, h, a, models.EventAnnounce, models.Identity{ID: "u1"})
	send(t, h, a, models.EventMessageGroup, models.GroupMessageRequest{Content: "all", GroupID: "g"})

	for _, c := range []*Client{a, b} {
		var msg models.ChatMessage
		expect(t, c, models.EventMessageGroup).decode(t, &msg)
		if msg.GroupID != "g" || msg.Content != "all" {
			t.Errorf("unexpected group message %+v", msg)
		}
	}
}

func TestCloseRoomEvictsMembers(t *testing.T) {
	h := startHub(t)
	a := connect(t, h)
	b := connect(t, h)
	send(t, h, a, models.EventJoinRoom, "demo")
	send(t, h, b, models.EventJoinRoom, "demo")
	expect(t, a, models.EventRoomJoined)
	expect(t, a, models.EventPeerJoined)
	expect(t, b, models.EventRoomJoined)

	found, err := h.CloseRoom(context.Background(), "demo")
	if err != nil || !found {
		t.Fatalf("CloseRoom: found=%v err=%v", found, err)
	}
	for _, c := range []*Client{a, b} {
		var closed models.RoomClosed
		expect(t, c, models.EventRoomClosed).decode(t, &closed)
		if closed.RoomID != "demo" {
			t.Errorf("unexpected room-closed %+v", closed)
		}
	}
	if found, _ := h.CloseRoom(context.Background(), "demo"); found {
		t.Error("closing twice should report not found")
	}
}

func TestPreannouncedIdentity(t *testing.T) {
	h := startHub(t)
	c := NewClient(h, nil, protocol.JSON{})
	c.Identity = &models.Identity{ID: "u9", Name: "Token User"}
	h.Register(context.Background(), c)

	expect(t, c, models.EventConnected)
	var roster []models.Identity
	expect(t, c, models.EventRoster).decode(t, &roster)
	if len(roster) != 1 || roster[0].ID != "u9" {
		t.Errorf("unexpected roster %+v", roster)
	}
}

func TestCallsFailAfterStop(t *testing.T) {
	h := NewHub(DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	c := NewClient(h, nil, protocol.JSON{})
	h.Register(context.Background(), c)
	cancel()
	<-h.Done()

	if _, ok := <-c.send; !ok {
		t.Fatal("connected event should still be queued")
	}
	if _, ok := <-c.send; ok {
		t.Error("send queue should be closed after stop")
	}
	if _, err := h.Roster(context.Background()); err != ErrHubStopped {
		t.Errorf("expected ErrHubStopped, got %v", err)
	}
}

func TestExplicitLeaveNotifiesRemainingMember(t *testing.T) {
	sink := &countingSink{}
	h := startHub(t, sink)
	a := connect(t, h)
	b := connect(t, h)
	send(t, h, a, models.EventAnnounce, models.Identity{ID: "u1"})
	send(t, h, b, models.EventAnnounce, models.Identity{ID: "u2"})
	send(t, h, a, models.EventJoinRoom, "demo")
	send(t, h, b, models.EventJoinRoom, "demo")
	expect(t, a, models.EventRoomJoined)
	expect(t, a, models.EventPeerJoined)
	expect(t, b, models.EventRoomJoined)

	send(t, h, b, models.EventTypingStart, models.TypingRequest{RoomID: "demo"})
	expect(t, a, models.EventTypingStart)

	send(t, h, b, models.EventLeaveRoom, nil)

	var ev models.TypingEvent
	expect(t, a, models.EventTypingStop).decode(t, &ev)
	if ev.UserID != "u2" || ev.RoomID != "demo" {
		t.Errorf("unexpected typing-stop %+v", ev)
	}
	var departed string
	expect(t, a, models.EventPeerLeft).decode(t, &departed)
	if departed != b.ID {
		t.Errorf("peer-left named %q, want %q", departed, b.ID)
	}
	quiet(t, h, a)

	info, ok, err := h.Room(context.Background(), "demo")
	if err != nil || !ok {
		t.Fatalf("room should survive with one member: ok=%v err=%v", ok, err)
	}
	if info.Size != 1 || info.Members[0] != a.ID {
		t.Errorf("unexpected room after leave: %+v", info)
	}
	if n := sink.count("leave demo " + b.ID); n != 1 {
		t.Errorf("leave recorded %d times, want 1", n)
	}
	if n := sink.count("disconnect " + b.ID); n != 0 {
		t.Errorf("an explicit leave must not disconnect, got %d", n)
	}
}
