// Package signaling is the relay core: one hub goroutine owns the session
// registry and room directory and handles every inbound event to completion
// before the next.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mossy-p/meeting-signaling/internal/logging"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/rooms"
	"github.com/mossy-p/meeting-signaling/internal/session"
)

var log = logging.Logger("signaling")

// ErrHubStopped is returned by calls made after Run has returned.
var ErrHubStopped = errors.New("hub stopped")

// Options tune per-connection limits.
type Options struct {
	// MessageRate is the sustained inbound messages per second per connection.
	// Zero disables rate limiting.
	MessageRate float64
	// MessageBurst is the inbound burst allowance.
	MessageBurst int
	// SendBuffer is the outbound queue length per connection.
	SendBuffer int
}

func DefaultOptions() Options {
	return Options{MessageRate: 50, MessageBurst: 100, SendBuffer: 256}
}

// inbound is one item in the hub's mailbox. Frames, disconnects and queries
// share one channel so each is handled after everything queued before it.
type inbound struct {
	client     *Client
	frame      models.Frame
	disconnect bool
	call       func()
}

// clientSet delivers envelopes to registered clients. Only the hub loop
// touches it.
type clientSet map[string]*Client

func (s clientSet) Deliver(connID string, env models.Envelope) bool {
	c, ok := s[connID]
	if !ok {
		return false
	}
	return c.enqueue(env)
}

// Hub is the single owner of all relay state.
type Hub struct {
	sessions *session.Registry
	rooms    *rooms.Directory
	router   *Router
	presence *Presence
	clients  clientSet
	sinks    sinks
	opts     Options

	inbound chan inbound
	done    chan struct{}
}

func NewHub(opts Options, observers ...Sink) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}

	reg := session.NewRegistry()
	dir := rooms.NewDirectory(reg)
	clients := make(clientSet)

	return &Hub{
		sessions: reg,
		rooms:    dir,
		router:   NewRouter(dir, clients),
		presence: NewPresence(reg, dir, clients),
		clients:  clients,
		sinks:    observers,
		opts:     opts,
		inbound:  make(chan inbound, 1024),
		done:     make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled. On exit every client's send
// queue is closed, which ends its write pump.
func (h *Hub) Run(ctx context.Context) {
	log.Info("Hub started")
	defer func() {
		for id, c := range h.clients {
			delete(h.clients, id)
			close(c.send)
		}
		close(h.done)
		log.Info("Hub stopped")
	}()

	for {
		select {
		case msg := <-h.inbound:
			if msg.call != nil {
				msg.call()
				continue
			}
			h.handle(msg)
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register adds a client to the hub and sends it its connection id. It
// returns once the client is registered, so frames read afterwards are
// always handled after registration.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	var err error
	if callErr := h.do(ctx, func() { err = h.register(c) }); callErr != nil {
		return callErr
	}
	return err
}

// Unregister queues a disconnect for c. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.inbound <- inbound{client: c, disconnect: true}:
	case <-h.done:
	}
}

// submit hands a decoded frame to the hub. Returns false once the hub stops.
func (h *Hub) submit(c *Client, f models.Frame) bool {
	select {
	case h.inbound <- inbound{client: c, frame: f}:
		return true
	case <-h.done:
		return false
	}
}

// Roster returns the announced identities.
func (h *Hub) Roster(ctx context.Context) ([]models.Identity, error) {
	var roster []models.Identity
	err := h.do(ctx, func() { roster = h.sessions.Roster() })
	return roster, err
}

// Room returns a snapshot of one room. The bool is false if the room does
// not exist.
func (h *Hub) Room(ctx context.Context, roomID string) (models.RoomInfo, bool, error) {
	var (
		info  models.RoomInfo
		found bool
	)
	err := h.do(ctx, func() {
		members, ok := h.rooms.Members(roomID)
		if !ok {
			return
		}
		found = true
		info = models.RoomInfo{
			ID:       roomID,
			Members:  members,
			Size:     len(members),
			Capacity: rooms.Capacity,
			Typing:   h.presence.Typing(roomID),
		}
	})
	return info, found, err
}

// Rooms returns the ids of all live rooms.
func (h *Hub) Rooms(ctx context.Context) ([]string, error) {
	var ids []string
	err := h.do(ctx, func() { ids = h.rooms.RoomIDs() })
	return ids, err
}

// CloseRoom evicts every member of roomID with a room-closed event and drops
// the room. The bool is false if the room does not exist.
func (h *Hub) CloseRoom(ctx context.Context, roomID string) (bool, error) {
	var found bool
	err := h.do(ctx, func() {
		members, ok := h.rooms.Close(roomID)
		if !ok {
			return
		}
		found = true
		env := models.Envelope{Event: models.EventRoomClosed, Data: models.RoomClosed{RoomID: roomID}}
		for _, m := range members {
			userID := h.userID(m)
			h.presence.ClearTyping(m, userID, roomID)
			h.clients.Deliver(m, env)
			h.sinks.left(roomID, m, userID)
		}
		log.Infof("Room %s closed, evicted %d member(s)", roomID, len(members))
	})
	return found, err
}

// do runs fn on the hub goroutine and waits for it.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}

	select {
	case h.inbound <- inbound{call: call}:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) register(c *Client) error {
	if !h.sessions.Register(c.ID) {
		return fmt.Errorf("connection %s already registered", c.ID)
	}
	h.clients[c.ID] = c
	h.sinks.connected(c.ID)
	log.Infof("Client %s connected (%d online)", c.ID, h.sessions.Len())

	h.clients.Deliver(c.ID, models.Envelope{
		Event: models.EventConnected,
		Data:  models.Connected{ConnectionID: c.ID},
	})
	if c.Identity != nil {
		h.announce(c.ID, *c.Identity)
	}
	return nil
}

func (h *Hub) handle(msg inbound) {
	c := msg.client
	if h.clients[c.ID] != c {
		// already disconnected
		return
	}
	if msg.disconnect {
		h.disconnect(c)
		return
	}

	f := msg.frame
	switch f.Event {
	case models.EventAnnounce:
		var identity models.Identity
		if err := c.codec.Unmarshal(f.Data, &identity); err != nil || identity.ID == "" {
			h.reject(c.ID, models.ErrCodeBadRequest, "announce needs an identity with an id", "")
			return
		}
		h.announce(c.ID, identity)

	case models.EventJoinRoom:
		var roomID string
		if err := c.codec.Unmarshal(f.Data, &roomID); err != nil {
			h.reject(c.ID, models.ErrCodeBadRequest, "join-room needs a room id", "")
			return
		}
		h.join(c.ID, roomID)

	case models.EventLeaveRoom:
		if res, ok := h.rooms.Leave(c.ID); ok {
			h.afterLeave(c.ID, h.userID(c.ID), res)
		}

	case models.EventOffer, models.EventAnswer, models.EventICE:
		h.relay(c, f)

	case models.EventTypingStart, models.EventTypingStop:
		var req models.TypingRequest
		if err := c.codec.Unmarshal(f.Data, &req); err != nil || req.RoomID == "" {
			log.Debugf("Dropping %s from %s: %v", f.Event, c.ID, err)
			return
		}
		var ok bool
		if f.Event == models.EventTypingStart {
			ok = h.presence.TypingStart(c.ID, req.RoomID)
		} else {
			ok = h.presence.TypingStop(c.ID, req.RoomID)
		}
		if !ok {
			log.Debugf("Dropping %s from %s: not announced or not in room %s", f.Event, c.ID, req.RoomID)
		}

	case models.EventMessagePrivate:
		h.privateMessage(c, f)

	case models.EventMessageGroup:
		h.groupMessage(c, f)

	default:
		log.Warnf("Unknown event %q from %s", f.Event, c.ID)
	}
}

func (h *Hub) announce(connID string, identity models.Identity) {
	if !h.sessions.Announce(connID, identity) {
		return
	}
	log.Infof("Client %s announced as %s (%s)", connID, identity.ID, identity.Name)
	h.sinks.announced(connID, identity)
	h.presence.BroadcastRoster()
}

func (h *Hub) join(connID, roomID string) {
	res, err := h.rooms.Join(connID, roomID)
	if err != nil {
		switch {
		case errors.Is(err, rooms.ErrRoomFull):
			log.Infof("Client %s refused: room %s is full", connID, roomID)
			h.reject(connID, models.ErrCodeRoomFull, err.Error(), roomID)
		default:
			h.reject(connID, models.ErrCodeBadRequest, err.Error(), roomID)
		}
		return
	}

	userID := h.userID(connID)
	if res.Left != nil {
		h.afterLeave(connID, userID, *res.Left)
	}

	h.presence.NotifyRoomJoined(connID, res)
	if res.Rejoined {
		return
	}
	if !res.IsFirst {
		h.presence.NotifyPeerJoined(roomID, connID)
	}
	h.sinks.joined(roomID, connID, userID)
	log.Infof("Client %s joined room %s (first=%t)", connID, roomID, res.IsFirst)
}

// afterLeave runs the notifications for a membership that just ended.
func (h *Hub) afterLeave(connID, userID string, res rooms.LeaveResult) {
	h.presence.ClearTyping(connID, userID, res.RoomID)
	h.presence.NotifyPeerLeft(res.RoomID, connID, res.Remaining)
	h.sinks.left(res.RoomID, connID, userID)
	if res.Deleted {
		log.Debugf("Room %s is empty, removed", res.RoomID)
	}
}

func (h *Hub) relay(c *Client, f models.Frame) {
	var p models.SignalPayload
	if err := c.codec.Unmarshal(f.Data, &p); err != nil {
		log.Debugf("Dropping %s from %s: %v", f.Event, c.ID, err)
		return
	}
	if p.TargetConnectionID == "" {
		log.Debugf("Dropping %s from %s: no target", f.Event, c.ID)
		return
	}

	switch f.Event {
	case models.EventOffer:
		h.router.RelayOffer(c.ID, p.TargetConnectionID, p.SDP)
	case models.EventAnswer:
		h.router.RelayAnswer(c.ID, p.TargetConnectionID, p.SDP)
	case models.EventICE:
		if p.Candidate == nil {
			log.Debugf("Dropping ice from %s: no candidate", c.ID)
			return
		}
		h.router.RelayICE(c.ID, p.TargetConnectionID, *p.Candidate)
	}
}

func (h *Hub) privateMessage(c *Client, f models.Frame) {
	senderID := h.userID(c.ID)
	if senderID == "" {
		h.reject(c.ID, models.ErrCodeNotAnnounce, "announce before sending messages", "")
		return
	}
	var req models.PrivateMessageRequest
	if err := c.codec.Unmarshal(f.Data, &req); err != nil || req.ReceiverID == "" || req.Content == "" {
		h.reject(c.ID, models.ErrCodeBadRequest, "message-private needs content and receiverId", "")
		return
	}

	msg := models.ChatMessage{
		ID:         uuid.NewString(),
		Content:    req.Content,
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		CreatedAt:  time.Now().UTC(),
	}
	receive := models.Envelope{Event: models.EventMessageReceive, Data: msg}
	for _, id := range h.sessions.ConnectionsForUser(req.ReceiverID) {
		h.clients.Deliver(id, receive)
	}
	h.clients.Deliver(c.ID, models.Envelope{Event: models.EventMessageSent, Data: msg})
}

func (h *Hub) groupMessage(c *Client, f models.Frame) {
	senderID := h.userID(c.ID)
	if senderID == "" {
		h.reject(c.ID, models.ErrCodeNotAnnounce, "announce before sending messages", "")
		return
	}
	var req models.GroupMessageRequest
	if err := c.codec.Unmarshal(f.Data, &req); err != nil || req.Content == "" {
		h.reject(c.ID, models.ErrCodeBadRequest, "message-group needs content", "")
		return
	}

	env := models.Envelope{Event: models.EventMessageGroup, Data: models.ChatMessage{
		ID:        uuid.NewString(),
		Content:   req.Content,
		SenderID:  senderID,
		GroupID:   req.GroupID,
		CreatedAt: time.Now().UTC(),
	}}
	for _, id := range h.sessions.ConnectionIDs() {
		h.clients.Deliver(id, env)
	}
}

// disconnect runs the cleanup for a closed connection. The client is removed
// from the client set first, so a second call is a no-op.
func (h *Hub) disconnect(c *Client) {
	delete(h.clients, c.ID)
	close(c.send)

	userID := h.userID(c.ID)
	if res, ok := h.rooms.Leave(c.ID); ok {
		h.afterLeave(c.ID, userID, res)
	}
	h.presence.ClearTyping(c.ID, userID, "")

	ep, ok := h.sessions.Remove(c.ID)
	if !ok {
		return
	}
	if ep.Announced() {
		h.presence.BroadcastRoster()
	}
	h.sinks.disconnected(c.ID, userID)
	log.Infof("Client %s disconnected (%d online)", c.ID, h.sessions.Len())
}

func (h *Hub) reject(connID, code, message, roomID string) {
	h.clients.Deliver(connID, models.Envelope{
		Event: models.EventError,
		Data:  models.ErrorPayload{Code: code, Message: message, RoomID: roomID},
	})
}

func (h *Hub) userID(connID string) string {
	ep, _ := h.sessions.Get(connID)
	return ep.UserID()
}
