package signaling

import (
	"sort"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/rooms"
	"github.com/mossy-p/meeting-signaling/internal/session"
)

// Presence publishes roster, room membership and typing events.
type Presence struct {
	reg *session.Registry
	dir *rooms.Directory
	out Deliverer

	// typing maps roomID -> set of user ids currently typing
	typing map[string]map[string]struct{}
	// typedIn maps connID -> rooms it started typing in, so a disconnect
	// can emit the stops the client never sent
	typedIn map[string]map[string]struct{}
}

func NewPresence(reg *session.Registry, dir *rooms.Directory, out Deliverer) *Presence {
	return &Presence{
		reg:     reg,
		dir:     dir,
		out:     out,
		typing:  make(map[string]map[string]struct{}),
		typedIn: make(map[string]map[string]struct{}),
	}
}

// BroadcastRoster sends the announced identities to every connection.
func (p *Presence) BroadcastRoster() {
	env := models.Envelope{Event: models.EventRoster, Data: p.reg.Roster()}
	for _, id := range p.reg.ConnectionIDs() {
		p.out.Deliver(id, env)
	}
}

// NotifyRoomJoined tells the joining endpoint whether it is first.
func (p *Presence) NotifyRoomJoined(connID string, res rooms.JoinResult) {
	p.out.Deliver(connID, models.Envelope{
		Event: models.EventRoomJoined,
		Data:  models.RoomJoined{RoomID: res.RoomID, IsFirst: res.IsFirst, Peers: res.Peers},
	})
}

// NotifyPeerJoined tells the other member(s) of roomID about newConnID.
func (p *Presence) NotifyPeerJoined(roomID, newConnID string) {
	members, _ := p.dir.Members(roomID)
	env := models.Envelope{Event: models.EventPeerJoined, Data: newConnID}
	for _, m := range members {
		if m != newConnID {
			p.out.Deliver(m, env)
		}
	}
}

// NotifyPeerLeft tells the remaining members that departed is gone.
func (p *Presence) NotifyPeerLeft(roomID, departed string, remaining []string) {
	env := models.Envelope{Event: models.EventPeerLeft, Data: departed}
	for _, m := range remaining {
		p.out.Deliver(m, env)
	}
	log.Debugf("Peer %s left room %s, notified %d member(s)", departed, roomID, len(remaining))
}

// TypingStart marks the sender's user as typing in roomID and tells the
// room's other members. Returns false if the sender never announced or is
// not a member of roomID.
func (p *Presence) TypingStart(connID, roomID string) bool {
	ep, ok := p.reg.Get(connID)
	if !ok || !ep.Announced() {
		return false
	}
	if current, ok := p.dir.RoomOf(connID); !ok || current != roomID {
		return false
	}
	userID := ep.UserID()

	set, ok := p.typing[roomID]
	if !ok {
		set = make(map[string]struct{})
		p.typing[roomID] = set
	}
	set[userID] = struct{}{}

	rooms, ok := p.typedIn[connID]
	if !ok {
		rooms = make(map[string]struct{})
		p.typedIn[connID] = rooms
	}
	rooms[roomID] = struct{}{}

	p.fanOutTyping(models.EventTypingStart, roomID, userID)
	return true
}

// TypingStop removes the sender's user from roomID's typing set.
func (p *Presence) TypingStop(connID, roomID string) bool {
	ep, ok := p.reg.Get(connID)
	if !ok || !ep.Announced() {
		return false
	}
	p.stopTyping(connID, roomID, ep.UserID())
	return true
}

// ClearTyping emits the typing-stop events a departing connection never
// sent. roomID limits the cleanup to one room; "" clears every room.
func (p *Presence) ClearTyping(connID, userID, roomID string) {
	if userID == "" {
		delete(p.typedIn, connID)
		return
	}
	if roomID != "" {
		if _, typed := p.typedIn[connID][roomID]; typed {
			p.stopTyping(connID, roomID, userID)
		}
		return
	}
	for r := range p.typedIn[connID] {
		p.stopTyping(connID, r, userID)
	}
	delete(p.typedIn, connID)
}

// Typing returns the users typing in roomID, sorted.
func (p *Presence) Typing(roomID string) []string {
	users := make([]string, 0, len(p.typing[roomID]))
	for u := range p.typing[roomID] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (p *Presence) stopTyping(connID, roomID, userID string) {
	if set, ok := p.typing[roomID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(p.typing, roomID)
		}
	}
	if rooms, ok := p.typedIn[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(p.typedIn, connID)
		}
	}
	p.fanOutTyping(models.EventTypingStop, roomID, userID)
}

// fanOutTyping delivers to every member of roomID that is not the typer.
// A user with several connections in the room hears none of its own events.
func (p *Presence) fanOutTyping(event models.EventType, roomID, userID string) {
	members, _ := p.dir.Members(roomID)
	env := models.Envelope{Event: event, Data: models.TypingEvent{RoomID: roomID, UserID: userID}}
	for _, m := range members {
		if ep, ok := p.reg.Get(m); ok && ep.UserID() == userID {
			continue
		}
		p.out.Deliver(m, env)
	}
}
