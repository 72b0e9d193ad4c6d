// Package rooms maps room ids to the endpoints currently joined.
//
// Rooms are created on first join and dropped as soon as they empty. A room
// holds at most Capacity endpoints; a join into a full room is refused.
// Like session.Registry, a Directory is owned by the hub's event loop and is
// not safe for concurrent use.
package rooms

import (
	"errors"
	"sort"

	"github.com/mossy-p/meeting-signaling/internal/session"
)

// Capacity is the maximum number of endpoints in a room (a 1:1 call).
const Capacity = 2

var (
	ErrRoomFull        = errors.New("room is full")
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrEmptyRoomID     = errors.New("room id is required")
)

// JoinResult describes the outcome of a successful join.
type JoinResult struct {
	RoomID string
	// IsFirst is true when the joiner is the only member.
	IsFirst bool
	// Peers are the other members in join order.
	Peers []string
	// Rejoined is true when the endpoint was already in this room.
	Rejoined bool
	// Left is set when the join moved the endpoint out of another room.
	Left *LeaveResult
}

// LeaveResult describes a membership that ended.
type LeaveResult struct {
	RoomID    string
	Remaining []string
	// Deleted is true when the room emptied and was dropped.
	Deleted bool
}

type room struct {
	id      string
	members []string
}

func (r *room) without(connID string) []string {
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m != connID {
			out = append(out, m)
		}
	}
	return out
}

type Directory struct {
	sessions *session.Registry
	rooms    map[string]*room
	memberOf map[string]string
}

func NewDirectory(sessions *session.Registry) *Directory {
	return &Directory{
		sessions: sessions,
		rooms:    make(map[string]*room),
		memberOf: make(map[string]string),
	}
}

// Join adds connID to roomID, creating the room if needed. An endpoint in a
// different room is moved out of it first. A full room is checked before
// anything changes, so a refused join keeps the old membership.
func (d *Directory) Join(connID, roomID string) (JoinResult, error) {
	if roomID == "" {
		return JoinResult{}, ErrEmptyRoomID
	}
	if _, ok := d.sessions.Get(connID); !ok {
		return JoinResult{}, ErrUnknownEndpoint
	}

	r, exists := d.rooms[roomID]
	if current, ok := d.memberOf[connID]; ok && current == roomID {
		return JoinResult{
			RoomID:   roomID,
			IsFirst:  len(r.members) == 1,
			Peers:    r.without(connID),
			Rejoined: true,
		}, nil
	}
	if exists && len(r.members) >= Capacity {
		return JoinResult{}, ErrRoomFull
	}

	var left *LeaveResult
	if res, ok := d.Leave(connID); ok {
		left = &res
	}

	if !exists {
		r = &room{id: roomID}
		d.rooms[roomID] = r
	}
	peers := append([]string(nil), r.members...)
	r.members = append(r.members, connID)
	d.memberOf[connID] = roomID
	d.sessions.SetRoom(connID, roomID)

	return JoinResult{
		RoomID:  roomID,
		IsFirst: len(r.members) == 1,
		Peers:   peers,
		Left:    left,
	}, nil
}

// Leave removes connID from its room, dropping the room if it empties.
// Returns false if the endpoint was not in a room.
func (d *Directory) Leave(connID string) (LeaveResult, bool) {
	roomID, ok := d.memberOf[connID]
	if !ok {
		return LeaveResult{}, false
	}
	delete(d.memberOf, connID)
	d.sessions.SetRoom(connID, "")

	r := d.rooms[roomID]
	r.members = r.without(connID)

	res := LeaveResult{RoomID: roomID, Remaining: append([]string(nil), r.members...)}
	if len(r.members) == 0 {
		delete(d.rooms, roomID)
		res.Deleted = true
	}
	return res, true
}

// Close drops a room and returns the endpoints that were in it.
func (d *Directory) Close(roomID string) ([]string, bool) {
	r, ok := d.rooms[roomID]
	if !ok {
		return nil, false
	}
	for _, m := range r.members {
		delete(d.memberOf, m)
		d.sessions.SetRoom(m, "")
	}
	delete(d.rooms, roomID)
	return r.members, true
}

// PeersOf returns the other members of connID's room.
func (d *Directory) PeersOf(connID string) []string {
	roomID, ok := d.memberOf[connID]
	if !ok {
		return nil
	}
	return d.rooms[roomID].without(connID)
}

// Shares reports whether a and b are distinct members of the same room.
func (d *Directory) Shares(a, b string) bool {
	if a == b {
		return false
	}
	ra, ok := d.memberOf[a]
	if !ok {
		return false
	}
	rb, ok := d.memberOf[b]
	return ok && ra == rb
}

// RoomOf returns the room connID is in.
func (d *Directory) RoomOf(connID string) (string, bool) {
	roomID, ok := d.memberOf[connID]
	return roomID, ok
}

// Members returns the members of roomID in join order.
func (d *Directory) Members(roomID string) ([]string, bool) {
	r, ok := d.rooms[roomID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), r.members...), true
}

// RoomIDs returns the ids of all live rooms, sorted.
func (d *Directory) RoomIDs() []string {
	ids := make([]string, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) Len() int {
	return len(d.rooms)
}
