// Package session tracks every live connection and the identity it announced.
//
// A Registry is not safe for concurrent use. The signaling hub owns one and
// mutates it from its event loop only.
package session

import (
	"sort"

	"github.com/mossy-p/meeting-signaling/internal/models"
)

// Endpoint is one live client connection.
type Endpoint struct {
	ConnectionID string
	Identity     *models.Identity // nil until announce
	RoomID       string           // "" when not in a room

	seq uint64
}

// Announced reports whether the endpoint has attached an identity.
func (e Endpoint) Announced() bool {
	return e.Identity != nil
}

// UserID returns the announced user id or "".
func (e Endpoint) UserID() string {
	if e.Identity == nil {
		return ""
	}
	return e.Identity.ID
}

type Registry struct {
	endpoints map[string]*Endpoint
	next      uint64
}

func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Endpoint)}
}

// Register creates an endpoint with no identity and no room. Connection ids
// are never reused, so registering a live id again is refused.
func (r *Registry) Register(connID string) bool {
	if _, exists := r.endpoints[connID]; exists {
		return false
	}
	r.next++
	r.endpoints[connID] = &Endpoint{ConnectionID: connID, seq: r.next}
	return true
}

// Announce attaches or overwrites the identity of a connection.
// Returns false if the connection is unknown.
func (r *Registry) Announce(connID string, identity models.Identity) bool {
	ep, ok := r.endpoints[connID]
	if !ok {
		return false
	}
	id := identity
	ep.Identity = &id
	return true
}

// Remove deletes the endpoint and returns its last known state.
// Removing an unknown id returns false and changes nothing.
func (r *Registry) Remove(connID string) (Endpoint, bool) {
	ep, ok := r.endpoints[connID]
	if !ok {
		return Endpoint{}, false
	}
	delete(r.endpoints, connID)
	return *ep, true
}

// Get returns a copy of the endpoint.
func (r *Registry) Get(connID string) (Endpoint, bool) {
	ep, ok := r.endpoints[connID]
	if !ok {
		return Endpoint{}, false
	}
	return *ep, true
}

// SetRoom records the room an endpoint is in ("" for none).
func (r *Registry) SetRoom(connID, roomID string) bool {
	ep, ok := r.endpoints[connID]
	if !ok {
		return false
	}
	ep.RoomID = roomID
	return true
}

// ConnectionIDs returns all live connections in registration order.
func (r *Registry) ConnectionIDs() []string {
	eps := r.ordered()
	ids := make([]string, len(eps))
	for i, ep := range eps {
		ids[i] = ep.ConnectionID
	}
	return ids
}

// Roster returns the identities of announced endpoints in registration order.
// Two connections announcing the same user both appear.
func (r *Registry) Roster() []models.Identity {
	roster := make([]models.Identity, 0, len(r.endpoints))
	for _, ep := range r.ordered() {
		if ep.Identity != nil {
			roster = append(roster, *ep.Identity)
		}
	}
	return roster
}

// ConnectionsForUser returns every live connection announced as userID.
func (r *Registry) ConnectionsForUser(userID string) []string {
	var ids []string
	for _, ep := range r.ordered() {
		if ep.Identity != nil && ep.Identity.ID == userID {
			ids = append(ids, ep.ConnectionID)
		}
	}
	return ids
}

func (r *Registry) Len() int {
	return len(r.endpoints)
}

func (r *Registry) ordered() []*Endpoint {
	eps := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].seq < eps[j].seq })
	return eps
}
