package signaling

import (
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/rooms"
)

// Deliverer hands an envelope to one connection's send queue.
// It reports false if the connection is gone or its queue is full.
type Deliverer interface {
	Deliver(connID string, env models.Envelope) bool
}

// Router forwards negotiation messages between two endpoints that share a
// room. It keeps no state of its own; a message addressed to an endpoint
// outside the sender's room is dropped without telling the sender.
type Router struct {
	dir *rooms.Directory
	out Deliverer
}

func NewRouter(dir *rooms.Directory, out Deliverer) *Router {
	return &Router{dir: dir, out: out}
}

// RelayOffer forwards an SDP offer from sender to target.
func (r *Router) RelayOffer(sender, target, sdp string) bool {
	return r.relay(models.EventOffer, sender, target, models.SignalPayload{SDP: sdp})
}

// RelayAnswer forwards an SDP answer from sender to target.
func (r *Router) RelayAnswer(sender, target, sdp string) bool {
	return r.relay(models.EventAnswer, sender, target, models.SignalPayload{SDP: sdp})
}

// RelayICE forwards a trickled ICE candidate from sender to target.
func (r *Router) RelayICE(sender, target string, candidate models.ICECandidate) bool {
	return r.relay(models.EventICE, sender, target, models.SignalPayload{Candidate: &candidate})
}

func (r *Router) relay(event models.EventType, sender, target string, payload models.SignalPayload) bool {
	if !r.dir.Shares(sender, target) {
		log.Debugf("Dropping %s from %s: target %s is not in the sender's room", event, sender, target)
		return false
	}

	payload.FromConnectionID = sender
	return r.out.Deliver(target, models.Envelope{Event: event, Data: payload})
}
