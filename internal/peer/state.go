package peer

// State is where a call is in its lifecycle.
type State int

const (
	Idle State = iota
	AwaitingMedia
	Offering
	Answering
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingMedia:
		return "awaiting-media"
	case Offering:
		return "offering"
	case Answering:
		return "answering"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Negotiating reports whether an offer/answer cycle is in flight.
func (s State) Negotiating() bool {
	return s == Offering || s == Answering
}
