package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// MaxPendingCandidates bounds the remote candidates buffered before a remote
// description is applied. The oldest is dropped when full.
const MaxPendingCandidates = 64

// Config wires a Machine to the outside world.
type Config struct {
	Signaler Signaler
	Media    MediaSource
	NewConn  ConnFactory

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(State)
	// OnRemoteTrack is called for each track the remote side sends.
	OnRemoteTrack func(*webrtc.TrackRemote)
}

type candidate struct {
	from string
	init webrtc.ICECandidateInit
}

// effects are applied after the lock is released.
type effects struct {
	states []State
	conns  []Conn
	media  LocalMedia
}

// Machine is one endpoint's call. It is safe for concurrent use: relay events
// and underlying connection callbacks may arrive from different goroutines.
// A Machine is single use; once Closed a new call needs a new Machine.
type Machine struct {
	cfg Config

	mu        sync.Mutex
	state     State
	selfID    string
	roomID    string
	remoteID  string
	media     LocalMedia
	conn      Conn
	gen       uint64
	remoteSet bool
	pending   []candidate
	audio     bool
	video     bool
}

func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg, state: Idle, audio: true, video: true}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RemoteID returns the connection id of the negotiated peer, if any.
func (m *Machine) RemoteID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteID
}

// SetSelfID records this endpoint's own connection id. It decides which side
// yields when both sides offer at once.
func (m *Machine) SetSelfID(id string) {
	m.mu.Lock()
	m.selfID = id
	m.mu.Unlock()
}

// Join acquires local media and prepares an underlying connection. It must be
// called before joining a room on the relay. On failure the machine is back
// in Idle and the error wraps ErrMediaUnavailable for capture problems.
func (m *Machine) Join(ctx context.Context) error {
	var stateErr error
	m.update(func(fx *effects) {
		switch m.state {
		case Idle:
			m.setState(fx, AwaitingMedia)
		case Closed:
			stateErr = ErrClosed
		default:
			stateErr = ErrAlreadyJoined
		}
	})
	if stateErr != nil {
		return stateErr
	}

	media, err := m.cfg.Media.Acquire(ctx)
	if err != nil {
		m.update(func(fx *effects) {
			if m.state == AwaitingMedia {
				m.setState(fx, Idle)
			}
		})
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	var joinErr error
	m.update(func(fx *effects) {
		if m.state != AwaitingMedia {
			// ended while capture was pending
			fx.media = media
			joinErr = ErrClosed
			return
		}
		m.media = media
		m.media.SetAudioEnabled(m.audio)
		m.media.SetVideoEnabled(m.video)
		if err := m.freshConn(fx); err != nil {
			fx.media = media
			m.media = nil
			m.setState(fx, Idle)
			joinErr = err
		}
	})
	return joinErr
}

// HandleRoomJoined reacts to the relay confirming our join. A joiner that is
// not first offers to the member already there.
func (m *Machine) HandleRoomJoined(roomID string, isFirst bool, peers []string) {
	m.update(func(fx *effects) {
		m.roomID = roomID
		if isFirst || len(peers) == 0 {
			return
		}
		m.maybeOffer(fx, peers[0])
	})
}

// HandlePeerJoined reacts to a second endpoint joining our room.
func (m *Machine) HandlePeerJoined(peerID string) {
	m.update(func(fx *effects) { m.maybeOffer(fx, peerID) })
}

// HandleOffer answers an offer from peer. When both sides offered at once,
// the side with the smaller connection id yields and answers; the other
// ignores the colliding offer.
func (m *Machine) HandleOffer(from, sdp string) {
	m.update(func(fx *effects) {
		switch m.state {
		case AwaitingMedia:
		case Connected:
			// a new session replaces the old one
			if err := m.resetConn(fx); err != nil {
				return
			}
		case Offering:
			if !m.polite(from) {
				log.Debugf("Ignoring colliding offer from %s", from)
				return
			}
			log.Debugf("Offer collision with %s, yielding", from)
			if err := m.resetConn(fx); err != nil {
				return
			}
		default:
			log.Debugf("Ignoring offer from %s in state %s", from, m.state)
			return
		}
		if m.conn == nil {
			return
		}

		m.remoteID = from
		m.setState(fx, Answering)

		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
		if err := m.conn.SetRemoteDescription(offer); err != nil {
			m.abandon(fx, fmt.Errorf("apply offer: %w", err))
			return
		}
		m.remoteSet = true
		m.flushPending()

		answer, err := m.conn.CreateAnswer(nil)
		if err != nil {
			m.abandon(fx, fmt.Errorf("create answer: %w", err))
			return
		}
		if err := m.conn.SetLocalDescription(answer); err != nil {
			m.abandon(fx, fmt.Errorf("set local answer: %w", err))
			return
		}
		if err := m.cfg.Signaler.SendAnswer(from, answer.SDP); err != nil {
			m.abandon(fx, fmt.Errorf("send answer: %w", err))
		}
	})
}

// HandleAnswer applies the answer to our in-flight offer.
func (m *Machine) HandleAnswer(from, sdp string) {
	m.update(func(fx *effects) {
		if m.state != Offering || from != m.remoteID {
			log.Debugf("Ignoring answer from %s in state %s", from, m.state)
			return
		}

		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
		if err := m.conn.SetRemoteDescription(answer); err != nil {
			m.abandon(fx, fmt.Errorf("apply answer: %w", err))
			return
		}
		m.remoteSet = true
		m.flushPending()
		m.setState(fx, Connected)
	})
}

// HandleICE applies a remote candidate, or buffers it until the remote
// description is known.
func (m *Machine) HandleICE(from string, init webrtc.ICECandidateInit) {
	m.update(func(fx *effects) {
		if m.state == Idle || m.state == Closed || m.conn == nil {
			return
		}
		if m.remoteID != "" && from != m.remoteID {
			log.Debugf("Dropping candidate from stale peer %s", from)
			return
		}

		if !m.remoteSet {
			if len(m.pending) >= MaxPendingCandidates {
				log.Warnf("Candidate buffer full, dropping oldest")
				m.pending = m.pending[1:]
			}
			m.pending = append(m.pending, candidate{from: from, init: init})
			return
		}
		if err := m.conn.AddICECandidate(init); err != nil {
			log.Warnf("Failed to add candidate from %s: %v", from, err)
		}
	})
}

// HandlePeerLeft ends the call when the negotiated peer leaves.
func (m *Machine) HandlePeerLeft(peerID string) {
	m.update(func(fx *effects) {
		if m.state == Idle || (m.remoteID != "" && peerID != m.remoteID) {
			return
		}
		m.teardown(fx)
	})
}

// HandleRoomClosed ends the call when an operator closes the room.
func (m *Machine) HandleRoomClosed(roomID string) {
	m.update(func(fx *effects) {
		if m.state == Idle || (m.roomID != "" && roomID != m.roomID) {
			return
		}
		m.teardown(fx)
	})
}

// Close ends the call: local media is released and the connection torn
// down. Safe to call more than once.
func (m *Machine) Close() {
	m.update(m.teardown)
}

// ToggleAudio flips the local microphone and returns whether it is now on.
func (m *Machine) ToggleAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = !m.audio
	if m.media != nil {
		m.media.SetAudioEnabled(m.audio)
	}
	return m.audio
}

// ToggleVideo flips the local camera and returns whether it is now on.
func (m *Machine) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.video = !m.video
	if m.media != nil {
		m.media.SetVideoEnabled(m.video)
	}
	return m.video
}

// update runs fn under the lock, then performs the queued side effects.
func (m *Machine) update(fn func(fx *effects)) {
	var fx effects
	m.mu.Lock()
	fn(&fx)
	m.mu.Unlock()

	for _, c := range fx.conns {
		if err := c.Close(); err != nil {
			log.Debugf("Closing connection: %v", err)
		}
	}
	if fx.media != nil {
		fx.media.Stop()
	}
	if m.cfg.OnStateChange != nil {
		for _, s := range fx.states {
			m.cfg.OnStateChange(s)
		}
	}
}

func (m *Machine) setState(fx *effects, s State) {
	if m.state == s {
		return
	}
	log.Debugf("%s -> %s", m.state, s)
	m.state = s
	fx.states = append(fx.states, s)
}

// maybeOffer is the single entry point for starting negotiation. Both the
// peer-joined and the room-joined trigger land here; a second trigger while
// an offer or answer is in flight is ignored.
func (m *Machine) maybeOffer(fx *effects, target string) {
	switch m.state {
	case AwaitingMedia:
	case Connected:
		if err := m.resetConn(fx); err != nil {
			return
		}
	default:
		log.Debugf("Not offering to %s in state %s", target, m.state)
		return
	}
	if m.conn == nil {
		return
	}

	m.remoteID = target
	m.setState(fx, Offering)

	offer, err := m.conn.CreateOffer(nil)
	if err != nil {
		m.abandon(fx, fmt.Errorf("create offer: %w", err))
		return
	}
	if err := m.conn.SetLocalDescription(offer); err != nil {
		m.abandon(fx, fmt.Errorf("set local offer: %w", err))
		return
	}
	if err := m.cfg.Signaler.SendOffer(target, offer.SDP); err != nil {
		m.abandon(fx, fmt.Errorf("send offer: %w", err))
	}
}

// polite reports whether we yield to from's offer on a collision.
func (m *Machine) polite(from string) bool {
	return m.selfID < from
}

// abandon gives up on the current negotiation after a payload the
// connection rejected. The machine waits in AwaitingMedia with a fresh
// connection for the next trigger.
func (m *Machine) abandon(fx *effects, err error) {
	log.Warnf("Negotiation with %s abandoned: %v", m.remoteID, err)
	if resetErr := m.resetConn(fx); resetErr != nil {
		return
	}
	m.setState(fx, AwaitingMedia)
}

// resetConn swaps the connection for a fresh one with the same local media.
// If that fails the call ends.
func (m *Machine) resetConn(fx *effects) error {
	if m.conn != nil {
		fx.conns = append(fx.conns, m.conn)
		m.conn = nil
	}
	m.remoteID = ""
	m.remoteSet = false
	m.pending = nil

	if err := m.freshConn(fx); err != nil {
		log.Errorf("Failed to recreate connection: %v", err)
		m.teardown(fx)
		return err
	}
	return nil
}

// freshConn creates the underlying connection, attaches local tracks and
// hooks callbacks tagged with a generation so late callbacks from a replaced
// connection are ignored.
func (m *Machine) freshConn(fx *effects) error {
	conn, err := m.cfg.NewConn()
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	for _, track := range m.media.Tracks() {
		if _, err := conn.AddTrack(track); err != nil {
			fx.conns = append(fx.conns, conn)
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
	}

	m.gen++
	gen := m.gen
	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.onLocalCandidate(gen, c.ToJSON())
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.onConnState(gen, s)
	})
	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Infof("Remote %s track %s", track.Kind(), track.ID())
		if m.cfg.OnRemoteTrack != nil {
			m.cfg.OnRemoteTrack(track)
		}
	})

	m.conn = conn
	return nil
}

func (m *Machine) onLocalCandidate(gen uint64, init webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.remoteID == "" || m.state == Closed {
		return
	}
	if err := m.cfg.Signaler.SendICE(m.remoteID, init); err != nil {
		log.Warnf("Failed to send candidate: %v", err)
	}
}

func (m *Machine) onConnState(gen uint64, s webrtc.PeerConnectionState) {
	m.update(func(fx *effects) {
		if gen != m.gen {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if m.state.Negotiating() {
				m.setState(fx, Connected)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if m.state != Closed {
				log.Infof("Connection %s, ending call", s)
				m.teardown(fx)
			}
		}
	})
}

func (m *Machine) flushPending() {
	for _, c := range m.pending {
		if c.from != m.remoteID {
			continue
		}
		if err := m.conn.AddICECandidate(c.init); err != nil {
			log.Warnf("Failed to add buffered candidate: %v", err)
		}
	}
	m.pending = nil
}

// teardown releases everything and moves to Closed.
func (m *Machine) teardown(fx *effects) {
	if m.state == Closed {
		return
	}
	m.gen++
	if m.conn != nil {
		fx.conns = append(fx.conns, m.conn)
		m.conn = nil
	}
	if m.media != nil {
		fx.media = m.media
		m.media = nil
	}
	m.remoteID = ""
	m.remoteSet = false
	m.pending = nil
	m.setState(fx, Closed)
}
