package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/peer"
	"github.com/mossy-p/meeting-signaling/internal/protocol"
)

// Events are optional callbacks for relay traffic the call itself does not
// consume. They run on the session's dispatch goroutine.
type Events struct {
	OnRoster     func(users []models.Identity)
	OnRoomJoined func(joined models.RoomJoined)
	OnPeerJoined func(connID string)
	OnPeerLeft   func(connID string)
	OnTyping     func(ev models.TypingEvent, typing bool)
	OnMessage    func(event models.EventType, msg models.ChatMessage)
	OnError      func(e models.ErrorPayload)
	OnState      func(state peer.State)
}

// SessionConfig wires a Session to local media and connection creation.
type SessionConfig struct {
	Identity *models.Identity
	Media    peer.MediaSource
	NewConn  peer.ConnFactory
	Events   Events
	// OnRemoteTrack receives tracks from the remote endpoint.
	OnRemoteTrack func(*webrtc.TrackRemote)
}

// Session is one endpoint: a relay connection plus the call state machine
// it drives. Each call gets its own machine; a Closed one is replaced on the
// next Join.
type Session struct {
	conn *Conn
	cfg  SessionConfig

	mu      sync.Mutex
	machine *peer.Machine
	roomID  string
	selfID  string
	ready   chan struct{}
}

// NewSession binds conn to a new call state machine. Call Run to start
// dispatching relay events.
func NewSession(conn *Conn, cfg SessionConfig) *Session {
	s := &Session{
		conn:  conn,
		cfg:   cfg,
		ready: make(chan struct{}),
	}
	s.machine = s.newMachine()
	return s
}

func (s *Session) newMachine() *peer.Machine {
	var m *peer.Machine
	m = peer.NewMachine(peer.Config{
		Signaler:      s,
		Media:         s.cfg.Media,
		NewConn:       s.cfg.NewConn,
		OnStateChange: func(state peer.State) { s.onState(m, state) },
		OnRemoteTrack: s.cfg.OnRemoteTrack,
	})
	return m
}

// onState leaves the relay room once the current call ends, so the room
// never holds an endpoint that can no longer answer.
func (s *Session) onState(m *peer.Machine, state peer.State) {
	if state == peer.Closed {
		s.mu.Lock()
		roomID := ""
		if m == s.machine {
			roomID, s.roomID = s.roomID, ""
		}
		s.mu.Unlock()

		if roomID != "" {
			if err := s.conn.Send(models.EventLeaveRoom, nil); err != nil {
				log.Debugf("Failed to leave room %s: %v", roomID, err)
			} else {
				log.Infof("Call ended, left room %s", roomID)
			}
		}
	}
	if s.cfg.Events.OnState != nil {
		s.cfg.Events.OnState(state)
	}
}

// Machine is the call state machine for the current or most recent call.
func (s *Session) Machine() *peer.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine
}

// RoomID is the room this endpoint last asked to join, empty once the call
// has ended.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// forgetRoom clears the room without telling the relay, for cases where the
// relay already dropped this endpoint.
func (s *Session) forgetRoom() {
	s.mu.Lock()
	s.roomID = ""
	s.mu.Unlock()
}

// ID is the connection id assigned by the relay, empty until connected.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// WaitConnected blocks until the relay has assigned a connection id.
func (s *Session) WaitConnected(ctx context.Context) (string, error) {
	select {
	case <-s.ready:
		return s.ID(), nil
	case <-s.conn.Done():
		return "", ErrConnClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run dispatches relay events until the connection ends or ctx is done.
// The call is closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer func() { s.Machine().Close() }()

	for {
		select {
		case <-ctx.Done():
			s.conn.Close()
			return ctx.Err()
		case f, ok := <-s.conn.Incoming():
			if !ok {
				return ErrConnClosed
			}
			s.dispatch(f)
		}
	}
}

// Close ends the call and the relay connection.
func (s *Session) Close() {
	s.Machine().Close()
	s.conn.Close()
}

// Announce attaches an identity to this connection.
func (s *Session) Announce(id models.Identity) error {
	return s.conn.Send(models.EventAnnounce, id)
}

// Join acquires local media and asks the relay to place this endpoint in
// roomID. A call that already ended is replaced by a fresh one.
func (s *Session) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		return errors.New("room id is required")
	}

	s.mu.Lock()
	if s.machine.State() == peer.Closed {
		s.machine = s.newMachine()
		if s.selfID != "" {
			s.machine.SetSelfID(s.selfID)
		}
	}
	m := s.machine
	s.mu.Unlock()

	if err := m.Join(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
	if err := s.conn.Send(models.EventJoinRoom, roomID); err != nil {
		s.forgetRoom()
		m.Close()
		return fmt.Errorf("send join-room: %w", err)
	}
	return nil
}

// Leave ends the call and leaves the room, keeping the relay connection.
// It is a no-op outside a room.
func (s *Session) Leave() error {
	s.mu.Lock()
	m := s.machine
	roomID := s.roomID
	s.roomID = ""
	s.mu.Unlock()

	m.Close()
	if roomID == "" {
		return nil
	}
	return s.conn.Send(models.EventLeaveRoom, nil)
}

// Typing sends typing-start or typing-stop for roomID.
func (s *Session) Typing(roomID string, typing bool) error {
	event := models.EventTypingStop
	if typing {
		event = models.EventTypingStart
	}
	return s.conn.Send(event, models.TypingRequest{RoomID: roomID})
}

// SendPrivate sends content to every connection of receiverID.
func (s *Session) SendPrivate(receiverID, content string) error {
	return s.conn.Send(models.EventMessagePrivate, models.PrivateMessageRequest{
		Content:    content,
		ReceiverID: receiverID,
	})
}

// SendGroup broadcasts content to every connected endpoint.
func (s *Session) SendGroup(groupID, content string) error {
	return s.conn.Send(models.EventMessageGroup, models.GroupMessageRequest{
		Content: content,
		GroupID: groupID,
	})
}

func (s *Session) SendOffer(target, sdp string) error {
	return s.conn.Send(models.EventOffer, models.SignalPayload{SDP: sdp, TargetConnectionID: target})
}

func (s *Session) SendAnswer(target, sdp string) error {
	return s.conn.Send(models.EventAnswer, models.SignalPayload{SDP: sdp, TargetConnectionID: target})
}

func (s *Session) SendICE(target string, c webrtc.ICECandidateInit) error {
	return s.conn.Send(models.EventICE, models.SignalPayload{
		Candidate:          fromInit(c),
		TargetConnectionID: target,
	})
}

func (s *Session) dispatch(f models.Frame) {
	codec := s.conn.Codec()
	machine := s.Machine()

	switch f.Event {
	case models.EventConnected:
		var c models.Connected
		if err := codec.Unmarshal(f.Data, &c); err != nil {
			log.Warnf("Bad connected payload: %v", err)
			return
		}
		s.mu.Lock()
		first := s.selfID == ""
		s.selfID = c.ConnectionID
		s.mu.Unlock()
		machine.SetSelfID(c.ConnectionID)
		if s.cfg.Identity != nil {
			if err := s.Announce(*s.cfg.Identity); err != nil {
				log.Warnf("Failed to announce: %v", err)
			}
		}
		if first {
			close(s.ready)
		}

	case models.EventRoster:
		var users []models.Identity
		if err := codec.Unmarshal(f.Data, &users); err != nil && !errors.Is(err, protocol.ErrEmptyPayload) {
			log.Debugf("Bad roster payload: %v", err)
			return
		}
		if s.cfg.Events.OnRoster != nil {
			s.cfg.Events.OnRoster(users)
		}

	case models.EventRoomJoined:
		var rj models.RoomJoined
		if err := codec.Unmarshal(f.Data, &rj); err != nil {
			log.Warnf("Bad room-joined payload: %v", err)
			return
		}
		machine.HandleRoomJoined(rj.RoomID, rj.IsFirst, rj.Peers)
		if s.cfg.Events.OnRoomJoined != nil {
			s.cfg.Events.OnRoomJoined(rj)
		}

	case models.EventPeerJoined, models.EventPeerLeft:
		var id string
		if err := codec.Unmarshal(f.Data, &id); err != nil || id == "" {
			log.Warnf("Bad %s payload: %v", f.Event, err)
			return
		}
		if f.Event == models.EventPeerJoined {
			machine.HandlePeerJoined(id)
			if s.cfg.Events.OnPeerJoined != nil {
				s.cfg.Events.OnPeerJoined(id)
			}
			return
		}
		machine.HandlePeerLeft(id)
		if s.cfg.Events.OnPeerLeft != nil {
			s.cfg.Events.OnPeerLeft(id)
		}

	case models.EventOffer, models.EventAnswer, models.EventICE:
		var p models.SignalPayload
		if err := codec.Unmarshal(f.Data, &p); err != nil || p.FromConnectionID == "" {
			log.Warnf("Bad %s payload: %v", f.Event, err)
			return
		}
		switch f.Event {
		case models.EventOffer:
			machine.HandleOffer(p.FromConnectionID, p.SDP)
		case models.EventAnswer:
			machine.HandleAnswer(p.FromConnectionID, p.SDP)
		case models.EventICE:
			if p.Candidate == nil {
				return
			}
			machine.HandleICE(p.FromConnectionID, toInit(*p.Candidate))
		}

	case models.EventRoomClosed:
		var rc models.RoomClosed
		if err := codec.Unmarshal(f.Data, &rc); err != nil {
			log.Warnf("Bad room-closed payload: %v", err)
			return
		}
		if s.RoomID() == rc.RoomID {
			s.forgetRoom()
		}
		machine.HandleRoomClosed(rc.RoomID)

	case models.EventTypingStart, models.EventTypingStop:
		var ev models.TypingEvent
		if err := codec.Unmarshal(f.Data, &ev); err != nil {
			return
		}
		if s.cfg.Events.OnTyping != nil {
			s.cfg.Events.OnTyping(ev, f.Event == models.EventTypingStart)
		}

	case models.EventMessageReceive, models.EventMessageSent, models.EventMessageGroup:
		var msg models.ChatMessage
		if err := codec.Unmarshal(f.Data, &msg); err != nil {
			log.Warnf("Bad %s payload: %v", f.Event, err)
			return
		}
		if s.cfg.Events.OnMessage != nil {
			s.cfg.Events.OnMessage(f.Event, msg)
		}

	case models.EventError:
		var e models.ErrorPayload
		if err := codec.Unmarshal(f.Data, &e); err != nil {
			log.Warnf("Bad error payload: %v", err)
			return
		}
		log.Warnf("Relay rejected request: %s: %s", e.Code, e.Message)
		if e.Code == models.ErrCodeRoomFull {
			s.forgetRoom()
			machine.Close()
		}
		if s.cfg.Events.OnError != nil {
			s.cfg.Events.OnError(e)
		}

	default:
		log.Debugf("Ignoring %s", f.Event)
	}
}

func toInit(c models.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromInit(c webrtc.ICECandidateInit) *models.ICECandidate {
	return &models.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
