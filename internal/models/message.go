package models

import "time"

// EventType names a message on the signaling channel
type EventType string

const (
	// client -> server
	EventAnnounce       EventType = "announce"
	EventJoinRoom       EventType = "join-room"
	EventLeaveRoom      EventType = "leave-room"
	EventTypingStart    EventType = "typing-start"
	EventTypingStop     EventType = "typing-stop"
	EventMessagePrivate EventType = "message-private"

	// both directions
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICE          EventType = "ice"
	EventMessageGroup EventType = "message-group"

	// server -> client
	EventConnected      EventType = "connected"
	EventRoster         EventType = "roster"
	EventRoomJoined     EventType = "room-joined"
	EventPeerJoined     EventType = "peer-joined"
	EventPeerLeft       EventType = "peer-left"
	EventRoomClosed     EventType = "room-closed"
	EventMessageReceive EventType = "message-receive"
	EventMessageSent    EventType = "message-sent"
	EventError          EventType = "error"
)

// Envelope is an outbound message. Data is encoded by the connection's codec.
type Envelope struct {
	Event EventType `json:"event"`
	Data  any       `json:"data,omitempty"`
}

// Frame is an inbound message whose payload has not been decoded yet.
type Frame struct {
	Event EventType
	Data  []byte
}

// Identity is the externally supplied user profile attached by announce.
type Identity struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
}

// Connected tells a client its own connection id.
type Connected struct {
	ConnectionID string `json:"connectionId"`
}

// RoomJoined is sent to the endpoint that joined.
type RoomJoined struct {
	RoomID  string   `json:"roomId"`
	IsFirst bool     `json:"isFirst"`
	Peers   []string `json:"peers,omitempty"`
}

// ICECandidate mirrors the browser's RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalPayload carries an offer/answer SDP or an ICE candidate.
// Inbound messages name the target, relayed ones name the sender.
type SignalPayload struct {
	SDP                string        `json:"sdp,omitempty"`
	Candidate          *ICECandidate `json:"candidate,omitempty"`
	TargetConnectionID string        `json:"targetConnectionId,omitempty"`
	FromConnectionID   string        `json:"fromConnectionId,omitempty"`
}

// TypingRequest is sent by the typing client.
type TypingRequest struct {
	RoomID string `json:"roomId"`
}

// TypingEvent is what the other room members receive.
type TypingEvent struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// PrivateMessageRequest asks the relay to deliver content to one user.
type PrivateMessageRequest struct {
	Content    string `json:"content"`
	ReceiverID string `json:"receiverId"`
}

// GroupMessageRequest asks the relay to fan content out to everyone.
type GroupMessageRequest struct {
	Content string `json:"content"`
	GroupID string `json:"groupId"`
}

// ChatMessage is relayed, never stored.
type ChatMessage struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	Read       bool      `json:"read"`
}

// RoomClosed is sent to members of a room an operator closed.
type RoomClosed struct {
	RoomID string `json:"roomId"`
}

// Error codes sent to clients
const (
	ErrCodeRoomFull    = "room-full"
	ErrCodeBadRequest  = "bad-request"
	ErrCodeNotAnnounce = "not-announced"
)

// ErrorPayload reports a rejected request back to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RoomID  string `json:"roomId,omitempty"`
}
