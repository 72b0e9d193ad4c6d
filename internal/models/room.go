package models

import "time"

// RoomInfo is the live view of a room returned by the REST API
type RoomInfo struct {
	ID       string   `json:"roomId"`
	Members  []string `json:"members"`
	Size     int      `json:"size"`
	Capacity int      `json:"capacity"`
	Typing   []string `json:"typing"`
}

// CallEvent is one lifecycle record in the call history.
type CallEvent struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Kind         string    `json:"kind" gorm:"type:varchar(16);index"`
	ConnectionID string    `json:"connectionId" gorm:"type:varchar(64);index"`
	RoomID       string    `json:"roomId,omitempty" gorm:"type:varchar(128);index"`
	UserID       string    `json:"userId,omitempty" gorm:"type:varchar(128)"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName overrides the table name
func (CallEvent) TableName() string {
	return "call_events"
}

// Call event kinds
const (
	CallEventConnect    = "connect"
	CallEventAnnounce   = "announce"
	CallEventJoin       = "join"
	CallEventLeave      = "leave"
	CallEventDisconnect = "disconnect"
)

// LoginRequest represents the login request body
type LoginRequest struct {
	UserID     string `json:"userId" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Avatar     string `json:"avatar"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// ICEServersResponse lists the STUN servers clients should use
type ICEServersResponse struct {
	URLs []string `json:"urls"`
}
