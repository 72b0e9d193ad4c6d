package signaling

import "github.com/mossy-p/meeting-signaling/internal/models"

// Sink observes connection lifecycle changes made by the hub. Methods are
// called from the hub loop and must not block; implementations hand the
// work to a worker.Queue.
type Sink interface {
	Connected(connID string)
	Announced(connID string, identity models.Identity)
	Joined(roomID, connID, userID string)
	Left(roomID, connID, userID string)
	Disconnected(connID, userID string)
}

type sinks []Sink

func (s sinks) connected(connID string) {
	for _, sink := range s {
		sink.Connected(connID)
	}
}

func (s sinks) announced(connID string, identity models.Identity) {
	for _, sink := range s {
		sink.Announced(connID, identity)
	}
}

func (s sinks) joined(roomID, connID, userID string) {
	for _, sink := range s {
		sink.Joined(roomID, connID, userID)
	}
}

func (s sinks) left(roomID, connID, userID string) {
	for _, sink := range s {
		sink.Left(roomID, connID, userID)
	}
}

func (s sinks) disconnected(connID, userID string) {
	for _, sink := range s {
		sink.Disconnected(connID, userID)
	}
}
