// Package redis mirrors live presence and room membership into Redis so
// dashboards and other processes can read it. The hub never waits on Redis:
// every write is queued and applied by a background worker.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/meeting-signaling/config"
	"github.com/mossy-p/meeting-signaling/internal/logging"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/worker"
)

var log = logging.Logger("redis")

const (
	roomTTL     = 24 * time.Hour
	presenceTTL = 24 * time.Hour
	onlineKey   = "presence:online"
)

// RoomKey is the set of connection ids in a room.
func RoomKey(roomID string) string {
	return "room:" + roomID + ":peers"
}

// PresenceKey holds the announced identity of a connection as JSON.
func PresenceKey(connID string) string {
	return "presence:" + connID
}

// Mirror implements signaling.Sink on top of a Redis client.
type Mirror struct {
	client *redis.Client
	queue  *worker.Queue
}

// Connect opens the client and checks the server is reachable.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Mirror{
		client: client,
		queue:  worker.NewQueue("redis", 1024, 5*time.Second),
	}, nil
}

// Run applies queued writes until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	m.queue.Run(ctx)
}

// Close waits for the writer to drain and closes the connection.
func (m *Mirror) Close() error {
	<-m.queue.Done()
	return m.client.Close()
}

func (m *Mirror) Connected(connID string) {
	m.queue.Submit(func(ctx context.Context) error {
		return m.client.SAdd(ctx, onlineKey, connID).Err()
	})
}

func (m *Mirror) Announced(connID string, identity models.Identity) {
	data, err := json.Marshal(identity)
	if err != nil {
		log.Errorf("Failed to marshal identity for %s: %v", connID, err)
		return
	}
	m.queue.Submit(func(ctx context.Context) error {
		return m.client.Set(ctx, PresenceKey(connID), data, presenceTTL).Err()
	})
}

func (m *Mirror) Joined(roomID, connID, _ string) {
	m.queue.Submit(func(ctx context.Context) error {
		_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, RoomKey(roomID), connID)
			pipe.Expire(ctx, RoomKey(roomID), roomTTL)
			return nil
		})
		return err
	})
}

func (m *Mirror) Left(roomID, connID, _ string) {
	m.queue.Submit(func(ctx context.Context) error {
		return m.client.SRem(ctx, RoomKey(roomID), connID).Err()
	})
}

func (m *Mirror) Disconnected(connID, _ string) {
	m.queue.Submit(func(ctx context.Context) error {
		_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, onlineKey, connID)
			pipe.Del(ctx, PresenceKey(connID))
			return nil
		})
		return err
	})
}

// RoomPeers reads the mirrored membership of a room.
func (m *Mirror) RoomPeers(ctx context.Context, roomID string) ([]string, error) {
	return m.client.SMembers(ctx, RoomKey(roomID)).Result()
}

// Online returns the number of mirrored live connections.
func (m *Mirror) Online(ctx context.Context) (int64, error) {
	return m.client.SCard(ctx, onlineKey).Result()
}
