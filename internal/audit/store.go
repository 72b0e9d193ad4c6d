// Package audit keeps a call history of connection lifecycle events in
// SQLite. It records who connected, announced, joined and left; it never
// stores chat content or negotiation payloads.
package audit

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mossy-p/meeting-signaling/internal/logging"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/worker"
)

var log = logging.Logger("audit")

// DefaultHistoryLimit caps History when no limit is given.
const DefaultHistoryLimit = 100

// Store implements signaling.Sink and writes each event on a worker queue.
type Store struct {
	db    *gorm.DB
	queue *worker.Queue
	now   func() time.Time
}

// Open opens (or creates) the database at path and migrates the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// a single connection keeps ":memory:" to one database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.CallEvent{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate call events: %w", err)
	}
	log.Infof("Call history database opened: %s", path)

	return &Store{
		db:    db,
		queue: worker.NewQueue("audit", 1024, 5*time.Second),
		now:   time.Now,
	}, nil
}

// Run writes queued events until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	s.queue.Run(ctx)
}

// Close waits for pending writes and closes the database.
func (s *Store) Close() error {
	<-s.queue.Done()

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Info("Call history database closed")
	return nil
}

func (s *Store) Connected(connID string) {
	s.record(models.CallEventConnect, connID, "", "")
}

func (s *Store) Announced(connID string, identity models.Identity) {
	s.record(models.CallEventAnnounce, connID, "", identity.ID)
}

func (s *Store) Joined(roomID, connID, userID string) {
	s.record(models.CallEventJoin, connID, roomID, userID)
}

func (s *Store) Left(roomID, connID, userID string) {
	s.record(models.CallEventLeave, connID, roomID, userID)
}

func (s *Store) Disconnected(connID, userID string) {
	s.record(models.CallEventDisconnect, connID, "", userID)
}

func (s *Store) record(kind, connID, roomID, userID string) {
	ev := models.CallEvent{
		Kind:         kind,
		ConnectionID: connID,
		RoomID:       roomID,
		UserID:       userID,
		CreatedAt:    s.now().UTC(),
	}
	s.queue.Submit(func(ctx context.Context) error {
		return s.db.WithContext(ctx).Create(&ev).Error
	})
}

// History returns a room's most recent events, at most limit of them,
// oldest first.
func (s *Store) History(ctx context.Context, roomID string, limit int) ([]models.CallEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var events []models.CallEvent
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history for room %s: %w", roomID, err)
	}
	slices.Reverse(events)
	return events, nil
}
