package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/meeting-signaling/internal/middleware"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/signaling"
)

// HistoryReader serves the call history of a room.
type HistoryReader interface {
	History(ctx context.Context, roomID string, limit int) ([]models.CallEvent, error)
}

// MirrorReader reads the presence mirror shared by every relay process.
type MirrorReader interface {
	Online(ctx context.Context) (int64, error)
	RoomPeers(ctx context.Context, roomID string) ([]string, error)
}

// GetRoom returns the live state of a room (public)
func GetRoom(hub *signaling.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		info, found, err := hub.Room(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Signaling hub unavailable"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		c.JSON(http.StatusOK, info)
	}
}

// DeleteRoom evicts every member of a room (requires authentication)
func DeleteRoom(hub *signaling.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		found, err := hub.CloseRoom(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Signaling hub unavailable"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		if id, ok := c.Get(middleware.ContextIdentityKey); ok {
			log.Infof("Room %s closed by %s", roomID, id.(models.Identity).ID)
		}
		c.JSON(http.StatusOK, gin.H{"message": "Room closed", "roomId": roomID})
	}
}

// GetRoomHistory returns the recorded lifecycle events of a room. history is
// nil when call history is disabled.
func GetRoomHistory(history HistoryReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if history == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Call history is disabled"})
			return
		}

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative number"})
				return
			}
			limit = n
		}

		events, err := history.History(c.Request.Context(), c.Param("roomId"), limit)
		if err != nil {
			log.Errorf("Failed to load history: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"roomId": c.Param("roomId"), "events": events})
	}
}

// GetPresence returns the identities currently announced
func GetPresence(hub *signaling.Hub, mirror MirrorReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		roster, err := hub.Roster(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Signaling hub unavailable"})
			return
		}
		if roster == nil {
			roster = []models.Identity{}
		}

		body := gin.H{"users": roster, "count": len(roster)}
		if mirror != nil {
			// connections across every process sharing the mirror
			online, err := mirror.Online(c.Request.Context())
			if err != nil {
				log.Warnf("Failed to read mirrored presence: %v", err)
			} else {
				body["online"] = online
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// GetRoomPeers returns the mirrored membership of a room. mirror is nil when
// Redis is disabled.
func GetRoomPeers(mirror MirrorReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if mirror == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Presence mirror is disabled"})
			return
		}

		roomID := c.Param("roomId")
		peers, err := mirror.RoomPeers(c.Request.Context(), roomID)
		if err != nil {
			log.Errorf("Failed to read mirrored room %s: %v", roomID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read presence mirror"})
			return
		}
		if peers == nil {
			peers = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"roomId": roomID, "peers": peers})
	}
}

// GetICEServers returns the STUN servers clients should gather against
func GetICEServers(urls []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.ICEServersResponse{URLs: urls})
	}
}
