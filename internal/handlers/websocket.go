package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/meeting-signaling/internal/logging"
	"github.com/mossy-p/meeting-signaling/internal/middleware"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/protocol"
	"github.com/mossy-p/meeting-signaling/internal/signaling"
)

var log = logging.Logger("handlers")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling upgrades to a websocket and attaches the connection to the
// hub. ?codec picks json (default) or msgpack; ?token pre-announces the
// identity carried by a login token.
func HandleSignaling(hub *signaling.Hub, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		codec, err := protocol.ByName(c.Query("codec"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var identity *models.Identity
		if token := c.Query("token"); token != "" {
			claims, err := middleware.ParseToken(jwtSecret, token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
				return
			}
			id := claims.Identity()
			identity = &id
		}

		// Upgrade HTTP connection to WebSocket
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warnf("Failed to upgrade connection: %v", err)
			return
		}

		client := signaling.NewClient(hub, conn, codec)
		client.Identity = identity
		if err := hub.Register(c.Request.Context(), client); err != nil {
			log.Warnf("Failed to register client: %v", err)
			conn.Close()
			return
		}

		// Start goroutines for reading and writing
		go client.WritePump()
		go client.ReadPump()
	}
}
