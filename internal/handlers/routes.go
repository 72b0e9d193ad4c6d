package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/meeting-signaling/config"
	"github.com/mossy-p/meeting-signaling/internal/middleware"
	"github.com/mossy-p/meeting-signaling/internal/signaling"
)

// Deps is what the HTTP surface needs from the rest of the server.
type Deps struct {
	Config *config.Config
	Hub    *signaling.Hub
	// History is nil when call history is disabled.
	History HistoryReader
	// Mirror is nil when the Redis presence mirror is disabled.
	Mirror MirrorReader
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret))

		apiGroup.GET("/ice-servers", GetICEServers(cfg.STUNServers))
		apiGroup.GET("/presence", GetPresence(d.Hub, d.Mirror))

		// Get room info (public)
		apiGroup.GET("/rooms/:roomId", GetRoom(d.Hub))
		apiGroup.GET("/rooms/:roomId/history", GetRoomHistory(d.History))
		apiGroup.GET("/rooms/:roomId/peers", GetRoomPeers(d.Mirror))

		// Close room (requires JWT)
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(cfg.JWTSecret), DeleteRoom(d.Hub))
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", HandleSignaling(d.Hub, cfg.JWTSecret))
	}

	return router
}
