package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/meeting-signaling/internal/middleware"
	"github.com/mossy-p/meeting-signaling/internal/models"
)

// Login mints a token carrying the caller's profile.
// For demo purposes, accepts any identity
func Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		identity := models.Identity{
			ID:         req.UserID,
			Name:       req.Name,
			Avatar:     req.Avatar,
			Role:       req.Role,
			Department: req.Department,
		}

		tokenString, err := middleware.IssueToken(jwtSecret, identity, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		c.JSON(http.StatusOK, models.LoginResponse{
			Token:  tokenString,
			UserID: identity.ID,
		})
	}
}
