package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mossy-p/meeting-signaling/internal/models"
)

// TokenTTL is how long a login token stays valid.
const TokenTTL = 24 * time.Hour

// ContextIdentityKey is where JWTAuth stores the caller's identity.
const ContextIdentityKey = "identity"

var ErrInvalidToken = errors.New("invalid token")

// JWTClaims carries the identity a client announces with.
type JWTClaims struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the profile held in the claims.
func (c *JWTClaims) Identity() models.Identity {
	return models.Identity{
		ID:         c.UserID,
		Name:       c.Name,
		Avatar:     c.Avatar,
		Role:       c.Role,
		Department: c.Department,
	}
}

// IssueToken signs a token for identity.
func IssueToken(secret string, identity models.Identity, now time.Time) (string, error) {
	claims := JWTClaims{
		UserID:     identity.ID,
		Name:       identity.Name,
		Avatar:     identity.Avatar,
		Role:       identity.Role,
		Department: identity.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates tokenString and returns its claims.
func ParseToken(secret, tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWTAuth creates middleware that requires a valid bearer token
func JWTAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format",
			})
			return
		}

		claims, err := ParseToken(jwtSecret, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		c.Set(ContextIdentityKey, claims.Identity())
		c.Next()
	}
}
