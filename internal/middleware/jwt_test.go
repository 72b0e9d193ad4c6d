package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/meeting-signaling/internal/models"
)

const secret = "test-secret"

func TestIssueAndParse(t *testing.T) {
	id := models.Identity{ID: "u1", Name: "Alice", Role: "dev"}
	token, err := IssueToken(secret, id, time.Now())
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if got := claims.Identity(); got != id {
		t.Errorf("expected %+v, got %+v", id, got)
	}
}

func TestParseRejectsBadTokens(t *testing.T) {
	id := models.Identity{ID: "u1", Name: "Alice"}
	wrongKey, _ := IssueToken("other-secret", id, time.Now())
	expired, _ := IssueToken(secret, id, time.Now().Add(-2*TokenTTL))
	anonymous, _ := IssueToken(secret, models.Identity{Name: "nobody"}, time.Now())

	for name, token := range map[string]string{
		"garbage":   "not-a-jwt",
		"wrong key": wrongKey,
		"expired":   expired,
		"no user":   anonymous,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseToken(secret, token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/private", JWTAuth(secret), func(c *gin.Context) {
		id := c.MustGet(ContextIdentityKey).(models.Identity)
		c.String(http.StatusOK, id.ID)
	})

	token, _ := IssueToken(secret, models.Identity{ID: "u1", Name: "Alice"}, time.Now())
	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token " + token, http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Errorf("expected %d, got %d", tc.status, w.Code)
			}
			if tc.status == http.StatusOK && w.Body.String() != "u1" {
				t.Errorf("expected identity u1, got %q", w.Body.String())
			}
		})
	}
}
