package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat-stream/internal/auth"
)

func newAuthedRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", AuthRequired(secret), func(c *gin.Context) {
		uid, _ := c.Get(UserIDKey)
		c.JSON(http.StatusOK, gin.H{"uid": uid})
	})
	return r
}

func TestAuthRequired_RejectsMissingToken(t *testing.T) {
	r := newAuthedRouter("s3cret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthRequired_RejectsWrongSecret(t *testing.T) {
	r := newAuthedRouter("s3cret")

	token, err := auth.SignJWT(42, "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthRequired_AcceptsValidToken(t *testing.T) {
	r := newAuthedRouter("s3cret")

	token, err := auth.SignJWT(42, "s3cret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}
