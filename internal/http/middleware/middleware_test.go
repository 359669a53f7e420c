package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func newEngine(adminKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger(zerolog.Nop()))
	r.POST("/guarded", AdminKey(adminKey), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAdminKey(t *testing.T) {
	r := newEngine("secret")

	req, _ := http.NewRequest(http.MethodPost, "/guarded", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	req, _ = http.NewRequest(http.MethodPost, "/guarded", nil)
	req.Header.Set("X-Admin-Key", "secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", w.Code)
	}
}

func TestAdminKeyDisabledWhenEmpty(t *testing.T) {
	r := newEngine("")
	req, _ := http.NewRequest(http.MethodPost, "/guarded", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequestIDEchoesOrGenerates(t *testing.T) {
	r := newEngine("")

	req, _ := http.NewRequest(http.MethodPost, "/guarded", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc" {
		t.Fatalf("expected echoed id, got %q", got)
	}

	req, _ = http.NewRequest(http.MethodPost, "/guarded", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); len(got) < 10 {
		t.Fatalf("expected generated id, got %q", got)
	}
}
