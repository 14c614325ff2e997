package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/models"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		body        string
		contentType string
		want        int
	}{
		{"get passes", http.MethodGet, "/rooms", "", "", http.StatusOK},
		{"json post", http.MethodPost, "/rooms", `{}`, "application/json", http.StatusOK},
		{"json with charset", http.MethodPost, "/rooms", `{}`, "application/json; charset=utf-8", http.StatusOK},
		{"empty patch", http.MethodPatch, "/rooms/r1/read", "", "", http.StatusOK},
		{"form post", http.MethodPost, "/rooms", "a=b", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"traversal", http.MethodGet, "/rooms/../etc", "", "", http.StatusBadRequest},
		{"script", http.MethodGet, "/users/<script>", "", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body))
			req.URL.Path = tt.path
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			ValidateRequest(okHandler).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(strings.Repeat("x", 100)))
	rec := httptest.NewRecorder()
	MaxBodySize(10)(okHandler).ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}

func TestNilRateLimiterPassesThrough(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop())
	if rl != nil {
		t.Fatal("expected nil limiter without a client")
	}

	rec := httptest.NewRecorder()
	rl.Limit("messages", 1, time.Minute)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/r1/messages", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	rl := NewRateLimiter(client, zerolog.Nop())
	handler := rl.Limit("messages", 1, time.Minute)(okHandler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/rooms/r1/messages", nil)
		req = req.WithContext(WithUser(req.Context(), &models.User{ID: "alice"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 while Redis is down", i, rec.Code)
		}
	}
}

func TestUserKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := userKey(req, "rooms"); got != "ratelimit:rooms:ip:10.0.0.7" {
		t.Errorf("anonymous key = %q", got)
	}

	req = req.WithContext(WithUser(req.Context(), &models.User{ID: "alice"}))
	if got := userKey(req, "rooms"); got != "ratelimit:rooms:user:alice" {
		t.Errorf("user key = %q", got)
	}
}
