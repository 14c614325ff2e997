package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func TestLoggerRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	r := chi.NewRouter()
	r.Use(Logger(logger))
	r.Get("/rooms/{id}", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		path      string
		wantLevel string
		wantRoute string
		status    float64
	}{
		{"/rooms/r-42", "info", "/rooms/{id}", 200},
		{"/broken", "warn", "/broken", 500},
		{"/health", "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			buf.Reset()
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			if tt.wantLevel == "" {
				if buf.Len() != 0 {
					t.Errorf("expected health check below info level, got %s", buf.String())
				}
				return
			}
			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("decode log line %q: %v", buf.String(), err)
			}
			if line["level"] != tt.wantLevel || line["route"] != tt.wantRoute || line["status"] != tt.status {
				t.Errorf("unexpected log line %v", line)
			}
			if line["path"] != tt.path {
				t.Errorf("path = %v, want %s", line["path"], tt.path)
			}
		})
	}
}
