package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/buffalo/internal/config"
	"github.com/user/buffalo/internal/hub"
)

func TestRoutes(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := New(&config.Config{Port: 0}, hub.New("tok"), api)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/projects", http.StatusTeapot},
		{"/session", http.StatusTeapot},
		{"/tool/user-input-request", http.StatusTeapot},
		{"/ws", http.StatusUnauthorized},
		{"/nothing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.wantStatus {
				t.Fatalf("GET %s status=%d want %d", tt.path, rr.Code, tt.wantStatus)
			}
		})
	}

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("metrics output missing runtime collectors")
	}
}
