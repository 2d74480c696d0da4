package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var stubHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newCORSServer(origins []string) *Server {
	return &Server{config: Config{CORSAllowedOrigins: origins}}
}

func corsRequest(t *testing.T, s *Server, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/v1/sync/products", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	s.CORSMiddleware(stubHandler).ServeHTTP(w, req)
	return w
}

func TestCORS_PassThrough(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
	}{
		{"no origins configured", nil, "https://app.example.com"},
		{"no origin header", []string{"https://app.example.com"}, ""},
		{"disallowed origin", []string{"https://app.example.com"}, "https://evil.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := corsRequest(t, newCORSServer(tt.origins), "GET", tt.origin)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
				t.Fatalf("expected no CORS headers, got %q", got)
			}
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
		})
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	w := corsRequest(t, newCORSServer([]string{"https://app.example.com"}), "GET", "https://app.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Authorization, Content-Type, X-Device-ID" {
		t.Fatalf("Allow-Headers = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Fatalf("Allow-Methods = %q", got)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCORS_PreflightAllowed(t *testing.T) {
	w := corsRequest(t, newCORSServer([]string{"https://app.example.com"}), "OPTIONS", "https://app.example.com")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS preflight, got %d", w.Code)
	}
}

func TestCORS_WildcardOrigin(t *testing.T) {
	w := corsRequest(t, newCORSServer([]string{"*"}), "GET", "https://anything.example.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example.com" {
		t.Fatalf("expected wildcard to allow any origin, got %q", got)
	}
}
