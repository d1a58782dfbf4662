package worker

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/thebtf/adaptly/pkg/models"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rr, httptest.NewRequest("GET", "/api/gates", nil))

	tests := []struct {
		header   string
		expected string
	}{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"Content-Security-Policy", "default-src 'none'"},
	}
	for _, tt := range tests {
		if got := rr.Header().Get(tt.header); got != tt.expected {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.expected)
		}
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(DefaultAllowedOrigins)(okHandler())

	tests := []struct {
		name       string
		origin     string
		expectCORS bool
	}{
		{name: "api port allowed", origin: "http://localhost:38080", expectCORS: true},
		{name: "vite dev server allowed", origin: "http://127.0.0.1:5173", expectCORS: true},
		{name: "localhost without port allowed", origin: "http://localhost", expectCORS: true},
		{name: "external origin blocked", origin: "http://evil.com"},
		{name: "evil-localhost.com bypass attempt blocked", origin: "http://evil-localhost.com"},
		{name: "localhost subdomain bypass attempt blocked", origin: "http://localhost.evil.com"},
		{name: "unknown localhost port blocked", origin: "http://localhost:9999"},
		{name: "no origin header", origin: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/gates", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			cors := rr.Header().Get("Access-Control-Allow-Origin")
			if tt.expectCORS && cors != tt.origin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", cors, tt.origin)
			}
			if !tt.expectCORS && cors != "" {
				t.Errorf("unexpected Access-Control-Allow-Origin %q", cors)
			}
		})
	}
}

func TestCORS_CustomOrigins(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(okHandler())

	req := httptest.NewRequest("GET", "/api/gates", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("default origin leaked into custom list: %q", got)
	}

	req.Header.Set("Origin", "https://app.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	handler := CORS(DefaultAllowedOrigins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/gates", nil)
	req.Header.Set("Origin", "http://localhost:38080")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if called {
		t.Error("preflight reached the next handler")
	}
}

func TestLimitBody(t *testing.T) {
	handler := LimitBody(100)(okHandler())

	tests := []struct {
		name           string
		contentLength  int64
		expectedStatus int
	}{
		{"within limit", 50, http.StatusOK},
		{"at limit", 100, http.StatusOK},
		{"exceeds limit", 150, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/users/u1/interactions", nil)
			req.ContentLength = tt.contentLength
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestRequireToken(t *testing.T) {
	handler := RequireToken("s3cret", "/health")(okHandler())

	tests := []struct {
		name   string
		path   string
		header string
		value  string
		want   int
	}{
		{"missing", "/api/gates", "", "", http.StatusUnauthorized},
		{"wrong token", "/api/gates", "X-Auth-Token", "nope", http.StatusUnauthorized},
		{"x-auth-token", "/api/gates", "X-Auth-Token", "s3cret", http.StatusOK},
		{"bearer", "/api/gates", "Authorization", "Bearer s3cret", http.StatusOK},
		{"basic scheme ignored", "/api/gates", "Authorization", "Basic s3cret", http.StatusUnauthorized},
		{"health exempt", "/health", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.path, nil)
		if tt.header != "" {
			req.Header.Set(tt.header, tt.value)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rr.Code, tt.want)
		}
		if rr.Code == http.StatusUnauthorized && !strings.Contains(rr.Body.String(), `"error"`) {
			t.Errorf("%s: expected JSON error body, got %q", tt.name, rr.Body.String())
		}
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generates id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))

		if seen == "" {
			t.Fatal("expected request id in context")
		}
		if got := rr.Header().Get("X-Request-ID"); got != seen {
			t.Errorf("X-Request-ID header = %q, want %q", got, seen)
		}
	})

	t.Run("keeps client id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("X-Request-ID", "client-123")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if seen != "client-123" {
			t.Errorf("request id = %q, want client-123", seen)
		}
	})
}

func TestGetRequestID_Missing(t *testing.T) {
	if id := GetRequestID(httptest.NewRequest("GET", "/", nil).Context()); id != "" {
		t.Errorf("GetRequestID() = %q, want empty", id)
	}
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestLogger)
	r.Get("/api/users/{userID}/skill", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/users/u1/skill", nil))
	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusTeapot)
	}
}

func TestRequireJSONContentType(t *testing.T) {
	handler := RequireJSONContentType(okHandler())

	tests := []struct {
		name        string
		method      string
		contentType string
		want        int
	}{
		{"GET without content type", "GET", "", http.StatusOK},
		{"POST json", "POST", "application/json", http.StatusOK},
		{"POST json with charset", "POST", "application/json; charset=utf-8", http.StatusOK},
		{"POST empty content type", "POST", "", http.StatusOK},
		{"POST form", "POST", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"PUT text", "PUT", "text/plain", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/users/u1/interactions", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"user-42", false},
		{"alice@example.com", false},
		{"tenant:7.user_1", false},
		{"", true},
		{"../etc/passwd", true},
		{"has space", true},
		{strings.Repeat("a", maxIdentifierLen+1), true},
	}
	for _, tt := range tests {
		err := ValidateIdentifier("user", tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("ValidateIdentifier(%q) error %v does not wrap ErrInvalidArgument", tt.id, err)
		}
	}
}
