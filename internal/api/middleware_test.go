package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const testAPIKey = "test-secret-key-12345"

// mockHandler is a simple handler that records if it was called
func mockHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}), &called
}

// captureLogs routes the default slog logger into a JSON buffer for the
// duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(old) })
	return &buf
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if i := strings.LastIndex(line, "\n"); i >= 0 {
		line = line[i+1:]
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("failed to parse log as JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantCalled bool
		wantStatus int
	}{
		{"valid token", "Bearer " + testAPIKey, true, http.StatusOK},
		{"missing header", "", false, http.StatusUnauthorized},
		{"wrong token", "Bearer wrong-token", false, http.StatusUnauthorized},
		{"no bearer prefix", testAPIKey, false, http.StatusUnauthorized},
		{"lowercase scheme", "bearer " + testAPIKey, false, http.StatusUnauthorized},
		{"empty token", "Bearer ", false, http.StatusUnauthorized},
		{"whitespace token", "Bearer    ", false, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captureLogs(t)
			handler, called := mockHandler()
			mw := AuthMiddleware(testAPIKey)(handler)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/users/42/clarification", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			mw.ServeHTTP(w, req)

			if *called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", *called, tt.wantCalled)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddleware_ResponseFormat_RFC7807(t *testing.T) {
	logs := captureLogs(t)
	handler, _ := mockHandler()
	mw := AuthMiddleware(testAPIKey)(handler)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/42/clarification", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %v, want application/problem+json", ct)
	}

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal response as RFC 7807: %v", err)
	}
	if p.Type != "https://mealclarify.dev/errors/unauthorized" {
		t.Errorf("type = %v", p.Type)
	}
	if p.Status != 401 || p.Title != "Unauthorized" {
		t.Errorf("status/title = %d/%q", p.Status, p.Title)
	}
	if p.Instance != "/api/v1/users/42/clarification" {
		t.Errorf("instance = %v", p.Instance)
	}

	if strings.Contains(w.Body.String(), testAPIKey) {
		t.Error("response body contains the expected API key")
	}
	if strings.Contains(logs.String(), testAPIKey) {
		t.Error("auth failure log contains the expected API key")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"Bearer  padded  ", "padded"},
		{"Basic abc", ""},
		{"", ""},
		{"Bearer", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := extractBearerToken(req); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestConstantTimeEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"same", "same", true},
		{"", "", true},
		{"abc", "abd", false},
		{"short", "longer", false},
	}

	for _, tt := range tests {
		if got := constantTimeEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("constantTimeEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestGetRequestID(t *testing.T) {
	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetRequestID(r.Context())))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Body.String() == "" {
		t.Error("expected non-empty request ID")
	}

	if id := GetRequestID(httptest.NewRequest(http.MethodGet, "/test", nil).Context()); id != "" {
		t.Errorf("GetRequestID without middleware = %q, want empty", id)
	}
}

func TestLogLevelForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{200, slog.LevelInfo},
		{204, slog.LevelInfo},
		{304, slog.LevelInfo},
		{400, slog.LevelWarn},
		{404, slog.LevelWarn},
		{422, slog.LevelWarn},
		{500, slog.LevelError},
		{502, slog.LevelError},
		{503, slog.LevelError},
	}

	for _, tt := range tests {
		if got := logLevelForStatus(tt.status); got != tt.want {
			t.Errorf("logLevelForStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestLoggingMiddleware_Fields(t *testing.T) {
	logs := captureLogs(t)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(LoggingMiddleware)
	router.Get("/api/v1/users/{userID}/clarification", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/42/clarification", nil)
	req.RemoteAddr = "192.168.1.100:54321"
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(logs.String(), testAPIKey) {
		t.Error("request log contains the Authorization header")
	}

	entry := decodeLogLine(t, logs)
	if entry["msg"] != "request completed" {
		t.Errorf("msg = %v, want request completed", entry["msg"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN for 404", entry["level"])
	}
	if entry["user_id"] != "42" {
		t.Errorf("user_id = %v, want 42", entry["user_id"])
	}
	if entry["remote_addr"] != "192.168.1.100:54321" {
		t.Errorf("remote_addr = %v", entry["remote_addr"])
	}
	if entry["status"] != float64(404) {
		t.Errorf("status = %v, want 404", entry["status"])
	}
	for _, field := range []string{"request_id", "method", "path", "duration_ms"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("missing expected field: %s", field)
		}
	}
	for key := range entry {
		if strings.Contains(key, "-") || key != strings.ToLower(key) {
			t.Errorf("field %q is not snake_case", key)
		}
	}
}

func TestLoggingMiddleware_ErrorLevelFor5xx(t *testing.T) {
	logs := captureLogs(t)

	mw := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/test", nil))

	if entry := decodeLogLine(t, logs); entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}

func TestRecoveryMiddleware_NoPanic(t *testing.T) {
	handler, called := mockHandler()
	w := httptest.NewRecorder()
	RecoveryMiddleware(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if !*called || w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("called=%v status=%d body=%q", *called, w.Code, w.Body.String())
	}
}

func TestRecoveryMiddleware_PanicNoLeak(t *testing.T) {
	logs := captureLogs(t)

	secret := "super-secret-database-password-12345"
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(secret)
	})

	w := httptest.NewRecorder()
	RecoveryMiddleware(panicHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if p.Detail != "Internal Server Error" {
		t.Errorf("detail = %q, want generic message", p.Detail)
	}
	if strings.Contains(w.Body.String(), secret) {
		t.Error("response body contains panic message")
	}
	if !strings.Contains(logs.String(), "panic recovered") || !strings.Contains(logs.String(), secret) {
		t.Error("expected panic and its message in logs")
	}
}
