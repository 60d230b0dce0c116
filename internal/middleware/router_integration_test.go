package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// TestRouterIntegration_CSRFTokenEndpoint はCSRFトークン取得エンドポイントが
// chi.Routerで正しく動作することを検証する。
func TestRouterIntegration_CSRFTokenEndpoint(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/csrf-token", NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Error("expected non-empty token")
	}
}

// TestRouterIntegration_FullChain は
// Recovery -> SecurityHeaders -> CORS -> Session -> Logging -> CSRF のチェーンを検証する。
func TestRouterIntegration_FullChain(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(nil))
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewCORSMiddleware("http://localhost:3000"))
	r.Use(NewSessionMiddleware(tokenResolver()))
	r.Use(NewLoggingMiddleware(logger, nil))
	r.Use(NewCSRFMiddleware(CSRFConfig{}))

	r.Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
	})
	r.Post("/api/action", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": TokenFromContext(r.Context())})
	})
	r.Get("/api/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	t.Run("GET with cookie session", func(t *testing.T) {
		logBuf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-token"})
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var body map[string]string
		json.NewDecoder(w.Body).Decode(&body)
		if body["user_id"] != "user-123" {
			t.Errorf("user_id = %q, want %q", body["user_id"], "user-123")
		}
		if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
		}

		// リクエストログに解決済みユーザーIDが含まれること
		var entry map[string]any
		if err := json.Unmarshal(logBuf.Bytes(), &entry); err != nil {
			t.Fatalf("failed to parse log: %v", err)
		}
		if entry["user_id"] != "user-123" {
			t.Errorf("logged user_id = %v, want user-123", entry["user_id"])
		}
	})

	t.Run("POST with cookie session requires CSRF", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/action", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-token"})
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("POST with cookie session and CSRF token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/action", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-token"})
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "csrf"})
		req.Header.Set(csrfHeaderName, "csrf")
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("POST with bearer token skips CSRF", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/action", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var body map[string]string
		json.NewDecoder(w.Body).Decode(&body)
		if body["token"] != "valid-token" {
			t.Errorf("token = %q, want %q", body["token"], "valid-token")
		}
	})

	t.Run("panic is recovered as JSON 500", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/panic", nil)
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		var body ErrorResponseBody
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body.Code != "INTERNAL_ERROR" {
			t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
		}
	})
}
