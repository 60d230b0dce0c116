package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCSRFMiddleware_SafeMethods_PassThroughWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			mw := NewCSRFMiddleware(CSRFConfig{})

			handlerCalled := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(method, "/api/test", nil)
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "session"})
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if !handlerCalled {
				t.Fatalf("handler should have been called for %s request", method)
			}
		})
	}
}

func TestCSRFMiddleware_CookieSession_StateChange(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		cookieToken string
		headerToken string
		wantStatus  int
	}{
		{name: "no csrf cookie", method: http.MethodPost, wantStatus: http.StatusForbidden},
		{name: "no header", method: http.MethodPost, cookieToken: "token-abc", wantStatus: http.StatusForbidden},
		{name: "mismatch", method: http.MethodPost, cookieToken: "token-abc", headerToken: "wrong-token", wantStatus: http.StatusForbidden},
		{name: "valid POST", method: http.MethodPost, cookieToken: "valid-token", headerToken: "valid-token", wantStatus: http.StatusOK},
		{name: "valid PUT", method: http.MethodPut, cookieToken: "valid-token", headerToken: "valid-token", wantStatus: http.StatusOK},
		{name: "PATCH without token", method: http.MethodPatch, wantStatus: http.StatusForbidden},
		{name: "DELETE without token", method: http.MethodDelete, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewCSRFMiddleware(CSRFConfig{})

			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/test", nil)
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "session"})
			if tt.cookieToken != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookieToken})
			}
			if tt.headerToken != "" {
				req.Header.Set(csrfHeaderName, tt.headerToken)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if body.Code != "CSRF_TOKEN_INVALID" {
					t.Errorf("code = %q, want CSRF_TOKEN_INVALID", body.Code)
				}
			}
		})
	}
}

// Bearerトークンのリクエストやセッションを持たないリクエストはCSRF検証の対象外
func TestCSRFMiddleware_NonCookieRequests_Exempt(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{name: "bearer token", setup: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer abc")
		}},
		{name: "bearer with stale cookie", setup: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer abc")
			r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "session"})
		}},
		{name: "anonymous", setup: func(*http.Request) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewCSRFMiddleware(CSRFConfig{})
			handlerCalled := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
			tt.setup(req)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if !handlerCalled {
				t.Errorf("handler should have been called, status = %d", w.Code)
			}
		})
	}
}

func TestCSRFMiddleware_GETRequest_SetsCSRFCookie(t *testing.T) {
	mw := NewCSRFMiddleware(CSRFConfig{
		CookieSecure: false,
		CookieDomain: "example.com",
	})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	var csrfCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			csrfCookie = c
			break
		}
	}

	if csrfCookie == nil {
		t.Fatal("expected CSRF cookie to be set on GET request")
	}
	if csrfCookie.Value == "" {
		t.Error("CSRF cookie value should not be empty")
	}
	if csrfCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("CSRF cookie SameSite = %v, want %v", csrfCookie.SameSite, http.SameSiteLaxMode)
	}
	if csrfCookie.HttpOnly {
		t.Error("CSRF cookie should NOT be HttpOnly (frontend needs to read it)")
	}
	if csrfCookie.Path != "/" {
		t.Errorf("CSRF cookie Path = %q, want %q", csrfCookie.Path, "/")
	}
}

func TestCSRFMiddleware_GETRequest_ExistingCookie_DoesNotReplace(t *testing.T) {
	mw := NewCSRFMiddleware(CSRFConfig{
		CookieSecure: false,
		CookieDomain: "",
	})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	// 既存のCookieがある場合、新しいCookieは設定しない
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			t.Error("CSRF cookie should not be re-set when already present")
		}
	}
}

// --- CSRFトークン取得エンドポイントのテスト ---

func TestCSRFTokenHandler_SetsTokenCookieAndReturnsJSON(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{
		CookieSecure: false,
		CookieDomain: "example.com",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// Content-Typeの確認
	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", contentType, "application/json")
	}

	// レスポンスボディからトークンを取得
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Error("expected non-empty token in response")
	}

	// CSRFCookieが設定されていること
	var csrfCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			csrfCookie = c
			break
		}
	}
	if csrfCookie == nil {
		t.Fatal("expected CSRF cookie to be set")
	}
	if csrfCookie.Value != body.Token {
		t.Errorf("cookie value = %q, response token = %q; should match", csrfCookie.Value, body.Token)
	}
	if csrfCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie SameSite = %v, want Lax", csrfCookie.SameSite)
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{
		CookieSecure: false,
		CookieDomain: "",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-csrf-token"})
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	resp := w.Result()
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token != "existing-csrf-token" {
		t.Errorf("token = %q, want %q (existing token should be returned)", body.Token, "existing-csrf-token")
	}
}
