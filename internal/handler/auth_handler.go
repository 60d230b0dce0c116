package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/chapterhub/internal/auth"
	"github.com/hitoshi/chapterhub/internal/middleware"
	"github.com/hitoshi/chapterhub/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, in auth.SignUpInput) (*auth.SessionResult, error)
	SignIn(ctx context.Context, email, password string) (*auth.SessionResult, error)
	SignOut(ctx context.Context, token string) error
	GetCurrentUser(ctx context.Context, token string) (*auth.CurrentUser, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はサインアップ・サインイン・セッション関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type signUpRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=256"`
	Name     string `json:"name" validate:"required,max=200"`
	Role     string `json:"role" validate:"omitempty,oneof=student officer admin"`
}

type signInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// sessionResponse はセッション発行時のAPIレスポンス。
// Bearer認証を使うクライアント向けにトークンも返す。
type sessionResponse struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type currentUserResponse struct {
	User        *userResponse    `json:"user"`
	Profile     *profileResponse `json:"profile"`
	UnreadCount int              `json:"unread_count"`
}

// SignUp はユーザーを作成し、セッションを発行する。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	result, err := h.service.SignUp(r.Context(), auth.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     model.Role(req.Role),
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.setSessionCookie(w, result.Token, result.ExpiresAt)
	writeJSON(w, http.StatusCreated, sessionResponse{
		UserID:    result.UserID,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	})
}

// SignIn はメールアドレスとパスワードで認証する。
// POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	result, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.setSessionCookie(w, result.Token, result.ExpiresAt)
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:    result.UserID,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	})
}

// SignOut はセッションを破棄し、Cookieをクリアする。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context(), tokenOf(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeNoContent(w)
}

// Me は現在のログインユーザー情報を返す。未認証の場合はnullを返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	current, err := h.service.GetCurrentUser(r.Context(), tokenOf(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeQueryResult(w, current, func(c *auth.CurrentUser) any {
		return currentUserResponse{
			User:        toUserResponse(c.User),
			Profile:     toProfileResponse(c.Profile),
			UnreadCount: c.UnreadCount,
		}
	})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
