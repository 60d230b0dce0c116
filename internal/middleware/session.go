// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// tokenContextKey はリクエストコンテキストにセッショントークンを格納するためのキー。
	tokenContextKey = contextKey("session_token")
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
)

// UserResolver はトークンからユーザーIDを解決するインターフェース。
// auth.Serviceが実装する。
type UserResolver interface {
	ResolveUserID(ctx context.Context, token string) (string, error)
}

// NewSessionMiddleware はAuthorizationヘッダー（Bearer）またはセッションCookieからトークンを読み取り、
// トークンと解決済みユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// 認可判定はサービス層が行うため、未認証リクエストもそのまま通過させる。
func NewSessionMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := ContextWithToken(r.Context(), token)
			userID, err := resolver.ResolveUserID(ctx, token)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
			}
			if userID != "" {
				ctx = ContextWithUserID(ctx, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest はリクエストからセッショントークンを取り出す。
// Authorizationヘッダーを優先し、なければCookieを参照する。
func TokenFromRequest(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// TokenFromContext はリクエストコンテキストからセッショントークンを取得する。
// トークンがない場合は空文字を返す。
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// ContextWithToken はコンテキストにセッショントークンを注入する。
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 有効なセッションでセッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
