package middleware

import (
	"net/http"
	"strings"
)

// NewCORSMiddleware は許可オリジンからのリクエストにCORSヘッダーを付与するミドルウェアを返す。
// credentials送信と共存するため、ワイルドカード(*)は使用せず一致したOriginをそのまま返す。
// allowedOriginsの各要素はカンマ区切りで複数指定できる。
// OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigins ...string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	for _, list := range allowedOrigins {
		for _, origin := range strings.Split(list, ",") {
			if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
				allowed[origin] = struct{}{}
			}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// 許可外オリジンのプリフライトもヘッダーなしの204で終了し、ブラウザ側で拒否させる
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
