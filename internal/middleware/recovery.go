package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/hitoshi/chapterhub/internal/metrics"
)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 統一フォーマットの500レスポンスを返すミドルウェアを生成する。
// ロギングミドルウェアより外側で動くため、500の記録もここで行う。
func NewRecoveryMiddleware(m metrics.MetricsCollector) func(next http.Handler) http.Handler {
	m = metrics.OrNop(m)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.ErrorContext(r.Context(), "panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				m.RecordHTTPStatus(http.StatusInternalServerError)
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
