package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chapterhub/internal/metrics"
	"github.com/hitoshi/chapterhub/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// healthCheckTimeout は/healthでストアの疎通確認を待つ上限。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はストアの疎通確認を行うインターフェース。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	UserResolver      middleware.UserResolver
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsGatherer   prometheus.Gatherer
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメイン
	UserService         UserServiceInterface
	CheckInService      CheckInServiceInterface
	AttendanceService   AttendanceServiceInterface
	SubmissionService   SubmissionServiceInterface
	NotificationService NotificationServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Session → Logging → CSRF → RateLimit(General)
//
// /health と /metrics はセッション以降のミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	meetingHandler := NewMeetingHandler(deps.CheckInService)
	attendanceHandler := NewAttendanceHandler(deps.AttendanceService)
	submissionHandler := NewSubmissionHandler(deps.SubmissionService)
	notificationHandler := NewNotificationHandler(deps.NotificationService)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.UserResolver))
		r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.SignUp)
			r.Post("/signin", authHandler.SignIn)
			r.Post("/signout", authHandler.SignOut)
			r.Get("/me", authHandler.Me)
		})

		r.Route("/profile", func(r chi.Router) {
			r.Post("/", userHandler.CreateProfile)
			r.Patch("/", userHandler.UpdateProfile)
		})

		r.Route("/meetings", func(r chi.Router) {
			r.Get("/", meetingHandler.ListMeetings)
			r.Post("/", meetingHandler.CreateMeeting)
			// /{id} より先に登録する
			r.Get("/active", meetingHandler.ActiveMeeting)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", meetingHandler.GetMeeting)
				r.Patch("/", meetingHandler.UpdateMeeting)
				r.Delete("/", meetingHandler.DeleteMeeting)

				// POST /api/meetings/{id}/checkin - コード入力（試行回数のレート制限を追加）
				r.With(deps.RateLimiter.CheckInMiddleware()).Post("/checkin", meetingHandler.CheckIn)
				r.Get("/checkin/code", meetingHandler.CurrentCode)
				r.Post("/checkin/open", meetingHandler.OpenCheckIn)
				r.Post("/checkin/refresh", meetingHandler.RefreshCheckInCode)
				r.Post("/checkin/close", meetingHandler.CloseCheckIn)

				r.Get("/attendance", attendanceHandler.MeetingAttendance)
				r.Post("/attendance", attendanceHandler.ManualCheckIn)
				r.Get("/attendance/me", attendanceHandler.MyAttendance)
			})
		})

		r.Route("/attendance", func(r chi.Router) {
			r.Get("/stats", attendanceHandler.Stats)
			r.Patch("/{id}", attendanceHandler.UpdateStatus)
		})

		r.Route("/submissions", func(r chi.Router) {
			r.Get("/", submissionHandler.ListMine)
			r.Post("/", submissionHandler.Submit)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", submissionHandler.Get)
				r.Patch("/", submissionHandler.Update)
				r.Delete("/", submissionHandler.Delete)
				r.Post("/review", submissionHandler.Review)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Post("/{id}/read", notificationHandler.MarkRead)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", submissionHandler.AdminStats)
			r.Get("/submissions", submissionHandler.ListForReview)
			r.Get("/students", userHandler.ListStudents)
			r.Get("/students/{id}", userHandler.StudentDetails)
			r.Post("/profiles/{id}/verify", userHandler.VerifyProfile)
			r.Post("/profiles/{id}/reject", userHandler.RejectProfile)
			r.Put("/users/{id}/active", userHandler.SetActive)
		})
	})

	return r
}

// healthHandler はストアへの疎通確認結果を返すハンドラー。
// checkerがnilの場合は常に200を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.Ping(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
