package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/storerating/internal/access"
	"github.com/hitoshi/storerating/internal/metrics"
	"github.com/hitoshi/storerating/internal/middleware"
	"github.com/hitoshi/storerating/internal/model"
)

// healthCheckTimeout はヘルスチェックでのDB疎通確認の上限時間。
const healthCheckTimeout = 3 * time.Second

// HealthChecker はデータストアの疎通を確認する。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CallerResolver    middleware.CallerResolver
	Cookies           SignedCookieCodec
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	SecurityHeaders   middleware.SecurityHeadersConfig
	RateLimiter       *middleware.RateLimiter
	AuthMetrics       metrics.AuthMetrics
	HTTPMetrics       metrics.HTTPMetrics

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	Credentials CredentialService
	Tokens      TokenIssuer
	Provider    ProviderLoginService
	Users       UserFinder
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// 評価
	RatingPipeline RatingSubmitter
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → CORS → SecurityHeaders → Logging → HTTPMetrics → Recovery
//	  → Identity → CSRF → RateLimit(General) → Access → Handler
//
// /health と /metrics は呼び出し元の解決とレート制限の対象外とする。
func NewRouter(deps *RouterDeps) http.Handler {
	httpMetrics := deps.HTTPMetrics
	if httpMetrics == nil {
		httpMetrics = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecurityHeaders))
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewHTTPMetricsMiddleware(httpMetrics))
	r.Use(middleware.NewRecoveryMiddleware(slog.Default()))

	authHandler := NewAuthHandler(deps.Credentials, deps.Tokens, deps.Provider, deps.Users, deps.Cookies, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	ratingHandler := NewRatingHandler(deps.RatingPipeline)

	authenticated := middleware.NewAccessMiddleware(access.AnyAuthenticated())
	adminOnly := middleware.NewAccessMiddleware(access.RequireRole(model.RoleAdmin))

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- APIエンドポイント ---
	// ミドルウェアスタック: Identity → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.CallerResolver, deps.Cookies, deps.AuthMetrics))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Get("/provider", authHandler.Provider)
			r.Get("/provider/callback", authHandler.ProviderCallback)
			r.Post("/logout", authHandler.Logout)
			r.With(authenticated).Get("/me", authHandler.Me)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(adminOnly).Post("/", userHandler.CreateUser)
			r.With(authenticated).Put("/password", userHandler.UpdatePassword)
		})

		// POST /ratings - 評価送信（送信専用レート制限を追加）
		r.With(authenticated, deps.RateLimiter.RatingSubmissionMiddleware()).Post("/ratings", ratingHandler.SubmitRating)
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
