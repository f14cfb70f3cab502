package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/codedojo/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	StatusObserver    middleware.StatusObserver
	MetricsHandler    http.Handler
	CORSAllowedOrigin string

	// セッション
	SessionResolver middleware.SessionResolver
	SessionCookie   *middleware.SessionCookie

	// CSRF。CSRFEnabledがfalseの場合もトークン取得エンドポイントは公開する
	CSRFEnabled bool
	CSRFConfig  middleware.CSRFConfig

	// ログイン・サインアップのIP単位レート制限。nilなら無効
	AuthRateLimiter *middleware.RateLimiter

	AuthService AuthServiceInterface
	UserService UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Logging → CORS → SecurityHeaders → CSRF(任意)
//
// /api/auth/login と /api/auth/signup にはさらにIP単位のレート制限を掛ける。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.CSRFEnabled {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionCookie)
	userHandler := NewUserHandler(deps.UserService, deps.SessionCookie)

	// --- 公開ルート ---
	r.Get("/", rootHandler)
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証ルート ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.AuthRateLimiter != nil {
				r.Use(deps.AuthRateLimiter.Middleware())
			}
			r.Post("/login", authHandler.Login)
			r.Post("/signup", authHandler.Signup)
		})
		r.Post("/logout", authHandler.Logout)
		r.With(middleware.NewOptionalSessionMiddleware(deps.SessionResolver, deps.SessionCookie)).
			Get("/check-auth", authHandler.CheckAuth)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver, deps.SessionCookie))

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/me", userHandler.Me)
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}
