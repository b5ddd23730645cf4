package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/daochat/internal/middleware"
)

// SetupAuthRoutes は認証関連のルーティングを設定したchi.Routerを返す。
// /auth/me と /auth/token は authenticator による認証を要求する。
func SetupAuthRoutes(service AuthServiceInterface, authenticator middleware.Authenticator, config AuthHandlerConfig) http.Handler {
	r := chi.NewRouter()
	mountAuthRoutes(r, NewAuthHandler(service, config), authenticator, nil)
	return r
}

func mountAuthRoutes(r chi.Router, h *AuthHandler, authenticator middleware.Authenticator, csrf func(http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		// OAuthフロー
		r.Get("/google/login", h.Login)
		r.Get("/google/callback", h.Callback)

		// セッション管理
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(authenticator))
			if csrf != nil {
				r.Use(csrf)
			}
			r.Get("/me", h.Me)
			r.Post("/token", h.IssueToken)
		})
	})
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 会話
	ConversationService ConversationServiceInterface
	Notifier            ConversationNotifier

	// ユーザー
	UserService UserServiceInterface

	// WebSocket
	SocketHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS
//	  /api/*: Session → CSRF → RateLimit(General)
//
// /ws はハンドシェイク内で自前の認証を行うため、セッションミドルウェアの外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	convHandler := NewConversationHandler(deps.ConversationService, deps.Notifier)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.SocketHandler != nil {
		r.Method(http.MethodGet, "/ws", deps.SocketHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	mountAuthRoutes(r, authHandler, deps.Authenticator, csrf)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Authenticator))
		r.Use(csrf)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/conversations", func(r chi.Router) {
			// POST /api/conversations - 会話作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.ConversationCreateMiddleware()).Post("/", convHandler.Create)
			r.Get("/", convHandler.List)
			r.Get("/{id}/messages", convHandler.ListMessages)
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/candidates", convHandler.Candidates)
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}
