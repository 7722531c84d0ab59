package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/companionhub/internal/metrics"
	"github.com/hitoshi/companionhub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver    middleware.SessionResolver
	CORSAllowedOrigins []string
	CSRFConfig         middleware.CSRFConfig
	RateLimiter        *middleware.RateLimiter
	Logger             *slog.Logger
	Metrics            metrics.MetricsCollector

	// 運用エンドポイント
	HealthChecks   map[string]Pinger
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメイン
	CatalogService     CatalogServiceInterface
	AssignmentService  AssignmentServiceInterface
	RecruitmentService RecruitmentServiceInterface
	ChatService        ChatServiceInterface
	UserService        UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → CSRF
//	  → (認証ルートのみ) Session → RateLimit(General) → (チャットのみ) RateLimit(Chat)
//
// /health、/metrics、/api/csrf-token、/auth/* はセッション不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(m))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	companionHandler := NewCompanionHandler(deps.CatalogService)
	assignmentHandler := NewAssignmentHandler(deps.AssignmentService)
	recruitmentHandler := NewRecruitmentHandler(deps.RecruitmentService)
	chatHandler := NewChatHandler(deps.ChatService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecks))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/api/companions", func(r chi.Router) {
				r.Get("/", companionHandler.List)
				r.Post("/", companionHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", companionHandler.Get)
					r.Patch("/", companionHandler.Update)
					r.Delete("/", companionHandler.Delete)

					r.Get("/assignments", assignmentHandler.List)
					r.Post("/assignments", assignmentHandler.Assign)
					r.Delete("/assignments/{creatorId}", assignmentHandler.Unassign)

					r.Post("/recruit", recruitmentHandler.Recruit)
					r.Delete("/subscription", recruitmentHandler.Unsubscribe)

					r.Get("/greeting", chatHandler.Greeting)
					// チャットはLLM呼び出しを伴うため専用のレート制限を追加する
					r.With(deps.RateLimiter.ChatMiddleware()).Post("/chat", chatHandler.Chat)
				})
			})

			r.Get("/api/subscriptions", recruitmentHandler.ListMine)
			r.Get("/api/points/history", recruitmentHandler.PointHistory)
			r.Get("/api/users", userHandler.ListUsers)
			r.Delete("/api/users/{id}/sessions", userHandler.RevokeSessions)
			r.Get("/api/dashboard", companionHandler.Dashboard)
		})
	})

	return r
}
