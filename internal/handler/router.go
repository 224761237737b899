package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/cherry/internal/middleware"
	"github.com/hitoshi/cherry/internal/model"
	"github.com/hitoshi/cherry/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionStore middleware.SessionStore
	CSRF         middleware.CSRFConfig
	RateLimiter  *middleware.RateLimiter

	// セッション
	Sessions  SessionRegistry
	Sanitizer security.ProfileSanitizerService
	Session   SessionHandlerConfig

	// AuthConfig は /auth_config.json で配信する認証設定。
	AuthConfig model.AuthConfig

	// Metrics はnilでなければ /metrics に登録する。
	Metrics http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → BrowserSession → CSRF → RateLimit（認証操作のみ）
//
// /health, /auth_config.json, /metrics はブラウザセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	// --- ブラウザセッション不要のルート ---
	r.Get("/health", Health)
	r.Get(model.AuthConfigPath, NewAuthConfigHandler(deps.AuthConfig))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	h := NewSessionHandler(deps.Sessions, deps.Sanitizer, deps.Session, logger)

	// --- ブラウザセッションが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBrowserSessionMiddleware(deps.SessionStore))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/", h.Index)
		r.Get("/api/session", h.Session)
		r.Get("/callback", h.Callback)

		// 認証操作はブラウザセッション単位でレート制限する
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}
			r.Post("/signup", h.SignUp)
			r.Post("/login", h.LogIn)
			r.Post("/logout", h.Logout)
		})
	})

	return r
}
