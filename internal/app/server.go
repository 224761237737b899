package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/cherry/internal/auth0"
	"github.com/hitoshi/cherry/internal/authconfig"
	"github.com/hitoshi/cherry/internal/config"
	"github.com/hitoshi/cherry/internal/handler"
	"github.com/hitoshi/cherry/internal/metrics"
	"github.com/hitoshi/cherry/internal/middleware"
	"github.com/hitoshi/cherry/internal/model"
	"github.com/hitoshi/cherry/internal/security"
	"github.com/hitoshi/cherry/internal/session"
	"github.com/hitoshi/cherry/internal/worker/cleanup"
)

// Server はワイヤリング済みのHTTPハンドラーとバックグラウンドジョブをまとめたもの。
type Server struct {
	Handler  http.Handler
	Sessions *session.Registry
	Cleanup  *cleanup.CleanupJob

	limiter *middleware.RateLimiter
}

// NewServer は設定から全依存関係を構築する。
// セッションコントローラーのイベントループはctxのキャンセルで停止する。
func NewServer(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, logger *slog.Logger) *Server {
	collector := metrics.NewCollector(reg)

	// 1. 認証設定の取得（自サーバーの /auth_config.json）
	fetcher := &instrumentedFetcher{
		next: authconfig.NewClient(
			&http.Client{Timeout: cfg.FetchTimeout},
			cfg.AuthConfigBaseURL,
			logger,
		),
		metrics: collector,
	}

	// 2. Auth0クライアント（外部へのリクエストはSSRFガード経由）
	ssrfGuard := security.NewSSRFGuard()
	identities := auth0.NewFactory(auth0.Config{
		ClientSecret: cfg.Auth0ClientSecret,
		RedirectURL:  cfg.CallbackURL(),
		HTTPClient:   ssrfGuard.NewSafeClient(cfg.FetchTimeout),
		ValidateURL:  ssrfGuard.ValidateURL,
		OnCall:       collector.RecordIdentityCall,
		Logger:       logger,
	})

	// 3. ブラウザごとのセッションコントローラー
	sessions := session.NewRegistry(ctx, session.RegistryConfig{
		Fetcher:     fetcher,
		NewIdentity: func() session.IdentityClient { return identities.NewClient() },
		Logger:      logger,
		Observer: func(from, to session.Phase) {
			collector.RecordTransition(from.String(), to.String())
		},
		OnSizeChange: collector.SetActiveControllers,
	})

	cleanupJob := cleanup.NewCleanupJob(sessions, logger)
	cleanupJob.IdleTTL = cfg.SessionIdleTTL
	cleanupJob.Interval = cfg.CleanupInterval
	cleanupJob.OnEvict = collector.RecordControllersEvicted

	// 4. ルーター
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitAuth))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger: logger,
		SessionStore: middleware.NewCookieStore(middleware.BrowserSessionConfig{
			Secret:       cfg.SessionSecret,
			MaxAge:       cfg.SessionMaxAge,
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		}),
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: limiter,
		Sessions:    sessions,
		Sanitizer:   security.NewProfileSanitizer(),
		Session: handler.SessionHandlerConfig{
			BaseURL:    cfg.BaseURL,
			RenderWait: cfg.RenderWait,
		},
		AuthConfig: model.AuthConfig{
			Domain:   cfg.Auth0Domain,
			ClientID: cfg.Auth0ClientID,
		},
		Metrics: metrics.SetupMetricsRoute(reg),
	})

	return &Server{
		Handler:  router,
		Sessions: sessions,
		Cleanup:  cleanupJob,
		limiter:  limiter,
	}
}

// Close はレートリミッターと全てのセッションコントローラーを停止する。
func (s *Server) Close() {
	s.limiter.Stop()
	s.Sessions.Close()
}

// instrumentedFetcher は認証設定の取得結果と所要時間をメトリクスに記録する。
type instrumentedFetcher struct {
	next    session.ConfigFetcher
	metrics metrics.MetricsCollector
}

func (f *instrumentedFetcher) FetchAuthConfig(ctx context.Context) (model.AuthConfig, error) {
	start := time.Now()
	cfg, err := f.next.FetchAuthConfig(ctx)
	f.metrics.RecordAuthConfigFetch(err, time.Since(start))
	return cfg, err
}
