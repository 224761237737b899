package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Auth0
	Auth0Domain       string
	Auth0ClientID     string
	Auth0ClientSecret string

	// AuthConfigBaseURL は認証設定JSONを配信するオリジン。パスは固定。
	AuthConfigBaseURL string

	// Session
	SessionSecret  string
	SessionMaxAge  int
	SessionIdleTTL time.Duration

	// Fetch
	FetchTimeout time.Duration

	// RenderWait はページ描画前にコントローラーの処理完了を待つ上限時間。
	RenderWait time.Duration

	// Cleanup
	CleanupInterval time.Duration

	// Rate Limit
	RateLimitAuth int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	if cfg.Auth0Domain == "" {
		missing = append(missing, "AUTH0_DOMAIN")
	}

	cfg.Auth0ClientID = os.Getenv("AUTH0_CLIENT_ID")
	if cfg.Auth0ClientID == "" {
		missing = append(missing, "AUTH0_CLIENT_ID")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = strings.TrimSuffix(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.Auth0ClientSecret = getEnvString("AUTH0_CLIENT_SECRET", "")
	cfg.AuthConfigBaseURL = strings.TrimSuffix(getEnvString("AUTH_CONFIG_BASE_URL", cfg.BaseURL), "/")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionIdleTTL = getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.RenderWait = getEnvDuration("RENDER_WAIT", 3*time.Second)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	return cfg, nil
}

// CallbackURL はIdPからのリダイレクト先URLを返す。
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/callback"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
