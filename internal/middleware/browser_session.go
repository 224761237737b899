// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/hitoshi/cherry/internal/model"
)

const (
	// browserSessionName はブラウザセッションCookieの名前。
	browserSessionName  = "cherry_session"
	browserSessionIDKey = "id"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var browserSessionIDContextKey = contextKey("browser_session_id")

// SessionStore はブラウザセッションの読み書きに必要なインターフェース。
// gorilla/sessionsのStoreの部分集合として定義する。
type SessionStore interface {
	Get(r *http.Request, name string) (*sessions.Session, error)
	Save(r *http.Request, w http.ResponseWriter, s *sessions.Session) error
}

// BrowserSessionConfig はブラウザセッションCookieの設定。
type BrowserSessionConfig struct {
	Secret       string
	MaxAge       int
	CookieSecure bool
	CookieDomain string
}

// NewCookieStore は署名付きCookieでブラウザセッションを保持するストアを生成する。
// Cookieに保存するのはブラウザセッションIDのみで、認証状態はサーバーのメモリ上にある。
func NewCookieStore(config BrowserSessionConfig) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(config.Secret))
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   config.MaxAge,
		Secure:   config.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// NewBrowserSessionMiddleware はブラウザセッションIDを解決してコンテキストに注入するミドルウェアを返す。
// Cookieが無い・改ざんされている場合は新しいIDを発行する。
func NewBrowserSessionMiddleware(store SessionStore) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := store.Get(r, browserSessionName)
			if err != nil {
				// 署名検証に失敗した場合も新しいセッションが返る
				slog.Warn("invalid browser session cookie",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
			}
			if sess == nil {
				WriteErrorResponse(w, http.StatusInternalServerError, model.NewSessionUnavailableError())
				return
			}

			id, _ := sess.Values[browserSessionIDKey].(string)
			if _, parseErr := uuid.Parse(id); parseErr != nil {
				id = uuid.NewString()
				sess.Values[browserSessionIDKey] = id
				if err := store.Save(r, w, sess); err != nil {
					slog.Error("failed to save browser session",
						slog.String("error", err.Error()),
					)
					WriteErrorResponse(w, http.StatusInternalServerError, model.NewSessionUnavailableError())
					return
				}
			}

			if rec, ok := w.(*statusRecorder); ok {
				rec.sessionID = id
			}
			next.ServeHTTP(w, r.WithContext(ContextWithBrowserSessionID(r.Context(), id)))
		})
	}
}

// BrowserSessionIDFromContext はリクエストコンテキストからブラウザセッションIDを取得する。
// ブラウザセッションミドルウェアを通過したリクエストでのみ有効。
func BrowserSessionIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(browserSessionIDContextKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("browser session ID not found in context")
	}
	return id, nil
}

// ContextWithBrowserSessionID はコンテキストにブラウザセッションIDを注入する。
func ContextWithBrowserSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, browserSessionIDContextKey, id)
}
