// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/hitoshi/cherry/internal/auth0"
	"github.com/hitoshi/cherry/internal/middleware"
	"github.com/hitoshi/cherry/internal/model"
	"github.com/hitoshi/cherry/internal/security"
	"github.com/hitoshi/cherry/internal/session"
	"github.com/hitoshi/cherry/internal/view"
)

// SessionRegistry はブラウザセッションIDからコントローラーを解決するインターフェース。
type SessionRegistry interface {
	Get(id string) *session.Entry
}

// CallbackHandler はIdPからのリダイレクトを処理できるIdPクライアント。
type CallbackHandler interface {
	HandleRedirectCallback(ctx context.Context, code, state string) error
}

// LogoutURLBuilder はIdP側のセッションを終了するURLを返せるIdPクライアント。
type LogoutURLBuilder interface {
	LogoutURL(returnTo string) (string, error)
}

// SessionHandlerConfig はセッションハンドラーの設定。
type SessionHandlerConfig struct {
	BaseURL string
	// RenderWait はコントローラーの処理完了を待つ上限時間。0以下なら待たない。
	RenderWait time.Duration
}

// SessionHandler はトップページと認証操作のHTTPハンドラー。
type SessionHandler struct {
	registry  SessionRegistry
	sanitizer security.ProfileSanitizerService
	config    SessionHandlerConfig
	logger    *slog.Logger
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(registry SessionRegistry, sanitizer security.ProfileSanitizerService, config SessionHandlerConfig, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		registry:  registry,
		sanitizer: sanitizer,
		config:    config,
		logger:    logger,
	}
}

// sessionResponse はセッション状態のAPIレスポンス。
type sessionResponse struct {
	State   string             `json:"state"`
	Profile *model.UserProfile `json:"profile"`
}

// Index はセッション状態からトップページを描画する。
// GET /
func (h *SessionHandler) Index(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	h.settle(r.Context(), e)

	page := view.Page(view.PageData{
		State:     e.Controller.State(),
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	}, h.sanitizer)

	w.Header().Set("Cache-Control", "no-store")
	templ.Handler(page).ServeHTTP(w, r)
}

// Session は現在のセッション状態をJSONで返す。
// GET /api/session
func (h *SessionHandler) Session(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	h.settle(r.Context(), e)

	state := e.Controller.State()
	resp := sessionResponse{State: state.Phase.String()}
	if state.IsAuthenticated() {
		resp.Profile = state.Profile
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// SignUp はIdPのサインアップ画面へリダイレクトする。
// POST /signup
func (h *SessionHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, session.SignUp{})
}

// LogIn はIdPのログイン画面へリダイレクトする。
// POST /login
func (h *SessionHandler) LogIn(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, session.LogIn{})
}

func (h *SessionHandler) redirect(w http.ResponseWriter, r *http.Request, msg session.Msg) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	h.settle(r.Context(), e)

	eff, err := e.Controller.Send(r.Context(), msg)
	if err == nil {
		err = eff.Err
	}
	if err != nil || eff.Redirect == "" {
		if err != nil {
			h.logger.Warn("IdPへのリダイレクトを中止しました",
				slog.String("browser_session", e.ID),
				slog.String("error", err.Error()),
			)
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, eff.Redirect, http.StatusSeeOther)
}

// Callback はIdPからのリダイレクトを処理し、セッションを再読み込みする。
// GET /callback?code=xxx&state=yyy
func (h *SessionHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if idpErr := q.Get("error"); idpErr != "" {
		h.logger.Warn("IdPがエラーを返しました",
			slog.String("error", idpErr),
			slog.String("description", q.Get("error_description")),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCallbackError(idpErr))
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCallbackError("codeまたはstateがありません"))
		return
	}

	e, ok := h.entry(w, r)
	if !ok {
		return
	}

	cb, ok := e.Identity.(CallbackHandler)
	if !ok {
		h.logger.Error("IdPクライアントがコールバックに対応していません",
			slog.String("browser_session", e.ID),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	if err := cb.HandleRedirectCallback(r.Context(), code, state); err != nil {
		if errors.Is(err, auth0.ErrInvalidState) || errors.Is(err, model.ErrNotInitialized) {
			h.logger.Warn("認証コールバックのstateが一致しません",
				slog.String("browser_session", e.ID),
				slog.String("error", err.Error()),
			)
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCallbackError("stateが一致しません"))
			return
		}
		h.logger.Error("認証コールバックの処理に失敗しました",
			slog.String("browser_session", e.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewAuthFailedError())
		return
	}

	e.Controller.Reload()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout はログアウトし、成功した場合はIdPのログアウトURLへリダイレクトする。
// POST /logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	h.settle(r.Context(), e)

	eff, err := e.Controller.Send(r.Context(), session.LogOut{})
	if err == nil {
		err = eff.Err
	}
	if err != nil {
		h.logger.Warn("ログアウトに失敗しました",
			slog.String("browser_session", e.ID),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	target := "/"
	if b, ok := e.Identity.(LogoutURLBuilder); ok {
		u, err := b.LogoutURL(h.config.BaseURL)
		if err != nil {
			h.logger.Warn("IdPのログアウトURLを生成できませんでした",
				slog.String("browser_session", e.ID),
				slog.String("error", err.Error()),
			)
		} else {
			target = u
		}
	}

	http.Redirect(w, r, target, http.StatusSeeOther)
}

// entry はリクエストのブラウザセッションに対応するEntryを返す。
// 解決できない場合はエラーレスポンスを書き込んでfalseを返す。
func (h *SessionHandler) entry(w http.ResponseWriter, r *http.Request) (*session.Entry, bool) {
	id, err := middleware.BrowserSessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewSessionUnavailableError())
		return nil, false
	}
	return h.registry.Get(id), true
}

// settle はRenderWaitを上限にコントローラーの処理完了を待つ。
// 待ちきれなかった場合もその時点の状態で処理を続ける。
func (h *SessionHandler) settle(ctx context.Context, e *session.Entry) {
	if h.config.RenderWait <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.RenderWait)
	defer cancel()

	if err := e.Controller.WaitIdle(ctx); err != nil {
		h.logger.Warn("セッションコントローラーの処理完了を待てませんでした",
			slog.String("browser_session", e.ID),
			slog.String("error", err.Error()),
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
