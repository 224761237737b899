// Package auth0 はAuth0をIdPとするIdPクライアントを提供する。
// OIDCディスカバリ、PKCE付きの認可リダイレクト、コールバック処理、ログアウトURLの生成を扱う。
package auth0

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/hitoshi/cherry/internal/model"
)

// maxPendingStates は1クライアントが同時に保持する未完了の認可リクエスト数の上限。
const maxPendingStates = 8

// ErrInvalidState はコールバックのstateが発行済みのものと一致しないことを示す。
var ErrInvalidState = errors.New("invalid oauth state")

// Config はAuth0クライアントの共通設定。
type Config struct {
	ClientSecret string
	// RedirectURL はIdPからのコールバック先（例: https://example.com/callback）。
	RedirectURL string
	// HTTPClient はディスカバリ・JWKS・トークンエンドポイントへのリクエストに使う。
	HTTPClient *http.Client
	// ValidateURL はIdPのURLをリクエスト前に検証する。nilの場合は検証しない。
	ValidateURL func(rawURL string) error
	// OnCall はIdP呼び出しの結果を通知する（メトリクス用）。
	OnCall func(op string, err error)
	Logger *slog.Logger
}

// Factory はブラウザごとのClientを生成する。
// OIDCプロバイダーのディスカバリ結果はドメイン単位でキャッシュし、全Clientで共有する。
type Factory struct {
	config Config

	mu        sync.Mutex
	providers map[string]*oidc.Provider
}

// NewFactory はFactoryを生成する。
func NewFactory(config Config) *Factory {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Factory{
		config:    config,
		providers: make(map[string]*oidc.Provider),
	}
}

// NewClient は未初期化のClientを生成する。
func (f *Factory) NewClient() *Client {
	return &Client{factory: f}
}

// provider はドメインに対応するOIDCプロバイダーを返す。未取得ならディスカバリを行う。
func (f *Factory) provider(ctx context.Context, domain string) (*oidc.Provider, error) {
	f.mu.Lock()
	p, ok := f.providers[domain]
	f.mu.Unlock()
	if ok {
		return p, nil
	}

	issuer := issuerURL(domain)
	if f.config.ValidateURL != nil {
		if err := f.config.ValidateURL(issuer); err != nil {
			return nil, fmt.Errorf("IdPのURLが不正です: %w", err)
		}
	}

	p, err := oidc.NewProvider(oidc.ClientContext(ctx, f.config.HTTPClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("OIDCディスカバリに失敗しました: %w", err)
	}

	f.mu.Lock()
	f.providers[domain] = p
	f.mu.Unlock()
	return p, nil
}

func (f *Factory) observe(op string, err error) {
	if f.config.OnCall != nil {
		f.config.OnCall(op, err)
	}
}

// Client はブラウザ1つ分のAuth0クライアント。
// 認証済みプロフィールはJSONペイロードとして保持し、トークンは保持しない。
type Client struct {
	factory *Factory

	mu       sync.Mutex
	domain   string
	clientID string
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	pending  map[string]string // state -> PKCE verifier
	profile  string
}

// Init はAuth0クライアントを初期化し、保持しているプロフィールのJSONを返す。
// 未ログインの場合は空文字列を返す。
func (c *Client) Init(ctx context.Context, domain, clientID string) (string, error) {
	p, err := c.factory.provider(ctx, domain)
	c.factory.observe("init", err)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.domain != domain || c.clientID != clientID {
		c.profile = ""
		c.pending = nil
	}
	c.domain = domain
	c.clientID = clientID
	c.oauth = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: c.factory.config.ClientSecret,
		RedirectURL:  c.factory.config.RedirectURL,
		Endpoint:     p.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	c.verifier = p.Verifier(&oidc.Config{ClientID: clientID})

	return c.profile, nil
}

// RedirectLogIn はログイン画面の認可URLを返す。
func (c *Client) RedirectLogIn(ctx context.Context) (string, error) {
	location, err := c.authCodeURL()
	c.factory.observe("log_in", err)
	return location, err
}

// RedirectSignUp はサインアップ画面の認可URLを返す。
func (c *Client) RedirectSignUp(ctx context.Context) (string, error) {
	location, err := c.authCodeURL(oauth2.SetAuthURLParam("screen_hint", "signup"))
	c.factory.observe("sign_up", err)
	return location, err
}

func (c *Client) authCodeURL(opts ...oauth2.AuthCodeOption) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.oauth == nil {
		return "", model.ErrNotInitialized
	}

	state, err := randomState()
	if err != nil {
		return "", fmt.Errorf("stateの生成に失敗しました: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	if c.pending == nil || len(c.pending) >= maxPendingStates {
		c.pending = make(map[string]string)
	}
	c.pending[state] = verifier

	opts = append(opts, oauth2.S256ChallengeOption(verifier))
	return c.oauth.AuthCodeURL(state, opts...), nil
}

// HandleRedirectCallback は認可コードをトークンに交換し、IDトークンを検証してプロフィールを保持する。
func (c *Client) HandleRedirectCallback(ctx context.Context, code, state string) error {
	err := c.handleRedirectCallback(ctx, code, state)
	c.factory.observe("callback", err)
	return err
}

func (c *Client) handleRedirectCallback(ctx context.Context, code, state string) error {
	c.mu.Lock()
	if c.oauth == nil {
		c.mu.Unlock()
		return model.ErrNotInitialized
	}
	pkce, ok := c.pending[state]
	delete(c.pending, state)
	oauthCfg := c.oauth
	idVerifier := c.verifier
	c.mu.Unlock()

	if !ok {
		return ErrInvalidState
	}

	ctx = oidc.ClientContext(ctx, c.factory.config.HTTPClient)

	token, err := oauthCfg.Exchange(ctx, code, oauth2.VerifierOption(pkce))
	if err != nil {
		return fmt.Errorf("認可コードの交換に失敗しました: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return errors.New("トークンレスポンスにid_tokenが含まれていません")
	}

	idToken, err := idVerifier.Verify(ctx, rawIDToken)
	if err != nil {
		return fmt.Errorf("IDトークンの検証に失敗しました: %w", err)
	}

	var profile model.UserProfile
	if err := idToken.Claims(&profile); err != nil {
		return fmt.Errorf("IDトークンのクレームの解析に失敗しました: %w", err)
	}

	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("プロフィールのエンコードに失敗しました: %w", err)
	}

	c.mu.Lock()
	c.profile = string(payload)
	c.mu.Unlock()

	c.factory.config.Logger.Info("IdPからのコールバックを処理しました",
		slog.String("sub", profile.SubjectID),
	)
	return nil
}

// Logout は保持しているプロフィールを破棄する。
func (c *Client) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.oauth == nil {
		c.factory.observe("log_out", model.ErrNotInitialized)
		return model.ErrNotInitialized
	}
	c.profile = ""
	c.factory.observe("log_out", nil)
	return nil
}

// LogoutURL はAuth0のセッションを終了させるログアウトURLを返す。
func (c *Client) LogoutURL(returnTo string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.oauth == nil {
		return "", model.ErrNotInitialized
	}

	q := url.Values{
		"client_id": {c.clientID},
		"returnTo":  {returnTo},
	}
	return "https://" + c.domain + "/v2/logout?" + q.Encode(), nil
}

// issuerURL はAuth0ドメインのissuer URLを返す。Auth0のissuerは末尾にスラッシュを含む。
func issuerURL(domain string) string {
	return "https://" + domain + "/"
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
