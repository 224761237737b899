// Package authconfig は認証設定（/auth_config.json）の取得クライアントを提供する。
package authconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/cherry/internal/model"
)

// maxBodySize は認証設定レスポンスとして受け付ける最大サイズ。
const maxBodySize = 64 << 10

// Client は認証設定を取得するHTTPクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	url        string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLは認証設定を配信するオリジン（例: https://example.com）で、
// 取得先は常に baseURL + model.AuthConfigPath となる。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		url:        strings.TrimSuffix(baseURL, "/") + model.AuthConfigPath,
	}
}

// FetchAuthConfig は認証設定をGETで1回だけ取得する。再試行はしない。
// 失敗した場合はErrAuthConfigFetchでラップしたエラーを返す。
func (c *Client) FetchAuthConfig(ctx context.Context) (model.AuthConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return model.AuthConfig{}, fmt.Errorf("%w: HTTPリクエストの作成に失敗しました: %w", model.ErrAuthConfigFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "CherryOnline/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.AuthConfig{}, fmt.Errorf("%w: %w", model.ErrAuthConfigFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("認証設定の取得で予期しないHTTPステータスコード",
			slog.Int("http_status", resp.StatusCode),
			slog.String("url", c.url),
		)
		return model.AuthConfig{}, fmt.Errorf("%w: ステータス %d", model.ErrAuthConfigFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return model.AuthConfig{}, fmt.Errorf("%w: レスポンスボディの読み取りに失敗しました: %w", model.ErrAuthConfigFetch, err)
	}

	var cfg model.AuthConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return model.AuthConfig{}, fmt.Errorf("%w: レスポンスJSONのパースに失敗しました: %w", model.ErrAuthConfigFetch, err)
	}

	if cfg.Domain == "" || cfg.ClientID == "" {
		return model.AuthConfig{}, fmt.Errorf("%w: domainまたはclient_idが空です", model.ErrAuthConfigFetch)
	}

	return cfg, nil
}
