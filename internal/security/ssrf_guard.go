// Package security はIdP通信のSSRF防止とプロフィール表示用のサニタイズを提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はIdPへのHTTP通信を保護するインターフェース。
// 認証設定で受け取ったドメインは外部入力として扱い、内部ネットワークへの到達を防ぐ。
type SSRFGuardService interface {
	// NewSafeClient はhttps・443番ポートのみに接続できるHTTPクライアントを生成する。
	// 接続先のIPアドレスはDNS解決後にDialerで検証される。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はIdPのURLをDNS解決せずに静的に検証する。
	ValidateURL(rawURL string) error
}

// blockedNetworks はIdPの接続先として許可しないネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータ(169.254.169.254)を含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

// blockedHostSuffixes はホスト名として許可しない名前とサフィックス。
var blockedHostSuffixes = []string{"localhost", ".localhost", ".local", ".internal"}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		out = append(out, network)
	}
	return out
}

type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
// プライベート・ループバック・リンクローカルのアドレスへの接続は拒否される。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はIdPのURLを検証する。
// httpsスキーム、空でないホスト、ブロック対象外のIPアドレス・ホスト名であることを要求する。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("disallowed scheme: %q (allowed: https)", parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("userinfo is not allowed in URL")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if port := parsed.Port(); port != "" && port != "443" {
		return fmt.Errorf("disallowed port: %s", port)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
		return nil
	}

	lower := strings.ToLower(host)
	for _, blocked := range blockedHostSuffixes {
		if lower == strings.TrimPrefix(blocked, ".") || strings.HasSuffix(lower, blocked) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}
