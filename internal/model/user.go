// Package model はドメインモデルを定義する。
package model

// AuthConfigPath は認証設定JSONを配信する固定パス。
const AuthConfigPath = "/auth_config.json"

// AuthConfig はIdPテナントの接続設定を表す。
// /auth_config.json から起動時に1回取得し、以降はイミュータブルとして扱う。
type AuthConfig struct {
	Domain   string `json:"domain"`
	ClientID string `json:"client_id"`
}

// UserProfile はIdPが返す認証済みユーザーのプロフィールを表す。
// フィールド名はIdPのクレーム名に合わせる。
type UserProfile struct {
	Nickname      string `json:"nickname"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	UpdatedAt     string `json:"updated_at"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	SubjectID     string `json:"sub"`
}
