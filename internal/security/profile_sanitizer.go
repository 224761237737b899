package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService はIdPから受け取ったプロフィールを画面表示用に無害化する。
type ProfileSanitizerService interface {
	// Text は全てのタグを除去したプレーンテキストを返す。
	// 戻り値はHTMLエスケープ前の文字列で、描画時にエスケープされる前提。
	Text(s string) string
	// PictureURL はhttpsの絶対URLのみを返し、それ以外は空文字列を返す。
	PictureURL(raw string) string
}

type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はbluemondayのStrictPolicyを使うProfileSanitizerServiceを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text はタグを除去し、bluemondayが付与した実体参照を元に戻す。
func (s *profileSanitizer) Text(in string) string {
	if in == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}

// PictureURL はアバター画像のURLを検証する。
func (s *profileSanitizer) PictureURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if u.Scheme != "https" || u.Host == "" || u.User != nil {
		return ""
	}
	return u.String()
}
