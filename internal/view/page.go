// Package view はトップページをセッション状態から描画する。
// 描画は状態の純粋関数であり、同じ入力に対して常に同じHTMLを返す。
//
// page.templ を編集した場合は templ generate で page_templ.go を再生成すること。
package view

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.977 generate

import (
	"github.com/a-h/templ"

	"github.com/hitoshi/cherry/internal/security"
	"github.com/hitoshi/cherry/internal/session"
)

// PageData はトップページの描画に必要な値。
type PageData struct {
	State     session.State
	CSRFToken string
}

// pageModel はテンプレートに渡す表示用の値。プロフィールは無害化済み。
type pageModel struct {
	Phase         string
	Authenticated bool
	Anonymous     bool
	CSRFToken     string

	Nickname      string
	Name          string
	Email         string
	Picture       string
	EmailVerified bool
}

// Page はトップページのコンポーネントを返す。
func Page(data PageData, sanitizer security.ProfileSanitizerService) templ.Component {
	return page(newPageModel(data, sanitizer))
}

func newPageModel(data PageData, sanitizer security.ProfileSanitizerService) pageModel {
	m := pageModel{
		Phase:         data.State.Phase.String(),
		Authenticated: data.State.IsAuthenticated(),
		Anonymous:     data.State.Phase == session.PhaseAnonymous,
		CSRFToken:     data.CSRFToken,
	}
	if m.Authenticated {
		p := data.State.Profile
		m.Nickname = sanitizer.Text(p.Nickname)
		m.Name = sanitizer.Text(p.Name)
		m.Email = sanitizer.Text(p.Email)
		m.Picture = sanitizer.PictureURL(p.Picture)
		m.EmailVerified = p.EmailVerified
	}
	return m
}
