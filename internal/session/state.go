// Package session はブラウザごとの認証状態を管理するセッションコントローラーを提供する。
//
// コントローラーは認証設定の取得、IdPクライアントの初期化、
// サインアップ・ログイン・ログアウトの遷移をメッセージ駆動で逐次処理する。
// 画面はStateの純粋関数として描画される。
package session

import "github.com/hitoshi/cherry/internal/model"

// Phase はセッションの認証フェーズを表す。
type Phase int

const (
	// PhaseUninitialized は認証設定が未取得の状態。
	PhaseUninitialized Phase = iota
	// PhaseConfigLoaded は認証設定を取得済みでIdPクライアントの初期化待ちの状態。
	PhaseConfigLoaded
	// PhaseAuthenticated はプロフィールを保持している状態。
	PhaseAuthenticated
	// PhaseAnonymous は初期化済みで未ログインの状態。
	PhaseAnonymous
)

// String はログとメトリクスのラベルに使うフェーズ名を返す。
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseConfigLoaded:
		return "config_loaded"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// State はコントローラーの現在の状態のスナップショット。
// ProfileはPhaseがPhaseAuthenticatedのときのみnilでない。
// Configは一度取得したら再読み込みまで保持する。
type State struct {
	Phase   Phase
	Config  *model.AuthConfig
	Profile *model.UserProfile
}

// IsAuthenticated はプロフィールを保持しているかを返す。
func (s State) IsAuthenticated() bool {
	return s.Phase == PhaseAuthenticated && s.Profile != nil
}

// clone は呼び出し側が内部状態を書き換えられないようにポインタ先を複製する。
func (s State) clone() State {
	out := State{Phase: s.Phase}
	if s.Config != nil {
		cfg := *s.Config
		out.Config = &cfg
	}
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	return out
}
