package session

import "github.com/hitoshi/cherry/internal/model"

// Msg はコントローラーのイベントループが処理するメッセージ。
type Msg interface {
	isMsg()
}

// LoadAuthConfig は認証設定の取得を開始する。
// 処理時に状態をPhaseUninitializedへ戻すため、ページの再読み込みとしても使う。
type LoadAuthConfig struct{}

// SignUp はIdPのサインアップ画面へのリダイレクトを要求する。
type SignUp struct{}

// LogIn はIdPのログイン画面へのリダイレクトを要求する。
type LogIn struct{}

// LogOut はIdPクライアントのログアウトを要求する。
type LogOut struct{}

func (LoadAuthConfig) isMsg() {}
func (SignUp) isMsg()         {}
func (LogIn) isMsg()          {}
func (LogOut) isMsg()         {}

// completion は非同期タスクの完了を表すメッセージ。
// 処理後にタスクの保留カウントを1つ減らす。
type completion interface {
	Msg
	isCompletion()
}

// authConfigFetched は認証設定の取得結果。
type authConfigFetched struct {
	gen    uint64
	config model.AuthConfig
	err    error
}

// authInitialized はIdPクライアント初期化の結果。
// payloadが空文字列の場合は既存セッションなし。
type authInitialized struct {
	gen     uint64
	payload string
	err     error
}

// redirectAction はリダイレクト系アクションの種別。
type redirectAction string

const (
	actionSignUp redirectAction = "sign_up"
	actionLogIn  redirectAction = "log_in"
)

// redirected はリダイレクト先URLの取得結果。
type redirected struct {
	action   redirectAction
	location string
	err      error
	reply    chan<- Effect
}

func (authConfigFetched) isMsg()        {}
func (authConfigFetched) isCompletion() {}
func (authInitialized) isMsg()          {}
func (authInitialized) isCompletion()   {}
func (redirected) isMsg()               {}
func (redirected) isCompletion()        {}

// Effect はSendで送ったメッセージの処理結果。
// Errは既にログ出力済みで、状態は変更されていない。
type Effect struct {
	// Redirect はブラウザを遷移させる先のURL。サインアップ・ログイン成功時のみ設定される。
	Redirect string
	Err      error
}

// envelope はメッセージと応答先をまとめたもの。replyがnilの場合は応答しない。
type envelope struct {
	msg   Msg
	reply chan<- Effect
}
