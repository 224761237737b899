package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/cherry/internal/model"
)

// ConfigFetcher は認証設定の取得に必要なインターフェース。
type ConfigFetcher interface {
	FetchAuthConfig(ctx context.Context) (model.AuthConfig, error)
}

// IdentityClient はIdPクライアントのバインディング。
// 実装はブラウザごとに1つ生成される。
type IdentityClient interface {
	// Init はIdPクライアントを初期化し、既存セッションのプロフィールをJSONで返す。
	// セッションがない場合は空文字列を返す。
	Init(ctx context.Context, domain, clientID string) (string, error)
	// RedirectSignUp はサインアップ画面のURLを返す。
	RedirectSignUp(ctx context.Context) (string, error)
	// RedirectLogIn はログイン画面のURLを返す。
	RedirectLogIn(ctx context.Context) (string, error)
	// Logout は同期的にログアウトする。
	Logout() error
}

// Observer はフェーズ遷移の通知を受け取る。
type Observer func(from, to Phase)

// ControllerConfig はControllerの設定。
type ControllerConfig struct {
	Logger    *slog.Logger
	Observer  Observer
	QueueSize int // メッセージキューのサイズ（デフォルト: 16）
}

// Controller はブラウザ1つ分の認証状態を管理するステートマシン。
// 状態はRunのイベントループ内でのみ更新され、メッセージは到着順に1つずつ処理される。
type Controller struct {
	fetcher  ConfigFetcher
	identity IdentityClient
	logger   *slog.Logger
	observer Observer

	inbox chan envelope
	done  chan struct{}

	// genはLoadAuthConfigごとに進み、古い非同期結果を破棄するのに使う。ループ内専用。
	gen uint64

	mu         sync.RWMutex
	state      State
	pending    int
	idle       chan struct{}
	idleClosed bool
	stopOnce   sync.Once
}

// NewController はControllerを生成する。Runを呼ぶまでメッセージは処理されない。
func NewController(fetcher ConfigFetcher, identity IdentityClient, config ControllerConfig) *Controller {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 16
	}

	idle := make(chan struct{})
	close(idle)

	return &Controller{
		fetcher:    fetcher,
		identity:   identity,
		logger:     config.Logger,
		observer:   config.Observer,
		inbox:      make(chan envelope, config.QueueSize),
		done:       make(chan struct{}),
		state:      State{Phase: PhaseUninitialized},
		idle:       idle,
		idleClosed: true,
	}
}

// Run はイベントループを実行する。ctxがキャンセルされるまでブロックする。
// 非同期タスクはctxを引き継ぐため、ループの停止とともに中断される。
func (c *Controller) Run(ctx context.Context) {
	defer c.stopOnce.Do(func() { close(c.done) })

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.inbox:
			c.update(ctx, env.msg, env.reply)
			if _, ok := env.msg.(completion); ok {
				c.addPending(-1)
			}
			c.addPending(-1)
		}
	}
}

// Done はイベントループが停止すると閉じられるチャネルを返す。
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// State は現在の状態のスナップショットを返す。
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// Dispatch はメッセージをキューに積み、処理を待たずに戻る。
// ループ停止後は何もしない。
func (c *Controller) Dispatch(msg Msg) {
	_ = c.enqueue(context.Background(), envelope{msg: msg})
}

// Send はメッセージをキューに積み、処理結果を待つ。
// SignUp・LogInはリダイレクト先URLの取得完了まで待つ。
func (c *Controller) Send(ctx context.Context, msg Msg) (Effect, error) {
	reply := make(chan Effect, 1)
	if err := c.enqueue(ctx, envelope{msg: msg, reply: reply}); err != nil {
		return Effect{}, err
	}

	select {
	case eff := <-reply:
		return eff, nil
	case <-ctx.Done():
		return Effect{}, ctx.Err()
	case <-c.done:
		return Effect{}, model.ErrControllerStopped
	}
}

// Reload は認証設定の取得からやり直す。
// IdPからリダイレクトで戻ってきたときのページ再読み込みに相当する。
func (c *Controller) Reload() {
	c.Dispatch(LoadAuthConfig{})
}

// WaitIdle はキュー内のメッセージと実行中の非同期タスクがなくなるまで待つ。
func (c *Controller) WaitIdle(ctx context.Context) error {
	c.mu.RLock()
	idle := c.idle
	c.mu.RUnlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return model.ErrControllerStopped
	}
}

func (c *Controller) enqueue(ctx context.Context, env envelope) error {
	select {
	case <-c.done:
		return model.ErrControllerStopped
	default:
	}

	c.addPending(1)
	select {
	case c.inbox <- env:
		return nil
	case <-ctx.Done():
		c.addPending(-1)
		return ctx.Err()
	case <-c.done:
		c.addPending(-1)
		return model.ErrControllerStopped
	}
}

// addPending は保留カウントを更新し、0になったらidleチャネルを閉じる。
func (c *Controller) addPending(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending += delta
	switch {
	case c.pending == 0 && !c.idleClosed:
		close(c.idle)
		c.idleClosed = true
	case c.pending > 0 && c.idleClosed:
		c.idle = make(chan struct{})
		c.idleClosed = false
	}
}

// spawn は非同期タスクを起動する。タスクの結果はcompletionとしてループに戻る。
func (c *Controller) spawn(task func() completion) {
	c.addPending(1)
	go func() {
		msg := task()
		c.addPending(1)
		select {
		case c.inbox <- envelope{msg: msg}:
		case <-c.done:
			c.addPending(-2)
		}
	}()
}

func (c *Controller) update(ctx context.Context, msg Msg, reply chan<- Effect) {
	switch m := msg.(type) {
	case LoadAuthConfig:
		c.loadAuthConfig(ctx)
		respond(reply, Effect{})
	case authConfigFetched:
		c.onAuthConfigFetched(ctx, m)
	case authInitialized:
		c.onAuthInitialized(m)
	case SignUp:
		c.redirect(ctx, actionSignUp, reply)
	case LogIn:
		c.redirect(ctx, actionLogIn, reply)
	case redirected:
		c.onRedirected(m)
	case LogOut:
		respond(reply, c.logOut())
	default:
		c.logger.Warn("未知のセッションメッセージを受信しました", slog.String("type", fmt.Sprintf("%T", msg)))
		respond(reply, Effect{})
	}
}

func (c *Controller) loadAuthConfig(ctx context.Context) {
	c.gen++
	gen := c.gen

	c.transition(State{Phase: PhaseUninitialized})

	c.spawn(func() completion {
		cfg, err := c.fetcher.FetchAuthConfig(ctx)
		return authConfigFetched{gen: gen, config: cfg, err: err}
	})
}

func (c *Controller) onAuthConfigFetched(ctx context.Context, m authConfigFetched) {
	if m.gen != c.gen {
		c.logger.Debug("古い認証設定の取得結果を破棄します")
		return
	}

	if m.err != nil {
		c.logger.Error("認証設定の取得に失敗しました",
			slog.String("error", m.err.Error()),
		)
		return
	}

	cfg := m.config
	c.logger.Info("認証設定を取得しました",
		slog.String("domain", cfg.Domain),
		slog.String("client_id", cfg.ClientID),
	)

	// 初期化より先にConfigLoadedへ遷移させる
	c.transition(State{Phase: PhaseConfigLoaded, Config: &cfg})

	gen := m.gen
	c.spawn(func() completion {
		payload, err := c.identity.Init(ctx, cfg.Domain, cfg.ClientID)
		return authInitialized{gen: gen, payload: payload, err: err}
	})
}

func (c *Controller) onAuthInitialized(m authInitialized) {
	if m.gen != c.gen {
		c.logger.Debug("古いIdPクライアント初期化結果を破棄します")
		return
	}

	if m.err != nil {
		c.logger.Error("IdPクライアントの初期化に失敗しました",
			slog.String("error", m.err.Error()),
		)
		return
	}

	current := c.State()
	next := State{Phase: PhaseAnonymous, Config: current.Config}

	if m.payload != "" {
		var profile model.UserProfile
		if err := json.Unmarshal([]byte(m.payload), &profile); err != nil {
			c.logger.Error("ユーザープロフィールのデコードに失敗しました",
				slog.String("error", err.Error()),
			)
		} else {
			next.Phase = PhaseAuthenticated
			next.Profile = &profile
		}
	}

	c.transition(next)
}

func (c *Controller) redirect(ctx context.Context, action redirectAction, reply chan<- Effect) {
	call := c.identity.RedirectLogIn
	if action == actionSignUp {
		call = c.identity.RedirectSignUp
	}

	c.spawn(func() completion {
		location, err := call(ctx)
		return redirected{action: action, location: location, err: err, reply: reply}
	})
}

func (c *Controller) onRedirected(m redirected) {
	if m.err != nil {
		err := fmt.Errorf("%w: %s: %w", model.ErrIdentityProvider, m.action, m.err)
		c.logger.Error("IdPへのリダイレクトに失敗しました",
			slog.String("action", string(m.action)),
			slog.String("error", m.err.Error()),
		)
		respond(m.reply, Effect{Err: err})
		return
	}

	c.logger.Info("IdPへリダイレクトします",
		slog.String("action", string(m.action)),
	)
	respond(m.reply, Effect{Redirect: m.location})
}

func (c *Controller) logOut() Effect {
	if err := c.identity.Logout(); err != nil {
		c.logger.Error("IdPのログアウトに失敗しました",
			slog.String("error", err.Error()),
		)
		return Effect{Err: fmt.Errorf("%w: ログアウト: %w", model.ErrIdentityProvider, err)}
	}

	current := c.State()
	c.transition(State{Phase: PhaseAnonymous, Config: current.Config})
	c.logger.Info("ログアウトしました")
	return Effect{}
}

// transition は状態を置き換え、フェーズが変わった場合にObserverへ通知する。
func (c *Controller) transition(next State) {
	c.mu.Lock()
	from := c.state.Phase
	c.state = next
	c.mu.Unlock()

	if from == next.Phase {
		return
	}

	c.logger.Debug("セッション状態が遷移しました",
		slog.String("from", from.String()),
		slog.String("to", next.Phase.String()),
	)
	if c.observer != nil {
		c.observer(from, next.Phase)
	}
}

func respond(reply chan<- Effect, eff Effect) {
	if reply != nil {
		reply <- eff
	}
}
