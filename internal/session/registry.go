package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IdentityFactory はブラウザごとのIdentityClientを生成する。
type IdentityFactory func() IdentityClient

// RegistryConfig はRegistryの設定。
type RegistryConfig struct {
	Fetcher     ConfigFetcher
	NewIdentity IdentityFactory
	Logger      *slog.Logger
	Observer    Observer
	// OnSizeChange は保持しているコントローラー数が変わるたびに呼ばれる。
	OnSizeChange func(n int)
}

// Entry はブラウザセッション1つ分のコントローラーとIdPクライアント。
type Entry struct {
	ID         string
	Controller *Controller
	Identity   IdentityClient

	cancel     context.CancelFunc
	lastAccess time.Time
}

// Registry はブラウザセッションIDごとにControllerをメモリ上で管理する。
type Registry struct {
	config RegistryConfig
	parent context.Context
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRegistry はRegistryを生成する。
// 生成したコントローラーのイベントループはctxのキャンセルで停止する。
func NewRegistry(ctx context.Context, config RegistryConfig) *Registry {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Registry{
		config:  config,
		parent:  ctx,
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
}

// Get はブラウザセッションIDに対応するEntryを返す。
// 未登録の場合はコントローラーを生成して起動し、認証設定の取得を開始する。
func (r *Registry) Get(id string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		e.lastAccess = r.now()
		return e
	}

	identity := r.config.NewIdentity()
	ctrl := NewController(r.config.Fetcher, identity, ControllerConfig{
		Logger:   r.config.Logger.With(slog.String("browser_session", id)),
		Observer: r.config.Observer,
	})

	ctx, cancel := context.WithCancel(r.parent)
	go ctrl.Run(ctx)
	ctrl.Dispatch(LoadAuthConfig{})

	e := &Entry{
		ID:         id,
		Controller: ctrl,
		Identity:   identity,
		cancel:     cancel,
		lastAccess: r.now(),
	}
	r.entries[id] = e
	r.notifySize()

	r.config.Logger.Info("セッションコントローラーを開始しました",
		slog.String("browser_session", id),
	)
	return e
}

// Lookup は登録済みのEntryを返す。生成はしない。
func (r *Registry) Lookup(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if ok {
		e.lastAccess = r.now()
	}
	return e, ok
}

// Evict は最終アクセスからidleTTL以上経過したコントローラーを停止して削除する。
// 削除した件数を返す。
func (r *Registry) Evict(idleTTL time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idleTTL)
	evicted := 0
	for id, e := range r.entries {
		if e.lastAccess.Before(cutoff) {
			e.cancel()
			delete(r.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.notifySize()
	}
	return evicted
}

// Len は保持しているコントローラー数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close は全てのコントローラーを停止する。
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		e.cancel()
		delete(r.entries, id)
	}
	r.notifySize()
}

func (r *Registry) notifySize() {
	if r.config.OnSizeChange != nil {
		r.config.OnSizeChange(len(r.entries))
	}
}
