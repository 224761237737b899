// Package cleanup はアイドル状態のセッションコントローラーを定期的に停止するジョブを提供する。
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Evictor はアイドルなコントローラーの停止を抽象化するインターフェース。
// session.Registryが実装する。
type Evictor interface {
	Evict(idleTTL time.Duration) int
	Len() int
}

// CleanupJob はIdleTTLを超えてアクセスのないブラウザのコントローラーを停止するジョブ。
type CleanupJob struct {
	registry Evictor
	logger   *slog.Logger

	IdleTTL  time.Duration // 最終アクセスからの猶予（デフォルト: 30分）
	Interval time.Duration // 実行間隔（デフォルト: 5分）
	// OnEvict は停止した件数を通知する（メトリクス用）。
	OnEvict func(n int)
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(registry Evictor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		registry: registry,
		logger:   logger,
		IdleTTL:  30 * time.Minute,
		Interval: 5 * time.Minute,
	}
}

// Run はアイドルなコントローラーを1回停止し、停止した件数を返す。
func (j *CleanupJob) Run(ctx context.Context) int {
	start := time.Now()
	evicted := j.registry.Evict(j.IdleTTL)

	if evicted > 0 && j.OnEvict != nil {
		j.OnEvict(evicted)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int("evicted_count", evicted),
		slog.Int("active_count", j.registry.Len()),
		slog.Duration("idle_ttl", j.IdleTTL),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)
	return evicted
}

// Start はIntervalごとにRunを実行する。コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップジョブを開始しました",
		slog.Duration("interval", j.Interval),
		slog.Duration("idle_ttl", j.IdleTTL),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
