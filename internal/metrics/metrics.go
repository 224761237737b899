// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッションコントローラー、IdPクライアント、クリーンアップジョブから利用する。
type MetricsCollector interface {
	RecordTransition(from, to string)
	RecordAuthConfigFetch(err error, duration time.Duration)
	RecordIdentityCall(op string, err error)
	SetActiveControllers(n int)
	RecordControllersEvicted(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	transitions       *prometheus.CounterVec
	configFetches     *prometheus.CounterVec
	configLatency     prometheus.Histogram
	identityCalls     *prometheus.CounterVec
	activeControllers prometheus.Gauge
	evicted           prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cherry_session_transitions_total",
			Help: "セッション状態遷移の合計数",
		}, []string{"from", "to"}),
		configFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cherry_auth_config_fetch_total",
			Help: "認証設定取得の結果別の合計数",
		}, []string{"result"}),
		configLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cherry_auth_config_fetch_latency_seconds",
			Help:    "認証設定取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		identityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cherry_identity_calls_total",
			Help: "IdPクライアント呼び出しの操作・結果別の合計数",
		}, []string{"op", "result"}),
		activeControllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cherry_active_controllers",
			Help: "メモリ上で稼働中のセッションコントローラー数",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cherry_controllers_evicted_total",
			Help: "アイドルにより停止したセッションコントローラーの合計数",
		}),
	}

	reg.MustRegister(
		c.transitions,
		c.configFetches,
		c.configLatency,
		c.identityCalls,
		c.activeControllers,
		c.evicted,
	)

	return c
}

// RecordTransition はセッション状態遷移を記録する。
func (c *Collector) RecordTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

// RecordAuthConfigFetch は認証設定取得の結果とレイテンシを記録する。
func (c *Collector) RecordAuthConfigFetch(err error, duration time.Duration) {
	c.configFetches.WithLabelValues(result(err)).Inc()
	c.configLatency.Observe(duration.Seconds())
}

// RecordIdentityCall はIdPクライアント呼び出しを記録する。
func (c *Collector) RecordIdentityCall(op string, err error) {
	c.identityCalls.WithLabelValues(op, result(err)).Inc()
}

// SetActiveControllers は稼働中のコントローラー数を設定する。
func (c *Collector) SetActiveControllers(n int) {
	c.activeControllers.Set(float64(n))
}

// RecordControllersEvicted は停止したコントローラー数を加算する。
func (c *Collector) RecordControllersEvicted(n int) {
	c.evicted.Add(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
