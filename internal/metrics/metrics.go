// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 上流クライアント、ハンドラー、ワーカーから利用する。
type MetricsCollector interface {
	RecordUpstreamAttempt(strategy, outcome string)
	RecordUpstreamLatency(strategy string, duration time.Duration)
	RecordUpstreamStatus(statusCode int)
	RecordBreakerState(name string, state float64)
	RecordBreakerTransition(name, from, to string)
	RecordDegradation(route, source string)
	RecordSnapshotsDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upstreamAttempts  *prometheus.CounterVec
	upstreamLatency   *prometheus.HistogramVec
	upstreamStatus    *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	breakerTransition *prometheus.CounterVec
	degradations      *prometheus.CounterVec
	snapshotsDeleted  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smap_upstream_attempts_total",
			Help: "上流呼び出しの試行数（戦略・結果別）",
		}, []string{"strategy", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smap_upstream_latency_seconds",
			Help:    "上流呼び出し1試行あたりのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smap_upstream_status_total",
			Help: "上流のHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smap_circuit_breaker_state",
			Help: "サーキットブレーカーの状態（0=closed, 1=half-open, 2=open）",
		}, []string{"name"}),
		breakerTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smap_circuit_breaker_transitions_total",
			Help: "サーキットブレーカーの状態遷移数",
		}, []string{"name", "from", "to"}),
		degradations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smap_degraded_responses_total",
			Help: "代替データで応答した数（ルート・データ元別）",
		}, []string{"route", "source"}),
		snapshotsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smap_snapshots_deleted_total",
			Help: "期限切れで削除されたスナップショットの合計数",
		}),
	}

	reg.MustRegister(
		c.upstreamAttempts,
		c.upstreamLatency,
		c.upstreamStatus,
		c.breakerState,
		c.breakerTransition,
		c.degradations,
		c.snapshotsDeleted,
	)

	return c
}

// RecordUpstreamAttempt は上流呼び出しの1試行を記録する。
func (c *Collector) RecordUpstreamAttempt(strategy, outcome string) {
	c.upstreamAttempts.WithLabelValues(strategy, outcome).Inc()
}

// RecordUpstreamLatency は上流呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(strategy string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordUpstreamStatus は上流のHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordBreakerState はサーキットブレーカーの現在の状態を記録する。
func (c *Collector) RecordBreakerState(name string, state float64) {
	c.breakerState.WithLabelValues(name).Set(state)
}

// RecordBreakerTransition はサーキットブレーカーの状態遷移を記録する。
func (c *Collector) RecordBreakerTransition(name, from, to string) {
	c.breakerTransition.WithLabelValues(name, from, to).Inc()
}

// RecordDegradation は代替データでの応答を記録する。
func (c *Collector) RecordDegradation(route, source string) {
	c.degradations.WithLabelValues(route, source).Inc()
}

// RecordSnapshotsDeleted は削除されたスナップショット数を記録する。
func (c *Collector) RecordSnapshotsDeleted(count int64) {
	c.snapshotsDeleted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。メトリクス不要な経路とテストで使う。
type NopCollector struct{}

func (NopCollector) RecordUpstreamAttempt(string, string)           {}
func (NopCollector) RecordUpstreamLatency(string, time.Duration)    {}
func (NopCollector) RecordUpstreamStatus(int)                       {}
func (NopCollector) RecordBreakerState(string, float64)             {}
func (NopCollector) RecordBreakerTransition(string, string, string) {}
func (NopCollector) RecordDegradation(string, string)               {}
func (NopCollector) RecordSnapshotsDeleted(int64)                   {}
