// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はポーリングワーカーとAPIから利用するメトリクス記録のインターフェース。
type Recorder interface {
	// RecordCycle はポーリング1サイクルの結果と所要時間を記録する。
	RecordCycle(outcome string, duration time.Duration)
	// RecordFetchStatus はフェッチ失敗時のHTTPステータスを記録する。0は通信エラー。
	RecordFetchStatus(statusCode int)
	// RecordEntriesAppended は新規に保存したエントリ数を記録する。
	RecordEntriesAppended(count int)
	// RecordFeedFailed はフィードが失敗状態に遷移したことを記録する。
	RecordFeedFailed()
	// RecordForceUpdate は強制更新の要求結果を記録する。
	RecordForceUpdate(requested bool)
	// RecordLeaseLost はリース失効によりサイクル結果を反映できなかったことを記録する。
	RecordLeaseLost()
}

// Collector はPrometheusメトリクスを収集するRecorderの実装。
type Collector struct {
	cycles          *prometheus.CounterVec
	cycleLatency    prometheus.Histogram
	fetchStatus     *prometheus.CounterVec
	entriesAppended prometheus.Counter
	feedsFailed     prometheus.Counter
	forceUpdates    *prometheus.CounterVec
	leaseLost       prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedpoller_poll_cycles_total",
			Help: "結果別のポーリングサイクル数",
		}, []string{"outcome"}),
		cycleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedpoller_poll_cycle_duration_seconds",
			Help:    "ポーリング1サイクル（フェッチと保存）の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		fetchStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedpoller_fetch_failures_total",
			Help: "HTTPステータス別のフェッチ失敗数（0は通信エラー）",
		}, []string{"status_code"}),
		entriesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedpoller_entries_appended_total",
			Help: "新規に保存したエントリの合計数",
		}),
		feedsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedpoller_feeds_marked_failed_total",
			Help: "失敗状態に遷移したフィードの合計数",
		}),
		forceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedpoller_force_updates_total",
			Help: "強制更新の要求数（requested=trueは失敗状態から復帰したもの）",
		}, []string{"requested"}),
		leaseLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedpoller_task_lease_lost_total",
			Help: "リース失効により結果を反映できなかったサイクル数",
		}),
	}

	reg.MustRegister(
		c.cycles,
		c.cycleLatency,
		c.fetchStatus,
		c.entriesAppended,
		c.feedsFailed,
		c.forceUpdates,
		c.leaseLost,
	)

	return c
}

// RecordCycle はポーリング1サイクルの結果と所要時間を記録する。
func (c *Collector) RecordCycle(outcome string, duration time.Duration) {
	c.cycles.WithLabelValues(outcome).Inc()
	c.cycleLatency.Observe(duration.Seconds())
}

// RecordFetchStatus はフェッチ失敗時のHTTPステータスを記録する。
func (c *Collector) RecordFetchStatus(statusCode int) {
	c.fetchStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordEntriesAppended は新規に保存したエントリ数を記録する。
func (c *Collector) RecordEntriesAppended(count int) {
	c.entriesAppended.Add(float64(count))
}

// RecordFeedFailed はフィードが失敗状態に遷移したことを記録する。
func (c *Collector) RecordFeedFailed() {
	c.feedsFailed.Inc()
}

// RecordForceUpdate は強制更新の要求結果を記録する。
func (c *Collector) RecordForceUpdate(requested bool) {
	c.forceUpdates.WithLabelValues(strconv.FormatBool(requested)).Inc()
}

// RecordLeaseLost はリース失効を記録する。
func (c *Collector) RecordLeaseLost() {
	c.leaseLost.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ Recorder = (*Collector)(nil)
