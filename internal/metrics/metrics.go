// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// backend.CallRecorder と auth.Recorder を満たす。
type Collector struct {
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	logins         *prometheus.CounterVec
	logouts        *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	cleanedRows    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodie_backend_calls_total",
			Help: "バックエンド呼び出しの合計数",
		}, []string{"method", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moodie_backend_call_duration_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodie_logins_total",
			Help: "ログイン完了処理の結果別件数",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodie_logouts_total",
			Help: "ログアウト処理の結果別件数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodie_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleanedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodie_cleanup_deleted_rows_total",
			Help: "クリーンアップで削除された行数",
		}, []string{"table"}),
	}

	reg.MustRegister(
		c.backendCalls,
		c.backendLatency,
		c.logins,
		c.logouts,
		c.httpStatus,
		c.cleanedRows,
	)

	return c
}

// RecordBackendCall はバックエンド呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordBackendCall(method, outcome string, d time.Duration) {
	c.backendCalls.WithLabelValues(method, outcome).Inc()
	c.backendLatency.WithLabelValues(method).Observe(d.Seconds())
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordLogout はログアウト結果を記録する。
func (c *Collector) RecordLogout(outcome string) {
	c.logouts.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCleanup はクリーンアップで削除した行数を記録する。
func (c *Collector) RecordCleanup(table string, deleted int64) {
	c.cleanedRows.WithLabelValues(table).Add(float64(deleted))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
