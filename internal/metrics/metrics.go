// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RatingMetrics は評価取り込みパイプラインが使用するメトリクス。
type RatingMetrics interface {
	RecordRatingOutcome(state string)
	RecordClassifierFallback(reason string)
	RecordClassifierLatency(duration time.Duration)
}

// AuthMetrics は呼び出し元の解決結果を記録するメトリクス。
type AuthMetrics interface {
	RecordAuthOutcome(channel, outcome string)
}

// HTTPMetrics はHTTPレスポンスのメトリクス。
type HTTPMetrics interface {
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	ratingOutcome      *prometheus.CounterVec
	classifierFallback *prometheus.CounterVec
	classifierLatency  prometheus.Histogram
	authOutcome        *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ratingOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storerating_rating_submissions_total",
			Help: "評価送信の終端状態別の合計数",
		}, []string{"state"}),
		classifierFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storerating_classifier_fallback_total",
			Help: "感情分類がNEUTRALにフォールバックした理由別の合計数",
		}, []string{"reason"}),
		classifierLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storerating_classifier_latency_seconds",
			Help:    "感情分類呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storerating_auth_resolutions_total",
			Help: "呼び出し元解決の経路と結果別の合計数",
		}, []string{"channel", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storerating_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.ratingOutcome,
		c.classifierFallback,
		c.classifierLatency,
		c.authOutcome,
		c.httpStatus,
	)

	return c
}

// RecordRatingOutcome は評価送信の終端状態を記録する。
func (c *Collector) RecordRatingOutcome(state string) {
	c.ratingOutcome.WithLabelValues(state).Inc()
}

// RecordClassifierFallback はフォールバックの理由を記録する。
func (c *Collector) RecordClassifierFallback(reason string) {
	c.classifierFallback.WithLabelValues(reason).Inc()
}

// RecordClassifierLatency は分類呼び出しのレイテンシを記録する。
func (c *Collector) RecordClassifierLatency(duration time.Duration) {
	c.classifierLatency.Observe(duration.Seconds())
}

// RecordAuthOutcome は呼び出し元解決の結果を記録する。
func (c *Collector) RecordAuthOutcome(channel, outcome string) {
	c.authOutcome.WithLabelValues(channel, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないメトリクス実装。
type NopCollector struct{}

func (NopCollector) RecordRatingOutcome(string)            {}
func (NopCollector) RecordClassifierFallback(string)       {}
func (NopCollector) RecordClassifierLatency(time.Duration) {}
func (NopCollector) RecordAuthOutcome(string, string)      {}
func (NopCollector) RecordHTTPStatus(int)                  {}

// compile-time interface check
var (
	_ RatingMetrics = (*Collector)(nil)
	_ AuthMetrics   = (*Collector)(nil)
	_ HTTPMetrics   = (*Collector)(nil)
	_ RatingMetrics = NopCollector{}
	_ AuthMetrics   = NopCollector{}
	_ HTTPMetrics   = NopCollector{}
)
