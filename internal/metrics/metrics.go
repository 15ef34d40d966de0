// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証フローの結果ラベル。
const (
	OutcomeEligible        = "eligible"
	OutcomeIneligible      = "ineligible"
	OutcomeDenied          = "denied"
	OutcomeTokenExchange   = "token_exchange_failed"
	OutcomeProfileFetch    = "profile_fetch_failed"
	OutcomeSessionFailure  = "session_error"
	AllowlistOpExists      = "exists"
	AllowlistOpAppend      = "append"
	AllowlistResultOK      = "ok"
	AllowlistResultSkipped = "skipped"
	AllowlistResultError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordAuthOutcome(outcome string)
	RecordAllowlistOp(op, result string)
	RecordHTTPStatus(statusCode int)
	RecordOAuthLatency(step string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authOutcome  *prometheus.CounterVec
	allowlistOps *prometheus.CounterVec
	httpStatus   *prometheus.CounterVec
	oauthLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotgate_auth_outcome_total",
			Help: "認証コールバックの結果別件数",
		}, []string{"outcome"}),
		allowlistOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotgate_allowlist_ops_total",
			Help: "許可リスト操作の件数",
		}, []string{"op", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		oauthLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ballotgate_oauth_latency_seconds",
			Help:    "Reddit OAuth呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
	}

	reg.MustRegister(
		c.authOutcome,
		c.allowlistOps,
		c.httpStatus,
		c.oauthLatency,
	)

	return c
}

// RecordAuthOutcome は認証フローの結果を記録する。
func (c *Collector) RecordAuthOutcome(outcome string) {
	c.authOutcome.WithLabelValues(outcome).Inc()
}

// RecordAllowlistOp は許可リスト操作の結果を記録する。
func (c *Collector) RecordAllowlistOp(op, result string) {
	c.allowlistOps.WithLabelValues(op, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordOAuthLatency はOAuthの各ステップのレイテンシを記録する。
func (c *Collector) RecordOAuthLatency(step string, duration time.Duration) {
	c.oauthLatency.WithLabelValues(step).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordAuthOutcome(string)                 {}
func (Nop) RecordAllowlistOp(string, string)         {}
func (Nop) RecordHTTPStatus(int)                     {}
func (Nop) RecordOAuthLatency(string, time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
