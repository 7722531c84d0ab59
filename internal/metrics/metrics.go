// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 採用結果のラベル値
const (
	OutcomeSuccess           = "success"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeAlreadyRecruited  = "already_recruited"
	OutcomeError             = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ワーカー、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordRecruit(outcome string)
	RecordUnsubscribe()
	RecordDeleteBlocked()
	RecordChat(fallback bool)
	RecordGatewayLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	recruits       *prometheus.CounterVec
	unsubscribes   prometheus.Counter
	deleteBlocked  prometheus.Counter
	chats          *prometheus.CounterVec
	gatewayLatency prometheus.Histogram
	httpStatus     *prometheus.CounterVec
	sessionCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		recruits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companionhub_recruit_total",
			Help: "結果別のコンパニオン採用試行数",
		}, []string{"outcome"}),
		unsubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companionhub_unsubscribe_total",
			Help: "購読解除の合計数",
		}),
		deleteBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companionhub_delete_blocked_total",
			Help: "アクティブな購読者がいるため拒否された削除の合計数",
		}),
		chats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companionhub_chat_total",
			Help: "チャット応答数（fallback=trueはLLM呼び出し失敗）",
		}, []string{"fallback"}),
		gatewayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "companionhub_gateway_latency_seconds",
			Help:    "会話ゲートウェイのLLM呼び出しレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companionhub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companionhub_sessions_cleaned_total",
			Help: "期限切れで削除されたセッション数",
		}),
	}

	reg.MustRegister(
		c.recruits,
		c.unsubscribes,
		c.deleteBlocked,
		c.chats,
		c.gatewayLatency,
		c.httpStatus,
		c.sessionCleaned,
	)

	return c
}

func (c *Collector) RecordRecruit(outcome string) {
	c.recruits.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordUnsubscribe() {
	c.unsubscribes.Inc()
}

func (c *Collector) RecordDeleteBlocked() {
	c.deleteBlocked.Inc()
}

func (c *Collector) RecordChat(fallback bool) {
	c.chats.WithLabelValues(strconv.FormatBool(fallback)).Inc()
}

func (c *Collector) RecordGatewayLatency(duration time.Duration) {
	c.gatewayLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionCleaned.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordRecruit(string)               {}
func (Nop) RecordUnsubscribe()                 {}
func (Nop) RecordDeleteBlocked()               {}
func (Nop) RecordChat(bool)                    {}
func (Nop) RecordGatewayLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordSessionsCleaned(int64)        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
