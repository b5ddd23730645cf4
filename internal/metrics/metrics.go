// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 既読判定の結果ラベル
const (
	ReadDecisionImmediate = "immediate"
	ReadDecisionUnread    = "unread"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲートウェイとチャットリレーから利用する。
type MetricsCollector interface {
	ConnectionOpened()
	ConnectionClosed()
	SetOnlineUsers(count int)
	RecordEvent(event string)
	RecordOperationError(code string)
	RecordMessageSent()
	RecordReadDecision(decision string)
	RecordEventLatency(event string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	connections   prometheus.Gauge
	onlineUsers   prometheus.Gauge
	events        *prometheus.CounterVec
	opErrors      *prometheus.CounterVec
	messagesSent  prometheus.Counter
	readDecisions *prometheus.CounterVec
	eventLatency  *prometheus.HistogramVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daochat_ws_connections",
			Help: "接続中のWebSocket数",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daochat_online_users",
			Help: "1つ以上の接続を持つユーザー数",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daochat_inbound_events_total",
			Help: "受信イベント数（イベント名別）",
		}, []string{"event"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daochat_operation_errors_total",
			Help: "operation-errorの送信数（コード別）",
		}, []string{"code"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "daochat_messages_sent_total",
			Help: "永続化されたメッセージの合計数",
		}),
		readDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daochat_read_decisions_total",
			Help: "送信時の既読判定（immediate/unread）",
		}, []string{"decision"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "daochat_event_handler_seconds",
			Help:    "イベントハンドラの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
	}

	reg.MustRegister(
		c.connections,
		c.onlineUsers,
		c.events,
		c.opErrors,
		c.messagesSent,
		c.readDecisions,
		c.eventLatency,
	)

	return c
}

// ConnectionOpened は接続数を1増やす。
func (c *Collector) ConnectionOpened() {
	c.connections.Inc()
}

// ConnectionClosed は接続数を1減らす。
func (c *Collector) ConnectionClosed() {
	c.connections.Dec()
}

// SetOnlineUsers はオンラインユーザー数を設定する。
func (c *Collector) SetOnlineUsers(count int) {
	c.onlineUsers.Set(float64(count))
}

// RecordEvent は受信イベントを記録する。
func (c *Collector) RecordEvent(event string) {
	c.events.WithLabelValues(event).Inc()
}

// RecordOperationError はoperation-errorの送信を記録する。
func (c *Collector) RecordOperationError(code string) {
	c.opErrors.WithLabelValues(code).Inc()
}

// RecordMessageSent はメッセージ永続化を記録する。
func (c *Collector) RecordMessageSent() {
	c.messagesSent.Inc()
}

// RecordReadDecision は送信時の既読判定を記録する。
func (c *Collector) RecordReadDecision(decision string) {
	c.readDecisions.WithLabelValues(decision).Inc()
}

// RecordEventLatency はイベントハンドラの処理時間を記録する。
func (c *Collector) RecordEventLatency(event string, duration time.Duration) {
	c.eventLatency.WithLabelValues(event).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) ConnectionOpened()                        {}
func (Nop) ConnectionClosed()                        {}
func (Nop) SetOnlineUsers(int)                       {}
func (Nop) RecordEvent(string)                       {}
func (Nop) RecordOperationError(string)              {}
func (Nop) RecordMessageSent()                       {}
func (Nop) RecordReadDecision(string)                {}
func (Nop) RecordEventLatency(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
