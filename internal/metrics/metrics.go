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
// 同期パイプライン・アクセス判定・Webhook・購入処理・HTTP層から利用する。
type MetricsCollector interface {
	RecordSyncRun(result string, duration time.Duration)
	RecordNotesUpserted(count int)
	RecordAssetFetchFailure()
	RecordAccessDecision(outcome string)
	RecordWebhookDelivery(event, result string)
	RecordFulfillment(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncRuns          *prometheus.CounterVec
	syncDuration      prometheus.Histogram
	notesUpserted     prometheus.Counter
	assetFetchFail    prometheus.Counter
	accessDecisions   *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
	fulfillments      *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notegate_sync_runs_total",
			Help: "ノート同期の実行回数（結果別）",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notegate_sync_duration_seconds",
			Help:    "ノート同期1回あたりの所要時間（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		notesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notegate_notes_upserted_total",
			Help: "アップサートされたノートの合計数",
		}),
		assetFetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notegate_asset_fetch_fail_total",
			Help: "アセット取得失敗の合計数",
		}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notegate_access_decisions_total",
			Help: "アクセス判定の回数（結果別）",
		}, []string{"outcome"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notegate_webhook_deliveries_total",
			Help: "GitHub Webhookの受信数（イベント・結果別）",
		}, []string{"event", "result"}),
		fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notegate_fulfillments_total",
			Help: "購入処理の回数（結果別）",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notegate_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.syncDuration,
		c.notesUpserted,
		c.assetFetchFail,
		c.accessDecisions,
		c.webhookDeliveries,
		c.fulfillments,
		c.httpStatus,
	)

	return c
}

// RecordSyncRun は同期1回の結果と所要時間を記録する。
func (c *Collector) RecordSyncRun(result string, duration time.Duration) {
	c.syncRuns.WithLabelValues(result).Inc()
	c.syncDuration.Observe(duration.Seconds())
}

// RecordNotesUpserted はアップサートされたノート数を記録する。
func (c *Collector) RecordNotesUpserted(count int) {
	c.notesUpserted.Add(float64(count))
}

// RecordAssetFetchFailure はアセット取得失敗を記録する。
func (c *Collector) RecordAssetFetchFailure() {
	c.assetFetchFail.Inc()
}

// RecordAccessDecision はアクセス判定の結果を記録する。
func (c *Collector) RecordAccessDecision(outcome string) {
	c.accessDecisions.WithLabelValues(outcome).Inc()
}

// RecordWebhookDelivery はWebhookの処理結果を記録する。
func (c *Collector) RecordWebhookDelivery(event, result string) {
	c.webhookDeliveries.WithLabelValues(event, result).Inc()
}

// RecordFulfillment は購入処理の結果を記録する。
func (c *Collector) RecordFulfillment(result string) {
	c.fulfillments.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
