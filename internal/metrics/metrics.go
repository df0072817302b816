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
// ワーカーやソース層から利用する。
type MetricsCollector interface {
	RecordAPICall(endpoint string, statusCode int)
	RecordPostFetched(topic string)
	RecordPostSkipped(topic string)
	RecordCommentsFetched(topic string, count int)
	RecordCommentsSkipped(topic string, count int)
	RecordRateSleep(duration time.Duration)
	RecordTaskRestart(task string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiCalls        *prometheus.CounterVec
	postsFetched    *prometheus.CounterVec
	postsSkipped    *prometheus.CounterVec
	commentsFetched *prometheus.CounterVec
	commentsSkipped *prometheus.CounterVec
	rateSleep       prometheus.Histogram
	taskRestarts    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buzztail_api_calls_total",
			Help: "ソースAPI呼び出しの合計数",
		}, []string{"endpoint", "status_code"}),
		postsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buzztail_posts_fetched_total",
			Help: "受理された投稿の合計数",
		}, []string{"topic"}),
		postsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buzztail_posts_skipped_total",
			Help: "スキップされた投稿の合計数",
		}, []string{"topic"}),
		commentsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buzztail_comments_fetched_total",
			Help: "受理されたコメントの合計数",
		}, []string{"topic"}),
		commentsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buzztail_comments_skipped_total",
			Help: "スキップされたコメントの合計数",
		}, []string{"topic"}),
		rateSleep: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "buzztail_rate_sleep_seconds",
			Help:    "レート予算待機の時間（秒）",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		taskRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buzztail_task_restarts_total",
			Help: "パニックから復帰したタスクの再起動数",
		}, []string{"task"}),
	}

	reg.MustRegister(
		c.apiCalls,
		c.postsFetched,
		c.postsSkipped,
		c.commentsFetched,
		c.commentsSkipped,
		c.rateSleep,
		c.taskRestarts,
	)

	return c
}

// RecordAPICall はソースAPIの呼び出しを記録する。
func (c *Collector) RecordAPICall(endpoint string, statusCode int) {
	c.apiCalls.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
}

// RecordPostFetched は投稿の受理を記録する。
func (c *Collector) RecordPostFetched(topic string) {
	c.postsFetched.WithLabelValues(topic).Inc()
}

// RecordPostSkipped は投稿のスキップを記録する。
func (c *Collector) RecordPostSkipped(topic string) {
	c.postsSkipped.WithLabelValues(topic).Inc()
}

// RecordCommentsFetched はコメントの受理を記録する。
func (c *Collector) RecordCommentsFetched(topic string, count int) {
	c.commentsFetched.WithLabelValues(topic).Add(float64(count))
}

// RecordCommentsSkipped はコメントのスキップを記録する。
func (c *Collector) RecordCommentsSkipped(topic string, count int) {
	c.commentsSkipped.WithLabelValues(topic).Add(float64(count))
}

// RecordRateSleep はレート予算待機の時間を記録する。
func (c *Collector) RecordRateSleep(duration time.Duration) {
	c.rateSleep.Observe(duration.Seconds())
}

// RecordTaskRestart はパニック復帰によるタスク再起動を記録する。
func (c *Collector) RecordTaskRestart(task string) {
	c.taskRestarts.WithLabelValues(task).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
