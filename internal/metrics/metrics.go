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
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordSignIn(outcome string)
	RecordCheckIn(outcome string)
	RecordCodeRotation(kind string)
	RecordSubmission()
	RecordReview(decision string)
	RecordHTTPStatus(statusCode int)
	RecordCounterDrift(counter string, count int)
	RecordSessionsPurged(count int64)
	RecordJobLatency(job string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIns        *prometheus.CounterVec
	checkIns       *prometheus.CounterVec
	codeRotations  *prometheus.CounterVec
	submissions    prometheus.Counter
	reviews        *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	counterDrift   *prometheus.CounterVec
	sessionsPurged prometheus.Counter
	jobLatency     *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterhub_signin_total",
			Help: "結果別のサインイン試行数",
		}, []string{"outcome"}),
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterhub_checkin_total",
			Help: "結果別のコードチェックイン試行数",
		}, []string{"outcome"}),
		codeRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterhub_checkin_code_rotations_total",
			Help: "発行されたチェックインコードの数",
		}, []string{"kind"}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chapterhub_service_submissions_total",
			Help: "作成された奉仕時間申請の合計数",
		}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterhub_service_reviews_total",
			Help: "判定別の奉仕時間審査数",
		}, []string{"decision"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterhub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		counterDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapterhub_counter_drift_total",
			Help: "整合性修復ジョブが検出・修正した集計キャッシュのずれ",
		}, []string{"counter"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chapterhub_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chapterhub_job_duration_seconds",
			Help:    "バックグラウンドジョブの実行時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}

	reg.MustRegister(
		c.signIns,
		c.checkIns,
		c.codeRotations,
		c.submissions,
		c.reviews,
		c.httpStatus,
		c.counterDrift,
		c.sessionsPurged,
		c.jobLatency,
	)

	return c
}

// RecordSignIn はサインイン試行の結果を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIns.WithLabelValues(outcome).Inc()
}

// RecordCheckIn はコードチェックイン試行の結果を記録する。
func (c *Collector) RecordCheckIn(outcome string) {
	c.checkIns.WithLabelValues(outcome).Inc()
}

// RecordCodeRotation はコード発行を記録する。kindはopenまたはrefresh。
func (c *Collector) RecordCodeRotation(kind string) {
	c.codeRotations.WithLabelValues(kind).Inc()
}

// RecordSubmission は申請の作成を記録する。
func (c *Collector) RecordSubmission() {
	c.submissions.Inc()
}

// RecordReview は審査判定を記録する。
func (c *Collector) RecordReview(decision string) {
	c.reviews.WithLabelValues(decision).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCounterDrift は修正した集計キャッシュの件数を記録する。
func (c *Collector) RecordCounterDrift(counter string, count int) {
	c.counterDrift.WithLabelValues(counter).Add(float64(count))
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// RecordJobLatency はジョブの実行時間を記録する。
func (c *Collector) RecordJobLatency(job string, duration time.Duration) {
	c.jobLatency.WithLabelValues(job).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordSignIn(string)                    {}
func (Nop) RecordCheckIn(string)                   {}
func (Nop) RecordCodeRotation(string)              {}
func (Nop) RecordSubmission()                      {}
func (Nop) RecordReview(string)                    {}
func (Nop) RecordHTTPStatus(int)                   {}
func (Nop) RecordCounterDrift(string, int)         {}
func (Nop) RecordSessionsPurged(int64)             {}
func (Nop) RecordJobLatency(string, time.Duration) {}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
