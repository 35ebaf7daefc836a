// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

var (
	crawlerPagesDispatchedTotal   *prometheus.CounterVec
	crawlerPageOutcomesTotal      *prometheus.CounterVec
	crawlerLinksRejectedTotal     *prometheus.CounterVec
	crawlerRunsTotal              *prometheus.CounterVec
	crawlerRunRecords             prometheus.Histogram
	crawlerActiveRuns             prometheus.Gauge
	crawlerDeliveriesTotal        *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesDispatchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_dispatched_total",
				Help: "Total number of fetch attempts dispatched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerPageOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_page_outcomes_total",
				Help: "Total number of fetch outcomes, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerLinksRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_links_rejected_total",
				Help: "Total number of URLs refused by the frontier, labeled by site and reason.",
			},
			[]string{"site", "reason"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total number of domain runs, labeled by final status.",
			},
			[]string{"status"},
		)

		crawlerRunRecords = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_run_records",
				Help:    "Histogram of records collected per domain run.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 300},
			},
		)

		crawlerActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_runs",
				Help: "Number of domain runs currently crawling.",
			},
		)

		crawlerDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_deliveries_total",
				Help: "Total number of result deliveries, labeled by sink scheme and status.",
			},
			[]string{"sink", "status"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRun records the final status of a run.
func ObserveRun(status crawler.RunStatus) {
	Init()
	crawlerRunsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveDelivery records one delivery attempt against a sink scheme.
func ObserveDelivery(sink string, err error) {
	Init()
	status := "success"
	if err != nil {
		status = "error"
	}
	if sink == "" {
		sink = "none"
	}
	crawlerDeliveriesTotal.WithLabelValues(sink, status).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	crawlerActiveRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	crawlerActiveRuns.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// Recorder forwards crawl lifecycle signals to the collectors.
type Recorder struct{}

var _ crawler.Observer = Recorder{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// PageDispatched implements crawler.Observer.
func (Recorder) PageDispatched(domain string) {
	crawlerPagesDispatchedTotal.WithLabelValues(SanitizeSite(domain)).Inc()
}

// PageOutcome implements crawler.Observer.
func (Recorder) PageOutcome(domain string, kind crawler.OutcomeKind) {
	crawlerPageOutcomesTotal.WithLabelValues(SanitizeSite(domain), kind.String()).Inc()
}

// LinkRejected implements crawler.Observer.
func (Recorder) LinkRejected(domain string, reason crawler.Admission) {
	crawlerLinksRejectedTotal.WithLabelValues(SanitizeSite(domain), reason.String()).Inc()
}

// RunFinished implements crawler.Observer.
func (Recorder) RunFinished(_ string, _ crawler.StopReason, records int) {
	crawlerRunRecords.Observe(float64(records))
}
