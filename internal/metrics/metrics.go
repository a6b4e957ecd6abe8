// Package metrics exposes Prometheus collectors for the disclosure monitor.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	listPagesTotal             *prometheus.CounterVec
	detailFetchesTotal         *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	disclosuresTotal           *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	pageDecisionsTotal         *prometheus.CounterVec
	crawlBlocksTotal           prometheus.Counter
	crawlCursor                *prometheus.GaugeVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		listPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disclosure_list_pages_total",
				Help: "Total number of list pages requested, labeled by market and outcome.",
			},
			[]string{"market", "outcome"},
		)

		detailFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disclosure_detail_fetches_total",
				Help: "Total number of detail pages processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disclosure_fetch_retries_total",
				Help: "Total number of archive request retries, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		disclosuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disclosure_records_total",
				Help: "Total number of disclosure writes, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disclosure_alerts_total",
				Help: "Total number of keyword alerts created, labeled by source.",
			},
			[]string{"source"},
		)

		pageDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disclosure_page_decisions_total",
				Help: "Total number of page advance decisions, labeled by decision.",
			},
			[]string{"decision"},
		)

		crawlBlocksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "disclosure_crawl_blocks_total",
				Help: "Total number of runs stopped by the archive's block page.",
			},
		)

		crawlCursor = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "disclosure_crawl_cursor",
				Help: "Last persisted crawl cursor, one series per field.",
			},
			[]string{"field"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "disclosure_active_workers",
				Help: "Number of detail workers currently fetching.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "disclosure_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveListPage counts a list request outcome.
func ObserveListPage(market, outcome string) {
	Init()
	listPagesTotal.WithLabelValues(market, outcome).Inc()
}

// ObserveDetail counts a detail page outcome.
func ObserveDetail(outcome string) {
	Init()
	detailFetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts a retried archive request.
func ObserveRetry(endpoint string) {
	Init()
	fetchRetriesTotal.WithLabelValues(endpoint).Inc()
}

// ObserveDisclosure counts a disclosure write result.
func ObserveDisclosure(source, result string) {
	Init()
	disclosuresTotal.WithLabelValues(source, result).Inc()
}

// ObserveAlerts adds newly created alerts.
func ObserveAlerts(source string, n int) {
	if n <= 0 {
		return
	}
	Init()
	alertsTotal.WithLabelValues(source).Add(float64(n))
}

// ObservePageDecision counts an advance or retry decision.
func ObservePageDecision(advanced bool) {
	Init()
	decision := "retry"
	if advanced {
		decision = "advance"
	}
	pageDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveBlock counts a run stopped by a block page.
func ObserveBlock() {
	Init()
	crawlBlocksTotal.Inc()
}

// SetCursor publishes the persisted cursor position.
func SetCursor(year, month, marketIndex, page int) {
	Init()
	crawlCursor.WithLabelValues("year").Set(float64(year))
	crawlCursor.WithLabelValues("month").Set(float64(month))
	crawlCursor.WithLabelValues("market_index").Set(float64(marketIndex))
	crawlCursor.WithLabelValues("page").Set(float64(page))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
