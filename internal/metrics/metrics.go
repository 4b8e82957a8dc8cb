// Package metrics exposes Prometheus collectors for the scraper service.
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
	scraperJobsTotal           *prometheus.CounterVec
	scraperJobDurationSeconds  *prometheus.HistogramVec
	captchaAttemptsTotal       *prometheus.CounterVec
	smsActivationsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	scraperActiveBatches       prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of scrape jobs processed, labeled by portal and outcome.",
			},
			[]string{"job_type", "outcome"},
		)

		scraperJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_job_duration_seconds",
				Help:    "Histogram of scrape job durations, labeled by portal.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"job_type"},
		)

		captchaAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_captcha_attempts_total",
				Help: "Total captcha solve attempts, labeled by method and outcome.",
			},
			[]string{"method", "outcome"},
		)

		smsActivationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_sms_activations_total",
				Help: "Total virtual number activations, labeled by outcome.",
			},
			[]string{"outcome"},
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

		scraperActiveBatches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_batches",
				Help: "Number of worker batches currently executing.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a finished job with its duration. A no-op before Init,
// so library callers stay testable without registering collectors.
func ObserveJob(jobType, outcome string, duration time.Duration) {
	if scraperJobsTotal == nil {
		return
	}
	scraperJobsTotal.WithLabelValues(jobType, outcome).Inc()
	scraperJobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

// ObserveCaptchaAttempt records one solve attempt by one method.
func ObserveCaptchaAttempt(method, outcome string) {
	if captchaAttemptsTotal == nil {
		return
	}
	captchaAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveSMSActivation records one virtual number rental outcome.
func ObserveSMSActivation(outcome string) {
	if smsActivationsTotal == nil {
		return
	}
	smsActivationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveBatches increments the active batches gauge.
func IncActiveBatches() {
	if scraperActiveBatches == nil {
		return
	}
	scraperActiveBatches.Inc()
}

// DecActiveBatches decrements the active batches gauge.
func DecActiveBatches() {
	if scraperActiveBatches == nil {
		return
	}
	scraperActiveBatches.Dec()
}
