// Package metrics exposes fetch, cache and HTTP instrumentation to Prometheus.
package metrics

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ignite/adinsights/internal/windsor"
)

const namespace = "adinsights"

// Recorder implements windsor.Observer using Prometheus.
type Recorder struct {
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamRetries  *prometheus.CounterVec
	groupsDropped    *prometheus.CounterVec
	dialectRetries   *prometheus.CounterVec
	fetches          *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	fetchChunks      *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	warmRuns         *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New creates a recorder registered with reg. Pass prometheus.DefaultRegisterer
// to expose through promhttp.Handler.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		upstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Connector HTTP requests by platform and status class",
			},
			[]string{"platform", "status"},
		),
		upstreamLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Connector HTTP request duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
			},
			[]string{"platform"},
		),
		upstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_retries_total",
				Help:      "Connector requests replayed after a transport failure",
			},
			[]string{"platform"},
		),
		groupsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "field_groups_dropped_total",
				Help:      "Optional field groups removed after a 400 response",
			},
			[]string{"platform", "group"},
		),
		dialectRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dialect_retries_total",
				Help:      "Requests replayed with snake_case field names",
			},
			[]string{"platform"},
		),
		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Dataset fetches by outcome",
			},
			[]string{"platform", "dataset", "outcome"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "End-to-end dataset fetch duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
			},
			[]string{"platform", "dataset"},
		),
		fetchChunks: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_chunks",
				Help:      "Date chunks per dataset fetch",
				Buckets:   []float64{1, 2, 4, 8, 16, 32},
			},
			[]string{"platform"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "table_cache_lookups_total",
				Help:      "Table cache lookups by result",
			},
			[]string{"platform", "dataset", "result"},
		),
		warmRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warmer_runs_total",
				Help:      "Cache warmer passes by outcome",
			},
			[]string{"outcome"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"route", "method", "class"},
		),
		httpInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests",
			},
		),
	}
}

// RequestDone records one connector HTTP exchange. Transport failures are
// labeled "error".
func (r *Recorder) RequestDone(platform string, status int, elapsed time.Duration, err error) {
	label := "error"
	if err == nil && status > 0 {
		label = statusClass(status)
	}
	r.upstreamRequests.WithLabelValues(platform, label).Inc()
	r.upstreamLatency.WithLabelValues(platform).Observe(elapsed.Seconds())
}

// RequestRetried records a transport retry.
func (r *Recorder) RequestRetried(platform string, _ int, _ error) {
	r.upstreamRetries.WithLabelValues(platform).Inc()
}

// GroupDropped records a schema fallback step.
func (r *Recorder) GroupDropped(platform string, group []string) {
	r.groupsDropped.WithLabelValues(platform, strings.Join(group, ",")).Inc()
}

// DialectRetry records a snake_case replay.
func (r *Recorder) DialectRetry(platform string) {
	r.dialectRetries.WithLabelValues(platform).Inc()
}

// FetchDone records the outcome of a dataset fetch.
func (r *Recorder) FetchDone(s windsor.FetchSummary) {
	r.fetches.WithLabelValues(s.Platform, s.Dataset, Outcome(s.Err)).Inc()
	r.fetchDuration.WithLabelValues(s.Platform, s.Dataset).Observe(s.Duration.Seconds())
	if s.Chunks > 0 {
		r.fetchChunks.WithLabelValues(s.Platform).Observe(float64(s.Chunks))
	}
}

// CacheHit records a table served from cache.
func (r *Recorder) CacheHit(platform, dataset string) {
	r.cacheLookups.WithLabelValues(platform, dataset, "hit").Inc()
}

// CacheMiss records a table that had to be fetched.
func (r *Recorder) CacheMiss(platform, dataset string) {
	r.cacheLookups.WithLabelValues(platform, dataset, "miss").Inc()
}

// WarmDone records one warmer pass.
func (r *Recorder) WarmDone(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.warmRuns.WithLabelValues(outcome).Inc()
}

// Outcome classifies a fetch error into a low-cardinality label.
func Outcome(err error) string {
	var apiErr *windsor.APIError
	switch {
	case err == nil:
		return "ok"
	case windsor.IsTransient(err):
		return "transient"
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == 400 {
			return "schema_rejected"
		}
		return "http_" + strconv.Itoa(apiErr.StatusCode)
	default:
		return "error"
	}
}

func statusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
