package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the service's Prometheus registry: HTTP traffic, sync
// events of the roster layer, background jobs and open workspaces.
type Collector struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	rateLimited prometheus.Counter
	syncEvents  *prometheus.CounterVec
	jobRuns     *prometheus.CounterVec
	workspaces  prometheus.Gauge

	totalRequests   uint64
	errorRequests   uint64
	limitedRequests uint64
	totalDurationMs uint64
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		syncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_sync_events_total",
			Help: "Roster synchronization events by source and outcome.",
		}, []string{"source", "outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Background job runs by type and result.",
		}, []string{"job", "result"}),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workspaces_open",
			Help: "Signed-in sessions with a live roster workspace.",
		}),
	}
	c.registry.MustRegister(
		c.requests, c.latency, c.rateLimited, c.syncEvents, c.jobRuns, c.workspaces,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Record observes one finished request. route is the matched pattern.
func (c *Collector) Record(method, route string, status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	if status == http.StatusTooManyRequests {
		atomic.AddUint64(&c.limitedRequests, 1)
		c.rateLimited.Inc()
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))

	if route == "" {
		route = "unmatched"
	}
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.latency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SyncEvent implements roster.Metrics.
func (c *Collector) SyncEvent(source, outcome string) {
	c.syncEvents.WithLabelValues(source, outcome).Inc()
}

func (c *Collector) JobRun(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.jobRuns.WithLabelValues(job, result).Inc()
}

func (c *Collector) WorkspaceOpened() { c.workspaces.Inc() }
func (c *Collector) WorkspaceClosed() { c.workspaces.Dec() }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Snapshot summarizes HTTP traffic for the status endpoint.
func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	limited := atomic.LoadUint64(&c.limitedRequests)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}
	return map[string]any{
		"requestsTotal":    total,
		"errorsTotal":      errs,
		"rateLimitedTotal": limited,
		"avgDurationMs":    avg,
		"totalDurationMs":  totalMs,
	}
}
