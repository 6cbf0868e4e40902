package metrics

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/allaspectsdev/forkline/internal/pipeline"
	"github.com/allaspectsdev/forkline/internal/stage"
)

const namespace = "forkline"

// Collector tracks live request metrics. Counters feed both a private
// Prometheus registry and lock-free atomics used for the JSON stats view.
type Collector struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	active        prometheus.Gauge
	cacheLookups  *prometheus.CounterVec

	totalRequests  int64
	totalErrors    int64
	clientErrors   int64
	serverErrors   int64
	cacheHits      int64
	cacheMisses    int64
	activeRequests int64
	totalLatencyNs int64

	startTime time.Time
}

// Compile-time assertion that Collector can time pipeline stages.
var _ stage.Observer = (*Collector)(nil)

// Stats is a point-in-time snapshot of the collector's counters.
type Stats struct {
	Uptime         string  `json:"uptime"`
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ClientErrors   int64   `json:"client_errors"`
	ServerErrors   int64   `json:"server_errors"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	ActiveRequests int64   `json:"active_requests"`
}

// NewCollector creates a Collector with its own registry, including the Go
// runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests served, by status code.",
		}, []string{"code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent running the pipeline for a request.",
			Buckets:   prometheus.DefBuckets,
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "middleware_duration_seconds",
			Help:      "Per-middleware execution time, including everything it called.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"middleware"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of pipeline errors, by kind.",
		}, []string{"kind"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of requests currently being processed.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups, by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.requests,
		c.duration,
		c.stageDuration,
		c.errors,
		c.active,
		c.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the service started.",
		}, func() float64 { return time.Since(c.startTime).Seconds() }),
	)
	return c
}

// Registry returns the collector's Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncrementActive marks a request as entering the pipeline.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeRequests, 1)
	c.active.Inc()
}

// DecrementActive marks a request as leaving the pipeline, whatever the
// outcome.
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeRequests, -1)
	c.active.Dec()
}

// Record updates the counters from a completed request.
func (c *Collector) Record(resp *pipeline.Response, elapsed time.Duration) {
	atomic.AddInt64(&c.totalRequests, 1)
	atomic.AddInt64(&c.totalLatencyNs, int64(elapsed))
	c.duration.Observe(elapsed.Seconds())

	status := resp.StatusCode
	c.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	switch {
	case status >= 500:
		atomic.AddInt64(&c.serverErrors, 1)
	case status >= 400:
		atomic.AddInt64(&c.clientErrors, 1)
	}

	switch resp.Header.Get(stage.CacheHeader) {
	case "HIT":
		atomic.AddInt64(&c.cacheHits, 1)
		c.cacheLookups.WithLabelValues("hit").Inc()
	case "MISS":
		atomic.AddInt64(&c.cacheMisses, 1)
		c.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordError counts a request that ended in a pipeline error.
func (c *Collector) RecordError(err error, elapsed time.Duration) {
	atomic.AddInt64(&c.totalRequests, 1)
	atomic.AddInt64(&c.totalErrors, 1)
	atomic.AddInt64(&c.totalLatencyNs, int64(elapsed))
	c.duration.Observe(elapsed.Seconds())
	c.errors.WithLabelValues(ErrorKind(err)).Inc()
}

// ObserveStage implements stage.Observer.
func (c *Collector) ObserveStage(name string, d time.Duration, err error) {
	c.stageDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ErrorKind classifies a pipeline error for the errors_total label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrNoHandler):
		return "no_handler"
	case errors.Is(err, pipeline.ErrNextReused):
		return "next_reused"
	case errors.Is(err, stage.ErrPanic):
		return "panic"
	default:
		return "handler"
	}
}

// Stats returns a point-in-time snapshot of all counters.
func (c *Collector) Stats() *Stats {
	total := atomic.LoadInt64(&c.totalRequests)
	hits := atomic.LoadInt64(&c.cacheHits)
	misses := atomic.LoadInt64(&c.cacheMisses)

	var hitRate float64
	if lookups := hits + misses; lookups > 0 {
		hitRate = float64(hits) / float64(lookups) * 100
	}

	var avgMs float64
	if total > 0 {
		avgMs = float64(atomic.LoadInt64(&c.totalLatencyNs)) / float64(total) / float64(time.Millisecond)
	}

	return &Stats{
		Uptime:         formatDuration(time.Since(c.startTime)),
		TotalRequests:  total,
		TotalErrors:    atomic.LoadInt64(&c.totalErrors),
		ClientErrors:   atomic.LoadInt64(&c.clientErrors),
		ServerErrors:   atomic.LoadInt64(&c.serverErrors),
		AvgLatencyMs:   avgMs,
		CacheHitRate:   hitRate,
		CacheHits:      hits,
		CacheMisses:    misses,
		ActiveRequests: atomic.LoadInt64(&c.activeRequests),
	}
}

// formatDuration produces a compact duration string like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, strconv.Itoa(days)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.Itoa(hours)+"h")
	}
	if minutes > 0 {
		parts = append(parts, strconv.Itoa(minutes)+"m")
	}
	if len(parts) == 0 {
		return "0m"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}
