package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// Metrics groups the collectors stash exports. A nil *Metrics is valid and
// records nothing, which keeps handlers free of enabled checks.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UploadsTotal    *prometheus.CounterVec
	UploadBytes     prometheus.Counter
	EventsAppended  prometheus.Counter
	ProjectsCreated prometheus.Counter
}

// New registers all collectors on a fresh registry, so tests can create as
// many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stash",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stash",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stash",
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome",
		}, []string{"result"}),
		UploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stash",
			Name:      "upload_bytes_total",
			Help:      "Bytes written for successful uploads",
		}),
		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stash",
			Name:      "events_appended_total",
			Help:      "Event records appended across all projects",
		}),
		ProjectsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stash",
			Name:      "projects_created_total",
			Help:      "Projects created",
		}),
	}
}

// Upload outcomes used as the result label.
const (
	UploadStored       = "stored"
	UploadNoFile       = "no_file"
	UploadTooLarge     = "too_large"
	UploadUnauthorized = "unauthorized"
	UploadFailed       = "failed"
)

func (m *Metrics) RecordUpload(result string, bytes int64) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.UploadBytes.Add(float64(bytes))
	}
}

func (m *Metrics) RecordEvent() {
	if m == nil {
		return
	}
	m.EventsAppended.Inc()
}

func (m *Metrics) RecordProjectCreated() {
	if m == nil {
		return
	}
	m.ProjectsCreated.Inc()
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		m.RequestsTotal.With(labels).Inc()
		m.RequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
