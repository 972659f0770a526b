package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec

	// Mirror (secondary store)
	MirrorWriteFailures prometheus.Counter
	MirrorQueueDepth    prometheus.Gauge
	MirrorRetryResults  *prometheus.CounterVec

	// Completion upstream
	CompletionDuration *prometheus.HistogramVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "convohub",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "convohub",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "convohub",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		MirrorWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "convohub",
				Subsystem: "mirror",
				Name:      "write_failures_total",
				Help:      "Secondary-store writes that failed during registration. The registration itself still succeeded.",
			},
		),
		MirrorQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "convohub",
				Subsystem: "mirror",
				Name:      "retry_queue_depth",
				Help:      "Pending mirror writes awaiting reconciliation.",
			},
		),
		MirrorRetryResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "convohub",
				Subsystem: "mirror",
				Name:      "retry_results_total",
				Help:      "Reconciler outcomes.",
			},
			[]string{"result"}, // result=done|retry|dropped
		),
		CompletionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "convohub",
				Subsystem: "completion",
				Name:      "request_duration_seconds",
				Help:      "Latency of calls to the external completion service.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"status"}, // status=ok|error
		),
	}
	reg.MustRegister(
		p.RequestsTotal,
		p.RequestsDuration,
		p.InFlight,
		p.MirrorWriteFailures,
		p.MirrorQueueDepth,
		p.MirrorRetryResults,
		p.CompletionDuration,
	)

	return p
}

// ObserveCompletion records the latency of one upstream completion call.
func (p *Prom) ObserveCompletion(seconds float64, status string) {
	p.CompletionDuration.WithLabelValues(status).Observe(seconds)
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
