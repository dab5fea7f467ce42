// Package metrics exposes prometheus collectors for committed engine events,
// settlements, payouts and HTTP traffic on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/javajoker/imi-market/internal/marketplace"
	"github.com/javajoker/imi-market/internal/store"
)

const namespace = "imi_market"

type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	volume        *prometheus.CounterVec
	royalties     prometheus.Counter
	payouts       *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed engine events by type.",
		}, []string{"type"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settled payments by source and sale kind.",
		}, []string{"source", "kind"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settled_volume_base_units_total",
			Help:      "Gross settled amount in ledger base units, by sale kind.",
		}, []string{"kind"}),
		royalties: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "royalties_base_units_total",
			Help:      "Royalty credited in ledger base units.",
		}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Payout attempts by executor and outcome.",
		}, []string{"executor", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}),
		prometheus.NewGoCollector(),
		m.events, m.settlements, m.volume, m.royalties, m.payouts, m.httpRequests, m.httpDurations,
	)
	return m
}

// ObserveCommit is an engine commit hook.
func (m *Metrics) ObserveCommit(_ string, events []store.Event) {
	for _, ev := range events {
		m.events.WithLabelValues(ev.Type).Inc()
		s, ok := ev.Payload.(marketplace.Settlement)
		if !ok {
			continue
		}
		m.settlements.WithLabelValues(string(s.Source), string(s.Kind)).Inc()
		gross, _ := s.Price.Float64()
		m.volume.WithLabelValues(string(s.Kind)).Add(gross)
		royalty, _ := s.Distribution.Royalty.Float64()
		m.royalties.Add(royalty)
	}
}

func (m *Metrics) ObservePayout(executor, status string) {
	m.payouts.WithLabelValues(executor, status).Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDurations.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
