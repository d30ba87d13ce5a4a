package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds the Prometheus collectors for forwarding activity
type Collectors struct {
	submissions    *prometheus.CounterVec
	sends          *prometheus.CounterVec
	sendLatency    prometheus.Histogram
	pending        prometheus.Gauge
	transportReady prometheus.Gauge
	eventsDropped  prometheus.Counter
	ingested       *prometheus.CounterVec
}

// NewCollectors registers the forwarding collectors with reg
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsrelay_submissions_total",
			Help: "Messages handed to the forwarding engine, by outcome",
		}, []string{"outcome"}),
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsrelay_destination_sends_total",
			Help: "Per-destination send attempts, by result",
		}, []string{"result"}),
		sendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whatsrelay_send_duration_seconds",
			Help:    "Latency of a single destination send",
			Buckets: prometheus.DefBuckets,
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whatsrelay_pending_messages",
			Help: "Messages waiting for the transport to become ready",
		}),
		transportReady: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whatsrelay_transport_ready",
			Help: "1 when the WhatsApp session is ready",
		}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "whatsrelay_events_dropped_total",
			Help: "Notifications dropped because a subscriber was too slow",
		}),
		ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsrelay_ingested_messages_total",
			Help: "Messages received from ingestion sources, by source and status",
		}, []string{"source", "status"}),
	}
}

// NewPrometheusHandler serves the given gatherer in the Prometheus text format
func NewPrometheusHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (c *Collectors) ObserveSubmission(outcome string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(outcome).Inc()
}

func (c *Collectors) ObserveSend(success bool, d time.Duration) {
	if c == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	c.sends.WithLabelValues(result).Inc()
	c.sendLatency.Observe(d.Seconds())
}

func (c *Collectors) SetPending(n int) {
	if c == nil {
		return
	}
	c.pending.Set(float64(n))
}

func (c *Collectors) SetTransportReady(ready bool) {
	if c == nil {
		return
	}
	if ready {
		c.transportReady.Set(1)
		return
	}
	c.transportReady.Set(0)
}

func (c *Collectors) IncEventsDropped() {
	if c == nil {
		return
	}
	c.eventsDropped.Inc()
}

func (c *Collectors) ObserveIngest(source, status string) {
	if c == nil {
		return
	}
	c.ingested.WithLabelValues(source, status).Inc()
}
