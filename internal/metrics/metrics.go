// Package metrics exports live-update activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/planboard/backend/internal/change"
)

const metricsNamespace = "planboard_live"

// ListenerCounter reports how many listeners a bus holds for a kind.
type ListenerCounter interface {
	ListenerCount(kind change.Kind) int
}

// Collector is a prometheus.Collector that doubles as the live hub's
// Observer and the bus panic hook.
type Collector struct {
	bus ListenerCounter

	activeSessions *prometheus.GaugeVec
	emitted        *prometheus.CounterVec
	closed         *prometheus.CounterVec
	listenerPanics *prometheus.CounterVec
	listenersDesc  *prometheus.Desc
}

// NewCollector returns a Collector. Listener counts are exported once
// TrackListeners has been called.
func NewCollector() *Collector {
	return &Collector{
		activeSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_sessions",
				Help:      "The number of open live sessions.",
			}, []string{"feed"},
		),
		emitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "envelopes_emitted_total",
				Help:      "Envelopes handed to client transports.",
			}, []string{"feed", "type"},
		),
		closed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_closed_total",
				Help:      "Live sessions ended, by reason.",
			}, []string{"feed", "reason"},
		),
		listenerPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "listener_panics_total",
				Help:      "Panics recovered from change bus listeners.",
			}, []string{"kind"},
		),
		listenersDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "listeners"),
			"Listeners registered on the change bus.",
			[]string{"kind"}, nil,
		),
	}
}

// TrackListeners sets the bus whose listener counts are exported. It must
// be called before the collector is registered.
func (c *Collector) TrackListeners(bus ListenerCounter) {
	c.bus = bus
}

func (c *Collector) SessionOpened(feed string) {
	c.activeSessions.WithLabelValues(feed).Inc()
}

func (c *Collector) Emitted(feed string, heartbeat bool) {
	kind := "data"
	if heartbeat {
		kind = "heartbeat"
	}
	c.emitted.WithLabelValues(feed, kind).Inc()
}

func (c *Collector) SessionClosed(feed, reason string) {
	c.activeSessions.WithLabelValues(feed).Dec()
	c.closed.WithLabelValues(feed, reason).Inc()
}

// ListenerPanicked has the signature change.WithPanicHandler expects.
func (c *Collector) ListenerPanicked(kind change.Kind, _ any) {
	c.listenerPanics.WithLabelValues(string(kind)).Inc()
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.activeSessions.Describe(ch)
	c.emitted.Describe(ch)
	c.closed.Describe(ch)
	c.listenerPanics.Describe(ch)
	ch <- c.listenersDesc
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.activeSessions.Collect(ch)
	c.emitted.Collect(ch)
	c.closed.Collect(ch)
	c.listenerPanics.Collect(ch)
	if c.bus == nil {
		return
	}
	for _, kind := range change.Kinds() {
		ch <- prometheus.MustNewConstMetric(c.listenersDesc, prometheus.GaugeValue,
			float64(c.bus.ListenerCount(kind)), string(kind))
	}
}
