package metrics

import "github.com/prometheus/client_golang/prometheus"

// BotMetrics exposes counters/histograms for the chat dialogue flows.
type BotMetrics struct {
	inboundTotal    *prometheus.CounterVec
	outboundTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	bookingOps      *prometheus.CounterVec
	remoteLatency   *prometheus.HistogramVec
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnero",
			Subsystem: "bot",
			Name:      "inbound_total",
			Help:      "Total inbound chat messages",
		}, []string{"status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnero",
			Subsystem: "bot",
			Name:      "outbound_total",
			Help:      "Total outbound chat replies",
		}, []string{"status"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "turnero",
			Subsystem: "bot",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of one inbound message through the dialogue",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
		bookingOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnero",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Reservation operations by outcome",
		}, []string{"operation", "status"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "turnero",
			Subsystem: "calendar",
			Name:      "remote_latency_seconds",
			Help:      "Latency of remote calendar store calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.dispatchLatency, m.bookingOps, m.remoteLatency)
	return m
}

func (m *BotMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *BotMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *BotMetrics) ObserveDispatchLatency(state string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchLatency.WithLabelValues(state).Observe(seconds)
}

func (m *BotMetrics) ObserveRemoteLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.remoteLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *BotMetrics) ObserveBookingOp(operation, status string) {
	if m == nil {
		return
	}
	m.bookingOps.WithLabelValues(operation, status).Inc()
}
