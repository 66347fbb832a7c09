package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flow.
type BookingMetrics struct {
	actionsTotal     *prometheus.CounterVec
	actionLatency    *prometheus.HistogramVec
	reserveConflicts prometheus.Counter
	holdsReleased    *prometheus.CounterVec
	storeRetries     *prometheus.CounterVec
	handoffsTotal    *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "gateway",
			Name:      "actions_total",
			Help:      "Agent action calls by outcome code",
		}, []string{"action", "code"}),
		actionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "appointments",
			Subsystem: "gateway",
			Name:      "action_latency_seconds",
			Help:      "Latency of agent action calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		reserveConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "inventory",
			Name:      "reserve_conflicts_total",
			Help:      "Hold attempts that lost the race for a slot",
		}),
		holdsReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "inventory",
			Name:      "holds_released_total",
			Help:      "Holds returned to OPEN, by reason",
		}, []string{"reason"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "inventory",
			Name:      "store_retries_total",
			Help:      "Inventory calls retried after a transient failure",
		}, []string{"op"}),
		handoffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "handoff",
			Name:      "escalations_total",
			Help:      "Human handoff requests by notification status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.actionsTotal, m.actionLatency, m.reserveConflicts, m.holdsReleased, m.storeRetries, m.handoffsTotal)
	return m
}

func (m *BookingMetrics) ObserveAction(action, code string, seconds float64) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(action, code).Inc()
	m.actionLatency.WithLabelValues(action).Observe(seconds)
}

func (m *BookingMetrics) ObserveReserveConflict() {
	if m == nil {
		return
	}
	m.reserveConflicts.Inc()
}

// ObserveHoldsReleased counts holds released for reason ("rollback" or "expired").
func (m *BookingMetrics) ObserveHoldsReleased(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.holdsReleased.WithLabelValues(reason).Add(float64(n))
}

func (m *BookingMetrics) ObserveStoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(op).Inc()
}

func (m *BookingMetrics) ObserveHandoff(status string) {
	if m == nil {
		return
	}
	m.handoffsTotal.WithLabelValues(status).Inc()
}
