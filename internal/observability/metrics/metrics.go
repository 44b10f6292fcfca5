package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for the scheduling engine.
type SchedulingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	windowsTotal       *prometheus.CounterVec
	lockWait           *prometheus.HistogramVec
	storeErrorsTotal   *prometheus.CounterVec
	notifyFailureTotal prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "booking",
			Name:      "requests_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "appointment",
			Name:      "transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"from", "to", "actor"}),
		windowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "availability",
			Name:      "window_operations_total",
			Help:      "Availability window declarations and revocations by outcome",
		}, []string{"operation", "outcome"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduling",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a slot or window lock",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"scope"}),
		storeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "store",
			Name:      "unavailable_total",
			Help:      "Store or lock calls that timed out or failed with an outage",
		}, []string{"operation"}),
		notifyFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "changes",
			Name:      "publish_failures_total",
			Help:      "Change notifications that could not be published",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.windowsTotal, m.lockWait, m.storeErrorsTotal, m.notifyFailureTotal)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(from, to, actor string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to, actor).Inc()
}

func (m *SchedulingMetrics) ObserveWindow(operation, outcome string) {
	if m == nil {
		return
	}
	m.windowsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveLockWait(scope string, seconds float64) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(scope).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveStoreUnavailable(operation string) {
	if m == nil {
		return
	}
	m.storeErrorsTotal.WithLabelValues(operation).Inc()
}

func (m *SchedulingMetrics) ObserveNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailureTotal.Inc()
}
