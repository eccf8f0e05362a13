package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReservationMetrics records reservation coordinator outcomes.
type ReservationMetrics struct {
	reserved  *prometheus.CounterVec
	released  *prometheus.CounterVec
	oversell  prometheus.Counter
	committed prometheus.Counter
	swept     prometheus.Counter
}

// NewReservationMetrics registers reservation metrics on the provided registerer.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	reserved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_reservations_total",
		Help: "Cart reservation attempts by outcome.",
	}, []string{"outcome"})
	released := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_releases_total",
		Help: "Cart reservation releases by trigger.",
	}, []string{"trigger"})
	oversell := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_oversell_rejections_total",
		Help: "Reserve attempts rejected because stock was insufficient.",
	})
	committed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_reservations_committed_total",
		Help: "Reservations converted to permanent deductions at order processing.",
	})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_reservations_swept_total",
		Help: "Expired reservations removed by the sweeper.",
	})
	reg.MustRegister(reserved, released, oversell, committed, swept)
	return &ReservationMetrics{
		reserved:  reserved,
		released:  released,
		oversell:  oversell,
		committed: committed,
		swept:     swept,
	}
}

// IncReserved increments the reserve counter for the given outcome.
func (m *ReservationMetrics) IncReserved(outcome string) {
	if m == nil || m.reserved == nil {
		return
	}
	m.reserved.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncReleased increments the release counter for the given trigger.
func (m *ReservationMetrics) IncReleased(trigger string) {
	if m == nil || m.released == nil {
		return
	}
	m.released.WithLabelValues(normalizeLabel(trigger)).Inc()
}

// IncOversellRejected counts a reserve refused for lack of stock.
func (m *ReservationMetrics) IncOversellRejected() {
	if m == nil || m.oversell == nil {
		return
	}
	m.oversell.Inc()
}

// IncCommitted counts a reservation converted at order processing.
func (m *ReservationMetrics) IncCommitted() {
	if m == nil || m.committed == nil {
		return
	}
	m.committed.Inc()
}

// AddSwept counts reservations removed by an expiry sweep.
func (m *ReservationMetrics) AddSwept(n int) {
	if m == nil || m.swept == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
