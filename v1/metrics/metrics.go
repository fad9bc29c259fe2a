package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LatchCounter tracks the number of Latch operations.
	LatchCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_latch_total",
		Help: "Total number of Latch operations",
	})
	// UnlatchCounter tracks the number of Unlatch operations.
	UnlatchCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_unlatch_total",
		Help: "Total number of Unlatch operations",
	})
	// EnterWaitCounter tracks how often an Enter caller had to park.
	EnterWaitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_enter_waits_total",
		Help: "Total number of Enter calls that blocked on a held key",
	})
	// BreakCounter tracks forced releases issued by recovery.
	BreakCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latch_breaks_total",
		Help: "Total number of forced latch releases",
	})
	// HeldGauge reports the number of currently held keys.
	HeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "latch_held_keys",
		Help: "Current number of held keys",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLatchMetrics registers go-latch metrics on the provided registry.
func RegisterLatchMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LatchCounter, UnlatchCounter, EnterWaitCounter, BreakCounter, HeldGauge)
}
