package release

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

// Metrics counts step outcomes. A nil *Metrics records nothing.
type Metrics struct {
	steps *prometheus.CounterVec
}

// NewMetrics creates the step counters and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "releasekit",
			Subsystem: "release",
			Name:      "steps_total",
			Help:      "Release lifecycle steps by outcome.",
		}, []string{"step", "outcome"}),
	}
	if reg != nil {
		if err := reg.Register(m.steps); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(step, outcome string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(step, outcome).Inc()
}
