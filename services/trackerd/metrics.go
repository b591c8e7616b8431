package trackerd

import "github.com/prometheus/client_golang/prometheus"

const (
	eventReleaseCreated   = "release_created"
	eventFilesDeleted     = "files_deleted"
	eventFileRegistered   = "file_registered"
	eventCommitsSet       = "commits_set"
	eventReleaseFinalized = "release_finalized"
	eventDeployCreated    = "deploy_created"
)

type metrics struct {
	events *prometheus.CounterVec
	steps  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "releasekit",
			Subsystem: "trackerd",
			Name:      "events_total",
			Help:      "Release tracking mutations by kind.",
		}, []string{"event"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "releasekit",
			Subsystem: "trackerd",
			Name:      "pipeline_steps_total",
			Help:      "Release pipeline steps reported over the bus, by outcome.",
		}, []string{"step", "outcome"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.events, m.steps} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *metrics) observe(event string) {
	m.events.WithLabelValues(event).Inc()
}
