package alignment

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes alignment throughput as Prometheus collectors. A nil
// *Metrics records nothing.
type Metrics struct {
	groups   *prometheus.CounterVec
	failures *prometheus.CounterVec
	rounds   prometheus.Counter
	duration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "particlealign",
			Name:      "groups_aligned_total",
			Help:      "Groups aligned against a round reference.",
		}, []string{"phase"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "particlealign",
			Name:      "group_failures_total",
			Help:      "Group alignments that aborted a run.",
		}, []string{"phase"}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "particlealign",
			Name:      "rounds_total",
			Help:      "Completed refinement rounds.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "particlealign",
			Name:      "round_duration_seconds",
			Help:      "Wall time of a refinement round.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	for _, c := range []prometheus.Collector{m.groups, m.failures, m.rounds, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) groupAligned(p Phase) {
	if m == nil {
		return
	}
	m.groups.WithLabelValues(p.String()).Inc()
}

func (m *Metrics) groupFailed(p Phase) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(p.String()).Inc()
}

func (m *Metrics) roundDone(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rounds.Inc()
	m.duration.Observe(elapsed.Seconds())
}
