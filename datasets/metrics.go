package datasets

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts pipeline throughput and data-loss events. Counters are
// always live; they are only exported when a Registerer is supplied.
type Metrics struct {
	TrajectoriesDecoded     prometheus.Counter
	FramesEmitted           prometheus.Counter
	TrajectoriesRegrouped   prometheus.Counter
	IncompleteGroupsDropped prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TrajectoriesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trajstream",
			Name:      "trajectories_decoded_total",
			Help:      "Trajectories decoded and tagged from shard records.",
		}),
		FramesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trajstream",
			Name:      "frames_emitted_total",
			Help:      "Per-step frames produced by flattening trajectories.",
		}),
		TrajectoriesRegrouped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trajstream",
			Name:      "trajectories_regrouped_total",
			Help:      "Trajectories reconstituted from the flat frame stream.",
		}),
		IncompleteGroupsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trajstream",
			Name:      "incomplete_groups_dropped_total",
			Help:      "Trajectories dropped because their window never filled before the stream ended.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TrajectoriesDecoded,
			m.FramesEmitted,
			m.TrajectoriesRegrouped,
			m.IncompleteGroupsDropped,
		)
	}
	return m
}
