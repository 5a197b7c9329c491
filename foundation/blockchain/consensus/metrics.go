package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics represents the set of consensus metrics exposed to prometheus.
type metrics struct {
	accepted            prometheus.Counter
	proposed            prometheus.Counter
	rollbacks           prometheus.Counter
	blockRequests       prometheus.Counter
	verdicts            *prometheus.CounterVec
	height              prometheus.Gauge
	difficulty          prometheus.Gauge
	candidateSignatures prometheus.Gauge
	halted              prometheus.Gauge
}

// newMetrics constructs the metrics and registers them. A private registry
// is used when none is provided.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dlt",
			Subsystem: "consensus",
			Name:      "blocks_accepted_total",
			Help:      "Number of blocks appended to the chain.",
		}),
		proposed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dlt",
			Subsystem: "consensus",
			Name:      "blocks_proposed_total",
			Help:      "Number of blocks produced by this node.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dlt",
			Subsystem: "consensus",
			Name:      "rollbacks_total",
			Help:      "Number of block applications rolled back.",
		}),
		blockRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dlt",
			Subsystem: "consensus",
			Name:      "block_requests_total",
			Help:      "Number of blocks requested from the network.",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dlt",
			Subsystem: "consensus",
			Name:      "verdicts_total",
			Help:      "Block verification outcomes.",
		}, []string{"verdict"}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dlt",
			Subsystem: "consensus",
			Name:      "chain_height",
			Help:      "Height of the chain tip.",
		}),
		difficulty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dlt",
			Subsystem: "consensus",
			Name:      "difficulty",
			Help:      "Difficulty required of the next block.",
		}),
		candidateSignatures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dlt",
			Subsystem: "consensus",
			Name:      "candidate_signatures",
			Help:      "Distinct signers on the candidate block.",
		}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dlt",
			Subsystem: "consensus",
			Name:      "halted",
			Help:      "Set to 1 once the engine stopped on a fatal ledger failure.",
		}),
	}

	collectors := []prometheus.Collector{
		m.accepted,
		m.proposed,
		m.rollbacks,
		m.blockRequests,
		m.verdicts,
		m.height,
		m.difficulty,
		m.candidateSignatures,
		m.halted,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &m, nil
}
