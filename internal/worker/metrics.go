package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	spawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_spawns_total",
			Help: "Total number of spawn attempts by outcome.",
		},
		[]string{"outcome"},
	)

	workersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foundry_workers_active",
			Help: "Number of workers currently in an active state.",
		},
	)
)

func init() {
	prometheus.MustRegister(spawnsTotal)
	prometheus.MustRegister(workersActive)
}
