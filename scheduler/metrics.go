package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scheduler's Prometheus collectors.
//
//   - conductor_scheduler_nodes_total{capability,status}
//   - conductor_scheduler_node_seconds{capability}
//   - conductor_scheduler_plans_total{status}
type Metrics struct {
	NodesTotal   *prometheus.CounterVec
	NodeDuration *prometheus.HistogramVec
	PlansTotal   *prometheus.CounterVec
}

// NewMetrics creates scheduler metrics registered with reg. A nil reg leaves
// the collectors unregistered, which is what tests and embedded use want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		NodesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_scheduler_nodes_total",
				Help: "Plan nodes reaching a terminal status",
			},
			[]string{"capability", "status"},
		),
		NodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_scheduler_node_seconds",
				Help:    "Duration of executed plan nodes in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"capability"},
		),
		PlansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_scheduler_plans_total",
				Help: "Executed plans by final status",
			},
			[]string{"status"},
		),
	}
}
