// Package metrics exposes the scheduling core's per-cycle counters as
// Prometheus collectors: the harness's observability surface over the
// otherwise-opaque total-slot-count return value of §4.8 step 5.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Cycle holds the Prometheus collectors of one scheduling cycle: the job
// counters are updated as each job is assigned or left unscheduled, the
// slot gauge once at the end of the cycle.
type Cycle struct {
	registry *prometheus.Registry

	SlotsTotal          prometheus.Gauge
	JobsAssignedTotal   prometheus.Counter
	JobsUnscheduledTotal *prometheus.CounterVec
	QuotaRejectionsTotal prometheus.Counter
}

// NewCycle builds a Cycle with a fresh registry and registers every
// collector.
func NewCycle() *Cycle {
	c := &Cycle{
		registry: prometheus.NewRegistry(),
		SlotsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kamelot",
			Name:      "slots_total",
			Help:      "Total number of live slots across every SlotSet at the end of the cycle.",
		}),
		JobsAssignedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kamelot",
			Name:      "jobs_assigned_total",
			Help:      "Jobs successfully assigned during the cycle.",
		}),
		JobsUnscheduledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kamelot",
			Name:      "jobs_unscheduled_total",
			Help:      "Jobs left unscheduled during the cycle, by reason kind.",
		}, []string{"reason"}),
		QuotaRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kamelot",
			Name:      "quota_rejections_total",
			Help:      "Jobs left unscheduled during the cycle with a quota rejection as reason.",
		}),
	}
	c.registry.MustRegister(c.SlotsTotal, c.JobsAssignedTotal, c.JobsUnscheduledTotal, c.QuotaRejectionsTotal)
	return c
}

// Registry returns the Prometheus registry, for an HTTP /metrics handler
// or a test gatherer.
func (c *Cycle) Registry() *prometheus.Registry { return c.registry }
