// Package metrics exports quota decisions as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/serroba/driftquota/internal/quota"
)

// Recorder is a quota.Observer that counts decisions per action.
type Recorder struct {
	decisions *prometheus.CounterVec
	amount    *prometheus.CounterVec
	fill      *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quota",
			Name:      "decisions_total",
			Help:      "Quota operations by action, operation and outcome.",
		}, []string{"action", "operation", "outcome"}),
		amount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quota",
			Name:      "accepted_units_total",
			Help:      "Units accepted by quota operations.",
		}, []string{"action", "operation"}),
		fill: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quota",
			Name:      "fill_ratio",
			Help:      "Stored level divided by max after each accepted increment.",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		}, []string{"action"}),
	}

	for _, c := range []prometheus.Collector{r.decisions, r.amount, r.fill} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Recorder) Observe(_ context.Context, d quota.Decision) {
	outcome := "accepted"
	if !d.Accepted {
		outcome = "rejected"
	}

	r.decisions.WithLabelValues(d.Action, string(d.Operation), outcome).Inc()

	if !d.Accepted || d.Operation == quota.OpReset {
		return
	}

	r.amount.WithLabelValues(d.Action, string(d.Operation)).Add(float64(d.Amount))

	if d.Operation == quota.OpIncrement && d.Max > 0 {
		r.fill.WithLabelValues(d.Action).Observe(d.Level / float64(d.Max))
	}
}

// Compile-time check.
var _ quota.Observer = (*Recorder)(nil)
