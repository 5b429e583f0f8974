package stats

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exposes the latest value of every stat as a gauge.
type PrometheusSink struct {
	gauge *prometheus.GaugeVec
}

// NewPrometheusSink registers a pcapkeeper_stat gauge vector with reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pcapkeeper",
		Name:      "stat",
		Help:      "Latest published retention stat by key.",
	}, []string{"key"})
	if err := reg.Register(gauge); err != nil {
		return nil, err
	}
	return &PrometheusSink{gauge: gauge}, nil
}

// Send implements Sink.
func (s *PrometheusSink) Send(_ context.Context, key string, value uint64) error {
	s.gauge.WithLabelValues(key).Set(float64(value))
	return nil
}
