package eventbus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics tracks publish timing and per-listener drops.
type DeliveryMetrics struct {
	publishDuration *prometheus.HistogramVec
	droppedTotal    *prometheus.CounterVec
}

// NewDeliveryMetrics constructs and registers bus metrics with the provided registerer.
func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &DeliveryMetrics{
		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{ //nolint:exhaustruct
				Namespace: "ctpgate",
				Subsystem: "eventbus",
				Name:      "publish_seconds",
				Help:      "Time to enqueue one event for all listeners.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"listeners"},
		),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "ctpgate",
				Subsystem: "eventbus",
				Name:      "dropped_total",
				Help:      "Events discarded by a listener's drop-oldest queue.",
			},
			[]string{"listener"},
		),
	}
	reg.MustRegister(m.publishDuration, m.droppedTotal)
	return m
}

// ObservePublish records one publish spanning the given listener count.
func (m *DeliveryMetrics) ObservePublish(listeners int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.publishDuration.WithLabelValues(strconv.Itoa(listeners)).Observe(elapsed.Seconds())
}

// ObserveDrop records one event discarded from the named listener's queue.
func (m *DeliveryMetrics) ObserveDrop(listener string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(listener).Inc()
}
