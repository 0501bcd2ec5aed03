// Package metrics exposes Prometheus collectors for the download manager
// and the engine behind it.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "webdl"

// Collector implements download.Metrics and engine.Metrics.
type Collector struct {
	enqueued      prometheus.Counter
	finished      *prometheus.CounterVec
	outstanding   prometheus.Gauge
	transfers     *prometheus.CounterVec
	transferBytes prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Downloads accepted by the host.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finished_total",
			Help:      "Terminal reports delivered, by outcome.",
		}, []string{"outcome"}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outstanding",
			Help:      "Downloads enqueued but not yet reported.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transfers_total",
			Help:      "Transfers finished by the engine, by status.",
		}, []string{"status"}),
		transferBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transfer_bytes",
			Help:      "Size of successful transfers.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}

	for _, col := range []prometheus.Collector{c.enqueued, c.finished, c.outstanding, c.transfers, c.transferBytes} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return c, nil
}

func (c *Collector) Enqueued() {
	c.enqueued.Inc()
}

func (c *Collector) Finished(success bool) {
	c.finished.WithLabelValues(outcome(success)).Inc()
}

func (c *Collector) Outstanding(n int) {
	c.outstanding.Set(float64(n))
}

// TransferFinished records an engine transfer reaching a terminal state.
func (c *Collector) TransferFinished(success bool, bytes int64) {
	c.transfers.WithLabelValues(outcome(success)).Inc()
	if success {
		c.transferBytes.Observe(float64(bytes))
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
