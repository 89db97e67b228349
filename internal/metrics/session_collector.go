package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionCounter is implemented by the result repository.
type SessionCounter interface {
	CountActiveSessions(ctx context.Context) (int64, error)
}

type sessionCollector struct {
	counter SessionCounter
	logger  *slog.Logger

	activeDesc *prometheus.Desc
}

func newSessionCollector(counter SessionCounter, logger *slog.Logger) *sessionCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &sessionCollector{
		counter: counter,
		logger:  logger,
		activeDesc: prometheus.NewDesc(
			"captionq_sessions_active",
			"Current number of unexpired sessions.",
			nil,
			nil,
		),
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeDesc
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	if c.counter == nil {
		return
	}

	// Keep store reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := c.counter.CountActiveSessions(ctx)
	if err != nil {
		c.logger.Warn("prometheus session collector failed", "err", err)
		return
	}
	emitGauge(ch, c.activeDesc, float64(n))
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerSessionCollectorOnce sync.Once

func RegisterSessionCollector(counter SessionCounter, logger *slog.Logger) {
	registerSessionCollectorOnce.Do(func() {
		prometheus.MustRegister(newSessionCollector(counter, logger))
	})
}
