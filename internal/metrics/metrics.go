// Package metrics holds the Prometheus instruments of bulk loads and reads,
// and a periodic progress reporter for the log.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type Metrics struct {
	Records    prometheus.Counter
	Skipped    prometheus.Counter
	Batches    prometheus.Counter
	Overloaded prometheus.Counter
}

// New creates the instruments and registers them with reg, or with the
// default registerer when reg is nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{}

	var err error
	m.Records, err = newCounter(reg, "bibstore_loader_records_total", "Records written by the bulk loader")
	if err != nil {
		return nil, err
	}
	m.Skipped, err = newCounter(reg, "bibstore_loader_skipped_total", "Input records skipped as invalid")
	if err != nil {
		return nil, err
	}
	m.Batches, err = newCounter(reg, "bibstore_loader_batches_total", "Batches committed by the bulk loader")
	if err != nil {
		return nil, err
	}
	m.Overloaded, err = newCounter(reg, "bibstore_reader_overloaded_total", "Read transactions refused because all reader slots were taken")
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newCounter(reg prometheus.Registerer, name, help string) (prometheus.Counter, error) {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: help,
	})
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// CounterValue reads the current value of c.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// Reporter logs the count and rate of a counter at a fixed interval.
type Reporter struct {
	Counter  prometheus.Counter
	Name     string
	Interval time.Duration
	Logger   *slog.Logger
}

// Run reports until ctx is done, then logs a final line.
func (r *Reporter) Run(ctx context.Context) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	if r.Interval <= 0 {
		<-ctx.Done()
		r.report(logger, start)
		return
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.report(logger, start)
			return
		case <-ticker.C:
			r.report(logger, start)
		}
	}
}

func (r *Reporter) report(logger *slog.Logger, start time.Time) {
	n := CounterValue(r.Counter)
	elapsed := time.Since(start)
	var rate float64
	if s := elapsed.Seconds(); s > 0 {
		rate = n / s
	}
	logger.Info("progress", "meter", r.Name, "count", int64(n), "rate_per_sec", rate, "elapsed", elapsed.Round(time.Second))
}
