// Package metrics exposes Prometheus metrics for analysis runs and the
// diagnostics they produce.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SIOJaffeLab/LogProcessor/internal/analysis"
	"github.com/SIOJaffeLab/LogProcessor/internal/diag"
)

// Collector bundles the run metrics. It is also a diag.Sink that counts
// every event it receives.
type Collector struct {
	gatherer prometheus.Gatherer

	Diagnostics  *prometheus.CounterVec
	Runs         prometheus.Counter
	RunDurations prometheus.Histogram

	Observations      *prometheus.GaugeVec
	MeanAbsoluteError prometheus.Gauge
	BoatRate          prometheus.Gauge
	BuoyRate          prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil. Metrics already registered are reused.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	diagnostics, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rangecheck_diagnostics_total",
		Help: "Records skipped during ingestion or alignment, labeled by kind and source.",
	}, []string{"kind", "source"}), "rangecheck_diagnostics_total")
	if err != nil {
		return nil, err
	}
	runs, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rangecheck_runs_total",
		Help: "Completed analysis runs.",
	}), "rangecheck_runs_total")
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rangecheck_run_duration_seconds",
		Help:    "Wall time of an analysis run.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}), "rangecheck_run_duration_seconds")
	if err != nil {
		return nil, err
	}
	observations, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rangecheck_observations",
		Help: "Attempts in the latest run, labeled by outcome (success, failed, skipped).",
	}, []string{"outcome"}), "rangecheck_observations")
	if err != nil {
		return nil, err
	}
	mae, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rangecheck_mean_absolute_error_meters",
		Help: "Mean absolute ranging error of the latest run; NaN when it had no successful attempt.",
	}), "rangecheck_mean_absolute_error_meters")
	if err != nil {
		return nil, err
	}
	boatRate, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rangecheck_boat_rate",
		Help: "Boat track sample rate used by the latest run, in samples per second.",
	}), "rangecheck_boat_rate")
	if err != nil {
		return nil, err
	}
	buoyRate, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rangecheck_buoy_rate",
		Help: "Buoy track sample rate used by the latest run, in samples per second.",
	}), "rangecheck_buoy_rate")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		Diagnostics:       diagnostics,
		Runs:              runs,
		RunDurations:      durations,
		Observations:      observations,
		MeanAbsoluteError: mae,
		BoatRate:          boatRate,
		BuoyRate:          buoyRate,
	}, nil
}

// Report counts a diagnostic event.
func (c *Collector) Report(e diag.Event) {
	if c == nil || c.Diagnostics == nil {
		return
	}
	c.Diagnostics.WithLabelValues(string(e.Kind), e.Source).Inc()
}

// ObserveRun records a completed run.
func (c *Collector) ObserveRun(res *analysis.Result, took time.Duration) {
	if c == nil || res == nil {
		return
	}
	c.Runs.Inc()
	c.RunDurations.Observe(took.Seconds())
	c.BoatRate.Set(res.Rates.Boat)
	c.BuoyRate.Set(res.Rates.Buoy)

	c.Observations.WithLabelValues("success").Set(float64(len(res.Comparison)))
	c.Observations.WithLabelValues("failed").Set(float64(len(res.Failed())))
	c.Observations.WithLabelValues("skipped").Set(float64(res.Skipped))

	summary, err := res.Summary()
	if errors.Is(err, analysis.ErrEmptyAggregate) {
		c.MeanAbsoluteError.Set(math.NaN())
		return
	}
	c.MeanAbsoluteError.Set(summary.MeanAbsoluteError)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register adds col to reg, returning the existing collector when one of
// the same type is already registered under name.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
