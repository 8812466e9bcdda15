// Package telemetry provides Prometheus metrics for the crowd-wisdom
// pipeline. It is purely observational instrumentation around the pure F/
// W/B/A/X core — it never gates or blocks computation.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/crowdwisdom/core/pkg/crowdsignal/faults"
)

// Metrics collects and exposes pipeline-run Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Fault-taxonomy counters (spec §7).
	MalformedInputTotal      *prometheus.CounterVec
	MissingPriorContextTotal *prometheus.CounterVec
	DegenerateMarketsTotal   *prometheus.CounterVec
	InvariantViolationsTotal *prometheus.CounterVec

	// Per-stage latency.
	StageLatencySeconds *prometheus.HistogramVec

	// Last-run aggregate gauges.
	LastRunBrierCrowd           *prometheus.GaugeVec
	LastRunBrierMarket          *prometheus.GaugeVec
	LastRunConfidenceMean       *prometheus.GaugeVec
	LastRunParticipationMean    *prometheus.GaugeVec
	LastRunWalletsActive        *prometheus.GaugeVec
	PipelineRunsTotal           *prometheus.CounterVec
}

// New creates a fresh Metrics collector registered against its own
// registry, mirroring the teacher's NewTradingMetrics pattern.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		MalformedInputTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsignal_malformed_input_records_total",
				Help: "Total Trade/Outcome records dropped for out-of-range or unparseable fields",
			},
			[]string{"market"},
		),
		MissingPriorContextTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsignal_missing_prior_context_total",
				Help: "Total WalletWeight lookups that fell through the fallback chain to zero",
			},
			[]string{"market"},
		),
		DegenerateMarketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsignal_degenerate_markets_total",
				Help: "Total snapshots emitted with no trusted participants",
			},
			[]string{"market"},
		),
		InvariantViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsignal_invariant_violations_total",
				Help: "Total market snapshots that failed an invariant check",
			},
			[]string{"market"},
		),
		StageLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crowdsignal_stage_latency_seconds",
				Help:    "Wall-clock latency of one pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"stage"},
		),
		LastRunBrierCrowd: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crowdsignal_last_run_brier_crowd",
				Help: "Aggregate crowd Brier score from the most recent backtest run",
			},
			[]string{"cutoff_hours"},
		),
		LastRunBrierMarket: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crowdsignal_last_run_brier_market",
				Help: "Aggregate market Brier score from the most recent backtest run",
			},
			[]string{"cutoff_hours"},
		),
		LastRunConfidenceMean: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crowdsignal_last_run_confidence_mean",
				Help: "Mean snapshot confidence from the most recent pipeline run",
			},
			[]string{},
		),
		LastRunParticipationMean: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crowdsignal_last_run_participation_quality_mean",
				Help: "Mean snapshot participation quality from the most recent pipeline run",
			},
			[]string{},
		),
		LastRunWalletsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crowdsignal_last_run_active_wallets",
				Help: "Total active wallets across every snapshot in the most recent pipeline run",
			},
			[]string{},
		),
		PipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsignal_pipeline_runs_total",
				Help: "Total pipeline runs by terminal status",
			},
			[]string{"status"},
		),
	}

	m.registerAll()
	return m
}

func (m *Metrics) registerAll() {
	m.registry.MustRegister(
		m.MalformedInputTotal,
		m.MissingPriorContextTotal,
		m.DegenerateMarketsTotal,
		m.InvariantViolationsTotal,
		m.StageLatencySeconds,
		m.LastRunBrierCrowd,
		m.LastRunBrierMarket,
		m.LastRunConfidenceMean,
		m.LastRunParticipationMean,
		m.LastRunWalletsActive,
		m.PipelineRunsTotal,
	)
}

// Registry returns the Prometheus registry backing this Metrics instance.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordStage records one stage's wall-clock latency.
func (m *Metrics) RecordStage(stage string, durationSec float64) {
	m.StageLatencySeconds.WithLabelValues(stage).Observe(durationSec)
}

// RecordFaults folds a run's fault counters into the taxonomy counters,
// labeled by market (or "_pipeline_" for run-wide counts such as
// malformed input records, which are not attributable to one market).
func (m *Metrics) RecordFaults(market string, s faults.Snapshot) {
	if market == "" {
		market = "_pipeline_"
	}
	m.MalformedInputTotal.WithLabelValues(market).Add(float64(s.MalformedInput))
	m.MissingPriorContextTotal.WithLabelValues(market).Add(float64(s.MissingPriorContext))
	m.DegenerateMarketsTotal.WithLabelValues(market).Add(float64(s.DegenerateMarkets))
	m.InvariantViolationsTotal.WithLabelValues(market).Add(float64(s.InvariantViolations))
}

// RecordBacktest updates the last-run backtest gauges.
func (m *Metrics) RecordBacktest(cutoffHours string, brierMarket, brierCrowd float64) {
	m.LastRunBrierMarket.WithLabelValues(cutoffHours).Set(brierMarket)
	m.LastRunBrierCrowd.WithLabelValues(cutoffHours).Set(brierCrowd)
}

// RecordPipelineRun records a completed pipeline run's terminal status and
// snapshot-level aggregates.
func (m *Metrics) RecordPipelineRun(status string, confidenceMean, participationMean float64, activeWallets int) {
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
	m.LastRunConfidenceMean.WithLabelValues().Set(confidenceMean)
	m.LastRunParticipationMean.WithLabelValues().Set(participationMean)
	m.LastRunWalletsActive.WithLabelValues().Set(float64(activeWallets))
}

// DecimalToFloat64 safely converts a decimal.Decimal to float64 for
// metrics observation.
func DecimalToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide default Metrics instance.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}
