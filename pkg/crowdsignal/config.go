package crowdsignal

import "time"

// HorizonThresholds holds the two boundaries separating short/medium/long
// horizon buckets.
type HorizonThresholds struct {
	Short  time.Duration // trades with gap <= Short are "short"
	Medium time.Duration // trades with gap <= Medium (and > Short) are "medium"; beyond is "long"
}

// EdgeBucketBoundaries holds the three boundaries separating the four
// |divergence| bands used by the backtest driver's edge-bucket breakdown.
type EdgeBucketBoundaries struct {
	Low    float64 // default 0.02
	Mid    float64 // default 0.05
	High   float64 // default 0.10
}

// Config holds every tunable knob for the feature, weight, belief,
// aggregator and backtest engines. There is no env-var or YAML loading
// layer; cmd/ binaries apply flag overrides directly onto a DefaultConfig().
type Config struct {
	// PriorStrength is kappa, the shrinkage prior strength used by the
	// weight engine.
	PriorStrength float64
	// HalfLifeHours is the belief engine's recency decay half-life.
	HalfLifeHours float64
	// BeliefEpsilon clamps yes_belief away from 0/1 before taking a log for
	// log-loss.
	BeliefEpsilon float64
	// SignalMassScale is M0 in the belief engine's mass_score.
	SignalMassScale float64
	// SupportScale is N0 in the belief engine's support_score.
	SupportScale float64
	// ParticipationHalf is N_half in the aggregator's participation_quality.
	ParticipationHalf float64
	// DriversK is the number of top drivers retained per snapshot.
	DriversK int
	// FlowWindowHours is the lookback window for the flow summary.
	FlowWindowHours float64
	// PriceWindowMinutes is the lookback window for the market-price
	// weighted mid.
	PriceWindowMinutes float64
	// HorizonThresholds are the short/medium boundary durations.
	HorizonThresholds HorizonThresholds
	// EdgeBucketBoundaries are the backtest edge-bucket boundaries.
	EdgeBucketBoundaries EdgeBucketBoundaries
	// BacktestCutoffHours is the default single-cutoff backtest horizon.
	BacktestCutoffHours float64
	// BacktestMaxHours bounds the sweep variant's cutoff range.
	BacktestMaxHours float64
	// MaxWalletsPerMarket bounds per-market wallet fan-in during the
	// pipeline's snapshot phase; 0 means unbounded. A market whose active
	// wallet count exceeds this is skipped and reported, never silently
	// dropped.
	MaxWalletsPerMarket int
	// PipelineWorkers bounds the aggregator worker pool's concurrency
	// during the snapshot phase of a pipeline run.
	PipelineWorkers int
	// RunBacktest, when set, runs the backtest driver as phase 4 of a
	// pipeline run.
	RunBacktest bool
	// BacktestSweep, when set alongside RunBacktest, runs Driver.Sweep
	// over 1..BacktestMaxHours instead of a single Driver.Run at
	// BacktestCutoffHours.
	BacktestSweep bool
}

// DefaultConfig returns the knob values named in the external configuration
// table: prior_strength 50, half_life_hours 48, belief_epsilon 1e-6,
// signal_mass_scale 5, support_scale 4, participation_half 8, drivers_K 10,
// flow_window_hours 6, price_window_minutes 15, horizon thresholds
// (24h, 7d), edge bucket boundaries (2%, 5%, 10%), backtest_cutoff_hours 12,
// backtest_max_hours 168.
func DefaultConfig() Config {
	return Config{
		PriorStrength:      50,
		HalfLifeHours:      48,
		BeliefEpsilon:      1e-6,
		SignalMassScale:    5,
		SupportScale:       4,
		ParticipationHalf:  8,
		DriversK:           10,
		FlowWindowHours:    6,
		PriceWindowMinutes: 15,
		HorizonThresholds: HorizonThresholds{
			Short:  24 * time.Hour,
			Medium: 7 * 24 * time.Hour,
		},
		EdgeBucketBoundaries: EdgeBucketBoundaries{
			Low:  0.02,
			Mid:  0.05,
			High: 0.10,
		},
		BacktestCutoffHours: 12,
		BacktestMaxHours:    168,
		MaxWalletsPerMarket: 0,
		PipelineWorkers:     8,
	}
}

// TightConfig returns a configuration tuned for fast, deterministic
// convergence in tests: a small prior strength and half-life so small
// fixtures exercise the shrinkage and recency math without needing
// hundreds of synthetic trades, plus a 1-worker pipeline for
// deterministic ordering in pipeline tests.
func TightConfig() Config {
	cfg := DefaultConfig()
	cfg.PriorStrength = 5
	cfg.HalfLifeHours = 12
	cfg.PipelineWorkers = 1
	return cfg
}
