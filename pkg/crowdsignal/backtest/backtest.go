// Package backtest implements the historical backtest driver (component
// X): it replays the aggregator at a configurable number of hours before
// each resolved market's resolution and scores the result against the
// realized outcome.
package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/aggregator"
	"github.com/crowdwisdom/core/pkg/crowdsignal/faults"
	"github.com/crowdwisdom/core/pkg/crowdsignal/features"
)

// Counters accumulates the faults.Counters from every aggregator.Compute
// call made during a Run, so callers can report a single total for the
// backtest phase alongside the pipeline's F/W/snapshot counters.
type Counters = faults.Counters

// MarketFixture is one resolved market plus its full trade history,
// the unit of work the backtest driver replays.
type MarketFixture struct {
	Market  crowdsignal.Market
	Trades  []crowdsignal.Trade
	Outcome crowdsignal.Outcome
}

// Driver is the backtest driver. It composes an aggregator.Engine, so
// replaying history exercises exactly the same code path a live pipeline
// run would.
type Driver struct {
	agg *aggregator.Engine
}

// New returns a ready-to-use Driver.
func New() *Driver {
	return &Driver{agg: aggregator.New()}
}

// Run replays every fixture in S at T_m = resolution_time(m) - cutoffHours,
// skipping a market if its resolution instant follows its earliest trade
// by less than cutoffHours (there would be nothing to evaluate). profiles
// supplies the already-computed WalletWeight/WalletMetric rows for the
// run; the driver does not recompute F/W.
func (d *Driver) Run(ctx context.Context, fixtures []MarketFixture, profiles aggregator.ProfileLookup, cutoffHours float64, cfg crowdsignal.Config) (crowdsignal.BacktestReport, *Counters) {
	report := crowdsignal.BacktestReport{
		RunID:       uuid.New(),
		CutoffHours: cutoffHours,
	}
	counters := &Counters{}

	for _, f := range fixtures {
		if len(f.Trades) == 0 {
			continue
		}
		earliest := f.Trades[0].Timestamp
		for _, t := range f.Trades {
			if t.Timestamp.Before(earliest) {
				earliest = t.Timestamp
			}
		}
		cutoffInstant := f.Outcome.ResolutionTime.Add(-time.Duration(cutoffHours * float64(time.Hour)))
		if cutoffInstant.Before(earliest) {
			continue
		}

		snap, marketCounters := d.agg.Compute(ctx, f.Market, f.Trades, profiles, cutoffInstant, cfg)
		counters.Merge(marketCounters)
		y := f.Outcome.ResolvedOutcome

		brierMarket := square(snap.MarketProb - float64(y))
		brierCrowd := square(snap.CrowdProb - float64(y))

		eval := crowdsignal.BacktestEvaluation{
			MarketID:     f.Market.ID,
			CutoffTime:   cutoffInstant,
			MarketProbAt: snap.MarketProb,
			CrowdProbAt:  snap.CrowdProb,
			Realized:     y,
			BrierMarket:  brierMarket,
			BrierCrowd:   brierCrowd,
			Divergence:   snap.Divergence,
		}
		report.Evaluations = append(report.Evaluations, eval)
	}

	if len(report.Evaluations) == 0 {
		return report, counters
	}

	report.BrierMarketMean, report.BrierCrowdMean = meanBriers(report.Evaluations)
	report.LogLossMarketMean, report.LogLossCrowdMean = meanLogLoss(report.Evaluations, cfg.BeliefEpsilon)
	if report.BrierMarketMean != 0 {
		report.BrierImprovement = 1 - report.BrierCrowdMean/report.BrierMarketMean
	}
	report.EdgeBuckets = edgeBuckets(report.Evaluations, cfg.EdgeBucketBoundaries)
	report.Calibration = [2]crowdsignal.CalibrationCurve{
		calibrationCurve("market", report.Evaluations, func(e crowdsignal.BacktestEvaluation) float64 { return e.MarketProbAt }),
		calibrationCurve("crowd", report.Evaluations, func(e crowdsignal.BacktestEvaluation) float64 { return e.CrowdProbAt }),
	}
	report.TopDivergenceCases = topDivergenceCases(report.Evaluations, 8)

	return report, counters
}

// Sweep runs Run once per cutoff hour in 1..maxHours, returning one report
// per cutoff plus the improvement-by-hour curve.
func (d *Driver) Sweep(ctx context.Context, fixtures []MarketFixture, profiles aggregator.ProfileLookup, maxHours float64, cfg crowdsignal.Config) (crowdsignal.SweepReport, *Counters) {
	sweep := crowdsignal.SweepReport{ImprovementByHour: make(map[float64]float64)}
	counters := &Counters{}
	for h := 1.0; h <= maxHours; h++ {
		report, hourCounters := d.Run(ctx, fixtures, profiles, h, cfg)
		counters.Merge(hourCounters)
		sweep.Reports = append(sweep.Reports, report)
		if len(report.Evaluations) > 0 {
			sweep.ImprovementByHour[h] = report.BrierImprovement
		}
	}
	return sweep, counters
}

func square(x float64) float64 { return x * x }

func meanBriers(evals []crowdsignal.BacktestEvaluation) (market, crowd float64) {
	var sm, sc float64
	for _, e := range evals {
		sm += e.BrierMarket
		sc += e.BrierCrowd
	}
	n := float64(len(evals))
	return sm / n, sc / n
}

func meanLogLoss(evals []crowdsignal.BacktestEvaluation, epsilon float64) (market, crowd float64) {
	var sm, sc float64
	for _, e := range evals {
		sm += features.LogLoss(e.MarketProbAt, e.Realized, epsilon)
		sc += features.LogLoss(e.CrowdProbAt, e.Realized, epsilon)
	}
	n := float64(len(evals))
	return sm / n, sc / n
}

func edgeBuckets(evals []crowdsignal.BacktestEvaluation, b crowdsignal.EdgeBucketBoundaries) []crowdsignal.EdgeBucketStat {
	labels := []string{
		fmt.Sprintf("[0,%.0f%%)", b.Low*100),
		fmt.Sprintf("[%.0f%%,%.0f%%)", b.Low*100, b.Mid*100),
		fmt.Sprintf("[%.0f%%,%.0f%%)", b.Mid*100, b.High*100),
		fmt.Sprintf("[%.0f%%,100%%]", b.High*100),
	}
	type acc struct {
		count    int
		sumEdge  float64
		sumPnL   float64
		wins     int
	}
	accs := make([]acc, 4)
	for _, e := range evals {
		abs := math.Abs(e.Divergence)
		idx := 3
		switch {
		case abs < b.Low:
			idx = 0
		case abs < b.Mid:
			idx = 1
		case abs < b.High:
			idx = 2
		}
		signBet := sign(e.Divergence) * (2*float64(e.Realized) - 1) * abs
		win := sign(e.Divergence) == (2*float64(e.Realized) - 1)

		a := &accs[idx]
		a.count++
		a.sumEdge += abs
		a.sumPnL += signBet
		if win {
			a.wins++
		}
	}
	out := make([]crowdsignal.EdgeBucketStat, 4)
	for i, a := range accs {
		stat := crowdsignal.EdgeBucketStat{Label: labels[i], Count: a.count}
		if a.count > 0 {
			stat.MeanEdge = a.sumEdge / float64(a.count)
			stat.MeanPnL = a.sumPnL / float64(a.count)
			stat.WinRate = float64(a.wins) / float64(a.count)
		}
		out[i] = stat
	}
	return out
}

func sign(x float64) float64 {
	if x > 0 {
		return 1
	}
	if x < 0 {
		return -1
	}
	return 0
}

func calibrationCurve(label string, evals []crowdsignal.BacktestEvaluation, probOf func(crowdsignal.BacktestEvaluation) float64) crowdsignal.CalibrationCurve {
	type decileAcc struct {
		count           int
		sumProb, sumY   float64
	}
	deciles := make([]decileAcc, 10)
	for _, e := range evals {
		p := probOf(e)
		idx := int(p * 10)
		if idx > 9 {
			idx = 9
		}
		if idx < 0 {
			idx = 0
		}
		d := &deciles[idx]
		d.count++
		d.sumProb += p
		d.sumY += float64(e.Realized)
	}
	bins := make([]crowdsignal.CalibrationBin, 0, 10)
	for i, d := range deciles {
		if d.count == 0 {
			continue
		}
		bins = append(bins, crowdsignal.CalibrationBin{
			Bin:       i,
			Count:     d.count,
			AvgProb:   d.sumProb / float64(d.count),
			Empirical: d.sumY / float64(d.count),
		})
	}
	return crowdsignal.CalibrationCurve{Label: label, Bins: bins}
}

func topDivergenceCases(evals []crowdsignal.BacktestEvaluation, k int) []crowdsignal.BacktestEvaluation {
	sorted := make([]crowdsignal.BacktestEvaluation, len(evals))
	copy(sorted, evals)
	sort.Slice(sorted, func(i, j int) bool {
		return math.Abs(sorted[i].Divergence) > math.Abs(sorted[j].Divergence)
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	out := make([]crowdsignal.BacktestEvaluation, len(sorted))
	for i, e := range sorted {
		e.Winner = winner(e)
		out[i] = e
	}
	return out
}

func winner(e crowdsignal.BacktestEvaluation) string {
	switch {
	case e.BrierCrowd < e.BrierMarket:
		return "crowd"
	case e.BrierMarket < e.BrierCrowd:
		return "market"
	default:
		return "tie"
	}
}
