// Package pipeline drives one end-to-end crowd-wisdom computation: gather
// a consistent read view of Trades and Outcomes, recompute WalletMetrics
// and WalletWeights from scratch, compute a Snapshot for every eligible
// market, and optionally run the backtest driver — all against an
// injected crowdsignal.Store.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/aggregator"
	"github.com/crowdwisdom/core/pkg/crowdsignal/backtest"
	"github.com/crowdwisdom/core/pkg/crowdsignal/faults"
	"github.com/crowdwisdom/core/pkg/crowdsignal/features"
	"github.com/crowdwisdom/core/pkg/crowdsignal/weights"
)

// Report is the outcome of one pipeline.Run call: the run identity, its
// terminal status, the combined fault counters from every phase, and
// whatever backtest artifact phase 4 produced.
type Report struct {
	RunID            uuid.UUID
	Status           string
	Counters         faults.Snapshot
	MarketsProcessed int
	MarketsSkipped   []string
	EvaluatedAt      time.Time
	BacktestReport   *crowdsignal.BacktestReport
	SweepReport      *crowdsignal.SweepReport
}

// Run executes gather -> compute F/W -> compute snapshots -> optional
// backtest against store, per cfg. The caller is assumed to already hold
// exclusive write access to store (spec.md §5's single-writer policy is
// enforced externally); Run itself takes no lock.
func Run(ctx context.Context, store crowdsignal.Store, cfg crowdsignal.Config) (Report, error) {
	if store == nil {
		return Report{}, faults.NewRunFault("pipeline.Run", fmt.Errorf("nil store"))
	}

	runID, err := store.PipelineRunBegin(ctx, "pipeline")
	if err != nil {
		return Report{}, faults.NewRunFault("PipelineRunBegin", err)
	}

	counters := &faults.Counters{}
	report := Report{RunID: runID}

	markets, err := store.ListMarkets(ctx)
	if err != nil {
		_ = store.PipelineRunEnd(ctx, runID, "failed", counters.Load())
		return report, faults.NewRunFault("ListMarkets", err)
	}

	tradesByMarket := make(map[string][]crowdsignal.Trade, len(markets))
	outcomeByMarket := make(map[string]crowdsignal.Outcome, len(markets))
	marketByID := make(map[string]crowdsignal.Market, len(markets))
	for _, m := range markets {
		marketByID[m.ID] = m
		trades, err := store.ListTrades(ctx, m.ID, nil, nil)
		if err != nil {
			_ = store.PipelineRunEnd(ctx, runID, "failed", counters.Load())
			return report, faults.NewRunFault("ListTrades", err)
		}
		tradesByMarket[m.ID] = trades

		outcome, err := store.GetOutcome(ctx, m.ID)
		if err != nil {
			_ = store.PipelineRunEnd(ctx, runID, "failed", counters.Load())
			return report, faults.NewRunFault("GetOutcome", err)
		}
		if outcome != nil {
			outcomeByMarket[m.ID] = *outcome
		}
	}

	var obs []features.Observation
	for marketID, outcome := range outcomeByMarket {
		market := marketByID[marketID]
		for _, t := range tradesByMarket[marketID] {
			obs = append(obs, features.Observation{Trade: t, Market: market, Outcome: outcome})
		}
	}

	metricRows, featCounters := features.New().Compute(obs, cfg)
	counters.Merge(featCounters)
	if err := store.UpsertWalletMetrics(ctx, metricRows); err != nil {
		_ = store.PipelineRunEnd(ctx, runID, "failed", counters.Load())
		return report, faults.NewRunFault("UpsertWalletMetrics", err)
	}

	weightRows := weights.New().Compute(metricRows, cfg)
	if err := store.UpsertWalletWeights(ctx, weightRows); err != nil {
		_ = store.PipelineRunEnd(ctx, runID, "failed", counters.Load())
		return report, faults.NewRunFault("UpsertWalletWeights", err)
	}

	profiles := aggregator.NewMapProfileLookup(weightRows, metricRows)
	at := time.Now().UTC()
	report.EvaluatedAt = at

	processed, skipped, snapCounters, err := computeSnapshots(ctx, store, markets, tradesByMarket, at, profiles, cfg)
	counters.Merge(snapCounters)
	report.MarketsProcessed = processed
	report.MarketsSkipped = skipped
	if err != nil {
		_ = store.PipelineRunEnd(ctx, runID, "failed", counters.Load())
		return report, faults.NewRunFault("AppendSnapshot", err)
	}

	if cfg.RunBacktest {
		fixtures := buildFixtures(markets, tradesByMarket, outcomeByMarket)
		driver := backtest.New()
		if cfg.BacktestSweep {
			sweep, sweepCounters := driver.Sweep(ctx, fixtures, profiles, cfg.BacktestMaxHours, cfg)
			counters.Merge(sweepCounters)
			report.SweepReport = &sweep
			for _, r := range sweep.Reports {
				if err := store.InsertBacktestReport(ctx, r); err != nil {
					_ = store.PipelineRunEnd(ctx, runID, "failed", counters.Load())
					return report, faults.NewRunFault("InsertBacktestReport", err)
				}
			}
		} else {
			btReport, btCounters := driver.Run(ctx, fixtures, profiles, cfg.BacktestCutoffHours, cfg)
			counters.Merge(btCounters)
			report.BacktestReport = &btReport
			if err := store.InsertBacktestReport(ctx, btReport); err != nil {
				_ = store.PipelineRunEnd(ctx, runID, "failed", counters.Load())
				return report, faults.NewRunFault("InsertBacktestReport", err)
			}
		}
	}

	report.Status = "completed"
	report.Counters = counters.Load()
	if err := store.PipelineRunEnd(ctx, runID, report.Status, report.Counters); err != nil {
		return report, faults.NewRunFault("PipelineRunEnd", err)
	}
	return report, nil
}

func buildFixtures(markets []crowdsignal.Market, tradesByMarket map[string][]crowdsignal.Trade, outcomeByMarket map[string]crowdsignal.Outcome) []backtest.MarketFixture {
	var fixtures []backtest.MarketFixture
	for _, m := range markets {
		outcome, ok := outcomeByMarket[m.ID]
		if !ok {
			continue
		}
		fixtures = append(fixtures, backtest.MarketFixture{
			Market:  m,
			Trades:  tradesByMarket[m.ID],
			Outcome: outcome,
		})
	}
	return fixtures
}

// computeSnapshots runs aggregator.Compute for every market on a bounded
// worker pool: a fixed number of goroutines reading markets off a
// channel, each result appended under a mutex in whatever order it
// finishes, then the whole result set is written back in deterministic
// (market ID) order.
func computeSnapshots(ctx context.Context, store crowdsignal.Store, markets []crowdsignal.Market, tradesByMarket map[string][]crowdsignal.Trade, at time.Time, profiles aggregator.ProfileLookup, cfg crowdsignal.Config) (processed int, skipped []string, counters *faults.Counters, err error) {
	counters = &faults.Counters{}
	workers := cfg.PipelineWorkers
	if workers <= 0 {
		workers = 1
	}

	type result struct {
		market string
		snap   crowdsignal.Snapshot
	}

	var mu sync.Mutex
	var results []result
	var skippedMu sync.Mutex

	jobs := make(chan crowdsignal.Market)
	var wg sync.WaitGroup
	wg.Add(workers)

	agg := aggregator.New()
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for m := range jobs {
				trades := tradesByMarket[m.ID]
				if cfg.MaxWalletsPerMarket > 0 && activeWalletCount(trades, at) > cfg.MaxWalletsPerMarket {
					skippedMu.Lock()
					skipped = append(skipped, m.ID)
					skippedMu.Unlock()
					continue
				}
				snap, marketCounters := agg.Compute(ctx, m, trades, profiles, at, cfg)
				counters.Merge(marketCounters)

				mu.Lock()
				results = append(results, result{market: m.ID, snap: snap})
				mu.Unlock()
			}
		}()
	}
	for _, m := range markets {
		jobs <- m
	}
	close(jobs)
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].market < results[j].market })
	for _, r := range results {
		if writeErr := store.AppendSnapshot(ctx, r.snap); writeErr != nil && err == nil {
			err = fmt.Errorf("append snapshot for market %s: %w", r.market, writeErr)
		}
	}
	sort.Strings(skipped)
	return len(results), skipped, counters, err
}

func activeWalletCount(trades []crowdsignal.Trade, at time.Time) int {
	wallets := make(map[string]struct{})
	for _, t := range trades {
		if !t.Timestamp.After(at) {
			wallets[t.Wallet.Hex()] = struct{}{}
		}
	}
	return len(wallets)
}
