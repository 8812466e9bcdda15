package backtest

import (
	"context"
	"hash/fnv"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/aggregator"
)

func syntheticWallet(marketID string, i int) common.Address {
	h := fnv.New64a()
	h.Write([]byte(marketID))
	seed := h.Sum64()
	return common.BigToAddress(big.NewInt(int64(seed%1_000_000_000) + int64(i) + 1))
}

func syntheticFixture(id string, resolvedOutcome int, n int) (MarketFixture, []crowdsignal.WalletWeight, []crowdsignal.WalletMetric) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := base.Add(72 * time.Hour)
	market := crowdsignal.Market{ID: id, Category: "politics", EndTime: end}
	outcome := crowdsignal.Outcome{MarketID: id, ResolvedOutcome: resolvedOutcome, ResolutionTime: end}

	var trades []crowdsignal.Trade
	var weights []crowdsignal.WalletWeight
	var metrics []crowdsignal.WalletMetric
	for i := 0; i < n; i++ {
		wallet := syntheticWallet(id, i)
		price := 0.5
		if resolvedOutcome == 1 {
			price = 0.5 + 0.3*float64(i)/float64(n)
		} else {
			price = 0.5 - 0.3*float64(i)/float64(n)
		}
		trades = append(trades, crowdsignal.Trade{
			MarketID: id, Wallet: wallet, Timestamp: base.Add(time.Duration(i) * time.Hour),
			Side: crowdsignal.SideYES, Action: crowdsignal.ActionBuy,
			Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(25),
		})
		weights = append(weights, crowdsignal.WalletWeight{
			Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, Weight: 2,
		})
		metrics = append(metrics, crowdsignal.WalletMetric{
			Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, SampleSize: 20,
		})
	}

	return MarketFixture{Market: market, Trades: trades, Outcome: outcome}, weights, metrics
}

func TestRun_SkipsMarketsWithoutEnoughHistory(t *testing.T) {
	fixture, weights, metrics := syntheticFixture("m1", 1, 5)
	profiles := aggregator.NewMapProfileLookup(weights, metrics)
	cfg := crowdsignal.DefaultConfig()

	report, _ := New().Run(context.Background(), []MarketFixture{fixture}, profiles, 1000, cfg)
	if len(report.Evaluations) != 0 {
		t.Errorf("a cutoff far before the earliest trade should produce no evaluations, got %d", len(report.Evaluations))
	}
}

func TestRun_ProducesOneEvaluationPerFixture(t *testing.T) {
	f1, w1, m1 := syntheticFixture("m1", 1, 8)
	f2, w2, m2 := syntheticFixture("m2", 0, 8)
	profiles := aggregator.NewMapProfileLookup(append(w1, w2...), append(m1, m2...))
	cfg := crowdsignal.DefaultConfig()

	report, _ := New().Run(context.Background(), []MarketFixture{f1, f2}, profiles, 12, cfg)
	if len(report.Evaluations) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(report.Evaluations))
	}
	if report.BrierMarketMean == 0 && report.BrierCrowdMean == 0 {
		t.Error("expected nonzero aggregate Brier scores")
	}
}

func TestRun_TopDivergenceCasesAreSortedAndTagged(t *testing.T) {
	f1, w1, m1 := syntheticFixture("m1", 1, 10)
	profiles := aggregator.NewMapProfileLookup(w1, m1)
	cfg := crowdsignal.DefaultConfig()

	report, _ := New().Run(context.Background(), []MarketFixture{f1}, profiles, 12, cfg)
	for _, e := range report.TopDivergenceCases {
		if e.Winner != "crowd" && e.Winner != "market" && e.Winner != "tie" {
			t.Errorf("unexpected winner tag %q", e.Winner)
		}
	}
}

func TestSweep_CoversEveryHour(t *testing.T) {
	f1, w1, m1 := syntheticFixture("m1", 1, 10)
	profiles := aggregator.NewMapProfileLookup(w1, m1)
	cfg := crowdsignal.DefaultConfig()

	sweep, _ := New().Sweep(context.Background(), []MarketFixture{f1}, profiles, 5, cfg)
	if len(sweep.Reports) != 5 {
		t.Errorf("expected 5 sweep reports for maxHours=5, got %d", len(sweep.Reports))
	}
}
