package aggregator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
)

func TestCompute_NoTradesIsDegenerate(t *testing.T) {
	market := crowdsignal.Market{ID: "m1", Category: "politics", EndTime: time.Now().Add(24 * time.Hour)}
	at := time.Now()
	lookup := NewMapProfileLookup(nil, nil)

	snap, counters := New().Compute(context.Background(), market, nil, lookup, at, crowdsignal.DefaultConfig())
	if !snap.Degenerate {
		t.Error("expected a market with no trades to produce a degenerate snapshot")
	}
	if snap.CrowdProb != snap.MarketProb {
		t.Errorf("degenerate crowd_prob should fall back to market_prob: crowd=%.4f market=%.4f", snap.CrowdProb, snap.MarketProb)
	}
	if counters.Load().DegenerateMarkets != 1 {
		t.Error("expected a degenerate-market fault to be counted")
	}
}

func TestCompute_MissingProfileIsCounted(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	market := crowdsignal.Market{ID: "m1", Category: "politics", EndTime: base.Add(48 * time.Hour)}
	wallet := common.HexToAddress("0x1")
	trades := []crowdsignal.Trade{
		{MarketID: "m1", Wallet: wallet, Timestamp: base, Side: crowdsignal.SideYES, Action: crowdsignal.ActionBuy, Price: decimal.NewFromFloat(0.6), Size: decimal.NewFromFloat(50)},
	}
	lookup := NewMapProfileLookup(nil, nil) // no weight rows at all

	snap, counters := New().Compute(context.Background(), market, trades, lookup, base.Add(time.Hour), crowdsignal.DefaultConfig())
	if counters.Load().MissingPriorContext != 1 {
		t.Error("expected a missing-prior-context fault for an unweighted wallet")
	}
	// With zero weight the wallet contributes no effective weight, so the
	// snapshot degenerates to market_prob.
	if !snap.Degenerate {
		t.Error("a single zero-weight wallet should still degenerate")
	}
}

func TestCompute_SingleTrustedWalletDrivesCrowdProb(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	market := crowdsignal.Market{ID: "m1", Category: "politics", EndTime: base.Add(48 * time.Hour)}
	wallet := common.HexToAddress("0x2")
	trades := []crowdsignal.Trade{
		{MarketID: "m1", Wallet: wallet, Timestamp: base, Side: crowdsignal.SideYES, Action: crowdsignal.ActionBuy, Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromFloat(50)},
	}
	weights := []crowdsignal.WalletWeight{
		{Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, Weight: 3, Support: 50},
	}
	metrics := []crowdsignal.WalletMetric{
		{Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, SampleSize: 50, Churn: 0},
	}
	lookup := NewMapProfileLookup(weights, metrics)

	at := base.Add(time.Hour)
	snap, _ := New().Compute(context.Background(), market, trades, lookup, at, crowdsignal.DefaultConfig())
	if snap.Degenerate {
		t.Fatal("a single trusted wallet with nonzero weight should not degenerate")
	}
	if snap.ActiveWallets != 1 {
		t.Errorf("expected 1 active wallet, got %d", snap.ActiveWallets)
	}
	if len(snap.Drivers) != 1 {
		t.Errorf("expected 1 driver, got %d", len(snap.Drivers))
	}
}

func TestCompute_InvariantsHoldWithinBounds(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	market := crowdsignal.Market{ID: "m1", Category: "crypto", EndTime: base.Add(72 * time.Hour)}

	var trades []crowdsignal.Trade
	var weights []crowdsignal.WalletWeight
	var metrics []crowdsignal.WalletMetric
	for i := 0; i < 10; i++ {
		wallet := common.BigToAddress(big.NewInt(int64(i + 1)))
		trades = append(trades, crowdsignal.Trade{
			MarketID: "m1", Wallet: wallet, Timestamp: base.Add(time.Duration(i) * time.Minute),
			Side: crowdsignal.SideYES, Action: crowdsignal.ActionBuy,
			Price: decimal.NewFromFloat(0.4 + 0.02*float64(i)), Size: decimal.NewFromFloat(20),
		})
		weights = append(weights, crowdsignal.WalletWeight{
			Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, Weight: float64(i % 4),
		})
		metrics = append(metrics, crowdsignal.WalletMetric{
			Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, SampleSize: 10,
		})
	}
	lookup := NewMapProfileLookup(weights, metrics)

	snap, counters := New().Compute(context.Background(), market, trades, lookup, base.Add(time.Hour), crowdsignal.DefaultConfig())
	if snap.CrowdProb < 0 || snap.CrowdProb > 1 {
		t.Errorf("crowd_prob out of [0,1]: %.4f", snap.CrowdProb)
	}
	if snap.MarketProb < 0 || snap.MarketProb > 1 {
		t.Errorf("market_prob out of [0,1]: %.4f", snap.MarketProb)
	}
	if snap.Confidence < 0 || snap.Confidence > 1 {
		t.Errorf("confidence out of [0,1]: %.4f", snap.Confidence)
	}
	if counters.Load().InvariantViolations != 0 {
		t.Error("expected no invariant violations on well-formed input")
	}
}

func TestLookup_FallsBackThroughBucketChain(t *testing.T) {
	wallet := common.HexToAddress("0x3")
	weights := []crowdsignal.WalletWeight{
		{Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, Weight: 1.5},
	}
	lookup := NewMapProfileLookup(weights, nil)

	prof := lookup.Lookup(wallet, "politics", string(crowdsignal.HorizonShort))
	if !prof.Found {
		t.Fatal("expected fallback to the (all,all) row to succeed")
	}
	if prof.Weight.Weight != 1.5 {
		t.Errorf("fallback weight = %.2f, want 1.5", prof.Weight.Weight)
	}
}

func TestClassifyCohort_NoiseChurnerTakesPriority(t *testing.T) {
	m := crowdsignal.WalletMetric{Churn: 0.9, TimingEdge: 0.9, Persistence: 0.9, Specialization: 0.9, SampleSize: 100, AvgSize: 1000}
	if got := classifyCohort(m); got != "noise_churner" {
		t.Errorf("classifyCohort = %q, want noise_churner", got)
	}
}

func TestClassifyCohort_GeneralistFallback(t *testing.T) {
	m := crowdsignal.WalletMetric{Churn: 0.5, TimingEdge: 0, Persistence: 0, Specialization: 0, SampleSize: 1, AvgSize: 1, Brier: 0.3, ROIProxy: 0.5}
	if got := classifyCohort(m); got != "generalist_flow" {
		t.Errorf("classifyCohort = %q, want generalist_flow", got)
	}
}
