package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/memstore"
)

func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.PutMarket(crowdsignal.Market{ID: "m1", Category: "politics", EndTime: base.Add(48 * time.Hour)})
	s.PutOutcome(crowdsignal.Outcome{MarketID: "m1", ResolvedOutcome: 1, ResolutionTime: base.Add(48 * time.Hour)})

	for i := 0; i < 6; i++ {
		wallet := common.HexToAddress("0x10" + string(rune('0'+i)))
		s.PutTrade(crowdsignal.Trade{
			MarketID: "m1", Wallet: wallet, Timestamp: base.Add(time.Duration(i) * time.Hour),
			Side: crowdsignal.SideYES, Action: crowdsignal.ActionBuy,
			Price: decimal.NewFromFloat(0.5 + 0.05*float64(i)), Size: decimal.NewFromFloat(30),
		})
	}
	return s
}

func TestRun_NilStoreFails(t *testing.T) {
	_, err := Run(context.Background(), nil, crowdsignal.DefaultConfig())
	if err == nil {
		t.Fatal("expected Run to fail against a nil store")
	}
}

func TestRun_ProducesMetricsWeightsAndSnapshots(t *testing.T) {
	store := seededStore(t)
	cfg := crowdsignal.TightConfig()

	report, err := Run(context.Background(), store, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != "completed" {
		t.Fatalf("expected status completed, got %q", report.Status)
	}
	if report.MarketsProcessed != 1 {
		t.Fatalf("expected 1 market processed, got %d", report.MarketsProcessed)
	}
	if len(store.WalletMetrics()) == 0 {
		t.Error("expected wallet metrics to be populated")
	}
	if len(store.WalletWeights()) == 0 {
		t.Error("expected wallet weights to be populated")
	}
	if len(store.Snapshots()) != 1 {
		t.Errorf("expected 1 snapshot, got %d", len(store.Snapshots()))
	}
}

func TestRun_SkipsMarketsOverWalletCap(t *testing.T) {
	store := seededStore(t)
	cfg := crowdsignal.TightConfig()
	cfg.MaxWalletsPerMarket = 1

	report, err := Run(context.Background(), store, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.MarketsProcessed != 0 {
		t.Errorf("expected the over-cap market to be skipped, got %d processed", report.MarketsProcessed)
	}
	if len(report.MarketsSkipped) != 1 {
		t.Errorf("expected 1 skipped market, got %d", len(report.MarketsSkipped))
	}
}

func TestRun_BacktestPhaseRunsWhenRequested(t *testing.T) {
	store := seededStore(t)
	cfg := crowdsignal.TightConfig()
	cfg.RunBacktest = true
	cfg.BacktestCutoffHours = 6

	report, err := Run(context.Background(), store, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.BacktestReport == nil {
		t.Fatal("expected a backtest report when RunBacktest is set")
	}
	if len(store.BacktestReports()) != 1 {
		t.Errorf("expected 1 stored backtest report, got %d", len(store.BacktestReports()))
	}
}
