package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/faults"
)

func TestListTrades_FiltersByWindow(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.PutMarket(crowdsignal.Market{ID: "m1"})
	for i := 0; i < 5; i++ {
		s.PutTrade(crowdsignal.Trade{
			MarketID: "m1", Timestamp: base.Add(time.Duration(i) * time.Hour),
			Price: decimal.NewFromFloat(0.5), Size: decimal.NewFromFloat(1),
		})
	}

	from := base.Add(time.Hour)
	to := base.Add(3 * time.Hour)
	trades, err := s.ListTrades(context.Background(), "m1", &from, &to)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades in [1h,3h], got %d", len(trades))
	}
}

func TestListTrades_KeptSortedChronologically(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.PutTrade(crowdsignal.Trade{MarketID: "m1", Timestamp: base.Add(3 * time.Hour)})
	s.PutTrade(crowdsignal.Trade{MarketID: "m1", Timestamp: base})
	s.PutTrade(crowdsignal.Trade{MarketID: "m1", Timestamp: base.Add(time.Hour)})

	trades, _ := s.ListTrades(context.Background(), "m1", nil, nil)
	for i := 1; i < len(trades); i++ {
		if trades[i].Timestamp.Before(trades[i-1].Timestamp) {
			t.Fatal("trades are not stored in chronological order")
		}
	}
}

func TestListResolvedTradesForWallet_FiltersByCategory(t *testing.T) {
	s := New()
	wallet := common.HexToAddress("0x1")
	s.PutMarket(crowdsignal.Market{ID: "m1", Category: "politics"})
	s.PutMarket(crowdsignal.Market{ID: "m2", Category: "sports"})
	s.PutOutcome(crowdsignal.Outcome{MarketID: "m1", ResolvedOutcome: 1})
	s.PutOutcome(crowdsignal.Outcome{MarketID: "m2", ResolvedOutcome: 0})
	s.PutTrade(crowdsignal.Trade{MarketID: "m1", Wallet: wallet})
	s.PutTrade(crowdsignal.Trade{MarketID: "m2", Wallet: wallet})

	rows, err := s.ListResolvedTradesForWallet(context.Background(), wallet, "politics", "")
	if err != nil {
		t.Fatalf("ListResolvedTradesForWallet: %v", err)
	}
	if len(rows) != 1 || rows[0].Market.ID != "m1" {
		t.Fatalf("expected only the politics-category row, got %d rows", len(rows))
	}
}

func TestUpsertWalletMetrics_ReplacesWholeTable(t *testing.T) {
	s := New()
	wallet := common.HexToAddress("0x2")
	if err := s.UpsertWalletMetrics(context.Background(), []crowdsignal.WalletMetric{{Wallet: wallet, SampleSize: 1}}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertWalletMetrics(context.Background(), []crowdsignal.WalletMetric{}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if rows := s.WalletMetrics(); len(rows) != 0 {
		t.Fatalf("expected the second upsert to fully replace the table, got %d rows", len(rows))
	}
}

func TestPipelineRunBeginEnd_RoundTrips(t *testing.T) {
	s := New()
	runID, err := s.PipelineRunBegin(context.Background(), "test")
	if err != nil {
		t.Fatalf("PipelineRunBegin: %v", err)
	}
	if err := s.PipelineRunEnd(context.Background(), runID, "completed", faults.Snapshot{MalformedInput: 2}); err != nil {
		t.Fatalf("PipelineRunEnd: %v", err)
	}
}

func TestPipelineRunEnd_UnknownRunErrors(t *testing.T) {
	s := New()
	if err := s.PipelineRunEnd(context.Background(), uuid.Nil, "completed", faults.Snapshot{}); err == nil {
		t.Fatal("expected an error ending an unknown run")
	}
}
