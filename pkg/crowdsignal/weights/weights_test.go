package weights

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
)

func TestCompute_OneWeightRowPerMetricRow(t *testing.T) {
	wallet := common.HexToAddress("0xaa")
	metrics := []crowdsignal.WalletMetric{
		{Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, SampleSize: 20, Brier: 0.15},
		{Wallet: wallet, CategoryBucket: "politics", HorizonBucket: crowdsignal.HorizonAll, SampleSize: 10, Brier: 0.20},
	}
	rows := New().Compute(metrics, crowdsignal.DefaultConfig())
	if len(rows) != 2 {
		t.Fatalf("expected one weight row per metric row, got %d", len(rows))
	}
}

func TestCompute_WeightIsClampedToFour(t *testing.T) {
	wallet := common.HexToAddress("0xbb")
	metrics := []crowdsignal.WalletMetric{
		{
			Wallet: wallet, CategoryBucket: "politics", HorizonBucket: string(crowdsignal.HorizonShort),
			SampleSize: 1000, Brier: 0.0, CalibrationErr: 0, Churn: 0, Specialization: 1, TimingEdge: 1,
		},
	}
	rows := New().Compute(metrics, crowdsignal.DefaultConfig())
	if rows[0].Weight > 4 {
		t.Errorf("weight should be clamped to 4, got %.4f", rows[0].Weight)
	}
}

func TestCompute_BadWalletEdgeFloorsAtZero(t *testing.T) {
	wallet := common.HexToAddress("0xcc")
	metrics := []crowdsignal.WalletMetric{
		{Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, SampleSize: 50, Brier: 0.9},
	}
	rows := New().Compute(metrics, crowdsignal.DefaultConfig())
	if rows[0].Weight != 0 {
		t.Errorf("a wallet with brier above the no-skill baseline should floor at weight 0, got %.4f", rows[0].Weight)
	}
}

func TestCompute_ShrinkageBlendsTowardGlobalPrior(t *testing.T) {
	wallet := common.HexToAddress("0xdd")
	// Global row is skilled; a low-sample-size category row should shrink
	// toward it rather than trusting its own noisy brier fully.
	metrics := []crowdsignal.WalletMetric{
		{Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, SampleSize: 500, Brier: 0.10},
		{Wallet: wallet, CategoryBucket: "sports", HorizonBucket: crowdsignal.HorizonAll, SampleSize: 1, Brier: 0.25},
	}
	cfg := crowdsignal.DefaultConfig()
	rows := New().Compute(metrics, cfg)

	var sportsRow crowdsignal.WalletWeight
	for _, r := range rows {
		if r.CategoryBucket == "sports" {
			sportsRow = r
		}
	}
	// rawEdge for the sports row is 0.25-0.25=0; with n=1 its shrinkage
	// weight toward the (better) global prior should leave shrunk_edge > 0.
	if sportsRow.ShrunkEdge <= 0 {
		t.Errorf("expected shrinkage toward a positive global prior to lift shrunk_edge above 0, got %.4f", sportsRow.ShrunkEdge)
	}
}

func TestCompute_SpecializationBoostOnlyAppliesToCategoryRows(t *testing.T) {
	wallet := common.HexToAddress("0xee")
	metrics := []crowdsignal.WalletMetric{
		{Wallet: wallet, CategoryBucket: crowdsignal.CategoryAll, HorizonBucket: crowdsignal.HorizonAll, SampleSize: 100, Brier: 0.15, Specialization: 1},
		{Wallet: wallet, CategoryBucket: "politics", HorizonBucket: crowdsignal.HorizonAll, SampleSize: 100, Brier: 0.15, Specialization: 1},
	}
	rows := New().Compute(metrics, crowdsignal.DefaultConfig())

	var global, cat crowdsignal.WalletWeight
	for _, r := range rows {
		if r.CategoryBucket == crowdsignal.CategoryAll {
			global = r
		} else {
			cat = r
		}
	}
	if cat.Weight <= global.Weight {
		t.Errorf("category-specific row with full specialization should out-weight the global row: cat=%.4f global=%.4f", cat.Weight, global.Weight)
	}
}
