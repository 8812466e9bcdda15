package belief

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
)

func TestInfer_NoEligibleTradesIsNotOK(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []crowdsignal.Trade{
		{Timestamp: at.Add(time.Hour), Side: crowdsignal.SideYES, Action: crowdsignal.ActionBuy, Price: decimal.NewFromFloat(0.6), Size: decimal.NewFromFloat(10)},
	}
	_, _, ok := New().Infer(trades, at, crowdsignal.DefaultConfig())
	if ok {
		t.Fatal("expected ok=false when every trade is after the evaluation instant")
	}
}

func TestInfer_SingleTradeBeliefMatchesYesBelief(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []crowdsignal.Trade{
		{Timestamp: at, Side: crowdsignal.SideYES, Action: crowdsignal.ActionBuy, Price: decimal.NewFromFloat(0.65), Size: decimal.NewFromFloat(10)},
	}
	belief, confidence, ok := New().Infer(trades, at, crowdsignal.DefaultConfig())
	if !ok {
		t.Fatal("expected ok=true")
	}
	if diff := belief - 0.65; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("belief = %.4f, want 0.65", belief)
	}
	if confidence <= 0 || confidence >= 1 {
		t.Errorf("confidence should be strictly between 0 and 1 for a single modest trade, got %.4f", confidence)
	}
}

func TestInfer_OlderTradesDecayInInfluence(t *testing.T) {
	at := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	cfg := crowdsignal.TightConfig()

	// A large old NO trade and a small recent YES trade: with a short
	// half-life, the recent trade should dominate.
	trades := []crowdsignal.Trade{
		{Timestamp: at.Add(-10 * 24 * time.Hour), Side: crowdsignal.SideNO, Action: crowdsignal.ActionBuy, Price: decimal.NewFromFloat(0.9), Size: decimal.NewFromFloat(1000)},
		{Timestamp: at.Add(-time.Minute), Side: crowdsignal.SideYES, Action: crowdsignal.ActionBuy, Price: decimal.NewFromFloat(0.9), Size: decimal.NewFromFloat(10)},
	}
	belief, _, ok := New().Infer(trades, at, cfg)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if belief < 0.5 {
		t.Errorf("recent trade should dominate a decayed old trade, got belief=%.4f", belief)
	}
}

func TestInfer_MoreTradesRaiseSupportScore(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := crowdsignal.DefaultConfig()

	one := []crowdsignal.Trade{
		{Timestamp: at, Side: crowdsignal.SideYES, Action: crowdsignal.ActionBuy, Price: decimal.NewFromFloat(0.6), Size: decimal.NewFromFloat(50)},
	}
	_, confOne, _ := New().Infer(one, at, cfg)

	many := make([]crowdsignal.Trade, 0, 20)
	for i := 0; i < 20; i++ {
		many = append(many, crowdsignal.Trade{
			Timestamp: at.Add(-time.Duration(i) * time.Minute),
			Side:      crowdsignal.SideYES, Action: crowdsignal.ActionBuy,
			Price: decimal.NewFromFloat(0.6), Size: decimal.NewFromFloat(50),
		})
	}
	_, confMany, _ := New().Infer(many, at, cfg)

	if confMany <= confOne {
		t.Errorf("20 consistent trades should raise confidence over 1 trade: one=%.4f many=%.4f", confOne, confMany)
	}
}
