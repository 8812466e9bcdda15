// Package belief implements the belief inference engine (component B): it
// derives a single (belief, confidence) pair for one wallet on one market
// at an evaluation instant, from that wallet's trades on the market up to
// that instant.
package belief

import (
	"math"
	"sort"
	"time"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/revealedbelief"
)

// Engine is the belief engine. It holds no state; a zero value is usable.
type Engine struct{}

// New returns a ready-to-use Engine.
func New() *Engine { return &Engine{} }

type vote struct {
	ts        time.Time
	yesBelief float64
	rawWeight float64
}

// Infer derives the (belief, confidence) pair for a single wallet's trades
// on a single market, restricted to trades at or before at. trades need not
// be pre-sorted or pre-filtered; Infer does both. ok is false when no trade
// is at or before at (P3) — the wallet does not participate in the
// snapshot.
func (e *Engine) Infer(trades []crowdsignal.Trade, at time.Time, cfg crowdsignal.Config) (belief, confidence float64, ok bool) {
	eligible := make([]crowdsignal.Trade, 0, len(trades))
	for _, t := range trades {
		if !t.Timestamp.After(at) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return 0, 0, false
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Timestamp.Before(eligible[j].Timestamp) })

	halfLife := cfg.HalfLifeHours
	votes := make([]vote, 0, len(eligible))
	streak := 0
	var prevSign bool
	var havePrev bool

	for _, t := range eligible {
		price, _ := t.Price.Float64()
		size, _ := t.Size.Float64()
		yesBelief := revealedbelief.YesBelief(t.Side, t.Action, price)
		sign := yesBelief >= 0.5

		if havePrev && sign == prevSign {
			streak++
		} else {
			streak = 1
		}
		prevSign = sign
		havePrev = true

		sizeWeight := math.Sqrt(size)
		ageHours := at.Sub(t.Timestamp).Hours()
		timeWeight := math.Pow(2, -ageHours/halfLife)
		persistenceBoost := 1 + 0.1*math.Min(float64(streak), 5)
		rawWeight := sizeWeight * timeWeight * persistenceBoost

		votes = append(votes, vote{ts: t.Timestamp, yesBelief: yesBelief, rawWeight: rawWeight})
	}

	var beliefNum, signalMass float64
	for _, v := range votes {
		beliefNum += v.yesBelief * v.rawWeight
		signalMass += v.rawWeight
	}
	if signalMass == 0 {
		return 0, 0, false
	}
	belief = beliefNum / signalMass

	massScore := 1 - math.Exp(-signalMass/cfg.SignalMassScale)
	supportScore := 1 - math.Exp(-float64(len(eligible))/cfg.SupportScale)
	persistenceScore := 1 - churn(votes)
	confidence = massScore * supportScore * persistenceScore

	belief = revealedbelief.Clamp01(belief)
	confidence = revealedbelief.Clamp01(confidence)
	return belief, confidence, true
}

// churn reports the fraction of adjacent vote pairs (already chronological)
// whose revealed YES-belief sign relative to 0.5 flips.
func churn(votes []vote) float64 {
	if len(votes) < 2 {
		return 0
	}
	flips := 0
	for i := 1; i < len(votes); i++ {
		prev := votes[i-1].yesBelief >= 0.5
		cur := votes[i].yesBelief >= 0.5
		if prev != cur {
			flips++
		}
	}
	return float64(flips) / float64(len(votes)-1)
}
