// Package weights implements the shrinkage trust-weight engine (component
// W): it converts WalletMetric rows into bounded, support-aware
// WalletWeight rows.
package weights

import (
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/revealedbelief"
)

// Engine is the weight engine. It holds no state; a zero value is usable.
type Engine struct{}

// New returns a ready-to-use Engine.
func New() *Engine { return &Engine{} }

// Compute derives a WalletWeight row for every input WalletMetric row.
// Rows with SampleSize == 0 are never passed in by the feature engine, so
// every metric row produces exactly one weight row (P2).
func (e *Engine) Compute(metrics []crowdsignal.WalletMetric, cfg crowdsignal.Config) []crowdsignal.WalletWeight {
	globalEdge := make(map[common.Address]float64)
	for _, m := range metrics {
		if m.CategoryBucket == crowdsignal.CategoryAll && m.HorizonBucket == crowdsignal.HorizonAll {
			globalEdge[m.Wallet] = 0.25 - m.Brier
		}
	}

	out := make([]crowdsignal.WalletWeight, 0, len(metrics))
	for _, m := range metrics {
		rawEdge := 0.25 - m.Brier
		priorEdge, ok := globalEdge[m.Wallet]
		if !ok {
			priorEdge = 0
		}

		n := float64(m.SampleSize)
		kappa := cfg.PriorStrength
		alpha := n / (n + kappa)
		shrunkEdge := alpha*rawEdge + (1-alpha)*priorEdge

		base := math.Max(0, shrunkEdge*4)

		churnPenalty := revealedbelief.Clamp(1-m.Churn, 0.25, 1)
		calibrationPenalty := revealedbelief.Clamp(1-2*m.CalibrationErr, 0.25, 1)
		specializationBoost := 1.0
		if m.CategoryBucket != crowdsignal.CategoryAll {
			specializationBoost = revealedbelief.Clamp(1+0.5*m.Specialization, 1, 2)
		}
		timingBoost := revealedbelief.Clamp(1+2*math.Max(0, m.TimingEdge), 1, 2)

		weight := base * churnPenalty * calibrationPenalty * specializationBoost * timingBoost
		weight = revealedbelief.Clamp(weight, 0, 4)

		uncertainty := revealedbelief.Clamp(m.CalibrationErr+1/math.Sqrt(n+1), 0, 1)

		out = append(out, crowdsignal.WalletWeight{
			Wallet:         m.Wallet,
			CategoryBucket: m.CategoryBucket,
			HorizonBucket:  m.HorizonBucket,
			Weight:         weight,
			Uncertainty:    uncertainty,
			RawEdge:        rawEdge,
			ShrunkEdge:     shrunkEdge,
			Support:        m.SampleSize,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Wallet.Hex() != b.Wallet.Hex() {
			return a.Wallet.Hex() < b.Wallet.Hex()
		}
		if a.CategoryBucket != b.CategoryBucket {
			return a.CategoryBucket < b.CategoryBucket
		}
		return a.HorizonBucket < b.HorizonBucket
	})
	return out
}
