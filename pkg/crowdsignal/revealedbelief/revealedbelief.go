// Package revealedbelief computes the "revealed YES belief" a wallet
// expresses by taking a given trade, and the directional sign of that
// trade. Both the feature engine, the belief engine, and the aggregator
// need this mapping; it is factored out once rather than inlined three
// times, the same way the original implementation shares it across its
// feature and aggregation services.
package revealedbelief

import "github.com/crowdwisdom/core/pkg/crowdsignal"

// YesBelief returns the instantaneous YES-belief implied by a trade: the
// belief the wallet revealed by taking this position, not the market
// price.
//
//	price         if (side=YES, action=BUY) or (side=NO, action=SELL)
//	1 - price     otherwise
func YesBelief(side crowdsignal.Side, action crowdsignal.Action, price float64) float64 {
	if isYesAligned(side, action) {
		return price
	}
	return 1 - price
}

// isYesAligned reports whether the trade's (side, action) pair is in the
// direction of a YES belief.
func isYesAligned(side crowdsignal.Side, action crowdsignal.Action) bool {
	return (side == crowdsignal.SideYES && action == crowdsignal.ActionBuy) ||
		(side == crowdsignal.SideNO && action == crowdsignal.ActionSell)
}

// ImpliedYesPrice returns the market's implied YES price for a trade: the
// price of the YES outcome itself, independent of which action the wallet
// took. Unlike YesBelief, this ignores action entirely — a YES SELL at
// 0.40 has an implied YES price of 0.40, not 0.60.
//
//	price         if side=YES
//	1 - price     if side=NO
func ImpliedYesPrice(side crowdsignal.Side, price float64) float64 {
	if side == crowdsignal.SideYES {
		return price
	}
	return 1 - price
}

// SideSign returns +1 for a YES BUY / NO SELL trade and -1 otherwise, the
// directional sign used by roi_proxy and the backtest flow summary.
func SideSign(side crowdsignal.Side, action crowdsignal.Action) float64 {
	if isYesAligned(side, action) {
		return 1
	}
	return -1
}

// Clamp01 clamps x to [0, 1].
func Clamp01(x float64) float64 {
	return Clamp(x, 0, 1)
}

// Clamp clamps x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
