// Package aggregator implements the confidence-moderated, integrity-aware
// crowd aggregation engine (component A): for a market at an evaluation
// instant it combines per-wallet beliefs and trust weights into a crowd
// probability plus a set of diagnostics and an explanation artifact.
package aggregator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/belief"
	"github.com/crowdwisdom/core/pkg/crowdsignal/faults"
	"github.com/crowdwisdom/core/pkg/crowdsignal/revealedbelief"
)

// WalletProfile is what a ProfileLookup resolves for one wallet: the
// trust-weight row and the style-descriptor metric row that backed it,
// both found (or not) via the same bucket fallback chain.
type WalletProfile struct {
	Weight crowdsignal.WalletWeight
	Metric crowdsignal.WalletMetric
	Found  bool
}

// ProfileLookup resolves a wallet's weight and metric profile for a given
// category and horizon bucket, following the fallback chain (cat,hz) ->
// (cat,"_all_") -> ("_all_",hz) -> ("_all_","_all_") -> not found.
type ProfileLookup interface {
	Lookup(wallet common.Address, cat, hz string) WalletProfile
}

type participant struct {
	wallet  common.Address
	belief  float64
	conf    float64
	churn   float64
	ew      float64
	profile WalletProfile
}

type bucketKey struct {
	wallet common.Address
	cat    string
	hz     string
}

// MapProfileLookup is the reference ProfileLookup built from a weight
// engine run's output, kept alongside the metric rows that produced it.
type MapProfileLookup struct {
	weights map[bucketKey]crowdsignal.WalletWeight
	metrics map[bucketKey]crowdsignal.WalletMetric
}

// NewMapProfileLookup indexes weight and metric rows by (wallet, cat, hz).
func NewMapProfileLookup(weights []crowdsignal.WalletWeight, metrics []crowdsignal.WalletMetric) *MapProfileLookup {
	l := &MapProfileLookup{
		weights: make(map[bucketKey]crowdsignal.WalletWeight, len(weights)),
		metrics: make(map[bucketKey]crowdsignal.WalletMetric, len(metrics)),
	}
	for _, w := range weights {
		l.weights[bucketKey{w.Wallet, w.CategoryBucket, w.HorizonBucket}] = w
	}
	for _, m := range metrics {
		l.metrics[bucketKey{m.Wallet, m.CategoryBucket, m.HorizonBucket}] = m
	}
	return l
}

// Lookup implements ProfileLookup.
func (l *MapProfileLookup) Lookup(wallet common.Address, cat, hz string) WalletProfile {
	candidates := []bucketKey{
		{wallet, cat, hz},
		{wallet, cat, crowdsignal.HorizonAll},
		{wallet, crowdsignal.CategoryAll, hz},
		{wallet, crowdsignal.CategoryAll, crowdsignal.HorizonAll},
	}
	for _, k := range candidates {
		if w, ok := l.weights[k]; ok {
			m := l.metrics[k]
			return WalletProfile{Weight: w, Metric: m, Found: true}
		}
	}
	return WalletProfile{Found: false}
}

// Engine is the aggregator. It holds no state; a zero value is usable.
type Engine struct {
	belief *belief.Engine
}

// New returns a ready-to-use Engine.
func New() *Engine {
	return &Engine{belief: belief.New()}
}

// Compute produces a Snapshot for market at instant at, from the full set
// of the market's trades (any instant; Compute filters to ts <= at itself)
// and a ProfileLookup over the current pipeline run's WalletWeight/
// WalletMetric rows.
func (e *Engine) Compute(ctx context.Context, market crowdsignal.Market, trades []crowdsignal.Trade, profiles ProfileLookup, at time.Time, cfg crowdsignal.Config) (crowdsignal.Snapshot, *faults.Counters) {
	counters := &faults.Counters{}
	select {
	case <-ctx.Done():
		return crowdsignal.Snapshot{MarketID: market.ID, SnapshotTime: at, Degenerate: true}, counters
	default:
	}

	byWallet := make(map[common.Address][]crowdsignal.Trade)
	var activeTradesAtT []crowdsignal.Trade
	for _, t := range trades {
		if t.MarketID != market.ID {
			continue
		}
		if !t.Timestamp.After(at) {
			byWallet[t.Wallet] = append(byWallet[t.Wallet], t)
			activeTradesAtT = append(activeTradesAtT, t)
		}
	}

	cat := market.CategoryBucket()
	hz := string(horizonAt(market, at, cfg.HorizonThresholds))

	var participants []participant
	for wallet, walletTrades := range byWallet {
		b, conf, ok := e.belief.Infer(walletTrades, at, cfg)
		if !ok {
			continue
		}
		prof := profiles.Lookup(wallet, cat, hz)
		w := 0.0
		if prof.Found {
			w = prof.Weight.Weight
		} else {
			counters.IncMissingPriorContext()
		}

		wChurn := revealedbelief.Clamp(walletChurn(walletTrades, at), 0, 1)
		antiNoise := revealedbelief.Clamp(1-0.5*wChurn, 0.5, 1)
		ew := w * conf * antiNoise

		participants = append(participants, participant{
			wallet: wallet, belief: b, conf: conf, churn: wChurn, ew: ew, profile: prof,
		})
	}

	marketProb := marketProbAt(activeTradesAtT, at, cfg.PriceWindowMinutes)

	var sumEW float64
	for _, p := range participants {
		sumEW += p.ew
	}

	degenerate := false
	var crowdProb float64
	if sumEW > 0 {
		var num float64
		for _, p := range participants {
			num += p.ew * p.belief
		}
		crowdProb = num / sumEW
	} else {
		crowdProb = marketProb
		degenerate = true
		counters.IncDegenerateMarket()
	}

	activeWallets := 0
	for _, p := range participants {
		if p.ew > 0 {
			activeWallets++
		}
	}

	divergence := crowdProb - marketProb

	var disagreement float64
	if sumEW > 0 {
		var variance float64
		for _, p := range participants {
			d := p.belief - crowdProb
			variance += p.ew * d * d
		}
		variance /= sumEW
		variance = revealedbelief.Clamp01(variance)
		disagreement = revealedbelief.Clamp01(variance * 4)
	}

	var effectiveN, herfindahl, churnMean float64
	if sumEW > 0 {
		var sumEW2 float64
		for _, p := range participants {
			sumEW2 += p.ew * p.ew
			herfindahl += (p.ew / sumEW) * (p.ew / sumEW)
			churnMean += (p.ew / sumEW) * p.churn
		}
		if sumEW2 > 0 {
			effectiveN = (sumEW * sumEW) / sumEW2
		}
	}
	participationQuality := 0.0
	if effectiveN+cfg.ParticipationHalf > 0 {
		participationQuality = effectiveN / (effectiveN + cfg.ParticipationHalf)
	}
	integrityRisk := revealedbelief.Clamp01(0.6*herfindahl + 0.4*churnMean)

	supportHaircut := revealedbelief.Clamp(float64(activeWallets)/10, 0, 1)
	confidence := 0.0
	if !degenerate {
		confidence = participationQuality * (1 - disagreement) * (1 - 0.5*integrityRisk) * supportHaircut
		confidence = revealedbelief.Clamp01(confidence)
	}

	var drivers []crowdsignal.Driver
	if sumEW > 0 {
		for _, p := range participants {
			contribution := p.ew * (p.belief - marketProb) / sumEW
			drivers = append(drivers, crowdsignal.Driver{
				Wallet: p.wallet, Weight: p.profile.Weight.Weight, Belief: p.belief, Contribution: contribution,
			})
		}
		sort.Slice(drivers, func(i, j int) bool {
			return math.Abs(drivers[i].Contribution) > math.Abs(drivers[j].Contribution)
		})
		k := cfg.DriversK
		if k > 0 && len(drivers) > k {
			drivers = drivers[:k]
		}
	}

	flow := flowSummary(trades, market.ID, at, cfg.FlowWindowHours)

	cohorts := cohortSummary(participants2Cohort(participants), marketProb)

	var explanation *crowdsignal.Explanation
	if !degenerate {
		explanation = buildExplanation(divergence, marketProb, sumEW, cohorts)
	}

	snap := crowdsignal.Snapshot{
		MarketID:             market.ID,
		SnapshotTime:         at,
		MarketProb:           marketProb,
		CrowdProb:            crowdProb,
		Divergence:           divergence,
		Confidence:           confidence,
		Disagreement:         disagreement,
		ParticipationQuality: participationQuality,
		IntegrityRisk:        integrityRisk,
		ActiveWallets:        activeWallets,
		Drivers:              drivers,
		Flow:                 flow,
		Cohorts:              cohorts,
		Explanation:          explanation,
		Degenerate:           degenerate,
	}

	if snap.CrowdProb < -1e-9 || snap.CrowdProb > 1+1e-9 || snap.MarketProb < -1e-9 || snap.MarketProb > 1+1e-9 {
		counters.IncInvariantViolation()
	}

	return snap, counters
}

func horizonAt(market crowdsignal.Market, at time.Time, th crowdsignal.HorizonThresholds) crowdsignal.HorizonBucket {
	gap := market.EndTime.Sub(at)
	if gap <= th.Short {
		return crowdsignal.HorizonShort
	}
	if gap <= th.Medium {
		return crowdsignal.HorizonMedium
	}
	return crowdsignal.HorizonLong
}

func walletChurn(trades []crowdsignal.Trade, at time.Time) float64 {
	eligible := make([]crowdsignal.Trade, 0, len(trades))
	for _, t := range trades {
		if !t.Timestamp.After(at) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) < 2 {
		return 0
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Timestamp.Before(eligible[j].Timestamp) })
	flips := 0
	var prevSign bool
	var havePrev bool
	for _, t := range eligible {
		price, _ := t.Price.Float64()
		sign := revealedbelief.YesBelief(t.Side, t.Action, price) >= 0.5
		if havePrev && sign != prevSign {
			flips++
		}
		prevSign = sign
		havePrev = true
	}
	return float64(flips) / float64(len(eligible)-1)
}

// marketProbAt computes the weighted-mid of implied YES prices over trades
// in [at-window, at]; falling back to the last observed implied YES price
// at or before at, then to 0.5 when there is no trade history at all.
func marketProbAt(trades []crowdsignal.Trade, at time.Time, windowMinutes float64) float64 {
	windowStart := at.Add(-time.Duration(windowMinutes * float64(time.Minute)))

	var num, den float64
	var lastPrice float64
	var lastTime time.Time
	haveLast := false

	for _, t := range trades {
		price, _ := t.Price.Float64()
		size, _ := t.Size.Float64()
		yesPrice := revealedbelief.ImpliedYesPrice(t.Side, price)

		if !haveLast || t.Timestamp.After(lastTime) {
			lastPrice = yesPrice
			lastTime = t.Timestamp
			haveLast = true
		}
		if !t.Timestamp.Before(windowStart) && !t.Timestamp.After(at) {
			num += yesPrice * size
			den += size
		}
	}
	if den > 0 {
		return num / den
	}
	if haveLast {
		return lastPrice
	}
	return 0.5
}

func flowSummary(trades []crowdsignal.Trade, marketID string, at time.Time, windowHours float64) crowdsignal.FlowSummary {
	windowStart := at.Add(-time.Duration(windowHours * float64(time.Hour)))
	netYes := decimal.Zero
	count := 0
	for _, t := range trades {
		if t.MarketID != marketID {
			continue
		}
		if t.Timestamp.Before(windowStart) || t.Timestamp.After(at) {
			continue
		}
		sign := revealedbelief.SideSign(t.Side, t.Action)
		signed := t.Size
		if sign < 0 {
			signed = t.Size.Neg()
		}
		netYes = netYes.Add(signed)
		count++
	}
	return crowdsignal.FlowSummary{NetYesSize: netYes, TradeCount: count}
}

type cohortParticipant struct {
	cohort       string
	ew           float64
	belief       float64
	contribution float64
}

func participants2Cohort(participants []participant) []cohortParticipant {
	out := make([]cohortParticipant, 0, len(participants))
	for _, p := range participants {
		label := "generalist_flow"
		if p.profile.Found {
			label = classifyCohort(p.profile.Metric)
		}
		out = append(out, cohortParticipant{cohort: label, ew: p.ew, belief: p.belief})
	}
	return out
}

// classifyCohort assigns a behavioral cohort label to a wallet's style
// descriptors, ported from the original implementation's cohort
// classifier.
func classifyCohort(m crowdsignal.WalletMetric) string {
	switch {
	case m.Churn > 0.65:
		return "noise_churner"
	case m.TimingEdge > 0.22 && m.Churn < 0.45 && m.SampleSize >= 5:
		return "timing_specialist"
	case m.Persistence > 0.72 && m.Specialization > 0.45 && m.SampleSize >= 6:
		return "informed_accumulator"
	case m.AvgSize > 200 && m.Churn < 0.5:
		return "whale_conviction"
	case m.Brier < 0.20 && m.Specialization > 0.40:
		return "category_specialist"
	case m.Churn < 0.35 && math.Abs(m.ROIProxy) < 0.04:
		return "maker_arb"
	default:
		return "generalist_flow"
	}
}

func cohortSummary(participants []cohortParticipant, marketProb float64) []crowdsignal.CohortSummary {
	if len(participants) == 0 {
		return nil
	}
	var sumEW float64
	for _, p := range participants {
		sumEW += p.ew
	}
	type acc struct {
		count        int
		weightSum    float64
		beliefSum    float64
		contribution float64
	}
	byLabel := make(map[string]*acc)
	for _, p := range participants {
		a, ok := byLabel[p.cohort]
		if !ok {
			a = &acc{}
			byLabel[p.cohort] = a
		}
		a.count++
		a.weightSum += p.ew
		a.beliefSum += p.belief
		if sumEW > 0 {
			a.contribution += p.ew * (p.belief - marketProb) / sumEW
		}
	}
	out := make([]crowdsignal.CohortSummary, 0, len(byLabel))
	for label, a := range byLabel {
		weightShare := 0.0
		if sumEW > 0 {
			weightShare = a.weightSum / sumEW
		}
		out = append(out, crowdsignal.CohortSummary{
			Cohort:          label,
			WalletCount:     a.count,
			WeightShare:     weightShare,
			AvgBelief:       a.beliefSum / float64(a.count),
			NetContribution: a.contribution,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeightShare > out[j].WeightShare })
	return out
}

// buildExplanation assembles the optional explanation artifact: a one-line
// summary, the leading cohorts by weight share, and the flip conditions
// describing what would move the crowd probability back across the
// market probability.
func buildExplanation(divergence, marketProb, sumEW float64, cohorts []crowdsignal.CohortSummary) *crowdsignal.Explanation {
	topCohorts := cohorts
	if len(topCohorts) > 3 {
		topCohorts = topCohorts[:3]
	}

	leadCohort := "none"
	var leadContribution float64
	for _, c := range cohorts {
		if math.Abs(c.NetContribution) > math.Abs(leadContribution) {
			leadContribution = c.NetContribution
			leadCohort = c.Cohort
		}
	}

	summary := fmt.Sprintf("divergence %.4f vs market %.4f led by %s", divergence, marketProb, leadCohort)

	var conditions []crowdsignal.FlipCondition
	if math.Abs(divergence) > 0.01 && sumEW > 0 {
		opposingBelief := 0.0
		if divergence < 0 {
			opposingBelief = 1.0
		}
		denom := opposingBelief - marketProb
		var required float64
		if denom != 0 {
			required = math.Abs(-sumEW * divergence / denom)
		}
		conditions = append(conditions, crowdsignal.FlipCondition{
			Condition:               "additional_opposing_weight",
			Detail:                  fmt.Sprintf("an additional %.3f effective weight on the opposing side would pull crowd_prob back to market_prob", required),
			RequiredEffectiveWeight: required,
			LeadCohort:              leadCohort,
		})
		conditions = append(conditions, crowdsignal.FlipCondition{
			Condition:               "lead_cohort_reversal",
			Detail:                  fmt.Sprintf("if %s's net contribution reversed sign, crowd_prob would move by roughly %.3f", leadCohort, 2*math.Abs(leadContribution)),
			RequiredEffectiveWeight: 2 * math.Abs(leadContribution),
			LeadCohort:              leadCohort,
		})
	}

	return &crowdsignal.Explanation{
		Summary:        summary,
		TopCohorts:     topCohorts,
		FlipConditions: conditions,
	}
}
