// Package features implements the wallet feature engine (component F): it
// converts resolved trade observations into per-(wallet, category-bucket,
// horizon-bucket) WalletMetric rows.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/faults"
	"github.com/crowdwisdom/core/pkg/crowdsignal/revealedbelief"
)

// Observation is a single resolved trade joined with the market it traded
// on and the outcome that resolved it, the unit of work the feature engine
// consumes. Callers (normally pkg/crowdsignal/pipeline) are responsible for
// the join; the engine itself does no I/O.
type Observation struct {
	Trade   crowdsignal.Trade
	Market  crowdsignal.Market
	Outcome crowdsignal.Outcome
}

// Engine is the feature engine. It holds no state; a zero value is usable.
type Engine struct{}

// New returns a ready-to-use Engine.
func New() *Engine { return &Engine{} }

type bucketKey struct {
	cat string
	hz  string
}

type validObs struct {
	trade     crowdsignal.Trade
	catBucket string
	hzBucket  string
	yesBelief float64
	y         float64
	sideSign  float64
	price     float64
	size      float64
}

// Compute derives WalletMetric rows from the given observations. Any
// observation with an out-of-range price, non-positive size, or a
// resolution instant preceding the trade instant is dropped and counted
// as a malformed input record rather than causing the run to fail.
// Results are sorted by (wallet, category bucket, horizon bucket) for
// determinism (P7).
func (e *Engine) Compute(obs []Observation, cfg crowdsignal.Config) ([]crowdsignal.WalletMetric, *faults.Counters) {
	counters := &faults.Counters{}

	byWallet := make(map[common.Address][]validObs)
	for _, o := range obs {
		v, ok := validate(o, cfg)
		if !ok {
			counters.IncMalformedInput()
			continue
		}
		byWallet[o.Trade.Wallet] = append(byWallet[o.Trade.Wallet], v)
	}

	var rows []crowdsignal.WalletMetric
	for wallet, trades := range byWallet {
		rows = append(rows, computeWalletRows(wallet, trades)...)
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Wallet.Hex() != b.Wallet.Hex() {
			return a.Wallet.Hex() < b.Wallet.Hex()
		}
		if a.CategoryBucket != b.CategoryBucket {
			return a.CategoryBucket < b.CategoryBucket
		}
		return a.HorizonBucket < b.HorizonBucket
	})

	return rows, counters
}

func validate(o Observation, cfg crowdsignal.Config) (validObs, bool) {
	price, _ := o.Trade.Price.Float64()
	size, _ := o.Trade.Size.Float64()
	if math.IsNaN(price) || math.IsNaN(size) {
		return validObs{}, false
	}
	if price < 0 || price > 1 {
		return validObs{}, false
	}
	if size <= 0 {
		return validObs{}, false
	}
	if o.Outcome.ResolvedOutcome != 0 && o.Outcome.ResolvedOutcome != 1 {
		return validObs{}, false
	}
	gap := o.Outcome.ResolutionTime.Sub(o.Trade.Timestamp)
	if gap < 0 {
		return validObs{}, false
	}

	hz := horizonBucket(gap, cfg.HorizonThresholds)
	yesBelief := revealedbelief.YesBelief(o.Trade.Side, o.Trade.Action, price)

	return validObs{
		trade:     o.Trade,
		catBucket: o.Market.CategoryBucket(),
		hzBucket:  string(hz),
		yesBelief: yesBelief,
		y:         float64(o.Outcome.ResolvedOutcome),
		sideSign:  revealedbelief.SideSign(o.Trade.Side, o.Trade.Action),
		price:     price,
		size:      size,
	}, true
}

func horizonBucket(gap time.Duration, th crowdsignal.HorizonThresholds) crowdsignal.HorizonBucket {
	if gap <= th.Short {
		return crowdsignal.HorizonShort
	}
	if gap <= th.Medium {
		return crowdsignal.HorizonMedium
	}
	return crowdsignal.HorizonLong
}

func computeWalletRows(wallet common.Address, trades []validObs) []crowdsignal.WalletMetric {
	catCounts := make(map[string]int)
	for _, t := range trades {
		catCounts[t.catBucket]++
	}
	total := len(trades)
	specBase := specializationBase(catCounts, total)

	buckets := make(map[bucketKey][]validObs)
	addTo := func(k bucketKey, t validObs) { buckets[k] = append(buckets[k], t) }
	for _, t := range trades {
		addTo(bucketKey{crowdsignal.CategoryAll, crowdsignal.HorizonAll}, t)
		addTo(bucketKey{t.catBucket, crowdsignal.HorizonAll}, t)
		addTo(bucketKey{crowdsignal.CategoryAll, t.hzBucket}, t)
		addTo(bucketKey{t.catBucket, t.hzBucket}, t)
	}

	var out []crowdsignal.WalletMetric
	for key, bucketTrades := range buckets {
		n := len(bucketTrades)
		if n == 0 {
			continue
		}
		spec := specBase
		if key.cat != crowdsignal.CategoryAll {
			share := float64(catCounts[key.cat]) / float64(total)
			spec = revealedbelief.Clamp01(specBase * (1 + share))
		}
		bucketChurn := churn(bucketTrades)
		out = append(out, crowdsignal.WalletMetric{
			Wallet:         wallet,
			CategoryBucket: key.cat,
			HorizonBucket:  key.hz,
			SampleSize:     n,
			Brier:          meanBrier(bucketTrades),
			CalibrationErr: calibrationError(bucketTrades),
			ROIProxy:       roiProxy(bucketTrades),
			AvgSize:        meanSize(bucketTrades),
			Churn:          bucketChurn,
			Persistence:    1 - bucketChurn,
			Specialization: spec,
			TimingEdge:     timingEdge(bucketTrades),
		})
	}
	return out
}

func specializationBase(catCounts map[string]int, total int) float64 {
	k := len(catCounts)
	if total == 0 || k <= 1 {
		return 1.0
	}
	var h float64
	for _, c := range catCounts {
		p := float64(c) / float64(total)
		h -= p * math.Log(p)
	}
	maxEntropy := math.Log(float64(k))
	if maxEntropy == 0 {
		return 1.0
	}
	return revealedbelief.Clamp01(1 - h/maxEntropy)
}

func meanBrier(trades []validObs) float64 {
	var sum float64
	for _, t := range trades {
		d := t.yesBelief - t.y
		sum += d * d
	}
	return sum / float64(len(trades))
}

func meanSize(trades []validObs) float64 {
	var sum float64
	for _, t := range trades {
		sum += t.size
	}
	return sum / float64(len(trades))
}

func roiProxy(trades []validObs) float64 {
	var num, den float64
	for _, t := range trades {
		num += (2*t.y - 1) * t.sideSign * t.size * (1 - t.price)
		den += t.size
	}
	if den == 0 {
		return 0
	}
	return revealedbelief.Clamp(num/den, -1, 1)
}

func churn(trades []validObs) float64 {
	if len(trades) < 2 {
		return 0
	}
	sorted := make([]validObs, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].trade.Timestamp.Before(sorted[j].trade.Timestamp)
	})
	flips := 0
	for i := 1; i < len(sorted); i++ {
		prevSign := sorted[i-1].yesBelief >= 0.5
		curSign := sorted[i].yesBelief >= 0.5
		if prevSign != curSign {
			flips++
		}
	}
	return float64(flips) / float64(len(sorted)-1)
}

func timingEdge(trades []validObs) float64 {
	var sum float64
	for _, t := range trades {
		sum += (t.yesBelief - t.price) * (2*t.y - 1)
	}
	return sum / float64(len(trades))
}

func calibrationError(trades []validObs) float64 {
	type decileAcc struct {
		count              int
		sumBelief, sumY    float64
	}
	deciles := make([]decileAcc, 10)
	for _, t := range trades {
		idx := int(t.yesBelief * 10)
		if idx > 9 {
			idx = 9
		}
		if idx < 0 {
			idx = 0
		}
		d := &deciles[idx]
		d.count++
		d.sumBelief += t.yesBelief
		d.sumY += t.y
	}
	var totalW, sumAbs float64
	for _, d := range deciles {
		if d.count == 0 {
			continue
		}
		meanBelief := d.sumBelief / float64(d.count)
		meanY := d.sumY / float64(d.count)
		sumAbs += float64(d.count) * math.Abs(meanBelief-meanY)
		totalW += float64(d.count)
	}
	if totalW == 0 {
		return 0
	}
	return sumAbs / totalW
}

// LogLoss returns the per-trade log-loss contribution of a belief against
// a realized outcome, with belief clamped to [epsilon, 1-epsilon]. Shared
// with pkg/crowdsignal/backtest, which scores market_prob and crowd_prob
// the same way.
func LogLoss(belief float64, y int, epsilon float64) float64 {
	p := revealedbelief.Clamp(belief, epsilon, 1-epsilon)
	if y == 1 {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}
