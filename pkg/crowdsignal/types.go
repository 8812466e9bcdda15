// Package crowdsignal holds the canonical record types, the store contract,
// and the tunable configuration shared by every engine in the pipeline
// (features, weights, belief, aggregator, backtest).
package crowdsignal

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CategoryAll is the sentinel category bucket used when a market has no
// category, or when a WalletMetric/WalletWeight row spans all categories.
const CategoryAll = "_all_"

// HorizonAll is the sentinel horizon bucket spanning all horizons.
const HorizonAll = "_all_"

// Side is the side of a trade.
type Side int

const (
	SideYES Side = iota
	SideNO
)

func (s Side) String() string {
	if s == SideYES {
		return "YES"
	}
	return "NO"
}

// ParseSide parses a side string, defaulting to an error for anything else.
func ParseSide(s string) (Side, error) {
	switch s {
	case "YES":
		return SideYES, nil
	case "NO":
		return SideNO, nil
	default:
		return 0, errInvalidSide
	}
}

// Action is the action of a trade.
type Action int

const (
	ActionBuy Action = iota
	ActionSell
)

func (a Action) String() string {
	if a == ActionBuy {
		return "BUY"
	}
	return "SELL"
}

// ParseAction parses an action string.
func ParseAction(s string) (Action, error) {
	switch s {
	case "BUY":
		return ActionBuy, nil
	case "SELL":
		return ActionSell, nil
	default:
		return 0, errInvalidAction
	}
}

// HorizonBucket classifies the gap between a trade and its market's
// resolution instant.
type HorizonBucket string

const (
	HorizonShort  HorizonBucket = "short"
	HorizonMedium HorizonBucket = "medium"
	HorizonLong   HorizonBucket = "long"
)

// Market is the canonical market record. Identity is Market.ID; all other
// fields may be updated by re-ingestion.
type Market struct {
	ID               string
	Question         string
	Category         string
	EndTime          time.Time
	Liquidity        *decimal.Decimal
	ResolutionSource string
}

// CategoryBucket returns the market's category bucket, substituting the
// CategoryAll sentinel for an empty category.
func (m Market) CategoryBucket() string {
	if m.Category == "" {
		return CategoryAll
	}
	return m.Category
}

// Trade is the canonical, immutable trade fill record.
type Trade struct {
	ExternalID     common.Hash
	MarketID       string
	Wallet         common.Address
	Timestamp      time.Time
	Side           Side
	Action         Action
	Price          decimal.Decimal
	Size           decimal.Decimal
	Aggressiveness *float64
	MakerTaker     string
	Raw            json.RawMessage
}

// Outcome is the canonical market-resolution record. Present iff the market
// is considered resolved for analytics purposes.
type Outcome struct {
	MarketID        string
	ResolvedOutcome int
	ResolutionTime  time.Time
}

// TradeOutcome pairs a resolved trade with the outcome it resolved against,
// the shape returned by Store.ListResolvedTradesForWallet.
type TradeOutcome struct {
	Trade   Trade
	Outcome Outcome
	Market  Market
}

// WalletMetric is one (wallet, category bucket, horizon bucket) feature row
// produced by the feature engine and rebuilt from scratch every run.
type WalletMetric struct {
	Wallet         common.Address
	CategoryBucket string
	HorizonBucket  string
	SampleSize     int
	Brier          float64
	CalibrationErr float64
	ROIProxy       float64
	AvgSize        float64
	Churn          float64
	Persistence    float64
	Specialization float64
	TimingEdge     float64
}

// WalletWeight is one (wallet, category bucket, horizon bucket) trust-weight
// row produced by the weight engine and rebuilt from scratch every run.
type WalletWeight struct {
	Wallet         common.Address
	CategoryBucket string
	HorizonBucket  string
	Weight         float64
	Uncertainty    float64
	RawEdge        float64
	ShrunkEdge     float64
	Support        int
}

// Driver is one wallet's ranked contribution to a Snapshot's crowd
// probability.
type Driver struct {
	Wallet       common.Address
	Weight       float64
	Belief       float64
	Contribution float64
}

// FlowSummary summarizes recent directional trade flow for a market.
type FlowSummary struct {
	NetYesSize decimal.Decimal
	TradeCount int
}

// CohortSummary groups participating wallets by behavioral cohort for the
// explanation artifact.
type CohortSummary struct {
	Cohort          string
	WalletCount     int
	WeightShare     float64
	AvgBelief       float64
	NetContribution float64
}

// FlipCondition describes what would need to change for the crowd
// probability to cross the market probability.
type FlipCondition struct {
	Condition               string
	Detail                  string
	RequiredEffectiveWeight float64
	LeadCohort              string
}

// Explanation is the optional, human-readable artifact attached to a
// Snapshot.
type Explanation struct {
	Summary        string
	TopCohorts     []CohortSummary
	FlipConditions []FlipCondition
}

// Snapshot is the full per-market analytic record produced by the
// aggregator at one instant. Snapshots are append-only.
type Snapshot struct {
	MarketID             string
	SnapshotTime         time.Time
	MarketProb           float64
	CrowdProb            float64
	Divergence           float64
	Confidence           float64
	Disagreement         float64
	ParticipationQuality float64
	IntegrityRisk        float64
	ActiveWallets        int
	Drivers              []Driver
	Flow                 FlowSummary
	Cohorts              []CohortSummary
	Explanation          *Explanation
	Degenerate           bool
}

// CalibrationBin is one decile of a calibration curve.
type CalibrationBin struct {
	Bin      int
	Count    int
	AvgProb  float64
	Empirical float64
}

// BacktestEvaluation is one market's replayed-at-cutoff evaluation.
type BacktestEvaluation struct {
	MarketID     string
	CutoffTime   time.Time
	MarketProbAt float64
	CrowdProbAt  float64
	Realized     int
	BrierMarket  float64
	BrierCrowd   float64
	Divergence   float64
	// Winner is "crowd", "market", or "tie" — which side had the lower
	// per-market Brier contribution. Only populated for TopDivergenceCases.
	Winner string
}

// EdgeBucketStat aggregates backtest outcomes within one |divergence| band.
type EdgeBucketStat struct {
	Label    string
	Count    int
	MeanEdge float64
	MeanPnL  float64
	WinRate  float64
}

// BacktestReport is the full result of one backtest run at a fixed cutoff.
type BacktestReport struct {
	RunID              uuid.UUID
	CutoffHours        float64
	Evaluations        []BacktestEvaluation
	BrierMarketMean    float64
	BrierCrowdMean     float64
	LogLossMarketMean  float64
	LogLossCrowdMean   float64
	BrierImprovement   float64
	EdgeBuckets        []EdgeBucketStat
	Calibration        [2]CalibrationCurve // [0]=market, [1]=crowd
	TopDivergenceCases []BacktestEvaluation
}

// CalibrationCurve is a full 10-bin calibration curve for a backtest report.
type CalibrationCurve struct {
	Label string
	Bins  []CalibrationBin
}

// SweepReport holds one BacktestReport per cutoff hour plus the
// improvement curve across cutoffs.
type SweepReport struct {
	Reports            []BacktestReport
	ImprovementByHour  map[float64]float64
}
