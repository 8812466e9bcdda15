package crowdsignal

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/crowdwisdom/core/pkg/crowdsignal/faults"
)

// Store is the abstract persistence contract the core depends on. It is
// implemented by an externally-owned persistence layer in production and
// by pkg/crowdsignal/memstore for tests and local runs; this module ships
// no database driver.
type Store interface {
	ListMarkets(ctx context.Context) ([]Market, error)
	ListTrades(ctx context.Context, market string, from, to *time.Time) ([]Trade, error)
	ListResolvedTradesForWallet(ctx context.Context, wallet common.Address, cat, hz string) ([]TradeOutcome, error)
	GetOutcome(ctx context.Context, market string) (*Outcome, error)

	UpsertWalletMetrics(ctx context.Context, rows []WalletMetric) error
	UpsertWalletWeights(ctx context.Context, rows []WalletWeight) error
	AppendSnapshot(ctx context.Context, row Snapshot) error
	InsertBacktestReport(ctx context.Context, row BacktestReport) error

	PipelineRunBegin(ctx context.Context, kind string) (uuid.UUID, error)
	PipelineRunEnd(ctx context.Context, runID uuid.UUID, status string, counters faults.Snapshot) error
}
