// Package memstore is an in-process, mutex-guarded reference
// implementation of crowdsignal.Store, standing in for the externally
// owned persistence layer. It carries no migration or schema story; it
// exists for the test suite and for cmd/pipeline to run against without a
// real database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/faults"
)

type runRecord struct {
	id       uuid.UUID
	kind     string
	status   string
	counters faults.Snapshot
	begun    time.Time
}

// Store is the in-memory Store implementation. The zero value is not
// usable; construct with New.
type Store struct {
	mu sync.RWMutex

	markets   map[string]crowdsignal.Market
	trades    map[string][]crowdsignal.Trade // by market id
	outcomes  map[string]crowdsignal.Outcome

	walletMetrics []crowdsignal.WalletMetric
	walletWeights []crowdsignal.WalletWeight
	snapshots     []crowdsignal.Snapshot
	reports       []crowdsignal.BacktestReport

	runs map[uuid.UUID]*runRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		markets:  make(map[string]crowdsignal.Market),
		trades:   make(map[string][]crowdsignal.Trade),
		outcomes: make(map[string]crowdsignal.Outcome),
		runs:     make(map[uuid.UUID]*runRecord),
	}
}

// PutMarket inserts or replaces a market record. Not part of the Store
// interface; used by seed/demo code to populate the store directly.
func (s *Store) PutMarket(m crowdsignal.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
}

// PutTrade appends a trade to its market's trade list, keeping the list
// sorted chronologically.
func (s *Store) PutTrade(t crowdsignal.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.trades[t.MarketID], t)
	sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	s.trades[t.MarketID] = list
}

// PutOutcome records a market's resolution.
func (s *Store) PutOutcome(o crowdsignal.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[o.MarketID] = o
}

// ListMarkets implements crowdsignal.Store.
func (s *Store) ListMarkets(ctx context.Context) ([]crowdsignal.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crowdsignal.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListTrades implements crowdsignal.Store.
func (s *Store) ListTrades(ctx context.Context, market string, from, to *time.Time) ([]crowdsignal.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.trades[market]
	out := make([]crowdsignal.Trade, 0, len(all))
	for _, t := range all {
		if from != nil && t.Timestamp.Before(*from) {
			continue
		}
		if to != nil && t.Timestamp.After(*to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ListResolvedTradesForWallet implements crowdsignal.Store. cat is an
// optional category-bucket filter; an empty string means "any". hz is
// accepted but not applied: trades of every horizon are returned.
func (s *Store) ListResolvedTradesForWallet(ctx context.Context, wallet common.Address, cat, hz string) ([]crowdsignal.TradeOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []crowdsignal.TradeOutcome
	for marketID, trades := range s.trades {
		outcome, ok := s.outcomes[marketID]
		if !ok {
			continue
		}
		market := s.markets[marketID]
		if cat != "" && market.CategoryBucket() != cat {
			continue
		}
		for _, t := range trades {
			if t.Wallet != wallet {
				continue
			}
			out = append(out, crowdsignal.TradeOutcome{Trade: t, Outcome: outcome, Market: market})
		}
	}
	_ = hz // horizon bucket is a derived, per-trade quantity; callers filter it post-join
	return out, nil
}

// GetOutcome implements crowdsignal.Store.
func (s *Store) GetOutcome(ctx context.Context, market string) (*crowdsignal.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcomes[market]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

// UpsertWalletMetrics implements crowdsignal.Store: it replaces the whole
// table, matching spec.md's "rebuilt from scratch every pipeline run".
func (s *Store) UpsertWalletMetrics(ctx context.Context, rows []crowdsignal.WalletMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walletMetrics = append([]crowdsignal.WalletMetric(nil), rows...)
	return nil
}

// UpsertWalletWeights implements crowdsignal.Store: replaces the whole
// table.
func (s *Store) UpsertWalletWeights(ctx context.Context, rows []crowdsignal.WalletWeight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walletWeights = append([]crowdsignal.WalletWeight(nil), rows...)
	return nil
}

// AppendSnapshot implements crowdsignal.Store: snapshots are append-only.
func (s *Store) AppendSnapshot(ctx context.Context, row crowdsignal.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, row)
	return nil
}

// InsertBacktestReport implements crowdsignal.Store.
func (s *Store) InsertBacktestReport(ctx context.Context, row crowdsignal.BacktestReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, row)
	return nil
}

// PipelineRunBegin implements crowdsignal.Store.
func (s *Store) PipelineRunBegin(ctx context.Context, kind string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.runs[id] = &runRecord{id: id, kind: kind, status: "running", begun: time.Now()}
	return id, nil
}

// PipelineRunEnd implements crowdsignal.Store.
func (s *Store) PipelineRunEnd(ctx context.Context, runID uuid.UUID, status string, counters faults.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("memstore: unknown run %s", runID)
	}
	r.status = status
	r.counters = counters
	return nil
}

// WalletMetrics returns a copy of the current wallet metric table, for
// tests and report printers.
func (s *Store) WalletMetrics() []crowdsignal.WalletMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crowdsignal.WalletMetric(nil), s.walletMetrics...)
}

// WalletWeights returns a copy of the current wallet weight table.
func (s *Store) WalletWeights() []crowdsignal.WalletWeight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crowdsignal.WalletWeight(nil), s.walletWeights...)
}

// Snapshots returns a copy of every appended snapshot.
func (s *Store) Snapshots() []crowdsignal.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crowdsignal.Snapshot(nil), s.snapshots...)
}

// BacktestReports returns a copy of every inserted backtest report.
func (s *Store) BacktestReports() []crowdsignal.BacktestReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crowdsignal.BacktestReport(nil), s.reports...)
}
