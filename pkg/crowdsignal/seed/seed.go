// Package seed provides JSON-file persistence, CSV ingestion, and
// synthetic-data generation for crowdsignal.Market/Trade/Outcome records,
// feeding cmd/seedreplay, cmd/pipeline, and cmd/backtest without requiring
// a real upstream data source. None of this lives in memstore itself:
// memstore only knows how to hold rows, not where they come from.
package seed

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/memstore"
	"github.com/crowdwisdom/core/pkg/eth"
)

// Seed is a complete, self-contained batch of markets, trades, and
// outcomes: the unit cmd/seedreplay writes and cmd/pipeline / cmd/backtest
// read back.
type Seed struct {
	Markets  []crowdsignal.Market   `json:"markets"`
	Trades   []crowdsignal.Trade    `json:"trades"`
	Outcomes []crowdsignal.Outcome  `json:"outcomes"`
}

// LoadJSON reads a Seed previously written by SaveJSON.
func LoadJSON(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}
	var s Seed
	if err := json.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("unmarshal seed file: %w", err)
	}
	return s, nil
}

// SaveJSON writes s as indented JSON to path.
func SaveJSON(path string, s Seed) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal seed: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Populate loads every record in s into store.
func Populate(store *memstore.Store, s Seed) {
	for _, m := range s.Markets {
		store.PutMarket(m)
	}
	for _, t := range s.Trades {
		store.PutTrade(t)
	}
	for _, o := range s.Outcomes {
		store.PutOutcome(o)
	}
}

// SyntheticConfig tunes GenerateSynthetic's output.
type SyntheticConfig struct {
	Seed            int64
	Markets         int
	WalletPool      int
	TradesPerMarket int
	Categories      []string
	// RatePerSecond, when > 0, paces trade emission through a
	// golang.org/x/time/rate limiter as if trades were arriving off a live
	// feed rather than being synthesized in a tight loop. 0 disables
	// pacing and generates immediately.
	RatePerSecond float64
}

// GenerateSynthetic builds a batch of markets, a wallet pool, and a
// price-converging trade sequence per market, loosely in the shape of the
// teacher's runDemo synthetic price path (trend plus bounded noise) but
// driven by trades rather than a pre-baked price series: each trade's
// implied YES price drifts toward the market's resolved outcome as the
// market approaches its end time. Side and action are each drawn with
// equal odds, so a trade's revealed YES belief is either that drifting
// price or its complement. Markets, outcomes and trades follow cfg.Seed
// and repeat for the same seed; wallet addresses are minted from fresh
// random keys and differ on every call.
func GenerateSynthetic(ctx context.Context, cfg SyntheticConfig) (Seed, error) {
	if cfg.Markets <= 0 {
		cfg.Markets = 5
	}
	if cfg.WalletPool <= 0 {
		cfg.WalletPool = 25
	}
	if cfg.TradesPerMarket <= 0 {
		cfg.TradesPerMarket = 40
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = []string{"politics", "sports", "crypto", "macro"}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	wallets := make([]common.Address, cfg.WalletPool)
	for i := range wallets {
		addr, err := eth.NewSyntheticAddress()
		if err != nil {
			return Seed{}, fmt.Errorf("mint synthetic wallet: %w", err)
		}
		wallets[i] = addr
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	epoch := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var out Seed
	for mi := 0; mi < cfg.Markets; mi++ {
		marketID := fmt.Sprintf("synthetic-market-%03d", mi)
		category := cfg.Categories[mi%len(cfg.Categories)]
		start := epoch.Add(time.Duration(mi) * 36 * time.Hour)
		end := start.Add(72 * time.Hour)
		resolvedOutcome := rng.Intn(2)

		out.Markets = append(out.Markets, crowdsignal.Market{
			ID:               marketID,
			Question:         fmt.Sprintf("Synthetic question %d (%s)", mi, category),
			Category:         category,
			EndTime:          end,
			ResolutionSource: "synthetic",
		})
		out.Outcomes = append(out.Outcomes, crowdsignal.Outcome{
			MarketID:        marketID,
			ResolvedOutcome: resolvedOutcome,
			ResolutionTime:  end,
		})

		for ti := 0; ti < cfg.TradesPerMarket; ti++ {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return Seed{}, fmt.Errorf("pace trade emission: %w", err)
				}
			}

			progress := float64(ti) / float64(cfg.TradesPerMarket)
			ts := start.Add(time.Duration(progress * float64(72*time.Hour)))

			// Drift toward the resolved outcome as the market matures, plus
			// bounded noise, mirroring the teacher's trend-plus-noise price
			// path, expressed as the trade's implied YES price.
			drift := 0.15 + 0.55*progress
			if resolvedOutcome == 0 {
				drift = 1 - drift
			}
			noise := (rng.Float64() - 0.5) * 0.2
			price := clamp01(drift + noise)

			side := crowdsignal.SideYES
			action := crowdsignal.ActionBuy
			if rng.Float64() < 0.5 {
				action = crowdsignal.ActionSell
			}
			if rng.Float64() < 0.5 {
				side = crowdsignal.SideNO
				price = 1 - price
			}

			wallet := wallets[rng.Intn(len(wallets))]
			size := decimal.NewFromFloat(10 + rng.Float64()*490)

			out.Trades = append(out.Trades, crowdsignal.Trade{
				ExternalID: common.BigToHash(big.NewInt(int64(mi)*1_000_000 + int64(ti))),
				MarketID:   marketID,
				Wallet:     wallet,
				Timestamp:  ts,
				Side:       side,
				Action:     action,
				Price:      decimal.NewFromFloat(price).Round(4),
				Size:       size,
				MakerTaker: makerTaker(rng),
			})
		}
	}

	return out, nil
}

func makerTaker(rng *rand.Rand) string {
	if rng.Float64() < 0.3 {
		return "maker"
	}
	return "taker"
}

func clamp01(x float64) float64 {
	if x < 0.01 {
		return 0.01
	}
	if x > 0.99 {
		return 0.99
	}
	return x
}

// LoadCSV ingests a flat trade CSV into a Seed, adapting the teacher's
// column-index CSV parsing: the first row is a header naming columns, and
// rows are matched against it by name rather than fixed position. Expected
// columns: timestamp, market_id, category, end_time, resolution_time,
// resolved_outcome, wallet, side, action, price, size. Markets and
// outcomes are derived by folding repeated market_id rows together.
func LoadCSV(path string) (Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Seed{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return Seed{}, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return Seed{}, fmt.Errorf("csv has no data rows")
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	required := []string{"timestamp", "market_id", "wallet", "side", "action", "price", "size"}
	for _, c := range required {
		if _, ok := col[c]; !ok {
			return Seed{}, fmt.Errorf("csv missing required column %q", c)
		}
	}

	var out Seed
	markets := make(map[string]crowdsignal.Market)
	outcomes := make(map[string]crowdsignal.Outcome)

	for _, row := range rows[1:] {
		get := func(name string) string {
			idx, ok := col[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return row[idx]
		}

		ts, err := time.Parse(time.RFC3339, get("timestamp"))
		if err != nil {
			return Seed{}, fmt.Errorf("parse timestamp %q: %w", get("timestamp"), err)
		}
		side, err := crowdsignal.ParseSide(get("side"))
		if err != nil {
			return Seed{}, fmt.Errorf("parse side: %w", err)
		}
		action, err := crowdsignal.ParseAction(get("action"))
		if err != nil {
			return Seed{}, fmt.Errorf("parse action: %w", err)
		}
		price, err := strconv.ParseFloat(get("price"), 64)
		if err != nil {
			return Seed{}, fmt.Errorf("parse price: %w", err)
		}
		size, err := strconv.ParseFloat(get("size"), 64)
		if err != nil {
			return Seed{}, fmt.Errorf("parse size: %w", err)
		}

		marketID := get("market_id")
		if _, ok := markets[marketID]; !ok {
			m := crowdsignal.Market{ID: marketID, Category: get("category")}
			if endTime := get("end_time"); endTime != "" {
				if et, err := time.Parse(time.RFC3339, endTime); err == nil {
					m.EndTime = et
				}
			}
			markets[marketID] = m
			out.Markets = append(out.Markets, m)
		}
		if _, ok := outcomes[marketID]; !ok {
			if resolvedStr := get("resolved_outcome"); resolvedStr != "" {
				resolved, err := strconv.Atoi(resolvedStr)
				if err == nil {
					resTime := markets[marketID].EndTime
					if rt := get("resolution_time"); rt != "" {
						if parsed, err := time.Parse(time.RFC3339, rt); err == nil {
							resTime = parsed
						}
					}
					o := crowdsignal.Outcome{MarketID: marketID, ResolvedOutcome: resolved, ResolutionTime: resTime}
					outcomes[marketID] = o
					out.Outcomes = append(out.Outcomes, o)
				}
			}
		}

		out.Trades = append(out.Trades, crowdsignal.Trade{
			MarketID:   marketID,
			Wallet:     common.HexToAddress(get("wallet")),
			Timestamp:  ts,
			Side:       side,
			Action:     action,
			Price:      decimal.NewFromFloat(price),
			Size:       decimal.NewFromFloat(size),
			MakerTaker: get("maker_taker"),
		})
	}

	return out, nil
}
