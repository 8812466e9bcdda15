// crowdsignal-seedreplay generates or ingests crowd-wisdom trade fixtures
// and writes them to a JSON seed file consumable by cmd/pipeline and
// cmd/backtest.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/crowdwisdom/core/pkg/crowdsignal/seed"
)

var (
	out             = flag.String("out", "seed.json", "Output seed JSON path")
	csvIn           = flag.String("csv", "", "Path to a trade CSV to ingest instead of generating synthetic data")
	markets         = flag.Int("markets", 5, "Number of synthetic markets to generate")
	walletPool      = flag.Int("wallets", 25, "Size of the synthetic wallet pool")
	tradesPerMarket = flag.Int("trades-per-market", 40, "Synthetic trades per market")
	randomSeed      = flag.Int64("seed", 1, "Deterministic RNG seed for synthetic generation")
	ratePerSecond   = flag.Float64("rate", 0, "If > 0, paces synthetic trade emission to this many trades/second")
)

func main() {
	flag.Parse()

	var s seed.Seed
	var err error

	if *csvIn != "" {
		log.Printf("Ingesting trades from %s", *csvIn)
		s, err = seed.LoadCSV(*csvIn)
	} else {
		log.Printf("Generating synthetic data: %d markets, %d wallets, %d trades/market", *markets, *walletPool, *tradesPerMarket)
		s, err = seed.GenerateSynthetic(context.Background(), seed.SyntheticConfig{
			Seed:            *randomSeed,
			Markets:         *markets,
			WalletPool:      *walletPool,
			TradesPerMarket: *tradesPerMarket,
			RatePerSecond:   *ratePerSecond,
		})
	}
	if err != nil {
		log.Fatalf("Failed to build seed: %v", err)
	}

	if err := seed.SaveJSON(*out, s); err != nil {
		log.Fatalf("Failed to write seed file: %v", err)
	}
	log.Printf("Wrote %d markets, %d trades, %d outcomes to %s", len(s.Markets), len(s.Trades), len(s.Outcomes), *out)
}
