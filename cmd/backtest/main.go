// crowdsignal-backtest replays the crowd-wisdom aggregator against
// resolved markets in a seed file and reports how the crowd probability
// would have scored against the market's own implied probability.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/aggregator"
	"github.com/crowdwisdom/core/pkg/crowdsignal/backtest"
	"github.com/crowdwisdom/core/pkg/crowdsignal/features"
	"github.com/crowdwisdom/core/pkg/crowdsignal/seed"
	"github.com/crowdwisdom/core/pkg/crowdsignal/weights"
)

var (
	seedPath    = flag.String("seed", "", "Path to a seed JSON file (from cmd/seedreplay)")
	cutoffHours = flag.Float64("cutoff-hours", 12, "Hours before resolution to evaluate at")
	sweep       = flag.Bool("sweep", false, "Sweep cutoff hours 1..max-hours instead of a single cutoff")
	maxHours    = flag.Float64("max-hours", 168, "Sweep upper bound, in hours before resolution")
	outputFile  = flag.String("output", "", "Output file for results (JSON or CSV)")
)

func main() {
	flag.Parse()

	if *seedPath == "" {
		log.Println("No seed file provided, running demo with synthetic data")
		runDemo()
		return
	}

	s, err := seed.LoadJSON(*seedPath)
	if err != nil {
		log.Fatalf("Failed to load seed file: %v", err)
	}

	outcomeByMarket := make(map[string]crowdsignal.Outcome, len(s.Outcomes))
	for _, o := range s.Outcomes {
		outcomeByMarket[o.MarketID] = o
	}
	marketByID := make(map[string]crowdsignal.Market, len(s.Markets))
	for _, m := range s.Markets {
		marketByID[m.ID] = m
	}
	tradesByMarket := make(map[string][]crowdsignal.Trade, len(s.Markets))
	for _, t := range s.Trades {
		tradesByMarket[t.MarketID] = append(tradesByMarket[t.MarketID], t)
	}

	cfg := crowdsignal.DefaultConfig()

	var obs []features.Observation
	var fixtures []backtest.MarketFixture
	for marketID, outcome := range outcomeByMarket {
		market := marketByID[marketID]
		trades := tradesByMarket[marketID]
		for _, t := range trades {
			obs = append(obs, features.Observation{Trade: t, Market: market, Outcome: outcome})
		}
		fixtures = append(fixtures, backtest.MarketFixture{Market: market, Trades: trades, Outcome: outcome})
	}

	metricRows, _ := features.New().Compute(obs, cfg)
	weightRows := weights.New().Compute(metricRows, cfg)
	profiles := aggregator.NewMapProfileLookup(weightRows, metricRows)

	driver := backtest.New()
	ctx := context.Background()

	if *sweep {
		sweepReport, _ := driver.Sweep(ctx, fixtures, profiles, *maxHours, cfg)
		printSweep(sweepReport)
		if *outputFile != "" {
			if err := exportSweepJSON(sweepReport, *outputFile); err != nil {
				log.Printf("Failed to export sweep: %v", err)
			} else {
				log.Printf("Sweep exported to: %s", *outputFile)
			}
		}
		return
	}

	report, _ := driver.Run(ctx, fixtures, profiles, *cutoffHours, cfg)
	printResults(report)
	if *outputFile != "" {
		if err := exportResults(report, *outputFile); err != nil {
			log.Printf("Failed to export results: %v", err)
		} else {
			log.Printf("Results exported to: %s", *outputFile)
		}
	}
}

func printResults(r crowdsignal.BacktestReport) {
	fmt.Println()
	fmt.Println("==================== BACKTEST RESULTS ====================")
	fmt.Println()
	fmt.Printf("  Cutoff hours:      %.0f\n", r.CutoffHours)
	fmt.Printf("  Evaluations:       %d\n", len(r.Evaluations))
	fmt.Println()
	fmt.Printf("  Brier (market):    %.4f\n", r.BrierMarketMean)
	fmt.Printf("  Brier (crowd):     %.4f\n", r.BrierCrowdMean)
	fmt.Printf("  Brier improvement: %.1f%%\n", r.BrierImprovement*100)
	fmt.Printf("  Log-loss (market): %.4f\n", r.LogLossMarketMean)
	fmt.Printf("  Log-loss (crowd):  %.4f\n", r.LogLossCrowdMean)
	fmt.Println()
	fmt.Println("  Edge buckets:")
	for _, b := range r.EdgeBuckets {
		fmt.Printf("    %-14s n=%-5d mean_edge=%.3f mean_pnl=%+.3f win_rate=%.1f%%\n",
			b.Label, b.Count, b.MeanEdge, b.MeanPnL, b.WinRate*100)
	}
	fmt.Println()
	fmt.Println("  Top divergence cases:")
	for _, e := range r.TopDivergenceCases {
		fmt.Printf("    %-24s divergence=%+.3f winner=%-6s market=%.3f crowd=%.3f realized=%d\n",
			e.MarketID, e.Divergence, e.Winner, e.MarketProbAt, e.CrowdProbAt, e.Realized)
	}
	fmt.Println()
	fmt.Println("============================================================")
}

func printSweep(s crowdsignal.SweepReport) {
	fmt.Println()
	fmt.Println("==================== BACKTEST SWEEP ====================")
	fmt.Printf("  %d cutoff hours evaluated\n\n", len(s.Reports))
	for _, r := range s.Reports {
		if len(r.Evaluations) == 0 {
			continue
		}
		fmt.Printf("    h=%-4.0f n=%-4d brier_market=%.4f brier_crowd=%.4f improvement=%+.1f%%\n",
			r.CutoffHours, len(r.Evaluations), r.BrierMarketMean, r.BrierCrowdMean, r.BrierImprovement*100)
	}
	fmt.Println("==========================================================")
}

func exportResults(result crowdsignal.BacktestReport, filename string) error {
	if strings.HasSuffix(filename, ".csv") {
		return exportCSV(result, filename)
	}
	if strings.HasSuffix(filename, ".json") {
		return exportJSON(result, filename)
	}
	return exportJSON(result, filename+".json")
}

func exportJSON(result crowdsignal.BacktestReport, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

func exportSweepJSON(result crowdsignal.SweepReport, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sweep: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

func exportCSV(result crowdsignal.BacktestReport, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	w.Write([]string{"metric", "value"})
	w.Write([]string{"cutoff_hours", fmt.Sprintf("%.0f", result.CutoffHours)})
	w.Write([]string{"brier_market_mean", fmt.Sprintf("%.6f", result.BrierMarketMean)})
	w.Write([]string{"brier_crowd_mean", fmt.Sprintf("%.6f", result.BrierCrowdMean)})
	w.Write([]string{"brier_improvement", fmt.Sprintf("%.6f", result.BrierImprovement)})
	w.Write([]string{"log_loss_market_mean", fmt.Sprintf("%.6f", result.LogLossMarketMean)})
	w.Write([]string{"log_loss_crowd_mean", fmt.Sprintf("%.6f", result.LogLossCrowdMean)})
	w.Write([]string{})

	w.Write([]string{"market_id", "cutoff_time", "market_prob", "crowd_prob", "realized", "brier_market", "brier_crowd", "divergence"})
	for _, e := range result.Evaluations {
		w.Write([]string{
			e.MarketID,
			e.CutoffTime.Format("2006-01-02T15:04:05Z07:00"),
			fmt.Sprintf("%.6f", e.MarketProbAt),
			fmt.Sprintf("%.6f", e.CrowdProbAt),
			fmt.Sprintf("%d", e.Realized),
			fmt.Sprintf("%.6f", e.BrierMarket),
			fmt.Sprintf("%.6f", e.BrierCrowd),
			fmt.Sprintf("%.6f", e.Divergence),
		})
	}
	return nil
}

// runDemo mirrors the teacher's synthetic-data demo path: generate a small
// in-memory seed and run a single backtest over it, so the binary is
// useful with zero setup.
func runDemo() {
	ctx := context.Background()
	s, err := seed.GenerateSynthetic(ctx, seed.SyntheticConfig{Seed: 7, Markets: 6, WalletPool: 30, TradesPerMarket: 50})
	if err != nil {
		log.Fatalf("Failed to generate demo data: %v", err)
	}

	cfg := crowdsignal.DefaultConfig()
	outcomeByMarket := make(map[string]crowdsignal.Outcome, len(s.Outcomes))
	for _, o := range s.Outcomes {
		outcomeByMarket[o.MarketID] = o
	}
	marketByID := make(map[string]crowdsignal.Market, len(s.Markets))
	for _, m := range s.Markets {
		marketByID[m.ID] = m
	}
	tradesByMarket := make(map[string][]crowdsignal.Trade, len(s.Markets))
	for _, t := range s.Trades {
		tradesByMarket[t.MarketID] = append(tradesByMarket[t.MarketID], t)
	}

	var obs []features.Observation
	var fixtures []backtest.MarketFixture
	for marketID, outcome := range outcomeByMarket {
		market := marketByID[marketID]
		trades := tradesByMarket[marketID]
		for _, t := range trades {
			obs = append(obs, features.Observation{Trade: t, Market: market, Outcome: outcome})
		}
		fixtures = append(fixtures, backtest.MarketFixture{Market: market, Trades: trades, Outcome: outcome})
	}

	metricRows, _ := features.New().Compute(obs, cfg)
	weightRows := weights.New().Compute(metricRows, cfg)
	profiles := aggregator.NewMapProfileLookup(weightRows, metricRows)

	report, _ := backtest.New().Run(ctx, fixtures, profiles, 12, cfg)
	printResults(report)

	fmt.Println()
	fmt.Println("To run against real data, use:")
	fmt.Println("  crowdsignal-backtest -seed seed.json -cutoff-hours 12")
	fmt.Println()
}
