// crowdsignal-pipeline runs one end-to-end crowd-wisdom computation
// against a seed file loaded into an in-memory store, printing the
// resulting snapshots and optional backtest report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/crowdwisdom/core/pkg/crowdsignal"
	"github.com/crowdwisdom/core/pkg/crowdsignal/memstore"
	"github.com/crowdwisdom/core/pkg/crowdsignal/pipeline"
	"github.com/crowdwisdom/core/pkg/crowdsignal/seed"
	"github.com/crowdwisdom/core/pkg/crowdsignal/telemetry"
)

var (
	seedPath      = flag.String("seed", "", "Path to a seed JSON file (from cmd/seedreplay)")
	runBacktest   = flag.Bool("backtest", false, "Run the backtest driver as part of this pipeline run")
	sweep         = flag.Bool("sweep", false, "Run the backtest sweep instead of a single cutoff (implies -backtest)")
	cutoffHours   = flag.Float64("cutoff-hours", 12, "Backtest cutoff, in hours before resolution")
	maxHours      = flag.Float64("max-hours", 168, "Backtest sweep upper bound, in hours before resolution")
	maxWallets    = flag.Int("max-wallets-per-market", 0, "Skip a market's snapshot if it has more active wallets than this (0 = unbounded)")
	workers       = flag.Int("workers", 8, "Pipeline snapshot worker pool size")
	outFile       = flag.String("out", "", "Write the full Report as JSON to this path")
	verbose       = flag.Bool("verbose", false, "Print every snapshot, not just the summary")
)

func main() {
	flag.Parse()

	if *seedPath == "" {
		log.Fatal("missing -seed; generate one with cmd/seedreplay")
	}

	s, err := seed.LoadJSON(*seedPath)
	if err != nil {
		log.Fatalf("Failed to load seed file: %v", err)
	}

	store := memstore.New()
	seed.Populate(store, s)

	cfg := crowdsignal.DefaultConfig()
	cfg.RunBacktest = *runBacktest || *sweep
	cfg.BacktestSweep = *sweep
	cfg.BacktestCutoffHours = *cutoffHours
	cfg.BacktestMaxHours = *maxHours
	cfg.MaxWalletsPerMarket = *maxWallets
	cfg.PipelineWorkers = *workers

	metrics := telemetry.Default()

	log.Printf("Running pipeline over %d markets, %d trades", len(s.Markets), len(s.Trades))
	report, err := pipeline.Run(context.Background(), store, cfg)
	if err != nil {
		log.Fatalf("Pipeline run failed: %v", err)
	}
	activeWallets := 0
	for _, snap := range store.Snapshots() {
		activeWallets += snap.ActiveWallets
	}
	metrics.RecordPipelineRun(report.Status, meanConfidence(store), meanParticipation(store), activeWallets)
	metrics.RecordFaults("", report.Counters)

	printReport(report, store)

	if *outFile != "" {
		if err := exportJSON(report, *outFile); err != nil {
			log.Printf("Failed to export report: %v", err)
		} else {
			log.Printf("Report exported to %s", *outFile)
		}
	}
}

func printReport(report pipeline.Report, store *memstore.Store) {
	p := message.NewPrinter(language.English)

	fmt.Println()
	fmt.Println("==================== PIPELINE RUN ====================")
	fmt.Println()
	p.Printf("  Run ID:             %s\n", report.RunID)
	p.Printf("  Status:             %s\n", report.Status)
	p.Printf("  Markets processed:  %d\n", report.MarketsProcessed)
	p.Printf("  Markets skipped:    %d\n", len(report.MarketsSkipped))
	p.Printf("  Evaluated at:       %s\n", report.EvaluatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Println()
	p.Printf("  Malformed input:          %d\n", report.Counters.MalformedInput)
	p.Printf("  Missing prior context:    %d\n", report.Counters.MissingPriorContext)
	p.Printf("  Degenerate markets:       %d\n", report.Counters.DegenerateMarkets)
	p.Printf("  Invariant violations:     %d\n", report.Counters.InvariantViolations)
	fmt.Println()
	fmt.Println("=======================================================")

	snaps := store.Snapshots()
	fmt.Printf("\n  %d snapshot(s) produced\n", len(snaps))
	if *verbose {
		for _, snap := range snaps {
			fmt.Printf("    %-28s market=%.3f crowd=%.3f divergence=%+.3f confidence=%.2f wallets=%d\n",
				snap.MarketID, snap.MarketProb, snap.CrowdProb, snap.Divergence, snap.Confidence, snap.ActiveWallets)
		}
	}

	if report.BacktestReport != nil {
		printBacktest(*report.BacktestReport)
	}
	if report.SweepReport != nil {
		fmt.Printf("\n  Sweep produced %d cutoff reports\n", len(report.SweepReport.Reports))
	}
}

func printBacktest(r crowdsignal.BacktestReport) {
	fmt.Println()
	fmt.Printf("  Backtest @ %.0fh cutoff: Brier market=%.4f crowd=%.4f (improvement %.1f%%)\n",
		r.CutoffHours, r.BrierMarketMean, r.BrierCrowdMean, r.BrierImprovement*100)
}

func meanConfidence(store *memstore.Store) float64 {
	snaps := store.Snapshots()
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += s.Confidence
	}
	return sum / float64(len(snaps))
}

func meanParticipation(store *memstore.Store) float64 {
	snaps := store.Snapshots()
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += s.ParticipationQuality
	}
	return sum / float64(len(snaps))
}

func exportJSON(report pipeline.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
