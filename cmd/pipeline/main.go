// Package main provides the daily ingestion pipeline command-line tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"horizon/internal/capability"
	"horizon/internal/config"
	"horizon/internal/logger"
	"horizon/internal/pipeline"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML configuration file")
	date := flag.String("date", "", "Run date as YYYY-MM-DD (default: today, UTC)")
	fullSweep := flag.Bool("full-sweep", false, "Process every source instead of the daily rotation batch")
	synthesize := flag.Bool("synthesize", false, "Run force synthesis over accepted signals")
	maxDocsPerSource := flag.Int("max-docs-per-source", 0, "Docs per source (overrides config)")
	maxDocsTotal := flag.Int("max-docs-total", 0, "Total doc cap for the run (overrides config)")
	maxRuntime := flag.Int("max-runtime", 0, "Runtime budget in seconds (overrides config)")
	noRemote := flag.Bool("no-remote", false, "Skip the inference service, use deterministic fallbacks only")
	showUsage := flag.Bool("help", false, "Show usage information")

	flag.Parse()

	if *showUsage {
		printUsage()
		os.Exit(0)
	}

	cfg := loadConfig(*configFile, *noRemote)

	runDate := *date
	if runDate == "" {
		runDate = time.Now().UTC().Format("2006-01-02")
	}

	log := logger.NewLogger(cfg.Logging.Level)
	client := buildClient(cfg)

	printHeader(cfg, runDate, *fullSweep, *synthesize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(cfg, log, client)
	start := time.Now()

	summary, err := p.Run(ctx, pipeline.Options{
		Date:              runDate,
		FullSweep:         *fullSweep,
		Synthesize:        *synthesize,
		MaxDocsPerSource:  *maxDocsPerSource,
		MaxDocsTotal:      *maxDocsTotal,
		MaxRuntimeSeconds: *maxRuntime,
	})
	if err != nil {
		log.Error(fmt.Sprintf("❌ Run failed: %v", err))
		os.Exit(1)
	}

	printSummary(summary, time.Since(start))
}

func loadConfig(path string, noRemote bool) *config.Config {
	var cfg *config.Config

	var err error

	if path != "" {
		fmt.Printf("⚙️  Loading configuration from: %s\n", path)

		cfg, err = config.LoadConfig(path)
		if err != nil {
			fmt.Printf("❌ Failed to load config: %v\n", err)
			os.Exit(1)
		}
	} else if _, statErr := os.Stat("config.yaml"); statErr == nil {
		fmt.Println("⚙️  Loading default configuration: config.yaml")

		cfg, err = config.LoadConfig("config.yaml")
		if err != nil {
			fmt.Printf("❌ Failed to load default config: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Println("⚙️  No config file found, using built-in defaults")

		cfg = config.Default()
	}

	if noRemote {
		cfg.Capability.Disabled = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

func buildClient(cfg *config.Config) capability.Client {
	if cfg.Capability.Disabled {
		fmt.Println("ℹ️  Inference service disabled, deterministic fallbacks only")

		return capability.Unavailable{}
	}

	return &capability.WithRepair{
		Inner:    capability.NewRemote(cfg.Capability),
		Attempts: cfg.Capability.MaxRepairAttempts,
	}
}

func printHeader(cfg *config.Config, date string, fullSweep, synthesize bool) {
	fmt.Println("📡 Horizon Signal Pipeline")
	fmt.Printf("Run date: %s\n", date)

	if fullSweep {
		fmt.Println("Sources: full sweep")
	} else {
		fmt.Printf("Sources: rotation batch of %d\n", cfg.Rotation.BatchSize)
	}

	fmt.Printf("Synthesis: %v\n", synthesize)
	fmt.Printf("Output: %s\n", cfg.Paths.OutputRoot)
	fmt.Println()
}

func printSummary(s *pipeline.Summary, elapsed time.Duration) {
	fmt.Println("\n----------------------------------------------------------------")
	fmt.Printf("📈 Run %s complete in %.1fs\n", s.RunID, elapsed.Seconds())
	fmt.Printf("  Docs fetched:   %d (failed: %d)\n", s.DocsFetched, s.DocsFailed)
	fmt.Printf("  Candidates:     %d\n", s.Candidates)
	fmt.Printf("  ✅ Accepted:    %d\n", s.Accept)
	fmt.Printf("  🔍 In review:   %d\n", s.Review)
	fmt.Printf("  ❌ Rejected:    %d\n", s.Reject)

	if s.ForcesCreated > 0 {
		fmt.Printf("  🧭 Forces:      %d\n", s.ForcesCreated)
	}

	if len(s.ImportanceDistribution) > 0 {
		buckets := make([]int, 0, len(s.ImportanceDistribution))
		for b := range s.ImportanceDistribution {
			buckets = append(buckets, b)
		}
		sort.Ints(buckets)

		fmt.Printf("  Importance:    ")
		for _, b := range buckets {
			fmt.Printf("%d:%d ", b, s.ImportanceDistribution[b])
		}
		fmt.Println()
	}

	fmt.Println("\n✨ Pipeline complete!")
}

func printUsage() {
	fmt.Println("Usage: ./bin/pipeline [OPTIONS]")
	fmt.Println()
	fmt.Println("Modes:")
	fmt.Println("  1. Config-based:   ./bin/pipeline -config config.yaml")
	fmt.Println("  2. Default config: ./bin/pipeline (reads config.yaml if it exists)")
	fmt.Println("  3. Offline:        ./bin/pipeline -no-remote")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  ./bin/pipeline -config config.yaml -date 2025-06-01")
	fmt.Println("  ./bin/pipeline -full-sweep -max-docs-per-source 1")
	fmt.Println("  ./bin/pipeline -synthesize")
}
