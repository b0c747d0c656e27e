// Package main provides the review-queue promotion command-line tool.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"horizon/internal/config"
	"horizon/internal/ledger"
	"horizon/internal/models"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML configuration file")
	date := flag.String("date", "", "Date folder to review as YYYY-MM-DD (default: today, UTC)")
	list := flag.Bool("list", false, "List pending signals and exit")
	promote := flag.String("promote", "", "Comma-separated row numbers to promote (e.g. 1,2,5)")
	promoteAll := flag.Bool("promote-all", false, "Promote every pending signal")

	flag.Parse()

	cfg := loadConfig(*configFile)

	reviewDate := *date
	if reviewDate == "" {
		reviewDate = time.Now().UTC().Format("2006-01-02")
	}

	pendingPath := filepath.Join(cfg.Paths.RunOutputDir(reviewDate), "daily_review.csv")
	signals, err := loadPending(pendingPath)
	if err != nil {
		log.Fatalf("❌ Failed to load pending signals: %v\n", err)
	}

	switch {
	case *list:
		displaySignals(signals)
	case *promoteAll:
		promoteByIndex(signals, allIndices(len(signals)), cfg.Paths.LedgerPath())
	case *promote != "":
		indices, err := parseIndices(*promote)
		if err != nil {
			log.Fatalf("❌ %v\n", err)
		}
		promoteByIndex(signals, indices, cfg.Paths.LedgerPath())
	default:
		interactive(signals, cfg.Paths.LedgerPath())
	}
}

func loadConfig(path string) *config.Config {
	if path != "" {
		cfg, err := config.LoadConfig(path)
		if err != nil {
			log.Fatalf("❌ Failed to load config: %v\n", err)
		}

		return cfg
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		cfg, err := config.LoadConfig("config.yaml")
		if err != nil {
			log.Fatalf("❌ Failed to load default config: %v\n", err)
		}

		return cfg
	}

	return config.Default()
}

func loadPending(path string) ([]models.StagingRow, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("ℹ️  No pending review file found: %s\n", path)

		return nil, nil
	}

	return ledger.ReadTable(path)
}

func displaySignals(signals []models.StagingRow) {
	if len(signals) == 0 {
		fmt.Println("No pending signals to review.")

		return
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("PENDING SIGNALS FOR REVIEW (%d total)\n", len(signals))
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	for i, sig := range signals {
		title := runewidth.Truncate(sig.Record.Title, 60, "…")
		if title == "" {
			title = "Untitled"
		}

		fmt.Printf("[%3d] %s\n", i+1, title)
		fmt.Printf("      STEEP: %s | Dimension: %s\n",
			runewidth.FillRight(sig.Record.Steep, 14), sig.Record.Dimension)
		fmt.Printf("      Priority: %s | Credibility: %s\n",
			orDash(sig.Extra["priority_index"]), orDash(sig.Extra["credibility_score"]))
		fmt.Printf("      Source: %s\n\n", runewidth.Truncate(sig.Record.Source, 50, "…"))
	}
}

func orDash(s string) string {
	if s == "" {
		return "?"
	}

	return s
}

func allIndices(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i + 1
	}

	return indices
}

// parseIndices accepts "1,3,5" or a range like "1-10".
func parseIndices(input string) ([]int, error) {
	input = strings.TrimSpace(input)

	if strings.Contains(input, "-") && !strings.Contains(input, ",") {
		parts := strings.SplitN(input, "-", 2)
		start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil || start > end {
			return nil, fmt.Errorf("invalid range %q, use format: 1-10", input)
		}

		var indices []int
		for i := start; i <= end; i++ {
			indices = append(indices, i)
		}

		return indices, nil
	}

	var indices []int
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q, use comma-separated numbers", part)
		}
		indices = append(indices, idx)
	}

	return indices, nil
}

func promoteByIndex(signals []models.StagingRow, indices []int, ledgerPath string) {
	var records []models.Record
	for _, idx := range indices {
		if idx < 1 || idx > len(signals) {
			fmt.Printf("⚠️  Index %d out of range, skipping\n", idx)

			continue
		}
		records = append(records, signals[idx-1].Record)
	}

	if len(records) == 0 {
		fmt.Println("No valid signals to promote.")

		return
	}

	added, err := ledger.Append(ledgerPath, records)
	if err != nil {
		log.Fatalf("❌ Failed to promote: %v\n", err)
	}

	fmt.Printf("✅ Added %d new signal(s) to: %s\n", added, ledgerPath)
}

func interactive(signals []models.StagingRow, ledgerPath string) {
	displaySignals(signals)

	if len(signals) == 0 {
		return
	}

	fmt.Println("Enter signal numbers to promote (comma-separated), a range, 'all', or 'q' to quit:")
	fmt.Println("Example: 1,3,5 or 1-10 or all")

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("\n> ")

		if !scanner.Scan() {
			fmt.Println("\nExiting.")

			return
		}

		input := strings.ToLower(strings.TrimSpace(scanner.Text()))

		switch input {
		case "q", "quit", "exit":
			fmt.Println("Exiting without changes.")

			return
		case "all":
			promoteByIndex(signals, allIndices(len(signals)), ledgerPath)

			return
		case "":
			fmt.Println("No signals selected.")

			continue
		}

		indices, err := parseIndices(input)
		if err != nil {
			fmt.Printf("%v\n", err)

			continue
		}

		fmt.Printf("\nPromoting %d signal(s)...\n", len(indices))
		promoteByIndex(signals, indices, ledgerPath)

		return
	}
}
