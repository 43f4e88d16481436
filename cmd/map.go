package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvelasco/photo-mapper/internal/config"
	"github.com/mvelasco/photo-mapper/internal/mapper"
	"github.com/mvelasco/photo-mapper/internal/match"
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Match photos against an identity roster",
	Long: `Match every photo in a directory against a roster of identities.
Matching escalates through three tiers: exact external identifier,
deterministic string similarity, then an AI-judged name comparison.
Results are printed as a summary and optionally written to a CSV file.`,
	RunE: runMap,
}

func init() {
	rootCmd.AddCommand(mapCmd)

	mapCmd.Flags().String("photos", "", "Directory containing the photos (required)")
	mapCmd.Flags().String("roster", "", "Roster CSV file (required)")
	mapCmd.Flags().String("manifest", "", "Optional YAML manifest mapping filenames to metadata")
	mapCmd.Flags().String("template", "", "Optional filename template, e.g. {first}_{last}_{id}")
	mapCmd.Flags().Float64("threshold", 0, "Match confidence threshold (default from MATCH_THRESHOLD)")
	mapCmd.Flags().Int("concurrency", 0, "Number of parallel match workers (default from MATCH_CONCURRENCY)")
	mapCmd.Flags().String("judge", "", "Judge model as provider:model, or 'none' to disable the AI tier")
	mapCmd.Flags().String("out", "", "Write per-photo results to this CSV file")
	mapCmd.Flags().Bool("dry-run", false, "Match without writing the results file")

	_ = mapCmd.MarkFlagRequired("photos")
	_ = mapCmd.MarkFlagRequired("roster")
}

func runMap(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	photosDir := mustGetString(cmd, "photos")
	rosterPath := mustGetString(cmd, "roster")
	manifestPath := mustGetString(cmd, "manifest")
	template := mustGetString(cmd, "template")
	outPath := mustGetString(cmd, "out")
	dryRun := mustGetBool(cmd, "dry-run")

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold == 0 {
		threshold = cfg.Match.Threshold
	}
	concurrency := mustGetInt(cmd, "concurrency")
	if concurrency == 0 {
		concurrency = cfg.Match.Concurrency
	}
	judgeModel := mustGetString(cmd, "judge")
	if judgeModel == "" {
		judgeModel = cfg.JudgeModel()
	}

	ctx, cancel := signalContext()
	defer cancel()

	identities, photos, err := loadInputs(rosterPath, photosDir, manifestPath, template)
	if err != nil {
		return err
	}
	fmt.Printf("Roster: %d identities\n", len(identities))
	fmt.Printf("Photos: %d files\n", len(photos))
	fmt.Printf("Threshold: %.2f\n", threshold)
	if dryRun {
		fmt.Println("Mode: DRY RUN (no results file will be written)")
	}
	fmt.Println()

	j, err := buildJudge(ctx, cfg, judgeModel, threshold)
	if err != nil {
		return err
	}
	if j != nil {
		fmt.Printf("Judge: %s\n", judgeModel)
	} else {
		fmt.Println("Judge: disabled (exact and string tiers only)")
	}

	m := mapper.NewMapper(match.New(j, threshold))
	report, err := m.MapPhotos(ctx, photos, identities, mapper.Options{Concurrency: concurrency})
	if err != nil {
		return err
	}

	printMapSummary(report)

	if outPath != "" && !dryRun {
		if err := writeResultsCSV(outPath, report.Results); err != nil {
			return err
		}
		fmt.Printf("\nResults written to %s\n", outPath)
	}

	if len(report.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(report.Errors))
		for _, e := range report.Errors {
			fmt.Printf("  - %v\n", e)
		}
	}
	return nil
}

func printMapSummary(report *mapper.MapReport) {
	fmt.Printf("\nRun %s finished in %s\n", report.RunID, report.Elapsed.Round(time.Millisecond))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Matched:\t%d\n", report.Matched)
	fmt.Fprintf(w, "Unmatched:\t%d\n", report.Unmatched)
	fmt.Fprintf(w, "Failed:\t%d\n", report.Failed)
	for _, tier := range []match.Tier{match.TierExact, match.TierString, match.TierAI, match.TierNone} {
		if n := report.TierCounts[tier]; n > 0 {
			fmt.Fprintf(w, "  tier %s:\t%d\n", tier, n)
		}
	}
	_ = w.Flush()
}

func writeResultsCSV(path string, results []match.MappingResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"file", "matched_id", "tier", "confidence", "threshold", "elapsed_ms", "matched_name"}); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			r.Photo.FileName,
			r.MatchedID,
			string(r.Tier),
			strconv.FormatFloat(r.Confidence, 'f', 4, 64),
			strconv.FormatFloat(r.Threshold, 'f', 2, 64),
			strconv.FormatInt(r.Elapsed.Milliseconds(), 10),
			r.Metadata["matched_name"],
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return f.Close()
}
