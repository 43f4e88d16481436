package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvelasco/photo-mapper/internal/config"
	"github.com/mvelasco/photo-mapper/internal/mapper"
	"github.com/mvelasco/photo-mapper/internal/match"
	"github.com/mvelasco/photo-mapper/internal/portrait"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate portrait crops for matched identities",
	Long: `Match photos against the roster, then detect face/eye landmarks for
every matched identity and write a standardized portrait crop. Detection
walks an ordered fallback chain (onnx, cascade, vision, center) and is
memoized by a file-fingerprint cache.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().String("photos", "", "Directory containing the photos (required)")
	generateCmd.Flags().String("roster", "", "Roster CSV file (required)")
	generateCmd.Flags().String("manifest", "", "Optional YAML manifest mapping filenames to metadata")
	generateCmd.Flags().String("template", "", "Optional filename template, e.g. {first}_{last}_{id}")
	generateCmd.Flags().String("out", "", "Output directory for portraits (required)")
	generateCmd.Flags().String("size", "300x360", "Target portrait size as WxH")
	generateCmd.Flags().String("format", "jpg", "Output format: jpg, png or bmp")
	generateCmd.Flags().StringSlice("detectors", nil, "Detector fallback order (default from embedded models.yaml)")
	generateCmd.Flags().String("cache", "", "Detection cache file (default from DETECT_CACHE_PATH)")
	generateCmd.Flags().Float64("threshold", 0, "Match confidence threshold (default from MATCH_THRESHOLD)")
	generateCmd.Flags().String("judge", "", "Judge model as provider:model, or 'none' to disable the AI tier")

	_ = generateCmd.MarkFlagRequired("photos")
	_ = generateCmd.MarkFlagRequired("roster")
	_ = generateCmd.MarkFlagRequired("out")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	photosDir := mustGetString(cmd, "photos")
	rosterPath := mustGetString(cmd, "roster")
	manifestPath := mustGetString(cmd, "manifest")
	template := mustGetString(cmd, "template")
	outDir := mustGetString(cmd, "out")
	format := mustGetString(cmd, "format")

	width, height, err := parseSize(mustGetString(cmd, "size"))
	if err != nil {
		return err
	}

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold == 0 {
		threshold = cfg.Match.Threshold
	}
	judgeModel := mustGetString(cmd, "judge")
	if judgeModel == "" {
		judgeModel = cfg.JudgeModel()
	}
	detectorOrder := mustGetStringSlice(cmd, "detectors")
	if len(detectorOrder) == 0 {
		detectorOrder = cfg.Models.Detectors.Order
	}
	cachePath := mustGetString(cmd, "cache")
	if cachePath == "" {
		cachePath = cfg.Detect.CachePath
	}

	ctx, cancel := signalContext()
	defer cancel()

	identities, photos, err := loadInputs(rosterPath, photosDir, manifestPath, template)
	if err != nil {
		return err
	}

	j, err := buildJudge(ctx, cfg, judgeModel, threshold)
	if err != nil {
		return err
	}

	detector, err := buildDetector(ctx, cfg, detectorOrder, cachePath)
	if err != nil {
		return err
	}
	defer func() { _ = detector.Release(ctx) }()

	composer, err := portrait.NewComposer(width, height)
	if err != nil {
		return err
	}

	fmt.Printf("Roster: %d identities\n", len(identities))
	fmt.Printf("Photos: %d files\n", len(photos))
	fmt.Printf("Detectors: %s\n", strings.Join(detectorOrder, " -> "))
	fmt.Printf("Output: %s (%dx%d %s)\n\n", outDir, width, height, format)

	// Map phase marks matched identities valid; the generate phase only
	// processes those.
	m := mapper.NewMapper(match.New(j, threshold))
	mapReport, err := m.MapPhotos(ctx, photos, identities, mapper.Options{Concurrency: cfg.Match.Concurrency})
	if err != nil {
		return err
	}
	fmt.Printf("Matched %d of %d photos\n\n", mapReport.Matched, len(photos))

	g := mapper.NewGenerator(detector, composer, outDir, format)
	report, err := g.Generate(ctx, identities, photos, mapper.Options{})
	if err != nil {
		return err
	}

	fmt.Printf("\nRun %s finished in %s\n", report.RunID, report.Elapsed.Round(time.Millisecond))
	fmt.Printf("Generated: %d\n", report.Generated)
	fmt.Printf("Skipped:   %d (no photo found)\n", report.Skipped)
	fmt.Printf("Failed:    %d\n", report.Failed)
	for _, e := range report.Errors {
		fmt.Printf("  - %v\n", e)
	}

	// Persist detection results for the next run.
	if cached, ok := detector.(interface{ SaveCache() error }); ok {
		if err := cached.SaveCache(); err != nil {
			fmt.Printf("Warning: failed to save detection cache: %v\n", err)
		}
	}
	return nil
}

func parseSize(s string) (width, height int, err error) {
	wPart, hPart, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q: expected WxH", s)
	}
	width, err = strconv.Atoi(wPart)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	height, err = strconv.Atoi(hPart)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return width, height, nil
}
