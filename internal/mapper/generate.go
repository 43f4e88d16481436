package mapper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mvelasco/photo-mapper/internal/ai"
	"github.com/mvelasco/photo-mapper/internal/detect"
	"github.com/mvelasco/photo-mapper/internal/match"
	"github.com/mvelasco/photo-mapper/internal/portrait"
	"github.com/mvelasco/photo-mapper/internal/roster"
)

// GenerateReport is the generate-phase batch summary.
type GenerateReport struct {
	RunID     string
	Generated int
	Skipped   int // identities with no photo on disk
	Failed    int
	Outputs   []GeneratedPortrait
	Elapsed   time.Duration
	Errors    []error
}

// GeneratedPortrait records one written output file with the detection
// evidence that shaped its crop.
type GeneratedPortrait struct {
	Identity   roster.Identity
	SourcePath string
	OutputPath string
	Landmarks  detect.Landmarks
	Trials     []detect.Trial
}

// Generator drives the generate phase. The detector is typically a cache-
// wrapped fallback chain; local detectors hold model state, so the phase
// runs items strictly sequentially.
type Generator struct {
	detector  detect.Detector
	composer  *portrait.Composer
	outDir    string
	outFormat string
}

func NewGenerator(detector detect.Detector, composer *portrait.Composer, outDir, outFormat string) *Generator {
	if outFormat == "" {
		outFormat = "jpg"
	}
	return &Generator{
		detector:  detector,
		composer:  composer,
		outDir:    outDir,
		outFormat: outFormat,
	}
}

// Generate produces one portrait per matched identity. Identities whose
// photo cannot be located are skipped; per-item failures are recorded and
// the batch continues. Quota exhaustion and cancellation abort the batch
// with partial results preserved.
func (g *Generator) Generate(ctx context.Context, identities []roster.Identity, photos []match.PhotoMetadata, opts Options) (*GenerateReport, error) {
	start := time.Now()
	report := &GenerateReport{RunID: uuid.NewString()}

	matched := make([]roster.Identity, 0, len(identities))
	for _, id := range identities {
		if id.Valid {
			matched = append(matched, id)
		}
	}
	if len(matched) == 0 {
		report.Elapsed = time.Since(start)
		return report, nil
	}

	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	bar := newProgressBar(len(matched), "Generating portraits", opts.Quiet)
	defer finishProgressBar(bar, opts.Quiet)

	for i, id := range matched {
		if err := ctx.Err(); err != nil {
			report.Elapsed = time.Since(start)
			return report, err
		}

		output, err := g.generateOne(ctx, id, photos)
		_ = bar.Add(1)
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{
				Phase:   "generating",
				Current: i + 1,
				Total:   len(matched),
				Item:    id.FullName,
			})
		}

		switch {
		case err == nil:
			report.Generated++
			report.Outputs = append(report.Outputs, output)
		case errors.Is(err, ErrNotFound):
			report.Skipped++
		case ai.IsQuota(err) || errors.Is(err, context.Canceled):
			report.Failed++
			report.Errors = append(report.Errors, err)
			report.Elapsed = time.Since(start)
			return report, err
		default:
			report.Failed++
			report.Errors = append(report.Errors, err)
		}
	}

	report.Elapsed = time.Since(start)
	return report, nil
}

// generateOne contains a single portrait attempt: a panic inside a detector
// or image decode fails that identity only, the batch continues.
func (g *Generator) generateOne(ctx context.Context, id roster.Identity, photos []match.PhotoMetadata) (output GeneratedPortrait, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while generating portrait for %s: %v", id.FullName, r)
		}
	}()

	photo, err := FindPhoto(photos, id)
	if err != nil {
		return GeneratedPortrait{}, err
	}

	output = GeneratedPortrait{
		Identity:   id,
		SourcePath: photo.Path,
	}

	// Both the chain and its cache wrapper expose trial logs.
	if td, ok := g.detector.(detect.TrialDetector); ok {
		output.Landmarks, output.Trials, err = td.DetectWithTrials(ctx, photo.Path)
	} else {
		output.Landmarks, err = g.detector.Detect(ctx, photo.Path)
	}
	if err != nil {
		return output, fmt.Errorf("detection failed for %s: %w", photo.FileName, err)
	}

	img, err := portrait.Load(photo.Path)
	if err != nil {
		return output, err
	}

	cropped := g.composer.Compose(img, output.Landmarks)
	output.OutputPath = filepath.Join(g.outDir, g.outputName(id))
	if err := portrait.Save(output.OutputPath, cropped); err != nil {
		return output, fmt.Errorf("failed to write portrait for %s: %w", id.FullName, err)
	}

	return output, nil
}

// outputName prefers the external identifier so downstream systems can
// address portraits directly; identities without one fall back to the
// internal id.
func (g *Generator) outputName(id roster.Identity) string {
	base := id.ExternalID
	if base == "" {
		base = id.InternalID
	}
	return base + "." + g.outFormat
}
