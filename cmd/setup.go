package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mvelasco/photo-mapper/internal/ai"
	"github.com/mvelasco/photo-mapper/internal/config"
	"github.com/mvelasco/photo-mapper/internal/detect"
	"github.com/mvelasco/photo-mapper/internal/judge"
	"github.com/mvelasco/photo-mapper/internal/mapper"
	"github.com/mvelasco/photo-mapper/internal/match"
	"github.com/mvelasco/photo-mapper/internal/roster"
)

// signalContext returns a context cancelled on Ctrl+C / SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal...")
		cancel()
	}()

	return ctx, cancel
}

// buildJudge constructs the AI name judge for a "provider:model" reference.
// An empty reference disables the AI tier.
func buildJudge(ctx context.Context, cfg *config.Config, modelRef string, threshold float64) (*judge.Judge, error) {
	if modelRef == "" || strings.EqualFold(modelRef, "none") {
		return nil, nil
	}

	ref, err := ai.ParseModelRef(modelRef)
	if err != nil {
		return nil, err
	}
	provider, err := ai.NewProvider(ctx, ref, credentials(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create judge provider: %w", err)
	}
	return judge.New(provider, threshold, cfg.Match.AmbiguityGap), nil
}

func credentials(cfg *config.Config) ai.Credentials {
	return ai.Credentials{
		OpenAIToken:  cfg.OpenAI.Token,
		GeminiAPIKey: cfg.Gemini.APIKey,
		OllamaURL:    cfg.Ollama.URL,
		LlamaCppURL:  cfg.LlamaCpp.URL,
	}
}

// buildDetector assembles the detector fallback chain from an ordered name
// list, optionally wrapped by the detection cache.
func buildDetector(ctx context.Context, cfg *config.Config, order []string, cachePath string) (detect.Detector, error) {
	var detectors []detect.Detector
	for _, name := range order {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "onnx":
			if cfg.Detect.ONNXModelPath == "" {
				return nil, fmt.Errorf("detector onnx requires ONNX_MODEL_PATH")
			}
			detectors = append(detectors, detect.NewONNXDetector(cfg.Detect.ONNXModelPath, 0.5))
		case "cascade":
			if cfg.Detect.FaceCascadePath == "" {
				return nil, fmt.Errorf("detector cascade requires FACE_CASCADE_PATH")
			}
			detectors = append(detectors, detect.NewCascadeDetector(
				cfg.Detect.FaceCascadePath, cfg.Detect.EyeCascadePath, 5.0))
		case "vision":
			ref, err := ai.ParseModelRef(cfg.VisionModel())
			if err != nil {
				return nil, err
			}
			provider, err := ai.NewProvider(ctx, ref, credentials(cfg))
			if err != nil {
				return nil, fmt.Errorf("failed to create vision provider: %w", err)
			}
			detectors = append(detectors, detect.NewVisionDetector(provider, detect.DefaultVisionConfig()))
		case "center":
			detectors = append(detectors, detect.NewCenterStub())
		default:
			return nil, fmt.Errorf("unknown detector %q (supported: onnx, cascade, vision, center)", name)
		}
	}
	if len(detectors) == 0 {
		return nil, fmt.Errorf("no detectors configured")
	}

	var detector detect.Detector = detect.NewChain(detectors...)
	if cachePath != "" {
		detector = detect.NewCachedDetector(detector, detect.NewCache(cachePath))
	}
	return detector, nil
}

// loadInputs reads the roster CSV, enumerates photos and extracts their
// metadata with manifest/template precedence.
func loadInputs(rosterPath, photosDir, manifestPath, template string) ([]roster.Identity, []match.PhotoMetadata, error) {
	identities, err := roster.NewCSVSource(rosterPath).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load roster: %w", err)
	}

	paths, err := mapper.ListPhotos(photosDir)
	if err != nil {
		return nil, nil, err
	}

	manifest, err := match.LoadManifest(manifestPath)
	if err != nil {
		return nil, nil, err
	}

	return identities, mapper.BuildMetadata(paths, manifest, template), nil
}
