// Package detect provides face/eye landmark detection behind a single
// Detector contract with interchangeable strategies: an ONNX geometric
// detector, a pigo cascade detector, a vision-LLM detector, an ordered
// fallback chain and a no-op stub. Results can be memoized by a
// file-fingerprint cache.
package detect

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	_ "golang.org/x/image/bmp"
)

// Landmarks is the immutable outcome of one detector invocation.
type Landmarks struct {
	FaceDetected bool             `json:"face_detected"`
	Face         *image.Rectangle `json:"face,omitempty"`
	LeftEye      *image.Point     `json:"left_eye,omitempty"`
	RightEye     *image.Point     `json:"right_eye,omitempty"`
	Center       *image.Point     `json:"center,omitempty"`
	Confidence   float64          `json:"confidence"`
	Model        string           `json:"model"`
	Elapsed      time.Duration    `json:"elapsed"`
	// Reason explains a not-detected outcome (validation failure, timeout,
	// provider error). Empty on success.
	Reason string `json:"reason,omitempty"`
}

// BothEyes reports whether both eye landmarks resolved.
func (l Landmarks) BothEyes() bool {
	return l.LeftEye != nil && l.RightEye != nil
}

// Detector is the common landmark detection contract. Init must be called
// (and succeed) before Detect.
type Detector interface {
	// Init prepares the detector (loads models, checks endpoints).
	Init() error
	// Available reports whether the detector can currently run.
	Available() bool
	// Detect returns landmarks for one image, or a not-detected result.
	// Errors are reserved for failures the caller must react to (quota,
	// cancellation); implausible output is downgraded, never surfaced.
	Detect(ctx context.Context, imagePath string) (Landmarks, error)
	// Model identifies the detector for caching and trial logs.
	Model() string
	// Local reports whether the detector occupies local inference memory.
	Local() bool
	// Release frees locally-held model resources. No-op for remote models.
	Release(ctx context.Context) error
}

// DetectBatch runs Detect sequentially over paths. A per-item error is
// recorded as a not-detected result so one bad file cannot abort the batch.
func DetectBatch(ctx context.Context, d Detector, paths []string) []Landmarks {
	results := make([]Landmarks, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			results = append(results, Landmarks{Model: d.Model(), Reason: err.Error()})
			continue
		}
		lm, err := d.Detect(ctx, path)
		if err != nil {
			lm = Landmarks{Model: d.Model(), Reason: err.Error()}
		}
		results = append(results, lm)
	}
	return results
}

// loadImage decodes an image from disk.
func loadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// imageSize returns the dimensions of an image file without decoding pixels.
func imageSize(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
