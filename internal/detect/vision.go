package detect

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/mvelasco/photo-mapper/internal/ai"
)

//go:embed prompts/face_locate.txt
var faceLocatePrompt string

// VisionConfig holds the tunable validation bounds for vision-LLM output.
// The face-to-image ratio bounds are empirical; changing them requires
// re-validation against sample portraits.
type VisionConfig struct {
	MinFaceRatio float64       // minimum face extent per image dimension
	MaxFaceRatio float64       // maximum face extent per image dimension
	Retries      int           // extra attempts on timeout/transport errors
	Backoff      time.Duration // linear backoff unit between attempts
}

// DefaultVisionConfig returns the validated production bounds.
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		MinFaceRatio: 0.03,
		MaxFaceRatio: 0.60,
		Retries:      2,
		Backoff:      2 * time.Second,
	}
}

// VisionDetector asks a vision-language model for normalized face and eye
// coordinates and validates the reply before trusting it. Implausible
// geometry is downgraded to not-detected, never propagated.
type VisionDetector struct {
	provider ai.Provider
	cfg      VisionConfig
}

func NewVisionDetector(provider ai.Provider, cfg VisionConfig) *VisionDetector {
	return &VisionDetector{provider: provider, cfg: cfg}
}

func (d *VisionDetector) Model() string {
	return "vlm-" + d.provider.Name()
}

func (d *VisionDetector) Local() bool {
	return d.provider.Local()
}

func (d *VisionDetector) Release(ctx context.Context) error {
	return d.provider.Release(ctx)
}

func (d *VisionDetector) Available() bool {
	return d.provider != nil
}

func (d *VisionDetector) Init() error {
	if d.provider == nil {
		return errors.New("vision detector has no provider")
	}
	return nil
}

// visionResponse is the JSON shape the prompt requests, in normalized
// [0,1] coordinates.
type visionResponse struct {
	FaceDetected bool `json:"face_detected"`
	Face         *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		W float64 `json:"w"`
		H float64 `json:"h"`
	} `json:"face"`
	LeftEye    *normPoint `json:"left_eye"`
	RightEye   *normPoint `json:"right_eye"`
	Center     *normPoint `json:"center"`
	Confidence float64    `json:"confidence"`
}

type normPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (d *VisionDetector) Detect(ctx context.Context, imagePath string) (Landmarks, error) {
	start := time.Now()
	notDetected := func(reason string) Landmarks {
		return Landmarks{Model: d.Model(), Elapsed: time.Since(start), Reason: reason}
	}

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return notDetected(err.Error()), nil
	}
	width, height, err := imageSize(imagePath)
	if err != nil {
		return notDetected(err.Error()), nil
	}

	response, err := d.completeWithRetry(ctx, imageData)
	if err != nil {
		if ai.IsQuota(err) || errors.Is(err, context.Canceled) {
			return Landmarks{}, err
		}
		return notDetected(fmt.Sprintf("vision call failed: %v", err)), nil
	}

	var parsed visionResponse
	if err := json.Unmarshal([]byte(ai.ExtractJSON(response)), &parsed); err != nil {
		return notDetected(fmt.Sprintf("unparsable vision response: %v", err)), nil
	}
	if !parsed.FaceDetected || parsed.Face == nil {
		return notDetected("model reported no face"), nil
	}

	lm := d.scaleToPixels(parsed, width, height)
	if reason := d.validate(lm, width, height); reason != "" {
		return notDetected("validation_error: " + reason), nil
	}

	lm.Model = d.Model()
	lm.Elapsed = time.Since(start)
	return lm, nil
}

// completeWithRetry retries transient transport/timeout failures with
// linear backoff. Quota rejections and cancellation fail immediately.
func (d *VisionDetector) completeWithRetry(ctx context.Context, imageData []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * d.cfg.Backoff):
			}
		}

		response, err := d.provider.CompleteWithImage(ctx, imageData, faceLocatePrompt)
		if err == nil {
			return response, nil
		}
		if ai.IsQuota(err) || errors.Is(err, context.Canceled) {
			return "", err
		}
		// Timeouts and transport hiccups are both worth another attempt.
		lastErr = err
	}
	return "", lastErr
}

func (d *VisionDetector) scaleToPixels(r visionResponse, width, height int) Landmarks {
	lm := Landmarks{
		FaceDetected: true,
		Confidence:   r.Confidence,
	}

	face := image.Rect(
		int(r.Face.X*float64(width)),
		int(r.Face.Y*float64(height)),
		int((r.Face.X+r.Face.W)*float64(width)),
		int((r.Face.Y+r.Face.H)*float64(height)),
	)
	lm.Face = &face

	if r.LeftEye != nil {
		p := image.Pt(int(r.LeftEye.X*float64(width)), int(r.LeftEye.Y*float64(height)))
		lm.LeftEye = &p
	}
	if r.RightEye != nil {
		p := image.Pt(int(r.RightEye.X*float64(width)), int(r.RightEye.Y*float64(height)))
		lm.RightEye = &p
	}
	if r.Center != nil {
		p := image.Pt(int(r.Center.X*float64(width)), int(r.Center.Y*float64(height)))
		lm.Center = &p
	} else {
		c := image.Pt((face.Min.X+face.Max.X)/2, (face.Min.Y+face.Max.Y)/2)
		lm.Center = &c
	}

	return lm
}

// validate rejects geometrically implausible model output. Returns an empty
// string when the landmarks pass.
func (d *VisionDetector) validate(lm Landmarks, width, height int) string {
	face := *lm.Face

	bounds := image.Rect(0, 0, width, height)
	if !face.In(bounds) {
		return fmt.Sprintf("face rectangle %v outside image bounds %dx%d", face, width, height)
	}

	wRatio := float64(face.Dx()) / float64(width)
	hRatio := float64(face.Dy()) / float64(height)
	if wRatio < d.cfg.MinFaceRatio || hRatio < d.cfg.MinFaceRatio {
		return fmt.Sprintf("face too small: %.1f%% x %.1f%% of image", wRatio*100, hRatio*100)
	}
	if wRatio > d.cfg.MaxFaceRatio || hRatio > d.cfg.MaxFaceRatio {
		return fmt.Sprintf("face too large: %.1f%% x %.1f%% of image", wRatio*100, hRatio*100)
	}

	if lm.LeftEye != nil && !lm.LeftEye.In(face) {
		return fmt.Sprintf("left eye %v outside face rectangle %v", *lm.LeftEye, face)
	}
	if lm.RightEye != nil && !lm.RightEye.In(face) {
		return fmt.Sprintf("right eye %v outside face rectangle %v", *lm.RightEye, face)
	}
	if lm.LeftEye != nil && lm.RightEye != nil && lm.LeftEye.X >= lm.RightEye.X {
		return fmt.Sprintf("left eye x %d not left of right eye x %d", lm.LeftEye.X, lm.RightEye.X)
	}

	return ""
}
