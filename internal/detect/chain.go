package detect

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Trial records one attempt inside a fallback chain.
type Trial struct {
	Model   string
	Outcome string // "face detected", "not detected: <reason>", "error: ..."
	Elapsed time.Duration
}

func (t Trial) String() string {
	return fmt.Sprintf("%s: %s (%s)", t.Model, t.Outcome, t.Elapsed.Round(time.Millisecond))
}

// TrialDetector is implemented by detectors that keep a per-attempt trial
// log alongside the winning landmarks.
type TrialDetector interface {
	Detector
	DetectWithTrials(ctx context.Context, imagePath string) (Landmarks, []Trial, error)
}

// FormatTrials renders a human-readable trial log.
func FormatTrials(trials []Trial) string {
	lines := make([]string, len(trials))
	for i, t := range trials {
		lines[i] = t.String()
	}
	return strings.Join(lines, "; ")
}

// Chain tries an ordered list of detectors and returns the first result
// with a detected face. Detectors are initialized lazily on first use;
// before a local detector is engaged, the previously engaged local detector
// is released so two local models never stay resident together.
type Chain struct {
	detectors   []Detector
	initialized []bool
	activeLocal Detector
}

func NewChain(detectors ...Detector) *Chain {
	return &Chain{
		detectors:   detectors,
		initialized: make([]bool, len(detectors)),
	}
}

func (c *Chain) Model() string {
	models := make([]string, len(c.detectors))
	for i, d := range c.detectors {
		models[i] = d.Model()
	}
	return "chain[" + strings.Join(models, ",") + "]"
}

// Local reports whether any member detector is local.
func (c *Chain) Local() bool {
	for _, d := range c.detectors {
		if d.Local() {
			return true
		}
	}
	return false
}

func (c *Chain) Available() bool {
	for _, d := range c.detectors {
		if d.Available() {
			return true
		}
	}
	return false
}

// Init is a no-op; members are initialized lazily so unused fallbacks never
// load their models.
func (c *Chain) Init() error {
	if len(c.detectors) == 0 {
		return fmt.Errorf("fallback chain has no detectors")
	}
	return nil
}

// Release releases every member that was engaged.
func (c *Chain) Release(ctx context.Context) error {
	var firstErr error
	for i, d := range c.detectors {
		if !c.initialized[i] {
			continue
		}
		if err := d.Release(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		c.initialized[i] = false
	}
	c.activeLocal = nil
	return firstErr
}

func (c *Chain) Detect(ctx context.Context, imagePath string) (Landmarks, error) {
	lm, _, err := c.DetectWithTrials(ctx, imagePath)
	return lm, err
}

// DetectWithTrials runs the chain and returns the winning landmarks along
// with the per-detector trial log. Quota errors and cancellation abort the
// chain; every other failure falls through to the next detector.
func (c *Chain) DetectWithTrials(ctx context.Context, imagePath string) (Landmarks, []Trial, error) {
	var trials []Trial

	for i, d := range c.detectors {
		if err := ctx.Err(); err != nil {
			return Landmarks{}, trials, err
		}
		if !d.Available() {
			trials = append(trials, Trial{Model: d.Model(), Outcome: "unavailable"})
			continue
		}

		start := time.Now()
		if err := c.engage(ctx, i, d); err != nil {
			trials = append(trials, Trial{
				Model:   d.Model(),
				Outcome: fmt.Sprintf("error: init failed: %v", err),
				Elapsed: time.Since(start),
			})
			continue
		}

		lm, err := d.Detect(ctx, imagePath)
		elapsed := time.Since(start)
		if err != nil {
			trials = append(trials, Trial{
				Model:   d.Model(),
				Outcome: fmt.Sprintf("error: %v", err),
				Elapsed: elapsed,
			})
			return Landmarks{}, trials, err
		}
		if lm.FaceDetected {
			trials = append(trials, Trial{Model: d.Model(), Outcome: "face detected", Elapsed: elapsed})
			return lm, trials, nil
		}

		outcome := "not detected"
		if lm.Reason != "" {
			outcome += ": " + lm.Reason
		}
		trials = append(trials, Trial{Model: d.Model(), Outcome: outcome, Elapsed: elapsed})
	}

	return Landmarks{
		Model:  c.Model(),
		Reason: "all detectors failed: " + FormatTrials(trials),
	}, trials, nil
}

// engage initializes a member on first use, releasing the previously
// engaged local detector first when the member is local. Cloud detectors
// are exempt from the unload policy.
func (c *Chain) engage(ctx context.Context, i int, d Detector) error {
	if d.Local() && c.activeLocal != nil && c.activeLocal != d {
		_ = c.activeLocal.Release(ctx)
		for j, other := range c.detectors {
			if other == c.activeLocal {
				c.initialized[j] = false
			}
		}
		c.activeLocal = nil
	}

	if !c.initialized[i] {
		if err := d.Init(); err != nil {
			return err
		}
		c.initialized[i] = true
	}
	if d.Local() {
		c.activeLocal = d
	}
	return nil
}
