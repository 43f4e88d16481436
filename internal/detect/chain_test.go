package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"

	"github.com/mvelasco/photo-mapper/internal/ai"
)

// stubDetector scripts one detector in a fallback chain.
type stubDetector struct {
	model     string
	local     bool
	available bool
	initErr   error
	result    Landmarks
	err       error

	detectCalls  int
	releaseCalls int
}

func (s *stubDetector) Model() string   { return s.model }
func (s *stubDetector) Local() bool     { return s.local }
func (s *stubDetector) Available() bool { return s.available }
func (s *stubDetector) Init() error     { return s.initErr }

func (s *stubDetector) Release(ctx context.Context) error {
	s.releaseCalls++
	return nil
}

func (s *stubDetector) Detect(ctx context.Context, imagePath string) (Landmarks, error) {
	s.detectCalls++
	return s.result, s.err
}

func detectedFace() Landmarks {
	face := image.Rect(10, 10, 50, 50)
	center := image.Pt(30, 30)
	return Landmarks{
		FaceDetected: true,
		Face:         &face,
		Center:       &center,
		Confidence:   0.9,
	}
}

func TestChainFallsThroughToSecondDetector(t *testing.T) {
	first := &stubDetector{
		model:     "first",
		available: true,
		result:    Landmarks{Model: "first", Reason: "no face found"},
	}
	second := &stubDetector{model: "second", available: true, result: detectedFace()}
	third := &stubDetector{model: "third", available: true, result: detectedFace()}

	chain := NewChain(first, second, third)
	lm, trials, err := chain.DetectWithTrials(context.Background(), "photo.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lm.FaceDetected {
		t.Fatal("expected detected face from second detector")
	}
	if len(trials) != 2 {
		t.Fatalf("expected 2 trials, got %d: %s", len(trials), FormatTrials(trials))
	}
	if trials[0].Outcome != "not detected: no face found" {
		t.Errorf("unexpected first trial outcome %q", trials[0].Outcome)
	}
	if trials[1].Outcome != "face detected" {
		t.Errorf("unexpected second trial outcome %q", trials[1].Outcome)
	}
	if third.detectCalls != 0 {
		t.Error("third detector should never run once the second succeeds")
	}
}

func TestChainSkipsUnavailableDetector(t *testing.T) {
	offline := &stubDetector{model: "offline", available: false}
	online := &stubDetector{model: "online", available: true, result: detectedFace()}

	chain := NewChain(offline, online)
	lm, trials, err := chain.DetectWithTrials(context.Background(), "photo.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lm.FaceDetected {
		t.Fatal("expected detected face")
	}
	if offline.detectCalls != 0 {
		t.Error("unavailable detector must not be invoked")
	}
	if trials[0].Outcome != "unavailable" {
		t.Errorf("unexpected trial outcome %q", trials[0].Outcome)
	}
}

func TestChainAllFail(t *testing.T) {
	first := &stubDetector{model: "a", available: true, result: Landmarks{Reason: "blurry"}}
	second := &stubDetector{model: "b", available: true, result: Landmarks{Reason: "too dark"}}

	chain := NewChain(first, second)
	lm, trials, err := chain.DetectWithTrials(context.Background(), "photo.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lm.FaceDetected {
		t.Fatal("expected not-detected result")
	}
	if len(trials) != 2 {
		t.Fatalf("expected 2 trials, got %d", len(trials))
	}
	if !strings.Contains(lm.Reason, "blurry") || !strings.Contains(lm.Reason, "too dark") {
		t.Errorf("final reason should carry the trial log, got %q", lm.Reason)
	}
}

func TestChainQuotaErrorAborts(t *testing.T) {
	first := &stubDetector{
		model:     "cloud",
		available: true,
		err:       fmt.Errorf("rate limited: %w", ai.ErrQuotaExceeded),
	}
	second := &stubDetector{model: "fallback", available: true, result: detectedFace()}

	chain := NewChain(first, second)
	_, trials, err := chain.DetectWithTrials(context.Background(), "photo.jpg")
	if !ai.IsQuota(err) {
		t.Fatalf("expected quota error to propagate, got %v", err)
	}
	if second.detectCalls != 0 {
		t.Error("chain must abort on quota, not fall through")
	}
	if len(trials) != 1 {
		t.Fatalf("expected 1 trial, got %d", len(trials))
	}
}

func TestChainInitFailureFallsThrough(t *testing.T) {
	broken := &stubDetector{model: "broken", available: true, initErr: errors.New("model file missing")}
	working := &stubDetector{model: "working", available: true, result: detectedFace()}

	chain := NewChain(broken, working)
	lm, trials, err := chain.DetectWithTrials(context.Background(), "photo.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lm.FaceDetected {
		t.Fatal("expected fallback detector to win")
	}
	if !strings.Contains(trials[0].Outcome, "init failed") {
		t.Errorf("unexpected trial outcome %q", trials[0].Outcome)
	}
}

func TestChainReleasesPreviousLocalDetector(t *testing.T) {
	localA := &stubDetector{
		model:     "local-a",
		local:     true,
		available: true,
		result:    Landmarks{Reason: "nothing"},
	}
	localB := &stubDetector{model: "local-b", local: true, available: true, result: detectedFace()}

	chain := NewChain(localA, localB)
	if _, _, err := chain.DetectWithTrials(context.Background(), "photo.jpg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if localA.releaseCalls != 1 {
		t.Errorf("expected first local detector released before engaging second, got %d releases", localA.releaseCalls)
	}
	if localB.releaseCalls != 0 {
		t.Errorf("winning detector must stay resident, got %d releases", localB.releaseCalls)
	}
}

func TestChainCloudDoesNotEvictLocal(t *testing.T) {
	local := &stubDetector{
		model:     "local",
		local:     true,
		available: true,
		result:    Landmarks{Reason: "nothing"},
	}
	cloud := &stubDetector{model: "cloud", available: true, result: detectedFace()}

	chain := NewChain(local, cloud)
	if _, _, err := chain.DetectWithTrials(context.Background(), "photo.jpg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if local.releaseCalls != 0 {
		t.Error("engaging a cloud detector must not release the local one")
	}
}

func TestCenterStubNeverDetects(t *testing.T) {
	stub := NewCenterStub()
	lm, err := stub.Detect(context.Background(), "anything.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lm.FaceDetected {
		t.Fatal("center stub must never detect a face")
	}
	if lm.Reason == "" {
		t.Error("expected a reason on the not-detected result")
	}
}
