package detect

import (
	"context"
	"errors"
	"testing"
)

// pathDetector errs on scripted paths and detects on the rest.
type pathDetector struct {
	stubDetector
	failPaths map[string]error
}

func (d *pathDetector) Detect(ctx context.Context, imagePath string) (Landmarks, error) {
	if err, ok := d.failPaths[imagePath]; ok {
		d.detectCalls++
		return Landmarks{}, err
	}
	return d.stubDetector.Detect(ctx, imagePath)
}

func TestDetectBatchCapturesPerItemErrors(t *testing.T) {
	d := &pathDetector{
		stubDetector: stubDetector{model: "onnx", available: true, result: detectedFace()},
		failPaths:    map[string]error{"/p/bad.jpg": errors.New("decode failed")},
	}

	results := DetectBatch(context.Background(), d, []string{"/p/a.jpg", "/p/bad.jpg", "/p/b.jpg"})
	if len(results) != 3 {
		t.Fatalf("expected a result per path, got %d", len(results))
	}
	if !results[0].FaceDetected || !results[2].FaceDetected {
		t.Error("healthy items must still detect around a failing one")
	}
	if results[1].FaceDetected {
		t.Error("failing item must come back not-detected")
	}
	if results[1].Reason != "decode failed" {
		t.Errorf("expected the error recorded as the reason, got %q", results[1].Reason)
	}
	if d.detectCalls != 3 {
		t.Errorf("expected all 3 paths attempted, got %d", d.detectCalls)
	}
}

func TestDetectBatchCancelledContext(t *testing.T) {
	d := &pathDetector{
		stubDetector: stubDetector{model: "onnx", available: true, result: detectedFace()},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := DetectBatch(ctx, d, []string{"/p/a.jpg", "/p/b.jpg"})
	if len(results) != 2 {
		t.Fatalf("expected a result per path, got %d", len(results))
	}
	for i, r := range results {
		if r.FaceDetected || r.Reason == "" {
			t.Errorf("result %d should be not-detected with the cancellation recorded: %+v", i, r)
		}
	}
	if d.detectCalls != 0 {
		t.Errorf("no detector calls expected after cancellation, got %d", d.detectCalls)
	}
}
