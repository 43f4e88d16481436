package detect

import (
	"context"
	"time"
)

// CenterStub always reports "not detected", forcing the composer's
// geometric center-crop branch when no real detector is configured.
type CenterStub struct{}

func NewCenterStub() *CenterStub {
	return &CenterStub{}
}

func (s *CenterStub) Model() string                     { return "center-crop" }
func (s *CenterStub) Local() bool                       { return false }
func (s *CenterStub) Available() bool                   { return true }
func (s *CenterStub) Init() error                       { return nil }
func (s *CenterStub) Release(ctx context.Context) error { return nil }

func (s *CenterStub) Detect(ctx context.Context, imagePath string) (Landmarks, error) {
	start := time.Now()
	return Landmarks{
		Model:   s.Model(),
		Elapsed: time.Since(start),
		Reason:  "center-crop stub never detects",
	}, nil
}
