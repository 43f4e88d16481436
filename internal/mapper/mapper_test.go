package mapper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mvelasco/photo-mapper/internal/ai"
	"github.com/mvelasco/photo-mapper/internal/judge"
	"github.com/mvelasco/photo-mapper/internal/match"
	"github.com/mvelasco/photo-mapper/internal/roster"
)

// quotaProvider rejects every call with a quota error and counts attempts.
type quotaProvider struct {
	calls atomic.Int64
}

func (p *quotaProvider) Name() string { return "quota" }
func (p *quotaProvider) Local() bool  { return false }

func (p *quotaProvider) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	p.calls.Add(1)
	return "", fmt.Errorf("429: %w", ai.ErrQuotaExceeded)
}

func (p *quotaProvider) CompleteWithImage(ctx context.Context, imageData []byte, prompt string) (string, error) {
	p.calls.Add(1)
	return "", fmt.Errorf("429: %w", ai.ErrQuotaExceeded)
}

func (p *quotaProvider) Release(ctx context.Context) error { return nil }
func (p *quotaProvider) GetUsage() *ai.Usage               { return &ai.Usage{} }
func (p *quotaProvider) ResetUsage()                       {}

// panicProvider simulates an SDK crash inside a provider call.
type panicProvider struct{}

func (p *panicProvider) Name() string { return "panic" }
func (p *panicProvider) Local() bool  { return false }

func (p *panicProvider) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	panic("provider sdk crashed")
}

func (p *panicProvider) CompleteWithImage(ctx context.Context, imageData []byte, prompt string) (string, error) {
	panic("provider sdk crashed")
}

func (p *panicProvider) Release(ctx context.Context) error { return nil }
func (p *panicProvider) GetUsage() *ai.Usage               { return &ai.Usage{} }
func (p *panicProvider) ResetUsage()                       {}

func testRoster() []roster.Identity {
	return []roster.Identity{
		{InternalID: "1", FullName: "Sergio Ramos", ExternalID: "228455"},
		{InternalID: "2", FullName: "Luka Modric", ExternalID: "177003"},
		{InternalID: "3", FullName: "Karim Benzema", ExternalID: "165153"},
	}
}

func testPhotos() []match.PhotoMetadata {
	return []match.PhotoMetadata{
		{FileName: "Sergio_Ramos_228455.jpg", Path: "/p/Sergio_Ramos_228455.jpg", DisplayName: "Sergio Ramos", ExternalID: "228455", Provenance: match.ProvenanceAuto},
		{FileName: "Luka_Modric_177003.jpg", Path: "/p/Luka_Modric_177003.jpg", DisplayName: "Luka Modric", ExternalID: "177003", Provenance: match.ProvenanceAuto},
		{FileName: "unknown_person.jpg", Path: "/p/unknown_person.jpg", DisplayName: "unknown person", Provenance: match.ProvenanceUnknown},
	}
}

func TestMapPhotosSequential(t *testing.T) {
	matcher := match.New(nil, 0.85)
	m := NewMapper(matcher)

	report, err := m.MapPhotos(context.Background(), testPhotos(), testRoster(), Options{Quiet: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Matched != 2 || report.Unmatched != 1 || report.Failed != 0 {
		t.Errorf("expected 2 matched / 1 unmatched / 0 failed, got %d/%d/%d",
			report.Matched, report.Unmatched, report.Failed)
	}
	if report.TierCounts[match.TierExact] != 2 {
		t.Errorf("expected 2 exact-tier matches, got %d", report.TierCounts[match.TierExact])
	}
	if report.RunID == "" {
		t.Error("expected a run id")
	}

	// Results preserve input order regardless of scheduling.
	if report.Results[0].Photo.FileName != "Sergio_Ramos_228455.jpg" {
		t.Errorf("unexpected first result %s", report.Results[0].Photo.FileName)
	}
}

func TestMapPhotosParallelKeepsOrder(t *testing.T) {
	matcher := match.New(nil, 0.85)
	m := NewMapper(matcher)

	// Enough photos that parallel completion order scrambles without the
	// index-based reassembly.
	var photos []match.PhotoMetadata
	var identities []roster.Identity
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("%06d", 100000+i)
		photos = append(photos, match.PhotoMetadata{
			FileName:   fmt.Sprintf("Player_%d_%s.jpg", i, id),
			ExternalID: id,
			Provenance: match.ProvenanceAuto,
		})
		identities = append(identities, roster.Identity{
			InternalID: fmt.Sprintf("%d", i),
			FullName:   fmt.Sprintf("Player %d", i),
			ExternalID: id,
		})
	}

	report, err := m.MapPhotos(context.Background(), photos, identities, Options{Quiet: true, Concurrency: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Matched != 40 {
		t.Fatalf("expected 40 matches, got %d", report.Matched)
	}
	for i, r := range report.Results {
		if r.Photo.FileName != photos[i].FileName {
			t.Fatalf("result %d out of order: %s", i, r.Photo.FileName)
		}
	}
}

func TestMapPhotosMutatesRoster(t *testing.T) {
	matcher := match.New(nil, 0.85)
	m := NewMapper(matcher)

	identities := testRoster()
	identities[0].ExternalID = "" // must be inherited from the photo on match

	_, err := m.MapPhotos(context.Background(), testPhotos(), identities, Options{Quiet: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// "Sergio Ramos" matches on the string tier and inherits the photo id.
	if !identities[0].Valid {
		t.Error("matched identity must be marked valid")
	}
	if identities[0].ExternalID != "228455" {
		t.Errorf("expected inherited external id, got %q", identities[0].ExternalID)
	}
	if identities[2].Valid {
		t.Error("unmatched identity must stay invalid")
	}
}

func TestMapPhotosQuotaShortCircuit(t *testing.T) {
	provider := &quotaProvider{}
	j := judge.New(provider, 0.85, 0.07)
	matcher := match.New(j, 0.85)
	m := NewMapper(matcher)

	// No external ids and dissimilar names force every photo to the AI tier.
	photos := []match.PhotoMetadata{
		{FileName: "a.jpg", DisplayName: "Alvaro Nobody"},
		{FileName: "b.jpg", DisplayName: "Bruno Stranger"},
		{FileName: "c.jpg", DisplayName: "Carlos Visitor"},
	}
	identities := []roster.Identity{{InternalID: "1", FullName: "Zlatan Ibrahimovic"}}

	report, err := m.MapPhotos(context.Background(), photos, identities, Options{Quiet: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Failed != 3 {
		t.Errorf("expected all 3 items failed, got %d", report.Failed)
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 provider call before the short circuit, got %d", got)
	}
	for _, e := range report.Errors {
		if !ai.IsQuota(e) {
			t.Errorf("expected quota-wrapped error, got %v", e)
		}
	}
}

func TestMapPhotosPanicFailsItemOnly(t *testing.T) {
	provider := &panicProvider{}
	j := judge.New(provider, 0.85, 0.07)
	matcher := match.New(j, 0.85)
	m := NewMapper(matcher)

	// The middle photo has no external id, so it reaches the AI tier and
	// trips the panic; its neighbors match on the exact tier.
	photos := []match.PhotoMetadata{
		{FileName: "Sergio_Ramos_228455.jpg", ExternalID: "228455", Provenance: match.ProvenanceAuto},
		{FileName: "boom.jpg", DisplayName: "Boom Nobody", Provenance: match.ProvenanceUnknown},
		{FileName: "Luka_Modric_177003.jpg", ExternalID: "177003", Provenance: match.ProvenanceAuto},
	}

	report, err := m.MapPhotos(context.Background(), photos, testRoster(), Options{Quiet: true, Concurrency: 3})
	if err != nil {
		t.Fatalf("batch must not abort, got %v", err)
	}
	if report.Matched != 2 || report.Failed != 1 {
		t.Fatalf("expected 2 matched / 1 failed, got %d/%d", report.Matched, report.Failed)
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0].Error(), "boom.jpg") {
		t.Errorf("expected a recorded failure naming the photo, got %v", report.Errors)
	}
}

func TestMapPhotosEmptyInput(t *testing.T) {
	m := NewMapper(match.New(nil, 0.85))
	report, err := m.MapPhotos(context.Background(), nil, testRoster(), Options{Quiet: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Results) != 0 || report.Failed != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}

func TestMapPhotosProgressCallback(t *testing.T) {
	m := NewMapper(match.New(nil, 0.85))

	var calls atomic.Int64
	_, err := m.MapPhotos(context.Background(), testPhotos(), testRoster(), Options{
		Quiet: true,
		OnProgress: func(p ProgressInfo) {
			calls.Add(1)
			if p.Phase != "mapping" {
				t.Errorf("unexpected phase %q", p.Phase)
			}
			if p.Total != 3 {
				t.Errorf("unexpected total %d", p.Total)
			}
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 progress callbacks, got %d", calls.Load())
	}
}

func TestMapPhotosCancelledContext(t *testing.T) {
	m := NewMapper(match.New(nil, 0.85))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := m.MapPhotos(ctx, testPhotos(), testRoster(), Options{Quiet: true})
	if err != nil {
		t.Fatalf("batch must not abort, got %v", err)
	}
	if report.Failed != 3 {
		t.Errorf("expected all items recorded as failed, got %d", report.Failed)
	}
	for _, e := range report.Errors {
		if !errors.Is(e, context.Canceled) {
			t.Errorf("expected cancellation error, got %v", e)
		}
	}
}

func TestFindPhoto(t *testing.T) {
	photos := testPhotos()

	got, err := FindPhoto(photos, roster.Identity{FullName: "Somebody Else", ExternalID: "177003"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FileName != "Luka_Modric_177003.jpg" {
		t.Errorf("expected external-id match, got %s", got.FileName)
	}

	got, err = FindPhoto(photos, roster.Identity{FullName: "Ramos, Sergio"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FileName != "Sergio_Ramos_228455.jpg" {
		t.Errorf("expected name match, got %s", got.FileName)
	}

	_, err = FindPhoto(photos, roster.Identity{FullName: "Gareth Bale"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
