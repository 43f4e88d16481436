package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mvelasco/photo-mapper/internal/ai"
)

// fakeProvider returns canned responses keyed by candidate name substring.
type fakeProvider struct {
	responses map[string]string // candidate -> raw response
	errs      map[string]error  // candidate -> error
	calls     int
}

func (f *fakeProvider) Name() string { return "fake-model" }

func (f *fakeProvider) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	f.calls++
	if temperature != 0 {
		return "", fmt.Errorf("expected temperature 0, got %f", temperature)
	}
	for key, err := range f.errs {
		if strings.Contains(prompt, key) {
			return "", err
		}
	}
	for key, resp := range f.responses {
		if strings.Contains(prompt, key) {
			return resp, nil
		}
	}
	return `{"confidence": 0.0, "match": false, "reason": "unknown"}`, nil
}

func (f *fakeProvider) CompleteWithImage(ctx context.Context, imageData []byte, prompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProvider) Local() bool                       { return false }
func (f *fakeProvider) Release(ctx context.Context) error { return nil }
func (f *fakeProvider) GetUsage() *ai.Usage               { return &ai.Usage{} }
func (f *fakeProvider) ResetUsage()                       {}

func TestCompare_ParsesJSONResponse(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]string{
			"Ramos Sergio": `{"confidence": 0.99, "match": true, "reason": "same tokens, different order"}`,
		},
	}
	j := New(provider, 0.80, 0.07)

	res, err := j.Compare(context.Background(), "Sergio Ramos", "Ramos Sergio")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.Confidence != 0.99 {
		t.Errorf("expected confidence 0.99, got %f", res.Confidence)
	}
	if !res.IsMatch {
		t.Error("expected match")
	}
	if res.Metadata["reason"] == "" {
		t.Error("expected reason metadata")
	}
}

func TestCompare_ThresholdOverridesProviderVerdict(t *testing.T) {
	// Provider says match=true but confidence is below our threshold.
	provider := &fakeProvider{
		responses: map[string]string{
			"Jan Oblak": `{"confidence": 0.70, "match": true, "reason": "provider is too eager"}`,
		},
	}
	j := New(provider, 0.80, 0.07)

	res, err := j.Compare(context.Background(), "Sergio Ramos", "Jan Oblak")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.IsMatch {
		t.Error("caller threshold must override provider match flag")
	}
	if res.Metadata["provider_match"] != "true" {
		t.Errorf("provider verdict should still be recorded, got %q", res.Metadata["provider_match"])
	}
}

func TestCompare_ExtractsJSONFromSurroundingText(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]string{
			"Kevin": "Sure! Here is my verdict: {\"confidence\": 0.95, \"match\": true, \"reason\": \"subset\"} Let me know if you need anything else.",
		},
	}
	j := New(provider, 0.80, 0.07)

	res, err := j.Compare(context.Background(), "Kevin De Bruyne", "Kevin Bruyne")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.Confidence != 0.95 || !res.IsMatch {
		t.Errorf("expected 0.95/match, got %f/%v", res.Confidence, res.IsMatch)
	}
}

func TestCompare_RegexFallback(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]string{
			"Luka": `the confidence: 0.85 but I forgot to close the braces {`,
		},
	}
	j := New(provider, 0.80, 0.07)

	res, err := j.Compare(context.Background(), "Luka Modric", "Luka Modrić")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.Confidence != 0.85 {
		t.Errorf("expected regex-extracted confidence 0.85, got %f", res.Confidence)
	}
}

func TestCompare_UnparsableResponse(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]string{
			"Pedri": "I cannot help with that.",
		},
	}
	j := New(provider, 0.80, 0.07)

	res, err := j.Compare(context.Background(), "Pedri Gonzalez", "Pedri")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.Confidence != 0 || res.IsMatch {
		t.Errorf("unparsable response must yield zero-confidence no-match, got %f/%v", res.Confidence, res.IsMatch)
	}
	if res.Metadata["raw_response"] != "I cannot help with that." {
		t.Error("raw response must be preserved for diagnostics")
	}
	if res.Metadata["parse_error"] == "" {
		t.Error("expected parse_error metadata")
	}
}

func TestCompare_TransportErrorBecomesZeroConfidence(t *testing.T) {
	provider := &fakeProvider{
		errs: map[string]error{
			"Gavi": errors.New("connection refused"),
		},
	}
	j := New(provider, 0.80, 0.07)

	res, err := j.Compare(context.Background(), "Gavi Paez", "Gavi")
	if err != nil {
		t.Fatalf("transport errors must not propagate: %v", err)
	}
	if res.Confidence != 0 || res.IsMatch {
		t.Errorf("expected zero-confidence result, got %f/%v", res.Confidence, res.IsMatch)
	}
	if res.Metadata["error"] == "" {
		t.Error("expected error text in metadata")
	}
}

func TestCompare_QuotaErrorPropagates(t *testing.T) {
	provider := &fakeProvider{
		errs: map[string]error{
			"Rodri": fmt.Errorf("%w: status 429", ai.ErrQuotaExceeded),
		},
	}
	j := New(provider, 0.80, 0.07)

	_, err := j.Compare(context.Background(), "Rodri Hernandez", "Rodri")
	if !ai.IsQuota(err) {
		t.Fatalf("quota error must propagate, got %v", err)
	}
}

func TestCompareBatch_OrderedByConfidence(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]string{
			"Alice": `{"confidence": 0.40, "match": false, "reason": "weak"}`,
			"Bob":   `{"confidence": 0.95, "match": true, "reason": "strong"}`,
			"Carol": `{"confidence": 0.70, "match": false, "reason": "middling"}`,
		},
	}
	j := New(provider, 0.80, 0.07)

	results, err := j.CompareBatch(context.Background(), "Someone", []string{"Alice", "Bob", "Carol"})
	if err != nil {
		t.Fatalf("CompareBatch failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Name != "Bob" || results[1].Name != "Carol" || results[2].Name != "Alice" {
		t.Errorf("results not ordered by descending confidence: %v, %v, %v",
			results[0].Name, results[1].Name, results[2].Name)
	}
}

func TestCompareBatch_AmbiguityFlag(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]string{
			"First":  `{"confidence": 0.93, "match": true, "reason": "a"}`,
			"Second": `{"confidence": 0.90, "match": true, "reason": "b"}`,
		},
	}
	j := New(provider, 0.80, 0.07)

	results, err := j.CompareBatch(context.Background(), "Someone", []string{"First", "Second"})
	if err != nil {
		t.Fatalf("CompareBatch failed: %v", err)
	}
	if results[0].Metadata["ambiguous_top_two"] != "true" {
		t.Error("expected ambiguous_top_two flag on top result")
	}
	if results[0].Metadata["top_minus_second"] == "" {
		t.Error("expected top_minus_second metadata")
	}
}

func TestCompareBatch_NoAmbiguityWhenGapLarge(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]string{
			"First":  `{"confidence": 0.95, "match": true, "reason": "a"}`,
			"Second": `{"confidence": 0.82, "match": true, "reason": "b"}`,
		},
	}
	j := New(provider, 0.80, 0.07)

	results, err := j.CompareBatch(context.Background(), "Someone", []string{"First", "Second"})
	if err != nil {
		t.Fatalf("CompareBatch failed: %v", err)
	}
	if _, ok := results[0].Metadata["ambiguous_top_two"]; ok {
		t.Error("gap of 0.13 must not be flagged ambiguous")
	}
}

func TestCompareBatch_NoAmbiguityWhenSecondBelowThreshold(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]string{
			"First":  `{"confidence": 0.82, "match": true, "reason": "a"}`,
			"Second": `{"confidence": 0.78, "match": false, "reason": "b"}`,
		},
	}
	j := New(provider, 0.80, 0.07)

	results, err := j.CompareBatch(context.Background(), "Someone", []string{"First", "Second"})
	if err != nil {
		t.Fatalf("CompareBatch failed: %v", err)
	}
	if _, ok := results[0].Metadata["ambiguous_top_two"]; ok {
		t.Error("ambiguity requires both confidences above threshold")
	}
}

func TestCompareBatch_QuotaAborts(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]string{
			"Alice": `{"confidence": 0.40, "match": false, "reason": "weak"}`,
		},
		errs: map[string]error{
			"Bob": fmt.Errorf("%w: status 429", ai.ErrQuotaExceeded),
		},
	}
	j := New(provider, 0.80, 0.07)

	_, err := j.CompareBatch(context.Background(), "Someone", []string{"Alice", "Bob", "Carol"})
	if !ai.IsQuota(err) {
		t.Fatalf("expected quota error to abort batch, got %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("expected exactly 2 provider calls before abort, got %d", provider.calls)
	}
}

func TestCompare_ConfidenceClamped(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]string{
			"Over": `{"confidence": 1.7, "match": true, "reason": "overshoot"}`,
		},
	}
	j := New(provider, 0.80, 0.07)

	res, err := j.Compare(context.Background(), "Someone", "Over")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.Confidence != 1 {
		t.Errorf("confidence must be clamped to 1, got %f", res.Confidence)
	}
}
