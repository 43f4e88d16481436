// Package judge compares person names through a chat-completion provider
// with a calibrated, deterministic rule prompt. The caller's threshold is
// authoritative for the match decision; the provider's self-reported match
// flag is recorded but never trusted.
package judge

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mvelasco/photo-mapper/internal/ai"
	"github.com/mvelasco/photo-mapper/internal/names"
)

//go:embed prompts/name_compare.txt
var nameComparePrompt string

// confidenceRe salvages a confidence value from responses that are not
// valid JSON but still mention the field.
var confidenceRe = regexp.MustCompile(`"?confidence"?\s*[:=]\s*([0-9]*\.?[0-9]+)`)

// MatchResult is the outcome of one name-comparison attempt.
type MatchResult struct {
	Name       string            // candidate name compared against the base
	Confidence float64           // in [0,1]
	IsMatch    bool              // threshold-enforced, not provider-trusted
	Metadata   map[string]string // reason, provider, raw response, ambiguity flags
}

// Judge runs calibrated name comparisons against a completion provider.
type Judge struct {
	provider     ai.Provider
	threshold    float64
	ambiguityGap float64
}

// New creates a Judge. threshold is the minimum confidence to accept a
// match; ambiguityGap is the maximum distance between the top two batch
// confidences before the result is flagged ambiguous.
func New(provider ai.Provider, threshold, ambiguityGap float64) *Judge {
	return &Judge{
		provider:     provider,
		threshold:    threshold,
		ambiguityGap: ambiguityGap,
	}
}

// Threshold returns the judge's active confidence threshold.
func (j *Judge) Threshold() float64 {
	return j.threshold
}

// Compare judges whether two names refer to the same person. Quota errors
// from the provider propagate; any other provider error is converted into a
// zero-confidence result so a batch can continue.
func (j *Judge) Compare(ctx context.Context, base, candidate string) (MatchResult, error) {
	prompt := buildPrompt(base, candidate)

	// Temperature 0: judging must be reproducible.
	response, err := j.provider.Complete(ctx, prompt, 0)
	if err != nil {
		if ai.IsQuota(err) {
			return MatchResult{}, err
		}
		return MatchResult{
			Name:       candidate,
			Confidence: 0,
			IsMatch:    false,
			Metadata: map[string]string{
				"provider": j.provider.Name(),
				"error":    err.Error(),
			},
		}, nil
	}

	return j.parseResponse(candidate, response), nil
}

// CompareBatch judges one base name against every candidate and returns the
// results ordered by descending confidence. When the top two results are
// both above threshold and closer than the ambiguity gap, the top result is
// flagged with ambiguous_top_two and top_minus_second metadata.
func (j *Judge) CompareBatch(ctx context.Context, base string, candidates []string) ([]MatchResult, error) {
	results := make([]MatchResult, 0, len(candidates))
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := j.Compare(ctx, base, candidate)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Confidence > results[b].Confidence
	})

	if len(results) >= 2 {
		top, second := results[0], results[1]
		gap := top.Confidence - second.Confidence
		if top.Confidence >= j.threshold && second.Confidence >= j.threshold && gap < j.ambiguityGap {
			results[0].Metadata["ambiguous_top_two"] = "true"
			results[0].Metadata["top_minus_second"] = strconv.FormatFloat(gap, 'f', 4, 64)
		}
	}

	return results, nil
}

// judgeResponse is the JSON shape the prompt asks the provider for.
type judgeResponse struct {
	Confidence float64 `json:"confidence"`
	Match      bool    `json:"match"`
	Reason     string  `json:"reason"`
}

func (j *Judge) parseResponse(candidate, response string) MatchResult {
	meta := map[string]string{
		"provider":     j.provider.Name(),
		"raw_response": response,
	}

	var parsed judgeResponse
	if err := json.Unmarshal([]byte(ai.ExtractJSON(response)), &parsed); err == nil {
		confidence := clamp01(parsed.Confidence)
		meta["reason"] = parsed.Reason
		meta["provider_match"] = strconv.FormatBool(parsed.Match)
		return MatchResult{
			Name:       candidate,
			Confidence: confidence,
			IsMatch:    confidence >= j.threshold,
			Metadata:   meta,
		}
	}

	// Regex fallback: pull the confidence number out of malformed JSON.
	if m := confidenceRe.FindStringSubmatch(response); m != nil {
		if confidence, err := strconv.ParseFloat(m[1], 64); err == nil {
			confidence = clamp01(confidence)
			meta["reason"] = "confidence extracted by regex fallback"
			return MatchResult{
				Name:       candidate,
				Confidence: confidence,
				IsMatch:    confidence >= j.threshold,
				Metadata:   meta,
			}
		}
	}

	meta["parse_error"] = "response contained no parsable confidence"
	return MatchResult{
		Name:       candidate,
		Confidence: 0,
		IsMatch:    false,
		Metadata:   meta,
	}
}

func buildPrompt(base, candidate string) string {
	return fmt.Sprintf(nameComparePrompt,
		base,
		candidate,
		strings.Join(names.Normalize(base), ", "),
		strings.Join(names.Normalize(candidate), ", "),
	)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
