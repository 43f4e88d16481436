// Package match decides which roster identity a photograph belongs to,
// escalating through three tiers: exact external identifier, deterministic
// string similarity, then the AI name judge.
package match

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mvelasco/photo-mapper/internal/judge"
	"github.com/mvelasco/photo-mapper/internal/names"
	"github.com/mvelasco/photo-mapper/internal/roster"
)

// Tier identifies the matching strategy that produced a result.
type Tier string

const (
	TierExact  Tier = "exact"
	TierString Tier = "string"
	TierAI     Tier = "ai"
	TierNone   Tier = "none"
)

// MappingResult is the terminal per-photograph outcome.
type MappingResult struct {
	Photo      PhotoMetadata
	MatchedID  string // internal id of the accepted identity, empty if none
	Tier       Tier
	Confidence float64
	Threshold  float64
	Elapsed    time.Duration
	Metadata   map[string]string
}

// Matcher runs the tiered decision for one photograph against a roster.
// The judge is optional; without it the AI tier is skipped. Match is safe
// for concurrent use: roster reads and mutations are serialized, only the
// judge call runs unlocked.
type Matcher struct {
	judge     *judge.Judge
	threshold float64
	mu        sync.Mutex
}

func New(j *judge.Judge, threshold float64) *Matcher {
	return &Matcher{judge: j, threshold: threshold}
}

// Match evaluates one photograph against the full candidate roster. On
// acceptance the chosen identity's Confidence, Valid and ExternalID fields
// are mutated in place; persisting them is the caller's responsibility.
// Only quota exhaustion from the judge propagates as an error.
func (m *Matcher) Match(ctx context.Context, photo PhotoMetadata, identities []roster.Identity) (MappingResult, error) {
	start := time.Now()
	result := MappingResult{
		Photo:     photo,
		Tier:      TierNone,
		Threshold: m.threshold,
		Metadata:  map[string]string{"provenance": string(photo.Provenance)},
	}

	// Tiers 1 and 2 are pure roster scans; both run under the lock.
	m.mu.Lock()

	// Tier 1: exact external identifier.
	if photo.ExternalID != "" {
		for i := range identities {
			if identities[i].ExternalID != "" && identities[i].ExternalID == photo.ExternalID {
				m.accept(&identities[i], &result, TierExact, 1.0)
				m.mu.Unlock()
				result.Elapsed = time.Since(start)
				return result, nil
			}
		}
	}

	// Tier 2: deterministic string similarity.
	if photo.DisplayName != "" {
		bestIdx, bestScore := -1, 0.0
		for i := range identities {
			if score := names.Similarity(photo.DisplayName, identities[i].FullName); score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		if bestIdx >= 0 && bestScore >= m.threshold {
			m.accept(&identities[bestIdx], &result, TierString, bestScore)
			m.mu.Unlock()
			result.Elapsed = time.Since(start)
			return result, nil
		}
	}

	// Tier 3: AI judge over all candidates. The provider call must not run
	// under the lock.
	var candidates []string
	if m.judge != nil && photo.DisplayName != "" && len(identities) > 0 {
		candidates = make([]string, len(identities))
		for i := range identities {
			candidates[i] = identities[i].FullName
		}
	}
	m.mu.Unlock()

	if candidates != nil {
		judged, err := m.judge.CompareBatch(ctx, photo.DisplayName, candidates)
		if err != nil {
			// Quota exhaustion and cancellation escalate to the batch layer.
			return result, err
		}
		if len(judged) > 0 {
			top := judged[0]
			for k, v := range top.Metadata {
				result.Metadata[k] = v
			}
			if top.Confidence >= m.threshold {
				m.mu.Lock()
				idx := indexOfName(identities, top.Name)
				if idx >= 0 {
					m.accept(&identities[idx], &result, TierAI, top.Confidence)
					m.mu.Unlock()
					result.Elapsed = time.Since(start)
					return result, nil
				}
				m.mu.Unlock()
			}
			// No tier accepted: the result stays at confidence 0, the judge's
			// best score survives only as a diagnostic.
			result.Metadata["best_ai_confidence"] = strconv.FormatFloat(top.Confidence, 'f', 4, 64)
		}
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

func (m *Matcher) accept(id *roster.Identity, result *MappingResult, tier Tier, confidence float64) {
	id.Confidence = confidence
	id.Valid = true
	if id.ExternalID == "" && result.Photo.ExternalID != "" {
		id.ExternalID = result.Photo.ExternalID
	}

	result.MatchedID = id.InternalID
	result.Tier = tier
	result.Confidence = confidence
	result.Metadata["matched_name"] = id.FullName
}

func indexOfName(identities []roster.Identity, name string) int {
	for i := range identities {
		if identities[i].FullName == name {
			return i
		}
	}
	return -1
}
