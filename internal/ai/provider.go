// Package ai abstracts chat- and vision-completion providers behind a single
// interface. Model selection is a tagged ModelRef parsed once from
// configuration, never sniffed from model-name substrings at call sites.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderKind identifies a completion backend.
type ProviderKind string

const (
	ProviderOpenAI   ProviderKind = "openai"
	ProviderGemini   ProviderKind = "gemini"
	ProviderOllama   ProviderKind = "ollama"
	ProviderLlamaCpp ProviderKind = "llamacpp"
)

// ModelRef names a concrete model on a concrete provider, e.g.
// "openai:gpt-4.1-mini" or "ollama:llava:7b".
type ModelRef struct {
	Provider ProviderKind
	ID       string
}

func (m ModelRef) String() string {
	return string(m.Provider) + ":" + m.ID
}

// ParseModelRef parses a "provider:model" string. The model part may itself
// contain colons (Ollama tags like "llava:7b").
func ParseModelRef(s string) (ModelRef, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return ModelRef{}, fmt.Errorf("invalid model reference %q: expected provider:model", s)
	}
	switch k := ProviderKind(strings.ToLower(kind)); k {
	case ProviderOpenAI, ProviderGemini, ProviderOllama, ProviderLlamaCpp:
		return ModelRef{Provider: k, ID: id}, nil
	default:
		return ModelRef{}, fmt.Errorf("unknown provider %q in model reference %q", kind, s)
	}
}

// Provider defines the completion backend contract. Temperature 0 must be
// honored so judge calls stay deterministic.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
	CompleteWithImage(ctx context.Context, imageData []byte, prompt string) (string, error)
	// Local reports whether the model runs on local inference hardware.
	// Before a local model is invoked, other locally-resident models should
	// be released to avoid memory pressure.
	Local() bool
	// Release unloads a locally-resident model. No-op for cloud providers.
	Release(ctx context.Context) error

	GetUsage() *Usage
	ResetUsage()
}

// Usage tracks token usage per provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ErrQuotaExceeded marks provider rate/quota rejections. Unlike transport
// errors this must propagate: retrying or continuing the batch would only
// reproduce the same failure.
var ErrQuotaExceeded = errors.New("provider quota exceeded")

// IsQuota reports whether err is a quota/rate-limit rejection.
func IsQuota(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// Credentials carries the per-provider connection settings needed to build
// a Provider from a ModelRef.
type Credentials struct {
	OpenAIToken  string
	GeminiAPIKey string
	OllamaURL    string
	LlamaCppURL  string
}

// NewProvider constructs the backend for a model reference.
func NewProvider(ctx context.Context, ref ModelRef, creds Credentials) (Provider, error) {
	switch ref.Provider {
	case ProviderOpenAI:
		if creds.OpenAIToken == "" {
			return nil, errors.New("OPENAI_TOKEN is not set")
		}
		return NewOpenAIProvider(creds.OpenAIToken, ref.ID), nil
	case ProviderGemini:
		if creds.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is not set")
		}
		return NewGeminiProvider(ctx, creds.GeminiAPIKey, ref.ID)
	case ProviderOllama:
		return NewOllamaProvider(creds.OllamaURL, ref.ID), nil
	case ProviderLlamaCpp:
		return NewLlamaCppProvider(creds.LlamaCppURL, ref.ID)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", ref.Provider)
	}
}
