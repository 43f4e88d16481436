package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
	usage  Usage
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		model:  model,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return p.model
}

// Local reports false; Gemini models are cloud-hosted.
func (p *GeminiProvider) Local() bool {
	return false
}

// Release is a no-op for cloud-hosted models.
func (p *GeminiProvider) Release(ctx context.Context) error {
	return nil
}

func (p *GeminiProvider) GetUsage() *Usage {
	return &p.usage
}

func (p *GeminiProvider) ResetUsage() {
	p.usage = Usage{}
}

func (p *GeminiProvider) trackUsage(inputTokens, outputTokens int32) {
	p.usage.InputTokens += int(inputTokens)
	p.usage.OutputTokens += int(outputTokens)
}

func (p *GeminiProvider) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	temp := float32(temperature)
	config := &genai.GenerateContentConfig{
		Temperature: &temp,
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", p.wrapError(err)
	}

	if result.UsageMetadata != nil {
		p.trackUsage(result.UsageMetadata.PromptTokenCount, result.UsageMetadata.CandidatesTokenCount)
	}

	content := result.Text()
	if content == "" {
		return "", errors.New("no response from Gemini")
	}
	return content, nil
}

func (p *GeminiProvider) CompleteWithImage(ctx context.Context, imageData []byte, prompt string) (string, error) {
	resizedData, err := ResizeImage(imageData, 800)
	if err != nil {
		return "", fmt.Errorf("failed to resize image: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{InlineData: &genai.Blob{Data: resizedData, MIMEType: "image/jpeg"}},
			},
		},
	}

	temp := float32(0)
	config := &genai.GenerateContentConfig{
		Temperature: &temp,
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", p.wrapError(err)
	}

	if result.UsageMetadata != nil {
		p.trackUsage(result.UsageMetadata.PromptTokenCount, result.UsageMetadata.CandidatesTokenCount)
	}

	content := result.Text()
	if content == "" {
		return "", errors.New("no response from Gemini")
	}
	return content, nil
}

func (p *GeminiProvider) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusConflict {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
	}
	return fmt.Errorf("gemini API error: %w", err)
}
