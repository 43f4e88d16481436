package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultLlamaCppURL = "http://localhost:8080"

// LlamaCppProvider implements Provider using a llama.cpp server with the
// OpenAI-compatible chat API.
type LlamaCppProvider struct {
	parsedURL *url.URL
	model     string
	client    *http.Client
	usage     Usage
}

// NewLlamaCppProvider creates a new llama.cpp provider with the given config.
func NewLlamaCppProvider(baseURL, model string) (*LlamaCppProvider, error) {
	if baseURL == "" {
		baseURL = defaultLlamaCppURL
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid llama.cpp URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid llama.cpp URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid llama.cpp URL: missing host")
	}
	return &LlamaCppProvider{
		parsedURL: parsed,
		model:     model,
		client:    &http.Client{},
	}, nil
}

func (p *LlamaCppProvider) Name() string {
	return p.model
}

// Local reports true; llama.cpp serves a locally-resident model.
func (p *LlamaCppProvider) Local() bool {
	return true
}

// Release is a no-op: a llama.cpp server owns exactly one model for its
// whole lifetime, there is nothing to unload without stopping the server.
func (p *LlamaCppProvider) Release(ctx context.Context) error {
	return nil
}

func (p *LlamaCppProvider) GetUsage() *Usage {
	return &p.usage
}

func (p *LlamaCppProvider) ResetUsage() {
	p.usage = Usage{}
}

// llamaCppRequest represents a request to the llama.cpp OpenAI-compatible API.
type llamaCppRequest struct {
	Model       string            `json:"model"`
	Messages    []llamaCppMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature"`
	Stream      bool              `json:"stream"`
}

type llamaCppMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type llamaCppContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *llamaCppImageURL `json:"image_url,omitempty"`
}

type llamaCppImageURL struct {
	URL string `json:"url"`
}

// llamaCppResponse represents a chat completion response.
type llamaCppResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *LlamaCppProvider) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	messages := []llamaCppMessage{
		{Role: "user", Content: prompt},
	}
	return p.sendChat(ctx, messages, temperature)
}

func (p *LlamaCppProvider) CompleteWithImage(ctx context.Context, imageData []byte, prompt string) (string, error) {
	resizedData, err := ResizeImage(imageData, 800)
	if err != nil {
		return "", fmt.Errorf("failed to resize image: %w", err)
	}

	base64Image := base64.StdEncoding.EncodeToString(resizedData)
	messages := []llamaCppMessage{
		{
			Role: "user",
			Content: []llamaCppContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &llamaCppImageURL{
					URL: "data:image/jpeg;base64," + base64Image,
				}},
			},
		},
	}
	return p.sendChat(ctx, messages, 0)
}

func (p *LlamaCppProvider) sendChat(ctx context.Context, messages []llamaCppMessage, temperature float64) (string, error) {
	reqBody := llamaCppRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   500,
		Temperature: temperature,
		Stream:      false,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := p.parsedURL.String() + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusConflict {
		return "", fmt.Errorf("%w: status %d: %s", ErrQuotaExceeded, resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var llamaResp llamaCppResponse
	if err := json.Unmarshal(body, &llamaResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(llamaResp.Choices) == 0 {
		return "", errors.New("no response from llama.cpp")
	}

	p.usage.InputTokens += llamaResp.Usage.PromptTokens
	p.usage.OutputTokens += llamaResp.Usage.CompletionTokens

	return llamaResp.Choices[0].Message.Content, nil
}
