package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider implements Provider using a local Ollama server.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
	usage   Usage
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

func (p *OllamaProvider) Name() string {
	return p.model
}

// Local reports true; the model occupies local GPU/CPU memory while loaded.
func (p *OllamaProvider) Local() bool {
	return true
}

// Release asks the Ollama server to unload the model immediately by issuing
// a zero keep-alive request, freeing memory for the next local model.
func (p *OllamaProvider) Release(ctx context.Context) error {
	reqBody := map[string]any{
		"model":      p.model,
		"keep_alive": 0,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal unload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create unload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("unload request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unload request returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *OllamaProvider) GetUsage() *Usage {
	return &p.usage
}

func (p *OllamaProvider) ResetUsage() {
	p.usage = Usage{}
}

// ollamaRequest represents a request to the Ollama chat API.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 encoded images
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

// ollamaResponse represents a response from the Ollama chat API.
type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

func (p *OllamaProvider) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	messages := []ollamaMessage{
		{Role: "user", Content: prompt},
	}
	return p.sendChat(ctx, messages, temperature)
}

func (p *OllamaProvider) CompleteWithImage(ctx context.Context, imageData []byte, prompt string) (string, error) {
	resizedData, err := ResizeImage(imageData, 800)
	if err != nil {
		return "", fmt.Errorf("failed to resize image: %w", err)
	}

	messages := []ollamaMessage{
		{
			Role:    "user",
			Content: prompt,
			Images:  []string{base64.StdEncoding.EncodeToString(resizedData)},
		},
	}
	return p.sendChat(ctx, messages, 0)
}

func (p *OllamaProvider) sendChat(ctx context.Context, messages []ollamaMessage, temperature float64) (string, error) {
	reqBody := ollamaRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			NumPredict:  500,
			Temperature: temperature,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(jsonBody))
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

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	p.usage.InputTokens += ollamaResp.PromptEvalCount
	p.usage.OutputTokens += ollamaResp.EvalCount

	return ollamaResp.Message.Content, nil
}
