package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenRouterModelPriority is the ordered fallback list of free models,
// best first.
var OpenRouterModelPriority = []string{
	"google/gemini-2.0-flash-001:free",
	"deepseek/deepseek-r1:free",
	"deepseek/deepseek-chat:free",
	"qwen/qwen3-14b:free",
	"qwen/qwen3-32b:free",
	"meta-llama/llama-4-scout:free",
	"meta-llama/llama-3.2-3b-instruct:free",
	"mistralai/mistral-7b-instruct:free",
	"microsoft/phi-3-mini-128k-instruct:free",
}

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterClient talks to the OpenRouter chat-completions API. It serves
// connection tests and text prompts; it has no audio support.
type OpenRouterClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  []string
}

// NewOpenRouterClient creates a client with the default model priority list.
func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return &OpenRouterClient{
		apiKey:  apiKey,
		baseURL: openRouterBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		models:  OpenRouterModelPriority,
	}
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type openRouterResponse struct {
	Choices []struct {
		Message openRouterMessage `json:"message"`
	} `json:"choices"`
}

// Prompt sends a chat completion, trying each model in priority order, and
// returns the generated text and the model that served it.
func (o *OpenRouterClient) Prompt(ctx context.Context, prompt string) (string, string, error) {
	return tryCandidates(o.models, func(model string) (string, error) {
		return o.complete(ctx, model, prompt)
	})
}

func (o *OpenRouterClient) complete(ctx context.Context, model, prompt string) (string, error) {
	payload, err := json.Marshal(openRouterRequest{
		Model:       model,
		Messages:    []openRouterMessage{{Role: "user", Content: prompt}},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", "feedscribe")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Close errors are not critical
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model %s returned status %d: %s", model, resp.StatusCode, truncate(string(body), 200))
	}

	var parsed openRouterResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no choices", model)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
