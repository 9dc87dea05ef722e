package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// GeminiModelPriority is the ordered fallback list for AI Studio: newest
// flash models first. Operators reorder this data, not pipeline code.
var GeminiModelPriority = []string{
	"gemini-3.0-flash",
	"gemini-3-flash-preview",
	"gemini-2.5-flash-preview-05-20",
	"gemini-2.5-flash",
	"gemini-2.0-flash",
}

// transcriptPrompt asks for a complete verbatim Japanese transcript.
const transcriptPrompt = "This is Japanese-language audio. Produce a complete verbatim transcript, " +
	"word for word, with no summarization. Output only the Japanese text with no commentary."

const geminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiClient talks to the AI Studio (Gemini) REST API.
type GeminiClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  []string
}

// NewGeminiClient creates a client with the default model priority list.
func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: geminiBaseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
		models:  GeminiModelPriority,
	}
}

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"file_data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiFile struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	State string `json:"state"`
}

type geminiFileEnvelope struct {
	File geminiFile `json:"file"`
}

// Prompt sends a text-only request, trying each model in priority order.
// It returns the generated text and the model that served it.
func (g *GeminiClient) Prompt(ctx context.Context, prompt string) (string, string, error) {
	return tryCandidates(g.models, func(model string) (string, error) {
		return g.generate(ctx, model, []geminiPart{{Text: prompt}})
	})
}

// TranscribeFile uploads an audio file, waits until it is processed, then
// requests a transcript across the model priority list.
func (g *GeminiClient) TranscribeFile(ctx context.Context, path string) (string, string, error) {
	file, err := g.uploadFile(ctx, path)
	if err != nil {
		return "", "", fmt.Errorf("failed to upload audio: %w", err)
	}

	if err := g.waitForFile(ctx, file); err != nil {
		return "", "", err
	}

	parts := []geminiPart{
		{FileData: &geminiFileData{MimeType: "audio/mpeg", FileURI: file.URI}},
		{Text: transcriptPrompt},
	}
	return tryCandidates(g.models, func(model string) (string, error) {
		return g.generate(ctx, model, parts)
	})
}

// uploadFile pushes raw audio bytes through the Files API.
func (g *GeminiClient) uploadFile(ctx context.Context, path string) (*geminiFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close audio file")
		}
	}()

	url := fmt.Sprintf("%s/upload/v1beta/files?key=%s", g.baseURL, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, f)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/mpeg")
	req.Header.Set("X-Goog-Upload-Protocol", "raw")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Close errors are not critical
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var envelope geminiFileEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if envelope.File.URI == "" {
		return nil, fmt.Errorf("upload response missing file URI")
	}

	return &envelope.File, nil
}

// waitForFile polls the Files API until the upload is ACTIVE.
func (g *GeminiClient) waitForFile(ctx context.Context, file *geminiFile) error {
	for i := 0; i < 60; i++ {
		switch file.State {
		case "ACTIVE":
			return nil
		case "FAILED":
			return fmt.Errorf("audio processing failed for %s", file.Name)
		}

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return fmt.Errorf("waiting for audio processing: %w", ctx.Err())
		}

		url := fmt.Sprintf("%s/v1beta/%s?key=%s", g.baseURL, file.Name, g.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build file status request: %w", err)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return fmt.Errorf("file status request failed: %w", err)
		}
		var updated geminiFile
		decodeErr := json.NewDecoder(resp.Body).Decode(&updated)
		_ = resp.Body.Close() // Close errors are not critical
		if decodeErr != nil {
			return fmt.Errorf("failed to decode file status: %w", decodeErr)
		}
		if updated.State != "" {
			file.State = updated.State
		}
	}

	return fmt.Errorf("audio processing timed out for %s", file.Name)
}

// generate calls generateContent for one model and extracts the text.
func (g *GeminiClient) generate(ctx context.Context, model string, parts []geminiPart) (string, error) {
	reqBody := geminiRequest{}
	reqBody.Contents = append(reqBody.Contents, struct {
		Parts []geminiPart `json:"parts"`
	}{Parts: parts})

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
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

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("model %s returned no candidates", model)
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	return strings.TrimSpace(sb.String()), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
