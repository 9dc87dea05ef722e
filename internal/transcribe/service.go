package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Provider identifiers and their settings keys.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"

	SettingProvider      = "api_provider"
	SettingGeminiKey     = "gemini_api_key"
	SettingOpenRouterKey = "openrouter_api_key"
)

// ErrNoAPIKey is returned when no credential is configured for a provider.
var ErrNoAPIKey = errors.New("no API key configured")

// SettingsReader is the slice of the ledger the service needs.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// Archiver mirrors downloaded audio to long-term storage. Implementations
// must treat failures as non-fatal; the service only logs them.
type Archiver interface {
	ArchiveAudio(ctx context.Context, mediaURL, localPath string) error
}

// Service transcribes episode audio. Audio transcription always goes
// through Gemini (the only backend that accepts audio); the provider
// setting selects which backend connection tests exercise.
type Service struct {
	settings SettingsReader
	archiver Archiver // optional
	client   *http.Client
}

// NewService creates a transcription service. archiver may be nil.
func NewService(settings SettingsReader, archiver Archiver) *Service {
	return &Service{
		settings: settings,
		archiver: archiver,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// Transcribe downloads the media, optionally archives it, and produces a
// transcript via Gemini's model fallback chain. It returns the transcript
// and the model that produced it.
func (s *Service) Transcribe(ctx context.Context, mediaURL string) (string, string, error) {
	key, err := s.geminiKey(ctx)
	if err != nil {
		return "", "", err
	}

	path, err := downloadMedia(ctx, s.client, mediaURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to download media: %w", err)
	}
	defer func() {
		if removeErr := os.Remove(path); removeErr != nil {
			logrus.WithError(removeErr).Warn("Failed to remove downloaded media")
		}
	}()

	if s.archiver != nil {
		if archiveErr := s.archiver.ArchiveAudio(ctx, mediaURL, path); archiveErr != nil {
			logrus.WithError(archiveErr).WithField("media_url", mediaURL).Warn("Failed to archive audio")
		}
	}

	return NewGeminiClient(key).TranscribeFile(ctx, path)
}

// Test performs a minimal round trip against the requested provider and
// reports the model that answered. Inline keys take precedence over stored
// ones for the duration of the test.
func (s *Service) Test(ctx context.Context, provider, inlineGeminiKey, inlineOpenRouterKey string) (string, error) {
	const testPrompt = "Reply with: OK"

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderGemini:
		key := strings.TrimSpace(inlineGeminiKey)
		if key == "" {
			stored, err := s.settings.GetSetting(ctx, SettingGeminiKey)
			if err != nil {
				return "", err
			}
			key = stored
		}
		if key == "" {
			return "", fmt.Errorf("gemini: %w", ErrNoAPIKey)
		}
		_, model, err := NewGeminiClient(key).Prompt(ctx, testPrompt)
		return model, err

	case ProviderOpenRouter:
		key := strings.TrimSpace(inlineOpenRouterKey)
		if key == "" {
			stored, err := s.settings.GetSetting(ctx, SettingOpenRouterKey)
			if err != nil {
				return "", err
			}
			key = stored
		}
		if key == "" {
			return "", fmt.Errorf("openrouter: %w", ErrNoAPIKey)
		}
		_, model, err := NewOpenRouterClient(key).Prompt(ctx, testPrompt)
		return model, err

	default:
		return "", fmt.Errorf("unknown provider %q (supported: %s, %s)", provider, ProviderGemini, ProviderOpenRouter)
	}
}

// geminiKey resolves the Gemini credential: the environment wins over the
// stored setting.
func (s *Service) geminiKey(ctx context.Context) (string, error) {
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		return key, nil
	}

	stored, err := s.settings.GetSetting(ctx, SettingGeminiKey)
	if err != nil {
		return "", fmt.Errorf("failed to read stored credential: %w", err)
	}
	if stored = strings.TrimSpace(stored); stored != "" {
		return stored, nil
	}

	return "", fmt.Errorf("gemini: %w (save one under provider settings)", ErrNoAPIKey)
}
