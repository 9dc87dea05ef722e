package transcribe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"feedscribe/internal/retry"
)

// downloadMedia streams a media URL to a temporary file and returns its
// path. The caller is responsible for removing the file.
func downloadMedia(ctx context.Context, client *http.Client, mediaURL string) (string, error) {
	tempFile, err := os.CreateTemp("", "feedscribe-*.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		if closeErr := tempFile.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close temp file")
		}
	}()

	err = retry.Do(ctx, retry.DefaultConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
		if err != nil {
			return fmt.Errorf("failed to build media request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch media: %w", err)
		}
		defer func() {
			_ = resp.Body.Close() // Close errors are not critical
		}()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("media returned status %d", resp.StatusCode)
		}

		// Restart from the top on a retried attempt
		if _, err := tempFile.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind temp file: %w", err)
		}
		if err := tempFile.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate temp file: %w", err)
		}

		if _, err := io.Copy(tempFile, resp.Body); err != nil {
			return fmt.Errorf("failed to write media to temp file: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = os.Remove(tempPath) // Cleanup errors are not critical
		return "", err
	}

	return tempPath, nil
}
