// Package transcribe turns episode audio into text through AI providers
// with ordered model fallback.
package transcribe

import (
	"errors"
	"fmt"
)

// tryCandidates runs call against each candidate in priority order and
// returns the first non-empty result together with the candidate that
// produced it. When every candidate fails, the last error seen is returned.
// Callers must not assume which candidate served the request.
func tryCandidates(candidates []string, call func(candidate string) (string, error)) (string, string, error) {
	if len(candidates) == 0 {
		return "", "", errors.New("no candidates configured")
	}

	var lastErr error
	for _, candidate := range candidates {
		text, err := call(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if text == "" {
			lastErr = fmt.Errorf("candidate %s returned empty text", candidate)
			continue
		}
		return text, candidate, nil
	}

	return "", "", fmt.Errorf("all candidates failed: %w", lastErr)
}
