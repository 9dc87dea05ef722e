// Package feed fetches RSS/Atom feeds and locates the newest audio episode.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"feedscribe/internal/retry"
)

// Result describes the newest entry of a feed. MediaURL is empty when the
// entry carries no audio enclosure ("no media" is not an error).
type Result struct {
	FeedTitle    string
	EpisodeTitle string
	EpisodeLink  string
	MediaURL     string
}

// Fetcher retrieves feeds over HTTP and parses them.
type Fetcher struct {
	client   *http.Client
	parser   *gofeed.Parser
	retryCfg retry.Config
}

// NewFetcher creates a feed fetcher with sane HTTP timeouts.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		parser:   gofeed.NewParser(),
		retryCfg: retry.DefaultConfig,
	}
}

// Latest fetches a feed and returns its newest entry. The fetch is retried
// on transient HTTP failures; an unreachable or unparseable feed is an
// error, an entry without audio is a Result with an empty MediaURL.
func (f *Fetcher) Latest(ctx context.Context, feedURL string) (*Result, error) {
	var parsed *gofeed.Feed
	err := retry.Do(ctx, f.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return fmt.Errorf("failed to build feed request: %w", err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch feed: %w", err)
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				logrus.WithError(closeErr).Warn("Failed to close feed response body")
			}
		}()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("feed returned status %d", resp.StatusCode)
		}

		parsed, err = f.parser.Parse(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to parse feed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &Result{FeedTitle: parsed.Title}
	if len(parsed.Items) == 0 {
		return result, nil
	}

	entry := parsed.Items[0]
	result.EpisodeTitle = entry.Title
	result.EpisodeLink = entry.Link
	result.MediaURL = audioURL(entry)

	return result, nil
}

// audioURL picks the first audio enclosure of an entry, falling back to any
// link ending in .mp3.
func audioURL(entry *gofeed.Item) string {
	for _, enc := range entry.Enclosures {
		encType := strings.ToLower(enc.Type)
		if strings.Contains(encType, "audio") || strings.Contains(encType, "mpeg") ||
			strings.HasSuffix(strings.ToLower(enc.URL), ".mp3") {
			return enc.URL
		}
	}
	for _, link := range entry.Links {
		if strings.HasSuffix(strings.ToLower(link), ".mp3") {
			return link
		}
	}
	return ""
}
