// Package jobs executes the per-subscription pipeline: fetch, dedup check,
// transcribe, persist, publish.
package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"feedscribe/internal/feed"
	"feedscribe/internal/metrics"
	"feedscribe/internal/publish"
	"feedscribe/pkg/types"
)

// Ledger is the slice of the store the pipeline reads and writes. The
// runner holds no state of its own between invocations.
type Ledger interface {
	GetSubscription(ctx context.Context, id int64) (*types.Subscription, error)
	IsCompleted(ctx context.Context, subID int64, mediaURL string) (bool, error)
	MarkCompleted(ctx context.Context, subID int64, mediaURL string) error
	RecordTranscript(ctx context.Context, subID int64, episodeTitle, episodeURL, mediaURL, text string, createdAt time.Time) (int64, error)
	SetLastRun(ctx context.Context, subID int64, at time.Time) error
	SetLastError(ctx context.Context, subID int64, message string) error
	ClearLastError(ctx context.Context, subID int64) error
}

// Fetcher resolves a feed's newest entry.
type Fetcher interface {
	Latest(ctx context.Context, feedURL string) (*feed.Result, error)
}

// Transcriber converts a media URL into transcript text, reporting the
// model that produced it.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL string) (text, model string, err error)
}

// Publisher persists a transcript document and propagates it to the
// remote mirror.
type Publisher interface {
	Publish(ctx context.Context, title, text, slug string) error
}

// Runner executes one pipeline pass per invocation. All failures are
// converted into recorded state or logs; Run never panics outward and
// never returns an error to its caller.
type Runner struct {
	ledger      Ledger
	fetcher     Fetcher
	transcriber Transcriber
	publisher   Publisher
}

// NewRunner wires a pipeline runner.
func NewRunner(ledger Ledger, fetcher Fetcher, transcriber Transcriber, publisher Publisher) *Runner {
	return &Runner{
		ledger:      ledger,
		fetcher:     fetcher,
		transcriber: transcriber,
		publisher:   publisher,
	}
}

// Run executes the pipeline for one subscription and returns its terminal
// outcome. Steps are strictly sequential; there is no internal parallelism.
func (r *Runner) Run(ctx context.Context, sub *types.Subscription) types.RunOutcome {
	log := logrus.WithFields(logrus.Fields{
		"feed_id":  sub.ID,
		"feed_url": sub.FeedURL,
	})

	// Fetch. A broken feed during a scheduled run is a silent skip: no
	// ledger writes, eligible again next tick.
	result, err := r.fetcher.Latest(ctx, sub.FeedURL)
	if err != nil {
		log.WithError(err).Warn("Feed fetch failed, skipping run")
		return types.OutcomeNoMedia
	}
	if result.MediaURL == "" {
		log.Debug("Newest entry has no audio enclosure")
		return types.OutcomeNoMedia
	}

	log = log.WithField("media_url", result.MediaURL)

	// Dedup check against the completed-episode marker.
	done, err := r.ledger.IsCompleted(ctx, sub.ID, result.MediaURL)
	if err != nil {
		log.WithError(err).Error("Failed to check completed marker, skipping run")
		return types.OutcomeNoMedia
	}
	if done {
		log.Debug("Episode already processed")
		return types.OutcomeAlreadyDone
	}

	// Transcribe. On failure the error lands on the subscription and
	// last-run stays put, so the next tick retries promptly.
	text, model, err := r.transcriber.Transcribe(ctx, result.MediaURL)
	if err != nil {
		log.WithError(err).Error("Transcription failed")
		if setErr := r.ledger.SetLastError(ctx, sub.ID, err.Error()); setErr != nil {
			log.WithError(setErr).Error("Failed to record transcription error")
		}
		return types.OutcomeFailed
	}

	log.WithField("model", model).Info("Transcription succeeded")

	// Persist. Ordering matters for crash safety: transcript row first,
	// then the marker, last-run last. A crash mid-sequence is retried,
	// not silently skipped.
	completedAt := time.Now()
	if err := r.ledger.ClearLastError(ctx, sub.ID); err != nil {
		log.WithError(err).Error("Failed to clear last error")
	}
	if _, err := r.ledger.RecordTranscript(ctx, sub.ID, result.EpisodeTitle, result.EpisodeLink, result.MediaURL, text, completedAt); err != nil {
		log.WithError(err).Error("Failed to record transcript")
		if setErr := r.ledger.SetLastError(ctx, sub.ID, err.Error()); setErr != nil {
			log.WithError(setErr).Error("Failed to record persist error")
		}
		return types.OutcomeFailed
	}
	metrics.RecordTranscript()
	if err := r.ledger.MarkCompleted(ctx, sub.ID, result.MediaURL); err != nil {
		log.WithError(err).Error("Failed to mark episode completed")
		return types.OutcomeFailed
	}
	if err := r.ledger.SetLastRun(ctx, sub.ID, completedAt); err != nil {
		log.WithError(err).Error("Failed to set last run")
	}

	// Publish. The transcript is already durably captured and marked
	// completed; a failed mirror update is logged and never reprocessed.
	title := result.EpisodeTitle
	if title == "" {
		title = "Episode"
	}
	slug := publish.Slug(title, completedAt)
	if err := r.publisher.Publish(ctx, title, text, slug); err != nil {
		log.WithError(err).Warn("Publish failed")
		metrics.RecordPublishFailure()
	}

	return types.OutcomeSucceeded
}
