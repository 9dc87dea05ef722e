package types

import "time"

// Subscription is a tracked RSS feed with its polling interval and run state.
// LastRunAt and LastError carry the raw stored text; LastRunAt is parsed by
// the scheduler and treated as "never ran" when it does not parse.
type Subscription struct {
	ID              int64   `json:"id"`
	FeedURL         string  `json:"rss_url"`
	Title           string  `json:"title"`
	ScheduleMinutes int     `json:"schedule_minutes"`
	LastRunAt       *string `json:"last_run_at"`
	LastError       *string `json:"last_error"`
	CreatedAt       string  `json:"created_at"`
}

// Transcript is the durable output of one successful pipeline pass.
// Rows are append-only; duplicates are prevented by the completed-episode
// marker, never by this table.
type Transcript struct {
	ID             int64  `json:"id"`
	SubscriptionID int64  `json:"feed_id"`
	EpisodeTitle   string `json:"episode_title"`
	EpisodeURL     string `json:"episode_url"`
	MediaURL       string `json:"mp3_url"`
	Text           string `json:"transcript_text"`
	CreatedAt      string `json:"created_at"`
}

// RunOutcome is the terminal state of one pipeline invocation.
type RunOutcome string

const (
	OutcomeNoMedia     RunOutcome = "skipped_no_media"
	OutcomeAlreadyDone RunOutcome = "skipped_already_done"
	OutcomeFailed      RunOutcome = "failed"
	OutcomeSucceeded   RunOutcome = "succeeded"
)

// ScheduleOption maps a schedule key to a polling interval in minutes.
type ScheduleOption struct {
	Key     string
	Minutes int
	Label   string
}

// ScheduleOptions is the fixed set of polling intervals, in display order.
var ScheduleOptions = []ScheduleOption{
	{Key: "hourly", Minutes: 60, Label: "Every hour"},
	{Key: "6hours", Minutes: 360, Label: "Every 6 hours"},
	{Key: "daily", Minutes: 1440, Label: "Daily"},
	{Key: "weekly", Minutes: 10080, Label: "Weekly"},
}

// DefaultScheduleMinutes is used when a schedule key is missing or unknown.
const DefaultScheduleMinutes = 1440

// ScheduleMinutes resolves a schedule key to minutes, falling back to daily.
func ScheduleMinutes(key string) int {
	for _, opt := range ScheduleOptions {
		if opt.Key == key {
			return opt.Minutes
		}
	}
	return DefaultScheduleMinutes
}

// TimestampFormat is how timestamps are persisted (RFC3339 UTC).
const TimestampFormat = time.RFC3339

// FormatTime renders a timestamp in the persisted layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// AddFeedRequest is the body of POST /api/feeds.
type AddFeedRequest struct {
	RSSURL   string `json:"rss_url" binding:"required"`
	Schedule string `json:"schedule"`
}

// AddFeedResponse is returned when a subscription is created.
type AddFeedResponse struct {
	Success bool  `json:"success"`
	FeedID  int64 `json:"feed_id"`
}

// SettingsRequest is the body of POST /api/settings and POST /api/ai-test.
// Empty key fields mean "leave the stored credential unchanged".
type SettingsRequest struct {
	APIProvider      string `json:"api_provider"`
	GeminiAPIKey     string `json:"gemini_api_key"`
	OpenRouterAPIKey string `json:"openrouter_api_key"`
}

// SettingsResponse reports the selected provider and whether credentials are
// stored. Credentials themselves are never echoed back.
type SettingsResponse struct {
	APIProvider      string `json:"api_provider"`
	HasGeminiKey     bool   `json:"has_gemini_key"`
	HasOpenRouterKey bool   `json:"has_openrouter_key"`
}

// TestResponse is the result of a provider connection test.
type TestResponse struct {
	Success bool   `json:"success"`
	Model   string `json:"model,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the common error body for API failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
	ActiveRuns int       `json:"active_runs"`
}
