// Package api exposes the JSON control surface over gin.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"feedscribe/internal/feed"
	"feedscribe/internal/metrics"
	"feedscribe/internal/storage"
	"feedscribe/internal/transcribe"
	"feedscribe/pkg/types"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Ledger is the slice of the store the API reads and writes.
type Ledger interface {
	ListSubscriptions(ctx context.Context) ([]*types.Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*types.Subscription, error)
	AddSubscription(ctx context.Context, feedURL, title string, scheduleMinutes int) (*types.Subscription, error)
	RemoveSubscription(ctx context.Context, id int64) error
	ListTranscripts(ctx context.Context, subID int64) ([]*types.Transcript, error)
	GetTranscript(ctx context.Context, id int64) (*types.Transcript, error)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// FeedChecker validates that a feed is reachable and parseable at add time.
type FeedChecker interface {
	Latest(ctx context.Context, feedURL string) (*feed.Result, error)
}

// Dispatcher starts out-of-cycle pipeline runs.
type Dispatcher interface {
	Dispatch(subID int64) bool
	ActiveRuns() int
}

// ProviderTester runs a minimal provider round trip.
type ProviderTester interface {
	Test(ctx context.Context, provider, geminiKey, openRouterKey string) (string, error)
}

// Handler handles HTTP API requests.
type Handler struct {
	ledger     Ledger
	fetcher    FeedChecker
	dispatcher Dispatcher
	tester     ProviderTester
}

// NewHandler creates a new API handler.
func NewHandler(ledger Ledger, fetcher FeedChecker, dispatcher Dispatcher, tester ProviderTester) *Handler {
	return &Handler{
		ledger:     ledger,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		tester:     tester,
	}
}

// SetupRoutes configures the API routes.
func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	{
		api.GET("/feeds", handler.ListFeeds)
		api.POST("/feeds", handler.AddFeed)
		api.DELETE("/feeds/:id", handler.DeleteFeed)
		api.GET("/transcripts", handler.ListTranscripts)
		api.GET("/transcripts/:id", handler.GetTranscript)
		api.POST("/run-now/:id", handler.RunNow)
		api.GET("/settings", handler.GetSettings)
		api.POST("/settings", handler.SaveSettings)
		api.POST("/ai-test", handler.TestProvider)
	}

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// ListFeeds returns all subscriptions.
func (h *Handler) ListFeeds(c *gin.Context) {
	subs, err := h.ledger.ListSubscriptions(c.Request.Context())
	if err != nil {
		internalError(c, "failed to list feeds", err)
		return
	}
	if subs == nil {
		subs = []*types.Subscription{}
	}
	c.JSON(http.StatusOK, subs)
}

// AddFeed validates a feed and creates a subscription for it.
func (h *Handler) AddFeed(c *gin.Context) {
	var req types.AddFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err.Error())
		return
	}

	feedURL := strings.TrimSpace(req.RSSURL)
	if feedURL == "" {
		badRequest(c, "invalid request", "rss_url is required")
		return
	}

	// Reject unreachable or unparseable feeds before persisting anything
	result, err := h.fetcher.Latest(c.Request.Context(), feedURL)
	if err != nil {
		badRequest(c, "unable to read feed", err.Error())
		return
	}

	sub, err := h.ledger.AddSubscription(c.Request.Context(), feedURL, result.FeedTitle, types.ScheduleMinutes(req.Schedule))
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateFeed) {
			badRequest(c, "feed already subscribed", feedURL)
			return
		}
		internalError(c, "failed to add feed", err)
		return
	}

	c.JSON(http.StatusCreated, types.AddFeedResponse{Success: true, FeedID: sub.ID})
}

// DeleteFeed removes a subscription and all its dependent rows.
func (h *Handler) DeleteFeed(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.ledger.RemoveSubscription(c.Request.Context(), id); err != nil {
		internalError(c, "failed to delete feed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListTranscripts returns transcripts, optionally scoped to one feed.
func (h *Handler) ListTranscripts(c *gin.Context) {
	var subID int64
	if raw := c.Query("feed_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid feed_id", raw)
			return
		}
		subID = parsed
	}

	transcripts, err := h.ledger.ListTranscripts(c.Request.Context(), subID)
	if err != nil {
		internalError(c, "failed to list transcripts", err)
		return
	}
	if transcripts == nil {
		transcripts = []*types.Transcript{}
	}
	c.JSON(http.StatusOK, transcripts)
}

// GetTranscript returns one transcript by ID.
func (h *Handler) GetTranscript(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	transcript, err := h.ledger.GetTranscript(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error: "transcript not found",
				Code:  404,
			})
			return
		}
		internalError(c, "failed to get transcript", err)
		return
	}

	c.JSON(http.StatusOK, transcript)
}

// RunNow forces one out-of-cycle pipeline invocation for a subscription.
func (h *Handler) RunNow(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if _, err := h.ledger.GetSubscription(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error: "feed not found",
				Code:  404,
			})
			return
		}
		internalError(c, "failed to load feed", err)
		return
	}

	queued := h.dispatcher.Dispatch(id)
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"queued":  queued,
	})
}

// GetSettings reports the provider selection and which credentials exist.
// Stored credentials are never echoed back.
func (h *Handler) GetSettings(c *gin.Context) {
	ctx := c.Request.Context()

	provider, err := h.ledger.GetSetting(ctx, transcribe.SettingProvider)
	if err != nil {
		internalError(c, "failed to read settings", err)
		return
	}
	if provider == "" {
		provider = transcribe.ProviderGemini
	}

	geminiKey, err := h.ledger.GetSetting(ctx, transcribe.SettingGeminiKey)
	if err != nil {
		internalError(c, "failed to read settings", err)
		return
	}
	openRouterKey, err := h.ledger.GetSetting(ctx, transcribe.SettingOpenRouterKey)
	if err != nil {
		internalError(c, "failed to read settings", err)
		return
	}

	c.JSON(http.StatusOK, types.SettingsResponse{
		APIProvider:      provider,
		HasGeminiKey:     geminiKey != "",
		HasOpenRouterKey: openRouterKey != "",
	})
}

// SaveSettings stores the provider selection and any non-empty credentials.
// An empty credential field leaves the stored value untouched.
func (h *Handler) SaveSettings(c *gin.Context) {
	var req types.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err.Error())
		return
	}

	provider := strings.ToLower(strings.TrimSpace(req.APIProvider))
	if provider != transcribe.ProviderGemini && provider != transcribe.ProviderOpenRouter {
		provider = transcribe.ProviderGemini
	}

	ctx := c.Request.Context()
	if err := h.ledger.SetSetting(ctx, transcribe.SettingProvider, provider); err != nil {
		internalError(c, "failed to save settings", err)
		return
	}

	if key := strings.TrimSpace(req.GeminiAPIKey); key != "" {
		if err := h.ledger.SetSetting(ctx, transcribe.SettingGeminiKey, key); err != nil {
			internalError(c, "failed to save settings", err)
			return
		}
	}
	if key := strings.TrimSpace(req.OpenRouterAPIKey); key != "" {
		if err := h.ledger.SetSetting(ctx, transcribe.SettingOpenRouterKey, key); err != nil {
			internalError(c, "failed to save settings", err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"api_provider": provider,
	})
}

// TestProvider runs a minimal round trip and reports the model that
// answered. An inline key in the request overrides the stored one.
func (h *Handler) TestProvider(c *gin.Context) {
	var req types.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err.Error())
		return
	}

	model, err := h.tester.Test(c.Request.Context(), req.APIProvider, req.GeminiAPIKey, req.OpenRouterAPIKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.TestResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, types.TestResponse{
		Success: true,
		Model:   model,
		Message: "connection ok",
	})
}

// HealthCheck provides service health information.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, types.HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    Version,
		ActiveRuns: h.dispatcher.ActiveRuns(),
	})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid id", c.Param("id"))
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, message, detail string) {
	c.JSON(http.StatusBadRequest, types.ErrorResponse{
		Error:   message,
		Message: detail,
		Code:    400,
	})
}

func internalError(c *gin.Context, message string, err error) {
	logrus.WithError(err).Error(message)
	c.JSON(http.StatusInternalServerError, types.ErrorResponse{
		Error:   message,
		Message: err.Error(),
		Code:    500,
	})
}
