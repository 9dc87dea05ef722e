package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedscribe/internal/feed"
	"feedscribe/internal/storage"
	"feedscribe/internal/transcribe"
	"feedscribe/pkg/types"
)

type stubFetcher struct {
	result *feed.Result
	err    error
}

func (s *stubFetcher) Latest(_ context.Context, _ string) (*feed.Result, error) {
	return s.result, s.err
}

type stubDispatcher struct {
	dispatched []int64
	queued     bool
	active     int
}

func (s *stubDispatcher) Dispatch(subID int64) bool {
	s.dispatched = append(s.dispatched, subID)
	return s.queued
}

func (s *stubDispatcher) ActiveRuns() int { return s.active }

type stubTester struct {
	model string
	err   error

	provider      string
	geminiKey     string
	openRouterKey string
}

func (s *stubTester) Test(_ context.Context, provider, geminiKey, openRouterKey string) (string, error) {
	s.provider = provider
	s.geminiKey = geminiKey
	s.openRouterKey = openRouterKey
	return s.model, s.err
}

type testEnv struct {
	router     *gin.Engine
	store      *storage.Store
	fetcher    *stubFetcher
	dispatcher *stubDispatcher
	tester     *stubTester
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close() // Ignore error in test
	})

	env := &testEnv{
		store:      store,
		fetcher:    &stubFetcher{result: &feed.Result{FeedTitle: "Example Cast"}},
		dispatcher: &stubDispatcher{queued: true},
		tester:     &stubTester{model: "gemini-3.0-flash"},
	}

	env.router = gin.New()
	SetupRoutes(env.router, NewHandler(store, env.fetcher, env.dispatcher, env.tester))
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAddFeed_ValidatesAndStoresTitle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/feeds", types.AddFeedRequest{
		RSSURL:   "https://example.com/feed.xml",
		Schedule: "hourly",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[types.AddFeedResponse](t, w)
	assert.True(t, resp.Success)
	require.NotZero(t, resp.FeedID)

	sub, err := env.store.GetSubscription(context.Background(), resp.FeedID)
	require.NoError(t, err)
	assert.Equal(t, "Example Cast", sub.Title)
	assert.Equal(t, 60, sub.ScheduleMinutes)
}

func TestAddFeed_UnknownScheduleFallsBackToDaily(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/feeds", types.AddFeedRequest{
		RSSURL:   "https://example.com/feed.xml",
		Schedule: "fortnightly",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[types.AddFeedResponse](t, w)
	sub, err := env.store.GetSubscription(context.Background(), resp.FeedID)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultScheduleMinutes, sub.ScheduleMinutes)
}

func TestAddFeed_RejectsUnreadableFeed(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = errors.New("connection refused")

	w := env.do(t, http.MethodPost, "/api/feeds", types.AddFeedRequest{
		RSSURL: "https://example.com/feed.xml",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	subs, err := env.store.ListSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestAddFeed_RejectsDuplicate(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(t, http.MethodPost, "/api/feeds", types.AddFeedRequest{RSSURL: "https://example.com/feed.xml"})
	require.Equal(t, http.StatusCreated, first.Code)

	second := env.do(t, http.MethodPost, "/api/feeds", types.AddFeedRequest{RSSURL: "https://example.com/feed.xml"})
	assert.Equal(t, http.StatusBadRequest, second.Code)

	resp := decode[types.ErrorResponse](t, second)
	assert.Equal(t, "feed already subscribed", resp.Error)
}

func TestAddFeed_MissingURLIsBadRequest(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/feeds", map[string]string{"schedule": "daily"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListFeeds_EmptyIsJSONArray(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/feeds", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestDeleteFeed_RemovesSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.store.AddSubscription(ctx, "https://example.com/feed.xml", "Example Cast", 60)
	require.NoError(t, err)

	w := env.do(t, http.MethodDelete, fmt.Sprintf("/api/feeds/%d", sub.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err = env.store.GetSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetTranscript_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/transcripts/42", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTranscripts_FiltersByFeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	subA, err := env.store.AddSubscription(ctx, "https://a.example/feed.xml", "A", 60)
	require.NoError(t, err)
	subB, err := env.store.AddSubscription(ctx, "https://b.example/feed.xml", "B", 60)
	require.NoError(t, err)

	_, err = env.store.RecordTranscript(ctx, subA.ID, "A1", "", "https://a.example/1.mp3", "text a", time.Now())
	require.NoError(t, err)
	_, err = env.store.RecordTranscript(ctx, subB.ID, "B1", "", "https://b.example/1.mp3", "text b", time.Now())
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/transcripts?feed_id=%d", subA.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := decode[[]*types.Transcript](t, w)
	require.Len(t, got, 1)
	assert.Equal(t, "A1", got[0].EpisodeTitle)

	all := env.do(t, http.MethodGet, "/api/transcripts", nil)
	require.Equal(t, http.StatusOK, all.Code)
	assert.Len(t, decode[[]*types.Transcript](t, all), 2)
}

func TestRunNow_DispatchesKnownFeed(t *testing.T) {
	env := newTestEnv(t)

	sub, err := env.store.AddSubscription(context.Background(), "https://example.com/feed.xml", "Example Cast", 60)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/run-now/%d", sub.ID), nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []int64{sub.ID}, env.dispatcher.dispatched)
}

func TestRunNow_ReportsSuppressedRun(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.queued = false

	sub, err := env.store.AddSubscription(context.Background(), "https://example.com/feed.xml", "Example Cast", 60)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/run-now/%d", sub.ID), nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode[map[string]any](t, w)
	assert.Equal(t, false, resp["queued"])
}

func TestRunNow_UnknownFeedIs404(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/run-now/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, env.dispatcher.dispatched)
}

func TestSettings_DefaultsAndRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)

	initial := decode[types.SettingsResponse](t, w)
	assert.Equal(t, transcribe.ProviderGemini, initial.APIProvider)
	assert.False(t, initial.HasGeminiKey)
	assert.False(t, initial.HasOpenRouterKey)

	save := env.do(t, http.MethodPost, "/api/settings", types.SettingsRequest{
		APIProvider:  transcribe.ProviderOpenRouter,
		GeminiAPIKey: "gem-key",
	})
	require.Equal(t, http.StatusOK, save.Code)

	after := decode[types.SettingsResponse](t, env.do(t, http.MethodGet, "/api/settings", nil))
	assert.Equal(t, transcribe.ProviderOpenRouter, after.APIProvider)
	assert.True(t, after.HasGeminiKey)
	assert.False(t, after.HasOpenRouterKey)
}

func TestSettings_EmptyKeyLeavesStoredValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.SetSetting(ctx, transcribe.SettingGeminiKey, "original"))

	w := env.do(t, http.MethodPost, "/api/settings", types.SettingsRequest{
		APIProvider: transcribe.ProviderGemini,
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := env.store.GetSetting(ctx, transcribe.SettingGeminiKey)
	require.NoError(t, err)
	assert.Equal(t, "original", stored)
}

func TestSettings_UnknownProviderNormalizedToGemini(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/settings", types.SettingsRequest{
		APIProvider: "mystery-ai",
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]any](t, w)
	assert.Equal(t, transcribe.ProviderGemini, resp["api_provider"])
}

func TestSettings_CredentialsNeverEchoed(t *testing.T) {
	env := newTestEnv(t)

	save := env.do(t, http.MethodPost, "/api/settings", types.SettingsRequest{
		APIProvider:  transcribe.ProviderGemini,
		GeminiAPIKey: "super-secret",
	})
	require.Equal(t, http.StatusOK, save.Code)
	assert.NotContains(t, save.Body.String(), "super-secret")

	get := env.do(t, http.MethodGet, "/api/settings", nil)
	assert.NotContains(t, get.Body.String(), "super-secret")
}

func TestAITest_ReportsModelAndPassesInlineKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/ai-test", types.SettingsRequest{
		APIProvider:  transcribe.ProviderGemini,
		GeminiAPIKey: "inline-key",
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[types.TestResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "gemini-3.0-flash", resp.Model)
	assert.Equal(t, "inline-key", env.tester.geminiKey)
}

func TestAITest_FailureIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	env.tester.err = errors.New("no API key configured")
	env.tester.model = ""

	w := env.do(t, http.MethodPost, "/api/ai-test", types.SettingsRequest{
		APIProvider: transcribe.ProviderGemini,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decode[types.TestResponse](t, w)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "no API key")
}

func TestHealthCheck_ReportsActiveRuns(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.active = 3

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[types.HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 3, resp.ActiveRuns)
	assert.Equal(t, Version, resp.Version)
}
