package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close() // Ignore error in test
	})
	return store
}

func TestNewStore_InMemory(t *testing.T) {
	store := newTestStore(t)
	assert.NotNil(t, store.db)
}

func TestNewStore_FilePath(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-*.db")
	require.NoError(t, err)
	_ = tmpFile.Close() // Ignore error in test
	defer func() {
		_ = os.Remove(tmpFile.Name()) // Ignore error in test
	}()

	store, err := NewStore(tmpFile.Name())
	require.NoError(t, err)
	defer func() {
		_ = store.Close() // Ignore error in test
	}()

	assert.NotNil(t, store.db)
}

func TestAddSubscription(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, err := store.AddSubscription(ctx, "https://example.com/feed.xml", "Example Cast", 60)
	require.NoError(t, err)
	assert.NotZero(t, sub.ID)
	assert.Equal(t, "https://example.com/feed.xml", sub.FeedURL)
	assert.Equal(t, 60, sub.ScheduleMinutes)
	assert.Nil(t, sub.LastRunAt)
	assert.Nil(t, sub.LastError)
}

func TestAddSubscription_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AddSubscription(ctx, "https://example.com/feed.xml", "Example Cast", 60)
	require.NoError(t, err)

	_, err = store.AddSubscription(ctx, "https://example.com/feed.xml", "Again", 1440)
	assert.ErrorIs(t, err, ErrDuplicateFeed)

	// The failed add must not create a second row
	subs, err := store.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestListSubscriptions_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.AddSubscription(ctx, "https://a.example/feed.xml", "A", 60)
	require.NoError(t, err)
	second, err := store.AddSubscription(ctx, "https://b.example/feed.xml", "B", 1440)
	require.NoError(t, err)

	subs, err := store.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, second.ID, subs[0].ID)
	assert.Equal(t, first.ID, subs[1].ID)
}

func TestGetSubscription_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSubscription(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveSubscription_Cascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, err := store.AddSubscription(ctx, "https://example.com/feed.xml", "Example Cast", 60)
	require.NoError(t, err)

	_, err = store.RecordTranscript(ctx, sub.ID, "Ep 1", "https://example.com/1", "https://example.com/1.mp3", "text", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, sub.ID, "https://example.com/1.mp3"))

	require.NoError(t, store.RemoveSubscription(ctx, sub.ID))

	subs, err := store.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)

	// No orphaned rows
	transcripts, err := store.ListTranscripts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, transcripts)

	done, err := store.IsCompleted(ctx, sub.ID, "https://example.com/1.mp3")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRemoveSubscription_UnknownIDIsNoop(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.RemoveSubscription(context.Background(), 999))
}

func TestMarkCompleted_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, err := store.AddSubscription(ctx, "https://example.com/feed.xml", "Example Cast", 60)
	require.NoError(t, err)

	require.NoError(t, store.MarkCompleted(ctx, sub.ID, "https://example.com/1.mp3"))
	require.NoError(t, store.MarkCompleted(ctx, sub.ID, "https://example.com/1.mp3"))

	done, err := store.IsCompleted(ctx, sub.ID, "https://example.com/1.mp3")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = store.IsCompleted(ctx, sub.ID, "https://example.com/2.mp3")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRecordTranscript_AppendOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, err := store.AddSubscription(ctx, "https://example.com/feed.xml", "Example Cast", 60)
	require.NoError(t, err)

	// Two inserts for the same media URL both land; dedup is the marker's job
	_, err = store.RecordTranscript(ctx, sub.ID, "Ep 1", "https://example.com/1", "https://example.com/1.mp3", "first", time.Now())
	require.NoError(t, err)
	_, err = store.RecordTranscript(ctx, sub.ID, "Ep 1", "https://example.com/1", "https://example.com/1.mp3", "second", time.Now())
	require.NoError(t, err)

	transcripts, err := store.ListTranscripts(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, transcripts, 2)
}

func TestListTranscripts_FilterBySubscription(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subA, err := store.AddSubscription(ctx, "https://a.example/feed.xml", "A", 60)
	require.NoError(t, err)
	subB, err := store.AddSubscription(ctx, "https://b.example/feed.xml", "B", 60)
	require.NoError(t, err)

	_, err = store.RecordTranscript(ctx, subA.ID, "A1", "", "https://a.example/1.mp3", "a", time.Now())
	require.NoError(t, err)
	_, err = store.RecordTranscript(ctx, subB.ID, "B1", "", "https://b.example/1.mp3", "b", time.Now())
	require.NoError(t, err)

	all, err := store.ListTranscripts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := store.ListTranscripts(ctx, subA.ID)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, subA.ID, onlyA[0].SubscriptionID)
}

func TestGetTranscript(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, err := store.AddSubscription(ctx, "https://example.com/feed.xml", "Example Cast", 60)
	require.NoError(t, err)

	id, err := store.RecordTranscript(ctx, sub.ID, "Ep 1", "https://example.com/1", "https://example.com/1.mp3", "text", time.Now())
	require.NoError(t, err)

	transcript, err := store.GetTranscript(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ep 1", transcript.EpisodeTitle)
	assert.Equal(t, "text", transcript.Text)

	_, err = store.GetTranscript(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLastRunAndLastError_Independent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, err := store.AddSubscription(ctx, "https://example.com/feed.xml", "Example Cast", 60)
	require.NoError(t, err)

	// Failure path sets the error and leaves last-run untouched
	require.NoError(t, store.SetLastError(ctx, sub.ID, "backend exhausted"))

	got, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "backend exhausted", *got.LastError)
	assert.Nil(t, got.LastRunAt)

	// Success path clears the error and advances last-run
	now := time.Now()
	require.NoError(t, store.ClearLastError(ctx, sub.ID))
	require.NoError(t, store.SetLastRun(ctx, sub.ID, now))

	got, err = store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastError)
	require.NotNil(t, got.LastRunAt)
	parsed, err := time.Parse(time.RFC3339, *got.LastRunAt)
	require.NoError(t, err)
	assert.WithinDuration(t, now, parsed, time.Second)
}

func TestSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	value, err := store.GetSetting(ctx, "api_provider")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, store.SetSetting(ctx, "api_provider", "gemini"))
	require.NoError(t, store.SetSetting(ctx, "api_provider", "openrouter"))

	value, err = store.GetSetting(ctx, "api_provider")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", value)
}
