package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedscribe/internal/feed"
)

// blockingTranscriber parks until released, so tests can observe in-flight
// state deterministically.
type blockingTranscriber struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingTranscriber) Transcribe(_ context.Context, _ string) (string, string, error) {
	close(b.started)
	<-b.release
	return "text", "model", nil
}

func TestDispatch_SuppressesOverlappingRun(t *testing.T) {
	store, sub := newTestLedger(t)

	transcriber := &blockingTranscriber{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	runner := NewRunner(store, &fakeFetcher{result: episodeResult()}, transcriber, &fakePublisher{})
	manager := NewManager(runner, store, 2)

	require.True(t, manager.Dispatch(sub.ID))

	select {
	case <-transcriber.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the transcriber")
	}

	// A second dispatch for the same subscription while the first is still
	// transcribing must be suppressed.
	assert.False(t, manager.Dispatch(sub.ID))
	assert.Equal(t, 1, manager.ActiveRuns())

	close(transcriber.release)

	require.Eventually(t, func() bool {
		return manager.ActiveRuns() == 0
	}, 5*time.Second, 10*time.Millisecond)

	// After the first run completes, dispatching again is allowed
	assert.True(t, manager.Dispatch(sub.ID))
	require.Eventually(t, func() bool {
		return manager.ActiveRuns() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDispatch_UnknownSubscriptionFinishesQuietly(t *testing.T) {
	store, _ := newTestLedger(t)

	runner := NewRunner(store, &fakeFetcher{result: episodeResult()}, &fakeTranscriber{}, &fakePublisher{})
	manager := NewManager(runner, store, 1)

	assert.True(t, manager.Dispatch(9999))
	require.Eventually(t, func() bool {
		return manager.ActiveRuns() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDispatch_ConcurrentSubscriptionsRunIndependently(t *testing.T) {
	store, subA := newTestLedger(t)
	ctx := context.Background()

	subB, err := store.AddSubscription(ctx, "https://b.example/feed.xml", "B", 60)
	require.NoError(t, err)

	resultB := &feed.Result{
		EpisodeTitle: "B Episode",
		MediaURL:     "https://cdn.example.com/b.mp3",
	}

	runnerA := NewRunner(store, &fakeFetcher{result: episodeResult()},
		&fakeTranscriber{text: "a", model: "m"}, &fakePublisher{})
	manager := NewManager(runnerA, store, 2)

	require.True(t, manager.Dispatch(subA.ID))
	require.Eventually(t, func() bool {
		return manager.ActiveRuns() == 0
	}, 5*time.Second, 10*time.Millisecond)

	runnerB := NewRunner(store, &fakeFetcher{result: resultB},
		&fakeTranscriber{text: "b", model: "m"}, &fakePublisher{})
	managerB := NewManager(runnerB, store, 2)
	require.True(t, managerB.Dispatch(subB.ID))
	require.Eventually(t, func() bool {
		return managerB.ActiveRuns() == 0
	}, 5*time.Second, 10*time.Millisecond)

	all, err := store.ListTranscripts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
