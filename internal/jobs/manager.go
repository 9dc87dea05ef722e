package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"feedscribe/internal/metrics"
)

// Manager dispatches pipeline runs as background goroutines. A semaphore
// bounds concurrent external-API calls, and an in-flight set suppresses a
// second invocation for a subscription whose previous run is still going.
type Manager struct {
	runner    *Runner
	ledger    Ledger
	semaphore chan struct{}
	inflight  map[int64]struct{}
	mu        sync.Mutex
}

// DefaultMaxConcurrent bounds simultaneous pipeline runs. Transcription is
// network-bound, so a handful in flight is safe.
const DefaultMaxConcurrent = 4

// NewManager creates a job manager around a pipeline runner.
func NewManager(runner *Runner, ledger Ledger, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Manager{
		runner:    runner,
		ledger:    ledger,
		semaphore: make(chan struct{}, maxConcurrent),
		inflight:  make(map[int64]struct{}),
	}
}

// Dispatch starts one pipeline invocation for a subscription without
// waiting for it. It reports false when a run for the same subscription is
// already in flight and the new one was suppressed.
func (m *Manager) Dispatch(subID int64) bool {
	m.mu.Lock()
	if _, running := m.inflight[subID]; running {
		m.mu.Unlock()
		logrus.WithField("feed_id", subID).Debug("Run already in flight, suppressing dispatch")
		return false
	}
	m.inflight[subID] = struct{}{}
	m.mu.Unlock()

	go m.run(subID)
	return true
}

// ActiveRuns returns how many invocations are currently in flight.
func (m *Manager) ActiveRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// run executes one invocation to completion. Runs are never cancelled; the
// process exiting simply abandons them.
func (m *Manager) run(subID int64) {
	defer func() {
		m.mu.Lock()
		delete(m.inflight, subID)
		m.mu.Unlock()
	}()

	m.semaphore <- struct{}{}
	defer func() { <-m.semaphore }()

	ctx := context.Background()
	log := logrus.WithFields(logrus.Fields{
		"feed_id": subID,
		"run_id":  uuid.New().String(),
	})

	sub, err := m.ledger.GetSubscription(ctx, subID)
	if err != nil {
		// The subscription may have been removed between dispatch and start.
		log.WithError(err).Warn("Subscription gone before run started")
		return
	}

	log.Info("Pipeline run started")
	outcome := m.runner.Run(ctx, sub)
	metrics.RecordRun(outcome)
	log.WithField("outcome", string(outcome)).Info("Pipeline run finished")
}
