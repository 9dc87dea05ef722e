// Package scheduler periodically evaluates subscriptions and dispatches
// pipeline runs for the eligible ones.
package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"feedscribe/internal/metrics"
	"feedscribe/pkg/types"
)

// SubscriptionLister is the slice of the ledger the scheduler reads.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context) ([]*types.Subscription, error)
}

// Dispatcher starts pipeline runs without blocking the tick loop.
type Dispatcher interface {
	Dispatch(subID int64) bool
}

// DefaultTickInterval is how often subscriptions are evaluated.
const DefaultTickInterval = 5 * time.Minute

// Scheduler owns the ticker and fans out to the dispatcher. All
// collaborators are injected; there is no global state.
type Scheduler struct {
	ledger     SubscriptionLister
	dispatcher Dispatcher
	interval   time.Duration
	now        func() time.Time
}

// New creates a scheduler ticking at the given interval.
func New(ledger SubscriptionLister, dispatcher Dispatcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		ledger:     ledger,
		dispatcher: dispatcher,
		interval:   interval,
		now:        time.Now,
	}
}

// Run ticks until the context is cancelled. The first evaluation happens
// immediately so a restarted daemon does not sit idle for a full interval.
func (s *Scheduler) Run(ctx context.Context) {
	logrus.WithField("interval", s.interval.String()).Info("Scheduler started")

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick evaluates every subscription once and dispatches the eligible ones
// without waiting for any run to finish.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	metrics.MarkTick(now)

	subs, err := s.ledger.ListSubscriptions(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to list subscriptions for tick")
		return
	}

	dispatched := 0
	for _, sub := range subs {
		if !Eligible(sub.LastRunAt, sub.ScheduleMinutes, now) {
			continue
		}
		if s.dispatcher.Dispatch(sub.ID) {
			dispatched++
		}
	}

	if dispatched > 0 {
		logrus.WithFields(logrus.Fields{
			"subscriptions": len(subs),
			"dispatched":    dispatched,
		}).Info("Scheduler tick dispatched runs")
	}
}

// Eligible reports whether a subscription is due: it never ran, its
// last-run timestamp does not parse, or the configured interval has
// elapsed since the last run.
func Eligible(lastRunAt *string, intervalMinutes int, now time.Time) bool {
	if lastRunAt == nil || *lastRunAt == "" {
		return true
	}

	lastRun, err := time.Parse(types.TimestampFormat, *lastRunAt)
	if err != nil {
		return true
	}

	elapsed := now.Sub(lastRun)
	return elapsed >= time.Duration(intervalMinutes)*time.Minute
}
