package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultFailureWindow    = 10 * time.Minute
	defaultFailureThreshold = 10
)

// SlidingWindowFailureTracker keeps recent auth failures per user and
// flags suspicious activity once the window crosses the threshold. The
// flag fires once per window crossing; the security event store and bus
// are optional.
type SlidingWindowFailureTracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	failures  map[string][]time.Time
	flagged   map[string]time.Time
	nowFn     func() time.Time

	events SecurityEventStore
	bus    EventBus
}

type FailureTrackerOption func(*SlidingWindowFailureTracker)

func WithFailureEventStore(store SecurityEventStore) FailureTrackerOption {
	return func(t *SlidingWindowFailureTracker) {
		t.events = store
	}
}

func WithFailureEventBus(bus EventBus) FailureTrackerOption {
	return func(t *SlidingWindowFailureTracker) {
		t.bus = bus
	}
}

func NewSlidingWindowFailureTracker(window time.Duration, threshold int, options ...FailureTrackerOption) *SlidingWindowFailureTracker {
	if window <= 0 {
		window = defaultFailureWindow
	}
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	tracker := &SlidingWindowFailureTracker{
		window:    window,
		threshold: threshold,
		failures:  map[string][]time.Time{},
		flagged:   map[string]time.Time{},
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(tracker)
		}
	}
	return tracker
}

func (t *SlidingWindowFailureTracker) RecordFailure(ctx context.Context, userID, reason string) (bool, error) {
	if t == nil {
		return false, fmt.Errorf("core: failure tracker is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("core: user id is required")
	}

	now := t.nowFn()
	t.mu.Lock()
	recent := pruneBefore(t.failures[userID], now.Add(-t.window))
	recent = append(recent, now)
	t.failures[userID] = recent
	count := len(recent)

	suspicious := false
	if count >= t.threshold {
		lastFlag, flagged := t.flagged[userID]
		if !flagged || now.Sub(lastFlag) >= t.window {
			t.flagged[userID] = now
			suspicious = true
		}
	}
	t.mu.Unlock()

	if !suspicious {
		return false, nil
	}

	if t.events != nil {
		_ = t.events.Append(ctx, SecurityEvent{
			ID:        uuid.NewString(),
			UserID:    userID,
			EventType: SecurityEventSuspiciousAuthActivity,
			Severity:  string(SeverityWarning),
			Details: map[string]any{
				"failure_count": count,
				"window":        t.window.String(),
				"last_reason":   strings.TrimSpace(reason),
			},
			CreatedAt: now,
		})
	}
	if t.bus != nil {
		_ = t.bus.Publish(ctx, Event{
			ID:         uuid.NewString(),
			Name:       EventSuspiciousActivity,
			UserID:     userID,
			Source:     "failure_tracker",
			OccurredAt: now,
			Payload: map[string]any{
				"failure_count": count,
				"reason":        strings.TrimSpace(reason),
			},
		})
	}
	return true, nil
}

func (t *SlidingWindowFailureTracker) FailureCount(_ context.Context, userID string) int {
	if t == nil {
		return 0
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0
	}
	now := t.nowFn()
	t.mu.Lock()
	defer t.mu.Unlock()
	recent := pruneBefore(t.failures[userID], now.Add(-t.window))
	t.failures[userID] = recent
	return len(recent)
}

func pruneBefore(samples []time.Time, cutoff time.Time) []time.Time {
	kept := samples[:0]
	for _, sample := range samples {
		if sample.After(cutoff) {
			kept = append(kept, sample)
		}
	}
	return kept
}

var _ FailureTracker = (*SlidingWindowFailureTracker)(nil)
