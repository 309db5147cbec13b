// Package spin is the prize wheel coordination engine: it opens spin
// attempts, resolves exactly one winner per attempt, and fans the outcome
// out to every observer.
//
// Flow: go -> Open stores a fresh attempt token and clears old winner state
// -> observers begin animating on the spin.started event -> stop -> Resolve
// either replays the stored winner or computes one through a single
// conditional write -> winner.resolved fans out and every wall lands on
// the same slot.
//
// Correctness never relies on in-process locks: concurrent Resolve calls
// are serialized by the store's conditional update, so the engine scales
// horizontally.
package spin

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vdjjd/faninteract/notify"
	"github.com/vdjjd/faninteract/pkg/providers"
	"github.com/vdjjd/faninteract/wheel"
)

// ErrAttemptSuperseded is returned when a stop call carries a token that a
// newer go call has already invalidated; its result can never be stored.
var ErrAttemptSuperseded = errors.New("attempt superseded by a newer spin")

// Coordinator implements the spin session manager and the idempotent
// winner resolver.
type Coordinator struct {
	wheels    wheel.WheelStore
	entries   wheel.EntryStore
	picker    *wheel.Picker
	hub       *Hub
	publisher Publisher
	snapshots providers.SnapshotProvider
	notifier  *notify.Notifier
	logger    zerolog.Logger

	// now is swapped in tests for deterministic timestamps
	now func() time.Time
}

// NewCoordinator creates the coordination engine
func NewCoordinator(cfg ServiceConfig) *Coordinator {
	logger := cfg.Logger.With().Str("service", "spin").Logger()
	return &Coordinator{
		wheels:    cfg.Wheels,
		entries:   cfg.Entries,
		picker:    wheel.NewPicker(cfg.Entries, cfg.Logger),
		hub:       NewHub(),
		publisher: cfg.Publisher,
		snapshots: cfg.Snapshots,
		notifier:  notify.New(cfg.SMS, cfg.Logger),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Open allocates a new attempt token, atomically stores it as the wheel's
// current attempt while clearing any previous winner, and announces
// spin.started. Open never picks a winner.
func (c *Coordinator) Open(ctx context.Context, wheelID string) (string, error) {
	attemptID := uuid.New().String()

	if err := c.wheels.OpenAttempt(ctx, wheelID, attemptID); err != nil {
		return "", err
	}

	c.logger.Info().
		Str("wheel_id", wheelID).
		Str("attempt_id", attemptID).
		Msg("Spin attempt opened")

	c.fanout(ctx, Event{
		Type:      EventSpinStarted,
		WheelID:   wheelID,
		AttemptID: attemptID,
		Timestamp: c.now(),
	})

	return attemptID, nil
}

// Resolve returns the winner for an attempt, computing it exactly once.
//
// Any number of concurrent or repeated calls with the same token converge
// on one stored result: either the stored winner is replayed up front, or
// the conditional write decides the race and the loser re-reads whatever
// the winner persisted.
func (c *Coordinator) Resolve(ctx context.Context, wheelID, attemptID string) (*wheel.Resolution, error) {
	w, err := c.wheels.Get(ctx, wheelID)
	if err != nil {
		return nil, err
	}

	// Idempotent replay: a winner already stored for this token is the
	// authoritative answer, no matter how many times stop is called.
	if w.HasResolution(attemptID) {
		return c.replay(ctx, w, attemptID)
	}

	winner, err := c.picker.PickEligible(ctx, wheelID)
	if err != nil {
		return nil, err
	}

	slot, err := wheel.RollSlot(w.Slots())
	if err != nil {
		return nil, err
	}

	resolvedAt := c.now()
	stored, err := c.wheels.CompleteAttempt(ctx, wheelID, attemptID, winner.ID, slot, resolvedAt)
	if err != nil {
		return nil, err
	}

	if !stored {
		// Lost the conditional write: either a competing resolver landed
		// first (replay its winner, never ours) or a newer attempt
		// superseded this token.
		w, err = c.wheels.Get(ctx, wheelID)
		if err != nil {
			return nil, err
		}
		if w.HasResolution(attemptID) {
			c.logger.Debug().
				Str("wheel_id", wheelID).
				Str("attempt_id", attemptID).
				Msg("Lost resolution race, replaying stored winner")
			return c.replay(ctx, w, attemptID)
		}
		return nil, ErrAttemptSuperseded
	}

	resolution := &wheel.Resolution{
		AttemptID:  attemptID,
		Winner:     winner,
		WinnerInfo: winner.Public(),
		Slot:       slot,
		ResolvedAt: resolvedAt,
	}

	c.logger.Info().
		Str("wheel_id", wheelID).
		Str("attempt_id", attemptID).
		Str("winner_entry_id", winner.ID).
		Int("slot", slot).
		Msg("Winner resolved")

	// Best-effort side effects; neither may change the returned result.
	if w.NotifyWinner {
		go c.notifier.NotifyWinner(context.Background(), w, winner)
	}

	info := resolution.WinnerInfo
	c.fanout(ctx, Event{
		Type:      EventWinnerResolved,
		WheelID:   wheelID,
		AttemptID: attemptID,
		Slot:      &resolution.Slot,
		Winner:    &info,
		Timestamp: resolvedAt,
	})

	return resolution, nil
}

// Auto opens a fresh attempt and resolves it in one call, for flows with
// no separate go phase. The idempotency contract matches Resolve.
func (c *Coordinator) Auto(ctx context.Context, wheelID string) (*wheel.Resolution, error) {
	attemptID, err := c.Open(ctx, wheelID)
	if err != nil {
		return nil, err
	}
	return c.Resolve(ctx, wheelID, attemptID)
}

// State is the polling fallback for observers that cannot hold a stream
// open: a read-only snapshot of the wheel's current attempt and, when the
// attempt has resolved, its winner.
func (c *Coordinator) State(ctx context.Context, wheelID string) (*wheel.StateSnapshot, error) {
	w, err := c.wheels.Get(ctx, wheelID)
	if err != nil {
		return nil, err
	}

	snap := &wheel.StateSnapshot{
		WheelID:          w.ID,
		AttemptState:     w.AttemptState,
		CurrentAttemptID: w.CurrentAttemptID,
	}

	if w.CurrentAttemptID != nil && w.HasResolution(*w.CurrentAttemptID) {
		res, err := c.replay(ctx, w, *w.CurrentAttemptID)
		if err != nil {
			return nil, err
		}
		snap.Resolution = res
	}

	return snap, nil
}

// Events subscribes an observer to a wheel's fan-out stream
func (c *Coordinator) Events(ctx context.Context, wheelID string) (<-chan Event, context.CancelFunc) {
	return c.hub.Subscribe(ctx, wheelID)
}

// LastEvent loads the cached last event for a wheel so a reconnecting
// observer can catch up without waiting for the next attempt.
func (c *Coordinator) LastEvent(ctx context.Context, wheelID string) (*Event, error) {
	if c.snapshots == nil {
		return nil, providers.ErrNoSnapshot
	}
	var ev Event
	if err := c.snapshots.LoadSnapshot(ctx, wheelID, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// HandleRemoteEvent feeds an event published by another instance (e.g. from
// the Kafka consumer) into the local hub. Local events are not re-published.
func (c *Coordinator) HandleRemoteEvent(ev Event) {
	c.hub.Send(ev)
}

// replay serves the stored resolution for an attempt as a pure read
func (c *Coordinator) replay(ctx context.Context, w *wheel.Wheel, attemptID string) (*wheel.Resolution, error) {
	winner, err := c.entries.ByID(ctx, *w.WinnerEntryID)
	if err != nil {
		return nil, err
	}

	resolvedAt := c.now()
	if w.ResolvedAt != nil {
		resolvedAt = *w.ResolvedAt
	}

	return &wheel.Resolution{
		AttemptID:  attemptID,
		Winner:     winner,
		WinnerInfo: winner.Public(),
		Slot:       *w.WinnerSlot,
		ResolvedAt: resolvedAt,
		Replayed:   true,
	}, nil
}

// fanout delivers an event locally, snapshots it, and publishes it for
// other instances. All three legs are best-effort.
func (c *Coordinator) fanout(ctx context.Context, ev Event) {
	c.hub.Send(ev)

	if c.snapshots != nil {
		if err := c.snapshots.SaveSnapshot(ctx, ev.WheelID, ev); err != nil {
			c.logger.Error().Err(err).
				Str("wheel_id", ev.WheelID).
				Str("attempt_id", ev.AttemptID).
				Msg("Failed to snapshot spin event")
		}
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, ev); err != nil {
			c.logger.Error().Err(err).
				Str("wheel_id", ev.WheelID).
				Str("attempt_id", ev.AttemptID).
				Msg("Failed to publish spin event")
		}
	}
}
