package wheel

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
)

// PickUniform draws a uniformly distributed index in [0, n) using
// crypto/rand. Guests can watch many spins, so a predictable or
// time-seeded generator is not acceptable here.
func PickUniform(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("pool size must be positive, got %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, fmt.Errorf("failed to draw random index: %w", err)
	}
	return v.Int64(), nil
}

// Picker selects a winning entry from a wheel's eligible pool without
// materializing the pool: count, one uniform offset, one row fetch.
type Picker struct {
	entries EntryStore
	logger  zerolog.Logger
}

// NewPicker creates a picker over the given entry store
func NewPicker(entries EntryStore, logger zerolog.Logger) *Picker {
	return &Picker{
		entries: entries,
		logger:  logger.With().Str("component", "picker").Logger(),
	}
}

// PickEligible returns one uniformly random approved entry for the wheel.
//
// If the drawn offset's row was removed or un-approved between the count
// and the fetch, it falls back once to the first eligible row in
// deterministic order. That fallback slightly favors early-inserted
// entries in the rare concurrent-deletion case; the behavior is kept
// deliberately rather than re-drawing.
func (p *Picker) PickEligible(ctx context.Context, wheelID string) (*Entry, error) {
	count, err := p.entries.CountByStatus(ctx, wheelID, EntryApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to count eligible entries: %w", err)
	}
	if count == 0 {
		return nil, p.noEligible(ctx, wheelID)
	}

	offset, err := PickUniform(count)
	if err != nil {
		return nil, err
	}

	entry, err := p.entries.ByOffset(ctx, wheelID, EntryApproved, offset)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return nil, fmt.Errorf("failed to fetch entry at offset %d: %w", offset, err)
	}

	p.logger.Warn().
		Str("wheel_id", wheelID).
		Int64("offset", offset).
		Int64("counted", count).
		Msg("Drawn entry vanished between count and fetch, falling back to first eligible")

	entry, err = p.entries.First(ctx, wheelID, EntryApproved)
	if err == nil {
		return entry, nil
	}
	if errors.Is(err, ErrEntryNotFound) {
		return nil, p.noEligible(ctx, wheelID)
	}
	return nil, fmt.Errorf("failed to fetch fallback entry: %w", err)
}

// noEligible builds the business error, counting pending entries so the
// operator message can say "approve them first" instead of "nobody entered"
func (p *Picker) noEligible(ctx context.Context, wheelID string) error {
	pending, err := p.entries.CountByStatus(ctx, wheelID, EntryPending)
	if err != nil {
		p.logger.Error().Err(err).Str("wheel_id", wheelID).Msg("Failed to count pending entries")
		pending = 0
	}
	return &NoEligibleEntriesError{WheelID: wheelID, Pending: pending}
}

// RollSlot draws the cosmetic landing slot. It is independent of which
// entry wins and re-rolled on every attempt.
func RollSlot(slotCount int) (int, error) {
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}
	v, err := PickUniform(int64(slotCount))
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
