package wheel

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations
var (
	// ErrWheelNotFound is returned when the wheel id is unknown
	ErrWheelNotFound = errors.New("wheel not found")

	// ErrEntryNotFound is returned when an entry row does not exist, including
	// the count/fetch race where an entry is removed between the pool count
	// and the offset fetch
	ErrEntryNotFound = errors.New("entry not found")
)

// WheelStore is the persistence contract for the wheel aggregate.
//
// CompleteAttempt is the only write path for winner fields and OpenAttempt
// is the only write path that clears them; correctness of the whole engine
// rests on CompleteAttempt being a single atomic conditional update.
type WheelStore interface {
	// Get loads a wheel by id, returning ErrWheelNotFound for unknown ids.
	Get(ctx context.Context, wheelID string) (*Wheel, error)

	// OpenAttempt stores attemptID as the wheel's current attempt and clears
	// any previously stored winner/slot in the same statement, so a stale
	// result can never be served as current. It never picks a winner.
	OpenAttempt(ctx context.Context, wheelID, attemptID string) error

	// CompleteAttempt conditionally stores the resolution: it succeeds only
	// if the wheel's current attempt still equals attemptID and no winner is
	// stored for it yet. Returns false (and no error) when the condition did
	// not hold, in which case the caller must re-read and replay whatever
	// the competing writer persisted.
	CompleteAttempt(ctx context.Context, wheelID, attemptID, entryID string, slot int, resolvedAt time.Time) (bool, error)
}

// EntryStore is the read-only contract for the entry pool. The eligible set
// may hold many thousands of rows, so selection goes count -> single offset
// fetch, never a full listing.
type EntryStore interface {
	// CountByStatus counts a wheel's entries with the given status.
	CountByStatus(ctx context.Context, wheelID string, status EntryStatus) (int64, error)

	// ByOffset fetches the single entry at the given offset among a wheel's
	// entries with the given status, ordered by (created_at, id).
	ByOffset(ctx context.Context, wheelID string, status EntryStatus, offset int64) (*Entry, error)

	// First fetches the first entry in deterministic order, used as the
	// one-shot fallback when the drawn offset row vanished concurrently.
	First(ctx context.Context, wheelID string, status EntryStatus) (*Entry, error)

	// ByID loads a single entry by id.
	ByID(ctx context.Context, entryID string) (*Entry, error)
}
