package wheel

import (
	"fmt"
	"time"
)

// EntryStatus is the moderation status of a guest entry
type EntryStatus string

const (
	EntryPending  EntryStatus = "pending"
	EntryApproved EntryStatus = "approved"
	EntryRejected EntryStatus = "rejected"
)

// AttemptState is the coarse lifecycle state of a wheel's current attempt
type AttemptState string

const (
	StateIdle     AttemptState = "idle"
	StateSpinning AttemptState = "spinning"
)

const (
	// DefaultSlotCount is the number of physical positions on the wall wheel
	DefaultSlotCount = 12

	// DefaultNotifyTemplate is used when the wheel has no host-configured template
	DefaultNotifyTemplate = "Congratulations {{first_name}} {{last_name}}! You just won the {{wheel_title}} prize wheel!"
)

// Wheel is the configuration aggregate and the single source of truth for
// "what is the current attempt and its result".
//
// Winner fields are only meaningful while AttemptOwner equals
// CurrentAttemptID; opening a new attempt clears them atomically.
type Wheel struct {
	ID               string       `gorm:"primaryKey;type:uuid" json:"id"`
	Title            string       `gorm:"not null" json:"title"`
	SlotCount        int          `gorm:"not null;default:12" json:"slot_count"`
	NotifyWinner     bool         `gorm:"not null;default:false" json:"notify_winner"`
	NotifyTemplate   string       `json:"notify_template"`
	AttemptState     AttemptState `gorm:"type:varchar(16);not null;default:'idle'" json:"attempt_state"`
	CurrentAttemptID *string      `gorm:"type:uuid" json:"current_attempt_id"`
	AttemptOwner     *string      `gorm:"type:uuid" json:"attempt_owner"`
	WinnerEntryID    *string      `gorm:"type:uuid" json:"winner_entry_id"`
	WinnerSlot       *int         `json:"winner_slot"`
	ResolvedAt       *time.Time   `json:"resolved_at"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// TableName overrides the gorm table name
func (Wheel) TableName() string { return "wheels" }

// Slots returns the configured slot count, falling back to the default
func (w *Wheel) Slots() int {
	if w.SlotCount <= 0 {
		return DefaultSlotCount
	}
	return w.SlotCount
}

// HasResolution reports whether the stored winner belongs to the given attempt
func (w *Wheel) HasResolution(attemptID string) bool {
	return w.AttemptOwner != nil && *w.AttemptOwner == attemptID &&
		w.WinnerEntryID != nil && w.WinnerSlot != nil
}

// Entry is one participant's submission. Entries are owned by the pool and
// only read, never mutated, by the resolution process.
type Entry struct {
	ID        string      `gorm:"primaryKey;type:uuid" json:"id"`
	WheelID   string      `gorm:"type:uuid;not null;index:idx_entries_wheel_status" json:"wheel_id"`
	Status    EntryStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_entries_wheel_status" json:"status"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Phone     string      `json:"-"` // contact info, notifier only
	CreatedAt time.Time   `gorm:"index" json:"created_at"`
}

// TableName overrides the gorm table name
func (Entry) TableName() string { return "entries" }

// WinnerInfo is the subset of entry fields safe to fan out to observers
type WinnerInfo struct {
	EntryID   string `json:"entry_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Public returns the fields of an entry that may be shown on the wall
func (e *Entry) Public() WinnerInfo {
	return WinnerInfo{
		EntryID:   e.ID,
		FirstName: e.FirstName,
		LastName:  e.LastName,
	}
}

// Resolution is the terminal result of one spin attempt
type Resolution struct {
	AttemptID  string     `json:"attempt_id"`
	Winner     *Entry     `json:"-"`
	WinnerInfo WinnerInfo `json:"winner"`
	Slot       int        `json:"slot"`
	ResolvedAt time.Time  `json:"resolved_at"`
	Replayed   bool       `json:"-"` // true when served from the stored result
}

// StateSnapshot is a read-only view of a wheel's current attempt, served
// to observers that poll instead of streaming. Resolution is nil until the
// current attempt has a stored winner.
type StateSnapshot struct {
	WheelID          string       `json:"wheel_id"`
	AttemptState     AttemptState `json:"attempt_state"`
	CurrentAttemptID *string      `json:"current_attempt_id"`
	Resolution       *Resolution  `json:"resolution,omitempty"`
}

// NoEligibleEntriesError is the one expected business failure of a spin:
// the wheel has no approved entries to pick from. Pending distinguishes
// "nobody entered" from "entries are waiting for moderation".
type NoEligibleEntriesError struct {
	WheelID string
	Pending int64
}

// Error implements the error interface
func (e *NoEligibleEntriesError) Error() string {
	if e.Pending > 0 {
		return fmt.Sprintf("no eligible entries: %d pending approval, approve them first", e.Pending)
	}
	return "no eligible entries: no submissions yet"
}
