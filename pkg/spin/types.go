package spin

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vdjjd/faninteract/pkg/providers"
	"github.com/vdjjd/faninteract/wheel"
)

// EventType distinguishes the two fan-out event kinds
type EventType string

const (
	// EventSpinStarted announces a new attempt; observers restart their
	// animations keyed by the attempt id.
	EventSpinStarted EventType = "spin.started"

	// EventWinnerResolved carries the terminal result of an attempt.
	EventWinnerResolved EventType = "winner.resolved"
)

// Event is one fan-out message on a wheel's logical topic. Delivery is
// at-least-once and unordered across attempts, so consumers key their
// state by AttemptID and drop events for superseded attempts.
type Event struct {
	Type      EventType         `json:"type"`
	WheelID   string            `json:"wheel_id"`
	AttemptID string            `json:"attempt_id"`
	Slot      *int              `json:"slot,omitempty"`
	Winner    *wheel.WinnerInfo `json:"winner,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Publisher pushes events beyond this process (e.g. the Kafka producer),
// so observers attached to other instances see them too. Best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ServiceConfig wires the coordinator's collaborators. Wheels, Entries and
// Logger are required; everything else degrades gracefully when nil.
type ServiceConfig struct {
	Wheels    wheel.WheelStore
	Entries   wheel.EntryStore
	SMS       providers.SMSProvider
	Snapshots providers.SnapshotProvider
	Publisher Publisher
	Logger    zerolog.Logger
}
