// Package providers declares the external collaborator contracts the spin
// engine consumes. Implementations live in the provider package; the engine
// only ever sees these interfaces.
package providers

import (
	"context"
	"errors"
)

// ErrNoSnapshot is returned when no snapshot is stored for a wheel
var ErrNoSnapshot = errors.New("no snapshot stored")

// SMSProvider delivers a single text message. Credentials and transport
// details are the implementation's concern.
type SMSProvider interface {
	Send(ctx context.Context, to, body string) error
}

// SnapshotProvider caches the last fan-out event per wheel so observers
// that reconnect after a dropped message can catch up immediately instead
// of waiting for the next attempt.
type SnapshotProvider interface {
	SaveSnapshot(ctx context.Context, wheelID string, snapshot interface{}) error
	LoadSnapshot(ctx context.Context, wheelID string, dest interface{}) error
	ClearSnapshot(ctx context.Context, wheelID string) error
}
