// Package animator drives the wheel graphic between spin events. It is the
// reference implementation for observer clients: feed it the event stream
// and sample AngleAt to render, and every display that received the same
// events freezes on the same slot.
package animator

import (
	"math"
	"time"

	"github.com/vdjjd/faninteract/pkg/spin"
)

// State is the animation phase of the wheel graphic
type State string

const (
	// StateIdle shows a motionless wheel with no active attempt
	StateIdle State = "idle"

	// StateSpinning rotates at constant velocity until a winner arrives
	StateSpinning State = "spinning"

	// StateDrifting decelerates toward the winning slot
	StateDrifting State = "drifting"

	// StateFrozen holds the wheel on the winning slot
	StateFrozen State = "frozen"
)

// Config tunes the animation. The zero value is usable; every field falls
// back to its default.
type Config struct {
	// SlotCount is the number of positions on the wheel graphic
	SlotCount int

	// SpinVelocity is the constant rotation speed while spinning, in
	// degrees per second
	SpinVelocity float64

	// DriftTurns is the minimum number of extra full rotations between
	// the winner arriving and the wheel stopping
	DriftTurns int

	// DriftDuration is how long the deceleration takes
	DriftDuration time.Duration

	// FreezeDuration is how long the winning slot is held highlighted
	// before the wheel returns to rest
	FreezeDuration time.Duration
}

const (
	defaultSlotCount      = 12
	defaultSpinVelocity   = 720.0
	defaultDriftTurns     = 3
	defaultDriftDuration  = 4 * time.Second
	defaultFreezeDuration = 8 * time.Second
)

func (c Config) withDefaults() Config {
	if c.SlotCount <= 0 {
		c.SlotCount = defaultSlotCount
	}
	if c.SpinVelocity <= 0 {
		c.SpinVelocity = defaultSpinVelocity
	}
	if c.DriftTurns <= 0 {
		c.DriftTurns = defaultDriftTurns
	}
	if c.DriftDuration <= 0 {
		c.DriftDuration = defaultDriftDuration
	}
	if c.FreezeDuration <= 0 {
		c.FreezeDuration = defaultFreezeDuration
	}
	return c
}

// Animator is the deterministic client spin animation state machine.
//
// All state transitions are keyed by attempt token: events for an attempt
// other than the current one are discarded, and a new spin.started always
// cancels whatever the wheel is doing and restarts from Spinning. The
// frozen angle depends only on the winning slot, never on when the
// winner.resolved event arrived, so displays with different latencies all
// land identically.
//
// Animator is not safe for concurrent use; a render loop owns it.
type Animator struct {
	cfg Config

	state     State
	attemptID string

	// spinStart anchors the constant-velocity phase
	spinStart time.Time

	// drift phase anchors
	driftStart  time.Time
	startAngle  float64
	targetAngle float64

	// frozenAt anchors the freeze hold; restAngle is where the wheel
	// settles once the hold ends
	frozenAt   time.Time
	restAngle  float64
	frozenSlot int
}

// New creates an animator in the Idle state
func New(cfg Config) *Animator {
	return &Animator{
		cfg:   cfg.withDefaults(),
		state: StateIdle,
	}
}

// State returns the current animation phase
func (a *Animator) State() State { return a.state }

// AttemptID returns the attempt token driving the current animation
func (a *Animator) AttemptID() string { return a.attemptID }

// FrozenSlot returns the slot the wheel froze on; only meaningful in
// StateFrozen.
func (a *Animator) FrozenSlot() int { return a.frozenSlot }

// HandleEvent advances the state machine with one stream event observed at
// the given time. Events for superseded attempts are discarded.
func (a *Animator) HandleEvent(ev spin.Event, now time.Time) {
	switch ev.Type {
	case spin.EventSpinStarted:
		// A new attempt always wins, whatever phase the wheel is in.
		a.state = StateSpinning
		a.attemptID = ev.AttemptID
		a.spinStart = now

	case spin.EventWinnerResolved:
		if ev.Slot == nil {
			return
		}
		if a.state == StateIdle && a.attemptID == "" {
			// A resolved event with no preceding spin.started is the
			// stream's cached replay: the attempt finished before this
			// display connected. Land on the winner immediately.
			a.freeze(ev.AttemptID, *ev.Slot, now)
			return
		}
		if ev.AttemptID != a.attemptID || a.state != StateSpinning {
			return
		}
		a.beginDrift(*ev.Slot, now)
	}
}

// Tick settles time-based transitions; call it from the render loop before
// sampling AngleAt.
func (a *Animator) Tick(now time.Time) {
	if a.state == StateDrifting && now.Sub(a.driftStart) >= a.cfg.DriftDuration {
		a.state = StateFrozen
		a.frozenAt = a.driftStart.Add(a.cfg.DriftDuration)
	}
	if a.state == StateFrozen && now.Sub(a.frozenAt) >= a.cfg.FreezeDuration {
		// Settle at the winning slot; the wheel does not snap back to zero.
		a.state = StateIdle
		a.restAngle = math.Mod(a.targetAngle, 360.0)
	}
}

// beginDrift computes the deceleration path to the winning slot. The
// target is the slot's center angle plus whole turns past the current
// position, so the normalized final angle is a pure function of the slot.
func (a *Animator) beginDrift(slot int, now time.Time) {
	a.startAngle = a.AngleAt(now)
	a.driftStart = now
	a.frozenSlot = slot

	slotAngle := a.slotCenter(slot)
	base := math.Ceil(a.startAngle/360.0) + float64(a.cfg.DriftTurns)
	target := base*360.0 + slotAngle
	// Guarantee forward motion even when startAngle sits exactly on a
	// turn boundary.
	for target <= a.startAngle {
		target += 360.0
	}

	a.targetAngle = target
	a.state = StateDrifting
}

// freeze puts the wheel directly on the winning slot with no drift. Used
// when the resolution arrived before the animation had anything to
// decelerate from.
func (a *Animator) freeze(attemptID string, slot int, now time.Time) {
	a.attemptID = attemptID
	a.frozenSlot = slot
	a.targetAngle = a.slotCenter(slot)
	a.frozenAt = now
	a.state = StateFrozen
}

// AngleAt samples the wheel's absolute rotation in degrees at the given
// time. Normalize with math.Mod(angle, 360) for rendering.
func (a *Animator) AngleAt(now time.Time) float64 {
	switch a.state {
	case StateIdle:
		return a.restAngle

	case StateSpinning:
		elapsed := now.Sub(a.spinStart).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		return a.cfg.SpinVelocity * elapsed

	case StateDrifting:
		t := now.Sub(a.driftStart).Seconds() / a.cfg.DriftDuration.Seconds()
		if t <= 0 {
			return a.startAngle
		}
		if t >= 1 {
			return a.targetAngle
		}
		return a.startAngle + (a.targetAngle-a.startAngle)*easeOutCubic(t)

	case StateFrozen:
		return a.targetAngle
	}
	return 0
}

// Angle is AngleAt normalized to [0, 360)
func (a *Animator) Angle(now time.Time) float64 {
	return math.Mod(a.AngleAt(now), 360.0)
}

// slotCenter returns the center angle of a slot in [0, 360)
func (a *Animator) slotCenter(slot int) float64 {
	width := 360.0 / float64(a.cfg.SlotCount)
	return math.Mod((float64(slot)+0.5)*width, 360.0)
}

// easeOutCubic decelerates smoothly to a stop
func easeOutCubic(t float64) float64 {
	u := 1 - t
	return 1 - u*u*u
}
