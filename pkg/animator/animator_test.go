package animator

import (
	"math"
	"testing"
	"time"

	"github.com/vdjjd/faninteract/pkg/spin"
)

func slotPtr(n int) *int { return &n }

func started(attemptID string) spin.Event {
	return spin.Event{Type: spin.EventSpinStarted, WheelID: "w1", AttemptID: attemptID}
}

func resolved(attemptID string, slot int) spin.Event {
	return spin.Event{Type: spin.EventWinnerResolved, WheelID: "w1", AttemptID: attemptID, Slot: slotPtr(slot)}
}

func TestLifecycle(t *testing.T) {
	a := New(Config{SlotCount: 12, DriftDuration: 4 * time.Second})
	t0 := time.Unix(1700000000, 0)

	if a.State() != StateIdle {
		t.Fatalf("initial state = %s, want idle", a.State())
	}
	if a.AngleAt(t0) != 0 {
		t.Error("idle wheel must be at angle 0")
	}

	a.HandleEvent(started("t1"), t0)
	if a.State() != StateSpinning {
		t.Fatalf("state after spin.started = %s, want spinning", a.State())
	}

	// Constant velocity while spinning.
	a1 := a.AngleAt(t0.Add(time.Second))
	a2 := a.AngleAt(t0.Add(2 * time.Second))
	if a2-a1 < 1 {
		t.Error("spinning wheel must keep rotating")
	}
	if math.Abs((a2-a1)-a1) > 1e-9 {
		t.Error("spin phase must advance at constant velocity")
	}

	a.HandleEvent(resolved("t1", 7), t0.Add(3*time.Second))
	if a.State() != StateDrifting {
		t.Fatalf("state after winner.resolved = %s, want drifting", a.State())
	}

	// Drift is monotonic and ends exactly on the target.
	prev := a.AngleAt(t0.Add(3 * time.Second))
	for i := 1; i <= 40; i++ {
		cur := a.AngleAt(t0.Add(3*time.Second + time.Duration(i)*100*time.Millisecond))
		if cur < prev {
			t.Fatalf("drift moved backwards at step %d: %f -> %f", i, prev, cur)
		}
		prev = cur
	}

	a.Tick(t0.Add(8 * time.Second))
	if a.State() != StateFrozen {
		t.Fatalf("state after drift duration = %s, want frozen", a.State())
	}
	if a.FrozenSlot() != 7 {
		t.Errorf("frozen slot = %d, want 7", a.FrozenSlot())
	}

	// After the freeze hold the wheel rests on the winning slot, it does
	// not snap back to zero.
	a.Tick(t0.Add(time.Minute))
	if a.State() != StateIdle {
		t.Fatalf("state after freeze hold = %s, want idle", a.State())
	}
	want := (7 + 0.5) * 360.0 / 12.0
	if got := a.Angle(t0.Add(time.Minute)); math.Abs(got-want) > 1e-6 {
		t.Errorf("resting angle = %f, want slot 7 center %f", got, want)
	}
}

func TestFrozenAngleDependsOnlyOnSlot(t *testing.T) {
	// Two displays receive winner.resolved at different latencies; both
	// must freeze on the identical normalized angle.
	t0 := time.Unix(1700000000, 0)

	run := func(resolveDelay time.Duration) float64 {
		a := New(Config{SlotCount: 12, FreezeDuration: time.Hour})
		a.HandleEvent(started("t1"), t0)
		a.HandleEvent(resolved("t1", 4), t0.Add(resolveDelay))
		a.Tick(t0.Add(resolveDelay + time.Minute))
		if a.State() != StateFrozen {
			t.Fatalf("wheel never froze (delay %v)", resolveDelay)
		}
		return a.Angle(t0.Add(resolveDelay + time.Minute))
	}

	fast := run(1 * time.Second)
	slow := run(3700 * time.Millisecond)
	if math.Abs(fast-slow) > 1e-6 {
		t.Fatalf("frozen angle varies with event latency: %f vs %f", fast, slow)
	}

	// And the angle is the slot's center.
	want := (4 + 0.5) * 360.0 / 12.0
	if math.Abs(fast-want) > 1e-6 {
		t.Fatalf("frozen angle = %f, want slot 4 center %f", fast, want)
	}
}

func TestReplayedResolutionLandsFreshDisplayOnWinner(t *testing.T) {
	// A display that connects after the attempt finished only receives
	// the stream's cached winner.resolved. It must land on the winning
	// slot instead of staying idle at zero.
	a := New(Config{SlotCount: 12, FreezeDuration: 8 * time.Second})
	t0 := time.Unix(1700000000, 0)

	a.HandleEvent(resolved("t1", 7), t0)
	if a.State() != StateFrozen {
		t.Fatalf("state after replayed result = %s, want frozen", a.State())
	}
	if a.FrozenSlot() != 7 {
		t.Errorf("frozen slot = %d, want 7", a.FrozenSlot())
	}
	want := (7 + 0.5) * 360.0 / 12.0
	if got := a.Angle(t0); math.Abs(got-want) > 1e-6 {
		t.Errorf("frozen angle = %f, want slot 7 center %f", got, want)
	}

	// The replay binds the attempt token, so a redelivery changes nothing.
	a.HandleEvent(resolved("t1", 7), t0.Add(time.Second))
	if a.State() != StateFrozen {
		t.Fatalf("redelivered replay moved the wheel: state = %s", a.State())
	}

	// After the hold the wheel rests on the slot, and a fresh spin still
	// takes over normally.
	a.Tick(t0.Add(time.Minute))
	if got := a.Angle(t0.Add(time.Minute)); math.Abs(got-want) > 1e-6 {
		t.Errorf("resting angle = %f, want slot 7 center %f", got, want)
	}
	a.HandleEvent(started("t2"), t0.Add(2*time.Minute))
	if a.State() != StateSpinning || a.AttemptID() != "t2" {
		t.Fatalf("state = %s attempt = %s, want spinning on t2", a.State(), a.AttemptID())
	}
}

func TestSupersededAttemptEventsAreDiscarded(t *testing.T) {
	a := New(Config{SlotCount: 12})
	t0 := time.Unix(1700000000, 0)

	a.HandleEvent(started("t1"), t0)
	a.HandleEvent(started("t2"), t0.Add(time.Second))

	// A late result for the superseded attempt must not stop the wheel.
	a.HandleEvent(resolved("t1", 3), t0.Add(2*time.Second))
	if a.State() != StateSpinning {
		t.Fatalf("state = %s, want spinning after discarding stale result", a.State())
	}
	if a.AttemptID() != "t2" {
		t.Fatalf("attempt = %s, want t2", a.AttemptID())
	}

	a.HandleEvent(resolved("t2", 9), t0.Add(3*time.Second))
	if a.State() != StateDrifting {
		t.Fatal("current attempt's result must start the drift")
	}
}

func TestNewSpinCancelsAndRestarts(t *testing.T) {
	a := New(Config{SlotCount: 12, DriftDuration: 4 * time.Second})
	t0 := time.Unix(1700000000, 0)

	a.HandleEvent(started("t1"), t0)
	a.HandleEvent(resolved("t1", 2), t0.Add(time.Second))
	a.Tick(t0.Add(10 * time.Second))
	if a.State() != StateFrozen {
		t.Fatal("setup: wheel should be frozen")
	}

	// Restart from frozen.
	a.HandleEvent(started("t2"), t0.Add(11*time.Second))
	if a.State() != StateSpinning || a.AttemptID() != "t2" {
		t.Fatalf("state = %s attempt = %s, want spinning on t2", a.State(), a.AttemptID())
	}

	// Restart mid-drift too.
	a.HandleEvent(resolved("t2", 5), t0.Add(12*time.Second))
	if a.State() != StateDrifting {
		t.Fatal("setup: wheel should be drifting")
	}
	a.HandleEvent(started("t3"), t0.Add(13*time.Second))
	if a.State() != StateSpinning || a.AttemptID() != "t3" {
		t.Fatalf("state = %s attempt = %s, want spinning on t3", a.State(), a.AttemptID())
	}
}

func TestDuplicateResolvedEventIsIgnored(t *testing.T) {
	a := New(Config{SlotCount: 12, DriftDuration: 4 * time.Second})
	t0 := time.Unix(1700000000, 0)

	a.HandleEvent(started("t1"), t0)
	a.HandleEvent(resolved("t1", 6), t0.Add(time.Second))
	target := a.AngleAt(t0.Add(time.Minute))

	// At-least-once delivery: a redelivered result must not re-anchor
	// the drift.
	a.HandleEvent(resolved("t1", 6), t0.Add(2*time.Second))
	if got := a.AngleAt(t0.Add(time.Minute)); got != target {
		t.Fatalf("duplicate event changed the target: %f vs %f", got, target)
	}
}

func TestDriftTurnsGuaranteeForwardMotion(t *testing.T) {
	a := New(Config{SlotCount: 12, DriftTurns: 3})
	t0 := time.Unix(1700000000, 0)

	a.HandleEvent(started("t1"), t0)
	at := t0.Add(1500 * time.Millisecond)
	start := a.AngleAt(at)
	a.HandleEvent(resolved("t1", 0), at)

	if a.targetAngle-start < 3*360.0 {
		t.Fatalf("drift covers %f degrees, want at least %f", a.targetAngle-start, 3*360.0)
	}
}
