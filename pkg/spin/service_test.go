package spin

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vdjjd/faninteract/pkg/providers"
	"github.com/vdjjd/faninteract/wheel"
)

// memStore is an in-memory WheelStore/EntryStore with the same conditional
// write semantics as the postgres store. beforeComplete widens the window
// between the resolver's read phase and its write, so tests can interleave
// two resolutions deterministically.
type memStore struct {
	mu             sync.Mutex
	wheels         map[string]*wheel.Wheel
	entries        []*wheel.Entry
	beforeComplete func()
}

func newMemStore(w *wheel.Wheel, entries ...*wheel.Entry) *memStore {
	return &memStore{
		wheels:  map[string]*wheel.Wheel{w.ID: w},
		entries: entries,
	}
}

func (s *memStore) Get(_ context.Context, wheelID string) (*wheel.Wheel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wheels[wheelID]
	if !ok {
		return nil, wheel.ErrWheelNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *memStore) OpenAttempt(_ context.Context, wheelID, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wheels[wheelID]
	if !ok {
		return wheel.ErrWheelNotFound
	}
	w.CurrentAttemptID = &attemptID
	w.AttemptState = wheel.StateSpinning
	w.AttemptOwner = nil
	w.WinnerEntryID = nil
	w.WinnerSlot = nil
	w.ResolvedAt = nil
	return nil
}

func (s *memStore) CompleteAttempt(_ context.Context, wheelID, attemptID, entryID string, slot int, resolvedAt time.Time) (bool, error) {
	if s.beforeComplete != nil {
		s.beforeComplete()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wheels[wheelID]
	if !ok {
		return false, nil
	}
	if w.CurrentAttemptID == nil || *w.CurrentAttemptID != attemptID {
		return false, nil
	}
	if w.AttemptOwner != nil && *w.AttemptOwner == attemptID {
		return false, nil
	}
	w.AttemptOwner = &attemptID
	w.AttemptState = wheel.StateIdle
	w.WinnerEntryID = &entryID
	w.WinnerSlot = &slot
	w.ResolvedAt = &resolvedAt
	return true, nil
}

func (s *memStore) pool(wheelID string, status wheel.EntryStatus) []*wheel.Entry {
	var out []*wheel.Entry
	for _, e := range s.entries {
		if e.WheelID == wheelID && e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *memStore) CountByStatus(_ context.Context, wheelID string, status wheel.EntryStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pool(wheelID, status))), nil
}

func (s *memStore) ByOffset(_ context.Context, wheelID string, status wheel.EntryStatus, offset int64) (*wheel.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool := s.pool(wheelID, status)
	if offset < 0 || offset >= int64(len(pool)) {
		return nil, wheel.ErrEntryNotFound
	}
	return pool[offset], nil
}

func (s *memStore) First(ctx context.Context, wheelID string, status wheel.EntryStatus) (*wheel.Entry, error) {
	return s.ByOffset(ctx, wheelID, status, 0)
}

func (s *memStore) ByID(_ context.Context, entryID string) (*wheel.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == entryID {
			return e, nil
		}
	}
	return nil, wheel.ErrEntryNotFound
}

// fakeSMS records sends and signals completion for async assertions
type fakeSMS struct {
	mu   sync.Mutex
	sent []string
	done chan struct{}
	fail bool
}

func (f *fakeSMS) Send(_ context.Context, to, body string) error {
	f.mu.Lock()
	f.sent = append(f.sent, to+": "+body)
	f.mu.Unlock()
	if f.done != nil {
		select {
		case f.done <- struct{}{}:
		default:
		}
	}
	if f.fail {
		return errors.New("gateway unreachable")
	}
	return nil
}

// fakeSnapshots is an in-memory providers.SnapshotProvider
type fakeSnapshots struct {
	mu   sync.Mutex
	last map[string]Event
}

func (f *fakeSnapshots) SaveSnapshot(_ context.Context, wheelID string, snapshot interface{}) error {
	ev, ok := snapshot.(Event)
	if !ok {
		return errors.New("unexpected snapshot type")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		f.last = make(map[string]Event)
	}
	f.last[wheelID] = ev
	return nil
}

func (f *fakeSnapshots) LoadSnapshot(_ context.Context, wheelID string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.last[wheelID]
	if !ok {
		return providers.ErrNoSnapshot
	}
	*(dest.(*Event)) = ev
	return nil
}

func (f *fakeSnapshots) ClearSnapshot(_ context.Context, wheelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.last, wheelID)
	return nil
}

func testWheel() *wheel.Wheel {
	return &wheel.Wheel{
		ID:        "w1",
		Title:     "Grand Prize",
		SlotCount: 12,
	}
}

func testCoordinator(store *memStore, opts ...func(*ServiceConfig)) *Coordinator {
	cfg := ServiceConfig{
		Wheels:  store,
		Entries: store,
		Logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewCoordinator(cfg)
}

func approvedEntry(id string, offsetSec int) *wheel.Entry {
	return &wheel.Entry{
		ID:        id,
		WheelID:   "w1",
		Status:    wheel.EntryApproved,
		FirstName: "Guest",
		LastName:  id,
		CreatedAt: time.Unix(1700000000+int64(offsetSec), 0),
	}
}

func TestSpinScenario(t *testing.T) {
	// Pool [A(approved), B(pending), C(approved)]: stop(T1) returns A or C,
	// never B; repeated stop(T1) is identical; a new attempt may differ.
	store := newMemStore(testWheel(),
		approvedEntry("A", 0),
		&wheel.Entry{ID: "B", WheelID: "w1", Status: wheel.EntryPending, CreatedAt: time.Unix(1700000001, 0)},
		approvedEntry("C", 2),
	)
	c := testCoordinator(store)
	ctx := context.Background()

	t1, err := c.Open(ctx, "w1")
	if err != nil {
		t.Fatalf("go failed: %v", err)
	}

	first, err := c.Resolve(ctx, "w1", t1)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if first.Winner.ID == "B" {
		t.Fatal("pending entry B must never win")
	}
	if first.Winner.ID != "A" && first.Winner.ID != "C" {
		t.Fatalf("unexpected winner %s", first.Winner.ID)
	}
	if first.Replayed {
		t.Error("first resolution must not be marked as replay")
	}

	for i := 0; i < 5; i++ {
		again, err := c.Resolve(ctx, "w1", t1)
		if err != nil {
			t.Fatalf("replayed stop failed: %v", err)
		}
		if again.Winner.ID != first.Winner.ID || again.Slot != first.Slot {
			t.Fatalf("replay diverged: got (%s,%d), want (%s,%d)",
				again.Winner.ID, again.Slot, first.Winner.ID, first.Slot)
		}
		if !again.Replayed {
			t.Error("repeated stop must be a replay")
		}
	}

	t2, err := c.Open(ctx, "w1")
	if err != nil {
		t.Fatalf("second go failed: %v", err)
	}
	if t2 == t1 {
		t.Fatal("new attempt must have a fresh token")
	}
	second, err := c.Resolve(ctx, "w1", t2)
	if err != nil {
		t.Fatalf("stop on second attempt failed: %v", err)
	}
	if second.Winner.ID == "B" {
		t.Fatal("pending entry B must never win")
	}
}

func TestResolveIdempotentConcurrent(t *testing.T) {
	store := newMemStore(testWheel(),
		approvedEntry("A", 0), approvedEntry("B", 1), approvedEntry("C", 2), approvedEntry("D", 3),
	)
	c := testCoordinator(store)
	ctx := context.Background()

	token, err := c.Open(ctx, "w1")
	if err != nil {
		t.Fatalf("go failed: %v", err)
	}

	const callers = 16
	results := make([]*wheel.Resolution, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Resolve(ctx, "w1", token)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i].Winner.ID != results[0].Winner.ID || results[i].Slot != results[0].Slot {
			t.Fatalf("caller %d got (%s,%d), caller 0 got (%s,%d): all callers must see one winner",
				i, results[i].Winner.ID, results[i].Slot, results[0].Winner.ID, results[0].Slot)
		}
	}
}

func TestResolveRaceConvergesOnStoredWinner(t *testing.T) {
	// Hold both resolvers after their read/pick phase until each has
	// locally chosen a winner, then release the writes. Exactly one write
	// may land; both callers must report the stored winner.
	store := newMemStore(testWheel(),
		approvedEntry("A", 0), approvedEntry("B", 1), approvedEntry("C", 2),
		approvedEntry("D", 3), approvedEntry("E", 4), approvedEntry("F", 5),
	)

	var barrier sync.WaitGroup
	barrier.Add(2)
	store.beforeComplete = func() {
		barrier.Done()
		barrier.Wait()
	}

	c := testCoordinator(store)
	ctx := context.Background()

	token, err := c.Open(ctx, "w1")
	if err != nil {
		t.Fatalf("go failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]*wheel.Resolution, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Resolve(ctx, "w1", token)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
	}
	if results[0].Winner.ID != results[1].Winner.ID || results[0].Slot != results[1].Slot {
		t.Fatalf("race produced two winners: (%s,%d) vs (%s,%d)",
			results[0].Winner.ID, results[0].Slot, results[1].Winner.ID, results[1].Slot)
	}

	stored, err := store.Get(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.WinnerEntryID == nil || *stored.WinnerEntryID != results[0].Winner.ID {
		t.Fatal("stored winner does not match the winner both callers reported")
	}
}

func TestStaleTokenCannotOverwriteNewerAttempt(t *testing.T) {
	store := newMemStore(testWheel(), approvedEntry("A", 0), approvedEntry("B", 1))
	c := testCoordinator(store)
	ctx := context.Background()

	t1, err := c.Open(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	t2, err := c.Open(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}

	// The stale token can no longer store anything.
	if _, err := c.Resolve(ctx, "w1", t1); !errors.Is(err, ErrAttemptSuperseded) {
		t.Fatalf("stale stop: got err %v, want ErrAttemptSuperseded", err)
	}

	res, err := c.Resolve(ctx, "w1", t2)
	if err != nil {
		t.Fatalf("current stop failed: %v", err)
	}

	// And still cannot clobber the stored result afterwards.
	if _, err := c.Resolve(ctx, "w1", t1); !errors.Is(err, ErrAttemptSuperseded) {
		t.Fatalf("stale stop after resolution: got err %v, want ErrAttemptSuperseded", err)
	}

	stored, err := store.Get(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if *stored.WinnerEntryID != res.Winner.ID {
		t.Fatal("newer attempt's stored winner was disturbed by a stale token")
	}
}

func TestResolveNoEligibleEntries(t *testing.T) {
	tests := []struct {
		name        string
		entries     []*wheel.Entry
		wantPending int64
	}{
		{name: "no submissions", wantPending: 0},
		{
			name: "pending moderation",
			entries: []*wheel.Entry{
				{ID: "a", WheelID: "w1", Status: wheel.EntryPending},
				{ID: "b", WheelID: "w1", Status: wheel.EntryPending},
				{ID: "c", WheelID: "w1", Status: wheel.EntryPending},
			},
			wantPending: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(testWheel(), tt.entries...)
			c := testCoordinator(store)
			ctx := context.Background()

			token, err := c.Open(ctx, "w1")
			if err != nil {
				t.Fatal(err)
			}
			_, err = c.Resolve(ctx, "w1", token)
			var noEligible *wheel.NoEligibleEntriesError
			if !errors.As(err, &noEligible) {
				t.Fatalf("got err %v, want NoEligibleEntriesError", err)
			}
			if noEligible.Pending != tt.wantPending {
				t.Errorf("pending = %d, want %d", noEligible.Pending, tt.wantPending)
			}

			// The attempt token stays valid: approving entries later makes
			// the same token resolvable.
			store.mu.Lock()
			store.entries = append(store.entries, approvedEntry("late", 9))
			store.mu.Unlock()
			res, err := c.Resolve(ctx, "w1", token)
			if err != nil {
				t.Fatalf("stop after approval failed: %v", err)
			}
			if res.Winner.ID != "late" {
				t.Errorf("winner = %s, want late", res.Winner.ID)
			}
		})
	}
}

func TestResolveUnknownWheel(t *testing.T) {
	store := newMemStore(testWheel())
	c := testCoordinator(store)

	if _, err := c.Open(context.Background(), "missing"); !errors.Is(err, wheel.ErrWheelNotFound) {
		t.Fatalf("go: got err %v, want ErrWheelNotFound", err)
	}
	if _, err := c.Resolve(context.Background(), "missing", "tok"); !errors.Is(err, wheel.ErrWheelNotFound) {
		t.Fatalf("stop: got err %v, want ErrWheelNotFound", err)
	}
}

func TestAutoPublishesBothEvents(t *testing.T) {
	store := newMemStore(testWheel(), approvedEntry("A", 0), approvedEntry("B", 1))
	snapshots := &fakeSnapshots{}
	c := testCoordinator(store, func(cfg *ServiceConfig) {
		cfg.Snapshots = snapshots
	})
	ctx := context.Background()

	events, cancel := c.Events(ctx, "w1")
	defer cancel()

	res, err := c.Auto(ctx, "w1")
	if err != nil {
		t.Fatalf("auto failed: %v", err)
	}

	started := <-events
	if started.Type != EventSpinStarted || started.AttemptID != res.AttemptID {
		t.Fatalf("first event = %+v, want spin.started for attempt %s", started, res.AttemptID)
	}
	resolved := <-events
	if resolved.Type != EventWinnerResolved || resolved.AttemptID != res.AttemptID {
		t.Fatalf("second event = %+v, want winner.resolved for attempt %s", resolved, res.AttemptID)
	}
	if resolved.Slot == nil || *resolved.Slot != res.Slot {
		t.Error("resolved event slot does not match the resolution")
	}
	if resolved.Winner == nil || resolved.Winner.EntryID != res.Winner.ID {
		t.Error("resolved event winner does not match the resolution")
	}

	// Late joiners read the winner.resolved snapshot.
	last, err := c.LastEvent(ctx, "w1")
	if err != nil {
		t.Fatalf("LastEvent failed: %v", err)
	}
	if last.Type != EventWinnerResolved || last.AttemptID != res.AttemptID {
		t.Fatalf("snapshot = %+v, want the winner.resolved event", last)
	}
}

func TestNotifierFiresOnceAndFailuresAreSwallowed(t *testing.T) {
	w := testWheel()
	w.NotifyWinner = true
	w.NotifyTemplate = "{{first_name}} {{last_name}} won {{wheel_title}}"
	store := newMemStore(w, &wheel.Entry{
		ID: "A", WheelID: "w1", Status: wheel.EntryApproved,
		FirstName: "Ada", LastName: "L", Phone: "+15550001111",
		CreatedAt: time.Unix(1700000000, 0),
	})

	sms := &fakeSMS{done: make(chan struct{}, 1), fail: true}
	c := testCoordinator(store, func(cfg *ServiceConfig) {
		cfg.SMS = sms
	})
	ctx := context.Background()

	res, err := c.Auto(ctx, "w1")
	if err != nil {
		t.Fatalf("auto failed even though only the notifier fails: %v", err)
	}
	if res.Winner.ID != "A" {
		t.Fatalf("winner = %s, want A", res.Winner.ID)
	}

	select {
	case <-sms.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier never attempted delivery")
	}

	// Replays must not re-notify.
	if _, err := c.Resolve(ctx, "w1", res.AttemptID); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	sms.mu.Lock()
	sends := len(sms.sent)
	sms.mu.Unlock()
	if sends != 1 {
		t.Fatalf("notifier ran %d times, want exactly 1", sends)
	}
}

func TestHubRemoteEventsReachSubscribers(t *testing.T) {
	store := newMemStore(testWheel())
	c := testCoordinator(store)
	ctx := context.Background()

	events, cancel := c.Events(ctx, "w1")
	defer cancel()

	slot := 4
	c.HandleRemoteEvent(Event{
		Type:      EventWinnerResolved,
		WheelID:   "w1",
		AttemptID: "remote-attempt",
		Slot:      &slot,
		Timestamp: time.Now(),
	})

	select {
	case ev := <-events:
		if ev.AttemptID != "remote-attempt" {
			t.Fatalf("got attempt %s, want remote-attempt", ev.AttemptID)
		}
	case <-time.After(time.Second):
		t.Fatal("remote event never reached the local subscriber")
	}

	// Events for other wheels are not delivered here.
	c.HandleRemoteEvent(Event{Type: EventSpinStarted, WheelID: "other", AttemptID: "x"})
	select {
	case ev := <-events:
		t.Fatalf("received event for wrong wheel: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
