package wheel

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/rs/zerolog"
)

// fakeEntryStore serves entries from a slice, optionally dropping the row
// at a given offset to simulate a concurrent removal between count and fetch.
type fakeEntryStore struct {
	entries     []*Entry
	goneOffsets map[int64]bool
}

func (s *fakeEntryStore) byStatus(wheelID string, status EntryStatus) []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		if e.WheelID == wheelID && e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeEntryStore) CountByStatus(_ context.Context, wheelID string, status EntryStatus) (int64, error) {
	return int64(len(s.byStatus(wheelID, status))), nil
}

func (s *fakeEntryStore) ByOffset(_ context.Context, wheelID string, status EntryStatus, offset int64) (*Entry, error) {
	if s.goneOffsets[offset] {
		return nil, ErrEntryNotFound
	}
	pool := s.byStatus(wheelID, status)
	if offset < 0 || offset >= int64(len(pool)) {
		return nil, ErrEntryNotFound
	}
	return pool[offset], nil
}

func (s *fakeEntryStore) First(_ context.Context, wheelID string, status EntryStatus) (*Entry, error) {
	pool := s.byStatus(wheelID, status)
	if len(pool) == 0 {
		return nil, ErrEntryNotFound
	}
	return pool[0], nil
}

func (s *fakeEntryStore) ByID(_ context.Context, entryID string) (*Entry, error) {
	for _, e := range s.entries {
		if e.ID == entryID {
			return e, nil
		}
	}
	return nil, ErrEntryNotFound
}

func TestPickUniform(t *testing.T) {
	tests := []struct {
		name    string
		n       int64
		wantErr bool
	}{
		{name: "single element", n: 1},
		{name: "small pool", n: 7},
		{name: "large pool", n: 100000},
		{name: "zero pool", n: 0, wantErr: true},
		{name: "negative pool", n: -3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				got, err := PickUniform(tt.n)
				if tt.wantErr {
					if err == nil {
						t.Fatalf("expected error for n=%d, got index %d", tt.n, got)
					}
					return
				}
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got < 0 || got >= tt.n {
					t.Fatalf("index %d out of range [0,%d)", got, tt.n)
				}
			}
		})
	}
}

func TestPickEligibleFairness(t *testing.T) {
	if testing.Short() {
		t.Skip("fairness bound needs many draws")
	}

	const poolSize = 5
	const draws = 20000

	store := &fakeEntryStore{}
	for i := 0; i < poolSize; i++ {
		store.entries = append(store.entries, &Entry{
			ID:      string(rune('a' + i)),
			WheelID: "w1",
			Status:  EntryApproved,
		})
	}

	picker := NewPicker(store, zerolog.Nop())
	counts := make(map[string]int)
	for i := 0; i < draws; i++ {
		e, err := picker.PickEligible(context.Background(), "w1")
		if err != nil {
			t.Fatalf("unexpected error on draw %d: %v", i, err)
		}
		counts[e.ID]++
	}

	// Each entry should land near draws/poolSize; allow 15% relative slack,
	// far beyond any plausible deviation for a uniform source.
	expected := float64(draws) / float64(poolSize)
	for id, n := range counts {
		ratio := float64(n) / expected
		if ratio < 0.85 || ratio > 1.15 {
			t.Errorf("entry %s selected %d times, expected around %.0f", id, n, expected)
		}
	}
	if len(counts) != poolSize {
		t.Errorf("only %d of %d entries were ever selected", len(counts), poolSize)
	}
}

func TestPickEligibleFiltersStatus(t *testing.T) {
	store := &fakeEntryStore{entries: []*Entry{
		{ID: "a", WheelID: "w1", Status: EntryPending},
		{ID: "b", WheelID: "w1", Status: EntryRejected},
		{ID: "c", WheelID: "w1", Status: EntryApproved},
	}}
	picker := NewPicker(store, zerolog.Nop())

	for i := 0; i < 20; i++ {
		e, err := picker.PickEligible(context.Background(), "w1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.ID != "c" {
			t.Fatalf("picked entry %s with status %s, only approved entries are eligible", e.ID, e.Status)
		}
	}
}

func TestPickEligibleNoEntries(t *testing.T) {
	tests := []struct {
		name        string
		entries     []*Entry
		wantPending int64
	}{
		{
			name:        "zero submissions",
			entries:     nil,
			wantPending: 0,
		},
		{
			name: "all pending moderation",
			entries: []*Entry{
				{ID: "a", WheelID: "w1", Status: EntryPending},
				{ID: "b", WheelID: "w1", Status: EntryPending},
				{ID: "c", WheelID: "w1", Status: EntryPending},
			},
			wantPending: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			picker := NewPicker(&fakeEntryStore{entries: tt.entries}, zerolog.Nop())
			_, err := picker.PickEligible(context.Background(), "w1")
			if err == nil {
				t.Fatal("expected NoEligibleEntriesError, got nil")
			}
			var noEligible *NoEligibleEntriesError
			if !errors.As(err, &noEligible) {
				t.Fatalf("expected NoEligibleEntriesError, got %T: %v", err, err)
			}
			if noEligible.Pending != tt.wantPending {
				t.Errorf("pending = %d, want %d", noEligible.Pending, tt.wantPending)
			}
		})
	}
}

func TestPickEligibleFallbackOnVanishedOffset(t *testing.T) {
	store := &fakeEntryStore{
		entries: []*Entry{
			{ID: "a", WheelID: "w1", Status: EntryApproved},
			{ID: "b", WheelID: "w1", Status: EntryApproved},
			{ID: "c", WheelID: "w1", Status: EntryApproved},
		},
		// every offset "vanishes": the picker must fall back to the first row
		goneOffsets: map[int64]bool{0: true, 1: true, 2: true},
	}
	picker := NewPicker(store, zerolog.Nop())

	e, err := picker.PickEligible(context.Background(), "w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID != "a" {
		t.Errorf("fallback picked %s, want first eligible entry a", e.ID)
	}
}

func TestRollSlot(t *testing.T) {
	for i := 0; i < 100; i++ {
		slot, err := RollSlot(DefaultSlotCount)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if slot < 0 || slot >= DefaultSlotCount {
			t.Fatalf("slot %d out of range [0,%d)", slot, DefaultSlotCount)
		}
	}

	// zero slot count falls back to the default range
	slot, err := RollSlot(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot < 0 || slot >= DefaultSlotCount {
		t.Fatalf("slot %d out of default range", slot)
	}
}
