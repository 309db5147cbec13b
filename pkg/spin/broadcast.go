package spin

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

const subscriberBuffer = 16

// Hub is a minimal in-process pub/sub keyed by wheel id. Slow subscribers
// drop events rather than block the resolver; a dropped observer recovers
// through the snapshot replay or the idempotent stop call.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Event
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[int]chan Event),
	}
}

// Subscribe returns a channel of events for one wheel plus a cancel
// function. The channel is closed on cancel or when the context ends.
func (h *Hub) Subscribe(ctx context.Context, wheelID string) (<-chan Event, context.CancelFunc) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	if h.subs[wheelID] == nil {
		h.subs[wheelID] = make(map[int]chan Event)
	}
	h.subs[wheelID][id] = ch
	h.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-subCtx.Done()
		h.mu.Lock()
		if chans, ok := h.subs[wheelID]; ok {
			if c, ok := chans[id]; ok {
				delete(chans, id)
				close(c)
			}
			if len(chans) == 0 {
				delete(h.subs, wheelID)
			}
		}
		h.mu.Unlock()
	}()

	return ch, cancel
}

// Send delivers an event to every subscriber of its wheel (non-blocking,
// drop on full buffer).
func (h *Hub) Send(ev Event) {
	// Sends stay under the read lock: channels are only closed under the
	// write lock, so no send can hit a closed channel.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range lo.Values(h.subs[ev.WheelID]) {
		select {
		case ch <- ev:
		default:
			// drop if the listener is slow; keep simple
		}
	}
}

// SubscriberCount reports how many observers are attached to a wheel
func (h *Hub) SubscriberCount(wheelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[wheelID])
}
