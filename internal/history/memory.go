package history

import (
	"context"
	"sync"

	"github.com/brightboard/safety-gate/internal/message"
)

// MemoryStore keeps the last N messages per conversation in memory.
// It is goroutine-safe and uses a ring buffer internally.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[message.ConversationKey]*ring
}

// ring is a fixed-size circular buffer of entries.
type ring struct {
	items []Entry
	pos   int
	count int
}

// NewMemoryStore creates a store retaining capacity messages per
// conversation (DefaultCapacity when capacity <= 0).
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		buffers:  make(map[message.ConversationKey]*ring),
	}
}

// Append adds e to the conversation's ring. When the ring is full the
// oldest message is overwritten.
func (s *MemoryStore) Append(_ context.Context, key message.ConversationKey, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rb, ok := s.buffers[key]
	if !ok {
		rb = &ring{items: make([]Entry, s.capacity)}
		s.buffers[key] = rb
	}
	for i := 0; i < rb.count; i++ {
		if rb.items[(rb.pos-1-i+2*s.capacity)%s.capacity].MessageID == e.MessageID {
			return nil // redelivered
		}
	}

	rb.items[rb.pos] = e
	rb.pos = (rb.pos + 1) % s.capacity
	if rb.count < s.capacity {
		rb.count++
	}
	return nil
}

// Around implements Source.
func (s *MemoryStore) Around(_ context.Context, key message.ConversationKey, messageID string, before, after int) ([]Entry, error) {
	return window(s.get(key), messageID, before, after)
}

// get returns the conversation in chronological order (oldest first).
func (s *MemoryStore) get(key message.ConversationKey) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rb, ok := s.buffers[key]
	if !ok {
		return nil
	}
	out := make([]Entry, rb.count)
	// The oldest entry is at (pos - count) mod capacity.
	start := (rb.pos - rb.count + s.capacity) % s.capacity
	for i := 0; i < rb.count; i++ {
		out[i] = rb.items[(start+i)%s.capacity]
	}
	return out
}
