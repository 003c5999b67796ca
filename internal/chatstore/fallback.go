package chatstore

import "sync"

// FallbackStore is a bounded in-memory buffer that callers write to
// when the primary backend is unavailable. It has no persistence and
// lives exactly as long as the instance that owns it; construct one
// per process and pass it to whatever needs it.
type FallbackStore struct {
	mu       sync.RWMutex
	capacity int
	entries  []Message
}

const defaultFallbackCapacity = 4096

func NewFallbackStore(capacity int) *FallbackStore {
	if capacity <= 0 {
		capacity = defaultFallbackCapacity
	}
	return &FallbackStore{capacity: capacity}
}

// Append stores a message, dropping the oldest entry when full.
func (f *FallbackStore) Append(msg Message) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) >= f.capacity {
		f.entries = f.entries[1:]
	}
	f.entries = append(f.entries, msg)
	fallbackWrites.Inc()
}

// Messages returns a copy of all buffered entries.
func (f *FallbackStore) Messages() []Message {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Message, len(f.entries))
	copy(out, f.entries)
	return out
}

// FilterInPlace drops every entry for which keep returns false and
// returns the number removed.
func (f *FallbackStore) FilterInPlace(keep func(Message) bool) int {
	if f == nil || keep == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[:0]
	removed := 0
	for _, msg := range f.entries {
		if keep(msg) {
			kept = append(kept, msg)
			continue
		}
		removed++
	}
	f.entries = kept
	return removed
}

func (f *FallbackStore) Len() int {
	if f == nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Reset discards all buffered entries.
func (f *FallbackStore) Reset() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
}
