// Package arena provides the fixed-slot allocator that backs message
// envelopes in multi-threaded dispatch. One contiguous region is carved
// into equal slots by a bump pointer; released slots rejoin a free list.
// The arena never compacts.
package arena

import (
	"errors"
	"sync"
)

var ErrInvalidSize = errors.New("arena: region not divisible into slots")

// Arena hands out fixed-size slots from one contiguous region. All
// operations are serialized by a single mutex.
type Arena struct {
	mu       sync.Mutex
	region   []byte
	slotSize int
	next     int      // bump offset into region
	free     [][]byte // released slots
	inUse    int
}

// New creates an arena of size bytes carved into slotSize slots.
func New(size, slotSize int) (*Arena, error) {
	if slotSize <= 0 || size <= 0 || size%slotSize != 0 {
		return nil, ErrInvalidSize
	}
	return &Arena{
		region:   make([]byte, size),
		slotSize: slotSize,
	}, nil
}

// Allocate returns one slot, or nil when the arena is exhausted.
func (a *Arena) Allocate() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		slot := a.free[n-1]
		a.free = a.free[:n-1]
		a.inUse++
		return slot
	}
	if a.next+a.slotSize <= len(a.region) {
		slot := a.region[a.next : a.next+a.slotSize : a.next+a.slotSize]
		a.next += a.slotSize
		a.inUse++
		return slot
	}
	return nil
}

// Free returns a slot to the free list.
func (a *Arena) Free(slot []byte) {
	if slot == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, slot[:a.slotSize:a.slotSize])
	a.inUse--
}

// InUse reports the number of slots currently allocated.
func (a *Arena) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// SlotSize reports the fixed slot length.
func (a *Arena) SlotSize() int {
	return a.slotSize
}

// Slots reports the total slot capacity of the region.
func (a *Arena) Slots() int {
	return len(a.region) / a.slotSize
}
