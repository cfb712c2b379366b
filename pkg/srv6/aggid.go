package srv6

import (
	"fmt"
	"math"
	"sync"
)

// aggIDAllocator hands out prefix aggregation IDs. IDs start at 1, skip
// values still in use and wrap back to 1 after the maximum.
type aggIDAllocator struct {
	mu   sync.Mutex
	next uint32
	max  uint32
	used map[uint32]struct{}
}

func newAggIDAllocator() *aggIDAllocator {
	return &aggIDAllocator{next: 1, max: math.MaxUint32, used: make(map[uint32]struct{})}
}

func (a *aggIDAllocator) alloc() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if uint64(len(a.used)) >= uint64(a.max) {
		return 0, fmt.Errorf("prefix aggregation IDs exhausted")
	}
	for {
		id := a.next
		if a.next == a.max {
			a.next = 1
		} else {
			a.next++
		}
		if _, busy := a.used[id]; !busy {
			a.used[id] = struct{}{}
			return id, nil
		}
	}
}

func (a *aggIDAllocator) free(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, id)
}

func (a *aggIDAllocator) inUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}
