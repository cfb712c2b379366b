package srv6

import (
	"sort"
	"sync"
)

// NeighborUpdate reports a neighbor becoming resolved or being withdrawn.
type NeighborUpdate struct {
	Key       NeighborKey
	MAC       string
	Withdrawn bool
}

// neighborTable mirrors resolved neighbors from NEIGH_TABLE.
type neighborTable struct {
	mu      sync.RWMutex
	entries map[NeighborKey]string
}

func newNeighborTable() *neighborTable {
	return &neighborTable{entries: make(map[NeighborKey]string)}
}

func (n *neighborTable) set(k NeighborKey, mac string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries[k] = mac
}

func (n *neighborTable) remove(k NeighborKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.entries, k)
}

// lookup resolves k to a concrete neighbor. A key without an interface
// matches the neighbor with that IP on the lowest-sorting interface.
func (n *neighborTable) lookup(k NeighborKey) (NeighborKey, string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if k.Interface != "" {
		mac, ok := n.entries[k]
		return k, mac, ok
	}
	var matches []NeighborKey
	for nk := range n.entries {
		if nk.IP == k.IP {
			matches = append(matches, nk)
		}
	}
	if len(matches) == 0 {
		return k, "", false
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Interface < matches[j].Interface })
	return matches[0], n.entries[matches[0]], true
}
