package srv6

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/util"
)

type tunnel struct {
	oid    string
	mapOID string // P2P tunnels only
	source string
	refs   int
}

type sharedObject struct {
	oid  string
	refs int
}

// Adjacency is an IP next hop bound to a resolved neighbor.
type Adjacency struct {
	Key NeighborKey
	OID string
}

type adjacency struct {
	oid  string
	mac  string
	refs int
}

// ResourceCounts reports how many shared objects Resources currently holds.
type ResourceCounts struct {
	EncapTunnels int
	P2PTunnels   int
	NextHops     int
	Adjacencies  int
	MapEntries   int
}

// Resources creates and shares tunnels, next hops and tunnel map entries.
// Every object is reference-counted; the last release removes it, next hops
// before the tunnel they use and P2P tunnels before their tunnel map.
type Resources struct {
	mu        sync.Mutex
	store     sai.Store
	cfg       Config
	sidLists  *SegmentLists
	neighbors *neighborTable

	encapTunnels map[string]*tunnel // by source
	p2pTunnels   map[string]*tunnel // by endpoint
	nextHops     map[SRv6NextHopKey]*sharedObject
	adjacencies  map[NeighborKey]*adjacency
	mapEntries   map[MapEntryKey]*sharedObject
}

func newResources(store sai.Store, cfg Config, sidLists *SegmentLists, neighbors *neighborTable) *Resources {
	return &Resources{
		store:        store,
		cfg:          cfg,
		sidLists:     sidLists,
		neighbors:    neighbors,
		encapTunnels: make(map[string]*tunnel),
		p2pTunnels:   make(map[string]*tunnel),
		nextHops:     make(map[SRv6NextHopKey]*sharedObject),
		adjacencies:  make(map[NeighborKey]*adjacency),
		mapEntries:   make(map[MapEntryKey]*sharedObject),
	}
}

// AcquireSRv6 returns the SRv6 next hop for key, creating it and its tunnel
// on first use.
func (r *Resources) AcquireSRv6(ctx context.Context, key SRv6NextHopKey) (oid string, err error) {
	if key.Source == "" {
		return "", util.NewValidationError("SRv6 next hop requires an encapsulation source")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if nh, ok := r.nextHops[key]; ok {
		nh.refs++
		util.WithObject(string(sai.ObjectTypeNextHop), nh.oid).Debugf("next hop %s refs=%d", key, nh.refs)
		return nh.oid, nil
	}

	var undo undoStack
	defer func() {
		if err != nil {
			undo.unwind()
		}
	}()

	tunnelOID, err := r.acquireTunnelLocked(ctx, key.Source, key.Endpoint, &undo)
	if err != nil {
		return "", err
	}

	sidListOID := sai.NullOID
	if key.SIDList != "" {
		sidListOID, err = r.sidLists.acquire(key.SIDList)
		if err != nil {
			return "", err
		}
		undo.push(func() { r.sidLists.release(key.SIDList) })
	}

	oid, err = r.store.Create(ctx, sai.ObjectTypeNextHop, sai.Attributes{
		sai.AttrNextHopType:    sai.NextHopTypeSRv6SIDList,
		sai.AttrNextHopSIDList: sidListOID,
		sai.AttrNextHopTunnel:  tunnelOID,
	})
	if err != nil {
		return "", fmt.Errorf("creating next hop %s: %w", key, err)
	}
	r.nextHops[key] = &sharedObject{oid: oid, refs: 1}
	util.WithObject(string(sai.ObjectTypeNextHop), oid).Infof("Created SRv6 next hop %s", key)
	return oid, nil
}

// ReleaseSRv6 drops one reference on the next hop for key.
func (r *Resources) ReleaseSRv6(ctx context.Context, key SRv6NextHopKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseSRv6Locked(ctx, key)
}

func (r *Resources) releaseSRv6Locked(ctx context.Context, key SRv6NextHopKey) error {
	nh, ok := r.nextHops[key]
	if !ok {
		return util.NewNotFoundError("next hop", key.String())
	}
	if nh.refs > 0 {
		nh.refs--
	}
	if nh.refs > 0 {
		return nil
	}
	if err := r.store.Remove(ctx, sai.ObjectTypeNextHop, nh.oid); err != nil {
		return fmt.Errorf("removing next hop %s: %w", key, err)
	}
	delete(r.nextHops, key)
	util.WithObject(string(sai.ObjectTypeNextHop), nh.oid).Infof("Removed SRv6 next hop %s", key)

	if key.SIDList != "" {
		r.sidLists.release(key.SIDList)
	}
	return r.releaseTunnelLocked(ctx, key.Source, key.Endpoint)
}

// acquireTunnelLocked takes a reference on the encap tunnel for source, or
// on the P2P tunnel towards endpoint when one is given.
func (r *Resources) acquireTunnelLocked(ctx context.Context, source, endpoint string, undo *undoStack) (string, error) {
	if endpoint == "" {
		if t, ok := r.encapTunnels[source]; ok {
			t.refs++
			undo.push(func() { _ = r.releaseTunnelLocked(ctx, source, endpoint) })
			return t.oid, nil
		}
		oid, err := r.store.Create(ctx, sai.ObjectTypeTunnel, r.tunnelAttrs(source))
		if err != nil {
			return "", fmt.Errorf("creating tunnel for source %s: %w", source, err)
		}
		r.encapTunnels[source] = &tunnel{oid: oid, source: source, refs: 1}
		undo.push(func() { _ = r.releaseTunnelLocked(ctx, source, endpoint) })
		util.WithObject(string(sai.ObjectTypeTunnel), oid).Infof("Created SRv6 tunnel src %s", source)
		return oid, nil
	}

	if t, ok := r.p2pTunnels[endpoint]; ok {
		if t.source != source {
			util.WithObject(string(sai.ObjectTypeTunnel), t.oid).
				Warnf("P2P tunnel to %s uses source %s, not %s", endpoint, t.source, source)
		}
		t.refs++
		undo.push(func() { _ = r.releaseTunnelLocked(ctx, source, endpoint) })
		return t.oid, nil
	}

	mapOID, err := r.store.Create(ctx, sai.ObjectTypeTunnelMap, sai.Attributes{
		sai.AttrTunnelMapType: sai.TunnelMapTypePrefixAggIDToVPNSID,
	})
	if err != nil {
		return "", fmt.Errorf("creating tunnel map for %s: %w", endpoint, err)
	}
	attrs := r.tunnelAttrs(source)
	attrs[sai.AttrTunnelPeerMode] = sai.TunnelPeerModeP2P
	attrs[sai.AttrTunnelEncapDstIP] = endpoint
	attrs[sai.AttrTunnelEncapMappers] = sai.ObjectList(mapOID)
	oid, err := r.store.Create(ctx, sai.ObjectTypeTunnel, attrs)
	if err != nil {
		if rerr := r.store.Remove(ctx, sai.ObjectTypeTunnelMap, mapOID); rerr != nil {
			util.WithObject(string(sai.ObjectTypeTunnelMap), mapOID).Errorf("rollback failed: %v", rerr)
		}
		return "", fmt.Errorf("creating P2P tunnel to %s: %w", endpoint, err)
	}
	r.p2pTunnels[endpoint] = &tunnel{oid: oid, mapOID: mapOID, source: source, refs: 1}
	undo.push(func() { _ = r.releaseTunnelLocked(ctx, source, endpoint) })
	util.WithObject(string(sai.ObjectTypeTunnel), oid).Infof("Created P2P tunnel %s -> %s", source, endpoint)
	return oid, nil
}

func (r *Resources) tunnelAttrs(source string) sai.Attributes {
	attrs := sai.Attributes{
		sai.AttrTunnelType:       sai.TunnelTypeSRv6,
		sai.AttrTunnelEncapSrcIP: source,
	}
	if r.cfg.UnderlayRIF != "" {
		attrs[sai.AttrTunnelUnderlayInterface] = r.cfg.UnderlayRIF
	}
	return attrs
}

func (r *Resources) releaseTunnelLocked(ctx context.Context, source, endpoint string) error {
	table := r.encapTunnels
	name := source
	if endpoint != "" {
		table = r.p2pTunnels
		name = endpoint
	}
	t, ok := table[name]
	if !ok {
		return nil
	}
	if t.refs > 0 {
		t.refs--
	}
	if t.refs > 0 {
		return nil
	}
	if err := r.store.Remove(ctx, sai.ObjectTypeTunnel, t.oid); err != nil {
		return fmt.Errorf("removing tunnel %s: %w", name, err)
	}
	delete(table, name)
	util.WithObject(string(sai.ObjectTypeTunnel), t.oid).Infof("Removed tunnel %s", name)
	if t.mapOID != "" {
		if err := r.store.Remove(ctx, sai.ObjectTypeTunnelMap, t.mapOID); err != nil {
			return fmt.Errorf("removing tunnel map for %s: %w", name, err)
		}
	}
	return nil
}

// AcquireAdjacency returns an IP next hop for the neighbor named by key. ok
// is false when the neighbor is not resolved yet; the caller should park
// and retry on the next resolution event.
func (r *Resources) AcquireAdjacency(ctx context.Context, key NeighborKey) (adj Adjacency, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved, mac, found := r.neighbors.lookup(key)
	if !found {
		return Adjacency{}, false, nil
	}
	if a, exists := r.adjacencies[resolved]; exists {
		a.refs++
		return Adjacency{Key: resolved, OID: a.oid}, true, nil
	}
	oid, err := r.store.Create(ctx, sai.ObjectTypeNextHop, sai.Attributes{
		sai.AttrNextHopType:        sai.NextHopTypeIP,
		sai.AttrNextHopIP:          resolved.IP,
		sai.AttrNextHopNeighborMAC: mac,
	})
	if err != nil {
		return Adjacency{}, false, fmt.Errorf("creating next hop for neighbor %s: %w", resolved, err)
	}
	r.adjacencies[resolved] = &adjacency{oid: oid, mac: mac, refs: 1}
	util.WithObject(string(sai.ObjectTypeNextHop), oid).Infof("Created adjacency next hop %s", resolved)
	return Adjacency{Key: resolved, OID: oid}, true, nil
}

// ReleaseAdjacency drops one reference on the adjacency for a resolved key.
func (r *Resources) ReleaseAdjacency(ctx context.Context, key NeighborKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.adjacencies[key]
	if !ok {
		return util.NewNotFoundError("adjacency", key.String())
	}
	if a.refs > 0 {
		a.refs--
	}
	if a.refs > 0 {
		return nil
	}
	if err := r.store.Remove(ctx, sai.ObjectTypeNextHop, a.oid); err != nil {
		return fmt.Errorf("removing next hop for neighbor %s: %w", key, err)
	}
	delete(r.adjacencies, key)
	util.WithObject(string(sai.ObjectTypeNextHop), a.oid).Infof("Removed adjacency next hop %s", key)
	return nil
}

// refreshAdjacency rewrites the neighbor MAC of an existing adjacency.
func (r *Resources) refreshAdjacency(ctx context.Context, key NeighborKey, mac string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.adjacencies[key]
	if !ok || a.mac == mac {
		return nil
	}
	if err := r.store.Set(ctx, sai.ObjectTypeNextHop, a.oid, sai.Attributes{
		sai.AttrNextHopNeighborMAC: mac,
	}); err != nil {
		return fmt.Errorf("updating next hop for neighbor %s: %w", key, err)
	}
	a.mac = mac
	return nil
}

// AcquireMapEntry returns the tunnel map entry mapping key.AggID to
// key.VPNSID on the P2P tunnel towards key.Endpoint. If no such tunnel
// exists one is built from Config.EncapSource.
func (r *Resources) AcquireMapEntry(ctx context.Context, key MapEntryKey) (oid string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.mapEntries[key]; ok {
		e.refs++
		return e.oid, nil
	}

	source := r.cfg.EncapSource
	if t, ok := r.p2pTunnels[key.Endpoint]; ok {
		source = t.source
	} else if source == "" {
		return "", util.NewDependencyError("tunnel map entry "+key.String(), "P2P tunnel", key.Endpoint)
	}

	var undo undoStack
	defer func() {
		if err != nil {
			undo.unwind()
		}
	}()

	if _, err = r.acquireTunnelLocked(ctx, source, key.Endpoint, &undo); err != nil {
		return "", err
	}
	t := r.p2pTunnels[key.Endpoint]

	oid, err = r.store.Create(ctx, sai.ObjectTypeTunnelMapEntry, sai.Attributes{
		sai.AttrTunnelMapEntryMapType:     sai.TunnelMapTypePrefixAggIDToVPNSID,
		sai.AttrTunnelMapEntryMap:         t.mapOID,
		sai.AttrTunnelMapEntryPrefixAggID: strconv.FormatUint(uint64(key.AggID), 10),
		sai.AttrTunnelMapEntryVPNSID:      key.VPNSID,
	})
	if err != nil {
		return "", fmt.Errorf("creating tunnel map entry %s: %w", key, err)
	}
	r.mapEntries[key] = &sharedObject{oid: oid, refs: 1}
	util.WithObject(string(sai.ObjectTypeTunnelMapEntry), oid).Infof("Created tunnel map entry %s", key)
	return oid, nil
}

// ReleaseMapEntry drops one reference on a tunnel map entry.
func (r *Resources) ReleaseMapEntry(ctx context.Context, key MapEntryKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.mapEntries[key]
	if !ok {
		return util.NewNotFoundError("tunnel map entry", key.String())
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs > 0 {
		return nil
	}
	if err := r.store.Remove(ctx, sai.ObjectTypeTunnelMapEntry, e.oid); err != nil {
		return fmt.Errorf("removing tunnel map entry %s: %w", key, err)
	}
	delete(r.mapEntries, key)
	util.WithObject(string(sai.ObjectTypeTunnelMapEntry), e.oid).Infof("Removed tunnel map entry %s", key)
	return r.releaseTunnelLocked(ctx, "", key.Endpoint)
}

// NextHopRefs returns the reference count of the SRv6 next hop for key.
func (r *Resources) NextHopRefs(key SRv6NextHopKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if nh, ok := r.nextHops[key]; ok {
		return nh.refs
	}
	return 0
}

// Counts returns the number of live shared objects by kind.
func (r *Resources) Counts() ResourceCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ResourceCounts{
		EncapTunnels: len(r.encapTunnels),
		P2PTunnels:   len(r.p2pTunnels),
		NextHops:     len(r.nextHops),
		Adjacencies:  len(r.adjacencies),
		MapEntries:   len(r.mapEntries),
	}
}
