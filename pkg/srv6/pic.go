package srv6

import (
	"context"
	"fmt"
	"sync"

	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/util"
)

// GroupMember is one SRv6 path of a next-hop group.
type GroupMember struct {
	Nexthop   string
	Source    string
	Interface string
	Segment   string
}

func (m GroupMember) nextHopKey() SRv6NextHopKey {
	return SRv6NextHopKey{Source: m.Source, Endpoint: m.Nexthop, SIDList: m.Segment}
}

// PICEntry binds a VPN SID to the endpoint it is advertised by.
type PICEntry struct {
	Nexthop string
	VPNSID  string
}

type nextHopGroup struct {
	oid     string
	members map[SRv6NextHopKey]string // next hop key -> member OID
	order   []GroupMember
	refs    int
}

type picContext struct {
	entries []PICEntry
	aggID   uint32
	mapKeys []MapEntryKey
	refs    int
}

// PIC owns NEXTHOP_GROUP_TABLE and PIC_CONTEXT_TABLE. Routes attach to a
// group and a context by index; the group's members can change without
// touching any route, which is what gives prefix-independent convergence.
type PIC struct {
	mu        sync.Mutex
	store     sai.Store
	resources *Resources
	aggIDs    *aggIDAllocator
	groups    map[string]*nextHopGroup
	contexts  map[string]*picContext
}

func newPIC(store sai.Store, resources *Resources, aggIDs *aggIDAllocator) *PIC {
	return &PIC{
		store:     store,
		resources: resources,
		aggIDs:    aggIDs,
		groups:    make(map[string]*nextHopGroup),
		contexts:  make(map[string]*picContext),
	}
}

func canonicalMembers(members []GroupMember) ([]GroupMember, error) {
	if len(members) == 0 {
		return nil, util.NewValidationError("next-hop group must have at least one member")
	}
	vb := &util.ValidationBuilder{}
	seen := make(map[SRv6NextHopKey]bool)
	out := make([]GroupMember, 0, len(members))
	for i, m := range members {
		nh, err := util.ParseIPv6(m.Nexthop)
		if err != nil {
			vb.AddErrorf("member %d nexthop: %v", i, err)
			continue
		}
		src, err := util.ParseIPv6(m.Source)
		if err != nil {
			vb.AddErrorf("member %d seg_src: %v", i, err)
			continue
		}
		m.Nexthop, m.Source = nh.String(), src.String()
		if seen[m.nextHopKey()] {
			vb.AddErrorf("duplicate member %s", m.Nexthop)
			continue
		}
		seen[m.nextHopKey()] = true
		out = append(out, m)
	}
	if err := vb.Build(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetGroup creates a next-hop group or updates its members in place. The
// group handle never changes, so attached routes follow the new members.
func (p *PIC) SetGroup(ctx context.Context, index string, members []GroupMember) (err error) {
	log := util.WithTable(TableNextHopGroup, index)

	members, err = canonicalMembers(members)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var undo undoStack
	defer func() {
		if err != nil {
			undo.unwind()
		}
	}()

	g, exists := p.groups[index]
	if !exists {
		oid, err := p.store.Create(ctx, sai.ObjectTypeNextHopGroup, sai.Attributes{
			sai.AttrNextHopGroupType: sai.NextHopGroupTypeECMP,
		})
		if err != nil {
			return fmt.Errorf("creating next-hop group %s: %w", index, err)
		}
		undo.push(func() { _ = p.store.Remove(ctx, sai.ObjectTypeNextHopGroup, oid) })
		g = &nextHopGroup{oid: oid, members: make(map[SRv6NextHopKey]string)}
	}

	wanted := make(map[SRv6NextHopKey]bool, len(members))
	added := make(map[SRv6NextHopKey]string)
	for _, m := range members {
		key := m.nextHopKey()
		wanted[key] = true
		if _, ok := g.members[key]; ok {
			continue
		}
		memberOID, err := p.addMemberLocked(ctx, g.oid, key, &undo)
		if err != nil {
			return fmt.Errorf("next-hop group %s: %w", index, err)
		}
		added[key] = memberOID
	}
	undo.commit()

	for key, memberOID := range added {
		g.members[key] = memberOID
	}
	g.order = members
	if !exists {
		p.groups[index] = g
		log.WithField("oid", g.oid).Infof("Created next-hop group with %d member(s)", len(members))
	}

	// New members are live; drop the ones no longer wanted.
	var errs []error
	for key, memberOID := range g.members {
		if wanted[key] {
			continue
		}
		if err := p.removeMemberLocked(ctx, key, memberOID); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(g.members, key)
	}
	if len(errs) > 0 {
		return fmt.Errorf("next-hop group %s: removing members: %v", index, errs)
	}
	if exists {
		log.Infof("Updated next-hop group: %d member(s)", len(g.members))
	}
	return nil
}

func (p *PIC) addMemberLocked(ctx context.Context, groupOID string, key SRv6NextHopKey, undo *undoStack) (string, error) {
	nhOID, err := p.resources.AcquireSRv6(ctx, key)
	if err != nil {
		return "", err
	}
	undo.push(func() { _ = p.resources.ReleaseSRv6(ctx, key) })

	memberOID, err := p.store.Create(ctx, sai.ObjectTypeNextHopGroupMember, sai.Attributes{
		sai.AttrNextHopGroupMemberGroup:   groupOID,
		sai.AttrNextHopGroupMemberNextHop: nhOID,
	})
	if err != nil {
		return "", fmt.Errorf("creating member %s: %w", key, err)
	}
	undo.push(func() { _ = p.store.Remove(ctx, sai.ObjectTypeNextHopGroupMember, memberOID) })
	return memberOID, nil
}

func (p *PIC) removeMemberLocked(ctx context.Context, key SRv6NextHopKey, memberOID string) error {
	if err := p.store.Remove(ctx, sai.ObjectTypeNextHopGroupMember, memberOID); err != nil {
		return fmt.Errorf("removing member %s: %w", key, err)
	}
	if err := p.resources.ReleaseSRv6(ctx, key); err != nil {
		util.WithObject(string(sai.ObjectTypeNextHop), key.String()).Errorf("releasing next hop: %v", err)
	}
	return nil
}

// RemoveGroup deletes a next-hop group. Groups attached to routes are kept
// and an InUseError is returned.
func (p *PIC) RemoveGroup(ctx context.Context, index string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.groups[index]
	if !ok {
		return util.NewNotFoundError("next-hop group", index)
	}
	if g.refs > 0 {
		return util.NewInUseError("next-hop group "+index, fmt.Sprintf("%d route(s)", g.refs))
	}
	for key, memberOID := range g.members {
		if err := p.removeMemberLocked(ctx, key, memberOID); err != nil {
			return fmt.Errorf("next-hop group %s: %w", index, err)
		}
		delete(g.members, key)
	}
	if err := p.store.Remove(ctx, sai.ObjectTypeNextHopGroup, g.oid); err != nil {
		return fmt.Errorf("removing next-hop group %s: %w", index, err)
	}
	delete(p.groups, index)
	util.WithTable(TableNextHopGroup, index).Info("Removed next-hop group")
	return nil
}

func canonicalPICEntries(entries []PICEntry) ([]PICEntry, error) {
	if len(entries) == 0 {
		return nil, util.NewValidationError("PIC context must have at least one entry")
	}
	vb := &util.ValidationBuilder{}
	seen := make(map[string]bool)
	out := make([]PICEntry, 0, len(entries))
	for i, e := range entries {
		nh, err := util.ParseIPv6(e.Nexthop)
		if err != nil {
			vb.AddErrorf("entry %d nexthop: %v", i, err)
			continue
		}
		sid, err := util.ParseIPv6(e.VPNSID)
		if err != nil {
			vb.AddErrorf("entry %d vpn_sid: %v", i, err)
			continue
		}
		if seen[nh.String()] {
			vb.AddErrorf("duplicate nexthop %s", nh)
			continue
		}
		seen[nh.String()] = true
		out = append(out, PICEntry{Nexthop: nh.String(), VPNSID: sid.String()})
	}
	if err := vb.Build(); err != nil {
		return nil, err
	}
	return out, nil
}

func samePICEntries(a, b []PICEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetContext creates a PIC context: one prefix aggregation ID shared by a
// tunnel map entry per (nexthop, VPN SID) pair. A context cannot be changed
// once created; re-sending identical content is a no-op.
func (p *PIC) SetContext(ctx context.Context, index string, entries []PICEntry) (err error) {
	log := util.WithTable(TablePICContext, index)

	entries, err = canonicalPICEntries(entries)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.contexts[index]; ok {
		if samePICEntries(cur.entries, entries) {
			return nil
		}
		return util.NewPreconditionError("update", "PIC context "+index,
			"context content is immutable", "remove and re-create it")
	}

	var undo undoStack
	defer func() {
		if err != nil {
			undo.unwind()
		}
	}()

	aggID, err := p.aggIDs.alloc()
	if err != nil {
		return err
	}
	undo.push(func() { p.aggIDs.free(aggID) })

	pc := &picContext{entries: entries, aggID: aggID}
	for _, e := range entries {
		key := MapEntryKey{Endpoint: e.Nexthop, VPNSID: e.VPNSID, AggID: aggID}
		if _, err := p.resources.AcquireMapEntry(ctx, key); err != nil {
			return fmt.Errorf("PIC context %s: %w", index, err)
		}
		undo.push(func() { _ = p.resources.ReleaseMapEntry(ctx, key) })
		pc.mapKeys = append(pc.mapKeys, key)
	}
	p.contexts[index] = pc
	log.WithField("agg_id", aggID).Infof("Created PIC context with %d entr(ies)", len(entries))
	return nil
}

// RemoveContext deletes a PIC context. Contexts attached to routes are kept
// and an InUseError is returned.
func (p *PIC) RemoveContext(ctx context.Context, index string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.contexts[index]
	if !ok {
		return util.NewNotFoundError("PIC context", index)
	}
	if pc.refs > 0 {
		return util.NewInUseError("PIC context "+index, fmt.Sprintf("%d route(s)", pc.refs))
	}
	for len(pc.mapKeys) > 0 {
		key := pc.mapKeys[0]
		if err := p.resources.ReleaseMapEntry(ctx, key); err != nil {
			return fmt.Errorf("PIC context %s: %w", index, err)
		}
		pc.mapKeys = pc.mapKeys[1:]
	}
	p.aggIDs.free(pc.aggID)
	delete(p.contexts, index)
	util.WithTable(TablePICContext, index).Info("Removed PIC context")
	return nil
}

// attach takes a route reference on a group and a context and returns the
// group handle and the context's aggregation ID.
func (p *PIC) attach(group, ctxIndex string) (string, uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.groups[group]
	if !ok {
		return "", 0, util.NewDependencyError("route", "next-hop group", group)
	}
	pc, ok := p.contexts[ctxIndex]
	if !ok {
		return "", 0, util.NewDependencyError("route", "PIC context", ctxIndex)
	}
	g.refs++
	pc.refs++
	return g.oid, pc.aggID, nil
}

func (p *PIC) detach(group, ctxIndex string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.groups[group]; ok && g.refs > 0 {
		g.refs--
	}
	if pc, ok := p.contexts[ctxIndex]; ok && pc.refs > 0 {
		pc.refs--
	}
}

// GroupRefs returns the number of routes attached to a next-hop group.
func (p *PIC) GroupRefs(index string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.groups[index]; ok {
		return g.refs
	}
	return 0
}

// ContextAggID returns the prefix aggregation ID of a PIC context.
func (p *PIC) ContextAggID(index string) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pc, ok := p.contexts[index]; ok {
		return pc.aggID, true
	}
	return 0, false
}
