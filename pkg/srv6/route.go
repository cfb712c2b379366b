package srv6

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/util"
)

// RouteConfig is the SRv6 subset of a ROUTE_TABLE entry.
type RouteConfig struct {
	Source       string // seg_src
	Segment      string // segment list name
	Nexthop      string
	VPNSID       string
	Ifname       string
	NextHopGroup string
	PICContext   string
}

// IsSRv6 reports whether the entry carries any SRv6 field. Other routes
// belong to the regular route pipeline.
func (c RouteConfig) IsSRv6() bool {
	return c.Source != "" || c.Segment != "" || c.VPNSID != "" || c.PICContext != ""
}

type bindingKind int

const (
	bindingEncap bindingKind = iota
	bindingVPN
	bindingVPNGroup
	bindingGroup
)

func (k bindingKind) String() string {
	switch k {
	case bindingEncap:
		return "encap"
	case bindingVPN:
		return "vpn"
	case bindingVPNGroup:
		return "vpn ecmp"
	case bindingGroup:
		return "pic"
	}
	return "unknown"
}

// vpnBinding identifies the prefix aggregation ID shared by single next-hop
// VPN routes that reach the same VPN SID through the same endpoint.
type vpnBinding struct {
	Endpoint string
	Source   string
	VPNSID   string
}

type vpnAgg struct {
	id     uint32
	mapKey MapEntryKey
	refs   int
}

// vpnMember is one path of a route listing several VPN next hops inline.
type vpnMember struct {
	nh     SRv6NextHopKey
	vpnSID string
}

func (m vpnMember) String() string {
	return m.nh.String() + "|" + m.vpnSID
}

// vpnGroup is the ECMP group and aggregation ID shared by routes with the
// same inline VPN member set.
type vpnGroup struct {
	oid        string
	members    []vpnMember
	memberOIDs []string
	aggID      uint32
	mapKeys    []MapEntryKey
	refs       int
}

// routeBinding is everything a route points at. Equal bindings program
// identical route entries.
type routeBinding struct {
	kind    bindingKind
	nh      SRv6NextHopKey
	vpn     vpnBinding
	members string // canonical member set of a vpn ecmp binding
	group   string
	context string
}

type route struct {
	key      RouteKey
	binding  routeBinding
	entryKey string
	nextHop  string
	aggID    uint32
}

// RouteState describes a programmed route.
type RouteState struct {
	EntryKey string
	NextHop  string
	AggID    uint32
}

// Routes owns the SRv6 routes of ROUTE_TABLE. It is the only writer of
// route entries.
type Routes struct {
	mu        sync.Mutex
	store     sai.Store
	cfg       Config
	resources *Resources
	pic       *PIC
	vrfs      *vrfRegistry
	aggIDs    *aggIDAllocator
	routes    map[RouteKey]*route
	vpnAggs   map[vpnBinding]*vpnAgg
	vpnGroups map[string]*vpnGroup
}

func newRoutes(store sai.Store, cfg Config, resources *Resources, pic *PIC, vrfs *vrfRegistry, aggIDs *aggIDAllocator) *Routes {
	return &Routes{
		store:     store,
		cfg:       cfg,
		resources: resources,
		pic:       pic,
		vrfs:      vrfs,
		aggIDs:    aggIDs,
		routes:    make(map[RouteKey]*route),
		vpnAggs:   make(map[vpnBinding]*vpnAgg),
		vpnGroups: make(map[string]*vpnGroup),
	}
}

// binding resolves a route config to what the route points at. Inline VPN
// ECMP routes also return their canonical members.
func (r *Routes) binding(cfg RouteConfig) (routeBinding, []vpnMember, error) {
	if cfg.NextHopGroup != "" || cfg.PICContext != "" {
		if cfg.NextHopGroup == "" || cfg.PICContext == "" {
			return routeBinding{}, nil, util.NewValidationError("nexthop_group and pic_context_id must be given together")
		}
		return routeBinding{kind: bindingGroup, group: cfg.NextHopGroup, context: cfg.PICContext}, nil, nil
	}

	sources := util.SplitCommaSeparated(cfg.Source)
	if len(sources) == 0 && r.cfg.EncapSource != "" {
		sources = []string{r.cfg.EncapSource}
	}
	if len(sources) == 0 {
		return routeBinding{}, nil, util.NewValidationError("seg_src is required")
	}

	if cfg.VPNSID == "" {
		if len(sources) > 1 {
			return routeBinding{}, nil, util.NewValidationError("seg_src: a list is only valid with vpn_sid")
		}
		src, err := util.ParseIPv6(sources[0])
		if err != nil {
			return routeBinding{}, nil, util.NewValidationError("seg_src: " + err.Error())
		}
		if cfg.Segment == "" {
			return routeBinding{}, nil, util.NewValidationError("segment is required")
		}
		return routeBinding{
			kind: bindingEncap,
			nh:   SRv6NextHopKey{Source: src.String(), SIDList: cfg.Segment},
		}, nil, nil
	}

	members, err := vpnMembers(cfg, sources)
	if err != nil {
		return routeBinding{}, nil, err
	}
	if len(members) == 1 {
		m := members[0]
		return routeBinding{
			kind: bindingVPN,
			nh:   m.nh,
			vpn:  vpnBinding{Endpoint: m.nh.Endpoint, Source: m.nh.Source, VPNSID: m.vpnSID},
		}, nil, nil
	}

	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.String()
	}
	return routeBinding{kind: bindingVPNGroup, members: strings.Join(names, ",")}, members, nil
}

// vpnMembers parses the parallel nexthop, vpn_sid, seg_src and segment
// lists of a VPN route. A single seg_src or segment applies to every
// nexthop. Members are returned sorted.
func vpnMembers(cfg RouteConfig, sources []string) ([]vpnMember, error) {
	nexthops := util.SplitCommaSeparated(cfg.Nexthop)
	if len(nexthops) == 0 || util.IsUnspecified(nexthops[0]) {
		return nil, util.NewValidationError("vpn_sid requires a nexthop")
	}
	n := len(nexthops)
	sids := util.SplitCommaSeparated(cfg.VPNSID)
	segments := util.SplitCommaSeparated(cfg.Segment)

	vb := &util.ValidationBuilder{}
	if len(sids) != n {
		vb.AddErrorf("vpn_sid: %d value(s) for %d nexthop(s)", len(sids), n)
	}
	if len(sources) != 1 && len(sources) != n {
		vb.AddErrorf("seg_src: %d value(s) for %d nexthop(s)", len(sources), n)
	}
	if len(segments) > 1 && len(segments) != n {
		vb.AddErrorf("segment: %d value(s) for %d nexthop(s)", len(segments), n)
	}
	if err := vb.Build(); err != nil {
		return nil, err
	}

	pick := func(list []string, i int) string {
		switch len(list) {
		case 0:
			return ""
		case 1:
			return list[0]
		}
		return list[i]
	}
	seen := make(map[SRv6NextHopKey]bool, n)
	members := make([]vpnMember, 0, n)
	for i := range nexthops {
		endpoint, err := util.ParseIPv6(nexthops[i])
		if err != nil {
			vb.AddErrorf("nexthop: %v", err)
			continue
		}
		sid, err := util.ParseIPv6(sids[i])
		if err != nil {
			vb.AddErrorf("vpn_sid: %v", err)
			continue
		}
		src, err := util.ParseIPv6(pick(sources, i))
		if err != nil {
			vb.AddErrorf("seg_src: %v", err)
			continue
		}
		nh := SRv6NextHopKey{Source: src.String(), Endpoint: endpoint.String(), SIDList: pick(segments, i)}
		if seen[nh] {
			vb.AddErrorf("duplicate nexthop %s", nh.Endpoint)
			continue
		}
		seen[nh] = true
		members = append(members, vpnMember{nh: nh, vpnSID: sid.String()})
	}
	if err := vb.Build(); err != nil {
		return nil, err
	}
	sort.Slice(members, func(i, j int) bool { return members[i].String() < members[j].String() })
	return members, nil
}

// Set programs or repoints a route. Routes without SRv6 fields are ignored,
// or removed when they were SRv6 routes before. A binding change builds the
// new resources, swaps next hop and aggregation ID in one attribute set and
// only then releases the old resources.
func (r *Routes) Set(ctx context.Context, key RouteKey, cfg RouteConfig) (err error) {
	log := util.WithTable(TableRoute, key.String())

	if !cfg.IsSRv6() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.routes[key]; ok {
			log.Info("Route is no longer SRv6, removing")
			return r.removeLocked(ctx, cur)
		}
		return nil
	}

	b, members, err := r.binding(cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.routes[key]
	if exists && cur.binding == b {
		return nil
	}

	var undo undoStack
	defer func() {
		if err != nil {
			undo.unwind()
		}
	}()

	nh, aggID, err := r.acquireLocked(ctx, b, members, &undo)
	if err != nil {
		return err
	}

	if !exists {
		vr, err := r.vrfs.acquire(ctx, key.VRF)
		if err != nil {
			return err
		}
		undo.push(func() { _ = r.vrfs.release(ctx, key.VRF) })

		entryKey := sai.RouteEntryKey{Dest: key.Prefix.String(), SwitchID: r.store.SwitchID(), VR: vr}.String()
		attrs := sai.Attributes{sai.AttrRouteNextHop: nh}
		if aggID != 0 {
			attrs[sai.AttrRoutePrefixAggID] = strconv.FormatUint(uint64(aggID), 10)
		}
		if err := r.store.CreateEntry(ctx, sai.ObjectTypeRouteEntry, entryKey, attrs); err != nil {
			return fmt.Errorf("creating route %s: %w", key, err)
		}
		undo.commit()
		r.routes[key] = &route{key: key, binding: b, entryKey: entryKey, nextHop: nh, aggID: aggID}
		log.WithField("agg_id", aggID).Infof("Created %s route", b.kind)
		return nil
	}

	attrs := sai.Attributes{sai.AttrRouteNextHop: nh, sai.AttrRoutePrefixAggID: ""}
	if aggID != 0 {
		attrs[sai.AttrRoutePrefixAggID] = strconv.FormatUint(uint64(aggID), 10)
	}
	if err := r.store.Set(ctx, sai.ObjectTypeRouteEntry, cur.entryKey, attrs); err != nil {
		return fmt.Errorf("updating route %s: %w", key, err)
	}
	undo.commit()

	old := cur.binding
	cur.binding, cur.nextHop, cur.aggID = b, nh, aggID
	if err := r.releaseLocked(ctx, old); err != nil {
		log.Errorf("releasing previous %s binding: %v", old.kind, err)
	}
	log.WithField("agg_id", aggID).Infof("Updated route %s -> %s", old.kind, b.kind)
	return nil
}

// Remove deletes the route entry first and then releases what it used.
func (r *Routes) Remove(ctx context.Context, key RouteKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.routes[key]
	if !ok {
		return util.NewNotFoundError("route", key.String())
	}
	return r.removeLocked(ctx, cur)
}

func (r *Routes) removeLocked(ctx context.Context, cur *route) error {
	log := util.WithTable(TableRoute, cur.key.String())
	if err := r.store.Remove(ctx, sai.ObjectTypeRouteEntry, cur.entryKey); err != nil {
		return fmt.Errorf("removing route %s: %w", cur.key, err)
	}
	delete(r.routes, cur.key)
	if err := r.releaseLocked(ctx, cur.binding); err != nil {
		log.Errorf("releasing %s binding: %v", cur.binding.kind, err)
	}
	if err := r.vrfs.release(ctx, cur.key.VRF); err != nil {
		log.Errorf("releasing VRF: %v", err)
	}
	log.Infof("Removed %s route", cur.binding.kind)
	return nil
}

func (r *Routes) acquireLocked(ctx context.Context, b routeBinding, members []vpnMember, undo *undoStack) (string, uint32, error) {
	switch b.kind {
	case bindingGroup:
		oid, aggID, err := r.pic.attach(b.group, b.context)
		if err != nil {
			return "", 0, err
		}
		undo.push(func() { r.pic.detach(b.group, b.context) })
		return oid, aggID, nil
	case bindingVPNGroup:
		g, err := r.acquireVPNGroupLocked(ctx, b.members, members)
		if err != nil {
			return "", 0, err
		}
		undo.push(func() { _ = r.releaseVPNGroupLocked(ctx, b.members) })
		return g.oid, g.aggID, nil
	}

	nh, err := r.resources.AcquireSRv6(ctx, b.nh)
	if err != nil {
		return "", 0, err
	}
	undo.push(func() { _ = r.resources.ReleaseSRv6(ctx, b.nh) })
	if b.kind == bindingEncap {
		return nh, 0, nil
	}

	aggID, err := r.acquireVPNLocked(ctx, b.vpn)
	if err != nil {
		return "", 0, err
	}
	undo.push(func() { _ = r.releaseVPNLocked(ctx, b.vpn) })
	return nh, aggID, nil
}

func (r *Routes) releaseLocked(ctx context.Context, b routeBinding) error {
	switch b.kind {
	case bindingGroup:
		r.pic.detach(b.group, b.context)
		return nil
	case bindingVPNGroup:
		return r.releaseVPNGroupLocked(ctx, b.members)
	case bindingVPN:
		if err := r.releaseVPNLocked(ctx, b.vpn); err != nil {
			return err
		}
	}
	return r.resources.ReleaseSRv6(ctx, b.nh)
}

func (r *Routes) acquireVPNLocked(ctx context.Context, b vpnBinding) (uint32, error) {
	if a, ok := r.vpnAggs[b]; ok {
		a.refs++
		return a.id, nil
	}
	id, err := r.aggIDs.alloc()
	if err != nil {
		return 0, err
	}
	key := MapEntryKey{Endpoint: b.Endpoint, VPNSID: b.VPNSID, AggID: id}
	if _, err := r.resources.AcquireMapEntry(ctx, key); err != nil {
		r.aggIDs.free(id)
		return 0, err
	}
	r.vpnAggs[b] = &vpnAgg{id: id, mapKey: key, refs: 1}
	return id, nil
}

func (r *Routes) releaseVPNLocked(ctx context.Context, b vpnBinding) error {
	a, ok := r.vpnAggs[b]
	if !ok {
		return nil
	}
	if a.refs > 0 {
		a.refs--
	}
	if a.refs > 0 {
		return nil
	}
	if err := r.resources.ReleaseMapEntry(ctx, a.mapKey); err != nil {
		return err
	}
	delete(r.vpnAggs, b)
	r.aggIDs.free(a.id)
	return nil
}

// acquireVPNGroupLocked takes a reference on the ECMP group for an inline
// VPN member set, building it on first use: one SRv6 next hop and group
// member per path, and one tunnel map entry per path under a shared
// aggregation ID.
func (r *Routes) acquireVPNGroupLocked(ctx context.Context, key string, members []vpnMember) (g *vpnGroup, err error) {
	if g, ok := r.vpnGroups[key]; ok {
		g.refs++
		return g, nil
	}

	var undo undoStack
	defer func() {
		if err != nil {
			undo.unwind()
		}
	}()

	oid, err := r.store.Create(ctx, sai.ObjectTypeNextHopGroup, sai.Attributes{
		sai.AttrNextHopGroupType: sai.NextHopGroupTypeECMP,
	})
	if err != nil {
		return nil, fmt.Errorf("creating VPN next-hop group: %w", err)
	}
	undo.push(func() { _ = r.store.Remove(ctx, sai.ObjectTypeNextHopGroup, oid) })

	aggID, err := r.aggIDs.alloc()
	if err != nil {
		return nil, err
	}
	undo.push(func() { r.aggIDs.free(aggID) })

	g = &vpnGroup{oid: oid, members: members, aggID: aggID, refs: 1}
	for _, m := range members {
		nhOID, err := r.resources.AcquireSRv6(ctx, m.nh)
		if err != nil {
			return nil, err
		}
		undo.push(func() { _ = r.resources.ReleaseSRv6(ctx, m.nh) })

		memberOID, err := r.store.Create(ctx, sai.ObjectTypeNextHopGroupMember, sai.Attributes{
			sai.AttrNextHopGroupMemberGroup:   oid,
			sai.AttrNextHopGroupMemberNextHop: nhOID,
		})
		if err != nil {
			return nil, fmt.Errorf("creating member %s: %w", m.nh, err)
		}
		undo.push(func() { _ = r.store.Remove(ctx, sai.ObjectTypeNextHopGroupMember, memberOID) })
		g.memberOIDs = append(g.memberOIDs, memberOID)

		mapKey := MapEntryKey{Endpoint: m.nh.Endpoint, VPNSID: m.vpnSID, AggID: aggID}
		if _, err := r.resources.AcquireMapEntry(ctx, mapKey); err != nil {
			return nil, err
		}
		undo.push(func() { _ = r.resources.ReleaseMapEntry(ctx, mapKey) })
		g.mapKeys = append(g.mapKeys, mapKey)
	}
	undo.commit()

	r.vpnGroups[key] = g
	util.WithObject(string(sai.ObjectTypeNextHopGroup), oid).
		WithField("agg_id", aggID).Infof("Created VPN next-hop group with %d member(s)", len(members))
	return g, nil
}

func (r *Routes) releaseVPNGroupLocked(ctx context.Context, key string) error {
	g, ok := r.vpnGroups[key]
	if !ok {
		return nil
	}
	if g.refs > 0 {
		g.refs--
	}
	if g.refs > 0 {
		return nil
	}

	var errs []error
	for len(g.memberOIDs) > 0 {
		m := g.members[0]
		if err := r.store.Remove(ctx, sai.ObjectTypeNextHopGroupMember, g.memberOIDs[0]); err != nil {
			return fmt.Errorf("removing member %s: %w", m.nh, err)
		}
		g.members, g.memberOIDs = g.members[1:], g.memberOIDs[1:]
		if err := r.resources.ReleaseSRv6(ctx, m.nh); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.store.Remove(ctx, sai.ObjectTypeNextHopGroup, g.oid); err != nil {
		return fmt.Errorf("removing VPN next-hop group: %w", err)
	}
	for _, mapKey := range g.mapKeys {
		if err := r.resources.ReleaseMapEntry(ctx, mapKey); err != nil {
			errs = append(errs, err)
		}
	}
	r.aggIDs.free(g.aggID)
	delete(r.vpnGroups, key)
	util.WithObject(string(sai.ObjectTypeNextHopGroup), g.oid).Info("Removed VPN next-hop group")
	return errors.Join(errs...)
}

// Get returns the programmed state of a route.
func (r *Routes) Get(key RouteKey) (RouteState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.routes[key]
	if !ok {
		return RouteState{}, false
	}
	return RouteState{EntryKey: cur.entryKey, NextHop: cur.nextHop, AggID: cur.aggID}, true
}

// Len returns the number of SRv6 routes.
func (r *Routes) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}
