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

type endpointBehavior struct {
	code     string
	flavor   string
	needsVRF bool
	needsAdj bool
}

var endpointBehaviors = map[string]endpointBehavior{
	"end":      {code: "E"},
	"end.x":    {code: "X", flavor: sai.MySIDFlavorPSPAndUSP, needsAdj: true},
	"end.t":    {code: "T", needsVRF: true},
	"end.dx4":  {code: "DX4", flavor: sai.MySIDFlavorPSPAndUSD, needsAdj: true},
	"end.dx6":  {code: "DX6", flavor: sai.MySIDFlavorPSPAndUSD, needsAdj: true},
	"end.dt4":  {code: "DT4", needsVRF: true},
	"end.dt6":  {code: "DT6", needsVRF: true},
	"end.dt46": {code: "DT46", needsVRF: true},
	"un":       {code: "UN", flavor: sai.MySIDFlavorPSPAndUSD},
	"ua":       {code: "UA", flavor: sai.MySIDFlavorPSPAndUSD, needsAdj: true},
	"udx4":     {code: "DX4", flavor: sai.MySIDFlavorPSPAndUSD, needsAdj: true},
	"udx6":     {code: "DX6", flavor: sai.MySIDFlavorPSPAndUSD, needsAdj: true},
	"udt4":     {code: "DT4", needsVRF: true},
	"udt6":     {code: "DT6", needsVRF: true},
	"udt46":    {code: "DT46", needsVRF: true},
}

// LocalSIDConfig is the content of an SRV6_MY_SID_TABLE entry.
type LocalSIDConfig struct {
	Action string
	VRF    string
	Adj    []string
	Ifname []string
}

// sidIntent is the normalized form of a LocalSIDConfig. Two configs with
// equal intents program identical hardware.
type sidIntent struct {
	behavior endpointBehavior
	vrf      string
	adj      NeighborKey
}

func (c LocalSIDConfig) intent() (sidIntent, error) {
	action := strings.ToLower(strings.TrimSpace(c.Action))
	b, ok := endpointBehaviors[action]
	if !ok {
		if strings.HasPrefix(action, "end.b6") {
			return sidIntent{}, util.NewValidationError(fmt.Sprintf("action %q is not supported", c.Action))
		}
		return sidIntent{}, util.NewValidationError(fmt.Sprintf("unknown action %q", c.Action))
	}
	in := sidIntent{behavior: b}

	if b.needsVRF {
		in.vrf = c.VRF
		if isDefaultVRF(in.vrf) {
			in.vrf = "default"
		}
	}

	if b.needsAdj {
		switch {
		case len(c.Adj) == 0:
			return sidIntent{}, util.NewValidationError(fmt.Sprintf("action %s requires adj", action))
		case len(c.Adj) > 1:
			return sidIntent{}, util.NewValidationError("ECMP adjacency is not supported")
		case len(c.Ifname) > 0 && len(c.Ifname) != len(c.Adj):
			return sidIntent{}, util.NewValidationError(fmt.Sprintf(
				"inconsistent number of adj (%d) and ifname (%d)", len(c.Adj), len(c.Ifname)))
		}
		addr, err := util.ParseIP(c.Adj[0])
		if err != nil {
			return sidIntent{}, util.NewValidationError(err.Error())
		}
		in.adj = NeighborKey{IP: addr.String()}
		if len(c.Ifname) > 0 {
			in.adj.Interface = c.Ifname[0]
		}
	}
	return in, nil
}

type localSID struct {
	key       LocalSIDKey
	intent    sidIntent
	installed bool
	entryKey  string
	adj       Adjacency
}

// LocalSIDs owns SRV6_MY_SID_TABLE. Entries that need an adjacency whose
// neighbor is not resolved are parked and installed on the resolution event.
type LocalSIDs struct {
	mu        sync.Mutex
	store     sai.Store
	resources *Resources
	vrfs      *vrfRegistry
	entries   map[LocalSIDKey]*localSID
	pending   map[NeighborKey]map[LocalSIDKey]struct{}
}

func newLocalSIDs(store sai.Store, resources *Resources, vrfs *vrfRegistry) *LocalSIDs {
	return &LocalSIDs{
		store:     store,
		resources: resources,
		vrfs:      vrfs,
		entries:   make(map[LocalSIDKey]*localSID),
		pending:   make(map[NeighborKey]map[LocalSIDKey]struct{}),
	}
}

// Set creates or updates a local SID. Changing only the VRF or adjacency of
// an installed entry updates it in place; changing its behavior re-creates it.
func (s *LocalSIDs) Set(ctx context.Context, key LocalSIDKey, cfg LocalSIDConfig) error {
	log := util.WithTable(TableMySID, key.String())

	in, err := cfg.intent()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.entries[key]
	if exists && cur.intent == in {
		return nil
	}

	if exists && cur.installed && cur.intent.behavior == in.behavior {
		updated, err := s.updateLocked(ctx, cur, in)
		if err != nil {
			return err
		}
		if updated {
			log.Info("Updated local SID")
			return nil
		}
	}

	if exists {
		if err := s.discardLocked(ctx, cur); err != nil {
			return err
		}
	}

	e := &localSID{key: key, intent: in}
	installed, err := s.installLocked(ctx, e)
	if err != nil {
		return err
	}
	s.entries[key] = e
	if !installed {
		s.parkLocked(e)
		log.Infof("Local SID waiting for neighbor %s", in.adj)
		return nil
	}
	log.Infof("Installed local SID behavior %s", in.behavior.code)
	return nil
}

// Remove deletes a local SID, releasing its next hop and VRF.
func (s *LocalSIDs) Remove(ctx context.Context, key LocalSIDKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return util.NewNotFoundError("local SID", key.String())
	}
	if err := s.discardLocked(ctx, e); err != nil {
		return err
	}
	util.WithTable(TableMySID, key.String()).Info("Removed local SID")
	return nil
}

// OnNeighbor installs parked entries waiting for a resolved neighbor, or
// uninstalls and parks entries using a withdrawn one. Parked entries without
// an interface then retry the remaining neighbors with the same IP. The
// neighbor table must already reflect upd. Failures on individual entries
// do not stop the others.
func (s *LocalSIDs) OnNeighbor(ctx context.Context, upd NeighborUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if upd.Withdrawn {
		for _, k := range s.sortedKeysLocked() {
			e := s.entries[k]
			if !e.installed || !e.intent.behavior.needsAdj || e.adj.Key != upd.Key {
				continue
			}
			if err := s.uninstallLocked(ctx, e); err != nil {
				errs = append(errs, fmt.Errorf("local SID %s: %w", k, err))
				continue
			}
			s.parkLocked(e)
			util.WithTable(TableMySID, k.String()).Infof("Neighbor %s withdrawn, local SID parked", upd.Key)
		}
		errs = append(errs, s.resolvePendingLocked(ctx, upd.Key.anyInterface()))
		return errors.Join(errs...)
	}
	return s.resolvePendingLocked(ctx, upd.Key, upd.Key.anyInterface())
}

func (s *LocalSIDs) resolvePendingLocked(ctx context.Context, keys ...NeighborKey) error {
	seen := make(map[LocalSIDKey]bool)
	var waiting []LocalSIDKey
	for _, nk := range keys {
		for k := range s.pending[nk] {
			if !seen[k] {
				seen[k] = true
				waiting = append(waiting, k)
			}
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].String() < waiting[j].String() })

	var errs []error
	for _, k := range waiting {
		e := s.entries[k]
		installed, err := s.installLocked(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("local SID %s: %w", k, err))
			continue
		}
		if installed {
			s.unparkLocked(e)
			util.WithTable(TableMySID, k.String()).Infof("Neighbor %s resolved, installed local SID", e.adj.Key)
		}
	}
	return errors.Join(errs...)
}

// Pending returns the number of entries waiting for a neighbor.
func (s *LocalSIDs) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if !e.installed {
			n++
		}
	}
	return n
}

// Installed reports whether key exists and is programmed in the ASIC.
func (s *LocalSIDs) Installed(key LocalSIDKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && e.installed
}

func (s *LocalSIDs) sortedKeysLocked() []LocalSIDKey {
	keys := make([]LocalSIDKey, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (s *LocalSIDs) entryKey(key LocalSIDKey) string {
	return sai.MySIDEntryKey{
		ArgsLen:         strconv.Itoa(int(key.ArgLen)),
		FunctionLen:     strconv.Itoa(int(key.FuncLen)),
		LocatorBlockLen: strconv.Itoa(int(key.BlockLen)),
		LocatorNodeLen:  strconv.Itoa(int(key.NodeLen)),
		SID:             key.SID.String(),
		SwitchID:        s.store.SwitchID(),
		VRID:            s.store.DefaultVirtualRouter(),
	}.String()
}

// acquireDepsLocked takes the VRF and adjacency an intent needs. ok is
// false when the adjacency is unresolved; nothing is held in that case.
func (s *LocalSIDs) acquireDepsLocked(ctx context.Context, in sidIntent, undo *undoStack) (attrs sai.Attributes, adj Adjacency, ok bool, err error) {
	attrs = sai.Attributes{}
	if in.behavior.needsVRF {
		vr, err := s.vrfs.acquire(ctx, in.vrf)
		if err != nil {
			return nil, Adjacency{}, false, err
		}
		undo.push(func() { _ = s.vrfs.release(ctx, in.vrf) })
		attrs[sai.AttrMySIDVRF] = vr
	}
	if in.behavior.needsAdj {
		adj, ok, err = s.resources.AcquireAdjacency(ctx, in.adj)
		if err != nil || !ok {
			return nil, Adjacency{}, false, err
		}
		undo.push(func() { _ = s.resources.ReleaseAdjacency(ctx, adj.Key) })
		attrs[sai.AttrMySIDNextHop] = adj.OID
	}
	return attrs, adj, true, nil
}

func (s *LocalSIDs) installLocked(ctx context.Context, e *localSID) (installed bool, err error) {
	var undo undoStack
	defer func() {
		if err != nil || !installed {
			undo.unwind()
		}
	}()

	attrs, adj, ok, err := s.acquireDepsLocked(ctx, e.intent, &undo)
	if err != nil || !ok {
		return false, err
	}
	attrs[sai.AttrMySIDBehavior] = sai.MySIDBehavior(e.intent.behavior.code)
	if e.intent.behavior.flavor != "" {
		attrs[sai.AttrMySIDFlavor] = e.intent.behavior.flavor
	}

	entryKey := s.entryKey(e.key)
	if err := s.store.CreateEntry(ctx, sai.ObjectTypeMySIDEntry, entryKey, attrs); err != nil {
		return false, fmt.Errorf("creating my-sid entry %s: %w", e.key, err)
	}
	e.installed = true
	e.entryKey = entryKey
	e.adj = adj
	return true, nil
}

// updateLocked swaps the VRF and adjacency of an installed entry in one
// attribute set. It returns false without changes when the new adjacency is
// unresolved.
func (s *LocalSIDs) updateLocked(ctx context.Context, e *localSID, in sidIntent) (updated bool, err error) {
	var undo undoStack
	defer func() {
		if err != nil || !updated {
			undo.unwind()
		}
	}()

	attrs, adj, ok, err := s.acquireDepsLocked(ctx, in, &undo)
	if err != nil || !ok {
		return false, err
	}
	if len(attrs) > 0 {
		if err := s.store.Set(ctx, sai.ObjectTypeMySIDEntry, e.entryKey, attrs); err != nil {
			return false, fmt.Errorf("updating my-sid entry %s: %w", e.key, err)
		}
	}

	old := *e
	e.intent = in
	e.adj = adj
	s.releaseDeps(ctx, &old)
	return true, nil
}

func (s *LocalSIDs) releaseDeps(ctx context.Context, e *localSID) {
	log := util.WithTable(TableMySID, e.key.String())
	if e.intent.behavior.needsVRF {
		if err := s.vrfs.release(ctx, e.intent.vrf); err != nil {
			log.Errorf("releasing VRF: %v", err)
		}
	}
	if e.intent.behavior.needsAdj && e.adj.OID != "" {
		if err := s.resources.ReleaseAdjacency(ctx, e.adj.Key); err != nil {
			log.Errorf("releasing adjacency: %v", err)
		}
	}
}

func (s *LocalSIDs) uninstallLocked(ctx context.Context, e *localSID) error {
	if err := s.store.Remove(ctx, sai.ObjectTypeMySIDEntry, e.entryKey); err != nil {
		return fmt.Errorf("removing my-sid entry %s: %w", e.key, err)
	}
	s.releaseDeps(ctx, e)
	e.installed = false
	e.entryKey = ""
	e.adj = Adjacency{}
	return nil
}

// discardLocked removes an entry whether installed or parked.
func (s *LocalSIDs) discardLocked(ctx context.Context, e *localSID) error {
	if e.installed {
		if err := s.uninstallLocked(ctx, e); err != nil {
			return err
		}
	} else {
		s.unparkLocked(e)
	}
	delete(s.entries, e.key)
	return nil
}

func (s *LocalSIDs) parkLocked(e *localSID) {
	set, ok := s.pending[e.intent.adj]
	if !ok {
		set = make(map[LocalSIDKey]struct{})
		s.pending[e.intent.adj] = set
	}
	set[e.key] = struct{}{}
}

func (s *LocalSIDs) unparkLocked(e *localSID) {
	if set, ok := s.pending[e.intent.adj]; ok {
		delete(set, e.key)
		if len(set) == 0 {
			delete(s.pending, e.intent.adj)
		}
	}
}
