package srv6

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/util"
)

// sidListTypes maps SRV6_SID_LIST_TABLE "type" values to SAI list types.
// Anything not listed, including malformed values, is encaps-reduced.
var sidListTypes = map[string]string{
	"insert.red": sai.SIDListTypeInsertRed,
	"encaps.red": sai.SIDListTypeEncapsRed,
}

func sidListType(s string) string {
	if t, ok := sidListTypes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return sai.SIDListTypeEncapsRed
}

// SegmentList is a named, ordered list of IPv6 segments.
type SegmentList struct {
	Name     string
	Segments []string
	Type     string
	OID      string

	refs int
}

// payload returns the SAI segment list encoding "N:s1,...,sN".
func (l *SegmentList) payload() string {
	return fmt.Sprintf("%d:%s", len(l.Segments), strings.Join(l.Segments, ","))
}

// SegmentLists owns SRV6_SID_LIST_TABLE and one SAI SID list per entry.
type SegmentLists struct {
	mu    sync.Mutex
	store sai.Store
	lists map[string]*SegmentList
}

func newSegmentLists(store sai.Store) *SegmentLists {
	return &SegmentLists{store: store, lists: make(map[string]*SegmentList)}
}

// Upsert creates the named list or rewrites the segments of an existing one
// in place, keeping its handle so next hops built on it stay valid. The type
// cannot change once the list exists.
func (s *SegmentLists) Upsert(ctx context.Context, name string, segments []string, typ string) error {
	log := util.WithTable(TableSIDList, name)

	if name == "" {
		return util.NewValidationError("segment list name is required")
	}
	canon, err := canonicalSegments(segments)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	want := &SegmentList{Name: name, Segments: canon, Type: sidListType(typ)}

	if cur, ok := s.lists[name]; ok {
		if cur.Type != want.Type {
			return util.NewPreconditionError("update", "segment list "+name,
				"type is fixed at creation", fmt.Sprintf("have %s, got %s", cur.Type, want.Type))
		}
		if cur.payload() == want.payload() {
			return nil
		}
		if err := s.store.Set(ctx, sai.ObjectTypeSRv6SIDList, cur.OID, sai.Attributes{
			sai.AttrSIDListSegmentList: want.payload(),
		}); err != nil {
			return fmt.Errorf("updating segment list %s: %w", name, err)
		}
		cur.Segments = canon
		log.Infof("Updated segment list %s", want.payload())
		return nil
	}

	oid, err := s.store.Create(ctx, sai.ObjectTypeSRv6SIDList, sai.Attributes{
		sai.AttrSIDListType:        want.Type,
		sai.AttrSIDListSegmentList: want.payload(),
	})
	if err != nil {
		return fmt.Errorf("creating segment list %s: %w", name, err)
	}
	want.OID = oid
	s.lists[name] = want
	log.WithField("oid", oid).Infof("Created segment list %s", want.payload())
	return nil
}

// Remove deletes the named list. Lists still used by next hops are kept and
// an InUseError is returned.
func (s *SegmentLists) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.lists[name]
	if !ok {
		return util.NewNotFoundError("segment list", name)
	}
	if cur.refs > 0 {
		return util.NewInUseError("segment list "+name, fmt.Sprintf("%d next hop(s)", cur.refs))
	}
	if err := s.store.Remove(ctx, sai.ObjectTypeSRv6SIDList, cur.OID); err != nil {
		return fmt.Errorf("removing segment list %s: %w", name, err)
	}
	delete(s.lists, name)
	util.WithTable(TableSIDList, name).Info("Removed segment list")
	return nil
}

// Get returns a copy of the named list.
func (s *SegmentLists) Get(name string) (SegmentList, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.lists[name]
	if !ok {
		return SegmentList{}, false
	}
	c := *cur
	c.Segments = append([]string(nil), cur.Segments...)
	return c, true
}

// Len returns the number of segment lists.
func (s *SegmentLists) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists)
}

// acquire takes a reference on the named list and returns its handle.
func (s *SegmentLists) acquire(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.lists[name]
	if !ok {
		return "", util.NewDependencyError("next hop", "segment list", name)
	}
	cur.refs++
	return cur.OID, nil
}

func (s *SegmentLists) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.lists[name]; ok && cur.refs > 0 {
		cur.refs--
	}
}

func canonicalSegments(segments []string) ([]string, error) {
	if len(segments) == 0 {
		return nil, util.NewValidationError("segment list must not be empty")
	}
	vb := &util.ValidationBuilder{}
	canon := make([]string, 0, len(segments))
	for _, seg := range segments {
		addr, err := util.ParseIPv6(seg)
		if err != nil {
			vb.AddError(err.Error())
			continue
		}
		canon = append(canon, addr.String())
	}
	if err := vb.Build(); err != nil {
		return nil, err
	}
	return canon, nil
}
