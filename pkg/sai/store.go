package sai

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/newtron-network/srv6orch/pkg/util"
)

// ErrObjectNotFound is returned for operations on an unknown handle.
var ErrObjectNotFound = fmt.Errorf("asic object %w", util.ErrNotFound)

// Store is the ASIC object store. OID-addressed objects are created with
// Create; route and my-sid entries are created with CreateEntry under a
// caller-built key. Every method is atomic with respect to other callers.
type Store interface {
	// SwitchID returns the switch OID used in entry keys.
	SwitchID() string
	// DefaultVirtualRouter returns the OID of the default virtual router.
	DefaultVirtualRouter() string

	Create(ctx context.Context, t ObjectType, attrs Attributes) (string, error)
	CreateEntry(ctx context.Context, t ObjectType, key string, attrs Attributes) error
	Get(ctx context.Context, t ObjectType, id string) (Attributes, error)
	// Set writes every given attribute in one step. An empty value removes
	// the attribute.
	Set(ctx context.Context, t ObjectType, id string, attrs Attributes) error
	Remove(ctx context.Context, t ObjectType, id string) error
	List(ctx context.Context, t ObjectType) ([]string, error)
}

// Op names a mutating store operation for fault injection.
type Op string

const (
	OpCreate Op = "create"
	OpSet    Op = "set"
	OpRemove Op = "remove"
)

type fault struct {
	op  Op
	t   ObjectType
	err error
}

// Snapshot is a deep copy of store contents: type -> id -> attributes.
type Snapshot map[ObjectType]map[string]Attributes

// MemStore is an in-memory Store. It is safe for concurrent use.
type MemStore struct {
	mu        sync.Mutex
	switchID  string
	defaultVR string
	next      uint64
	objects   map[ObjectType]map[string]Attributes
	faults    []fault
}

// NewMemStore returns a store pre-populated with a switch and its default
// virtual router, as ASIC_DB is after syncd initialisation.
func NewMemStore() *MemStore {
	s := &MemStore{
		next:    0x1000,
		objects: make(map[ObjectType]map[string]Attributes),
	}
	s.defaultVR = s.allocOID()
	s.switchID = s.allocOID()
	s.put(ObjectTypeVirtualRouter, s.defaultVR, Attributes{})
	s.put(ObjectTypeSwitch, s.switchID, Attributes{AttrSwitchDefaultVirtualRouter: s.defaultVR})
	return s
}

func (s *MemStore) SwitchID() string             { return s.switchID }
func (s *MemStore) DefaultVirtualRouter() string { return s.defaultVR }

// FailNext makes the next op on an object of type t fail with err.
// Faults are consumed in the order they were registered.
func (s *MemStore) FailNext(op Op, t ObjectType, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{op: op, t: t, err: err})
}

func (s *MemStore) takeFault(op Op, t ObjectType) error {
	for i, f := range s.faults {
		if f.op == op && f.t == t {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
			return f.err
		}
	}
	return nil
}

func (s *MemStore) allocOID() string {
	id := fmt.Sprintf("oid:0x%x", s.next)
	s.next++
	return id
}

func (s *MemStore) put(t ObjectType, id string, attrs Attributes) {
	m, ok := s.objects[t]
	if !ok {
		m = make(map[string]Attributes)
		s.objects[t] = m
	}
	m[id] = attrs.Clone()
	if m[id] == nil {
		m[id] = Attributes{}
	}
}

func (s *MemStore) Create(ctx context.Context, t ObjectType, attrs Attributes) (string, error) {
	if t.IsEntry() {
		return "", fmt.Errorf("%s requires an entry key", t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFault(OpCreate, t); err != nil {
		return "", err
	}
	id := s.allocOID()
	s.put(t, id, attrs)
	return id, nil
}

func (s *MemStore) CreateEntry(ctx context.Context, t ObjectType, key string, attrs Attributes) error {
	if !t.IsEntry() {
		return fmt.Errorf("%s is not an entry type", t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFault(OpCreate, t); err != nil {
		return err
	}
	if _, ok := s.objects[t][key]; ok {
		return fmt.Errorf("%s %s: %w", t, key, util.ErrAlreadyExists)
	}
	s.put(t, key, attrs)
	return nil
}

func (s *MemStore) Get(ctx context.Context, t ObjectType, id string) (Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.objects[t][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", t, id, ErrObjectNotFound)
	}
	return attrs.Clone(), nil
}

func (s *MemStore) Set(ctx context.Context, t ObjectType, id string, attrs Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFault(OpSet, t); err != nil {
		return err
	}
	cur, ok := s.objects[t][id]
	if !ok {
		return fmt.Errorf("%s %s: %w", t, id, ErrObjectNotFound)
	}
	for k, v := range attrs {
		if v == "" {
			delete(cur, k)
		} else {
			cur[k] = v
		}
	}
	return nil
}

func (s *MemStore) Remove(ctx context.Context, t ObjectType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFault(OpRemove, t); err != nil {
		return err
	}
	if _, ok := s.objects[t][id]; !ok {
		return fmt.Errorf("%s %s: %w", t, id, ErrObjectNotFound)
	}
	delete(s.objects[t], id)
	return nil
}

func (s *MemStore) List(ctx context.Context, t ObjectType) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.objects[t]))
	for id := range s.objects[t] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of objects of type t.
func (s *MemStore) Count(t ObjectType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects[t])
}

// Snapshot returns a deep copy of the store. Types without objects are
// omitted so snapshots taken before and after a create/remove cycle compare
// equal.
func (s *MemStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(Snapshot, len(s.objects))
	for t, m := range s.objects {
		if len(m) == 0 {
			continue
		}
		c := make(map[string]Attributes, len(m))
		for id, attrs := range m {
			c[id] = attrs.Clone()
		}
		snap[t] = c
	}
	return snap
}

// CountObjects returns per-type object counts for any Store.
func CountObjects(ctx context.Context, s Store) (map[ObjectType]int, error) {
	counts := make(map[ObjectType]int, len(ObjectTypes))
	for _, t := range ObjectTypes {
		ids, err := s.List(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", t, err)
		}
		counts[t] = len(ids)
	}
	return counts, nil
}
