package srv6

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

const (
	srcA      = "2001:db8::1"
	endpointB = "2001:db8::2"
	endpointC = "2001:db8::3"
)

func newTestOrch(t *testing.T, cfg Config) (*Orch, *sai.MemStore) {
	t.Helper()
	store := sai.NewMemStore()
	o, err := NewOrch(store, cfg)
	if err != nil {
		t.Fatalf("NewOrch() error = %v", err)
	}
	return o, store
}

func setTask(table, key string, fields map[string]string) Task {
	return Task{Table: table, Op: OpSet, Key: key, Fields: fields}
}

func delTask(table, key string) Task {
	return Task{Table: table, Op: OpDel, Key: key}
}

func mustApply(t *testing.T, o *Orch, tasks ...Task) {
	t.Helper()
	for _, task := range tasks {
		if err := o.Apply(context.Background(), task); err != nil {
			t.Fatalf("Apply(%s) error = %v", task, err)
		}
	}
}

func objects(s *sai.MemStore, typ sai.ObjectType) map[string]sai.Attributes {
	return s.Snapshot()[typ]
}

// only returns the single object of a type, failing if there is not
// exactly one.
func only(t *testing.T, s *sai.MemStore, typ sai.ObjectType) (string, sai.Attributes) {
	t.Helper()
	objs := objects(s, typ)
	if len(objs) != 1 {
		t.Fatalf("%s count = %d, want 1", typ, len(objs))
	}
	for id, attrs := range objs {
		return id, attrs
	}
	return "", nil
}

func wantCount(t *testing.T, s *sai.MemStore, typ sai.ObjectType, want int) {
	t.Helper()
	if got := s.Count(typ); got != want {
		t.Errorf("%s count = %d, want %d", typ, got, want)
	}
}

// recordingStore records mutations of route entries.
type recordingStore struct {
	sai.Store
	routeWrites []sai.Attributes
}

func (r *recordingStore) CreateEntry(ctx context.Context, t sai.ObjectType, key string, attrs sai.Attributes) error {
	if t == sai.ObjectTypeRouteEntry {
		r.routeWrites = append(r.routeWrites, attrs.Clone())
	}
	return r.Store.CreateEntry(ctx, t, key, attrs)
}

func (r *recordingStore) Set(ctx context.Context, t sai.ObjectType, id string, attrs sai.Attributes) error {
	if t == sai.ObjectTypeRouteEntry {
		r.routeWrites = append(r.routeWrites, attrs.Clone())
	}
	return r.Store.Set(ctx, t, id, attrs)
}
