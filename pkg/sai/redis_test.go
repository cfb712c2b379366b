//go:build integration

package sai

import (
	"errors"
	"testing"

	"github.com/newtron-network/srv6orch/internal/testutil"
)

func TestRedisStore(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.SeedAsicDB(t)
	ctx := testutil.Context(t)

	s := NewRedisStore(testutil.RedisAddr())
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	if s.SwitchID() != testutil.SwitchOID {
		t.Errorf("SwitchID() = %s, want %s", s.SwitchID(), testutil.SwitchOID)
	}
	if s.DefaultVirtualRouter() != testutil.DefaultVirtualRO {
		t.Errorf("DefaultVirtualRouter() = %s, want %s", s.DefaultVirtualRouter(), testutil.DefaultVirtualRO)
	}

	id, err := s.Create(ctx, ObjectTypeSRv6SIDList, Attributes{
		AttrSIDListType:        SIDListTypeEncapsRed,
		AttrSIDListSegmentList: "2:baba:2001:10::,baba:2001:20::",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	vals := testutil.ReadHash(t, testutil.AsicDB, "ASIC_STATE:SAI_OBJECT_TYPE_SRV6_SIDLIST:"+id)
	if vals[AttrSIDListSegmentList] != "2:baba:2001:10::,baba:2001:20::" {
		t.Errorf("segment list = %q", vals[AttrSIDListSegmentList])
	}

	if err := s.Set(ctx, ObjectTypeSRv6SIDList, id, Attributes{AttrSIDListType: ""}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(ctx, ObjectTypeSRv6SIDList, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, ok := got[AttrSIDListType]; ok {
		t.Error("empty value should remove the attribute")
	}

	vr, err := s.Create(ctx, ObjectTypeVirtualRouter, nil)
	if err != nil {
		t.Fatalf("Create(VR) error = %v", err)
	}
	attrs, err := s.Get(ctx, ObjectTypeVirtualRouter, vr)
	if err != nil || len(attrs) != 0 {
		t.Errorf("Get(VR) = %v, %v; want empty attributes", attrs, err)
	}

	ids, err := s.List(ctx, ObjectTypeVirtualRouter)
	if err != nil || len(ids) != 2 {
		t.Errorf("List(VR) = %v, %v; want 2 ids", ids, err)
	}

	if err := s.Remove(ctx, ObjectTypeSRv6SIDList, id); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(ctx, ObjectTypeSRv6SIDList, id); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("second Remove() error = %v, want ErrObjectNotFound", err)
	}
}
