package srv6

import "testing"

func TestAggIDAllocator(t *testing.T) {
	a := newAggIDAllocator()
	for want := uint32(1); want <= 3; want++ {
		got, err := a.alloc()
		if err != nil {
			t.Fatalf("alloc() error = %v", err)
		}
		if got != want {
			t.Errorf("alloc() = %d, want %d", got, want)
		}
	}
	a.free(2)
	if got, _ := a.alloc(); got != 4 {
		t.Errorf("alloc() after free = %d, want 4", got)
	}
	if a.inUse() != 3 {
		t.Errorf("inUse() = %d, want 3", a.inUse())
	}
}

func TestAggIDAllocator_WrapSkipsBusy(t *testing.T) {
	a := &aggIDAllocator{next: 1, max: 4, used: make(map[uint32]struct{})}
	for i := 0; i < 4; i++ {
		if _, err := a.alloc(); err != nil {
			t.Fatalf("alloc() error = %v", err)
		}
	}
	if _, err := a.alloc(); err == nil {
		t.Fatal("alloc() on a full allocator succeeded")
	}

	a.free(3)
	got, err := a.alloc()
	if err != nil {
		t.Fatalf("alloc() error = %v", err)
	}
	if got != 3 {
		t.Errorf("alloc() = %d, want 3", got)
	}

	a.free(1)
	a.free(2)
	if got, _ := a.alloc(); got != 1 {
		t.Errorf("alloc() = %d, want 1", got)
	}
	if got, _ := a.alloc(); got != 2 {
		t.Errorf("alloc() = %d, want 2", got)
	}
}
