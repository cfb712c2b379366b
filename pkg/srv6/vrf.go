package srv6

import (
	"context"
	"fmt"
	"sync"

	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/util"
)

type virtualRouter struct {
	oid  string
	refs int
}

// vrfRegistry maps VRF names to virtual routers, creating each on first
// reference and removing it when the last user releases it.
type vrfRegistry struct {
	mu    sync.Mutex
	store sai.Store
	vrs   map[string]*virtualRouter
}

func newVRFRegistry(store sai.Store) *vrfRegistry {
	return &vrfRegistry{store: store, vrs: make(map[string]*virtualRouter)}
}

// acquire returns the virtual router for name. "" and "default" select the
// switch's default virtual router, which is never reference-counted.
func (r *vrfRegistry) acquire(ctx context.Context, name string) (string, error) {
	if isDefaultVRF(name) {
		return r.store.DefaultVirtualRouter(), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if vr, ok := r.vrs[name]; ok {
		vr.refs++
		return vr.oid, nil
	}
	oid, err := r.store.Create(ctx, sai.ObjectTypeVirtualRouter, nil)
	if err != nil {
		return "", fmt.Errorf("creating virtual router for %s: %w", name, err)
	}
	r.vrs[name] = &virtualRouter{oid: oid, refs: 1}
	util.WithObject(string(sai.ObjectTypeVirtualRouter), oid).Infof("Created virtual router for VRF %s", name)
	return oid, nil
}

func (r *vrfRegistry) release(ctx context.Context, name string) error {
	if isDefaultVRF(name) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vr, ok := r.vrs[name]
	if !ok {
		return nil
	}
	if vr.refs > 0 {
		vr.refs--
	}
	if vr.refs > 0 {
		return nil
	}
	if err := r.store.Remove(ctx, sai.ObjectTypeVirtualRouter, vr.oid); err != nil {
		return fmt.Errorf("removing virtual router for %s: %w", name, err)
	}
	delete(r.vrs, name)
	util.WithObject(string(sai.ObjectTypeVirtualRouter), vr.oid).Infof("Removed virtual router for VRF %s", name)
	return nil
}
