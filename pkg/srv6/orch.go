package srv6

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/util"
)

// Recorder observes the outcome of every applied task.
type Recorder interface {
	Record(task Task, err error, elapsed time.Duration)
}

// Option configures an Orch.
type Option func(*Orch)

// WithRecorder adds a task recorder. Recorders are called in order.
func WithRecorder(r Recorder) Option {
	return func(o *Orch) { o.recorders = append(o.recorders, r) }
}

// Orch routes table notifications to the owning manager.
type Orch struct {
	store     sai.Store
	cfg       Config
	recorders []Recorder

	neighbors    *neighborTable
	vrfs         *vrfRegistry
	aggIDs       *aggIDAllocator
	segmentLists *SegmentLists
	resources    *Resources
	localSIDs    *LocalSIDs
	pic          *PIC
	routes       *Routes
}

// NewOrch wires the managers around store.
func NewOrch(store sai.Store, cfg Config, opts ...Option) (*Orch, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.EncapSource != "" {
		addr, _ := util.ParseIPv6(cfg.EncapSource)
		cfg.EncapSource = addr.String()
	}

	o := &Orch{
		store:     store,
		cfg:       cfg,
		neighbors: newNeighborTable(),
		vrfs:      newVRFRegistry(store),
		aggIDs:    newAggIDAllocator(),
	}
	o.segmentLists = newSegmentLists(store)
	o.resources = newResources(store, cfg, o.segmentLists, o.neighbors)
	o.localSIDs = newLocalSIDs(store, o.resources, o.vrfs)
	o.pic = newPIC(store, o.resources, o.aggIDs)
	o.routes = newRoutes(store, cfg, o.resources, o.pic, o.vrfs, o.aggIDs)
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orch) Store() sai.Store            { return o.store }
func (o *Orch) SegmentLists() *SegmentLists { return o.segmentLists }
func (o *Orch) Resources() *Resources       { return o.resources }
func (o *Orch) LocalSIDs() *LocalSIDs       { return o.localSIDs }
func (o *Orch) PIC() *PIC                   { return o.pic }
func (o *Orch) Routes() *Routes             { return o.routes }

// Pending returns the number of local SIDs waiting for a neighbor.
func (o *Orch) Pending() int {
	return o.localSIDs.Pending()
}

// Apply dispatches one table notification.
func (o *Orch) Apply(ctx context.Context, task Task) error {
	start := time.Now()
	err := o.apply(ctx, task)
	elapsed := time.Since(start)

	log := util.WithTable(task.Table, task.Key).WithField("op", task.Op)
	if err != nil {
		log.Warnf("Task failed: %v", err)
	} else {
		log.Debugf("Task done in %s", elapsed)
	}
	for _, r := range o.recorders {
		r.Record(task, err, elapsed)
	}
	return err
}

func (o *Orch) apply(ctx context.Context, t Task) error {
	if t.Op != OpSet && t.Op != OpDel {
		return util.NewValidationError(fmt.Sprintf("unknown op %q", t.Op))
	}
	del := t.Op == OpDel

	switch t.Table {
	case TableSIDList:
		if del {
			return o.segmentLists.Remove(ctx, t.Key)
		}
		return o.segmentLists.Upsert(ctx, t.Key, util.SplitCommaSeparated(t.Fields["path"]), t.Fields["type"])

	case TableMySID:
		key, err := ParseLocalSIDKey(t.Key)
		if err != nil {
			return err
		}
		if del {
			return o.localSIDs.Remove(ctx, key)
		}
		return o.localSIDs.Set(ctx, key, localSIDConfig(t.Fields))

	case TableRoute:
		key, err := ParseRouteKey(t.Key)
		if err != nil {
			return err
		}
		if del {
			// Non-SRv6 routes share the table; deleting one is not our concern.
			if err := o.routes.Remove(ctx, key); err != nil && !errors.Is(err, util.ErrNotFound) {
				return err
			}
			return nil
		}
		return o.routes.Set(ctx, key, routeConfig(t.Fields))

	case TableNextHopGroup:
		if del {
			return o.pic.RemoveGroup(ctx, t.Key)
		}
		members, err := groupMembers(t.Fields)
		if err != nil {
			return err
		}
		return o.pic.SetGroup(ctx, t.Key, members)

	case TablePICContext:
		if del {
			return o.pic.RemoveContext(ctx, t.Key)
		}
		entries, err := picEntries(t.Fields)
		if err != nil {
			return err
		}
		return o.pic.SetContext(ctx, t.Key, entries)

	case TableNeighbor:
		key, err := ParseNeighborKey(t.Key)
		if err != nil {
			return err
		}
		return o.UpdateNeighbor(ctx, NeighborUpdate{Key: key, MAC: t.Fields["neigh"], Withdrawn: del})
	}
	return util.NewValidationError(fmt.Sprintf("unknown table %q", t.Table))
}

// UpdateNeighbor records a neighbor change and installs or parks the local
// SIDs that depend on it.
func (o *Orch) UpdateNeighbor(ctx context.Context, upd NeighborUpdate) error {
	log := util.WithTable(TableNeighbor, upd.Key.String())
	if upd.Withdrawn {
		o.neighbors.remove(upd.Key)
		log.Debug("Neighbor withdrawn")
		return o.localSIDs.OnNeighbor(ctx, upd)
	}

	o.neighbors.set(upd.Key, upd.MAC)
	if err := o.resources.refreshAdjacency(ctx, upd.Key, upd.MAC); err != nil {
		return err
	}
	log.WithField("mac", upd.MAC).Debug("Neighbor resolved")
	return o.localSIDs.OnNeighbor(ctx, upd)
}
