// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/srv6"
	"github.com/newtron-network/srv6orch/pkg/util"
)

// Result labels for srv6orch_tasks_total.
const (
	ResultOK           = "ok"
	ResultInvalid      = "invalid"
	ResultUnresolved   = "unresolved"
	ResultNotFound     = "not_found"
	ResultInUse        = "in_use"
	ResultPrecondition = "precondition"
	ResultError        = "error"
)

// Result classifies a task error for the result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, util.ErrValidationFailed):
		return ResultInvalid
	case errors.Is(err, util.ErrUnresolvedReference):
		return ResultUnresolved
	case errors.Is(err, util.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, util.ErrInUse):
		return ResultInUse
	case errors.Is(err, util.ErrPreconditionFailed):
		return ResultPrecondition
	}
	return ResultError
}

// Collector bundles the engine metrics. It implements srv6.Recorder so it
// can be passed to srv6.NewOrch with srv6.WithRecorder.
type Collector struct {
	gatherer prometheus.Gatherer

	Tasks         *prometheus.CounterVec
	TaskDurations *prometheus.HistogramVec
}

var _ srv6.Recorder = (*Collector)(nil)

// NewCollector registers the task metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tasks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "srv6orch_tasks_total",
		Help: "Table operations applied, labeled by table, op and result.",
	}, []string{"table", "op", "result"}), "srv6orch_tasks_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "srv6orch_task_duration_seconds",
		Help:    "Time to apply one table operation, in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"table"}), "srv6orch_task_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{gatherer: gatherer, Tasks: tasks, TaskDurations: durations}, nil
}

// Record counts one applied task.
func (c *Collector) Record(task srv6.Task, err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Tasks.WithLabelValues(task.Table, string(task.Op), Result(err)).Inc()
	c.TaskDurations.WithLabelValues(task.Table).Observe(elapsed.Seconds())
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

var (
	descASICObjects = prometheus.NewDesc(
		"srv6orch_asic_objects",
		"Objects currently held in the ASIC object store, by SAI object type.",
		[]string{"type"}, nil,
	)
	descPendingLocalSIDs = prometheus.NewDesc(
		"srv6orch_pending_local_sids",
		"Local SIDs waiting for their adjacency neighbor to resolve.",
		nil, nil,
	)
	descResources = prometheus.NewDesc(
		"srv6orch_shared_resources",
		"Shared resources held by the engine, by kind.",
		[]string{"kind"}, nil,
	)
)

// StateCollector reads engine state at scrape time.
type StateCollector struct {
	orch    *srv6.Orch
	timeout time.Duration
}

var _ prometheus.Collector = (*StateCollector)(nil)

// NewStateCollector returns a collector reporting ASIC object counts,
// pending local SIDs and shared resource counts of orch.
func NewStateCollector(orch *srv6.Orch) *StateCollector {
	return &StateCollector{orch: orch, timeout: 5 * time.Second}
}

// Describe implements prometheus.Collector.
func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descASICObjects
	ch <- descPendingLocalSIDs
	ch <- descResources
}

// Collect implements prometheus.Collector.
func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(descPendingLocalSIDs, prometheus.GaugeValue, float64(c.orch.Pending()))

	rc := c.orch.Resources().Counts()
	for kind, n := range map[string]int{
		"srv6_nexthop": rc.NextHops,
		"adjacency":    rc.Adjacencies,
		"encap_tunnel": rc.EncapTunnels,
		"p2p_tunnel":   rc.P2PTunnels,
		"map_entry":    rc.MapEntries,
		"segment_list": c.orch.SegmentLists().Len(),
		"route":        c.orch.Routes().Len(),
	} {
		ch <- prometheus.MustNewConstMetric(descResources, prometheus.GaugeValue, float64(n), kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	counts, err := sai.CountObjects(ctx, c.orch.Store())
	if err != nil {
		util.WithField("collector", "asic_objects").Warnf("Counting ASIC objects: %v", err)
		return
	}
	for t, n := range counts {
		ch <- prometheus.MustNewConstMetric(descASICObjects, prometheus.GaugeValue, float64(n), string(t))
	}
}
