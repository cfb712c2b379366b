package sonic

import (
	"context"
	"errors"

	"github.com/newtron-network/srv6orch/pkg/srv6"
	"github.com/newtron-network/srv6orch/pkg/util"
)

// retryable reports whether a failed task may succeed once other tables
// catch up: a missing dependency can appear, a referenced object can be
// released.
func retryable(err error) bool {
	return errors.Is(err, util.ErrUnresolvedReference) || errors.Is(err, util.ErrInUse)
}

// taskQueue holds tasks not yet applied, at most a DEL followed by a SET per
// key. A newer SET replaces an older one; a DEL supersedes everything queued
// for its key.
type taskQueue struct {
	order []string
	tasks map[string][]srv6.Task
}

func newTaskQueue() *taskQueue {
	return &taskQueue{tasks: make(map[string][]srv6.Task)}
}

func (q *taskQueue) put(t srv6.Task) {
	cur, queued := q.tasks[t.Key]
	if !queued {
		q.order = append(q.order, t.Key)
	}
	switch {
	case t.Op == srv6.OpDel:
		q.tasks[t.Key] = []srv6.Task{t}
	case len(cur) > 0 && cur[0].Op == srv6.OpDel:
		q.tasks[t.Key] = []srv6.Task{cur[0], t}
	default:
		q.tasks[t.Key] = []srv6.Task{t}
	}
}

func (q *taskQueue) len() int {
	n := 0
	for _, ts := range q.tasks {
		n += len(ts)
	}
	return n
}

// flush applies queued tasks in arrival order of their keys. Tasks failing
// with a retryable error stay queued, and so do later tasks for the same
// key; other failures are dropped.
func (q *taskQueue) flush(ctx context.Context, apply Handler) {
	order := q.order
	q.order = nil
	for _, key := range order {
		ts := q.tasks[key]
		delete(q.tasks, key)
		for i, t := range ts {
			err := apply(ctx, t)
			if err == nil {
				continue
			}
			if retryable(err) {
				q.tasks[key] = ts[i:]
				q.order = append(q.order, key)
				util.WithTable(t.Table, t.Key).Debugf("Task deferred: %v", err)
				break
			}
			util.WithTable(t.Table, t.Key).Errorf("Task dropped: %v", err)
		}
	}
}
