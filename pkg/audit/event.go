// Package audit journals every table operation applied by the engine.
package audit

import (
	"fmt"
	"time"

	"github.com/newtron-network/srv6orch/pkg/srv6"
)

// Event records one applied table operation
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Node      string            `json:"node"`
	Table     string            `json:"table"`
	Op        srv6.Op           `json:"op"`
	Key       string            `json:"key"`
	Fields    map[string]string `json:"fields,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Source    string            `json:"source,omitempty"` // "redis", "replay"
}

// Filter defines criteria for querying audit events
type Filter struct {
	Node        string
	Table       string
	Op          srv6.Op
	Key         string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates an event for task applied on node
func NewEvent(node string, task srv6.Task) *Event {
	var fields map[string]string
	if len(task.Fields) > 0 {
		fields = make(map[string]string, len(task.Fields))
		for k, v := range task.Fields {
			fields[k] = v
		}
	}
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		Node:      node,
		Table:     task.Table,
		Op:        task.Op,
		Key:       task.Key,
		Fields:    fields,
	}
}

// WithSource sets where the task came from
func (e *Event) WithSource(source string) *Event {
	e.Source = source
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithResult marks the event successful when err is nil, failed otherwise.
func (e *Event) WithResult(err error) *Event {
	if err != nil {
		return e.WithError(err)
	}
	return e.WithSuccess()
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// Task returns the table operation the event recorded, so a journal can be
// replayed.
func (e *Event) Task() srv6.Task {
	return srv6.Task{Table: e.Table, Op: e.Op, Key: e.Key, Fields: e.Fields}
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
