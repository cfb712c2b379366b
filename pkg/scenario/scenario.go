// Package scenario reads YAML files describing a sequence of table
// operations and neighbor events, with expectations on the resulting ASIC
// state, and replays them against an engine.
package scenario

import (
	"fmt"
	"sort"

	"github.com/newtron-network/srv6orch/pkg/srv6"
)

// Scenario is a parsed scenario file.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Config      ConfigBlock `yaml:"config,omitempty"`
	Steps       []Step      `yaml:"steps"`
}

// ConfigBlock carries engine settings for the replay.
type ConfigBlock struct {
	EncapSource string `yaml:"encap_source,omitempty"`
	UnderlayRIF string `yaml:"underlay_rif,omitempty"`
}

// EngineConfig returns the engine configuration of the scenario.
func (c ConfigBlock) EngineConfig() srv6.Config {
	return srv6.Config{EncapSource: c.EncapSource, UnderlayRIF: c.UnderlayRIF}
}

// Step is a single action within a scenario. Fields are action-specific.
type Step struct {
	Name   string     `yaml:"name,omitempty"`
	Action StepAction `yaml:"action,omitempty"`

	// set, del
	Table  string            `yaml:"table,omitempty"`
	Key    string            `yaml:"key,omitempty"`
	Fields map[string]string `yaml:"fields,omitempty"`

	// neighbor-up, neighbor-down
	Interface string `yaml:"interface,omitempty"`
	IP        string `yaml:"ip,omitempty"`
	MAC       string `yaml:"mac,omitempty"`

	Expect *ExpectBlock `yaml:"expect,omitempty"`
}

// StepAction identifies the type of step.
type StepAction string

const (
	ActionSet          StepAction = "set"
	ActionDel          StepAction = "del"
	ActionNeighborUp   StepAction = "neighbor-up"
	ActionNeighborDown StepAction = "neighbor-down"
	ActionVerify       StepAction = "verify"
)

var validActions = map[StepAction]bool{}

func init() {
	for _, a := range []StepAction{ActionSet, ActionDel, ActionNeighborUp, ActionNeighborDown, ActionVerify} {
		validActions[a] = true
	}
}

// ExpectBlock holds the expected outcome of a step. Unset fields are not
// checked.
type ExpectBlock struct {
	// Result is the expected result class of the step's task: "ok",
	// "invalid", "unresolved", "not_found", "in_use", "precondition" or
	// "error". Defaults to "ok" for steps that apply a task.
	Result string `yaml:"result,omitempty"`

	// Objects maps SAI object types (with or without the
	// SAI_OBJECT_TYPE_ prefix) to expected counts.
	Objects map[string]int `yaml:"objects,omitempty"`

	// Pending is the expected number of local SIDs waiting for a neighbor.
	Pending *int `yaml:"pending,omitempty"`
}

// Task returns the table operation of an applying step. ok is false for
// verify steps.
func (s *Step) Task() (task srv6.Task, ok bool) {
	switch s.Action {
	case ActionSet:
		return srv6.Task{Table: s.Table, Op: srv6.OpSet, Key: s.Key, Fields: s.Fields}, true
	case ActionDel:
		return srv6.Task{Table: s.Table, Op: srv6.OpDel, Key: s.Key}, true
	case ActionNeighborUp:
		return srv6.Task{
			Table:  srv6.TableNeighbor,
			Op:     srv6.OpSet,
			Key:    s.Interface + ":" + s.IP,
			Fields: map[string]string{"neigh": s.MAC, "family": family(s.IP)},
		}, true
	case ActionNeighborDown:
		return srv6.Task{Table: srv6.TableNeighbor, Op: srv6.OpDel, Key: s.Interface + ":" + s.IP}, true
	}
	return srv6.Task{}, false
}

// Tasks returns the table operations of the scenario in order.
func (s *Scenario) Tasks() []srv6.Task {
	var tasks []srv6.Task
	for i := range s.Steps {
		if t, ok := s.Steps[i].Task(); ok {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// TablesUsed returns the sorted set of tables the scenario writes.
func (s *Scenario) TablesUsed() []string {
	seen := map[string]bool{}
	for _, t := range s.Tasks() {
		seen[t.Table] = true
	}
	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

func (s *Step) label(index int) string {
	if s.Name != "" {
		return fmt.Sprintf("step %d (%s)", index+1, s.Name)
	}
	return fmt.Sprintf("step %d", index+1)
}

// FromTasks builds a scenario that applies tasks in order and expects each
// to succeed. Neighbor tasks become neighbor steps.
func FromTasks(name string, cfg ConfigBlock, tasks []srv6.Task) *Scenario {
	s := &Scenario{Name: name, Config: cfg}
	for _, t := range tasks {
		step := Step{Table: t.Table, Key: t.Key, Fields: t.Fields, Action: ActionSet}
		if t.Op == srv6.OpDel {
			step.Action = ActionDel
			step.Fields = nil
		}
		if t.Table == srv6.TableNeighbor {
			if nk, err := srv6.ParseNeighborKey(t.Key); err == nil {
				step = Step{Interface: nk.Interface, IP: nk.IP, Action: ActionNeighborDown}
				if t.Op == srv6.OpSet {
					step.Action = ActionNeighborUp
					step.MAC = t.Fields["neigh"]
				}
			}
		}
		s.Steps = append(s.Steps, step)
	}
	return s
}
