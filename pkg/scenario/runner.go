package scenario

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newtron-network/srv6orch/pkg/metrics"
	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/srv6"
	"github.com/newtron-network/srv6orch/pkg/util"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StatusPassed StepStatus = "PASS"
	StatusFailed StepStatus = "FAIL"
)

// StepResult records what a step did and whether its expectations held.
type StepResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name,omitempty"`
	Action   StepAction    `json:"action"`
	Task     *srv6.Task    `json:"task,omitempty"`
	Result   string        `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Status   StepStatus    `json:"status"`
	Failures []string      `json:"failures,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of replaying one scenario.
type Report struct {
	Scenario string         `json:"scenario"`
	Steps    []StepResult   `json:"steps"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Objects  map[string]int `json:"objects"`
	Pending  int            `json:"pending"`
}

// OK reports whether every step passed.
func (r *Report) OK() bool {
	return r.Failed == 0
}

// Replay runs s against a fresh engine over an in-memory ASIC store.
func Replay(ctx context.Context, s *Scenario, opts ...srv6.Option) (*Report, error) {
	o, err := srv6.NewOrch(sai.NewMemStore(), s.Config.EngineConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return Run(ctx, o, s)
}

// Run applies the steps of s to o in order and checks each step's
// expectations. Failed expectations do not stop the run; an error is
// returned only when the ASIC store cannot be read.
func Run(ctx context.Context, o *srv6.Orch, s *Scenario) (*Report, error) {
	log := util.WithField("scenario", s.Name)
	report := &Report{Scenario: s.Name}

	for i := range s.Steps {
		step := &s.Steps[i]
		res := StepResult{Index: i + 1, Name: step.Name, Action: step.Action, Status: StatusPassed}
		start := time.Now()

		expectResult := ""
		if task, ok := step.Task(); ok {
			res.Task = &task
			err := o.Apply(ctx, task)
			res.Result = metrics.Result(err)
			if err != nil {
				res.Error = err.Error()
			}
			expectResult = metrics.ResultOK
		}
		if step.Expect != nil && step.Expect.Result != "" {
			expectResult = step.Expect.Result
		}
		if expectResult != "" && res.Result != expectResult {
			res.fail("result %s, want %s", res.Result, expectResult)
		}

		if step.Expect != nil {
			if err := checkState(ctx, o, step.Expect, &res); err != nil {
				return report, err
			}
		}

		res.Duration = time.Since(start)
		if res.Status == StatusPassed {
			report.Passed++
		} else {
			report.Failed++
			log.Warnf("%s failed: %s", step.label(i), strings.Join(res.Failures, "; "))
		}
		report.Steps = append(report.Steps, res)
	}

	counts, err := sai.CountObjects(ctx, o.Store())
	if err != nil {
		return report, err
	}
	report.Objects = make(map[string]int, len(counts))
	for t, n := range counts {
		if n > 0 {
			report.Objects[shortType(t)] = n
		}
	}
	report.Pending = o.Pending()
	return report, nil
}

func (r *StepResult) fail(format string, args ...interface{}) {
	r.Status = StatusFailed
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

func checkState(ctx context.Context, o *srv6.Orch, exp *ExpectBlock, res *StepResult) error {
	if exp.Pending != nil {
		if got := o.Pending(); got != *exp.Pending {
			res.fail("pending %d, want %d", got, *exp.Pending)
		}
	}
	if len(exp.Objects) == 0 {
		return nil
	}

	counts, err := sai.CountObjects(ctx, o.Store())
	if err != nil {
		return err
	}
	types := make([]string, 0, len(exp.Objects))
	for t := range exp.Objects {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		want := exp.Objects[t]
		if got := counts[objectType(t)]; got != want {
			res.fail("%s count %d, want %d", shortType(objectType(t)), got, want)
		}
	}
	return nil
}

const objectTypePrefix = "SAI_OBJECT_TYPE_"

// objectType accepts "ROUTE_ENTRY", "route_entry" or
// "SAI_OBJECT_TYPE_ROUTE_ENTRY".
func objectType(name string) sai.ObjectType {
	name = strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(name, objectTypePrefix) {
		name = objectTypePrefix + name
	}
	return sai.ObjectType(name)
}

func shortType(t sai.ObjectType) string {
	return strings.TrimPrefix(string(t), objectTypePrefix)
}
