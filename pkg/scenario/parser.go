package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/srv6orch/pkg/metrics"
	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/srv6"
	"github.com/newtron-network/srv6orch/pkg/util"
)

// ParseScenario reads a YAML scenario file and returns a validated Scenario.
func ParseScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	applyDefaults(&s)
	if err := validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseAllScenarios reads all .yaml files in dir, in name order.
func ParseAllScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenarios dir %s: %w", dir, err)
	}

	var scenarios []*Scenario
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		s, err := ParseScenario(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// applyDefaults infers the action of steps that only name a table and
// normalizes op spellings.
func applyDefaults(s *Scenario) {
	for i := range s.Steps {
		step := &s.Steps[i]
		step.Action = StepAction(strings.ToLower(string(step.Action)))
		if step.Action == "" && step.Table != "" {
			step.Action = ActionSet
		}
		if step.Action == "" && step.Expect != nil {
			step.Action = ActionVerify
		}
	}
}

// stepValidation declares what fields each action requires.
type stepValidation struct {
	fields []string
	custom func(step *Step) error
}

var stepValidations = map[StepAction]stepValidation{
	ActionSet: {fields: []string{"table", "key"}, custom: validateTable},
	ActionDel: {fields: []string{"table", "key"}, custom: func(step *Step) error {
		if len(step.Fields) > 0 {
			return fmt.Errorf("fields are not allowed on del")
		}
		return validateTable(step)
	}},
	ActionNeighborUp:   {fields: []string{"interface", "ip", "mac"}, custom: validateIP},
	ActionNeighborDown: {fields: []string{"interface", "ip"}, custom: validateIP},
	ActionVerify: {custom: func(step *Step) error {
		if step.Expect == nil {
			return fmt.Errorf("expect is required")
		}
		if step.Expect.Result != "" {
			return fmt.Errorf("expect.result needs a step that applies a task")
		}
		return nil
	}},
}

var stepFieldGetter = map[string]func(*Step) string{
	"table":     func(s *Step) string { return s.Table },
	"key":       func(s *Step) string { return s.Key },
	"interface": func(s *Step) string { return s.Interface },
	"ip":        func(s *Step) string { return s.IP },
	"mac":       func(s *Step) string { return s.MAC },
}

var knownResults = map[string]bool{
	metrics.ResultOK:           true,
	metrics.ResultInvalid:      true,
	metrics.ResultUnresolved:   true,
	metrics.ResultNotFound:     true,
	metrics.ResultInUse:        true,
	metrics.ResultPrecondition: true,
	metrics.ResultError:        true,
}

var knownObjectTypes = map[sai.ObjectType]bool{}

func init() {
	for _, t := range sai.ObjectTypes {
		knownObjectTypes[t] = true
	}
}

func validate(s *Scenario) error {
	if len(s.Steps) == 0 {
		return util.NewValidationError("scenario has no steps")
	}
	if s.Config.EncapSource != "" {
		if _, err := util.ParseIPv6(s.Config.EncapSource); err != nil {
			return util.NewValidationError("config.encap_source: " + err.Error())
		}
	}

	vb := &util.ValidationBuilder{}
	for i := range s.Steps {
		step := &s.Steps[i]
		if err := validateStep(step); err != nil {
			vb.AddErrorf("%s: %v", step.label(i), err)
		}
	}
	return vb.Build()
}

func validateStep(step *Step) error {
	if !validActions[step.Action] {
		return fmt.Errorf("unknown action %q", step.Action)
	}
	v := stepValidations[step.Action]
	for _, field := range v.fields {
		if stepFieldGetter[field](step) == "" {
			return fmt.Errorf("%s is required for %s", field, step.Action)
		}
	}
	if step.Expect != nil {
		if step.Expect.Result != "" && !knownResults[step.Expect.Result] {
			return fmt.Errorf("unknown expect.result %q", step.Expect.Result)
		}
		for name := range step.Expect.Objects {
			if !knownObjectTypes[objectType(name)] {
				return fmt.Errorf("unknown object type %q", name)
			}
		}
	}
	if v.custom != nil {
		return v.custom(step)
	}
	return nil
}

func validateTable(step *Step) error {
	for _, t := range srv6.Tables {
		if t == step.Table {
			return nil
		}
	}
	return fmt.Errorf("unknown table %q", step.Table)
}

func validateIP(step *Step) error {
	if _, err := util.ParseIP(step.IP); err != nil {
		return err
	}
	return nil
}

func family(ip string) string {
	if strings.Contains(ip, ":") {
		return "IPv6"
	}
	return "IPv4"
}
