package scenario

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/srv6orch/pkg/srv6"
	"github.com/newtron-network/srv6orch/pkg/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func TestReplayTestdata(t *testing.T) {
	scenarios, err := ParseAllScenarios("testdata")
	if err != nil {
		t.Fatalf("ParseAllScenarios: %v", err)
	}
	if len(scenarios) != 3 {
		t.Fatalf("parsed %d scenarios, want 3", len(scenarios))
	}

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			report, err := Replay(context.Background(), s)
			if err != nil {
				t.Fatalf("Replay: %v", err)
			}
			for _, step := range report.Steps {
				if step.Status != StatusPassed {
					t.Errorf("step %d (%s): %s", step.Index, step.Name, strings.Join(step.Failures, "; "))
				}
			}
			if !report.OK() || report.Passed != len(s.Steps) {
				t.Errorf("passed %d of %d steps", report.Passed, len(s.Steps))
			}
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	s, err := Parse([]byte(`
name: defaults
steps:
  - table: ROUTE_TABLE
    key: 5000::/64
    fields: {seg_src: "2001:db8::1", segment: sl1}
  - Action: DEL
    table: ROUTE_TABLE
    key: 5000::/64
  - expect:
      pending: 0
`))
	if err == nil {
		t.Fatal("Parse accepted an unknown field")
	}

	s, err = Parse([]byte(`
name: defaults
steps:
  - table: ROUTE_TABLE
    key: 5000::/64
    fields: {seg_src: "2001:db8::1", segment: sl1}
  - action: DEL
    table: ROUTE_TABLE
    key: 5000::/64
  - expect:
      pending: 0
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []StepAction{ActionSet, ActionDel, ActionVerify}
	for i, step := range s.Steps {
		if step.Action != want[i] {
			t.Errorf("step %d action = %q, want %q", i+1, step.Action, want[i])
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no steps", "name: x\nsteps: []\n", "no steps"},
		{"unknown action", "steps:\n  - action: flap\n", `unknown action "flap"`},
		{"set without key", "steps:\n  - table: ROUTE_TABLE\n", "key is required"},
		{"unknown table", "steps:\n  - table: VLAN_TABLE\n    key: Vlan100\n", `unknown table "VLAN_TABLE"`},
		{"del with fields", "steps:\n  - action: del\n    table: ROUTE_TABLE\n    key: k\n    fields: {a: b}\n", "not allowed"},
		{"neighbor without mac", "steps:\n  - action: neighbor-up\n    interface: Ethernet0\n    ip: 2001:db8::1\n", "mac is required"},
		{"neighbor bad ip", "steps:\n  - action: neighbor-down\n    interface: Ethernet0\n    ip: nope\n", "invalid IP"},
		{"verify without expect", "steps:\n  - action: verify\n", "expect is required"},
		{"verify with result", "steps:\n  - action: verify\n    expect: {result: ok}\n", "needs a step"},
		{"unknown result", "steps:\n  - table: ROUTE_TABLE\n    key: k\n    expect: {result: maybe}\n", `unknown expect.result "maybe"`},
		{"unknown object type", "steps:\n  - action: verify\n    expect: {objects: {PORT: 1}}\n", `unknown object type "PORT"`},
		{"bad encap source", "config: {encap_source: 10.0.0.1}\nsteps:\n  - action: verify\n    expect: {pending: 0}\n", "encap_source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse error = %v, want it to mention %q", err, tt.want)
			}
		})
	}

	_, err := Parse([]byte("steps:\n  - action: flap\n"))
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("validation failures should wrap ErrValidationFailed, got %v", err)
	}
}

func TestStepTask(t *testing.T) {
	tests := []struct {
		step Step
		want srv6.Task
		ok   bool
	}{
		{
			step: Step{Action: ActionNeighborUp, Interface: "Ethernet0", IP: "2001:db8::1", MAC: "00:11:22:33:44:55"},
			want: srv6.Task{Table: srv6.TableNeighbor, Op: srv6.OpSet, Key: "Ethernet0:2001:db8::1",
				Fields: map[string]string{"neigh": "00:11:22:33:44:55", "family": "IPv6"}},
			ok: true,
		},
		{
			step: Step{Action: ActionNeighborUp, Interface: "Ethernet0", IP: "10.0.0.1", MAC: "00:11:22:33:44:55"},
			want: srv6.Task{Table: srv6.TableNeighbor, Op: srv6.OpSet, Key: "Ethernet0:10.0.0.1",
				Fields: map[string]string{"neigh": "00:11:22:33:44:55", "family": "IPv4"}},
			ok: true,
		},
		{
			step: Step{Action: ActionNeighborDown, Interface: "Ethernet0", IP: "2001:db8::1"},
			want: srv6.Task{Table: srv6.TableNeighbor, Op: srv6.OpDel, Key: "Ethernet0:2001:db8::1"},
			ok:   true,
		},
		{
			step: Step{Action: ActionDel, Table: srv6.TableRoute, Key: "5000::/64", Fields: map[string]string{"ignored": "x"}},
			want: srv6.Task{Table: srv6.TableRoute, Op: srv6.OpDel, Key: "5000::/64"},
			ok:   true,
		},
		{step: Step{Action: ActionVerify}, ok: false},
	}
	for _, tt := range tests {
		got, ok := tt.step.Task()
		if ok != tt.ok {
			t.Errorf("Task() ok = %v, want %v", ok, tt.ok)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Task() mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestScenarioTasks(t *testing.T) {
	s, err := ParseScenario(filepath.Join("testdata", "local-sid.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Tasks()) != 5 {
		t.Errorf("Tasks() = %d, want 5", len(s.Tasks()))
	}
	if diff := cmp.Diff([]string{srv6.TableNeighbor, srv6.TableMySID}, s.TablesUsed()); diff != "" {
		t.Errorf("TablesUsed() mismatch (-want +got):\n%s", diff)
	}
}

func TestRunReportsFailedExpectations(t *testing.T) {
	s, err := Parse([]byte(`
name: wrong
steps:
  - name: route without segment list
    table: ROUTE_TABLE
    key: 5000::/64
    fields: {seg_src: "2001:db8::1", segment: sl1}
  - name: wrong count
    action: verify
    expect:
      pending: 1
      objects: {route_entry: 1}
  - name: expected failure
    table: SRV6_SID_LIST_TABLE
    key: sl1
    fields: {path: nope}
    expect: {result: invalid}
`))
	if err != nil {
		t.Fatal(err)
	}

	report, err := Replay(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK() || report.Passed != 1 || report.Failed != 2 {
		t.Fatalf("report passed %d failed %d", report.Passed, report.Failed)
	}

	first := report.Steps[0]
	if first.Result != "unresolved" || first.Error == "" || first.Task == nil {
		t.Errorf("first step = %+v", first)
	}
	want := []string{"pending 0, want 1", "ROUTE_ENTRY count 0, want 1"}
	if diff := cmp.Diff(want, report.Steps[1].Failures); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if report.Steps[2].Status != StatusPassed {
		t.Errorf("expected failure reported as %s", report.Steps[2].Status)
	}
	if report.Objects["VIRTUAL_ROUTER"] != 1 || report.Objects["ROUTE_ENTRY"] != 0 {
		t.Errorf("final objects = %v", report.Objects)
	}
}

func TestParseScenario_NameFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unnamed.yaml")
	if err := os.WriteFile(path, []byte("steps:\n  - action: verify\n    expect: {pending: 0}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := ParseScenario(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "unnamed" {
		t.Errorf("Name = %q", s.Name)
	}
}

func TestFromTasks(t *testing.T) {
	tasks := []srv6.Task{
		{Table: srv6.TableSIDList, Op: srv6.OpSet, Key: "sl1", Fields: map[string]string{"path": "fc00:0:2::"}},
		{Table: srv6.TableRoute, Op: srv6.OpSet, Key: "5000::/64", Fields: map[string]string{"seg_src": "2001:db8::1", "segment": "sl1"}},
		{Table: srv6.TableNeighbor, Op: srv6.OpSet, Key: "Ethernet0:2001:db8::2", Fields: map[string]string{"neigh": "00:11:22:33:44:55", "family": "IPv6"}},
		{Table: srv6.TableNeighbor, Op: srv6.OpDel, Key: "Ethernet0:2001:db8::2"},
		{Table: srv6.TableRoute, Op: srv6.OpDel, Key: "5000::/64"},
		{Table: srv6.TableSIDList, Op: srv6.OpDel, Key: "sl1"},
	}
	s := FromTasks("journal", ConfigBlock{}, tasks)

	if diff := cmp.Diff(tasks, s.Tasks()); diff != "" {
		t.Errorf("Tasks() mismatch (-want +got):\n%s", diff)
	}

	report, err := Replay(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Errorf("journal replay failed: %+v", report.Steps)
	}
	if report.Objects["NEXT_HOP"] != 0 || report.Objects["SRV6_SIDLIST"] != 0 {
		t.Errorf("objects left after teardown: %v", report.Objects)
	}
}
