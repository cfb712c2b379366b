package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/srv6orch/pkg/audit"
	"github.com/newtron-network/srv6orch/pkg/scenario"
	"github.com/newtron-network/srv6orch/pkg/srv6"
)

func TestFormatTask(t *testing.T) {
	got := formatTask(srv6.Task{
		Table:  srv6.TableRoute,
		Op:     srv6.OpSet,
		Key:    "5000::/64",
		Fields: map[string]string{"segment": "sl1", "seg_src": "2001:db8::1"},
	})
	want := "SET ROUTE_TABLE:5000::/64 seg_src=2001:db8::1 segment=sl1"
	if got != want {
		t.Errorf("formatTask() = %q, want %q", got, want)
	}
}

func TestJournalScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	journal, err := audit.NewFileLogger(path, audit.RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	rec := &audit.Recorder{Logger: journal, Node: "leaf1", Source: "redis"}

	sidList := srv6.Task{Table: srv6.TableSIDList, Op: srv6.OpSet, Key: "sl1", Fields: map[string]string{"path": "fc00:0:2::"}}
	route := srv6.Task{Table: srv6.TableRoute, Op: srv6.OpSet, Key: "5000::/64", Fields: map[string]string{"seg_src": "2001:db8::1", "segment": "sl1"}}
	rec.Record(route, os.ErrNotExist, time.Millisecond)
	rec.Record(sidList, nil, time.Millisecond)
	rec.Record(route, nil, time.Millisecond)
	if err := journal.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := journalScenario(path)
	if err != nil {
		t.Fatalf("journalScenario: %v", err)
	}
	if diff := cmp.Diff([]srv6.Task{sidList, route}, s.Tasks()); diff != "" {
		t.Errorf("journal tasks mismatch (-want +got):\n%s", diff)
	}

	report, err := scenario.Replay(t.Context(), s)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() || report.Objects["ROUTE_ENTRY"] != 1 {
		t.Errorf("journal replay: passed %d failed %d objects %v", report.Passed, report.Failed, report.Objects)
	}
}

func TestQueryJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	journal, err := audit.NewFileLogger(path, audit.RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	audit.SetDefaultLogger(journal)
	rec := &audit.Recorder{Node: "leaf1", Source: "redis"}
	route := srv6.Task{Table: srv6.TableRoute, Op: srv6.OpSet, Key: "5000::/64", Fields: map[string]string{"seg_src": "2001:db8::1", "segment": "sl1"}}
	rec.Record(route, os.ErrNotExist, time.Millisecond)
	rec.Record(srv6.Task{Table: srv6.TableSIDList, Op: srv6.OpSet, Key: "sl1", Fields: map[string]string{"path": "fc00:0:2::"}}, nil, time.Millisecond)
	rec.Record(route, nil, time.Millisecond)
	audit.SetDefaultLogger(nil)
	if err := journal.Close(); err != nil {
		t.Fatal(err)
	}

	events, err := queryJournal(path, audit.Filter{Table: srv6.TableRoute})
	if err != nil {
		t.Fatalf("queryJournal: %v", err)
	}
	if len(events) != 2 || events[0].Success || !events[1].Success {
		t.Errorf("route events = %+v, want a failure then a success", events)
	}

	events, err = queryJournal(path, audit.Filter{FailureOnly: true})
	if err != nil || len(events) != 1 {
		t.Errorf("failures = %d, %v, want 1", len(events), err)
	}

	if _, err := queryJournal(filepath.Join(t.TempDir(), "missing.jsonl"), audit.Filter{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("queryJournal(missing) error = %v, want ErrNotExist", err)
	}
}

func TestLoadScenarios(t *testing.T) {
	scenarios, err := loadScenarios(filepath.Join("..", "..", "pkg", "scenario", "testdata"))
	if err != nil {
		t.Fatal(err)
	}
	if len(scenarios) != 3 {
		t.Errorf("loaded %d scenarios from dir, want 3", len(scenarios))
	}

	scenarios, err = loadScenarios(filepath.Join("..", "..", "pkg", "scenario", "testdata", "encap.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(scenarios) != 1 || scenarios[0].Name != "encap" {
		t.Errorf("loadScenarios(file) = %v", scenarios)
	}

	if _, err := loadScenarios("does-not-exist.yaml"); err == nil {
		t.Error("loadScenarios accepted a missing file")
	}
}
