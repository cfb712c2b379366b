package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/newtron-network/srv6orch/pkg/audit"
	"github.com/newtron-network/srv6orch/pkg/cli"
	"github.com/newtron-network/srv6orch/pkg/scenario"
	"github.com/newtron-network/srv6orch/pkg/srv6"
)

var replayJournal string

var replayCmd = &cobra.Command{
	Use:   "replay [scenario.yaml|dir]...",
	Short: "Replay scenarios against an in-memory ASIC",
	Long: `Replay scenario files, or a task journal, against a fresh engine backed
by an in-memory ASIC_DB and check each step's expectations.

A journal replay applies the successful tasks of a journal in order and
expects every one of them to succeed again.

Examples:
  srv6orch replay pkg/scenario/testdata
  srv6orch replay encap.yaml pic.yaml --json
  srv6orch replay --journal /var/log/srv6orch/audit.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var scenarios []*scenario.Scenario
		if replayJournal != "" {
			s, err := journalScenario(replayJournal)
			if err != nil {
				return err
			}
			scenarios = append(scenarios, s)
		}
		for _, arg := range args {
			parsed, err := loadScenarios(arg)
			if err != nil {
				return err
			}
			scenarios = append(scenarios, parsed...)
		}
		if len(scenarios) == 0 {
			return fmt.Errorf("nothing to replay: give scenario files, a directory or --journal")
		}

		var reports []*scenario.Report
		failed := 0
		for _, s := range scenarios {
			if encapSource != "" || underlayRIF != "" {
				s.Config = scenario.ConfigBlock{EncapSource: encapSource, UnderlayRIF: underlayRIF}
			}
			report, err := scenario.Replay(cmd.Context(), s)
			if err != nil {
				return err
			}
			if !report.OK() {
				failed++
			}
			reports = append(reports, report)
		}

		if jsonOutput || !term.IsTerminal(int(os.Stdout.Fd())) {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(reports); err != nil {
				return err
			}
		} else {
			for _, r := range reports {
				printReport(r)
			}
			if len(reports) > 1 {
				printSummary(reports)
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d scenario(s) failed", failed, len(reports))
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayJournal, "journal", "", "Replay the successful tasks of this journal")
	addEngineFlags(replayCmd)
	addOutputFlags(replayCmd)
}

func loadScenarios(path string) ([]*scenario.Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return scenario.ParseAllScenarios(path)
	}
	s, err := scenario.ParseScenario(path)
	if err != nil {
		return nil, err
	}
	return []*scenario.Scenario{s}, nil
}

func journalScenario(path string) (*scenario.Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	events, err := audit.ReadEvents(f, audit.Filter{SuccessOnly: true})
	if err != nil {
		return nil, fmt.Errorf("reading journal %s: %w", path, err)
	}
	tasks := make([]srv6.Task, 0, len(events))
	for _, e := range events {
		tasks = append(tasks, e.Task())
	}
	return scenario.FromTasks("journal "+path, scenario.ConfigBlock{}, tasks), nil
}

func printReport(r *scenario.Report) {
	fmt.Printf("%s\n\n", bold(r.Scenario))

	t := cli.NewTable("STEP", "ACTION", "TARGET", "RESULT", "STATUS").WithPrefix("  ")
	for _, step := range r.Steps {
		target := ""
		if step.Task != nil {
			target = step.Task.Table + " " + step.Task.Key
		}
		status := green(string(step.Status))
		if step.Status != scenario.StatusPassed {
			status = red(string(step.Status)) + " " + strings.Join(step.Failures, "; ")
		}
		name := strconv.Itoa(step.Index)
		if step.Name != "" {
			name += " " + step.Name
		}
		t.Row(name, string(step.Action), target, step.Result, status)
	}
	t.Flush()

	objects := make([]string, 0, len(r.Objects))
	for _, typ := range sortedKeys(r.Objects) {
		objects = append(objects, fmt.Sprintf("%s=%d", typ, r.Objects[typ]))
	}
	pending := fmt.Sprintf("pending: %d", r.Pending)
	if r.Pending > 0 {
		pending = yellow(pending)
	}
	fmt.Printf("\n  %d passed, %d failed  %s  %s\n\n", r.Passed, r.Failed,
		dim("objects: "+strings.Join(objects, " ")), pending)
}

func printSummary(reports []*scenario.Report) {
	width := 0
	for _, r := range reports {
		if len(r.Scenario) > width {
			width = len(r.Scenario)
		}
	}
	for _, r := range reports {
		fmt.Printf("%s %s\n", cli.DotPad(r.Scenario, width+6), cli.Verdict(r.OK()))
	}
}
