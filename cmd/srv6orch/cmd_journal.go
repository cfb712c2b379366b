package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/srv6orch/pkg/audit"
	"github.com/newtron-network/srv6orch/pkg/cli"
	"github.com/newtron-network/srv6orch/pkg/srv6"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "View the task journal",
	Long: `View the journal written by 'srv6orch run --audit-log'.

Every applied table operation is journaled with:
  - Timestamp
  - Table, operation and key
  - Fields
  - Success/failure and error

Examples:
  srv6orch journal list --table ROUTE_TABLE
  srv6orch journal list --last 1h --failures`,
}

var (
	journalPath     string
	journalTable    string
	journalKey      string
	journalOp       string
	journalLast     string
	journalLimit    int
	journalFailures bool
)

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := journalPath
		if path == "" {
			path = userSettings.AuditLog
		}
		if path == "" {
			return fmt.Errorf("journal path required: use --path or 'srv6orch settings set audit_log <path>'")
		}

		filter := audit.Filter{
			Table:       journalTable,
			Key:         journalKey,
			Op:          srv6.Op(journalOp),
			Limit:       journalLimit,
			FailureOnly: journalFailures,
		}
		if journalLast != "" {
			duration, err := time.ParseDuration(journalLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", journalLast)
			}
			filter.StartTime = time.Now().Add(-duration)
		}

		events, err := queryJournal(path, filter)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(events)
		}
		if len(events) == 0 {
			fmt.Println("No journal entries found")
			return nil
		}

		t := cli.NewTable("TIMESTAMP", "OP", "TABLE", "KEY", "DURATION", "STATUS")
		for _, e := range events {
			status := green("ok")
			if !e.Success {
				status = red("FAILED") + " " + e.Error
			}
			t.Row(e.Timestamp.Format("2006-01-02 15:04:05"), string(e.Op), e.Table, e.Key,
				e.Duration.Round(time.Microsecond).String(), status)
		}
		t.Flush()
		return nil
	},
}

// queryJournal opens the journal at path as the default journal and queries
// it. A missing journal is an error rather than an empty result.
func queryJournal(path string, filter audit.Filter) ([]*audit.Event, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	journal, err := audit.NewFileLogger(path, audit.RotationConfig{})
	if err != nil {
		return nil, err
	}
	defer journal.Close()
	audit.SetDefaultLogger(journal)
	defer audit.SetDefaultLogger(nil)

	events, err := audit.Query(filter)
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return events, nil
}

func init() {
	journalListCmd.Flags().StringVar(&journalPath, "path", "", "Journal file (default from settings audit_log)")
	journalListCmd.Flags().StringVar(&journalTable, "table", "", "Filter by table")
	journalListCmd.Flags().StringVar(&journalKey, "key", "", "Filter by key")
	journalListCmd.Flags().StringVar(&journalOp, "op", "", "Filter by operation (SET, DEL)")
	journalListCmd.Flags().StringVar(&journalLast, "last", "", "Show entries from the last duration (e.g., 24h)")
	journalListCmd.Flags().IntVar(&journalLimit, "limit", 100, "Maximum entries to show")
	journalListCmd.Flags().BoolVar(&journalFailures, "failures", false, "Show only failures")
	addOutputFlags(journalListCmd)

	journalCmd.AddCommand(journalListCmd)
}
