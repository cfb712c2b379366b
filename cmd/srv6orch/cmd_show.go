package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/newtron-network/srv6orch/pkg/cli"
	"github.com/newtron-network/srv6orch/pkg/sonic"
	"github.com/newtron-network/srv6orch/pkg/srv6"
)

var showCmd = &cobra.Command{
	Use:   "show <table> [key]",
	Short: "Show APPL_DB entries of an SRv6 table",
	Long: `Show the committed APPL_DB entries of one of the consumed tables.

Tables: ` + fmt.Sprint(srv6.Tables) + `

Examples:
  srv6orch show SRV6_SID_LIST_TABLE
  srv6orch show ROUTE_TABLE Vrf-1:5000::/64 --json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		known := false
		for _, t := range srv6.Tables {
			known = known || t == table
		}
		if !known {
			return fmt.Errorf("unknown table %q (valid: %v)", table, srv6.Tables)
		}

		ctx := cmd.Context()
		addr, closeTunnel, err := redisEndpoint()
		if err != nil {
			return err
		}
		defer closeTunnel()

		appdb := sonic.NewAppDBClient(addr)
		if err := appdb.Connect(ctx); err != nil {
			return err
		}
		defer appdb.Close()

		var keys []string
		if len(args) == 2 {
			keys = []string{args[1]}
		} else if keys, err = appdb.Keys(ctx, table); err != nil {
			return err
		}
		sort.Strings(keys)

		entries := make(map[string]map[string]string, len(keys))
		for _, key := range keys {
			fields, err := appdb.Get(ctx, table, key)
			if err != nil {
				return err
			}
			if fields != nil {
				entries[key] = fields
			}
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Printf("No %s entries found\n", table)
			return nil
		}

		t := cli.NewTable("KEY", "FIELD", "VALUE")
		for _, key := range keys {
			fields, ok := entries[key]
			if !ok {
				continue
			}
			label := key
			for _, f := range sortedKeys(fields) {
				t.Row(label, f, fields[f])
				label = ""
			}
		}
		t.Flush()
		return nil
	},
}

func init() {
	addOutputFlags(showCmd)
}
