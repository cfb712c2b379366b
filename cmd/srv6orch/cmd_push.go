package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/srv6orch/pkg/sonic"
	"github.com/newtron-network/srv6orch/pkg/srv6"
	"github.com/newtron-network/srv6orch/pkg/util"
)

var pushCmd = &cobra.Command{
	Use:   "push <scenario.yaml>",
	Short: "Write the tasks of a scenario into APPL_DB",
	Long: `Write the table operations of a scenario into APPL_DB the way an APPL_DB
producer does, so a running engine consumes them. Expectations are ignored.

Previews the operations by default; use -x to write them.

Examples:
  srv6orch push encap.yaml
  srv6orch push encap.yaml -x --ssh-host leaf1 --ssh-user admin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarios, err := loadScenarios(args[0])
		if err != nil {
			return err
		}
		var tasks []srv6.Task
		for _, s := range scenarios {
			tasks = append(tasks, s.Tasks()...)
		}

		if !executeMode {
			for _, t := range tasks {
				fmt.Println(formatTask(t))
			}
			fmt.Println(dim(fmt.Sprintf("\n%d operation(s); use -x to write them to APPL_DB", len(tasks))))
			return nil
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

		producers := map[string]*sonic.ProducerStateTable{}
		for i, t := range tasks {
			p, ok := producers[t.Table]
			if !ok {
				p = appdb.Producer(t.Table)
				producers[t.Table] = p
			}
			if t.Op == srv6.OpDel {
				err = p.Del(ctx, t.Key)
			} else {
				err = p.Set(ctx, t.Key, t.Fields)
			}
			if err != nil {
				return fmt.Errorf("operation %d (%s): %w", i+1, t, err)
			}
			util.WithTable(t.Table, t.Key).Debugf("pushed %s", t.Op)
		}
		fmt.Printf("%s %d operation(s) written to APPL_DB\n", green("ok"), len(tasks))
		return nil
	},
}

func init() {
	pushCmd.Flags().BoolVarP(&executeMode, "execute", "x", false, "Write to APPL_DB (default is dry-run)")
}

func formatTask(t srv6.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-3s %s:%s", strings.ToUpper(string(t.Op)), t.Table, t.Key)
	for _, k := range sortedKeys(t.Fields) {
		fmt.Fprintf(&b, " %s=%s", k, t.Fields[k])
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
