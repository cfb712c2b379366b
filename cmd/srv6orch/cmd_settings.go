package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/srv6orch/pkg/cli"
	"github.com/newtron-network/srv6orch/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.srv6orch/settings.json.

Settings provide defaults for flags:
  - redis_addr:    --redis
  - ssh_host, ssh_user, ssh_pass, ssh_port: --ssh-*
  - metrics_addr:  run --metrics-addr
  - audit_log:     run --audit-log, journal list --path
  - log_level:     --log-level
  - encap_source, underlay_rif: engine configuration

Examples:
  srv6orch settings show
  srv6orch settings set redis_addr 127.0.0.1:6379
  srv6orch settings set encap_source 2001:db8::1
  srv6orch settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

		t := cli.NewTable("SETTING", "VALUE")
		for _, key := range settings.Keys {
			value, _ := s.Get(key)
			switch {
			case value == "":
				value = dim("(not set)")
			case key == "ssh_pass":
				value = "********"
			}
			t.Row(key, value)
		}
		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}
		if !s.Set(args[0], args[1]) {
			return fmt.Errorf("unknown setting or bad value: %s (valid: %v)", args[0], settings.Keys)
		}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set to: %s\n", args[0], args[1])
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <setting>",
	Short: "Get a setting value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		value, ok := s.Get(args[0])
		if !ok {
			return fmt.Errorf("unknown setting: %s", args[0])
		}
		fmt.Println(value)
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("Settings cleared")
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsGetCmd, settingsClearCmd)
}
