// srv6orch - SRv6 orchestration agent for SONiC
//
// Consumes the SRv6 tables of APPL_DB (segment lists, local SIDs, routes,
// next-hop groups, PIC contexts and neighbors) and programs the matching
// SAI objects into ASIC_DB.
//
//	srv6orch run                      # consume APPL_DB until interrupted
//	srv6orch replay testdata/         # replay scenarios against an in-memory ASIC
//	srv6orch replay --journal audit.jsonl
//	srv6orch push scenario.yaml -x    # write scenario tasks into APPL_DB
//
// Connection flags (or settings):
//
//	--redis      Redis address of the switch (default 127.0.0.1:6379)
//	--ssh-host   Reach Redis through an SSH tunnel to this host
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/srv6orch/pkg/cli"
	"github.com/newtron-network/srv6orch/pkg/settings"
	"github.com/newtron-network/srv6orch/pkg/sonic"
	"github.com/newtron-network/srv6orch/pkg/util"
	"github.com/newtron-network/srv6orch/pkg/version"
)

var (
	// Connection flags
	redisAddr  string
	sshHost    string
	sshUser    string
	sshPass    string
	sshPort    int
	knownHosts string

	// Global option flags
	logLevel    string
	logJSON     bool
	verbose     bool
	executeMode bool
	jsonOutput  bool

	// Engine flags
	encapSource string
	underlayRIF string

	userSettings *settings.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "srv6orch",
	Short:             "SRv6 orchestration agent for SONiC",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `srv6orch maps the SRv6 tables of APPL_DB to SAI objects in ASIC_DB.

Segment lists, local SIDs, SRv6 routes, next-hop groups and PIC contexts
are consumed as they change; ECMP and VPN state is shared across routes and
released when the last user goes away.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		if redisAddr == "" {
			redisAddr = userSettings.GetRedisAddr()
		}
		if sshHost == "" {
			sshHost = userSettings.SSHHost
		}
		if sshUser == "" {
			sshUser = userSettings.SSHUser
		}
		if sshPass == "" {
			sshPass = userSettings.SSHPass
		}
		if sshPort == 0 {
			sshPort = userSettings.GetSSHPort()
		}
		if encapSource == "" {
			encapSource = userSettings.EncapSource
		}
		if underlayRIF == "" {
			underlayRIF = userSettings.UnderlayRIF
		}

		level := logLevel
		if level == "" {
			level = userSettings.LogLevel
		}
		switch {
		case verbose:
			level = "debug"
		case level == "":
			level = "info"
		}
		if err := util.SetLogLevel(level); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		if logJSON {
			util.SetJSONFormat()
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&redisAddr, "redis", "", "Redis address (default from settings, then 127.0.0.1:6379)")
	flags.StringVar(&sshHost, "ssh-host", "", "Tunnel Redis through SSH to this host")
	flags.StringVar(&sshUser, "ssh-user", "", "SSH user")
	flags.StringVar(&sshPass, "ssh-pass", "", "SSH password")
	flags.IntVar(&sshPort, "ssh-port", 0, "SSH port (default 22)")
	flags.StringVar(&knownHosts, "known-hosts", "", "known_hosts file used to verify the SSH host key")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&logJSON, "log-json", false, "Log in JSON")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "engine", Title: "Engine:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)
	for _, cmd := range []*cobra.Command{runCmd, replayCmd, pushCmd, showCmd, journalCmd} {
		cmd.GroupID = "engine"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("srv6orch dev build (use 'make build' for version info)")
		} else {
			fmt.Printf("srv6orch %s\n", version.Info())
		}
	},
}

// addEngineFlags registers the engine configuration flags on cmd.
func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&encapSource, "encap-source", "", "Default SRv6 encapsulation source")
	cmd.Flags().StringVar(&underlayRIF, "underlay-rif", "", "Underlay router interface OID for P2P tunnels")
}

// addOutputFlags registers --json on cmd.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
}

// redisEndpoint returns the address to reach Redis at, opening an SSH
// tunnel when --ssh-host is set. The returned close function is never nil.
func redisEndpoint() (string, func(), error) {
	if sshHost == "" {
		return redisAddr, func() {}, nil
	}
	tunnel, err := sonic.NewSSHTunnel(sonic.SSHConfig{
		Host:       sshHost,
		Port:       sshPort,
		User:       sshUser,
		Password:   sshPass,
		KnownHosts: knownHosts,
		RemoteAddr: redisAddr,
	})
	if err != nil {
		return "", func() {}, err
	}
	return tunnel.LocalAddr(), func() {
		if err := tunnel.Close(); err != nil {
			util.Debugf("closing SSH tunnel: %v", err)
		}
	}, nil
}

var (
	green  = cli.Green
	yellow = cli.Yellow
	red    = cli.Red
	bold   = cli.Bold
	dim    = cli.Dim
)
