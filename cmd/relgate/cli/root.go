package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/relgate/cli/cmd/relgate/cli/config"
	"github.com/relgate/cli/cmd/relgate/cli/settings"
	"github.com/relgate/cli/cmd/relgate/cli/telemetry"
	"github.com/relgate/cli/cmd/relgate/cli/versioncheck"
)

const gettingStarted = `

Getting Started:
  Run 'relgate enable' inside a git repository to install the agent
  hooks and start gating session stops.

`

const accessibilityHelp = `
Environment Variables:
  ACCESSIBLE    Set to any value (e.g., ACCESSIBLE=1) to enable accessibility
                mode. This uses simpler text prompts instead of interactive
                TUI elements, which works better with screen readers.
`

// Version information (can be set at build time)
var (
	Version = "dev"
	Commit  = "unknown"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relgate",
		Short: "Reliability gate for coding agent sessions",
		Long:  "A behavioral governor that decides when a coding agent may stop" + gettingStarted + accessibilityHelp,
		// Let main.go handle error printing to avoid duplication
		SilenceErrors: true,
		// Hide completion command from help but keep it functional
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			// Load telemetry preference from settings (ignore errors - nil defaults to disabled)
			var telemetryEnabled *bool
			enabled := true
			st, err := settings.Load()
			if err == nil {
				telemetryEnabled = st.Telemetry
				enabled = st.Enabled
			}

			telemetryClient := telemetry.NewClient(Version, telemetryEnabled)
			defer telemetryClient.Close()
			telemetryClient.TrackCommand(cmd, gateConfigured(), enabled)

			// Skipped for hidden (hook) commands so nothing extra is
			// ever printed into the agent's context.
			versioncheck.CheckAndNotify(cmd, Version)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newEnableCmd())
	cmd.AddCommand(newDisableCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHooksCmd())
	cmd.AddCommand(newVersionCmd())
	for _, alias := range newHookAliasCmds() {
		cmd.AddCommand(alias)
	}

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("relgate %s (%s)\n", Version, Commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// gateConfigured reports whether a quality gate command is set, without
// exposing the command itself to telemetry.
func gateConfigured() bool {
	cfg, err := config.Load()
	if err != nil {
		return false
	}
	return cfg.Gate.Command != ""
}

// GetLogLevel returns the configured log level for the logging package.
func GetLogLevel() string {
	st, err := settings.Load()
	if err != nil {
		return ""
	}
	return st.LogLevel
}
