package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/relgate/cli/cmd/relgate/cli/config"
	"github.com/relgate/cli/cmd/relgate/cli/install"
	"github.com/relgate/cli/cmd/relgate/cli/paths"
	"github.com/relgate/cli/cmd/relgate/cli/settings"
	"github.com/relgate/cli/cmd/relgate/cli/tasks"
)

func newEnableCmd() *cobra.Command {
	var localDev bool
	var useLocalSettings bool
	var useProjectSettings bool
	var gateFlag string
	var forceHooks bool
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable the stop gate",
		Long:  "Enable the stop gate with interactive setup for the quality gate command",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateSetupFlags(useLocalSettings, useProjectSettings); err != nil {
				return err
			}
			// Non-interactive mode if --gate flag is provided or stdin is not a terminal
			if nonInteractive || gateFlag != "" || !term.IsTerminal(int(os.Stdin.Fd())) {
				return runEnableWithGate(cmd.OutOrStdout(), gateFlag, localDev, useLocalSettings, useProjectSettings, forceHooks)
			}
			return runEnableInteractive(cmd.OutOrStdout(), localDev, useLocalSettings, useProjectSettings, forceHooks)
		},
	}

	cmd.Flags().BoolVar(&localDev, "local-dev", false, "Use go run instead of the relgate binary for hooks")
	cmd.Flags().MarkHidden("local-dev") //nolint:errcheck,gosec // flag is defined above
	cmd.Flags().BoolVar(&useLocalSettings, "local", false, "Write settings to settings.local.json instead of settings.json")
	cmd.Flags().BoolVar(&useProjectSettings, "project", false, "Write settings to settings.json even if it already exists")
	cmd.Flags().StringVar(&gateFlag, "gate", "", "Quality gate command (e.g., 'go test ./...'). Enables non-interactive mode.")
	cmd.Flags().BoolVar(&nonInteractive, "yes", false, "Accept defaults without prompting")
	cmd.Flags().BoolVarP(&forceHooks, "force", "f", false, "Force reinstall hooks (removes existing relgate hooks first)")

	return cmd
}

func newDisableCmd() *cobra.Command {
	var useProjectSettings bool

	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable the stop gate",
		Long:  "Disable the stop gate temporarily. Hooks will exit silently and commands will show a disabled message.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDisable(cmd.OutOrStdout(), useProjectSettings)
		},
	}

	cmd.Flags().BoolVar(&useProjectSettings, "project", false, "Update settings.json instead of settings.local.json")

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gate status",
		Long:  "Show whether the stop gate is enabled, how it is configured, and whether hooks are installed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.OutOrStdout())
		},
	}
}

func validateSetupFlags(useLocalSettings, useProjectSettings bool) error {
	if useLocalSettings && useProjectSettings {
		return fmt.Errorf("cannot use --local and --project together")
	}
	return nil
}

// runEnableWithGate enables the gate non-interactively. gateCommand may be
// empty, in which case no gate is configured and the gate check is skipped
// at stop time.
func runEnableWithGate(w io.Writer, gateCommand string, localDev, useLocalSettings, useProjectSettings, forceHooks bool) error {
	if _, err := paths.RepoRoot(); err != nil {
		return fmt.Errorf("enable must be run inside a git repository: %w", err)
	}

	hooksInstalled, err := install.InstallHooks(localDev, forceHooks)
	if err != nil {
		return fmt.Errorf("failed to install agent hooks: %w", err)
	}
	if hooksInstalled > 0 {
		fmt.Fprintln(w, "✓ Agent hooks installed")
	} else {
		fmt.Fprintln(w, "✓ Agent hooks verified")
	}

	dirCreated, err := setupRelgateDirectory()
	if err != nil {
		return fmt.Errorf("failed to setup .relgate directory: %w", err)
	}
	if dirCreated {
		fmt.Fprintln(w, "✓ .relgate directory created")
	}

	if gateCommand != "" {
		written, err := writeGateConfig(gateCommand)
		if err != nil {
			return fmt.Errorf("failed to write gate config: %w", err)
		}
		if written {
			fmt.Fprintf(w, "✓ Gate command saved (%s)\n", paths.ConfigFile)
		} else {
			fmt.Fprintf(w, "Info: %s already exists, gate command not changed.\n", paths.ConfigFile)
		}
	}

	return saveEnabledSettings(w, nil, useLocalSettings, useProjectSettings)
}

// runEnableInteractive runs the interactive enable flow.
func runEnableInteractive(w io.Writer, localDev, useLocalSettings, useProjectSettings, forceHooks bool) error {
	if _, err := paths.RepoRoot(); err != nil {
		return fmt.Errorf("enable must be run inside a git repository: %w", err)
	}

	existing, err := settings.Load()
	if err != nil {
		existing = &settings.Settings{Enabled: true}
	}
	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}

	gateCommand := cfg.Gate.Command
	telemetryOptIn := existing.Telemetry != nil && *existing.Telemetry

	groups := []*huh.Group{
		huh.NewGroup(
			huh.NewInput().
				Title("Quality gate command").
				Description("Run via the shell before a stop is accepted. Leave empty to skip the gate.").
				Placeholder("go test ./...").
				Value(&gateCommand),
		),
	}
	if existing.Telemetry == nil {
		groups = append(groups, huh.NewGroup(
			huh.NewConfirm().
				Title("Share anonymous usage analytics?").
				Description("Only the command name and decision outcome are reported, never file contents.").
				Value(&telemetryOptIn),
		))
	}

	form := NewAccessibleForm(groups...)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	hooksInstalled, err := install.InstallHooks(localDev, forceHooks)
	if err != nil {
		return fmt.Errorf("failed to install agent hooks: %w", err)
	}
	if hooksInstalled > 0 {
		fmt.Fprintln(w, "✓ Agent hooks installed")
	} else {
		fmt.Fprintln(w, "✓ Agent hooks verified")
	}

	dirCreated, err := setupRelgateDirectory()
	if err != nil {
		return fmt.Errorf("failed to setup .relgate directory: %w", err)
	}
	if dirCreated {
		fmt.Fprintln(w, "✓ .relgate directory created")
	}

	if gateCommand != "" && gateCommand != cfg.Gate.Command {
		written, err := writeGateConfig(gateCommand)
		if err != nil {
			return fmt.Errorf("failed to write gate config: %w", err)
		}
		if written {
			fmt.Fprintf(w, "✓ Gate command saved (%s)\n", paths.ConfigFile)
		} else {
			fmt.Fprintf(w, "Info: %s already exists, edit it to change the gate command.\n", paths.ConfigFile)
		}
	}

	var telemetry *bool
	if existing.Telemetry == nil {
		telemetry = &telemetryOptIn
	}
	return saveEnabledSettings(w, telemetry, useLocalSettings, useProjectSettings)
}

// saveEnabledSettings flips the enabled flag on and persists it, deciding
// between the project and local settings file the same way disable does.
func saveEnabledSettings(w io.Writer, telemetry *bool, useLocalSettings, useProjectSettings bool) error {
	st, err := settings.Load()
	if err != nil {
		st = &settings.Settings{}
	}
	st.Enabled = true
	if telemetry != nil {
		st.Telemetry = telemetry
	}

	shouldUseLocal, showNotification := determineSettingsTarget(useLocalSettings, useProjectSettings)

	if showNotification {
		fmt.Fprintln(w, "Info: Project settings exist. Saving to settings.local.json instead.")
		fmt.Fprintln(w, "  Use --project to update the project settings file.")
	}

	if shouldUseLocal {
		if err := settings.SaveLocal(st); err != nil {
			return fmt.Errorf("failed to save local settings: %w", err)
		}
		fmt.Fprintf(w, "✓ Local settings saved (%s)\n", settings.SettingsLocalFile)
	} else {
		if err := settings.Save(st); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Fprintf(w, "✓ Project settings saved (%s)\n", settings.SettingsFile)
	}

	fmt.Fprintln(w, "\n✓ Stop gate enabled")
	return nil
}

// determineSettingsTarget decides whether to write local or project
// settings. Explicit flags win; otherwise an existing committed settings
// file steers the write to settings.local.json so enable does not dirty
// the working tree.
func determineSettingsTarget(useLocalSettings, useProjectSettings bool) (useLocal, notify bool) {
	if useLocalSettings {
		return true, false
	}
	if useProjectSettings {
		return false, false
	}
	settingsAbs, err := paths.AbsPath(settings.SettingsFile)
	if err != nil {
		settingsAbs = settings.SettingsFile
	}
	if _, err := os.Stat(settingsAbs); err == nil {
		return true, true
	}
	return false, false
}

// setupRelgateDirectory creates the .relgate directory tree.
// Returns true if the top-level directory was newly created.
func setupRelgateDirectory() (bool, error) {
	dirAbs, err := paths.AbsPath(paths.RelgateDir)
	if err != nil {
		dirAbs = paths.RelgateDir
	}

	created := false
	if _, err := os.Stat(dirAbs); os.IsNotExist(err) {
		created = true
	}

	tmpAbs, err := paths.AbsPath(paths.RelgateTmpDir)
	if err != nil {
		tmpAbs = paths.RelgateTmpDir
	}
	if err := os.MkdirAll(tmpAbs, 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", paths.RelgateTmpDir, err)
	}

	// Session state and logs are per-machine scratch, never committed.
	gitignore := []byte("tmp/\nlogs/\nsettings.local.json\n")
	gitignorePath := filepath.Join(dirAbs, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(gitignorePath, gitignore, 0o644); err != nil { //nolint:gosec // not sensitive
			return false, fmt.Errorf("writing .relgate/.gitignore: %w", err)
		}
	}

	return created, nil
}

// writeGateConfig writes a minimal config.yaml with the gate command.
// Refuses to overwrite an existing config file, since that file is
// operator-owned. Returns true if the file was written.
func writeGateConfig(gateCommand string) (bool, error) {
	configAbs, err := paths.AbsPath(paths.ConfigFile)
	if err != nil {
		configAbs = paths.ConfigFile
	}

	if _, err := os.Stat(configAbs); err == nil {
		return false, nil
	}

	content := fmt.Sprintf("gate:\n  command: %q\n  timeout_seconds: %d\n", gateCommand, config.DefaultGateTimeoutSeconds)
	if err := os.WriteFile(configAbs, []byte(content), 0o644); err != nil { //nolint:gosec // not sensitive
		return false, fmt.Errorf("writing config file: %w", err)
	}
	return true, nil
}

func runDisable(w io.Writer, useProjectSettings bool) error {
	st, err := settings.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	st.Enabled = false

	// If --project flag is specified, always write to project settings
	if useProjectSettings {
		if err := settings.Save(st); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
	} else {
		// Check if local settings file exists - if so, write there
		localSettingsAbs, pathErr := paths.AbsPath(settings.SettingsLocalFile)
		if pathErr != nil {
			localSettingsAbs = settings.SettingsLocalFile
		}
		if _, statErr := os.Stat(localSettingsAbs); statErr == nil {
			if err := settings.SaveLocal(st); err != nil {
				return fmt.Errorf("failed to save local settings: %w", err)
			}
		} else {
			if err := settings.Save(st); err != nil {
				return fmt.Errorf("failed to save settings: %w", err)
			}
		}
	}

	fmt.Fprintln(w, "Stop gate is now disabled.")
	return nil
}

func runStatus(w io.Writer) error {
	// Check if we're in a git repository
	root, repoErr := paths.RepoRoot()
	if repoErr != nil {
		fmt.Fprintln(w, "✕ not a git repository")
		return nil //nolint:nilerr // Not being in a git repo is a valid status, not an error
	}

	if !isSetUp() {
		fmt.Fprintln(w, "○ not set up (run `relgate enable` to get started)")
		return nil
	}

	st, err := settings.Load()
	if err != nil {
		return fmt.Errorf("failed to check status: %w", err)
	}

	if st.Enabled {
		fmt.Fprintln(w, "● enabled")
	} else {
		fmt.Fprintln(w, "○ disabled")
	}

	if install.AreHooksInstalled() {
		fmt.Fprintln(w, "✓ agent hooks installed")
	} else {
		fmt.Fprintln(w, "✕ agent hooks missing (run `relgate enable` to install)")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(w, "✕ config unreadable: %v\n", err)
		return nil
	}

	if cfg.Gate.Command != "" {
		fmt.Fprintf(w, "  gate: %s (timeout %s)\n", cfg.Gate.Command, cfg.Gate.Timeout())
	} else {
		fmt.Fprintln(w, "  gate: not configured")
	}
	if cfg.RequireTask {
		fmt.Fprintln(w, "  require_task: on")
	}
	if cfg.Autonomous.Enabled {
		fmt.Fprintln(w, "  autonomous: on")
	}
	if tasks.NewClient(root).Available() {
		fmt.Fprintln(w, "  tasks: tracking database present")
	}

	return nil
}

// isSetUp reports whether either settings file exists.
func isSetUp() bool {
	for _, rel := range []string{settings.SettingsFile, settings.SettingsLocalFile} {
		abs, err := paths.AbsPath(rel)
		if err != nil {
			abs = rel
		}
		if _, err := os.Stat(abs); err == nil {
			return true
		}
	}
	return false
}

// DisabledMessage is the message shown when the gate is disabled
const DisabledMessage = "Stop gate is disabled. Run `relgate enable` to re-enable."
