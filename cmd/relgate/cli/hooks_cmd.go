package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/relgate/cli/cmd/relgate/cli/logging"
	"github.com/relgate/cli/cmd/relgate/cli/settings"
)

// HookHandlerFunc is a function that handles a specific hook event.
type HookHandlerFunc func() error

// hookRegistry maps hook verbs to handler functions. Keeping handler logic
// in the cli package avoids circular dependencies with the engine packages.
var hookRegistry = map[string]HookHandlerFunc{}

// RegisterHookHandler registers a handler for a hook verb.
func RegisterHookHandler(hookName string, handler HookHandlerFunc) {
	hookRegistry[hookName] = handler
}

// GetHookHandler returns the handler for a hook verb, or nil if not found.
func GetHookHandler(hookName string) HookHandlerFunc {
	return hookRegistry[hookName]
}

// init registers the hook handlers.
// Each handler checks if the governor is enabled before executing.
//
//nolint:gochecknoinits // Hook handler registration at startup is the intended pattern
func init() {
	RegisterHookHandler(hookVerbSessionStart, func() error {
		if !settings.IsEnabled() {
			return nil
		}
		return handleSessionStart(os.Stdin, os.Stdout)
	})

	RegisterHookHandler(hookVerbStop, func() error {
		if !settings.IsEnabled() {
			return nil
		}
		return handleStop(os.Stdin, os.Stdout, os.Stderr)
	})

	RegisterHookHandler(hookVerbUserPromptSubmit, func() error {
		if !settings.IsEnabled() {
			return nil
		}
		return handleUserPromptSubmit(os.Stdin, os.Stdout)
	})

	RegisterHookHandler(hookVerbPreToolUse, func() error {
		if !settings.IsEnabled() {
			return nil
		}
		return handlePreToolUse(os.Stdin, os.Stdout, os.Stderr)
	})
}

// Hook verbs, matching the commands installed into the host settings file.
const (
	hookVerbSessionStart     = "session-start"
	hookVerbStop             = "stop"
	hookVerbUserPromptSubmit = "user-prompt-submit"
	hookVerbPreToolUse       = "pre-tool-use"
)

func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hooks",
		Short:  "Hook handlers",
		Long:   "Commands called by agent hooks. These are internal and not for direct user use.",
		Hidden: true, // Internal command, not for direct user use
	}

	for _, verb := range []string{hookVerbSessionStart, hookVerbStop, hookVerbUserPromptSubmit, hookVerbPreToolUse} {
		cmd.AddCommand(newHookVerbCmdWithLogging(verb))
	}

	return cmd
}

// newHookAliasCmds creates hidden top-level aliases for the hook verbs, so
// host configurations that call `relgate stop` or `relgate pre-tool-use`
// directly keep working. The pre-tool-use alias accepts an optional check
// name for compatibility with older installs; the full ordered policy runs
// either way, which is a superset of any single check.
func newHookAliasCmds() []*cobra.Command {
	stop := newHookVerbCmdWithLogging(hookVerbStop)
	stop.Hidden = true

	ups := newHookVerbCmdWithLogging(hookVerbUserPromptSubmit)
	ups.Hidden = true

	ptu := newHookVerbCmdWithLogging(hookVerbPreToolUse)
	ptu.Hidden = true
	ptu.Use = hookVerbPreToolUse + " [check]"
	ptu.Args = cobra.MaximumNArgs(1)

	return []*cobra.Command{stop, ups, ptu}
}

// newHookVerbCmdWithLogging creates a command for a specific hook verb with
// structured logging. It logs invocation at DEBUG level and completion with
// duration at DEBUG level.
func newHookVerbCmdWithLogging(hookName string) *cobra.Command {
	return &cobra.Command{
		Use:   hookName,
		Short: "Called on " + hookName,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Aliases run outside the hooks command tree, so the level
			// getter is wired here rather than in a PersistentPreRunE.
			logging.SetLogLevelGetter(GetLogLevel)
			defer logging.Close()

			start := time.Now()

			ctx := logging.WithHook(logging.WithComponent(context.Background(), "hooks"), hookName)

			logging.Debug(ctx, "hook invoked",
				slog.String("hook", hookName),
			)

			handler := GetHookHandler(hookName)
			if handler == nil {
				logging.Error(ctx, "no handler registered",
					slog.String("hook", hookName),
				)
				return fmt.Errorf("no handler registered for %s", hookName)
			}

			hookErr := handler()

			logging.LogDuration(ctx, slog.LevelDebug, "hook completed", start,
				slog.String("hook", hookName),
				slog.Bool("success", hookErr == nil),
			)

			return hookErr
		},
	}
}
