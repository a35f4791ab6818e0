// Package pretooluse implements the per-tool-call policy engine. Each
// incoming tool invocation is categorized and run through a fixed check
// order; the first matching block wins. The engine is stateless across
// calls except through the session marker store.
package pretooluse

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/relgate/cli/cmd/relgate/cli/config"
	"github.com/relgate/cli/cmd/relgate/cli/decision"
	"github.com/relgate/cli/cmd/relgate/cli/hookio"
	"github.com/relgate/cli/cmd/relgate/cli/logging"
	"github.com/relgate/cli/cmd/relgate/cli/markers"
	"github.com/relgate/cli/cmd/relgate/cli/paths"
	"github.com/relgate/cli/cmd/relgate/cli/phrase"
	"github.com/relgate/cli/cmd/relgate/cli/tasks"
)

// Tool names as the agent reports them.
const (
	ToolBash         = "Bash"
	ToolWrite        = "Write"
	ToolEdit         = "Edit"
	ToolMultiEdit    = "MultiEdit"
	ToolNotebookEdit = "NotebookEdit"
	ToolMCPWrite     = "mcp__acp__Write" //nolint:gosec // G101: tool name, not a credential
	ToolMCPEdit      = "mcp__acp__Edit"
)

// Category buckets tool names into the classes the checks care about.
// Unrecognized tools fall into CategoryOther and pass through untouched.
type Category int

const (
	CategoryOther Category = iota
	CategoryBash
	CategoryFileMutation
)

// Categorize maps a tool name onto its policy category.
func Categorize(toolName string) Category {
	switch toolName {
	case ToolBash:
		return CategoryBash
	case ToolWrite, ToolEdit, ToolMultiEdit, ToolNotebookEdit, ToolMCPWrite, ToolMCPEdit:
		return CategoryFileMutation
	default:
		return CategoryOther
	}
}

// Engine evaluates policy for one session.
type Engine struct {
	Store *markers.Store
	Cfg   *config.Config
	Tasks *tasks.Client
}

// Evaluate runs the policy checks for one tool invocation. Marker store
// I/O errors are returned as errors, not decisions: the caller must fail
// the hook loudly rather than proceed as if no marker existed.
func (e *Engine) Evaluate(ctx context.Context, toolName string, input hookio.ToolInput) (decision.Decision, error) {
	cat := Categorize(toolName)

	if d, err := e.checkProblemMode(ctx, cat, input); err != nil || !d.Allowed() {
		return d, err
	}
	if cat == CategoryBash {
		if d := checkNoVerify(input.Command); !d.Allowed() {
			return d, nil
		}
	}
	if d := checkConfigProtection(cat, input); !d.Allowed() {
		return d, nil
	}
	if d, err := e.checkAutonomousSetup(ctx, cat, input); err != nil || !d.Allowed() {
		return d, err
	}
	if cat == CategoryFileMutation {
		if d, err := e.checkTaskRequired(ctx); err != nil || !d.Allowed() {
			return d, err
		}
		if err := e.Store.Set(markers.ValidationRequired, ""); err != nil {
			return decision.Allow(), fmt.Errorf("recording validation marker: %w", err)
		}
		logging.Debug(ctx, "validation marker set", "tool", toolName)
	}

	return decision.Allow(), nil
}

// checkProblemMode locks the toolset down while problem mode is active.
// The one permitted action is writing the problem explanation file, which
// also ends problem mode.
func (e *Engine) checkProblemMode(ctx context.Context, cat Category, input hookio.ToolInput) (decision.Decision, error) {
	has, err := e.Store.Has(markers.ProblemModeActive)
	if err != nil {
		return decision.Allow(), fmt.Errorf("reading problem marker: %w", err)
	}
	if !has {
		return decision.Allow(), nil
	}

	if cat == CategoryFileMutation && targetsPath(input.FilePath, paths.ProblemFile) {
		if err := e.Store.Clear(markers.ProblemModeActive); err != nil {
			return decision.Allow(), fmt.Errorf("clearing problem marker: %w", err)
		}
		logging.Info(ctx, "problem mode ended by explanation write")
		return decision.Allow(), nil
	}

	return decision.Block(fmt.Sprintf(
		"You declared a problem you cannot solve without user input. Before using any other tool, "+
			"write a full explanation of the problem to %s: what you were trying to do, what went wrong, "+
			"and what input you need.", paths.ProblemFile)), nil
}

func checkNoVerify(command string) decision.Decision {
	switch phrase.CheckNoVerify(command) {
	case phrase.NoVerifyBlocked:
		return decision.Block(
			"Git verification hooks cannot be bypassed. Remove the --no-verify (or -n) flag and fix " +
				"whatever the hooks report instead. If the user explicitly approved bypassing them, set the " +
				phrase.NoVerifyOKEnvVar + " environment variable as instructed by the user.")
	case phrase.NoVerifyAcknowledged, phrase.NoVerifyAbsent:
		return decision.Allow()
	default:
		return decision.Allow()
	}
}

// protectedFiles are operator-owned; the agent may never write, edit, or
// delete them.
var protectedFiles = []string{paths.ConfigFile, paths.LegacyConfigFile}

// destructiveCommandPattern matches shell constructs that can delete or
// overwrite a file named elsewhere in the command.
var destructiveCommandPattern = regexp.MustCompile(`(^|[\s;&|(])(rm|mv|truncate|shred|unlink)\s|>{1,2}`)

func checkConfigProtection(cat Category, input hookio.ToolInput) decision.Decision {
	switch cat {
	case CategoryFileMutation:
		for _, protected := range protectedFiles {
			if targetsPath(input.FilePath, protected) {
				return decision.Block(fmt.Sprintf(
					"%s is operator-owned configuration and cannot be modified by the agent. "+
						"Ask the user to change it if needed.", protected))
			}
		}
	case CategoryBash:
		for _, protected := range protectedFiles {
			if strings.Contains(input.Command, protected) && destructiveCommandPattern.MatchString(input.Command) {
				return decision.Block(fmt.Sprintf(
					"This command could delete or overwrite %s, which is operator-owned configuration. "+
						"Ask the user to change it if needed.", protected))
			}
		}
	case CategoryOther:
	}
	return decision.Allow()
}

// checkAutonomousSetup forces an autonomous session to write its plan
// before anything else. The plan write sets the session marker that
// unlocks the toolset.
func (e *Engine) checkAutonomousSetup(ctx context.Context, cat Category, input hookio.ToolInput) (decision.Decision, error) {
	if !e.Cfg.Autonomous.Enabled {
		return decision.Allow(), nil
	}
	has, err := e.Store.Has(markers.AutonomousSessionActive)
	if err != nil {
		return decision.Allow(), fmt.Errorf("reading autonomous marker: %w", err)
	}
	if has {
		return decision.Allow(), nil
	}

	if cat == CategoryFileMutation && targetsPath(input.FilePath, paths.SessionPlanFile) {
		if err := e.Store.Set(markers.AutonomousSessionActive, input.FilePath); err != nil {
			return decision.Allow(), fmt.Errorf("recording autonomous marker: %w", err)
		}
		logging.Info(ctx, "autonomous session plan written")
		return decision.Allow(), nil
	}

	return decision.Block(fmt.Sprintf(
		"This is an autonomous session. Write your session plan to %s before using any other tool: "+
			"the goal, the steps you intend to take, and how you will verify the result.",
		paths.SessionPlanFile)), nil
}

func (e *Engine) checkTaskRequired(ctx context.Context) (decision.Decision, error) {
	if !e.Cfg.RequireTask {
		return decision.Allow(), nil
	}
	n, err := e.Tasks.OpenCount(ctx)
	if err != nil {
		return decision.Allow(), fmt.Errorf("querying tasks: %w", err)
	}
	if n == 0 {
		return decision.Block(
			"This project requires tracked work. Create a task describing what you are about to change " +
				"before modifying any files."), nil
	}
	return decision.Allow(), nil
}

// targetsPath reports whether a tool's file path refers to relPath, which
// is relative to the repository root. The tool may pass either form.
func targetsPath(filePath, relPath string) bool {
	if filePath == "" {
		return false
	}
	clean := strings.TrimSuffix(filePath, "/")
	return clean == relPath || strings.HasSuffix(clean, "/"+relPath)
}
