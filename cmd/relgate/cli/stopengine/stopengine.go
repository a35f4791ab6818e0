// Package stopengine decides whether the agent may end its turn. Each stop
// event is evaluated fresh against the session markers, the git working
// tree, the task database, and the configured quality gate. The first
// matching block wins; a clean session takes the fast path and touches
// nothing.
package stopengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relgate/cli/cmd/relgate/cli/config"
	"github.com/relgate/cli/cmd/relgate/cli/decision"
	"github.com/relgate/cli/cmd/relgate/cli/gitstate"
	"github.com/relgate/cli/cmd/relgate/cli/logging"
	"github.com/relgate/cli/cmd/relgate/cli/markers"
	"github.com/relgate/cli/cmd/relgate/cli/paths"
	"github.com/relgate/cli/cmd/relgate/cli/phrase"
	"github.com/relgate/cli/cmd/relgate/cli/qualitygate"
	"github.com/relgate/cli/cmd/relgate/cli/tasks"
)

// MaxUntrackedListed caps how many untracked files block feedback names.
const MaxUntrackedListed = 10

// GitInspector yields a snapshot of the working tree.
type GitInspector interface {
	Snapshot(ctx context.Context) (gitstate.Snapshot, error)
}

// TaskLister queries open work items.
type TaskLister interface {
	OpenTasks(ctx context.Context) ([]tasks.Task, error)
}

// GateRunner executes the quality gate command.
type GateRunner interface {
	Run(ctx context.Context, command string) qualitygate.Result
}

// Engine evaluates stop events for one session.
type Engine struct {
	Store *markers.Store
	Git   GitInspector
	Tasks TaskLister
	Gate  GateRunner
	Cfg   *config.Config
}

// Evaluate decides one stop event. latestAgentText is the final assistant
// message from the transcript, scanned for bypass phrases and trailing
// questions. Marker store I/O errors are returned, not converted to
// decisions: the caller fails the hook loudly.
func (e *Engine) Evaluate(ctx context.Context, latestAgentText string) (decision.Decision, error) {
	// Bypass phrases are honored before anything else so the agent is
	// never permanently wedged, whatever state the session is in.
	switch phrase.Scan(latestAgentText) {
	case phrase.IntentProblemDeclared:
		if err := e.Store.Set(markers.ProblemModeActive, strings.TrimSpace(latestAgentText)); err != nil {
			return decision.Allow(), fmt.Errorf("recording problem marker: %w", err)
		}
		logging.Info(ctx, "stop allowed", "via", "problem_declared")
		return decision.Allow(), nil
	case phrase.IntentReadyForHumanInput:
		if err := e.Store.ClearTransient(); err != nil {
			return decision.Allow(), fmt.Errorf("clearing markers: %w", err)
		}
		logging.Info(ctx, "stop allowed", "via", "ready_for_human_input")
		return decision.Allow(), nil
	case phrase.IntentNone:
	}

	snap, gitErr := e.snapshot(ctx)
	if gitErr != nil {
		return decision.Block(fmt.Sprintf(
			"Could not inspect the git working tree: %v. Investigate the git failure before stopping.",
			gitErr)), nil
	}

	fast, err := e.fastPathEligible(snap)
	if err != nil {
		return decision.Allow(), err
	}
	if fast {
		logging.Debug(ctx, "stop allowed", "via", "fast_path")
		return decision.Allow(), nil
	}

	if d, err := e.checkProblemMode(); err != nil || !d.Allowed() {
		return e.noteBlocked(ctx, d), err
	}
	if d, err := e.checkContinueQuestion(latestAgentText); err != nil || !d.Allowed() {
		return e.noteBlocked(ctx, d), err
	}
	if d := checkUncommitted(snap); !d.Allowed() {
		return e.noteBlocked(ctx, d), nil
	}
	if d := checkUnpushed(snap); !d.Allowed() {
		return e.noteBlocked(ctx, d), nil
	}
	if d, err := e.checkOpenTasks(ctx); err != nil || !d.Allowed() {
		return e.noteBlocked(ctx, d), err
	}
	if d, err := e.checkReflection(ctx); err != nil || !d.Allowed() {
		return e.noteBlocked(ctx, d), err
	}
	if d, err := e.checkQualityGate(ctx); err != nil || !d.Allowed() {
		return e.noteBlocked(ctx, d), err
	}

	if err := e.Store.Clear(markers.ReflectionRequested); err != nil {
		return decision.Allow(), fmt.Errorf("clearing reflection marker: %w", err)
	}
	if err := e.Store.Clear(markers.ValidationRequired); err != nil {
		return decision.Allow(), fmt.Errorf("clearing validation marker: %w", err)
	}
	logging.Info(ctx, "stop allowed")
	return decision.Allow(), nil
}

// snapshot inspects the working tree. Outside a git repository no git
// constraints apply and a zero snapshot is returned.
func (e *Engine) snapshot(ctx context.Context) (gitstate.Snapshot, error) {
	snap, err := e.Git.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, paths.ErrNotARepository) {
			return gitstate.Snapshot{}, nil
		}
		return gitstate.Snapshot{}, err
	}
	return snap, nil
}

// fastPathEligible reports whether the cheap unconditional Allow applies:
// no markers of any kind and a clean, pushed working tree. The common case
// must not pay for the task query or the quality gate.
func (e *Engine) fastPathEligible(snap gitstate.Snapshot) (bool, error) {
	any, err := e.Store.Any()
	if err != nil {
		return false, fmt.Errorf("reading markers: %w", err)
	}
	if any {
		return false, nil
	}
	return snap.Clean() && snap.CommitsAhead == 0, nil
}

func (e *Engine) checkProblemMode() (decision.Decision, error) {
	has, err := e.Store.Has(markers.ProblemModeActive)
	if err != nil {
		return decision.Allow(), fmt.Errorf("reading problem marker: %w", err)
	}
	if !has {
		return decision.Allow(), nil
	}
	// Not cleared here: the agent clears it by writing the explanation,
	// which re-enters through the pre-tool-use policy.
	return decision.Block(fmt.Sprintf(
		"You declared a problem you cannot solve without user input. Write a full explanation to %s "+
			"before stopping: what you were trying to do, what went wrong, and what input you need.",
		paths.ProblemFile)), nil
}

// checkContinueQuestion keeps autonomous sessions moving: when the agent
// ends its turn asking whether to continue, the answer is always yes.
func (e *Engine) checkContinueQuestion(latestAgentText string) (decision.Decision, error) {
	has, err := e.Store.Has(markers.AutonomousSessionActive)
	if err != nil {
		return decision.Allow(), fmt.Errorf("reading autonomous marker: %w", err)
	}
	if !has {
		return decision.Allow(), nil
	}
	if phrase.IsContinueQuestion(latestAgentText) || phrase.LooksLikeQuestion(latestAgentText) {
		return decision.Block(phrase.ContinueAnswer), nil
	}
	return decision.Allow(), nil
}

func checkUncommitted(snap gitstate.Snapshot) decision.Decision {
	if !snap.HasUncommittedChanges && len(snap.UntrackedFiles) == 0 {
		return decision.Allow()
	}

	var b strings.Builder
	b.WriteString("The working tree has uncommitted work.\n")
	if snap.HasUncommittedChanges {
		b.WriteString("- Tracked files have staged or unstaged changes")
		if snap.DiffStat != "" {
			b.WriteString(":\n")
			for _, line := range strings.Split(snap.DiffStat, "\n") {
				fmt.Fprintf(&b, "    %s\n", strings.TrimSpace(line))
			}
		} else {
			b.WriteString(".\n")
		}
	}
	if len(snap.UntrackedFiles) > 0 {
		b.WriteString("- Untracked files:\n")
		listed := snap.UntrackedFiles
		extra := 0
		if len(listed) > MaxUntrackedListed {
			extra = len(listed) - MaxUntrackedListed
			listed = listed[:MaxUntrackedListed]
		}
		for _, f := range listed {
			fmt.Fprintf(&b, "    %s\n", f)
		}
		if extra > 0 {
			fmt.Fprintf(&b, "    ... and %d more\n", extra)
		}
	}
	b.WriteString("For each untracked file decide whether it belongs in .gitignore; stage and commit everything else before stopping.")
	return decision.Block(b.String())
}

func checkUnpushed(snap gitstate.Snapshot) decision.Decision {
	// Without an upstream there is nothing to push to.
	if !snap.HasUpstream || snap.CommitsAhead == 0 {
		return decision.Allow()
	}
	plural := "commits"
	if snap.CommitsAhead == 1 {
		plural = "commit"
	}
	return decision.Block(fmt.Sprintf(
		"The local branch is %d %s ahead of its upstream. Push before stopping.",
		snap.CommitsAhead, plural))
}

func (e *Engine) checkOpenTasks(ctx context.Context) (decision.Decision, error) {
	open, err := e.Tasks.OpenTasks(ctx)
	if err != nil {
		return decision.Allow(), fmt.Errorf("querying tasks: %w", err)
	}
	if len(open) == 0 {
		return decision.Allow(), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "There are %d open tasks:\n", len(open))
	for _, t := range open {
		status := t.Status
		if t.InProgress {
			status = "in progress"
		}
		fmt.Fprintf(&b, "    [%s] %s (%s)\n", t.ID, t.Title, status)
	}
	b.WriteString("Complete them, or mark them abandoned with a reason, before stopping.")
	return decision.Block(b.String()), nil
}

// checkReflection is a one-shot nudge: the first stop after file mutations
// asks the agent to self-verify; an immediate retry passes.
func (e *Engine) checkReflection(ctx context.Context) (decision.Decision, error) {
	validation, err := e.Store.Has(markers.ValidationRequired)
	if err != nil {
		return decision.Allow(), fmt.Errorf("reading validation marker: %w", err)
	}
	if !validation {
		return decision.Allow(), nil
	}
	reflected, err := e.Store.Has(markers.ReflectionRequested)
	if err != nil {
		return decision.Allow(), fmt.Errorf("reading reflection marker: %w", err)
	}
	if reflected {
		return decision.Allow(), nil
	}
	if err := e.Store.Set(markers.ReflectionRequested, ""); err != nil {
		return decision.Allow(), fmt.Errorf("recording reflection marker: %w", err)
	}
	logging.Debug(ctx, "reflection requested")
	return decision.Block(
		"Task Completion Check: you modified files this session. Before stopping, re-read the original " +
			"request and verify every part of it is done, tested, and committed. If anything is missing, " +
			"finish it now; if everything is complete, stop again."), nil
}

func (e *Engine) checkQualityGate(ctx context.Context) (decision.Decision, error) {
	validation, err := e.Store.Has(markers.ValidationRequired)
	if err != nil {
		return decision.Allow(), fmt.Errorf("reading validation marker: %w", err)
	}
	if !validation || e.Cfg.Gate.Command == "" {
		return decision.Allow(), nil
	}

	res := e.Gate.Run(ctx, e.Cfg.Gate.Command)
	logging.Info(ctx, "quality gate finished", "outcome", res.Outcome.String(), "exit_code", res.ExitCode)

	switch res.Outcome {
	case qualitygate.Passed:
		// A pass clears the marker so the gate does not rerun on the
		// next stop of this session.
		if err := e.Store.Clear(markers.ValidationRequired); err != nil {
			return decision.Allow(), fmt.Errorf("clearing validation marker: %w", err)
		}
		return decision.Allow(), nil
	case qualitygate.Failed:
		return decision.Block(fmt.Sprintf(
			"The quality gate command %q failed with exit code %d. Fix the failures and stop again.\n\nOutput:\n%s",
			e.Cfg.Gate.Command, res.ExitCode, res.OutputTail)), nil
	case qualitygate.TimedOut:
		return decision.Block(fmt.Sprintf(
			"The quality gate command %q exceeded its %s timeout. This often means an infinite loop or a "+
				"hung process in the code under test. Investigate before stopping.\n\nOutput so far:\n%s",
			e.Cfg.Gate.Command, e.Cfg.Gate.Timeout(), res.OutputTail)), nil
	case qualitygate.ExecError:
		return decision.Block(fmt.Sprintf(
			"The quality gate command %q could not be run: %v. The gate was not evaluated; investigate the "+
				"tooling failure before stopping.", e.Cfg.Gate.Command, res.Err)), nil
	default:
		return decision.Block(fmt.Sprintf(
			"The quality gate command %q produced an unrecognized outcome. Investigate before stopping.",
			e.Cfg.Gate.Command)), nil
	}
}

// noteBlocked records one more blocked stop against the autonomous
// iteration budget, dropping the marker once it goes stale.
func (e *Engine) noteBlocked(ctx context.Context, d decision.Decision) decision.Decision {
	if d.Allowed() {
		return d
	}
	m, err := e.Store.BumpAutonomousIteration()
	if err != nil {
		logging.Warn(ctx, "failed to bump autonomous iteration", "error", err)
		return d
	}
	if m == nil {
		logging.Debug(ctx, "autonomous marker stale or absent")
	}
	return d
}
