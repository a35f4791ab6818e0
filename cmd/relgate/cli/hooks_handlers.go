package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/relgate/cli/cmd/relgate/cli/config"
	"github.com/relgate/cli/cmd/relgate/cli/gitstate"
	"github.com/relgate/cli/cmd/relgate/cli/hookio"
	"github.com/relgate/cli/cmd/relgate/cli/logging"
	"github.com/relgate/cli/cmd/relgate/cli/markers"
	"github.com/relgate/cli/cmd/relgate/cli/paths"
	"github.com/relgate/cli/cmd/relgate/cli/phrase"
	"github.com/relgate/cli/cmd/relgate/cli/pretooluse"
	"github.com/relgate/cli/cmd/relgate/cli/qualitygate"
	"github.com/relgate/cli/cmd/relgate/cli/settings"
	"github.com/relgate/cli/cmd/relgate/cli/stopengine"
	"github.com/relgate/cli/cmd/relgate/cli/tasks"
	"github.com/relgate/cli/cmd/relgate/cli/telemetry"
	"github.com/relgate/cli/cmd/relgate/cli/transcript"
)

// compactionReminder is injected after context compaction so the session
// does not lose the rules it is being held to.
const compactionReminder = "Context was compacted. Reminders: commit and push your work before " +
	"stopping, close or update open tasks, and the quality gate runs before a stop is accepted. " +
	"If you are genuinely stuck, say: \"" + phrase.ProblemDeclaredPhrase + "\""

// sessionScope is everything a hook handler needs for one event:
// the parsed input, a validated session id, and a marker store rooted
// at the repository.
type sessionScope struct {
	input *hookio.Input
	id    string
	root  string
	store *markers.Store
}

// newSessionScope parses the hook payload and initializes per-session
// logging. A missing or unusable session id gets a fresh ULID so marker
// state still lands somewhere consistent for the lifetime of the process.
func newSessionScope(in io.Reader) (*sessionScope, error) {
	input, err := hookio.ReadInput(in)
	if err != nil {
		return nil, fmt.Errorf("reading hook input: %w", err)
	}

	id := input.SessionID
	if paths.ValidateSessionID(id) != nil {
		id = ulid.Make().String()
	}
	_ = logging.Init(id)

	root := paths.RepoRootOr(".")
	store, err := markers.NewStore(root, id)
	if err != nil {
		return nil, fmt.Errorf("opening marker store: %w", err)
	}

	return &sessionScope{input: input, id: id, root: root, store: store}, nil
}

// hookTelemetry builds a telemetry client from the settings preference.
// Defaults to the no-op client whenever settings are unreadable or the
// user has not opted in.
func hookTelemetry() telemetry.Client { //nolint:ireturn // factory mirrors telemetry.NewClient
	st, err := settings.Load()
	if err != nil {
		return telemetry.NewClient(Version, nil)
	}
	return telemetry.NewClient(Version, st.Telemetry)
}

// latestAssistantText reads the transcript named in the hook payload and
// returns the final assistant message. Missing or malformed transcripts
// yield an empty string rather than an error.
func (s *sessionScope) latestAssistantText() string {
	lines, err := transcript.ParseFile(s.input.TranscriptPath)
	if err != nil {
		return ""
	}
	return transcript.LastAssistantText(lines)
}

// handleStop decides whether the agent may stop. An allowed stop exits
// silently; a blocked stop writes the response JSON to stdout, the reason
// to stderr, and exits 2 via SilentError.
func handleStop(in io.Reader, stdout, stderr io.Writer) error {
	scope, err := newSessionScope(in)
	if err != nil {
		// Malformed input must not wedge the agent in a stop loop.
		return nil //nolint:nilerr // fail open on unreadable payloads
	}

	// Stops made while continuing from a previous block are evaluated the
	// same as any other: committing nothing and stopping again must keep
	// blocking. Loop protection comes from the one-shot reflection marker
	// and the autonomous staleness budget, not from skipping evaluation.
	ctx := logging.WithSession(logging.WithHook(context.Background(), hookVerbStop), scope.id)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	scope.store.MaxIterations = cfg.Autonomous.MaxIdleIterations

	engine := &stopengine.Engine{
		Store: scope.store,
		Git:   gitstate.NewInspector(scope.root),
		Tasks: tasks.NewClient(scope.root),
		Gate:  &qualitygate.Runner{Dir: scope.root, Timeout: cfg.Gate.Timeout()},
		Cfg:   cfg,
	}

	d, err := engine.Evaluate(ctx, scope.latestAssistantText())
	if err != nil {
		return err
	}

	tel := hookTelemetry()
	defer tel.Close()
	tel.TrackHookDecision(hookVerbStop, d.Allowed())

	if d.Allowed() {
		logging.Debug(ctx, "stop allowed")
		return nil
	}

	logging.Info(ctx, "stop blocked", slog.String("reason", d.Reason()))

	if err := hookio.WriteJSON(stdout, hookio.StopResponse{Continue: false, StopReason: d.Reason()}); err != nil {
		return err
	}
	fmt.Fprintln(stderr, d.Reason())
	return NewSilentErrorWithCode(errors.New("stop blocked"), 2)
}

// handlePreToolUse evaluates one tool call against the policy engine and
// emits the permission decision.
func handlePreToolUse(in io.Reader, stdout, stderr io.Writer) error {
	scope, err := newSessionScope(in)
	if err != nil {
		return nil //nolint:nilerr // fail open on unreadable payloads
	}

	ctx := logging.WithSession(logging.WithHook(context.Background(), hookVerbPreToolUse), scope.id)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	engine := &pretooluse.Engine{
		Store: scope.store,
		Cfg:   cfg,
		Tasks: tasks.NewClient(scope.root),
	}

	d, err := engine.Evaluate(ctx, scope.input.ToolName, scope.input.ToolInput)
	if err != nil {
		return err
	}

	tel := hookTelemetry()
	defer tel.Close()
	tel.TrackHookDecision(hookVerbPreToolUse, d.Allowed())

	if d.Allowed() {
		return hookio.WriteJSON(stdout, hookio.NewPreToolUseOutput(hookio.PermissionAllow, ""))
	}

	logging.Info(ctx, "tool call denied",
		slog.String("tool", scope.input.ToolName),
		slog.String("reason", d.Reason()),
	)

	if err := hookio.WriteJSON(stdout, hookio.NewPreToolUseOutput(hookio.PermissionDeny, d.Reason())); err != nil {
		return err
	}
	fmt.Fprintln(stderr, d.Reason())
	return NewSilentErrorWithCode(errors.New("tool call denied"), 2)
}

// handleUserPromptSubmit clears the per-stop markers when the user takes
// over, and auto-answers a trailing continue-question when the user sent
// nothing of their own.
func handleUserPromptSubmit(in io.Reader, stdout io.Writer) error {
	scope, err := newSessionScope(in)
	if err != nil {
		return nil //nolint:nilerr // fail open on unreadable payloads
	}

	ctx := logging.WithSession(logging.WithHook(context.Background(), hookVerbUserPromptSubmit), scope.id)

	// A fresh user prompt supersedes the previous turn's transient state:
	// pending reflection and validation demands, and problem mode, since
	// the new message is the user input problem mode was waiting for.
	if err := scope.store.ClearTransient(); err != nil {
		return err
	}

	if strings.TrimSpace(scope.input.Prompt) == "" && phrase.IsContinueQuestion(scope.latestAssistantText()) {
		logging.Debug(ctx, "auto-answering continue question")
		return hookio.WriteJSON(stdout, hookio.NewUserPromptSubmitOutput(phrase.ContinueAnswer))
	}

	return nil
}

// handleSessionStart initializes session logging and, after compaction,
// re-injects the governor rules the compacted context may have lost.
func handleSessionStart(in io.Reader, stdout io.Writer) error {
	scope, err := newSessionScope(in)
	if err != nil {
		return nil //nolint:nilerr // fail open on unreadable payloads
	}

	ctx := logging.WithSession(logging.WithHook(context.Background(), hookVerbSessionStart), scope.id)
	logging.Info(ctx, "session started", slog.String("source", scope.input.Source))

	if scope.input.Source == "compact" {
		return hookio.WriteJSON(stdout, hookio.NewSessionStartOutput(compactionReminder))
	}

	return nil
}
