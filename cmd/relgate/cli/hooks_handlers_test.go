package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgate/cli/cmd/relgate/cli/hookio"
	"github.com/relgate/cli/cmd/relgate/cli/markers"
	"github.com/relgate/cli/cmd/relgate/cli/paths"
	"github.com/relgate/cli/cmd/relgate/cli/phrase"
)

const testSessionID = "sess-handlers-test"

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	return dir
}

func commitAll(t *testing.T, dir, message string) {
	t.Helper()
	for _, args := range [][]string{
		{"add", "-A"},
		{"commit", "--allow-empty", "-m", message},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
}

func chdirRepo(t *testing.T, dir string) {
	t.Helper()
	t.Chdir(dir)
	paths.ClearRepoRootCache()
	t.Cleanup(paths.ClearRepoRootCache)
}

func hookInput(t *testing.T, in hookio.Input) io.Reader {
	t.Helper()
	data, err := json.Marshal(in)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

// writeTranscript writes a minimal transcript whose final assistant
// message is text.
func writeTranscript(t *testing.T, dir, text string) string {
	t.Helper()
	path := filepath.Join(dir, "transcript.jsonl")
	line := fmt.Sprintf(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":%q}]}}`, text)
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o644))
	return path
}

func sessionStore(t *testing.T, dir string) *markers.Store {
	t.Helper()
	store, err := markers.NewStore(dir, testSessionID)
	require.NoError(t, err)
	return store
}

func TestHandleStop_CleanRepoAllows(t *testing.T) {
	dir := initGitRepo(t)
	commitAll(t, dir, "initial")
	chdirRepo(t, dir)

	var stdout, stderr bytes.Buffer
	err := handleStop(hookInput(t, hookio.Input{SessionID: testSessionID}), &stdout, &stderr)

	require.NoError(t, err)
	assert.Empty(t, stdout.String())
	assert.Empty(t, stderr.String())
}

func TestHandleStop_UncommittedChangesBlock(t *testing.T) {
	dir := initGitRepo(t)
	commitAll(t, dir, "initial")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wip.txt"), []byte("wip"), 0o644))
	chdirRepo(t, dir)

	var stdout, stderr bytes.Buffer
	err := handleStop(hookInput(t, hookio.Input{SessionID: testSessionID}), &stdout, &stderr)

	var silent *SilentError
	require.ErrorAs(t, err, &silent)
	assert.Equal(t, 2, silent.ExitCode())

	var resp hookio.StopResponse
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
	assert.False(t, resp.Continue)
	assert.Contains(t, resp.StopReason, "wip.txt")
	assert.Contains(t, stderr.String(), "wip.txt")
}

// A stop made while continuing from a previous block gets the same
// evaluation: an uncommitted tree keeps blocking until it is committed,
// however many times the agent tries to stop.
func TestHandleStop_RepeatedAttemptsKeepBlocking(t *testing.T) {
	dir := initGitRepo(t)
	commitAll(t, dir, "initial")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wip.txt"), []byte("wip"), 0o644))
	chdirRepo(t, dir)

	for _, active := range []bool{false, true} {
		var stdout, stderr bytes.Buffer
		err := handleStop(hookInput(t, hookio.Input{SessionID: testSessionID, StopHookActive: active}), &stdout, &stderr)

		var silent *SilentError
		require.ErrorAs(t, err, &silent, "stop_hook_active=%v", active)
		assert.Equal(t, 2, silent.ExitCode())
		assert.Contains(t, stdout.String(), "wip.txt")
	}
}

// The reflection check fires once; the retry must reach the quality gate
// instead of being waved through, so a failing gate still blocks the
// second stop attempt.
func TestHandleStop_SecondAttemptReachesQualityGate(t *testing.T) {
	dir := initGitRepo(t)
	commitAll(t, dir, "initial")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".relgate"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".relgate", "config.yaml"),
		[]byte("gate:\n  command: \"exit 1\"\n"), 0o644))
	commitAll(t, dir, "config")
	chdirRepo(t, dir)

	store := sessionStore(t, dir)
	require.NoError(t, store.Set(markers.ValidationRequired, ""))

	var stdout, stderr bytes.Buffer
	err := handleStop(hookInput(t, hookio.Input{SessionID: testSessionID}), &stdout, &stderr)
	var silent *SilentError
	require.ErrorAs(t, err, &silent)
	assert.Contains(t, stdout.String(), "Task Completion Check")

	stdout.Reset()
	stderr.Reset()
	err = handleStop(hookInput(t, hookio.Input{SessionID: testSessionID, StopHookActive: true}), &stdout, &stderr)
	require.ErrorAs(t, err, &silent)
	assert.Contains(t, stdout.String(), "quality gate")
}

// Outside a git repository the git checks are vacuous but marker state
// still gates the stop, with session storage rooted at the working
// directory.
func TestHandleStop_OutsideGitRepoMarkersStillGate(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("GIT_CEILING_DIRECTORIES", dir)
	paths.ClearRepoRootCache()
	t.Cleanup(paths.ClearRepoRootCache)

	store := sessionStore(t, dir)
	require.NoError(t, store.Set(markers.ValidationRequired, ""))

	var stdout, stderr bytes.Buffer
	err := handleStop(hookInput(t, hookio.Input{SessionID: testSessionID}), &stdout, &stderr)

	var silent *SilentError
	require.ErrorAs(t, err, &silent)
	assert.Equal(t, 2, silent.ExitCode())
	assert.Contains(t, stdout.String(), "Task Completion Check")
}

func TestHandleStop_MalformedInputFailsOpen(t *testing.T) {
	chdirRepo(t, initGitRepo(t))

	var stdout, stderr bytes.Buffer
	err := handleStop(strings.NewReader("not json"), &stdout, &stderr)

	require.NoError(t, err)
	assert.Empty(t, stdout.String())
}

func TestHandleStop_ProblemPhraseSetsMarkerAndAllows(t *testing.T) {
	dir := initGitRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wip.txt"), []byte("wip"), 0o644))
	transcriptPath := writeTranscript(t, dir, "Details here. "+phrase.ProblemDeclaredPhrase)
	chdirRepo(t, dir)

	var stdout, stderr bytes.Buffer
	err := handleStop(hookInput(t, hookio.Input{SessionID: testSessionID, TranscriptPath: transcriptPath}), &stdout, &stderr)

	require.NoError(t, err)
	has, err := sessionStore(t, dir).Has(markers.ProblemModeActive)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestHandlePreToolUse_AllowEmitsDecision(t *testing.T) {
	dir := initGitRepo(t)
	chdirRepo(t, dir)

	var stdout, stderr bytes.Buffer
	err := handlePreToolUse(hookInput(t, hookio.Input{
		SessionID: testSessionID,
		ToolName:  "Bash",
		ToolInput: hookio.ToolInput{Command: "ls"},
	}), &stdout, &stderr)

	require.NoError(t, err)
	var out hookio.PreToolUseOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, hookio.PermissionAllow, out.HookSpecificOutput.PermissionDecision)
}

func TestHandlePreToolUse_NoVerifyDenied(t *testing.T) {
	dir := initGitRepo(t)
	chdirRepo(t, dir)

	var stdout, stderr bytes.Buffer
	err := handlePreToolUse(hookInput(t, hookio.Input{
		SessionID: testSessionID,
		ToolName:  "Bash",
		ToolInput: hookio.ToolInput{Command: "git commit --no-verify -m wip"},
	}), &stdout, &stderr)

	var silent *SilentError
	require.ErrorAs(t, err, &silent)
	assert.Equal(t, 2, silent.ExitCode())

	var out hookio.PreToolUseOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, hookio.PermissionDeny, out.HookSpecificOutput.PermissionDecision)
	assert.NotEmpty(t, out.HookSpecificOutput.PermissionDecisionReason)
	assert.NotEmpty(t, stderr.String())
}

func TestHandlePreToolUse_FileMutationSetsValidationMarker(t *testing.T) {
	dir := initGitRepo(t)
	chdirRepo(t, dir)

	var stdout, stderr bytes.Buffer
	err := handlePreToolUse(hookInput(t, hookio.Input{
		SessionID: testSessionID,
		ToolName:  "Write",
		ToolInput: hookio.ToolInput{FilePath: filepath.Join(dir, "main.go")},
	}), &stdout, &stderr)

	require.NoError(t, err)
	has, err := sessionStore(t, dir).Has(markers.ValidationRequired)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestHandleUserPromptSubmit_ClearsMarkers(t *testing.T) {
	dir := initGitRepo(t)
	chdirRepo(t, dir)
	store := sessionStore(t, dir)
	require.NoError(t, store.Set(markers.ReflectionRequested, ""))
	require.NoError(t, store.Set(markers.ValidationRequired, ""))
	require.NoError(t, store.Set(markers.ProblemModeActive, "stuck on flaky test"))

	var stdout bytes.Buffer
	err := handleUserPromptSubmit(hookInput(t, hookio.Input{SessionID: testSessionID, Prompt: "fix the bug"}), &stdout)

	require.NoError(t, err)
	for _, kind := range []markers.Kind{markers.ReflectionRequested, markers.ValidationRequired, markers.ProblemModeActive} {
		has, err := store.Has(kind)
		require.NoError(t, err)
		assert.False(t, has, "marker %s should be cleared", kind)
	}
	assert.Empty(t, stdout.String())
}

func TestHandleUserPromptSubmit_AutoAnswersContinueQuestion(t *testing.T) {
	dir := initGitRepo(t)
	transcriptPath := writeTranscript(t, dir, "Done with step one. Would you like me to continue?")
	chdirRepo(t, dir)

	var stdout bytes.Buffer
	err := handleUserPromptSubmit(hookInput(t, hookio.Input{
		SessionID:      testSessionID,
		TranscriptPath: transcriptPath,
		Prompt:         "  ",
	}), &stdout)

	require.NoError(t, err)
	var out hookio.UserPromptSubmitOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, phrase.ContinueAnswer, out.HookSpecificOutput.AdditionalContext)
}

func TestHandleUserPromptSubmit_RealPromptNotAnswered(t *testing.T) {
	dir := initGitRepo(t)
	transcriptPath := writeTranscript(t, dir, "Would you like me to continue?")
	chdirRepo(t, dir)

	var stdout bytes.Buffer
	err := handleUserPromptSubmit(hookInput(t, hookio.Input{
		SessionID:      testSessionID,
		TranscriptPath: transcriptPath,
		Prompt:         "no, stop and explain",
	}), &stdout)

	require.NoError(t, err)
	assert.Empty(t, stdout.String())
}

func TestHandleSessionStart_CompactionInjectsReminder(t *testing.T) {
	dir := initGitRepo(t)
	chdirRepo(t, dir)

	var stdout bytes.Buffer
	err := handleSessionStart(hookInput(t, hookio.Input{SessionID: testSessionID, Source: "compact"}), &stdout)

	require.NoError(t, err)
	var out hookio.SessionStartOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, hookio.EventSessionStart, out.HookSpecificOutput.HookEventName)
	assert.Contains(t, out.HookSpecificOutput.AdditionalContext, phrase.ProblemDeclaredPhrase)
}

func TestHandleSessionStart_NormalStartIsSilent(t *testing.T) {
	dir := initGitRepo(t)
	chdirRepo(t, dir)

	var stdout bytes.Buffer
	err := handleSessionStart(hookInput(t, hookio.Input{SessionID: testSessionID, Source: "startup"}), &stdout)

	require.NoError(t, err)
	assert.Empty(t, stdout.String())
}

func TestSilentError_ExitCode(t *testing.T) {
	assert.Equal(t, 1, NewSilentError(errors.New("x")).ExitCode())
	assert.Equal(t, 2, NewSilentErrorWithCode(errors.New("x"), 2).ExitCode())
}
