package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookRegistry_DefaultHandlersRegistered(t *testing.T) {
	for _, verb := range []string{hookVerbSessionStart, hookVerbStop, hookVerbUserPromptSubmit, hookVerbPreToolUse} {
		assert.NotNil(t, GetHookHandler(verb), "handler for %s should be registered", verb)
	}
}

func TestHookRegistry_UnknownVerb(t *testing.T) {
	assert.Nil(t, GetHookHandler("post-tool-use"))
}

func TestRegisterHookHandler_Overrides(t *testing.T) {
	const verb = "test-verb"
	sentinel := errors.New("sentinel")
	RegisterHookHandler(verb, func() error { return sentinel })
	t.Cleanup(func() { delete(hookRegistry, verb) })

	handler := GetHookHandler(verb)
	require.NotNil(t, handler)
	assert.ErrorIs(t, handler(), sentinel)
}

func TestNewHooksCmd_HasVerbCommands(t *testing.T) {
	cmd := newHooksCmd()
	assert.True(t, cmd.Hidden)

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, verb := range []string{hookVerbSessionStart, hookVerbStop, hookVerbUserPromptSubmit, hookVerbPreToolUse} {
		assert.True(t, names[verb], "hooks command should have %s", verb)
	}
}

// Hooks run even outside a git repository: git gating does not apply
// there, but marker, task, and gate checks still do.
func TestHookVerbCmd_RunsOutsideGitRepo(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	const verb = "outside-repo-verb"
	sentinel := errors.New("handler ran")
	RegisterHookHandler(verb, func() error { return sentinel })
	t.Cleanup(func() { delete(hookRegistry, verb) })

	cmd := newHookVerbCmdWithLogging(verb)
	assert.ErrorIs(t, cmd.RunE(cmd, nil), sentinel)
}

func TestNewHookAliasCmds_HiddenAndNamed(t *testing.T) {
	aliases := newHookAliasCmds()
	require.Len(t, aliases, 3)

	names := make(map[string]bool)
	for _, alias := range aliases {
		assert.True(t, alias.Hidden, "%s alias should be hidden", alias.Name())
		names[alias.Name()] = true
	}
	assert.True(t, names[hookVerbStop])
	assert.True(t, names[hookVerbUserPromptSubmit])
	assert.True(t, names[hookVerbPreToolUse])
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()

	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"enable", "disable", "status", "hooks", "version"} {
		assert.True(t, names[want], "root should have %s", want)
	}
}
