package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgate/cli/cmd/relgate/cli/paths"
	"github.com/relgate/cli/cmd/relgate/cli/settings"
	"github.com/relgate/cli/cmd/relgate/cli/tasks"
)

func TestRunStatus_NotAGitRepo(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	paths.ClearRepoRootCache()
	t.Cleanup(paths.ClearRepoRootCache)

	var out bytes.Buffer
	require.NoError(t, runStatus(&out))
	assert.Contains(t, out.String(), "not a git repository")
}

func TestRunStatus_NotSetUp(t *testing.T) {
	chdirRepo(t, initGitRepo(t))

	var out bytes.Buffer
	require.NoError(t, runStatus(&out))
	assert.Contains(t, out.String(), "not set up")
}

func TestRunStatus_EnabledWithGate(t *testing.T) {
	dir := initGitRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".relgate"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".relgate", "settings.json"), []byte(`{"enabled": true}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".relgate", "config.yaml"), []byte("gate:\n  command: \"go test ./...\"\n"), 0o644))
	chdirRepo(t, dir)

	var out bytes.Buffer
	require.NoError(t, runStatus(&out))
	assert.Contains(t, out.String(), "● enabled")
	assert.Contains(t, out.String(), "go test ./...")
}

func TestRunStatus_ShowsTaskDatabase(t *testing.T) {
	dir := initGitRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".relgate"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".relgate", "settings.json"), []byte(`{"enabled": true}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, filepath.Dir(tasks.DBFile)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tasks.DBFile), []byte{}, 0o644))
	chdirRepo(t, dir)

	var out bytes.Buffer
	require.NoError(t, runStatus(&out))
	assert.Contains(t, out.String(), "tracking database present")
}

func TestRunStatus_Disabled(t *testing.T) {
	dir := initGitRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".relgate"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".relgate", "settings.json"), []byte(`{"enabled": false}`), 0o644))
	chdirRepo(t, dir)

	var out bytes.Buffer
	require.NoError(t, runStatus(&out))
	assert.Contains(t, out.String(), "○ disabled")
}

func TestRunDisable_WritesProjectSettings(t *testing.T) {
	dir := initGitRepo(t)
	chdirRepo(t, dir)

	var out bytes.Buffer
	require.NoError(t, runDisable(&out, false))
	assert.Contains(t, out.String(), "disabled")

	st, err := settings.Load()
	require.NoError(t, err)
	assert.False(t, st.Enabled)
}

func TestRunDisable_PrefersExistingLocalSettings(t *testing.T) {
	dir := initGitRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".relgate"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".relgate", "settings.local.json"), []byte(`{"enabled": true}`), 0o644))
	chdirRepo(t, dir)

	var out bytes.Buffer
	require.NoError(t, runDisable(&out, false))

	data, err := os.ReadFile(filepath.Join(dir, ".relgate", "settings.local.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"enabled": false`)

	// Project settings file should not have been created.
	_, err = os.Stat(filepath.Join(dir, ".relgate", "settings.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunEnableWithGate_FullSetup(t *testing.T) {
	dir := initGitRepo(t)
	chdirRepo(t, dir)

	var out bytes.Buffer
	require.NoError(t, runEnableWithGate(&out, "go test ./...", false, false, false, false))

	assert.Contains(t, out.String(), "✓ Agent hooks installed")
	assert.Contains(t, out.String(), "✓ Stop gate enabled")

	// Hook entries land in the host settings file.
	hostSettings, err := os.ReadFile(filepath.Join(dir, ".claude", "settings.json"))
	require.NoError(t, err)
	assert.Contains(t, string(hostSettings), "relgate hooks stop")

	// Gate command lands in the governor config.
	cfgData, err := os.ReadFile(filepath.Join(dir, ".relgate", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(cfgData), "go test ./...")

	st, err := settings.Load()
	require.NoError(t, err)
	assert.True(t, st.Enabled)
}

func TestRunEnableWithGate_DoesNotOverwriteExistingConfig(t *testing.T) {
	dir := initGitRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".relgate"), 0o755))
	existing := "gate:\n  command: \"make check\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".relgate", "config.yaml"), []byte(existing), 0o644))
	chdirRepo(t, dir)

	var out bytes.Buffer
	require.NoError(t, runEnableWithGate(&out, "go test ./...", false, false, false, false))

	cfgData, err := os.ReadFile(filepath.Join(dir, ".relgate", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, existing, string(cfgData))
	assert.Contains(t, out.String(), "not changed")
}

func TestRunEnableWithGate_OutsideRepoFails(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	paths.ClearRepoRootCache()
	t.Cleanup(paths.ClearRepoRootCache)

	var out bytes.Buffer
	err := runEnableWithGate(&out, "", false, false, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git repository")
}

func TestDetermineSettingsTarget(t *testing.T) {
	dir := initGitRepo(t)
	chdirRepo(t, dir)

	useLocal, notify := determineSettingsTarget(true, false)
	assert.True(t, useLocal)
	assert.False(t, notify)

	useLocal, notify = determineSettingsTarget(false, true)
	assert.False(t, useLocal)
	assert.False(t, notify)

	// No flags, no existing settings file: write project settings.
	useLocal, notify = determineSettingsTarget(false, false)
	assert.False(t, useLocal)
	assert.False(t, notify)

	// No flags, committed settings exist: steer to local with a notice.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".relgate"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".relgate", "settings.json"), []byte(`{}`), 0o644))
	useLocal, notify = determineSettingsTarget(false, false)
	assert.True(t, useLocal)
	assert.True(t, notify)
}

func TestValidateSetupFlags(t *testing.T) {
	assert.NoError(t, validateSetupFlags(false, false))
	assert.NoError(t, validateSetupFlags(true, false))
	assert.Error(t, validateSetupFlags(true, true))
}

func TestSetupRelgateDirectory_WritesGitignoreOnce(t *testing.T) {
	dir := initGitRepo(t)
	chdirRepo(t, dir)

	created, err := setupRelgateDirectory()
	require.NoError(t, err)
	assert.True(t, created)

	gitignorePath := filepath.Join(dir, ".relgate", ".gitignore")
	data, err := os.ReadFile(gitignorePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tmp/")

	// A customized .gitignore is left alone.
	require.NoError(t, os.WriteFile(gitignorePath, []byte("custom\n"), 0o644))
	created, err = setupRelgateDirectory()
	require.NoError(t, err)
	assert.False(t, created)
	data, err = os.ReadFile(gitignorePath)
	require.NoError(t, err)
	assert.Equal(t, "custom\n", string(data))
}
