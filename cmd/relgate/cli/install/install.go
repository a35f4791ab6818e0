// Package install manages the hook entries in the host agent's
// .claude/settings.json. Installation is additive and idempotent: existing
// entries from other tools are preserved byte-for-byte, including fields
// this package does not model.
package install

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/relgate/cli/cmd/relgate/cli/paths"
)

// HostSettingsFileName is the settings file used by the host agent.
const HostSettingsFileName = "settings.json"

// HookSet mirrors the hooks section of the host settings file.
type HookSet struct {
	SessionStart     []HookMatcher `json:"SessionStart,omitempty"`
	Stop             []HookMatcher `json:"Stop,omitempty"`
	UserPromptSubmit []HookMatcher `json:"UserPromptSubmit,omitempty"`
	PreToolUse       []HookMatcher `json:"PreToolUse,omitempty"`
	PostToolUse      []HookMatcher `json:"PostToolUse,omitempty"`
}

// HookMatcher groups hook entries under a tool-name matcher. The empty
// matcher applies to every event of the type.
type HookMatcher struct {
	Matcher string      `json:"matcher"`
	Hooks   []HookEntry `json:"hooks"`
}

// HookEntry is one command invocation.
type HookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// configDenyRules keep the host agent's own permission layer from touching
// the operator-owned config, as a second fence in front of the policy engine.
var configDenyRules = []string{
	"Write(./" + paths.ConfigFile + ")",
	"Edit(./" + paths.ConfigFile + ")",
}

// hookPrefixes identify our hook commands, including the local-dev form.
var hookPrefixes = []string{
	"relgate ",
	"go run ${CLAUDE_PROJECT_DIR}/cmd/relgate/main.go ",
}

// hookCommand builds the command line for one hook verb.
func hookCommand(localDev bool, verb string) string {
	if localDev {
		return "go run ${CLAUDE_PROJECT_DIR}/cmd/relgate/main.go hooks " + verb
	}
	return "relgate hooks " + verb
}

// settingsPath locates the host settings file relative to the repo root,
// falling back to the working directory outside a repository.
func settingsPath() (string, error) {
	repoRoot, err := paths.RepoRoot()
	if err != nil {
		repoRoot, err = os.Getwd() //nolint:forbidigo // intentional fallback outside a git repo
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	return filepath.Join(repoRoot, ".claude", HostSettingsFileName), nil
}

// InstallHooks installs the governor's hooks in .claude/settings.json.
// If force is true, existing governor hooks are removed before installing.
// Returns the number of hooks added.
func InstallHooks(localDev, force bool) (int, error) {
	path, err := settingsPath()
	if err != nil {
		return 0, err
	}
	return installHooksAt(path, localDev, force)
}

func installHooksAt(path string, localDev, force bool) (int, error) {
	var hooks HookSet
	var rawSettings map[string]json.RawMessage
	var rawPermissions map[string]json.RawMessage

	existingData, readErr := os.ReadFile(path) //nolint:gosec // path is repo root + fixed suffix
	if readErr == nil {
		if err := json.Unmarshal(existingData, &rawSettings); err != nil {
			return 0, fmt.Errorf("failed to parse existing settings.json: %w", err)
		}
		if hooksRaw, ok := rawSettings["hooks"]; ok {
			if err := json.Unmarshal(hooksRaw, &hooks); err != nil {
				return 0, fmt.Errorf("failed to parse hooks in settings.json: %w", err)
			}
		}
		if permRaw, ok := rawSettings["permissions"]; ok {
			if err := json.Unmarshal(permRaw, &rawPermissions); err != nil {
				return 0, fmt.Errorf("failed to parse permissions in settings.json: %w", err)
			}
		}
	} else {
		rawSettings = make(map[string]json.RawMessage)
	}

	if rawPermissions == nil {
		rawPermissions = make(map[string]json.RawMessage)
	}

	if force {
		hooks.SessionStart = removeOwnHooks(hooks.SessionStart)
		hooks.Stop = removeOwnHooks(hooks.Stop)
		hooks.UserPromptSubmit = removeOwnHooks(hooks.UserPromptSubmit)
		hooks.PreToolUse = removeOwnHooks(hooks.PreToolUse)
	}

	sessionStartCmd := hookCommand(localDev, "session-start")
	stopCmd := hookCommand(localDev, "stop")
	userPromptSubmitCmd := hookCommand(localDev, "user-prompt-submit")
	preToolUseCmd := hookCommand(localDev, "pre-tool-use")

	count := 0
	if !hookCommandExists(hooks.SessionStart, sessionStartCmd) {
		hooks.SessionStart = addHookToMatcher(hooks.SessionStart, "", sessionStartCmd)
		count++
	}
	if !hookCommandExists(hooks.Stop, stopCmd) {
		hooks.Stop = addHookToMatcher(hooks.Stop, "", stopCmd)
		count++
	}
	if !hookCommandExists(hooks.UserPromptSubmit, userPromptSubmitCmd) {
		hooks.UserPromptSubmit = addHookToMatcher(hooks.UserPromptSubmit, "", userPromptSubmitCmd)
		count++
	}
	// The policy engine must see every tool call, so the matcher is empty.
	if !hookCommandExists(hooks.PreToolUse, preToolUseCmd) {
		hooks.PreToolUse = addHookToMatcher(hooks.PreToolUse, "", preToolUseCmd)
		count++
	}

	permissionsChanged := false
	var denyRules []string
	if denyRaw, ok := rawPermissions["deny"]; ok {
		if err := json.Unmarshal(denyRaw, &denyRules); err != nil {
			return 0, fmt.Errorf("failed to parse permissions.deny in settings.json: %w", err)
		}
	}
	for _, rule := range configDenyRules {
		if !slices.Contains(denyRules, rule) {
			denyRules = append(denyRules, rule)
			permissionsChanged = true
		}
	}
	if permissionsChanged {
		denyJSON, err := json.Marshal(denyRules)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal permissions.deny: %w", err)
		}
		rawPermissions["deny"] = denyJSON
	}

	if count == 0 && !permissionsChanged {
		return 0, nil
	}

	hooksJSON, err := json.Marshal(hooks)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksJSON

	permJSON, err := json.Marshal(rawPermissions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal permissions: %w", err)
	}
	rawSettings["permissions"] = permJSON

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create .claude directory: %w", err)
	}

	output, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, output, 0o600); err != nil {
		return 0, fmt.Errorf("failed to write settings.json: %w", err)
	}

	return count, nil
}

// UninstallHooks removes the governor's hooks from .claude/settings.json.
// Other tools' hooks and unknown settings fields are untouched.
func UninstallHooks() error {
	path, err := settingsPath()
	if err != nil {
		return err
	}

	existingData, err := os.ReadFile(path) //nolint:gosec // path is repo root + fixed suffix
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading settings.json: %w", err)
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(existingData, &rawSettings); err != nil {
		return fmt.Errorf("failed to parse existing settings.json: %w", err)
	}

	var hooks HookSet
	if hooksRaw, ok := rawSettings["hooks"]; ok {
		if err := json.Unmarshal(hooksRaw, &hooks); err != nil {
			return fmt.Errorf("failed to parse hooks in settings.json: %w", err)
		}
	}

	hooks.SessionStart = removeOwnHooks(hooks.SessionStart)
	hooks.Stop = removeOwnHooks(hooks.Stop)
	hooks.UserPromptSubmit = removeOwnHooks(hooks.UserPromptSubmit)
	hooks.PreToolUse = removeOwnHooks(hooks.PreToolUse)

	hooksJSON, err := json.Marshal(hooks)
	if err != nil {
		return fmt.Errorf("failed to marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksJSON

	output, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, output, 0o600); err != nil {
		return fmt.Errorf("failed to write settings.json: %w", err)
	}

	return nil
}

// AreHooksInstalled checks whether the stop hook is present, in either the
// installed or local-dev form.
func AreHooksInstalled() bool {
	path, err := settingsPath()
	if err != nil {
		return false
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is repo root + fixed suffix
	if err != nil {
		return false
	}

	var rawSettings struct {
		Hooks HookSet `json:"hooks"`
	}
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false
	}

	return hookCommandExists(rawSettings.Hooks.Stop, hookCommand(false, "stop")) ||
		hookCommandExists(rawSettings.Hooks.Stop, hookCommand(true, "stop"))
}

func hookCommandExists(matchers []HookMatcher, command string) bool {
	for _, matcher := range matchers {
		for _, hook := range matcher.Hooks {
			if hook.Command == command {
				return true
			}
		}
	}
	return false
}

func addHookToMatcher(matchers []HookMatcher, matcherName, command string) []HookMatcher {
	entry := HookEntry{
		Type:    "command",
		Command: command,
	}

	for i, matcher := range matchers {
		if matcher.Matcher == matcherName {
			matchers[i].Hooks = append(matchers[i].Hooks, entry)
			return matchers
		}
	}

	return append(matchers, HookMatcher{
		Matcher: matcherName,
		Hooks:   []HookEntry{entry},
	})
}

func isOwnHook(command string) bool {
	for _, prefix := range hookPrefixes {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	return false
}

// removeOwnHooks filters our hooks out of a matcher list, dropping
// matchers left empty.
func removeOwnHooks(matchers []HookMatcher) []HookMatcher {
	result := make([]HookMatcher, 0, len(matchers))
	for _, matcher := range matchers {
		filteredHooks := make([]HookEntry, 0, len(matcher.Hooks))
		for _, hook := range matcher.Hooks {
			if !isOwnHook(hook.Command) {
				filteredHooks = append(filteredHooks, hook)
			}
		}
		if len(filteredHooks) > 0 {
			matcher.Hooks = filteredHooks
			result = append(result, matcher)
		}
	}
	return result
}
