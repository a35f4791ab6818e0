// Package paths centralizes filesystem locations used by the relgate CLI.
package paths

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Directory constants, relative to the repository root.
const (
	RelgateDir     = ".relgate"
	RelgateTmpDir  = ".relgate/tmp"
	RelgateLogsDir = ".relgate/logs"

	// ConfigFile holds the operator-owned governor configuration.
	// The pre-tool-use policy refuses agent writes to this path.
	ConfigFile = ".relgate/config.yaml"

	// LegacyConfigFile is the config path used by earlier releases.
	// Still protected so old sessions cannot edit it either.
	LegacyConfigFile = ".claude/reliability-config.yaml"

	// ProblemFile is where the agent is told to write its problem
	// explanation while problem mode is active.
	ProblemFile = ".relgate/PROBLEM.md"

	// SessionPlanFile is the plan an autonomous session must write
	// before its toolset unlocks.
	SessionPlanFile = ".relgate/PLAN.md"
)

// ErrNotARepository indicates the current directory is not inside a git
// working tree. Callers treat this as "git gating does not apply".
var ErrNotARepository = errors.New("not inside a git repository")

// repoRootCache caches the repository root to avoid repeated git commands.
// Keyed by the current working directory to handle directory changes.
var (
	repoRootMu       sync.RWMutex
	repoRootCache    string
	repoRootCacheDir string
)

// RepoRoot returns the git repository root directory.
// Uses 'git rev-parse --show-toplevel' which works from any subdirectory.
// The result is cached per working directory.
// Returns ErrNotARepository if not inside a git repository.
func RepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	repoRootMu.RLock()
	if repoRootCache != "" && repoRootCacheDir == cwd {
		cached := repoRootCache
		repoRootMu.RUnlock()
		return cached, nil
	}
	repoRootMu.RUnlock()

	cmd := exec.CommandContext(context.Background(), "git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotARepository, err)
	}

	root := strings.TrimSpace(string(output))

	repoRootMu.Lock()
	repoRootCache = root
	repoRootCacheDir = cwd
	repoRootMu.Unlock()

	return root, nil
}

// ClearRepoRootCache clears the cached repository root.
// This is primarily useful for testing when changing directories.
func ClearRepoRootCache() {
	repoRootMu.Lock()
	repoRootCache = ""
	repoRootCacheDir = ""
	repoRootMu.Unlock()
}

// RepoRootOr returns the git repository root directory, or the fallback
// if not inside a git repository.
func RepoRootOr(fallback string) string {
	root, err := RepoRoot()
	if err != nil {
		return fallback
	}
	return root
}

// AbsPath returns the absolute path for a relative path within the repository.
// If the path is already absolute, it is returned as-is.
func AbsPath(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return relPath, nil
	}

	root, err := RepoRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, relPath), nil
}

// SessionTmpDir returns the marker directory for a session.
func SessionTmpDir(root, sessionID string) string {
	return filepath.Join(root, RelgateTmpDir, "sessions", sessionID)
}

// IsInfrastructurePath returns true if the path is part of CLI
// infrastructure (inside the .relgate directory).
func IsInfrastructurePath(path string) bool {
	return strings.HasPrefix(path, RelgateDir+"/") || path == RelgateDir
}

// pathSafeRegex matches strings safe for use in file paths.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-.]+$`)

// ValidateSessionID validates that a session ID is non-empty and safe to use
// as a path component. This prevents path traversal when session IDs are used
// in marker and log file paths.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid session ID %q: contains path separators", id)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("invalid session ID %q", id)
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid session ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}
