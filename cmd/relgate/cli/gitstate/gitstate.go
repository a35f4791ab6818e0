// Package gitstate inspects the state of the git working tree that stop
// decisions are gated on. Snapshots are recomputed on every call and never
// cached: hook invocations are short-lived processes and the working tree
// can change between them.
package gitstate

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/relgate/cli/cmd/relgate/cli/paths"
)

// Snapshot is a point-in-time read of repository state.
type Snapshot struct {
	Branch string

	// HasUncommittedChanges covers staged and unstaged modifications to
	// tracked files. Untracked files are reported separately.
	HasUncommittedChanges bool

	// DiffStat is the git diff --stat summary of those modifications,
	// empty when the tree has none.
	DiffStat string

	// UntrackedFiles lists untracked, non-ignored paths, sorted.
	UntrackedFiles []string

	// HasUpstream is false when the current branch has no upstream
	// configured. Push gating is vacuously satisfied in that case.
	HasUpstream bool

	// CommitsAhead is the number of local commits not on the upstream.
	// Always 0 when HasUpstream is false.
	CommitsAhead int
}

// Clean reports whether the working tree has nothing to commit.
func (s Snapshot) Clean() bool {
	return !s.HasUncommittedChanges && len(s.UntrackedFiles) == 0
}

// Inspector takes snapshots of one repository.
type Inspector struct {
	root string
}

// NewInspector returns an inspector for the repository at root.
func NewInspector(root string) *Inspector {
	return &Inspector{root: root}
}

// Snapshot reads the current repository state.
// Returns paths.ErrNotARepository (wrapped) when root is not a git working
// tree; callers treat that as "no git constraints apply".
func (i *Inspector) Snapshot(ctx context.Context) (Snapshot, error) {
	repo, err := git.PlainOpenWithOptions(i.root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", paths.ErrNotARepository, err)
	}

	var snap Snapshot
	snap.Branch = i.currentBranch(ctx, repo)

	dirty, untracked, err := i.worktreeState(ctx, repo)
	if err != nil {
		return Snapshot{}, err
	}
	snap.HasUncommittedChanges = dirty
	snap.UntrackedFiles = untracked
	if dirty {
		snap.DiffStat = i.diffStat(ctx)
	}

	snap.HasUpstream, snap.CommitsAhead = i.aheadOfUpstream(ctx)

	return snap, nil
}

// currentBranch returns the short branch name, or the short hash when HEAD
// is detached, or empty for an unborn repository.
func (i *Inspector) currentBranch(ctx context.Context, repo *git.Repository) string {
	head, err := repo.Head()
	if err == nil {
		if head.Name().IsBranch() {
			return head.Name().Short()
		}
		return head.Hash().String()[:7]
	}

	// Unborn HEAD (no commits yet): ask git which branch it points at
	out, err := i.git(ctx, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// worktreeState returns whether tracked files are modified and the list of
// untracked files. Uses go-git's worktree status, falling back to the git
// command if go-git cannot compute it (rare index formats, linked worktrees).
func (i *Inspector) worktreeState(ctx context.Context, repo *git.Repository) (bool, []string, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return i.worktreeStateExec(ctx)
	}

	status, err := worktree.Status()
	if err != nil {
		return i.worktreeStateExec(ctx)
	}

	dirty := false
	var untracked []string
	for file, st := range status {
		if paths.IsInfrastructurePath(file) {
			continue
		}
		if st.Worktree == git.Untracked {
			untracked = append(untracked, file)
			continue
		}
		if st.Worktree != git.Unmodified || st.Staging != git.Unmodified {
			dirty = true
		}
	}
	sort.Strings(untracked)

	return dirty, untracked, nil
}

// worktreeStateExec computes dirty/untracked state with the git command.
func (i *Inspector) worktreeStateExec(ctx context.Context) (bool, []string, error) {
	unstaged, err := i.git(ctx, "diff", "--stat")
	if err != nil {
		return false, nil, fmt.Errorf("checking unstaged changes: %w", err)
	}
	staged, err := i.git(ctx, "diff", "--cached", "--stat")
	if err != nil {
		return false, nil, fmt.Errorf("checking staged changes: %w", err)
	}
	dirty := unstaged != "" || staged != ""

	out, err := i.git(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return false, nil, fmt.Errorf("listing untracked files: %w", err)
	}

	var untracked []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || paths.IsInfrastructurePath(line) {
			continue
		}
		untracked = append(untracked, line)
	}
	sort.Strings(untracked)

	return dirty, untracked, nil
}

// diffStat summarizes unstaged and staged changes to tracked files.
// go-git has no stat rendering, so this shells out like aheadOfUpstream.
// Best-effort: feedback just omits the summary when git is unavailable.
func (i *Inspector) diffStat(ctx context.Context) string {
	unstaged, err := i.git(ctx, "diff", "--stat")
	if err != nil {
		return ""
	}
	staged, err := i.git(ctx, "diff", "--cached", "--stat")
	if err != nil {
		return ""
	}

	switch {
	case staged == "":
		return unstaged
	case unstaged == "":
		return staged
	default:
		return unstaged + "\n" + staged
	}
}

// aheadOfUpstream returns whether an upstream is configured and how many
// commits HEAD is ahead of it. go-git has no direct upstream-ahead query, so
// this shells out to rev-list.
func (i *Inspector) aheadOfUpstream(ctx context.Context) (bool, int) {
	out, err := i.git(ctx, "rev-list", "--count", "@{upstream}..HEAD")
	if err != nil {
		// No upstream configured (or unborn branch)
		return false, 0
	}

	count, err := strconv.Atoi(out)
	if err != nil {
		return true, 0
	}
	return true, count
}

func (i *Inspector) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = i.root
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(output)), nil
}
