// Package worktree creates, inspects, and removes per-worker git worktrees.
//
// Grounded on the git-porcelain-wrapping style of the teacher's sibling
// example's internal/git.Git (exec.Command("git", args...), a run() helper,
// typed sentinel errors) generalized here to the worktree subset spec §4.2
// needs: create, is_dirty, remove, with the "never delete the main worktree"
// safety check.
package worktree

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/agentswarm/swarm/internal/swarmerr"
)

// Sentinel conditions surfaced as swarmerr.KindGitError/KindInvalidArgument.
var (
	ErrNotAGitRepo         = errors.New("not a git repository")
	ErrBranchExists        = errors.New("branch already exists")
	ErrPathExists          = errors.New("path already exists")
	ErrRefusedToDeleteMain = errors.New("refusing to remove the main worktree")
)

// entry is one parsed block from `git worktree list --porcelain`.
type entry struct {
	path   string
	branch string
	bare   bool
}

func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func isInsideWorkTree(dir string) bool {
	out, err := run(dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

func isBareRepo(dir string) bool {
	out, err := run(dir, "rev-parse", "--is-bare-repository")
	return err == nil && out == "true"
}

// listEntries parses `git worktree list --porcelain` from baseRepo.
func listEntries(baseRepo string) ([]entry, error) {
	out, err := run(baseRepo, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var entries []entry
	var cur entry
	flush := func() {
		if cur.path != "" {
			entries = append(entries, cur)
			cur = entry{}
		}
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			cur.path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			cur.branch = strings.TrimPrefix(line, "branch refs/heads/")
		case line == "bare":
			cur.bare = true
		}
	}
	flush()
	return entries, nil
}

// Create adds a new worktree at path, on a new branch created from
// base_repo's current HEAD. Fails with ErrNotAGitRepo, ErrBranchExists, or
// ErrPathExists (spec §4.2).
func Create(path, branch, baseRepo string) error {
	if !isInsideWorkTree(baseRepo) {
		return swarmerr.Wrap(swarmerr.KindGitError, "creating worktree", ErrNotAGitRepo)
	}
	if isBareRepo(baseRepo) {
		return swarmerr.Wrap(swarmerr.KindGitError, "creating worktree", ErrNotAGitRepo)
	}
	if _, err := os.Stat(path); err == nil {
		return swarmerr.Wrap(swarmerr.KindInvalidArgument, "creating worktree", ErrPathExists)
	}

	entries, err := listEntries(baseRepo)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindGitError, "listing worktrees", err)
	}
	for _, e := range entries {
		if e.branch == branch {
			return swarmerr.Wrap(swarmerr.KindInvalidArgument, "creating worktree", ErrBranchExists)
		}
	}
	if _, err := run(baseRepo, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err == nil {
		return swarmerr.Wrap(swarmerr.KindInvalidArgument, "creating worktree", ErrBranchExists)
	}

	if _, err := run(baseRepo, "worktree", "add", "-b", branch, path); err != nil {
		return swarmerr.Wrap(swarmerr.KindGitError, "creating worktree", err)
	}
	return nil
}

// IsDirty reports whether the worktree at path has staged, unstaged, or
// untracked changes.
func IsDirty(path string) (bool, error) {
	out, err := run(path, "status", "--porcelain")
	if err != nil {
		return false, swarmerr.Wrap(swarmerr.KindGitError, "checking worktree status", err)
	}
	return out != "", nil
}

// Remove deletes the worktree at path. Without force, fails if the worktree
// is dirty. Always refuses to remove baseRepo's own main worktree, even with
// force (spec §4.2, §3 worktree-path invariant).
func Remove(path, baseRepo string, force bool) error {
	entries, err := listEntries(baseRepo)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindGitError, "listing worktrees", err)
	}
	if len(entries) == 0 {
		return swarmerr.Wrap(swarmerr.KindGitError, "removing worktree", ErrNotAGitRepo)
	}
	mainRoot := entries[0].path
	if samePath(path, mainRoot) {
		return swarmerr.Wrap(swarmerr.KindInvalidArgument, "removing worktree", ErrRefusedToDeleteMain)
	}

	if !force {
		dirty, err := IsDirty(path)
		if err != nil {
			return err
		}
		if dirty {
			return swarmerr.New(swarmerr.KindConflict, "worktree has uncommitted changes, use force to discard")
		}
	}

	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	if _, err := run(baseRepo, args...); err != nil {
		return swarmerr.Wrap(swarmerr.KindGitError, "removing worktree", err)
	}
	return nil
}

// DeleteBranch force-deletes branch in baseRepo. Callers that remove a
// worktree in order to recreate it under the same branch name (respawn's
// clean-first path) must also delete the branch, or the later `worktree add
// -b` fails with ErrBranchExists against the now-unworktreed but still-
// existing branch.
func DeleteBranch(baseRepo, branch string) error {
	if _, err := run(baseRepo, "branch", "-D", branch); err != nil {
		return swarmerr.Wrap(swarmerr.KindGitError, "deleting branch", err)
	}
	return nil
}

func samePath(a, b string) bool {
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ra == rb
}
