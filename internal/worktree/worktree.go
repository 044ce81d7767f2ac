// Package worktree manages per-task isolated git working copies, per
// spec.md §4.4. Process invocation (context timeout, captured combined
// output, error wrapping) follows the conventions the teacher's
// internal/tools/shell.go uses for host command execution.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Handle describes a created worktree for a task.
type Handle struct {
	WorktreePath string
	BranchName   string
	ProjectPath  string
}

// MergeResult is the outcome of a merge attempt.
type MergeResult struct {
	Success   bool
	Message   string
	Conflicts []string
}

// Manager creates/merges/discards worktrees under a project's repository.
type Manager struct {
	log zerolog.Logger
}

// New creates a worktree Manager.
func New(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("component", "worktree").Logger()}
}

// ShortID derives the worktree/branch short id from the first 8 hex
// characters of a task id, per spec.md §4.4.
func ShortID(taskID string) string {
	clean := strings.ReplaceAll(taskID, "-", "")
	if len(clean) > 8 {
		clean = clean[:8]
	}
	return clean
}

func branchName(shortID string) string { return "climpire/" + shortID }

func worktreeDir(projectPath, shortID string) string {
	return filepath.Join(projectPath, ".climpire-worktrees", shortID)
}

// isRepo reports whether projectPath is inside a git working tree.
func (m *Manager) isRepo(ctx context.Context, projectPath string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = projectPath
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// CreateWorktree materializes a worktree at
// <projectPath>/.climpire-worktrees/<shortId> on a new branch
// climpire/<shortId> rooted at current HEAD. If projectPath is not a
// repository, it returns (nil, nil) — the task runs in the original path.
func (m *Manager) CreateWorktree(ctx context.Context, projectPath, taskID, agentName string) (*Handle, error) {
	if !m.isRepo(ctx, projectPath) {
		return nil, nil
	}

	shortID := ShortID(taskID)
	branch := branchName(shortID)
	dir := worktreeDir(projectPath, shortID)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, dir, "HEAD")
	cmd.Dir = projectPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git worktree add: %w: %s", err, string(out))
	}

	m.log.Info().Str("task_id", taskID).Str("agent", agentName).Str("branch", branch).Msg("worktree created")
	return &Handle{WorktreePath: dir, BranchName: branch, ProjectPath: projectPath}, nil
}

// MergeWorktree computes a stat-only diff between the repo's current
// branch and the worktree branch. An empty diff returns success with
// "nothing to merge". Otherwise it performs a no-fast-forward merge;
// conflict detection reads the unmerged-path list rather than parsing
// error text.
func (m *Manager) MergeWorktree(ctx context.Context, h *Handle) (*MergeResult, error) {
	diff, err := m.diffStat(ctx, h)
	if err == nil && strings.TrimSpace(diff) == "" {
		return &MergeResult{Success: true, Message: "nothing to merge"}, nil
	}

	cmd := exec.CommandContext(ctx, "git", "merge", "--no-ff", "-m",
		fmt.Sprintf("Merge %s via climpire", h.BranchName), h.BranchName)
	cmd.Dir = h.ProjectPath
	if out, err := cmd.CombinedOutput(); err != nil {
		conflicts, cErr := m.unmergedPaths(ctx, h.ProjectPath)
		abortCmd := exec.CommandContext(ctx, "git", "merge", "--abort")
		abortCmd.Dir = h.ProjectPath
		_ = abortCmd.Run()
		if cErr != nil {
			return nil, fmt.Errorf("merge failed (%s) and could not list conflicts: %w", string(out), cErr)
		}
		return &MergeResult{Success: false, Conflicts: conflicts}, nil
	}

	return &MergeResult{Success: true, Message: "merged"}, nil
}

func (m *Manager) unmergedPaths(ctx context.Context, projectPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", "--diff-filter=U")
	cmd.Dir = projectPath
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// CleanupWorktree removes the worktree, falling back to a manual
// filesystem remove plus `git worktree prune` if the worktree command
// fails, then deletes the branch.
func (m *Manager) CleanupWorktree(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", h.WorktreePath)
	cmd.Dir = h.ProjectPath
	if out, err := cmd.CombinedOutput(); err != nil {
		m.log.Warn().Err(err).Str("output", string(out)).Msg("git worktree remove failed, falling back")
		_ = os.RemoveAll(h.WorktreePath)
		pruneCmd := exec.CommandContext(ctx, "git", "worktree", "prune")
		pruneCmd.Dir = h.ProjectPath
		_ = pruneCmd.Run()
	}

	branchCmd := exec.CommandContext(ctx, "git", "branch", "-D", h.BranchName)
	branchCmd.Dir = h.ProjectPath
	_ = branchCmd.Run() // branch deletion is best-effort; a missing branch isn't fatal here

	return nil
}

// RollbackTaskWorktree cleans up a worktree, recording the diff summary
// to the caller-provided logger function before doing so. Invoked on
// stop, on failure, and on shutdown, per spec.md §4.4.
func (m *Manager) RollbackTaskWorktree(ctx context.Context, h *Handle, reason string, logFn func(kind, message string)) error {
	if h == nil {
		return nil
	}
	summary := m.GetWorktreeDiffSummary(ctx, h)
	if logFn != nil {
		logFn("worktree_rollback", fmt.Sprintf("reason=%s diff=%s", reason, summary))
	}
	return m.CleanupWorktree(ctx, h)
}

func (m *Manager) diffStat(ctx context.Context, h *Handle) (string, error) {
	currentBranch, err := m.currentBranch(ctx, h.ProjectPath)
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, "git", "diff", "--stat", currentBranch+"..."+h.BranchName)
	cmd.Dir = h.ProjectPath
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (m *Manager) currentBranch(ctx context.Context, projectPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = projectPath
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// GetWorktreeDiffSummary returns `git diff --stat <currentBranch>...<workBranch>`,
// an empty-change marker, or a read-failure marker — never returns an error
// to the caller, per spec.md §4.4.
func (m *Manager) GetWorktreeDiffSummary(ctx context.Context, h *Handle) string {
	if h == nil {
		return "(no worktree)"
	}
	diff, err := m.diffStat(ctx, h)
	if err != nil {
		return "(diff unavailable)"
	}
	if strings.TrimSpace(diff) == "" {
		return "(no changes)"
	}
	return strings.TrimSpace(diff)
}
