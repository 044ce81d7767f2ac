package worktree

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestShortID(t *testing.T) {
	assert.Equal(t, "a1b2c3d4", ShortID("a1b2c3d4-e5f6-7890-abcd-ef1234567890"))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "12345678", ShortID("12-34-56-78-90"))
}

func TestBranchAndDirNaming(t *testing.T) {
	assert.Equal(t, "climpire/a1b2c3d4", branchName("a1b2c3d4"))
	assert.Contains(t, worktreeDir("/repo", "a1b2c3d4"), ".climpire-worktrees")
}

func TestCreateWorktreeOutsideRepoReturnsNil(t *testing.T) {
	m := New(zerolog.Nop())
	h, err := m.CreateWorktree(context.Background(), t.TempDir(), "task-1", "Aria")
	assert.NoError(t, err)
	assert.Nil(t, h, "a non-repository project runs in place")
}

func TestDiffSummaryNeverErrors(t *testing.T) {
	m := New(zerolog.Nop())
	assert.Equal(t, "(no worktree)", m.GetWorktreeDiffSummary(context.Background(), nil))

	h := &Handle{WorktreePath: "/nonexistent", BranchName: "climpire/x", ProjectPath: t.TempDir()}
	assert.Equal(t, "(diff unavailable)", m.GetWorktreeDiffSummary(context.Background(), h))
}

func TestCleanupNilHandle(t *testing.T) {
	m := New(zerolog.Nop())
	assert.NoError(t, m.CleanupWorktree(context.Background(), nil))
	assert.NoError(t, m.RollbackTaskWorktree(context.Background(), nil, "stop_cancelled", nil))
}
