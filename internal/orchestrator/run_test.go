package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/climpire/internal/store"
)

func TestResolveProjectPathPrefersTaskField(t *testing.T) {
	dir := t.TempDir()
	task := &store.Task{ProjectPath: dir}
	assert.Equal(t, dir, ResolveProjectPath(task, "work on /somewhere/else"))
}

func TestDetectProjectPathAbsolute(t *testing.T) {
	dir := t.TempDir()
	got := DetectProjectPath("please fix the bug in " + dir + " today")
	assert.Equal(t, dir, got)
}

func TestDetectProjectPathIgnoresMissingDirs(t *testing.T) {
	assert.Empty(t, DetectProjectPath("look at /definitely/not/a/real/path/here"))
}

func TestResolveProjectPathFallsBackToCwd(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	task := &store.Task{}
	assert.Equal(t, cwd, ResolveProjectPath(task, "no paths mentioned"))
}

func TestBlockedReasonLocalization(t *testing.T) {
	assert.Contains(t, blockedReason("ko", "design"), "대기")
	assert.Contains(t, blockedReason("en", "design"), "design")
	assert.Contains(t, blockedReason("zh", "qa"), "qa")
}

func TestReadLogTailBounded(t *testing.T) {
	dir := t.TempDir()
	o := &Orchestrator{logsDir: dir}

	big := make([]byte, 5000)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t1.log"), big, 0644))

	tail := o.readLogTail("t1")
	assert.Len(t, tail, logTailBytes)

	assert.Empty(t, o.readLogTail("missing"))
}

func TestRoleConstraintPerDepartment(t *testing.T) {
	assert.Contains(t, roleConstraint(store.DeptQA), "Do not write production code")
	assert.NotEqual(t, roleConstraint(store.DeptDesign), roleConstraint(store.DeptDevelopment))
	assert.NotEmpty(t, roleConstraint("unknown"))
}
