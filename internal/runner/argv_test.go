package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgvClaude(t *testing.T) {
	argv, err := BuildArgv("claude", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "--dangerously-skip-permissions", "--print", "--verbose",
		"--output-format=stream-json", "--include-partial-messages"}, argv)
}

func TestBuildArgvClaudeWithModel(t *testing.T) {
	argv, err := BuildArgv("claude", "opus", "")
	require.NoError(t, err)
	assert.Contains(t, argv, "--model")
	assert.Contains(t, argv, "opus")
}

func TestBuildArgvCodexWithReasoningEffort(t *testing.T) {
	argv, err := BuildArgv("codex", "gpt-5", "high")
	require.NoError(t, err)
	assert.Equal(t, []string{"codex", "--enable", "multi_agent", "-m", "gpt-5",
		"-c", `model_reasoning_effort="high"`, "--yolo", "exec", "--json"}, argv)
}

func TestBuildArgvGemini(t *testing.T) {
	argv, err := BuildArgv("gemini", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "--yolo", "--output-format=stream-json"}, argv)
}

func TestBuildArgvOpencode(t *testing.T) {
	argv, err := BuildArgv("opencode", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"opencode", "run", "--format", "json"}, argv)
}

func TestBuildArgvUnsupportedProvider(t *testing.T) {
	_, err := BuildArgv("copilot", "", "")
	require.Error(t, err)
	var unsupported *ErrUnsupportedProvider
	assert.ErrorAs(t, err, &unsupported)

	_, err = BuildArgv("nonsense", "", "")
	require.Error(t, err)
}

func TestStripEnvRemovesExactKeys(t *testing.T) {
	env := []string{"PATH=/usr/bin", "CLAUDECODE=1", "CLAUDE_CODE=1", "CLAUDE_CODE_EXTRA=keep"}
	out := stripEnv(env, "CLAUDECODE", "CLAUDE_CODE")
	assert.Equal(t, []string{"PATH=/usr/bin", "CLAUDE_CODE_EXTRA=keep"}, out)
}
