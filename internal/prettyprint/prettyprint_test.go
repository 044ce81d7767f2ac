package prettyprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonJSONInputReturnedUnchanged(t *testing.T) {
	raw := "plain log line, nothing here\nanother line"
	assert.Equal(t, raw, Render("claude", raw))
}

func TestClaudeTextDeltaAndToolUse(t *testing.T) {
	raw := `{"type":"stream_event","delta":{"type":"text_delta","text":"Hello "}}
{"type":"stream_event","delta":{"type":"text_delta","text":"world"}}
{"type":"stream_event","content_block":{"type":"tool_use","name":"Bash","input":{"command":"ls"}}}`
	out := Render("claude", raw)
	assert.Contains(t, out, "Hello world")
	assert.Contains(t, out, "[tool: Bash]")
}

func TestClaudeResultLine(t *testing.T) {
	raw := `{"type":"result","result":"All done"}`
	out := Render("claude", raw)
	assert.Contains(t, out, "All done")
}

func TestCodexThreadStartedAndUsage(t *testing.T) {
	raw := `{"type":"thread.started","id":"th_123"}
{"type":"item.completed","item":{"type":"agent_message","content":"Finished the task"}}
{"type":"turn.completed","usage":{"input":10,"output":20}}`
	out := Render("codex", raw)
	assert.Contains(t, out, "[thread] th_123")
	assert.Contains(t, out, "Finished the task")
	assert.Contains(t, out, "[usage]")
}

func TestCodexSpawnAndCloseAgentMarkers(t *testing.T) {
	raw := `{"type":"item.completed","item":{"type":"collab_tool_call","tool":"spawn_agent"}}
{"type":"item.completed","item":{"type":"collab_tool_call","tool":"close_agent"}}`
	out := Render("codex", raw)
	assert.Contains(t, out, "[spawn_agent]")
	assert.Contains(t, out, "[agent_done]")
}

func TestGeminiAssistantMessageWithToolCall(t *testing.T) {
	raw := `{"type":"message","role":"assistant","content":"Working on it","tool_calls":[{"name":"edit_file","params":{"path":"a.go"}}]}`
	out := Render("gemini", raw)
	assert.Contains(t, out, "Working on it")
	assert.Contains(t, out, "[tool: edit_file]")
}
