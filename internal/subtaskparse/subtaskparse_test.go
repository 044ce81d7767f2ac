package subtaskparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaudeToolUseCreatesAndCompletes(t *testing.T) {
	var events []Event
	p := New("claude", func(e Event) { events = append(events, e) })

	p.Feed(`{"type":"tool_use","id":"tu_1","name":"Task","input":{"description":"Write docs"}}`)
	p.Feed(`{"type":"tool_result","tool_use_id":"tu_1"}`)

	assert.Len(t, events, 2)
	assert.Equal(t, "create", events[0].Kind)
	assert.Equal(t, "Write docs", events[0].Title)
	assert.Equal(t, "tu_1", events[0].ToolUseID)
	assert.Equal(t, "complete", events[1].Kind)
	assert.Equal(t, "tu_1", events[1].ToolUseID)
}

func TestClaudeIgnoresNonTaskTools(t *testing.T) {
	var events []Event
	p := New("claude", func(e Event) { events = append(events, e) })
	p.Feed(`{"type":"tool_use","id":"tu_2","name":"Bash","input":{}}`)
	assert.Empty(t, events)
}

func TestCodexSpawnAgentAndCloseAgentCorrelateByThread(t *testing.T) {
	var events []Event
	p := New("codex", func(e Event) { events = append(events, e) })

	p.Feed(`{"type":"item.started","item":{"id":"item_1","type":"collab_tool_call","tool":"spawn_agent"}}`)
	p.Feed(`{"type":"item.completed","item":{"id":"item_1","type":"collab_tool_call","tool":"spawn_agent"},"receiver_thread_id":"thread_9"}`)
	p.Feed(`{"type":"item.completed","item":{"id":"item_2","type":"collab_tool_call","tool":"close_agent"},"receiver_thread_id":"thread_9"}`)

	assert.Len(t, events, 2)
	assert.Equal(t, "create", events[0].Kind)
	assert.Equal(t, "item_1", events[0].ToolUseID)
	assert.Equal(t, "complete", events[1].Kind)
	assert.Equal(t, "item_1", events[1].ToolUseID)
}

func TestCodexDuplicateStartMarkerIgnored(t *testing.T) {
	var events []Event
	p := New("codex", func(e Event) { events = append(events, e) })

	p.Feed(`{"type":"item.started","item":{"id":"item_1","type":"collab_tool_call","tool":"spawn_agent"}}`)
	p.Feed(`{"type":"item.started","item":{"id":"item_1","type":"collab_tool_call","tool":"spawn_agent"}}`)

	assert.Len(t, events, 1)
}

func TestPlainTextScansBoundedTailBuffer(t *testing.T) {
	var events []Event
	p := New("gemini", func(e Event) { events = append(events, e) })

	p.Feed(`Sure, here is my plan: {"subtasks":[{"title":"Research"},{"title":"Implement"}]}`)
	p.Feed(`Finished one: {"subtask_done":"Research"}`)

	assert.Len(t, events, 3)
	assert.Equal(t, "create", events[0].Kind)
	assert.Equal(t, "Research", events[0].Title)
	assert.Equal(t, "create", events[1].Kind)
	assert.Equal(t, "Implement", events[1].Title)
	assert.Equal(t, "complete", events[2].Kind)
	assert.Equal(t, "Research", events[2].Title)
}
