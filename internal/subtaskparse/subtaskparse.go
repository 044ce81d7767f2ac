// Package subtaskparse extracts subtask lifecycle markers from a CLI
// agent's stdout, per spec.md §4.5. Each provider emits a different
// NDJSON-ish dialect; the line-by-line switch below follows the event
// decoding style of the teacher's internal/providers/anthropic_stream.go
// (bufio.Scanner over raw lines, per-event-type json.Unmarshal into a
// narrow struct, side effects via callback rather than return value).
package subtaskparse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Event is a single subtask lifecycle marker extracted from a stream line.
type Event struct {
	Kind        string // "create" or "complete"
	ToolUseID   string // opaque correlation key from the CLI stream
	Title       string
	Description string
}

// Handler receives lifecycle events as they're parsed.
type Handler func(Event)

// Parser tracks per-provider correlation state across a single task's run.
// Codex's spawn_agent/close_agent dialect requires remembering which
// spawning item id a receiver thread id belongs to (codexThreadToSubtask
// in the orchestrator's terms); this Parser owns that map for one task.
type Parser struct {
	provider string
	onEvent  Handler

	// codex: receiver thread id -> spawning item id
	threadToItem map[string]string
	// codex: item ids we've already seen a spawn_agent start for, so a
	// duplicate item.started is ignored per spec.md §10 note 1.
	seenSpawns map[string]bool

	// gemini/http: bounded tail buffer for the plain-text JSON-object
	// scan, plus per-title dedupe so the sliding window doesn't re-emit
	// a marker it already fired on an earlier line.
	tailBuf      strings.Builder
	emittedCreate map[string]bool
	emittedDone   map[string]bool
}

const tailBufLimit = 2048

// New creates a Parser scoped to one task's run for the given provider.
func New(provider string, onEvent Handler) *Parser {
	return &Parser{
		provider:      provider,
		onEvent:       onEvent,
		threadToItem:  make(map[string]string),
		seenSpawns:    make(map[string]bool),
		emittedCreate: make(map[string]bool),
		emittedDone:   make(map[string]bool),
	}
}

// Feed processes one line of stdout. Non-JSON or unrecognized lines are
// ignored, not errors.
func (p *Parser) Feed(line string) {
	switch p.provider {
	case "claude":
		p.feedClaude(line)
	case "codex":
		p.feedCodex(line)
	default:
		p.feedPlainText(line)
	}
}

type claudeToolEvent struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	ToolUseID  string `json:"tool_use_id"`
	ToolName   string `json:"name"`
	ToolResult string `json:"tool"`
	Input      struct {
		Description string `json:"description"`
		Prompt      string `json:"prompt"`
	} `json:"input"`
}

func (p *Parser) feedClaude(line string) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return
	}
	var ev claudeToolEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return
	}

	switch ev.Type {
	case "tool_use":
		if ev.ToolName != "Task" {
			return
		}
		title := ev.Input.Description
		if title == "" {
			title = truncate(ev.Input.Prompt, 100)
		}
		p.emit(Event{Kind: "create", ToolUseID: ev.ID, Title: title, Description: ev.Input.Prompt})

	case "tool_result":
		// tool_result frames report the originating tool via a nested
		// "tool" field in some providers and via tool_use_id correlation
		// in others; both are accepted since the wire dialect here is a
		// simplification over the full Claude stream-json schema.
		id := ev.ToolUseID
		if id == "" {
			id = ev.ID
		}
		if id == "" {
			return
		}
		p.emit(Event{Kind: "complete", ToolUseID: id})
	}
}

type codexItemEvent struct {
	Type string `json:"type"`
	Item struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Tool string `json:"tool"`
	} `json:"item"`
	ReceiverThreadID string `json:"receiver_thread_id"`
}

func (p *Parser) feedCodex(line string) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return
	}
	var ev codexItemEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return
	}

	switch ev.Type {
	case "item.started":
		if ev.Item.Type != "collab_tool_call" || ev.Item.Tool != "spawn_agent" {
			return
		}
		if p.seenSpawns[ev.Item.ID] {
			return // duplicate start marker for the same item id, ignored
		}
		p.seenSpawns[ev.Item.ID] = true
		p.emit(Event{Kind: "create", ToolUseID: ev.Item.ID, Title: "spawn_agent"})

	case "item.completed":
		switch {
		case ev.Item.Tool == "spawn_agent":
			if ev.ReceiverThreadID != "" {
				p.threadToItem[ev.ReceiverThreadID] = ev.Item.ID
			}
		case ev.Item.Tool == "close_agent":
			itemID, ok := p.threadToItem[ev.ReceiverThreadID]
			if !ok {
				return
			}
			p.emit(Event{Kind: "complete", ToolUseID: itemID})
		}
	}
}

var (
	subtasksCreateRe = regexp.MustCompile(`\{"subtasks"\s*:\s*\[[^\]]*\]\}`)
	subtaskDoneRe    = regexp.MustCompile(`\{"subtask_done"\s*:\s*"([^"]*)"\}`)
)

type plainTextSubtasks struct {
	Subtasks []struct {
		Title string `json:"title"`
	} `json:"subtasks"`
}

// feedPlainText handles gemini, copilot, and antigravity: the agent is
// instructed (per the execution prompt contract) to emit bare JSON
// objects inline in its prose. The scan buffer is bounded to the last
// 2 KB so a long-running stream doesn't grow this unboundedly.
func (p *Parser) feedPlainText(line string) {
	p.tailBuf.WriteString(line)
	p.tailBuf.WriteString("\n")
	buf := p.tailBuf.String()
	if len(buf) > tailBufLimit {
		buf = buf[len(buf)-tailBufLimit:]
		p.tailBuf.Reset()
		p.tailBuf.WriteString(buf)
	}

	if m := subtasksCreateRe.FindString(buf); m != "" {
		var parsed plainTextSubtasks
		if err := json.Unmarshal([]byte(m), &parsed); err == nil {
			for _, st := range parsed.Subtasks {
				if p.emittedCreate[st.Title] {
					continue
				}
				p.emittedCreate[st.Title] = true
				p.emit(Event{Kind: "create", Title: st.Title})
			}
		}
	}

	if matches := subtaskDoneRe.FindAllStringSubmatch(buf, -1); matches != nil {
		for _, m := range matches {
			if p.emittedDone[m[1]] {
				continue
			}
			p.emittedDone[m[1]] = true
			p.emit(Event{Kind: "complete", Title: m[1]})
		}
	}
}

func (p *Parser) emit(e Event) {
	if p.onEvent != nil {
		p.onEvent(e)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
