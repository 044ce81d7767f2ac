// Package prettyprint turns a buffer of newline-delimited provider stream
// events into readable text, per spec.md §4.12. The per-event-type switch
// mirrors the teacher's internal/providers/anthropic_stream.go decoding
// style: one json.Unmarshal per line into a narrow envelope, dispatched by
// a type/field discriminator.
package prettyprint

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Render converts raw, provider-tagged stream output into readable text.
// Non-JSON input is returned unchanged.
func Render(provider, raw string) string {
	lines := strings.Split(raw, "\n")

	var meta []string
	var body strings.Builder
	sawJSON := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed[0] != '{' {
			continue
		}

		var envelope map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
			continue
		}
		sawJSON = true

		switch provider {
		case "claude":
			renderClaudeLine(envelope, &meta, &body)
		case "gemini":
			renderGeminiLine(envelope, &meta, &body)
		case "codex":
			renderCodexLine(envelope, &meta, &body)
		default:
			renderPlainLine(envelope, &body)
		}
	}

	if !sawJSON {
		return raw
	}

	var out strings.Builder
	for _, m := range meta {
		out.WriteString(m)
		out.WriteString("\n")
	}
	out.WriteString(collapseNewlines(body.String()))
	return strings.TrimSpace(out.String())
}

func typeOf(env map[string]json.RawMessage) string {
	var t string
	if raw, ok := env["type"]; ok {
		json.Unmarshal(raw, &t)
	}
	return t
}

func strField(env map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := env[key]; ok {
		json.Unmarshal(raw, &s)
	}
	return s
}

func renderClaudeLine(env map[string]json.RawMessage, meta *[]string, body *strings.Builder) {
	switch typeOf(env) {
	case "stream_event":
		var ev struct {
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			ContentBlock struct {
				Type  string `json:"type"`
				Name  string `json:"name"`
				Input json.RawMessage
			} `json:"content_block"`
		}
		raw, _ := json.Marshal(env)
		json.Unmarshal(raw, &ev)
		if ev.Delta.Type == "text_delta" {
			body.WriteString(ev.Delta.Text)
		}
		if ev.ContentBlock.Type == "tool_use" {
			body.WriteString("\n[tool: " + ev.ContentBlock.Name + "] " + shortKey(string(ev.ContentBlock.Input)) + "\n")
		}

	case "result":
		body.WriteString(strField(env, "result"))
		body.WriteString("\n")
	}
}

func renderGeminiLine(env map[string]json.RawMessage, meta *[]string, body *strings.Builder) {
	var msg struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		ToolCalls []struct {
			Name   string          `json:"name"`
			Params json.RawMessage `json:"params"`
		} `json:"tool_calls"`
		ToolResults []struct {
			Status string `json:"status"`
		} `json:"tool_results"`
	}
	raw, _ := json.Marshal(env)
	json.Unmarshal(raw, &msg)

	if typeOf(env) != "message" || msg.Role != "assistant" {
		return
	}
	if msg.Content != "" {
		body.WriteString(msg.Content)
		body.WriteString("\n")
	}
	for _, tc := range msg.ToolCalls {
		body.WriteString("[tool: " + tc.Name + "] " + shortKey(string(tc.Params)) + "\n")
	}
	for _, tr := range msg.ToolResults {
		if tr.Status != "" && tr.Status != "ok" && tr.Status != "success" {
			body.WriteString("[result: " + tr.Status + "]\n")
		}
	}
}

func renderCodexLine(env map[string]json.RawMessage, meta *[]string, body *strings.Builder) {
	t := typeOf(env)
	switch {
	case t == "thread.started":
		id := strField(env, "id")
		*meta = append(*meta, "[thread] "+id)

	case t == "item.completed":
		var ev struct {
			Item struct {
				Type    string `json:"type"`
				Tool    string `json:"tool"`
				Name    string `json:"name"`
				Args    string `json:"args"`
				Text    string `json:"text"`
				Status  string `json:"status"`
				Content string `json:"content"`
			} `json:"item"`
		}
		raw, _ := json.Marshal(env)
		json.Unmarshal(raw, &ev)

		switch ev.Item.Type {
		case "agent_message":
			body.WriteString(ev.Item.Content)
			if ev.Item.Content == "" {
				body.WriteString(ev.Item.Text)
			}
			body.WriteString("\n")
		case "reasoning":
			body.WriteString("[reasoning] " + ev.Item.Text + "\n")
		case "tool_call":
			body.WriteString("[tool: " + ev.Item.Name + "] " + shortKey(ev.Item.Args) + "\n")
		case "tool_output":
			body.WriteString(truncate200(ev.Item.Content) + "\n")
		case "collab_tool_call":
			if ev.Item.Tool == "spawn_agent" {
				body.WriteString("[spawn_agent]\n")
			} else if ev.Item.Tool == "close_agent" {
				body.WriteString("[agent_done]\n")
			}
		}

	case t == "turn.completed":
		if usage, ok := env["usage"]; ok {
			*meta = append(*meta, "[usage] "+string(usage))
		}
	}
}

func renderPlainLine(env map[string]json.RawMessage, body *strings.Builder) {
	if raw, ok := env["content"]; ok {
		var s string
		json.Unmarshal(raw, &s)
		body.WriteString(s)
		body.WriteString("\n")
	}
}

func shortKey(jsonBlob string) string {
	jsonBlob = strings.TrimSpace(jsonBlob)
	if len(jsonBlob) > 60 {
		return jsonBlob[:60] + "…"
	}
	return jsonBlob
}

func truncate200(s string) string {
	r := []rune(s)
	if len(r) <= 200 {
		return s
	}
	return string(r[:200]) + "…"
}

var multiBlankRe = regexp.MustCompile(`\n{3,}`)

func collapseNewlines(s string) string {
	s = multiBlankRe.ReplaceAllString(s, "\n\n")
	return s
}
