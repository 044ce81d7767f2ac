package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/climpire/internal/bus"
	"github.com/nextlevelbuilder/climpire/internal/prettyprint"
	"github.com/nextlevelbuilder/climpire/internal/store"
)

func (s *Server) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	depts, err := s.store.ListDepartments(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": depts})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handlePatchAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var updates map[string]any
	if err := decodeBody(r, &updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := s.store.UpdateAgent(r.Context(), id, updates); err != nil {
		writeDomainError(w, err)
		return
	}
	agent, err := s.store.GetAgent(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.bus.Broadcast(bus.Event{Type: "agent_status", Payload: bus.AgentStatusPayload{AgentID: id, Agent: agent}})
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := s.store.ListTasks(r.Context(), q.Get("status"), q.Get("department_id"), q.Get("agent_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title        string  `json:"title"`
		Description  string  `json:"description"`
		DepartmentID *string `json:"department_id"`
		Priority     int     `json:"priority"`
		TaskType     string  `json:"task_type"`
		ProjectPath  string  `json:"project_path"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "title_required", "title is required")
		return
	}
	task := &store.Task{
		Title:        body.Title,
		Description:  body.Description,
		DepartmentID: body.DepartmentID,
		Priority:     body.Priority,
		TaskType:     body.TaskType,
		ProjectPath:  body.ProjectPath,
	}
	if err := s.store.CreateTask(r.Context(), task); err != nil {
		writeDomainError(w, err)
		return
	}
	s.bus.Broadcast(bus.Event{Type: "task_update", Payload: bus.TaskUpdatePayload{TaskID: task.ID, Task: task}})
	writeJSON(w, http.StatusCreated, map[string]any{"id": task.ID, "task": task})
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var updates map[string]any
	if err := decodeBody(r, &updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := s.store.UpdateTask(r.Context(), id, updates); err != nil {
		writeDomainError(w, err)
		return
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.bus.Broadcast(bus.Event{Type: "task_update", Payload: bus.TaskUpdatePayload{TaskID: id, Task: task}})
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.DeleteTask(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	_ = os.Remove(filepath.Join(s.logsDir, id+".log"))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeBody(r, &body); err != nil || body.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id_required", "agent_id is required")
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	agent, err := s.store.GetAgent(r.Context(), body.AgentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	updates := map[string]any{"assigned_agent_id": body.AgentID}
	if task.Status == store.TaskInbox {
		updates["status"] = store.TaskPlanned
	}
	if err := s.store.UpdateTask(r.Context(), id, updates); err != nil {
		writeDomainError(w, err)
		return
	}

	msg := &store.Message{
		SenderType:   store.SenderSystem,
		SenderID:     "system",
		ReceiverType: store.ReceiverAgent,
		ReceiverID:   agent.ID,
		Content:      "Assigned: " + task.Title,
		MessageType:  store.MsgTaskAssign,
		TaskID:       &id,
	}
	_ = s.store.CreateMessage(r.Context(), msg)
	s.bus.Broadcast(bus.Event{Type: "new_message", Payload: msg})

	updated, _ := s.store.GetTask(r.Context(), id)
	s.bus.Broadcast(bus.Event{Type: "task_update", Payload: bus.TaskUpdatePayload{TaskID: id, Task: updated}})
	writeJSON(w, http.StatusOK, map[string]any{"task": updated})
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		AgentID     string `json:"agent_id"`
		ProjectPath string `json:"project_path"`
	}
	_ = decodeBody(r, &body) // body is optional

	if err := s.orch.RunTask(r.Context(), id, body.AgentID, body.ProjectPath); err != nil {
		writeDomainError(w, err)
		return
	}
	pid, _ := s.orch.ActiveProcess(id)
	writeJSON(w, http.StatusOK, map[string]any{"started": true, "pid": pid})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	pid, err := s.orch.StopTask(r.Context(), id, body.Mode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true, "pid": pid})
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.orch.ResumeTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleTaskTerminal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	lines := 200
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}

	data, err := os.ReadFile(filepath.Join(s.logsDir, id+".log"))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"output": ""})
		return
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	output := strings.Join(all, "\n")

	if r.URL.Query().Get("pretty") == "1" {
		provider := "claude"
		if task.AssignedAgentID != nil {
			if agent, err := s.store.GetAgent(r.Context(), *task.AssignedAgentID); err == nil && agent.CliProvider != nil {
				provider = *agent.CliProvider
			}
		}
		output = prettyprint.Render(provider, output)
	}
	writeJSON(w, http.StatusOK, map[string]any{"output": output})
}

func (s *Server) handleTaskDiff(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.GetTask(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	h := s.orch.WorktreeFor(id)
	if h == nil {
		writeJSON(w, http.StatusOK, map[string]any{"diff": "(no worktree)"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diff": s.worktrees.GetWorktreeDiffSummary(r.Context(), h)})
}

func (s *Server) handleTaskMerge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h := s.orch.WorktreeFor(id)
	if h == nil {
		writeError(w, http.StatusBadRequest, "no_worktree", "task has no active worktree")
		return
	}
	result, err := s.worktrees.MergeWorktree(r.Context(), h)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if result.Success {
		_ = s.worktrees.CleanupWorktree(r.Context(), h)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTaskDiscard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h := s.orch.WorktreeFor(id)
	if h == nil {
		writeError(w, http.StatusBadRequest, "no_worktree", "task has no active worktree")
		return
	}
	if err := s.worktrees.RollbackTaskWorktree(r.Context(), h, "manual_discard", func(kind, message string) {
		_ = s.store.AppendTaskLog(r.Context(), id, kind, message)
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discarded": true})
}

func (s *Server) handleMeetingMinutes(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meetings, entries, err := s.store.MeetingMinutesForTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	type meetingWithEntries struct {
		store.MeetingMinutes
		Entries []store.MeetingMinuteEntry `json:"entries"`
	}
	out := make([]meetingWithEntries, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, meetingWithEntries{MeetingMinutes: m, Entries: entries[m.ID]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"meetings": out})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var msg store.Message
	if err := decodeBody(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if msg.Content == "" {
		writeError(w, http.StatusBadRequest, "content_required", "content is required")
		return
	}
	if msg.SenderType == "" {
		msg.SenderType = store.SenderCEO
	}
	if msg.MessageType == "" {
		msg.MessageType = store.MsgChat
	}
	if err := s.store.CreateMessage(r.Context(), &msg); err != nil {
		writeDomainError(w, err)
		return
	}
	s.bus.Broadcast(bus.Event{Type: "new_message", Payload: &msg})

	// CEO→agent messages get an auto-reply or a full delegation run.
	s.delegation.HandleCEOMessage(r.Context(), &msg)

	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	msgs, err := s.store.ListMessages(r.Context(), q.Get("receiver_type"), q.Get("receiver_id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.store.DeleteMessages(r.Context(), q.Get("agent_id"), q.Get("scope")); err != nil {
		writeDomainError(w, err)
		return
	}
	s.bus.Broadcast(bus.Event{Type: "messages_cleared", Payload: map[string]string{"agent_id": q.Get("agent_id"), "scope": q.Get("scope")}})
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handlePostAnnouncement(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil || body.Content == "" {
		writeError(w, http.StatusBadRequest, "content_required", "content is required")
		return
	}

	msg := &store.Message{
		SenderType:   store.SenderCEO,
		SenderID:     "ceo",
		ReceiverType: store.ReceiverAll,
		ReceiverID:   "all",
		Content:      body.Content,
		MessageType:  store.MsgAnnouncement,
	}
	if err := s.store.CreateMessage(r.Context(), msg); err != nil {
		writeDomainError(w, err)
		return
	}
	s.bus.Broadcast(bus.Event{Type: "new_message", Payload: msg})
	s.delegation.HandleCEOMessage(r.Context(), msg)
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (s *Server) handleCliStatus(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "1"
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.cliStatus.Detect(refresh)})
}

func (s *Server) handleCliUsage(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.usage.CachedAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": snapshots})
}

func (s *Server) handleCliUsageRefresh(w http.ResponseWriter, r *http.Request) {
	s.usage.RefreshAll(r.Context())
	snapshots, err := s.usage.CachedAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": snapshots})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := decodeBody(r, &updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	for k, v := range updates {
		if err := s.store.PutSetting(r.Context(), k, v); err != nil {
			writeDomainError(w, err)
			return
		}
		if k == "language" {
			if lang, ok := v.(string); ok {
				s.cfg.SetLanguage(lang)
			}
		}
	}
	settings, _ := s.store.ListSettings(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}
