package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/climpire/internal/bus"
	"github.com/nextlevelbuilder/climpire/internal/deptmatch"
	"github.com/nextlevelbuilder/climpire/internal/errs"
	"github.com/nextlevelbuilder/climpire/internal/launcher"
	"github.com/nextlevelbuilder/climpire/internal/locale"
	"github.com/nextlevelbuilder/climpire/internal/store"
	"github.com/nextlevelbuilder/climpire/internal/subtaskparse"
	"github.com/nextlevelbuilder/climpire/internal/telemetry"
)

var pathPatterns = regexp.MustCompile(`(?:^|\s)((?:/|~/)[\w./\-]+)`)

// ResolveProjectPath prefers the task's own project_path, then scans the
// directive text for absolute or ~/ paths and known project directory
// names under $HOME/Projects (case-insensitive), falling back to the
// server cwd, per spec.md §4.8 step 1.
func ResolveProjectPath(task *store.Task, directive string) string {
	if task.ProjectPath != "" {
		return task.ProjectPath
	}
	if p := DetectProjectPath(directive); p != "" {
		return p
	}
	cwd, _ := os.Getwd()
	return cwd
}

// DetectProjectPath extracts a usable project directory from free text.
func DetectProjectPath(text string) string {
	home, _ := os.UserHomeDir()

	for _, m := range pathPatterns.FindAllStringSubmatch(text, -1) {
		candidate := m[1]
		if strings.HasPrefix(candidate, "~/") {
			candidate = filepath.Join(home, candidate[2:])
		}
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}

	projectsDir := filepath.Join(home, "Projects")
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		return ""
	}
	lower := strings.ToLower(text)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.Contains(lower, strings.ToLower(e.Name())) {
			return filepath.Join(projectsDir, e.Name())
		}
	}
	return ""
}

// RunTask is the REST-facing entry for POST /api/tasks/:id/run: validate
// preconditions, optionally rebind the agent/project path, then execute.
func (o *Orchestrator) RunTask(ctx context.Context, taskID, agentID, projectPath string) error {
	if _, running := o.ActiveProcess(taskID); running {
		return errs.NewInputError("already_running", "task already has an active process")
	}

	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	updates := map[string]any{}
	if projectPath != "" {
		updates["project_path"] = projectPath
	}
	if agentID != "" {
		updates["assigned_agent_id"] = agentID
	} else if task.AssignedAgentID != nil {
		agentID = *task.AssignedAgentID
	}
	if agentID == "" {
		return errs.NewInputError("agent_required", "task has no assigned agent")
	}

	agent, err := o.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status == store.AgentWorking && (agent.CurrentTaskID == nil || *agent.CurrentTaskID != taskID) {
		return errs.NewInputError("agent_busy", "agent is working on another task")
	}
	if agent.CliProvider == nil || *agent.CliProvider == "" {
		return errs.NewInputError("unsupported_provider", "agent has no CLI provider")
	}

	if len(updates) > 0 {
		if err := o.store.UpdateTask(ctx, taskID, updates); err != nil {
			return err
		}
	}
	return o.ExecuteTask(ctx, taskID)
}

// ExecuteTask runs the worktree-isolated execution loop for an assigned,
// planned task, per spec.md §4.8.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.AssignedAgentID == nil {
		return errs.NewInputError("agent_required", "task has no assigned agent")
	}
	agent, err := o.store.GetAgent(ctx, *task.AssignedAgentID)
	if err != nil {
		return err
	}
	provider := ""
	if agent.CliProvider != nil {
		provider = *agent.CliProvider
	}
	if provider == "" {
		return errs.NewInputError("unsupported_provider", "agent has no CLI provider")
	}

	projectPath := ResolveProjectPath(task, task.Description)

	wtHandle, err := o.worktrees.CreateWorktree(ctx, projectPath, taskID, agent.Name)
	if err != nil {
		_ = o.store.AppendTaskLog(ctx, taskID, "worktree", fmt.Sprintf("create failed: %v", err))
	} else if wtHandle != nil {
		_ = o.store.AppendTaskLog(ctx, taskID, "worktree", fmt.Sprintf("created %s on %s", wtHandle.WorktreePath, wtHandle.BranchName))
	} else {
		_ = o.store.AppendTaskLog(ctx, taskID, "worktree", "project is not a repository, running in place")
	}

	workDir := projectPath
	if wtHandle != nil {
		workDir = wtHandle.WorktreePath
	}

	prompt, err := o.composePrompt(ctx, task, agent, provider)
	if err != nil {
		return err
	}
	// Ephemeral prompt copy, removed again on child close.
	_ = os.MkdirAll(o.logsDir, 0755)
	_ = os.WriteFile(filepath.Join(o.logsDir, taskID+".prompt.txt"), []byte(prompt), 0600)

	if err := o.store.UpdateTask(ctx, taskID, map[string]any{"status": store.TaskInProgress, "project_path": projectPath}); err != nil {
		return err
	}
	if err := o.store.SetAgentWorking(ctx, agent.ID, taskID); err != nil {
		return err
	}
	o.broadcastTask(ctx, taskID)
	o.broadcastAgent(ctx, agent.ID)
	o.notifyCEO(ctx, agent.ID, taskID, fmt.Sprintf("Starting on \"%s\" now.", task.Title))

	dept := ""
	if task.DepartmentID != nil {
		dept = *task.DepartmentID
	}
	runCtx, span := o.tracer.Start(context.WithoutCancel(ctx), "task.run",
		trace.WithAttributes(telemetry.TaskAttrs(taskID, provider, dept)...))

	parser := o.newSubtaskParser(runCtx, task, provider)
	onOutput := func(stream, data string) {
		o.bus.Broadcast(bus.Event{Type: "cli_output", Payload: bus.CliOutputPayload{TaskID: taskID, Stream: stream, Data: data}})
	}

	handle, err := o.launcher.Start(runCtx, taskID, provider, "", "", prompt, workDir, onOutput, parser.Feed)
	if err != nil {
		span.SetStatus(codes.Error, "spawn failed")
		span.End()
		_ = o.store.AppendTaskLog(ctx, taskID, "run", fmt.Sprintf("RUN error: %v", err))
		_ = o.store.UpdateTask(ctx, taskID, map[string]any{"status": store.TaskInbox})
		_ = o.store.SetAgentIdle(ctx, agent.ID, false)
		if wtHandle != nil {
			_ = o.worktrees.RollbackTaskWorktree(ctx, wtHandle, "spawn_failed", o.taskLogFn(ctx, taskID))
		}
		o.broadcastTask(ctx, taskID)
		o.broadcastAgent(ctx, agent.ID)
		return errs.NewRunFailureError(taskID, -1, err)
	}

	o.mu.Lock()
	o.activeProcesses[taskID] = handle
	if wtHandle != nil {
		o.taskWorktrees[taskID] = wtHandle
	}
	o.taskSpans[taskID] = span
	o.mu.Unlock()

	o.startProgressTimer(runCtx, taskID, dept)

	go func() {
		code := <-handle.Done
		o.HandleCompletion(context.WithoutCancel(runCtx), taskID, code)
	}()

	_ = o.store.AppendTaskLog(ctx, taskID, "run", fmt.Sprintf("started %s (pid %d) in %s", provider, handle.Pid, workDir))
	return nil
}

// startProgressTimer posts a "progress continues" report from the team
// leader every 300s while the task is still in_progress.
func (o *Orchestrator) startProgressTimer(ctx context.Context, taskID, departmentID string) {
	timerCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.progressCancels[taskID] = cancel
	o.mu.Unlock()

	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-timerCtx.Done():
				return
			case <-ticker.C:
				task, err := o.store.GetTask(timerCtx, taskID)
				if err != nil || task.Status != store.TaskInProgress {
					continue
				}
				leader, err := o.store.TeamLeaderOf(timerCtx, departmentID)
				if err != nil {
					continue
				}
				o.notifyCEO(timerCtx, leader.ID, taskID, fmt.Sprintf("Progress continues on \"%s\" — the run is still active.", task.Title))
			}
		}
	}()
}

// newSubtaskParser wires stream lifecycle markers to subtask rows,
// applying foreign-department detection on creation, per spec.md §4.5.
func (o *Orchestrator) newSubtaskParser(ctx context.Context, task *store.Task, provider string) *subtaskparse.Parser {
	taskDept := ""
	if task.DepartmentID != nil {
		taskDept = *task.DepartmentID
	}
	language := locale.Detect(task.Title+" "+task.Description, o.language())

	return subtaskparse.New(provider, func(ev subtaskparse.Event) {
		switch ev.Kind {
		case "create":
			o.createStreamSubtask(ctx, task.ID, taskDept, language, ev)
		case "complete":
			o.completeStreamSubtask(ctx, task.ID, ev)
		}
	})
}

func (o *Orchestrator) createStreamSubtask(ctx context.Context, taskID, taskDept, language string, ev subtaskparse.Event) {
	st := &store.Subtask{
		TaskID:       taskID,
		Title:        ev.Title,
		Description:  ev.Description,
		CliToolUseID: ev.ToolUseID,
		Status:       store.SubtaskInProgress,
	}
	if mentioned := deptmatch.Detect(ev.Title+" "+ev.Description, taskDept); len(mentioned) > 0 {
		target := mentioned[0]
		st.TargetDepartmentID = &target
		st.Status = store.SubtaskBlocked
		st.BlockedReason = blockedReason(language, target)
	}
	if err := o.store.CreateSubtask(ctx, st); err != nil {
		o.log.Warn().Err(err).Str("task_id", taskID).Msg("failed to create stream subtask")
		return
	}
	o.broadcastSubtask(ctx, taskID, st.ID)
}

func (o *Orchestrator) completeStreamSubtask(ctx context.Context, taskID string, ev subtaskparse.Event) {
	var target *store.Subtask
	if ev.ToolUseID != "" {
		st, err := o.store.GetSubtaskByToolUseID(ctx, taskID, ev.ToolUseID)
		if err != nil {
			return
		}
		target = st
	} else {
		subtasks, err := o.store.ListSubtasks(ctx, taskID)
		if err != nil {
			return
		}
		for i := range subtasks {
			if subtasks[i].Title == ev.Title && subtasks[i].Status != store.SubtaskDone {
				target = &subtasks[i]
				break
			}
		}
	}
	if target == nil || target.TargetDepartmentID != nil {
		return
	}
	if err := o.store.UpdateSubtask(ctx, target.ID, map[string]any{"status": store.SubtaskDone}); err != nil {
		return
	}
	o.broadcastSubtask(ctx, taskID, target.ID)
}

// blockedReason localizes the "waiting on another department" reason.
func blockedReason(language, departmentID string) string {
	switch language {
	case "ko":
		return fmt.Sprintf("%s 협업 대기 중", departmentID)
	case "ja":
		return fmt.Sprintf("%s の対応待ち", departmentID)
	case "zh":
		return fmt.Sprintf("等待 %s 协作", departmentID)
	default:
		return fmt.Sprintf("waiting on %s", departmentID)
	}
}

// composePrompt builds the execution prompt per spec.md §4.8 step 3.
func (o *Orchestrator) composePrompt(ctx context.Context, task *store.Task, agent *store.Agent, provider string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", task.Description)
	}

	msgs, err := o.store.RecentConversation(ctx, agent.ID, 10)
	if err == nil && len(msgs) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range msgs {
			fmt.Fprintf(&b, "- [%s] %s\n", m.SenderType, m.Content)
		}
	}

	dept := ""
	if agent.DepartmentID != nil {
		dept = *agent.DepartmentID
	}
	fmt.Fprintf(&b, "\nYou are %s, a %s in the %s department.\n", agent.Name, agent.Role, dept)
	if agent.Personality != "" {
		fmt.Fprintf(&b, "Personality: %s\n", agent.Personality)
	}
	b.WriteString(roleConstraint(dept))
	b.WriteString("\n")

	if !launcher.IsCLIProvider(provider) || provider == store.ProviderGemini {
		// Providers without native subagents follow the plan-output
		// contract so the stream parser can track subtasks.
		b.WriteString("\nBefore starting, output your plan as a single line: {\"subtasks\":[{\"title\":\"...\"}]}\n")
		b.WriteString("After finishing each subtask, output: {\"subtask_done\":\"<title>\"}\n")
	}

	return b.String(), nil
}

func roleConstraint(departmentID string) string {
	switch departmentID {
	case store.DeptDevelopment:
		return "Stay within implementation work: write and change code, tests, and build files."
	case store.DeptDesign:
		return "Stay within design work: UX flows, visual assets, and style guidance. Do not write production code."
	case store.DeptQA:
		return "Stay within QA work: test plans, test code, and quality reports. Do not write production code."
	case store.DeptPlanning:
		return "Stay within planning work: requirements, scope, and sequencing documents."
	case store.DeptDevSecOps:
		return "Stay within security and deployment work: hardening, CI, and release safety."
	case store.DeptOperations:
		return "Stay within operations work: runbooks, monitoring, and rollout steps."
	default:
		return "Stay within your department's domain."
	}
}

func (o *Orchestrator) notifyCEO(ctx context.Context, senderAgentID, taskID, content string) {
	msg := &store.Message{
		SenderType:   store.SenderAgent,
		SenderID:     senderAgentID,
		ReceiverType: store.ReceiverAgent,
		ReceiverID:   "ceo",
		Content:      content,
		MessageType:  store.MsgStatusUpdate,
		TaskID:       &taskID,
	}
	if err := o.store.CreateMessage(ctx, msg); err != nil {
		return
	}
	o.bus.Broadcast(bus.Event{Type: "new_message", Payload: msg})
}

func (o *Orchestrator) taskLogFn(ctx context.Context, taskID string) func(kind, message string) {
	return func(kind, message string) {
		_ = o.store.AppendTaskLog(ctx, taskID, kind, message)
	}
}
