package delegation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/climpire/internal/store"
)

// DelegateSubtasks dispatches every foreign subtask of a completed main
// run as its own task in the target department, strictly one at a time,
// per spec.md §4.9. Implements orchestrator.SubtaskDelegator.
func (e *Engine) DelegateSubtasks(ctx context.Context, task store.Task) {
	subtasks, err := e.store.ListSubtasks(ctx, task.ID)
	if err != nil {
		return
	}

	var foreign []store.Subtask
	for _, st := range subtasks {
		if st.TargetDepartmentID != nil && st.DelegatedTaskID == nil {
			foreign = append(foreign, st)
		}
	}
	if len(foreign) == 0 {
		return
	}

	go e.processForeignSubtask(context.WithoutCancel(ctx), task, foreign, 0)
}

func (e *Engine) processForeignSubtask(ctx context.Context, parent store.Task, queue []store.Subtask, idx int) {
	if idx >= len(queue) {
		e.orch.MaybeFinishReview(ctx, parent.ID)
		return
	}

	st := queue[idx]
	dept := *st.TargetDepartmentID
	leader, err := e.store.TeamLeaderOf(ctx, dept)
	if err != nil {
		e.log.Warn().Str("department", dept).Str("subtask_id", st.ID).Msg("subtask delegation: no team leader, skipping")
		e.processForeignSubtask(ctx, parent, queue, idx+1)
		return
	}
	assignee := e.pickAssignee(ctx, dept, *leader)

	prompt := e.buildSubtaskPrompt(ctx, parent, st)

	deptID := dept
	child := &store.Task{
		Title:           st.Title,
		Description:     prompt,
		DepartmentID:    &deptID,
		AssignedAgentID: &assignee.ID,
		Status:          store.TaskPlanned,
		Priority:        1,
		ProjectPath:     parent.ProjectPath,
	}
	if err := e.store.CreateTask(ctx, child); err != nil {
		e.log.Error().Err(err).Str("subtask_id", st.ID).Msg("subtask delegation: failed to create child task")
		e.processForeignSubtask(ctx, parent, queue, idx+1)
		return
	}

	if err := e.store.UpdateSubtask(ctx, st.ID, map[string]any{
		"delegated_task_id": child.ID,
		"status":            store.SubtaskInProgress,
		"blocked_reason":    "",
	}); err != nil {
		e.log.Warn().Err(err).Str("subtask_id", st.ID).Msg("subtask delegation: failed to link subtask")
	}
	e.broadcastSubtask(ctx, parent.ID, st.ID)
	e.broadcastTask(ctx, child.ID)
	e.orch.LinkDelegatedTask(child.ID, st.ID)
	_ = e.store.AppendTaskLog(ctx, child.ID, "delegation",
		fmt.Sprintf("delegated subtask %q from task %s", st.Title, parent.ID))

	e.orch.RegisterSubtaskNext(child.ID, func(nextCtx context.Context) {
		e.processForeignSubtask(nextCtx, parent, queue, idx+1)
	})

	time.Sleep(jitter(time.Second, 2*time.Second))
	if err := e.orch.ExecuteTask(ctx, child.ID); err != nil {
		e.log.Error().Err(err).Str("task_id", child.ID).Msg("subtask delegation: execute failed")
		e.orch.RegisterSubtaskNext(child.ID, nil)
		e.processForeignSubtask(ctx, parent, queue, idx+1)
	}
}

// buildSubtaskPrompt enumerates every sibling subtask with a status icon
// plus the delegated scope, so the foreign team sees the whole plan.
func (e *Engine) buildSubtaskPrompt(ctx context.Context, parent store.Task, target store.Subtask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Delegated from \"%s\"]\n", parent.Title)
	if parent.Description != "" {
		fmt.Fprintf(&b, "Parent context: %s\n", parent.Description)
	}

	siblings, err := e.store.ListSubtasks(ctx, parent.ID)
	if err == nil && len(siblings) > 0 {
		b.WriteString("\nOverall plan:\n")
		for _, s := range siblings {
			marker := " "
			if s.ID == target.ID {
				marker = ">"
			}
			fmt.Fprintf(&b, "%s %s %s\n", marker, statusIcon(s.Status), s.Title)
		}
	}

	fmt.Fprintf(&b, "\nYour scope: %s\n", target.Title)
	if target.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", target.Description)
	}
	b.WriteString("Deliver only your scope; the other items are handled by their own teams.\n")
	return b.String()
}

func statusIcon(status string) string {
	switch status {
	case store.SubtaskDone:
		return "✅"
	case store.SubtaskInProgress:
		return "🔄"
	case store.SubtaskBlocked:
		return "⛔"
	default:
		return "⏳"
	}
}
