package orchestrator

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/climpire/internal/errs"
	"github.com/nextlevelbuilder/climpire/internal/runner"
	"github.com/nextlevelbuilder/climpire/internal/store"
)

const (
	breakRotationInterval = 60 * time.Second
	breakRotationInitial  = 5 * time.Second
)

// StopTask implements POST /api/tasks/:id/stop, per spec.md §4.11.
// mode "pause" parks the task as pending, "cancel" as cancelled. Returns
// the stopped process pid.
func (o *Orchestrator) StopTask(ctx context.Context, taskID, mode string) (int, error) {
	var targetStatus, reason string
	switch mode {
	case "pause":
		targetStatus, reason = store.TaskPending, "stop_paused"
	case "cancel":
		targetStatus, reason = store.TaskCancelled, "stop_cancelled"
	default:
		return 0, errs.NewInputError("invalid_mode", "mode must be pause or cancel")
	}

	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return 0, err
	}

	o.stopProgressTimer(taskID)
	o.markStopRequested(taskID)

	o.mu.Lock()
	handle := o.activeProcesses[taskID]
	o.mu.Unlock()
	pid := 0
	if handle != nil {
		pid = handle.Pid
		if err := handle.Kill(); err != nil {
			o.log.Warn().Err(err).Str("task_id", taskID).Msg("kill on stop failed")
		}
	}

	if h := o.dropWorktree(taskID); h != nil {
		_ = o.worktrees.RollbackTaskWorktree(ctx, h, reason, o.taskLogFn(ctx, taskID))
	}

	if err := o.store.UpdateTask(ctx, taskID, map[string]any{"status": targetStatus}); err != nil {
		return pid, err
	}
	if task.AssignedAgentID != nil {
		_ = o.store.SetAgentIdle(ctx, *task.AssignedAgentID, false)
		o.broadcastAgent(ctx, *task.AssignedAgentID)
	}
	o.broadcastTask(ctx, taskID)
	_ = o.store.AppendTaskLog(ctx, taskID, "stop", "stopped with mode "+mode)
	return pid, nil
}

// ResumeTask implements POST /api/tasks/:id/resume: only valid from
// pending or cancelled; the task returns to planned if it has an
// assignee, else inbox.
func (o *Orchestrator) ResumeTask(ctx context.Context, taskID string) (*store.Task, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != store.TaskPending && task.Status != store.TaskCancelled {
		return nil, errs.NewInputError("invalid_status", "resume is only valid from pending or cancelled")
	}

	target := store.TaskInbox
	if task.AssignedAgentID != nil {
		target = store.TaskPlanned
	}
	if err := o.store.UpdateTask(ctx, taskID, map[string]any{"status": target}); err != nil {
		return nil, err
	}
	o.broadcastTask(ctx, taskID)
	return o.store.GetTask(ctx, taskID)
}

// Shutdown tears down all in-flight work on SIGINT/SIGTERM, per
// spec.md §5: kill every active child tree, roll back every worktree,
// reset agents, and cancel still-running tasks.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	handles := make(map[string]*runner.Handle, len(o.activeProcesses))
	for id, h := range o.activeProcesses {
		o.stopRequested[id] = true
		handles[id] = h
	}
	worktreeIDs := make([]string, 0, len(o.taskWorktrees))
	for id := range o.taskWorktrees {
		worktreeIDs = append(worktreeIDs, id)
	}
	o.mu.Unlock()

	for id, h := range handles {
		if err := h.Kill(); err != nil {
			o.log.Warn().Err(err).Str("task_id", id).Msg("shutdown kill failed")
		}
	}
	for _, id := range worktreeIDs {
		if h := o.dropWorktree(id); h != nil {
			_ = o.worktrees.RollbackTaskWorktree(ctx, h, "server_shutdown", o.taskLogFn(ctx, id))
		}
	}

	tasks, err := o.store.ListTasks(ctx, store.TaskInProgress, "", "")
	if err != nil {
		o.log.Error().Err(err).Msg("shutdown: failed to list in-progress tasks")
		return
	}
	for _, t := range tasks {
		_ = o.store.UpdateTask(ctx, t.ID, map[string]any{"status": store.TaskCancelled})
		if t.AssignedAgentID != nil {
			_ = o.store.SetAgentIdle(ctx, *t.AssignedAgentID, false)
		}
		_ = o.store.AppendTaskLog(ctx, t.ID, "stop", "cancelled by server shutdown")
	}
}

// StartBreakRotation runs the break-rotation pacing loop: first tick at
// +5s, then every 60s, per spec.md §5. Per department, at most one agent
// is on break; a 40% chance returns the breaker, a 50% chance sends an
// idle agent out. Agents summoned to a meeting are never sent on break.
func (o *Orchestrator) StartBreakRotation(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(breakRotationInterval), 1)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(breakRotationInitial):
		}
		for {
			o.rotateBreaks(ctx)
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
	}()
}

func (o *Orchestrator) rotateBreaks(ctx context.Context) {
	depts, err := o.store.ListDepartments(ctx)
	if err != nil {
		return
	}
	for _, d := range depts {
		agents, err := o.store.ListAgentsByDepartment(ctx, d.ID)
		if err != nil {
			continue
		}

		var onBreak, idle []store.Agent
		for _, a := range agents {
			switch a.Status {
			case store.AgentBreak:
				onBreak = append(onBreak, a)
			case store.AgentIdle:
				idle = append(idle, a)
			}
		}

		// Extras beyond one breaker return immediately.
		for _, a := range onBreak[1:] {
			o.setAgentStatus(ctx, a.ID, store.AgentIdle)
		}

		switch {
		case len(onBreak) >= 1:
			if rand.Float64() < 0.4 {
				o.setAgentStatus(ctx, onBreak[0].ID, store.AgentIdle)
			}
		case len(idle) >= 1:
			if rand.Float64() < 0.5 {
				candidate := idle[rand.Intn(len(idle))]
				if !o.meetings.IsSummoned(candidate.ID) {
					o.setAgentStatus(ctx, candidate.ID, store.AgentBreak)
				}
			}
		}
	}
}

func (o *Orchestrator) setAgentStatus(ctx context.Context, agentID, status string) {
	if err := o.store.UpdateAgent(ctx, agentID, map[string]any{"status": status}); err != nil {
		return
	}
	o.broadcastAgent(ctx, agentID)
}

// DeleteTask implements DELETE /api/tasks/:id: kill any running process,
// free the agent, then let the store cascade the rest.
func (o *Orchestrator) DeleteTask(ctx context.Context, taskID string) error {
	o.mu.Lock()
	handle := o.activeProcesses[taskID]
	delete(o.activeProcesses, taskID)
	o.mu.Unlock()
	if handle != nil {
		o.markStopRequested(taskID)
		_ = handle.Kill()
	}
	o.stopProgressTimer(taskID)

	if h := o.dropWorktree(taskID); h != nil {
		_ = o.worktrees.CleanupWorktree(ctx, h)
	}

	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.AssignedAgentID != nil {
		_ = o.store.SetAgentIdle(ctx, *task.AssignedAgentID, false)
		o.broadcastAgent(ctx, *task.AssignedAgentID)
	}
	return o.store.DeleteTask(ctx, taskID)
}
