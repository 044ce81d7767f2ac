package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/climpire/internal/bus"
	"github.com/nextlevelbuilder/climpire/internal/locale"
	"github.com/nextlevelbuilder/climpire/internal/prettyprint"
	"github.com/nextlevelbuilder/climpire/internal/store"
)

// HandleCompletion runs on child close for a task, per spec.md §4.10.
// The late-event guard at the top makes a close notification that
// arrives after stop/transition benign.
func (o *Orchestrator) HandleCompletion(ctx context.Context, taskID string, exitCode int) {
	o.mu.Lock()
	delete(o.activeProcesses, taskID)
	span := o.taskSpans[taskID]
	delete(o.taskSpans, taskID)
	o.mu.Unlock()
	o.stopProgressTimer(taskID)
	_ = os.Remove(filepath.Join(o.logsDir, taskID+".prompt.txt"))
	if span != nil {
		if exitCode != 0 {
			span.SetStatus(codes.Error, fmt.Sprintf("exit %d", exitCode))
		}
		span.End()
	}

	task, err := o.store.GetTask(ctx, taskID)
	stopRequested := o.consumeStopRequested(taskID)
	if err != nil || stopRequested || task.Status != store.TaskInProgress {
		_ = o.store.AppendTaskLog(ctx, taskID, "run", "completion ignored (stopped or already transitioned)")
		// Late event: queued continuations for this id are discarded.
		o.takeCallbacks(taskID)
		o.takeLinkedSubtask(taskID)
		return
	}

	tail := o.readLogTail(taskID)
	_ = o.store.UpdateTask(ctx, taskID, map[string]any{"result": tail})

	agentID := ""
	if task.AssignedAgentID != nil {
		agentID = *task.AssignedAgentID
	}

	if exitCode == 0 {
		o.completeSuccess(ctx, task, agentID, tail)
	} else {
		o.completeFailure(ctx, task, agentID, exitCode)
	}
}

func (o *Orchestrator) completeSuccess(ctx context.Context, task *store.Task, agentID, tail string) {
	taskID := task.ID

	if err := o.store.CompleteNonForeignSubtasks(ctx, taskID); err != nil {
		o.log.Warn().Err(err).Str("task_id", taskID).Msg("failed to auto-complete subtasks")
	}

	if agentID != "" {
		_ = o.store.SetAgentIdle(ctx, agentID, true)
		o.broadcastAgent(ctx, agentID)
	}

	_ = o.store.UpdateTask(ctx, taskID, map[string]any{"status": store.TaskReview})
	o.broadcastTask(ctx, taskID)
	_ = o.store.AppendTaskLog(ctx, taskID, "run", "run succeeded, moving to review")

	o.flipLinkedSubtask(ctx, taskID, true)

	if o.delegator != nil {
		o.delegator.DelegateSubtasks(ctx, *task)
	}

	go func() {
		time.Sleep(reviewReportDelay)
		o.postRunReport(ctx, task, agentID, tail)
		time.Sleep(reviewFinishDelay)
		o.FinishReview(ctx, taskID)
	}()
}

func (o *Orchestrator) completeFailure(ctx context.Context, task *store.Task, agentID string, exitCode int) {
	taskID := task.ID

	_ = o.store.UpdateTask(ctx, taskID, map[string]any{"status": store.TaskInbox})
	_ = o.store.AppendTaskLog(ctx, taskID, "run", fmt.Sprintf("run failed with exit %d", exitCode))

	if h := o.dropWorktree(taskID); h != nil {
		_ = o.worktrees.RollbackTaskWorktree(ctx, h, "run_failed", o.taskLogFn(ctx, taskID))
	}

	if agentID != "" {
		_ = o.store.SetAgentIdle(ctx, agentID, false)
		o.broadcastAgent(ctx, agentID)
	}
	o.broadcastTask(ctx, taskID)

	o.flipLinkedSubtask(ctx, taskID, false)

	if leader := o.leaderForTask(ctx, task); leader != nil {
		provider := providerOf(leader)
		pretty := prettyprint.Render(provider, o.readLogTail(taskID))
		if runes := []rune(pretty); len(runes) > failureReportChars {
			pretty = string(runes[len(runes)-failureReportChars:])
		}
		o.notifyCEO(ctx, leader.ID, taskID, fmt.Sprintf("\"%s\" failed and went back to the inbox. Last output: %s", task.Title, pretty))
	}

	// Queued next-callbacks still fire so cross-department and subtask
	// queues don't stall on one failed link.
	go func() {
		time.Sleep(failureNextDelay)
		crossNext, subNext := o.takeCallbacks(taskID)
		if crossNext != nil {
			crossNext(ctx)
		}
		if subNext != nil {
			subNext(ctx)
		}
	}()
}

// flipLinkedSubtask updates the originating subtask of a delegated child
// task: done on success, blocked with a localized reason on failure.
func (o *Orchestrator) flipLinkedSubtask(ctx context.Context, childTaskID string, success bool) {
	subtaskID, ok := o.takeLinkedSubtask(childTaskID)
	if !ok {
		return
	}
	st, err := o.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return
	}

	updates := map[string]any{"status": store.SubtaskDone}
	if !success {
		parent, err := o.store.GetTask(ctx, st.TaskID)
		language := "en"
		if err == nil {
			language = localeOf(parent, o.language())
		}
		dept := ""
		if st.TargetDepartmentID != nil {
			dept = *st.TargetDepartmentID
		}
		updates = map[string]any{"status": store.SubtaskBlocked, "blocked_reason": blockedReason(language, dept)}
	}
	if err := o.store.UpdateSubtask(ctx, subtaskID, updates); err != nil {
		return
	}
	o.broadcastSubtask(ctx, st.TaskID, subtaskID)

	if success {
		o.MaybeFinishReview(ctx, st.TaskID)
	}
}

// postRunReport has the team leader report the run outcome: the pretty
// log tail plus the worktree diff stat, per spec.md §4.10 step 6.
func (o *Orchestrator) postRunReport(ctx context.Context, task *store.Task, agentID, tail string) {
	leader := o.leaderForTask(ctx, task)
	if leader == nil {
		return
	}

	provider := "claude"
	if agent, err := o.store.GetAgent(ctx, agentID); err == nil {
		provider = providerOf(agent)
	}
	pretty := prettyprint.Render(provider, tail)

	var took string
	if task.StartedAt != nil {
		took = fmt.Sprintf(" (took %s)", strings.TrimSpace(humanize.RelTime(*task.StartedAt, time.Now(), "", "")))
	}

	report := fmt.Sprintf("\"%s\" finished%s and is in review.\n%s", task.Title, took, pretty)
	if h := o.worktreeFor(task.ID); h != nil {
		if diff := o.worktrees.GetWorktreeDiffSummary(ctx, h); diff != "(no changes)" {
			report += "\n\nChanges:\n" + diff
		}
	}

	msg := &store.Message{
		SenderType:   store.SenderAgent,
		SenderID:     leader.ID,
		ReceiverType: store.ReceiverAgent,
		ReceiverID:   "ceo",
		Content:      report,
		MessageType:  store.MsgReport,
		TaskID:       &task.ID,
	}
	if err := o.store.CreateMessage(ctx, msg); err != nil {
		return
	}
	o.bus.Broadcast(bus.Event{Type: "new_message", Payload: msg})
}

// FinishReview starts the review-consensus meeting for a task sitting in
// review. It is a no-op while any subtask is incomplete — the task waits
// in review and a notice is posted, per spec.md §4.10 step 6.
func (o *Orchestrator) FinishReview(ctx context.Context, taskID string) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil || task.Status != store.TaskReview {
		return
	}

	allDone, err := o.store.AllSubtasksDone(ctx, taskID)
	if err != nil {
		return
	}
	if !allDone {
		_ = o.store.AppendTaskLog(ctx, taskID, "review", "waiting for delegated subtasks before review")
		if leader := o.leaderForTask(ctx, task); leader != nil {
			o.notifyCEO(ctx, leader.ID, taskID, fmt.Sprintf("\"%s\" is waiting in review for delegated work to finish.", task.Title))
		}
		return
	}

	o.meetings.Start(ctx, *task, store.MeetingReview, func(approvedCtx context.Context) {
		o.finalizeApproved(approvedCtx, taskID)
	})
}

// MaybeFinishReview re-runs review finalization when a delegated subtask
// lands and its parent is parked in review.
func (o *Orchestrator) MaybeFinishReview(ctx context.Context, taskID string) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil || task.Status != store.TaskReview {
		return
	}
	allDone, err := o.store.AllSubtasksDone(ctx, taskID)
	if err != nil || !allDone {
		return
	}
	o.FinishReview(ctx, taskID)
}

// finalizeApproved merges the worktree (if any) and closes out the task,
// per spec.md §4.10 step 7.
func (o *Orchestrator) finalizeApproved(ctx context.Context, taskID string) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return
	}

	if h := o.worktreeFor(taskID); h != nil {
		result, err := o.worktrees.MergeWorktree(ctx, h)
		if err != nil {
			_ = o.store.AppendTaskLog(ctx, taskID, "merge", fmt.Sprintf("merge error: %v", err))
		} else if !result.Success {
			_ = o.store.AppendTaskLog(ctx, taskID, "merge", "conflicts: "+strings.Join(result.Conflicts, ", "))
			if leader := o.leaderForTask(ctx, task); leader != nil {
				o.notifyCEO(ctx, leader.ID, taskID, fmt.Sprintf(
					"Merge of %s hit conflicts in: %s. The worktree is left in place for manual resolution.",
					h.BranchName, strings.Join(result.Conflicts, ", ")))
			}
			return // task stays in review with the worktree intact
		} else {
			_ = o.store.AppendTaskLog(ctx, taskID, "merge", result.Message)
			o.dropWorktree(taskID)
			_ = o.worktrees.CleanupWorktree(ctx, h)
		}
	}

	_ = o.store.UpdateTask(ctx, taskID, map[string]any{"status": store.TaskDone})
	o.broadcastTask(ctx, taskID)
	_ = o.store.AppendTaskLog(ctx, taskID, "review", "approved and completed")

	crossNext, subNext := o.takeCallbacks(taskID)
	if crossNext != nil {
		crossNext(ctx)
	}
	if subNext != nil {
		subNext(ctx)
	}

	if o.usageRefresher != nil {
		o.usageRefresher(ctx)
	}
}

func (o *Orchestrator) leaderForTask(ctx context.Context, task *store.Task) *store.Agent {
	if task.DepartmentID == nil {
		return nil
	}
	leader, err := o.store.TeamLeaderOf(ctx, *task.DepartmentID)
	if err != nil {
		return nil
	}
	return leader
}

// readLogTail reads the last 2000 bytes of the task's log file.
func (o *Orchestrator) readLogTail(taskID string) string {
	path := filepath.Join(o.logsDir, taskID+".log")
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := int64(0)
	if info.Size() > logTailBytes {
		offset = info.Size() - logTailBytes
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}
	return string(buf)
}

func providerOf(a *store.Agent) string {
	if a.CliProvider != nil {
		return *a.CliProvider
	}
	return "claude"
}

func localeOf(task *store.Task, override string) string {
	return locale.Detect(task.Title+" "+task.Description, override)
}
