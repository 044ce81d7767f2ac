package delegation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/climpire/internal/bus"
	"github.com/nextlevelbuilder/climpire/internal/store"
)

// containsMention reports whether text contains an @-mention of name.
func containsMention(text, name string) bool {
	if name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(name))
}

// runCrossDeptQueue processes mentioned departments one at a time, per
// spec.md §4.9: each department gets a cooperation-request chat, a
// delivery animation cue, an acknowledgment, and a [Collaboration] child
// task; the next department starts only when that child task reaches a
// terminal state. onAllDone, if set, replaces the final element's
// next-callback (the Planning pre-flight path).
func (e *Engine) runCrossDeptQueue(ctx context.Context, origin *store.Task, originLeader store.Agent,
	depts []string, onAllDone func(context.Context)) {
	e.processCrossDept(ctx, origin, originLeader, depts, 0, onAllDone)
}

func (e *Engine) processCrossDept(ctx context.Context, origin *store.Task, originLeader store.Agent,
	depts []string, idx int, onAllDone func(context.Context)) {
	if idx >= len(depts) {
		if onAllDone != nil {
			onAllDone(ctx)
		}
		return
	}

	dept := depts[idx]
	receivingLeader, err := e.store.TeamLeaderOf(ctx, dept)
	if err != nil {
		e.log.Warn().Str("department", dept).Msg("cross-dept: no team leader, skipping")
		e.processCrossDept(ctx, origin, originLeader, depts, idx+1, onAllDone)
		return
	}

	originDeptName := ""
	if originLeader.DepartmentID != nil {
		if d, err := e.store.GetDepartment(ctx, *originLeader.DepartmentID); err == nil {
			originDeptName = d.NameEN
		}
	}

	e.postChat(ctx, originLeader.ID, store.ReceiverAgent, receivingLeader.ID,
		fmt.Sprintf("We need your team's part for \"%s\" — can you take it?", origin.Title), &origin.ID)

	fromDept := ""
	if originLeader.DepartmentID != nil {
		fromDept = *originLeader.DepartmentID
	}
	e.bus.Broadcast(bus.Event{Type: "cross_dept_delivery", Payload: bus.CrossDeptDeliveryPayload{
		TaskID: origin.ID, FromDeptID: fromDept, ToDeptID: dept,
	}})

	go func() {
		time.Sleep(jitter(1500*time.Millisecond, 2500*time.Millisecond))

		e.postChat(ctx, receivingLeader.ID, store.ReceiverAgent, originLeader.ID,
			"Understood — we'll get on it.", &origin.ID)

		assignee := e.pickAssignee(ctx, dept, *receivingLeader)

		deptID := dept
		child := &store.Task{
			Title:           "[Collaboration] " + origin.Title,
			Description:     fmt.Sprintf("[Cross-dept from %s] %s", originDeptName, origin.Description),
			DepartmentID:    &deptID,
			AssignedAgentID: &assignee.ID,
			Status:          store.TaskPlanned,
			Priority:        1,
			ProjectPath:     origin.ProjectPath,
		}
		if err := e.store.CreateTask(ctx, child); err != nil {
			e.log.Error().Err(err).Str("department", dept).Msg("cross-dept: failed to create child task")
			e.processCrossDept(ctx, origin, originLeader, depts, idx+1, onAllDone)
			return
		}
		e.broadcastTask(ctx, child.ID)
		_ = e.store.AppendTaskLog(ctx, child.ID, "delegation",
			fmt.Sprintf("cross-department cooperation from %s (%d/%d)", originDeptName, idx+1, len(depts)))

		last := idx == len(depts)-1
		e.orch.RegisterCrossDeptNext(child.ID, func(nextCtx context.Context) {
			if last && onAllDone != nil {
				onAllDone(nextCtx)
				return
			}
			e.processCrossDept(nextCtx, origin, originLeader, depts, idx+1, onAllDone)
		})

		if err := e.orch.ExecuteTask(ctx, child.ID); err != nil {
			e.log.Error().Err(err).Str("task_id", child.ID).Msg("cross-dept: execute failed")
			// The child never started, so its next-callback will not fire
			// on its own; advance the queue directly.
			e.orch.RegisterCrossDeptNext(child.ID, nil)
			e.processCrossDept(ctx, origin, originLeader, depts, idx+1, onAllDone)
		}
	}()
}
