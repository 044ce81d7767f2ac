// Package delegation converts CEO directives into tasks, meetings,
// cross-department cooperation queues, and per-subtask foreign
// delegations, per spec.md §4.9. The in-flight tracking and
// one-at-a-time queue processing are grounded on the teacher's
// internal/tools/delegate.go DelegateManager.
package delegation

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/nextlevelbuilder/climpire/internal/bus"
	"github.com/nextlevelbuilder/climpire/internal/deptmatch"
	"github.com/nextlevelbuilder/climpire/internal/launcher"
	"github.com/nextlevelbuilder/climpire/internal/locale"
	"github.com/nextlevelbuilder/climpire/internal/meeting"
	"github.com/nextlevelbuilder/climpire/internal/orchestrator"
	"github.com/nextlevelbuilder/climpire/internal/store"
)

const (
	directReplyTimeout = 180 * time.Second
)

// Engine runs the delegation pipeline.
type Engine struct {
	store    *store.Store
	bus      bus.EventPublisher
	launcher *launcher.Launcher
	meetings *meeting.Engine
	orch     *orchestrator.Orchestrator
	language func() string
	log      zerolog.Logger
}

// New creates a Delegation Engine and wires it into the orchestrator as
// the subtask delegator.
func New(st *store.Store, eventBus bus.EventPublisher, l *launcher.Launcher, meetings *meeting.Engine,
	orch *orchestrator.Orchestrator, languageOverride func() string, log zerolog.Logger) *Engine {
	e := &Engine{
		store:    st,
		bus:      eventBus,
		launcher: l,
		meetings: meetings,
		orch:     orch,
		language: languageOverride,
		log:      log.With().Str("component", "delegation").Logger(),
	}
	orch.SetSubtaskDelegator(e)
	return e
}

func jitter(min, max time.Duration) time.Duration {
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// HandleCEOMessage routes a freshly-persisted CEO message: a task_assign
// to a team leader triggers the delegation flow; anything else addressed
// to an agent schedules a one-shot direct reply. Mentions (@department,
// @agent) reroute to the mentioned department's leader.
func (e *Engine) HandleCEOMessage(ctx context.Context, msg *store.Message) {
	if msg.SenderType != store.SenderCEO {
		return
	}

	if msg.ReceiverType == store.ReceiverAll {
		e.handleAnnouncement(ctx, msg)
		return
	}
	if msg.ReceiverType != store.ReceiverAgent {
		return
	}

	agent, err := e.store.GetAgent(ctx, msg.ReceiverID)
	if err != nil {
		e.log.Warn().Str("agent_id", msg.ReceiverID).Msg("CEO message to unknown agent")
		return
	}

	if agent.Role == store.RoleTeamLeader && msg.MessageType == store.MsgTaskAssign {
		go e.runDelegation(context.WithoutCancel(ctx), *agent, msg.Content)
		return
	}

	// Mention-based delegation: @department dispatches to that leader,
	// @agent routes via the agent's department.
	if dept := e.mentionedDepartment(ctx, msg.Content); dept != "" && msg.MessageType == store.MsgTaskAssign {
		if leader, err := e.store.TeamLeaderOf(ctx, dept); err == nil {
			go e.runDelegation(context.WithoutCancel(ctx), *leader, msg.Content)
			return
		}
	}

	go e.scheduleDirectReply(context.WithoutCancel(ctx), *agent, msg.Content)
}

// handleAnnouncement staggers acknowledgments from each active team
// leader (1.5-3s per leader) and, when the announcement contains
// mentions, runs a delayed full delegation 5-7s later.
func (e *Engine) handleAnnouncement(ctx context.Context, msg *store.Message) {
	e.bus.Broadcast(bus.Event{Type: "announcement", Payload: msg})

	depts, err := e.store.ListDepartments(ctx)
	if err != nil {
		return
	}

	go func() {
		for _, d := range depts {
			leader, err := e.store.TeamLeaderOf(ctx, d.ID)
			if err != nil || leader.Status == store.AgentOffline {
				continue
			}
			time.Sleep(jitter(1500*time.Millisecond, 3*time.Second))
			language := locale.Detect(msg.Content, e.language())
			e.postChat(ctx, leader.ID, store.ReceiverAll, "all", ackLine(language, leader.Name), nil)
		}
	}()

	mentions := deptmatch.Detect(msg.Content, "")
	if len(mentions) == 0 {
		return
	}
	go func() {
		time.Sleep(jitter(5*time.Second, 7*time.Second))
		leader, err := e.store.TeamLeaderOf(ctx, mentions[0])
		if err != nil {
			return
		}
		e.runDelegation(ctx, *leader, msg.Content)
	}()
}

func ackLine(language, name string) string {
	switch language {
	case "ko":
		return fmt.Sprintf("%s 확인했습니다. 팀에 공유하겠습니다.", name)
	case "ja":
		return fmt.Sprintf("%s、確認しました。チームに共有します。", name)
	case "zh":
		return fmt.Sprintf("%s 已确认,会同步给团队。", name)
	default:
		return fmt.Sprintf("%s here — noted, I'll relay this to the team.", name)
	}
}

// scheduleDirectReply answers a plain chat message with a one-shot CLI
// run after a 1-3s jitter, per spec.md §4.9's directive-intake rules.
func (e *Engine) scheduleDirectReply(ctx context.Context, agent store.Agent, content string) {
	time.Sleep(jitter(time.Second, 3*time.Second))

	provider := store.ProviderClaude
	if agent.CliProvider != nil && *agent.CliProvider != "" {
		provider = *agent.CliProvider
	}
	language := locale.Detect(content, e.language())

	prompt := fmt.Sprintf(
		"You are %s (%s). The CEO says: %s\nReply as one natural chat message, 1-3 sentences, no JSON, no markdown. Respond in %s.",
		agent.Name, agent.Role, content, languageName(language))

	logID := fmt.Sprintf("reply-%s-%d", agent.ID, time.Now().UnixNano())
	raw, err := e.launcher.RunOnce(ctx, logID, provider, "", "", prompt, "", directReplyTimeout, nil)

	reply := ""
	if err == nil {
		reply = meeting.SanitizeReply(raw, provider, language, 420)
	}
	if reply == "" {
		reply = fallbackReply(language)
	}

	e.postChat(ctx, agent.ID, store.ReceiverAgent, "ceo", reply, nil)
}

func fallbackReply(language string) string {
	switch language {
	case "ko":
		return "확인했습니다. 바로 처리하겠습니다."
	case "ja":
		return "確認しました。すぐ対応します。"
	case "zh":
		return "已确认,马上处理。"
	default:
		return "Got it — on it now."
	}
}

func languageName(lang string) string {
	switch lang {
	case "ko":
		return "Korean"
	case "ja":
		return "Japanese"
	case "zh":
		return "Chinese"
	default:
		return "English"
	}
}

// runDelegation is the team-leader delegation flow of spec.md §4.9.
func (e *Engine) runDelegation(ctx context.Context, leader store.Agent, directive string) {
	if leader.DepartmentID == nil {
		return
	}
	leaderDept := *leader.DepartmentID

	time.Sleep(jitter(time.Second, 2*time.Second))

	task := &store.Task{
		Title:        taskTitle(directive),
		Description:  "[CEO] " + directive,
		DepartmentID: &leaderDept,
		Status:       store.TaskPlanned,
		Priority:     1,
		ProjectPath:  orchestrator.DetectProjectPath(directive),
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		e.log.Error().Err(err).Msg("delegation: failed to create task")
		return
	}
	_ = e.store.AppendTaskLog(ctx, task.ID, "delegation", fmt.Sprintf("directive handed to %s (%s)", leader.Name, leaderDept))
	e.broadcastTask(ctx, task.ID)

	mentions := deptmatch.Detect(directive, leaderDept)
	assignee := e.pickAssignee(ctx, leaderDept, leader)

	onApproved := func(approvedCtx context.Context) {
		e.seedApprovedPlanSubtasks(approvedCtx, task.ID, assignee, leader, mentions)

		switch {
		case leaderDept == store.DeptPlanning && len(mentions) > 0:
			// Planning pre-flight: the cooperation queue runs to completion
			// before internal delegation starts.
			e.runCrossDeptQueue(approvedCtx, task, leader, mentions, func(doneCtx context.Context) {
				e.internalDelegation(doneCtx, task.ID, leader, assignee)
			})
		case len(mentions) > 0:
			e.internalDelegation(approvedCtx, task.ID, leader, assignee)
			go func() {
				time.Sleep(jitter(3*time.Second, 4*time.Second))
				e.runCrossDeptQueue(ctx, task, leader, mentions, nil)
			}()
		default:
			e.internalDelegation(approvedCtx, task.ID, leader, assignee)
		}
	}

	e.meetings.Start(ctx, *task, store.MeetingPlanned, onApproved)
}

func taskTitle(directive string) string {
	r := []rune(directive)
	if len(r) > 120 {
		return string(r[:120])
	}
	return directive
}

// pickAssignee chooses the best subordinate in the department, or the
// leader when none exist.
func (e *Engine) pickAssignee(ctx context.Context, departmentID string, leader store.Agent) store.Agent {
	sub, err := e.store.PickSubordinate(ctx, departmentID, leader.ID)
	if err != nil || sub == nil {
		return leader
	}
	return *sub
}

// seedApprovedPlanSubtasks writes the three seeded subtask kinds on
// planned approval: an execution-plan subtask for the assignee, one
// blocked deliverable subtask per related department owned by its
// leader, and a final consolidation subtask for the assignee.
func (e *Engine) seedApprovedPlanSubtasks(ctx context.Context, taskID string, assignee, leader store.Agent, relatedDepts []string) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return
	}
	language := locale.Detect(task.Title+" "+task.Description, e.language())

	add := func(st *store.Subtask) {
		if err := e.store.CreateSubtask(ctx, st); err != nil {
			e.log.Warn().Err(err).Str("task_id", taskID).Msg("failed to seed subtask")
			return
		}
		e.broadcastSubtask(ctx, taskID, st.ID)
	}

	add(&store.Subtask{
		TaskID:          taskID,
		Title:           "Finalize detailed execution plan",
		AssignedAgentID: &assignee.ID,
		Status:          store.SubtaskPending,
	})

	for _, dept := range relatedDepts {
		deptLeader, err := e.store.TeamLeaderOf(ctx, dept)
		if err != nil {
			continue
		}
		d, err := e.store.GetDepartment(ctx, dept)
		name := dept
		if err == nil {
			name = d.NameEN
		}
		deptID := dept
		add(&store.Subtask{
			TaskID:             taskID,
			Title:              fmt.Sprintf("Produce %s deliverable", name),
			AssignedAgentID:    &deptLeader.ID,
			TargetDepartmentID: &deptID,
			Status:             store.SubtaskBlocked,
			BlockedReason:      blockedReason(language, name),
		})
	}

	add(&store.Subtask{
		TaskID:          taskID,
		Title:           "Consolidate deliverables",
		AssignedAgentID: &assignee.ID,
		Status:          store.SubtaskPending,
	})
}

func blockedReason(language, deptName string) string {
	switch language {
	case "ko":
		return fmt.Sprintf("%s 협업 대기 중", deptName)
	case "ja":
		return fmt.Sprintf("%s の対応待ち", deptName)
	case "zh":
		return fmt.Sprintf("等待 %s 协作", deptName)
	default:
		return fmt.Sprintf("waiting on %s", deptName)
	}
}

// internalDelegation hands the task to the picked subordinate (or the
// leader), sends the task_assign message, and starts execution after a
// short sub-acknowledgment delay.
func (e *Engine) internalDelegation(ctx context.Context, taskID string, leader, assignee store.Agent) {
	taskRef := taskID
	e.postChat(ctx, leader.ID, store.ReceiverAgent, assignee.ID,
		fmt.Sprintf("Please take this one, %s.", assignee.Name), &taskRef)
	if err := e.store.UpdateTask(ctx, taskID, map[string]any{"assigned_agent_id": assignee.ID}); err != nil {
		e.log.Error().Err(err).Str("task_id", taskID).Msg("failed to assign task")
		return
	}

	time.Sleep(jitter(time.Second, 2*time.Second))

	if err := e.orch.ExecuteTask(ctx, taskID); err != nil {
		e.log.Error().Err(err).Str("task_id", taskID).Msg("internal delegation execute failed")
	}
}

func (e *Engine) mentionedDepartment(ctx context.Context, text string) string {
	depts, err := e.store.ListDepartments(ctx)
	if err != nil {
		return ""
	}
	for _, d := range depts {
		if containsMention(text, d.ID) || containsMention(text, d.NameEN) || containsMention(text, d.NameKO) {
			return d.ID
		}
	}

	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return ""
	}
	for _, a := range agents {
		if a.DepartmentID == nil {
			continue
		}
		if containsMention(text, a.Name) || containsMention(text, a.NameKO) {
			return *a.DepartmentID
		}
	}
	return ""
}

func (e *Engine) postChat(ctx context.Context, senderID, receiverType, receiverID, content string, taskID *string) {
	msg := &store.Message{
		SenderType:   store.SenderAgent,
		SenderID:     senderID,
		ReceiverType: receiverType,
		ReceiverID:   receiverID,
		Content:      content,
		MessageType:  store.MsgChat,
		TaskID:       taskID,
	}
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		return
	}
	e.bus.Broadcast(bus.Event{Type: "new_message", Payload: msg})
}

func (e *Engine) broadcastTask(ctx context.Context, taskID string) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return
	}
	e.bus.Broadcast(bus.Event{Type: "task_update", Payload: bus.TaskUpdatePayload{TaskID: taskID, Task: t}})
}

func (e *Engine) broadcastSubtask(ctx context.Context, taskID, subtaskID string) {
	st, err := e.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return
	}
	e.bus.Broadcast(bus.Event{Type: "subtask_update", Payload: bus.SubtaskUpdatePayload{TaskID: taskID, SubtaskID: subtaskID, Subtask: st}})
}
