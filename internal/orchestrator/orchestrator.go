// Package orchestrator is the top-level task state machine tying the
// message inbox, delegation, meetings, child runner, review, and merge
// into one task lifecycle, per spec.md §4.8-§4.11. It owns every
// process-lifetime map keyed by task id (spec.md §3) and is the only
// writer of those maps; long-lived activities communicate back by
// queuing continuations keyed by task id.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/climpire/internal/bus"
	"github.com/nextlevelbuilder/climpire/internal/launcher"
	"github.com/nextlevelbuilder/climpire/internal/meeting"
	"github.com/nextlevelbuilder/climpire/internal/runner"
	"github.com/nextlevelbuilder/climpire/internal/store"
	"github.com/nextlevelbuilder/climpire/internal/telemetry"
	"github.com/nextlevelbuilder/climpire/internal/worktree"
)

const (
	progressInterval   = 300 * time.Second
	reviewReportDelay  = 2500 * time.Millisecond
	reviewFinishDelay  = 2500 * time.Millisecond
	failureNextDelay   = 3 * time.Second
	logTailBytes       = 2000
	failureReportChars = 300
)

// SubtaskDelegator dispatches foreign subtasks as their own tasks after
// a parent's main execution succeeds. Implemented by the Delegation
// Engine; injected after construction to break the package cycle.
type SubtaskDelegator interface {
	DelegateSubtasks(ctx context.Context, task store.Task)
}

// Orchestrator drives every task from planned through done/cancelled.
type Orchestrator struct {
	store     *store.Store
	bus       bus.EventPublisher
	launcher  *launcher.Launcher
	worktrees *worktree.Manager
	meetings  *meeting.Engine
	logsDir   string
	language  func() string
	tracer    trace.Tracer
	log       zerolog.Logger

	delegator      SubtaskDelegator
	usageRefresher func(context.Context)

	mu              sync.Mutex
	activeProcesses map[string]*runner.Handle
	taskWorktrees   map[string]*worktree.Handle
	progressCancels map[string]context.CancelFunc
	stopRequested   map[string]bool
	crossDeptNext   map[string]func(context.Context)
	subtaskNext     map[string]func(context.Context)
	taskToSubtask   map[string]string // delegated child task id -> originating subtask id
	taskSpans       map[string]trace.Span
}

// New creates an Orchestrator. languageOverride reads the persisted
// language setting at call time.
func New(st *store.Store, eventBus bus.EventPublisher, l *launcher.Launcher, wt *worktree.Manager,
	meetings *meeting.Engine, logsDir string, languageOverride func() string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:           st,
		bus:             eventBus,
		launcher:        l,
		worktrees:       wt,
		meetings:        meetings,
		logsDir:         logsDir,
		language:        languageOverride,
		tracer:          telemetry.Tracer("climpire/orchestrator"),
		log:             log.With().Str("component", "orchestrator").Logger(),
		activeProcesses: make(map[string]*runner.Handle),
		taskWorktrees:   make(map[string]*worktree.Handle),
		progressCancels: make(map[string]context.CancelFunc),
		stopRequested:   make(map[string]bool),
		crossDeptNext:   make(map[string]func(context.Context)),
		subtaskNext:     make(map[string]func(context.Context)),
		taskToSubtask:   make(map[string]string),
		taskSpans:       make(map[string]trace.Span),
	}
}

// SetSubtaskDelegator wires the delegation engine's subtask dispatcher.
func (o *Orchestrator) SetSubtaskDelegator(d SubtaskDelegator) { o.delegator = d }

// SetUsageRefresher wires the usage probe's refresh trigger, invoked
// after a task reaches done.
func (o *Orchestrator) SetUsageRefresher(fn func(context.Context)) { o.usageRefresher = fn }

// ActiveProcess returns the running handle's pid for a task, if any.
func (o *Orchestrator) ActiveProcess(taskID string) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.activeProcesses[taskID]
	if !ok {
		return 0, false
	}
	return h.Pid, true
}

// RegisterCrossDeptNext queues the continuation that starts the next
// department once childTaskID reaches a terminal state.
func (o *Orchestrator) RegisterCrossDeptNext(childTaskID string, fn func(context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.crossDeptNext[childTaskID] = fn
}

// RegisterSubtaskNext queues the continuation that processes the next
// foreign subtask once childTaskID reaches a terminal state.
func (o *Orchestrator) RegisterSubtaskNext(childTaskID string, fn func(context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subtaskNext[childTaskID] = fn
}

// LinkDelegatedTask records that childTaskID was created to serve
// subtaskID, so the child's run outcome can flip the subtask.
func (o *Orchestrator) LinkDelegatedTask(childTaskID, subtaskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.taskToSubtask[childTaskID] = subtaskID
}

// takeCallbacks removes and returns both queued continuations for a task
// id. Removal precedes invocation so a re-entrant trigger sees an empty
// slot, per spec.md §9's callback-queue invariant.
func (o *Orchestrator) takeCallbacks(taskID string) (crossNext, subNext func(context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	crossNext = o.crossDeptNext[taskID]
	delete(o.crossDeptNext, taskID)
	subNext = o.subtaskNext[taskID]
	delete(o.subtaskNext, taskID)
	return crossNext, subNext
}

func (o *Orchestrator) takeLinkedSubtask(taskID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.taskToSubtask[taskID]
	delete(o.taskToSubtask, taskID)
	return id, ok
}

func (o *Orchestrator) markStopRequested(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopRequested[taskID] = true
}

// consumeStopRequested reports and clears the stop flag for a task.
func (o *Orchestrator) consumeStopRequested(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	requested := o.stopRequested[taskID]
	delete(o.stopRequested, taskID)
	return requested
}

func (o *Orchestrator) worktreeFor(taskID string) *worktree.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.taskWorktrees[taskID]
}

func (o *Orchestrator) dropWorktree(taskID string) *worktree.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := o.taskWorktrees[taskID]
	delete(o.taskWorktrees, taskID)
	return h
}

// WorktreeFor exposes the live worktree handle for the diff/merge/discard
// REST operations.
func (o *Orchestrator) WorktreeFor(taskID string) *worktree.Handle {
	return o.worktreeFor(taskID)
}

func (o *Orchestrator) stopProgressTimer(taskID string) {
	o.mu.Lock()
	cancel := o.progressCancels[taskID]
	delete(o.progressCancels, taskID)
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) broadcastTask(ctx context.Context, taskID string) {
	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return
	}
	o.bus.Broadcast(bus.Event{Type: "task_update", Payload: bus.TaskUpdatePayload{TaskID: taskID, Task: t}})
}

func (o *Orchestrator) broadcastAgent(ctx context.Context, agentID string) {
	a, err := o.store.GetAgent(ctx, agentID)
	if err != nil {
		return
	}
	o.bus.Broadcast(bus.Event{Type: "agent_status", Payload: bus.AgentStatusPayload{AgentID: agentID, Agent: a}})
}

func (o *Orchestrator) broadcastSubtask(ctx context.Context, taskID, subtaskID string) {
	st, err := o.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return
	}
	o.bus.Broadcast(bus.Event{Type: "subtask_update", Payload: bus.SubtaskUpdatePayload{TaskID: taskID, SubtaskID: subtaskID, Subtask: st}})
}
