// Package meeting implements the scripted multi-turn leader conversation
// shared by the planned-approval and review-consensus protocols, per
// spec.md §4.7. No direct teacher precedent exists for a scripted
// meeting; the sequential one-at-a-time turn progression and
// broadcast-on-completion shape are grounded on the teacher's
// internal/tools/delegate.go processing style.
package meeting

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/climpire/internal/bus"
	"github.com/nextlevelbuilder/climpire/internal/deptmatch"
	"github.com/nextlevelbuilder/climpire/internal/launcher"
	"github.com/nextlevelbuilder/climpire/internal/store"
	"github.com/rs/zerolog"
)

type turnKind string

const (
	turnOpening             turnKind = "opening"
	turnFeedback            turnKind = "feedback"
	turnSummaryRevision     turnKind = "summary_revision"
	turnSummaryFinal        turnKind = "summary_final"
	turnApprovalHold        turnKind = "approval_hold"
	turnApprovalConditional turnKind = "approval_conditional"
	turnApprovalNow         turnKind = "approval_now"
)

const (
	oneShotTimeout      = 35 * time.Second
	minTurnPause        = 420 * time.Millisecond
	maxTurnPause        = 1300 * time.Millisecond
	reviewToggleDelay   = 2600 * time.Millisecond
	reviewRetryDelay    = 1500 * time.Millisecond
	plannedRetryDelay   = 2200 * time.Millisecond
	meetingPresenceTTL  = 90 * time.Second
)

// Engine runs planned-approval and review-consensus meetings to a
// terminal state (approved or revision_requested), scheduling follow-up
// rounds itself so callers only supply an onApproved continuation.
type Engine struct {
	store     *store.Store
	bus       bus.EventPublisher
	launcher  *launcher.Launcher
	log       zerolog.Logger
	languageOverride func() string

	mu            sync.Mutex
	inFlight      map[string]bool      // reentrancy guard, keyed by reentrancyKey()
	presenceUntil map[string]time.Time // meetingPresenceUntil, agent id -> deadline
}

// New creates a Meeting Engine. languageOverride reads the persisted
// "language" setting at call time (empty string = no override).
func New(st *store.Store, eventBus bus.EventPublisher, l *launcher.Launcher, languageOverride func() string, log zerolog.Logger) *Engine {
	return &Engine{
		store:            st,
		bus:              eventBus,
		launcher:         l,
		languageOverride: languageOverride,
		log:              log.With().Str("component", "meeting").Logger(),
		inFlight:         make(map[string]bool),
		presenceUntil:    make(map[string]time.Time),
	}
}

// IsSummoned reports whether agentID is currently held in a meeting
// (meetingPresenceUntil[id] > now), used by the break-rotation loop to
// never send a summoned agent on break, per spec.md §5.
func (e *Engine) IsSummoned(agentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.presenceUntil[agentID]
	return ok && time.Now().Before(until)
}

func reentrancyKey(meetingType, taskID string) string {
	if meetingType == store.MeetingPlanned {
		return "planned:" + taskID
	}
	return taskID
}

func (e *Engine) tryEnter(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[key] {
		return false
	}
	e.inFlight[key] = true
	return true
}

func (e *Engine) leave(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, key)
}

// Start launches a meeting in its own goroutine, looping rounds until a
// terminal state is reached. A second Start call for the same
// (meetingType, task) while one is in flight is a silent no-op, per
// spec.md §4.7's reentrancy rule. onApproved runs (in this goroutine)
// once the meeting reaches "completed".
func (e *Engine) Start(ctx context.Context, task store.Task, meetingType string, onApproved func(context.Context)) {
	key := reentrancyKey(meetingType, task.ID)
	if !e.tryEnter(key) {
		return
	}

	go func() {
		defer e.leave(key)
		for {
			round, err := e.store.LatestRound(ctx, task.ID, meetingType)
			if err != nil {
				e.log.Error().Err(err).Str("task_id", task.ID).Msg("meeting: failed to read latest round")
				return
			}
			round++

			needsRevision, shortCircuited, err := e.runRound(ctx, task, meetingType, round)
			if err != nil {
				e.log.Error().Err(err).Str("task_id", task.ID).Msg("meeting: round failed")
				return
			}
			if shortCircuited {
				onApproved(ctx)
				return
			}

			if !needsRevision {
				onApproved(ctx)
				return
			}

			if meetingType == store.MeetingReview {
				_ = e.store.UpdateTask(ctx, task.ID, map[string]any{"status": store.TaskInProgress})
				time.Sleep(reviewToggleDelay)
				_ = e.store.UpdateTask(ctx, task.ID, map[string]any{"status": store.TaskReview})
				e.broadcastTaskUpdate(ctx, task.ID)
				time.Sleep(reviewRetryDelay)
			} else {
				time.Sleep(plannedRetryDelay)
			}
		}
	}()
}

// runRound runs one meeting round to completion and returns whether a
// revision was requested. shortCircuited is true when fewer than 2
// participant leaders were found and no participants remained even
// after expanding to all active team leaders — the meeting is recorded
// as immediately approved without any turns, per spec.md §4.7.
func (e *Engine) runRound(ctx context.Context, task store.Task, meetingType string, round int) (needsRevision, shortCircuited bool, err error) {
	facilitator, err := e.store.TeamLeaderOf(ctx, store.DeptPlanning)
	if err != nil {
		return false, false, fmt.Errorf("meeting: no planning team leader: %w", err)
	}

	participants, err := e.resolveParticipants(ctx, task, *facilitator)
	if err != nil {
		return false, false, err
	}
	if len(participants) == 0 {
		return false, true, nil
	}

	language := DetectLanguage(task.Title+" "+task.Description, e.languageOverride())

	m := &store.MeetingMinutes{
		TaskID:      task.ID,
		MeetingType: meetingType,
		Round:       round,
		Title:       fmt.Sprintf("%s round %d: %s", meetingLabel(meetingType), round, task.Title),
	}
	if err := e.store.CreateMeeting(ctx, m); err != nil {
		return false, false, err
	}

	e.summon(ctx, task.ID, *facilitator, participants)

	transcript := make([]string, 0, 2+len(participants)*2)

	openingReply := e.speak(ctx, m.ID, task, meetingType, round, *facilitator, turnOpening, language, transcript, "")
	transcript = append(transcript, fmt.Sprintf("%d. %s (%s %s): %s", len(transcript)+1, facilitator.Name, store.DeptPlanning, facilitator.Role, openingReply))

	needsRevision = false
	reviseOwner := ""
	for _, p := range participants {
		reply := e.speak(ctx, m.ID, task, meetingType, round, p, turnFeedback, language, transcript, "")
		transcript = append(transcript, fmt.Sprintf("%d. %s (%s %s): %s", len(transcript)+1, p.Name, deptOf(p), p.Role, reply))
		if !needsRevision && RevisionRegex.MatchString(reply) {
			needsRevision = true
			reviseOwner = p.ID
		}
		sleepPaced()
	}

	summaryKind := turnSummaryFinal
	if needsRevision {
		summaryKind = turnSummaryRevision
	}
	summaryReply := e.speak(ctx, m.ID, task, meetingType, round, *facilitator, summaryKind, language, transcript, "")
	transcript = append(transcript, fmt.Sprintf("%d. %s (%s %s): %s", len(transcript)+1, facilitator.Name, store.DeptPlanning, facilitator.Role, summaryReply))
	sleepPaced()

	allLeaders := append([]store.Agent{*facilitator}, participants...)
	for _, leader := range allLeaders {
		kind := turnApprovalNow
		stance := ""
		switch {
		case needsRevision && leader.ID == reviseOwner:
			kind = turnApprovalHold
			stance = "hold your approval until the revision lands"
		case needsRevision:
			kind = turnApprovalConditional
			stance = "agree with conditional approval pending the revision"
		}
		reply := e.speak(ctx, m.ID, task, meetingType, round, leader, kind, language, transcript, stance)
		transcript = append(transcript, fmt.Sprintf("%d. %s (%s %s): %s", len(transcript)+1, leader.Name, deptOf(leader), leader.Role, reply))
		sleepPaced()
	}

	status := store.MeetingCompleted
	if needsRevision {
		status = store.MeetingRevisionRequested
	}
	if err := e.store.FinishMeeting(ctx, m.ID, status); err != nil {
		return needsRevision, false, err
	}

	return needsRevision, false, nil
}

func deptOf(a store.Agent) string {
	if a.DepartmentID == nil {
		return ""
	}
	return *a.DepartmentID
}

func sleepPaced() {
	d := minTurnPause + time.Duration(rand.Int63n(int64(maxTurnPause-minTurnPause)))
	time.Sleep(d)
}

// resolveParticipants gathers team leaders from the task's own
// department, every foreign subtask's target department, and
// keyword-detected mentions in the task text — minus the facilitator. If
// fewer than 2 result, the set expands to all active team leaders, per
// spec.md §4.7.
func (e *Engine) resolveParticipants(ctx context.Context, task store.Task, facilitator store.Agent) ([]store.Agent, error) {
	deptSet := make(map[string]bool)
	if task.DepartmentID != nil {
		deptSet[*task.DepartmentID] = true
	}
	subtasks, err := e.store.ListSubtasks(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	for _, st := range subtasks {
		if st.TargetDepartmentID != nil {
			deptSet[*st.TargetDepartmentID] = true
		}
	}
	for _, d := range deptMentions(task.Title + " " + task.Description) {
		deptSet[d] = true
	}
	delete(deptSet, store.DeptPlanning)

	leaders, err := e.leadersFor(ctx, deptSet, facilitator.ID)
	if err != nil {
		return nil, err
	}

	if len(leaders) < 2 {
		all, err := e.allActiveLeaders(ctx, facilitator.ID)
		if err != nil {
			return nil, err
		}
		leaders = all
	}

	sort.Slice(leaders, func(i, j int) bool { return leaders[i].ID < leaders[j].ID })
	return leaders, nil
}

func (e *Engine) leadersFor(ctx context.Context, deptSet map[string]bool, excludeAgentID string) ([]store.Agent, error) {
	var out []store.Agent
	for dept := range deptSet {
		leader, err := e.store.TeamLeaderOf(ctx, dept)
		if err != nil {
			continue
		}
		if leader.ID == excludeAgentID {
			continue
		}
		out = append(out, *leader)
	}
	return out, nil
}

func (e *Engine) allActiveLeaders(ctx context.Context, excludeAgentID string) ([]store.Agent, error) {
	depts, err := e.store.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	var out []store.Agent
	for _, d := range depts {
		leader, err := e.store.TeamLeaderOf(ctx, d.ID)
		if err != nil {
			continue
		}
		if leader.ID == excludeAgentID || leader.Status == store.AgentOffline {
			continue
		}
		out = append(out, *leader)
	}
	return out, nil
}

func (e *Engine) summon(ctx context.Context, taskID string, facilitator store.Agent, participants []store.Agent) {
	e.mu.Lock()
	until := time.Now().Add(meetingPresenceTTL)
	all := append([]store.Agent{facilitator}, participants...)
	for _, a := range all {
		e.presenceUntil[a.ID] = until
	}
	e.mu.Unlock()

	for i, a := range all {
		seat := i % 6
		if a.Status == store.AgentBreak {
			_ = e.store.UpdateAgent(ctx, a.ID, map[string]any{"status": store.AgentIdle})
		}
		e.bus.Broadcast(bus.Event{Type: "ceo_office_call", Payload: bus.CeoOfficeCallPayload{
			FromAgentID: a.ID, SeatIndex: seat, Phase: "meeting", TaskID: taskID, Action: "arrive",
		}})
	}
}

func (e *Engine) broadcastTaskUpdate(ctx context.Context, taskID string) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return
	}
	e.bus.Broadcast(bus.Event{Type: "task_update", Payload: bus.TaskUpdatePayload{TaskID: taskID, Task: t}})
}

// speak runs one turn: build the prompt, run the one-shot CLI/HTTP
// contract, sanitize the reply (falling back to a canned line), persist
// the minute entry, and broadcast it as a chat message plus an office
// speak cue.
func (e *Engine) speak(ctx context.Context, meetingID string, task store.Task, meetingType string, round int, speaker store.Agent, kind turnKind, language string, transcript []string, stanceHint string) string {
	prompt := buildPrompt(task, meetingType, round, speaker, kind, language, transcript, stanceHint)

	provider := store.ProviderClaude
	if speaker.CliProvider != nil {
		provider = *speaker.CliProvider
	}

	logID := fmt.Sprintf("%s-meeting-%s-%d-%s", task.ID, meetingType, round, speaker.ID)
	raw, err := e.launcher.RunOnce(ctx, logID, provider, "", "", prompt, "", oneShotTimeout, func(stream, data string) {
		e.bus.Broadcast(bus.Event{Type: "cli_output", Payload: bus.CliOutputPayload{TaskID: task.ID, Stream: stream, Data: data}})
	})

	maxLen := maxReplyLenMeeting
	var reply string
	if err == nil {
		reply = SanitizeReply(raw, provider, language, maxLen)
	}
	if reply == "" {
		reply = cannedReply(kind, language)
	}

	entry := &store.MeetingMinuteEntry{
		MeetingID:      meetingID,
		SpeakerAgentID: speaker.ID,
		SpeakerName:    speaker.Name,
		SpeakerDept:    deptOf(speaker),
		SpeakerRole:    speaker.Role,
		MessageType:    string(kind),
		Content:        reply,
	}
	_ = e.store.AppendMeetingEntry(ctx, entry)

	msg := &store.Message{
		SenderType:  store.SenderAgent,
		SenderID:    speaker.ID,
		ReceiverType: store.ReceiverAll,
		ReceiverID:  "all",
		Content:     reply,
		MessageType: store.MsgChat,
		TaskID:      &task.ID,
	}
	_ = e.store.CreateMessage(ctx, msg)
	e.bus.Broadcast(bus.Event{Type: "new_message", Payload: msg})

	e.bus.Broadcast(bus.Event{Type: "ceo_office_call", Payload: bus.CeoOfficeCallPayload{
		FromAgentID: speaker.ID, Phase: "meeting", TaskID: task.ID, Action: "speak",
		Line: truncateWidth(reply, maxOfficePreview),
	}})

	return reply
}

func buildPrompt(task store.Task, meetingType string, round int, speaker store.Agent, kind turnKind, language string, transcript []string, stanceHint string) string {
	var b strings.Builder
	b.WriteString(meetingLabel(meetingType))
	b.WriteString("\nTask: ")
	b.WriteString(task.Title)
	if task.Description != "" {
		b.WriteString("\nContext: ")
		b.WriteString(task.Description)
	}
	fmt.Fprintf(&b, "\nRound: %d\n", round)
	fmt.Fprintf(&b, "You are %s, %s, %s.\n", speaker.Name, deptOf(speaker), speaker.Role)
	b.WriteString(deptRoleConstraint(deptOf(speaker)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Respond in %s.\n", languageName(language))
	b.WriteString("Output rules: one natural chat message, no JSON, no markdown, 1-3 sentences, with an explicit actionable stance.\n")
	b.WriteString("Turn objective: ")
	b.WriteString(turnObjective(kind))
	b.WriteString("\n")
	if stanceHint != "" {
		b.WriteString("Stance: ")
		b.WriteString(stanceHint)
		b.WriteString("\n")
	}
	if len(transcript) > 0 {
		b.WriteString("Transcript so far:\n")
		b.WriteString(strings.Join(transcript, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func turnObjective(kind turnKind) string {
	switch kind {
	case turnOpening:
		return "Open the meeting: summarize the plan and invite feedback."
	case turnFeedback:
		return "Give feedback from your department's perspective; flag any blocking concern explicitly."
	case turnSummaryRevision:
		return "Summarize the revision plan that addresses the raised concern."
	case turnSummaryFinal:
		return "Summarize the plan and request final approval from the room."
	case turnApprovalHold:
		return "State you are holding your approval pending the revision."
	case turnApprovalConditional:
		return "State conditional approval pending the revision."
	case turnApprovalNow:
		return "State approval now, no further changes needed."
	default:
		return "Respond in character."
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

func deptMentions(text string) []string {
	return deptmatch.Detect(text, "")
}
