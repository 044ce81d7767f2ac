// Package store is the durable state layer for climpire: departments,
// agents, tasks, subtasks, messages, task logs, meeting minutes, OAuth
// credentials/state, and the CLI usage cache, per spec.md §3.
package store

import "time"

// Department identities, in workflow order.
const (
	DeptPlanning    = "planning"
	DeptDevelopment = "development"
	DeptDesign      = "design"
	DeptQA          = "qa"
	DeptDevSecOps   = "devsecops"
	DeptOperations  = "operations"
)

// Agent roles.
const (
	RoleTeamLeader = "team_leader"
	RoleSenior     = "senior"
	RoleJunior     = "junior"
	RoleIntern     = "intern"
)

// Agent statuses.
const (
	AgentIdle    = "idle"
	AgentWorking = "working"
	AgentBreak   = "break"
	AgentOffline = "offline"
)

// CLI providers.
const (
	ProviderClaude     = "claude"
	ProviderCodex      = "codex"
	ProviderGemini     = "gemini"
	ProviderOpenCode   = "opencode"
	ProviderCopilot    = "copilot"
	ProviderAntigravity = "antigravity"
)

// Task statuses.
const (
	TaskInbox      = "inbox"
	TaskPlanned    = "planned"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskDone       = "done"
	TaskCancelled  = "cancelled"
	TaskPending    = "pending"
)

// Subtask statuses.
const (
	SubtaskPending    = "pending"
	SubtaskInProgress = "in_progress"
	SubtaskDone       = "done"
	SubtaskBlocked    = "blocked"
)

// Message sender/receiver kinds and message types.
const (
	SenderCEO    = "ceo"
	SenderAgent  = "agent"
	SenderSystem = "system"

	ReceiverAgent      = "agent"
	ReceiverDepartment = "department"
	ReceiverAll        = "all"

	MsgChat         = "chat"
	MsgTaskAssign   = "task_assign"
	MsgAnnouncement = "announcement"
	MsgReport       = "report"
	MsgStatusUpdate = "status_update"
)

// Meeting types and statuses.
const (
	MeetingPlanned = "planned"
	MeetingReview  = "review"

	MeetingInProgress       = "in_progress"
	MeetingCompleted        = "completed"
	MeetingRevisionRequested = "revision_requested"
	MeetingFailed           = "failed"
)

// Department is a fixed organizational unit.
type Department struct {
	ID        string `json:"id"`
	NameEN    string `json:"name_en"`
	NameKO    string `json:"name_ko"`
	Icon      string `json:"icon"`
	Color     string `json:"color"`
	SortOrder int    `json:"sort_order"`
}

// Agent is an employee of the virtual company.
type Agent struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	NameKO        string  `json:"name_ko"`
	DepartmentID  *string `json:"department_id"`
	Role          string  `json:"role"`
	CliProvider   *string `json:"cli_provider"`
	AvatarEmoji   string  `json:"avatar_emoji,omitempty"`
	Personality   string  `json:"personality,omitempty"`
	Status        string  `json:"status"`
	CurrentTaskID *string `json:"current_task_id"`
	StatsTasksDone int    `json:"stats_tasks_done"`
	StatsXP        int    `json:"stats_xp"`
}

// Task is a unit of assigned work.
type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	DepartmentID    *string    `json:"department_id"`
	AssignedAgentID *string    `json:"assigned_agent_id"`
	Status          string     `json:"status"`
	Priority        int        `json:"priority"`
	TaskType        string     `json:"task_type,omitempty"`
	ProjectPath     string     `json:"project_path,omitempty"`
	Result          string     `json:"result,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Subtask is a unit of work surfaced by the Child Runner's stream parser
// or by meeting-driven plan seeding.
type Subtask struct {
	ID                 string  `json:"id"`
	TaskID             string  `json:"task_id"`
	Title              string  `json:"title"`
	Description        string  `json:"description,omitempty"`
	Status             string  `json:"status"`
	AssignedAgentID    *string `json:"assigned_agent_id"`
	BlockedReason      string  `json:"blocked_reason,omitempty"`
	CliToolUseID       string  `json:"cli_tool_use_id,omitempty"`
	TargetDepartmentID *string `json:"target_department_id"`
	DelegatedTaskID    *string `json:"delegated_task_id"`
}

// Message is a chat item exchanged between the CEO, agents, and the system.
type Message struct {
	ID           string    `json:"id"`
	SenderType   string    `json:"sender_type"`
	SenderID     string    `json:"sender_id"`
	ReceiverType string    `json:"receiver_type"`
	ReceiverID   string    `json:"receiver_id"`
	Content      string    `json:"content"`
	MessageType  string    `json:"message_type"`
	TaskID       *string   `json:"task_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TaskLog is a free-form tagged log line attached to a task run.
type TaskLog struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// MeetingMinutes is one round of a planned-approval or review-consensus
// meeting.
type MeetingMinutes struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	MeetingType string     `json:"meeting_type"`
	Round       int        `json:"round"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MeetingMinuteEntry is one speaking turn within a MeetingMinutes round.
type MeetingMinuteEntry struct {
	ID              int64  `json:"id"`
	MeetingID       string `json:"meeting_id"`
	Seq             int    `json:"seq"`
	SpeakerAgentID  string `json:"speaker_agent_id"`
	SpeakerName     string `json:"speaker_name"`
	SpeakerDept     string `json:"speaker_department"`
	SpeakerRole     string `json:"speaker_role"`
	MessageType     string `json:"message_type"`
	Content         string `json:"content"`
}

// OAuthCredential is a stored, encrypted token for a CLI provider's HTTP
// agent path.
type OAuthCredential struct {
	Provider      string     `json:"provider"`
	Source        string     `json:"source"` // "web-oauth" | "file-detected"
	Email         string     `json:"email,omitempty"`
	Scope         string     `json:"scope,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	EncryptedData string     `json:"-"`
	AccessToken   string     `json:"-"`
	RefreshToken  string     `json:"-"`
}

// OAuthState is a one-time-use row tracking an in-flight OAuth handshake.
type OAuthState struct {
	ID                string    `json:"id"`
	Provider          string    `json:"provider"`
	EncryptedVerifier string    `json:"-"`
	RedirectTo        string    `json:"redirect_to,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// CliUsageCache holds the last-known quota snapshot for a provider.
type CliUsageCache struct {
	Provider    string    `json:"provider"`
	WindowsJSON string    `json:"windows_json"`
	RefreshedAt time.Time `json:"refreshed_at"`
}
