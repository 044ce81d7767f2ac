package bus

// Event is a server-side event broadcast to WebSocket subscribers. The
// wire frame is {type, payload, timestamp_ms}, matching spec.md §4.3.
type Event struct {
	Type         string      `json:"type"`
	Payload      interface{} `json:"payload,omitempty"`
	TimestampMs  int64       `json:"timestamp_ms"`
}

// EventHandler handles a broadcast event delivered to one subscriber.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription so the
// orchestrator, delegation engine, and meeting engine can depend on the
// interface rather than the concrete Bus implementation.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Task update payload, broadcast on every task status/field change.
type TaskUpdatePayload struct {
	TaskID string      `json:"task_id"`
	Task   interface{} `json:"task"`
}

// Agent status payload.
type AgentStatusPayload struct {
	AgentID string      `json:"agent_id"`
	Agent   interface{} `json:"agent"`
}

// CliOutputPayload carries a chunk of raw child-process output.
type CliOutputPayload struct {
	TaskID string `json:"task_id"`
	Stream string `json:"stream"` // "stdout" | "stderr"
	Data   string `json:"data"`
}

// CrossDeptDeliveryPayload is the UI animation cue fired when the
// cross-department queue hands a directive to the next department.
type CrossDeptDeliveryPayload struct {
	TaskID       string `json:"task_id"`
	FromDeptID   string `json:"from_department_id"`
	ToDeptID     string `json:"to_department_id"`
}

// CeoOfficeCallPayload drives the office-view seating animation during
// meetings.
type CeoOfficeCallPayload struct {
	FromAgentID string `json:"from_agent_id"`
	SeatIndex   int    `json:"seat_index"`
	Phase       string `json:"phase"`
	TaskID      string `json:"task_id"`
	Action      string `json:"action"` // "arrive" | "speak"
	Line        string `json:"line,omitempty"`
}

// SubtaskUpdatePayload is broadcast on subtask status/field changes.
type SubtaskUpdatePayload struct {
	TaskID    string      `json:"task_id"`
	SubtaskID string      `json:"subtask_id"`
	Subtask   interface{} `json:"subtask"`
}
