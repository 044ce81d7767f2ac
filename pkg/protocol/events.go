package protocol

// ProtocolVersion is the WebSocket wire protocol version reported by
// /api/health and the "connected" handshake frame.
const ProtocolVersion = 1

// Event names broadcast to WebSocket subscribers, per spec.md §4.3.
const (
	EventTaskUpdate        = "task_update"
	EventAgentStatus       = "agent_status"
	EventNewMessage        = "new_message"
	EventAnnouncement      = "announcement"
	EventSubtaskUpdate     = "subtask_update"
	EventCliOutput         = "cli_output"
	EventCliUsageUpdate    = "cli_usage_update"
	EventCrossDeptDelivery = "cross_dept_delivery"
	EventCeoOfficeCall     = "ceo_office_call"
	EventMessagesCleared   = "messages_cleared"
)

// cli_output stream discriminator.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ceo_office_call actions.
const (
	OfficeCallArrive = "arrive"
	OfficeCallSpeak  = "speak"
)
