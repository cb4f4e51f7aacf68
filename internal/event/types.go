package event

import "github.com/tandem-dev/tandem/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	Info *types.Session `json:"info"`
}

// SessionIdleData is the data for session.idle events.
type SessionIdleData struct {
	SessionID string `json:"sessionID"`
}

// SessionDiffData is the data for session.diff events.
type SessionDiffData struct {
	SessionID string            `json:"sessionID"`
	Diff      []types.FileDiff  `json:"diff"`
}

// SessionStatusData is the data for session.status events.
type SessionStatusData struct {
	SessionID string            `json:"sessionID"`
	Status    SessionStatusInfo `json:"status"`
}

// SessionStatusInfo is the consolidated status summary republished on a
// session's stream channel: a single "what is happening right now" value
// that folds together the thinking/tool/todo signals the orchestrator
// would otherwise report as separate, easy-to-miss events.
type SessionStatusInfo struct {
	Type     string `json:"type"`               // "idle" | "thinking" | "tool" | "todo" | "waiting_permission" | "waiting_ask" | "error"
	Label    string `json:"label,omitempty"`    // active tool name, or the active todo's activeForm
	Duration int64  `json:"duration,omitempty"` // ms since the stream started; republished every second while active
}

// SessionTokensData is the data for session.tokens.updated events: the live
// token totals for a session while a turn streams.
type SessionTokensData struct {
	SessionID         string `json:"sessionID"`
	TotalTokens       int    `json:"totalTokens"`
	BaseContextTokens int    `json:"baseContextTokens"`
}

// SessionCompactedData is the data for session.compacted events.
type SessionCompactedData struct {
	SessionID      string `json:"sessionID"`
	SummaryMessage string `json:"summaryMessageID"`
}

// StepCreatedData is the data for step.created events.
type StepCreatedData struct {
	Info *types.Step `json:"info"`
}

// StepUpdatedData is the data for step.updated events.
type StepUpdatedData struct {
	Info *types.Step `json:"info"`
}

// TodoUpdatedData is the data for todo.updated events.
type TodoUpdatedData struct {
	SessionID string       `json:"sessionID"`
	Todos     []types.Todo `json:"todos"`
}

// BashProcessUpdatedData is the data for bash.process.updated events.
type BashProcessUpdatedData struct {
	Info *types.BashProcess `json:"info"`
}

// AskCreatedData is the data for ask.created events.
type AskCreatedData struct {
	Info *types.AskRequest `json:"info"`
}

// AskAnsweredData is the data for ask.answered events.
type AskAnsweredData struct {
	Info *types.AskResponse `json:"info"`
}

// QueueClearedData is the data for queue.cleared events, emitted when the
// orchestrator drains a session's pending message queue into a new turn.
type QueueClearedData struct {
	SessionID string   `json:"sessionID"`
	Drained   int      `json:"drained"`
	QueueIDs  []string `json:"queueIDs"`
}

// SessionErrorData is the data for session.error events.
type SessionErrorData struct {
	SessionID string              `json:"sessionID,omitempty"`
	Error     *types.MessageError `json:"error,omitempty"`
}

// MessageCreatedData is the data for message.created events.
type MessageCreatedData struct {
	Info *types.Message `json:"info"`
}

// MessageUpdatedData is the data for message.updated events.
type MessageUpdatedData struct {
	Info *types.Message `json:"info"`
}

// MessageRemovedData is the data for message.removed events.
type MessageRemovedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

// MessagePartUpdatedData is the data for message.part.updated events.
type MessagePartUpdatedData struct {
	Part  types.Part `json:"part"`
	Delta string     `json:"delta,omitempty"` // For streaming text
}

// Deprecated: Use MessagePartUpdatedData instead
type PartUpdatedData = MessagePartUpdatedData

// MessagePartRemovedData is the data for message.part.removed events.
type MessagePartRemovedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	PartID    string `json:"partID"`
}

// FileEditedData is the data for file.edited events.
type FileEditedData struct {
	File string `json:"file"`
}

// PermissionUpdatedData is the data for permission.required events.
type PermissionUpdatedData struct {
	ID             string   `json:"id"`
	SessionID      string   `json:"sessionID"`
	PermissionType string   `json:"permissionType"` // "bash" | "edit" | "external_directory"
	Pattern        []string `json:"pattern"`
	Title          string   `json:"title"`
}

// Deprecated: Use PermissionUpdatedData instead
type PermissionRequiredData = PermissionUpdatedData

// PermissionRepliedData is the data for permission.replied events.
type PermissionRepliedData struct {
	PermissionID string `json:"permissionID"`
	SessionID    string `json:"sessionID"`
	Response     string `json:"response"` // "once" | "always" | "reject"
}

// Deprecated: Use PermissionRepliedData instead
type PermissionResolvedData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Granted   bool   `json:"granted"`
}

// ClientToolRequestData is the data for client-tool.request events.
type ClientToolRequestData struct {
	ClientID string `json:"clientID"`
	Request  any    `json:"request"` // ExecutionRequest from clienttool package
}

// ClientToolRegisteredData is the data for client-tool.registered events.
type ClientToolRegisteredData struct {
	ClientID string   `json:"clientID"`
	ToolIDs  []string `json:"toolIDs"`
}

// ClientToolUnregisteredData is the data for client-tool.unregistered events.
type ClientToolUnregisteredData struct {
	ClientID string   `json:"clientID"`
	ToolIDs  []string `json:"toolIDs"`
}

// ClientToolStatusData is the data for client-tool.executing/completed/failed events.
type ClientToolStatusData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	CallID    string `json:"callID"`
	Tool      string `json:"tool"`
	ClientID  string `json:"clientID"`
	Error     string `json:"error,omitempty"`
	Success   bool   `json:"success,omitempty"`
}
