package types

// Todo represents a single task-tracking item within a session's todo list.
// Unlike the ad-hoc list the model free-forms on each write, a Todo carries a
// stable session-local ID so updates can be correlated across replace calls.
type Todo struct {
	ID          int    `json:"id"`
	SessionID   string `json:"sessionID"`
	Content     string `json:"content"`
	ActiveForm  string `json:"activeForm"`
	Status      string `json:"status"` // "pending" | "in_progress" | "completed"
	Ordering    int    `json:"ordering"`
	CreatedAt   int64  `json:"createdAt"`
	CompletedAt *int64 `json:"completedAt,omitempty"`
}

const (
	TodoStatusPending    = "pending"
	TodoStatusInProgress = "in_progress"
	TodoStatusCompleted  = "completed"
	TodoStatusRemoved    = "removed"
)

// TodoInfo is the wire shape the todowrite/todoread tools exchange with the
// model: the AI replaces the whole list atomically with a plain id rather
// than the session-scoped integer id Todo carries, since the model has no
// visibility into storage-assigned identifiers across turns.
type TodoInfo struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	ActiveForm  string `json:"activeForm,omitempty"`
	Status      string `json:"status"`
	Ordering    int    `json:"ordering,omitempty"`
	CreatedAt   int64  `json:"createdAt,omitempty"`
	CompletedAt *int64 `json:"completedAt,omitempty"`
}
