// Package types provides the core data types for the Tandem server.
package types

// Session represents a conversation session with the LLM.
type Session struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"projectID"`
	Directory    string         `json:"directory"`
	ParentID     *string        `json:"parentID,omitempty"`
	Title        string         `json:"title"`
	Version      string         `json:"version"`
	Summary      SessionSummary `json:"summary"`
	Share        *SessionShare  `json:"share,omitempty"`
	Time         SessionTime    `json:"time"`
	Revert       *SessionRevert `json:"revert,omitempty"`
	CustomPrompt *CustomPrompt  `json:"customPrompt,omitempty"`

	// Default provider/model/agent for new messages started without an
	// explicit override.
	ProviderID string `json:"providerID,omitempty"`
	ModelID    string `json:"modelID,omitempty"`
	AgentID    string `json:"agentID,omitempty"`

	EnabledRuleIDs []string `json:"enabledRuleIDs,omitempty"`
	EnabledToolIDs []string `json:"enabledToolIDs,omitempty"`

	// NextTodoID is the session-local counter used to mint new Todo IDs.
	NextTodoID int `json:"nextTodoID,omitempty"`

	// Flags holds advisory client/orchestrator switches, e.g. "compacting".
	Flags map[string]bool `json:"flags,omitempty"`

	BaseContextTokens int `json:"baseContextTokens,omitempty"`
	TotalTokens       int `json:"totalTokens,omitempty"`

	// MessageQueue holds user messages submitted while a turn is in flight;
	// they are drained into new turns once the active one reaches "stop".
	MessageQueue []QueuedMessage `json:"messageQueue,omitempty"`
}

// QueuedMessage is a user message waiting for the active turn to finish.
type QueuedMessage struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	FileParts []string `json:"fileParts,omitempty"`
	QueuedAt  int64    `json:"queuedAt"`
}

// SessionSummary contains statistics about code changes in a session.
type SessionSummary struct {
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Files     int        `json:"files"`
	Diffs     []FileDiff `json:"diffs,omitempty"`
}

// FileDiff represents a diff for a single file.
type FileDiff struct {
	File      string `json:"file"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// SessionTime contains timestamps for a session.
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Compacting *int64 `json:"compacting,omitempty"`
}

// SessionShare contains sharing information for a session.
type SessionShare struct {
	URL string `json:"url"`
}

// SessionRevert contains information about session revert state.
type SessionRevert struct {
	MessageID string  `json:"messageID"`
	PartID    *string `json:"partID,omitempty"`
	Snapshot  *string `json:"snapshot,omitempty"`
	Diff      *string `json:"diff,omitempty"`
}

// CustomPrompt represents a custom system prompt configuration.
type CustomPrompt struct {
	Type      string            `json:"type"` // "file" | "inline"
	Value     string            `json:"value"`
	LoadedAt  *int64            `json:"loadedAt,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}
