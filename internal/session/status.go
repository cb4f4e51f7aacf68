package session

import (
	"sync"
	"time"

	"github.com/tandem-dev/tandem/internal/event"
)

// Status type values for SessionStatusInfo.Type.
const (
	StatusIdle              = "idle"
	StatusThinking          = "thinking"
	StatusTool              = "tool"
	StatusTodo              = "todo"
	StatusWaitingPermission = "waiting_permission"
	StatusWaitingAsk        = "waiting_ask"
	StatusError             = "error"
)

// sessionStatus is the tracker's per-session state. The published summary
// is synthesized from it with a fixed precedence: an in-progress todo's
// activeForm wins over the current tool/thinking signal, which wins over
// idle.
type sessionStatus struct {
	base      event.SessionStatusInfo
	todoForm  string
	startedAt time.Time
	published event.SessionStatusInfo
}

// StatusTracker holds the single consolidated status summary for each
// active session ("Thinking...", the active tool's label, the active
// todo's activeForm) and republishes it on the session's stream channel
// whenever it changes. Without this, a client has to infer "what is the
// agent doing" from the raw interleaving of part-updated and todo-updated
// events; the tracker does that folding once, in one place.
type StatusTracker struct {
	mu      sync.Mutex
	current map[string]*sessionStatus
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{current: make(map[string]*sessionStatus)}
}

func (t *StatusTracker) state(sessionID string) *sessionStatus {
	s, ok := t.current[sessionID]
	if !ok {
		s = &sessionStatus{}
		t.current[sessionID] = s
	}
	return s
}

// effective synthesizes the published summary from the raw signals.
func (s *sessionStatus) effective() event.SessionStatusInfo {
	info := s.base
	if s.todoForm != "" {
		info = event.SessionStatusInfo{Type: StatusTodo, Label: s.todoForm}
	}
	if info.Type == "" {
		info.Type = StatusIdle
	}
	if !s.startedAt.IsZero() {
		info.Duration = time.Since(s.startedAt).Milliseconds()
	}
	return info
}

// republish publishes the session's effective status, skipping the publish
// entirely when nothing actually changed since the last one. Callers hold
// no lock; the tracker's own lock covers the state read.
func (t *StatusTracker) republish(sessionID string) {
	t.mu.Lock()
	s := t.state(sessionID)
	info := s.effective()
	if s.published == info {
		t.mu.Unlock()
		return
	}
	s.published = info
	t.mu.Unlock()

	event.PublishSync(event.Event{
		Type: event.SessionStatus,
		Data: event.SessionStatusData{SessionID: sessionID, Status: info},
	})
}

func (t *StatusTracker) setBase(sessionID string, info event.SessionStatusInfo) {
	t.mu.Lock()
	t.state(sessionID).base = info
	t.mu.Unlock()
	t.republish(sessionID)
}

// Current returns the session's last synthesized status, defaulting to idle
// when no turn has touched it.
func (t *StatusTracker) Current(sessionID string) event.SessionStatusInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.current[sessionID]; ok {
		return s.effective()
	}
	return event.SessionStatusInfo{Type: StatusIdle}
}

// BeginTurn records the wall-clock start of a streaming turn, from which
// the published Duration is measured.
func (t *StatusTracker) BeginTurn(sessionID string) {
	t.mu.Lock()
	t.state(sessionID).startedAt = time.Now()
	t.mu.Unlock()
}

// Heartbeat republishes the current status so subscribers see Duration
// advance; called once a second while a stream is active.
func (t *StatusTracker) Heartbeat(sessionID string) {
	t.republish(sessionID)
}

// Thinking marks a session as waiting on the provider for its next chunk.
func (t *StatusTracker) Thinking(sessionID string) {
	t.setBase(sessionID, event.SessionStatusInfo{Type: StatusThinking})
}

// Tool marks a session as running a specific tool.
func (t *StatusTracker) Tool(sessionID, toolName string) {
	t.setBase(sessionID, event.SessionStatusInfo{Type: StatusTool, Label: toolName})
}

// Todo reports the activeForm of the session's current in-progress todo.
// While set it takes precedence over the tool/thinking signal; call with
// an empty string once no todo is in progress to fall back.
func (t *StatusTracker) Todo(sessionID, activeForm string) {
	t.mu.Lock()
	t.state(sessionID).todoForm = activeForm
	t.mu.Unlock()
	t.republish(sessionID)
}

// WaitingPermission marks a session as blocked on a permission decision.
func (t *StatusTracker) WaitingPermission(sessionID string) {
	t.setBase(sessionID, event.SessionStatusInfo{Type: StatusWaitingPermission})
}

// WaitingAsk marks a session as blocked on an answer to an ask-tool question.
func (t *StatusTracker) WaitingAsk(sessionID string) {
	t.setBase(sessionID, event.SessionStatusInfo{Type: StatusWaitingAsk})
}

// Error marks a session's turn as having ended in error.
func (t *StatusTracker) Error(sessionID string) {
	t.setBase(sessionID, event.SessionStatusInfo{Type: StatusError})
}

// Idle marks a session as having no turn in flight and forgets its last
// status, so a later status on the same session starts from scratch.
func (t *StatusTracker) Idle(sessionID string) {
	t.mu.Lock()
	delete(t.current, sessionID)
	t.mu.Unlock()

	event.PublishSync(event.Event{
		Type: event.SessionStatus,
		Data: event.SessionStatusData{SessionID: sessionID, Status: event.SessionStatusInfo{Type: StatusIdle}},
	})
}
