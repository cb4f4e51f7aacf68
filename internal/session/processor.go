package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tandem-dev/tandem/internal/permission"
	"github.com/tandem-dev/tandem/internal/provider"
	"github.com/tandem-dev/tandem/internal/storage"
	"github.com/tandem-dev/tandem/internal/tool"
	"github.com/tandem-dev/tandem/pkg/types"
)

// Processor handles message processing and the agentic loop.
type Processor struct {
	mu sync.Mutex

	providerRegistry  *provider.Registry
	toolRegistry      *tool.Registry
	storage           *storage.Storage
	permissionChecker *permission.Checker

	// Default provider and model to use when not specified
	defaultProviderID string
	defaultModelID    string

	// Active sessions being processed
	sessions map[string]*sessionState

	// asks is cleared on compaction, since a summarized conversation drops
	// the context a pending question referred to. Optional; nil when the
	// owning Service has no ask queue wired in.
	asks *AskQueue

	// status holds the consolidated per-session "what is happening now"
	// summary republished on the session stream channel.
	status *StatusTracker
}

// SetAskQueue wires the ask queue this processor clears on compaction.
func (p *Processor) SetAskQueue(q *AskQueue) {
	p.asks = q
	if q != nil {
		q.SetStatusTracker(p.status)
	}
}

// sessionState tracks the state of an active session being processed.
type sessionState struct {
	ctx     context.Context
	cancel  context.CancelFunc
	message *types.Message
	parts   []types.Part
	waiters []chan error
	step    int
	retries int

	// currentStep is the Step record open for the in-flight provider
	// round-trip, set by processStream for the duration of one call.
	currentStep *types.Step
	// tokens is the live token tracker for the in-flight turn, created
	// once the first completion request is built.
	tokens *tokenTracker
	// ordering is the next Part.Ordering value to hand out within the
	// current step, reset each time a new step opens.
	ordering int
	// systemMessages snapshots the system-prompt sections built for the
	// in-flight request, carried onto currentStep when it opens.
	systemMessages []string
}

// nextOrdering hands out the next Part.Ordering value within the current
// step and advances the counter.
func (s *sessionState) nextOrdering() int {
	n := s.ordering
	s.ordering++
	return n
}

// ProcessCallback is called with message updates during processing.
type ProcessCallback func(msg *types.Message, parts []types.Part)

// PermissionChecker returns the permission checker backing this processor,
// so callers outside the agent loop (e.g. the session service's permission
// RPC handler) can resolve the same pending requests.
func (p *Processor) PermissionChecker() *permission.Checker {
	return p.permissionChecker
}

// Status returns the processor's consolidated session-status tracker.
func (p *Processor) Status() *StatusTracker {
	return p.status
}

// ToolRegistry returns the tool registry backing this processor.
func (p *Processor) ToolRegistry() *tool.Registry {
	return p.toolRegistry
}

// NewProcessor creates a new session processor.
func NewProcessor(
	providerReg *provider.Registry,
	toolReg *tool.Registry,
	store *storage.Storage,
	permChecker *permission.Checker,
	defaultProviderID string,
	defaultModelID string,
) *Processor {
	// Use reasonable defaults if not specified
	if defaultProviderID == "" {
		defaultProviderID = "anthropic"
	}
	if defaultModelID == "" {
		defaultModelID = "claude-sonnet-4-20250514"
	}
	p := &Processor{
		providerRegistry:  providerReg,
		toolRegistry:      toolReg,
		storage:           store,
		permissionChecker: permChecker,
		defaultProviderID: defaultProviderID,
		defaultModelID:    defaultModelID,
		sessions:          make(map[string]*sessionState),
		status:            NewStatusTracker(),
	}
	// Todo updates reach the consolidated status through the bus, so both
	// the todowrite tool and the todo.update mutation feed the same
	// precedence synthesis.
	WatchTodoStatus(p.status)
	return p
}

// Process handles a new user message and generates an assistant response.
// This is the main entry point for the agentic loop.
func (p *Processor) Process(ctx context.Context, sessionID string, agent *Agent, callback ProcessCallback) error {
	p.mu.Lock()

	// Check if session is already processing
	if state, ok := p.sessions[sessionID]; ok {
		// Queue this request
		waiter := make(chan error, 1)
		state.waiters = append(state.waiters, waiter)
		p.mu.Unlock()

		// Wait for current processing to complete
		select {
		case err := <-waiter:
			if err != nil {
				return err
			}
			// Retry processing
			return p.Process(ctx, sessionID, agent, callback)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Create new session state
	loopCtx, cancel := context.WithCancel(ctx)
	state := &sessionState{
		ctx:    loopCtx,
		cancel: cancel,
	}
	p.sessions[sessionID] = state
	p.mu.Unlock()

	// While the stream is active, republish the status once a second so
	// subscribers see its duration advance.
	p.status.BeginTurn(sessionID)
	heartbeatDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.status.Heartbeat(sessionID)
			case <-heartbeatDone:
				return
			}
		}
	}()

	// Ensure cleanup
	defer func() {
		close(heartbeatDone)
		p.mu.Lock()
		delete(p.sessions, sessionID)

		// Notify waiters
		for _, waiter := range state.waiters {
			waiter <- nil
		}
		p.mu.Unlock()
		p.status.Idle(sessionID)
	}()

	// Run the agentic loop
	return p.runLoop(loopCtx, sessionID, state, agent, callback)
}

// Abort cancels processing for a session.
func (p *Processor) Abort(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not processing: %s", sessionID)
	}

	state.cancel()
	return nil
}

// IsProcessing returns whether a session is currently processing.
func (p *Processor) IsProcessing(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionID]
	return ok
}

// GetActiveState returns the current state for a processing session.
func (p *Processor) GetActiveState(sessionID string) (*types.Message, []types.Part, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.sessions[sessionID]
	if !ok {
		return nil, nil, false
	}

	return state.message, state.parts, true
}
