// Package session provides session management functionality.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tandem-dev/tandem/internal/command"
	"github.com/tandem-dev/tandem/internal/logging"
	"github.com/tandem-dev/tandem/internal/permission"
	"github.com/tandem-dev/tandem/internal/provider"
	"github.com/tandem-dev/tandem/internal/storage"
	"github.com/tandem-dev/tandem/internal/tool"
	"github.com/tandem-dev/tandem/pkg/types"
)

// Service manages session operations.
type Service struct {
	storage *storage.Storage

	// Active session processing
	mu       sync.RWMutex
	active   map[string]*ActiveSession
	abortChs map[string]chan struct{}

	// Processor for agentic loop
	processor *Processor

	// asks tracks questions raised by the ask tool that are awaiting a
	// message.answerAsk mutation.
	asks *AskQueue

	// Optional collaborators wired in by the server; commands and shell
	// execution degrade gracefully when absent (e.g. in tests that only
	// exercise the session CRUD surface).
	commandExecutor CommandRunner
	bashRunner      ShellRunner
}

// CommandRunner expands a slash command invocation ("name arg1 arg2...")
// into a prompt, as done by internal/command.Executor.
type CommandRunner interface {
	Execute(ctx context.Context, name string, args string) (*command.ExecuteResult, error)
}

// ShellRunner executes a shell command on behalf of a session and blocks
// until it reaches a terminal state, as done by internal/bashmgr.Manager's
// active slot. Timeout is in milliseconds; zero means the runner's default.
type ShellRunner interface {
	Run(ctx context.Context, sessionID, command string, timeoutMS int) (output string, exitCode int, status string, err error)
}

// SetCommandExecutor wires the slash-command expander used by ExecuteCommand.
func (s *Service) SetCommandExecutor(c CommandRunner) {
	s.commandExecutor = c
}

// SetShellRunner wires the bash manager used by RunShell.
func (s *Service) SetShellRunner(r ShellRunner) {
	s.bashRunner = r
}

// ActiveSession tracks an active processing session.
type ActiveSession struct {
	SessionID string
	AbortCh   chan struct{}
	StartTime time.Time
}

// NewService creates a new session service.
func NewService(store *storage.Storage) *Service {
	return &Service{
		storage:  store,
		active:   make(map[string]*ActiveSession),
		abortChs: make(map[string]chan struct{}),
		asks:     NewAskQueue(),
	}
}

// NewServiceWithProcessor creates a new session service with processor dependencies.
func NewServiceWithProcessor(
	store *storage.Storage,
	providerReg *provider.Registry,
	toolReg *tool.Registry,
	permChecker *permission.Checker,
	defaultProviderID string,
	defaultModelID string,
) *Service {
	s := &Service{
		storage:  store,
		active:   make(map[string]*ActiveSession),
		abortChs: make(map[string]chan struct{}),
		asks:     NewAskQueue(),
	}
	s.processor = NewProcessor(providerReg, toolReg, store, permChecker, defaultProviderID, defaultModelID)
	s.processor.SetAskQueue(s.asks)
	return s
}

// GetProcessor returns the session processor.
func (s *Service) GetProcessor() *Processor {
	return s.processor
}

// GetAskQueue returns the service's ask queue, used by the ask tool and the
// message.answerAsk mutation.
func (s *Service) GetAskQueue() *AskQueue {
	return s.asks
}

// Create creates a new session.
func (s *Service) Create(ctx context.Context, directory string, title string) (*types.Session, error) {
	now := time.Now().UnixMilli()
	projectID := hashDirectory(directory)

	// Use default title if not provided
	if title == "" {
		title = "New Session"
	}

	session := &types.Session{
		ID:        generateID(),
		ProjectID: projectID,
		Directory: directory,
		Title:     title,
		Version:   "1",
		Summary: types.SessionSummary{
			Additions: 0,
			Deletions: 0,
			Files:     0,
		},
		Time: types.SessionTime{
			Created: now,
			Updated: now,
		},
	}

	if err := s.storage.Put(ctx, []string{"session", projectID, session.ID}, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// Get retrieves a session by ID.
func (s *Service) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	// Try to find in any project
	projects, err := s.storage.List(ctx, []string{"session"})
	if err != nil {
		return nil, err
	}

	for _, projectID := range projects {
		var session types.Session
		if err := s.storage.Get(ctx, []string{"session", projectID, sessionID}, &session); err == nil {
			return &session, nil
		}
	}

	return nil, storage.ErrNotFound
}

// Update updates a session with the given updates.
func (s *Service) Update(ctx context.Context, sessionID string, updates map[string]any) (*types.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Apply updates
	if title, ok := updates["title"].(string); ok {
		session.Title = title
	}
	if providerID, ok := updates["providerID"].(string); ok {
		session.ProviderID = providerID
	}
	if modelID, ok := updates["modelID"].(string); ok {
		session.ModelID = modelID
	}
	if agentID, ok := updates["agentID"].(string); ok {
		session.AgentID = agentID
	}
	if ruleIDs, ok := updates["enabledRuleIDs"].([]string); ok {
		session.EnabledRuleIDs = ruleIDs
	}
	if toolIDs, ok := updates["enabledToolIDs"].([]string); ok {
		session.EnabledToolIDs = toolIDs
	}
	if queue, ok := updates["messageQueue"].([]types.QueuedMessage); ok {
		session.MessageQueue = queue
	}

	session.Time.Updated = time.Now().UnixMilli()

	if err := s.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session); err != nil {
		return nil, err
	}

	return session, nil
}

// Delete deletes a session.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	// Cascade: messages, then each message's parts and steps, then todos
	// and stored attachments, and finally the session record itself.
	messages, _ := s.GetMessages(ctx, sessionID)
	for _, msg := range messages {
		_ = s.storage.Scan(ctx, []string{"part", msg.ID}, func(key string, _ json.RawMessage) error {
			return s.storage.Delete(ctx, []string{"part", msg.ID, key})
		})
		_ = s.storage.Scan(ctx, []string{"step", msg.ID}, func(key string, _ json.RawMessage) error {
			return s.storage.Delete(ctx, []string{"step", msg.ID, key})
		})
		s.storage.Delete(ctx, []string{"message", sessionID, msg.ID})
	}

	s.storage.Delete(ctx, []string{"todo", sessionID})

	_ = s.storage.Scan(ctx, []string{"filecontent"}, func(key string, data json.RawMessage) error {
		var sf types.StoredFile
		if err := json.Unmarshal(data, &sf); err == nil && sf.SessionID == sessionID {
			s.storage.Delete(ctx, []string{"filecontent", key})
			if sf.SHA256 != "" {
				s.storage.Delete(ctx, []string{"filecontent-sha", sf.SHA256})
			}
		}
		return nil
	})

	if err := s.storage.Delete(ctx, []string{"session", session.ProjectID, sessionID}); err != nil {
		return err
	}

	if s.asks != nil {
		s.asks.Clear(sessionID)
	}

	return nil
}

// List lists sessions for a directory.
// If directory is empty, lists all sessions across all projects.
func (s *Service) List(ctx context.Context, directory string) ([]*types.Session, error) {
	var sessions []*types.Session

	if directory == "" {
		// List ALL sessions across all projects
		projects, err := s.storage.List(ctx, []string{"session"})
		if err != nil {
			return nil, err
		}

		for _, projectID := range projects {
			err := s.storage.Scan(ctx, []string{"session", projectID}, func(key string, data json.RawMessage) error {
				var session types.Session
				if err := json.Unmarshal(data, &session); err != nil {
					return err
				}
				sessions = append(sessions, &session)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}

		return sessions, nil
	}

	// List sessions for a specific directory/project
	projectID := hashDirectory(directory)
	err := s.storage.Scan(ctx, []string{"session", projectID}, func(key string, data json.RawMessage) error {
		var session types.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return err
		}
		sessions = append(sessions, &session)
		return nil
	})

	return sessions, err
}

// GetChildren returns child sessions (forks).
func (s *Service) GetChildren(ctx context.Context, sessionID string) ([]*types.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	all, err := s.List(ctx, session.Directory)
	if err != nil {
		return nil, err
	}

	var children []*types.Session
	for _, sess := range all {
		if sess.ParentID != nil && *sess.ParentID == sessionID {
			children = append(children, sess)
		}
	}

	return children, nil
}

// Fork creates a fork of a session at a specific message.
func (s *Service) Fork(ctx context.Context, sessionID, messageID string) (*types.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Create new session with fork title
	newSession, err := s.Create(ctx, session.Directory, session.Title+" (fork)")
	if err != nil {
		return nil, err
	}

	// Set parent
	newSession.ParentID = &sessionID

	// Copy messages up to the fork point
	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for _, msg := range messages {
		// Copy message
		newMsg := *msg
		newMsg.SessionID = newSession.ID
		s.AddMessage(ctx, newSession.ID, &newMsg)

		if msg.ID == messageID {
			break
		}
	}

	// Save updated session
	if err := s.storage.Put(ctx, []string{"session", newSession.ProjectID, newSession.ID}, newSession); err != nil {
		return nil, err
	}

	return newSession, nil
}

// Abort aborts an active session. The processor's cancellation propagates
// into the provider stream and any in-flight tool calls.
func (s *Service) Abort(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if ch, ok := s.abortChs[sessionID]; ok {
		close(ch)
		delete(s.abortChs, sessionID)
	}
	s.mu.Unlock()

	if s.processor != nil && s.processor.IsProcessing(sessionID) {
		return s.processor.Abort(sessionID)
	}
	return nil
}

// Share shares a session and returns a share URL.
func (s *Service) Share(ctx context.Context, sessionID string) (string, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	// Generate a share URL (placeholder)
	shareURL := fmt.Sprintf("https://tandem.ai/share/%s", sessionID)

	session.Share = &types.SessionShare{URL: shareURL}
	session.Time.Updated = time.Now().UnixMilli()

	if err := s.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session); err != nil {
		return "", err
	}

	return shareURL, nil
}

// Unshare removes sharing from a session.
func (s *Service) Unshare(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	session.Share = nil
	session.Time.Updated = time.Now().UnixMilli()

	return s.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)
}

// Summarize generates a summary of the session.
func (s *Service) Summarize(ctx context.Context, sessionID string) (*types.SessionSummary, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &session.Summary, nil
}

// GetDiffs returns diffs for a session.
func (s *Service) GetDiffs(ctx context.Context, sessionID string) ([]types.FileDiff, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return session.Summary.Diffs, nil
}

// GetTodos returns todos for a session.
func (s *Service) GetTodos(ctx context.Context, sessionID string) ([]map[string]any, error) {
	todos, err := GetTodos(ctx, s.storage, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(todos))
	for _, t := range todos {
		data, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Revert reverts a session to a specific message.
func (s *Service) Revert(ctx context.Context, sessionID, messageID string, partID *string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	session.Revert = &types.SessionRevert{
		MessageID: messageID,
		PartID:    partID,
	}
	session.Time.Updated = time.Now().UnixMilli()

	return s.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)
}

// Unrevert removes the revert state from a session.
func (s *Service) Unrevert(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	session.Revert = nil
	session.Time.Updated = time.Now().UnixMilli()

	return s.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session)
}

// ExecuteCommand expands a named slash command (e.g. "/review src/foo.go")
// into a prompt and feeds it through the same agentic loop as a regular
// user message.
func (s *Service) ExecuteCommand(ctx context.Context, sessionID, commandLine string) (map[string]any, error) {
	if s.commandExecutor == nil {
		return nil, fmt.Errorf("command execution not configured")
	}

	name, args, _ := splitCommandLine(commandLine)
	result, err := s.commandExecutor.Execute(ctx, name, args)
	if err != nil {
		return nil, err
	}

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var model *types.ModelRef
	if result.Model != "" {
		model = &types.ModelRef{ModelID: result.Model}
	}

	msg, parts, err := s.ProcessMessage(ctx, sess, result.Prompt, model, nil)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"commandName": result.CommandName,
		"prompt":      result.Prompt,
		"message":     msg,
		"parts":       parts,
	}, nil
}

// splitCommandLine separates a leading "/name" (or "name") token from the
// remaining argument text.
func splitCommandLine(line string) (name, args string, ok bool) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	parts := strings.SplitN(line, " ", 2)
	name = parts[0]
	if len(parts) == 2 {
		args = parts[1]
	}
	return name, args, name != ""
}

// RunShell runs a shell command in the session's working directory and
// blocks until it completes (or times out), returning combined output.
func (s *Service) RunShell(ctx context.Context, sessionID, command string, timeout int) (map[string]any, error) {
	if s.bashRunner == nil {
		return nil, fmt.Errorf("shell execution not configured")
	}

	output, exitCode, status, err := s.bashRunner.Run(ctx, sessionID, command, timeout)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"output":   output,
		"exitCode": exitCode,
		"status":   status,
	}, nil
}

// RespondPermission resolves a pending permission request raised by a tool
// call during the agentic loop.
func (s *Service) RespondPermission(ctx context.Context, sessionID, permissionID string, granted bool) error {
	if s.processor == nil {
		return fmt.Errorf("permission handling not configured")
	}
	checker := s.processor.PermissionChecker()
	if checker == nil {
		return fmt.Errorf("permission handling not configured")
	}

	action := "reject"
	if granted {
		action = "once"
	}
	checker.Respond(permissionID, action)
	return nil
}

// AddMessage adds a message to a session.
func (s *Service) AddMessage(ctx context.Context, sessionID string, msg *types.Message) error {
	return s.storage.Put(ctx, []string{"message", sessionID, msg.ID}, msg)
}

// GetMessages returns all messages for a session.
func (s *Service) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	var messages []*types.Message
	err := s.storage.Scan(ctx, []string{"message", sessionID}, func(key string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		messages = append(messages, &msg)
		return nil
	})
	return messages, err
}

// GetMessage returns one message by id.
func (s *Service) GetMessage(ctx context.Context, sessionID, messageID string) (*types.Message, error) {
	var msg types.Message
	if err := s.storage.Get(ctx, []string{"message", sessionID, messageID}, &msg); err != nil {
		return nil, fmt.Errorf("message %s not found: %w", messageID, err)
	}
	return &msg, nil
}

// SavePart persists one content part under its message.
func (s *Service) SavePart(ctx context.Context, messageID string, part types.Part) error {
	return s.storage.Put(ctx, []string{"part", messageID, part.PartID()}, part)
}

// GetParts returns all parts for a message.
func (s *Service) GetParts(ctx context.Context, messageID string) ([]types.Part, error) {
	var parts []types.Part
	err := s.storage.Scan(ctx, []string{"part", messageID}, func(key string, data json.RawMessage) error {
		part, err := types.UnmarshalPart(data)
		if err != nil {
			return err
		}
		parts = append(parts, part)
		return nil
	})
	return parts, err
}

// ProcessMessage processes a user message and generates an assistant response.
// This is the main agentic loop.
func (s *Service) ProcessMessage(
	ctx context.Context,
	session *types.Session,
	content string,
	model *types.ModelRef,
	onUpdate func(msg *types.Message, parts []types.Part),
	attachments ...types.Part,
) (*types.Message, []types.Part, error) {
	// First, save the user message
	userMsg := &types.Message{
		ID:        generateID(),
		SessionID: session.ID,
		Role:      "user",
		Time: types.MessageTime{
			Created: time.Now().UnixMilli(),
		},
	}
	if model != nil {
		userMsg.Model = model
	}

	if err := s.AddMessage(ctx, session.ID, userMsg); err != nil {
		return nil, nil, err
	}

	// Save user's text content as a part
	userPart := &types.TextPart{
		ID:   generateID(),
		Type: "text",
		Text: content,
	}
	if err := s.storage.Put(ctx, []string{"part", userMsg.ID, userPart.ID}, userPart); err != nil {
		return nil, nil, err
	}

	// Resolved file attachments (and any error parts standing in for files
	// that couldn't be resolved) follow the text in input order.
	for _, att := range attachments {
		switch a := att.(type) {
		case *types.FilePart:
			a.SessionID, a.MessageID = session.ID, userMsg.ID
		case *types.ErrorPart:
			a.SessionID, a.MessageID = session.ID, userMsg.ID
		}
		if err := s.SavePart(ctx, userMsg.ID, att); err != nil {
			return nil, nil, err
		}
	}

	// Use processor if available
	if s.processor != nil {
		var finalMsg *types.Message
		var finalParts []types.Part

		err := s.processor.Process(ctx, session.ID, ResolveAgent(session.AgentID), func(msg *types.Message, parts []types.Part) {
			finalMsg = msg
			finalParts = parts
			if onUpdate != nil {
				onUpdate(msg, parts)
			}
		})

		if err != nil {
			return finalMsg, finalParts, err
		}

		return finalMsg, finalParts, nil
	}

	// Fallback: Create placeholder assistant message if no processor
	assistantMsg := &types.Message{
		ID:        generateID(),
		SessionID: session.ID,
		Role:      "assistant",
		Time: types.MessageTime{
			Created: time.Now().UnixMilli(),
		},
	}

	if model != nil {
		assistantMsg.ProviderID = model.ProviderID
		assistantMsg.ModelID = model.ModelID
	}

	parts := []types.Part{
		&types.TextPart{
			ID:   generateID(),
			Type: "text",
			Text: "Processor not initialized. Please configure providers.",
		},
	}

	// Save message
	if err := s.AddMessage(ctx, session.ID, assistantMsg); err != nil {
		return nil, nil, err
	}

	// Notify of update
	if onUpdate != nil {
		onUpdate(assistantMsg, parts)
	}

	return assistantMsg, parts, nil
}

// TriggerStream starts a new turn on sessionID in the background and
// returns immediately; progress is observed through the event stream, not
// the call's result. If a turn is already in flight, the content is
// appended to the session's message queue instead (queued=true) and folded
// into a fresh turn by the processor's loop once the active turn reaches
// "stop" (see internal/session/loop.go's drainMessageQueue).
func (s *Service) TriggerStream(
	ctx context.Context,
	sess *types.Session,
	content string,
	model *types.ModelRef,
	onUpdate func(msg *types.Message, parts []types.Part),
	attachments ...types.Part,
) (queued bool, err error) {
	if s.processor != nil && s.processor.IsProcessing(sess.ID) {
		qm := types.QueuedMessage{ID: generateID(), Text: content, QueuedAt: time.Now().UnixMilli()}
		sess.MessageQueue = append(sess.MessageQueue, qm)
		if _, err := s.Update(ctx, sess.ID, map[string]any{"messageQueue": sess.MessageQueue}); err != nil {
			return false, err
		}
		return true, nil
	}

	// Detach from the caller's request context: the turn outlives the RPC
	// that started it, and aborting goes through message.abortStream.
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, _, err := s.ProcessMessage(bg, sess, content, model, onUpdate, attachments...); err != nil {
			logging.Warn().Err(err).Str("sessionID", sess.ID).Msg("background stream failed")
		}
	}()
	return false, nil
}

// generateID generates a new ULID.
func generateID() string {
	return ulid.Make().String()
}

// hashDirectory creates a project ID from a directory path.
func hashDirectory(directory string) string {
	h := sha256.New()
	h.Write([]byte(directory))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
