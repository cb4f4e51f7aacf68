package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tandem-dev/tandem/internal/event"
	"github.com/tandem-dev/tandem/pkg/types"
)

// ErrAskAborted is returned by Wait when the question's session is cleared
// (session delete or session.compact) before it was answered.
var ErrAskAborted = fmt.Errorf("ask aborted: session cleared before an answer arrived")

// pendingAsk tracks one outstanding question raised by the ask tool. done is
// closed exactly once, either by Answer or by Clear.
type pendingAsk struct {
	request types.AskRequest
	done    chan struct{}
	answer  string
	aborted bool
}

// AskQueue holds the in-flight questions the ask tool has raised, keyed by
// session. A tool call blocks in Wait until a matching message.answerAsk
// mutation calls Answer, or the session is cleared and the call unblocks
// with ErrAskAborted.
type AskQueue struct {
	mu      sync.Mutex
	pending map[string]*pendingAsk // requestID -> pendingAsk
	bySess  map[string][]string    // sessionID -> requestIDs, in creation order

	// status is consulted (optional; nil-safe) so a raised question marks
	// its session as waiting on the user rather than still "thinking".
	status *StatusTracker
}

// NewAskQueue creates an empty ask queue.
func NewAskQueue() *AskQueue {
	return &AskQueue{
		pending: make(map[string]*pendingAsk),
		bySess:  make(map[string][]string),
	}
}

// SetStatusTracker wires the status tracker the queue reports into.
func (q *AskQueue) SetStatusTracker(s *StatusTracker) {
	q.status = s
}

// Ask registers a new pending question and returns the request record. The
// ask.created event is published immediately so clients render the prompt;
// callers use Wait to block on the matching answer.
func (q *AskQueue) Ask(sessionID, messageID, callID, question string, options []string) types.AskRequest {
	req := types.AskRequest{
		ID:        generateID(),
		SessionID: sessionID,
		MessageID: messageID,
		CallID:    callID,
		Question:  question,
		Options:   options,
		CreatedAt: time.Now().UnixMilli(),
	}

	q.mu.Lock()
	q.pending[req.ID] = &pendingAsk{request: req, done: make(chan struct{})}
	q.bySess[sessionID] = append(q.bySess[sessionID], req.ID)
	q.mu.Unlock()

	event.Publish(event.Event{
		Type: event.AskCreated,
		Data: event.AskCreatedData{Info: &req},
	})

	if q.status != nil {
		q.status.WaitingAsk(sessionID)
	}

	return req
}

// Wait blocks until requestID is answered or cleared, or ctx is canceled.
func (q *AskQueue) Wait(ctx context.Context, requestID string) (string, error) {
	q.mu.Lock()
	ask, ok := q.pending[requestID]
	q.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("ask %q not found", requestID)
	}

	select {
	case <-ask.done:
		if ask.aborted {
			return "", ErrAskAborted
		}
		return ask.answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Answer resolves a pending question. It is the mutation-side entry point
// for message.answerAsk.
func (q *AskQueue) Answer(sessionID, requestID, answer string) (types.AskResponse, error) {
	q.mu.Lock()
	ask, ok := q.pending[requestID]
	if !ok || ask.request.SessionID != sessionID {
		q.mu.Unlock()
		return types.AskResponse{}, fmt.Errorf("no pending ask %q for session %q", requestID, sessionID)
	}
	select {
	case <-ask.done:
		q.mu.Unlock()
		return types.AskResponse{}, fmt.Errorf("ask %q already resolved", requestID)
	default:
	}
	ask.answer = answer
	close(ask.done)
	delete(q.pending, requestID)
	q.removeFromSess(sessionID, requestID)
	q.mu.Unlock()

	resp := types.AskResponse{RequestID: requestID, Answer: answer, AnsweredAt: time.Now().UnixMilli()}
	event.Publish(event.Event{
		Type: event.AskAnswered,
		Data: event.AskAnsweredData{Info: &resp},
	})
	return resp, nil
}

// Pending returns the still-unanswered requests for a session, oldest first.
func (q *AskQueue) Pending(sessionID string) []types.AskRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.bySess[sessionID]
	out := make([]types.AskRequest, 0, len(ids))
	for _, id := range ids {
		if ask, ok := q.pending[id]; ok {
			out = append(out, ask.request)
		}
	}
	return out
}

// Clear aborts every pending question for a session, unblocking their
// Wait callers with ErrAskAborted. Called on session delete and
// session.compact.
func (q *AskQueue) Clear(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.bySess[sessionID] {
		ask, ok := q.pending[id]
		if !ok {
			continue
		}
		select {
		case <-ask.done:
		default:
			ask.aborted = true
			close(ask.done)
		}
		delete(q.pending, id)
	}
	delete(q.bySess, sessionID)
}

// removeFromSess drops requestID from the per-session order slice. Callers
// must hold q.mu.
func (q *AskQueue) removeFromSess(sessionID, requestID string) {
	ids := q.bySess[sessionID]
	for i, id := range ids {
		if id == requestID {
			q.bySess[sessionID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}
