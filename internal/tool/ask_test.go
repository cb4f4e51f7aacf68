package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandem-dev/tandem/pkg/types"
)

// fakeAskBackend is a minimal AskBackend double so this package's tests
// don't need to import internal/session (which would cycle back here).
type fakeAskBackend struct {
	answer  string
	waitErr error
	asked   types.AskRequest
}

func (f *fakeAskBackend) Ask(sessionID, messageID, callID, question string, options []string) types.AskRequest {
	f.asked = types.AskRequest{
		ID:        "req1",
		SessionID: sessionID,
		MessageID: messageID,
		CallID:    callID,
		Question:  question,
		Options:   options,
	}
	return f.asked
}

func (f *fakeAskBackend) Wait(ctx context.Context, requestID string) (string, error) {
	if f.waitErr != nil {
		return "", f.waitErr
	}
	return f.answer, nil
}

func TestAskTool_Execute(t *testing.T) {
	backend := &fakeAskBackend{answer: "go with option A"}
	askTool := NewAskTool(backend)

	input, _ := json.Marshal(AskInput{Question: "which approach?", Options: []string{"A", "B"}})
	result, err := askTool.Execute(context.Background(), input, &Context{SessionID: "s1", MessageID: "m1", CallID: "c1"})

	require.NoError(t, err)
	assert.Equal(t, "go with option A", result.Output)
	assert.Equal(t, "s1", backend.asked.SessionID)
	assert.Equal(t, "which approach?", backend.asked.Question)
	assert.Equal(t, "req1", result.Metadata["requestID"])
}

func TestAskTool_Execute_MissingQuestion(t *testing.T) {
	backend := &fakeAskBackend{}
	askTool := NewAskTool(backend)

	input, _ := json.Marshal(AskInput{})
	_, err := askTool.Execute(context.Background(), input, &Context{})
	assert.Error(t, err)
}

func TestAskTool_Execute_WaitError(t *testing.T) {
	backend := &fakeAskBackend{waitErr: errors.New("aborted")}
	askTool := NewAskTool(backend)

	input, _ := json.Marshal(AskInput{Question: "q"})
	_, err := askTool.Execute(context.Background(), input, &Context{})
	assert.Error(t, err)
}

func TestAskTool_Execute_AbortChCancelsWait(t *testing.T) {
	abortCh := make(chan struct{})
	backend := &blockingAskBackend{unblock: make(chan struct{})}
	askTool := NewAskTool(backend)

	input, _ := json.Marshal(AskInput{Question: "q"})
	done := make(chan error, 1)
	go func() {
		_, err := askTool.Execute(context.Background(), input, &Context{AbortCh: abortCh})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	close(abortCh)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for abort to unblock Execute")
	}
}

// blockingAskBackend's Wait blocks until the context is canceled, mimicking
// a real queue waiting on an answer that never arrives.
type blockingAskBackend struct {
	unblock chan struct{}
}

func (b *blockingAskBackend) Ask(sessionID, messageID, callID, question string, options []string) types.AskRequest {
	return types.AskRequest{ID: "req1", SessionID: sessionID, Question: question}
}

func (b *blockingAskBackend) Wait(ctx context.Context, requestID string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.unblock:
		return "", nil
	}
}
