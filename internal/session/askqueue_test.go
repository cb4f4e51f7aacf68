package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskQueue_AskAndAnswer(t *testing.T) {
	q := NewAskQueue()

	req := q.Ask("sess1", "msg1", "call1", "which file?", []string{"a.go", "b.go"})
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "sess1", req.SessionID)
	assert.Len(t, q.Pending("sess1"), 1)

	done := make(chan struct{})
	var answer string
	var waitErr error
	go func() {
		answer, waitErr = q.Wait(context.Background(), req.ID)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	resp, err := q.Answer("sess1", req.ID, "a.go")
	require.NoError(t, err)
	assert.Equal(t, "a.go", resp.Answer)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Wait to unblock")
	}
	require.NoError(t, waitErr)
	assert.Equal(t, "a.go", answer)
	assert.Empty(t, q.Pending("sess1"))
}

func TestAskQueue_AnswerWrongSession(t *testing.T) {
	q := NewAskQueue()
	req := q.Ask("sess1", "msg1", "call1", "q", nil)

	_, err := q.Answer("sess2", req.ID, "nope")
	assert.Error(t, err)
}

func TestAskQueue_AnswerTwice(t *testing.T) {
	q := NewAskQueue()
	req := q.Ask("sess1", "msg1", "call1", "q", nil)

	_, err := q.Answer("sess1", req.ID, "first")
	require.NoError(t, err)

	_, err = q.Answer("sess1", req.ID, "second")
	assert.Error(t, err)
}

func TestAskQueue_ClearAbortsWaiters(t *testing.T) {
	q := NewAskQueue()
	req := q.Ask("sess1", "msg1", "call1", "q", nil)

	done := make(chan error, 1)
	go func() {
		_, err := q.Wait(context.Background(), req.ID)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Clear("sess1")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAskAborted)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Clear to abort Wait")
	}
	assert.Empty(t, q.Pending("sess1"))
}

func TestAskQueue_WaitUnknownRequest(t *testing.T) {
	q := NewAskQueue()
	_, err := q.Wait(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestAskQueue_WaitContextCanceled(t *testing.T) {
	q := NewAskQueue()
	req := q.Ask("sess1", "msg1", "call1", "q", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Wait(ctx, req.ID)
	assert.ErrorIs(t, err, context.Canceled)
}
