package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tandem-dev/tandem/internal/rpc"
)

type fakeCaller struct {
	callResult any
	callErr    error
	lastPath   string
	lastKind   rpc.Kind
	lastInput  any

	subUpdates []rpc.Update
	subErr     error
	canceled   bool
}

func (f *fakeCaller) Call(ctx context.Context, path string, kind rpc.Kind, input any) (any, error) {
	f.lastPath = path
	f.lastKind = kind
	f.lastInput = input
	return f.callResult, f.callErr
}

func (f *fakeCaller) Subscribe(ctx context.Context, path string, input any) (<-chan rpc.Update, func(), error) {
	if f.subErr != nil {
		return nil, nil, f.subErr
	}
	out := make(chan rpc.Update, len(f.subUpdates))
	for _, u := range f.subUpdates {
		out <- u
	}
	close(out)
	return out, func() { f.canceled = true }, nil
}

func TestClient_Query(t *testing.T) {
	caller := &fakeCaller{callResult: map[string]any{"id": "s1", "title": "hello"}}
	c := New(caller)

	result, err := c.Query(context.Background(), "session.getById", map[string]string{"id": "s1"}, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if caller.lastKind != rpc.KindQuery {
		t.Fatalf("expected KindQuery, got %s", caller.lastKind)
	}
	m := result.(map[string]any)
	if m["title"] != "hello" {
		t.Fatalf("unexpected result: %+v", m)
	}
}

func TestClient_QueryWithSelect(t *testing.T) {
	caller := &fakeCaller{callResult: map[string]any{"id": "s1", "title": "hello"}}
	c := New(caller)

	result, err := c.Query(context.Background(), "session.getById", nil, rpc.Select{"id": true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	m := result.(map[string]any)
	if _, ok := m["title"]; ok {
		t.Fatalf("expected title pruned, got %+v", m)
	}
	if m["id"] != "s1" {
		t.Fatalf("expected id to survive, got %+v", m)
	}
}

func TestClient_QueryError(t *testing.T) {
	caller := &fakeCaller{callErr: errors.New("boom")}
	c := New(caller)
	_, err := c.Query(context.Background(), "session.getById", nil, nil)
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestClient_MutateConfirmsOptimisticDraft(t *testing.T) {
	caller := &fakeCaller{callResult: map[string]any{"id": "s1", "title": "confirmed"}}
	c := New(caller)
	spec := testSpec()

	input := map[string]any{"id": "s1", "title": "draft"}
	result, err := c.Mutate(context.Background(), "session.updateTitle", input, spec)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if caller.lastKind != rpc.KindMutation {
		t.Fatalf("expected KindMutation, got %s", caller.lastKind)
	}
	_ = result

	v, ok := c.Cache().Get("session", "s1")
	if !ok || v["title"] != "confirmed" {
		t.Fatalf("expected cache to hold the confirmed result, got %+v", v)
	}
}

func TestClient_MutateRevertsOnError(t *testing.T) {
	caller := &fakeCaller{callErr: errors.New("boom")}
	c := New(caller)
	spec := testSpec()

	c.Cache().Put("session", "s1", map[string]any{"title": "original"})
	input := map[string]any{"id": "s1", "title": "draft"}
	_, err := c.Mutate(context.Background(), "session.updateTitle", input, spec)
	if err == nil {
		t.Fatal("expected error to propagate")
	}

	v, ok := c.Cache().Get("session", "s1")
	if !ok || v["title"] != "original" {
		t.Fatalf("expected cache reverted to original, got %+v", v)
	}
}

func TestClient_SubscribeClassifiesFirstUpdateAsValue(t *testing.T) {
	caller := &fakeCaller{subUpdates: []rpc.Update{
		{Channel: "session:s1", Type: "session-updated", Payload: json.RawMessage(`{"title":"a","version":1}`)},
	}}
	c := New(caller)

	sub, err := c.Subscribe(context.Background(), "session.getById", map[string]string{"id": "s1"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case u := <-sub.Updates:
		if u.Mode != UpdateModeValue {
			t.Fatalf("expected first update to classify as value, got %s", u.Mode)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
	sub.Cancel()
	if !caller.canceled {
		t.Fatal("expected cancel to propagate to the caller's subscription")
	}
}

func TestClient_SubscribeClassifiesSmallChangeAsDelta(t *testing.T) {
	caller := &fakeCaller{subUpdates: []rpc.Update{
		{Channel: "session:s1", Type: "session-updated", Payload: json.RawMessage(`{"a":1,"b":2,"c":3,"d":4}`)},
		{Channel: "session:s1", Type: "session-updated", Payload: json.RawMessage(`{"a":1,"b":2,"c":3,"d":5}`)},
	}}
	c := New(caller)

	sub, err := c.Subscribe(context.Background(), "session.getById", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first := <-sub.Updates
	if first.Mode != UpdateModeValue {
		t.Fatalf("expected first update as value, got %s", first.Mode)
	}
	second := <-sub.Updates
	if second.Mode != UpdateModeDelta {
		t.Fatalf("expected second update as delta, got %s", second.Mode)
	}
}

func TestClient_SubscribeError(t *testing.T) {
	caller := &fakeCaller{subErr: errors.New("no such channel")}
	c := New(caller)
	_, err := c.Subscribe(context.Background(), "session.getById", nil)
	if err == nil {
		t.Fatal("expected subscribe error to propagate")
	}
}
