package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestCatalog_RegisterDuplicatePanics(t *testing.T) {
	c := NewCatalog()
	c.Register(&Procedure{Path: "x", Kind: KindQuery, Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
		return nil, nil
	}})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic registering a duplicate path")
		}
	}()
	c.Register(&Procedure{Path: "x", Kind: KindQuery})
}

func TestCatalog_DispatchUnknownPath(t *testing.T) {
	catalog, rc := newTestCatalog(t)
	_, err := catalog.Dispatch(context.Background(), rc, "nope.doesNotExist", KindQuery, nil)
	if err == nil {
		t.Fatal("expected error for unknown path")
	}
}

func TestCatalog_DispatchKindMismatch(t *testing.T) {
	catalog, rc := newTestCatalog(t)
	_, err := catalog.Dispatch(context.Background(), rc, "session.getRecent", KindMutation, nil)
	if err == nil {
		t.Fatal("expected error calling a query path as a mutation")
	}
}

func TestCatalog_SessionCreateAndGet(t *testing.T) {
	catalog, rc := newTestCatalog(t)
	ctx := context.Background()

	input, _ := json.Marshal(map[string]string{"directory": "/tmp/proj", "title": "hello"})
	result, err := catalog.Dispatch(ctx, rc, "session.create", KindMutation, input)
	if err != nil {
		t.Fatalf("session.create: %v", err)
	}

	raw, _ := json.Marshal(result)
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("unmarshal created session: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a session id")
	}

	getInput, _ := json.Marshal(map[string]string{"id": created.ID})
	got, err := catalog.Dispatch(ctx, rc, "session.getById", KindQuery, getInput)
	if err != nil {
		t.Fatalf("session.getById: %v", err)
	}
	gotRaw, _ := json.Marshal(got)
	var fetched struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(gotRaw, &fetched); err != nil {
		t.Fatalf("unmarshal fetched session: %v", err)
	}
	if fetched.ID != created.ID || fetched.Title != "hello" {
		t.Fatalf("round trip mismatch: %+v", fetched)
	}
}

func TestCatalog_ConfigLoadSanitizesSecrets(t *testing.T) {
	catalog, rc := newTestCatalog(t)
	ctx := context.Background()

	result, err := catalog.Dispatch(ctx, rc, "config.load", KindQuery, nil)
	if err != nil {
		t.Fatalf("config.load: %v", err)
	}
	raw, _ := json.Marshal(result)
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if cfg["model"] != "anthropic/claude-sonnet-4" {
		t.Fatalf("expected model to survive sanitization, got %v", cfg["model"])
	}
}

func TestCatalog_EventsSubscribeDeliversLive(t *testing.T) {
	catalog, rc := newTestCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subInput, _ := json.Marshal(map[string]string{"channel": "sessions"})
	updates, unsub, err := catalog.DispatchSubscribe(ctx, rc, "events.subscribe", subInput)
	if err != nil {
		t.Fatalf("events.subscribe: %v", err)
	}
	defer unsub()

	createInput, _ := json.Marshal(map[string]string{"directory": "/tmp/proj2"})
	if _, err := catalog.Dispatch(ctx, rc, "session.create", KindMutation, createInput); err != nil {
		t.Fatalf("session.create: %v", err)
	}

	select {
	case u := <-updates:
		if u.Channel != "sessions" {
			t.Fatalf("expected sessions channel, got %s", u.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session creation event")
	}
}

func TestCatalog_BashExecute(t *testing.T) {
	catalog, rc := newTestCatalog(t)
	ctx := context.Background()

	input, _ := json.Marshal(map[string]any{"command": "echo hi", "background": true})
	result, err := catalog.Dispatch(ctx, rc, "bash.execute", KindMutation, input)
	if err != nil {
		t.Fatalf("bash.execute: %v", err)
	}
	if result == nil {
		t.Fatal("expected a non-nil result")
	}
}

func TestCatalog_PathsIncludesEveryRegisteredProcedure(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	paths := catalog.Paths()
	if len(paths) == 0 {
		t.Fatal("expected Build to register at least one procedure")
	}
	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			t.Fatalf("duplicate path in Paths(): %s", p)
		}
		seen[p] = true
	}
}

func TestCatalog_SubscribeToAllSessionsReplayLast(t *testing.T) {
	catalog, rc := newTestCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the sessions channel with a handful of persisted events.
	for i := 0; i < 5; i++ {
		if _, err := rc.Broker.Publish(ctx, "sessions", "session-created", map[string]int{"n": i}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	subInput, _ := json.Marshal(map[string]any{"replayLast": 3})
	updates, unsub, err := catalog.DispatchSubscribe(ctx, rc, "events.subscribeToAllSessions", subInput)
	if err != nil {
		t.Fatalf("events.subscribeToAllSessions: %v", err)
	}
	defer unsub()

	for i := 0; i < 3; i++ {
		select {
		case u := <-updates:
			if u.Channel != "sessions" {
				t.Fatalf("expected sessions channel, got %s", u.Channel)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for replayed event %d", i)
		}
	}

	// Replay hands over to live delivery with no gap.
	if _, err := rc.Broker.Publish(ctx, "sessions", "session-created", map[string]int{"n": 99}); err != nil {
		t.Fatalf("publish live: %v", err)
	}
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live event after replay")
	}
}

func TestCatalog_SubscribeReplayLastValidation(t *testing.T) {
	catalog, rc := newTestCatalog(t)
	ctx := context.Background()

	tooMany, _ := json.Marshal(map[string]any{"replayLast": 101})
	if _, _, err := catalog.DispatchSubscribe(ctx, rc, "events.subscribeToAllSessions", tooMany); err == nil {
		t.Fatal("expected validation error for replayLast > 100")
	}

	both, _ := json.Marshal(map[string]any{
		"sessionID":  "sess1",
		"replayLast": 5,
		"from":       map[string]int64{"timestamp": 1, "sequence": 1},
	})
	if _, _, err := catalog.DispatchSubscribe(ctx, rc, "events.subscribeToSession", both); err == nil {
		t.Fatal("expected validation error for replayLast combined with a cursor")
	}
}
