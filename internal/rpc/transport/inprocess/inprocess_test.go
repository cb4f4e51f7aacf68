package inprocess

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tandem-dev/tandem/internal/rpc"
)

func TestTransport_CallRoundTrips(t *testing.T) {
	catalog := rpc.NewCatalog()
	catalog.Register(&rpc.Procedure{
		Path: "echo.say",
		Kind: rpc.KindQuery,
		Resolve: func(ctx context.Context, rc *rpc.Context, input json.RawMessage) (any, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}
			return map[string]string{"echo": in.Text}, nil
		},
	})

	tr := New(catalog, &rpc.Context{})
	result, err := tr.Call(context.Background(), "echo.say", rpc.KindQuery, map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	m, ok := result.(map[string]string)
	if !ok || m["echo"] != "hi" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTransport_SubscribeStreamsUpdates(t *testing.T) {
	catalog := rpc.NewCatalog()
	catalog.Register(&rpc.Procedure{
		Path: "echo.stream",
		Kind: rpc.KindSubscription,
		Subscribe: func(ctx context.Context, rc *rpc.Context, input json.RawMessage) (<-chan rpc.Update, func(), error) {
			out := make(chan rpc.Update, 1)
			out <- rpc.Update{Channel: "echo", Type: "tick", Payload: json.RawMessage(`{"n":1}`)}
			close(out)
			return out, func() {}, nil
		},
	})

	tr := New(catalog, &rpc.Context{})
	updates, cancel, err := tr.Subscribe(context.Background(), "echo.stream", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	u, ok := <-updates
	if !ok {
		t.Fatal("expected an update")
	}
	if u.Type != "tick" {
		t.Fatalf("unexpected update: %+v", u)
	}
}

func TestTransport_CallUnknownPath(t *testing.T) {
	tr := New(rpc.NewCatalog(), &rpc.Context{})
	_, err := tr.Call(context.Background(), "nope", rpc.KindQuery, nil)
	if err == nil {
		t.Fatal("expected error for unknown path")
	}
}
