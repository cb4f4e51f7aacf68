package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tandem-dev/tandem/internal/rpc"
	"github.com/tandem-dev/tandem/internal/rpc/transport/wstransport"
)

func newWSTestServer(t *testing.T, catalog *rpc.Catalog) (*httptest.Server, string) {
	t.Helper()
	router := chi.NewRouter()
	wstransport.Mount(router, "/rpc/ws", catalog, &rpc.Context{})
	srv := httptest.NewServer(router)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rpc/ws"
	return srv, url
}

func TestWSClient_Call(t *testing.T) {
	catalog := rpc.NewCatalog()
	catalog.Register(&rpc.Procedure{
		Path: "echo.say",
		Kind: rpc.KindQuery,
		Resolve: func(ctx context.Context, rc *rpc.Context, input json.RawMessage) (any, error) {
			var in struct {
				Text string `json:"text"`
			}
			json.Unmarshal(input, &in)
			return map[string]string{"echo": in.Text}, nil
		},
	})

	srv, url := newWSTestServer(t, catalog)
	defer srv.Close()

	c := NewWSClient(url)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	payload, err := c.Call(ctx, "echo.say", rpc.KindQuery, map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["echo"] != "hi" {
		t.Fatalf("unexpected echo: %+v", body)
	}
}

func TestWSClient_Subscribe(t *testing.T) {
	catalog := rpc.NewCatalog()
	catalog.Register(&rpc.Procedure{
		Path: "ticks.subscribe",
		Kind: rpc.KindSubscription,
		Subscribe: func(ctx context.Context, rc *rpc.Context, input json.RawMessage) (<-chan rpc.Update, func(), error) {
			out := make(chan rpc.Update, 1)
			out <- rpc.Update{Channel: "ticks", Type: "tick", Payload: json.RawMessage(`{"n":1}`)}
			close(out)
			return out, func() {}, nil
		},
	})

	srv, url := newWSTestServer(t, catalog)
	defer srv.Close()

	c := NewWSClient(url)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	updates, err := c.Subscribe(ctx, "ticks.subscribe", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case frame := <-updates:
		if frame.Type != wstransport.FrameUpdate {
			t.Fatalf("expected update frame, got %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription update")
	}
}

func TestFrameIDAsInt64(t *testing.T) {
	if n, ok := frameIDAsInt64(float64(42)); !ok || n != 42 {
		t.Fatalf("expected 42, got %d ok=%v", n, ok)
	}
	if n, ok := frameIDAsInt64(int64(7)); !ok || n != 7 {
		t.Fatalf("expected 7, got %d ok=%v", n, ok)
	}
	if _, ok := frameIDAsInt64("not-a-number"); ok {
		t.Fatal("expected false for a non-numeric id")
	}
}
