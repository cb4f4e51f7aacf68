package wstransport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tandem-dev/tandem/internal/rpc"
)

func newTestServer(t *testing.T, catalog *rpc.Catalog) (*httptest.Server, string) {
	t.Helper()
	router := chi.NewRouter()
	Mount(router, "/rpc/ws", catalog, &rpc.Context{})
	srv := httptest.NewServer(router)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rpc/ws"
	return srv, url
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestServeConn_RequestResponse(t *testing.T) {
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

	srv, url := newTestServer(t, catalog)
	defer srv.Close()
	conn := dial(t, url)
	defer conn.Close()

	payload, _ := json.Marshal(requestPayload{Path: "echo.say", Kind: rpc.KindQuery, Input: json.RawMessage(`{"text":"hi"}`)})
	if err := conn.WriteJSON(Frame{ID: float64(1), Type: FrameRequest, Payload: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var resp Frame
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != FrameResponse {
		t.Fatalf("expected response frame, got %+v", resp)
	}
	var body map[string]string
	json.Unmarshal(resp.Payload, &body)
	if body["echo"] != "hi" {
		t.Fatalf("unexpected echo payload: %+v", body)
	}
}

func TestServeConn_SubscriptionUpdatesAndComplete(t *testing.T) {
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

	srv, url := newTestServer(t, catalog)
	defer srv.Close()
	conn := dial(t, url)
	defer conn.Close()

	payload, _ := json.Marshal(requestPayload{Path: "ticks.subscribe", Kind: rpc.KindSubscription})
	if err := conn.WriteJSON(Frame{ID: float64(7), Type: FrameRequest, Payload: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var update Frame
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update.Type != FrameUpdate {
		t.Fatalf("expected update frame, got %+v", update)
	}

	var complete Frame
	if err := conn.ReadJSON(&complete); err != nil {
		t.Fatalf("read complete: %v", err)
	}
	if complete.Type != FrameComplete {
		t.Fatalf("expected complete frame, got %+v", complete)
	}
}

func TestServeConn_UnknownPathProducesError(t *testing.T) {
	catalog := rpc.NewCatalog()
	srv, url := newTestServer(t, catalog)
	defer srv.Close()
	conn := dial(t, url)
	defer conn.Close()

	payload, _ := json.Marshal(requestPayload{Path: "nope", Kind: rpc.KindQuery})
	if err := conn.WriteJSON(Frame{ID: float64(1), Type: FrameRequest, Payload: payload}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var resp Frame
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != FrameError {
		t.Fatalf("expected error frame, got %+v", resp)
	}
}
