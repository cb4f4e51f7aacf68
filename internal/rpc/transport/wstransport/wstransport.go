// Package wstransport serves the procedure catalog over a single
// bidirectional WebSocket connection with JSON messages carrying a
// correlation id and a
// request|response|update|error|complete type tag. A subscription produces
// a sequence of update messages terminated by a server-sent complete or a
// client-sent unsubscribe. This transport does not replay missed events on
// reconnect; a caller that wants resumable delivery threads a cursor
// through its request input.
package wstransport

import (
	"context"
	"encoding/json"
	"sync"

	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/rpc"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// FrameType is the message's role on the wire.
type FrameType string

const (
	FrameRequest     FrameType = "request"
	FrameResponse    FrameType = "response"
	FrameUpdate      FrameType = "update"
	FrameError       FrameType = "error"
	FrameComplete    FrameType = "complete"
	FrameUnsubscribe FrameType = "unsubscribe"
)

// Frame is the single message shape both directions use.
type Frame struct {
	ID      any             `json:"id"`
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// requestPayload is a request frame's decoded payload: the path, kind, and
// input a query/mutation/subscription dispatch needs.
type requestPayload struct {
	Path  string          `json:"path"`
	Kind  rpc.Kind        `json:"kind"`
	Input json.RawMessage `json:"input"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler upgrades a connection and serves the catalog until the client
// disconnects or the request context ends.
func Handler(catalog *rpc.Catalog, rc *rpc.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		serveConn(r.Context(), conn, catalog, rc)
	}
}

// Mount registers the upgrade route at path (e.g. "/rpc/ws").
func Mount(router chi.Router, path string, catalog *rpc.Catalog, rc *rpc.Context) {
	router.Get(path, Handler(catalog, rc))
}

func serveConn(ctx context.Context, conn *websocket.Conn, catalog *rpc.Catalog, rc *rpc.Context) {
	var writeMu sync.Mutex
	write := func(f Frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}

	var cancels sync.Map // correlation id -> context.CancelFunc, for in-flight subscriptions
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}

		switch frame.Type {
		case FrameUnsubscribe:
			if cancel, ok := cancels.LoadAndDelete(frame.ID); ok {
				cancel.(context.CancelFunc)()
			}

		case FrameRequest:
			var req requestPayload
			if err := json.Unmarshal(frame.Payload, &req); err != nil {
				write(Frame{ID: frame.ID, Type: FrameError, Payload: marshalError(apperror.Validation("invalid request payload"))})
				continue
			}

			if req.Kind == rpc.KindSubscription {
				subCtx, cancel := context.WithCancel(ctx)
				cancels.Store(frame.ID, cancel)
				wg.Add(1)
				go func(id any, req requestPayload) {
					defer wg.Done()
					defer cancels.Delete(id)
					serveSubscription(subCtx, catalog, rc, id, req, write)
				}(frame.ID, req)
				continue
			}

			result, err := catalog.Dispatch(ctx, rc, req.Path, req.Kind, req.Input)
			if err != nil {
				write(Frame{ID: frame.ID, Type: FrameError, Payload: marshalError(err)})
				continue
			}
			write(Frame{ID: frame.ID, Type: FrameResponse, Payload: marshalResult(result)})
		}
	}

	cancels.Range(func(_, v any) bool {
		v.(context.CancelFunc)()
		return true
	})
}

func serveSubscription(ctx context.Context, catalog *rpc.Catalog, rc *rpc.Context, id any, req requestPayload, write func(Frame) error) {
	updates, cancel, err := catalog.DispatchSubscribe(ctx, rc, req.Path, req.Input)
	if err != nil {
		write(Frame{ID: id, Type: FrameError, Payload: marshalError(err)})
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			write(Frame{ID: id, Type: FrameComplete})
			return
		case u, ok := <-updates:
			if !ok {
				write(Frame{ID: id, Type: FrameComplete})
				return
			}
			if write(Frame{ID: id, Type: FrameUpdate, Payload: marshalResult(u)}) != nil {
				return
			}
		}
	}
}

func marshalResult(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func marshalError(err error) json.RawMessage {
	raw, merr := json.Marshal(errorPayload{Code: string(apperror.KindOf(err)), Message: err.Error()})
	if merr != nil {
		return nil
	}
	return raw
}
