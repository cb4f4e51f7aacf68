package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/tandem-dev/tandem/internal/rpc"
	"github.com/tandem-dev/tandem/internal/rpc/transport/wstransport"
)

// WSReconnectInitialInterval and WSReconnectMaxInterval bound the backoff
// used between dial attempts, mirroring the exponential-backoff-with-jitter
// shape internal/session's retry loop already uses for provider calls.
const (
	WSReconnectInitialInterval = 500 * time.Millisecond
	WSReconnectMaxInterval     = 30 * time.Second
)

// WSClient is a reconnecting wstransport.Frame client: a dropped connection
// is redialed with exponential backoff, and every subscription still open
// at the time of the drop is automatically re-requested once the new
// connection is up. It does not replay events missed during the outage;
// callers that need resumable delivery thread a cursor through their
// subscription input themselves.
type WSClient struct {
	url string

	mu            sync.Mutex
	conn          *websocket.Conn
	nextID        int64
	pending       map[int64]chan wstransport.Frame
	subscriptions map[int64]subscription
}

type subscription struct {
	path  string
	input json.RawMessage
	out   chan wstransport.Frame
}

// NewWSClient creates a client bound to a server's wstransport endpoint
// URL (e.g. "ws://host/rpc/ws"). Call Connect before issuing calls.
func NewWSClient(url string) *WSClient {
	return &WSClient{
		url:           url,
		pending:       make(map[int64]chan wstransport.Frame),
		subscriptions: make(map[int64]subscription),
	}
}

// Connect dials the server and starts the background read/reconnect loop.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(ctx)
	return nil
}

// Call issues a query or mutation and waits for its response frame.
func (c *WSClient) Call(ctx context.Context, path string, kind rpc.Kind, input any) (json.RawMessage, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	id := c.nextRequestID()
	ch := make(chan wstransport.Frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	payload, _ := json.Marshal(struct {
		Path  string          `json:"path"`
		Kind  rpc.Kind        `json:"kind"`
		Input json.RawMessage `json:"input"`
	}{Path: path, Kind: kind, Input: raw})

	if err := c.send(wstransport.Frame{ID: id, Type: wstransport.FrameRequest, Payload: payload}); err != nil {
		return nil, err
	}

	select {
	case frame := <-ch:
		if frame.Type == wstransport.FrameError {
			return nil, fmt.Errorf("rpc error: %s", string(frame.Payload))
		}
		return frame.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe opens a subscription and returns its update channel. Updates
// keep arriving across a reconnect; the subscription is silently
// re-requested against the new connection.
func (c *WSClient) Subscribe(ctx context.Context, path string, input any) (<-chan wstransport.Frame, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	id := c.nextRequestID()
	out := make(chan wstransport.Frame, 16)

	c.mu.Lock()
	c.pending[id] = out
	c.subscriptions[id] = subscription{path: path, input: raw, out: out}
	c.mu.Unlock()

	if err := c.requestSubscription(id, path, raw); err != nil {
		return nil, err
	}
	return out, nil
}

// Unsubscribe tells the server to stop a subscription and stops resending
// it across future reconnects.
func (c *WSClient) Unsubscribe(id int64) error {
	c.mu.Lock()
	delete(c.subscriptions, id)
	delete(c.pending, id)
	c.mu.Unlock()
	return c.send(wstransport.Frame{ID: id, Type: wstransport.FrameUnsubscribe})
}

func (c *WSClient) requestSubscription(id int64, path string, input json.RawMessage) error {
	payload, _ := json.Marshal(struct {
		Path  string          `json:"path"`
		Kind  rpc.Kind        `json:"kind"`
		Input json.RawMessage `json:"input"`
	}{Path: path, Kind: rpc.KindSubscription, Input: input})
	return c.send(wstransport.Frame{ID: id, Type: wstransport.FrameRequest, Payload: payload})
}

func (c *WSClient) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		var frame wstransport.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		c.dispatchFrame(frame)
	}
}

// reconnect redials with exponential backoff and re-requests every still-open
// subscription. It returns false if ctx is done before a dial succeeds.
func (c *WSClient) reconnect(ctx context.Context) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = WSReconnectInitialInterval
	b.MaxInterval = WSReconnectMaxInterval
	b.MaxElapsedTime = 0 // retry until ctx is canceled
	bo := backoff.WithContext(b, ctx)

	err := backoff.Retry(func() error {
		conn, _, dialErr := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if dialErr != nil {
			return dialErr
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return nil
	}, bo)
	if err != nil {
		return false
	}

	c.mu.Lock()
	subs := make(map[int64]subscription, len(c.subscriptions))
	for id, sub := range c.subscriptions {
		subs[id] = sub
	}
	c.mu.Unlock()
	for id, sub := range subs {
		c.requestSubscription(id, sub.path, sub.input)
	}
	return true
}

func (c *WSClient) dispatchFrame(frame wstransport.Frame) {
	idInt, ok := frameIDAsInt64(frame.ID)
	if !ok {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[idInt]
	if frame.Type == wstransport.FrameComplete || frame.Type == wstransport.FrameError {
		delete(c.pending, idInt)
		delete(c.subscriptions, idInt)
	}
	c.mu.Unlock()
	if ok {
		ch <- frame
	}
}

func (c *WSClient) send(frame wstransport.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	return conn.WriteJSON(frame)
}

func (c *WSClient) nextRequestID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// frameIDAsInt64 recovers the int64 id this client assigned from the
// generic any a Frame decodes it into (json.Number/float64 after a
// round trip through JSON).
func frameIDAsInt64(id any) (int64, bool) {
	switch v := id.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
