package rpc

import (
	"context"

	"github.com/tandem-dev/tandem/internal/broker"
)

// sessionChannelOf is a thin alias so catalog files don't need to import
// internal/broker directly for the common "subscribe to one session's
// stream channel" case.
func sessionChannelOf(sessionID string) string {
	return broker.SessionStreamChannel(sessionID)
}

// subscribeChannel adapts a broker.Broker subscription onto the rpc.Update
// shape shared by every subscription resolver. When from is set, storage is
// replayed from strictly after the cursor before live delivery begins.
func subscribeChannel(ctx context.Context, rc *Context, channel string, from *broker.Cursor) (<-chan Update, func(), error) {
	events, cancelSub, err := rc.Broker.Subscribe(ctx, channel, from)
	if err != nil {
		return nil, nil, err
	}
	out, cancel := pumpUpdates(ctx, events, cancelSub)
	return out, cancel, nil
}

// subscribeChannelWithHistory is the bounded-count variant: the most recent
// n persisted events are replayed in order, then delivery continues live.
func subscribeChannelWithHistory(ctx context.Context, rc *Context, channel string, n int) (<-chan Update, func(), error) {
	events, cancelSub, err := rc.Broker.SubscribeWithHistory(ctx, channel, n)
	if err != nil {
		return nil, nil, err
	}
	out, cancel := pumpUpdates(ctx, events, cancelSub)
	return out, cancel, nil
}

// pumpUpdates forwards broker events onto an Update channel. The returned
// channel is closed when the broker subscription ends (context canceled or
// the returned cancel func is called); it never blocks the broker's fan-out
// goroutine since it pumps through its own small buffer.
func pumpUpdates(ctx context.Context, events <-chan broker.Event, cancelSub func()) (<-chan Update, func()) {
	out := make(chan Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				out <- Update{
					Channel: e.Channel,
					Type:    e.Type,
					Cursor:  e.Cursor(),
					Payload: e.Payload,
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		cancelSub()
		close(done)
	}
	return out, cancel
}
