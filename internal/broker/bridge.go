package broker

import (
	"context"

	"github.com/tandem-dev/tandem/internal/event"
)

// BridgeFromEventBus subscribes to every event on the process-wide typed
// bus (internal/event) and republishes it onto the durable, cursor-
// addressable channel log, keyed by the channel naming convention in the
// RPC event-stream catalog. The typed bus remains the low-latency,
// in-process fan-out used by existing SSE endpoints; the broker is the
// replay-capable layer behind the events.subscribe* RPC group. Returns an
// unsubscribe function.
func BridgeFromEventBus(b *Broker) func() {
	return event.SubscribeAll(func(e event.Event) {
		ctx := context.Background()
		for _, route := range routesFor(e) {
			_, _ = b.Publish(ctx, route.channel, route.eventType, e.Data)
		}
	})
}

type route struct {
	channel   string
	eventType string
}

// routesFor maps one typed-bus event onto the broker channel(s) it belongs
// on, per the channel catalog in the event-stream broker's contract.
func routesFor(e event.Event) []route {
	switch e.Type {
	case event.SessionCreated:
		return []route{{ChannelSessions, "session-created"}}
	case event.SessionDeleted:
		if d, ok := e.Data.(event.SessionDeletedData); ok && d.Info != nil {
			return []route{
				{ChannelSessions, "session-deleted"},
				{SessionChannel(d.Info.ID), "session-deleted"},
			}
		}
		return []route{{ChannelSessions, "session-deleted"}}
	case event.SessionUpdated:
		if d, ok := e.Data.(event.SessionUpdatedData); ok && d.Info != nil {
			return []route{{SessionChannel(d.Info.ID), "session-updated"}}
		}
	case event.SessionCompacted:
		return []route{{ChannelSessions, "session-compacted"}}
	case event.SessionStatus:
		if d, ok := e.Data.(event.SessionStatusData); ok {
			return []route{{SessionStreamChannel(d.SessionID), "session-status"}}
		}
	case event.SessionTokens:
		if d, ok := e.Data.(event.SessionTokensData); ok {
			return []route{{SessionStreamChannel(d.SessionID), "session-tokens-updated"}}
		}
	case event.MessageCreated:
		if d, ok := e.Data.(event.MessageCreatedData); ok && d.Info != nil {
			kind := "assistant-message-created"
			if d.Info.Role == "user" {
				kind = "user-message-created"
			}
			return []route{{SessionStreamChannel(d.Info.SessionID), kind}}
		}
	case event.MessageUpdated:
		if d, ok := e.Data.(event.MessageUpdatedData); ok && d.Info != nil {
			return []route{{SessionStreamChannel(d.Info.SessionID), "message-updated"}}
		}
	case event.MessagePartUpdated, event.PartUpdated:
		if d, ok := e.Data.(event.MessagePartUpdatedData); ok && d.Part != nil {
			return []route{
				{SessionStreamChannel(d.Part.PartSessionID()), "part-updated"},
				{MessageChannel(d.Part.PartMessageID()), "part-updated"},
			}
		}
	case event.TodoUpdated:
		if d, ok := e.Data.(event.TodoUpdatedData); ok {
			return []route{{SessionStreamChannel(d.SessionID), "todo-updated"}}
		}
		if d, ok := e.Data.(map[string]any); ok {
			if sid, ok := d["sessionID"].(string); ok {
				return []route{{SessionStreamChannel(sid), "todo-updated"}}
			}
		}
	case event.StepCreated:
		if d, ok := e.Data.(event.StepCreatedData); ok && d.Info != nil {
			return []route{{SessionStreamChannel(d.Info.SessionID), "step-created"}}
		}
	case event.StepUpdated:
		if d, ok := e.Data.(event.StepUpdatedData); ok && d.Info != nil {
			return []route{{SessionStreamChannel(d.Info.SessionID), "step-updated"}}
		}
	case event.BashProcessUpdated:
		return []route{{ChannelBashAll, "bash-process-updated"}}
	case event.QueueCleared:
		if d, ok := e.Data.(event.QueueClearedData); ok {
			return []route{{SessionStreamChannel(d.SessionID), "queue-cleared"}}
		}
	}
	return nil
}
