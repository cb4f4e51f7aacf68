package rpc

import (
	"context"
	"encoding/json"

	"github.com/tandem-dev/tandem/internal/apperror"
	"github.com/tandem-dev/tandem/internal/broker"
)

// registerEventProcedures adds the events.* group, a thin subscription
// layer over internal/broker.Broker's durable, cursor-addressable channels.
func registerEventProcedures(c *Catalog) {
	c.Register(&Procedure{
		Path: "events.subscribe",
		Kind: KindSubscription,
		Subscribe: func(ctx context.Context, rc *Context, input json.RawMessage) (<-chan Update, func(), error) {
			var in struct {
				Channel string         `json:"channel"`
				From    *broker.Cursor `json:"from,omitempty"`
			}
			if err := decode(input, &in); err != nil {
				return nil, nil, err
			}
			if in.Channel == "" {
				return nil, nil, apperror.Validation("channel is required")
			}
			return subscribeChannel(ctx, rc, in.Channel, in.From)
		},
	})

	c.Register(&Procedure{
		Path: "events.subscribeToSession",
		Kind: KindSubscription,
		Subscribe: func(ctx context.Context, rc *Context, input json.RawMessage) (<-chan Update, func(), error) {
			var in struct {
				SessionID  string         `json:"sessionID"`
				From       *broker.Cursor `json:"from,omitempty"`
				ReplayLast int            `json:"replayLast,omitempty"`
			}
			if err := decode(input, &in); err != nil {
				return nil, nil, err
			}
			if in.SessionID == "" {
				return nil, nil, apperror.Validation("sessionID is required")
			}
			if err := validateReplayLast(in.ReplayLast, in.From); err != nil {
				return nil, nil, err
			}
			if in.ReplayLast > 0 {
				return subscribeChannelWithHistory(ctx, rc, sessionChannelOf(in.SessionID), in.ReplayLast)
			}
			return subscribeChannel(ctx, rc, sessionChannelOf(in.SessionID), in.From)
		},
	})

	c.Register(&Procedure{
		Path: "events.subscribeToAllSessions",
		Kind: KindSubscription,
		Subscribe: func(ctx context.Context, rc *Context, input json.RawMessage) (<-chan Update, func(), error) {
			var in struct {
				From       *broker.Cursor `json:"from,omitempty"`
				ReplayLast int            `json:"replayLast,omitempty"`
			}
			if err := decode(input, &in); err != nil {
				return nil, nil, err
			}
			if err := validateReplayLast(in.ReplayLast, in.From); err != nil {
				return nil, nil, err
			}
			if in.ReplayLast > 0 {
				return subscribeChannelWithHistory(ctx, rc, broker.ChannelSessions, in.ReplayLast)
			}
			return subscribeChannel(ctx, rc, broker.ChannelSessions, in.From)
		},
	})

	c.Register(&Procedure{
		Path: "events.getChannelInfo",
		Kind: KindQuery,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				Channel string `json:"channel"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			info, err := rc.Broker.Info(ctx, in.Channel)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "channel info", err)
			}
			return info, nil
		},
	})

	c.Register(&Procedure{
		Path: "events.cleanupChannel",
		Kind: KindMutation,
		Resolve: func(ctx context.Context, rc *Context, input json.RawMessage) (any, error) {
			var in struct {
				Channel  string `json:"channel"`
				KeepLast int    `json:"keepLast"`
			}
			if err := decode(input, &in); err != nil {
				return nil, err
			}
			if err := rc.Broker.CleanupChannel(ctx, in.Channel, in.KeepLast); err != nil {
				return nil, apperror.Wrap(apperror.KindStorage, "cleanup channel", err)
			}
			return map[string]bool{"ok": true}, nil
		},
	})
}

// validateReplayLast bounds the replayLast parameter and rejects combining
// it with a cursor, which would make the replay boundary ambiguous.
func validateReplayLast(n int, from *broker.Cursor) error {
	if n < 0 || n > 100 {
		return apperror.Validation("replayLast must be between 0 and 100")
	}
	if n > 0 && from != nil {
		return apperror.Validation("replayLast and from are mutually exclusive")
	}
	return nil
}
