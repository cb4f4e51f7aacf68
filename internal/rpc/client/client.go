package client

import (
	"context"
	"encoding/json"

	"github.com/google/go-cmp/cmp"

	"github.com/tandem-dev/tandem/internal/rpc"
)

// UpdateMode advises a caller how to reconcile a subscription update with
// its cache: a full replacement, a delta to merge, an explicit patch, or
// auto (pick delta when cheap, value when the diff is as big as the row).
type UpdateMode string

const (
	UpdateModeValue UpdateMode = "value"
	UpdateModeDelta UpdateMode = "delta"
	UpdateModePatch UpdateMode = "patch"
	UpdateModeAuto  UpdateMode = "auto"
)

// Caller is the transport-level surface Client drives. internal/rpc/transport/inprocess
// implements this directly; a remote transport would wrap its wire calls
// behind the same two methods.
type Caller interface {
	Call(ctx context.Context, path string, kind rpc.Kind, input any) (any, error)
	Subscribe(ctx context.Context, path string, input any) (<-chan rpc.Update, func(), error)
}

// Client drives the procedure catalog through a Caller while maintaining an
// entity cache and optimistic mutation bookkeeping on top of it.
type Client struct {
	caller Caller
	cache  *Cache
}

// New binds a client to a transport-level caller and a fresh cache.
func New(caller Caller) *Client {
	return &Client{caller: caller, cache: NewCache()}
}

// Cache exposes the underlying entity cache for direct reads by views that
// don't need to trigger a fetch.
func (c *Client) Cache() *Cache { return c.cache }

// Query runs a one-shot query, optionally pruning the result with sel
// before returning it, so a caller only decodes the fields it asked for.
func (c *Client) Query(ctx context.Context, path string, input any, sel rpc.Select) (any, error) {
	result, err := c.caller.Call(ctx, path, rpc.KindQuery, input)
	if err != nil {
		return nil, err
	}
	if len(sel) == 0 {
		return result, nil
	}
	return rpc.Prune(result, sel)
}

// Mutate runs a mutation. When spec is non-nil, the entity's cache entry is
// optimistically updated before the call and reconciled afterward: on
// success the server's authoritative result replaces the draft, on failure
// the draft is discarded and the cache falls back to its last confirmed
// value.
func (c *Client) Mutate(ctx context.Context, path string, input map[string]any, spec *rpc.OptimisticSpec) (any, error) {
	var token string
	if spec != nil {
		token = c.cache.PushOptimistic(spec, input)
	}

	result, err := c.caller.Call(ctx, path, rpc.KindMutation, input)
	if err != nil {
		if spec != nil {
			c.cache.Revert(spec.Entity, spec.IDFromInput(input), token)
		}
		return nil, err
	}

	if spec != nil {
		if asMap, ok := toMap(result); ok {
			c.cache.Confirm(spec.Entity, spec.IDFromInput(input), token, asMap)
		} else {
			c.cache.Revert(spec.Entity, spec.IDFromInput(input), token)
		}
	}
	return result, nil
}

// Subscription is a live feed of reconciled updates for one subscribe call.
type Subscription struct {
	Updates <-chan ReconciledUpdate
	Cancel  func()
}

// ReconciledUpdate pairs a raw broker update with the mode a caller should
// use to fold it into its own view state.
type ReconciledUpdate struct {
	rpc.Update
	Mode UpdateMode
}

// Subscribe opens a subscription and classifies each update's reconciliation
// mode by diffing it against the previous update on the same channel: an
// update that only touches a few fields relative to the last one is tagged
// delta, a full-row replacement is tagged value.
func (c *Client) Subscribe(ctx context.Context, path string, input any) (*Subscription, error) {
	raw, cancel, err := c.caller.Subscribe(ctx, path, input)
	if err != nil {
		return nil, err
	}

	out := make(chan ReconciledUpdate, cap(raw))
	go func() {
		defer close(out)
		var prev map[string]any
		for u := range raw {
			mode, cur := classify(prev, u.Payload)
			prev = cur
			out <- ReconciledUpdate{Update: u, Mode: mode}
		}
	}()

	return &Subscription{Updates: out, Cancel: cancel}, nil
}

// classify compares the new payload against the previous one on the same
// channel via cmp.Diff and returns the advisory reconciliation mode along
// with the decoded payload for the next comparison.
func classify(prev map[string]any, payload json.RawMessage) (UpdateMode, map[string]any) {
	var cur map[string]any
	if err := json.Unmarshal(payload, &cur); err != nil {
		return UpdateModeValue, nil
	}
	if prev == nil {
		return UpdateModeValue, cur
	}
	changed := 0
	for k, v := range cur {
		if pv, ok := prev[k]; !ok || cmp.Diff(pv, v) != "" {
			changed++
		}
	}
	if len(cur) > 0 && changed*2 <= len(cur) {
		return UpdateModeDelta, cur
	}
	return UpdateModeValue, cur
}

func toMap(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}
