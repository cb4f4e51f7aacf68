package rpc

import "time"

// OptimisticSpec is attached to a session-mutating procedure so a client
// can update its entity cache before the server confirms the mutation.
// Entity + IDFromInput identify which cached row to draft; Apply computes
// the drafted value from the previous cached value (nil if not cached) and
// the call's input.
type OptimisticSpec struct {
	// Entity names the cache bucket, e.g. "session" or "todo".
	Entity string
	// IDFromInput extracts the entity id the mutation targets from the
	// decoded input map.
	IDFromInput func(input map[string]any) string
	// Apply returns the optimistically-updated draft of the entity. draft
	// may be nil if the entity was not already cached.
	Apply func(draft map[string]any, input map[string]any, at time.Time) map[string]any
}
