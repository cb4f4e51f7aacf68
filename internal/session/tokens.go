package session

import (
	"github.com/cloudwego/eino/schema"

	"github.com/tandem-dev/tandem/internal/event"
)

// tokenPublishEvery throttles live token events to one per N text deltas,
// mirroring the part-updated cadence.
const tokenPublishEvery = 10

// tokenTracker folds streamed text deltas into a live token estimate for
// the in-flight turn and publishes session.tokens.updated as the totals
// move. The delta-based figure is an estimate; the provider's authoritative
// usage replaces it at the end of each step via Fold.
type tokenTracker struct {
	sessionID string
	base      int // base context: system prompt + tool descriptions
	total     int // session total as of the last finished step
	live      int // estimated tokens streamed since then
	pending   int // deltas since the last publish
}

func newTokenTracker(sessionID string, base, total int) *tokenTracker {
	return &tokenTracker{sessionID: sessionID, base: base, total: total}
}

// AddText folds one streamed text delta into the live estimate, publishing
// every tokenPublishEvery deltas.
func (t *tokenTracker) AddText(delta string) {
	if t == nil || delta == "" {
		return
	}
	t.live += estimateTokens(delta)
	t.pending++
	if t.pending >= tokenPublishEvery {
		t.publish()
	}
}

// Fold replaces the live estimate with the provider's authoritative usage
// for the finished step, advances the running session total, and publishes
// the new figure. Returns the updated total.
func (t *tokenTracker) Fold(usage int) int {
	t.total += usage
	t.live = 0
	t.publish()
	return t.total
}

// Total returns the current session total including the live estimate.
func (t *tokenTracker) Total() int {
	return t.total + t.live
}

func (t *tokenTracker) publish() {
	t.pending = 0
	event.Publish(event.Event{
		Type: event.SessionTokens,
		Data: event.SessionTokensData{
			SessionID:         t.sessionID,
			TotalTokens:       t.Total(),
			BaseContextTokens: t.base,
		},
	})
}

// estimateBaseContextTokens approximates the fixed per-request overhead:
// the system prompt sections plus every tool's name and description.
func estimateBaseContextTokens(sysParts []string, tools []*schema.ToolInfo) int {
	n := 0
	for _, part := range sysParts {
		n += estimateTokens(part)
	}
	for _, tool := range tools {
		n += estimateTokens(tool.Name) + estimateTokens(tool.Desc)
	}
	return n
}
