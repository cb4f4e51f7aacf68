// Package broker implements the persistent, cursor-addressable event log
// that sits between producers (the orchestrator, mutations) and subscribers
// (live queries) described by the RPC event-stream catalog. Unlike the
// lightweight in-process bus in internal/event, every published event is
// written to storage before fan-out so a reconnecting client can replay
// everything after its last cursor with no gap and no duplicate.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tandem-dev/tandem/internal/storage"
)

// Well-known channel names used across the system. Channel matching is
// exact at this layer; routing by prefix (e.g. "session:{id}") is a
// convention of the caller, not a broker feature.
const (
	ChannelSessions = "sessions"
	ChannelBashAll  = "bash:all"
)

// SessionChannel returns the per-session model-update channel name.
func SessionChannel(sessionID string) string { return "session:" + sessionID }

// SessionStreamChannel returns the fine-grained streaming channel for a session.
func SessionStreamChannel(sessionID string) string { return "session-stream:" + sessionID }

// MessageChannel returns the per-message part-update channel name.
func MessageChannel(messageID string) string { return "message:" + messageID }

// Cursor identifies a position in a channel's event log.
type Cursor struct {
	Timestamp int64 `json:"timestamp"`
	Sequence  int64 `json:"sequence"`
}

// Before reports whether c occurs strictly before other.
func (c Cursor) Before(other Cursor) bool {
	if c.Timestamp != other.Timestamp {
		return c.Timestamp < other.Timestamp
	}
	return c.Sequence < other.Sequence
}

// Event is one entry in the broker's append-only log.
type Event struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"`
}

// Cursor returns the event's position in its channel.
func (e Event) Cursor() Cursor { return Cursor{Timestamp: e.Timestamp, Sequence: e.Sequence} }

// subscriberBufferSize is the bounded per-subscriber buffer; a subscriber
// that cannot keep up is dropped rather than allowed to block publish.
const subscriberBufferSize = 50

type subscriber struct {
	ch     chan Event
	cancel func()
}

type channelState struct {
	mu        sync.Mutex
	seq       int64
	lastTS    int64
	subs      map[*subscriber]struct{}
	seqLoaded bool
}

// Broker is the durable, channel-addressable event log.
type Broker struct {
	storage *storage.Storage

	mu       sync.Mutex
	channels map[string]*channelState
}

// New creates a Broker backed by the given storage for persistence.
func New(store *storage.Storage) *Broker {
	return &Broker{
		storage:  store,
		channels: make(map[string]*channelState),
	}
}

func (b *Broker) state(channel string) *channelState {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.channels[channel]
	if !ok {
		cs = &channelState{subs: make(map[*subscriber]struct{})}
		b.channels[channel] = cs
	}
	return cs
}

func eventPath(channel string, sequence int64) []string {
	// Zero-padded so lexicographic file-name order matches sequence order.
	return []string{"events", channel, fmt.Sprintf("%020d", sequence)}
}

// loadLastSequence scans storage for the highest persisted sequence on a
// channel. Called once per channel, lazily, the first time it is touched
// by this broker instance.
func (b *Broker) loadLastSequence(ctx context.Context, channel string) (int64, error) {
	keys, err := b.storage.List(ctx, []string{"events", channel})
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	var max int64
	for _, k := range keys {
		n, err := strconv.ParseInt(strings.TrimSuffix(k, ".json"), 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

func (cs *channelState) ensureSeqLoaded(ctx context.Context, b *Broker, channel string) error {
	if cs.seqLoaded {
		return nil
	}
	last, err := b.loadLastSequence(ctx, channel)
	if err != nil {
		return err
	}
	cs.seq = last
	cs.seqLoaded = true
	return nil
}

// Publish appends one event to the channel's log, persists it, and fans it
// out to every live subscriber on a best-effort basis. The returned event
// carries the assigned id and cursor.
func (b *Broker) Publish(ctx context.Context, channel, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload: %w", err)
	}

	cs := b.state(channel)
	cs.mu.Lock()
	if err := cs.ensureSeqLoaded(ctx, b, channel); err != nil {
		cs.mu.Unlock()
		return Event{}, err
	}

	now := time.Now().UnixMilli()
	cs.seq++
	ts := now
	if ts < cs.lastTS {
		// Clock went backwards relative to the last publish; keep the
		// cursor strictly increasing by pinning to the previous timestamp.
		ts = cs.lastTS
	}
	cs.lastTS = ts

	ev := Event{
		ID:        ulid.Make().String(),
		Channel:   channel,
		Type:      eventType,
		Timestamp: ts,
		Sequence:  cs.seq,
		Payload:   raw,
		CreatedAt: now,
	}

	subs := make([]*subscriber, 0, len(cs.subs))
	for s := range cs.subs {
		subs = append(subs, s)
	}
	cs.mu.Unlock()

	if err := b.storage.Put(ctx, eventPath(channel, ev.Sequence), ev); err != nil {
		return Event{}, fmt.Errorf("persist event: %w", err)
	}

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			// Overflow: drop this slow subscriber; it must resubscribe
			// with its last cursor to resume.
			b.dropSubscriber(channel, s)
		}
	}

	return ev, nil
}

func (b *Broker) dropSubscriber(channel string, s *subscriber) {
	cs := b.state(channel)
	cs.mu.Lock()
	if _, ok := cs.subs[s]; ok {
		delete(cs.subs, s)
		close(s.ch)
	}
	cs.mu.Unlock()
}

func (b *Broker) replay(ctx context.Context, channel string, after Cursor) ([]Event, error) {
	keys, err := b.storage.List(ctx, []string{"events", channel})
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(keys)

	var out []Event
	for _, k := range keys {
		var ev Event
		if err := b.storage.Get(ctx, []string{"events", channel, strings.TrimSuffix(k, ".json")}, &ev); err != nil {
			continue
		}
		if after != (Cursor{}) && !after.Before(ev.Cursor()) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscribe returns a channel of events for the given broker channel. If
// fromCursor is non-nil, every persisted event strictly after the cursor is
// delivered first, then the subscription transitions to live events with no
// gap and no duplicate. The returned cancel function must be called when the
// caller is done to release the subscriber slot.
func (b *Broker) Subscribe(ctx context.Context, channel string, fromCursor *Cursor) (<-chan Event, func(), error) {
	cs := b.state(channel)

	cs.mu.Lock()
	if err := cs.ensureSeqLoaded(ctx, b, channel); err != nil {
		cs.mu.Unlock()
		return nil, nil, err
	}
	baseline := cs.seq
	sub := &subscriber{ch: make(chan Event, subscriberBufferSize)}
	cs.subs[sub] = struct{}{}
	cs.mu.Unlock()

	out := make(chan Event, subscriberBufferSize)
	done := make(chan struct{})
	sub.cancel = func() { close(done) }

	go func() {
		defer close(out)

		if fromCursor != nil {
			history, err := b.replay(ctx, channel, *fromCursor)
			if err == nil {
				for _, ev := range history {
					if ev.Sequence > baseline {
						break
					}
					select {
					case out <- ev:
					case <-done:
						b.dropSubscriber(channel, sub)
						return
					case <-ctx.Done():
						b.dropSubscriber(channel, sub)
						return
					}
				}
			}
		}

		for {
			select {
			case ev, ok := <-sub.ch:
				if !ok {
					return
				}
				if ev.Sequence <= baseline {
					// Already delivered during replay.
					continue
				}
				select {
				case out <- ev:
				case <-done:
					b.dropSubscriber(channel, sub)
					return
				case <-ctx.Done():
					b.dropSubscriber(channel, sub)
					return
				}
			case <-done:
				b.dropSubscriber(channel, sub)
				return
			case <-ctx.Done():
				b.dropSubscriber(channel, sub)
				return
			}
		}
	}()

	cancel := func() {
		sub.cancel()
	}
	return out, cancel, nil
}

// SubscribeWithHistory fetches the most recent n persisted events on a
// channel, yields them in order, then continues with live events.
func (b *Broker) SubscribeWithHistory(ctx context.Context, channel string, n int) (<-chan Event, func(), error) {
	if n <= 0 {
		return b.Subscribe(ctx, channel, nil)
	}
	all, err := b.replay(ctx, channel, Cursor{})
	if err != nil {
		return nil, nil, err
	}
	var from Cursor
	if len(all) > n {
		from = all[len(all)-n-1].Cursor()
	}
	return b.Subscribe(ctx, channel, &from)
}

// ChannelInfo summarizes a channel's subscriber and persistence state.
type ChannelInfo struct {
	Channel           string `json:"channel"`
	LiveSubscribers   int    `json:"liveSubscribers"`
	PersistedCount    int    `json:"persistedCount"`
	FirstEventID      string `json:"firstEventId,omitempty"`
	LastEventID       string `json:"lastEventId,omitempty"`
}

// Info reports the live subscriber count, persisted count, and first/last
// event ids for a channel.
func (b *Broker) Info(ctx context.Context, channel string) (ChannelInfo, error) {
	cs := b.state(channel)
	cs.mu.Lock()
	liveCount := len(cs.subs)
	cs.mu.Unlock()

	events, err := b.replay(ctx, channel, Cursor{})
	if err != nil {
		return ChannelInfo{}, err
	}
	info := ChannelInfo{Channel: channel, LiveSubscribers: liveCount, PersistedCount: len(events)}
	if len(events) > 0 {
		info.FirstEventID = events[0].ID
		info.LastEventID = events[len(events)-1].ID
	}
	return info, nil
}

// CleanupChannel deletes all but the most recent keepLast persisted events
// on a channel. It has no effect on in-memory subscriber buffers.
func (b *Broker) CleanupChannel(ctx context.Context, channel string, keepLast int) error {
	events, err := b.replay(ctx, channel, Cursor{})
	if err != nil {
		return err
	}
	if keepLast < 0 {
		keepLast = 0
	}
	if len(events) <= keepLast {
		return nil
	}
	toDelete := events[:len(events)-keepLast]
	for _, ev := range toDelete {
		if err := b.storage.Delete(ctx, eventPath(channel, ev.Sequence)); err != nil {
			return err
		}
	}
	return nil
}
