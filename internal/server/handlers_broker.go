package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tandem-dev/tandem/internal/broker"
)

// brokerSSEEvent is the wire shape for one frame of a broker subscription:
// one event per message carrying {id, cursor, channel, type, timestamp,
// payload}. The RPC ssetransport frames rpc.Update values instead, which
// carry no id or timestamp field.
type brokerSSEEvent struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Cursor    broker.Cursor   `json:"cursor"`
	Payload   json.RawMessage `json:"payload"`
}

// brokerSubscribe handles GET /events/subscribe?channel=...&fromTimestamp=&fromSequence=
// It replays every persisted event strictly after the supplied cursor (if
// any) and then continues with live events, framed as SSE.
func (s *Server) brokerSubscribe(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "channel is required")
		return
	}

	var cursor *broker.Cursor
	if tsStr := r.URL.Query().Get("fromTimestamp"); tsStr != "" {
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid fromTimestamp")
			return
		}
		seq, _ := strconv.ParseInt(r.URL.Query().Get("fromSequence"), 10, 64)
		cursor = &broker.Cursor{Timestamp: ts, Sequence: seq}
	}

	events, unsub, err := s.broker.Subscribe(r.Context(), channel, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			frame := brokerSSEEvent{
				ID:        ev.ID,
				Channel:   ev.Channel,
				Type:      ev.Type,
				Timestamp: ev.Timestamp,
				Cursor:    ev.Cursor(),
				Payload:   ev.Payload,
			}
			if err := sse.writeEvent("message", frame); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// brokerChannelInfo handles GET /events/channel/{channel}.
func (s *Server) brokerChannelInfo(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	info, err := s.broker.Info(r.Context(), channel)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// brokerCleanupChannel handles DELETE /events/channel/{channel}?keepLast=N.
func (s *Server) brokerCleanupChannel(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	keepLast := 0
	if v := r.URL.Query().Get("keepLast"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid keepLast")
			return
		}
		keepLast = n
	}
	if err := s.broker.CleanupChannel(r.Context(), channel, keepLast); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}
