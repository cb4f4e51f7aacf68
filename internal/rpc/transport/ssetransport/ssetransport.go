// Package ssetransport serves any subscription procedure over
// Server-Sent Events, generalizing the hand-rolled SSE writer
// internal/server already uses for its fixed /event and /global/event
// endpoints into one handler that works for every subscription path in
// the catalog.
package ssetransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tandem-dev/tandem/internal/rpc"
)

// HeartbeatInterval matches internal/server's SSE heartbeat cadence.
const HeartbeatInterval = 30 * time.Second

type writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newWriter(w http.ResponseWriter) (*writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &writer{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func (s *writer) writeUpdate(u rpc.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", u.Type, data); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *writer) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// Mount registers one GET route per subscription procedure under prefix,
// e.g. "/rpc/stream/session.getById". The request's query string, JSON
// re-encoded, is the subscribe input.
func Mount(router chi.Router, prefix string, catalog *rpc.Catalog, rc *rpc.Context) {
	for _, path := range catalog.Paths() {
		proc, _ := catalog.Lookup(path)
		if proc.Subscribe == nil {
			continue
		}
		router.Get(prefix+"/"+path, handleSubscribe(catalog, rc, path))
	}
}

func handleSubscribe(catalog *rpc.Catalog, rc *rpc.Context, path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		sse, err := newWriter(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		input := queryToJSON(r)
		updates, cancel, err := catalog.DispatchSubscribe(r.Context(), rc, path, input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer cancel()

		w.WriteHeader(http.StatusOK)
		sse.flusher.Flush()

		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if err := sse.writeUpdate(u); err != nil {
					return
				}
			case <-ticker.C:
				sse.writeHeartbeat()
			}
		}
	}
}

// queryToJSON turns a subscribe request's query parameters into a flat
// JSON object, so a browser EventSource (which can't send a body) can still
// drive procedures whose Subscribe decodes a struct.
func queryToJSON(r *http.Request) json.RawMessage {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	m := make(map[string]string, len(q))
	for k := range q {
		m[k] = q.Get(k)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return raw
}
