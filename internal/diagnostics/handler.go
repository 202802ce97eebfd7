// Package diagnostics exposes the bridge's connection lifecycle events
// over HTTP for operators and tooling, adapted from the teacher's
// webhook ingestion handler (internal/webhook/handler.go): where that
// handler accepted POSTed device events and published them onto a bus,
// this one subscribes to the bus and streams lifecycle events back out
// as newline-delimited JSON, since the bridge has no inbound device
// event source of its own.
package diagnostics

import (
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/stepherg/vshostbridge/internal/events"
)

// StreamHandler returns an http.HandlerFunc that streams every Event
// published on bus to the client as one JSON object per line, flushing
// after each write, until the client disconnects.
func StreamHandler(bus *events.Bus, log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)

		_, ch, cancel := bus.Subscribe(32)
		defer cancel()

		enc := json.NewEncoder(w)
		for {
			select {
			case e, open := <-ch:
				if !open {
					return
				}
				if err := enc.Encode(e); err != nil {
					log.V(1).Info("diagnostics stream write failed", "error", err)
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}

// HealthHandler reports process liveness; it does not imply any
// particular connection is currently established.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
