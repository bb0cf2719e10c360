package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gwlsn/buswatch/internal/auth"
)

const keepaliveInterval = 30 * time.Second

// SessionStream handles GET /api/session/stream (SSE of session changes and
// toasts).
func (h *Handler) SessionStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// The first value on states is the current session. A browser without a
	// session is told it is signed out and then only gets keepalives.
	var states <-chan auth.SessionState
	var toasts chan Toast
	if c := clientFrom(r.Context()); c != nil {
		h.retain(c)
		defer h.release(c)

		watch, cancel := c.store.Watch()
		defer cancel()
		states = watch

		toasts = c.feedback.Subscribe()
		defer c.feedback.Unsubscribe(toasts)
	} else {
		signedOut := make(chan auth.SessionState, 1)
		signedOut <- auth.SessionState{Status: auth.StatusUnauthenticated}
		states = signedOut
	}

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	// Reverse proxies close idle connections after a minute or two.
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case state, ok := <-states:
			if !ok {
				return
			}
			if writeEvent(w, "session", state) {
				flusher.Flush()
			}
		case toast := <-toasts:
			if writeEvent(w, "toast", toast) {
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return true
}
