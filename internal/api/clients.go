package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gwlsn/buswatch/internal/auth"
	"github.com/gwlsn/buswatch/internal/identity/sessions"
	"github.com/gwlsn/buswatch/internal/logger"
)

// DefaultIdleTimeout is how long a browser's session store is kept in memory
// without requests. A swept browser is restored from its cookie on the next
// request.
const DefaultIdleTimeout = 30 * time.Minute

// AdapterFactory returns the identity adapter for one browser session.
type AdapterFactory func(sessionID string) auth.Adapter

// client is the session state of one browser, keyed by its session cookie.
type client struct {
	id       string
	adapter  auth.Adapter
	store    *auth.Store
	ops      *auth.Operations
	feedback *Feedback

	// Guarded by Handler.mu.
	lastSeen time.Time
	streams  int
}

type clientKey struct{}

func clientFrom(ctx context.Context) *client {
	c, _ := ctx.Value(clientKey{}).(*client)
	return c
}

// loadClient attaches the browser's client to the request when it carries a
// valid session cookie. Requests without one get no client.
func (h *Handler) loadClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.cookies.Read(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		c := h.client(id)
		if c == nil {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		ctx := context.WithValue(r.Context(), clientKey{}, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveStore is the guard's per-request store lookup.
func (h *Handler) resolveStore(r *http.Request) auth.StateReader {
	c := clientFrom(r.Context())
	if c == nil {
		return nil
	}
	return c.store
}

// clientFor returns the request's client, starting a new browser session
// and setting its cookie when the request has none.
func (h *Handler) clientFor(w http.ResponseWriter, r *http.Request) (*client, error) {
	if c := clientFrom(r.Context()); c != nil {
		return c, nil
	}
	id, err := sessions.GenerateID()
	if err != nil {
		return nil, err
	}
	c := h.client(id)
	if c == nil {
		return nil, auth.ErrStoreClosed
	}
	h.cookies.Set(w, id)
	return c, nil
}

// client returns the client for id, creating it on first use. It returns nil
// once the handler is closed.
func (h *Handler) client(id string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if c, ok := h.clients[id]; ok {
		c.lastSeen = h.now()
		return c
	}

	adapter := h.factory(id)
	store := auth.NewStore(adapter, auth.WithInitTimeout(h.initTimeout))
	feedback := NewFeedback()
	c := &client{
		id:       id,
		adapter:  adapter,
		store:    store,
		ops:      auth.NewOperations(adapter, store, auth.WithOutcomeHandler(feedback.Record)),
		feedback: feedback,
		lastSeen: h.now(),
	}
	h.clients[id] = c
	startSessionLogger(store)
	return c
}

// retain and release bracket a long-lived request, such as a session stream,
// so the client is not swept while it runs.
func (h *Handler) retain(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.streams++
	c.lastSeen = h.now()
}

func (h *Handler) release(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.streams--
	c.lastSeen = h.now()
}

// dropClient forgets the client for id and tears it down.
func (h *Handler) dropClient(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		closeClient(c)
	}
}

// sweep drops clients idle since before now minus the idle timeout and
// returns how many it dropped.
func (h *Handler) sweep(now time.Time) int {
	cutoff := now.Add(-h.idleTimeout)

	h.mu.Lock()
	var idle []*client
	for id, c := range h.clients {
		if c.streams == 0 && c.lastSeen.Before(cutoff) {
			idle = append(idle, c)
			delete(h.clients, id)
		}
	}
	h.mu.Unlock()

	for _, c := range idle {
		closeClient(c)
	}
	if len(idle) > 0 {
		logger.Debug("Swept idle browser sessions", "count", len(idle))
	}
	return len(idle)
}

func (h *Handler) runJanitor() {
	interval := h.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.sweep(h.now())
		}
	}
}

// Close stops the janitor and tears down every client, which ends open
// session streams. The persisted sessions are kept.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.stop)

		h.mu.Lock()
		h.closed = true
		all := make([]*client, 0, len(h.clients))
		for id, c := range h.clients {
			all = append(all, c)
			delete(h.clients, id)
		}
		h.mu.Unlock()

		for _, c := range all {
			closeClient(c)
		}
	})
}

func closeClient(c *client) {
	c.store.Close()
	if closer, ok := c.adapter.(interface{ Close() }); ok {
		closer.Close()
	}
}
