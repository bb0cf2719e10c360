package api

import (
	"fmt"
	"sync"

	"github.com/gwlsn/buswatch/internal/auth"
	"github.com/gwlsn/buswatch/internal/logger"
)

// Toast is a short feedback message pushed to connected dashboards.
type Toast struct {
	Level   string `json:"level"` // success, warning or error
	Op      string `json:"op"`
	Message string `json:"message"`
}

// Feedback turns credential operation outcomes into toasts and fans them out
// to stream subscribers. Its Record method is the outcome handler passed to
// auth.NewOperations.
type Feedback struct {
	mu   sync.Mutex
	subs map[chan Toast]struct{}
}

// NewFeedback creates an empty feedback hub.
func NewFeedback() *Feedback {
	return &Feedback{subs: make(map[chan Toast]struct{})}
}

// Subscribe returns a channel receiving every toast recorded from now on.
func (f *Feedback) Subscribe() chan Toast {
	ch := make(chan Toast, 8)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch.
func (f *Feedback) Unsubscribe(ch chan Toast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, ch)
}

// Record publishes the toasts for o.
func (f *Feedback) Record(o auth.Outcome) {
	for _, t := range toastsFor(o) {
		f.broadcast(t)
	}
}

func (f *Feedback) broadcast(t Toast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- t:
		default:
			logger.Debug("Dropping toast for slow subscriber", "op", t.Op)
		}
	}
}

func toastsFor(o auth.Outcome) []Toast {
	var toasts []Toast
	switch {
	case o.Err != nil:
		toasts = append(toasts, Toast{Level: "error", Op: o.Op, Message: auth.KindOf(o.Err).Message()})
	case o.Op == "sign_up" && o.User != nil:
		toasts = append(toasts, Toast{Level: "success", Op: o.Op, Message: fmt.Sprintf("Welcome, %s. Your account is ready.", o.User.Name)})
	case o.User != nil:
		toasts = append(toasts, Toast{Level: "success", Op: o.Op, Message: fmt.Sprintf("Welcome back, %s.", o.User.Name)})
	case o.Op == "sign_out":
		toasts = append(toasts, Toast{Level: "success", Op: o.Op, Message: "Signed out."})
	}
	if o.Diagnostic != nil {
		toasts = append(toasts, Toast{Level: "warning", Op: o.Op, Message: auth.KindOf(o.Diagnostic).Message()})
	}
	return toasts
}

// startSessionLogger logs every session status transition for the lifetime
// of store, independent of any connected dashboard.
func startSessionLogger(store *auth.Store) {
	states, _ := store.Watch()
	go func() {
		var prev *auth.Status
		for state := range states {
			if prev != nil && *prev == state.Status {
				continue
			}
			from := "none"
			if prev != nil {
				from = prev.String()
			}
			userID := ""
			if state.User != nil {
				userID = state.User.ID
			}
			logger.Info("Session status changed", "from", from, "to", state.Status, "user_id", userID)
			status := state.Status
			prev = &status
		}
	}()
}
