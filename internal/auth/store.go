package auth

import (
	"sync"
	"time"

	"github.com/gwlsn/buswatch/internal/logger"
)

// initTimeoutMessage is the advisory error set when the adapter never called back.
const initTimeoutMessage = "Timed out waiting for the sign-in service."

// Store tracks the current session. It subscribes to its adapter once, at
// construction, and is the only writer of its SessionState.
type Store struct {
	mu          sync.Mutex
	state       SessionState
	settled     bool // an adapter notification or the init timeout has landed
	closed      bool
	unsubscribe func()
	initTimer   *time.Timer
	done        chan struct{}

	watchers map[chan SessionState]struct{}
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	initTimeout time.Duration
}

// WithInitTimeout forces the store out of StatusInitializing if the adapter
// has not called back within d. Zero or negative disables the bound.
func WithInitTimeout(d time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.initTimeout = d
	}
}

// NewStore creates a store in StatusInitializing and subscribes to adapter.
func NewStore(adapter Adapter, opts ...StoreOption) *Store {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		state:    SessionState{Status: StatusInitializing},
		done:     make(chan struct{}),
		watchers: make(map[chan SessionState]struct{}),
	}

	if o.initTimeout > 0 {
		s.mu.Lock()
		s.initTimer = time.AfterFunc(o.initTimeout, s.expireInit)
		s.mu.Unlock()
	}

	// Adapters may call back synchronously from Subscribe, so the lock must
	// not be held here.
	unsubscribe := adapter.Subscribe(s.handleIdentity)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return s
}

// State returns a copy of the current session state.
func (s *Store) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// SetUser replaces the user outside the subscription path, e.g. for an
// optimistic update after sign-up. A nil user signs the store out, unless the
// store is still initializing, in which case it stays initializing.
func (s *Store) SetUser(user *AuthUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if user != nil {
		u := *user
		s.state.User = &u
		s.state.Status = StatusAuthenticated
		s.settleLocked()
	} else if s.state.Status != StatusInitializing {
		s.state.User = nil
		s.state.Status = StatusUnauthenticated
	}
	s.broadcastLocked()
}

// RefreshUser replaces the signed-in user with user when both have the same
// ID, and reports whether it did. It never signs a store in, so a refresh
// racing a sign-out is dropped.
func (s *Store) RefreshUser(user *AuthUser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || user == nil || s.state.User == nil || s.state.User.ID != user.ID {
		return false
	}
	u := *user
	s.state.User = &u
	s.broadcastLocked()
	return true
}

// SetError sets the advisory error message; an empty message clears it.
func (s *Store) SetError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state.Error = message
	s.broadcastLocked()
}

// Watch returns a channel that receives the current state and then every
// change. A slow reader only sees the most recent state. The channel is
// closed by cancel or when the store is closed.
func (s *Store) Watch() (<-chan SessionState, func()) {
	ch := make(chan SessionState, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.watchers[ch] = struct{}{}
	ch <- s.state.clone()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.watchers[ch]; ok {
				delete(s.watchers, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Done is closed once the store has been torn down.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close releases the adapter subscription. Later notifications, setter calls
// and timers have no effect. Close is safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	if s.initTimer != nil {
		s.initTimer.Stop()
	}
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	// Released outside the lock: an adapter may be blocked delivering a
	// notification to handleIdentity while it waits for us.
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Store) handleIdentity(id *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		logger.Debug("Ignoring session notification after teardown")
		return
	}

	if id != nil {
		user := NormalizeUser(id)
		s.state = SessionState{Status: StatusAuthenticated, User: &user}
		logger.Debug("Session authenticated", "user_id", user.ID)
	} else {
		s.state.Status = StatusUnauthenticated
		s.state.User = nil
		logger.Debug("Session unauthenticated")
	}
	s.settleLocked()
	s.broadcastLocked()
}

func (s *Store) expireInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.settled {
		return
	}
	logger.Warn("Identity backend did not report a session in time, treating as signed out")
	s.state = SessionState{Status: StatusUnauthenticated, Error: initTimeoutMessage}
	s.settled = true
	s.broadcastLocked()
}

func (s *Store) settleLocked() {
	if s.settled {
		return
	}
	s.settled = true
	if s.initTimer != nil {
		s.initTimer.Stop()
	}
}

// broadcastLocked pushes the current state to every watcher, replacing any
// value the watcher has not read yet.
func (s *Store) broadcastLocked() {
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s.state.clone()
	}
}
