// Package sessions persists browser sessions so they survive restarts, and
// issues the signed cookie that ties a browser to its session.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Record is one persisted session. It holds identity pointers only; the
// profile is read from the account directory on restore.
type Record struct {
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Persister stores sessions by session id.
type Persister interface {
	// Save replaces the session stored under id.
	Save(ctx context.Context, id string, r Record) error
	// Load returns the session stored under id, or nil if there is none or
	// it expired.
	Load(ctx context.Context, id string) (*Record, error)
	// Delete removes the session stored under id.
	Delete(ctx context.Context, id string) error
}

var (
	errExpired   = errors.New("session: expires_at must be in the future")
	errMissingID = errors.New("session: missing session id")
)

// MemoryPersister keeps sessions in process memory.
type MemoryPersister struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryPersister creates an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{records: make(map[string]Record), now: time.Now}
}

func (m *MemoryPersister) Save(_ context.Context, id string, r Record) error {
	if id == "" {
		return errMissingID
	}
	if !r.ExpiresAt.After(m.now()) {
		return errExpired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = r
	return nil
}

func (m *MemoryPersister) Load(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	if !r.ExpiresAt.After(m.now()) {
		delete(m.records, id)
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryPersister) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}
