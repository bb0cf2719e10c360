package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPersister keeps each session in Redis under its own key with a TTL
// matching the session expiry.
type RedisPersister struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPersister creates a Redis-backed persister. Keys are prefixed with
// prefix.
func NewRedisPersister(client redis.UniversalClient, prefix string) *RedisPersister {
	return &RedisPersister{client: client, prefix: prefix + "session:"}
}

func (r *RedisPersister) key(id string) string {
	return r.prefix + id
}

func (r *RedisPersister) Save(ctx context.Context, id string, rec Record) error {
	if id == "" {
		return errMissingID
	}
	if rec.UserID == "" {
		return fmt.Errorf("session: missing user_id")
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return errExpired
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	return r.client.Set(ctx, r.key(id), data, ttl).Err()
}

func (r *RedisPersister) Load(ctx context.Context, id string) (*Record, error) {
	val, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &rec, nil
}

func (r *RedisPersister) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}
