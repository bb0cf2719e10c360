package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// persisterContract exercises the behavior every Persister shares.
func persisterContract(t *testing.T, p Persister) {
	t.Helper()
	ctx := context.Background()

	got, err := p.Load(ctx, "s1")
	if err != nil || got != nil {
		t.Fatalf("Load on empty = %+v, %v; want nil, nil", got, err)
	}

	rec := Record{
		UserID:    "u1",
		Provider:  "password",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	if err := p.Save(ctx, "s1", rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got, _ := p.Load(ctx, "s2"); got != nil {
		t.Errorf("Load(s2) = %+v, sessions must not be shared", got)
	}

	got, err = p.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.UserID != "u1" || !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Fatalf("Load = %+v, want %+v", got, rec)
	}

	if err := p.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := p.Load(ctx, "s1"); got != nil {
		t.Errorf("Load after Delete = %+v, want nil", got)
	}

	expired := rec
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := p.Save(ctx, "s1", expired); err == nil {
		t.Error("Save accepted an expired record")
	}
}

func TestMemoryPersister(t *testing.T) {
	persisterContract(t, NewMemoryPersister())
}

func TestMemoryPersisterExpires(t *testing.T) {
	now := time.Now()
	p := NewMemoryPersister()
	p.now = func() time.Time { return now }

	if err := p.Save(context.Background(), "s1", Record{UserID: "u1", ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	now = now.Add(2 * time.Minute)

	if got, err := p.Load(context.Background(), "s1"); err != nil || got != nil {
		t.Errorf("Load after expiry = %+v, %v; want nil, nil", got, err)
	}
}

func TestRedisPersister(t *testing.T) {
	_, client := newTestRedis(t)
	persisterContract(t, NewRedisPersister(client, "test:"))
}

func TestRedisPersisterTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	p := NewRedisPersister(client, "test:")

	err := p.Save(context.Background(), "s1", Record{UserID: "u1", ExpiresAt: time.Now().Add(time.Minute)})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("test:session:s1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("TTL = %v, want within a minute", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if got, err := p.Load(context.Background(), "s1"); err != nil || got != nil {
		t.Errorf("Load after TTL = %+v, %v; want nil, nil", got, err)
	}
}

func TestRedisPersisterUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	p := NewRedisPersister(client, "test:")
	mr.Close()

	if _, err := p.Load(context.Background(), "s1"); err == nil {
		t.Error("Load succeeded with redis down")
	}
}
