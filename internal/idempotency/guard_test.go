package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"flowops/internal/domain"
)

// fakeRedis is an in-process stand-in for the handful of commands Guard uses.
type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failSet error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, exp time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return redis.NewBoolResult(false, f.failSet)
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	f.ttls[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestNew(t *testing.T) {
	_, err := New(nil, time.Minute)
	require.Error(t, err)

	g, err := New(newFakeRedis(), 0)
	require.NoError(t, err)
	require.Equal(t, DefaultTTL, g.ttl)
}

func TestGuard_Lifecycle(t *testing.T) {
	rdb := newFakeRedis()
	g, err := New(rdb, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	stored, claimed, err := g.Begin(ctx, "acme", "create_ticket", "req-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.Nil(t, stored)
	require.Equal(t, time.Hour, rdb.ttls["flowops:idem:TENANT#acme#create_ticket#req-1"])

	_, _, err = g.Begin(ctx, "acme", "create_ticket", "req-1")
	require.Equal(t, domain.ErrorPreconditionFailed, domain.CodeOf(err))

	require.NoError(t, g.Complete(ctx, "acme", "create_ticket", "req-1", []byte(`{"ticketId":"T1","status":"created"}`)))

	stored, claimed, err = g.Begin(ctx, "acme", "create_ticket", "req-1")
	require.NoError(t, err)
	require.False(t, claimed)
	require.JSONEq(t, `{"ticketId":"T1","status":"created"}`, string(stored))

	// Same key under another tenant is independent.
	_, claimed, err = g.Begin(ctx, "globex", "create_ticket", "req-1")
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestGuard_ReleaseAllowsRetry(t *testing.T) {
	g, err := New(newFakeRedis(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, claimed, err := g.Begin(ctx, "acme", "create_ticket", "req-2")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, g.Release(ctx, "acme", "create_ticket", "req-2"))

	_, claimed, err = g.Begin(ctx, "acme", "create_ticket", "req-2")
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestGuard_Errors(t *testing.T) {
	rdb := newFakeRedis()
	g, err := New(rdb, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = g.Begin(ctx, "acme", "create_ticket", " ")
	require.Equal(t, domain.ErrorInvalidPayload, domain.CodeOf(err))

	_, _, err = g.Begin(ctx, "ac#me", "create_ticket", "req-3")
	require.Equal(t, domain.ErrorInvalidPayload, domain.CodeOf(err))
	_, _, err = g.Begin(ctx, "", "create_ticket", "req-3")
	require.Equal(t, domain.ErrorInvalidPayload, domain.CodeOf(err))
	require.Empty(t, rdb.data)

	rdb.failSet = errors.New("redis down")
	_, _, err = g.Begin(ctx, "acme", "create_ticket", "req-3")
	require.ErrorContains(t, err, "redis down")
}

func TestGuard_TenantsDoNotShareKeys(t *testing.T) {
	g, err := New(newFakeRedis(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, claimed, err := g.Begin(ctx, "a:b", "create_ticket", "c")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, g.Complete(ctx, "a:b", "create_ticket", "c", []byte(`{"ticketId":"T-ab","status":"created"}`)))

	stored, claimed, err := g.Begin(ctx, "a", "create_ticket", "b:c")
	require.NoError(t, err)
	require.True(t, claimed)
	require.Nil(t, stored)
}

func TestGuard_KeysAreScopedToAction(t *testing.T) {
	g, err := New(newFakeRedis(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = g.Begin(ctx, "acme", "create_ticket", "req-9")
	require.NoError(t, err)
	require.NoError(t, g.Complete(ctx, "acme", "create_ticket", "req-9", []byte(`{"status":"created"}`)))

	stored, claimed, err := g.Begin(ctx, "acme", "escalate_to_human", "req-9")
	require.NoError(t, err)
	require.True(t, claimed)
	require.Nil(t, stored)
}
