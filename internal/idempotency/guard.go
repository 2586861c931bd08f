package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"flowops/internal/domain"
	"flowops/internal/keys"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "flowops:idem:"
	pending    = "pending"
)

// redisAPI is the subset of redis.Cmdable used by Guard.
type redisAPI interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Guard remembers the outcome of a request per tenant, action and
// caller-supplied key. A key is claimed before the work runs and holds the
// result after.
type Guard struct {
	rdb redisAPI
	ttl time.Duration
}

func New(rdb redisAPI, ttl time.Duration) (*Guard, error) {
	if rdb == nil {
		return nil, errors.New("idempotency: redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{rdb: rdb, ttl: ttl}, nil
}

// Dial connects to Redis from a redis:// URL and checks the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("idempotency: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("idempotency: ping redis: %w", err)
	}
	return rdb, nil
}

// storageKey places the caller's key after the tenant partition key and the
// action. Neither may contain the delimiter, so the caller's key cannot
// reach into another tenant's or action's space.
func storageKey(tenantID, action, key string) (string, error) {
	if err := keys.ValidateID(tenantID); err != nil {
		return "", domain.NewError(domain.ErrorInvalidPayload, "invalid_tenant_id", err)
	}
	if err := keys.ValidateID(action); err != nil {
		return "", domain.NewError(domain.ErrorInvalidPayload, "invalid_action", err)
	}
	if strings.TrimSpace(key) == "" {
		return "", domain.NewError(domain.ErrorInvalidPayload, "empty_idempotency_key", nil)
	}
	return keyPrefix + keys.Tenant(tenantID) + keys.Delimiter + action + keys.Delimiter + key, nil
}

// Begin claims key for tenantID and action. When the key was already
// completed the stored result is returned with claimed=false. A key still
// being worked on fails with PreconditionFailed.
func (g *Guard) Begin(ctx context.Context, tenantID, action, key string) (stored []byte, claimed bool, err error) {
	k, err := storageKey(tenantID, action, key)
	if err != nil {
		return nil, false, err
	}

	ok, err := g.rdb.SetNX(ctx, k, pending, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: claim %s: %w", k, err)
	}
	if ok {
		return nil, true, nil
	}

	val, err := g.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as in flight and let the caller retry.
		return nil, false, domain.NewError(domain.ErrorPreconditionFailed, "request_in_flight", nil)
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: read %s: %w", k, err)
	}
	if val == pending {
		return nil, false, domain.NewError(domain.ErrorPreconditionFailed, "request_in_flight",
			fmt.Errorf("idempotency key %q is still being processed", key))
	}
	return []byte(val), false, nil
}

// Complete stores the result for a claimed key.
func (g *Guard) Complete(ctx context.Context, tenantID, action, key string, result []byte) error {
	k, err := storageKey(tenantID, action, key)
	if err != nil {
		return err
	}
	if err := g.rdb.Set(ctx, k, string(result), g.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: store %s: %w", k, err)
	}
	return nil
}

// Release drops a claim so a failed request can be retried with the same key.
func (g *Guard) Release(ctx context.Context, tenantID, action, key string) error {
	k, err := storageKey(tenantID, action, key)
	if err != nil {
		return err
	}
	if err := g.rdb.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("idempotency: release %s: %w", k, err)
	}
	return nil
}
