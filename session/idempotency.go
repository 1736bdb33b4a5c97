package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// Replay is a stored response for a client-supplied Idempotency-Key.
type Replay struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyCache makes a non-retryable call (approve reserves stock) safe to
// repeat: the first caller claims the key, later callers get the stored answer.
type IdempotencyCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotencyCache(rdb *redis.Client, ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{rdb: rdb, ttl: ttl, lockTTL: 30 * time.Second}
}

func idemKey(scope, key string) string { return fmt.Sprintf("loan:idem:%s:%s", scope, key) }

// Begin claims the key. It returns claimed=true for the first caller, a Replay
// once the first caller finished, or ErrInFlight while it is still running.
func (c *IdempotencyCache) Begin(ctx context.Context, scope, key string) (*Replay, bool, error) {
	k := idemKey(scope, key)
	ok, err := c.rdb.SetNX(ctx, k, pendingMarker, c.lockTTL).Result()
	if err != nil {
		return nil, false, apperr.Wrap(apperr.ErrTransient, err)
	}
	if ok {
		return nil, true, nil
	}
	b, err := c.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// 刚好过期，重试一次
		return c.Begin(ctx, scope, key)
	}
	if err != nil {
		return nil, false, apperr.Wrap(apperr.ErrTransient, err)
	}
	if string(b) == pendingMarker {
		return nil, false, apperr.ErrInFlight
	}
	var r Replay
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, false, err
	}
	return &r, false, nil
}

// Finish stores the response of the claimed call.
func (c *IdempotencyCache) Finish(ctx context.Context, scope, key string, status int, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Replay{Status: status, Body: raw})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, idemKey(scope, key), b, c.ttl).Err()
}

// Abort releases the claim so the client can retry with the same key.
func (c *IdempotencyCache) Abort(ctx context.Context, scope, key string) error {
	return c.rdb.Del(ctx, idemKey(scope, key)).Err()
}
