package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginThrottle counts failed logins per email in a fixed window.
type LoginThrottle struct {
	rdb    *redis.Client
	max    int64
	window time.Duration
}

func NewLoginThrottle(rdb *redis.Client, max int64, window time.Duration) *LoginThrottle {
	return &LoginThrottle{rdb: rdb, max: max, window: window}
}

func failKey(email string) string {
	return fmt.Sprintf("loan:login_fail:%s", strings.ToLower(strings.TrimSpace(email)))
}

// Blocked reports whether email used up its attempts. Redis errors fail open.
func (t *LoginThrottle) Blocked(ctx context.Context, email string) bool {
	n, err := t.rdb.Get(ctx, failKey(email)).Int64()
	return err == nil && n >= t.max
}

func (t *LoginThrottle) Fail(ctx context.Context, email string) error {
	k := failKey(email)
	n, err := t.rdb.Incr(ctx, k).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		// 窗口从第一次失败开始计
		return t.rdb.Expire(ctx, k, t.window).Err()
	}
	return nil
}

func (t *LoginThrottle) Reset(ctx context.Context, email string) error {
	return t.rdb.Del(ctx, failKey(email)).Err()
}
