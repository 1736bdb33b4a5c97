package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestTokenRoundTrip(t *testing.T) {
	codec := NewTokenCodec("0123456789abcdef0123456789abcdef", time.Hour)
	tok, jti, exp, err := codec.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := codec.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.ID != jti {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(exp.Truncate(time.Second)) {
		t.Fatalf("exp = %v, want %v", claims.ExpiresAt.Time, exp)
	}
}

func TestTokenFailures(t *testing.T) {
	codec := NewTokenCodec("0123456789abcdef0123456789abcdef", time.Hour)
	tok, _, _, _ := codec.Issue("user-1")

	if _, err := codec.Parse(""); !errors.Is(err, apperr.ErrMissingCredential) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := codec.Parse(tok + "x"); !errors.Is(err, apperr.ErrInvalidCredential) {
		t.Fatalf("tampered: %v", err)
	}
	other := NewTokenCodec("another-secret-another-secret-!!", time.Hour)
	if _, err := other.Parse(tok); !errors.Is(err, apperr.ErrInvalidCredential) {
		t.Fatalf("wrong key: %v", err)
	}

	codec.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := codec.Parse(tok); !errors.Is(err, apperr.ErrExpiredCredential) {
		t.Fatalf("expired: %v", err)
	}
}

func TestAppSessionRevocation(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	s := NewAppSessionStore(rdb, time.Hour)

	for _, id := range []string{"a", "b"} {
		if err := s.Create(ctx, id, AppSession{UserID: "u1", Origin: "127.0.0.1", UserAgent: "curl/8"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := s.Create(ctx, "c", AppSession{UserID: "u2"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	as, err := s.Get(ctx, "a")
	if err != nil || as.UserID != "u1" || as.Origin != "127.0.0.1" || as.UserAgent != "curl/8" {
		t.Fatalf("get: %+v %v", as, err)
	}
	if !as.ExpiresAt.After(as.IssuedAt) {
		t.Fatalf("expiry %v not after issue %v", as.ExpiresAt, as.IssuedAt)
	}
	if list, err := s.ListForUser(ctx, "u1"); err != nil || len(list) != 2 {
		t.Fatalf("list: %+v %v", list, err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, apperr.ErrInvalidCredential) {
		t.Fatalf("deleted session: %v", err)
	}
	if list, _ := s.ListForUser(ctx, "u1"); len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("after delete: %+v", list)
	}

	if err := s.RevokeAllForUser(ctx, "u1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, apperr.ErrInvalidCredential) {
		t.Fatalf("revoked session: %v", err)
	}
	if _, err := s.Get(ctx, "c"); err != nil {
		t.Fatalf("other user's session revoked: %v", err)
	}
}

func TestAppSessionIndexDropsExpired(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	s := NewAppSessionStore(rdb, time.Hour)
	start := time.Now()
	s.now = func() time.Time { return start }
	if err := s.Create(ctx, "old", AppSession{UserID: "u1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	s.now = func() time.Time { return start.Add(2 * time.Hour) }
	if err := s.Create(ctx, "new", AppSession{UserID: "u1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	n, err := rdb.ZCard(ctx, userIndexKey("u1")).Result()
	if err != nil || n != 1 {
		t.Fatalf("index size = %d %v", n, err)
	}
}

func TestLoginThrottle(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	th := NewLoginThrottle(rdb, 3, 15*time.Minute)

	for i := 0; i < 3; i++ {
		if th.Blocked(ctx, "Alice@x.test") {
			t.Fatalf("blocked after %d failures", i)
		}
		if err := th.Fail(ctx, "alice@x.test"); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}
	if !th.Blocked(ctx, "ALICE@x.test") {
		t.Fatal("expected block after 3 failures")
	}
	mr.FastForward(16 * time.Minute)
	if th.Blocked(ctx, "alice@x.test") {
		t.Fatal("window should have expired")
	}
	_ = th.Fail(ctx, "alice@x.test")
	_ = th.Reset(ctx, "alice@x.test")
	if th.Blocked(ctx, "alice@x.test") {
		t.Fatal("reset should clear the counter")
	}
}

func TestIdempotencyCache(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	c := NewIdempotencyCache(rdb, 24*time.Hour)

	replay, claimed, err := c.Begin(ctx, "mgr", "k1")
	if err != nil || !claimed || replay != nil {
		t.Fatalf("first begin: %v %v %v", replay, claimed, err)
	}
	if _, _, err := c.Begin(ctx, "mgr", "k1"); !errors.Is(err, apperr.ErrInFlight) {
		t.Fatalf("concurrent begin: %v", err)
	}
	if err := c.Finish(ctx, "mgr", "k1", http.StatusCreated, map[string]string{"id": "loan-1"}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	replay, claimed, err = c.Begin(ctx, "mgr", "k1")
	if err != nil || claimed || replay == nil || replay.Status != http.StatusCreated || string(replay.Body) != `{"id":"loan-1"}` {
		t.Fatalf("replay: %+v %v %v", replay, claimed, err)
	}

	// 其他调用方的同名 key 互不影响
	if _, claimed, _ := c.Begin(ctx, "other", "k1"); !claimed {
		t.Fatal("scopes must not share keys")
	}
	_ = c.Abort(ctx, "other", "k1")
	if _, claimed, _ := c.Begin(ctx, "other", "k1"); !claimed {
		t.Fatal("abort should release the key")
	}
}

func TestWebAuthnStoreIsSingleUse(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	s := NewStore(rdb, time.Minute)
	sd := &webauthn.SessionData{Challenge: "abc", UserID: []byte("u1")}
	if err := s.SaveAuth(ctx, "sid", sd); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.TakeAuth(ctx, "sid")
	if err != nil || got.Challenge != "abc" {
		t.Fatalf("take: %+v %v", got, err)
	}
	if _, err := s.TakeAuth(ctx, "sid"); err == nil {
		t.Fatal("ceremony state must be consumed")
	}
	if err := s.SaveReg(ctx, "u1", sd); err != nil {
		t.Fatalf("save reg: %v", err)
	}
	if got, err := s.TakeReg(ctx, "u1"); err != nil || string(got.UserID) != "u1" {
		t.Fatalf("take reg: %v", err)
	}
}
