package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"

	"github.com/redis/go-redis/v9"
)

// AppSessionStore is the server-side registry of issued bearer tokens, keyed by jti.
// Each user also has a sorted set of session ids scored by expiry, so stale
// entries can be pruned and every session revoked at once.
type AppSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewAppSessionStore(rdb *redis.Client, ttl time.Duration) *AppSessionStore {
	return &AppSessionStore{rdb: rdb, ttl: ttl, now: time.Now}
}

// AppSession is one signed-in device.
type AppSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Origin    string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

func sessKey(id string) string      { return "loan:sess:" + id }
func userIndexKey(uid string) string { return "loan:user_sessions:" + uid }

// Create records session id for as.UserID; IssuedAt and ExpiresAt are filled here.
func (s *AppSessionStore) Create(ctx context.Context, id string, as AppSession) error {
	now := s.now()
	exp := now.Add(s.ttl)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, sessKey(id),
		"uid", as.UserID,
		"iat", now.Unix(),
		"exp", exp.Unix(),
		"ip", as.Origin,
		"ua", as.UserAgent,
	)
	pipe.Expire(ctx, sessKey(id), s.ttl)
	pipe.ZAdd(ctx, userIndexKey(as.UserID), redis.Z{Score: float64(exp.Unix()), Member: id})
	pipe.ZRemRangeByScore(ctx, userIndexKey(as.UserID), "-inf", strconv.FormatInt(now.Unix(), 10))
	pipe.Expire(ctx, userIndexKey(as.UserID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns ErrInvalidCredential for unknown or revoked sessions.
func (s *AppSessionStore) Get(ctx context.Context, id string) (*AppSession, error) {
	m, err := s.rdb.HGetAll(ctx, sessKey(id)).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransient, err)
	}
	if len(m) == 0 || m["uid"] == "" {
		return nil, apperr.ErrInvalidCredential
	}
	return decodeSession(id, m), nil
}

func decodeSession(id string, m map[string]string) *AppSession {
	unix := func(k string) time.Time {
		n, _ := strconv.ParseInt(m[k], 10, 64)
		return time.Unix(n, 0).UTC()
	}
	return &AppSession{
		ID:        id,
		UserID:    m["uid"],
		IssuedAt:  unix("iat"),
		ExpiresAt: unix("exp"),
		Origin:    m["ip"],
		UserAgent: m["ua"],
	}
}

// ListForUser returns the user's live sessions, newest first.
func (s *AppSessionStore) ListForUser(ctx context.Context, userID string) ([]AppSession, error) {
	ids, err := s.rdb.ZRevRangeByScore(ctx, userIndexKey(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(s.now().Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperr.Wrap(apperr.ErrTransient, err)
	}
	out := make([]AppSession, 0, len(ids))
	for _, id := range ids {
		as, err := s.Get(ctx, id)
		if errors.Is(err, apperr.ErrInvalidCredential) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *as)
	}
	return out, nil
}

func (s *AppSessionStore) Delete(ctx context.Context, id string) error {
	uid, _ := s.rdb.HGet(ctx, sessKey(id), "uid").Result() // 忽略失败
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessKey(id))
	if uid != "" {
		pipe.ZRem(ctx, userIndexKey(uid), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RevokeAllForUser 停用/删除用户时撤销其全部会话
func (s *AppSessionStore) RevokeAllForUser(ctx context.Context, userID string) error {
	ids, err := s.rdb.ZRange(ctx, userIndexKey(userID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, sid := range ids {
		keys = append(keys, sessKey(sid))
	}
	keys = append(keys, userIndexKey(userID))
	return s.rdb.Del(ctx, keys...).Err()
}
