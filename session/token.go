package session

import (
	"errors"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "loan-manager"

// Claims carries only the subject; role and status are always re-read from the store.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 bearer tokens. The jti doubles as the
// session id in the Redis registry so a token can be revoked before it expires.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue returns a signed token for userID and its session id.
func (c *TokenCodec) Issue(userID string) (token, jti string, expiresAt time.Time, err error) {
	now := c.now()
	jti = uuid.NewString()
	expiresAt = now.Add(c.ttl)
	claims := Claims{jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	return token, jti, expiresAt, err
}

// Parse verifies signature and expiry and maps failures onto the auth taxonomy.
func (c *TokenCodec) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, apperr.ErrMissingCredential
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperr.Wrap(apperr.ErrExpiredCredential, err)
	default:
		return nil, apperr.Wrap(apperr.ErrInvalidCredential, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, apperr.ErrInvalidCredential
	}
	return &claims, nil
}
