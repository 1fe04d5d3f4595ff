// Package identity maps a connection's credential to a player id.
package identity

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/gudritis/internal/errors"
)

// ErrNoCredential means the request carries nothing this resolver reads.
var ErrNoCredential = errors.New(errors.CodeUnauthenticated, errors.WithMessagef("no credential"))

type Identity struct {
	UserID string
	// Nickname is empty when the credential does not carry one.
	Nickname   string
	Registered bool
}

type Resolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// RedisResolver looks the session cookie up in Redis, where the login service
// stores the user id under <prefix>:session:<cookie>.
type RedisResolver struct {
	redis  redis.UniversalClient
	cookie string
	prefix string
}

func NewRedisResolver(rc redis.UniversalClient, cookie, prefix string) *RedisResolver {
	return &RedisResolver{redis: rc, cookie: cookie, prefix: prefix}
}

func (r *RedisResolver) Resolve(req *http.Request) (Identity, error) {
	c, err := req.Cookie(r.cookie)
	if err != nil || c.Value == "" {
		return Identity{}, ErrNoCredential
	}

	userID, err := r.redis.Get(req.Context(), r.key(c.Value)).Result()
	if stderrors.Is(err, redis.Nil) {
		return Identity{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("session expired"))
	}
	if err != nil {
		return Identity{}, errors.New(errors.CodeUnavailable, errors.WithMessagef("lookup session"), errors.WithCause(err))
	}

	return Identity{UserID: userID, Registered: true}, nil
}

// Store records a login. Used by tests and local tooling.
func (r *RedisResolver) Store(ctx context.Context, sessionToken, userID string, ttl time.Duration) error {
	return r.redis.Set(ctx, r.key(sessionToken), userID, ttl).Err()
}

func (r *RedisResolver) key(token string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, token)
}

type claims struct {
	Nickname string `json:"nickname,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 tokens from the Authorization header or the
// session cookie.
type JWTResolver struct {
	secret []byte
	cookie string
}

func NewJWTResolver(secret, cookie string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), cookie: cookie}
}

func (r *JWTResolver) Resolve(req *http.Request) (Identity, error) {
	raw := bearerToken(req)
	if raw == "" {
		// The cookie may hold an opaque session token meant for another
		// resolver. Only a compact JWT is ours.
		if c, err := req.Cookie(r.cookie); err == nil && strings.Count(c.Value, ".") == 2 {
			raw = c.Value
		}
	}
	if raw == "" {
		return Identity{}, ErrNoCredential
	}

	var cl claims
	_, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return Identity{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token"), errors.WithCause(err))
	}

	if cl.Subject == "" {
		return Identity{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token has no subject"))
	}

	return Identity{UserID: cl.Subject, Nickname: cl.Nickname, Registered: true}, nil
}

// Issue signs a token for userID valid for ttl.
func (r *JWTResolver) Issue(userID, nickname string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Nickname: nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	s, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return s, nil
}

func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	return ""
}

// Chain tries each resolver in order, moving on only when a resolver finds no
// credential. With AllowGuest, a request without any credential gets a fresh
// unregistered identity.
type Chain struct {
	Resolvers  []Resolver
	AllowGuest bool
}

func (c Chain) Resolve(req *http.Request) (Identity, error) {
	for _, r := range c.Resolvers {
		id, err := r.Resolve(req)
		if err == nil {
			return id, nil
		}
		if !stderrors.Is(err, ErrNoCredential) {
			return Identity{}, err
		}
	}

	if !c.AllowGuest {
		return Identity{}, ErrNoCredential
	}

	return Identity{UserID: "guest-" + uuid.NewString()}, nil
}
