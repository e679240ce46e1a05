// Package redislock grants per-note leases stored in Redis.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
)

const DefaultPrefix = "notegen:lease:"

// Deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

type client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

type Locker struct {
	client client
	prefix string
}

func New(c *redis.Client) *Locker {
	return newLocker(c, DefaultPrefix)
}

// Open parses a redis:// URL and verifies the connection.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

func newLocker(c client, prefix string) *Locker {
	return &Locker{client: c, prefix: prefix}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "acquire lease", err)
	}
	if !ok {
		return nil, domain.WrapError(domain.ErrConflict, "acquire lease", fmt.Errorf("%s is held by another run", key))
	}
	return &lease{client: l.client, key: l.prefix + key, token: token}, nil
}

type lease struct {
	client client
	key    string
	token  string
}

// Release is a no-op when the lease already expired or was taken over.
func (l *lease) Release(ctx context.Context) error {
	err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
