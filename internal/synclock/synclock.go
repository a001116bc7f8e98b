// Package synclock provides a Redis lease that keeps two syncs of the same
// document from running at once across server processes.
package synclock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/dokey/internal/apperr"
)

const defaultTTL = 30 * time.Second

// releaseScript deletes the lease only when it still carries our token, so
// an expired lease taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out per-document leases stored as SET NX PX keys.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a locker for an existing client. The ttl bounds how long a
// crashed holder can block a document.
func New(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{client: client, prefix: "dokey:sync:", ttl: ttl}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return New(client, ttl), nil
}

func (l *RedisLocker) key(documentID string) string {
	return l.prefix + documentID
}

// Lock takes the lease for documentID. It fails with a Conflict error when
// the lease is held elsewhere.
func (l *RedisLocker) Lock(ctx context.Context, documentID string) (func(context.Context) error, error) {
	token := uuid.NewString()
	key := l.key(documentID)
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, apperr.Transient(err, "could not acquire sync lease")
	}
	if !ok {
		return nil, apperr.Conflict("a sync for this document is already in progress")
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release sync lease: %w", err)
		}
		return nil
	}, nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
