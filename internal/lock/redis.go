package lock

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/crmsync/internal/crypto"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a single-instance Redis lock (SET NX PX + compare-and-delete).
type Redis struct {
	client redisClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewRedis constructs a Redis locker. ttl bounds how long a crashed holder blocks
// others; wait bounds how long Acquire polls.
func NewRedis(client redisClient, prefix string, ttl, wait time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, wait: wait, poll: 100 * time.Millisecond}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Acquire implements Locker.
func (l *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	b, err := crypto.RandBytes(16)
	if err != nil {
		return nil, err
	}
	token := hex.EncodeToString(b)
	full := l.prefix + key

	deadline := time.NewTimer(l.wait)
	defer deadline.Stop()
	tick := time.NewTicker(l.poll)
	defer tick.Stop()

	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", full, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.client.Eval(ctx, releaseScript, []string{full}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%s: %w", full, ErrNotAcquired)
		case <-tick.C:
		}
	}
}
