package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrAlreadyRunning = errors.New("run already in progress")

// RunToken is a non-blocking single-flight guard. Acquire returns
// ErrAlreadyRunning instead of waiting when another run holds the token.
type RunToken interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalToken guards runs inside one process.
type LocalToken struct {
	held atomic.Bool
}

func NewLocalToken() *LocalToken {
	return &LocalToken{}
}

func (t *LocalToken) Acquire(context.Context) (func(), error) {
	if !t.held.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			t.held.Store(false)
		}
	}, nil
}

type redisLocker interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// deletes the key only while it still holds our value
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisToken guards runs across every process sharing the Redis instance.
// The TTL bounds how long a crashed holder can block others.
type RedisToken struct {
	client redisLocker
	key    string
	ttl    time.Duration
}

func NewRedisToken(client redisLocker, key string, ttl time.Duration) *RedisToken {
	return &RedisToken{client: client, key: key, ttl: ttl}
}

func (t *RedisToken) Acquire(ctx context.Context) (func(), error) {
	value := uuid.NewString()
	ok, err := t.client.SetNX(ctx, t.key, value, t.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run token: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, t.client, []string{t.key}, value).Err()
	}, nil
}
