package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTokenIsSingleFlight(t *testing.T) {
	token := NewLocalToken()
	ctx := context.Background()

	release, err := token.Acquire(ctx)
	require.NoError(t, err)

	_, err = token.Acquire(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	release()
	release()

	again, err := token.Acquire(ctx)
	require.NoError(t, err)
	again()
}

func TestSchedulerRunsAfterInitialDelayAndOnInterval(t *testing.T) {
	var runs int32
	job := func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}
	s := New("test", job, 20*time.Millisecond, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	token := NewLocalToken()
	var started, skipped int32
	unblock := make(chan struct{})

	job := func(ctx context.Context) error {
		release, err := token.Acquire(ctx)
		if err != nil {
			atomic.AddInt32(&skipped, 1)
			return err
		}
		defer release()
		atomic.AddInt32(&started, 1)
		<-unblock
		return nil
	}
	s := New("test", job, 5*time.Millisecond, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&skipped) >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&started))

	cancel()
	close(unblock)
	require.NoError(t, <-done)
}

type scriptMissing string

func (e scriptMissing) Error() string { return string(e) }
func (scriptMissing) RedisError()     {}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

// Eval implements the compare-and-delete release script.
func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if !strings.Contains(script, "DEL") {
		return redis.NewCmdResult(nil, errors.New("unexpected script"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[keys[0]] == args[0].(string) {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) EvalSha(context.Context, string, []string, ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, scriptMissing("NOSCRIPT No matching script"))
}

func (f *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha, keys, args...)
}

func (f *fakeRedis) ScriptExists(context.Context, ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{false}, nil)
}

func (f *fakeRedis) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestRedisTokenAcquireAndRelease(t *testing.T) {
	client := newFakeRedis()
	a := NewRedisToken(client, "fieldops:sla-sweep", time.Minute)
	b := NewRedisToken(client, "fieldops:sla-sweep", time.Minute)
	ctx := context.Background()

	release, err := a.Acquire(ctx)
	require.NoError(t, err)

	_, err = b.Acquire(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	release()

	releaseB, err := b.Acquire(ctx)
	require.NoError(t, err)
	releaseB()
}

func TestRedisTokenReleaseLeavesForeignHolder(t *testing.T) {
	client := newFakeRedis()
	token := NewRedisToken(client, "k", time.Minute)
	ctx := context.Background()

	release, err := token.Acquire(ctx)
	require.NoError(t, err)

	// simulate expiry followed by another holder taking the key
	client.mu.Lock()
	client.data["k"] = "someone-else"
	client.mu.Unlock()

	release()

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, "someone-else", client.data["k"])
}
