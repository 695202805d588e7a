package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/natalfamilia/natal-backend/pkg/config"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for i := 1; i <= 2; i++ {
		allowed, count, err := client.FixedWindowAllow(ctx, "create:10.0.0.1", 2, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed || count != int64(i) {
			t.Fatalf("call %d: allowed=%v count=%d", i, allowed, count)
		}
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected a single expire, got %d", len(mock.expireCalls))
	}
	if mock.expireCalls[0].key != "natal:rate_limit:create:10.0.0.1" || mock.expireCalls[0].ttl != time.Minute {
		t.Fatalf("unexpected expire call %+v", mock.expireCalls[0])
	}

	allowed, _, err := client.FixedWindowAllow(ctx, "create:10.0.0.1", 2, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestLockLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	ok, err := client.AcquireLock(ctx, "pending-sweep", "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = client.AcquireLock(ctx, "pending-sweep", "worker-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second acquire to fail: ok=%v err=%v", ok, err)
	}

	if err := client.ReleaseLock(ctx, "pending-sweep", "worker-b"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if _, held := mock.data["natal:lock:pending-sweep"]; !held {
		t.Fatalf("non-owner release must not drop the lock")
	}

	if err := client.ReleaseLock(ctx, "pending-sweep", "worker-a"); err != nil {
		t.Fatalf("release by owner: %v", err)
	}
	if _, held := mock.data["natal:lock:pending-sweep"]; held {
		t.Fatalf("owner release should drop the lock")
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected error from empty client")
	}
	if _, _, err := client.FixedWindowAllow(context.Background(), "x", 1, time.Second); err == nil {
		t.Fatalf("expected error from empty client")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.RateLimitKey("webhook:1.2.3.4"); got != "natal:rate_limit:webhook:1.2.3.4" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.IdempotencyKey("POST|/api/create", "k1"); got != "natal:idempotency:POST|/api/create:k1" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.LockKey(" cron "); got != "natal:lock:cron" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := buildKey("", "a"); got != "natal:a" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without url or address")
	}
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 2 || opts.PoolSize != 7 {
		t.Fatalf("unexpected options db=%d pool=%d", opts.DB, opts.PoolSize)
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Incr(_ context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// Eval only understands the lock release script.
func (m *mockCmdable) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	if len(keys) == 1 && len(args) == 1 && m.data[keys[0]] == fmt.Sprint(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}
