package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/natalfamilia/natal-backend/pkg/instance"
)

const defaultLockTTL = 15 * time.Minute

// Lock coordinates exclusive cron cycles across instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
}

// RedisLock holds a named Redis lock with an owner token so only the holder
// can release it. Tokens are "<instance>/<uuid>" so the key shows who holds it.
type RedisLock struct {
	store lockStore
	name  string
	ttl   time.Duration
	owner string
}

func NewRedisLock(store lockStore, name string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, name: name, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := instance.ID() + "/" + uuid.NewString()
	ok, err := l.store.AcquireLock(ctx, l.name, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.name, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if err := l.store.ReleaseLock(ctx, l.name, l.owner); err != nil {
		return fmt.Errorf("release %s: %w", l.name, err)
	}
	l.owner = ""
	return nil
}
