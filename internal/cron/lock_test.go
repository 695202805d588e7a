package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memLockStore struct {
	owners map[string]string
	err    error
}

func (m *memLockStore) AcquireLock(_ context.Context, name, owner string, _ time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, taken := m.owners[name]; taken {
		return false, nil
	}
	m.owners[name] = owner
	return true, nil
}

func (m *memLockStore) ReleaseLock(_ context.Context, name, owner string) error {
	if m.owners[name] == owner {
		delete(m.owners, name)
	}
	return nil
}

func TestRedisLockExclusive(t *testing.T) {
	store := &memLockStore{owners: map[string]string{}}
	first, err := NewRedisLock(store, "cron", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewRedisLock(store, "cron", time.Minute)
	ctx := context.Background()

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second instance acquired a held lock")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release without ownership: %v", err)
	}
	if _, held := store.owners["cron"]; !held {
		t.Fatal("non-owner released the lock")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("lock not free after release")
	}
}

func TestRedisLockErrors(t *testing.T) {
	if _, err := NewRedisLock(nil, "cron", 0); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewRedisLock(&memLockStore{}, "", 0); err == nil {
		t.Fatal("expected error for empty name")
	}
	lock, _ := NewRedisLock(&memLockStore{err: errors.New("down")}, "cron", 0)
	if _, err := lock.Acquire(context.Background()); err == nil {
		t.Fatal("expected acquire error")
	}
}
