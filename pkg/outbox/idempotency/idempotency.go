// Package idempotency marks consumed events as processed so redelivered
// messages are skipped.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store is the Redis surface the guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager tracks processed event ids per consumer with SETNX and a TTL.
// Keys follow `<prefix>:idem:evt:processed:<consumer>:<event_id>`.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// CheckAndMarkProcessed reports whether eventID was already processed by
// consumer, marking it when it was not.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete releases the mark so a failed event can be processed again.
func (m *Manager) Delete(ctx context.Context, consumer, eventID string) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer, eventID string) (string, error) {
	if strings.TrimSpace(consumer) == "" {
		return "", errors.New("consumer name is required")
	}
	if strings.TrimSpace(eventID) == "" {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("evt:processed:%s", consumer), eventID), nil
}
