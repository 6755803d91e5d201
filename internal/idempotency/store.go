// Package idempotency remembers which checkout attempt an Idempotency-Key
// started, so a reloaded page re-submitting the same key observes the
// original attempt instead of starting a second one.
package idempotency

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrKeyNotFound = errors.New("idempotency key not found")
	ErrKeyExists   = errors.New("idempotency key already used")
)

// Record binds a key to a cart. A record saved before its attempt started
// has an empty AttemptID until SetAttempt fills it in.
type Record struct {
	Key       string
	CartID    string
	AttemptID string
}

func (r Record) Pending() bool { return r.AttemptID == "" }

// Store reserves keys. Save is the only way to claim a key, so of two
// concurrent requests carrying the same key exactly one gets to start an
// attempt.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	// Save fails with ErrKeyExists when the key is already recorded.
	Save(ctx context.Context, rec Record) error
	// SetAttempt records the attempt a reserved key started.
	SetAttempt(ctx context.Context, key, attemptID string) error
	// Delete releases a reservation whose attempt never started.
	Delete(ctx context.Context, key string) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.Key]; ok {
		return ErrKeyExists
	}
	m.records[rec.Key] = rec
	return nil
}

func (m *MemoryStore) SetAttempt(_ context.Context, key, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return ErrKeyNotFound
	}
	rec.AttemptID = attemptID
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}
