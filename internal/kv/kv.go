// Package kv defines the durable key-value repository that holds practice
// statistics, and an in-memory implementation of it.
//
// Values are opaque bytes scoped by profile, mirroring the per-profile
// storage a single user's client would have. Backends live in the sqlite and
// postgres subpackages.
package kv

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("kv: not found")

// Repository stores opaque values keyed by (profile, key).
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns the value stored under key for profile, or ErrNotFound.
	Get(ctx context.Context, profile, key string) ([]byte, error)

	// Put stores value under key for profile, replacing any previous value.
	Put(ctx context.Context, profile, key string, value []byte) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Compile-time interface check.
var _ Repository = (*Memory)(nil)

// Memory is a process-local [Repository]. The zero value is ready to use.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{}
}

// Get implements [Repository].
func (m *Memory) Get(_ context.Context, profile, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[profile][key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

// Put implements [Repository].
func (m *Memory) Put(_ context.Context, profile, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]map[string][]byte)
	}
	p, ok := m.data[profile]
	if !ok {
		p = make(map[string][]byte)
		m.data[profile] = p
	}
	p[key] = clone(value)
	return nil
}

// Ping implements [Repository]. It always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
