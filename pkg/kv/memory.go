// Package kv provides an in-process implementation of the core.KV
// session-store port. It honors per-entry TTLs and glob Keys lookups,
// which is all the session manager asks of a backend; production
// deployments use the Redis adapter instead.
package kv

import (
	"context"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmfrees/warden/core"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is a map-backed expiring key-value store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	maxSize int

	// counters
	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	evictions int64
}

var _ core.KV = (*Memory)(nil)

func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	return &Memory{
		entries: make(map[string]*entry),
		maxSize: maxSize,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&m.misses, 1)
		return "", core.ErrKeyNotFound
	}

	if e.expired(time.Now()) {
		atomic.AddInt64(&m.misses, 1)
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", core.ErrKeyNotFound
	}

	atomic.AddInt64(&m.hits, 1)
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Simple eviction if full: drop expired entries first, then an
	// arbitrary live one.
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxSize {
		now := time.Now()
		for k, e := range m.entries {
			if e.expired(now) {
				delete(m.entries, k)
				atomic.AddInt64(&m.evictions, 1)
			}
		}
		if len(m.entries) >= m.maxSize {
			for k := range m.entries {
				delete(m.entries, k)
				atomic.AddInt64(&m.evictions, 1)
				break
			}
		}
	}

	m.entries[key] = &entry{value: value, expiresAt: expiresAt}
	atomic.AddInt64(&m.sets, 1)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, existed := m.entries[key]
	if !existed {
		return false, nil
	}
	delete(m.entries, key)
	atomic.AddInt64(&m.deletes, 1)

	// A key that had already lapsed counts as absent.
	if e.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var keys []string
	for k, e := range m.entries {
		if e.expired(now) {
			continue
		}
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Stats() core.CacheStats {
	return core.CacheStats{
		Hits:      atomic.LoadInt64(&m.hits),
		Misses:    atomic.LoadInt64(&m.misses),
		Sets:      atomic.LoadInt64(&m.sets),
		Deletes:   atomic.LoadInt64(&m.deletes),
		Evictions: atomic.LoadInt64(&m.evictions),
		Size:      m.Len(),
	}
}
