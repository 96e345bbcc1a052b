// ABOUTME: Thread-safe in-process cache with TTL expiry and bounded size
// ABOUTME: Evicts the oldest entry at capacity and cleans up expired entries in the background

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry stores a value, its expiry, and its position in insertion order.
type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
	element *list.Element
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Memory is an in-process Cache. It uses a doubly-linked list to maintain
// insertion order for O(1) eviction once maxSize is reached.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	order      *list.List // keys in insertion order (oldest at front)
	defaultTTL time.Duration
	maxSize    int
	now        func() time.Time
	done       chan struct{}
	closed     bool
}

// NewMemory creates an in-process cache. A defaultTTL of zero keeps entries
// until evicted; a maxSize of zero or less disables the size bound.
// A background goroutine periodically removes expired entries.
func NewMemory(defaultTTL time.Duration, maxSize int) *Memory {
	m := &Memory{
		entries:    make(map[string]*memoryEntry),
		order:      list.New(),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Get returns the value stored under key if present and not expired.
// The returned slice is a copy.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok || entry.expired(m.now()) {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Set stores value under key. If the cache is at capacity, the oldest entry
// is evicted to make room.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl == 0 {
		ttl = m.defaultTTL
	}
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	stored := append([]byte(nil), value...)

	if entry, exists := m.entries[key]; exists {
		entry.value = stored
		entry.expires = expires
		m.order.MoveToBack(entry.element)
		return nil
	}

	if m.maxSize > 0 && len(m.entries) >= m.maxSize {
		m.evictOldest()
	}

	m.entries[key] = &memoryEntry{
		value:   stored,
		expires: expires,
		element: m.order.PushBack(key),
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok {
		m.order.Remove(entry.element)
		delete(m.entries, key)
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet cleaned up.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (m *Memory) runCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.entries {
		if entry.expired(now) {
			m.order.Remove(entry.element)
			delete(m.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}
