package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local, mutex-guarded TTL store. It implements the
// full Cache contract and backs the engine whenever the distributed
// cache is unreachable (§4.2, §5), grounded on the teacher's in-process
// semantic cache engine (gateway/caching/caching.go): a map guarded by
// a single mutex, entries carrying their own expiry, lazy eviction on
// access.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	value     []byte
	set       map[string]struct{}
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemory creates an empty local fallback cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memEntry)}
}

func (m *Memory) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &memEntry{value: append([]byte(nil), value...), expiresAt: expiryFor(ttl)}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		if ok {
			delete(m.entries, key)
		}
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	m.entries[key] = &memEntry{value: append([]byte(nil), value...), expiresAt: expiryFor(ttl)}
	return true, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		e = &memEntry{value: []byte("1")}
		m.entries[key] = e
		return 1, nil
	}
	n := parseInt(e.value) + 1
	e.value = formatInt(n)
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		e.expiresAt = expiryFor(ttl)
	}
	return nil
}

func (m *Memory) SetAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		e = &memEntry{set: make(map[string]struct{})}
		m.entries[key] = e
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	e.set[member] = struct{}{}
	return nil
}

func (m *Memory) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) || e.set == nil {
		return nil, nil
	}
	out := make([]string, 0, len(e.set))
	for k := range e.set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SetRemove(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && e.set != nil {
		delete(e.set, member)
	}
	return nil
}

func (m *Memory) Info(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]string{
		"backend": "memory-fallback",
		"entries": formatIntString(len(m.entries)),
	}, nil
}

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func parseInt(b []byte) int64 {
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func formatInt(n int64) []byte {
	if n == 0 {
		return []byte("0")
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return buf[i:]
}

func formatIntString(n int) string {
	return string(formatInt(int64(n)))
}
