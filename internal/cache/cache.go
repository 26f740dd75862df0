// Package cache implements the coordination cache interface (§4.2, §6):
// a keyed TTL store used for in-flight staging, single-flight locking,
// throttling repeat checks, and caching read-side query results.
//
// All operations are best-effort from the engine's point of view — see
// Fallback in fallback.go for the degrade-to-local-map behaviour required
// by §4.2 and §5.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is the coordination cache interface from spec §6.
type Cache interface {
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// SetIfAbsent atomically sets key to value with the given TTL only
	// if key does not already exist. Returns true if the set happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SetAdd(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetRemove(ctx context.Context, key, member string) error
	// Info reports operability details for a health/status endpoint.
	Info(ctx context.Context) (map[string]string, error)
}

// Key families from spec §4.2, with their documented TTLs.
const (
	StageTTLDefault     = 5 * time.Minute
	LockTTLDefault      = 30 * time.Second
	ThrottleTTLDefault  = 5 * time.Second
	APICacheTTLDefault  = 30 * time.Second
	StatsTTLDefault     = 2 * time.Minute
	RateLimitTTLDefault = time.Hour
)

// StageKey returns the key under which a staged view's serialised
// payload + stored_at is mirrored.
func StageKey(txnID string) string { return fmt.Sprintf("stage:%s", txnID) }

// StageSourceKey returns the reverse-index key for a source's set of
// staged txn ids.
func StageSourceKey(source string) string { return fmt.Sprintf("stage-source:%s", source) }

// LockKey returns the single-flight lock key for a txn id.
func LockKey(txnID string) string { return fmt.Sprintf("lock:%s", txnID) }

// ThrottleKey returns the back-pressure counter key for a txn id.
func ThrottleKey(txnID string) string { return fmt.Sprintf("throttle:%s", txnID) }

// StatsKey returns the read-side cache key for a named stats payload.
func StatsKey(name string) string { return fmt.Sprintf("stats:%s", name) }

// APICacheKey returns the read-side cache key for an endpoint+params hash.
func APICacheKey(hash string) string { return fmt.Sprintf("cache:api:%s", hash) }

// RateKey returns the optional caller rate-limit key.
func RateKey(identifier string) string { return fmt.Sprintf("rate:%s", identifier) }
