package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Fallback wraps a primary Cache (normally Redis) with a bounded
// timeout and transparently degrades to a process-local Memory cache
// on transport failure, per §4.2: "a failed cache call must never
// propagate to the engine's decision path".
type Fallback struct {
	primary Cache
	local   *Memory
	timeout time.Duration
	logger  zerolog.Logger
}

// NewFallback builds a degrading cache. primary may be nil, in which
// case every call goes straight to the local fallback (used when no
// Redis URL is configured).
func NewFallback(primary Cache, timeout time.Duration, logger zerolog.Logger) *Fallback {
	return &Fallback{
		primary: primary,
		local:   NewMemory(),
		timeout: timeout,
		logger:  logger.With().Str("component", "cache_fallback").Logger(),
	}
}

func (f *Fallback) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, f.timeout)
}

func (f *Fallback) degrade(op string, err error) {
	f.logger.Warn().Err(err).Str("op", op).Msg("coordination cache unavailable, using local fallback")
}

func (f *Fallback) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.primary != nil {
		cctx, cancel := f.withTimeout(ctx)
		err := f.primary.SetWithTTL(cctx, key, value, ttl)
		cancel()
		if err == nil {
			return nil
		}
		f.degrade("set_with_ttl", err)
	}
	return f.local.SetWithTTL(ctx, key, value, ttl)
}

func (f *Fallback) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.primary != nil {
		cctx, cancel := f.withTimeout(ctx)
		v, ok, err := f.primary.Get(cctx, key)
		cancel()
		if err == nil {
			return v, ok, nil
		}
		f.degrade("get", err)
	}
	return f.local.Get(ctx, key)
}

func (f *Fallback) Delete(ctx context.Context, key string) error {
	if f.primary != nil {
		cctx, cancel := f.withTimeout(ctx)
		err := f.primary.Delete(cctx, key)
		cancel()
		if err == nil {
			return nil
		}
		f.degrade("delete", err)
	}
	return f.local.Delete(ctx, key)
}

// SetIfAbsent is the single-flight primitive (§4.3.3). When the
// distributed cache is unavailable, the local map still enforces
// mutual exclusion within this process (the best available fallback;
// §5 accepts that cross-process exclusion degrades along with Redis).
func (f *Fallback) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if f.primary != nil {
		cctx, cancel := f.withTimeout(ctx)
		ok, err := f.primary.SetIfAbsent(cctx, key, value, ttl)
		cancel()
		if err == nil {
			return ok, nil
		}
		f.degrade("set_if_absent", err)
	}
	return f.local.SetIfAbsent(ctx, key, value, ttl)
}

func (f *Fallback) Incr(ctx context.Context, key string) (int64, error) {
	if f.primary != nil {
		cctx, cancel := f.withTimeout(ctx)
		n, err := f.primary.Incr(cctx, key)
		cancel()
		if err == nil {
			return n, nil
		}
		f.degrade("incr", err)
	}
	return f.local.Incr(ctx, key)
}

func (f *Fallback) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if f.primary != nil {
		cctx, cancel := f.withTimeout(ctx)
		err := f.primary.Expire(cctx, key, ttl)
		cancel()
		if err == nil {
			return nil
		}
		f.degrade("expire", err)
	}
	return f.local.Expire(ctx, key, ttl)
}

func (f *Fallback) SetAdd(ctx context.Context, key, member string) error {
	if f.primary != nil {
		cctx, cancel := f.withTimeout(ctx)
		err := f.primary.SetAdd(cctx, key, member)
		cancel()
		if err == nil {
			return nil
		}
		f.degrade("set_add", err)
	}
	return f.local.SetAdd(ctx, key, member)
}

func (f *Fallback) SetMembers(ctx context.Context, key string) ([]string, error) {
	if f.primary != nil {
		cctx, cancel := f.withTimeout(ctx)
		members, err := f.primary.SetMembers(cctx, key)
		cancel()
		if err == nil {
			return members, nil
		}
		f.degrade("set_members", err)
	}
	return f.local.SetMembers(ctx, key)
}

func (f *Fallback) SetRemove(ctx context.Context, key, member string) error {
	if f.primary != nil {
		cctx, cancel := f.withTimeout(ctx)
		err := f.primary.SetRemove(cctx, key, member)
		cancel()
		if err == nil {
			return nil
		}
		f.degrade("set_remove", err)
	}
	return f.local.SetRemove(ctx, key, member)
}

func (f *Fallback) Info(ctx context.Context) (map[string]string, error) {
	if f.primary != nil {
		cctx, cancel := f.withTimeout(ctx)
		info, err := f.primary.Info(cctx)
		cancel()
		if err == nil {
			info["fallback_active"] = "false"
			return info, nil
		}
		f.degrade("info", err)
	}
	info, _ := f.local.Info(ctx)
	info["fallback_active"] = "true"
	return info, nil
}
