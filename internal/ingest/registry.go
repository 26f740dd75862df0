package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reconlabs/txreconcile/internal/observability"
)

// SourceHealth is the last-observed liveness of one source feed.
type SourceHealth struct {
	LastMessageAt time.Time
	MessageCount  int64
	Healthy       bool
}

// Registry tracks per-source last-message times and runs a background
// poller that flags a source unhealthy once it has gone quiet for longer
// than the configured threshold. Adapted from the teacher's provider
// health poller (services/gateway/provider/healthpoller.go), which polls
// a registry on a ticker and fires transition callbacks — here the
// "health check" is staleness of the last delivered message rather than an
// active HTTP probe, since a quiet topic is not necessarily a dead one.
type Registry struct {
	mu        sync.RWMutex
	health    map[string]*SourceHealth
	threshold time.Duration
	logger    zerolog.Logger
	metrics   *observability.Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

// WithMetrics attaches a metrics registry; safe to call before Start.
func (r *Registry) WithMetrics(m *observability.Metrics) *Registry {
	r.metrics = m
	return r
}

// NewRegistry creates a registry that considers a source unhealthy once
// it has produced no messages for staleThreshold.
func NewRegistry(staleThreshold time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		health:    make(map[string]*SourceHealth),
		threshold: staleThreshold,
		logger:    logger.With().Str("component", "source_registry").Logger(),
		done:      make(chan struct{}),
	}
}

// Observe records a delivered message for source, called once per payload
// handled by an Ingester.
func (r *Registry) Observe(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.health[source]
	if !ok {
		h = &SourceHealth{}
		r.health[source] = h
	}
	h.LastMessageAt = time.Now()
	h.MessageCount++
	h.Healthy = true
}

// Start begins the background staleness sweep at the given interval.
func (r *Registry) Start(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.sweepLoop(ctx, interval)
}

// Stop halts the background sweep.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Registry) sweepLoop(ctx context.Context, interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for name, h := range r.health {
		stale := !h.LastMessageAt.IsZero() && now.Sub(h.LastMessageAt) > r.threshold
		if h.Healthy && stale {
			r.logger.Warn().Str("source", name).Time("last_message_at", h.LastMessageAt).Msg("source feed went stale")
		}
		h.Healthy = !stale
		if r.metrics != nil {
			r.metrics.TrackSourceHealth(name, h.Healthy)
		}
	}
}

// Snapshot returns a copy of the current per-source health map.
func (r *Registry) Snapshot() map[string]SourceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]SourceHealth, len(r.health))
	for name, h := range r.health {
		out[name] = *h
	}
	return out
}
