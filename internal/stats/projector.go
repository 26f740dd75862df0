// Package stats implements the read-only stats projector (§4.4): a thin
// cache-then-repository path that backs the dashboard's aggregate and
// timeline queries.
package stats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/reconlabs/txreconcile/internal/cache"
	"github.com/reconlabs/txreconcile/internal/repository"
)

// Projector is a pure read path over a Repository, consulting a Cache
// first under the stats:{name} key family (§4.4) before falling through.
type Projector struct {
	repo   repository.Repository
	cache  cache.Cache
	logger zerolog.Logger
}

// NewProjector builds a stats Projector.
func NewProjector(repo repository.Repository, c cache.Cache, logger zerolog.Logger) *Projector {
	return &Projector{repo: repo, cache: c, logger: logger.With().Str("component", "stats_projector").Logger()}
}

// Aggregate returns the §4.4 snapshot, served from cache when possible.
func (p *Projector) Aggregate(ctx context.Context) (repository.StatsSnapshot, error) {
	key := cache.StatsKey("aggregate")

	if cached, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		var snap repository.StatsSnapshot
		if jsonErr := json.Unmarshal(cached, &snap); jsonErr == nil {
			return snap, nil
		}
	}

	snap, err := p.repo.AggregateStats(ctx)
	if err != nil {
		return repository.StatsSnapshot{}, fmt.Errorf("aggregate stats: %w", err)
	}

	if payload, err := json.Marshal(snap); err == nil {
		if err := p.cache.SetWithTTL(ctx, key, payload, cache.StatsTTLDefault); err != nil {
			p.logger.Debug().Err(err).Msg("failed to cache aggregate stats")
		}
	}
	return snap, nil
}

// Timeline returns the §4.4 timeline buckets for (hours, interval),
// served from cache when possible.
func (p *Projector) Timeline(ctx context.Context, hours int, interval repository.TimelineInterval) ([]repository.TimelineBucket, error) {
	key := cache.StatsKey(fmt.Sprintf("timeline:%d:%s", hours, interval))

	if cached, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		var buckets []repository.TimelineBucket
		if jsonErr := json.Unmarshal(cached, &buckets); jsonErr == nil {
			return buckets, nil
		}
	}

	buckets, err := p.repo.Timeline(ctx, hours, interval)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}

	if payload, err := json.Marshal(buckets); err == nil {
		if err := p.cache.SetWithTTL(ctx, key, payload, cache.StatsTTLDefault); err != nil {
			p.logger.Debug().Err(err).Msg("failed to cache timeline")
		}
	}
	return buckets, nil
}
