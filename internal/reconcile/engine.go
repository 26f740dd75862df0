// Package reconcile is the reconciliation engine (§4.3): it groups views
// by txn_id across sources, serialises per-key work via a distributed
// lock, runs the comparison rules, persists the verdict and any
// mismatches, and keeps the counters and recent-verdict buffer that back
// the stats projector and the recent() query.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reconlabs/txreconcile/internal/cache"
	"github.com/reconlabs/txreconcile/internal/model"
	"github.com/reconlabs/txreconcile/internal/observability"
	"github.com/reconlabs/txreconcile/internal/repository"
)

// AuditSink receives every verdict for compliance record-keeping.
// Failures are the sink's own concern; the engine never waits on them.
type AuditSink interface {
	Record(ctx context.Context, v model.Verdict)
}

// Alerter is notified on the one user-visible failure class: a durable
// write that did not make it into the repository (§7).
type Alerter interface {
	DurableWriteFailed(ctx context.Context, txnID, operation string, err error)
}

type inflightEntry struct {
	group       *Group
	lastTouched time.Time
}

// Engine is the central reconciliation component (§4.3).
type Engine struct {
	cache      cache.Cache
	repo       repository.Repository
	audit      AuditSink
	alerter    Alerter
	metrics    *observability.Metrics
	logger     zerolog.Logger
	thresholds Thresholds

	keyed     *keyedMutex
	groupsMu  sync.Mutex
	groups    map[string]*inflightEntry
	stageTTL  time.Duration
	lockTTL   time.Duration

	attempts chan string

	recentMu  sync.Mutex
	recent    []model.Verdict
	recentCap int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// EngineConfig bundles the tunables Engine needs beyond its collaborators.
type EngineConfig struct {
	AmountTolerance float64
	TimeTolerance   time.Duration
	StageTTL        time.Duration
	LockTTL         time.Duration
	Workers         int
	RecentCap       int
}

// NewEngine wires an Engine from its collaborators. audit and alerter may
// be nil (no-ops).
func NewEngine(c cache.Cache, repo repository.Repository, audit AuditSink, alerter Alerter, logger zerolog.Logger, cfg EngineConfig) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.RecentCap <= 0 {
		cfg.RecentCap = 200
	}
	return &Engine{
		cache:   c,
		repo:    repo,
		audit:   audit,
		alerter: alerter,
		logger:  logger.With().Str("component", "reconcile_engine").Logger(),
		thresholds: Thresholds{
			Amount: cfg.AmountTolerance,
			Time:   cfg.TimeTolerance,
		},
		keyed:     newKeyedMutex(),
		groups:    make(map[string]*inflightEntry),
		stageTTL:  cfg.StageTTL,
		lockTTL:   cfg.LockTTL,
		attempts:  make(chan string, 1024),
		recentCap: cfg.RecentCap,
	}
}

// WithMetrics attaches a metrics registry; safe to call before Start.
// An Engine with no registry attached simply skips instrumentation.
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	return e
}

// Start launches the worker pool and the in-flight sweeper. Call Stop to
// shut both down.
func (e *Engine) Start(ctx context.Context, workers int) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if workers <= 0 {
		workers = 8
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	e.wg.Add(1)
	go e.sweepLoop(ctx)
}

// Stop cancels the worker pool and waits for it to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case txnID := <-e.attempts:
			e.attemptReconcile(ctx, txnID)
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepStale()
		}
	}
}

// sweepStale drops in-flight groups untouched for longer than the stage
// TTL, mirroring the cache's own stage:{txn_id}/stage-source:{source}
// expiry (§4.3.6). A group whose views all age out without reaching
// quorum is simply dropped: no verdict is ever written for it.
func (e *Engine) sweepStale() {
	cutoff := time.Now().Add(-e.stageTTL)
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	for txnID, entry := range e.groups {
		if entry.lastTouched.Before(cutoff) {
			delete(e.groups, txnID)
		}
	}
}

// Submit accepts a view for eventual grouping and verdict (§4.3.1).
// Non-blocking: persistence, staging, and reconciliation all happen off
// the caller's goroutine.
func (e *Engine) Submit(ctx context.Context, view model.TransactionView) {
	go e.ingestView(ctx, view)
}

func (e *Engine) ingestView(ctx context.Context, view model.TransactionView) {
	if e.metrics != nil {
		e.metrics.TrackSubmission(view.Source)
	}
	if err := e.repo.SaveView(ctx, view, model.ReconciliationPending); err != nil {
		e.logger.Warn().Err(err).Str("txn_id", view.TxnID).Str("source", view.Source).
			Msg("save_view failed; continuing (best-effort arrival write)")
	}

	e.stageView(ctx, view)

	unlock := e.keyed.Lock(view.TxnID)
	entry := e.getOrCreateGroup(view.TxnID)
	entry.group.Add(view)
	entry.lastTouched = time.Now()
	hasQuorum := entry.group.HasQuorum()
	unlock()

	if hasQuorum {
		e.enqueueAttempt(view.TxnID)
	}
}

// getOrCreateGroup returns the in-flight entry for txnID, creating one if
// absent. Callers must hold the keyed per-txn_id lock already; this only
// guards the map structure itself.
func (e *Engine) getOrCreateGroup(txnID string) *inflightEntry {
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	entry, ok := e.groups[txnID]
	if !ok {
		entry = &inflightEntry{group: NewGroup(txnID)}
		e.groups[txnID] = entry
	}
	return entry
}

// lookupGroup returns the in-flight entry for txnID, or nil if none
// exists.
func (e *Engine) lookupGroup(txnID string) *inflightEntry {
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	return e.groups[txnID]
}

func (e *Engine) enqueueAttempt(txnID string) {
	select {
	case e.attempts <- txnID:
	default:
		// Pool saturated: hand the send to a goroutine that blocks until
		// a worker frees a slot, rather than drop the attempt — a full
		// channel means the fleet is behind, not that this txn_id should
		// go unreconciled.
		go func() { e.attempts <- txnID }()
	}
}

func (e *Engine) stageView(ctx context.Context, view model.TransactionView) {
	payload, err := json.Marshal(struct {
		View     model.TransactionView `json:"view"`
		StoredAt time.Time             `json:"stored_at"`
	}{View: view, StoredAt: time.Now()})
	if err != nil {
		return
	}
	if err := e.cache.SetWithTTL(ctx, cache.StageKey(view.TxnID), payload, e.stageTTL); err != nil {
		e.logger.Debug().Err(err).Msg("stage cache set failed, degrading to local fallback")
	}
	if err := e.cache.SetAdd(ctx, cache.StageSourceKey(view.Source), view.TxnID); err != nil {
		e.logger.Debug().Err(err).Msg("stage-source index update failed")
	}
}

// attemptReconcile runs the single-flight-guarded compare-and-persist
// cycle for txnID (§4.3.3). Abandons silently if another worker in the
// fleet already holds the lock.
func (e *Engine) attemptReconcile(ctx context.Context, txnID string) {
	acquired, err := e.cache.SetIfAbsent(ctx, cache.LockKey(txnID), []byte(time.Now().Format(time.RFC3339)), e.lockTTL)
	if err != nil {
		e.logger.Warn().Err(err).Str("txn_id", txnID).Msg("lock acquisition errored; abandoning attempt")
		return
	}
	if !acquired {
		e.logger.Debug().Str("txn_id", txnID).Msg("reconciliation already in flight elsewhere; abandoning")
		if e.metrics != nil {
			e.metrics.TrackLockContention()
		}
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("txn_id", txnID).Msg("recovered panic during reconciliation")
		}
		if err := e.cache.Delete(ctx, cache.LockKey(txnID)); err != nil {
			e.logger.Warn().Err(err).Str("txn_id", txnID).Msg("lock release failed; 30s TTL will expire it")
		}
	}()

	// Take an immutable snapshot of the group's views while holding the
	// per-txn_id lock, so a concurrent Submit can't mutate the group's
	// map out from under the comparison below.
	unlock := e.keyed.Lock(txnID)
	var views []model.TransactionView
	var sources []string
	if entry := e.lookupGroup(txnID); entry != nil && entry.group.HasQuorum() {
		views = entry.group.Views()
		sources = entry.group.Sources()
	}
	unlock()
	if views == nil {
		return
	}

	started := time.Now()
	mismatches := compareGroup(txnID, views, e.thresholds)
	status := model.VerdictMatched
	reconStatus := model.ReconciliationMatched
	if len(mismatches) > 0 {
		status = model.VerdictMismatch
		reconStatus = model.ReconciliationMismatch
	}

	verdict := model.Verdict{
		TxnID:      txnID,
		Sources:    sources,
		Status:     status,
		VerdictAt:  time.Now(),
		Mismatches: mismatches,
	}

	e.persist(ctx, verdict, reconStatus)
	e.recordRecent(verdict)
	e.evictStage(ctx, txnID, sources)

	if e.metrics != nil {
		e.metrics.TrackVerdict(string(status), len(mismatches), float64(time.Since(started).Milliseconds()))
	}

	if e.audit != nil {
		e.audit.Record(ctx, verdict)
	}
}

func (e *Engine) persist(ctx context.Context, v model.Verdict, reconStatus model.ReconciliationStatus) {
	if err := e.repo.UpdateReconciliation(ctx, v.TxnID, reconStatus, v.Sources); err != nil {
		e.logger.Error().Err(err).Str("txn_id", v.TxnID).Msg("update_reconciliation failed")
		if e.alerter != nil {
			e.alerter.DurableWriteFailed(ctx, v.TxnID, "update_reconciliation", err)
		}
	}
	for _, m := range v.Mismatches {
		if err := e.repo.InsertMismatch(ctx, m); err != nil {
			e.logger.Error().Err(err).Str("txn_id", v.TxnID).Str("type", string(m.Type)).Msg("insert_mismatch failed")
			if e.alerter != nil {
				e.alerter.DurableWriteFailed(ctx, v.TxnID, fmt.Sprintf("insert_mismatch:%s", m.Type), err)
			}
		}
	}
}

func (e *Engine) evictStage(ctx context.Context, txnID string, sources []string) {
	if err := e.cache.Delete(ctx, cache.StageKey(txnID)); err != nil {
		e.logger.Debug().Err(err).Msg("stage key eviction failed; will expire via TTL")
	}
	for _, src := range sources {
		if err := e.cache.SetRemove(ctx, cache.StageSourceKey(src), txnID); err != nil {
			e.logger.Debug().Err(err).Msg("stage-source index eviction failed; will expire via TTL")
		}
	}
}

func (e *Engine) recordRecent(v model.Verdict) {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	e.recent = append(e.recent, v)
	if len(e.recent) > e.recentCap {
		e.recent = e.recent[len(e.recent)-e.recentCap:]
	}
}

// Recent returns up to limit of the most recently decided verdicts, most
// recent last, in the order the verdicts were decided. That order can
// differ from the order in which the views were submitted.
func (e *Engine) Recent(limit int) []model.Verdict {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	if limit <= 0 || limit > len(e.recent) {
		limit = len(e.recent)
	}
	out := make([]model.Verdict, limit)
	copy(out, e.recent[len(e.recent)-limit:])
	return out
}

// Statistics returns a point-in-time aggregate snapshot from the
// repository (§4.4); callers that want the cached version should go
// through the stats projector instead.
func (e *Engine) Statistics(ctx context.Context) (repository.StatsSnapshot, error) {
	return e.repo.AggregateStats(ctx)
}
