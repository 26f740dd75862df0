package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reconlabs/txreconcile/internal/model"
)

// Memory is an in-process Repository, used for tests and for running
// the demo without Postgres. One current row is kept per (txn_id,
// source) — consistent with the staging invariant that a view is
// unique per (txn_id, source) — while a separate submission counter
// tracks how many times each key was (re-)submitted, to support the
// §8 "duplicates" metric without needing an unbounded row history.
type Memory struct {
	mu sync.RWMutex

	views       map[string]*model.PersistedView // key: txn_id|source
	submissions map[string]int64                // key: txn_id|source
	firstSeenAt map[string]time.Time            // key: txn_id

	mismatches []model.Mismatch
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		views:       make(map[string]*model.PersistedView),
		submissions: make(map[string]int64),
		firstSeenAt: make(map[string]time.Time),
	}
}

func (m *Memory) SaveView(_ context.Context, view model.TransactionView, status model.ReconciliationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := view.Key()
	now := time.Now()
	m.submissions[key]++

	if _, ok := m.firstSeenAt[view.TxnID]; !ok {
		m.firstSeenAt[view.TxnID] = now
	}

	existing, ok := m.views[key]
	if ok {
		existing.TransactionView = view
		// A resubmission never regresses an already-reconciled status
		// back to PENDING.
		if existing.ReconciliationStatus == model.ReconciliationPending {
			existing.ReconciliationStatus = status
		}
		return nil
	}

	m.views[key] = &model.PersistedView{
		TransactionView:      view,
		ReconciliationStatus: status,
		CreatedAt:            now,
	}
	return nil
}

func (m *Memory) UpdateReconciliation(_ context.Context, txnID string, status model.ReconciliationStatus, sources []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	sorted := append([]string(nil), sources...)
	sort.Strings(sorted)

	for key, v := range m.views {
		if !strings.HasPrefix(key, txnID+"|") {
			continue
		}
		v.ReconciliationStatus = status
		v.ReconciledAt = &now
		v.ReconciledWithSources = sorted
	}
	return nil
}

func (m *Memory) InsertMismatch(_ context.Context, mm model.Mismatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mismatches = append(m.mismatches, mm)
	return nil
}

func (m *Memory) ListViews(_ context.Context, limit int, filter ViewFilter) ([]model.PersistedView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.PersistedView, 0, len(m.views))
	for _, v := range m.views {
		if filter.Source != "" && v.Source != filter.Source {
			continue
		}
		if filter.Status != "" && string(v.ReconciliationStatus) != filter.Status {
			continue
		}
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListViewsByTxn(_ context.Context, txnID string) ([]model.PersistedView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.PersistedView
	for key, v := range m.views {
		if strings.HasPrefix(key, txnID+"|") {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (m *Memory) ListMismatches(_ context.Context, limit int, filter MismatchFilter) ([]model.Mismatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Mismatch, 0, len(m.mismatches))
	for i := len(m.mismatches) - 1; i >= 0; i-- {
		mm := m.mismatches[i]
		if filter.Severity != "" && string(mm.Severity) != filter.Severity {
			continue
		}
		if filter.Type != "" && string(mm.Type) != filter.Type {
			continue
		}
		if filter.State != "" && string(mm.State) != filter.State {
			continue
		}
		if filter.TxnID != "" && mm.TxnID != filter.TxnID {
			continue
		}
		out = append(out, mm)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) AggregateStats(_ context.Context) (StatsSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := StatsSnapshot{
		SourceDistribution:      make(map[string]int64),
		StatusDistribution:      make(map[string]int64),
		ReconciliationBreakdown: make(map[string]int64),
		MismatchTypes:           make(map[string]int64),
	}

	now := time.Now()
	dayAgo := now.Add(-24 * time.Hour)

	for _, v := range m.views {
		snap.TotalTransactions++
		snap.SourceDistribution[v.Source]++
		snap.StatusDistribution[string(v.Status)]++
		snap.ReconciliationBreakdown[string(v.ReconciliationStatus)]++

		switch v.ReconciliationStatus {
		case model.ReconciliationMatched, model.ReconciliationMismatch:
			snap.TotalReconciled++
		case model.ReconciliationPending:
			snap.PendingReconciliation++
		}

		if v.CreatedAt.After(dayAgo) {
			snap.RecentActivity.Transactions24h++
		}

		if v.ReconciledAt != nil {
			first, ok := m.firstSeenAt[v.TxnID]
			if ok && v.ReconciledAt.Sub(first) > 5*time.Minute {
				snap.Delayed++
			}
		}
	}

	for _, count := range m.submissions {
		if count > 1 {
			snap.Duplicates++
		}
	}

	matched := snap.ReconciliationBreakdown[string(model.ReconciliationMatched)]
	mismatched := snap.ReconciliationBreakdown[string(model.ReconciliationMismatch)]
	if matched+mismatched == 0 {
		snap.SuccessRate = 100.0
	} else {
		snap.SuccessRate = float64(matched) / float64(matched+mismatched) * 100
	}

	for _, mm := range m.mismatches {
		snap.TotalMismatches++
		snap.MismatchTypes[string(mm.Type)]++
		if mm.DetectedAt.After(dayAgo) {
			snap.RecentActivity.Mismatches24h++
		}
	}

	return snap, nil
}

func (m *Memory) Timeline(_ context.Context, hours int, interval TimelineInterval) ([]TimelineBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	step := bucketStep(interval)
	now := time.Now().Truncate(step)
	start := now.Add(-time.Duration(hours) * time.Hour)

	numBuckets := int(now.Sub(start) / step)
	buckets := make([]TimelineBucket, numBuckets)
	for i := range buckets {
		ts := start.Add(time.Duration(i) * step)
		buckets[i] = TimelineBucket{
			BucketLabel: ts.Format(labelFormat(interval)),
			Timestamp:   ts,
		}
	}

	indexFor := func(t time.Time) (int, bool) {
		if t.Before(start) || !t.Before(now) {
			return 0, false
		}
		idx := int(t.Sub(start) / step)
		if idx < 0 || idx >= len(buckets) {
			return 0, false
		}
		return idx, true
	}

	for _, v := range m.views {
		if idx, ok := indexFor(v.CreatedAt); ok {
			buckets[idx].Transactions++
		}
	}
	for _, mm := range m.mismatches {
		if idx, ok := indexFor(mm.DetectedAt); ok {
			buckets[idx].Mismatches++
		}
	}

	return buckets, nil
}

func bucketStep(interval TimelineInterval) time.Duration {
	switch interval {
	case IntervalMinute:
		return time.Minute
	case IntervalDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

func labelFormat(interval TimelineInterval) string {
	switch interval {
	case IntervalMinute:
		return "15:04"
	case IntervalDay:
		return "2006-01-02"
	default:
		return "2006-01-02 15:00"
	}
}

var _ Repository = (*Memory)(nil)
