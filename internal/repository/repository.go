// Package repository defines the durable store contract (§6) and
// ships two implementations: a Postgres-backed Repository
// (postgres.go) and an in-memory one for tests and Postgres-less demos
// (memory.go). The repository is the sole source of truth; the
// coordination cache only ever caches its reads (§9).
package repository

import (
	"context"
	"time"

	"github.com/reconlabs/txreconcile/internal/model"
)

// TimelineInterval is the bucketing granularity for Timeline.
type TimelineInterval string

const (
	IntervalMinute TimelineInterval = "minute"
	IntervalHour   TimelineInterval = "hour"
	IntervalDay    TimelineInterval = "day"
)

// TimelineBucket is one point of the §4.4 timeline series. Field
// names are the wire contract (spec §4.4: "names are contracts, not
// prose") — tagged snake_case so the dashboard API serializes exactly
// what's documented, not Go's exported-field spelling.
type TimelineBucket struct {
	BucketLabel  string    `json:"bucket_label"`
	Timestamp    time.Time `json:"timestamp"`
	Transactions int64     `json:"transactions"`
	Mismatches   int64     `json:"mismatches"`
}

// RecentActivity captures the §4.4 recent_activity sub-object.
type RecentActivity struct {
	Transactions24h int64 `json:"transactions_24h"`
	Mismatches24h   int64 `json:"mismatches_24h"`
}

// StatsSnapshot is the §4.4 metric set, exactly as aggregated from the
// repository (before any cache wrapping). Field names are tagged to
// match §4.4's literal metric names.
type StatsSnapshot struct {
	TotalTransactions       int64            `json:"total_transactions"`
	TotalMismatches         int64            `json:"total_mismatches"`
	TotalReconciled         int64            `json:"total_reconciled"`
	PendingReconciliation   int64            `json:"pending_reconciliation"`
	SuccessRate             float64          `json:"success_rate"`
	SourceDistribution      map[string]int64 `json:"source_distribution"`
	StatusDistribution      map[string]int64 `json:"status_distribution"`
	ReconciliationBreakdown map[string]int64 `json:"reconciliation_breakdown"`
	MismatchTypes           map[string]int64 `json:"mismatch_types"`
	RecentActivity          RecentActivity   `json:"recent_activity"`
	Delayed                 int64            `json:"delayed"`
	Duplicates              int64            `json:"duplicates"`
}

// ViewFilter narrows ListViews.
type ViewFilter struct {
	Source string // empty = any
	Status string // empty = any; matches ReconciliationStatus
}

// MismatchFilter narrows ListMismatches.
type MismatchFilter struct {
	Severity string
	Type     string
	State    string
	TxnID    string
}

// Repository is the abstract durable store contract from spec §6.
type Repository interface {
	// SaveView persists (or re-persists) a view with the given
	// reconciliation status. Called on every accepted view, before
	// grouping (§4.3.5); failures here are logged, never fatal to the
	// engine.
	SaveView(ctx context.Context, view model.TransactionView, status model.ReconciliationStatus) error

	// UpdateReconciliation transitions every persisted view for txnID
	// to status, recording the sources that produced the verdict.
	UpdateReconciliation(ctx context.Context, txnID string, status model.ReconciliationStatus, sources []string) error

	// InsertMismatch appends a mismatch record. Append-only: never
	// mutates an existing row (§8).
	InsertMismatch(ctx context.Context, m model.Mismatch) error

	ListViews(ctx context.Context, limit int, filter ViewFilter) ([]model.PersistedView, error)
	ListViewsByTxn(ctx context.Context, txnID string) ([]model.PersistedView, error)

	ListMismatches(ctx context.Context, limit int, filter MismatchFilter) ([]model.Mismatch, error)

	AggregateStats(ctx context.Context) (StatsSnapshot, error)
	Timeline(ctx context.Context, hours int, interval TimelineInterval) ([]TimelineBucket, error)
}
