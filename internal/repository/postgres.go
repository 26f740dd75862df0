package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reconlabs/txreconcile/internal/model"
)

// schemaDDL lays out the two logical tables from spec §6, adapted from
// the teacher's ClickHouse request_log DDL (gateway/analytics/schema.go)
// down to a normal OLTP schema: point reads/writes on (txn_id, source)
// rather than analytical scans.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS views (
	txn_id                    TEXT NOT NULL,
	source                    TEXT NOT NULL,
	amount                    DOUBLE PRECISION NOT NULL,
	status                    TEXT NOT NULL,
	currency                  TEXT NOT NULL,
	account_id                TEXT,
	observed_at               TIMESTAMPTZ,
	reconciliation_status     TEXT NOT NULL DEFAULT 'PENDING',
	reconciled_at             TIMESTAMPTZ,
	reconciled_with_sources   TEXT[],
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	submission_count          BIGINT NOT NULL DEFAULT 1,
	PRIMARY KEY (txn_id, source)
);

CREATE TABLE IF NOT EXISTS mismatches (
	id                 BIGSERIAL PRIMARY KEY,
	txn_id             TEXT NOT NULL,
	type               TEXT NOT NULL,
	severity           TEXT NOT NULL,
	detail             TEXT NOT NULL,
	sources            TEXT[] NOT NULL,
	difference_amount  DOUBLE PRECISION,
	expected_value     TEXT,
	actual_value       TEXT,
	state              TEXT NOT NULL DEFAULT 'OPEN',
	detected_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_mismatches_txn_id ON mismatches (txn_id);
CREATE INDEX IF NOT EXISTS idx_views_reconciliation_status ON views (reconciliation_status);
`

// Postgres is a pgx-backed Repository, grounded on paymatch's
// internal/store/postgres package (other_examples/fcb352a6_mulutu-paymatch__internal-core-reconcile-worker.go.go),
// which pairs pgx/v5 transactions with an upsert-then-mark-processed
// write pattern for the same reconciliation domain.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) SaveView(ctx context.Context, v model.TransactionView, status model.ReconciliationStatus) error {
	// submission_count tracks how many times this (txn_id, source) key
	// has been saved, independent of the single current row the
	// upsert keeps — it's what Duplicates is computed from, since the
	// deduplicated views table itself can never show cardinality > 1
	// per key.
	_, err := p.pool.Exec(ctx, `
		INSERT INTO views (txn_id, source, amount, status, currency, account_id, observed_at, reconciliation_status, submission_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		ON CONFLICT (txn_id, source) DO UPDATE SET
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			currency = EXCLUDED.currency,
			account_id = EXCLUDED.account_id,
			observed_at = EXCLUDED.observed_at,
			reconciliation_status = CASE
				WHEN views.reconciliation_status = 'PENDING' THEN EXCLUDED.reconciliation_status
				ELSE views.reconciliation_status
			END,
			submission_count = views.submission_count + 1
	`, v.TxnID, v.Source, v.Amount, string(v.Status), v.Currency, v.AccountID, v.Timestamp, string(status))
	return err
}

func (p *Postgres) UpdateReconciliation(ctx context.Context, txnID string, status model.ReconciliationStatus, sources []string) error {
	now := time.Now()
	_, err := p.pool.Exec(ctx, `
		UPDATE views
		SET reconciliation_status = $2, reconciled_at = $3, reconciled_with_sources = $4
		WHERE txn_id = $1
	`, txnID, string(status), now, sources)
	return err
}

func (p *Postgres) InsertMismatch(ctx context.Context, m model.Mismatch) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO mismatches (txn_id, type, severity, detail, sources, difference_amount, expected_value, actual_value, state, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.TxnID, string(m.Type), string(m.Severity), m.Detail, m.Sources, m.DifferenceAmount, m.ExpectedValue, m.ActualValue, string(m.State), m.DetectedAt)
	return err
}

func (p *Postgres) ListViews(ctx context.Context, limit int, filter ViewFilter) ([]model.PersistedView, error) {
	query := `SELECT txn_id, source, amount, status, currency, account_id, observed_at,
		reconciliation_status, reconciled_at, reconciled_with_sources, created_at
		FROM views WHERE ($1 = '' OR source = $1) AND ($2 = '' OR reconciliation_status = $2)
		ORDER BY created_at DESC LIMIT $3`
	rows, err := p.pool.Query(ctx, query, filter.Source, filter.Status, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanViews(rows)
}

func (p *Postgres) ListViewsByTxn(ctx context.Context, txnID string) ([]model.PersistedView, error) {
	rows, err := p.pool.Query(ctx, `SELECT txn_id, source, amount, status, currency, account_id, observed_at,
		reconciliation_status, reconciled_at, reconciled_with_sources, created_at
		FROM views WHERE txn_id = $1 ORDER BY source`, txnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanViews(rows)
}

func scanViews(rows pgx.Rows) ([]model.PersistedView, error) {
	var out []model.PersistedView
	for rows.Next() {
		var v model.PersistedView
		var status, reconStatus string
		if err := rows.Scan(&v.TxnID, &v.Source, &v.Amount, &status, &v.Currency, &v.AccountID,
			&v.Timestamp, &reconStatus, &v.ReconciledAt, &v.ReconciledWithSources, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Status = model.TransactionStatus(status)
		v.ReconciliationStatus = model.ReconciliationStatus(reconStatus)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) ListMismatches(ctx context.Context, limit int, filter MismatchFilter) ([]model.Mismatch, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT txn_id, type, severity, detail, sources, difference_amount, expected_value, actual_value, state, detected_at
		FROM mismatches
		WHERE ($1 = '' OR severity = $1) AND ($2 = '' OR type = $2) AND ($3 = '' OR state = $3) AND ($4 = '' OR txn_id = $4)
		ORDER BY detected_at DESC LIMIT $5
	`, filter.Severity, filter.Type, filter.State, filter.TxnID, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Mismatch
	for rows.Next() {
		var mm model.Mismatch
		var mtype, sev, state string
		if err := rows.Scan(&mm.TxnID, &mtype, &sev, &mm.Detail, &mm.Sources, &mm.DifferenceAmount,
			&mm.ExpectedValue, &mm.ActualValue, &state, &mm.DetectedAt); err != nil {
			return nil, err
		}
		mm.Type = model.MismatchType(mtype)
		mm.Severity = model.Severity(sev)
		mm.State = model.MismatchState(state)
		out = append(out, mm)
	}
	return out, rows.Err()
}

func (p *Postgres) AggregateStats(ctx context.Context) (StatsSnapshot, error) {
	snap := StatsSnapshot{
		SourceDistribution:      make(map[string]int64),
		StatusDistribution:      make(map[string]int64),
		ReconciliationBreakdown: make(map[string]int64),
		MismatchTypes:           make(map[string]int64),
	}

	row := p.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE reconciliation_status IN ('MATCHED','MISMATCH')),
			count(*) FILTER (WHERE reconciliation_status = 'PENDING'),
			count(*) FILTER (WHERE reconciliation_status = 'MATCHED'),
			count(*) FILTER (WHERE reconciliation_status = 'MISMATCH'),
			count(*) FILTER (WHERE created_at > now() - interval '24 hours'),
			count(*) FILTER (WHERE reconciled_at IS NOT NULL AND reconciled_at - created_at > interval '5 minutes')
		FROM views
	`)
	var matched, mismatched int64
	if err := row.Scan(&snap.TotalTransactions, &snap.TotalReconciled, &snap.PendingReconciliation,
		&matched, &mismatched, &snap.RecentActivity.Transactions24h, &snap.Delayed); err != nil {
		return snap, err
	}
	if matched+mismatched == 0 {
		snap.SuccessRate = 100.0
	} else {
		snap.SuccessRate = float64(matched) / float64(matched+mismatched) * 100
	}

	if err := p.fillDistribution(ctx, `SELECT source, count(*) FROM views GROUP BY source`, snap.SourceDistribution); err != nil {
		return snap, err
	}
	if err := p.fillDistribution(ctx, `SELECT status, count(*) FROM views GROUP BY status`, snap.StatusDistribution); err != nil {
		return snap, err
	}
	if err := p.fillDistribution(ctx, `SELECT reconciliation_status, count(*) FROM views GROUP BY reconciliation_status`, snap.ReconciliationBreakdown); err != nil {
		return snap, err
	}
	if err := p.fillDistribution(ctx, `SELECT type, count(*) FROM mismatches GROUP BY type`, snap.MismatchTypes); err != nil {
		return snap, err
	}

	mmRow := p.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE detected_at > now() - interval '24 hours')
		FROM mismatches
	`)
	if err := mmRow.Scan(&snap.TotalMismatches, &snap.RecentActivity.Mismatches24h); err != nil {
		return snap, err
	}

	dupRow := p.pool.QueryRow(ctx, `SELECT count(*) FROM views WHERE submission_count > 1`)
	_ = dupRow.Scan(&snap.Duplicates)

	return snap, nil
}

func (p *Postgres) fillDistribution(ctx context.Context, query string, into map[string]int64) error {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

func (p *Postgres) Timeline(ctx context.Context, hours int, interval TimelineInterval) ([]TimelineBucket, error) {
	trunc := "hour"
	switch interval {
	case IntervalMinute:
		trunc = "minute"
	case IntervalDay:
		trunc = "day"
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT date_trunc('%s', created_at) AS bucket, count(*)
		FROM views
		WHERE created_at >= now() - ($1 || ' hours')::interval
		GROUP BY bucket
	`, trunc), hours)
	if err != nil {
		return nil, err
	}
	txnCounts := make(map[time.Time]int64)
	for rows.Next() {
		var ts time.Time
		var n int64
		if err := rows.Scan(&ts, &n); err != nil {
			rows.Close()
			return nil, err
		}
		txnCounts[ts] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mmRows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT date_trunc('%s', detected_at) AS bucket, count(*)
		FROM mismatches
		WHERE detected_at >= now() - ($1 || ' hours')::interval
		GROUP BY bucket
	`, trunc), hours)
	if err != nil {
		return nil, err
	}
	mmCounts := make(map[time.Time]int64)
	for mmRows.Next() {
		var ts time.Time
		var n int64
		if err := mmRows.Scan(&ts, &n); err != nil {
			mmRows.Close()
			return nil, err
		}
		mmCounts[ts] = n
	}
	mmRows.Close()
	if err := mmRows.Err(); err != nil {
		return nil, err
	}

	step := bucketStep(interval)
	now := time.Now().Truncate(step)
	start := now.Add(-time.Duration(hours) * time.Hour)
	numBuckets := int(now.Sub(start) / step)

	buckets := make([]TimelineBucket, numBuckets)
	for i := range buckets {
		ts := start.Add(time.Duration(i) * step)
		buckets[i] = TimelineBucket{
			BucketLabel:  ts.Format(labelFormat(interval)),
			Timestamp:    ts,
			Transactions: txnCounts[ts],
			Mismatches:   mmCounts[ts],
		}
	}
	return buckets, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

var _ Repository = (*Postgres)(nil)
