package reconcile

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reconlabs/txreconcile/internal/cache"
	"github.com/reconlabs/txreconcile/internal/model"
	"github.com/reconlabs/txreconcile/internal/repository"
)

func testEngine(t *testing.T) (*Engine, *repository.Memory) {
	t.Helper()
	repo := repository.NewMemory()
	c := cache.NewMemory()
	log := zerolog.New(io.Discard)
	e := NewEngine(c, repo, nil, nil, log, EngineConfig{
		AmountTolerance: 0.01,
		TimeTolerance:   300 * time.Second,
		StageTTL:        5 * time.Minute,
		LockTTL:         30 * time.Second,
		Workers:         4,
		RecentCap:       50,
	})
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx, 4)
	t.Cleanup(func() {
		cancel()
		e.Stop()
	})
	return e, repo
}

func waitForRecent(t *testing.T, e *Engine, txnID string, timeout time.Duration) model.Verdict {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, v := range e.Recent(50) {
			if v.TxnID == txnID {
				return v
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for verdict on %s", txnID)
	return model.Verdict{}
}

func testView(txnID, source string, amount float64) model.TransactionView {
	return model.TransactionView{
		TxnID:    txnID,
		Source:   source,
		Amount:   amount,
		Status:   model.StatusSuccess,
		Currency: "USD",
		Present:  map[string]bool{"amount": true, "status": true, "account_id": true},
	}
}

func TestEngine_TwoSourcesProduceMatchedVerdict(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	e.Submit(ctx, testView("T1", "core", 100.0))
	e.Submit(ctx, testView("T1", "gateway", 100.0))

	v := waitForRecent(t, e, "T1", time.Second)
	if v.Status != model.VerdictMatched {
		t.Fatalf("expected MATCHED, got %s (%+v)", v.Status, v.Mismatches)
	}
	if len(v.Mismatches) != 0 {
		t.Fatalf("MATCHED verdict must carry zero mismatches, got %d", len(v.Mismatches))
	}
}

// status=MATCHED iff len(mismatches)=0 (§8 testable property).
func TestEngine_StatusMismatchInvariant(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	e.Submit(ctx, testView("T2", "core", 100.0))
	e.Submit(ctx, testView("T2", "gateway", 250.0))

	v := waitForRecent(t, e, "T2", time.Second)
	if v.Status != model.VerdictMismatch {
		t.Fatalf("expected MISMATCH, got %s", v.Status)
	}
	if len(v.Mismatches) == 0 {
		t.Fatalf("MISMATCH verdict must carry at least one mismatch")
	}
}

// A single source alone never reaches quorum: no verdict should appear.
func TestEngine_SingleSourceNeverReconciles(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	e.Submit(ctx, testView("T3", "core", 100.0))
	time.Sleep(50 * time.Millisecond)

	for _, v := range e.Recent(50) {
		if v.TxnID == "T3" {
			t.Fatalf("expected no verdict for single-source txn, got %+v", v)
		}
	}
}

// Resubmitting the same view is idempotent in the repository: there is
// still exactly one persisted view per source afterwards (§8).
func TestEngine_IdempotentResubmission(t *testing.T) {
	e, repo := testEngine(t)
	ctx := context.Background()

	e.Submit(ctx, testView("T4", "core", 100.0))
	e.Submit(ctx, testView("T4", "gateway", 100.0))
	waitForRecent(t, e, "T4", time.Second)

	e.Submit(ctx, testView("T4", "core", 100.0))
	time.Sleep(50 * time.Millisecond)

	views, err := repo.ListViewsByTxn(ctx, "T4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected exactly 2 persisted views (one per source) after resubmission, got %d", len(views))
	}
}

// reconciled_with_sources is a subset of size >= 2 of the group's sources.
func TestEngine_ReconciledWithSourcesSubset(t *testing.T) {
	e, repo := testEngine(t)
	ctx := context.Background()

	e.Submit(ctx, testView("T5", "core", 100.0))
	e.Submit(ctx, testView("T5", "gateway", 100.0))
	waitForRecent(t, e, "T5", time.Second)

	views, err := repo.ListViewsByTxn(ctx, "T5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range views {
		if len(v.ReconciledWithSources) < 2 {
			t.Fatalf("expected reconciled_with_sources of size >= 2, got %v", v.ReconciledWithSources)
		}
	}
}

// insert_mismatch is append-only: repeated reconciliation attempts never
// mutate previously-inserted mismatches, only add new ones.
func TestEngine_MismatchesAppendOnly(t *testing.T) {
	e, repo := testEngine(t)
	ctx := context.Background()

	e.Submit(ctx, testView("T6", "core", 100.0))
	e.Submit(ctx, testView("T6", "gateway", 250.0))
	waitForRecent(t, e, "T6", time.Second)

	first, err := repo.ListMismatches(ctx, 0, repository.MismatchFilter{TxnID: "T6"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) == 0 {
		t.Fatalf("expected at least one mismatch recorded")
	}

	// A third source arrives, triggering a new attempt (§4.3.2): earlier
	// mismatches must remain untouched.
	e.Submit(ctx, testView("T6", "mobile", 100.0))
	time.Sleep(100 * time.Millisecond)

	after, err := repo.ListMismatches(ctx, 0, repository.MismatchFilter{TxnID: "T6"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(after) < len(first) {
		t.Fatalf("mismatch count shrank from %d to %d: not append-only", len(first), len(after))
	}
}
