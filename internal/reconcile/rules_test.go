package reconcile

import (
	"testing"
	"time"

	"github.com/reconlabs/txreconcile/internal/model"
)

func defaultThresholds() Thresholds {
	return Thresholds{Amount: 0.01, Time: 300 * time.Second}
}

func view(source string, amount float64, status, currency string) model.TransactionView {
	return model.TransactionView{
		TxnID:    "T1",
		Source:   source,
		Amount:   amount,
		Status:   model.TransactionStatus(status),
		Currency: currency,
		Present:  map[string]bool{"amount": true, "status": true, "account_id": true},
	}
}

func withAccount(v model.TransactionView, accountID string) model.TransactionView {
	v.AccountID = &accountID
	return v
}

func withTimestamp(v model.TransactionView, t time.Time) model.TransactionView {
	v.Timestamp = &t
	return v
}

// Scenario 1: clean match across two sources, no mismatches.
func TestCompareGroup_CleanMatch(t *testing.T) {
	a := withAccount(view("core", 100.00, "SUCCESS", "USD"), "ACC1")
	b := withAccount(view("gateway", 100.00, "SUCCESS", "USD"), "ACC1")
	mismatches := compareGroup("T1", []model.TransactionView{a, b}, defaultThresholds())
	if len(mismatches) != 0 {
		t.Fatalf("expected clean match, got %d mismatches: %+v", len(mismatches), mismatches)
	}
}

// Scenario 2: amount mismatch of 0.04, above the 0.01 tolerance.
func TestCompareGroup_AmountMismatch(t *testing.T) {
	a := withAccount(view("core", 100.00, "SUCCESS", "USD"), "ACC1")
	b := withAccount(view("gateway", 100.04, "SUCCESS", "USD"), "ACC1")
	mismatches := compareGroup("T1", []model.TransactionView{a, b}, defaultThresholds())
	if len(mismatches) != 1 {
		t.Fatalf("expected exactly 1 mismatch, got %d: %+v", len(mismatches), mismatches)
	}
	m := mismatches[0]
	if m.Type != model.MismatchAmount || m.Severity != model.SeverityHigh {
		t.Fatalf("expected AMOUNT/HIGH, got %s/%s", m.Type, m.Severity)
	}
	if m.DifferenceAmount == nil || *m.DifferenceAmount < 0.039 || *m.DifferenceAmount > 0.041 {
		t.Fatalf("expected difference_amount ~0.04, got %v", m.DifferenceAmount)
	}
}

// Scenario 3: status and currency both disagree -> two mismatches.
func TestCompareGroup_StatusAndCurrencyMismatch(t *testing.T) {
	a := withAccount(view("core", 100.00, "SUCCESS", "USD"), "ACC1")
	b := withAccount(view("gateway", 100.00, "FAILED", "EUR"), "ACC1")
	mismatches := compareGroup("T1", []model.TransactionView{a, b}, defaultThresholds())
	if len(mismatches) != 2 {
		t.Fatalf("expected 2 mismatches, got %d: %+v", len(mismatches), mismatches)
	}
	types := map[model.MismatchType]bool{}
	for _, m := range mismatches {
		types[m.Type] = true
	}
	if !types[model.MismatchStatus] || !types[model.MismatchCurrency] {
		t.Fatalf("expected STATUS and CURRENCY mismatches, got %+v", mismatches)
	}
}

// Scenario 4: timestamps 299s apart, within the 300s tolerance -> MATCHED.
func TestCompareGroup_TimestampWithinTolerance(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := withAccount(view("core", 100.00, "SUCCESS", "USD"), "ACC1")
	a = withTimestamp(a, base)
	b := withAccount(view("gateway", 100.00, "SUCCESS", "USD"), "ACC1")
	b = withTimestamp(b, base.Add(299*time.Second))

	mismatches := compareGroup("T1", []model.TransactionView{a, b}, defaultThresholds())
	if len(mismatches) != 0 {
		t.Fatalf("expected MATCHED within tolerance, got %+v", mismatches)
	}
}

// Scenario 5: timestamps 301s apart, beyond the 300s tolerance -> LOW mismatch.
func TestCompareGroup_TimestampBeyondTolerance(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := withAccount(view("core", 100.00, "SUCCESS", "USD"), "ACC1")
	a = withTimestamp(a, base)
	b := withAccount(view("gateway", 100.00, "SUCCESS", "USD"), "ACC1")
	b = withTimestamp(b, base.Add(301*time.Second))

	mismatches := compareGroup("T1", []model.TransactionView{a, b}, defaultThresholds())
	if len(mismatches) != 1 {
		t.Fatalf("expected exactly 1 mismatch, got %d: %+v", len(mismatches), mismatches)
	}
	if mismatches[0].Type != model.MismatchTimestamp || mismatches[0].Severity != model.SeverityLow {
		t.Fatalf("expected TIMESTAMP/LOW, got %s/%s", mismatches[0].Type, mismatches[0].Severity)
	}
}

// Scenario 6: three sources, one field diverges on a single source ->
// two AMOUNT mismatches, one per pair involving the divergent source.
func TestCompareGroup_ThreeSourceOneDivergent(t *testing.T) {
	core := withAccount(view("core", 100.00, "SUCCESS", "USD"), "ACC1")
	gateway := withAccount(view("gateway", 100.00, "SUCCESS", "USD"), "ACC1")
	mobile := withAccount(view("mobile", 105.00, "SUCCESS", "USD"), "ACC1")

	mismatches := compareGroup("T1", []model.TransactionView{core, gateway, mobile}, defaultThresholds())
	if len(mismatches) != 2 {
		t.Fatalf("expected 2 AMOUNT mismatches (core-mobile, gateway-mobile), got %d: %+v", len(mismatches), mismatches)
	}
	for _, m := range mismatches {
		if m.Type != model.MismatchAmount {
			t.Fatalf("expected only AMOUNT mismatches, got %s", m.Type)
		}
		found := false
		for _, s := range m.Sources {
			if s == "mobile" {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected mobile to be party to every mismatch, got sources %v", m.Sources)
		}
	}
}

func TestCompareGroup_MissingFieldAcrossGroup(t *testing.T) {
	a := view("core", 100.00, "SUCCESS", "USD")
	a.AccountID = strPtr("ACC1")
	b := view("gateway", 100.00, "SUCCESS", "USD")
	b.Present = map[string]bool{"amount": true, "status": true, "account_id": false}
	// gateway reports no account_id at all.

	mismatches := compareGroup("T1", []model.TransactionView{a, b}, defaultThresholds())
	var missing *model.Mismatch
	for i := range mismatches {
		if mismatches[i].Type == model.MismatchMissingField {
			missing = &mismatches[i]
		}
	}
	if missing == nil {
		t.Fatalf("expected a MISSING_FIELD mismatch, got %+v", mismatches)
	}
	if missing.Severity != model.SeverityMedium {
		t.Fatalf("expected MEDIUM severity, got %s", missing.Severity)
	}
	if len(missing.Sources) != 1 || missing.Sources[0] != "gateway" {
		t.Fatalf("expected sources=[gateway], got %v", missing.Sources)
	}
}

// Status mismatch is compared case-insensitively.
func TestStatusRule_CaseInsensitive(t *testing.T) {
	a := view("core", 100, "success", "USD")
	b := view("gateway", 100, "SUCCESS", "USD")
	if m := statusRule(a, b, defaultThresholds()); m != nil {
		t.Fatalf("expected no mismatch for case-differing equal status, got %+v", m)
	}
}

// Permutation invariance: comparing the same group in any source order
// yields the same ordered list of mismatch types, once the views are put
// in source order (as Group.Views does) before compareGroup runs;
// compareGroup itself does not sort.
func TestCompareGroup_PermutationInvariant(t *testing.T) {
	a := withAccount(view("core", 100.00, "SUCCESS", "USD"), "ACC1")
	b := withAccount(view("gateway", 100.04, "FAILED", "USD"), "ACC1")
	c := withAccount(view("mobile", 100.00, "SUCCESS", "EUR"), "ACC1")

	forward := compareGroup("T1", sortedViews([]model.TransactionView{a, b, c}), defaultThresholds())
	shuffled := compareGroup("T1", sortedViews([]model.TransactionView{c, a, b}), defaultThresholds())

	if len(forward) != len(shuffled) {
		t.Fatalf("expected identical mismatch count regardless of input order, got %d vs %d", len(forward), len(shuffled))
	}
	for i := range forward {
		if forward[i].Type != shuffled[i].Type {
			t.Fatalf("mismatch order diverged at %d: %s vs %s", i, forward[i].Type, shuffled[i].Type)
		}
	}
}

func strPtr(s string) *string { return &s }

// sortedViews mimics Group.Views()'s source-lexicographic ordering
// contract, which callers of compareGroup must uphold.
func sortedViews(views []model.TransactionView) []model.TransactionView {
	g := NewGroup(views[0].TxnID)
	for _, v := range views {
		g.Add(v)
	}
	return g.Views()
}
