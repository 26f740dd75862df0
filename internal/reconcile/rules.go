package reconcile

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/reconlabs/txreconcile/internal/model"
)

// Thresholds carries the two tolerances the comparison rules apply.
// Populated from config.Config (§6 defaults: amount 0.01, time 300s).
type Thresholds struct {
	Amount float64
	Time   time.Duration
}

// pairRule compares two views belonging to the same group and reports a
// mismatch if it fires. Rules never short-circuit each other — every rule
// runs for every pair (§4.3.4).
type pairRule func(a, b model.TransactionView, th Thresholds) *model.Mismatch

// pairRules runs in this fixed order so identical inputs always yield an
// identical ordered list of mismatches.
var pairRules = []pairRule{
	amountRule,
	statusRule,
	currencyRule,
	accountRule,
	timestampRule,
}

func amountRule(a, b model.TransactionView, th Thresholds) *model.Mismatch {
	diff := math.Abs(a.Amount - b.Amount)
	if diff <= th.Amount {
		return nil
	}
	m := newPairMismatch(a, b, model.MismatchAmount, model.SeverityHigh,
		fmt.Sprintf("amount differs by %.2f", diff),
		formatFloat(a.Amount), formatFloat(b.Amount))
	m.DifferenceAmount = &diff
	return &m
}

func statusRule(a, b model.TransactionView, _ Thresholds) *model.Mismatch {
	if strings.EqualFold(string(a.Status), string(b.Status)) {
		return nil
	}
	m := newPairMismatch(a, b, model.MismatchStatus, model.SeverityMedium,
		"status disagreement", string(a.Status), string(b.Status))
	return &m
}

func currencyRule(a, b model.TransactionView, _ Thresholds) *model.Mismatch {
	if a.Currency == b.Currency {
		return nil
	}
	m := newPairMismatch(a, b, model.MismatchCurrency, model.SeverityHigh,
		"currency disagreement", a.Currency, b.Currency)
	return &m
}

func accountRule(a, b model.TransactionView, _ Thresholds) *model.Mismatch {
	if a.AccountID == nil || b.AccountID == nil || *a.AccountID == *b.AccountID {
		return nil
	}
	m := newPairMismatch(a, b, model.MismatchAccount, model.SeverityHigh,
		"account id disagreement", *a.AccountID, *b.AccountID)
	return &m
}

func timestampRule(a, b model.TransactionView, th Thresholds) *model.Mismatch {
	if a.Timestamp == nil || b.Timestamp == nil {
		return nil
	}
	diff := a.Timestamp.Sub(*b.Timestamp)
	if diff < 0 {
		diff = -diff
	}
	if diff <= th.Time {
		return nil
	}
	m := newPairMismatch(a, b, model.MismatchTimestamp, model.SeverityLow,
		fmt.Sprintf("timestamp differs by %s", diff),
		a.Timestamp.Format(time.RFC3339), b.Timestamp.Format(time.RFC3339))
	return &m
}

// newPairMismatch builds a mismatch for the pair (a, b), which callers
// always pass in source-lexicographic order, so Sources/expected/actual
// come out deterministic per §4.3.4.
func newPairMismatch(a, b model.TransactionView, typ model.MismatchType, sev model.Severity, detail, expected, actual string) model.Mismatch {
	m := model.NewMismatch(a.TxnID, typ, sev, detail, []string{a.Source, b.Source}, time.Now())
	m.ExpectedValue = &expected
	m.ActualValue = &actual
	return m
}

// missingFieldMismatches runs the group-level rule: for each of
// {amount, status, account_id}, if the field is present for some view and
// missing for others, emit one MISSING_FIELD mismatch per affected field
// naming the sources that lack it (§4.3.4). views must already be in
// source-lexicographic order.
func missingFieldMismatches(txnID string, views []model.TransactionView) []model.Mismatch {
	var out []model.Mismatch

	for _, field := range []string{"amount", "status", "account_id"} {
		var haveIt, lackIt []string
		for _, v := range views {
			if v.Present[field] {
				haveIt = append(haveIt, v.Source)
			} else {
				lackIt = append(lackIt, v.Source)
			}
		}
		if len(haveIt) == 0 || len(lackIt) == 0 {
			continue
		}
		m := model.NewMismatch(txnID, model.MismatchMissingField, model.SeverityMedium,
			fmt.Sprintf("%s missing from %s", field, strings.Join(lackIt, ",")),
			lackIt, time.Now())
		out = append(out, m)
	}
	return out
}

// compareGroup runs every pairwise rule over every unordered pair of
// views, then the group-level MISSING_FIELD rule, returning all detected
// mismatches. The group is MATCHED iff the result is empty. views must
// already be in source-lexicographic order (the caller takes this
// snapshot under the per-txn_id lock so it can't change mid-comparison).
func compareGroup(txnID string, views []model.TransactionView, th Thresholds) []model.Mismatch {
	var out []model.Mismatch

	for i := 0; i < len(views); i++ {
		for j := i + 1; j < len(views); j++ {
			for _, rule := range pairRules {
				if m := rule(views[i], views[j], th); m != nil {
					out = append(out, *m)
				}
			}
		}
	}

	out = append(out, missingFieldMismatches(txnID, views)...)
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
