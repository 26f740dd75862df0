package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ReconciliationStatus is the lifecycle state of a PersistedView.
type ReconciliationStatus string

const (
	ReconciliationPending  ReconciliationStatus = "PENDING"
	ReconciliationMatched  ReconciliationStatus = "MATCHED"
	ReconciliationMismatch ReconciliationStatus = "MISMATCH"
)

// TransactionStatus is the closed set of statuses a view may report,
// compared case-insensitively per §3.
type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "SUCCESS"
	StatusPending TransactionStatus = "PENDING"
	StatusFailed  TransactionStatus = "FAILED"
)

// TransactionView is one source's report of one transaction (§3).
type TransactionView struct {
	TxnID     string            `json:"txn_id"`
	Source    string            `json:"source"`
	Amount    float64           `json:"amount"`
	Status    TransactionStatus `json:"status"`
	Currency  string            `json:"currency"`
	AccountID *string           `json:"account_id"`
	Timestamp *time.Time        `json:"timestamp"`

	// Present tracks which of {amount, status, account_id} actually
	// appeared (non-null) in the wire payload, so the group-level
	// MISSING_FIELD rule can distinguish "absent" from "present with a
	// zero value".
	Present map[string]bool `json:"present,omitempty"`

	// Extra holds additional descriptive fields (reference, channel,
	// merchant, ...) preserved but never compared.
	Extra map[string]any `json:"extra,omitempty"`
}

// PersistedView is the repository's durable shape for a TransactionView.
type PersistedView struct {
	TransactionView
	ReconciliationStatus  ReconciliationStatus `json:"reconciliation_status"`
	ReconciledAt          *time.Time           `json:"reconciled_at"`
	ReconciledWithSources []string             `json:"reconciled_with_sources"`
	CreatedAt             time.Time            `json:"created_at"`
}

// rawView mirrors the wire payload shape described in §6.
type rawView struct {
	TxnID     string         `json:"txn_id"`
	Source    string         `json:"source"`
	Amount    float64        `json:"amount"`
	Status    string         `json:"status"`
	Currency  string         `json:"currency"`
	AccountID *string        `json:"account_id"`
	Timestamp *string        `json:"timestamp"`
	Extra     map[string]any `json:"-"`
}

// DecodeView parses a source-stream payload into a TransactionView.
// Unknown fields are preserved in Extra; malformed payloads (invalid
// JSON, missing txn_id or source, unparsable timestamp) return an error
// so the caller
// (the ingester) can log-and-skip per §4.1/§7.
func DecodeView(payload []byte, homeCurrency string) (TransactionView, error) {
	var all map[string]any
	if err := json.Unmarshal(payload, &all); err != nil {
		return TransactionView{}, fmt.Errorf("malformed view payload: %w", err)
	}

	var raw rawView
	if err := json.Unmarshal(payload, &raw); err != nil {
		return TransactionView{}, fmt.Errorf("malformed view payload: %w", err)
	}

	if raw.TxnID == "" {
		return TransactionView{}, fmt.Errorf("view missing txn_id")
	}
	if raw.Source == "" {
		return TransactionView{}, fmt.Errorf("view %q missing source", raw.TxnID)
	}

	view := TransactionView{
		TxnID:     raw.TxnID,
		Source:    raw.Source,
		Amount:    raw.Amount,
		Status:    TransactionStatus(strings.ToUpper(strings.TrimSpace(raw.Status))),
		Currency:  raw.Currency,
		AccountID: raw.AccountID,
		Present:   presenceOf(all),
	}
	if view.Currency == "" {
		view.Currency = homeCurrency
	} else {
		view.Currency = strings.ToUpper(strings.TrimSpace(view.Currency))
	}

	if raw.Timestamp != nil && *raw.Timestamp != "" {
		ts, err := parseTimestamp(*raw.Timestamp)
		if err != nil {
			return TransactionView{}, fmt.Errorf("view %q/%q bad timestamp: %w", raw.TxnID, raw.Source, err)
		}
		view.Timestamp = &ts
	}

	known := map[string]struct{}{
		"txn_id": {}, "source": {}, "amount": {}, "status": {},
		"currency": {}, "account_id": {}, "timestamp": {},
	}
	extra := make(map[string]any)
	for k, v := range all {
		if _, ok := known[k]; !ok {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		view.Extra = extra
	}

	return view, nil
}

// presenceOf records, for the fields the MISSING_FIELD rule cares about,
// whether the wire payload carried a non-null value for them.
func presenceOf(all map[string]any) map[string]bool {
	present := make(map[string]bool, 3)
	for _, field := range []string{"amount", "status", "account_id"} {
		v, ok := all[field]
		present[field] = ok && v != nil
	}
	return present
}

func parseTimestamp(s string) (time.Time, error) {
	// RFC-3339, trailing Z accepted; time.RFC3339 already handles both
	// "Z" and numeric offsets.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Key returns the (txn_id, source) staging key used for uniqueness per §3.
func (v TransactionView) Key() string {
	return v.TxnID + "|" + v.Source
}
