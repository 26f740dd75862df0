package model

import "time"

// MismatchType is the closed tagged set of mismatch kinds the engine
// can detect, as a named string type whose constants below are the
// whole set. Neither the type nor NewMismatch rejects a value outside
// that set.
type MismatchType string

const (
	MismatchAmount       MismatchType = "AMOUNT"
	MismatchStatus       MismatchType = "STATUS"
	MismatchCurrency     MismatchType = "CURRENCY"
	MismatchAccount      MismatchType = "ACCOUNT"
	MismatchTimestamp    MismatchType = "TIMESTAMP"
	MismatchMissingField MismatchType = "MISSING_FIELD"
)

// Severity is the closed severity set.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// MismatchState is the mismatch lifecycle. The core only ever writes
// StateOpen; the other transitions are driven from outside the core.
type MismatchState string

const (
	StateOpen          MismatchState = "OPEN"
	StateInvestigating MismatchState = "INVESTIGATING"
	StateResolved      MismatchState = "RESOLVED"
	StateIgnored       MismatchState = "IGNORED"
)

// Mismatch is one detected discrepancy between two or more sources'
// views of the same transaction.
type Mismatch struct {
	TxnID            string        `json:"txn_id"`
	Type             MismatchType  `json:"type"`
	Severity         Severity      `json:"severity"`
	Detail           string        `json:"detail"`
	Sources          []string      `json:"sources"`
	DifferenceAmount *float64      `json:"difference_amount,omitempty"`
	ExpectedValue    *string       `json:"expected_value,omitempty"`
	ActualValue      *string       `json:"actual_value,omitempty"`
	State            MismatchState `json:"state"`
	DetectedAt       time.Time     `json:"detected_at"`
}

// NewMismatch constructs a Mismatch in its initial OPEN state. Only the
// engine calls this; lifecycle transitions beyond OPEN are an external
// concern.
func NewMismatch(txnID string, typ MismatchType, sev Severity, detail string, sources []string, detectedAt time.Time) Mismatch {
	return Mismatch{
		TxnID:      txnID,
		Type:       typ,
		Severity:   sev,
		Detail:     detail,
		Sources:    append([]string(nil), sources...),
		State:      StateOpen,
		DetectedAt: detectedAt,
	}
}
