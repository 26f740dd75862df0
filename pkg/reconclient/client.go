// Package reconclient is a zero-dependency Go client for the
// reconciliation engine's dashboard query API, adapted from the
// teacher's Go SDK (tools/sdk/go/alfred.go): a thin http.Client wrapper
// with typed methods per endpoint and a structured Error type.
package reconclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Version is the client library version.
const Version = "1.0.0"

// DefaultBaseURL is the default dashboard API base URL.
const DefaultBaseURL = "http://localhost:8080"

// Client is the reconciliation dashboard API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient swaps the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient builds a dashboard API client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		userAgent:  fmt.Sprintf("txreconcile-go-client/%s", Version),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) request(ctx context.Context, method, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, body)
	}
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Error represents a dashboard API error response.
type Error struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("reconclient: %s (status %d)", e.Message, e.StatusCode)
}

// NotFoundError indicates the txn_id or resource does not exist.
type NotFoundError struct{ Err Error }

func (e *NotFoundError) Error() string { return e.Err.Error() }

// RateLimitError indicates the client exceeded its request quota.
type RateLimitError struct{ Err Error }

func (e *RateLimitError) Error() string { return e.Err.Error() }

func parseError(status int, body []byte) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	base := Error{StatusCode: status, Message: apiErr.Error}
	if base.Message == "" {
		base.Message = http.StatusText(status)
	}
	switch status {
	case http.StatusNotFound:
		return &NotFoundError{Err: base}
	case http.StatusTooManyRequests:
		return &RateLimitError{Err: base}
	default:
		return &base
	}
}

// RecentActivity mirrors repository.RecentActivity's JSON shape.
type RecentActivity struct {
	Transactions24h int64 `json:"transactions_24h"`
	Mismatches24h   int64 `json:"mismatches_24h"`
}

// StatsSnapshot mirrors repository.StatsSnapshot's JSON shape — the
// field names are §4.4's documented metric names, not Go spellings.
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

// TimelineBucket mirrors repository.TimelineBucket's JSON shape.
type TimelineBucket struct {
	BucketLabel  string    `json:"bucket_label"`
	Timestamp    time.Time `json:"timestamp"`
	Transactions int64     `json:"transactions"`
	Mismatches   int64     `json:"mismatches"`
}

// Verdict mirrors model.Verdict's JSON shape.
type Verdict struct {
	TxnID      string    `json:"txn_id"`
	Sources    []string  `json:"sources"`
	Status     string    `json:"status"`
	VerdictAt  time.Time `json:"verdict_at"`
	Mismatches []any     `json:"mismatches"`
}

// Stats fetches GET /v1/stats.
func (c *Client) Stats(ctx context.Context) (*StatsSnapshot, error) {
	var out StatsSnapshot
	if err := c.request(ctx, http.MethodGet, "/v1/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Timeline fetches GET /v1/stats/timeline.
func (c *Client) Timeline(ctx context.Context, hours int, interval string) ([]TimelineBucket, error) {
	q := url.Values{}
	if hours > 0 {
		q.Set("hours", strconv.Itoa(hours))
	}
	if interval != "" {
		q.Set("interval", interval)
	}
	var out struct {
		Buckets []TimelineBucket `json:"buckets"`
	}
	path := "/v1/stats/timeline"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	if err := c.request(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return out.Buckets, nil
}

// RecentVerdicts fetches GET /v1/verdicts/recent.
func (c *Client) RecentVerdicts(ctx context.Context, limit int) ([]Verdict, error) {
	path := "/v1/verdicts/recent"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Verdicts []Verdict `json:"verdicts"`
	}
	if err := c.request(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return out.Verdicts, nil
}

// TransactionByID fetches GET /v1/transactions/{txn_id}, returning the
// raw per-source view records for that transaction.
func (c *Client) TransactionByID(ctx context.Context, txnID string) ([]json.RawMessage, error) {
	var out struct {
		Views []json.RawMessage `json:"views"`
	}
	if err := c.request(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(txnID), &out); err != nil {
		return nil, err
	}
	return out.Views, nil
}
