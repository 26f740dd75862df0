// Package alerting fires PagerDuty incidents for the one user-visible
// failure class the core produces: a durable write that did not make it
// into the repository (§7). Adapted from the teacher's PagerDuty Events
// API v2 client (services/gateway/observability/pagerduty.go).
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config holds PagerDuty Events API v2 settings.
type Config struct {
	RoutingKey  string
	Enabled     bool
	SourceName  string
	HTTPTimeout time.Duration
}

// DefaultConfig returns alerting defaults (disabled unless a routing key
// is configured).
func DefaultConfig() Config {
	return Config{
		SourceName:  "txreconcile-engine",
		HTTPTimeout: 10 * time.Second,
	}
}

// Severity maps to PagerDuty alert severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

const eventsURL = "https://events.pagerduty.com/v2/enqueue"

// Client sends incidents to PagerDuty Events API v2 and implements
// reconcile.Alerter.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// NewClient builds a PagerDuty alerting client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With().Str("component", "pagerduty").Logger(),
	}
}

// DurableWriteFailed implements reconcile.Alerter: fired when
// update_reconciliation or insert_mismatch fails to persist.
func (c *Client) DurableWriteFailed(ctx context.Context, txnID, operation string, cause error) {
	dedup := fmt.Sprintf("txreconcile-durable-write-%s-%s", operation, txnID)
	err := c.trigger(ctx, SeverityError,
		fmt.Sprintf("reconciliation durable write failed: %s for %s", operation, txnID),
		dedup,
		map[string]any{"txn_id": txnID, "operation": operation, "error": cause.Error()},
	)
	if err != nil {
		c.logger.Warn().Err(err).Str("txn_id", txnID).Msg("failed to deliver durable-write-failure alert")
	}
}

func (c *Client) trigger(ctx context.Context, severity Severity, summary, dedupKey string, details map[string]any) error {
	if !c.cfg.Enabled || c.cfg.RoutingKey == "" {
		c.logger.Debug().Str("summary", summary).Msg("pagerduty disabled — alert suppressed")
		return nil
	}

	payload := map[string]any{
		"routing_key":  c.cfg.RoutingKey,
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload": map[string]any{
			"summary":         summary,
			"severity":        string(severity),
			"source":          c.cfg.SourceName,
			"component":       "reconciliation-engine",
			"class":           "durable-write-failure",
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
			"custom_details":  details,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pagerduty: marshal failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, eventsURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pagerduty: build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty: API call failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("pagerduty: HTTP %d", resp.StatusCode)
	}
	return nil
}
