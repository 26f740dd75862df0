// Package httpapi is the read-only dashboard query surface (§4.4):
// aggregate stats, timeline buckets, recent verdicts, and filtered
// views/mismatches. Adapted from the teacher's REST handler style
// (services/gateway/handler/*.go) — thin handlers wrapping a
// collaborator, writeJSON for responses.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/reconlabs/txreconcile/internal/reconcile"
	"github.com/reconlabs/txreconcile/internal/repository"
	"github.com/reconlabs/txreconcile/internal/stats"
)

// Handlers bundles the dashboard's query-side collaborators.
type Handlers struct {
	repo      repository.Repository
	projector *stats.Projector
	engine    *reconcile.Engine
	logger    zerolog.Logger
}

// NewHandlers builds the query handlers.
func NewHandlers(repo repository.Repository, projector *stats.Projector, engine *reconcile.Engine, logger zerolog.Logger) *Handlers {
	return &Handlers{repo: repo, projector: projector, engine: engine, logger: logger.With().Str("component", "httpapi").Logger()}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Stats handles GET /v1/stats (§4.4).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.projector.Aggregate(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("aggregate stats failed")
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Timeline handles GET /v1/stats/timeline?hours=24&interval=hour (§4.4).
func (h *Handlers) Timeline(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			hours = parsed
		}
	}
	interval := repository.IntervalHour
	if v := r.URL.Query().Get("interval"); v != "" {
		switch repository.TimelineInterval(v) {
		case repository.IntervalMinute, repository.IntervalHour, repository.IntervalDay:
			interval = repository.TimelineInterval(v)
		default:
			writeError(w, http.StatusBadRequest, "interval must be minute, hour, or day")
			return
		}
	}

	buckets, err := h.projector.Timeline(r.Context(), hours, interval)
	if err != nil {
		h.logger.Error().Err(err).Msg("timeline query failed")
		writeError(w, http.StatusInternalServerError, "failed to compute timeline")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

// Transactions handles GET /v1/transactions?source=&status=&limit=.
func (h *Handlers) Transactions(w http.ResponseWriter, r *http.Request) {
	filter := repository.ViewFilter{
		Source: r.URL.Query().Get("source"),
		Status: r.URL.Query().Get("status"),
	}
	limit := parseLimit(r, 100)

	views, err := h.repo.ListViews(r.Context(), limit, filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("list views failed")
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"views": views})
}

// TransactionByID handles GET /v1/transactions/{txn_id}.
func (h *Handlers) TransactionByID(w http.ResponseWriter, r *http.Request, txnID string) {
	if txnID == "" {
		writeError(w, http.StatusBadRequest, "txn_id is required")
		return
	}
	views, err := h.repo.ListViewsByTxn(r.Context(), txnID)
	if err != nil {
		h.logger.Error().Err(err).Str("txn_id", txnID).Msg("list views by txn failed")
		writeError(w, http.StatusInternalServerError, "failed to look up transaction")
		return
	}
	if len(views) == 0 {
		writeError(w, http.StatusNotFound, "no views found for txn_id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"views": views})
}

// Mismatches handles GET /v1/mismatches?severity=&type=&state=&txn_id=&limit=.
func (h *Handlers) Mismatches(w http.ResponseWriter, r *http.Request) {
	filter := repository.MismatchFilter{
		Severity: r.URL.Query().Get("severity"),
		Type:     r.URL.Query().Get("type"),
		State:    r.URL.Query().Get("state"),
		TxnID:    r.URL.Query().Get("txn_id"),
	}
	limit := parseLimit(r, 100)

	mismatches, err := h.repo.ListMismatches(r.Context(), limit, filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("list mismatches failed")
		writeError(w, http.StatusInternalServerError, "failed to list mismatches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mismatches": mismatches})
}

// RecentVerdicts handles GET /v1/verdicts/recent?limit=.
func (h *Handlers) RecentVerdicts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	writeJSON(w, http.StatusOK, map[string]any{"verdicts": h.engine.Recent(limit)})
}

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
