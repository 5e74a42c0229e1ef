// Package monitor serves the read-only observation surface: recent
// transactions, deal listings, per-deal turn logs, and the folded
// metrics snapshot. It never mutates state.
package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/arcboost/stimulus-engine/internal/model"
	"github.com/arcboost/stimulus-engine/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// A vendor with at least this many eligible sales counts as an
	// active SME in the metrics snapshot.
	smeSaleThreshold = 3
)

// Monitor answers read-only queries against the store.
type Monitor struct {
	store   store.Store
	vatRate decimal.Decimal
}

// NewMonitor creates a monitor. vatRate is used only for the vat_est fold.
func NewMonitor(st store.Store, vatRate decimal.Decimal) *Monitor {
	return &Monitor{store: st, vatRate: vatRate}
}

// MetricsSnapshot is the folded view of the transaction history.
type MetricsSnapshot struct {
	M1Obs      decimal.Decimal `json:"m1_obs"`
	Leakage    decimal.Decimal `json:"leakage"`
	VATEst     decimal.Decimal `json:"vat_est"`
	SMEsActive int             `json:"smes_active"`
	TxCount    int             `json:"tx_count"`
	TS         time.Time       `json:"ts"`
}

// dealView wraps a deal with a human-readable creation timestamp.
type dealView struct {
	model.Deal
	CreatedISO string `json:"created_iso"`
}

// HandleTransactions handles GET /api/mon/transactions?limit=
// Returns the most recent events, newest first.
func (m *Monitor) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), defaultLimit)

	events, err := m.store.ListTransactions(r.Context(), limit)
	if err != nil {
		writeMonError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.TransactionEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": events,
		"count":        len(events),
	})
}

// HandleDeals handles GET /api/mon/deals?status=&limit=&offset=
// status is a comma-separated filter; the default view shows the deals
// that matter operationally: admitted and settled.
func (m *Monitor) HandleDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	statuses, err := parseStatuses(q.Get("status"))
	if err != nil {
		writeMonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := parseLimit(q.Get("limit"), defaultLimit)
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	deals, err := m.store.ListDeals(r.Context(), statuses, limit, offset)
	if err != nil {
		writeMonError(w, "failed to list deals", http.StatusInternalServerError)
		return
	}

	views := make([]dealView, 0, len(deals))
	for _, d := range deals {
		views = append(views, dealView{Deal: d, CreatedISO: d.CreatedTS.UTC().Format(time.RFC3339)})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"deals": views,
		"count": len(views),
	})
}

// HandleTurns handles GET /api/mon/deals/{dealID}/turns
// Returns the deal's full dialogue log, turn numbers ascending.
func (m *Monitor) HandleTurns(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	if _, err := m.store.GetDeal(r.Context(), dealID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeMonError(w, "deal not found", http.StatusNotFound)
		} else {
			writeMonError(w, "failed to load deal", http.StatusInternalServerError)
		}
		return
	}

	turns, err := m.store.ListTurns(r.Context(), dealID)
	if err != nil {
		writeMonError(w, "failed to list turns", http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []model.NegotiationTurn{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"deal_id": dealID,
		"turns":   turns,
		"count":   len(turns),
	})
}

// HandleMetrics handles GET /api/mon/metrics
// Folds the whole transaction history into the observed-aggregates
// snapshot. Each call recomputes from scratch; the history is the truth.
func (m *Monitor) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	events, err := m.store.ListTransactions(r.Context(), 0)
	if err != nil {
		writeMonError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}

	snap := m.fold(events)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// fold reduces the transaction history to the metrics snapshot:
// mints and eligible transfers grow observed M1, ineligible ones count
// as leakage, and each eligible non-mint transfer accrues VAT at the
// program rate. Vendors are counted by eligible sales received.
func (m *Monitor) fold(events []model.TransactionEvent) MetricsSnapshot {
	snap := MetricsSnapshot{
		M1Obs:   decimal.Zero,
		Leakage: decimal.Zero,
		VATEst:  decimal.Zero,
		TxCount: len(events),
		TS:      time.Now().UTC(),
	}

	salesByVendor := make(map[string]int)
	for _, e := range events {
		switch {
		case e.IsMint:
			snap.M1Obs = snap.M1Obs.Add(e.Amount)
		case e.Eligible:
			snap.M1Obs = snap.M1Obs.Add(e.Amount)
			snap.VATEst = snap.VATEst.Add(e.Amount.Mul(m.vatRate))
			salesByVendor[e.To]++
		default:
			snap.Leakage = snap.Leakage.Add(e.Amount)
		}
	}
	for _, sales := range salesByVendor {
		if sales >= smeSaleThreshold {
			snap.SMEsActive++
		}
	}
	return snap
}

// --- helpers ---

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

// parseStatuses interprets the comma-separated status filter. An empty
// filter defaults to admitted+settled; "all" lifts the filter entirely.
func parseStatuses(raw string) ([]model.DealStatus, error) {
	if raw == "" {
		return []model.DealStatus{model.StatusAdmitted, model.StatusSettled}, nil
	}
	if raw == "all" {
		return nil, nil
	}

	var statuses []model.DealStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s := model.DealStatus(part)
		switch s {
		case model.StatusDraft, model.StatusAdmitted, model.StatusSettled, model.StatusAborted, model.StatusFailed:
			statuses = append(statuses, s)
		default:
			return nil, model.Invalid("status", "unknown status %q", part)
		}
	}
	return statuses, nil
}

func writeMonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
