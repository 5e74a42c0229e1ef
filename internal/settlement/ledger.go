package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arcboost/stimulus-engine/internal/metrics"
	"github.com/arcboost/stimulus-engine/internal/model"
	"github.com/arcboost/stimulus-engine/internal/negotiation"
	"github.com/arcboost/stimulus-engine/internal/store"
)

// Ledger is the append-only settlement record. Recording is idempotent
// by txid: replaying an event never duplicates a row or re-fires a
// side effect. When the eligible transfers attached to an admitted deal
// reach its notional, the ledger asks the state machine to settle it.
type Ledger struct {
	store    store.Store
	machine  *negotiation.Machine
	notifier negotiation.Notifier
}

// NewLedger creates a ledger. notifier may be nil.
func NewLedger(st store.Store, machine *negotiation.Machine, notifier negotiation.Notifier) *Ledger {
	return &Ledger{store: st, machine: machine, notifier: notifier}
}

// RecordTransaction appends one transfer event. Events referencing a deal
// are accepted only while that deal is admitted or settled; deal-less
// events (mints, out-of-band observations) are always accepted. Returns
// the stored event and whether this call inserted it.
func (l *Ledger) RecordTransaction(ctx context.Context, e *model.TransactionEvent) (bool, error) {
	if e.TxID == "" {
		return false, model.Invalid("txid", "required")
	}
	if e.From == "" || e.To == "" {
		return false, model.Invalid("from_address", "from_address and to_address are required")
	}
	if e.Amount.IsNegative() {
		return false, model.Invalid("amount_ui", "must be non-negative, got %s", e.Amount)
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}

	// Deal-scoped events go through the machine so the status gate and
	// the insert happen under the deal's lock; checking here and
	// inserting after would let a concurrent abort land in between.
	var (
		deal     *model.Deal
		inserted bool
		err      error
	)
	if e.DealID != "" {
		inserted, deal, err = l.machine.RecordDealTransaction(ctx, e)
	} else {
		inserted, err = l.store.InsertTransaction(ctx, e)
		if err != nil {
			err = fmt.Errorf("insert transaction: %w", err)
		}
	}
	if err != nil {
		return false, err
	}
	if !inserted {
		metrics.DuplicateTransactions.Inc()
		slog.Debug("duplicate transaction ignored", "txid", e.TxID)
		return false, nil
	}

	metrics.TransactionsTotal.WithLabelValues(strconv.FormatBool(e.Eligible)).Inc()
	slog.Info("transaction recorded",
		"txid", e.TxID,
		"deal_id", e.DealID,
		"amount", e.Amount.String(),
		"eligible", e.Eligible,
		"is_mint", e.IsMint,
	)
	if l.notifier != nil {
		cp := *e
		l.notifier.TransactionRecorded(&cp)
	}

	if deal != nil && deal.Status == model.StatusAdmitted {
		if err := l.settleIfCovered(ctx, deal, e); err != nil {
			return true, err
		}
	}
	return true, nil
}

// settleIfCovered sums the deal's eligible non-mint transfers and settles
// through the state machine once they reach the notional. A concurrent
// settle racing this check is benign: the machine treats an
// already-settled deal as done.
func (l *Ledger) settleIfCovered(ctx context.Context, deal *model.Deal, trigger *model.TransactionEvent) error {
	events, err := l.store.ListTransactionsByDeal(ctx, deal.DealID)
	if err != nil {
		return fmt.Errorf("list deal transactions: %w", err)
	}

	covered := decimal.Zero
	for _, ev := range events {
		if ev.Eligible && !ev.IsMint {
			covered = covered.Add(ev.Amount)
		}
	}
	if covered.LessThan(deal.Notional) {
		return nil
	}

	err = l.machine.SettleCovered(ctx, deal.DealID, trigger)
	var conflict *model.StateConflictError
	if errors.As(err, &conflict) {
		slog.Debug("coverage settle lost race", "deal_id", deal.DealID, "status", conflict.Status)
		return nil
	}
	return err
}

// --- HTTP handler ---

// TransactionRequest is the JSON body for POST /api/v1/transactions.
type TransactionRequest struct {
	TxID     string          `json:"txid"`
	DealID   string          `json:"deal_id"`
	From     string          `json:"from_address"`
	To       string          `json:"to_address"`
	Amount   decimal.Decimal `json:"amount_ui"`
	TierFrom int             `json:"tier_from"`
	TierTo   int             `json:"tier_to"`
	IsMint   bool            `json:"is_mint"`
	Eligible bool            `json:"eligible"`
	Notes    string          `json:"notes"`
}

// HandleRecord handles POST /api/v1/transactions
func (l *Ledger) HandleRecord(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLedgerError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	event := &model.TransactionEvent{
		TxID:     req.TxID,
		DealID:   req.DealID,
		From:     req.From,
		To:       req.To,
		Amount:   req.Amount,
		TierFrom: req.TierFrom,
		TierTo:   req.TierTo,
		IsMint:   req.IsMint,
		Eligible: req.Eligible,
		Notes:    req.Notes,
	}

	inserted, err := l.RecordTransaction(r.Context(), event)
	if err != nil {
		var (
			validation *model.ValidationError
			conflict   *model.StateConflictError
		)
		switch {
		case errors.As(err, &validation):
			writeLedgerError(w, validation.Error(), http.StatusBadRequest)
		case errors.As(err, &conflict):
			writeLedgerError(w, conflict.Error(), http.StatusConflict)
		case errors.Is(err, store.ErrNotFound):
			writeLedgerError(w, "deal not found", http.StatusNotFound)
		default:
			writeLedgerError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if inserted {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"txid":     event.TxID,
		"inserted": inserted,
	})
}

func writeLedgerError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
