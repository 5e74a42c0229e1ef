// Package negotiation implements the deal lifecycle state machine.
//
// Deals move draft → admitted → settled, with aborted and failed as
// alternate terminals. Every transition appends exactly one
// NegotiationTurn whose number the machine assigns; numbers are gapless
// from 1 within a deal. All work on one deal is serialized behind a
// per-deal exclusive lock — operations on distinct deals never contend.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcboost/stimulus-engine/internal/metrics"
	"github.com/arcboost/stimulus-engine/internal/model"
	"github.com/arcboost/stimulus-engine/internal/store"
)

// Confirmer executes the mode-specific settlement confirmation step:
// an on-chain transfer confirmation or its simulated equivalent. It must
// respect ctx cancellation; the machine bounds each attempt with a timeout.
type Confirmer interface {
	Confirm(ctx context.Context, deal *model.Deal, commitment json.RawMessage) (*model.Receipt, error)
}

// Notifier receives push notifications after committed state changes.
// Implementations must not block; a nil Notifier disables notification.
type Notifier interface {
	DealUpdated(d *model.Deal)
	TransactionRecorded(e *model.TransactionEvent)
}

// Machine drives deal lifecycle transitions against the store.
type Machine struct {
	store          store.Store
	confirmer      Confirmer
	notifier       Notifier
	confirmTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMachine creates a state machine. notifier may be nil.
func NewMachine(st store.Store, confirmer Confirmer, notifier Notifier, confirmTimeout time.Duration) *Machine {
	return &Machine{
		store:          st,
		confirmer:      confirmer,
		notifier:       notifier,
		confirmTimeout: confirmTimeout,
		locks:          make(map[string]*sync.Mutex),
	}
}

// dealLock returns the exclusive lock for one deal, creating it on first
// use. Locks are per-deal so unrelated deals proceed independently; the
// entry is evicted once the deal reaches a terminal status, which is safe
// because every mutating path re-reads the status under whichever lock it
// holds and terminal states are absorbing.
func (m *Machine) dealLock(dealID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[dealID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[dealID] = l
	}
	return l
}

func (m *Machine) forgetLock(dealID string) {
	m.mu.Lock()
	delete(m.locks, dealID)
	m.mu.Unlock()
}

// CreateDeal opens a new draft deal and records its opening proposal as
// turn 1. Missing identifiers are generated; notional is derived from
// qty * unit_price when both are set.
func (m *Machine) CreateDeal(ctx context.Context, d *model.Deal, role model.TurnRole, proposal json.RawMessage) (*model.Deal, error) {
	if d.Buyer == "" {
		return nil, model.Invalid("buyer", "required")
	}
	if d.Seller == "" {
		return nil, model.Invalid("seller", "required")
	}
	switch d.Mode {
	case "":
		d.Mode = model.ModeSim
	case model.ModeSim, model.ModeOnChain:
	default:
		return nil, model.Invalid("mode", "must be %q or %q", model.ModeOnChain, model.ModeSim)
	}
	if d.Qty.IsNegative() || d.UnitPrice.IsNegative() || d.VATRate.IsNegative() {
		return nil, model.Invalid("qty", "qty, unit_price, and vat_rate must be non-negative")
	}

	if d.DealID == "" {
		d.DealID = uuid.New().String()
	}
	d.Status = model.StatusDraft
	d.Notional = d.Qty.Mul(d.UnitPrice)
	d.CreatedTS = time.Now().UTC()
	d.FinalizedTS = nil
	d.CommitmentJSON = nil

	lock := m.dealLock(d.DealID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.CreateDeal(ctx, d); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}
	if _, err := m.appendTurn(ctx, d.DealID, role, model.SubtypeProposal, proposal); err != nil {
		return nil, err
	}

	metrics.DealTransitionsTotal.WithLabelValues(string(model.StatusDraft)).Inc()
	slog.Info("deal created",
		"deal_id", d.DealID,
		"mode", d.Mode,
		"buyer", d.Buyer,
		"seller", d.Seller,
	)
	m.notifyDeal(d)
	return d, nil
}

// AppendTurn records one dialogue turn (proposal, counter, check, ...)
// without changing the deal's status. Rejected once the deal is terminal.
func (m *Machine) AppendTurn(ctx context.Context, dealID string, role model.TurnRole, subtype model.TurnSubtype, payload json.RawMessage) (*model.NegotiationTurn, error) {
	lock := m.dealLock(dealID)
	lock.Lock()
	defer lock.Unlock()

	deal, err := m.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status.Terminal() {
		return nil, &model.StateConflictError{DealID: dealID, Status: deal.Status, Action: "append turn"}
	}
	return m.appendTurn(ctx, dealID, role, subtype, payload)
}

// Admit transitions draft → admitted. The offer must be structurally
// complete: buyer, seller, sku, positive qty and unit_price. terms, when
// given, refresh the draft's negotiable fields first.
func (m *Machine) Admit(ctx context.Context, dealID string, role model.TurnRole, terms *store.DealTerms) (*model.Deal, error) {
	lock := m.dealLock(dealID)
	lock.Lock()
	defer lock.Unlock()

	deal, err := m.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != model.StatusDraft {
		return nil, &model.StateConflictError{DealID: dealID, Status: deal.Status, Action: "admit"}
	}

	if terms != nil {
		terms.Notional = terms.Qty.Mul(terms.UnitPrice)
		if err := m.store.UpdateDealTerms(ctx, dealID, *terms); err != nil {
			return nil, fmt.Errorf("update deal terms: %w", err)
		}
		deal.SKU = terms.SKU
		deal.Qty = terms.Qty
		deal.UnitPrice = terms.UnitPrice
		deal.VATRate = terms.VATRate
		deal.Notional = terms.Notional
	}

	if err := validateAdmission(deal); err != nil {
		return nil, err
	}

	if err := m.transition(ctx, deal, model.StatusAdmitted, nil, false); err != nil {
		return nil, err
	}
	if _, err := m.appendTurn(ctx, dealID, role, model.SubtypeAdmit, nil); err != nil {
		return nil, err
	}

	slog.Info("deal admitted", "deal_id", dealID, "notional", deal.Notional.String())
	m.notifyDeal(deal)
	return deal, nil
}

// Settle transitions admitted → settled once the commitment is present and
// the mode-specific confirmation step succeeds within the bounded timeout.
// A failed or timed-out confirmation is recorded as a check turn with the
// failure payload and drives the deal to failed instead; the machine never
// retries on its own.
func (m *Machine) Settle(ctx context.Context, dealID string, role model.TurnRole, commitment json.RawMessage) (*model.Receipt, error) {
	lock := m.dealLock(dealID)
	lock.Lock()
	defer lock.Unlock()

	deal, err := m.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != model.StatusAdmitted {
		return nil, &model.StateConflictError{DealID: dealID, Status: deal.Status, Action: "settle"}
	}
	if len(commitment) == 0 {
		commitment = deal.CommitmentJSON
	}
	if len(commitment) == 0 {
		return nil, model.Invalid("commitment_json", "required to settle")
	}

	confirmCtx, cancel := context.WithTimeout(ctx, m.confirmTimeout)
	defer cancel()

	receipt, err := m.confirmer.Confirm(confirmCtx, deal, commitment)
	if err != nil {
		return nil, m.failConfirmation(ctx, deal, role, err)
	}

	event := &model.TransactionEvent{
		ID:       uuid.New().String(),
		TxID:     receipt.TxID,
		DealID:   dealID,
		From:     receipt.From,
		To:       receipt.To,
		Amount:   receipt.Amount,
		TierFrom: 1,
		TierTo:   1,
		Eligible: true,
		Notes:    "settlement: negotiation",
		TS:       receipt.TS,
	}
	// The status flip is the commit point. Recording the receipt first
	// would let a storage error strand a transfer against a deal that is
	// still abortable; flipping first means a retry after a failed ledger
	// write reports the settled conflict instead of confirming a second
	// transfer.
	if err := m.transition(ctx, deal, model.StatusSettled, commitment, true); err != nil {
		return nil, err
	}
	inserted, err := m.store.InsertTransaction(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("deal settled, recording receipt %s failed: %w", receipt.TxID, err)
	}
	if _, err := m.appendTurn(ctx, dealID, role, model.SubtypeAccept, commitment); err != nil {
		return nil, err
	}

	if inserted {
		metrics.TransactionsTotal.WithLabelValues("true").Inc()
		m.notifyTransaction(event)
	}
	slog.Info("deal settled",
		"deal_id", dealID,
		"txid", receipt.TxID,
		"amount", receipt.Amount.String(),
	)
	m.notifyDeal(deal)
	return receipt, nil
}

// Abort transitions draft|admitted → aborted.
func (m *Machine) Abort(ctx context.Context, dealID string, role model.TurnRole, reason string) error {
	return m.terminate(ctx, dealID, role, model.StatusAborted, model.SubtypeAbort, reason)
}

// Fail transitions draft|admitted → failed on behalf of an external agent
// that has given up on the deal.
func (m *Machine) Fail(ctx context.Context, dealID string, role model.TurnRole, reason string) error {
	return m.terminate(ctx, dealID, role, model.StatusFailed, model.SubtypeCheck, reason)
}

// SettleCovered transitions admitted → settled after the ledger observes
// full coverage of the deal's notional. Admission froze a structurally
// complete offer, so when the dialogue never attached a commitment the
// admitted terms stand in for it. Already-settled deals are a no-op.
func (m *Machine) SettleCovered(ctx context.Context, dealID string, trigger *model.TransactionEvent) error {
	lock := m.dealLock(dealID)
	lock.Lock()
	defer lock.Unlock()

	deal, err := m.store.GetDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if deal.Status == model.StatusSettled {
		return nil
	}
	if deal.Status != model.StatusAdmitted {
		return &model.StateConflictError{DealID: dealID, Status: deal.Status, Action: "settle"}
	}

	commitment := deal.CommitmentJSON
	if len(commitment) == 0 {
		commitment, _ = json.Marshal(map[string]any{
			"deal_id":    deal.DealID,
			"buyer":      deal.Buyer,
			"seller":     deal.Seller,
			"sku":        deal.SKU,
			"qty":        deal.Qty,
			"unit_price": deal.UnitPrice,
			"notional":   deal.Notional,
		})
	}

	if err := m.transition(ctx, deal, model.StatusSettled, commitment, true); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{
		"txid":   trigger.TxID,
		"amount": trigger.Amount.String(),
	})
	if _, err := m.appendTurn(ctx, dealID, model.RoleTool, model.SubtypeSettle, payload); err != nil {
		return err
	}

	slog.Info("deal settled by coverage", "deal_id", dealID, "txid", trigger.TxID)
	m.notifyDeal(deal)
	return nil
}

// RecordDealTransaction appends a deal-scoped transfer under the deal's
// exclusive lock, so the admitted/settled gate and the insert observe the
// same status: a concurrent abort cannot slip in between the two. Returns
// the deal as read under the lock for coverage evaluation.
func (m *Machine) RecordDealTransaction(ctx context.Context, e *model.TransactionEvent) (bool, *model.Deal, error) {
	lock := m.dealLock(e.DealID)
	lock.Lock()
	defer lock.Unlock()

	deal, err := m.store.GetDeal(ctx, e.DealID)
	if err != nil {
		return false, nil, err
	}
	if deal.Status.Terminal() {
		// Terminal deals keep no lock entry; drop the one this call made.
		defer m.forgetLock(e.DealID)
	}
	if deal.Status != model.StatusAdmitted && deal.Status != model.StatusSettled {
		return false, nil, &model.StateConflictError{DealID: e.DealID, Status: deal.Status, Action: "record transaction"}
	}
	inserted, err := m.store.InsertTransaction(ctx, e)
	if err != nil {
		return false, nil, fmt.Errorf("insert transaction: %w", err)
	}
	return inserted, deal, nil
}

// --- internals (caller holds the deal lock) ---

func validateAdmission(d *model.Deal) error {
	switch {
	case d.Buyer == "":
		return model.Invalid("buyer", "required for admission")
	case d.Seller == "":
		return model.Invalid("seller", "required for admission")
	case d.SKU == "":
		return model.Invalid("sku", "required for admission")
	case !d.Qty.IsPositive():
		return model.Invalid("qty", "must be positive, got %s", d.Qty)
	case !d.UnitPrice.IsPositive():
		return model.Invalid("unit_price", "must be positive, got %s", d.UnitPrice)
	}
	return nil
}

// transition performs the compare-and-swap status update and keeps the
// in-memory deal in sync with what was written.
func (m *Machine) transition(ctx context.Context, deal *model.Deal, to model.DealStatus, commitment json.RawMessage, final bool) error {
	if !deal.Status.CanTransition(to) {
		return &model.StateConflictError{DealID: deal.DealID, Status: deal.Status, Action: "transition to " + string(to)}
	}

	var finalized *time.Time
	if final {
		now := time.Now().UTC()
		finalized = &now
	}

	if err := m.store.UpdateDealStatus(ctx, deal.DealID, deal.Status, to, commitment, finalized); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return &model.StateConflictError{DealID: deal.DealID, Status: deal.Status, Action: "transition to " + string(to)}
		}
		return fmt.Errorf("update deal status: %w", err)
	}

	deal.Status = to
	if commitment != nil {
		deal.CommitmentJSON = commitment
	}
	deal.FinalizedTS = finalized
	metrics.DealTransitionsTotal.WithLabelValues(string(to)).Inc()
	if to.Terminal() {
		m.forgetLock(deal.DealID)
	}
	return nil
}

func (m *Machine) appendTurn(ctx context.Context, dealID string, role model.TurnRole, subtype model.TurnSubtype, payload json.RawMessage) (*model.NegotiationTurn, error) {
	next, err := m.store.NextTurn(ctx, dealID)
	if err != nil {
		return nil, err
	}
	turn := &model.NegotiationTurn{
		ID:      uuid.New().String(),
		DealID:  dealID,
		Turn:    next,
		Role:    role,
		Subtype: subtype,
		Payload: payload,
		TS:      time.Now().UTC(),
	}
	if err := m.store.AppendTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("append turn %d: %w", next, err)
	}
	metrics.TurnsTotal.WithLabelValues(string(subtype)).Inc()
	return turn, nil
}

func (m *Machine) terminate(ctx context.Context, dealID string, role model.TurnRole, to model.DealStatus, subtype model.TurnSubtype, reason string) error {
	lock := m.dealLock(dealID)
	lock.Lock()
	defer lock.Unlock()

	deal, err := m.store.GetDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if deal.Status.Terminal() {
		return &model.StateConflictError{DealID: dealID, Status: deal.Status, Action: string(to)}
	}

	if err := m.transition(ctx, deal, to, nil, true); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	if _, err := m.appendTurn(ctx, dealID, role, subtype, payload); err != nil {
		return err
	}

	slog.Info("deal terminated", "deal_id", dealID, "status", to, "reason", reason)
	m.notifyDeal(deal)
	return nil
}

// failConfirmation records the failed confirmation as a check turn and
// drives the deal to failed. The returned error is the ConfirmationError
// the caller surfaces; store failures during the recording take precedence.
func (m *Machine) failConfirmation(ctx context.Context, deal *model.Deal, role model.TurnRole, cause error) error {
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := m.transition(ctx, deal, model.StatusFailed, nil, true); err != nil {
		return err
	}
	if _, err := m.appendTurn(ctx, deal.DealID, role, model.SubtypeCheck, payload); err != nil {
		return err
	}

	slog.Warn("settlement confirmation failed", "deal_id", deal.DealID, "err", cause)
	m.notifyDeal(deal)
	return &model.ConfirmationError{DealID: deal.DealID, Err: cause}
}

func (m *Machine) notifyDeal(d *model.Deal) {
	if m.notifier != nil {
		cp := *d
		m.notifier.DealUpdated(&cp)
	}
}

func (m *Machine) notifyTransaction(e *model.TransactionEvent) {
	if m.notifier != nil {
		cp := *e
		m.notifier.TransactionRecorded(&cp)
	}
}
