// Package model defines the core domain types shared across the stimulus
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DealStatus is the lifecycle state of a negotiated deal. Transitions are
// forward-only: draft → admitted → settled, with aborted and failed as
// alternate terminals reachable from draft or admitted.
type DealStatus string

const (
	StatusDraft    DealStatus = "draft"
	StatusAdmitted DealStatus = "admitted"
	StatusSettled  DealStatus = "settled"
	StatusAborted  DealStatus = "aborted"
	StatusFailed   DealStatus = "failed"
)

// Terminal reports whether no further transition may leave this status.
func (s DealStatus) Terminal() bool {
	return s == StatusSettled || s == StatusAborted || s == StatusFailed
}

// CanTransition reports whether s → to is a legal lifecycle edge.
func (s DealStatus) CanTransition(to DealStatus) bool {
	switch s {
	case StatusDraft:
		return to == StatusAdmitted || to == StatusAborted || to == StatusFailed
	case StatusAdmitted:
		return to == StatusSettled || to == StatusAborted || to == StatusFailed
	default:
		return false
	}
}

// DealMode selects the settlement confirmation path.
type DealMode string

const (
	ModeOnChain DealMode = "on_chain"
	ModeSim     DealMode = "sim"
)

// TurnRole identifies the party responsible for a negotiation turn.
type TurnRole string

const (
	RoleBuyer  TurnRole = "buyer"
	RoleSeller TurnRole = "seller"
	RoleJudge  TurnRole = "judge"
	RoleTool   TurnRole = "tool"
)

// TurnSubtype describes the action a negotiation turn records.
type TurnSubtype string

const (
	SubtypeProposal TurnSubtype = "proposal"
	SubtypeCounter  TurnSubtype = "counter"
	SubtypeAccept   TurnSubtype = "accept"
	SubtypeAdmit    TurnSubtype = "admit"
	SubtypeCheck    TurnSubtype = "check"
	SubtypeSettle   TurnSubtype = "settle"
	SubtypeAbort    TurnSubtype = "abort"
)

// Deal is one negotiated buyer/seller transaction progressing through the
// admission/settlement lifecycle. Owned exclusively by the negotiation
// subsystem; the monitor feed reads it, never writes.
type Deal struct {
	DealID         string          `json:"deal_id" db:"deal_id"`
	Status         DealStatus      `json:"status" db:"status"`
	Mode           DealMode        `json:"mode" db:"mode"`
	Buyer          string          `json:"buyer" db:"buyer"`
	Seller         string          `json:"seller" db:"seller"`
	SKU            string          `json:"sku" db:"sku"`
	Qty            decimal.Decimal `json:"qty" db:"qty"`
	UnitPrice      decimal.Decimal `json:"unit_price" db:"unit_price"`
	VATRate        decimal.Decimal `json:"vat_rate" db:"vat_rate"`
	Notional       decimal.Decimal `json:"notional_ui" db:"notional_ui"`
	CommitmentJSON json.RawMessage `json:"commitment_json,omitempty" db:"commitment_json"`
	CreatedTS      time.Time       `json:"created_ts" db:"created_ts"`
	FinalizedTS    *time.Time      `json:"finalized_ts,omitempty" db:"finalized_ts"`
}

// NegotiationTurn is one append-only entry in a deal's dialogue log.
// Turn numbers are assigned by the state machine, start at 1, and are
// gapless within a deal. Never mutated or deleted after insertion.
type NegotiationTurn struct {
	ID      string          `json:"id" db:"id"`
	DealID  string          `json:"deal_id" db:"deal_id"`
	Turn    int             `json:"turn" db:"turn"`
	Role    TurnRole        `json:"role" db:"role"`
	Subtype TurnSubtype     `json:"subtype" db:"subtype"`
	Payload json.RawMessage `json:"payload,omitempty" db:"payload"`
	TS      time.Time       `json:"ts" db:"ts"`
}

// TransactionEvent is an immutable record of a settlement transfer, keyed
// by txid for idempotent recording. DealID is an optional back-reference;
// transfers observed outside any deal carry none.
type TransactionEvent struct {
	ID       string          `json:"id" db:"id"`
	TxID     string          `json:"txid" db:"txid"`
	DealID   string          `json:"deal_id,omitempty" db:"deal_id"`
	From     string          `json:"from_address" db:"from_address"`
	To       string          `json:"to_address" db:"to_address"`
	Amount   decimal.Decimal `json:"amount_ui" db:"amount_ui"`
	TierFrom int             `json:"tier_from" db:"tier_from"`
	TierTo   int             `json:"tier_to" db:"tier_to"`
	IsMint   bool            `json:"is_mint" db:"is_mint"`
	Eligible bool            `json:"eligible" db:"eligible"`
	Notes    string          `json:"notes,omitempty" db:"notes"`
	TS       time.Time       `json:"ts" db:"ts"`
}

// Receipt is the outcome of a successful settlement confirmation step.
type Receipt struct {
	TxID   string          `json:"txid"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	TS     time.Time       `json:"ts"`
}
