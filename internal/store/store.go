// Package store defines the persistence interface for deals, negotiation
// turns, and settlement transactions. Implementations include PostgreSQL
// (source of truth), Redis (read-through cache), and in-memory (for
// testing and development).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arcboost/stimulus-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrStatusConflict is returned when a compare-and-swap status update
	// finds the deal in a different status than expected.
	ErrStatusConflict = errors.New("store: status precondition failed")
)

// DealTerms are the negotiable fields a draft deal may refresh before
// admission freezes them.
type DealTerms struct {
	SKU       string          `json:"sku"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	VATRate   decimal.Decimal `json:"vat_rate"`
	Notional  decimal.Decimal `json:"notional_ui"`
}

// Store is the persistence interface. Writes to a deal's status use
// compare-and-swap on the current status so the state machine never
// overwrites a concurrent transition; turn and transaction logs are
// append-only.
type Store interface {
	// --- Deals ---

	// CreateDeal persists a new draft deal.
	CreateDeal(ctx context.Context, d *model.Deal) error

	// GetDeal retrieves a deal by its ID. Returns ErrNotFound if absent.
	GetDeal(ctx context.Context, dealID string) (*model.Deal, error)

	// ListDeals returns deals matching any of the given statuses (all
	// statuses when empty), ordered by created_ts descending. A limit
	// of zero or less returns every match.
	ListDeals(ctx context.Context, statuses []model.DealStatus, limit, offset int) ([]model.Deal, error)

	// UpdateDealTerms refreshes the negotiable fields of a draft deal.
	UpdateDealTerms(ctx context.Context, dealID string, terms DealTerms) error

	// UpdateDealStatus transitions a deal from the expected status to the
	// new one, optionally attaching the commitment and finalized timestamp.
	// Returns ErrStatusConflict if the deal is no longer in `from`.
	UpdateDealStatus(ctx context.Context, dealID string, from, to model.DealStatus, commitment json.RawMessage, finalized *time.Time) error

	// --- Negotiation turns (append-only) ---

	// AppendTurn inserts one turn. The (deal_id, turn) pair is unique.
	AppendTurn(ctx context.Context, t *model.NegotiationTurn) error

	// ListTurns returns a deal's full turn log ordered by turn ascending.
	ListTurns(ctx context.Context, dealID string) ([]model.NegotiationTurn, error)

	// NextTurn returns the next turn number for a deal (1 for a fresh deal).
	NextTurn(ctx context.Context, dealID string) (int, error)

	// --- Settlement transactions (append-only) ---

	// InsertTransaction appends one transaction event. A txid seen before
	// is dropped: inserted reports false and no row is written.
	InsertTransaction(ctx context.Context, e *model.TransactionEvent) (inserted bool, err error)

	// ListTransactions returns the most recent events, newest first.
	// limit <= 0 returns all events.
	ListTransactions(ctx context.Context, limit int) ([]model.TransactionEvent, error)

	// ListTransactionsByDeal returns a deal's events, oldest first.
	ListTransactionsByDeal(ctx context.Context, dealID string) ([]model.TransactionEvent, error)
}
