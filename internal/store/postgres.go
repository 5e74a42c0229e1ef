package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/arcboost/stimulus-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision; the
// (deal_id, turn) unique constraint and the txid unique constraint back
// the gapless-turn and idempotent-transaction invariants.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const dealColumns = `deal_id, status, mode, buyer, seller, sku,
	qty::TEXT, unit_price::TEXT, vat_rate::TEXT, notional_ui::TEXT,
	commitment_json, created_ts, finalized_ts`

func (s *PostgresStore) CreateDeal(ctx context.Context, d *model.Deal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deals (deal_id, status, mode, buyer, seller, sku,
		        qty, unit_price, vat_rate, notional_ui, commitment_json, created_ts, finalized_ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12, $13)`,
		d.DealID, string(d.Status), string(d.Mode), d.Buyer, d.Seller, d.SKU,
		d.Qty.String(), d.UnitPrice.String(), d.VATRate.String(), d.Notional.String(),
		nullableJSON(d.CommitmentJSON), d.CreatedTS, d.FinalizedTS,
	)
	return err
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE deal_id = $1`, dealID)
	d, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
		}
		return nil, fmt.Errorf("get deal %s: %w", dealID, err)
	}
	return d, nil
}

func (s *PostgresStore) ListDeals(ctx context.Context, statuses []model.DealStatus, limit, offset int) ([]model.Deal, error) {
	var (
		where string
		args  []any
	)
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, string(st))
		}
		where = "WHERE status IN (" + strings.Join(marks, ", ") + ")"
	}
	q := fmt.Sprintf(`SELECT %s FROM deals %s ORDER BY created_ts DESC`, dealColumns, where)
	// limit <= 0 means no cap; binding it would read as LIMIT 0.
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, offset)
	q += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}

func (s *PostgresStore) UpdateDealTerms(ctx context.Context, dealID string, terms DealTerms) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals
		 SET sku = $2, qty = $3::NUMERIC, unit_price = $4::NUMERIC,
		     vat_rate = $5::NUMERIC, notional_ui = $6::NUMERIC
		 WHERE deal_id = $1`,
		dealID, terms.SKU, terms.Qty.String(), terms.UnitPrice.String(),
		terms.VATRate.String(), terms.Notional.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateDealStatus(ctx context.Context, dealID string, from, to model.DealStatus, commitment json.RawMessage, finalized *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals
		 SET status = $3,
		     commitment_json = COALESCE($4, commitment_json),
		     finalized_ts = COALESCE($5, finalized_ts)
		 WHERE deal_id = $1 AND status = $2`,
		dealID, string(from), string(to), nullableJSON(commitment), finalized,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing deal from a lost CAS race.
		if _, err := s.GetDeal(ctx, dealID); err != nil {
			return err
		}
		return fmt.Errorf("deal %s not in status %s: %w", dealID, from, ErrStatusConflict)
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, t *model.NegotiationTurn) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO negotiation_turns (id, deal_id, turn, role, subtype, payload, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.DealID, t.Turn, string(t.Role), string(t.Subtype), nullableJSON(t.Payload), t.TS,
	)
	return err
}

func (s *PostgresStore) ListTurns(ctx context.Context, dealID string) ([]model.NegotiationTurn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, deal_id, turn, role, subtype, payload, ts
		 FROM negotiation_turns WHERE deal_id = $1 ORDER BY turn`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []model.NegotiationTurn
	for rows.Next() {
		var t model.NegotiationTurn
		var role, subtype string
		var payload []byte
		if err := rows.Scan(&t.ID, &t.DealID, &t.Turn, &role, &subtype, &payload, &t.TS); err != nil {
			return nil, err
		}
		t.Role = model.TurnRole(role)
		t.Subtype = model.TurnSubtype(subtype)
		t.Payload = payload
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *PostgresStore) NextTurn(ctx context.Context, dealID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(turn), 0) + 1 FROM negotiation_turns WHERE deal_id = $1`,
		dealID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next turn for deal %s: %w", dealID, err)
	}
	return next, nil
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, e *model.TransactionEvent) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, txid, deal_id, from_address, to_address,
		        amount_ui, tier_from, tier_to, is_mint, eligible, notes, ts)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6::NUMERIC, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (txid) DO NOTHING`,
		e.ID, e.TxID, e.DealID, e.From, e.To,
		e.Amount.String(), e.TierFrom, e.TierTo, e.IsMint, e.Eligible, e.Notes, e.TS,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, limit int) ([]model.TransactionEvent, error) {
	q := `SELECT id, txid, COALESCE(deal_id, ''), from_address, to_address,
	             amount_ui::TEXT, tier_from, tier_to, is_mint, eligible, notes, ts
	      FROM transactions ORDER BY ts DESC, id DESC`
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx, q+` LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) ListTransactionsByDeal(ctx context.Context, dealID string) ([]model.TransactionEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, txid, COALESCE(deal_id, ''), from_address, to_address,
		        amount_ui::TEXT, tier_from, tier_to, is_mint, eligible, notes, ts
		 FROM transactions WHERE deal_id = $1 ORDER BY ts, id`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// scanner abstracts pgx.Row and pgx.Rows for shared deal scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanDeal(row scanner) (*model.Deal, error) {
	var d model.Deal
	var status, mode string
	var qty, unitPrice, vatRate, notional string
	var commitment []byte

	if err := row.Scan(&d.DealID, &status, &mode, &d.Buyer, &d.Seller, &d.SKU,
		&qty, &unitPrice, &vatRate, &notional,
		&commitment, &d.CreatedTS, &d.FinalizedTS); err != nil {
		return nil, err
	}

	d.Status = model.DealStatus(status)
	d.Mode = model.DealMode(mode)
	d.CommitmentJSON = commitment
	d.Qty, _ = decimal.NewFromString(qty)
	d.UnitPrice, _ = decimal.NewFromString(unitPrice)
	d.VATRate, _ = decimal.NewFromString(vatRate)
	d.Notional, _ = decimal.NewFromString(notional)
	return &d, nil
}

func scanTransactions(rows pgx.Rows) ([]model.TransactionEvent, error) {
	var events []model.TransactionEvent
	for rows.Next() {
		var e model.TransactionEvent
		var amount string
		if err := rows.Scan(&e.ID, &e.TxID, &e.DealID, &e.From, &e.To,
			&amount, &e.TierFrom, &e.TierTo, &e.IsMint, &e.Eligible, &e.Notes, &e.TS); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		events = append(events, e)
	}
	return events, rows.Err()
}

// nullableJSON maps an absent payload to SQL NULL instead of an empty blob.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
