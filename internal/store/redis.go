package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcboost/stimulus-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for per-deal reads, the hot path of the polling monitor. Writes go
// to the primary store and invalidate the cache; list queries pass through.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateDeal(ctx context.Context, d *model.Deal) error {
	if err := s.primary.CreateDeal(ctx, d); err != nil {
		return err
	}
	s.cacheDeal(ctx, d)
	return nil
}

func (s *CachedStore) UpdateDealTerms(ctx context.Context, dealID string, terms DealTerms) error {
	if err := s.primary.UpdateDealTerms(ctx, dealID, terms); err != nil {
		return err
	}
	s.rdb.Del(ctx, dealKey(dealID))
	return nil
}

func (s *CachedStore) UpdateDealStatus(ctx context.Context, dealID string, from, to model.DealStatus, commitment json.RawMessage, finalized *time.Time) error {
	if err := s.primary.UpdateDealStatus(ctx, dealID, from, to, commitment, finalized); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, dealKey(dealID))
	return nil
}

func (s *CachedStore) AppendTurn(ctx context.Context, t *model.NegotiationTurn) error {
	if err := s.primary.AppendTurn(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, turnsKey(t.DealID))
	return nil
}

func (s *CachedStore) InsertTransaction(ctx context.Context, e *model.TransactionEvent) (bool, error) {
	return s.primary.InsertTransaction(ctx, e)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	data, err := s.rdb.Get(ctx, dealKey(dealID)).Bytes()
	if err == nil {
		var d model.Deal
		if json.Unmarshal(data, &d) == nil {
			return &d, nil
		}
	}

	d, err := s.primary.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	s.cacheDeal(ctx, d)
	return d, nil
}

func (s *CachedStore) ListTurns(ctx context.Context, dealID string) ([]model.NegotiationTurn, error) {
	data, err := s.rdb.Get(ctx, turnsKey(dealID)).Bytes()
	if err == nil {
		var turns []model.NegotiationTurn
		if json.Unmarshal(data, &turns) == nil {
			return turns, nil
		}
	}

	turns, err := s.primary.ListTurns(ctx, dealID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(turns); err == nil {
		s.rdb.Set(ctx, turnsKey(dealID), data, s.ttl)
	}
	return turns, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListDeals(ctx context.Context, statuses []model.DealStatus, limit, offset int) ([]model.Deal, error) {
	return s.primary.ListDeals(ctx, statuses, limit, offset)
}

func (s *CachedStore) NextTurn(ctx context.Context, dealID string) (int, error) {
	return s.primary.NextTurn(ctx, dealID)
}

func (s *CachedStore) ListTransactions(ctx context.Context, limit int) ([]model.TransactionEvent, error) {
	return s.primary.ListTransactions(ctx, limit)
}

func (s *CachedStore) ListTransactionsByDeal(ctx context.Context, dealID string) ([]model.TransactionEvent, error) {
	return s.primary.ListTransactionsByDeal(ctx, dealID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheDeal(ctx context.Context, d *model.Deal) {
	if data, err := json.Marshal(d); err == nil {
		s.rdb.Set(ctx, dealKey(d.DealID), data, s.ttl)
	}
}

func dealKey(id string) string  { return fmt.Sprintf("deal:%s", id) }
func turnsKey(id string) string { return fmt.Sprintf("turns:%s", id) }
