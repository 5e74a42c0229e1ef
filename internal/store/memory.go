package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arcboost/stimulus-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	deals map[string]*model.Deal
	turns []model.NegotiationTurn
	txs   []model.TransactionEvent
	seen  map[string]bool // txid → recorded
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deals: make(map[string]*model.Deal),
		seen:  make(map[string]bool),
	}
}

func (s *MemoryStore) CreateDeal(_ context.Context, d *model.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deals[d.DealID]; ok {
		return fmt.Errorf("deal %s already exists", d.DealID)
	}
	cp := *d
	s.deals[d.DealID] = &cp
	return nil
}

func (s *MemoryStore) GetDeal(_ context.Context, dealID string) (*model.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deals[dealID]
	if !ok {
		return nil, fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDeals(_ context.Context, statuses []model.DealStatus, limit, offset int) ([]model.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[model.DealStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []model.Deal
	for _, d := range s.deals {
		if len(want) == 0 || want[d.Status] {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedTS.After(out[j].CreatedTS)
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateDealTerms(_ context.Context, dealID string, terms DealTerms) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deals[dealID]
	if !ok {
		return fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
	}
	d.SKU = terms.SKU
	d.Qty = terms.Qty
	d.UnitPrice = terms.UnitPrice
	d.VATRate = terms.VATRate
	d.Notional = terms.Notional
	return nil
}

func (s *MemoryStore) UpdateDealStatus(_ context.Context, dealID string, from, to model.DealStatus, commitment json.RawMessage, finalized *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deals[dealID]
	if !ok {
		return fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
	}
	if d.Status != from {
		return fmt.Errorf("deal %s is %s, expected %s: %w", dealID, d.Status, from, ErrStatusConflict)
	}
	d.Status = to
	if commitment != nil {
		d.CommitmentJSON = commitment
	}
	if finalized != nil {
		ts := *finalized
		d.FinalizedTS = &ts
	}
	return nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, t *model.NegotiationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.turns {
		if existing.DealID == t.DealID && existing.Turn == t.Turn {
			return fmt.Errorf("deal %s turn %d already recorded", t.DealID, t.Turn)
		}
	}
	s.turns = append(s.turns, *t)
	return nil
}

func (s *MemoryStore) ListTurns(_ context.Context, dealID string) ([]model.NegotiationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.NegotiationTurn
	for _, t := range s.turns {
		if t.DealID == dealID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Turn < out[j].Turn })
	return out, nil
}

func (s *MemoryStore) NextTurn(_ context.Context, dealID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for _, t := range s.turns {
		if t.DealID == dealID && t.Turn > max {
			max = t.Turn
		}
	}
	return max + 1, nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, e *model.TransactionEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[e.TxID] {
		return false, nil
	}
	s.seen[e.TxID] = true
	s.txs = append(s.txs, *e)
	return true, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, limit int) ([]model.TransactionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Insertion order is chronological; reverse for newest-first.
	out := make([]model.TransactionEvent, 0, len(s.txs))
	for i := len(s.txs) - 1; i >= 0; i-- {
		out = append(out, s.txs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTransactionsByDeal(_ context.Context, dealID string) ([]model.TransactionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TransactionEvent
	for _, e := range s.txs {
		if e.DealID == dealID {
			out = append(out, e)
		}
	}
	return out, nil
}
