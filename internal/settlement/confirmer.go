// Package settlement records transfer events against the append-only
// ledger and provides the confirmation step that finalizes a deal.
package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/arcboost/stimulus-engine/internal/model"
)

// SimConfirmer confirms settlements in simulation mode: it fabricates a
// receipt for the deal's notional after an optional artificial delay.
// Cancellation wins over the delay, so a bounded settle attempt times
// out the same way a slow chain would.
type SimConfirmer struct {
	Delay time.Duration
}

// Confirm implements the confirmation step for sim-mode deals.
func (c *SimConfirmer) Confirm(ctx context.Context, deal *model.Deal, commitment json.RawMessage) (*model.Receipt, error) {
	if c.Delay > 0 {
		timer := time.NewTimer(c.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &model.Receipt{
		TxID:   "sim-" + uuid.New().String(),
		From:   deal.Buyer,
		To:     deal.Seller,
		Amount: deal.Notional,
		TS:     time.Now().UTC(),
	}, nil
}
