/*
inventory.go - Product ledger operations

PURPOSE:
  The InventoryLedger records product sales per customer/location and keeps
  per-location stock counters in step with single-sale entries.

STOCK RULES:
  The location's legacy Code ("01", "02", "03") selects which stock bucket is
  decremented. Codes outside the seeded set decrement nothing - a silent
  no-op, preserved from the reference system. Stock has no floor and may go
  negative.

TWO WRITE PATHS:
  RecordProductTransaction       one entry + stock decrement, atomic
  BulkRecordProductTransactions  many entries, NO stock effect

  The bulk path really does skip the stock decrement. The two operations are
  kept separate and named for what they do instead of being unified.
*/
package ledger

// =============================================================================
// INVENTORY LEDGER
// =============================================================================

import (
	"context"
	"errors"
)

// InventoryLedger owns all writes to the product ledger and stock counters.
type InventoryLedger struct {
	store TxStore
}

func NewInventoryLedger(store TxStore) *InventoryLedger {
	return &InventoryLedger{store: store}
}

// ProductTransactionRequest carries the already-validated fields of a product
// sale.
type ProductTransactionRequest struct {
	CustomerID CustomerID
	ProductID  ProductID
	LocationID LocationID
	Quantity   int
}

// RecordProductTransaction persists one ProductEntry and decrements the stock
// bucket matching the location's legacy code. The product must exist and the
// location must resolve; both are checked before anything persists, so an
// invalid location never leaves a dangling entry behind.
func (l *InventoryLedger) RecordProductTransaction(ctx context.Context, req ProductTransactionRequest) (*ProductEntry, error) {
	if _, err := l.store.GetProduct(ctx, req.ProductID); err != nil {
		return nil, err
	}

	loc, err := l.store.GetLocation(ctx, req.LocationID)
	if errors.Is(err, ErrLocationNotFound) {
		return nil, ErrInvalidLocation
	}
	if err != nil {
		return nil, err
	}

	entry := ProductEntry{
		CustomerID: req.CustomerID,
		ProductID:  req.ProductID,
		LocationID: req.LocationID,
		Quantity:   req.Quantity,
	}

	var stored *ProductEntry
	err = l.store.WithTx(ctx, func(tx Store) error {
		var err error
		stored, err = tx.AppendProductEntry(ctx, entry)
		if err != nil {
			return err
		}
		// Unknown codes adjust nothing; AdjustStock returns nil for them.
		return tx.AdjustStock(ctx, req.ProductID, loc.Code, -req.Quantity)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// BulkRecordProductTransactions persists each entry in one store transaction.
// No stock decrement happens on this path; it exists for backfilling ledger
// history where stock was already reconciled out of band.
func (l *InventoryLedger) BulkRecordProductTransactions(ctx context.Context, reqs []ProductTransactionRequest) ([]ProductEntry, error) {
	stored := make([]ProductEntry, 0, len(reqs))
	err := l.store.WithTx(ctx, func(tx Store) error {
		for _, req := range reqs {
			e, err := tx.AppendProductEntry(ctx, ProductEntry{
				CustomerID: req.CustomerID,
				ProductID:  req.ProductID,
				LocationID: req.LocationID,
				Quantity:   req.Quantity,
			})
			if err != nil {
				return err
			}
			stored = append(stored, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}
