/*
balance.go - Service-minute ledger operations

PURPOSE:
  The BalanceLedger records service transactions (purchased, used, credit)
  and keeps the customer's available balance consistent with the entry log.

QUANTITY RULES:
  purchased / used  quantity comes from the service catalog entry's
                    MinutesAvailable. The caller-supplied quantity is IGNORED
                    for these two types: quantity is tied to the catalog, not
                    to user input.
  credit            quantity is taken verbatim from the caller; no catalog
                    lookup happens.

ATOMICITY:
  Entry persistence and the balance mutation happen inside one store
  transaction, and the sufficiency check for used-type entries IS the
  decrement (Store.SpendBalance). Two concurrent used-transactions against
  the same customer can no longer both pass the check: one of them fails
  with ErrInsufficientBalance.

REVERSAL:
  ReverseServiceTransaction deletes the entry and applies the inverse balance
  adjustment without re-validating the non-negative invariant. Reversing a
  used entry whose minutes were already spent elsewhere can drive the balance
  negative; that is the documented current behavior.

SEE ALSO:
  - inventory.go: product ledger
  - store.go: SpendBalance / AdjustBalance contracts
*/
package ledger

import (
	"context"
	"fmt"
)

// =============================================================================
// BALANCE LEDGER
// =============================================================================

// BalanceLedger owns all writes to the service ledger and to profile balances.
type BalanceLedger struct {
	store TxStore
}

func NewBalanceLedger(store TxStore) *BalanceLedger {
	return &BalanceLedger{store: store}
}

// ServiceTransactionRequest carries the already-validated fields of a ledger
// write request. ServiceID and LocationID may be zero; Quantity is only
// meaningful for credit-type requests.
type ServiceTransactionRequest struct {
	CustomerID CustomerID
	Type       ServiceEntryType
	ServiceID  ServiceID
	Quantity   int
	LocationID LocationID
}

// RecordServiceTransaction validates the request, persists one immutable
// ServiceEntry, and applies the balance effect, all within one store
// transaction.
func (l *BalanceLedger) RecordServiceTransaction(ctx context.Context, req ServiceTransactionRequest) (*ServiceEntry, error) {
	if !ValidServiceEntryType(req.Type) {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, req.Type)
	}

	quantity := req.Quantity
	if req.Type == EntryPurchased || req.Type == EntryUsed {
		svc, err := l.store.GetService(ctx, req.ServiceID)
		if err != nil {
			return nil, err
		}
		quantity = svc.MinutesAvailable
	}

	entry := ServiceEntry{
		CustomerID: req.CustomerID,
		ServiceID:  req.ServiceID,
		Type:       req.Type,
		Quantity:   quantity,
		LocationID: req.LocationID,
	}

	var stored *ServiceEntry
	err := l.store.WithTx(ctx, func(tx Store) error {
		switch req.Type {
		case EntryPurchased, EntryCredit:
			if _, err := tx.AdjustBalance(ctx, req.CustomerID, quantity); err != nil {
				return err
			}
		case EntryUsed:
			if _, err := tx.SpendBalance(ctx, req.CustomerID, quantity); err != nil {
				return err
			}
		}

		var err error
		stored, err = tx.AppendServiceEntry(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ReverseServiceTransaction deletes an entry and applies the inverse balance
// adjustment: purchased entries subtract their minutes back out, used entries
// add them back, credit entries adjust nothing. The non-negative invariant is
// NOT re-checked here.
func (l *BalanceLedger) ReverseServiceTransaction(ctx context.Context, id EntryID) error {
	return l.store.WithTx(ctx, func(tx Store) error {
		entry, err := tx.GetServiceEntry(ctx, id)
		if err != nil {
			return err
		}

		switch entry.Type {
		case EntryPurchased:
			if _, err := tx.AdjustBalance(ctx, entry.CustomerID, -entry.Quantity); err != nil {
				return err
			}
		case EntryUsed:
			if _, err := tx.AdjustBalance(ctx, entry.CustomerID, entry.Quantity); err != nil {
				return err
			}
		}

		return tx.DeleteServiceEntry(ctx, id)
	})
}

// ComputeTotalSpend finds the customer's most recent purchase, sums the
// quantities of all used entries recorded at or after it, and adds that sum
// to the profile's cumulative total-spend counter. Returns the new total.
//
// The counter accumulates across calls; it is not a snapshot.
func (l *BalanceLedger) ComputeTotalSpend(ctx context.Context, id CustomerID) (int, error) {
	last, err := l.store.LatestPurchase(ctx, id)
	if err != nil {
		return 0, err
	}

	spent, err := l.store.SumServiceQuantity(ctx, ServiceEntryFilter{
		CustomerID: id,
		Type:       EntryUsed,
		From:       last.CreatedAt,
	})
	if err != nil {
		return 0, err
	}

	return l.store.AddTotalSpend(ctx, id, spent)
}

// CreditMinutes adds amount directly to the customer's available balance.
// Unlike a credit-type service transaction, no ledger entry is created: this
// is the balance-only shortcut path. Returns the new balance.
func (l *BalanceLedger) CreditMinutes(ctx context.Context, id CustomerID, amount int) (int, error) {
	return l.store.AdjustBalance(ctx, id, amount)
}

// MinutesSummary returns total used and purchased minutes for one customer,
// or across all customers when id is zero.
func (l *BalanceLedger) MinutesSummary(ctx context.Context, id CustomerID) (MinuteTotals, error) {
	used, err := l.store.SumServiceQuantity(ctx, ServiceEntryFilter{CustomerID: id, Type: EntryUsed})
	if err != nil {
		return MinuteTotals{}, err
	}
	purchased, err := l.store.SumServiceQuantity(ctx, ServiceEntryFilter{CustomerID: id, Type: EntryPurchased})
	if err != nil {
		return MinuteTotals{}, err
	}
	return MinuteTotals{TotalUsed: used, TotalPurchased: purchased}, nil
}
