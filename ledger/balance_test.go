package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestBalanceLedger(t *testing.T) (*ledger.BalanceLedger, *memory.Store) {
	t.Helper()
	store := memory.New()
	return ledger.NewBalanceLedger(store), store
}

func seedCustomer(t *testing.T, store *memory.Store, id ledger.CustomerID, balance int) {
	t.Helper()
	err := store.SaveProfile(context.Background(), ledger.Profile{
		CustomerID:       id,
		FirstName:        "Test",
		LastName:         "Customer",
		AvailableBalance: balance,
	})
	require.NoError(t, err)
}

func seedService(t *testing.T, store *memory.Store, minutes int) ledger.ServiceID {
	t.Helper()
	id, err := store.SaveService(context.Background(), ledger.ServiceCatalogEntry{
		Name:             "Full Session",
		Price:            decimal.NewFromInt(25),
		MinutesAvailable: minutes,
	})
	require.NoError(t, err)
	return id
}

func balanceOf(t *testing.T, store *memory.Store, id ledger.CustomerID) int {
	t.Helper()
	p, err := store.GetProfile(context.Background(), id)
	require.NoError(t, err)
	return p.AvailableBalance
}

// =============================================================================
// QUANTITY RULES
// =============================================================================

func TestBalanceLedger_Purchased_QuantityFromCatalog(t *testing.T) {
	// GIVEN: A service worth 30 minutes
	// WHEN: Recording a purchase with a caller-supplied quantity of 999
	// THEN: The entry and the balance both use the catalog's 30, not 999

	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 0)
	svcID := seedService(t, store, 30)

	entry, err := bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
		CustomerID: 1,
		Type:       ledger.EntryPurchased,
		ServiceID:  svcID,
		Quantity:   999,
	})
	require.NoError(t, err)

	assert.Equal(t, 30, entry.Quantity, "caller quantity must be ignored for purchased")
	assert.Equal(t, 30, balanceOf(t, store, 1))
}

func TestBalanceLedger_Used_QuantityFromCatalog(t *testing.T) {
	// GIVEN: A customer with 100 minutes and a 30-minute service
	// WHEN: Recording a used transaction
	// THEN: Exactly the catalog's 30 minutes are deducted

	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 100)
	svcID := seedService(t, store, 30)

	entry, err := bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
		CustomerID: 1,
		Type:       ledger.EntryUsed,
		ServiceID:  svcID,
		Quantity:   5,
	})
	require.NoError(t, err)

	assert.Equal(t, 30, entry.Quantity)
	assert.Equal(t, 70, balanceOf(t, store, 1))
}

func TestBalanceLedger_Credit_QuantityFromCaller(t *testing.T) {
	// GIVEN: A customer with 10 minutes
	// WHEN: Recording a credit of 15 with no service reference
	// THEN: The caller's quantity is used verbatim; no catalog lookup happens

	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 10)

	entry, err := bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
		CustomerID: 1,
		Type:       ledger.EntryCredit,
		Quantity:   15,
	})
	require.NoError(t, err)

	assert.Equal(t, 15, entry.Quantity)
	assert.Equal(t, 25, balanceOf(t, store, 1))
}

func TestBalanceLedger_UnknownType_Rejected(t *testing.T) {
	bl, store := newTestBalanceLedger(t)
	seedCustomer(t, store, 1, 0)

	_, err := bl.RecordServiceTransaction(context.Background(), ledger.ServiceTransactionRequest{
		CustomerID: 1,
		Type:       "refunded",
	})

	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestBalanceLedger_UnknownService_Rejected(t *testing.T) {
	bl, store := newTestBalanceLedger(t)
	seedCustomer(t, store, 1, 0)

	_, err := bl.RecordServiceTransaction(context.Background(), ledger.ServiceTransactionRequest{
		CustomerID: 1,
		Type:       ledger.EntryPurchased,
		ServiceID:  42,
	})

	assert.ErrorIs(t, err, ledger.ErrServiceNotFound)
}

// =============================================================================
// BALANCE INVARIANT
// =============================================================================

func TestBalanceLedger_InsufficientBalance_NothingPersists(t *testing.T) {
	// GIVEN: A customer with 10 minutes and a 30-minute service
	// WHEN: Recording a used transaction
	// THEN: The call fails and neither the balance nor the entry log changes

	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 10)
	svcID := seedService(t, store, 30)

	_, err := bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
		CustomerID: 1,
		Type:       ledger.EntryUsed,
		ServiceID:  svcID,
	})

	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	var insErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, 10, insErr.Available)
	assert.Equal(t, 30, insErr.Requested)

	assert.Equal(t, 10, balanceOf(t, store, 1), "balance must be unchanged")
	entries, err := store.ListServiceEntries(ctx, ledger.ServiceEntryFilter{CustomerID: 1})
	require.NoError(t, err)
	assert.Empty(t, entries, "no entry may be written on a failed spend")
}

func TestBalanceLedger_BalanceEqualsEntryReplay(t *testing.T) {
	// GIVEN: A fresh customer
	// WHEN: Recording purchases, uses, and credits
	// THEN: The stored balance equals purchased + credited - used

	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 0)
	svcID := seedService(t, store, 30)

	steps := []ledger.ServiceTransactionRequest{
		{CustomerID: 1, Type: ledger.EntryPurchased, ServiceID: svcID},
		{CustomerID: 1, Type: ledger.EntryCredit, Quantity: 20},
		{CustomerID: 1, Type: ledger.EntryUsed, ServiceID: svcID},
		{CustomerID: 1, Type: ledger.EntryPurchased, ServiceID: svcID},
		{CustomerID: 1, Type: ledger.EntryUsed, ServiceID: svcID},
	}
	for _, req := range steps {
		_, err := bl.RecordServiceTransaction(ctx, req)
		require.NoError(t, err)
	}

	// 30 + 20 - 30 + 30 - 30 = 20
	assert.Equal(t, 20, balanceOf(t, store, 1))

	totals, err := bl.MinutesSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 60, totals.TotalUsed)
	assert.Equal(t, 60, totals.TotalPurchased)
}

// =============================================================================
// REVERSAL
// =============================================================================

func TestBalanceLedger_ReversePurchased_SubtractsBalance(t *testing.T) {
	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 0)
	svcID := seedService(t, store, 30)

	entry, err := bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
		CustomerID: 1, Type: ledger.EntryPurchased, ServiceID: svcID,
	})
	require.NoError(t, err)
	require.Equal(t, 30, balanceOf(t, store, 1))

	require.NoError(t, bl.ReverseServiceTransaction(ctx, entry.ID))

	assert.Equal(t, 0, balanceOf(t, store, 1))
	_, err = store.GetServiceEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound, "reversed entry must be gone")
}

func TestBalanceLedger_ReverseUsed_AddsBalanceBack(t *testing.T) {
	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 50)
	svcID := seedService(t, store, 30)

	entry, err := bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
		CustomerID: 1, Type: ledger.EntryUsed, ServiceID: svcID,
	})
	require.NoError(t, err)
	require.Equal(t, 20, balanceOf(t, store, 1))

	require.NoError(t, bl.ReverseServiceTransaction(ctx, entry.ID))

	assert.Equal(t, 50, balanceOf(t, store, 1))
}

func TestBalanceLedger_ReverseCredit_NoBalanceEffect(t *testing.T) {
	// GIVEN: A recorded credit entry
	// WHEN: Reversing it
	// THEN: The entry is deleted but the balance keeps the credited minutes

	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 0)

	entry, err := bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
		CustomerID: 1, Type: ledger.EntryCredit, Quantity: 25,
	})
	require.NoError(t, err)
	require.Equal(t, 25, balanceOf(t, store, 1))

	require.NoError(t, bl.ReverseServiceTransaction(ctx, entry.ID))

	assert.Equal(t, 25, balanceOf(t, store, 1), "credit reversal adjusts no balance")
	_, err = store.GetServiceEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestBalanceLedger_ReversePurchased_MayGoNegative(t *testing.T) {
	// GIVEN: A purchase whose minutes were already spent
	// WHEN: Reversing the purchase
	// THEN: The balance goes negative; the invariant is not re-checked on
	//       reversal

	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 0)
	svcID := seedService(t, store, 30)

	purchase, err := bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
		CustomerID: 1, Type: ledger.EntryPurchased, ServiceID: svcID,
	})
	require.NoError(t, err)

	_, err = bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
		CustomerID: 1, Type: ledger.EntryUsed, ServiceID: svcID,
	})
	require.NoError(t, err)
	require.Equal(t, 0, balanceOf(t, store, 1))

	require.NoError(t, bl.ReverseServiceTransaction(ctx, purchase.ID))

	assert.Equal(t, -30, balanceOf(t, store, 1))
}

func TestBalanceLedger_ReverseMissingEntry_NotFound(t *testing.T) {
	bl, _ := newTestBalanceLedger(t)

	err := bl.ReverseServiceTransaction(context.Background(), 404)

	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

// =============================================================================
// TOTAL SPEND
// =============================================================================

func TestBalanceLedger_ComputeTotalSpend_SinceLatestPurchase(t *testing.T) {
	// GIVEN: A purchase followed by two used entries of 5 and 3 minutes
	// WHEN: Computing total spend
	// THEN: The counter increases by 8

	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 100)
	svc5 := seedService(t, store, 5)
	svc3, err := store.SaveService(ctx, ledger.ServiceCatalogEntry{
		Name: "Short Session", Price: decimal.NewFromInt(10), MinutesAvailable: 3,
	})
	require.NoError(t, err)

	_, err = bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
		CustomerID: 1, Type: ledger.EntryPurchased, ServiceID: svc5,
	})
	require.NoError(t, err)

	for _, svcID := range []ledger.ServiceID{svc5, svc3} {
		_, err = bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
			CustomerID: 1, Type: ledger.EntryUsed, ServiceID: svcID,
		})
		require.NoError(t, err)
	}

	total, err := bl.ComputeTotalSpend(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, total)

	// The counter accumulates; calling again re-adds the window's sum.
	total, err = bl.ComputeTotalSpend(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 16, total)
}

func TestBalanceLedger_ComputeTotalSpend_NoPurchase(t *testing.T) {
	bl, store := newTestBalanceLedger(t)
	seedCustomer(t, store, 1, 0)

	_, err := bl.ComputeTotalSpend(context.Background(), 1)

	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

// =============================================================================
// BALANCE-ONLY CREDIT
// =============================================================================

func TestBalanceLedger_CreditMinutes_NoEntryWritten(t *testing.T) {
	// GIVEN: A customer with 5 minutes
	// WHEN: Crediting 10 minutes through the shortcut path
	// THEN: The balance moves but the ledger stays empty

	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 5)

	balance, err := bl.CreditMinutes(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 15, balance)

	entries, err := store.ListServiceEntries(ctx, ledger.ServiceEntryFilter{CustomerID: 1})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBalanceLedger_CreditMinutes_UnknownCustomer(t *testing.T) {
	bl, _ := newTestBalanceLedger(t)

	_, err := bl.CreditMinutes(context.Background(), 99, 10)

	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestBalanceLedger_ConcurrentUsed_OnlyOneSpendSucceeds(t *testing.T) {
	// GIVEN: A balance that covers exactly one 30-minute session
	// WHEN: Two used-transactions race for it
	// THEN: Exactly one commits; the loser fails with insufficient balance
	//       and the balance ends at zero, never negative

	bl, store := newTestBalanceLedger(t)
	ctx := context.Background()

	seedCustomer(t, store, 1, 30)
	svcID := seedService(t, store, 30)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bl.RecordServiceTransaction(ctx, ledger.ServiceTransactionRequest{
				CustomerID: 1,
				Type:       ledger.EntryUsed,
				ServiceID:  svcID,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one spend must lose the race")
	assert.Equal(t, 0, balanceOf(t, store, 1))

	entries, err := store.ListServiceEntries(ctx, ledger.ServiceEntryFilter{CustomerID: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the winning spend may persist an entry")
}
