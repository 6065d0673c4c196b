package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func saveProfile(t *testing.T, store *sqlite.Store, id ledger.CustomerID, balance int) {
	t.Helper()
	err := store.SaveProfile(context.Background(), ledger.Profile{
		CustomerID:       id,
		FirstName:        "Test",
		LastName:         "Customer",
		AvailableBalance: balance,
	})
	require.NoError(t, err)
}

func TestStore_SaveProfile_PreservesCountersOnUpdate(t *testing.T) {
	// GIVEN: A customer with a balance and accumulated total spend
	// WHEN: The profile is re-saved with only descriptive fields set
	// THEN: The ledger-managed counters survive the update

	store := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, store, 1, 100)

	_, err := store.AddTotalSpend(ctx, 1, 8)
	require.NoError(t, err)

	require.NoError(t, store.SaveProfile(ctx, ledger.Profile{
		CustomerID: 1, FirstName: "Adele",
	}))

	p, err := store.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Adele", p.FirstName)
	assert.Equal(t, 100, p.AvailableBalance, "re-saving must not reset the balance")
	assert.Equal(t, 8, p.TotalSpend)
}

// =============================================================================
// BALANCE MUTATIONS
// =============================================================================

func TestStore_SpendBalance_Sufficient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, store, 1, 100)

	balance, err := store.SpendBalance(ctx, 1, 30)
	require.NoError(t, err)
	assert.Equal(t, 70, balance)

	p, err := store.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 70, p.AvailableBalance)
}

func TestStore_SpendBalance_Insufficient(t *testing.T) {
	// The conditional UPDATE must leave the row untouched when it fails.

	store := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, store, 1, 10)

	_, err := store.SpendBalance(ctx, 1, 30)

	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	var insErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, 10, insErr.Available)
	assert.Equal(t, 30, insErr.Requested)

	p, err := store.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, p.AvailableBalance)
}

func TestStore_SpendBalance_UnknownCustomer(t *testing.T) {
	store := newTestStore(t)

	_, err := store.SpendBalance(context.Background(), 99, 10)

	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}

func TestStore_AdjustBalance_AllowsNegative(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, store, 1, 5)

	balance, err := store.AdjustBalance(ctx, 1, -30)
	require.NoError(t, err)
	assert.Equal(t, -25, balance, "AdjustBalance has no floor")
}

func TestStore_AddTotalSpend_Accumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, store, 1, 0)

	total, err := store.AddTotalSpend(ctx, 1, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, total)

	total, err = store.AddTotalSpend(ctx, 1, 8)
	require.NoError(t, err)
	assert.Equal(t, 16, total)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that spends balance and then fails
	// WHEN: WithTx returns the error
	// THEN: The spend is rolled back along with any appended entry

	store := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, store, 1, 100)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.SpendBalance(ctx, 1, 30); err != nil {
			return err
		}
		if _, err := tx.AppendServiceEntry(ctx, ledger.ServiceEntry{
			CustomerID: 1, Type: ledger.EntryUsed, Quantity: 30,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := store.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, p.AvailableBalance, "spend must be rolled back")

	entries, err := store.ListServiceEntries(ctx, ledger.ServiceEntryFilter{CustomerID: 1})
	require.NoError(t, err)
	assert.Empty(t, entries, "entry must be rolled back")
}

func TestStore_WithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, store, 1, 100)

	err := store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.SpendBalance(ctx, 1, 30); err != nil {
			return err
		}
		_, err := tx.AppendServiceEntry(ctx, ledger.ServiceEntry{
			CustomerID: 1, Type: ledger.EntryUsed, Quantity: 30,
		})
		return err
	})
	require.NoError(t, err)

	p, err := store.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 70, p.AvailableBalance)

	entries, err := store.ListServiceEntries(ctx, ledger.ServiceEntryFilter{CustomerID: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// STOCK
// =============================================================================

func TestStore_AdjustStock_KnownAndUnknownCodes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveProduct(ctx, ledger.ProductCatalogEntry{
		Name:  "Herbal Tea",
		Price: decimal.NewFromFloat(4.50),
		Stock: map[string]int{"01": 10, "02": 10, "03": 10},
	})
	require.NoError(t, err)

	require.NoError(t, store.AdjustStock(ctx, id, "02", -3))
	// Unknown code: silent no-op.
	require.NoError(t, store.AdjustStock(ctx, id, "77", -5))

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"01": 10, "02": 7, "03": 10}, p.Stock)
}

func TestStore_AdjustStock_UnknownProduct(t *testing.T) {
	store := newTestStore(t)

	err := store.AdjustStock(context.Background(), 42, "01", -1)

	assert.ErrorIs(t, err, ledger.ErrProductNotFound)
}

func TestStore_SaveProduct_SeedsDefaultBuckets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveProduct(ctx, ledger.ProductCatalogEntry{
		Name:  "Herbal Tea",
		Price: decimal.NewFromFloat(4.50),
	})
	require.NoError(t, err)

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"01": 0, "02": 0, "03": 0}, p.Stock)
}

// =============================================================================
// ENTRY QUERIES
// =============================================================================

func TestStore_ServiceEntries_FilterAndSum(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, typ := range []ledger.ServiceEntryType{
		ledger.EntryPurchased, ledger.EntryUsed, ledger.EntryUsed,
	} {
		_, err := store.AppendServiceEntry(ctx, ledger.ServiceEntry{
			CustomerID: 1,
			Type:       typ,
			Quantity:   10 * (i + 1),
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	used, err := store.ListServiceEntries(ctx, ledger.ServiceEntryFilter{
		CustomerID: 1,
		Type:       ledger.EntryUsed,
	})
	require.NoError(t, err)
	assert.Len(t, used, 2)

	sum, err := store.SumServiceQuantity(ctx, ledger.ServiceEntryFilter{
		CustomerID: 1,
		Type:       ledger.EntryUsed,
		From:       base.Add(90 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 30, sum, "only entries at or after From count")
}

func TestStore_LatestPurchase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, 48 * time.Hour, 24 * time.Hour} {
		_, err := store.AppendServiceEntry(ctx, ledger.ServiceEntry{
			CustomerID: 1,
			Type:       ledger.EntryPurchased,
			Quantity:   30,
			CreatedAt:  base.Add(offset),
		})
		require.NoError(t, err)
	}

	latest, err := store.LatestPurchase(ctx, 1)
	require.NoError(t, err)
	assert.True(t, latest.CreatedAt.Equal(base.Add(48*time.Hour)))

	_, err = store.LatestPurchase(ctx, 2)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestStore_DeleteServiceEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry, err := store.AppendServiceEntry(ctx, ledger.ServiceEntry{
		CustomerID: 1, Type: ledger.EntryCredit, Quantity: 10,
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteServiceEntry(ctx, entry.ID))
	assert.ErrorIs(t, store.DeleteServiceEntry(ctx, entry.ID), ledger.ErrEntryNotFound)
}

// =============================================================================
// CATALOG ROUND TRIPS
// =============================================================================

func TestStore_ServiceRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveService(ctx, ledger.ServiceCatalogEntry{
		Name:             "Massage",
		Price:            decimal.NewFromFloat(49.99),
		MinutesAvailable: 60,
	})
	require.NoError(t, err)

	svc, err := store.GetService(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Massage", svc.Name)
	assert.True(t, svc.Price.Equal(decimal.NewFromFloat(49.99)))
	assert.Equal(t, 60, svc.MinutesAvailable)

	// Upsert by id updates in place.
	svc.MinutesAvailable = 90
	_, err = store.SaveService(ctx, *svc)
	require.NoError(t, err)

	svc, err = store.GetService(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 90, svc.MinutesAvailable)
}

func TestStore_LocationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveLocation(ctx, ledger.Location{
		Name:     "North",
		Code:     "01",
		City:     "Springfield",
		PostCode: "12345",
	})
	require.NoError(t, err)

	loc, err := store.GetLocation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "North", loc.Name)
	assert.Equal(t, "01", loc.Code)

	_, err = store.GetLocation(ctx, 99)
	assert.ErrorIs(t, err, ledger.ErrLocationNotFound)
}
