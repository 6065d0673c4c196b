package ledger_test

import (
	"context"
	"errors"
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

func newTestInventoryLedger(t *testing.T) (*ledger.InventoryLedger, *memory.Store) {
	t.Helper()
	store := memory.New()
	return ledger.NewInventoryLedger(store), store
}

func seedProduct(t *testing.T, store *memory.Store, stock map[string]int) ledger.ProductID {
	t.Helper()
	id, err := store.SaveProduct(context.Background(), ledger.ProductCatalogEntry{
		Name:  "Herbal Tea",
		Price: decimal.NewFromFloat(4.50),
		Stock: stock,
	})
	require.NoError(t, err)
	return id
}

func seedLocation(t *testing.T, store *memory.Store, code string) ledger.LocationID {
	t.Helper()
	id, err := store.SaveLocation(context.Background(), ledger.Location{
		Name: "Branch " + code,
		Code: code,
	})
	require.NoError(t, err)
	return id
}

func stockOf(t *testing.T, store *memory.Store, id ledger.ProductID) map[string]int {
	t.Helper()
	p, err := store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

// =============================================================================
// STOCK DECREMENT BY LOCATION CODE
// =============================================================================

func TestInventoryLedger_Sale_DecrementsMatchingBucket(t *testing.T) {
	// GIVEN: A product stocked at all three codes and a location with code 02
	// WHEN: Selling 3 units at that location
	// THEN: Only the 02 bucket drops; the others are untouched

	il, store := newTestInventoryLedger(t)
	ctx := context.Background()

	productID := seedProduct(t, store, map[string]int{"01": 10, "02": 10, "03": 10})
	locID := seedLocation(t, store, "02")

	entry, err := il.RecordProductTransaction(ctx, ledger.ProductTransactionRequest{
		CustomerID: 1,
		ProductID:  productID,
		LocationID: locID,
		Quantity:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Quantity)

	stock := stockOf(t, store, productID)
	assert.Equal(t, 10, stock["01"])
	assert.Equal(t, 7, stock["02"])
	assert.Equal(t, 10, stock["03"])
}

func TestInventoryLedger_Sale_UnknownCode_StockUntouched(t *testing.T) {
	// GIVEN: A location whose code has no stock bucket
	// WHEN: Selling a product there
	// THEN: The entry is recorded and no bucket changes (silent no-op)

	il, store := newTestInventoryLedger(t)
	ctx := context.Background()

	productID := seedProduct(t, store, map[string]int{"01": 10, "02": 10, "03": 10})
	locID := seedLocation(t, store, "77")

	entry, err := il.RecordProductTransaction(ctx, ledger.ProductTransactionRequest{
		CustomerID: 1,
		ProductID:  productID,
		LocationID: locID,
		Quantity:   5,
	})
	require.NoError(t, err)
	require.NotNil(t, entry)

	stock := stockOf(t, store, productID)
	assert.Equal(t, map[string]int{"01": 10, "02": 10, "03": 10}, stock)

	entries, err := store.ListProductEntries(ctx, ledger.ProductEntryFilter{CustomerID: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the sale itself must still be recorded")
}

func TestInventoryLedger_Sale_StockMayGoNegative(t *testing.T) {
	// Stock has no floor; overselling is visible, not rejected.

	il, store := newTestInventoryLedger(t)
	ctx := context.Background()

	productID := seedProduct(t, store, map[string]int{"01": 2, "02": 0, "03": 0})
	locID := seedLocation(t, store, "01")

	_, err := il.RecordProductTransaction(ctx, ledger.ProductTransactionRequest{
		CustomerID: 1,
		ProductID:  productID,
		LocationID: locID,
		Quantity:   5,
	})
	require.NoError(t, err)

	assert.Equal(t, -3, stockOf(t, store, productID)["01"])
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestInventoryLedger_Sale_UnknownProduct(t *testing.T) {
	il, store := newTestInventoryLedger(t)
	locID := seedLocation(t, store, "01")

	_, err := il.RecordProductTransaction(context.Background(), ledger.ProductTransactionRequest{
		CustomerID: 1,
		ProductID:  42,
		LocationID: locID,
		Quantity:   1,
	})

	assert.ErrorIs(t, err, ledger.ErrProductNotFound)
}

func TestInventoryLedger_Sale_UnresolvableLocation(t *testing.T) {
	// An unresolvable location is a client error and nothing persists.

	il, store := newTestInventoryLedger(t)
	ctx := context.Background()

	productID := seedProduct(t, store, map[string]int{"01": 10})

	_, err := il.RecordProductTransaction(ctx, ledger.ProductTransactionRequest{
		CustomerID: 1,
		ProductID:  productID,
		LocationID: 42,
		Quantity:   1,
	})

	assert.ErrorIs(t, err, ledger.ErrInvalidLocation)

	entries, err := store.ListProductEntries(ctx, ledger.ProductEntryFilter{CustomerID: 1})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// failingLocationStore makes every location lookup fail with a storage error.
type failingLocationStore struct {
	*memory.Store
	err error
}

func (s *failingLocationStore) GetLocation(context.Context, ledger.LocationID) (*ledger.Location, error) {
	return nil, s.err
}

func TestInventoryLedger_Sale_LocationLookupFailure_NotAClientError(t *testing.T) {
	// A storage failure during location resolution must surface unchanged,
	// not be reported as an invalid location.

	base := memory.New()
	boom := errors.New("boom")
	il := ledger.NewInventoryLedger(&failingLocationStore{Store: base, err: boom})

	productID := seedProduct(t, base, map[string]int{"01": 10})

	_, err := il.RecordProductTransaction(context.Background(), ledger.ProductTransactionRequest{
		CustomerID: 1,
		ProductID:  productID,
		LocationID: 1,
		Quantity:   1,
	})

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ledger.ErrInvalidLocation)
	assert.False(t, ledger.IsClientError(err))
}

// =============================================================================
// BULK PATH
// =============================================================================

func TestInventoryLedger_Bulk_SkipsStock(t *testing.T) {
	// GIVEN: A stocked product
	// WHEN: Bulk-recording several sales against it
	// THEN: All entries persist and no stock bucket moves

	il, store := newTestInventoryLedger(t)
	ctx := context.Background()

	productID := seedProduct(t, store, map[string]int{"01": 10, "02": 10, "03": 10})
	locID := seedLocation(t, store, "01")

	entries, err := il.BulkRecordProductTransactions(ctx, []ledger.ProductTransactionRequest{
		{CustomerID: 1, ProductID: productID, LocationID: locID, Quantity: 2},
		{CustomerID: 2, ProductID: productID, LocationID: locID, Quantity: 4},
		{CustomerID: 3, ProductID: productID, LocationID: locID, Quantity: 1},
	})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	stock := stockOf(t, store, productID)
	assert.Equal(t, map[string]int{"01": 10, "02": 10, "03": 10}, stock,
		"bulk path must not decrement stock")

	stored, err := store.ListProductEntries(ctx, ledger.ProductEntryFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestInventoryLedger_Bulk_Empty(t *testing.T) {
	il, _ := newTestInventoryLedger(t)

	entries, err := il.BulkRecordProductTransactions(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, entries)
}
