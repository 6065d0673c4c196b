package report_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/report"
	"github.com/warp/ledger-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	store *memory.Store
	agg   *report.Aggregator

	massage ledger.ServiceID
	facial  ledger.ServiceID
	tea     ledger.ProductID
	north   ledger.LocationID
	south   ledger.LocationID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	f := &fixture{store: store, agg: report.NewAggregator(store)}
	f.agg.Logf = nil

	var err error
	f.massage, err = store.SaveService(ctx, ledger.ServiceCatalogEntry{
		Name: "Massage", Price: decimal.NewFromInt(50), MinutesAvailable: 60,
	})
	require.NoError(t, err)
	f.facial, err = store.SaveService(ctx, ledger.ServiceCatalogEntry{
		Name: "Facial", Price: decimal.NewFromInt(30), MinutesAvailable: 45,
	})
	require.NoError(t, err)

	f.tea, err = store.SaveProduct(ctx, ledger.ProductCatalogEntry{
		Name: "Herbal Tea", Price: decimal.NewFromFloat(4.50),
	})
	require.NoError(t, err)

	f.north, err = store.SaveLocation(ctx, ledger.Location{Name: "North", Code: "01"})
	require.NoError(t, err)
	f.south, err = store.SaveLocation(ctx, ledger.Location{Name: "South", Code: "02"})
	require.NoError(t, err)
	return f
}

func day(t *testing.T, date string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", date)
	require.NoError(t, err)
	return parsed.Add(12 * time.Hour)
}

func (f *fixture) addServiceEntry(t *testing.T, customer ledger.CustomerID, svc ledger.ServiceID, typ ledger.ServiceEntryType, qty int, loc ledger.LocationID, date string) {
	t.Helper()
	_, err := f.store.AppendServiceEntry(context.Background(), ledger.ServiceEntry{
		CustomerID: customer,
		ServiceID:  svc,
		Type:       typ,
		Quantity:   qty,
		LocationID: loc,
		CreatedAt:  day(t, date),
	})
	require.NoError(t, err)
}

func (f *fixture) addProductEntry(t *testing.T, customer ledger.CustomerID, qty int, loc ledger.LocationID, date string) {
	t.Helper()
	_, err := f.store.AppendProductEntry(context.Background(), ledger.ProductEntry{
		CustomerID: customer,
		ProductID:  f.tea,
		LocationID: loc,
		Quantity:   qty,
		CreatedAt:  day(t, date),
	})
	require.NoError(t, err)
}

func mustWindow(t *testing.T, start, end string) report.Window {
	t.Helper()
	win, err := report.NewWindow(start, end)
	require.NoError(t, err)
	return win
}

// =============================================================================
// WINDOW PARSING
// =============================================================================

func TestNewWindow_FullDayBounds(t *testing.T) {
	win := mustWindow(t, "2025-03-01", "2025-03-05")

	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), win.From)
	assert.Equal(t, time.Date(2025, 3, 5, 23, 59, 59, 0, time.UTC), win.To)
}

func TestNewWindow_Invalid(t *testing.T) {
	_, err := report.NewWindow("03/01/2025", "2025-03-05")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = report.NewWindow("2025-03-05", "2025-03-01")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

// =============================================================================
// SERVICE REPORTS
// =============================================================================

func TestServicePurchased_GroupsByLocationAndService(t *testing.T) {
	// GIVEN: Purchases of two services across two locations
	// WHEN: Building the all-time purchased report
	// THEN: One row per (location, service) with price * quantity totals and
	//       the latest day as the row's date

	f := newFixture(t)
	f.addServiceEntry(t, 1, f.massage, ledger.EntryPurchased, 60, f.north, "2025-03-01")
	f.addServiceEntry(t, 2, f.massage, ledger.EntryPurchased, 60, f.north, "2025-03-03")
	f.addServiceEntry(t, 1, f.facial, ledger.EntryPurchased, 45, f.north, "2025-03-02")
	f.addServiceEntry(t, 3, f.massage, ledger.EntryPurchased, 60, f.south, "2025-03-01")
	// Used entries must not leak into the purchased report.
	f.addServiceEntry(t, 1, f.massage, ledger.EntryUsed, 60, f.north, "2025-03-01")

	rows, err := f.agg.ServicePurchased(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Sorted by location id, then service name.
	assert.Equal(t, "Facial", rows[0].ServiceName)
	assert.Equal(t, f.north, rows[0].Location.ID)
	assert.Equal(t, 45, rows[0].TotalQuantity)
	assert.True(t, rows[0].TotalPrice.Equal(decimal.NewFromInt(30*45)))

	assert.Equal(t, "Massage", rows[1].ServiceName)
	assert.Equal(t, f.north, rows[1].Location.ID)
	assert.Equal(t, 120, rows[1].TotalQuantity)
	assert.True(t, rows[1].TotalPrice.Equal(decimal.NewFromInt(50*120)))
	assert.Equal(t, "2025-03-03", rows[1].Date, "latest day wins the row label")

	assert.Equal(t, f.south, rows[2].Location.ID)
	assert.Equal(t, 60, rows[2].TotalQuantity)
}

func TestServicePurchaseRange_PricePerEntry(t *testing.T) {
	// GIVEN: Three purchases of a 50-unit-price service inside the window
	// WHEN: Building the range report
	// THEN: total_price is price added once per entry, NOT price * quantity

	f := newFixture(t)
	f.addServiceEntry(t, 1, f.massage, ledger.EntryPurchased, 60, f.north, "2025-03-01")
	f.addServiceEntry(t, 2, f.massage, ledger.EntryPurchased, 60, f.north, "2025-03-02")
	f.addServiceEntry(t, 3, f.massage, ledger.EntryPurchased, 60, f.north, "2025-03-03")
	// Outside the window.
	f.addServiceEntry(t, 4, f.massage, ledger.EntryPurchased, 60, f.north, "2025-04-01")

	rows, err := f.agg.ServicePurchaseRange(context.Background(),
		mustWindow(t, "2025-03-01", "2025-03-31"), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, 180, rows[0].TotalQuantity)
	assert.True(t, rows[0].TotalPrice.Equal(decimal.NewFromInt(150)),
		"range variant adds the price once per entry")
}

func TestServiceUseRange_LocationFilter(t *testing.T) {
	// Location 0 means all locations; a concrete id restricts the scan.

	f := newFixture(t)
	f.addServiceEntry(t, 1, f.massage, ledger.EntryUsed, 60, f.north, "2025-03-01")
	f.addServiceEntry(t, 2, f.massage, ledger.EntryUsed, 60, f.south, "2025-03-01")

	win := mustWindow(t, "2025-03-01", "2025-03-31")

	all, err := f.agg.ServiceUseRange(context.Background(), win, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	north, err := f.agg.ServiceUseRange(context.Background(), win, f.north)
	require.NoError(t, err)
	require.Len(t, north, 1)
	assert.Equal(t, f.north, north[0].Location.ID)
}

func TestServiceReport_UnresolvableRefsDropped(t *testing.T) {
	// GIVEN: Entries referencing a deleted service and an unknown location
	// WHEN: Building the report
	// THEN: Those entries are skipped, counted, and logged; the rest survive

	f := newFixture(t)
	f.addServiceEntry(t, 1, f.massage, ledger.EntryPurchased, 60, f.north, "2025-03-01")
	f.addServiceEntry(t, 2, 999, ledger.EntryPurchased, 60, f.north, "2025-03-01")
	f.addServiceEntry(t, 3, f.massage, ledger.EntryPurchased, 60, 999, "2025-03-01")

	var logged []string
	f.agg.Logf = func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	}

	rows, err := f.agg.ServicePurchased(context.Background())
	require.NoError(t, err)

	require.Len(t, rows, 1, "resolvable entries still aggregate")
	assert.Equal(t, 60, rows[0].TotalQuantity)
	assert.Equal(t, uint64(2), f.agg.DroppedRows())
	assert.Len(t, logged, 2)
}

// =============================================================================
// PRODUCT REPORTS
// =============================================================================

func TestProductSales_GroupsByProductLocationDay(t *testing.T) {
	// GIVEN: Sales of one product across two days and two locations
	// WHEN: Building the all-time sales report
	// THEN: One row per (product, location, day) with price * total_sold

	f := newFixture(t)
	f.addProductEntry(t, 1, 2, f.north, "2025-03-01")
	f.addProductEntry(t, 2, 3, f.north, "2025-03-01")
	f.addProductEntry(t, 1, 1, f.north, "2025-03-02")
	f.addProductEntry(t, 3, 4, f.south, "2025-03-01")

	rows, err := f.agg.ProductSales(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "2025-03-01", rows[0].Date)
	assert.Equal(t, 5, rows[0].TotalSold)
	assert.True(t, rows[0].TotalPrice.Equal(decimal.NewFromFloat(22.5)))

	assert.Equal(t, "2025-03-02", rows[1].Date)
	assert.Equal(t, 1, rows[1].TotalSold)

	assert.Equal(t, f.south, rows[2].Location.ID)
	assert.Equal(t, 4, rows[2].TotalSold)
}

func TestProductSalesRange_WindowAndLocation(t *testing.T) {
	f := newFixture(t)
	f.addProductEntry(t, 1, 2, f.north, "2025-03-01")
	f.addProductEntry(t, 2, 3, f.south, "2025-03-01")
	f.addProductEntry(t, 3, 9, f.north, "2025-04-01")

	rows, err := f.agg.ProductSalesRange(context.Background(),
		mustWindow(t, "2025-03-01", "2025-03-31"), f.north)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].TotalSold)
}

// =============================================================================
// CUSTOMER DAY USAGE
// =============================================================================

func TestCustomerDayUsage_DistinctCustomers(t *testing.T) {
	// GIVEN: Customer 1 visits twice on the same day; customers 1 and 2 visit
	//        the next day
	// WHEN: Counting day usage
	// THEN: Repeat visits on a day count once

	f := newFixture(t)
	f.addServiceEntry(t, 1, f.massage, ledger.EntryUsed, 60, f.north, "2025-03-01")
	f.addServiceEntry(t, 1, f.facial, ledger.EntryUsed, 45, f.north, "2025-03-01")
	f.addServiceEntry(t, 1, f.massage, ledger.EntryUsed, 60, f.north, "2025-03-02")
	f.addServiceEntry(t, 2, f.massage, ledger.EntryUsed, 60, f.north, "2025-03-02")
	// Purchases never count as usage.
	f.addServiceEntry(t, 3, f.massage, ledger.EntryPurchased, 60, f.north, "2025-03-01")

	rows, err := f.agg.CustomerDayUsage(context.Background(),
		mustWindow(t, "2025-03-01", "2025-03-31"), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "2025-03-01", rows[0].Date)
	assert.Equal(t, 1, rows[0].UserCount)
	assert.Equal(t, "North", rows[0].LocationName)

	assert.Equal(t, "2025-03-02", rows[1].Date)
	assert.Equal(t, 2, rows[1].UserCount)
}

func TestCustomerDayUsage_MissingLocationKeepsRow(t *testing.T) {
	// Buckets for unknown locations keep an empty name instead of being
	// dropped; usage counting does not depend on location metadata.

	f := newFixture(t)
	f.addServiceEntry(t, 1, f.massage, ledger.EntryUsed, 60, 999, "2025-03-01")

	rows, err := f.agg.CustomerDayUsage(context.Background(),
		mustWindow(t, "2025-03-01", "2025-03-31"), 0)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, ledger.LocationID(999), rows[0].LocationID)
	assert.Equal(t, "", rows[0].LocationName)
	assert.Equal(t, 1, rows[0].UserCount)
}
