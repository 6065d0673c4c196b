/*
Package report builds sales and usage summaries from the raw ledger.

PURPOSE:
  Pure read-side aggregation. Every report re-scans the transaction history
  at request time; there is no materialized state and no cache. Reports may
  run concurrently with ledger writes - each one reads from a single entry
  query, so a report never sees a half-written batch.

KEY CONCEPTS IN THIS FILE (report.go):
  - Window: an inclusive full-day date range parsed from YYYY-MM-DD strings
  - ServiceRow / ProductRow / DayUsageRow: flat output rows

PRICING VARIANTS:
  The service reports exist in two flavors with DIFFERENT total_price math,
  both inherited from the reference system and deliberately kept apart:

    ServicePurchased / ServiceUsed            total_price += price * quantity
    ServicePurchaseRange / ServiceUseRange    total_price += price

  Do not unify them without a product decision; see DESIGN.md.

SEE ALSO:
  - aggregator.go: the grouping algorithms
*/
package report

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// WINDOW - Inclusive full-day date range
// =============================================================================

const dayFormat = "2006-01-02"

// Window is a [start 00:00:00, end 23:59:59] UTC range.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow parses YYYY-MM-DD bounds and widens them to cover the full days.
func NewWindow(startDate, endDate string) (Window, error) {
	start, err := time.Parse(dayFormat, startDate)
	if err != nil {
		return Window{}, fmt.Errorf("%w: bad start_date %q", ledger.ErrInvalidInput, startDate)
	}
	end, err := time.Parse(dayFormat, endDate)
	if err != nil {
		return Window{}, fmt.Errorf("%w: bad end_date %q", ledger.ErrInvalidInput, endDate)
	}
	if end.Before(start) {
		return Window{}, fmt.Errorf("%w: end_date before start_date", ledger.ErrInvalidInput)
	}
	return Window{
		From: start,
		To:   end.Add(24*time.Hour - time.Second),
	}, nil
}

// =============================================================================
// OUTPUT ROWS
// =============================================================================

// ServiceRow is one aggregated (location, service) group. Date is the latest
// transaction day seen in the group, as YYYY-MM-DD; the group itself spans
// every day in range.
type ServiceRow struct {
	Location      ledger.Location
	ServiceName   string
	TotalQuantity int
	TotalPrice    decimal.Decimal
	Date          string
}

// ProductRow is one aggregated (location, product, day) group.
type ProductRow struct {
	Location   ledger.Location
	ProductID  ledger.ProductID
	Product    string
	Price      decimal.Decimal
	TotalSold  int
	TotalPrice decimal.Decimal
	Date       string
}

// DayUsageRow counts distinct customers with used-type entries on one day at
// one location.
type DayUsageRow struct {
	Date         string
	LocationID   ledger.LocationID
	LocationName string
	UserCount    int
}
