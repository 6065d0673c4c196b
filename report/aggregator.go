/*
aggregator.go - Grouping algorithms for the ledger reports

PURPOSE:
  Implements every report as: one entry scan, one batch catalog lookup, one
  batch location lookup, then in-memory grouping. Mirrors of the same
  algorithm differ only in filters and price math.

SKIPPED ENTRIES:
  Entries whose service/product or location cannot be resolved are dropped
  from the aggregation and the report continues - a partial result is the
  documented behavior, not an error. Each drop is counted and logged so the
  data quality problem is visible instead of silent.
*/
package report

import (
	"context"
	"log"
	"sort"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator computes reports from the ledger store. Stateless per call and
// safe for concurrent use.
type Aggregator struct {
	store ledger.Store

	// Logf receives one line per dropped entry. Defaults to log.Printf.
	Logf func(format string, args ...any)

	dropped atomic.Uint64
}

func NewAggregator(store ledger.Store) *Aggregator {
	return &Aggregator{store: store, Logf: log.Printf}
}

// DroppedRows returns how many entries have been skipped for unresolvable
// references since the aggregator was created.
func (a *Aggregator) DroppedRows() uint64 {
	return a.dropped.Load()
}

func (a *Aggregator) drop(format string, args ...any) {
	a.dropped.Add(1)
	if a.Logf != nil {
		a.Logf("report: dropped entry: "+format, args...)
	}
}

// =============================================================================
// SERVICE REPORTS
// =============================================================================

// ServicePurchased aggregates all purchased entries ever recorded, grouped by
// (location, service), with total_price = sum of price * quantity.
func (a *Aggregator) ServicePurchased(ctx context.Context) ([]ServiceRow, error) {
	return a.serviceReport(ctx, ledger.EntryPurchased, Window{}, 0, true)
}

// ServiceUsed aggregates all used entries ever recorded, grouped by
// (location, service), with total_price = sum of price * quantity.
func (a *Aggregator) ServiceUsed(ctx context.Context) ([]ServiceRow, error) {
	return a.serviceReport(ctx, ledger.EntryUsed, Window{}, 0, true)
}

// ServicePurchaseRange aggregates purchased entries inside win, optionally
// filtered to one location (0 = all), with total_price = sum of price added
// once per entry. The per-entry price math intentionally differs from
// ServicePurchased; both behaviors are preserved.
func (a *Aggregator) ServicePurchaseRange(ctx context.Context, win Window, loc ledger.LocationID) ([]ServiceRow, error) {
	return a.serviceReport(ctx, ledger.EntryPurchased, win, loc, false)
}

// ServiceUseRange is the used-type counterpart of ServicePurchaseRange.
func (a *Aggregator) ServiceUseRange(ctx context.Context, win Window, loc ledger.LocationID) ([]ServiceRow, error) {
	return a.serviceReport(ctx, ledger.EntryUsed, win, loc, false)
}

func (a *Aggregator) serviceReport(ctx context.Context, entryType ledger.ServiceEntryType, win Window, loc ledger.LocationID, priceTimesQuantity bool) ([]ServiceRow, error) {
	entries, err := a.store.ListServiceEntries(ctx, ledger.ServiceEntryFilter{
		Type:       entryType,
		LocationID: loc,
		From:       win.From,
		To:         win.To,
	})
	if err != nil {
		return nil, err
	}

	services, locations, err := a.resolveServiceRefs(ctx, entries)
	if err != nil {
		return nil, err
	}

	type groupKey struct {
		location ledger.LocationID
		service  string
	}
	type group struct {
		location      ledger.Location
		serviceName   string
		totalQuantity int
		totalPrice    decimal.Decimal
		lastDate      string
	}

	groups := make(map[groupKey]*group)
	for _, e := range entries {
		svc, ok := services[e.ServiceID]
		if !ok {
			a.drop("service %d not in catalog (entry %d)", e.ServiceID, e.ID)
			continue
		}
		location, ok := locations[e.LocationID]
		if !ok {
			a.drop("location %d unresolvable (entry %d)", e.LocationID, e.ID)
			continue
		}

		day := e.CreatedAt.Format(dayFormat)
		k := groupKey{location: e.LocationID, service: svc.Name}
		g, ok := groups[k]
		if !ok {
			g = &group{location: location, serviceName: svc.Name, totalPrice: decimal.Zero, lastDate: day}
			groups[k] = g
		}

		g.totalQuantity += e.Quantity
		if priceTimesQuantity {
			g.totalPrice = g.totalPrice.Add(svc.Price.Mul(decimal.NewFromInt(int64(e.Quantity))))
		} else {
			g.totalPrice = g.totalPrice.Add(svc.Price)
		}
		// Later days win the bucket label; the row itself is not day-bucketed.
		if day > g.lastDate {
			g.lastDate = day
		}
	}

	rows := make([]ServiceRow, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, ServiceRow{
			Location:      g.location,
			ServiceName:   g.serviceName,
			TotalQuantity: g.totalQuantity,
			TotalPrice:    g.totalPrice,
			Date:          g.lastDate,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Location.ID != rows[j].Location.ID {
			return rows[i].Location.ID < rows[j].Location.ID
		}
		return rows[i].ServiceName < rows[j].ServiceName
	})
	return rows, nil
}

func (a *Aggregator) resolveServiceRefs(ctx context.Context, entries []ledger.ServiceEntry) (map[ledger.ServiceID]ledger.ServiceCatalogEntry, map[ledger.LocationID]ledger.Location, error) {
	serviceIDs := make([]ledger.ServiceID, 0, len(entries))
	locationIDs := make([]ledger.LocationID, 0, len(entries))
	seenSvc := make(map[ledger.ServiceID]bool)
	seenLoc := make(map[ledger.LocationID]bool)
	for _, e := range entries {
		if !seenSvc[e.ServiceID] {
			seenSvc[e.ServiceID] = true
			serviceIDs = append(serviceIDs, e.ServiceID)
		}
		if !seenLoc[e.LocationID] {
			seenLoc[e.LocationID] = true
			locationIDs = append(locationIDs, e.LocationID)
		}
	}

	services, err := a.store.GetServicesByIDs(ctx, serviceIDs)
	if err != nil {
		return nil, nil, err
	}
	locations, err := a.store.GetLocationsByIDs(ctx, locationIDs)
	if err != nil {
		return nil, nil, err
	}
	return services, locations, nil
}

// =============================================================================
// PRODUCT REPORTS
// =============================================================================

// ProductSales aggregates every product sale ever recorded, grouped by
// (product, location, day), with total_price = total_sold * product price.
func (a *Aggregator) ProductSales(ctx context.Context) ([]ProductRow, error) {
	return a.productReport(ctx, Window{}, 0)
}

// ProductSalesRange is ProductSales restricted to a date window and an
// optional location (0 = all).
func (a *Aggregator) ProductSalesRange(ctx context.Context, win Window, loc ledger.LocationID) ([]ProductRow, error) {
	return a.productReport(ctx, win, loc)
}

func (a *Aggregator) productReport(ctx context.Context, win Window, loc ledger.LocationID) ([]ProductRow, error) {
	entries, err := a.store.ListProductEntries(ctx, ledger.ProductEntryFilter{
		LocationID: loc,
		From:       win.From,
		To:         win.To,
	})
	if err != nil {
		return nil, err
	}

	productIDs := make([]ledger.ProductID, 0, len(entries))
	locationIDs := make([]ledger.LocationID, 0, len(entries))
	seenProd := make(map[ledger.ProductID]bool)
	seenLoc := make(map[ledger.LocationID]bool)
	for _, e := range entries {
		if !seenProd[e.ProductID] {
			seenProd[e.ProductID] = true
			productIDs = append(productIDs, e.ProductID)
		}
		if !seenLoc[e.LocationID] {
			seenLoc[e.LocationID] = true
			locationIDs = append(locationIDs, e.LocationID)
		}
	}

	products, err := a.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	locations, err := a.store.GetLocationsByIDs(ctx, locationIDs)
	if err != nil {
		return nil, err
	}

	type groupKey struct {
		product  ledger.ProductID
		location ledger.LocationID
		day      string
	}
	type group struct {
		location  ledger.Location
		product   ledger.ProductCatalogEntry
		totalSold int
	}

	groups := make(map[groupKey]*group)
	for _, e := range entries {
		product, ok := products[e.ProductID]
		if !ok {
			a.drop("product %d not in catalog (entry %d)", e.ProductID, e.ID)
			continue
		}
		location, ok := locations[e.LocationID]
		if !ok {
			a.drop("location %d unresolvable (entry %d)", e.LocationID, e.ID)
			continue
		}

		k := groupKey{product: e.ProductID, location: e.LocationID, day: e.CreatedAt.Format(dayFormat)}
		g, ok := groups[k]
		if !ok {
			g = &group{location: location, product: product}
			groups[k] = g
		}
		g.totalSold += e.Quantity
	}

	rows := make([]ProductRow, 0, len(groups))
	for k, g := range groups {
		rows = append(rows, ProductRow{
			Location:   g.location,
			ProductID:  g.product.ID,
			Product:    g.product.Name,
			Price:      g.product.Price,
			TotalSold:  g.totalSold,
			TotalPrice: g.product.Price.Mul(decimal.NewFromInt(int64(g.totalSold))),
			Date:       k.day,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Location.ID != rows[j].Location.ID {
			return rows[i].Location.ID < rows[j].Location.ID
		}
		if rows[i].ProductID != rows[j].ProductID {
			return rows[i].ProductID < rows[j].ProductID
		}
		return rows[i].Date < rows[j].Date
	})
	return rows, nil
}

// =============================================================================
// CUSTOMER DAY USAGE
// =============================================================================

// CustomerDayUsage counts distinct customers with used-type entries per
// (day, location) bucket inside win. Location names resolve in one batch
// lookup; buckets whose location has no record keep an empty name rather
// than being dropped.
func (a *Aggregator) CustomerDayUsage(ctx context.Context, win Window, loc ledger.LocationID) ([]DayUsageRow, error) {
	entries, err := a.store.ListServiceEntries(ctx, ledger.ServiceEntryFilter{
		Type:       ledger.EntryUsed,
		LocationID: loc,
		From:       win.From,
		To:         win.To,
	})
	if err != nil {
		return nil, err
	}

	type bucketKey struct {
		day      string
		location ledger.LocationID
	}
	customers := make(map[bucketKey]map[ledger.CustomerID]bool)
	locationIDs := make([]ledger.LocationID, 0, 8)
	seenLoc := make(map[ledger.LocationID]bool)

	for _, e := range entries {
		k := bucketKey{day: e.CreatedAt.Format(dayFormat), location: e.LocationID}
		if customers[k] == nil {
			customers[k] = make(map[ledger.CustomerID]bool)
		}
		customers[k][e.CustomerID] = true
		if !seenLoc[e.LocationID] {
			seenLoc[e.LocationID] = true
			locationIDs = append(locationIDs, e.LocationID)
		}
	}

	locations, err := a.store.GetLocationsByIDs(ctx, locationIDs)
	if err != nil {
		return nil, err
	}

	rows := make([]DayUsageRow, 0, len(customers))
	for k, ids := range customers {
		rows = append(rows, DayUsageRow{
			Date:         k.day,
			LocationID:   k.location,
			LocationName: locations[k.location].Name,
			UserCount:    len(ids),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].LocationID < rows[j].LocationID
	})
	return rows, nil
}
