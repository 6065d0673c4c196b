/*
store.go - Persistence interface for profiles, catalogs, and ledger entries

PURPOSE:
  Defines the interface between the domain logic and the database. Different
  implementations use SQLite, PostgreSQL, or in-memory storage.

BALANCE MUTATIONS ARE ATOMIC:
  AdjustBalance and SpendBalance are the ONLY ways to change a customer's
  available minutes. SpendBalance performs the sufficiency check and the
  decrement as one atomic storage operation (conditional UPDATE with an
  affected-rows check, or a mutation under the store lock). A read-compare-
  write sequence at the domain layer is forbidden: that is exactly the race
  this design removes.

TRANSACTIONS:
  WithTx runs a function against a transactional view of the store. Ledger
  operations that touch both an entry table and a profile/stock counter go
  through WithTx so nothing persists partially.

IMPLEMENTATIONS:
  - store/sqlite:   production SQLite (WAL)
  - store/postgres: PostgreSQL via pgx stdlib driver
  - store/memory:   in-memory for tests/dev

SEE ALSO:
  - balance.go, inventory.go: domain operations built on this interface
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// ServiceEntryFilter selects service ledger entries. Zero values mean
// "no constraint".
type ServiceEntryFilter struct {
	CustomerID CustomerID
	Type       ServiceEntryType
	LocationID LocationID
	From       time.Time
	To         time.Time
}

// ProductEntryFilter selects product ledger entries.
type ProductEntryFilter struct {
	CustomerID CustomerID
	LocationID LocationID
	From       time.Time
	To         time.Time
}

// =============================================================================
// STORE - Combined persistence interface
// =============================================================================

// Store is the full persistence surface of the engine. The catalog and
// location methods are read-mostly reference data; entry methods are
// append-and-delete only (entries are never updated in place).
type Store interface {
	// --- Profiles ---

	GetProfile(ctx context.Context, id CustomerID) (*Profile, error)

	// SaveProfile inserts a profile or updates its descriptive fields. For
	// an existing customer, AvailableBalance, TotalSpend, and CreatedAt are
	// preserved: the balance mutation methods below are the only way to
	// change the counters.
	SaveProfile(ctx context.Context, p Profile) error
	ListProfiles(ctx context.Context) ([]Profile, error)

	// AdjustBalance adds delta (which may be negative) to the customer's
	// available balance unconditionally and returns the new balance.
	// Returns ErrCustomerNotFound if the profile doesn't exist.
	AdjustBalance(ctx context.Context, id CustomerID, delta int) (int, error)

	// SpendBalance subtracts amount from the available balance if and only if
	// the balance covers it, atomically. Returns ErrInsufficientBalance
	// (wrapped in InsufficientBalanceError when the shortfall is known)
	// without changing anything otherwise.
	SpendBalance(ctx context.Context, id CustomerID, amount int) (int, error)

	// AddTotalSpend adds minutes to the cumulative total-spend counter and
	// returns the new total.
	AddTotalSpend(ctx context.Context, id CustomerID, minutes int) (int, error)

	// --- Service catalog ---

	GetService(ctx context.Context, id ServiceID) (*ServiceCatalogEntry, error)
	GetServicesByIDs(ctx context.Context, ids []ServiceID) (map[ServiceID]ServiceCatalogEntry, error)
	SaveService(ctx context.Context, s ServiceCatalogEntry) (ServiceID, error)
	ListServices(ctx context.Context) ([]ServiceCatalogEntry, error)

	// --- Product catalog ---

	GetProduct(ctx context.Context, id ProductID) (*ProductCatalogEntry, error)
	GetProductsByIDs(ctx context.Context, ids []ProductID) (map[ProductID]ProductCatalogEntry, error)
	SaveProduct(ctx context.Context, p ProductCatalogEntry) (ProductID, error)
	ListProducts(ctx context.Context) ([]ProductCatalogEntry, error)

	// AdjustStock adds delta to the product's stock bucket for the given
	// legacy location code. Unknown codes adjust nothing and return nil:
	// the no-op fallback is part of the contract, not an error.
	AdjustStock(ctx context.Context, id ProductID, code string, delta int) error

	// --- Locations ---

	GetLocation(ctx context.Context, id LocationID) (*Location, error)
	GetLocationsByIDs(ctx context.Context, ids []LocationID) (map[LocationID]Location, error)
	SaveLocation(ctx context.Context, l Location) (LocationID, error)
	ListLocations(ctx context.Context) ([]Location, error)

	// --- Service ledger entries ---

	// AppendServiceEntry persists an entry, assigning ID and CreatedAt when
	// unset, and returns the stored entry.
	AppendServiceEntry(ctx context.Context, e ServiceEntry) (*ServiceEntry, error)
	GetServiceEntry(ctx context.Context, id EntryID) (*ServiceEntry, error)
	DeleteServiceEntry(ctx context.Context, id EntryID) error
	ListServiceEntries(ctx context.Context, f ServiceEntryFilter) ([]ServiceEntry, error)

	// LatestPurchase returns the most recent purchased-type entry for a
	// customer, or ErrEntryNotFound when none exists.
	LatestPurchase(ctx context.Context, id CustomerID) (*ServiceEntry, error)

	// SumServiceQuantity sums Quantity over the entries selected by f.
	SumServiceQuantity(ctx context.Context, f ServiceEntryFilter) (int, error)

	// --- Product ledger entries ---

	AppendProductEntry(ctx context.Context, e ProductEntry) (*ProductEntry, error)
	GetProductEntry(ctx context.Context, id EntryID) (*ProductEntry, error)
	DeleteProductEntry(ctx context.Context, id EntryID) error
	ListProductEntries(ctx context.Context, f ProductEntryFilter) ([]ProductEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. If fn returns an error the
// transaction is rolled back; otherwise it is committed.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
