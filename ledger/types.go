/*
Package ledger provides the core minute-ledger engine.

PURPOSE:
  This package contains the domain types and operations for a multi-location
  back-office: customer profiles with a derived minute balance, a service
  ledger (purchase / use / credit of service minutes), and a product ledger
  (sales that decrement per-location stock).

KEY CONCEPTS IN THIS FILE (types.go):
  - Profile: mutable customer state (available balance, total spend)
  - ServiceEntry / ProductEntry: immutable ledger records
  - ServiceCatalogEntry / ProductCatalogEntry: read-only pricing reference
  - Location: branch with a legacy two-digit stock code

DESIGN PRINCIPLES:
  1. Ledger entries are immutable; corrections go through explicit reversal
  2. Profile balances are derived incrementally from entries, never guessed
  3. Prices use decimal.Decimal to avoid floating-point errors
  4. Typed int64 identifiers match the external integer-id JSON contract

SEE ALSO:
  - balance.go: service-minute ledger operations
  - inventory.go: product ledger operations
  - store.go: persistence interface
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID int64
type ServiceID int64
type ProductID int64
type LocationID int64
type EntryID int64

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// =============================================================================
// PROFILE - Mutable customer state
// =============================================================================

// Profile holds the per-customer state derived from the service ledger.
//
// AvailableBalance and TotalSpend are incremental counters: the engine keeps
// them consistent with the entry log through atomic store mutations, it does
// not re-derive them on read.
type Profile struct {
	CustomerID        CustomerID
	Role              Role
	FirstName         string
	LastName          string
	Email             string
	PhoneNumber       string
	AvailableBalance  int // spendable service minutes
	TotalSpend        int // cumulative minutes used since last purchase, accumulated
	PreferredLocation LocationID // 0 = none
	CreatedAt         time.Time
}

// =============================================================================
// CATALOG - Read-only pricing reference
// =============================================================================

// ServiceCatalogEntry defines the purchase cost and the minutes granted per
// purchase of a service. MinutesAvailable is also the quantity recorded for
// every purchased/used entry, regardless of caller input.
type ServiceCatalogEntry struct {
	ID               ServiceID
	Name             string
	Price            decimal.Decimal
	MinutesAvailable int
}

// ProductCatalogEntry defines a sellable product and its stock per legacy
// location code. Stock is keyed by Location.Code; codes absent from the map
// are silently ignored by stock adjustments.
type ProductCatalogEntry struct {
	ID    ProductID
	Name  string
	Price decimal.Decimal
	Stock map[string]int
}

// StockCodes is the set of legacy location codes that carry a stock bucket.
// Locations with other codes exist but their sales decrement nothing.
var StockCodes = []string{"01", "02", "03"}

// =============================================================================
// LOCATION
// =============================================================================

// Location is a branch. Code is the legacy two-digit identifier used only to
// select a stock bucket; it is unrelated to the numeric ID.
type Location struct {
	ID          LocationID
	Name        string
	Code        string
	Address     string
	City        string
	PhoneNumber string
	PostCode    string
}

// =============================================================================
// SERVICE LEDGER ENTRY - Immutable record of a minute-balance event
// =============================================================================

type ServiceEntryType string

const (
	EntryPurchased ServiceEntryType = "purchased"
	EntryUsed      ServiceEntryType = "used"
	EntryCredit    ServiceEntryType = "credit"
)

// ValidServiceEntryType reports whether t is one of the three entry types.
func ValidServiceEntryType(t ServiceEntryType) bool {
	return t == EntryPurchased || t == EntryUsed || t == EntryCredit
}

// ServiceEntry records one balance-affecting service event. Immutable once
// created; removed only through explicit reversal.
type ServiceEntry struct {
	ID         EntryID
	CustomerID CustomerID
	ServiceID  ServiceID  // 0 for credit entries
	Type       ServiceEntryType
	Quantity   int        // minutes
	LocationID LocationID // 0 = none
	CreatedAt  time.Time
}

// =============================================================================
// PRODUCT LEDGER ENTRY
// =============================================================================

// ProductEntry records one product sale.
type ProductEntry struct {
	ID         EntryID
	CustomerID CustomerID
	ProductID  ProductID
	LocationID LocationID
	Quantity   int
	CreatedAt  time.Time
}

// =============================================================================
// SUMMARIES
// =============================================================================

// MinuteTotals aggregates used and purchased minutes for one customer or for
// everyone.
type MinuteTotals struct {
	TotalUsed      int
	TotalPurchased int
}
