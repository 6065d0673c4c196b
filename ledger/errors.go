/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Not-found errors - missing customer / catalog item / location / entry
  2. Validation errors - malformed or out-of-range input
  3. Balance errors - insufficient minutes for a used-type entry

SEE ALSO:
  - balance.go, inventory.go: produce these errors
  - api/handlers.go: maps them to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCustomerNotFound is returned when a customer profile doesn't exist.
	ErrCustomerNotFound = errors.New("customer profile not found")

	// ErrServiceNotFound is returned when a service catalog lookup misses.
	ErrServiceNotFound = errors.New("service not found")

	// ErrProductNotFound is returned when a product catalog lookup misses.
	ErrProductNotFound = errors.New("product not found")

	// ErrLocationNotFound is returned when a location lookup misses.
	ErrLocationNotFound = errors.New("location not found")

	// ErrEntryNotFound is returned when a ledger entry doesn't exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrInvalidLocation is returned when a product transaction references a
	// location that cannot be resolved for the stock decrement.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInsufficientBalance is returned when a used-type entry exceeds the
	// customer's available minutes. Checked atomically at the storage layer.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidInput is returned for malformed requests that slip past the
	// HTTP validation layer.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a minute shortage.
type InsufficientBalanceError struct {
	CustomerID CustomerID
	Available  int
	Requested  int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for customer %d: available %d, requested %d",
		e.CustomerID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrLocationNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

// IsInsufficientBalance returns true if the error indicates a minute
// shortage, whether sentinel or structured.
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidLocation) ||
		errors.Is(err, ErrInvalidInput)
}
