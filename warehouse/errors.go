/*
errors.go - Centralized error types for the warehouse engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages and stores wrap these with additional context.

ERROR CATEGORIES:
  1. Configuration errors - Rejected before any write occurs
  2. Integrity faults - Invariant violations detected in stored data
  3. Store errors - Persistence-level failures

PROPAGATION POLICY:
  Per-row recoverable conditions (unjoinable observations, malformed staged
  rows) are NEVER errors: they are aggregated into RunResult counters.
  Errors here abort the run before partial writes become visible.

SEE ALSO:
  - resolver.go: Raises IntegrityFaultError
  - timedim.go: Raises ErrInvalidPeriodRange
  - runner.go: Propagates these to the caller
*/
package warehouse

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriodRange is returned when a generator or fact range has
	// its end before its start. Rejected before any writes occur.
	ErrInvalidPeriodRange = errors.New("invalid period range: end before start")

	// ErrIntegrityFault is returned when stored dimension data violates the
	// current-uniqueness invariant. The engine refuses to resolve rather
	// than guess.
	ErrIntegrityFault = errors.New("dimension integrity fault")

	// ErrUnknownDimensionType is returned for a dimension type with no
	// registered normalizers.
	ErrUnknownDimensionType = errors.New("unknown dimension type")

	// ErrUnknownFactType is returned for a fact type with no registered
	// definition.
	ErrUnknownFactType = errors.New("unknown fact type")

	// ErrVersionNotFound is returned by stores when a surrogate key does
	// not exist.
	ErrVersionNotFound = errors.New("dimension version not found")

	// ErrStoreRequired is returned by store constructors given no backing
	// target (empty path or DSN).
	ErrStoreRequired = errors.New("store target required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// IntegrityFaultError reports a business key holding more than one current
// version, e.g. the residue of a non-atomic prior run.
type IntegrityFaultError struct {
	DimensionType DimensionType
	BusinessKey   BusinessKey
	CurrentCount  int
}

func (e *IntegrityFaultError) Error() string {
	return fmt.Sprintf("integrity fault: %s key %q has %d current versions (want 1)",
		e.DimensionType, e.BusinessKey, e.CurrentCount)
}

func (e *IntegrityFaultError) Unwrap() error { return ErrIntegrityFault }

// RangeError reports a rejected date or period range.
type RangeError struct {
	From, To string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range [%s, %s] rejected: end before start", e.From, e.To)
}

func (e *RangeError) Unwrap() error { return ErrInvalidPeriodRange }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfigError returns true if the error is caused by invalid caller input.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidPeriodRange) ||
		errors.Is(err, ErrUnknownDimensionType) ||
		errors.Is(err, ErrUnknownFactType) ||
		errors.Is(err, ErrStoreRequired)
}

// IsIntegrityFault returns true if the error reports corrupted dimension
// state that requires operator intervention.
func IsIntegrityFault(err error) bool {
	return errors.Is(err, ErrIntegrityFault)
}
