/*
store.go - Persistence interfaces for the warehouse

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations use SQLite, PostgreSQL, or in-memory storage; the engine
  only ever sees these interfaces.

KEY INTERFACES:
  StagingStore:   Read access to the per-source staged raw tables
  DimensionStore: SCD Type 2 version persistence (soft-close only)
  TimeStore:      Wholesale replacement of the calendar dimension
  FactStore:      Range-replace fact persistence
  RunStore:       Run result history

SOFT-CLOSE CONTRACT:
  DimensionStore has no delete. A version leaves service by having its
  EndDate set and IsCurrent cleared, which preserves fact-table referential
  history. CloseAndInsert applies both sub-steps as ONE atomic unit: no
  reader may observe a business key with zero or two current versions.

RANGE-REPLACE CONTRACT:
  ReplaceFacts deletes existing rows for the processed range and inserts
  the recomputed rows in a single transaction, making reruns of the same
  range idempotent. Concurrent reruns of overlapping ranges are NOT safe;
  the external orchestrator must serialize them.

IMPLEMENTATIONS:
  - store/sqlite:     Production single-node SQLite (WAL)
  - store/postgres:   Production PostgreSQL via pgx
  - warehouse/store:  In-memory for tests and dev

SEE ALSO:
  - versioner.go: Sole writer through DimensionStore
  - facts.go: Sole writer through FactStore
*/
package warehouse

import "context"

// =============================================================================
// STAGING STORE - Flat per-source raw tables (read side of the engine)
// =============================================================================

// StagingStore reads the staged rows landed by the external scrapers. The
// engine never writes staged tables; AppendRawRecords exists on concrete
// stores for loaders and tests, not on this interface.
type StagingStore interface {
	// RawRecords returns staged rows for a source. When from/to are
	// non-nil, only rows whose period column falls inside [from, to] are
	// returned. Order follows load order.
	RawRecords(ctx context.Context, source SourceSystem, from, to *TimePoint) ([]RawRecord, error)
}

// =============================================================================
// DIMENSION STORE - SCD Type 2 persistence (soft-close only)
// =============================================================================

type DimensionStore interface {
	// CurrentVersions returns every version with IsCurrent=true for the
	// dimension type, including any duplicates that would violate the
	// uniqueness invariant (the engine detects those, the store reports
	// them faithfully).
	CurrentVersions(ctx context.Context, dt DimensionType) ([]DimensionVersion, error)

	// AllVersions returns every version for the dimension type, in no
	// particular order.
	AllVersions(ctx context.Context, dt DimensionType) ([]DimensionVersion, error)

	// InsertVersion inserts a new current version and returns its
	// store-assigned surrogate key.
	InsertVersion(ctx context.Context, dt DimensionType, v DimensionVersion) (SurrogateKey, error)

	// CloseAndInsert atomically closes the version identified by prior
	// (setting its end date and clearing IsCurrent) and inserts v as the
	// new current version. Both effects become visible together.
	CloseAndInsert(ctx context.Context, dt DimensionType, prior SurrogateKey, endDate TimePoint, v DimensionVersion) (SurrogateKey, error)
}

// =============================================================================
// TIME STORE - Calendar dimension (destructive rebuild)
// =============================================================================

type TimeStore interface {
	// ReplaceTimePeriods drops the existing calendar and writes the new
	// one in a single transaction.
	ReplaceTimePeriods(ctx context.Context, periods []TimePeriod) error

	// TimePeriods returns the calendar ordered by period key.
	TimePeriods(ctx context.Context) ([]TimePeriod, error)
}

// =============================================================================
// FACT STORE - Range-replace persistence
// =============================================================================

type FactStore interface {
	// ReplaceFacts deletes rows of the fact type whose period start falls
	// in [from, to] and inserts rows, atomically.
	ReplaceFacts(ctx context.Context, ft FactType, from, to TimePoint, rows []FactRow) error

	// Facts returns rows of the fact type in [from, to], ordered by
	// surrogate key then period key.
	Facts(ctx context.Context, ft FactType, from, to TimePoint) ([]FactRow, error)
}

// =============================================================================
// RUN STORE - Operation history
// =============================================================================

type RunStore interface {
	SaveRun(ctx context.Context, r RunResult) error

	// Runs returns the most recent results, newest first.
	Runs(ctx context.Context, limit int) ([]RunResult, error)
}

// =============================================================================
// STORE - Everything the engine needs
// =============================================================================

// Store is the composite persistence surface consumed by the Engine.
type Store interface {
	StagingStore
	DimensionStore
	TimeStore
	FactStore
	RunStore
}
