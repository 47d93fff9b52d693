/*
Package warehouse provides the core dimensional history and fact-computation
engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for maintaining
  a versioned dimensional warehouse over time-series observations. Whether
  the entities are rental markets or economic series, the same engine handles
  change detection, SCD Type 2 versioning, time-correct key resolution, and
  fact computation with quality scoring.

KEY CONCEPTS IN THIS FILE (types.go):
  - BusinessKey/SurrogateKey: Natural vs. version-level identity
  - Attributes: Ordered mutable fields of an entity (hash input)
  - DimensionVersion: One SCD Type 2 row with a validity window
  - TimePeriod: One row of the monthly calendar dimension
  - Observation: A normalized time-series input row
  - FactRow: A computed output row at (entity, period, source) grain
  - RunResult: Structured outcome returned to the orchestrator

DESIGN PRINCIPLES:
  1. Soft-close only: Dimension versions are never deleted, only closed
  2. Precision: Uses decimal.Decimal for metric values and deltas
  3. Explicit time: The run's reference date is always a parameter,
     never read from the wall clock inside the engine
  4. Idempotence: Every operation is rerunnable for the same parameters

SEE ALSO:
  - hash.go: Deterministic attribute digests for change detection
  - versioner.go: The per-key SCD Type 2 state machine
  - resolver.go: Date-to-surrogate-key resolution
  - facts.go: Trend math, quality scoring, anomaly detection
  - runner.go: The orchestrator-facing operations
*/
package warehouse

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// BusinessKey is the stable natural identifier of a real-world entity.
// It is shared by every version of that entity.
type BusinessKey string

// SurrogateKey identifies exactly one version of an entity. Assigned by the
// store on insert, immutable afterwards.
type SurrogateKey int64

// DimensionType names a versioned dimension (one table per type).
type DimensionType string

// FactType names a fact table (one table per type).
type FactType string

// SourceSystem names a staged data source.
type SourceSystem string

const (
	DimensionLocation       DimensionType = "location"
	DimensionEconomicSeries DimensionType = "economic_series"

	FactRentListings      FactType = "rent_listings"
	FactRentIndex         FactType = "rent_index"
	FactEconomicIndicator FactType = "economic_indicator"

	SourceApartmentList SourceSystem = "apartmentlist"
	SourceZillowZori    SourceSystem = "zillow_zori"
	SourceFred          SourceSystem = "fred"
)

// =============================================================================
// ATTRIBUTES - Ordered mutable fields of an entity
// =============================================================================

// Field is a single named attribute value. An empty Value means the source
// did not supply the field; the hasher and merge policy treat null and ""
// identically.
type Field struct {
	Name  string
	Value string
}

// Attributes is the ordered set of mutable descriptive fields for an entity.
// Order is declared by the normalizer and must be stable across runs: the
// content hash is computed over values in this order.
type Attributes []Field

// Get returns the value for name, or "" when absent.
func (a Attributes) Get(name string) string {
	for _, f := range a {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Set replaces the value for name in place. Fields are never added by Set;
// the field list is fixed by the normalizer's declared shape.
func (a Attributes) Set(name, value string) {
	for i := range a {
		if a[i].Name == name {
			a[i].Value = value
			return
		}
	}
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	copy(out, a)
	return out
}

// =============================================================================
// DIMENSION VERSION - One SCD Type 2 row
// =============================================================================

// DimensionVersion is one historical version of an entity. For a given
// business key the validity windows of its versions never overlap and
// exactly one version is current.
type DimensionVersion struct {
	SurrogateKey  SurrogateKey
	BusinessKey   BusinessKey
	Attributes    Attributes
	AttributeHash Digest

	// SourceSystems lists the staged sources that contributed attribute
	// values, in priority order, comma-separated. Audit only.
	SourceSystems string

	EffectiveDate TimePoint
	EndDate       *TimePoint // nil while current
	IsCurrent     bool
}

// Covers reports whether the version's validity window contains date.
// The window is [EffectiveDate, EndDate] inclusive, open-ended when
// EndDate is nil.
func (v DimensionVersion) Covers(date TimePoint) bool {
	if date.Before(v.EffectiveDate) {
		return false
	}
	return v.EndDate == nil || date.BeforeOrEqual(*v.EndDate)
}

// StagedEntity is the canonical staged shape of an entity as described by a
// single source in the current run, before cross-source merging.
type StagedEntity struct {
	BusinessKey BusinessKey
	Source      SourceSystem
	Attributes  Attributes
}

// =============================================================================
// TIME PERIOD - One row of the monthly calendar dimension
// =============================================================================

// PeriodKey is the monthly period identifier, YYYYMM.
type PeriodKey int

func (k PeriodKey) Year() int         { return int(k) / 100 }
func (k PeriodKey) Month() time.Month { return time.Month(int(k) % 100) }

// StartDate returns the first day of the period's month.
func (k PeriodKey) StartDate() TimePoint {
	return NewTimePoint(k.Year(), k.Month(), 1)
}

func (k PeriodKey) String() string { return fmt.Sprintf("%06d", int(k)) }

// TimePeriod is one calendar month with pre-computed rollup attributes.
// Rows are immutable once generated; the whole table is rebuilt when the
// configured horizon changes.
type TimePeriod struct {
	PeriodKey       PeriodKey
	StartDate       TimePoint
	EndDate         TimePoint
	Year            int
	Quarter         int    // 1-4, calendar
	FiscalYear      int    // fiscal year starting FiscalYearStartMonth
	Season          string // Winter, Spring, Summer, Fall
	IsCurrentPeriod bool   // period containing the run's reference date
	PeriodsAgo      int    // whole months before the reference period
}

// =============================================================================
// OBSERVATION - Normalized time-series input
// =============================================================================

// Observation is one normalized metric reading: the canonical shape every
// source normalizer produces for fact computation.
type Observation struct {
	Source      SourceSystem
	BusinessKey BusinessKey
	PeriodStart TimePoint
	Value       decimal.Decimal

	// Optional secondary measures. Zero when the source has none.
	Population  int64
	SeriesLabel string

	// Provenance
	SourceFile string
}

// =============================================================================
// FACT ROW - Computed output at (entity, period, source) grain
// =============================================================================

// FactRow is one computed fact. The (SurrogateKey, PeriodKey, Source) triple
// is the grain and is unique within a fact table.
type FactRow struct {
	PeriodKey    PeriodKey
	SurrogateKey SurrogateKey
	Source       SourceSystem

	Value decimal.Decimal

	// Trend measures. Nil when no prior/12-back period exists for the
	// entity, or when the base value is zero (percentage forms).
	PeriodChange    *decimal.Decimal
	PeriodPctChange *decimal.Decimal
	YearChange      *decimal.Decimal
	YearPctChange   *decimal.Decimal

	QualityScore int // 1-10, higher is better
	HasAnomaly   bool

	// Secondary measures carried from the observation.
	Population  int64
	SeriesLabel string

	// Provenance
	LoadedAt    time.Time
	LoadBatchID string
	SourceFile  string
}

// =============================================================================
// RAW RECORD - Flat staged input row
// =============================================================================

// RawRecord is one flat staged row as landed by an external scraper: a bag
// of named string columns. The engine never parses source-native formats;
// normalizers map these column sets into StagedEntity and Observation.
type RawRecord map[string]string

// RawPeriodColumn is the one column every staged source shares: the
// observation month as YYYY-MM-DD. Stores filter staged reads on it.
const RawPeriodColumn = "month"

// Get returns the trimmed value of a column, or "" when absent.
func (r RawRecord) Get(col string) string {
	return strings.TrimSpace(r[col])
}

// =============================================================================
// RUN RESULT - Structured operation outcome
// =============================================================================

// RunResult is returned by every orchestrator-facing operation. Per-row
// recoverable conditions are aggregated into the counters; the status string
// summarizes the run without requiring log inspection.
type RunResult struct {
	RunID     string
	Operation string
	StartedAt time.Time
	Duration  time.Duration

	RowsProcessed  int // staged rows read for the requested range
	RowsLookback   int // rows before the range, read only to seed trend state
	RowsWritten    int // dimension versions or fact rows written
	VersionsNew    int // NEW transitions
	VersionsClosed int // CLOSE_AND_INSERT transitions
	RowsUnchanged  int // NO_OP transitions
	RowsUnjoinable int // observations with no covering dimension version
	RowsMalformed  int // staged rows excluded before computation
	RowsReplaced   int // duplicate grain rows superseded by later load order
	Anomalies      int // fact rows flagged anomalous

	Status string
}

// Summarize builds the human-readable status string from the counters,
// stores it in Status, and returns it.
func (r *RunResult) Summarize() string {
	parts := []string{fmt.Sprintf("%s: %d rows processed", r.Operation, r.RowsProcessed)}
	if r.RowsLookback > 0 {
		parts = append(parts, fmt.Sprintf("%d lookback rows seeded", r.RowsLookback))
	}
	if r.VersionsNew > 0 || r.VersionsClosed > 0 || r.RowsUnchanged > 0 {
		parts = append(parts, fmt.Sprintf("%d new versions, %d closed, %d unchanged",
			r.VersionsNew, r.VersionsClosed, r.RowsUnchanged))
	}
	if r.RowsWritten > 0 {
		parts = append(parts, fmt.Sprintf("%d rows written", r.RowsWritten))
	}
	if r.RowsUnjoinable > 0 {
		parts = append(parts, fmt.Sprintf("%d unjoinable dropped", r.RowsUnjoinable))
	}
	if r.RowsMalformed > 0 {
		parts = append(parts, fmt.Sprintf("%d malformed excluded", r.RowsMalformed))
	}
	if r.Anomalies > 0 {
		parts = append(parts, fmt.Sprintf("%d anomalies flagged", r.Anomalies))
	}
	r.Status = strings.Join(parts, "; ")
	return r.Status
}

// Merge folds another result's counters into r (used by RunFullPipeline).
func (r *RunResult) Merge(other RunResult) {
	r.RowsProcessed += other.RowsProcessed
	r.RowsLookback += other.RowsLookback
	r.RowsWritten += other.RowsWritten
	r.VersionsNew += other.VersionsNew
	r.VersionsClosed += other.VersionsClosed
	r.RowsUnchanged += other.RowsUnchanged
	r.RowsUnjoinable += other.RowsUnjoinable
	r.RowsMalformed += other.RowsMalformed
	r.RowsReplaced += other.RowsReplaced
	r.Anomalies += other.Anomalies
	if other.Status != "" {
		if r.Status != "" {
			r.Status += " | "
		}
		r.Status += other.Status
	}
}

// =============================================================================
// DATA SOURCE REGISTRY - Static reference dimension
// =============================================================================

// DataSource is one row of the static source reference dimension: metadata
// about a staged source, including its reliability score (1-10).
type DataSource struct {
	Source           SourceSystem
	Name             string
	DataType         string
	ReliabilityScore int
	UpdateCadence    string
}

// KnownDataSources seeds the source reference dimension at migration time.
func KnownDataSources() []DataSource {
	return []DataSource{
		{Source: SourceZillowZori, Name: "Zillow ZORI", DataType: "rent_index", ReliabilityScore: 9, UpdateCadence: "monthly"},
		{Source: SourceApartmentList, Name: "ApartmentList", DataType: "rent_estimates", ReliabilityScore: 8, UpdateCadence: "monthly"},
		{Source: SourceFred, Name: "FRED", DataType: "economic_indicators", ReliabilityScore: 10, UpdateCadence: "monthly"},
	}
}
