/*
runner.go - Orchestrator-facing operations

PURPOSE:
  The invocation surface the external scheduler calls. Each operation is
  idempotent for a given parameter set and returns a RunResult; none of
  them reads ambient wall-clock time except through the injectable clock.

OPERATIONS:
  RebuildTimeDimension(start, end)   destructive calendar rebuild
  VersionDimension(type)             SCD Type 2 pass, as of now
  ComputeFacts(type, from, to)       range-replace fact computation
  RunFullPipeline(from, to)          time -> dimensions -> facts

DEPENDENCY CHAIN:
  Time and dimensions must complete before facts. Independent dimension
  types run concurrently, as do independent fact types (errgroup); there is
  no cross-entity-type dependency. Two runs over the SAME dimension or an
  overlapping fact range must be serialized by the orchestrator - the
  engine documents that precondition, it does not enforce it.

CANCELLATION:
  No internal checkpointing. A cancelled run must be treated as fully
  rolled back or retried for the same range, never assumed partially
  applied; every store write is a single transaction.

SEE ALSO:
  - versioner.go, facts.go, timedim.go: The composed components
  - api/: HTTP wrappers over these operations
*/
package warehouse

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// NORMALIZERS - Domain packages plug in here
// =============================================================================

// NormalizedBatch is the output of one source normalizer over one staged
// read: canonical entities for versioning, observations for facts, and the
// count of rows excluded as malformed.
type NormalizedBatch struct {
	Entities     []StagedEntity
	Observations []Observation
	Malformed    int
}

// SourceNormalizer maps one source's flat staged records into the canonical
// staged shape. Implementations live in the domain packages (rent, econ).
type SourceNormalizer interface {
	Source() SourceSystem
	Normalize(records []RawRecord) NormalizedBatch
}

// =============================================================================
// DIMENSION DEFINITIONS - What feeds each dimension
// =============================================================================

// DimensionDefinition binds a dimension type to its contributing sources in
// merge priority order (most preferred first).
type DimensionDefinition struct {
	Type           DimensionType
	SourcePriority []SourceSystem
}

// BuiltinDimensionDefinitions lists the versioned dimensions this warehouse
// maintains. ApartmentList outranks ZORI for locations because it carries
// the FIPS code and population; the order is fixed and stable across runs.
func BuiltinDimensionDefinitions() []DimensionDefinition {
	return []DimensionDefinition{
		{Type: DimensionLocation, SourcePriority: []SourceSystem{SourceApartmentList, SourceZillowZori}},
		{Type: DimensionEconomicSeries, SourcePriority: []SourceSystem{SourceFred}},
	}
}

// lookbackMonths seeds trend math and rolling windows for rows at the start
// of a fact range: 12 for year-over-year plus one for the previous period.
const lookbackMonths = 13

// =============================================================================
// ENGINE
// =============================================================================

// Engine wires the store, the source normalizers, and the per-source
// thresholds into the callable operations.
type Engine struct {
	store       Store
	normalizers map[SourceSystem]SourceNormalizer
	thresholds  map[SourceSystem]QualityThresholds
	dimensions  map[DimensionType]DimensionDefinition
	facts       map[FactType]FactDefinition

	// Now supplies the run reference time. Defaults to time.Now; tests
	// pin it for reproducible period flags and provenance.
	Now func() time.Time

	// LogConflicts surfaces cross-source merge conflicts in the log.
	LogConflicts bool

	// Observer, when set, receives every completed RunResult (metrics).
	Observer func(RunResult)
}

// NewEngine builds an engine over the given store. Thresholds may be nil;
// sources then run with defaults (no bound checks, default anomaly tuning).
func NewEngine(store Store, normalizers []SourceNormalizer, thresholds map[SourceSystem]QualityThresholds) *Engine {
	e := &Engine{
		store:       store,
		normalizers: make(map[SourceSystem]SourceNormalizer, len(normalizers)),
		thresholds:  thresholds,
		dimensions:  make(map[DimensionType]DimensionDefinition),
		facts:       make(map[FactType]FactDefinition),
		Now:         time.Now,
	}
	for _, n := range normalizers {
		e.normalizers[n.Source()] = n
	}
	for _, d := range BuiltinDimensionDefinitions() {
		e.dimensions[d.Type] = d
	}
	for _, f := range BuiltinFactDefinitions() {
		e.facts[f.Type] = f
	}
	return e
}

func (e *Engine) sourceThresholds(s SourceSystem) QualityThresholds {
	if e.thresholds == nil {
		return QualityThresholds{}
	}
	return e.thresholds[s]
}

// finish stamps identity and timing onto a result and records it. Run
// history is ambient: a failed history write is logged, never fatal.
func (e *Engine) finish(ctx context.Context, res *RunResult, started time.Time) {
	res.RunID = uuid.NewString()
	res.StartedAt = started
	res.Duration = e.Now().Sub(started)
	if err := e.store.SaveRun(ctx, *res); err != nil {
		log.Printf("runner: failed to record run %s: %v", res.RunID, err)
	}
	if e.Observer != nil {
		e.Observer(*res)
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// RebuildTimeDimension regenerates the whole calendar for [start, end].
// Range misconfiguration is rejected before any write.
func (e *Engine) RebuildTimeDimension(ctx context.Context, start, end PeriodKey) (RunResult, error) {
	started := e.Now()
	periods, err := GenerateTimePeriods(start, end, TimePointFrom(started))
	if err != nil {
		return RunResult{Operation: "rebuild_time"}, err
	}
	if err := e.store.ReplaceTimePeriods(ctx, periods); err != nil {
		return RunResult{Operation: "rebuild_time"}, err
	}

	res := RunResult{
		Operation:     "rebuild_time",
		RowsProcessed: len(periods),
		RowsWritten:   len(periods),
	}
	res.Status = fmt.Sprintf("rebuild_time: %d periods generated [%s..%s]", len(periods), start, end)
	e.finish(ctx, &res, started)
	return res, nil
}

// VersionDimension runs the SCD Type 2 pass for one dimension type against
// the staged sources as of now. No date parameters: versioning always
// reflects the present staged state.
func (e *Engine) VersionDimension(ctx context.Context, dt DimensionType) (RunResult, error) {
	started := e.Now()
	def, ok := e.dimensions[dt]
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", ErrUnknownDimensionType, dt)
	}

	var (
		staged    []StagedEntity
		raw       int
		malformed int
	)
	for _, src := range def.SourcePriority {
		n, ok := e.normalizers[src]
		if !ok {
			continue // source registered for the dimension but not wired in
		}
		records, err := e.store.RawRecords(ctx, src, nil, nil)
		if err != nil {
			return RunResult{}, err
		}
		raw += len(records)
		batch := n.Normalize(records)
		staged = append(staged, batch.Entities...)
		malformed += batch.Malformed
	}

	vr := &Versioner{
		Store:          e.store,
		Type:           dt,
		SourcePriority: def.SourcePriority,
		LogConflicts:   e.LogConflicts,
	}
	res, err := vr.Run(ctx, staged, TimePointFrom(started))
	if err != nil {
		return res, err
	}
	res.RowsProcessed = raw
	res.RowsMalformed = malformed
	res.Summarize()
	e.finish(ctx, &res, started)
	return res, nil
}

// ComputeFacts recomputes one fact table for [from, to]: the existing rows
// in the range are deleted and replaced in a single transaction, making
// the call idempotent per range.
func (e *Engine) ComputeFacts(ctx context.Context, ft FactType, from, to TimePoint) (RunResult, error) {
	started := e.Now()
	if to.Before(from) {
		return RunResult{}, &RangeError{From: from.String(), To: to.String()}
	}
	def, ok := e.facts[ft]
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", ErrUnknownFactType, ft)
	}
	n, ok := e.normalizers[def.Source]
	if !ok {
		return RunResult{}, fmt.Errorf("%w: no normalizer for source %s", ErrUnknownFactType, def.Source)
	}

	// Integrity faults surface here, before any fact write.
	resolver, err := NewResolver(ctx, e.store, def.Dimension)
	if err != nil {
		return RunResult{}, err
	}

	// Lookback rows seed lag buffers and rolling windows only; they are
	// never written.
	lookFrom := from.AddMonths(-lookbackMonths)
	records, err := e.store.RawRecords(ctx, def.Source, &lookFrom, &to)
	if err != nil {
		return RunResult{}, err
	}
	batch := n.Normalize(records)

	fe := &FactEngine{Def: def, Thresholds: e.sourceThresholds(def.Source)}
	rows, res := fe.Compute(batch.Observations, resolver, from, to, uuid.NewString(), started)
	res.RowsMalformed = batch.Malformed

	if err := e.store.ReplaceFacts(ctx, ft, from, to, rows); err != nil {
		return res, err
	}
	res.Summarize()
	e.finish(ctx, &res, started)
	return res, nil
}

// RunFullPipeline composes the operations in dependency order: calendar,
// then every dimension, then every fact table. Independent dimension types
// run concurrently, then independent fact types. The aggregated result
// concatenates the per-operation status strings.
func (e *Engine) RunFullPipeline(ctx context.Context, from, to TimePoint) (RunResult, error) {
	started := e.Now()
	if to.Before(from) {
		return RunResult{}, &RangeError{From: from.String(), To: to.String()}
	}

	agg := RunResult{Operation: "full_pipeline"}

	timeRes, err := e.RebuildTimeDimension(ctx, from.PeriodKey(), to.PeriodKey())
	if err != nil {
		return agg, err
	}
	agg.Merge(timeRes)

	// Dimensions: independent types concurrently, single writer per type.
	dimResults := make(chan RunResult, len(e.dimensions))
	g, gctx := errgroup.WithContext(ctx)
	for dt := range e.dimensions {
		dt := dt
		g.Go(func() error {
			res, err := e.VersionDimension(gctx, dt)
			if err != nil {
				return err
			}
			dimResults <- res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return agg, err
	}
	close(dimResults)
	mergeOrdered(&agg, dimResults)

	// Facts: only after every dimension completed.
	factResults := make(chan RunResult, len(e.facts))
	g, gctx = errgroup.WithContext(ctx)
	for ft := range e.facts {
		ft := ft
		g.Go(func() error {
			res, err := e.ComputeFacts(gctx, ft, from, to)
			if err != nil {
				return err
			}
			factResults <- res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return agg, err
	}
	close(factResults)
	mergeOrdered(&agg, factResults)

	e.finish(ctx, &agg, started)
	return agg, nil
}

// mergeOrdered drains concurrent results and merges them in operation-name
// order so the aggregated status string is stable across runs.
func mergeOrdered(agg *RunResult, results <-chan RunResult) {
	var collected []RunResult
	for res := range results {
		collected = append(collected, res)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].Operation < collected[j].Operation })
	for _, res := range collected {
		agg.Merge(res)
	}
}
