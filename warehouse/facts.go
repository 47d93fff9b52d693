/*
facts.go - Fact computation engine

PURPOSE:
  Turns normalized observations into fact rows: resolves time-correct
  dimension keys, computes period-over-period and year-over-year trend
  measures, scores data quality, and flags statistical anomalies.

COMPUTATION MODEL:
  Observations are grouped per entity and walked in period order. Trend
  measures that a set-based engine would express as ordered-partition
  window functions become an explicit sequential pass carrying the previous
  and 12-periods-back values in a ring buffer (facts.go never re-reads the
  series). Only joinable observations enter the series state: a row that
  cannot be resolved contributes nothing to its neighbors' lags.

QUALITY SCORE (1-10, higher is better, first matching condition wins):
  1-4  missing required identifying fields (per-field score from config)
  5    value outside the source's plausible bounds
  6    statistical outlier against the rolling window
  10   none of the above

ANOMALY FLAG:
  |value - rolling mean| > k * rolling stddev over a trailing window of
  prior periods. Fewer prior periods than the window means no flag, never
  an error. Window size and k are per-source configuration.

GRAIN:
  One row per (entity version, period, source). Duplicate staged rows for
  the same grain keep the last by load order and are counted as replaced.

SEE ALSO:
  - rolling.go: Ring buffer and trailing window statistics
  - resolver.go: Surrogate key resolution
  - config/: Per-source threshold values (not engine logic)
*/
package warehouse

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PER-SOURCE THRESHOLDS - Configuration, not engine logic
// =============================================================================

// RequiredField names an identifying field checked on every observation and
// the quality score (1-4) assigned when it is missing.
type RequiredField struct {
	Name  string `yaml:"name"`
	Score int    `yaml:"score"`
}

// QualityThresholds carries the source-specific bounds and anomaly tuning.
// The zero value disables bound checks and uses the package defaults for
// the rolling window. Values come from the config package, not from engine
// logic.
type QualityThresholds struct {
	// Plausible value bounds, inclusive. Nil disables the check.
	MinValue *decimal.Decimal
	MaxValue *decimal.Decimal

	RequiredFields []RequiredField

	AnomalyWindow int
	AnomalyK      float64
}

// Default anomaly tuning when a source configures none.
const (
	DefaultAnomalyWindow = 6
	DefaultAnomalyK      = 2.0
)

func (t QualityThresholds) window() int {
	if t.AnomalyWindow > 0 {
		return t.AnomalyWindow
	}
	return DefaultAnomalyWindow
}

func (t QualityThresholds) k() float64 {
	if t.AnomalyK > 0 {
		return t.AnomalyK
	}
	return DefaultAnomalyK
}

// =============================================================================
// FACT DEFINITIONS - What feeds each fact table
// =============================================================================

// FactDefinition binds a fact type to the dimension it resolves against and
// the staged source it reads.
type FactDefinition struct {
	Type      FactType
	Dimension DimensionType
	Source    SourceSystem
}

// BuiltinFactDefinitions lists the fact tables this warehouse maintains.
func BuiltinFactDefinitions() []FactDefinition {
	return []FactDefinition{
		{Type: FactRentIndex, Dimension: DimensionLocation, Source: SourceZillowZori},
		{Type: FactRentListings, Dimension: DimensionLocation, Source: SourceApartmentList},
		{Type: FactEconomicIndicator, Dimension: DimensionEconomicSeries, Source: SourceFred},
	}
}

// =============================================================================
// FACT ENGINE
// =============================================================================

// FactEngine computes fact rows for one fact type. It holds no mutable
// state between runs.
type FactEngine struct {
	Def        FactDefinition
	Thresholds QualityThresholds
}

// Compute produces the fact rows for observations whose period start falls
// in [from, to]. Observations BEFORE the range (the caller's lookback) seed
// the lag buffers and rolling windows so rows at the start of the range get
// correct trend measures; they produce no output rows.
//
// The resolver must be built from the same dimension type as Def.Dimension.
// loadedAt and batchID are stamped onto every row as provenance.
func (e *FactEngine) Compute(obs []Observation, resolver *Resolver, from, to TimePoint, batchID string, loadedAt time.Time) ([]FactRow, RunResult) {
	res := RunResult{Operation: "facts_" + string(e.Def.Type)}

	series := e.groupSeries(obs, from, to, &res)

	// Deterministic entity order for byte-identical reruns.
	keys := make([]BusinessKey, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var rows []FactRow
	for _, key := range keys {
		rows = append(rows, e.computeSeries(key, series[key], resolver, from, to, batchID, loadedAt, &res)...)
	}

	res.RowsWritten = len(rows)
	res.Summarize()
	return rows, res
}

// groupSeries buckets observations per entity, sorts each bucket by period,
// and collapses duplicate grain rows (last load order wins). Rows before
// the range seed trend state only and are counted as lookback, not
// processed.
func (e *FactEngine) groupSeries(obs []Observation, from, to TimePoint, res *RunResult) map[BusinessKey][]Observation {
	series := make(map[BusinessKey][]Observation)
	for _, o := range obs {
		if o.PeriodStart.AfterOrEqual(from) && o.PeriodStart.BeforeOrEqual(to) {
			res.RowsProcessed++
		} else {
			res.RowsLookback++
		}
		series[o.BusinessKey] = append(series[o.BusinessKey], o)
	}

	for key, list := range series {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].PeriodStart.Before(list[j].PeriodStart)
		})
		deduped := list[:0]
		for _, o := range list {
			n := len(deduped)
			if n > 0 && deduped[n-1].PeriodStart.Equal(o.PeriodStart) {
				deduped[n-1] = o // later load order supersedes
				res.RowsReplaced++
				continue
			}
			deduped = append(deduped, o)
		}
		series[key] = deduped
	}
	return series
}

func (e *FactEngine) computeSeries(key BusinessKey, list []Observation, resolver *Resolver, from, to TimePoint, batchID string, loadedAt time.Time, res *RunResult) []FactRow {
	var (
		rows  []FactRow
		lags  lagBuffer
		stats = newRollingStats(e.Thresholds.window())
	)

	for _, o := range list {
		sk, ok := resolver.Resolve(key, o.PeriodStart)
		if !ok {
			// Unjoinable: dropped and counted, and excluded from the
			// series state so it cannot skew neighbors' trend math.
			if o.PeriodStart.AfterOrEqual(from) && o.PeriodStart.BeforeOrEqual(to) {
				res.RowsUnjoinable++
			}
			continue
		}

		value := o.Value
		inRange := o.PeriodStart.AfterOrEqual(from) && o.PeriodStart.BeforeOrEqual(to)
		if inRange {
			row := FactRow{
				PeriodKey:    o.PeriodStart.PeriodKey(),
				SurrogateKey: sk,
				Source:       o.Source,
				Value:        value,
				Population:   o.Population,
				SeriesLabel:  o.SeriesLabel,
				LoadedAt:     loadedAt,
				LoadBatchID:  batchID,
				SourceFile:   o.SourceFile,
			}

			if prev, ok := lags.lag(1); ok {
				row.PeriodChange, row.PeriodPctChange = changes(value, prev)
			}
			if yearBack, ok := lags.lag(12); ok {
				row.YearChange, row.YearPctChange = changes(value, yearBack)
			}

			anomalous := stats.isOutlier(value.InexactFloat64(), e.Thresholds.k())
			row.HasAnomaly = anomalous
			if anomalous {
				res.Anomalies++
			}
			row.QualityScore = e.score(o, anomalous)

			rows = append(rows, row)
		}

		stats.push(value.InexactFloat64())
		lags.push(value)
	}
	return rows
}

// changes returns the absolute and percentage delta of value against base.
// The percentage form is nil when base is zero.
func changes(value, base decimal.Decimal) (*decimal.Decimal, *decimal.Decimal) {
	delta := value.Sub(base)
	var pct *decimal.Decimal
	if !base.IsZero() {
		p := delta.Div(base).Mul(decimal.NewFromInt(100))
		pct = &p
	}
	return &delta, pct
}

// score applies the quality conditions in priority order.
func (e *FactEngine) score(o Observation, anomalous bool) int {
	for _, rf := range e.Thresholds.RequiredFields {
		if observationField(o, rf.Name) == "" {
			if rf.Score >= 1 && rf.Score <= 4 {
				return rf.Score
			}
			return 4
		}
	}
	if e.Thresholds.MinValue != nil && o.Value.LessThan(*e.Thresholds.MinValue) {
		return 5
	}
	if e.Thresholds.MaxValue != nil && o.Value.GreaterThan(*e.Thresholds.MaxValue) {
		return 5
	}
	if anomalous {
		return 6
	}
	return 10
}

// observationField maps a configured required-field name onto the
// observation. Unknown names read as present so a typo in config can only
// loosen scoring, never zero out a whole source.
func observationField(o Observation, name string) string {
	switch name {
	case "series_label":
		return o.SeriesLabel
	case "population":
		if o.Population == 0 {
			return ""
		}
		return "present"
	case "source_file":
		return o.SourceFile
	default:
		return "present"
	}
}
