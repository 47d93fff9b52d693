package warehouse_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/warehouse-engine/warehouse"
	"github.com/meridian/warehouse-engine/warehouse/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// openResolver builds a resolver where each key has one open-ended version
// effective 2020-01-01, and returns the surrogate keys by business key.
func openResolver(t *testing.T, keys ...string) (*warehouse.Resolver, map[string]warehouse.SurrogateKey) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	sks := make(map[string]warehouse.SurrogateKey, len(keys))
	for _, k := range keys {
		sk, err := mem.InsertVersion(ctx, warehouse.DimensionLocation, warehouse.DimensionVersion{
			BusinessKey:   warehouse.BusinessKey(k),
			EffectiveDate: warehouse.NewTimePoint(2020, time.January, 1),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
		sks[k] = sk
	}

	r, err := warehouse.NewResolver(ctx, mem, warehouse.DimensionLocation)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return r, sks
}

// monthlySeries emits one observation per month starting at 2024-01 with
// the given values.
func monthlySeries(key string, values ...float64) []warehouse.Observation {
	obs := make([]warehouse.Observation, 0, len(values))
	for i, v := range values {
		obs = append(obs, warehouse.Observation{
			Source:      warehouse.SourceZillowZori,
			BusinessKey: warehouse.BusinessKey(key),
			PeriodStart: warehouse.NewTimePoint(2024, time.January, 1).AddMonths(i),
			Value:       decimal.NewFromFloat(v),
		})
	}
	return obs
}

func zoriEngine(th warehouse.QualityThresholds) *warehouse.FactEngine {
	return &warehouse.FactEngine{
		Def: warehouse.FactDefinition{
			Type:      warehouse.FactRentIndex,
			Dimension: warehouse.DimensionLocation,
			Source:    warehouse.SourceZillowZori,
		},
		Thresholds: th,
	}
}

var testLoadedAt = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// TREND MATH TESTS
// =============================================================================

func TestFactEngine_PeriodAndYearTrends(t *testing.T) {
	// GIVEN: 13 months of tampa values 100, 101, ... 112
	// WHEN: Computing over the whole range
	// THEN: The 13th row has MoM delta 1 and YoY delta 12 (12% against 100)

	resolver, _ := openResolver(t, "tampa")
	e := zoriEngine(warehouse.QualityThresholds{})

	values := make([]float64, 13)
	for i := range values {
		values[i] = 100 + float64(i)
	}
	from := warehouse.NewTimePoint(2024, time.January, 1)
	to := warehouse.NewTimePoint(2025, time.January, 31)

	rows, res := e.Compute(monthlySeries("tampa", values...), resolver, from, to, "batch-1", testLoadedAt)
	if len(rows) != 13 {
		t.Fatalf("expected 13 rows, got %d (result %+v)", len(rows), res)
	}

	first := rows[0]
	if first.PeriodChange != nil || first.YearChange != nil {
		t.Errorf("first row: expected nil trends, got %+v", first)
	}

	second := rows[1]
	if second.PeriodChange == nil || !second.PeriodChange.Equal(decimal.NewFromInt(1)) {
		t.Errorf("second row: expected MoM delta 1, got %v", second.PeriodChange)
	}
	if second.YearChange != nil {
		t.Errorf("second row: expected nil YoY with 1 prior period, got %v", second.YearChange)
	}

	last := rows[12]
	if last.YearChange == nil || !last.YearChange.Equal(decimal.NewFromInt(12)) {
		t.Errorf("13th row: expected YoY delta 12, got %v", last.YearChange)
	}
	if last.YearPctChange == nil || !last.YearPctChange.Equal(decimal.NewFromInt(12)) {
		t.Errorf("13th row: expected YoY pct 12, got %v", last.YearPctChange)
	}
	if last.PeriodChange == nil || !last.PeriodChange.Equal(decimal.NewFromInt(1)) {
		t.Errorf("13th row: expected MoM delta 1, got %v", last.PeriodChange)
	}
}

func TestFactEngine_ZeroBaseSuppressesPercentageOnly(t *testing.T) {
	// A zero prior value makes the percentage undefined; the absolute
	// delta is still emitted.
	resolver, _ := openResolver(t, "tampa")
	e := zoriEngine(warehouse.QualityThresholds{})

	from := warehouse.NewTimePoint(2024, time.January, 1)
	to := warehouse.NewTimePoint(2024, time.December, 31)
	rows, _ := e.Compute(monthlySeries("tampa", 0, 50), resolver, from, to, "batch-1", testLoadedAt)

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	second := rows[1]
	if second.PeriodChange == nil || !second.PeriodChange.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected absolute delta 50, got %v", second.PeriodChange)
	}
	if second.PeriodPctChange != nil {
		t.Errorf("expected nil percentage against zero base, got %v", second.PeriodPctChange)
	}
}

func TestFactEngine_LookbackSeedsTrendsWithoutEmittingRows(t *testing.T) {
	// GIVEN: 13 months of history but an output range covering only the
	// 13th month
	// WHEN: Computing with the earlier months supplied as lookback
	// THEN: One output row, with both MoM and YoY populated

	resolver, _ := openResolver(t, "tampa")
	e := zoriEngine(warehouse.QualityThresholds{})

	values := make([]float64, 13)
	for i := range values {
		values[i] = 100 + float64(i)
	}
	from := warehouse.NewTimePoint(2025, time.January, 1)
	to := warehouse.NewTimePoint(2025, time.January, 31)

	rows, res := e.Compute(monthlySeries("tampa", values...), resolver, from, to, "batch-1", testLoadedAt)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row in range, got %d", len(rows))
	}
	row := rows[0]
	if row.PeriodKey != 202501 {
		t.Errorf("expected period 202501, got %d", row.PeriodKey)
	}
	if row.PeriodChange == nil || row.YearChange == nil {
		t.Errorf("expected lookback-seeded trends, got %+v", row)
	}
	if res.RowsWritten != 1 {
		t.Errorf("expected RowsWritten 1, got %d", res.RowsWritten)
	}
	// Seeding rows are accounted for separately: the processed count
	// covers only the requested range.
	if res.RowsProcessed != 1 || res.RowsLookback != 12 {
		t.Errorf("expected 1 processed / 12 lookback, got %d / %d",
			res.RowsProcessed, res.RowsLookback)
	}
	if !strings.Contains(res.Status, "12 lookback rows seeded") {
		t.Errorf("expected lookback noted in status, got %q", res.Status)
	}
}

// =============================================================================
// ANOMALY FLAGGING TESTS
// =============================================================================

func TestFactEngine_RollingWindowFlagsSpike(t *testing.T) {
	// GIVEN: Series 100, 110, 90, 600, 95 with window 3 and k 2.0
	// THEN: Only the 600 is flagged. The first three rows have too little
	// history; the 95 is unremarkable against its (spike-containing) window.

	resolver, _ := openResolver(t, "tampa")
	e := zoriEngine(warehouse.QualityThresholds{AnomalyWindow: 3, AnomalyK: 2.0})

	from := warehouse.NewTimePoint(2024, time.January, 1)
	to := warehouse.NewTimePoint(2024, time.December, 31)
	rows, res := e.Compute(monthlySeries("tampa", 100, 110, 90, 600, 95), resolver, from, to, "batch-1", testLoadedAt)

	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	for i, want := range []bool{false, false, false, true, false} {
		if rows[i].HasAnomaly != want {
			t.Errorf("row %d: HasAnomaly = %v, want %v", i, rows[i].HasAnomaly, want)
		}
	}
	if res.Anomalies != 1 {
		t.Errorf("expected 1 anomaly counted, got %d", res.Anomalies)
	}
	if rows[3].QualityScore != 6 {
		t.Errorf("expected outlier quality score 6, got %d", rows[3].QualityScore)
	}
}

func TestFactEngine_InsufficientHistoryNeverFlags(t *testing.T) {
	resolver, _ := openResolver(t, "tampa")
	e := zoriEngine(warehouse.QualityThresholds{AnomalyWindow: 6, AnomalyK: 2.0})

	from := warehouse.NewTimePoint(2024, time.January, 1)
	to := warehouse.NewTimePoint(2024, time.December, 31)
	rows, _ := e.Compute(monthlySeries("tampa", 100, 100, 9999), resolver, from, to, "batch-1", testLoadedAt)

	for i, r := range rows {
		if r.HasAnomaly {
			t.Errorf("row %d: flagged with only %d prior periods (window 6)", i, i)
		}
	}
}

// =============================================================================
// QUALITY SCORING TESTS
// =============================================================================

func TestFactEngine_QualityScorePriority(t *testing.T) {
	resolver, _ := openResolver(t, "tampa")

	min := decimal.NewFromInt(500)
	max := decimal.NewFromInt(8000)
	e := zoriEngine(warehouse.QualityThresholds{
		MinValue:       &min,
		MaxValue:       &max,
		RequiredFields: []warehouse.RequiredField{{Name: "source_file", Score: 2}},
	})

	from := warehouse.NewTimePoint(2024, time.January, 1)
	to := warehouse.NewTimePoint(2024, time.December, 31)

	obs := []warehouse.Observation{
		{
			// Missing required field AND out of bounds: the missing field
			// wins (checked first).
			Source: warehouse.SourceZillowZori, BusinessKey: "tampa",
			PeriodStart: warehouse.NewTimePoint(2024, time.January, 1),
			Value:       decimal.NewFromInt(100),
		},
		{
			// Out of bounds only.
			Source: warehouse.SourceZillowZori, BusinessKey: "tampa",
			PeriodStart: warehouse.NewTimePoint(2024, time.February, 1),
			Value:       decimal.NewFromInt(100), SourceFile: "s3://zori/feb.csv",
		},
		{
			// Clean.
			Source: warehouse.SourceZillowZori, BusinessKey: "tampa",
			PeriodStart: warehouse.NewTimePoint(2024, time.March, 1),
			Value:       decimal.NewFromInt(1800), SourceFile: "s3://zori/mar.csv",
		},
	}

	rows, _ := e.Compute(obs, resolver, from, to, "batch-1", testLoadedAt)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].QualityScore != 2 {
		t.Errorf("missing required field: expected score 2, got %d", rows[0].QualityScore)
	}
	if rows[1].QualityScore != 5 {
		t.Errorf("out of bounds: expected score 5, got %d", rows[1].QualityScore)
	}
	if rows[2].QualityScore != 10 {
		t.Errorf("clean row: expected score 10, got %d", rows[2].QualityScore)
	}
}

// =============================================================================
// GRAIN AND JOIN TESTS
// =============================================================================

func TestFactEngine_DuplicateGrainKeepsLastLoadOrder(t *testing.T) {
	resolver, _ := openResolver(t, "tampa")
	e := zoriEngine(warehouse.QualityThresholds{})

	from := warehouse.NewTimePoint(2024, time.January, 1)
	to := warehouse.NewTimePoint(2024, time.December, 31)

	jan := warehouse.NewTimePoint(2024, time.January, 1)
	obs := []warehouse.Observation{
		{Source: warehouse.SourceZillowZori, BusinessKey: "tampa", PeriodStart: jan, Value: decimal.NewFromInt(1700)},
		{Source: warehouse.SourceZillowZori, BusinessKey: "tampa", PeriodStart: jan, Value: decimal.NewFromInt(1750)},
	}

	rows, res := e.Compute(obs, resolver, from, to, "batch-1", testLoadedAt)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row for duplicated grain, got %d", len(rows))
	}
	if !rows[0].Value.Equal(decimal.NewFromInt(1750)) {
		t.Errorf("expected later load order to win, got %v", rows[0].Value)
	}
	if res.RowsReplaced != 1 {
		t.Errorf("expected 1 replaced row counted, got %d", res.RowsReplaced)
	}
}

func TestFactEngine_UnjoinableDroppedAndCounted(t *testing.T) {
	// orlando has no dimension version: its observations are dropped and
	// counted, never written, and never allowed to skew tampa's series.
	resolver, sks := openResolver(t, "tampa")
	e := zoriEngine(warehouse.QualityThresholds{})

	from := warehouse.NewTimePoint(2024, time.January, 1)
	to := warehouse.NewTimePoint(2024, time.December, 31)

	obs := append(monthlySeries("tampa", 1700, 1710),
		monthlySeries("orlando", 1500, 1510)...)

	rows, res := e.Compute(obs, resolver, from, to, "batch-1", testLoadedAt)
	if len(rows) != 2 {
		t.Fatalf("expected 2 joinable rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.SurrogateKey != sks["tampa"] {
			t.Errorf("unexpected surrogate key %d", r.SurrogateKey)
		}
	}
	if res.RowsUnjoinable != 2 {
		t.Errorf("expected 2 unjoinable counted, got %d", res.RowsUnjoinable)
	}
}

func TestFactEngine_ProvenanceStamped(t *testing.T) {
	resolver, _ := openResolver(t, "tampa")
	e := zoriEngine(warehouse.QualityThresholds{})

	from := warehouse.NewTimePoint(2024, time.January, 1)
	to := warehouse.NewTimePoint(2024, time.December, 31)
	rows, _ := e.Compute(monthlySeries("tampa", 1700), resolver, from, to, "batch-42", testLoadedAt)

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].LoadBatchID != "batch-42" || !rows[0].LoadedAt.Equal(testLoadedAt) {
		t.Errorf("unexpected provenance: %+v", rows[0])
	}
}
