package warehouse_test

import (
	"strings"
	"testing"

	"github.com/meridian/warehouse-engine/warehouse"
)

// =============================================================================
// RUN RESULT TESTS
// =============================================================================

func TestRunResult_SummarizeReturnsStatus(t *testing.T) {
	// GIVEN: A result with counters across several categories
	// WHEN: Summarizing
	// THEN: The composed string is both stored in Status and returned, so
	// callers can use it as a value

	res := warehouse.RunResult{
		Operation:      "facts_rent_index",
		RowsProcessed:  10,
		RowsLookback:   12,
		RowsWritten:    8,
		RowsUnjoinable: 2,
		Anomalies:      1,
	}

	got := res.Summarize()
	if got == "" || got != res.Status {
		t.Fatalf("expected returned summary to equal Status, got %q vs %q", got, res.Status)
	}
	for _, want := range []string{
		"facts_rent_index: 10 rows processed",
		"12 lookback rows seeded",
		"8 rows written",
		"2 unjoinable dropped",
		"1 anomalies flagged",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected summary to contain %q, got %q", want, got)
		}
	}
}

func TestRunResult_SummarizeOmitsZeroCategories(t *testing.T) {
	res := warehouse.RunResult{Operation: "rebuild_time", RowsProcessed: 24, RowsWritten: 24}

	got := res.Summarize()
	for _, absent := range []string{"lookback", "unjoinable", "malformed", "anomalies"} {
		if strings.Contains(got, absent) {
			t.Errorf("expected %q omitted from %q", absent, got)
		}
	}
}

func TestRunResult_MergeFoldsCountersAndStatus(t *testing.T) {
	agg := warehouse.RunResult{Operation: "full_pipeline"}
	a := warehouse.RunResult{RowsProcessed: 3, RowsLookback: 2, RowsWritten: 3}
	a.Summarize()
	b := warehouse.RunResult{RowsProcessed: 4, VersionsNew: 1}
	b.Summarize()

	agg.Merge(a)
	agg.Merge(b)

	if agg.RowsProcessed != 7 || agg.RowsLookback != 2 || agg.RowsWritten != 3 || agg.VersionsNew != 1 {
		t.Errorf("unexpected merged counters: %+v", agg)
	}
	if !strings.Contains(agg.Status, " | ") {
		t.Errorf("expected sub-statuses joined, got %q", agg.Status)
	}
}
