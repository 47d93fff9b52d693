package warehouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/meridian/warehouse-engine/warehouse"
	"github.com/meridian/warehouse-engine/warehouse/store"
)

// seedVersionHistory builds tampa's two-version history the way the
// versioner would: v1 effective 2024-01-01, closed 2024-03-31; v2 current
// from 2024-04-01.
func seedVersionHistory(t *testing.T, mem *store.Memory) (v1, v2 warehouse.SurrogateKey) {
	t.Helper()
	ctx := context.Background()

	v1, err := mem.InsertVersion(ctx, warehouse.DimensionLocation, warehouse.DimensionVersion{
		BusinessKey:   "tampa",
		Attributes:    warehouse.Attributes{{Name: "pop", Value: "400000"}},
		EffectiveDate: warehouse.NewTimePoint(2024, time.January, 1),
	})
	if err != nil {
		t.Fatalf("seed v1: %v", err)
	}
	v2, err = mem.CloseAndInsert(ctx, warehouse.DimensionLocation, v1,
		warehouse.NewTimePoint(2024, time.March, 31), warehouse.DimensionVersion{
			BusinessKey:   "tampa",
			Attributes:    warehouse.Attributes{{Name: "pop", Value: "412000"}},
			EffectiveDate: warehouse.NewTimePoint(2024, time.April, 1),
		})
	if err != nil {
		t.Fatalf("seed v2: %v", err)
	}
	return v1, v2
}

func TestResolver_PicksVersionCoveringObservationDate(t *testing.T) {
	// GIVEN: Two versions of tampa split at 2024-04-01
	// WHEN: Resolving dates on both sides of the split
	// THEN: Each date lands on the version whose window contains it

	mem := store.NewMemory()
	v1, v2 := seedVersionHistory(t, mem)

	r, err := warehouse.NewResolver(context.Background(), mem, warehouse.DimensionLocation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		date string
		want warehouse.SurrogateKey
	}{
		{"2024-01-01", v1}, // effective date inclusive
		{"2024-02-15", v1},
		{"2024-03-31", v1}, // end date inclusive
		{"2024-04-01", v2},
		{"2025-01-01", v2}, // open-ended current
	}
	for _, c := range cases {
		d, _ := warehouse.ParseTimePoint(c.date)
		got, ok := r.Resolve("tampa", d)
		if !ok || got != c.want {
			t.Errorf("Resolve(tampa, %s) = (%d, %v), want %d", c.date, got, ok, c.want)
		}
	}
}

func TestResolver_UnjoinableOutcomes(t *testing.T) {
	mem := store.NewMemory()
	seedVersionHistory(t, mem)

	r, err := warehouse.NewResolver(context.Background(), mem, warehouse.DimensionLocation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Before any version existed.
	if _, ok := r.Resolve("tampa", warehouse.NewTimePoint(2023, time.December, 31)); ok {
		t.Error("expected unjoinable before first effective date")
	}
	// Unknown key.
	if _, ok := r.Resolve("atlantis", warehouse.NewTimePoint(2024, time.June, 1)); ok {
		t.Error("expected unjoinable for unknown key")
	}
}

func TestResolver_IntegrityFaultFailsBuild(t *testing.T) {
	// Two current versions for one key: the resolver refuses to build
	// rather than guess which key facts should join to.
	ctx := context.Background()
	mem := store.NewMemory()
	for i := 0; i < 2; i++ {
		if _, err := mem.InsertVersion(ctx, warehouse.DimensionLocation, warehouse.DimensionVersion{
			BusinessKey:   "tampa",
			EffectiveDate: warehouse.NewTimePoint(2024, time.January, 1),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	_, err := warehouse.NewResolver(ctx, mem, warehouse.DimensionLocation)
	if !warehouse.IsIntegrityFault(err) {
		t.Fatalf("expected integrity fault, got %v", err)
	}
}
