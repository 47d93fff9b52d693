package rent_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/warehouse-engine/rent"
	"github.com/meridian/warehouse-engine/warehouse"
)

// =============================================================================
// APARTMENTLIST
// =============================================================================

func aptRow(month string) warehouse.RawRecord {
	return warehouse.RawRecord{
		"location_fips_code": "1245300",
		"location_name":      "Tampa",
		"location_type":      "msa",
		"state":              "Florida",
		"county":             "Hillsborough",
		"metro":              "Tampa-St. Petersburg",
		"month":              month,
		"rent_index":         "1689.50",
		"population":         "403364",
		"s3_file_path":       "s3://staging/aptlist.csv",
	}
}

func TestApartmentListNormalizer_CanonicalShape(t *testing.T) {
	batch := rent.ApartmentListNormalizer{}.Normalize([]warehouse.RawRecord{aptRow("2024-01-01")})

	require.Len(t, batch.Entities, 1)
	e := batch.Entities[0]
	assert.Equal(t, rent.LocationKey("Tampa", "Florida", "msa"), e.BusinessKey)
	assert.Equal(t, warehouse.SourceApartmentList, e.Source)
	assert.Equal(t, "Tampa", e.Attributes.Get(rent.AttrLocationName))
	assert.Equal(t, "1245300", e.Attributes.Get(rent.AttrFipsCode))
	assert.Equal(t, "403364", e.Attributes.Get(rent.AttrPopulation))
	// Fields this source never supplies stay empty, keeping the hash shape
	// aligned with ZORI for the cross-source merge.
	assert.Equal(t, "", e.Attributes.Get(rent.AttrRegionID))
	assert.Equal(t, "", e.Attributes.Get(rent.AttrSizeRank))

	require.Len(t, batch.Observations, 1)
	o := batch.Observations[0]
	assert.Equal(t, e.BusinessKey, o.BusinessKey)
	assert.True(t, o.Value.Equal(decimal.RequireFromString("1689.50")))
	assert.Equal(t, int64(403364), o.Population)
	assert.Equal(t, "s3://staging/aptlist.csv", o.SourceFile)
	assert.Equal(t, 0, batch.Malformed)
}

func TestApartmentListNormalizer_DedupesEntitiesAcrossMonths(t *testing.T) {
	batch := rent.ApartmentListNormalizer{}.Normalize([]warehouse.RawRecord{
		aptRow("2024-01-01"),
		aptRow("2024-02-01"),
		aptRow("2024-03-01"),
	})
	assert.Len(t, batch.Entities, 1, "one entity per market, not per month")
	assert.Len(t, batch.Observations, 3)
}

func TestApartmentListNormalizer_PeriodsTruncateToMonthStart(t *testing.T) {
	batch := rent.ApartmentListNormalizer{}.Normalize([]warehouse.RawRecord{aptRow("2024-01-17")})
	require.Len(t, batch.Observations, 1)
	assert.True(t, batch.Observations[0].PeriodStart.Equal(warehouse.NewTimePoint(2024, time.January, 1)))
}

func TestApartmentListNormalizer_Malformed(t *testing.T) {
	missingIdentity := aptRow("2024-01-01")
	missingIdentity["location_name"] = ""

	badValue := aptRow("2024-01-01")
	badValue["rent_index"] = "n/a"

	badPeriod := aptRow("not-a-date")

	batch := rent.ApartmentListNormalizer{}.Normalize([]warehouse.RawRecord{
		missingIdentity, badValue, badPeriod,
	})

	assert.Equal(t, 3, batch.Malformed)
	assert.Empty(t, batch.Observations)
	// Rows with identity but a bad measure still describe the entity.
	assert.Len(t, batch.Entities, 1)
}

// =============================================================================
// ZILLOW ZORI
// =============================================================================

func zoriRow(month string) warehouse.RawRecord {
	return warehouse.RawRecord{
		"regionid":     "394514",
		"sizerank":     "19",
		"metro":        "Tampa",
		"region_type":  "msa",
		"state_name":   "Florida",
		"month":        month,
		"zori":         "1712.30",
		"s3_file_path": "s3://staging/zori.csv",
	}
}

func TestZoriNormalizer_CanonicalShape(t *testing.T) {
	batch := rent.ZoriNormalizer{}.Normalize([]warehouse.RawRecord{zoriRow("2024-01-01")})

	require.Len(t, batch.Entities, 1)
	e := batch.Entities[0]
	assert.Equal(t, rent.LocationKey("Tampa", "Florida", "msa"), e.BusinessKey)
	assert.Equal(t, warehouse.SourceZillowZori, e.Source)
	assert.Equal(t, "394514", e.Attributes.Get(rent.AttrRegionID))
	assert.Equal(t, "19", e.Attributes.Get(rent.AttrSizeRank))
	assert.Equal(t, "", e.Attributes.Get(rent.AttrFipsCode))
	assert.Equal(t, "", e.Attributes.Get(rent.AttrPopulation))

	require.Len(t, batch.Observations, 1)
	o := batch.Observations[0]
	assert.True(t, o.Value.Equal(decimal.RequireFromString("1712.30")))
	assert.Zero(t, o.Population, "ZORI carries no population")
}

func TestZoriNormalizer_SharesKeysWithApartmentList(t *testing.T) {
	// The whole point of the canonical key: the same metro staged by both
	// sources must land on one dimension member.
	apt := rent.ApartmentListNormalizer{}.Normalize([]warehouse.RawRecord{aptRow("2024-01-01")})
	zori := rent.ZoriNormalizer{}.Normalize([]warehouse.RawRecord{zoriRow("2024-01-01")})

	require.Len(t, apt.Entities, 1)
	require.Len(t, zori.Entities, 1)
	assert.Equal(t, apt.Entities[0].BusinessKey, zori.Entities[0].BusinessKey)
}

func TestZoriNormalizer_Malformed(t *testing.T) {
	noMetro := zoriRow("2024-01-01")
	noMetro["metro"] = ""

	badValue := zoriRow("2024-02-01")
	badValue["zori"] = ""

	batch := rent.ZoriNormalizer{}.Normalize([]warehouse.RawRecord{noMetro, badValue, zoriRow("2024-03-01")})
	assert.Equal(t, 2, batch.Malformed)
	assert.Len(t, batch.Observations, 1)
}
