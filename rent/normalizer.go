package rent

import (
	"strconv"

	"github.com/meridian/warehouse-engine/warehouse"
	"github.com/shopspring/decimal"
)

// =============================================================================
// APARTMENTLIST NORMALIZER
// =============================================================================

// ApartmentList staged column set (long format, as landed by the scraper).
const (
	aptColFips       = "location_fips_code"
	aptColName       = "location_name"
	aptColType       = "location_type"
	aptColState      = "state"
	aptColCounty     = "county"
	aptColMetro      = "metro"
	aptColRentIndex  = "rent_index"
	aptColPopulation = "population"
	aptColSourceFile = "s3_file_path"
)

// ApartmentListNormalizer maps staged ApartmentList rows onto the canonical
// location shape and rent observations.
type ApartmentListNormalizer struct{}

func (ApartmentListNormalizer) Source() warehouse.SourceSystem { return warehouse.SourceApartmentList }

func (ApartmentListNormalizer) Normalize(records []warehouse.RawRecord) warehouse.NormalizedBatch {
	var batch warehouse.NormalizedBatch
	seen := make(map[warehouse.BusinessKey]bool)

	for _, r := range records {
		name := r.Get(aptColName)
		locType := r.Get(aptColType)
		state := r.Get(aptColState)
		if name == "" || locType == "" {
			// No usable identity at all: excluded from both dimension
			// merge and fact computation.
			batch.Malformed++
			continue
		}
		key := LocationKey(name, state, locType)

		if !seen[key] {
			seen[key] = true
			attrs := NewLocationAttributes()
			attrs.Set(AttrLocationName, name)
			attrs.Set(AttrLocationType, locType)
			attrs.Set(AttrStateName, state)
			attrs.Set(AttrCounty, r.Get(aptColCounty))
			attrs.Set(AttrMetro, r.Get(aptColMetro))
			attrs.Set(AttrFipsCode, r.Get(aptColFips))
			attrs.Set(AttrPopulation, r.Get(aptColPopulation))
			batch.Entities = append(batch.Entities, warehouse.StagedEntity{
				BusinessKey: key,
				Source:      warehouse.SourceApartmentList,
				Attributes:  attrs,
			})
		}

		period, perr := warehouse.ParseTimePoint(r.Get(warehouse.RawPeriodColumn))
		value, verr := decimal.NewFromString(r.Get(aptColRentIndex))
		if perr != nil || verr != nil {
			batch.Malformed++
			continue
		}
		population, _ := strconv.ParseInt(r.Get(aptColPopulation), 10, 64)
		batch.Observations = append(batch.Observations, warehouse.Observation{
			Source:      warehouse.SourceApartmentList,
			BusinessKey: key,
			PeriodStart: period.StartOfMonth(),
			Value:       value,
			Population:  population,
			SourceFile:  r.Get(aptColSourceFile),
		})
	}
	return batch
}

// =============================================================================
// ZILLOW ZORI NORMALIZER
// =============================================================================

// Zillow ZORI staged column set (metro long format).
const (
	zoriColRegionID   = "regionid"
	zoriColSizeRank   = "sizerank"
	zoriColMetro      = "metro"
	zoriColRegionType = "region_type"
	zoriColStateName  = "state_name"
	zoriColValue      = "zori"
	zoriColSourceFile = "s3_file_path"
)

// ZoriNormalizer maps staged Zillow ZORI rows onto the canonical location
// shape and rent-index observations.
type ZoriNormalizer struct{}

func (ZoriNormalizer) Source() warehouse.SourceSystem { return warehouse.SourceZillowZori }

func (ZoriNormalizer) Normalize(records []warehouse.RawRecord) warehouse.NormalizedBatch {
	var batch warehouse.NormalizedBatch
	seen := make(map[warehouse.BusinessKey]bool)

	for _, r := range records {
		name := r.Get(zoriColMetro)
		regionType := r.Get(zoriColRegionType)
		state := r.Get(zoriColStateName)
		if name == "" || regionType == "" {
			batch.Malformed++
			continue
		}
		key := LocationKey(name, state, regionType)

		if !seen[key] {
			seen[key] = true
			attrs := NewLocationAttributes()
			attrs.Set(AttrLocationName, name)
			attrs.Set(AttrLocationType, regionType)
			attrs.Set(AttrStateName, state)
			attrs.Set(AttrMetro, name)
			attrs.Set(AttrRegionID, r.Get(zoriColRegionID))
			attrs.Set(AttrSizeRank, r.Get(zoriColSizeRank))
			batch.Entities = append(batch.Entities, warehouse.StagedEntity{
				BusinessKey: key,
				Source:      warehouse.SourceZillowZori,
				Attributes:  attrs,
			})
		}

		period, perr := warehouse.ParseTimePoint(r.Get(warehouse.RawPeriodColumn))
		value, verr := decimal.NewFromString(r.Get(zoriColValue))
		if perr != nil || verr != nil {
			batch.Malformed++
			continue
		}
		batch.Observations = append(batch.Observations, warehouse.Observation{
			Source:      warehouse.SourceZillowZori,
			BusinessKey: key,
			PeriodStart: period.StartOfMonth(),
			Value:       value,
			SourceFile:  r.Get(zoriColSourceFile),
		})
	}
	return batch
}

// Compile-time interface checks.
var (
	_ warehouse.SourceNormalizer = ApartmentListNormalizer{}
	_ warehouse.SourceNormalizer = ZoriNormalizer{}
)
