/*
Package rent implements the rental-market domain over the generic warehouse
engine.

PURPOSE:
  Maps the two staged rent sources onto the canonical location dimension
  shape and rent observations:
  - ApartmentList: per-location rent estimates with FIPS codes, population,
    and county/metro hierarchy
  - Zillow ZORI: metro-level rent index with region ids and size ranks

  Both normalizers emit the SAME ordered attribute shape, so the engine's
  cross-source merge is a per-field first-non-null pass. ApartmentList
  outranks ZORI in the merge (it carries FIPS and population).

BUSINESS KEY:
  Locations are keyed by slug(name) | slug(state) | type. Source-native ids
  (FIPS, Zillow region id) are attributes, not key parts: they differ per
  source and would defeat cross-source merging of the same market.

CLASSIFIERS:
  Market size category and market temperature are presentation-side
  derivations from fact measures, exposed here so every consumer buckets
  the same way.

SEE ALSO:
  - normalizer.go: The two source normalizers
  - econ/: The sibling economic-indicator domain
*/
package rent

import (
	"strings"

	"github.com/meridian/warehouse-engine/warehouse"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CANONICAL LOCATION SHAPE
// =============================================================================

// Canonical location attribute names, in hash order. Every normalizer in
// this package emits exactly this field list; unsupplied values stay "".
const (
	AttrLocationName = "location_name"
	AttrLocationType = "location_type"
	AttrStateName    = "state_name"
	AttrCounty       = "county"
	AttrMetro        = "metro"
	AttrFipsCode     = "fips_code"
	AttrRegionID     = "region_id"
	AttrSizeRank     = "size_rank"
	AttrPopulation   = "population"
)

// NewLocationAttributes returns the canonical ordered field list with every
// value empty. Changing this order changes every location hash; treat it
// as frozen.
func NewLocationAttributes() warehouse.Attributes {
	return warehouse.Attributes{
		{Name: AttrLocationName},
		{Name: AttrLocationType},
		{Name: AttrStateName},
		{Name: AttrCounty},
		{Name: AttrMetro},
		{Name: AttrFipsCode},
		{Name: AttrRegionID},
		{Name: AttrSizeRank},
		{Name: AttrPopulation},
	}
}

// LocationKey builds the location business key from identifying fields.
// Stable across sources and runs; independent of any version.
func LocationKey(name, state, locType string) warehouse.BusinessKey {
	return warehouse.BusinessKey(slug(name) + "|" + slug(state) + "|" + slug(locType))
}

// slug lowercases and collapses everything outside [a-z0-9] into single
// hyphens, so "Tampa, FL" and "tampa fl" key identically.
func slug(s string) string {
	var b strings.Builder
	prevHyphen := true // trims leading hyphens
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// =============================================================================
// MARKET CLASSIFIERS
// =============================================================================

// MarketSizeCategory buckets a market by population.
func MarketSizeCategory(population int64) string {
	switch {
	case population >= 5_000_000:
		return "Major Metro (5M+)"
	case population >= 1_000_000:
		return "Large Metro (1M-5M)"
	case population >= 250_000:
		return "Medium Metro (250K-1M)"
	case population > 0:
		return "Small Metro (<250K)"
	default:
		return "Unknown"
	}
}

// MarketTemperature buckets a market by year-over-year rent growth.
// A nil growth (insufficient history) is Unknown.
func MarketTemperature(yoyPct *decimal.Decimal) string {
	if yoyPct == nil {
		return "Unknown"
	}
	v := yoyPct.InexactFloat64()
	switch {
	case v >= 10:
		return "Very Hot"
	case v >= 5:
		return "Hot"
	case v >= 2:
		return "Warm"
	case v >= 0:
		return "Cool"
	default:
		return "Cold"
	}
}
