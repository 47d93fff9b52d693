// Package econ implements the economic-indicator domain over the generic
// warehouse engine: FRED time series become the economic_series dimension
// and indicator observations. A single source feeds this dimension, so the
// merge pass is trivial; the interesting part is deriving series metadata
// (category, seasonal adjustment) from the staged label with fixed rules.
package econ

import (
	"strings"

	"github.com/meridian/warehouse-engine/warehouse"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CANONICAL SERIES SHAPE
// =============================================================================

// Canonical economic-series attribute names, in hash order. Frozen: a
// reorder would re-hash (and re-version) every series.
const (
	AttrSeriesLabel        = "series_label"
	AttrCategory           = "category"
	AttrFrequency          = "frequency"
	AttrSeasonalAdjustment = "seasonal_adjustment"
)

// NewSeriesAttributes returns the canonical ordered field list, empty.
func NewSeriesAttributes() warehouse.Attributes {
	return warehouse.Attributes{
		{Name: AttrSeriesLabel},
		{Name: AttrCategory},
		{Name: AttrFrequency},
		{Name: AttrSeasonalAdjustment},
	}
}

// FRED staged column set.
const (
	fredColSeriesID   = "series_id"
	fredColLabel      = "label"
	fredColValue      = "value"
	fredColSourceFile = "s3_file_path"
)

// =============================================================================
// FRED NORMALIZER
// =============================================================================

// FredNormalizer maps staged FRED rows onto the canonical series shape and
// indicator observations. The series id is the business key as-is: FRED
// ids are already stable natural identifiers.
type FredNormalizer struct{}

func (FredNormalizer) Source() warehouse.SourceSystem { return warehouse.SourceFred }

func (FredNormalizer) Normalize(records []warehouse.RawRecord) warehouse.NormalizedBatch {
	var batch warehouse.NormalizedBatch
	seen := make(map[warehouse.BusinessKey]bool)

	for _, r := range records {
		seriesID := r.Get(fredColSeriesID)
		if seriesID == "" {
			batch.Malformed++
			continue
		}
		key := warehouse.BusinessKey(seriesID)
		label := r.Get(fredColLabel)

		if !seen[key] {
			seen[key] = true
			attrs := NewSeriesAttributes()
			attrs.Set(AttrSeriesLabel, label)
			attrs.Set(AttrCategory, categorize(seriesID, label))
			attrs.Set(AttrFrequency, "monthly")
			attrs.Set(AttrSeasonalAdjustment, seasonalAdjustment(seriesID, label))
			batch.Entities = append(batch.Entities, warehouse.StagedEntity{
				BusinessKey: key,
				Source:      warehouse.SourceFred,
				Attributes:  attrs,
			})
		}

		period, perr := warehouse.ParseTimePoint(r.Get(warehouse.RawPeriodColumn))
		value, verr := decimal.NewFromString(r.Get(fredColValue))
		if perr != nil || verr != nil {
			batch.Malformed++
			continue
		}
		batch.Observations = append(batch.Observations, warehouse.Observation{
			Source:      warehouse.SourceFred,
			BusinessKey: key,
			PeriodStart: period.StartOfMonth(),
			Value:       value,
			SeriesLabel: label,
			SourceFile:  r.Get(fredColSourceFile),
		})
	}
	return batch
}

// categorize buckets a series with fixed keyword rules. The rules are
// deliberately coarse: the category is descriptive metadata, not a join
// key.
func categorize(seriesID, label string) string {
	id := strings.ToUpper(seriesID)
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "rent"):
		return "housing"
	case strings.HasPrefix(id, "CU"), strings.Contains(l, "consumer price"):
		return "inflation"
	case strings.Contains(l, "unemployment"):
		return "labor"
	default:
		return "other"
	}
}

// seasonalAdjustment detects the adjustment flavor. FRED encodes it both
// in series ids (CUUR = NSA, CUSR = SA) and in labels.
func seasonalAdjustment(seriesID, label string) string {
	id := strings.ToUpper(seriesID)
	l := strings.ToLower(label)
	switch {
	case strings.HasPrefix(id, "CUSR"), strings.Contains(l, "seasonally adjusted") && !strings.Contains(l, "not seasonally adjusted"):
		return "SA"
	default:
		return "NSA"
	}
}

var _ warehouse.SourceNormalizer = FredNormalizer{}
