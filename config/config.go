/*
Package config provides YAML to engine threshold conversion.

PURPOSE:
  Converts YAML threshold definitions into per-source
  warehouse.QualityThresholds. This keeps bound and anomaly tuning out of
  engine logic - a data engineer can retune a source without code changes.

YAML SCHEMA:
  sources:
    zillow_zori:
      min_value: 500
      max_value: 8000
      anomaly_window: 6
      anomaly_k: 2.5
      required_fields:
        - name: source_file
          score: 2
    fred:
      min_value: 0.01
      max_value: 1000
      required_fields:
        - name: series_label
          score: 3

DEFAULTS:
  Defaults() reproduces the plausibility bounds of the upstream quality
  suite: ApartmentList rent index (0, 2000], ZORI [500, 8000], FRED CPI
  (0, 1000]. Load() starts from the defaults and overlays whatever the
  file supplies, per source.

SEE ALSO:
  - warehouse/facts.go: How the thresholds are applied
*/
package config

import (
	"fmt"
	"os"

	"github.com/meridian/warehouse-engine/warehouse"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// File is the top-level YAML document shape. Bounds are plain floats in
// the file and converted to decimals on load (yaml.v3 cannot decode into
// decimal.Decimal directly).
type File struct {
	Sources map[warehouse.SourceSystem]SourceYAML `yaml:"sources"`
}

// SourceYAML is one source's threshold block as written in the file.
type SourceYAML struct {
	MinValue       *float64                  `yaml:"min_value"`
	MaxValue       *float64                  `yaml:"max_value"`
	RequiredFields []warehouse.RequiredField `yaml:"required_fields"`
	AnomalyWindow  int                       `yaml:"anomaly_window"`
	AnomalyK       float64                   `yaml:"anomaly_k"`
}

func (s SourceYAML) thresholds() warehouse.QualityThresholds {
	t := warehouse.QualityThresholds{
		RequiredFields: s.RequiredFields,
		AnomalyWindow:  s.AnomalyWindow,
		AnomalyK:       s.AnomalyK,
	}
	if s.MinValue != nil {
		d := decimal.NewFromFloat(*s.MinValue)
		t.MinValue = &d
	}
	if s.MaxValue != nil {
		d := decimal.NewFromFloat(*s.MaxValue)
		t.MaxValue = &d
	}
	return t
}

// Defaults returns the compiled-in per-source thresholds.
func Defaults() map[warehouse.SourceSystem]warehouse.QualityThresholds {
	return map[warehouse.SourceSystem]warehouse.QualityThresholds{
		warehouse.SourceApartmentList: {
			MinValue: dec("0.01"),
			MaxValue: dec("2000"),
			RequiredFields: []warehouse.RequiredField{
				{Name: "population", Score: 4},
			},
			AnomalyWindow: 6,
			AnomalyK:      2.0,
		},
		warehouse.SourceZillowZori: {
			MinValue:      dec("500"),
			MaxValue:      dec("8000"),
			AnomalyWindow: 6,
			AnomalyK:      2.5,
		},
		warehouse.SourceFred: {
			MinValue: dec("0.01"),
			MaxValue: dec("1000"),
			RequiredFields: []warehouse.RequiredField{
				{Name: "series_label", Score: 3},
			},
			AnomalyWindow: 6,
			AnomalyK:      2.0,
		},
	}
}

// Load reads a YAML threshold file and overlays it onto the defaults.
// A missing path ("" or nonexistent file) returns the defaults unchanged.
func Load(path string) (map[warehouse.SourceSystem]warehouse.QualityThresholds, error) {
	out := Defaults()
	if path == "" {
		return out, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read thresholds %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse thresholds %s: %w", path, err)
	}
	for src, s := range f.Sources {
		out[src] = s.thresholds()
	}
	return out, nil
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// =============================================================================
// BUSINESS-RULE CHECKS
// =============================================================================

// Plausibility band for year-over-year percent change. A computed YoY
// outside this band signals an upstream data problem, not a market move.
var (
	YoYPctLowerBound = decimal.NewFromInt(-50)
	YoYPctUpperBound = decimal.NewFromInt(100)
)

// PlausibleYoYPct reports whether a year-over-year percent change falls
// within the business-rule band. Nil (insufficient history) is plausible.
func PlausibleYoYPct(pct *decimal.Decimal) bool {
	if pct == nil {
		return true
	}
	return pct.GreaterThanOrEqual(YoYPctLowerBound) && pct.LessThanOrEqual(YoYPctUpperBound)
}
