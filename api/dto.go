/*
dto.go - Request and response data structures for the warehouse API

PURPOSE:
  JSON shapes for the REST API, kept separate from domain types so the
  wire format can evolve without touching the engine. Dates cross the
  wire as "YYYY-MM-DD" strings, period keys as YYYYMM integers, and
  decimals as strings to avoid float drift in clients.

SEE ALSO:
  - handlers.go: Where these are populated
  - warehouse/types.go: Domain types these mirror
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/warehouse-engine/warehouse"
)

// =============================================================================
// REQUESTS
// =============================================================================

// RebuildTimeRequest asks for a wholesale rebuild of the time dimension.
type RebuildTimeRequest struct {
	StartPeriod int `json:"start_period"` // YYYYMM
	EndPeriod   int `json:"end_period"`   // YYYYMM
}

// DateRangeRequest carries an inclusive date range for fact computation
// and pipeline runs.
type DateRangeRequest struct {
	From string `json:"from"` // YYYY-MM-DD
	To   string `json:"to"`   // YYYY-MM-DD
}

// =============================================================================
// RESPONSES
// =============================================================================

// ErrorResponse is the standard error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RunResultDTO reports what a run did.
type RunResultDTO struct {
	RunID          string `json:"run_id"`
	Operation      string `json:"operation"`
	StartedAt      string `json:"started_at"`
	DurationMS     int64  `json:"duration_ms"`
	RowsProcessed  int    `json:"rows_processed"`
	RowsWritten    int    `json:"rows_written"`
	VersionsNew    int    `json:"versions_new"`
	VersionsClosed int    `json:"versions_closed"`
	RowsUnchanged  int    `json:"rows_unchanged"`
	RowsUnjoinable int    `json:"rows_unjoinable"`
	RowsMalformed  int    `json:"rows_malformed"`
	RowsReplaced   int    `json:"rows_replaced"`
	Anomalies      int    `json:"anomalies"`
	Status         string `json:"status"`
	Summary        string `json:"summary"`
}

func toRunResultDTO(r warehouse.RunResult) RunResultDTO {
	return RunResultDTO{
		RunID:          r.RunID,
		Operation:      r.Operation,
		StartedAt:      r.StartedAt.UTC().Format(time.RFC3339),
		DurationMS:     r.Duration.Milliseconds(),
		RowsProcessed:  r.RowsProcessed,
		RowsWritten:    r.RowsWritten,
		VersionsNew:    r.VersionsNew,
		VersionsClosed: r.VersionsClosed,
		RowsUnchanged:  r.RowsUnchanged,
		RowsUnjoinable: r.RowsUnjoinable,
		RowsMalformed:  r.RowsMalformed,
		RowsReplaced:   r.RowsReplaced,
		Anomalies:      r.Anomalies,
		Status:         r.Status,
		Summary:        r.Summarize(),
	}
}

// DimensionVersionDTO is one SCD Type 2 version row.
type DimensionVersionDTO struct {
	SurrogateKey  int64             `json:"surrogate_key"`
	BusinessKey   string            `json:"business_key"`
	Attributes    map[string]string `json:"attributes"`
	AttributeHash string            `json:"attribute_hash"`
	SourceSystems string            `json:"source_systems"`
	EffectiveDate string            `json:"effective_date"`
	EndDate       *string           `json:"end_date"`
	IsCurrent     bool              `json:"is_current"`
}

func toDimensionVersionDTO(v warehouse.DimensionVersion) DimensionVersionDTO {
	attrs := make(map[string]string, len(v.Attributes))
	for _, f := range v.Attributes {
		attrs[f.Name] = f.Value
	}
	dto := DimensionVersionDTO{
		SurrogateKey:  int64(v.SurrogateKey),
		BusinessKey:   string(v.BusinessKey),
		Attributes:    attrs,
		AttributeHash: string(v.AttributeHash),
		SourceSystems: v.SourceSystems,
		EffectiveDate: v.EffectiveDate.String(),
		IsCurrent:     v.IsCurrent,
	}
	if v.EndDate != nil {
		s := v.EndDate.String()
		dto.EndDate = &s
	}
	return dto
}

// TimePeriodDTO is one monthly calendar row.
type TimePeriodDTO struct {
	PeriodKey       int    `json:"period_key"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Year            int    `json:"year"`
	Quarter         int    `json:"quarter"`
	FiscalYear      int    `json:"fiscal_year"`
	Season          string `json:"season"`
	IsCurrentPeriod bool   `json:"is_current_period"`
	PeriodsAgo      int    `json:"periods_ago"`
}

func toTimePeriodDTO(p warehouse.TimePeriod) TimePeriodDTO {
	return TimePeriodDTO{
		PeriodKey:       int(p.PeriodKey),
		StartDate:       p.StartDate.String(),
		EndDate:         p.EndDate.String(),
		Year:            p.Year,
		Quarter:         p.Quarter,
		FiscalYear:      p.FiscalYear,
		Season:          p.Season,
		IsCurrentPeriod: p.IsCurrentPeriod,
		PeriodsAgo:      p.PeriodsAgo,
	}
}

// FactRowDTO is one computed fact row.
type FactRowDTO struct {
	PeriodKey       int     `json:"period_key"`
	SurrogateKey    int64   `json:"surrogate_key"`
	Source          string  `json:"source"`
	Value           string  `json:"value"`
	PeriodChange    *string `json:"period_change"`
	PeriodPctChange *string `json:"period_pct_change"`
	YearChange      *string `json:"year_change"`
	YearPctChange   *string `json:"year_pct_change"`
	QualityScore    int     `json:"quality_score"`
	HasAnomaly      bool    `json:"has_anomaly"`
	Population      int64   `json:"population,omitempty"`
	SeriesLabel     string  `json:"series_label,omitempty"`

	// Mart-layer classifiers, populated on rent fact types only.
	MarketSizeCategory string `json:"market_size_category,omitempty"`
	MarketTemperature  string `json:"market_temperature,omitempty"`

	LoadedAt    string `json:"loaded_at"`
	LoadBatchID string `json:"load_batch_id"`
	SourceFile  string `json:"source_file,omitempty"`
}

func toFactRowDTO(r warehouse.FactRow) FactRowDTO {
	return FactRowDTO{
		PeriodKey:       int(r.PeriodKey),
		SurrogateKey:    int64(r.SurrogateKey),
		Source:          string(r.Source),
		Value:           r.Value.String(),
		PeriodChange:    decStr(r.PeriodChange),
		PeriodPctChange: decStr(r.PeriodPctChange),
		YearChange:      decStr(r.YearChange),
		YearPctChange:   decStr(r.YearPctChange),
		QualityScore:    r.QualityScore,
		HasAnomaly:      r.HasAnomaly,
		Population:      r.Population,
		SeriesLabel:     r.SeriesLabel,
		LoadedAt:        r.LoadedAt.UTC().Format(time.RFC3339),
		LoadBatchID:     r.LoadBatchID,
		SourceFile:      r.SourceFile,
	}
}

func decStr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
