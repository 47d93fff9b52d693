package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/warehouse-engine/api"
	"github.com/meridian/warehouse-engine/econ"
	"github.com/meridian/warehouse-engine/rent"
	"github.com/meridian/warehouse-engine/warehouse"
	"github.com/meridian/warehouse-engine/warehouse/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (http.Handler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := warehouse.NewEngine(mem, []warehouse.SourceNormalizer{
		rent.ApartmentListNormalizer{},
		rent.ZoriNormalizer{},
		econ.FredNormalizer{},
	}, nil)
	engine.Now = func() time.Time { return time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC) }
	return api.NewRouter(api.NewHandler(engine, mem), nil), mem
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// =============================================================================
// TIME DIMENSION
// =============================================================================

func TestRebuildTimeEndpoint(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/time/rebuild",
		api.RebuildTimeRequest{StartPeriod: 202401, EndPeriod: 202412})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[api.RunResultDTO](t, rec)
	assert.Equal(t, "rebuild_time", result.Operation)
	assert.Equal(t, 12, result.RowsWritten)
	assert.NotEmpty(t, result.RunID)
	assert.Contains(t, result.Summary, "rebuild_time: 12 rows processed")

	rec = doJSON(t, h, http.MethodGet, "/api/time", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	periods := decode[[]api.TimePeriodDTO](t, rec)
	require.Len(t, periods, 12)
	assert.Equal(t, 202401, periods[0].PeriodKey)
	assert.True(t, periods[0].IsCurrentPeriod)
}

func TestRebuildTimeEndpoint_InvalidRange(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/time/rebuild",
		api.RebuildTimeRequest{StartPeriod: 202412, EndPeriod: 202401})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error)
}

func TestRebuildTimeEndpoint_MalformedBody(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/time/rebuild", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// DIMENSIONS
// =============================================================================

func TestVersionDimensionEndpoint(t *testing.T) {
	h, mem := newTestServer(t)
	require.NoError(t, mem.AppendRawRecords(context.Background(), warehouse.SourceZillowZori, []warehouse.RawRecord{
		{
			"regionid": "394514", "sizerank": "19", "metro": "Tampa",
			"region_type": "msa", "state_name": "Florida",
			"month": "2024-01-01", "zori": "1712.30",
		},
	}))

	rec := doJSON(t, h, http.MethodPost, "/api/dimensions/location/version", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[api.RunResultDTO](t, rec)
	assert.Equal(t, 1, result.VersionsNew)

	rec = doJSON(t, h, http.MethodGet, "/api/dimensions/location/versions?current=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	versions := decode[[]api.DimensionVersionDTO](t, rec)
	require.Len(t, versions, 1)
	assert.True(t, versions[0].IsCurrent)
	assert.Nil(t, versions[0].EndDate)
	assert.Equal(t, "Tampa", versions[0].Attributes["location_name"])
	assert.Equal(t, "2024-01-01", versions[0].EffectiveDate)
}

func TestVersionDimensionEndpoint_UnknownType(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/dimensions/bogus/version", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// FACTS
// =============================================================================

func TestComputeFactsEndpoint(t *testing.T) {
	h, mem := newTestServer(t)
	require.NoError(t, mem.AppendRawRecords(context.Background(), warehouse.SourceZillowZori, []warehouse.RawRecord{
		{
			"regionid": "394514", "sizerank": "19", "metro": "Tampa",
			"region_type": "msa", "state_name": "Florida",
			"month": "2024-01-01", "zori": "1700",
		},
		{
			"regionid": "394514", "sizerank": "19", "metro": "Tampa",
			"region_type": "msa", "state_name": "Florida",
			"month": "2024-02-01", "zori": "1710",
		},
	}))
	rec := doJSON(t, h, http.MethodPost, "/api/dimensions/location/version", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/facts/rent_index/compute",
		api.DateRangeRequest{From: "2024-01-01", To: "2024-03-31"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[api.RunResultDTO](t, rec)
	assert.Equal(t, 2, result.RowsWritten)

	rec = doJSON(t, h, http.MethodGet, "/api/facts/rent_index?from=2024-01-01&to=2024-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	facts := decode[[]api.FactRowDTO](t, rec)
	require.Len(t, facts, 2)
	assert.Equal(t, "1700", facts[0].Value)
	require.NotNil(t, facts[1].PeriodChange)
	assert.Equal(t, "10", *facts[1].PeriodChange)
	assert.Nil(t, facts[0].PeriodChange)
	// Mart classifiers ride along on rent facts; ZORI has neither
	// population nor a year of history here.
	assert.Equal(t, "Unknown", facts[0].MarketSizeCategory)
	assert.Equal(t, "Unknown", facts[0].MarketTemperature)
}

func TestComputeFactsEndpoint_InvalidRange(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/facts/rent_index/compute",
		api.DateRangeRequest{From: "2024-03-01", To: "2024-01-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListFactsEndpoint_RequiresRange(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/facts/rent_index", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PIPELINE AND OPERATIONS
// =============================================================================

func TestRunPipelineEndpoint(t *testing.T) {
	h, mem := newTestServer(t)
	require.NoError(t, mem.AppendRawRecords(context.Background(), warehouse.SourceFred, []warehouse.RawRecord{
		{"series_id": "UNRATE", "label": "Unemployment Rate", "month": "2024-01-01", "value": "3.7"},
	}))

	rec := doJSON(t, h, http.MethodPost, "/api/pipeline/run",
		api.DateRangeRequest{From: "2024-01-01", To: "2024-03-31"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[api.RunResultDTO](t, rec)
	assert.Equal(t, "full_pipeline", result.Operation)
	assert.NotZero(t, result.RowsWritten)
}

func TestListRunsEndpoint(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/time/rebuild",
		api.RebuildTimeRequest{StartPeriod: 202401, EndPeriod: 202403})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]api.RunResultDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "rebuild_time", runs[0].Operation)

	rec = doJSON(t, h, http.MethodGet, "/api/runs?limit=zap", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[api.HealthResponse](t, rec).Status)
}
