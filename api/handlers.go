/*
handlers.go - HTTP API handlers for the warehouse engine

PURPOSE:
  Exposes the dimensional warehouse engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine and
  stores.

ENDPOINTS:
  Time dimension:
    POST   /api/time/rebuild             Rebuild the monthly calendar
    GET    /api/time                     List calendar rows

  Dimensions:
    POST   /api/dimensions/{type}/version  Run SCD Type 2 versioning
    GET    /api/dimensions/{type}/versions List version rows

  Facts:
    POST   /api/facts/{type}/compute     Recompute facts for a date range
    GET    /api/facts/{type}             List fact rows for a date range

  Pipeline:
    POST   /api/pipeline/run             Full rebuild (time, dims, facts)

  Operations:
    GET    /api/runs                     Run history
    GET    /api/health                   Liveness probe

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid ranges, unknown dimension/fact types, bad input
  - 409: Dimension integrity faults (more than one current version)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - warehouse/runner.go: The operations these expose
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/warehouse-engine/rent"
	"github.com/meridian/warehouse-engine/warehouse"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *warehouse.Engine
	Store  warehouse.Store
}

// NewHandler creates a new handler around the engine and its store.
func NewHandler(engine *warehouse.Engine, store warehouse.Store) *Handler {
	return &Handler{Engine: engine, Store: store}
}

// =============================================================================
// TIME DIMENSION
// =============================================================================

// RebuildTime rebuilds the time dimension for a period-key range.
// POST /api/time/rebuild
func (h *Handler) RebuildTime(w http.ResponseWriter, r *http.Request) {
	var req RebuildTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Engine.RebuildTimeDimension(r.Context(),
		warehouse.PeriodKey(req.StartPeriod), warehouse.PeriodKey(req.EndPeriod))
	if err != nil {
		writeEngineError(w, "Failed to rebuild time dimension", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResultDTO(result))
}

// ListTimePeriods returns all calendar rows.
// GET /api/time
func (h *Handler) ListTimePeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Store.TimePeriods(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list time periods", err)
		return
	}

	dtos := make([]TimePeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toTimePeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DIMENSIONS
// =============================================================================

// VersionDimension runs SCD Type 2 versioning for one dimension type.
// POST /api/dimensions/{type}/version
func (h *Handler) VersionDimension(w http.ResponseWriter, r *http.Request) {
	dt := warehouse.DimensionType(chi.URLParam(r, "type"))

	result, err := h.Engine.VersionDimension(r.Context(), dt)
	if err != nil {
		writeEngineError(w, "Failed to version dimension", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResultDTO(result))
}

// ListVersions returns version rows for one dimension type. Pass
// ?current=true for current versions only.
// GET /api/dimensions/{type}/versions
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	dt := warehouse.DimensionType(chi.URLParam(r, "type"))

	var (
		versions []warehouse.DimensionVersion
		err      error
	)
	if r.URL.Query().Get("current") == "true" {
		versions, err = h.Store.CurrentVersions(r.Context(), dt)
	} else {
		versions, err = h.Store.AllVersions(r.Context(), dt)
	}
	if err != nil {
		writeEngineError(w, "Failed to list versions", err)
		return
	}

	dtos := make([]DimensionVersionDTO, len(versions))
	for i, v := range versions {
		dtos[i] = toDimensionVersionDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// FACTS
// =============================================================================

// ComputeFacts recomputes facts of one type over an inclusive date range.
// POST /api/facts/{type}/compute
func (h *Handler) ComputeFacts(w http.ResponseWriter, r *http.Request) {
	ft := warehouse.FactType(chi.URLParam(r, "type"))

	from, to, ok := decodeDateRange(w, r)
	if !ok {
		return
	}

	result, err := h.Engine.ComputeFacts(r.Context(), ft, from, to)
	if err != nil {
		writeEngineError(w, "Failed to compute facts", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResultDTO(result))
}

// ListFacts returns fact rows of one type for a date range.
// GET /api/facts/{type}?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) ListFacts(w http.ResponseWriter, r *http.Request) {
	ft := warehouse.FactType(chi.URLParam(r, "type"))

	from, err := warehouse.ParseTimePoint(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	to, err := warehouse.ParseTimePoint(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}

	facts, err := h.Store.Facts(r.Context(), ft, from, to)
	if err != nil {
		writeEngineError(w, "Failed to list facts", err)
		return
	}

	rentFacts := ft == warehouse.FactRentIndex || ft == warehouse.FactRentListings
	dtos := make([]FactRowDTO, len(facts))
	for i, f := range facts {
		dtos[i] = toFactRowDTO(f)
		if rentFacts {
			dtos[i].MarketSizeCategory = rent.MarketSizeCategory(f.Population)
			dtos[i].MarketTemperature = rent.MarketTemperature(f.YearPctChange)
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PIPELINE
// =============================================================================

// RunPipeline runs the full rebuild: time dimension, all dimensions, all
// fact types.
// POST /api/pipeline/run
func (h *Handler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	from, to, ok := decodeDateRange(w, r)
	if !ok {
		return
	}

	result, err := h.Engine.RunFullPipeline(r.Context(), from, to)
	if err != nil {
		writeEngineError(w, "Pipeline run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResultDTO(result))
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ListRuns returns run history, newest first.
// GET /api/runs?limit=N
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunResultDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunResultDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health is the liveness probe.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeDateRange(w http.ResponseWriter, r *http.Request) (warehouse.TimePoint, warehouse.TimePoint, bool) {
	var req DateRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return warehouse.TimePoint{}, warehouse.TimePoint{}, false
	}
	from, err := warehouse.ParseTimePoint(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return warehouse.TimePoint{}, warehouse.TimePoint{}, false
	}
	to, err := warehouse.ParseTimePoint(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return warehouse.TimePoint{}, warehouse.TimePoint{}, false
	}
	return from, to, true
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case warehouse.IsIntegrityFault(err):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, warehouse.ErrInvalidPeriodRange),
		errors.Is(err, warehouse.ErrUnknownDimensionType),
		errors.Is(err, warehouse.ErrUnknownFactType):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
