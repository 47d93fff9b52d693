/*
Package sqlite provides a SQLite-backed implementation of the warehouse
storage interfaces.

PURPOSE:
  Implements warehouse.Store (staging, dimensions, time, facts, runs)
  using SQLite. In production with PostgreSQL the same patterns apply -
  see store/postgres for the pgx implementation.

TABLE LAYOUT (one table per dimension type and per fact type):
  staged_records:       Flat per-source staged rows (record JSON + period)
  dim_location:         SCD Type 2 location versions
  dim_economic_series:  SCD Type 2 economic series versions
  dim_time:             Monthly calendar dimension (wholesale rebuilt)
  dim_data_source:      Static source reference rows, seeded on migrate
  fact_rent_index,
  fact_rent_listings,
  fact_economic_indicator: Fact rows at (version, period, source) grain
  engine_runs:          Run result history

SOFT-CLOSE ENFORCEMENT:
  Dimension tables see INSERT and the close UPDATE only - no DELETE
  statements exist for them. CloseAndInsert wraps both statements in one
  SQL transaction so readers never observe a torn transition; the same
  transaction discipline covers ReplaceFacts (range delete + inserts) and
  ReplaceTimePeriods.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so rebuild transactions
  do not block readers.

USAGE:
  st, err := sqlite.New("./data/warehouse.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  engine := warehouse.NewEngine(st, normalizers, thresholds)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - warehouse/store.go: Interface definitions
  - warehouse/store/memory.go: In-memory implementation for testing
  - store/postgres: pgx implementation of the same interfaces
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian/warehouse-engine/warehouse"
)

// Store implements warehouse.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite: %w", warehouse.ErrStoreRequired)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// SCHEMA
// =============================================================================

func dimensionTable(dt warehouse.DimensionType) (string, error) {
	switch dt {
	case warehouse.DimensionLocation:
		return "dim_location", nil
	case warehouse.DimensionEconomicSeries:
		return "dim_economic_series", nil
	default:
		return "", fmt.Errorf("%w: %s", warehouse.ErrUnknownDimensionType, dt)
	}
}

func factTable(ft warehouse.FactType) (string, error) {
	switch ft {
	case warehouse.FactRentIndex:
		return "fact_rent_index", nil
	case warehouse.FactRentListings:
		return "fact_rent_listings", nil
	case warehouse.FactEconomicIndicator:
		return "fact_economic_indicator", nil
	default:
		return "", fmt.Errorf("%w: %s", warehouse.ErrUnknownFactType, ft)
	}
}

const dimensionColumns = `(
	surrogate_key INTEGER PRIMARY KEY AUTOINCREMENT,
	business_key TEXT NOT NULL,
	attributes_json TEXT NOT NULL,
	attribute_hash TEXT NOT NULL,
	source_systems TEXT NOT NULL DEFAULT '',
	effective_date TEXT NOT NULL,
	end_date TEXT,
	is_current INTEGER NOT NULL
)`

const factColumns = `(
	period_key INTEGER NOT NULL,
	surrogate_key INTEGER NOT NULL,
	source TEXT NOT NULL,
	value TEXT NOT NULL,
	period_change TEXT,
	period_pct_change TEXT,
	year_change TEXT,
	year_pct_change TEXT,
	quality_score INTEGER NOT NULL,
	has_anomaly INTEGER NOT NULL,
	population INTEGER NOT NULL DEFAULT 0,
	series_label TEXT NOT NULL DEFAULT '',
	loaded_at TEXT NOT NULL,
	load_batch_id TEXT NOT NULL DEFAULT '',
	source_file TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (surrogate_key, period_key, source)
)`

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Staged rows landed by external loaders (read-only to the engine)
	CREATE TABLE IF NOT EXISTS staged_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		period_start TEXT,
		record_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_staged_source_period
		ON staged_records(source, period_start);

	CREATE TABLE IF NOT EXISTS dim_time (
		period_key INTEGER PRIMARY KEY,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		year INTEGER NOT NULL,
		quarter INTEGER NOT NULL,
		fiscal_year INTEGER NOT NULL,
		season TEXT NOT NULL,
		is_current_period INTEGER NOT NULL,
		periods_ago INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dim_data_source (
		source TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data_type TEXT NOT NULL,
		reliability_score INTEGER NOT NULL,
		update_cadence TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS engine_runs (
		run_id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		rows_processed INTEGER NOT NULL,
		rows_written INTEGER NOT NULL,
		versions_new INTEGER NOT NULL,
		versions_closed INTEGER NOT NULL,
		rows_unchanged INTEGER NOT NULL,
		rows_unjoinable INTEGER NOT NULL,
		rows_malformed INTEGER NOT NULL,
		rows_replaced INTEGER NOT NULL,
		anomalies INTEGER NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON engine_runs(started_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	for _, dt := range []warehouse.DimensionType{warehouse.DimensionLocation, warehouse.DimensionEconomicSeries} {
		table, _ := dimensionTable(dt)
		stmts := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s %[2]s;
		CREATE INDEX IF NOT EXISTS idx_%[1]s_key ON %[1]s(business_key);
		-- Hot path: the versioner's current index and resolver builds
		CREATE INDEX IF NOT EXISTS idx_%[1]s_current ON %[1]s(is_current) WHERE is_current = 1;
		`, table, dimensionColumns)
		if _, err := s.db.Exec(stmts); err != nil {
			return err
		}
	}

	for _, ft := range []warehouse.FactType{warehouse.FactRentIndex, warehouse.FactRentListings, warehouse.FactEconomicIndicator} {
		table, _ := factTable(ft)
		stmts := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s %[2]s;
		CREATE INDEX IF NOT EXISTS idx_%[1]s_period ON %[1]s(period_key);
		`, table, factColumns)
		if _, err := s.db.Exec(stmts); err != nil {
			return err
		}
	}

	return s.seedDataSources()
}

func (s *Store) seedDataSources() error {
	for _, ds := range warehouse.KnownDataSources() {
		_, err := s.db.Exec(`
			INSERT INTO dim_data_source (source, name, data_type, reliability_score, update_cadence)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(source) DO UPDATE SET
				name = excluded.name,
				data_type = excluded.data_type,
				reliability_score = excluded.reliability_score,
				update_cadence = excluded.update_cadence`,
			string(ds.Source), ds.Name, ds.DataType, ds.ReliabilityScore, ds.UpdateCadence)
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// STAGING
// =============================================================================

// AppendRawRecords lands staged rows for a source. Used by loaders and
// tests; not part of the engine-facing interface.
func (s *Store) AppendRawRecords(ctx context.Context, source warehouse.SourceSystem, records []warehouse.RawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range records {
		blob, err := json.Marshal(r)
		if err != nil {
			return err
		}
		var period sql.NullString
		if tp, perr := warehouse.ParseTimePoint(r.Get(warehouse.RawPeriodColumn)); perr == nil {
			period = sql.NullString{String: tp.String(), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO staged_records (source, period_start, record_json) VALUES (?, ?, ?)`,
			string(source), period, string(blob)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RawRecords(ctx context.Context, source warehouse.SourceSystem, from, to *warehouse.TimePoint) ([]warehouse.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT record_json FROM staged_records WHERE source = ?`
	args := []any{string(source)}
	if from != nil {
		query += ` AND period_start >= ?`
		args = append(args, from.String())
	}
	if to != nil {
		query += ` AND period_start <= ?`
		args = append(args, to.String())
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []warehouse.RawRecord
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var r warehouse.RawRecord
		if err := json.Unmarshal([]byte(blob), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// DIMENSION VERSIONS
// =============================================================================

func (s *Store) CurrentVersions(ctx context.Context, dt warehouse.DimensionType) ([]warehouse.DimensionVersion, error) {
	return s.queryVersions(ctx, dt, ` WHERE is_current = 1`)
}

func (s *Store) AllVersions(ctx context.Context, dt warehouse.DimensionType) ([]warehouse.DimensionVersion, error) {
	return s.queryVersions(ctx, dt, ``)
}

func (s *Store) queryVersions(ctx context.Context, dt warehouse.DimensionType, where string) ([]warehouse.DimensionVersion, error) {
	table, err := dimensionTable(dt)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT surrogate_key, business_key, attributes_json, attribute_hash,
		       source_systems, effective_date, end_date, is_current
		FROM `+table+where+` ORDER BY surrogate_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []warehouse.DimensionVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVersion(rows *sql.Rows) (warehouse.DimensionVersion, error) {
	var (
		v         warehouse.DimensionVersion
		attrsJSON string
		effective string
		end       sql.NullString
		current   int
	)
	if err := rows.Scan(&v.SurrogateKey, &v.BusinessKey, &attrsJSON, &v.AttributeHash,
		&v.SourceSystems, &effective, &end, &current); err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(attrsJSON), &v.Attributes); err != nil {
		return v, err
	}
	tp, err := warehouse.ParseTimePoint(effective)
	if err != nil {
		return v, err
	}
	v.EffectiveDate = tp
	if end.Valid {
		e, err := warehouse.ParseTimePoint(end.String)
		if err != nil {
			return v, err
		}
		v.EndDate = &e
	}
	v.IsCurrent = current == 1
	return v, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) InsertVersion(ctx context.Context, dt warehouse.DimensionType, v warehouse.DimensionVersion) (warehouse.SurrogateKey, error) {
	table, err := dimensionTable(dt)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return insertVersion(ctx, s.db, table, v)
}

func insertVersion(ctx context.Context, db execer, table string, v warehouse.DimensionVersion) (warehouse.SurrogateKey, error) {
	attrsJSON, err := json.Marshal(v.Attributes)
	if err != nil {
		return 0, err
	}
	// New versions are open-ended and current regardless of what the
	// caller set on the struct.
	res, err := db.ExecContext(ctx, `
		INSERT INTO `+table+` (business_key, attributes_json, attribute_hash,
			source_systems, effective_date, end_date, is_current)
		VALUES (?, ?, ?, ?, ?, NULL, 1)`,
		string(v.BusinessKey), string(attrsJSON), string(v.AttributeHash),
		v.SourceSystems, v.EffectiveDate.String())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return warehouse.SurrogateKey(id), nil
}

func (s *Store) CloseAndInsert(ctx context.Context, dt warehouse.DimensionType, prior warehouse.SurrogateKey, endDate warehouse.TimePoint, v warehouse.DimensionVersion) (warehouse.SurrogateKey, error) {
	table, err := dimensionTable(dt)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE `+table+` SET end_date = ?, is_current = 0
		WHERE surrogate_key = ? AND is_current = 1`,
		endDate.String(), int64(prior))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, warehouse.ErrVersionNotFound
	}

	key, err := insertVersion(ctx, tx, table, v)
	if err != nil {
		return 0, err
	}
	return key, tx.Commit()
}

// =============================================================================
// TIME PERIODS
// =============================================================================

func (s *Store) ReplaceTimePeriods(ctx context.Context, periods []warehouse.TimePeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dim_time`); err != nil {
		return err
	}
	for _, p := range periods {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dim_time (period_key, start_date, end_date, year, quarter,
				fiscal_year, season, is_current_period, periods_ago)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int(p.PeriodKey), p.StartDate.String(), p.EndDate.String(), p.Year,
			p.Quarter, p.FiscalYear, p.Season, boolInt(p.IsCurrentPeriod), p.PeriodsAgo); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) TimePeriods(ctx context.Context) ([]warehouse.TimePeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT period_key, start_date, end_date, year, quarter, fiscal_year,
		       season, is_current_period, periods_ago
		FROM dim_time ORDER BY period_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []warehouse.TimePeriod
	for rows.Next() {
		var (
			p          warehouse.TimePeriod
			start, end string
			current    int
		)
		if err := rows.Scan(&p.PeriodKey, &start, &end, &p.Year, &p.Quarter,
			&p.FiscalYear, &p.Season, &current, &p.PeriodsAgo); err != nil {
			return nil, err
		}
		if p.StartDate, err = warehouse.ParseTimePoint(start); err != nil {
			return nil, err
		}
		if p.EndDate, err = warehouse.ParseTimePoint(end); err != nil {
			return nil, err
		}
		p.IsCurrentPeriod = current == 1
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// FACTS
// =============================================================================

func (s *Store) ReplaceFacts(ctx context.Context, ft warehouse.FactType, from, to warehouse.TimePoint, facts []warehouse.FactRow) error {
	table, err := factTable(ft)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE period_key >= ? AND period_key <= ?`,
		int(from.PeriodKey()), int(to.PeriodKey())); err != nil {
		return err
	}
	for _, r := range facts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO `+table+` (period_key, surrogate_key, source, value,
				period_change, period_pct_change, year_change, year_pct_change,
				quality_score, has_anomaly, population, series_label,
				loaded_at, load_batch_id, source_file)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int(r.PeriodKey), int64(r.SurrogateKey), string(r.Source), r.Value.String(),
			decString(r.PeriodChange), decString(r.PeriodPctChange),
			decString(r.YearChange), decString(r.YearPctChange),
			r.QualityScore, boolInt(r.HasAnomaly), r.Population, r.SeriesLabel,
			r.LoadedAt.UTC().Format(time.RFC3339Nano), r.LoadBatchID, r.SourceFile); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Facts(ctx context.Context, ft warehouse.FactType, from, to warehouse.TimePoint) ([]warehouse.FactRow, error) {
	table, err := factTable(ft)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT period_key, surrogate_key, source, value,
		       period_change, period_pct_change, year_change, year_pct_change,
		       quality_score, has_anomaly, population, series_label,
		       loaded_at, load_batch_id, source_file
		FROM `+table+`
		WHERE period_key >= ? AND period_key <= ?
		ORDER BY surrogate_key, period_key`,
		int(from.PeriodKey()), int(to.PeriodKey()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []warehouse.FactRow
	for rows.Next() {
		var (
			r        warehouse.FactRow
			value    string
			pc, ppc  sql.NullString
			yc, ypc  sql.NullString
			anomaly  int
			loadedAt string
		)
		if err := rows.Scan(&r.PeriodKey, &r.SurrogateKey, &r.Source, &value,
			&pc, &ppc, &yc, &ypc, &r.QualityScore, &anomaly,
			&r.Population, &r.SeriesLabel, &loadedAt, &r.LoadBatchID, &r.SourceFile); err != nil {
			return nil, err
		}
		if r.Value, err = decimal.NewFromString(value); err != nil {
			return nil, err
		}
		if r.PeriodChange, err = decPtr(pc); err != nil {
			return nil, err
		}
		if r.PeriodPctChange, err = decPtr(ppc); err != nil {
			return nil, err
		}
		if r.YearChange, err = decPtr(yc); err != nil {
			return nil, err
		}
		if r.YearPctChange, err = decPtr(ypc); err != nil {
			return nil, err
		}
		r.HasAnomaly = anomaly == 1
		if r.LoadedAt, err = time.Parse(time.RFC3339Nano, loadedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// RUNS
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r warehouse.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_runs (run_id, operation, started_at, duration_ms,
			rows_processed, rows_written, versions_new, versions_closed,
			rows_unchanged, rows_unjoinable, rows_malformed, rows_replaced,
			anomalies, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Operation, r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.Duration.Milliseconds(), r.RowsProcessed, r.RowsWritten, r.VersionsNew,
		r.VersionsClosed, r.RowsUnchanged, r.RowsUnjoinable, r.RowsMalformed,
		r.RowsReplaced, r.Anomalies, r.Status)
	return err
}

func (s *Store) Runs(ctx context.Context, limit int) ([]warehouse.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, operation, started_at, duration_ms, rows_processed,
		       rows_written, versions_new, versions_closed, rows_unchanged,
		       rows_unjoinable, rows_malformed, rows_replaced, anomalies, status
		FROM engine_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []warehouse.RunResult
	for rows.Next() {
		var (
			r          warehouse.RunResult
			startedAt  string
			durationMS int64
		)
		if err := rows.Scan(&r.RunID, &r.Operation, &startedAt, &durationMS,
			&r.RowsProcessed, &r.RowsWritten, &r.VersionsNew, &r.VersionsClosed,
			&r.RowsUnchanged, &r.RowsUnjoinable, &r.RowsMalformed, &r.RowsReplaced,
			&r.Anomalies, &r.Status); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func decString(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func decPtr(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
