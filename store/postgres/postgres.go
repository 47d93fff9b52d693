/*
Package postgres provides a PostgreSQL-backed implementation of the
warehouse storage interfaces, built on pgx.

PURPOSE:
  Implements warehouse.Store against PostgreSQL for production
  deployments. Mirrors store/sqlite table-for-table; the dialect
  differences are identity columns, $n placeholders, and RETURNING
  for surrogate key assignment.

CONCURRENCY:
  No process-level locking. PostgreSQL's MVCC handles concurrent
  readers; the engine serializes writers per operation.

USAGE:
  st, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - warehouse/store.go: Interface definitions
  - store/sqlite: SQLite implementation with schema commentary
*/
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian/warehouse-engine/warehouse"
)

// Store implements warehouse.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL using the given DSN and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: %w", warehouse.ErrStoreRequired)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
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
	surrogate_key BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	business_key TEXT NOT NULL,
	attributes_json TEXT NOT NULL,
	attribute_hash TEXT NOT NULL,
	source_systems TEXT NOT NULL DEFAULT '',
	effective_date TEXT NOT NULL,
	end_date TEXT,
	is_current BOOLEAN NOT NULL
)`

const factColumns = `(
	period_key INTEGER NOT NULL,
	surrogate_key BIGINT NOT NULL,
	source TEXT NOT NULL,
	value TEXT NOT NULL,
	period_change TEXT,
	period_pct_change TEXT,
	year_change TEXT,
	year_pct_change TEXT,
	quality_score INTEGER NOT NULL,
	has_anomaly BOOLEAN NOT NULL,
	population BIGINT NOT NULL DEFAULT 0,
	series_label TEXT NOT NULL DEFAULT '',
	loaded_at TIMESTAMPTZ NOT NULL,
	load_batch_id TEXT NOT NULL DEFAULT '',
	source_file TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (surrogate_key, period_key, source)
)`

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS staged_records (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
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
		is_current_period BOOLEAN NOT NULL,
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
		started_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
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
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return err
	}

	for _, dt := range []warehouse.DimensionType{warehouse.DimensionLocation, warehouse.DimensionEconomicSeries} {
		table, _ := dimensionTable(dt)
		stmts := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s %[2]s;
		CREATE INDEX IF NOT EXISTS idx_%[1]s_key ON %[1]s(business_key);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_current ON %[1]s(is_current) WHERE is_current;
		`, table, dimensionColumns)
		if _, err := s.pool.Exec(ctx, stmts); err != nil {
			return err
		}
	}

	for _, ft := range []warehouse.FactType{warehouse.FactRentIndex, warehouse.FactRentListings, warehouse.FactEconomicIndicator} {
		table, _ := factTable(ft)
		stmts := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s %[2]s;
		CREATE INDEX IF NOT EXISTS idx_%[1]s_period ON %[1]s(period_key);
		`, table, factColumns)
		if _, err := s.pool.Exec(ctx, stmts); err != nil {
			return err
		}
	}

	return s.seedDataSources(ctx)
}

func (s *Store) seedDataSources(ctx context.Context) error {
	for _, ds := range warehouse.KnownDataSources() {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO dim_data_source (source, name, data_type, reliability_score, update_cadence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (source) DO UPDATE SET
				name = EXCLUDED.name,
				data_type = EXCLUDED.data_type,
				reliability_score = EXCLUDED.reliability_score,
				update_cadence = EXCLUDED.update_cadence`,
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

// AppendRawRecords lands staged rows for a source.
func (s *Store) AppendRawRecords(ctx context.Context, source warehouse.SourceSystem, records []warehouse.RawRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		blob, err := json.Marshal(r)
		if err != nil {
			return err
		}
		var period *string
		if tp, perr := warehouse.ParseTimePoint(r.Get(warehouse.RawPeriodColumn)); perr == nil {
			v := tp.String()
			period = &v
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO staged_records (source, period_start, record_json) VALUES ($1, $2, $3)`,
			string(source), period, string(blob)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) RawRecords(ctx context.Context, source warehouse.SourceSystem, from, to *warehouse.TimePoint) ([]warehouse.RawRecord, error) {
	query := `SELECT record_json FROM staged_records WHERE source = $1`
	args := []any{string(source)}
	if from != nil {
		args = append(args, from.String())
		query += fmt.Sprintf(` AND period_start >= $%d`, len(args))
	}
	if to != nil {
		args = append(args, to.String())
		query += fmt.Sprintf(` AND period_start <= $%d`, len(args))
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
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
	return s.queryVersions(ctx, dt, ` WHERE is_current`)
}

func (s *Store) AllVersions(ctx context.Context, dt warehouse.DimensionType) ([]warehouse.DimensionVersion, error) {
	return s.queryVersions(ctx, dt, ``)
}

func (s *Store) queryVersions(ctx context.Context, dt warehouse.DimensionType, where string) ([]warehouse.DimensionVersion, error) {
	table, err := dimensionTable(dt)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT surrogate_key, business_key, attributes_json, attribute_hash,
		       source_systems, effective_date, end_date, is_current
		FROM `+table+where+` ORDER BY surrogate_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []warehouse.DimensionVersion
	for rows.Next() {
		var (
			v          warehouse.DimensionVersion
			skey       int64
			bkey       string
			attrsJSON  string
			hash       string
			effective  string
			end        *string
		)
		if err := rows.Scan(&skey, &bkey, &attrsJSON, &hash,
			&v.SourceSystems, &effective, &end, &v.IsCurrent); err != nil {
			return nil, err
		}
		v.SurrogateKey = warehouse.SurrogateKey(skey)
		v.BusinessKey = warehouse.BusinessKey(bkey)
		v.AttributeHash = warehouse.Digest(hash)
		if err := json.Unmarshal([]byte(attrsJSON), &v.Attributes); err != nil {
			return nil, err
		}
		if v.EffectiveDate, err = warehouse.ParseTimePoint(effective); err != nil {
			return nil, err
		}
		if end != nil {
			e, err := warehouse.ParseTimePoint(*end)
			if err != nil {
				return nil, err
			}
			v.EndDate = &e
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) InsertVersion(ctx context.Context, dt warehouse.DimensionType, v warehouse.DimensionVersion) (warehouse.SurrogateKey, error) {
	table, err := dimensionTable(dt)
	if err != nil {
		return 0, err
	}
	return insertVersion(ctx, s.pool, table, v)
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertVersion(ctx context.Context, db execQuerier, table string, v warehouse.DimensionVersion) (warehouse.SurrogateKey, error) {
	attrsJSON, err := json.Marshal(v.Attributes)
	if err != nil {
		return 0, err
	}
	var key int64
	err = db.QueryRow(ctx, `
		INSERT INTO `+table+` (business_key, attributes_json, attribute_hash,
			source_systems, effective_date, end_date, is_current)
		VALUES ($1, $2, $3, $4, $5, NULL, TRUE)
		RETURNING surrogate_key`,
		string(v.BusinessKey), string(attrsJSON), string(v.AttributeHash),
		v.SourceSystems, v.EffectiveDate.String()).Scan(&key)
	if err != nil {
		return 0, err
	}
	return warehouse.SurrogateKey(key), nil
}

func (s *Store) CloseAndInsert(ctx context.Context, dt warehouse.DimensionType, prior warehouse.SurrogateKey, endDate warehouse.TimePoint, v warehouse.DimensionVersion) (warehouse.SurrogateKey, error) {
	table, err := dimensionTable(dt)
	if err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE `+table+` SET end_date = $1, is_current = FALSE
		WHERE surrogate_key = $2 AND is_current`,
		endDate.String(), int64(prior))
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, warehouse.ErrVersionNotFound
	}

	key, err := insertVersion(ctx, tx, table, v)
	if err != nil {
		return 0, err
	}
	return key, tx.Commit(ctx)
}

// =============================================================================
// TIME PERIODS
// =============================================================================

func (s *Store) ReplaceTimePeriods(ctx context.Context, periods []warehouse.TimePeriod) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM dim_time`); err != nil {
		return err
	}
	for _, p := range periods {
		if _, err := tx.Exec(ctx, `
			INSERT INTO dim_time (period_key, start_date, end_date, year, quarter,
				fiscal_year, season, is_current_period, periods_ago)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			int(p.PeriodKey), p.StartDate.String(), p.EndDate.String(), p.Year,
			p.Quarter, p.FiscalYear, p.Season, p.IsCurrentPeriod, p.PeriodsAgo); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) TimePeriods(ctx context.Context) ([]warehouse.TimePeriod, error) {
	rows, err := s.pool.Query(ctx, `
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
			pk         int
			start, end string
		)
		if err := rows.Scan(&pk, &start, &end, &p.Year, &p.Quarter,
			&p.FiscalYear, &p.Season, &p.IsCurrentPeriod, &p.PeriodsAgo); err != nil {
			return nil, err
		}
		p.PeriodKey = warehouse.PeriodKey(pk)
		if p.StartDate, err = warehouse.ParseTimePoint(start); err != nil {
			return nil, err
		}
		if p.EndDate, err = warehouse.ParseTimePoint(end); err != nil {
			return nil, err
		}
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+table+` WHERE period_key >= $1 AND period_key <= $2`,
		int(from.PeriodKey()), int(to.PeriodKey())); err != nil {
		return err
	}
	for _, r := range facts {
		if _, err := tx.Exec(ctx, `
			INSERT INTO `+table+` (period_key, surrogate_key, source, value,
				period_change, period_pct_change, year_change, year_pct_change,
				quality_score, has_anomaly, population, series_label,
				loaded_at, load_batch_id, source_file)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			int(r.PeriodKey), int64(r.SurrogateKey), string(r.Source), r.Value.String(),
			decString(r.PeriodChange), decString(r.PeriodPctChange),
			decString(r.YearChange), decString(r.YearPctChange),
			r.QualityScore, r.HasAnomaly, r.Population, r.SeriesLabel,
			r.LoadedAt.UTC(), r.LoadBatchID, r.SourceFile); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) Facts(ctx context.Context, ft warehouse.FactType, from, to warehouse.TimePoint) ([]warehouse.FactRow, error) {
	table, err := factTable(ft)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT period_key, surrogate_key, source, value,
		       period_change, period_pct_change, year_change, year_pct_change,
		       quality_score, has_anomaly, population, series_label,
		       loaded_at, load_batch_id, source_file
		FROM `+table+`
		WHERE period_key >= $1 AND period_key <= $2
		ORDER BY surrogate_key, period_key`,
		int(from.PeriodKey()), int(to.PeriodKey()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []warehouse.FactRow
	for rows.Next() {
		var (
			r              warehouse.FactRow
			pk             int
			skey           int64
			source, value  string
			pc, ppc        *string
			yc, ypc        *string
			loadedAt       time.Time
		)
		if err := rows.Scan(&pk, &skey, &source, &value,
			&pc, &ppc, &yc, &ypc, &r.QualityScore, &r.HasAnomaly,
			&r.Population, &r.SeriesLabel, &loadedAt, &r.LoadBatchID, &r.SourceFile); err != nil {
			return nil, err
		}
		r.PeriodKey = warehouse.PeriodKey(pk)
		r.SurrogateKey = warehouse.SurrogateKey(skey)
		r.Source = warehouse.SourceSystem(source)
		r.LoadedAt = loadedAt
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
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// RUNS
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r warehouse.RunResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engine_runs (run_id, operation, started_at, duration_ms,
			rows_processed, rows_written, versions_new, versions_closed,
			rows_unchanged, rows_unjoinable, rows_malformed, rows_replaced,
			anomalies, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.RunID, r.Operation, r.StartedAt.UTC(), r.Duration.Milliseconds(),
		r.RowsProcessed, r.RowsWritten, r.VersionsNew, r.VersionsClosed,
		r.RowsUnchanged, r.RowsUnjoinable, r.RowsMalformed, r.RowsReplaced,
		r.Anomalies, r.Status)
	return err
}

func (s *Store) Runs(ctx context.Context, limit int) ([]warehouse.RunResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, operation, started_at, duration_ms, rows_processed,
		       rows_written, versions_new, versions_closed, rows_unchanged,
		       rows_unjoinable, rows_malformed, rows_replaced, anomalies, status
		FROM engine_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []warehouse.RunResult
	for rows.Next() {
		var (
			r          warehouse.RunResult
			durationMS int64
		)
		if err := rows.Scan(&r.RunID, &r.Operation, &r.StartedAt, &durationMS,
			&r.RowsProcessed, &r.RowsWritten, &r.VersionsNew, &r.VersionsClosed,
			&r.RowsUnchanged, &r.RowsUnjoinable, &r.RowsMalformed, &r.RowsReplaced,
			&r.Anomalies, &r.Status); err != nil {
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

func decString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	v := d.String()
	return &v
}

func decPtr(p *string) (*decimal.Decimal, error) {
	if p == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*p)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
