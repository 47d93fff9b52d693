// Package store provides the in-memory Store implementation used by tests
// and local development. It honors the same atomicity contracts as the SQL
// stores: CloseAndInsert and ReplaceFacts apply under one lock acquisition,
// so no reader observes a torn transition.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/meridian/warehouse-engine/warehouse"
)

// Memory implements warehouse.Store.
type Memory struct {
	mu sync.RWMutex

	raw      map[warehouse.SourceSystem][]stagedRow
	versions map[warehouse.DimensionType][]warehouse.DimensionVersion
	nextKey  warehouse.SurrogateKey
	periods  []warehouse.TimePeriod
	facts    map[warehouse.FactType][]warehouse.FactRow
	runs     []warehouse.RunResult
}

type stagedRow struct {
	period warehouse.TimePoint
	record warehouse.RawRecord
}

func NewMemory() *Memory {
	return &Memory{
		raw:      make(map[warehouse.SourceSystem][]stagedRow),
		versions: make(map[warehouse.DimensionType][]warehouse.DimensionVersion),
		facts:    make(map[warehouse.FactType][]warehouse.FactRow),
		nextKey:  1,
	}
}

// =============================================================================
// STAGING - Loader side (not part of the engine interface) and read side
// =============================================================================

// AppendRawRecords lands staged rows for a source, preserving load order.
// Rows without a parseable period column are stored with a zero period and
// only surface on unbounded reads; normalizers will count them malformed.
func (m *Memory) AppendRawRecords(_ context.Context, source warehouse.SourceSystem, records []warehouse.RawRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		row := stagedRow{record: r}
		if tp, err := warehouse.ParseTimePoint(r.Get(warehouse.RawPeriodColumn)); err == nil {
			row.period = tp
		}
		m.raw[source] = append(m.raw[source], row)
	}
	return nil
}

func (m *Memory) RawRecords(_ context.Context, source warehouse.SourceSystem, from, to *warehouse.TimePoint) ([]warehouse.RawRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []warehouse.RawRecord
	for _, row := range m.raw[source] {
		if from != nil && (row.period.IsZero() || row.period.Before(*from)) {
			continue
		}
		if to != nil && (row.period.IsZero() || row.period.After(*to)) {
			continue
		}
		out = append(out, row.record)
	}
	return out, nil
}

// =============================================================================
// DIMENSIONS - Soft-close only
// =============================================================================

func (m *Memory) CurrentVersions(_ context.Context, dt warehouse.DimensionType) ([]warehouse.DimensionVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []warehouse.DimensionVersion
	for _, v := range m.versions[dt] {
		if v.IsCurrent {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) AllVersions(_ context.Context, dt warehouse.DimensionType) ([]warehouse.DimensionVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]warehouse.DimensionVersion, len(m.versions[dt]))
	copy(out, m.versions[dt])
	return out, nil
}

func (m *Memory) InsertVersion(_ context.Context, dt warehouse.DimensionType, v warehouse.DimensionVersion) (warehouse.SurrogateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(dt, v), nil
}

func (m *Memory) CloseAndInsert(_ context.Context, dt warehouse.DimensionType, prior warehouse.SurrogateKey, endDate warehouse.TimePoint, v warehouse.DimensionVersion) (warehouse.SurrogateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vs := m.versions[dt]
	closed := false
	for i := range vs {
		if vs[i].SurrogateKey == prior {
			end := endDate
			vs[i].EndDate = &end
			vs[i].IsCurrent = false
			closed = true
			break
		}
	}
	if !closed {
		return 0, warehouse.ErrVersionNotFound
	}
	return m.insertLocked(dt, v), nil
}

func (m *Memory) insertLocked(dt warehouse.DimensionType, v warehouse.DimensionVersion) warehouse.SurrogateKey {
	v.SurrogateKey = m.nextKey
	m.nextKey++
	v.IsCurrent = true
	v.EndDate = nil
	m.versions[dt] = append(m.versions[dt], v)
	return v.SurrogateKey
}

// =============================================================================
// TIME PERIODS - Destructive rebuild
// =============================================================================

func (m *Memory) ReplaceTimePeriods(_ context.Context, periods []warehouse.TimePeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.periods = make([]warehouse.TimePeriod, len(periods))
	copy(m.periods, periods)
	sort.Slice(m.periods, func(i, j int) bool { return m.periods[i].PeriodKey < m.periods[j].PeriodKey })
	return nil
}

func (m *Memory) TimePeriods(_ context.Context) ([]warehouse.TimePeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]warehouse.TimePeriod, len(m.periods))
	copy(out, m.periods)
	return out, nil
}

// =============================================================================
// FACTS - Range replace
// =============================================================================

func (m *Memory) ReplaceFacts(_ context.Context, ft warehouse.FactType, from, to warehouse.TimePoint, rows []warehouse.FactRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromKey, toKey := from.PeriodKey(), to.PeriodKey()
	kept := m.facts[ft][:0]
	for _, r := range m.facts[ft] {
		if r.PeriodKey >= fromKey && r.PeriodKey <= toKey {
			continue
		}
		kept = append(kept, r)
	}
	m.facts[ft] = append(kept, rows...)
	return nil
}

func (m *Memory) Facts(_ context.Context, ft warehouse.FactType, from, to warehouse.TimePoint) ([]warehouse.FactRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fromKey, toKey := from.PeriodKey(), to.PeriodKey()
	var out []warehouse.FactRow
	for _, r := range m.facts[ft] {
		if r.PeriodKey >= fromKey && r.PeriodKey <= toKey {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SurrogateKey != out[j].SurrogateKey {
			return out[i].SurrogateKey < out[j].SurrogateKey
		}
		return out[i].PeriodKey < out[j].PeriodKey
	})
	return out, nil
}

// =============================================================================
// RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, r warehouse.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) Runs(_ context.Context, limit int) ([]warehouse.RunResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.runs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]warehouse.RunResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}
