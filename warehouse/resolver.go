/*
resolver.go - Time-aware dimension key resolution

PURPOSE:
  Maps (business key, observation date) to the surrogate key of the
  dimension version whose validity window contains the date. Built once per
  fact run from a full read of the dimension, then answers lookups in
  O(log versions-per-key).

FAILURE MODES:
  - No version covers the date: the observation is UNJOINABLE. This is the
    documented recoverable outcome - the caller drops and counts the row.
  - More than one current version for a key: integrity fault. Building the
    resolver fails hard before any fact is computed, so a torn dimension
    never silently feeds wrong keys into facts.

SEE ALSO:
  - versioner.go: Maintains the invariants this resolver relies on
  - facts.go: The only consumer
*/
package warehouse

import (
	"context"
	"sort"
)

// Resolver answers time-correct surrogate key lookups for one dimension
// type. Read-only once built; safe for concurrent use.
type Resolver struct {
	dt       DimensionType
	versions map[BusinessKey][]DimensionVersion // sorted by EffectiveDate
}

// NewResolver loads every version of the dimension and indexes it by
// business key. Returns an IntegrityFaultError when any key holds more than
// one current version.
func NewResolver(ctx context.Context, store DimensionStore, dt DimensionType) (*Resolver, error) {
	all, err := store.AllVersions(ctx, dt)
	if err != nil {
		return nil, err
	}

	r := &Resolver{dt: dt, versions: make(map[BusinessKey][]DimensionVersion)}
	currents := make(map[BusinessKey]int)
	for _, v := range all {
		r.versions[v.BusinessKey] = append(r.versions[v.BusinessKey], v)
		if v.IsCurrent {
			currents[v.BusinessKey]++
		}
	}
	for key, n := range currents {
		if n > 1 {
			return nil, &IntegrityFaultError{DimensionType: dt, BusinessKey: key, CurrentCount: n}
		}
	}

	for key := range r.versions {
		vs := r.versions[key]
		sort.Slice(vs, func(i, j int) bool {
			return vs[i].EffectiveDate.Before(vs[j].EffectiveDate)
		})
		r.versions[key] = vs
	}
	return r, nil
}

// Resolve returns the surrogate key valid at date, or false when no version
// covers it. Given the non-overlap invariant at most one version can match.
func (r *Resolver) Resolve(key BusinessKey, date TimePoint) (SurrogateKey, bool) {
	vs, ok := r.versions[key]
	if !ok {
		return 0, false
	}

	// Last version whose effective date is <= date.
	i := sort.Search(len(vs), func(i int) bool {
		return vs[i].EffectiveDate.After(date)
	})
	if i == 0 {
		return 0, false
	}
	v := vs[i-1]
	if !v.Covers(date) {
		return 0, false
	}
	return v.SurrogateKey, true
}

// KnownKeys returns the number of distinct business keys in the index.
func (r *Resolver) KnownKeys() int { return len(r.versions) }
