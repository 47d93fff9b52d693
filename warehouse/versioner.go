/*
versioner.go - The SCD Type 2 state machine

PURPOSE:
  Decides, once per run and per business key, how the staged view of an
  entity relates to its stored current version, and applies the result:

    ABSENT            -> NEW              insert first version
    PRESENT_UNCHANGED -> NO_OP            hashes equal, nothing to do
    PRESENT_CHANGED   -> CLOSE_AND_INSERT close current, insert successor

  The close-and-insert pair is a single atomic store write: a reader never
  observes a key with zero or two current versions.

MERGE POLICY:
  When multiple sources describe the same business key, each attribute
  takes the first non-null value by the dimension's fixed source priority
  order. Conflicting non-null values are silently overwritten by priority
  order (stable across runs); set LogConflicts to surface them in the log.
  Contributing sources are concatenated in priority order for audit.

SINGLE-WRITER DISCIPLINE:
  One Versioner run mutates one dimension type. Independent dimension
  types may run concurrently; two runs over the SAME type must be
  serialized by the orchestrator.

SEE ALSO:
  - hash.go: The change-detection digest
  - store.go: CloseAndInsert atomicity contract
*/
package warehouse

import (
	"context"
	"log"
	"sort"
	"strings"
)

// =============================================================================
// CROSS-SOURCE MERGE
// =============================================================================

// MergeStagedEntities collapses per-source staged entities into one canonical
// entity per business key. priority lists the dimension's sources from most
// to least preferred; staged entities from unlisted sources are ignored.
// Every normalizer emits the dimension's full canonical field list, so
// merging is a per-field first-non-null pass.
func MergeStagedEntities(staged []StagedEntity, priority []SourceSystem, logConflicts bool) []StagedEntity {
	rank := make(map[SourceSystem]int, len(priority))
	for i, s := range priority {
		rank[s] = i
	}

	byKey := make(map[BusinessKey][]StagedEntity)
	for _, e := range staged {
		if _, ok := rank[e.Source]; !ok {
			continue
		}
		byKey[e.BusinessKey] = append(byKey[e.BusinessKey], e)
	}

	merged := make([]StagedEntity, 0, len(byKey))
	for key, group := range byKey {
		sort.SliceStable(group, func(i, j int) bool {
			return rank[group[i].Source] < rank[group[j].Source]
		})

		out := StagedEntity{
			BusinessKey: key,
			Source:      group[0].Source,
			Attributes:  group[0].Attributes.Clone(),
		}
		contributors := []string{string(group[0].Source)}

		for _, e := range group[1:] {
			contributors = append(contributors, string(e.Source))
			for _, f := range e.Attributes {
				if f.Value == "" {
					continue
				}
				chosen := out.Attributes.Get(f.Name)
				if chosen == "" {
					out.Attributes.Set(f.Name, f.Value)
				} else if logConflicts && chosen != f.Value {
					log.Printf("versioner: %s attribute %s conflict: keeping %q (%s), discarding %q (%s)",
						key, f.Name, chosen, group[0].Source, f.Value, e.Source)
				}
			}
		}
		// Source carries the audit concatenation; the hash never sees it.
		merged = append(merged, StagedEntity{
			BusinessKey: key,
			Source:      SourceSystem(strings.Join(contributors, ",")),
			Attributes:  out.Attributes,
		})
	}

	// Deterministic apply order regardless of map iteration.
	sort.Slice(merged, func(i, j int) bool { return merged[i].BusinessKey < merged[j].BusinessKey })
	return merged
}

// =============================================================================
// VERSIONER
// =============================================================================

// Versioner applies the SCD Type 2 state machine for one dimension type.
type Versioner struct {
	Store DimensionStore
	Type  DimensionType

	// SourcePriority is the fixed merge order, most preferred first.
	SourcePriority []SourceSystem

	// LogConflicts surfaces cross-source attribute conflicts in the log.
	// The winning value is unaffected either way.
	LogConflicts bool
}

// Run evaluates every staged entity against the stored current versions as
// of runDate. It loads the current index once (O(1) lookups instead of
// whole-table comparison), detects integrity faults before any write, and
// applies transitions in sorted key order.
func (vr *Versioner) Run(ctx context.Context, staged []StagedEntity, runDate TimePoint) (RunResult, error) {
	res := RunResult{Operation: "version_" + string(vr.Type)}

	merged := MergeStagedEntities(staged, vr.SourcePriority, vr.LogConflicts)
	res.RowsProcessed = len(staged)

	current, err := vr.Store.CurrentVersions(ctx, vr.Type)
	if err != nil {
		return res, err
	}

	// business_key -> current version, with uniqueness check. A duplicate
	// means a prior run tore a transition; refuse to proceed.
	index := make(map[BusinessKey]DimensionVersion, len(current))
	for _, v := range current {
		if _, ok := index[v.BusinessKey]; ok {
			return res, &IntegrityFaultError{
				DimensionType: vr.Type,
				BusinessKey:   v.BusinessKey,
				CurrentCount:  countCurrent(current, v.BusinessKey),
			}
		}
		index[v.BusinessKey] = v
	}

	for _, entity := range merged {
		hash := HashAttributes(entity.Attributes)
		existing, ok := index[entity.BusinessKey]

		switch {
		case !ok:
			// NEW
			_, err := vr.Store.InsertVersion(ctx, vr.Type, DimensionVersion{
				BusinessKey:   entity.BusinessKey,
				Attributes:    entity.Attributes,
				AttributeHash: hash,
				SourceSystems: string(entity.Source),
				EffectiveDate: runDate,
				IsCurrent:     true,
			})
			if err != nil {
				return res, err
			}
			res.VersionsNew++
			res.RowsWritten++

		case existing.AttributeHash == hash:
			// NO_OP
			res.RowsUnchanged++

		default:
			// CLOSE_AND_INSERT
			_, err := vr.Store.CloseAndInsert(ctx, vr.Type, existing.SurrogateKey, runDate.AddDays(-1), DimensionVersion{
				BusinessKey:   entity.BusinessKey,
				Attributes:    entity.Attributes,
				AttributeHash: hash,
				SourceSystems: string(entity.Source),
				EffectiveDate: runDate,
				IsCurrent:     true,
			})
			if err != nil {
				return res, err
			}
			res.VersionsClosed++
			res.RowsWritten++
		}
	}

	res.Summarize()
	return res, nil
}

func countCurrent(versions []DimensionVersion, key BusinessKey) int {
	n := 0
	for _, v := range versions {
		if v.BusinessKey == key {
			n++
		}
	}
	return n
}
