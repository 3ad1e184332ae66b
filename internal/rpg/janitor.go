package rpg

import (
	"context"
	"log/slog"
	"sort"
)

// Violation is one failure of a Testable Property (§8) found by
// CheckInvariants.
type Violation struct {
	Kind    string // "dangling_edge", "empty_interior_node", "hierarchy_mismatch", "feature_normalization"
	Detail  string
	EntityID string
}

// CheckInvariants runs a non-mutating pass over the graph verifying the
// Testable Properties of §8: no dangling edges, no empty interior
// hierarchy nodes, hierarchy-path consistency (a leaf's HierarchyPath
// agrees with its Contains edge and the byHierPath index), and feature
// normalization. Violations are reported, never silently repaired —
// repair is out of scope (§4.8: "a violation means CorruptStore
// territory").
func (s *Store) CheckInvariants() []Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var violations []Violation

	for _, e := range s.edges {
		if _, ok := s.entities[e.Source]; !ok {
			violations = append(violations, Violation{Kind: "dangling_edge", Detail: "source " + e.Source + " does not exist", EntityID: e.Source})
			continue
		}
		if e.Kind == EdgeContains {
			if _, ok := s.hierarchy[e.Target]; !ok {
				violations = append(violations, Violation{Kind: "dangling_edge", Detail: "Contains target " + e.Target + " does not exist", EntityID: e.Source})
			}
			continue
		}
		if _, ok := s.entities[e.Target]; !ok {
			violations = append(violations, Violation{Kind: "dangling_edge", Detail: "target " + e.Target + " does not exist", EntityID: e.Target})
		}
	}

	for path, node := range s.hierarchy {
		leaves := s.byHierPath[path]
		hasChildren := false
		for _, childPath := range node.Children {
			if _, ok := s.hierarchy[childPath]; ok {
				hasChildren = true
				break
			}
		}
		if len(leaves) == 0 && !hasChildren {
			violations = append(violations, Violation{Kind: "empty_interior_node", Detail: "hierarchy node has no leaves and no children", EntityID: path})
		}
	}

	for id, e := range s.entities {
		if e.HierarchyPath == "" {
			continue
		}
		if _, ok := s.hierarchy[e.HierarchyPath]; !ok {
			violations = append(violations, Violation{Kind: "hierarchy_mismatch", Detail: "entity references nonexistent hierarchy path " + e.HierarchyPath, EntityID: id})
			continue
		}
		if !s.byHierPath[e.HierarchyPath][id] {
			violations = append(violations, Violation{Kind: "hierarchy_mismatch", Detail: "entity hierarchy path not reflected in index", EntityID: id})
		}
		contains := DependencyEdge{Source: id, Target: e.HierarchyPath, Kind: EdgeContains}
		if _, ok := s.edges[contains.Key()]; !ok {
			violations = append(violations, Violation{Kind: "hierarchy_mismatch", Detail: "missing Contains edge for assigned hierarchy path", EntityID: id})
		}
	}

	for id, e := range s.entities {
		normalized := normalizeFeatures(e.Features)
		if !sameSlice(normalized, e.Features) {
			violations = append(violations, Violation{Kind: "feature_normalization", Detail: "features are not in normalized form", EntityID: id})
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Kind != violations[j].Kind {
			return violations[i].Kind < violations[j].Kind
		}
		return violations[i].EntityID < violations[j].EntityID
	})
	return violations
}

// ConsistencyJob adapts CheckInvariants into a scheduler.Job, surfacing
// violations in logs on a scheduled cadence (§4.8: "purely to surface
// staleness in logs before a caller notices via a failed operation").
// Disabled by default (janitor.enabled=false).
type ConsistencyJob struct {
	store  *Store
	logger *slog.Logger
}

// NewConsistencyJob creates a ConsistencyJob over store.
func NewConsistencyJob(store *Store, logger *slog.Logger) *ConsistencyJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyJob{store: store, logger: logger}
}

// Name implements scheduler.Job.
func (j *ConsistencyJob) Name() string { return "rpg_consistency_check" }

// Run implements scheduler.Job.
func (j *ConsistencyJob) Run(_ context.Context) error {
	violations := j.store.CheckInvariants()
	if len(violations) == 0 {
		j.logger.Debug("consistency check found no violations")
		return nil
	}
	j.logger.Warn("consistency check found violations", "count", len(violations))
	for _, v := range violations {
		j.logger.Warn("graph invariant violation", "kind", v.Kind, "entity_id", v.EntityID, "detail", v.Detail)
	}
	return nil
}
