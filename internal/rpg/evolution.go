package rpg

import (
	"sort"
)

// DiffEventKind classifies a single file-level change reported by the
// git-diff probe (§4.5 Classification).
type DiffEventKind string

const (
	DiffDelete DiffEventKind = "delete"
	DiffModify DiffEventKind = "modify"
	DiffInsert DiffEventKind = "insert"
)

// DiffEvent is one file-level change the caller (cmd entrypoint or a
// reload_rpg tool handler) has already classified from a raw git diff,
// with renames pre-resolved by best-content overlap — a concern the
// filesystem/VCS probe owns, not this engine (§1 Non-goals).
type DiffEvent struct {
	Kind     DiffEventKind
	FilePath string
	// Entities is populated for Modify/Insert events: the freshly-parsed
	// entity tuples the parser collaborator produced for FilePath.
	Entities []Entity
}

// DriftZone is the three-way classification of an entity's post-relift
// feature drift (§4.5 Algorithm 3).
type DriftZone string

const (
	DriftIgnore     DriftZone = "ignore"
	DriftBorderline DriftZone = "borderline"
	DriftAuto       DriftZone = "auto"
)

// DriftThresholds configures the zone boundaries (§9 open question:
// exposed as configuration).
type DriftThresholds struct {
	IgnoreThreshold float64 // d < IgnoreThreshold -> ignore
	AutoThreshold   float64 // d > AutoThreshold -> auto
}

// Classify buckets a Jaccard distance into a drift zone.
func (t DriftThresholds) Classify(distance float64) DriftZone {
	if distance < t.IgnoreThreshold {
		return DriftIgnore
	}
	if distance > t.AutoThreshold {
		return DriftAuto
	}
	return DriftBorderline
}

// EvolutionEngine reconciles the GraphStore with a new filesystem state
// given a base revision (§4.5).
type EvolutionEngine struct {
	store      *Store
	thresholds DriftThresholds
	embedding  *EmbeddingBoundary // optional; invalidated right before a feature overwrite
}

// NewEvolutionEngine creates an EvolutionEngine over store.
func NewEvolutionEngine(store *Store, thresholds DriftThresholds) *EvolutionEngine {
	return &EvolutionEngine{store: store, thresholds: thresholds}
}

// SetEmbedding wires the embedding boundary whose cache must be
// invalidated whenever this engine overwrites an entity's features.
func (e *EvolutionEngine) SetEmbedding(b *EmbeddingBoundary) {
	e.embedding = b
}

// ApplyDeletion implements Algorithm 2: remove every leaf defined in
// filePath, their incident edges and Contains edges, then recursively
// prune any hierarchy node left empty. Store.RemoveEntity already
// performs the prune+reaggregate step per entity.
func (e *EvolutionEngine) ApplyDeletion(filePath string) error {
	ids := e.store.EntitiesInFile(filePath)
	for _, id := range ids {
		if err := e.store.RemoveEntity(id); err != nil {
			return err
		}
	}
	return nil
}

// ModifyResult is the outcome of reconciling a single modified entity
// against its re-lifted features.
type ModifyResult struct {
	EntityID string
	Zone     DriftZone
	Distance float64
	// Queued is true if the entity was enqueued to pending-routing
	// (borderline or auto zones).
	Queued bool
}

// ApplyModification implements Algorithm 3: recomputes feature drift
// between the entity's stored features and newFeatures (already
// normalized by the caller via the Lifting Engine's re-lift path), and
// routes by zone. Ignore zone replaces features in place; borderline and
// auto zones additionally enqueue a pending-routing entry against
// candidatePaths (computed by the caller via aggregate-feature overlap,
// since ranking candidates is the Hierarchy Engine's concern).
func (e *EvolutionEngine) ApplyModification(entityID string, newFeatures []string, candidatePaths []string) (ModifyResult, error) {
	existing, ok := e.store.GetEntity(entityID)
	if !ok {
		return ModifyResult{}, newErr(KindUnknownEntity, "entity %q does not exist", entityID)
	}

	normalized := normalizeFeatures(newFeatures)
	distance := jaccardDistance(existing.Features, normalized)
	zone := e.thresholds.Classify(distance)

	if e.embedding != nil {
		e.embedding.InvalidateEntity(existing)
	}
	existing.Features = normalized
	e.store.UpsertEntity(*existing, true)

	result := ModifyResult{EntityID: entityID, Zone: zone, Distance: distance}

	if zone == DriftIgnore {
		return result, nil
	}

	rev := e.store.Revision()
	e.store.enqueuePending(PendingRoutingEntry{
		EntityID:       entityID,
		EnqueuedAt:     rev,
		Reason:         "drift",
		DriftZone:      string(zone),
		PriorPath:      existing.HierarchyPath,
		CandidatePaths: candidatePaths,
	})
	result.Queued = true
	return result, nil
}

// jaccardDistance computes 1 - |A∩B|/|A∪B| over two already-normalized
// feature sets. Two empty sets are defined as distance 0 (no drift).
func jaccardDistance(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, f := range a {
		setA[f] = true
	}
	setB := make(map[string]bool, len(b))
	for _, f := range b {
		setB[f] = true
	}

	union := make(map[string]bool, len(setA)+len(setB))
	intersection := 0
	for f := range setA {
		union[f] = true
		if setB[f] {
			intersection++
		}
	}
	for f := range setB {
		union[f] = true
	}
	if len(union) == 0 {
		return 0
	}
	similarity := float64(intersection) / float64(len(union))
	return 1 - similarity
}

// ApplyInsertion implements Algorithm 4: installs a freshly-parsed
// entity (not yet present) and enqueues it for lifting-then-routing.
// The entity is added with no hierarchy path; routing happens later via
// RouteInsertion once the agent has lifted it and candidate paths have
// been computed by the Hierarchy Engine.
func (e *EvolutionEngine) ApplyInsertion(entity Entity) {
	entity.HierarchyPath = ""
	e.store.UpsertEntity(entity, true)
}

// EnqueueInsertionRouting enqueues an already-lifted inserted entity for
// routing against its top-three candidate paths (§4.5 Insertion).
func (e *EvolutionEngine) EnqueueInsertionRouting(entityID string, candidatePaths []string) {
	if len(candidatePaths) > 3 {
		candidatePaths = candidatePaths[:3]
	}
	e.store.enqueuePending(PendingRoutingEntry{
		EntityID:       entityID,
		EnqueuedAt:     e.store.Revision(),
		Reason:         "insertion",
		CandidatePaths: candidatePaths,
	})
}

// RoutingDecision is the agent's reply to a pending routing entry: either
// "keep" (leave PriorPath / no path, for insertions with no prior path
// this is invalid) or a strict three-segment existing path.
type RoutingDecision struct {
	EntityID string
	Keep     bool
	Path     string
	// SubmittedRevision is the graph_revision the agent observed when
	// making the decision (§4.5 stale-decision protection).
	SubmittedRevision uint64
}

// ApplyRoutingDecisions resolves a batch of routing decisions against the
// pending list. Entries whose stored revision no longer matches the
// decision's SubmittedRevision are rejected with StaleRevision and left
// pending. A decision naming a non-"keep" path that does not exist is
// rejected with InvalidDecision and left pending.
func (e *EvolutionEngine) ApplyRoutingDecisions(decisions []RoutingDecision) []error {
	errs := make([]error, 0, len(decisions))

	for _, d := range decisions {
		entry, found := e.store.findPending(d.EntityID)
		if !found {
			errs = append(errs, newErr(KindUnknownEntity, "no pending routing entry for %q", d.EntityID))
			continue
		}
		if entry.EnqueuedAt != d.SubmittedRevision {
			errs = append(errs, newErr(KindStaleRevision,
				"pending routing entry for %q was enqueued at revision %d but decision references %d",
				d.EntityID, entry.EnqueuedAt, d.SubmittedRevision))
			continue
		}

		targetPath := entry.PriorPath
		if !d.Keep {
			if _, ok := e.store.GetHierarchyNode(d.Path); !ok {
				errs = append(errs, newErr(KindInvalidDecision, "path %q does not name an existing hierarchy node", d.Path))
				continue
			}
			if len(splitPath(d.Path)) != 3 {
				errs = append(errs, newErr(KindInvalidDecision, "path %q must name a full Area/category/subcategory", d.Path))
				continue
			}
			targetPath = d.Path
		}
		if targetPath == "" {
			errs = append(errs, newErr(KindInvalidDecision, "entity %q has no prior path to keep; a path must be chosen", d.EntityID))
			continue
		}

		if err := e.store.AssignHierarchyPath(d.EntityID, targetPath); err != nil {
			errs = append(errs, err)
			continue
		}
		e.store.removePending(d.EntityID)
		errs = append(errs, nil)
	}
	return errs
}

// DrainPending implements the finalize_lifting fallback (§4.5): every
// remaining pending entry is routed to the Jaccard-nearest area among
// areaFeatures (area name -> aggregated feature set), with a
// deterministic lexicographic tie-break on area name.
func (e *EvolutionEngine) DrainPending(areaFeatures map[string][]string) []ModifyResult {
	pending := e.store.allPending()
	results := make([]ModifyResult, 0, len(pending))

	areas := make([]string, 0, len(areaFeatures))
	for a := range areaFeatures {
		areas = append(areas, a)
	}
	sort.Strings(areas)

	for _, entry := range pending {
		entity, ok := e.store.GetEntity(entry.EntityID)
		if !ok {
			e.store.removePending(entry.EntityID)
			continue
		}

		bestArea := ""
		bestDistance := 2.0 // worse than any real Jaccard distance (max 1.0)
		for _, area := range areas {
			d := jaccardDistance(entity.Features, areaFeatures[area])
			if d < bestDistance {
				bestDistance = d
				bestArea = area
			}
		}
		if bestArea == "" {
			continue
		}

		nodes := e.store.hierarchyNodesUnderArea(bestArea)
		targetPath := bestArea
		if len(nodes) > 0 {
			sort.Strings(nodes)
			targetPath = nodes[0]
		}

		if err := e.store.AssignHierarchyPath(entry.EntityID, targetPath); err == nil {
			e.store.removePending(entry.EntityID)
			results = append(results, ModifyResult{
				EntityID: entry.EntityID,
				Zone:     DriftZone(entry.DriftZone),
				Distance: bestDistance,
			})
		}
	}
	return results
}

// hierarchyNodesUnderArea returns the full three-segment subcategory
// paths rooted at area, sorted.
func (s *Store) hierarchyNodesUnderArea(area string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for p := range s.hierarchy {
		segs := splitPath(p)
		if len(segs) == 3 && segs[0] == area {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) enqueuePending(entry PendingRoutingEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.pending {
		if existing.EntityID == entry.EntityID {
			s.pending[i] = entry
			return
		}
	}
	s.pending = append(s.pending, entry)
}

func (s *Store) findPending(entityID string) (PendingRoutingEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.pending {
		if e.EntityID == entityID {
			return e, true
		}
	}
	return PendingRoutingEntry{}, false
}

func (s *Store) removePending(entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending[:0]
	for _, e := range s.pending {
		if e.EntityID != entityID {
			out = append(out, e)
		}
	}
	s.pending = out
}

// PendingRoutingEntries returns every entity currently awaiting
// hierarchy placement, sorted by entity id — the get_routing_candidates
// tool's data source.
func (s *Store) PendingRoutingEntries() []PendingRoutingEntry {
	return s.allPending()
}

func (s *Store) allPending() []PendingRoutingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]PendingRoutingEntry(nil), s.pending...)
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
