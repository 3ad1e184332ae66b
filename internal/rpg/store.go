package rpg

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// SchemaVersion is bumped whenever the on-disk graph.json shape changes
// incompatibly. A mismatch at load time is a SchemaMismatch error (§7).
const SchemaVersion = 1

// Store is the GraphStore (§4.1): it holds the graph, enforces its
// invariants, and provides O(1) lookup by entity id and by hierarchy path.
//
// Concurrency model (§5): single writer, multiple readers. All mutations
// acquire mu for writing; reads acquire it for reading and observe an
// immutable snapshot captured at call start — indices are only ever
// updated atomically as part of a write-locked mutation, so a reader
// never sees a half-updated index.
type Store struct {
	mu sync.RWMutex

	schemaVersion int
	revision      uint64

	entities   EntityIndex
	hierarchy  map[string]*HierarchyNode
	edges      map[string]DependencyEdge // keyed by Key() for dedup
	adjacency  *adjacency
	files      fileIndex
	byHierPath hierarchyIndex

	pending []PendingRoutingEntry
}

// NewStore creates an empty GraphStore at schema version SchemaVersion,
// revision 0.
func NewStore() *Store {
	return &Store{
		schemaVersion: SchemaVersion,
		entities:      make(EntityIndex),
		hierarchy:     make(map[string]*HierarchyNode),
		edges:         make(map[string]DependencyEdge),
		adjacency:     newAdjacency(),
		files:         make(fileIndex),
		byHierPath:    make(hierarchyIndex),
	}
}

// ReplaceWith swaps in the data of other wholesale, used by reload_rpg to
// discard in-memory state in favor of a freshly-loaded Store without
// invalidating the *Store pointers held by the engines wired against it.
func (s *Store) ReplaceWith(other *Store) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schemaVersion = other.schemaVersion
	s.revision = other.revision
	s.entities = other.entities
	s.hierarchy = other.hierarchy
	s.edges = other.edges
	s.adjacency = other.adjacency
	s.files = other.files
	s.byHierPath = other.byHierPath
	s.pending = other.pending
}

// Revision returns the current graph_revision.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// bump advances graph_revision. Callers must hold mu for writing.
func (s *Store) bump() {
	// Derived from last-update timestamp per §3, but kept strictly
	// monotonic even under rapid successive calls within the same
	// nanosecond-resolution tick by falling back to a simple increment.
	now := uint64(time.Now().UnixNano())
	if now > s.revision {
		s.revision = now
	} else {
		s.revision++
	}
}

// UpsertEntity inserts or merges an entity (§4.1). If e.ID already exists,
// existing features are preserved unless the caller passes
// overwriteFeatures=true to overwrite them — this lets a re-parse of unchanged
// source retain agent-supplied features (S1: rebuild preserves features).
func (s *Store) UpsertEntity(e Entity, overwriteFeatures bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Features = normalizeFeatures(e.Features)

	existing, ok := s.entities[e.ID]
	if ok {
		if !overwriteFeatures {
			e.Features = existing.Features
			e.Provenance = existing.Provenance
			e.Fingerprint = existing.Fingerprint
		}
		if e.HierarchyPath == "" {
			e.HierarchyPath = existing.HierarchyPath
		}
		s.files.remove(existing.FilePath, existing.ID)
		if existing.HierarchyPath != "" {
			s.byHierPath.remove(existing.HierarchyPath, existing.ID)
		}
	}

	cp := e
	s.entities[cp.ID] = &cp
	s.files.add(cp.FilePath, cp.ID)
	if cp.HierarchyPath != "" {
		s.byHierPath.add(cp.HierarchyPath, cp.ID)
	}
	s.bump()
}

// GetEntity returns the entity with the given id, if present.
func (s *Store) GetEntity(id string) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// RemoveEntity removes a leaf, all edges touching it, its Contains edge,
// and prunes any hierarchy node left empty as a result (§4.1, Algorithm 2).
func (s *Store) RemoveEntity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeEntityLocked(id)
}

func (s *Store) removeEntityLocked(id string) error {
	e, ok := s.entities[id]
	if !ok {
		return newErr(KindUnknownEntity, "entity %q does not exist", id)
	}

	removed := s.adjacency.removeAll(id)
	for _, edge := range removed {
		delete(s.edges, edge.Key())
	}

	s.files.remove(e.FilePath, id)

	hierPath := e.HierarchyPath
	if hierPath != "" {
		s.byHierPath.remove(hierPath, id)
	}

	delete(s.entities, id)

	if hierPath != "" {
		s.pruneEmptyChain(hierPath)
	}

	s.bump()
	return nil
}

// pruneEmptyChain recursively removes path and any ancestor that becomes
// childless-and-leafless as a result, then re-aggregates the features of
// surviving ancestors. Callers must hold mu for writing.
func (s *Store) pruneEmptyChain(leafPath string) {
	segs := splitPath(leafPath)
	for len(segs) > 0 {
		p := strings.Join(segs, "/")
		node, ok := s.hierarchy[p]
		if !ok {
			break
		}
		leaves := s.byHierPath[p]
		hasChildren := false
		for _, childPath := range node.Children {
			if _, ok := s.hierarchy[childPath]; ok {
				hasChildren = true
				break
			}
		}
		if len(leaves) == 0 && !hasChildren {
			delete(s.hierarchy, p)
			s.removeChildFromParent(segs)
			segs = segs[:len(segs)-1]
			continue
		}
		for ; len(segs) > 0; segs = segs[:len(segs)-1] {
			if n, ok := s.hierarchy[strings.Join(segs, "/")]; ok {
				s.reaggregateFeatures(n)
			}
		}
		break
	}
}

func (s *Store) removeChildFromParent(segs []string) {
	if len(segs) < 2 {
		return
	}
	parentPath := strings.Join(segs[:len(segs)-1], "/")
	parent, ok := s.hierarchy[parentPath]
	if !ok {
		return
	}
	childPath := strings.Join(segs, "/")
	out := parent.Children[:0]
	for _, c := range parent.Children {
		if c != childPath {
			out = append(out, c)
		}
	}
	parent.Children = out
}

// reaggregateFeatures recomputes a hierarchy node's aggregated feature set
// as the dedup-sorted union of all transitively-contained leaf features.
func (s *Store) reaggregateFeatures(node *HierarchyNode) {
	set := make(map[string]bool)
	var collect func(p string)
	collect = func(p string) {
		for leafID := range s.byHierPath[p] {
			if leaf, ok := s.entities[leafID]; ok {
				for _, f := range leaf.Features {
					set[f] = true
				}
			}
		}
		if n, ok := s.hierarchy[p]; ok {
			for _, child := range n.Children {
				collect(child)
			}
		}
	}
	collect(node.Path)
	node.Features = sortedKeys(set)
	node.LeafCount = len(s.byHierPath[node.Path])
}

// AddEdge adds a dependency edge idempotently, deduplicating by
// (source, target, kind).
func (s *Store) AddEdge(e DependencyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[e.Source]; !ok {
		return newErr(KindUnknownEntity, "edge source %q does not exist", e.Source)
	}
	if e.Kind != EdgeContains {
		if _, ok := s.entities[e.Target]; !ok {
			return newErr(KindUnknownEntity, "edge target %q does not exist", e.Target)
		}
	} else if _, ok := s.hierarchy[e.Target]; !ok {
		return newErr(KindUnknownPath, "Contains target %q does not exist", e.Target)
	}

	if _, exists := s.edges[e.Key()]; exists {
		return nil
	}
	s.edges[e.Key()] = e
	s.adjacency.add(e)
	s.bump()
	return nil
}

// RemoveEdge removes a dependency edge idempotently.
func (s *Store) RemoveEdge(e DependencyEdge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[e.Key()]; !ok {
		return
	}
	delete(s.edges, e.Key())
	s.adjacency.remove(e)
	s.bump()
}

// Downstream returns the edges leaving entityID.
func (s *Store) Downstream(entityID string) []DependencyEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DependencyEdge(nil), s.adjacency.downstream[entityID]...)
}

// Upstream returns the edges arriving at entityID.
func (s *Store) Upstream(entityID string) []DependencyEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DependencyEdge(nil), s.adjacency.upstream[entityID]...)
}

// AllEdges returns every dependency edge, sorted by (source, target, kind)
// for deterministic iteration.
func (s *Store) AllEdges() []DependencyEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DependencyEdge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// EntitiesInFile returns the ids of leaves defined in path.
func (s *Store) EntitiesInFile(filePath string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.files[filePath])
}

// EntitiesUnderPath returns the ids of leaves contained (directly) under
// a hierarchy path.
func (s *Store) EntitiesUnderPath(hierPath string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.byHierPath[hierPath])
}

// AllEntities returns every entity, sorted by id, for deterministic
// iteration (e.g. batching, serialization).
func (s *Store) AllEntities() []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertHierarchyNode installs or replaces a hierarchy node and wires it
// into its parent's child list.
func (s *Store) UpsertHierarchyNode(node HierarchyNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hierarchy[node.Path] = &node
	segs := splitPath(node.Path)
	if len(segs) > 1 {
		parentPath := strings.Join(segs[:len(segs)-1], "/")
		if parent, ok := s.hierarchy[parentPath]; ok {
			found := false
			for _, c := range parent.Children {
				if c == node.Path {
					found = true
					break
				}
			}
			if !found {
				parent.Children = append(parent.Children, node.Path)
				sort.Strings(parent.Children)
			}
		}
	}
	s.bump()
}

// GetHierarchyNode returns the hierarchy node at path, if installed.
func (s *Store) GetHierarchyNode(hierPath string) (*HierarchyNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.hierarchy[hierPath]
	if !ok {
		return nil, false
	}
	cp := *n
	return &cp, true
}

// AllHierarchyNodes returns every installed hierarchy node, sorted by path.
func (s *Store) AllHierarchyNodes() []*HierarchyNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*HierarchyNode, 0, len(s.hierarchy))
	for _, n := range s.hierarchy {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// KnownAreas returns the distinct top-level area names among installed
// hierarchy nodes, sorted.
func (s *Store) KnownAreas() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]bool)
	for p := range s.hierarchy {
		set[splitPath(p)[0]] = true
	}
	return sortedKeys(set)
}

// AssignHierarchyPath sets a leaf's hierarchy path, materializing the
// Contains edge and updating indices. The hierarchy node at hierPath must
// already exist.
func (s *Store) AssignHierarchyPath(entityID, hierPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return newErr(KindUnknownEntity, "entity %q does not exist", entityID)
	}
	node, ok := s.hierarchy[hierPath]
	if !ok {
		return newErr(KindInvalidHierarchyPath, "hierarchy path %q does not exist", hierPath)
	}

	if e.HierarchyPath != "" && e.HierarchyPath != hierPath {
		s.byHierPath.remove(e.HierarchyPath, entityID)
		oldContains := DependencyEdge{Source: entityID, Target: e.HierarchyPath, Kind: EdgeContains}
		delete(s.edges, oldContains.Key())
		s.adjacency.remove(oldContains)
		s.pruneEmptyChain(e.HierarchyPath)
	}

	e.HierarchyPath = hierPath
	s.byHierPath.add(hierPath, entityID)
	contains := DependencyEdge{Source: entityID, Target: hierPath, Kind: EdgeContains}
	s.edges[contains.Key()] = contains
	s.adjacency.add(contains)
	s.reaggregateFeatures(node)
	s.bump()
	return nil
}

// Rekey changes an entity's id in place, preserving its features and
// hierarchy path (§3 Identifier invariants, S2: rename rekeys).
func (s *Store) Rekey(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[oldID]
	if !ok {
		return newErr(KindUnknownEntity, "entity %q does not exist", oldID)
	}
	if _, exists := s.entities[newID]; exists {
		return newErr(KindConflict, "entity %q already exists", newID)
	}

	delete(s.entities, oldID)
	e.ID = newID
	s.entities[newID] = e

	s.files.remove(e.FilePath, oldID)
	s.files.add(e.FilePath, newID)

	if e.HierarchyPath != "" {
		s.byHierPath.remove(e.HierarchyPath, oldID)
		s.byHierPath.add(e.HierarchyPath, newID)
	}

	s.rekeyEdgesLocked(oldID, newID)
	s.bump()
	return nil
}

func (s *Store) rekeyEdgesLocked(oldID, newID string) {
	replace := func(edges []DependencyEdge) []DependencyEdge {
		out := make([]DependencyEdge, len(edges))
		for i, e := range edges {
			if e.Source == oldID {
				e.Source = newID
			}
			if e.Target == oldID {
				e.Target = newID
			}
			out[i] = e
		}
		return out
	}

	newEdges := make(map[string]DependencyEdge, len(s.edges))
	for _, e := range s.edges {
		if e.Source == oldID {
			e.Source = newID
		}
		if e.Target == oldID {
			e.Target = newID
		}
		newEdges[e.Key()] = e
	}
	s.edges = newEdges

	newAdj := newAdjacency()
	for src, edges := range s.adjacency.downstream {
		if src == oldID {
			src = newID
		}
		newAdj.downstream[src] = replace(edges)
	}
	for dst, edges := range s.adjacency.upstream {
		if dst == oldID {
			dst = newID
		}
		newAdj.upstream[dst] = replace(edges)
	}
	s.adjacency = newAdj
}

// normalizeFeatures enforces the feature-normalization invariant (§3):
// trimmed, lower-cased, ≤8 words, no terminal punctuation, sort+dedup.
func normalizeFeatures(features []string) []string {
	set := make(map[string]bool, len(features))
	for _, f := range features {
		nf := normalizeFeature(f)
		if nf != "" {
			set[nf] = true
		}
	}
	return sortedKeys(set)
}

func normalizeFeature(f string) string {
	f = strings.TrimSpace(strings.ToLower(f))
	f = strings.TrimRight(f, ".!?;:,")
	words := strings.Fields(f)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}


// anchorDirectory derives a plausible directory for a hierarchy path when
// no leaves are attached yet, used only as a fallback label; Grounding
// (lca.go) computes the authoritative anchor from actual leaf paths.
func anchorDirectory(filePath string) string {
	return path.Dir(filePath)
}
