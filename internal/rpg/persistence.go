package rpg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
)

// persistedGraph is the deterministic on-disk shape of .rpg/graph.json.
// Field order here is irrelevant to byte-stability — what matters is that
// encoding/json emits the Entities and Hierarchy map keys in sorted order
// and every slice (the edge list, each node's children) is pre-sorted
// before marshaling, so a human diff (and a byte-for-byte round trip)
// stays stable.
type persistedGraph struct {
	SchemaVersion int                       `json:"schema_version"`
	GraphRevision uint64                    `json:"graph_revision"`
	Entities      map[string]*Entity        `json:"entities"`
	Edges         []DependencyEdge          `json:"edges"`
	Hierarchy     map[string]*HierarchyNode `json:"hierarchy"`
}

// Save writes the graph to path as deterministic JSON: write-temp, fsync,
// atomic rename (§4.1, §5 resource policy). A reloaded graph is
// byte-identical to the pre-save image (§8 property 1).
func (s *Store) Save(path string) error {
	s.mu.RLock()
	doc := s.snapshotLocked()
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return wrapErr(KindCorruptStore, err, "marshaling graph")
	}

	return atomicWriteFile(path, data)
}

// snapshotLocked builds the deterministic persisted form. Callers must
// hold at least a read lock.
func (s *Store) snapshotLocked() persistedGraph {
	entities := make(map[string]*Entity, len(s.entities))
	for id, e := range s.entities {
		cp := *e
		entities[id] = &cp
	}

	edges := make([]DependencyEdge, 0, len(s.edges))
	for _, e := range s.edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Kind < edges[j].Kind
	})

	hierarchy := make(map[string]*HierarchyNode, len(s.hierarchy))
	for p, n := range s.hierarchy {
		cp := *n
		sort.Strings(cp.Children)
		hierarchy[p] = &cp
	}

	return persistedGraph{
		SchemaVersion: s.schemaVersion,
		GraphRevision: s.revision,
		Entities:      entities,
		Edges:         edges,
		Hierarchy:     hierarchy,
	}
}

// Load reads a graph previously written by Save. A schema_version that
// does not match SchemaVersion is a SchemaMismatch error (§7). A
// structurally invalid file is a CorruptStore error.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapErr(KindCorruptStore, err, "reading graph file %s", path)
	}

	var doc persistedGraph
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, wrapErr(KindCorruptStore, err, "parsing graph file %s", path)
	}
	if doc.SchemaVersion != SchemaVersion {
		return nil, newErr(KindSchemaMismatch,
			"graph file schema_version %d does not match supported version %d", doc.SchemaVersion, SchemaVersion)
	}

	s := NewStore()
	s.revision = doc.GraphRevision

	for id, e := range doc.Entities {
		cp := *e
		cp.ID = id
		s.entities[id] = &cp
		s.files.add(cp.FilePath, id)
		if cp.HierarchyPath != "" {
			s.byHierPath.add(cp.HierarchyPath, id)
		}
	}

	for p, n := range doc.Hierarchy {
		cp := *n
		cp.Path = p
		s.hierarchy[p] = &cp
	}

	for _, e := range doc.Edges {
		if err := validateEdgeEndpoints(s, e); err != nil {
			return nil, err
		}
		s.edges[e.Key()] = e
		s.adjacency.add(e)
	}

	return s, nil
}

func validateEdgeEndpoints(s *Store, e DependencyEdge) error {
	if _, ok := s.entities[e.Source]; !ok {
		return newErr(KindCorruptStore, "edge references unknown source %q", e.Source)
	}
	if e.Kind == EdgeContains {
		if _, ok := s.hierarchy[e.Target]; !ok {
			return newErr(KindCorruptStore, "Contains edge references unknown hierarchy path %q", e.Target)
		}
		return nil
	}
	if _, ok := s.entities[e.Target]; !ok {
		return newErr(KindCorruptStore, "edge references unknown target %q", e.Target)
	}
	return nil
}

// atomicWriteFile writes data to path via a temp file in the same
// directory, fsync, then rename — so a crash mid-write never leaves a
// corrupt file at path, and a concurrent second process is kept out by
// an advisory lock on path+".lock" for the duration of the write.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wrapErr(KindCorruptStore, err, "creating directory %s", dir)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return wrapErr(KindConflict, err, "acquiring write lock for %s", path)
	}
	if !locked {
		return newErr(KindConflict, "another process is writing %s", path)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return wrapErr(KindCorruptStore, err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return wrapErr(KindCorruptStore, err, "writing temp file %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return wrapErr(KindCorruptStore, err, "fsyncing temp file %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return wrapErr(KindCorruptStore, err, "closing temp file %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return wrapErr(KindCorruptStore, err, "renaming %s to %s", tmpName, path)
	}
	return nil
}

// SavePendingRouting persists the pending-routing list alongside its
// stored graph_revision tags (§6 .rpg/pending_routing.json).
func (s *Store) SavePendingRouting(path string) error {
	s.mu.RLock()
	entries := append([]PendingRoutingEntry(nil), s.pending...)
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].EntityID < entries[j].EntityID })

	data, err := json.MarshalIndent(struct {
		Pending []PendingRoutingEntry `json:"pending"`
	}{Pending: entries}, "", "  ")
	if err != nil {
		return wrapErr(KindCorruptStore, err, "marshaling pending routing")
	}
	return atomicWriteFile(path, data)
}

// LoadPendingRouting reads the pending-routing list into the store. Absence
// of the file is not an error (a fresh graph has no pending entries).
func (s *Store) LoadPendingRouting(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return wrapErr(KindCorruptStore, err, "reading pending routing file %s", path)
	}

	var doc struct {
		Pending []PendingRoutingEntry `json:"pending"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return wrapErr(KindCorruptStore, err, "parsing pending routing file %s", path)
	}

	s.mu.Lock()
	s.pending = doc.Pending
	s.mu.Unlock()
	return nil
}
