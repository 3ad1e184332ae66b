package rpg

import (
	"sort"
	"strings"
)

// Ground recomputes the anchor directory of every installed hierarchy node
// as the longest path prefix shared by all leaves transitively under it —
// the lowest common ancestor over the file-path trie (§4.2).
//
// Edge cases (§4.2): a node with a single leaf anchors at that leaf's
// parent directory; a node with no leaves is pruned; leaves sharing no
// prefix beyond the repository root anchor at the root.
//
// The trie is rebuilt fresh from the current leaf set on each call rather
// than maintained incrementally, since grounding only runs after a batch
// of hierarchy/containment changes, not on every single mutation.
func (s *Store) Ground() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path, node := range s.hierarchy {
		leafPaths := s.transitiveLeafPathsLocked(path)
		if len(leafPaths) == 0 {
			s.pruneEmptyChain(path)
			continue
		}
		node.Anchor = lowestCommonAncestor(leafPaths)
	}
	s.bump()
}

// transitiveLeafPathsLocked collects the file paths of every leaf
// contained directly under hierPath or under any of its descendant
// hierarchy nodes. Callers must hold mu.
func (s *Store) transitiveLeafPathsLocked(hierPath string) []string {
	var paths []string
	seen := make(map[string]bool)

	var visit func(p string)
	visit = func(p string) {
		if seen[p] {
			return
		}
		seen[p] = true
		for leafID := range s.byHierPath[p] {
			if leaf, ok := s.entities[leafID]; ok {
				paths = append(paths, leaf.FilePath)
			}
		}
		if node, ok := s.hierarchy[p]; ok {
			for _, child := range node.Children {
				visit(child)
			}
		}
	}
	visit(hierPath)
	return paths
}

// lowestCommonAncestor returns the longest directory prefix shared by
// every path in paths (a path-segment trie LCA, not a byte-prefix one).
// If paths holds a single entry, the anchor is that entry's parent
// directory. If no common prefix exists beyond the root, "" (repository
// root) is returned.
func lowestCommonAncestor(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	if len(paths) == 1 {
		return parentDir(paths[0])
	}

	segLists := make([][]string, len(paths))
	minLen := -1
	for i, p := range paths {
		segs := strings.Split(parentDir(p), "/")
		segLists[i] = segs
		if minLen == -1 || len(segs) < minLen {
			minLen = len(segs)
		}
	}

	var common []string
	for i := 0; i < minLen; i++ {
		seg := segLists[0][i]
		for _, segs := range segLists[1:] {
			if segs[i] != seg {
				return strings.Join(common, "/")
			}
		}
		common = append(common, seg)
	}
	return strings.Join(common, "/")
}

func parentDir(filePath string) string {
	idx := strings.LastIndex(filePath, "/")
	if idx < 0 {
		return ""
	}
	return filePath[:idx]
}

// MaterializeContains installs Contains edges for every leaf that already
// carries a HierarchyPath but lacks the corresponding edge — used after a
// bulk load or hierarchy rebuild where leaf.HierarchyPath was set directly.
func (s *Store) MaterializeContains() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := s.entities[id]
		if e.HierarchyPath == "" {
			continue
		}
		if _, ok := s.hierarchy[e.HierarchyPath]; !ok {
			continue
		}
		edge := DependencyEdge{Source: id, Target: e.HierarchyPath, Kind: EdgeContains}
		if _, exists := s.edges[edge.Key()]; !exists {
			s.edges[edge.Key()] = edge
			s.adjacency.add(edge)
		}
	}
	s.bump()
}

// ResolveDependencyHints converts symbolic dependency hints supplied by
// the parser collaborator (e.g. an imported module name, an invoked
// function's unqualified name) into concrete DependencyEdges, dropping
// any hint whose target cannot be located in the current entity set
// (§4.2c). resolver maps a hint string to a candidate entity id, or ""
// if unresolvable; it is supplied by the caller since hint resolution is
// language- and hint-shape-specific.
func (s *Store) ResolveDependencyHints(source string, hints []DependencyHint, resolver func(hint string) string) []DependencyEdge {
	var resolved []DependencyEdge
	for _, h := range hints {
		targetID := resolver(h.Target)
		if targetID == "" {
			continue
		}
		edge := DependencyEdge{Source: source, Target: targetID, Kind: h.Kind}
		if err := s.AddEdge(edge); err == nil {
			resolved = append(resolved, edge)
		}
	}
	return resolved
}

// DependencyHint is a symbolic (unresolved) dependency reported by the
// parser collaborator, to be resolved against the current entity set.
type DependencyHint struct {
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
}
