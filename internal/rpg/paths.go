package rpg

import "sort"

// Path is an ordered sequence of entity ids connected by dependency
// edges, plus its edge list.
type Path struct {
	Nodes []string
	Edges []DependencyEdge
	Cost  int // hop count
}

// KShortestPaths returns up to k loopless shortest paths from source to
// target using Yen's algorithm over the dependency-edge set (§4.4 Path
// queries). maxHops bounds path length (-1 means unbounded). allowKinds,
// if non-empty, restricts traversal to those edge kinds.
func (se *SearchEngine) KShortestPaths(source, target string, k, maxHops int, allowKinds map[EdgeKind]bool) []Path {
	adj := se.buildAdjacency(allowKinds)

	first, ok := shortestPath(adj, source, target, maxHops, nil, nil)
	if !ok {
		return nil
	}
	first.Edges = edgesAlong(adj, first.Nodes)

	paths := []Path{first}
	var candidates []Path

	for len(paths) < k {
		last := paths[len(paths)-1]
		for i := 0; i < len(last.Nodes)-1; i++ {
			spurNode := last.Nodes[i]
			rootNodes := append([]string(nil), last.Nodes[:i+1]...)

			removedEdges := make(map[string]bool)
			for _, p := range paths {
				if len(p.Nodes) > i && sameSlice(p.Nodes[:i+1], rootNodes) {
					if i+1 < len(p.Nodes) {
						removedEdges[edgeKey(p.Nodes[i], p.Nodes[i+1])] = true
					}
				}
			}
			removedNodes := make(map[string]bool)
			for _, n := range rootNodes[:len(rootNodes)-1] {
				removedNodes[n] = true
			}

			spurPath, ok := shortestPath(adj, spurNode, target, maxHops-i, removedNodes, removedEdges)
			if !ok {
				continue
			}

			totalNodes := append(append([]string(nil), rootNodes[:len(rootNodes)-1]...), spurPath.Nodes...)
			if pathAlreadyKnown(paths, totalNodes) || pathAlreadyKnown(candidates, totalNodes) {
				continue
			}
			candidates = append(candidates, Path{
				Nodes: totalNodes,
				Cost:  len(totalNodes) - 1,
			})
		}

		if len(candidates) == 0 {
			break
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Cost < candidates[j].Cost })
		next := candidates[0]
		candidates = candidates[1:]
		next.Edges = edgesAlong(adj, next.Nodes)
		paths = append(paths, next)
	}

	return paths
}

func pathAlreadyKnown(paths []Path, nodes []string) bool {
	for _, p := range paths {
		if sameSlice(p.Nodes, nodes) {
			return true
		}
	}
	return false
}

func sameSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type pathAdjacency map[string][]DependencyEdge

func (se *SearchEngine) buildAdjacency(allowKinds map[EdgeKind]bool) pathAdjacency {
	adj := make(pathAdjacency)
	for _, e := range se.store.AllEdges() {
		if e.Kind == EdgeContains {
			continue
		}
		if len(allowKinds) > 0 && !allowKinds[e.Kind] {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e)
	}
	return adj
}

func edgeKey(source, target string) string {
	return source + "\x00" + target
}

// shortestPath is a breadth-first search (edges are unweighted; cost is
// hop count) honoring removedNodes/removedEdges exclusions for Yen's
// spur-path step.
func shortestPath(adj pathAdjacency, source, target string, maxHops int, removedNodes, removedEdges map[string]bool) (Path, bool) {
	type queueEntry struct {
		node string
		path []string
	}
	visited := map[string]bool{source: true}
	queue := []queueEntry{{node: source, path: []string{source}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.node == target {
			return Path{Nodes: cur.path, Cost: len(cur.path) - 1}, true
		}
		if maxHops >= 0 && len(cur.path)-1 >= maxHops {
			continue
		}

		for _, e := range adj[cur.node] {
			if removedNodes[e.Target] || removedEdges[edgeKey(e.Source, e.Target)] {
				continue
			}
			if visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			queue = append(queue, queueEntry{node: e.Target, path: append(append([]string(nil), cur.path...), e.Target)})
		}
	}
	return Path{}, false
}

func edgesAlong(adj pathAdjacency, nodes []string) []DependencyEdge {
	var out []DependencyEdge
	for i := 0; i < len(nodes)-1; i++ {
		for _, e := range adj[nodes[i]] {
			if e.Target == nodes[i+1] {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
