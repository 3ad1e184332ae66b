package rpg

import "sort"

// Slice is the minimal connecting subgraph between two entities.
type Slice struct {
	Nodes []string
	Edges []DependencyEdge
}

// SliceBetween computes the minimal vertex and edge set connecting A to
// B: a Steiner-tree approximation over the directed dependency graph
// (§4.4 Slice). Implementation: union the node/edge sets of the k
// shortest loopless paths between A and B (k capped at a small constant
// since a full NP-hard Steiner solve is out of scope for an in-process
// query); returned edges are exactly those lying on at least one
// returned path, matching the spec's definition directly.
func (se *SearchEngine) SliceBetween(a, b string, maxHops int) Slice {
	const kPaths = 5
	paths := se.KShortestPaths(a, b, kPaths, maxHops, nil)

	nodeSet := make(map[string]bool)
	edgeSet := make(map[string]DependencyEdge)
	for _, p := range paths {
		for _, n := range p.Nodes {
			nodeSet[n] = true
		}
		for _, e := range p.Edges {
			edgeSet[e.Key()] = e
		}
	}

	nodes := sortedStringKeys(nodeSet)
	edges := make([]DependencyEdge, 0, len(edgeSet))
	for _, e := range edgeSet {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})

	return Slice{Nodes: nodes, Edges: edges}
}

func sortedStringKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ImpactRadius returns every entity reachable downstream from entityID
// within maxHops (or unbounded if maxHops < 0), grouped by hop distance —
// used to answer "what breaks if I change this" queries.
func (se *SearchEngine) ImpactRadius(entityID string, maxHops int) map[int][]string {
	visited := map[string]int{entityID: 0}
	frontier := []string{entityID}
	hop := 0

	for len(frontier) > 0 && (maxHops < 0 || hop < maxHops) {
		hop++
		var next []string
		for _, id := range frontier {
			for _, e := range se.store.Downstream(id) {
				if e.Kind == EdgeContains {
					continue
				}
				if _, seen := visited[e.Target]; seen {
					continue
				}
				visited[e.Target] = hop
				next = append(next, e.Target)
			}
		}
		frontier = next
	}

	byHop := make(map[int][]string)
	for id, h := range visited {
		if h == 0 {
			continue // exclude the origin itself
		}
		byHop[h] = append(byHop[h], id)
	}
	for h := range byHop {
		sort.Strings(byHop[h])
	}
	return byHop
}

// PlanChange fetches search results plus the impact radius of each top
// hit, combined into a single payload a caller can pass to an agent
// planning a change — the "plan_change" operation's core logic, with
// presentation left to the Protocol Facade.
type PlanChangeResult struct {
	Hits   []SearchResult
	Impact map[string]map[int][]string
}

// PlanChange runs SearchNode, then computes the impact radius of each
// returned hit.
func (se *SearchEngine) PlanChange(query string, filters Filters, limit, impactHops int) PlanChangeResult {
	hits := se.SearchNode(query, filters, nil, DiffBoost{}, limit, 10)
	impact := make(map[string]map[int][]string, len(hits))
	for _, h := range hits {
		impact[h.EntityID] = se.ImpactRadius(h.EntityID, impactHops)
	}
	return PlanChangeResult{Hits: hits, Impact: impact}
}
