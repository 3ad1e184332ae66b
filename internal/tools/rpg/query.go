package rpg

import (
	"context"
	"encoding/json"

	"github.com/rpgmcp/rpgmcp/internal/guards"
	"github.com/rpgmcp/rpgmcp/internal/mcp"
	"github.com/rpgmcp/rpgmcp/internal/rpg"
	"github.com/rpgmcp/rpgmcp/internal/service"
)

// FilterInput mirrors rpg.Filters for the wire shape.
type FilterInput struct {
	HierarchyScope string `json:"hierarchy_scope"`
	FilePattern    string `json:"file_pattern"`
	EntityKind     string `json:"entity_kind"`
	LineMin        int    `json:"line_min"`
	LineMax        int    `json:"line_max"`
}

func (f FilterInput) toFilters() rpg.Filters {
	return rpg.Filters{
		HierarchyScope: f.HierarchyScope,
		FilePattern:    f.FilePattern,
		EntityKind:     rpg.EntityKind(f.EntityKind),
		LineMin:        f.LineMin,
		LineMax:        f.LineMax,
	}
}

// SearchNode implements search_node{query, filters?, changed_entities?, limit?}.
// It has no search-mode, scope or since_commit parameter; diff boosting
// takes the changed entity ids directly.
type SearchNode struct {
	svc *service.Service
}

func NewSearchNode(svc *service.Service) *SearchNode { return &SearchNode{svc: svc} }

func (t *SearchNode) Name() string        { return "search_node" }
func (t *SearchNode) Description() string { return "Hybrid lexical+semantic search over the graph, with optional diff-aware boosting." }
func (t *SearchNode) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"filters": {
				"type": "object",
				"properties": {
					"hierarchy_scope": {"type": "string"},
					"file_pattern": {"type": "string"},
					"entity_kind": {"type": "string"},
					"line_min": {"type": "integer"},
					"line_max": {"type": "integer"}
				}
			},
			"changed_entities": {"type": "array", "items": {"type": "string"}, "description": "entity ids changed since since_commit"},
			"limit": {"type": "integer", "default": 10}
		},
		"required": ["query"]
	}`)
}

type searchNodeParams struct {
	Query           string       `json:"query"`
	Filters         FilterInput  `json:"filters"`
	ChangedEntities []string     `json:"changed_entities"`
	Limit           int          `json:"limit"`
}

func (t *SearchNode) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p searchNodeParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = t.svc.Cfg.Navigation.SearchResultLimit
	}

	var changed map[string]bool
	var boost rpg.DiffBoost
	if len(p.ChangedEntities) > 0 {
		changed = make(map[string]bool, len(p.ChangedEntities))
		for _, id := range p.ChangedEntities {
			changed[id] = true
		}
		boost = t.svc.DiffBoost()
	}

	results := t.svc.Search.SearchNode(p.Query, p.Filters.toFilters(), changed, boost, limit, t.svc.Cfg.Navigation.DiffCandidateMultiple)
	return mcp.JSONResult(map[string]any{
		"results":        results,
		"graph_revision": t.svc.Store.Revision(),
	})
}

// FetchNode implements fetch_node{id}. It always returns the whole entity
// view; there is no field selection.
type FetchNode struct {
	svc    *service.Service
	runner *guards.Runner
}

func NewFetchNode(svc *service.Service) *FetchNode {
	return &FetchNode{svc: svc, runner: guards.NewRunner()}
}

func (t *FetchNode) Name() string        { return "fetch_node" }
func (t *FetchNode) Description() string { return "Fetch a single entity by id." }
func (t *FetchNode) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"id": {"type": "string"}},
		"required": ["id"]
	}`)
}

type fetchNodeParams struct {
	ID string `json:"id"`
}

func (t *FetchNode) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p fetchNodeParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	gctx := guardContextFor(t.svc, p.ID, "", 0, false)
	outcome := t.runner.Run(ctx, gctx, guards.QueryGuards())
	if outcome.Blocked {
		return mcp.ErrorResult(outcome.FormatBlockMessage()), nil
	}
	e, _ := t.svc.Store.GetEntity(p.ID)
	return mcp.JSONResult(viewEntity(e))
}

// ExploreRPG implements explore_rpg{id, direction, depth, edge_kinds?}.
type ExploreRPG struct {
	svc    *service.Service
	runner *guards.Runner
}

func NewExploreRPG(svc *service.Service) *ExploreRPG {
	return &ExploreRPG{svc: svc, runner: guards.NewRunner()}
}

func (t *ExploreRPG) Name() string        { return "explore_rpg" }
func (t *ExploreRPG) Description() string { return "Walk dependency edges outward from an entity, breadth-first, up to depth hops." }
func (t *ExploreRPG) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"direction": {"type": "string", "enum": ["downstream", "upstream"], "default": "downstream"},
			"depth": {"type": "integer", "default": 1},
			"edge_kinds": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["id"]
	}`)
}

type exploreRPGParams struct {
	ID        string   `json:"id"`
	Direction string   `json:"direction"`
	Depth     int      `json:"depth"`
	EdgeKinds []string `json:"edge_kinds"`
}

func (t *ExploreRPG) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p exploreRPGParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	gctx := guardContextFor(t.svc, p.ID, "", 0, false)
	outcome := t.runner.Run(ctx, gctx, guards.QueryGuards())
	if outcome.Blocked {
		return mcp.ErrorResult(outcome.FormatBlockMessage()), nil
	}

	allow := parseEdgeKinds(p.EdgeKinds)
	depth := p.Depth
	if depth <= 0 {
		depth = 1
	}

	visited := map[string]bool{p.ID: true}
	frontier := []string{p.ID}
	var edges []rpg.DependencyEdge
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			var incident []rpg.DependencyEdge
			if p.Direction == "upstream" {
				incident = t.svc.Store.Upstream(id)
			} else {
				incident = t.svc.Store.Downstream(id)
			}
			for _, e := range incident {
				if e.Kind == rpg.EdgeContains {
					continue
				}
				if len(allow) > 0 && !allow[e.Kind] {
					continue
				}
				edges = append(edges, e)
				neighbor := e.Target
				if p.Direction == "upstream" {
					neighbor = e.Source
				}
				if !visited[neighbor] {
					visited[neighbor] = true
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}

	nodes := make([]string, 0, len(visited))
	for id := range visited {
		nodes = append(nodes, id)
	}
	return mcp.JSONResult(map[string]any{
		"nodes":          nodes,
		"edges":          viewEdges(edges),
		"graph_revision": t.svc.Store.Revision(),
	})
}

// ContextPack implements context_pack{query, budget}.
type ContextPack struct {
	svc *service.Service
}

func NewContextPack(svc *service.Service) *ContextPack { return &ContextPack{svc: svc} }

func (t *ContextPack) Name() string        { return "context_pack" }
func (t *ContextPack) Description() string { return "Search, fetch neighbor context, and prune to fit a token budget." }
func (t *ContextPack) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"budget": {"type": "integer", "default": 4000},
			"limit": {"type": "integer", "default": 10}
		},
		"required": ["query"]
	}`)
}

type contextPackParams struct {
	Query  string `json:"query"`
	Budget int    `json:"budget"`
	Limit  int    `json:"limit"`
}

func (t *ContextPack) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p contextPackParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	budget := p.Budget
	if budget <= 0 {
		budget = 4000
	}
	limit := p.Limit
	if limit <= 0 {
		limit = t.svc.Cfg.Navigation.SearchResultLimit
	}
	pack := t.svc.Search.BuildContextPack(p.Query, rpg.Filters{}, limit, budget)
	return mcp.JSONResult(map[string]any{
		"entries":        pack.Entries,
		"evicted":        pack.Evicted,
		"graph_revision": t.svc.Store.Revision(),
	})
}

// ImpactRadius implements impact_radius{id, max_hops?}. It follows
// downstream edges only; there is no direction parameter.
type ImpactRadius struct {
	svc    *service.Service
	runner *guards.Runner
}

func NewImpactRadius(svc *service.Service) *ImpactRadius {
	return &ImpactRadius{svc: svc, runner: guards.NewRunner()}
}

func (t *ImpactRadius) Name() string        { return "impact_radius" }
func (t *ImpactRadius) Description() string { return "Entities reachable downstream from id, grouped by hop distance." }
func (t *ImpactRadius) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"max_hops": {"type": "integer", "default": -1}
		},
		"required": ["id"]
	}`)
}

type impactRadiusParams struct {
	ID      string `json:"id"`
	MaxHops int    `json:"max_hops"`
}

func (t *ImpactRadius) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	p := impactRadiusParams{MaxHops: -1}
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	gctx := guardContextFor(t.svc, p.ID, "", 0, false)
	outcome := t.runner.Run(ctx, gctx, guards.QueryGuards())
	if outcome.Blocked {
		return mcp.ErrorResult(outcome.FormatBlockMessage()), nil
	}
	byHop := t.svc.Search.ImpactRadius(p.ID, p.MaxHops)
	return mcp.JSONResult(map[string]any{
		"by_hop":         byHop,
		"graph_revision": t.svc.Store.Revision(),
	})
}

// PlanChange implements plan_change{goal}.
type PlanChange struct {
	svc *service.Service
}

func NewPlanChange(svc *service.Service) *PlanChange { return &PlanChange{svc: svc} }

func (t *PlanChange) Name() string        { return "plan_change" }
func (t *PlanChange) Description() string { return "Search for entities relevant to a change goal, plus the impact radius of each top hit." }
func (t *PlanChange) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"goal": {"type": "string"},
			"limit": {"type": "integer", "default": 10},
			"impact_hops": {"type": "integer", "default": 2}
		},
		"required": ["goal"]
	}`)
}

type planChangeParams struct {
	Goal       string `json:"goal"`
	Limit      int    `json:"limit"`
	ImpactHops int    `json:"impact_hops"`
}

func (t *PlanChange) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p planChangeParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = t.svc.Cfg.Navigation.SearchResultLimit
	}
	impactHops := p.ImpactHops
	if impactHops <= 0 {
		impactHops = 2
	}
	result := t.svc.Search.PlanChange(p.Goal, rpg.Filters{}, limit, impactHops)
	return mcp.JSONResult(map[string]any{
		"hits":           result.Hits,
		"impact":         result.Impact,
		"graph_revision": t.svc.Store.Revision(),
	})
}

// FindPaths implements find_paths{a, b, k, max_hops?}.
type FindPaths struct {
	svc    *service.Service
	runner *guards.Runner
}

func NewFindPaths(svc *service.Service) *FindPaths {
	return &FindPaths{svc: svc, runner: guards.NewRunner()}
}

func (t *FindPaths) Name() string        { return "find_paths" }
func (t *FindPaths) Description() string { return "Up to k loopless shortest dependency paths from a to b." }
func (t *FindPaths) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"a": {"type": "string"},
			"b": {"type": "string"},
			"k": {"type": "integer", "default": 3},
			"max_hops": {"type": "integer", "default": -1},
			"edge_kinds": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["a", "b"]
	}`)
}

type findPathsParams struct {
	A         string   `json:"a"`
	B         string   `json:"b"`
	K         int      `json:"k"`
	MaxHops   int      `json:"max_hops"`
	EdgeKinds []string `json:"edge_kinds"`
}

func (t *FindPaths) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p findPathsParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	gctxA := guardContextFor(t.svc, p.A, "", 0, false)
	if outcome := t.runner.Run(ctx, gctxA, guards.QueryGuards()); outcome.Blocked {
		return mcp.ErrorResult(outcome.FormatBlockMessage()), nil
	}
	gctxB := guardContextFor(t.svc, p.B, "", 0, false)
	if outcome := t.runner.Run(ctx, gctxB, guards.QueryGuards()); outcome.Blocked {
		return mcp.ErrorResult(outcome.FormatBlockMessage()), nil
	}

	k := p.K
	if k <= 0 {
		k = 3
	}
	maxHops := p.MaxHops
	if maxHops == 0 {
		maxHops = -1
	}
	paths := t.svc.Search.KShortestPaths(p.A, p.B, k, maxHops, parseEdgeKinds(p.EdgeKinds))
	return mcp.JSONResult(map[string]any{
		"paths":          paths,
		"graph_revision": t.svc.Store.Revision(),
	})
}

// SliceBetween implements slice_between{a, b}.
type SliceBetween struct {
	svc    *service.Service
	runner *guards.Runner
}

func NewSliceBetween(svc *service.Service) *SliceBetween {
	return &SliceBetween{svc: svc, runner: guards.NewRunner()}
}

func (t *SliceBetween) Name() string        { return "slice_between" }
func (t *SliceBetween) Description() string { return "Minimal connecting subgraph between two entities (Steiner-tree approximation)." }
func (t *SliceBetween) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"a": {"type": "string"},
			"b": {"type": "string"},
			"max_hops": {"type": "integer", "default": -1}
		},
		"required": ["a", "b"]
	}`)
}

type sliceBetweenParams struct {
	A       string `json:"a"`
	B       string `json:"b"`
	MaxHops int    `json:"max_hops"`
}

func (t *SliceBetween) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p sliceBetweenParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	gctxA := guardContextFor(t.svc, p.A, "", 0, false)
	if outcome := t.runner.Run(ctx, gctxA, guards.QueryGuards()); outcome.Blocked {
		return mcp.ErrorResult(outcome.FormatBlockMessage()), nil
	}
	gctxB := guardContextFor(t.svc, p.B, "", 0, false)
	if outcome := t.runner.Run(ctx, gctxB, guards.QueryGuards()); outcome.Blocked {
		return mcp.ErrorResult(outcome.FormatBlockMessage()), nil
	}
	maxHops := p.MaxHops
	if maxHops == 0 {
		maxHops = -1
	}
	slice := t.svc.Search.SliceBetween(p.A, p.B, maxHops)
	return mcp.JSONResult(map[string]any{
		"nodes":          slice.Nodes,
		"edges":          viewEdges(slice.Edges),
		"graph_revision": t.svc.Store.Revision(),
	})
}
