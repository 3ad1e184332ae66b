package rpg

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rpgmcp/rpgmcp/internal/guards"
	"github.com/rpgmcp/rpgmcp/internal/mcp"
	"github.com/rpgmcp/rpgmcp/internal/rpg"
	"github.com/rpgmcp/rpgmcp/internal/service"
)

// BuildSemanticHierarchy implements build_semantic_hierarchy: phase one
// of the two-phase agent dialog (§4.6). With no areas supplied, it
// returns deterministic file clusters and representative samples for
// the agent to base domain discovery on; with areas supplied, it
// installs them as the discovered domain set.
type BuildSemanticHierarchy struct {
	svc *service.Service
}

func NewBuildSemanticHierarchy(svc *service.Service) *BuildSemanticHierarchy {
	return &BuildSemanticHierarchy{svc: svc}
}

func (t *BuildSemanticHierarchy) Name() string { return "build_semantic_hierarchy" }
func (t *BuildSemanticHierarchy) Description() string {
	return "Start domain discovery: return file clusters and samples, or install a proposed area set."
}
func (t *BuildSemanticHierarchy) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"sample_size": {"type": "integer", "default": 20},
			"areas": {
				"type": "array",
				"description": "PascalCase area names to install, once discovery is complete",
				"items": {"type": "string"}
			}
		}
	}`)
}

type buildSemanticHierarchyParams struct {
	SampleSize int      `json:"sample_size"`
	Areas      []string `json:"areas"`
}

func (t *BuildSemanticHierarchy) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p buildSemanticHierarchyParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}

	if len(p.Areas) > 0 {
		discovered := make([]rpg.DiscoveredArea, len(p.Areas))
		for i, a := range p.Areas {
			discovered[i] = rpg.DiscoveredArea{Name: a}
		}
		results := t.svc.Hierarchy.InstallAreas(discovered)
		if err := t.svc.Flush(); err != nil {
			return mcp.ErrorResult("persisting graph: " + err.Error()), nil
		}
		return mcp.JSONResult(map[string]any{
			"installed":      results,
			"known_areas":    t.svc.Store.KnownAreas(),
			"graph_revision": t.svc.Store.Revision(),
		})
	}

	var files []string
	for _, e := range t.svc.Store.AllEntities() {
		files = append(files, e.FilePath)
	}
	files = dedupeSorted(files)

	sampleSize := p.SampleSize
	if sampleSize <= 0 {
		sampleSize = 20
	}
	clusters := t.svc.Hierarchy.ClusterFiles(files)
	clusterViews := make([]map[string]any, len(clusters))
	for i, c := range clusters {
		clusterViews[i] = map[string]any{
			"index":  c.Index,
			"sample": rpg.RepresentativeSample(c, sampleSize),
			"size":   len(c.Files),
		}
	}
	return mcp.JSONResult(map[string]any{
		"clusters":       clusterViews,
		"known_areas":    t.svc.Store.KnownAreas(),
		"graph_revision": t.svc.Store.Revision(),
	})
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// HierarchyAssignment mirrors rpg.Assignment for the wire shape.
type HierarchyAssignment struct {
	EntityID    string `json:"entity_id"`
	Keep        bool   `json:"keep"`
	Area        string `json:"area"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// SubmitHierarchy implements submit_hierarchy{assignments}: phase two of
// the dialog, routing leaf entities to Area/category/subcategory paths.
type SubmitHierarchy struct {
	svc    *service.Service
	runner *guards.Runner
}

func NewSubmitHierarchy(svc *service.Service) *SubmitHierarchy {
	return &SubmitHierarchy{svc: svc, runner: guards.NewRunner()}
}

func (t *SubmitHierarchy) Name() string        { return "submit_hierarchy" }
func (t *SubmitHierarchy) Description() string { return "Submit a batch of entity-to-hierarchy-path assignments." }
func (t *SubmitHierarchy) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"assignments": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"entity_id": {"type": "string"},
						"keep": {"type": "boolean"},
						"area": {"type": "string"},
						"category": {"type": "string"},
						"subcategory": {"type": "string"}
					},
					"required": ["entity_id"]
				}
			}
		},
		"required": ["assignments"]
	}`)
}

type submitHierarchyParams struct {
	Assignments []HierarchyAssignment `json:"assignments"`
}

func (t *SubmitHierarchy) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p submitHierarchyParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}

	// PascalCase/lowercase-phrase/area-known validation is enforced
	// directly by HierarchyEngine.ApplyAssignments, since the path being
	// assigned here may not exist yet (this call is what creates it) —
	// the guards.RoutingGuards() shape (requiring an already-installed
	// path) doesn't fit a first-time assignment.
	assignments := make([]rpg.Assignment, len(p.Assignments))
	for i, a := range p.Assignments {
		assignments[i] = rpg.Assignment{
			EntityID:    a.EntityID,
			Keep:        a.Keep,
			Area:        a.Area,
			Category:    a.Category,
			Subcategory: a.Subcategory,
		}
	}
	results := t.svc.Hierarchy.ApplyAssignments(assignments)
	t.svc.Store.Ground()
	if err := t.svc.Flush(); err != nil {
		return mcp.ErrorResult("persisting graph: " + err.Error()), nil
	}
	return mcp.JSONResult(map[string]any{
		"results":        results,
		"graph_revision": t.svc.Store.Revision(),
	})
}

// GetRoutingCandidates implements get_routing_candidates: the pending
// list of entities awaiting a hierarchy decision, each paired with its
// candidate paths.
type GetRoutingCandidates struct {
	svc *service.Service
}

func NewGetRoutingCandidates(svc *service.Service) *GetRoutingCandidates {
	return &GetRoutingCandidates{svc: svc}
}

func (t *GetRoutingCandidates) Name() string        { return "get_routing_candidates" }
func (t *GetRoutingCandidates) Description() string { return "List entities awaiting a routing decision, with candidate hierarchy paths." }
func (t *GetRoutingCandidates) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *GetRoutingCandidates) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	entries := t.svc.Store.PendingRoutingEntries()
	views := make([]map[string]any, len(entries))
	for i, e := range entries {
		views[i] = map[string]any{
			"entity_id":       e.EntityID,
			"graph_revision":  e.EnqueuedAt,
			"reason":          e.Reason,
			"drift_zone":      e.DriftZone,
			"prior_path":      e.PriorPath,
			"candidate_paths": e.CandidatePaths,
		}
	}
	return mcp.JSONResult(map[string]any{
		"pending":        views,
		"graph_revision": t.svc.Store.Revision(),
	})
}

// RoutingDecisionInput mirrors rpg.RoutingDecision for the wire shape.
type RoutingDecisionInput struct {
	EntityID          string `json:"entity_id"`
	Keep              bool   `json:"keep"`
	Path              string `json:"path"`
	GraphRevision     uint64 `json:"graph_revision"`
}

// SubmitRoutingDecisions implements submit_routing_decisions{map}.
type SubmitRoutingDecisions struct {
	svc    *service.Service
	runner *guards.Runner
}

func NewSubmitRoutingDecisions(svc *service.Service) *SubmitRoutingDecisions {
	return &SubmitRoutingDecisions{svc: svc, runner: guards.NewRunner()}
}

func (t *SubmitRoutingDecisions) Name() string        { return "submit_routing_decisions" }
func (t *SubmitRoutingDecisions) Description() string { return "Resolve pending routing entries against the agent's chosen paths." }
func (t *SubmitRoutingDecisions) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"decisions": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"entity_id": {"type": "string"},
						"keep": {"type": "boolean"},
						"path": {"type": "string"},
						"graph_revision": {"type": "integer"}
					},
					"required": ["entity_id", "graph_revision"]
				}
			},
			"force": {"type": "boolean", "default": false}
		},
		"required": ["decisions"]
	}`)
}

type submitRoutingDecisionsParams struct {
	Decisions []RoutingDecisionInput `json:"decisions"`
	Force     bool                   `json:"force"`
}

func (t *SubmitRoutingDecisions) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p submitRoutingDecisionsParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}

	var blockMsg string
	for _, d := range p.Decisions {
		path := d.Path
		if d.Keep {
			path = ""
		}
		gctx := guardContextFor(t.svc, d.EntityID, path, d.GraphRevision, p.Force)
		outcome := t.runner.Run(ctx, gctx, guards.RoutingGuards())
		if outcome.Blocked {
			blockMsg = outcome.FormatBlockMessage()
			break
		}
	}
	if blockMsg != "" {
		return mcp.ErrorResult(blockMsg), nil
	}

	decisions := make([]rpg.RoutingDecision, len(p.Decisions))
	for i, d := range p.Decisions {
		decisions[i] = rpg.RoutingDecision{
			EntityID:          d.EntityID,
			Keep:              d.Keep,
			Path:              d.Path,
			SubmittedRevision: d.GraphRevision,
		}
	}
	errs := t.svc.Evolution.ApplyRoutingDecisions(decisions)
	errViews := make([]string, len(errs))
	for i, err := range errs {
		if err != nil {
			errViews[i] = err.Error()
		}
	}
	if err := t.svc.Flush(); err != nil {
		return mcp.ErrorResult("persisting graph: " + err.Error()), nil
	}
	return mcp.JSONResult(map[string]any{
		"results":        errViews,
		"graph_revision": t.svc.Store.Revision(),
	})
}
