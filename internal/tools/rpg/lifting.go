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

// LiftingStatus implements lifting_status: a summary of how many
// entities sit in each lifting state, plus whether any files are ready
// for synthesis.
type LiftingStatus struct {
	svc *service.Service
}

func NewLiftingStatus(svc *service.Service) *LiftingStatus { return &LiftingStatus{svc: svc} }

func (t *LiftingStatus) Name() string        { return "lifting_status" }
func (t *LiftingStatus) Description() string { return "Report how many entities are unlifted, in review, or fully lifted." }
func (t *LiftingStatus) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *LiftingStatus) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	counts := t.svc.Lifting.StatusCounts()
	return mcp.JSONResult(map[string]any{
		"unlifted":                counts[rpg.StatusUnlifted],
		"review":                  counts[rpg.StatusReview],
		"lifted":                  counts[rpg.StatusLifted],
		"files_ready_for_synthesis": t.svc.Lifting.FilesReadyForSynthesis(),
		"graph_revision":          t.svc.Store.Revision(),
	})
}

// GetEntitiesForLifting implements get_entities_for_lifting{scope, batch_index}.
type GetEntitiesForLifting struct {
	svc *service.Service
}

func NewGetEntitiesForLifting(svc *service.Service) *GetEntitiesForLifting {
	return &GetEntitiesForLifting{svc: svc}
}

func (t *GetEntitiesForLifting) Name() string { return "get_entities_for_lifting" }
func (t *GetEntitiesForLifting) Description() string {
	return "Fetch one deterministic batch of entities needing features, bounded by scope and batch_index."
}
func (t *GetEntitiesForLifting) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"scope": {"type": "string", "description": "File-path prefix restricting the batch"},
			"batch_index": {"type": "integer", "default": 0}
		}
	}`)
}

type getEntitiesForLiftingParams struct {
	Scope      string `json:"scope"`
	BatchIndex int    `json:"batch_index"`
}

func (t *GetEntitiesForLifting) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p getEntitiesForLiftingParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	batches := t.svc.Lifting.Batches(p.Scope, t.svc.Cfg.Encoding.BatchSize, t.svc.Cfg.Encoding.MaxBatchTokens)
	if p.BatchIndex < 0 || p.BatchIndex >= len(batches) {
		return mcp.JSONResult(map[string]any{
			"batch_index":    p.BatchIndex,
			"batch_count":    len(batches),
			"entities":       []entityView{},
			"graph_revision": t.svc.Store.Revision(),
		})
	}
	batch := batches[p.BatchIndex]
	views := make([]entityView, 0, len(batch.EntityIDs))
	for _, id := range batch.EntityIDs {
		if e, ok := t.svc.Store.GetEntity(id); ok {
			views = append(views, viewEntity(e))
		}
	}
	return mcp.JSONResult(map[string]any{
		"batch_index":       batch.Index,
		"batch_count":       len(batches),
		"entities":          views,
		"review_candidates": batch.ReviewCandidates,
		"graph_revision":    t.svc.Store.Revision(),
	})
}

// SubmitLiftResults implements submit_lift_results{map}. An entity that
// is already lifted, or that was reset to unlifted by a file-modification
// re-lift (update_rpg's MarkForRelift), is routed to the Evolution
// Engine's drift classification instead of a plain overwrite: a fresh
// lift and a re-lift of a previously-lifted entity are different
// operations on the wire but share this one tool.
type SubmitLiftResults struct {
	svc    *service.Service
	runner *guards.Runner
}

func NewSubmitLiftResults(svc *service.Service) *SubmitLiftResults {
	return &SubmitLiftResults{svc: svc, runner: guards.NewRunner()}
}

func (t *SubmitLiftResults) Name() string        { return "submit_lift_results" }
func (t *SubmitLiftResults) Description() string { return "Submit agent-authored features for a batch of entities." }
func (t *SubmitLiftResults) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"submissions": {
				"type": "object",
				"description": "entity id -> list of feature strings",
				"additionalProperties": {"type": "array", "items": {"type": "string"}}
			},
			"graph_revision": {"type": "integer"},
			"force": {"type": "boolean", "default": false}
		},
		"required": ["submissions"]
	}`)
}

type submitLiftResultsParams struct {
	Submissions   map[string][]string `json:"submissions"`
	GraphRevision uint64              `json:"graph_revision"`
	Force         bool                `json:"force"`
}

func (t *SubmitLiftResults) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p submitLiftResultsParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}

	fresh := make(map[string][]string)
	var relift []string
	ids := make([]string, 0, len(p.Submissions))
	for id := range p.Submissions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if t.svc.Lifting.Status(id) == rpg.StatusLifted || t.svc.Lifting.NeedsDriftClassification(id) {
			relift = append(relift, id)
		} else {
			fresh[id] = p.Submissions[id]
		}
	}

	var blockMsg string
	for _, id := range ids {
		gctx := guardContextFor(t.svc, id, "", p.GraphRevision, p.Force)
		outcome := t.runner.Run(ctx, gctx, guards.LiftingGuards())
		if outcome.Blocked {
			blockMsg = outcome.FormatBlockMessage()
			break
		}
	}
	if blockMsg != "" {
		return mcp.ErrorResult(blockMsg), nil
	}

	results := t.svc.Lifting.SubmitLiftResults(fresh)

	modifyResults := make(map[string]any, len(relift))
	for _, id := range relift {
		candidatePaths := t.svc.Hierarchy.CandidatePaths(p.Submissions[id], 3)
		mr, err := t.svc.Evolution.ApplyModification(id, p.Submissions[id], candidatePaths)
		t.svc.Lifting.ConsumeRelift(id)
		if err != nil {
			modifyResults[id] = map[string]any{"error": err.Error()}
			continue
		}
		t.svc.Lifting.MarkLifted(id)
		modifyResults[id] = map[string]any{
			"zone":     mr.Zone,
			"distance": mr.Distance,
			"queued":   mr.Queued,
		}
	}

	if err := t.svc.Flush(); err != nil {
		return mcp.ErrorResult("persisting graph: " + err.Error()), nil
	}

	return mcp.JSONResult(map[string]any{
		"applied":        results,
		"relifted":       modifyResults,
		"graph_revision": t.svc.Store.Revision(),
	})
}

// FinalizeLifting implements finalize_lifting: drains every remaining
// pending-routing entry to the Jaccard-nearest known area (§4.5
// DrainPending).
type FinalizeLifting struct {
	svc *service.Service
}

func NewFinalizeLifting(svc *service.Service) *FinalizeLifting { return &FinalizeLifting{svc: svc} }

func (t *FinalizeLifting) Name() string        { return "finalize_lifting" }
func (t *FinalizeLifting) Description() string { return "Drain any remaining pending-routing entries to their Jaccard-nearest known area." }
func (t *FinalizeLifting) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *FinalizeLifting) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	areaFeatures := make(map[string][]string)
	for _, node := range t.svc.Store.AllHierarchyNodes() {
		if node.Depth() == 1 {
			areaFeatures[node.Path] = node.Features
		}
	}
	results := t.svc.Evolution.DrainPending(areaFeatures)
	if err := t.svc.Flush(); err != nil {
		return mcp.ErrorResult("persisting graph: " + err.Error()), nil
	}
	return mcp.JSONResult(map[string]any{
		"drained":        results,
		"graph_revision": t.svc.Store.Revision(),
	})
}

// GetFilesForSynthesis implements get_files_for_synthesis{batch_index}.
type GetFilesForSynthesis struct {
	svc *service.Service
}

func NewGetFilesForSynthesis(svc *service.Service) *GetFilesForSynthesis {
	return &GetFilesForSynthesis{svc: svc}
}

func (t *GetFilesForSynthesis) Name() string { return "get_files_for_synthesis" }
func (t *GetFilesForSynthesis) Description() string {
	return "List files whose entities are all lifted and which still need per-file holistic features."
}
func (t *GetFilesForSynthesis) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"batch_index": {"type": "integer", "default": 0}}
	}`)
}

type getFilesForSynthesisParams struct {
	BatchIndex int `json:"batch_index"`
}

func (t *GetFilesForSynthesis) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p getFilesForSynthesisParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	files := t.svc.Lifting.FilesReadyForSynthesis()
	batchSize := t.svc.Cfg.Encoding.BatchSize
	if batchSize <= 0 {
		batchSize = len(files)
	}
	start := p.BatchIndex * batchSize
	if start > len(files) {
		start = len(files)
	}
	end := start + batchSize
	if end > len(files) {
		end = len(files)
	}
	return mcp.JSONResult(map[string]any{
		"batch_index": p.BatchIndex,
		"files":       files[start:end],
		"total_files": len(files),
	})
}

// SubmitFileSyntheses implements submit_file_syntheses{map}.
type SubmitFileSyntheses struct {
	svc *service.Service
}

func NewSubmitFileSyntheses(svc *service.Service) *SubmitFileSyntheses {
	return &SubmitFileSyntheses{svc: svc}
}

func (t *SubmitFileSyntheses) Name() string        { return "submit_file_syntheses" }
func (t *SubmitFileSyntheses) Description() string { return "Submit 3-6 holistic features per file onto each file's module entity." }
func (t *SubmitFileSyntheses) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"syntheses": {
				"type": "object",
				"description": "file path -> list of feature strings",
				"additionalProperties": {"type": "array", "items": {"type": "string"}}
			}
		},
		"required": ["syntheses"]
	}`)
}

type submitFileSynthesesParams struct {
	Syntheses map[string][]string `json:"syntheses"`
}

func (t *SubmitFileSyntheses) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p submitFileSynthesesParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	results := t.svc.Lifting.SubmitFileSyntheses(p.Syntheses)
	if err := t.svc.Flush(); err != nil {
		return mcp.ErrorResult("persisting graph: " + err.Error()), nil
	}
	return mcp.JSONResult(map[string]any{
		"applied":        results,
		"graph_revision": t.svc.Store.Revision(),
	})
}
