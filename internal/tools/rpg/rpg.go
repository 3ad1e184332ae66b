// Package rpg implements the Protocol Facade: MCP tools exposing the
// Repository Planning Graph engines in internal/rpg over JSON-RPC
// tools/call (§6 External Interfaces).
package rpg

import (
	"encoding/json"

	"github.com/rpgmcp/rpgmcp/internal/guards"
	"github.com/rpgmcp/rpgmcp/internal/mcp"
	"github.com/rpgmcp/rpgmcp/internal/rpg"
	"github.com/rpgmcp/rpgmcp/internal/service"
)

// decodeParams unmarshals raw tool-call arguments into dst, returning an
// MCP error result on malformed JSON rather than a transport-level
// error (§7: malformed JSON uses JSON-RPC error codes only for the
// envelope itself, not for well-formed-but-invalid tool arguments).
func decodeParams(raw json.RawMessage, dst any) *mcp.ToolsCallResult {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return mcp.ErrorResult("invalid arguments: " + err.Error())
	}
	return nil
}

// errKindResult renders an *rpg.Error (or any error) as a structured
// failure content block, tagging it with its §7 error kind when known.
func errKindResult(err error) (*mcp.ToolsCallResult, error) {
	if kind, ok := rpg.KindOf(err); ok {
		return mcp.ErrorResult(string(kind) + ": " + err.Error()), nil
	}
	return mcp.ErrorResult(err.Error()), nil
}

// guardContextFor builds a populated GuardContext for an operation
// referencing a single entity id and/or hierarchy path.
func guardContextFor(svc *service.Service, entityID, hierarchyPath string, submittedRevision uint64, force bool) *guards.GuardContext {
	gctx := &guards.GuardContext{
		EntityID:          entityID,
		HierarchyPath:     hierarchyPath,
		SubmittedRevision: submittedRevision,
		Force:             force,
	}
	guards.PopulateFromStore(svc.Store, gctx)
	return gctx
}

// entityView is the JSON projection of an rpg.Entity returned to the agent.
type entityView struct {
	ID              string            `json:"id"`
	Kind            rpg.EntityKind    `json:"kind"`
	Language        string            `json:"language"`
	FilePath        string            `json:"file_path"`
	Span            rpg.Span          `json:"span"`
	Source          string            `json:"source,omitempty"`
	Features        []string          `json:"features"`
	Provenance      rpg.Provenance    `json:"provenance,omitempty"`
	HierarchyPath   string            `json:"hierarchy_path,omitempty"`
	ComplexityHints rpg.ComplexityHints `json:"complexity_hints"`
}

func viewEntity(e *rpg.Entity) entityView {
	return entityView{
		ID:              e.ID,
		Kind:            e.Kind,
		Language:        e.Language,
		FilePath:        e.FilePath,
		Span:            e.Span,
		Source:          e.Source,
		Features:        e.Features,
		Provenance:      e.Provenance,
		HierarchyPath:   e.HierarchyPath,
		ComplexityHints: e.ComplexityHints,
	}
}

// edgeView is the JSON projection of a DependencyEdge.
type edgeView struct {
	Source string      `json:"source"`
	Target string      `json:"target"`
	Kind   rpg.EdgeKind `json:"kind"`
}

func viewEdges(edges []rpg.DependencyEdge) []edgeView {
	out := make([]edgeView, len(edges))
	for i, e := range edges {
		out[i] = edgeView{Source: e.Source, Target: e.Target, Kind: e.Kind}
	}
	return out
}

// parseEdgeKinds converts a string list into an EdgeKind allow-set, or
// nil (meaning "every non-Contains kind") when empty.
func parseEdgeKinds(kinds []string) map[rpg.EdgeKind]bool {
	if len(kinds) == 0 {
		return nil
	}
	out := make(map[rpg.EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		out[rpg.EdgeKind(k)] = true
	}
	return out
}
