// Package rpg implements the Repository Planning Graph engine: an
// in-memory, deterministically-persisted dual-view index of a source
// repository, plus the algorithms that build, route, search, and evolve it.
package rpg

import "fmt"

// EntityKind enumerates the code-unit kinds a leaf node (V_L) may have.
type EntityKind string

const (
	KindFunction  EntityKind = "function"
	KindMethod    EntityKind = "method"
	KindClass     EntityKind = "class"
	KindStruct    EntityKind = "struct"
	KindTrait     EntityKind = "trait"
	KindInterface EntityKind = "interface"
	KindModule    EntityKind = "module"
	KindHook      EntityKind = "hook"
	KindSlice     EntityKind = "slice"
	KindThunk     EntityKind = "thunk"
	KindSelector  EntityKind = "selector"
	KindQuery     EntityKind = "query"
	KindComponent EntityKind = "component"
)

// EdgeKind enumerates the relationship kinds a DependencyEdge may carry.
type EdgeKind string

const (
	EdgeImports    EdgeKind = "Imports"
	EdgeInvokes    EdgeKind = "Invokes"
	EdgeInherits   EdgeKind = "Inherits"
	EdgeComposes   EdgeKind = "Composes"
	EdgeRenders    EdgeKind = "Renders"
	EdgeReadsState EdgeKind = "ReadsState"
	EdgeWriteState EdgeKind = "WritesState"
	EdgeDispatches EdgeKind = "Dispatches"
	EdgeDataFlow   EdgeKind = "DataFlow"
	EdgeContains   EdgeKind = "Contains"
)

// Provenance tags how an entity's features were produced.
type Provenance string

const (
	ProvenanceAuto        Provenance = "auto"
	ProvenanceLLM         Provenance = "llm"
	ProvenanceSynthesized Provenance = "synthesized"
)

// Span is a byte/line range within a source file.
type Span struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
	StartByte int `json:"start_byte"`
	EndByte   int `json:"end_byte"`
}

// Entity is a leaf node (V_L): a single code unit extracted by the parser
// collaborator. EntityID is the stable identifier
// "file_path:(ClassName::)?symbol".
type Entity struct {
	ID            string     `json:"id"`
	Kind          EntityKind `json:"kind"`
	Language      string     `json:"language"`
	FilePath      string     `json:"file_path"`
	Span          Span       `json:"span"`
	Source        string     `json:"source,omitempty"`
	Features      []string   `json:"features"`
	Provenance    Provenance `json:"provenance,omitempty"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
	HierarchyPath string     `json:"hierarchy_path,omitempty"`

	// ComplexityHints is a side-channel supplied by the parser collaborator,
	// used only by the Lifting Engine's auto-lift heuristic (§4.3).
	ComplexityHints ComplexityHints `json:"complexity_hints,omitempty"`
}

// ComplexityHints summarizes the shape of an entity's body for the
// auto-lift heuristic, without the core needing to understand the
// language's syntax itself.
type ComplexityHints struct {
	Branches int `json:"branches"`
	Loops    int `json:"loops"`
	Calls    int `json:"calls"`
}

// HierarchyNode is an abstract node (V_H) at the Area, Area/category, or
// Area/category/subcategory level.
type HierarchyNode struct {
	Path      string   `json:"path"`
	Features  []string `json:"features"`
	Anchor    string   `json:"anchor,omitempty"`
	Children  []string `json:"children,omitempty"`
	LeafCount int      `json:"leaf_count"`
}

// Depth returns the number of segments in the hierarchy path (1-3).
func (h HierarchyNode) Depth() int {
	return len(splitPath(h.Path))
}

// DependencyEdge is a directed tuple (source, target, kind). Edges are
// modeled as plain string-id tuples, never owning links, so traversal
// always goes through the store's adjacency indices (see Design Notes §9).
type DependencyEdge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
}

// Key returns the dedup key for an edge: (source, target, kind).
func (e DependencyEdge) Key() string {
	return fmt.Sprintf("%s\x00%s\x00%s", e.Source, e.Target, e.Kind)
}

// PendingRoutingEntry is a disk-persisted record of an entity awaiting
// hierarchy placement, tagged with the graph_revision at enqueue time so
// stale decisions can be rejected (§4.5 stale-decision protection).
type PendingRoutingEntry struct {
	EntityID       string   `json:"entity_id"`
	EnqueuedAt     uint64   `json:"graph_revision"`
	Reason         string   `json:"reason"` // "insertion" or "drift"
	DriftZone      string   `json:"drift_zone,omitempty"`
	PriorPath      string   `json:"prior_path,omitempty"`
	CandidatePaths []string `json:"candidate_paths,omitempty"`
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}
