package rpg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rpgmcp/rpgmcp/internal/mcp"
	"github.com/rpgmcp/rpgmcp/internal/rpg"
	"github.com/rpgmcp/rpgmcp/internal/service"
)

var languageByExt = map[string]string{
	".go":   "go",
	".rs":   "rust",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".py":   "python",
	".java": "java",
	".rb":   "ruby",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
}

func languageOf(path string) string {
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "unknown"
}

var skipDirs = map[string]bool{".git": true, ".rpg": true, "node_modules": true, "vendor": true}

// walkSources walks root collecting every regular file as a FileSource,
// relative to root, with "/"-separated paths regardless of OS. The
// .rpgignore exclusion is applied again inside Builder.Build, so a
// double match here is harmless.
func walkSources(root string, ignore *rpg.IgnoreMatcher) ([]rpg.FileSource, error) {
	var sources []rpg.FileSource
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignore != nil && ignore.Match(rel) {
			return nil
		}
		contents, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		sources = append(sources, rpg.FileSource{Path: rel, Language: languageOf(rel), Contents: contents})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}

// BuildRPG implements build_rpg: a full parse of root_path into a fresh
// or existing graph (§6 Build & maintain).
type BuildRPG struct {
	svc *service.Service
}

func NewBuildRPG(svc *service.Service) *BuildRPG { return &BuildRPG{svc: svc} }

func (t *BuildRPG) Name() string { return "build_rpg" }
func (t *BuildRPG) Description() string {
	return "Parse a repository and construct its Repository Planning Graph."
}
func (t *BuildRPG) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"root_path": {"type": "string", "description": "Repository root to walk (default: current directory)"}
		}
	}`)
}

type buildRPGParams struct {
	RootPath string `json:"root_path"`
}

func (t *BuildRPG) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p buildRPGParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	root := p.RootPath
	if root == "" {
		root = "."
	}
	sources, err := walkSources(root, t.svc.Ignore)
	if err != nil {
		return mcp.ErrorResult("walking repository: " + err.Error()), nil
	}
	result := t.svc.Builder.Build(ctx, sources)
	if err := t.svc.Flush(); err != nil {
		return mcp.ErrorResult("persisting graph: " + err.Error()), nil
	}
	return mcp.JSONResult(map[string]any{
		"files_parsed":      result.FilesParsed,
		"entities_upserted": result.EntitiesUpserted,
		"edges_resolved":    result.EdgesResolved,
		"dropped_hints":     result.DroppedHints,
		"errors":            errorStrings(result.Errors),
		"graph_revision":    t.svc.Store.Revision(),
	})
}

func errorStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

// UpdateEvent is one caller-classified file change (§4.5 Classification);
// renames are pre-resolved by the caller into RenamePair entries instead
// of a delete+insert pair (§1 Non-goals: the VCS/filesystem probe, not
// this engine, owns rename detection).
type UpdateEvent struct {
	Kind     string `json:"kind"` // "delete", "modify", "insert"
	FilePath string `json:"file_path"`
}

// RenamePair is a file moved without content change.
type RenamePair struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

// UpdateRPG implements update_rpg: incrementally reconciles the graph
// against a caller-supplied set of file events and renames (§4.5
// Algorithm 2/3/4, S1/S2).
type UpdateRPG struct {
	svc *service.Service
}

func NewUpdateRPG(svc *service.Service) *UpdateRPG { return &UpdateRPG{svc: svc} }

func (t *UpdateRPG) Name() string { return "update_rpg" }
func (t *UpdateRPG) Description() string {
	return "Reconcile the graph against a classified set of file deletions, modifications, insertions, and renames."
}
func (t *UpdateRPG) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"root_path": {"type": "string"},
			"events": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"kind": {"type": "string", "enum": ["delete", "modify", "insert"]},
						"file_path": {"type": "string"}
					},
					"required": ["kind", "file_path"]
				}
			},
			"renames": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"old_path": {"type": "string"},
						"new_path": {"type": "string"}
					},
					"required": ["old_path", "new_path"]
				}
			}
		}
	}`)
}

type updateRPGParams struct {
	RootPath string        `json:"root_path"`
	Events   []UpdateEvent `json:"events"`
	Renames  []RenamePair  `json:"renames"`
}

func (t *UpdateRPG) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p updateRPGParams
	if res := decodeParams(params, &p); res != nil {
		return res, nil
	}
	root := p.RootPath
	if root == "" {
		root = "."
	}

	var renamed []string
	for _, r := range p.Renames {
		for _, oldID := range t.svc.Store.EntitiesInFile(r.OldPath) {
			newID := strings.Replace(oldID, r.OldPath, r.NewPath, 1)
			if err := t.svc.Store.Rekey(oldID, newID); err != nil {
				continue
			}
			e, ok := t.svc.Store.GetEntity(newID)
			if !ok {
				continue
			}
			updated := *e
			updated.FilePath = r.NewPath
			t.svc.Store.UpsertEntity(updated, false)
			renamed = append(renamed, fmt.Sprintf("%s -> %s", oldID, newID))
		}
	}

	var deleted, relifted []string
	var toParse []rpg.FileSource
	priorHints := make(map[string]rpg.ComplexityHints)

	for _, ev := range p.Events {
		switch ev.Kind {
		case "delete":
			if err := t.svc.Evolution.ApplyDeletion(ev.FilePath); err != nil {
				continue
			}
			deleted = append(deleted, ev.FilePath)
		case "modify", "insert":
			for _, id := range t.svc.Store.EntitiesInFile(ev.FilePath) {
				if e, ok := t.svc.Store.GetEntity(id); ok {
					priorHints[id] = e.ComplexityHints
				}
			}
			contents, err := os.ReadFile(filepath.Join(root, ev.FilePath))
			if err != nil {
				continue
			}
			toParse = append(toParse, rpg.FileSource{Path: ev.FilePath, Language: languageOf(ev.FilePath), Contents: contents})
		}
	}

	buildResult := t.svc.Builder.Build(ctx, toParse)

	for id, before := range priorHints {
		e, ok := t.svc.Store.GetEntity(id)
		if !ok {
			continue
		}
		if e.ComplexityHints != before {
			// MarkForRelift resets status but also tags id as a modified
			// re-lift, so submit_lift_results routes its next submission
			// through drift classification instead of a plain overwrite.
			t.svc.Lifting.MarkForRelift(id)
			relifted = append(relifted, id)
		}
	}

	if err := t.svc.Flush(); err != nil {
		return mcp.ErrorResult("persisting graph: " + err.Error()), nil
	}

	return mcp.JSONResult(map[string]any{
		"renamed":           renamed,
		"deleted_files":     deleted,
		"entities_upserted": buildResult.EntitiesUpserted,
		"edges_resolved":    buildResult.EdgesResolved,
		"marked_for_relift": relifted,
		"errors":            errorStrings(buildResult.Errors),
		"graph_revision":    t.svc.Store.Revision(),
	})
}

// ReloadRPG implements reload_rpg: discards in-memory state and reloads
// from the persisted .rpg/ files, for recovering after an external edit
// to the on-disk graph.
type ReloadRPG struct {
	svc *service.Service
}

func NewReloadRPG(svc *service.Service) *ReloadRPG { return &ReloadRPG{svc: svc} }

func (t *ReloadRPG) Name() string        { return "reload_rpg" }
func (t *ReloadRPG) Description() string { return "Reload the graph from its persisted .rpg/ files, discarding in-memory state." }
func (t *ReloadRPG) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *ReloadRPG) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	reloaded, err := rpg.Load(t.svc.GraphPath())
	if err != nil {
		return errKindResult(err)
	}
	if err := reloaded.LoadPendingRouting(t.svc.PendingPath()); err != nil {
		return mcp.ErrorResult("loading pending routing: " + err.Error()), nil
	}
	t.svc.Store.ReplaceWith(reloaded)
	return mcp.JSONResult(map[string]any{"graph_revision": t.svc.Store.Revision()})
}

// RPGInfo implements rpg_info: a summary of the current graph's size and
// health, including a non-mutating consistency check.
type RPGInfo struct {
	svc *service.Service
}

func NewRPGInfo(svc *service.Service) *RPGInfo { return &RPGInfo{svc: svc} }

func (t *RPGInfo) Name() string        { return "rpg_info" }
func (t *RPGInfo) Description() string { return "Summarize the current graph: entity/edge/hierarchy counts, revision, and invariant violations." }
func (t *RPGInfo) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *RPGInfo) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	violations := t.svc.Store.CheckInvariants()
	violationViews := make([]map[string]any, len(violations))
	for i, v := range violations {
		violationViews[i] = map[string]any{"kind": v.Kind, "entity_id": v.EntityID, "detail": v.Detail}
	}
	return mcp.JSONResult(map[string]any{
		"graph_revision":   t.svc.Store.Revision(),
		"entity_count":     len(t.svc.Store.AllEntities()),
		"edge_count":       len(t.svc.Store.AllEdges()),
		"hierarchy_nodes":  len(t.svc.Store.AllHierarchyNodes()),
		"known_areas":      t.svc.Store.KnownAreas(),
		"embedding_ready":  t.svc.Embedding.Configured(),
		"violations":       violationViews,
	})
}
