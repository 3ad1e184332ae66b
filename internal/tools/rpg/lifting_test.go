package rpg_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpgmcp/rpgmcp/internal/config"
	"github.com/rpgmcp/rpgmcp/internal/mcp"
	coreRpg "github.com/rpgmcp/rpgmcp/internal/rpg"
	"github.com/rpgmcp/rpgmcp/internal/service"
	toolsRpg "github.com/rpgmcp/rpgmcp/internal/tools/rpg"
)

// countingParser is a fake ParserCollaborator that derives ComplexityHints
// from naive substring counts, so a test can make a lifted entity diverge
// by rewriting its file between build_rpg and update_rpg calls.
type countingParser struct{}

func (countingParser) Parse(_ context.Context, filePath, language string, contents []byte) (coreRpg.ParsedFile, error) {
	src := string(contents)
	hints := coreRpg.ComplexityHints{
		Branches: strings.Count(src, "if "),
		Loops:    strings.Count(src, "for "),
		Calls:    strings.Count(src, "call("),
	}
	entity := coreRpg.Entity{
		ID:              filePath + ":F",
		Kind:            coreRpg.KindFunction,
		Language:        language,
		FilePath:        filePath,
		Source:          src,
		ComplexityHints: hints,
	}
	return coreRpg.ParsedFile{Entities: []coreRpg.Entity{entity}}, nil
}

func newTestService(t *testing.T, root string) *service.Service {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc, err := service.New(cfg, filepath.Join(root, ".rpg"), countingParser{}, nil, logger)
	require.NoError(t, err)
	return svc
}

// TestModifyThenRelift_RoutesThroughDriftClassification drives the real
// tool surface end to end: build a graph, lift an entity, modify its
// source so update_rpg marks it for re-lift, then submit new features for
// it through submit_lift_results and confirm the entity lands on the
// pending-routing list instead of being silently overwritten.
func TestModifyThenRelift_RoutesThroughDriftClassification(t *testing.T) {
	root := t.TempDir()
	filePath := "foo.go"
	original := "package foo\nfunc F() {\n  if true {\n  }\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, filePath), []byte(original), 0o644))

	svc := newTestService(t, root)
	ctx := context.Background()

	build := toolsRpg.NewBuildRPG(svc)
	buildRes, err := build.Execute(ctx, mustJSON(t, map[string]any{"root_path": root}))
	require.NoError(t, err)
	require.False(t, buildRes.IsError, resultText(buildRes))

	entityID := filePath + ":F"
	_, ok := svc.Store.GetEntity(entityID)
	require.True(t, ok, "entity must exist after build_rpg")

	submit := toolsRpg.NewSubmitLiftResults(svc)
	firstLift, err := submit.Execute(ctx, mustJSON(t, map[string]any{
		"submissions": map[string][]string{entityID: {"validate request", "reject expired tokens"}},
	}))
	require.NoError(t, err)
	require.False(t, firstLift.IsError, resultText(firstLift))
	require.Equal(t, coreRpg.StatusLifted, svc.Lifting.Status(entityID))

	modified := "package foo\nfunc F() {\n  if true {\n  }\n  for i := 0; i < 3; i++ {\n  }\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, filePath), []byte(modified), 0o644))

	update := toolsRpg.NewUpdateRPG(svc)
	updateRes, err := update.Execute(ctx, mustJSON(t, map[string]any{
		"root_path": root,
		"events":    []map[string]string{{"kind": "modify", "file_path": filePath}},
	}))
	require.NoError(t, err)
	require.False(t, updateRes.IsError, resultText(updateRes))

	// MarkForRelift resets status, but the entity was lifted before.
	assert.Equal(t, coreRpg.StatusUnlifted, svc.Lifting.Status(entityID))

	relift, err := submit.Execute(ctx, mustJSON(t, map[string]any{
		"submissions": map[string][]string{entityID: {"issue session cookie", "set csrf token"}},
	}))
	require.NoError(t, err)
	require.False(t, relift.IsError, resultText(relift))

	pending := svc.Store.PendingRoutingEntries()
	require.Len(t, pending, 1)
	assert.Equal(t, entityID, pending[0].EntityID)
	assert.Equal(t, "auto", pending[0].DriftZone)

	e, ok := svc.Store.GetEntity(entityID)
	require.True(t, ok)
	assert.Equal(t, []string{"issue session cookie", "set csrf token"}, e.Features)
	assert.Equal(t, coreRpg.StatusLifted, svc.Lifting.Status(entityID))
}

// TestModifyThenRelift_IgnoreZoneDoesNotEnqueue confirms a near-identical
// re-lift (distance below the ignore threshold) updates features in place
// without creating a pending-routing entry.
func TestModifyThenRelift_IgnoreZoneDoesNotEnqueue(t *testing.T) {
	root := t.TempDir()
	filePath := "bar.go"
	original := "package bar\nfunc G() {\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, filePath), []byte(original), 0o644))

	svc := newTestService(t, root)
	ctx := context.Background()

	build := toolsRpg.NewBuildRPG(svc)
	_, err := build.Execute(ctx, mustJSON(t, map[string]any{"root_path": root}))
	require.NoError(t, err)

	entityID := filePath + ":F"
	features := []string{"greet caller", "return nothing"}
	submit := toolsRpg.NewSubmitLiftResults(svc)
	_, err = submit.Execute(ctx, mustJSON(t, map[string]any{
		"submissions": map[string][]string{entityID: features},
	}))
	require.NoError(t, err)

	modified := "package bar\nfunc G() {\n  call(x)\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, filePath), []byte(modified), 0o644))

	update := toolsRpg.NewUpdateRPG(svc)
	_, err = update.Execute(ctx, mustJSON(t, map[string]any{
		"root_path": root,
		"events":    []map[string]string{{"kind": "modify", "file_path": filePath}},
	}))
	require.NoError(t, err)

	relift, err := submit.Execute(ctx, mustJSON(t, map[string]any{
		"submissions": map[string][]string{entityID: features},
	}))
	require.NoError(t, err)
	require.False(t, relift.IsError, resultText(relift))

	assert.Empty(t, svc.Store.PendingRoutingEntries())
	assert.Equal(t, coreRpg.StatusLifted, svc.Lifting.Status(entityID))
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func resultText(res *mcp.ToolsCallResult) string {
	if res == nil || len(res.Content) == 0 {
		return ""
	}
	return res.Content[0].Text
}
