package rpg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpgmcp/rpgmcp/internal/rpg"
)

func TestStore_UpsertEntity_PreservesFeaturesOnReparse(t *testing.T) {
	s := rpg.NewStore()

	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go", Kind: rpg.KindFunction}, true)
	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go", Features: []string{"validates input"}}, true)

	e, ok := s.GetEntity("a.go:F")
	require.True(t, ok)
	assert.Equal(t, []string{"validates input"}, e.Features)

	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, false)
	e, ok = s.GetEntity("a.go:F")
	require.True(t, ok)
	assert.Equal(t, []string{"validates input"}, e.Features, "re-parse without overwrite must preserve prior features")
}

func TestStore_UpsertEntity_NormalizesFeatures(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertEntity(rpg.Entity{
		ID:       "a.go:F",
		FilePath: "a.go",
		Features: []string{"  Validates Input.  ", "validates input", "one two three four five six seven eight nine ten"},
	}, true)

	e, _ := s.GetEntity("a.go:F")
	assert.Equal(t, []string{"one two three four five six seven eight", "validates input"}, e.Features)
}

func TestStore_AddEdge_RejectsUnknownEndpoints(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)

	err := s.AddEdge(rpg.DependencyEdge{Source: "a.go:F", Target: "missing", Kind: rpg.EdgeInvokes})
	assert.Error(t, err)

	err = s.AddEdge(rpg.DependencyEdge{Source: "missing", Target: "a.go:F", Kind: rpg.EdgeInvokes})
	assert.Error(t, err)
}

func TestStore_AddEdge_IsIdempotent(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)
	s.UpsertEntity(rpg.Entity{ID: "a.go:G", FilePath: "a.go"}, true)

	edge := rpg.DependencyEdge{Source: "a.go:F", Target: "a.go:G", Kind: rpg.EdgeInvokes}
	require.NoError(t, s.AddEdge(edge))
	require.NoError(t, s.AddEdge(edge))

	assert.Len(t, s.AllEdges(), 1)
}

func TestStore_RemoveEntity_PrunesEmptyHierarchyChain(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core"})
	s.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core/store"})
	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)
	require.NoError(t, s.AssignHierarchyPath("a.go:F", "core/store"))

	require.NoError(t, s.RemoveEntity("a.go:F"))

	_, ok := s.GetHierarchyNode("core/store")
	assert.False(t, ok, "childless leafless node must be pruned")
	_, ok = s.GetHierarchyNode("core")
	assert.False(t, ok, "ancestor left empty by the prune must also be pruned")
}

func TestStore_RemoveEntity_UnknownIsError(t *testing.T) {
	s := rpg.NewStore()
	assert.Error(t, s.RemoveEntity("nope"))
}

func TestStore_AssignHierarchyPath_MovesLeafBetweenNodes(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core"})
	s.UpsertHierarchyNode(rpg.HierarchyNode{Path: "infra"})
	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)

	require.NoError(t, s.AssignHierarchyPath("a.go:F", "core"))
	require.NoError(t, s.AssignHierarchyPath("a.go:F", "infra"))

	assert.Empty(t, s.EntitiesUnderPath("core"))
	assert.Equal(t, []string{"a.go:F"}, s.EntitiesUnderPath("infra"))
}

func TestStore_Rekey_UpdatesIndicesAndEdges(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)
	s.UpsertEntity(rpg.Entity{ID: "a.go:G", FilePath: "a.go"}, true)
	require.NoError(t, s.AddEdge(rpg.DependencyEdge{Source: "a.go:F", Target: "a.go:G", Kind: rpg.EdgeInvokes}))

	require.NoError(t, s.Rekey("a.go:F", "a.go:Renamed"))

	_, ok := s.GetEntity("a.go:F")
	assert.False(t, ok)
	_, ok = s.GetEntity("a.go:Renamed")
	assert.True(t, ok)

	edges := s.Downstream("a.go:Renamed")
	require.Len(t, edges, 1)
	assert.Equal(t, "a.go:G", edges[0].Target)
}

func TestStore_Rekey_ConflictingIDIsError(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)
	s.UpsertEntity(rpg.Entity{ID: "a.go:G", FilePath: "a.go"}, true)
	assert.Error(t, s.Rekey("a.go:F", "a.go:G"))
}

func TestStore_Revision_IsMonotonic(t *testing.T) {
	s := rpg.NewStore()
	before := s.Revision()
	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)
	after := s.Revision()
	assert.Greater(t, after, before)
}

func TestStore_ReplaceWith_SwapsDataKeepingPointer(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)

	fresh := rpg.NewStore()
	fresh.UpsertEntity(rpg.Entity{ID: "b.go:G", FilePath: "b.go"}, true)

	s.ReplaceWith(fresh)

	_, ok := s.GetEntity("a.go:F")
	assert.False(t, ok, "old data must be gone after a wholesale swap")
	_, ok = s.GetEntity("b.go:G")
	assert.True(t, ok)
}
