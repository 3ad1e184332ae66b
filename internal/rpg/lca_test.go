package rpg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpgmcp/rpgmcp/internal/rpg"
)

func TestStore_Ground_AnchorsOnSharedPrefix(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core"})
	s.UpsertEntity(rpg.Entity{ID: "1", FilePath: "internal/rpg/store.go"}, true)
	s.UpsertEntity(rpg.Entity{ID: "2", FilePath: "internal/rpg/lca.go"}, true)
	require.NoError(t, s.AssignHierarchyPath("1", "core"))
	require.NoError(t, s.AssignHierarchyPath("2", "core"))

	s.Ground()

	node, ok := s.GetHierarchyNode("core")
	require.True(t, ok)
	assert.Equal(t, "internal/rpg", node.Anchor)
}

func TestStore_Ground_SingleLeafAnchorsAtParentDir(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core"})
	s.UpsertEntity(rpg.Entity{ID: "1", FilePath: "internal/rpg/store.go"}, true)
	require.NoError(t, s.AssignHierarchyPath("1", "core"))

	s.Ground()

	node, ok := s.GetHierarchyNode("core")
	require.True(t, ok)
	assert.Equal(t, "internal/rpg", node.Anchor)
}

func TestStore_Ground_DivergentPathsAnchorAtRoot(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core"})
	s.UpsertEntity(rpg.Entity{ID: "1", FilePath: "alpha/store.go"}, true)
	s.UpsertEntity(rpg.Entity{ID: "2", FilePath: "beta/lca.go"}, true)
	require.NoError(t, s.AssignHierarchyPath("1", "core"))
	require.NoError(t, s.AssignHierarchyPath("2", "core"))

	s.Ground()

	node, ok := s.GetHierarchyNode("core")
	require.True(t, ok)
	assert.Equal(t, "", node.Anchor)
}

func TestStore_Ground_PrunesNowEmptyNode(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core"})

	s.Ground()

	_, ok := s.GetHierarchyNode("core")
	assert.False(t, ok)
}

func TestStore_MaterializeContains_InstallsMissingEdges(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core"})
	s.UpsertEntity(rpg.Entity{ID: "1", FilePath: "a.go", HierarchyPath: "core"}, true)

	s.MaterializeContains()

	edges := s.Downstream("1")
	require.Len(t, edges, 1)
	assert.Equal(t, rpg.EdgeContains, edges[0].Kind)
	assert.Equal(t, "core", edges[0].Target)
}

func TestStore_ResolveDependencyHints_DropsUnresolvable(t *testing.T) {
	s := rpg.NewStore()
	s.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)
	s.UpsertEntity(rpg.Entity{ID: "a.go:G", FilePath: "a.go"}, true)

	hints := []rpg.DependencyHint{
		{Target: "a.go:G", Kind: rpg.EdgeInvokes},
		{Target: "unresolvable", Kind: rpg.EdgeInvokes},
	}
	resolved := s.ResolveDependencyHints("a.go:F", hints, func(hint string) string {
		if hint == "a.go:G" {
			return "a.go:G"
		}
		return ""
	})

	require.Len(t, resolved, 1)
	assert.Equal(t, "a.go:G", resolved[0].Target)
}
