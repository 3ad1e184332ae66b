package rpg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpgmcp/rpgmcp/internal/rpg"
)

func driftThresholds() rpg.DriftThresholds {
	return rpg.DriftThresholds{IgnoreThreshold: 0.3, AutoThreshold: 0.7}
}

func TestDriftThresholds_Classify(t *testing.T) {
	th := driftThresholds()

	tests := []struct {
		name     string
		distance float64
		expect   rpg.DriftZone
	}{
		{"below ignore", 0.1, rpg.DriftIgnore},
		{"at ignore boundary is borderline", 0.3, rpg.DriftBorderline},
		{"mid-range is borderline", 0.5, rpg.DriftBorderline},
		{"above auto boundary", 0.8, rpg.DriftAuto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, th.Classify(tt.distance))
		})
	}
}

func TestEvolutionEngine_ApplyDeletion_RemovesAllLeavesInFile(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)
	store.UpsertEntity(rpg.Entity{ID: "a.go:G", FilePath: "a.go"}, true)
	store.UpsertEntity(rpg.Entity{ID: "b.go:H", FilePath: "b.go"}, true)

	eng := rpg.NewEvolutionEngine(store, driftThresholds())
	require.NoError(t, eng.ApplyDeletion("a.go"))

	assert.Empty(t, store.EntitiesInFile("a.go"))
	assert.Equal(t, []string{"b.go:H"}, store.EntitiesInFile("b.go"))
}

func TestEvolutionEngine_ApplyModification_IgnoreZoneSkipsQueueing(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go", Features: []string{"parses a request"}}, true)

	eng := rpg.NewEvolutionEngine(store, driftThresholds())
	result, err := eng.ApplyModification("a.go:F", []string{"parses a request"}, nil)
	require.NoError(t, err)

	assert.Equal(t, rpg.DriftIgnore, result.Zone)
	assert.False(t, result.Queued)
	assert.Empty(t, store.PendingRoutingEntries())
}

func TestEvolutionEngine_ApplyModification_AutoZoneQueuesPendingRouting(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core/store/entities"})
	store.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go", Features: []string{"parses a request"}}, true)
	require.NoError(t, store.AssignHierarchyPath("a.go:F", "core/store/entities"))

	eng := rpg.NewEvolutionEngine(store, driftThresholds())
	result, err := eng.ApplyModification("a.go:F", []string{"renders a dashboard widget"}, []string{"ui/widgets/dashboard"})
	require.NoError(t, err)

	assert.Equal(t, rpg.DriftAuto, result.Zone)
	assert.True(t, result.Queued)

	pending := store.PendingRoutingEntries()
	require.Len(t, pending, 1)
	assert.Equal(t, "drift", pending[0].Reason)
	assert.Equal(t, "core/store/entities", pending[0].PriorPath)
}

func TestEvolutionEngine_ApplyModification_UnknownEntity(t *testing.T) {
	store := rpg.NewStore()
	eng := rpg.NewEvolutionEngine(store, driftThresholds())
	_, err := eng.ApplyModification("ghost", nil, nil)
	assert.Error(t, err)
}

func TestEvolutionEngine_ApplyInsertion_StartsWithNoHierarchyPath(t *testing.T) {
	store := rpg.NewStore()
	eng := rpg.NewEvolutionEngine(store, driftThresholds())

	eng.ApplyInsertion(rpg.Entity{ID: "new.go:F", FilePath: "new.go", HierarchyPath: "core"})

	e, ok := store.GetEntity("new.go:F")
	require.True(t, ok)
	assert.Equal(t, "", e.HierarchyPath)
}

func TestEvolutionEngine_ApplyRoutingDecisions_RejectsStaleRevision(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core/a/b"})
	store.UpsertEntity(rpg.Entity{ID: "new.go:F", FilePath: "new.go"}, true)

	eng := rpg.NewEvolutionEngine(store, driftThresholds())
	eng.EnqueueInsertionRouting("new.go:F", []string{"core/a/b"})

	errs := eng.ApplyRoutingDecisions([]rpg.RoutingDecision{
		{EntityID: "new.go:F", Path: "core/a/b", SubmittedRevision: 1},
	})
	require.Len(t, errs, 1)
	assert.Error(t, errs[0])

	// still pending, not applied
	assert.Len(t, store.PendingRoutingEntries(), 1)
}

func TestEvolutionEngine_ApplyRoutingDecisions_AppliesValidDecision(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertHierarchyNode(rpg.HierarchyNode{Path: "core/a/b"})
	store.UpsertEntity(rpg.Entity{ID: "new.go:F", FilePath: "new.go"}, true)

	eng := rpg.NewEvolutionEngine(store, driftThresholds())
	eng.EnqueueInsertionRouting("new.go:F", []string{"core/a/b"})

	pending := store.PendingRoutingEntries()
	require.Len(t, pending, 1)

	errs := eng.ApplyRoutingDecisions([]rpg.RoutingDecision{
		{EntityID: "new.go:F", Path: "core/a/b", SubmittedRevision: pending[0].EnqueuedAt},
	})
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])

	e, _ := store.GetEntity("new.go:F")
	assert.Equal(t, "core/a/b", e.HierarchyPath)
	assert.Empty(t, store.PendingRoutingEntries())
}

func TestEvolutionEngine_ApplyRoutingDecisions_RejectsNonexistentPath(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertEntity(rpg.Entity{ID: "new.go:F", FilePath: "new.go"}, true)

	eng := rpg.NewEvolutionEngine(store, driftThresholds())
	eng.EnqueueInsertionRouting("new.go:F", nil)
	pending := store.PendingRoutingEntries()
	require.Len(t, pending, 1)

	errs := eng.ApplyRoutingDecisions([]rpg.RoutingDecision{
		{EntityID: "new.go:F", Path: "does/not/exist", SubmittedRevision: pending[0].EnqueuedAt},
	})
	require.Len(t, errs, 1)
	assert.Error(t, errs[0])
}

func TestEvolutionEngine_DrainPending_RoutesToNearestArea(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertHierarchyNode(rpg.HierarchyNode{Path: "ui/widgets/dashboard"})
	store.UpsertEntity(rpg.Entity{ID: "new.go:F", FilePath: "new.go", Features: []string{"renders a widget"}}, true)

	eng := rpg.NewEvolutionEngine(store, driftThresholds())
	eng.EnqueueInsertionRouting("new.go:F", nil)

	results := eng.DrainPending(map[string][]string{
		"ui":   {"renders a widget", "dispatches a click"},
		"core": {"parses a request"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, "new.go:F", results[0].EntityID)
	assert.Empty(t, store.PendingRoutingEntries())

	e, _ := store.GetEntity("new.go:F")
	assert.Equal(t, "ui/widgets/dashboard", e.HierarchyPath)
}
