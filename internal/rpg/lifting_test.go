package rpg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpgmcp/rpgmcp/internal/rpg"
)

func defaultThresholds() rpg.LiftingThresholds {
	return rpg.LiftingThresholds{AutoLiftMaxCalls: 2, ReviewBranches: 1, ReviewCalls: 3}
}

func TestLiftingThresholds_Classify(t *testing.T) {
	th := defaultThresholds()

	tests := []struct {
		name   string
		hints  rpg.ComplexityHints
		expect rpg.AutoLiftVerdict
	}{
		{"trivial accessor", rpg.ComplexityHints{Branches: 0, Loops: 0, Calls: 1}, rpg.VerdictAccept},
		{"single branch needs review", rpg.ComplexityHints{Branches: 1, Loops: 0, Calls: 1}, rpg.VerdictReview},
		{"heavy call count needs review", rpg.ComplexityHints{Branches: 0, Loops: 0, Calls: 3}, rpg.VerdictReview},
		{"loop pushes past accept into full", rpg.ComplexityHints{Branches: 0, Loops: 2, Calls: 1}, rpg.VerdictFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, th.Classify(tt.hints))
		})
	}
}

func TestLiftingEngine_Batches_AutoAcceptsAndTracksStatus(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertEntity(rpg.Entity{ID: "a.go:Trivial", FilePath: "a.go", ComplexityHints: rpg.ComplexityHints{Calls: 1}}, true)
	store.UpsertEntity(rpg.Entity{ID: "a.go:Complex", FilePath: "a.go", ComplexityHints: rpg.ComplexityHints{Branches: 2, Calls: 5}}, true)

	le := rpg.NewLiftingEngine(store, defaultThresholds())
	batches := le.Batches("", 50, 8000)

	require.Len(t, batches, 1)
	assert.Equal(t, []string{"a.go:Complex"}, batches[0].EntityIDs)
	assert.Equal(t, rpg.StatusLifted, le.Status("a.go:Trivial"))
	assert.Equal(t, rpg.StatusReview, le.Status("a.go:Complex"))
}

func TestLiftingEngine_Batches_RespectsScopePrefix(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go", ComplexityHints: rpg.ComplexityHints{Branches: 1}}, true)
	store.UpsertEntity(rpg.Entity{ID: "b.go:G", FilePath: "b.go", ComplexityHints: rpg.ComplexityHints{Branches: 1}}, true)

	le := rpg.NewLiftingEngine(store, defaultThresholds())
	batches := le.Batches("a.go", 50, 8000)

	require.Len(t, batches, 1)
	assert.Equal(t, []string{"a.go:F"}, batches[0].EntityIDs)
}

func TestLiftingEngine_Batches_SplitsOnBatchSize(t *testing.T) {
	store := rpg.NewStore()
	for _, id := range []string{"a.go:A", "a.go:B", "a.go:C"} {
		store.UpsertEntity(rpg.Entity{ID: id, FilePath: "a.go", ComplexityHints: rpg.ComplexityHints{Branches: 1}}, true)
	}

	le := rpg.NewLiftingEngine(store, defaultThresholds())
	batches := le.Batches("", 2, 8000)

	require.Len(t, batches, 2)
	assert.Len(t, batches[0].EntityIDs, 2)
	assert.Len(t, batches[1].EntityIDs, 1)
}

func TestLiftingEngine_SubmitLiftResults_AppliesAndRejectsPerKey(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)

	le := rpg.NewLiftingEngine(store, defaultThresholds())
	results := le.SubmitLiftResults(map[string][]string{
		"a.go:F": {"validates the request body"},
		"ghost":  {"never applied"},
	})

	require.Len(t, results, 2)
	byID := map[string]rpg.SubmitResult{}
	for _, r := range results {
		byID[r.EntityID] = r
	}
	assert.True(t, byID["a.go:F"].Applied)
	assert.False(t, byID["ghost"].Applied)

	e, _ := store.GetEntity("a.go:F")
	assert.Equal(t, []string{"validates the request body"}, e.Features)
	assert.Equal(t, rpg.ProvenanceLLM, e.Provenance)
	assert.Equal(t, rpg.StatusLifted, le.Status("a.go:F"))
}

func TestLiftingEngine_SubmitLiftResults_RejectsAlreadyLifted(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go"}, true)

	le := rpg.NewLiftingEngine(store, defaultThresholds())
	le.SubmitLiftResults(map[string][]string{"a.go:F": {"first pass"}})
	results := le.SubmitLiftResults(map[string][]string{"a.go:F": {"second pass"}})

	require.Len(t, results, 1)
	assert.False(t, results[0].Applied)
}

func TestLiftingEngine_MarkForRelift_RejoinsBatches(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go", ComplexityHints: rpg.ComplexityHints{Branches: 1}}, true)

	le := rpg.NewLiftingEngine(store, defaultThresholds())
	le.SubmitLiftResults(map[string][]string{"a.go:F": {"did a thing"}})
	require.Equal(t, rpg.StatusLifted, le.Status("a.go:F"))

	le.MarkForRelift("a.go:F")
	assert.Equal(t, rpg.StatusUnlifted, le.Status("a.go:F"))

	batches := le.Batches("", 50, 8000)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"a.go:F"}, batches[0].EntityIDs)
}

func TestLiftingEngine_FilesReadyForSynthesis(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertEntity(rpg.Entity{ID: "a.go:module", FilePath: "a.go"}, true)
	store.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go", ComplexityHints: rpg.ComplexityHints{Calls: 1}}, true)

	le := rpg.NewLiftingEngine(store, defaultThresholds())
	le.Batches("", 50, 8000) // auto-lifts both trivial entities

	files := le.FilesReadyForSynthesis()
	assert.Equal(t, []string{"a.go"}, files)

	results := le.SubmitFileSyntheses(map[string][]string{"a.go": {"parses input", "builds the graph"}})
	require.Len(t, results, 1)
	assert.True(t, results[0].Applied)

	// Once synthesized, the file no longer reports as ready again.
	assert.Empty(t, le.FilesReadyForSynthesis())
}

func TestLiftingEngine_SubmitFileSyntheses_MissingModuleEntity(t *testing.T) {
	store := rpg.NewStore()
	le := rpg.NewLiftingEngine(store, defaultThresholds())

	results := le.SubmitFileSyntheses(map[string][]string{"missing.go": {"whatever"}})
	require.Len(t, results, 1)
	assert.False(t, results[0].Applied)
	assert.Equal(t, "no module entity for file", results[0].Reason)
}

func TestLiftingEngine_StatusCounts(t *testing.T) {
	store := rpg.NewStore()
	store.UpsertEntity(rpg.Entity{ID: "a.go:F", FilePath: "a.go", ComplexityHints: rpg.ComplexityHints{Calls: 1}}, true)
	store.UpsertEntity(rpg.Entity{ID: "a.go:G", FilePath: "a.go", ComplexityHints: rpg.ComplexityHints{Branches: 1}}, true)

	le := rpg.NewLiftingEngine(store, defaultThresholds())
	le.Batches("", 50, 8000)

	counts := le.StatusCounts()
	assert.Equal(t, 1, counts[rpg.StatusLifted])
	assert.Equal(t, 1, counts[rpg.StatusReview])
}
