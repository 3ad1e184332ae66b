package rpg

// ContextPackEntry is one entity's contribution to a context pack,
// with its three eviction tiers tracked separately so eviction can drop
// whole-entity source before features, and features before identity
// (§4.4 Context pack).
type ContextPackEntry struct {
	EntityID      string
	FilePath      string
	HierarchyPath string
	Source        string   // evicted first
	Features      []string // evicted second
	// Identity (EntityID/FilePath/HierarchyPath) is never evicted: a pack
	// entry with both Source and Features dropped still names the entity.
}

func (e ContextPackEntry) tokenCost() int {
	cost := estimateTokens(e.Source)
	for _, f := range e.Features {
		cost += estimateTokens(f)
	}
	cost += estimateTokens(e.EntityID)
	return cost
}

// ContextPack is the result of a search-then-fetch-then-prune call,
// pruned to fit tokenBudget.
type ContextPack struct {
	Entries []ContextPackEntry
	// Evicted lists, per entity id, which tiers were dropped to fit the
	// budget ("source", "features") so a caller can tell the agent what
	// was pruned.
	Evicted map[string][]string
}

// BuildContextPack searches, fetches neighbor context (1-hop downstream
// of each hit), and prunes to fit tokenBudget (§4.4 Context pack).
func (se *SearchEngine) BuildContextPack(query string, filters Filters, limit int, tokenBudget int) ContextPack {
	hits := se.SearchNode(query, filters, nil, DiffBoost{}, limit, 10)

	seen := make(map[string]bool)
	var entries []ContextPackEntry

	addEntity := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		e, ok := se.store.GetEntity(id)
		if !ok {
			return
		}
		entries = append(entries, ContextPackEntry{
			EntityID:      e.ID,
			FilePath:      e.FilePath,
			HierarchyPath: e.HierarchyPath,
			Source:        e.Source,
			Features:      append([]string(nil), e.Features...),
		})
	}

	for _, h := range hits {
		addEntity(h.EntityID)
		for _, edge := range se.store.Downstream(h.EntityID) {
			if edge.Kind != EdgeContains {
				addEntity(edge.Target)
			}
		}
	}

	evicted := make(map[string][]string)
	total := 0
	for _, e := range entries {
		total += e.tokenCost()
	}

	// Evict whole-entity source first (lowest-ranked entries first, since
	// entries are appended in rank order and neighbor-context order).
	for i := len(entries) - 1; i >= 0 && total > tokenBudget; i-- {
		if entries[i].Source == "" {
			continue
		}
		total -= estimateTokens(entries[i].Source)
		evicted[entries[i].EntityID] = append(evicted[entries[i].EntityID], "source")
		entries[i].Source = ""
	}

	// Then evict features, same order, if still over budget.
	for i := len(entries) - 1; i >= 0 && total > tokenBudget; i-- {
		if len(entries[i].Features) == 0 {
			continue
		}
		for _, f := range entries[i].Features {
			total -= estimateTokens(f)
		}
		evicted[entries[i].EntityID] = append(evicted[entries[i].EntityID], "features")
		entries[i].Features = nil
	}

	return ContextPack{Entries: entries, Evicted: evicted}
}
