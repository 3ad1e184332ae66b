package rpg

import (
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Embedder maps a feature string to a fixed-dimension vector. Supplied by
// the embedding collaborator boundary (embedding.go); nil means the
// Search Engine degrades to lexical-only scoring (§4.4, §4.7).
type Embedder interface {
	Embed(text string) ([]float64, bool)
}

// SearchWeights configures the rank-normalized blend (§4.4).
type SearchWeights struct {
	Semantic float64
	Lexical  float64
}

// Filters narrows the candidate pool before ranking (§4.4 point 4).
type Filters struct {
	HierarchyScope string // prefix match against entity.HierarchyPath
	FilePattern    string // substring match against entity.FilePath
	EntityKind     EntityKind
	LineMin        int
	LineMax        int // 0 means unbounded
}

func (f Filters) matches(e *Entity) bool {
	if f.HierarchyScope != "" && !strings.HasPrefix(e.HierarchyPath, f.HierarchyScope) {
		return false
	}
	if f.FilePattern != "" && !strings.Contains(e.FilePath, f.FilePattern) {
		return false
	}
	if f.EntityKind != "" && e.Kind != f.EntityKind {
		return false
	}
	if f.LineMin > 0 && e.Span.StartLine < f.LineMin {
		return false
	}
	if f.LineMax > 0 && e.Span.EndLine > f.LineMax {
		return false
	}
	return true
}

// SearchResult is one ranked hit.
type SearchResult struct {
	EntityID string
	Score    float64
}

// SearchEngine answers intent queries and graph-shape queries over a
// Store (§4.4).
type SearchEngine struct {
	store    *Store
	embedder Embedder
	weights  SearchWeights
}

// NewSearchEngine creates a SearchEngine. embedder may be nil.
func NewSearchEngine(store *Store, embedder Embedder, weights SearchWeights) *SearchEngine {
	return &SearchEngine{store: store, embedder: embedder, weights: weights}
}

// DiffBoost configures the proximity-based multiplier applied when a
// since_commit changed-entity set is supplied (§4.4 Diff-aware boosting).
type DiffBoost struct {
	Changed float64
	OneHop  float64
	TwoHop  float64
}

// SearchNode answers an intent query. changedEntities is the set of
// entity ids changed since since_commit, or nil if no diff-boost is
// requested. limit is the final result count; candidatePoolMultiplier
// enlarges the pool before truncation so boosted entities can rise in
// (§4.4: "an enlarged candidate pool, >=10x final limit").
func (se *SearchEngine) SearchNode(query string, filters Filters, changedEntities map[string]bool, boost DiffBoost, limit, candidatePoolMultiplier int) []SearchResult {
	all := se.store.AllEntities()

	var candidates []*Entity
	for _, e := range all {
		if filters.matches(e) {
			candidates = append(candidates, e)
		}
	}

	idf := computeIDF(candidates)
	lexScores := make(map[string]float64, len(candidates))
	semScores := make(map[string]float64, len(candidates))
	haveSemantic := se.embedder != nil

	var queryVec []float64
	if haveSemantic {
		if v, ok := se.embedder.Embed(query); ok {
			queryVec = v
		} else {
			haveSemantic = false
		}
	}

	for _, e := range candidates {
		lexScores[e.ID] = lexicalScore(query, e, idf)
		if haveSemantic {
			semScores[e.ID] = semanticScore(queryVec, e, se.embedder)
		}
	}

	lexRanks := rankNormalize(lexScores)
	var semRanks map[string]float64
	if haveSemantic {
		semRanks = rankNormalize(semScores)
	}

	poolSize := limit * candidatePoolMultiplier
	if poolSize <= 0 {
		poolSize = len(candidates)
	}

	type scored struct {
		id    string
		blend float64
	}
	blended := make([]scored, 0, len(candidates))
	for _, e := range candidates {
		var blend float64
		if haveSemantic {
			blend = se.weights.Semantic*semRanks[e.ID] + se.weights.Lexical*lexRanks[e.ID]
		} else {
			blend = lexRanks[e.ID]
		}
		blended = append(blended, scored{id: e.ID, blend: blend})
	}
	sort.Slice(blended, func(i, j int) bool {
		if blended[i].blend != blended[j].blend {
			return blended[i].blend > blended[j].blend
		}
		return blended[i].id < blended[j].id
	})
	if len(blended) > poolSize {
		blended = blended[:poolSize]
	}

	if len(changedEntities) > 0 {
		oneHop, twoHop := se.proximitySets(changedEntities)
		for i, b := range blended {
			switch {
			case changedEntities[b.id]:
				blended[i].blend *= boost.Changed
			case oneHop[b.id]:
				blended[i].blend *= boost.OneHop
			case twoHop[b.id]:
				blended[i].blend *= boost.TwoHop
			}
		}
		sort.Slice(blended, func(i, j int) bool {
			if blended[i].blend != blended[j].blend {
				return blended[i].blend > blended[j].blend
			}
			return blended[i].id < blended[j].id
		})
	}

	if len(blended) > limit {
		blended = blended[:limit]
	}

	out := make([]SearchResult, len(blended))
	for i, b := range blended {
		out[i] = SearchResult{EntityID: b.id, Score: b.blend}
	}
	return out
}

// proximitySets computes the 1-hop and 2-hop neighbor sets (in either
// edge direction) of changed, excluding changed itself.
func (se *SearchEngine) proximitySets(changed map[string]bool) (oneHop, twoHop map[string]bool) {
	oneHop = make(map[string]bool)
	for id := range changed {
		for _, e := range se.store.Downstream(id) {
			if !changed[e.Target] {
				oneHop[e.Target] = true
			}
		}
		for _, e := range se.store.Upstream(id) {
			if !changed[e.Source] {
				oneHop[e.Source] = true
			}
		}
	}
	twoHop = make(map[string]bool)
	for id := range oneHop {
		for _, e := range se.store.Downstream(id) {
			if !changed[e.Target] && !oneHop[e.Target] {
				twoHop[e.Target] = true
			}
		}
		for _, e := range se.store.Upstream(id) {
			if !changed[e.Source] && !oneHop[e.Source] {
				twoHop[e.Source] = true
			}
		}
	}
	return oneHop, twoHop
}

// computeIDF computes inverse-document-frequency weights over every
// token appearing in any candidate's features/name/path.
func computeIDF(entities []*Entity) map[string]float64 {
	docCount := make(map[string]int)
	n := len(entities)
	for _, e := range entities {
		seen := make(map[string]bool)
		for _, tok := range tokensOf(e) {
			seen[tok] = true
		}
		for tok := range seen {
			docCount[tok]++
		}
	}
	idf := make(map[string]float64, len(docCount))
	for tok, count := range docCount {
		idf[tok] = math.Log(float64(n+1) / float64(count+1))
	}
	return idf
}

func tokensOf(e *Entity) []string {
	var toks []string
	for _, f := range e.Features {
		toks = append(toks, strings.Fields(f)...)
	}
	toks = append(toks, strings.Fields(strings.ToLower(strings.ReplaceAll(e.FilePath, "/", " ")))...)
	toks = append(toks, strings.Fields(strings.ToLower(entityName(e.ID)))...)
	return toks
}

func entityName(id string) string {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return id
	}
	return id[idx+1:]
}

// lexicalScore computes L(q, e): IDF-weighted token overlap, a phrase
// match bonus, and an edit-distance bonus to the entity's bare name
// (§4.4 point 1).
func lexicalScore(query string, e *Entity, idf map[string]float64) float64 {
	qTokens := strings.Fields(strings.ToLower(query))
	eTokens := make(map[string]bool)
	for _, t := range tokensOf(e) {
		eTokens[t] = true
	}

	var overlap float64
	for _, qt := range qTokens {
		if eTokens[qt] {
			overlap += idf[qt]
		}
	}

	phraseBonus := 0.0
	joined := strings.ToLower(strings.Join(tokensOf(e), " "))
	if strings.Contains(joined, strings.ToLower(query)) {
		phraseBonus = 1.0
	}

	name := entityName(e.ID)
	editBonus := 0.0
	if name != "" {
		dist := levenshtein.ComputeDistance(strings.ToLower(query), strings.ToLower(name))
		editBonus = 1.0 - float64(dist)/float64(max(len(query), len(name)))
		if editBonus < 0 {
			editBonus = 0
		}
	}

	return overlap + phraseBonus + 0.5*editBonus
}

// semanticScore computes S(q, e) = max_i cos(embed(q), embed(f_i)) —
// max over per-feature vectors, never a centroid (§4.4 point 2).
func semanticScore(queryVec []float64, e *Entity, embedder Embedder) float64 {
	best := 0.0
	for _, f := range e.Features {
		v, ok := embedder.Embed(f)
		if !ok {
			continue
		}
		c := cosineSimilarity(queryVec, v)
		if c > best {
			best = c
		}
	}
	return best
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rankNormalize maps raw scores to a rank-derived [0,1] scale: the
// highest raw score gets 1.0, lowest gets 0.0 (or 1.0 for a singleton
// pool), so two scoring signals with unrelated scales blend fairly.
func rankNormalize(scores map[string]float64) map[string]float64 {
	type kv struct {
		id    string
		score float64
	}
	items := make([]kv, 0, len(scores))
	for id, s := range scores {
		items = append(items, kv{id, s})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score < items[j].score })

	out := make(map[string]float64, len(items))
	n := len(items)
	for i, it := range items {
		if n <= 1 {
			out[it.id] = 1.0
			continue
		}
		out[it.id] = float64(i) / float64(n-1)
	}
	return out
}
