package rpg

import (
	"sort"
	"strings"
	"sync"
)

// LiftStatus is the per-entity lifting state.
type LiftStatus string

const (
	StatusUnlifted LiftStatus = "unlifted"
	StatusReview   LiftStatus = "review"
	StatusLifted   LiftStatus = "lifted"
)

// AutoLiftVerdict is the outcome of applying the auto-lift heuristic
// (§4.3) to an entity's complexity hints.
type AutoLiftVerdict string

const (
	VerdictAccept AutoLiftVerdict = "accept"  // zero branches, zero loops, <= max calls
	VerdictReview AutoLiftVerdict = "review"  // exactly the review threshold or above
	VerdictFull   AutoLiftVerdict = "full"    // otherwise: full review, no pre-filled features
)

// LiftingThresholds configures the auto-lift heuristic boundary (§9 open
// question: exposed as configuration, not hardcoded).
type LiftingThresholds struct {
	AutoLiftMaxBranches int
	AutoLiftMaxLoops    int
	AutoLiftMaxCalls    int
	ReviewBranches      int
	ReviewCalls         int
}

// Classify applies the auto-lift heuristic to a single entity's
// complexity hints.
func (t LiftingThresholds) Classify(hints ComplexityHints) AutoLiftVerdict {
	if hints.Branches <= t.AutoLiftMaxBranches && hints.Loops <= t.AutoLiftMaxLoops && hints.Calls <= t.AutoLiftMaxCalls {
		return VerdictAccept
	}
	if hints.Branches == t.ReviewBranches || hints.Calls >= t.ReviewCalls {
		return VerdictReview
	}
	return VerdictFull
}

// LiftingEngine hands the agent batches of entities needing features,
// applies submissions, and computes per-file synthesis (§4.3).
type LiftingEngine struct {
	store      *Store
	thresholds LiftingThresholds

	mu        sync.Mutex
	statuses  map[string]LiftStatus
	fileDone  map[string]bool // files whose leaves are all lifted, awaiting synthesis
	relift    map[string]bool // entities whose re-lift is due to a modified file, not a first lift

	embedding *EmbeddingBoundary // optional; invalidated right before a feature overwrite
}

// SetEmbedding wires the embedding boundary whose cache must be
// invalidated whenever this engine overwrites an entity's features.
// Called once by service construction; nil is a valid "no embedder
// configured" value.
func (le *LiftingEngine) SetEmbedding(b *EmbeddingBoundary) {
	le.embedding = b
}

// NewLiftingEngine creates a LiftingEngine over store.
func NewLiftingEngine(store *Store, thresholds LiftingThresholds) *LiftingEngine {
	return &LiftingEngine{
		store:      store,
		thresholds: thresholds,
		statuses:   make(map[string]LiftStatus),
		fileDone:   make(map[string]bool),
		relift:     make(map[string]bool),
	}
}

// Batch is one deterministic slice of the unlifted set, bounded by count
// and token budget (§4.3).
type Batch struct {
	Index             int
	EntityIDs         []string
	ReviewCandidates  map[string][]string // entity id -> pre-filled features, for review-candidate entries
}

// Batches partitions unlifted entities into deterministic batches bounded
// by both batchSize and maxBatchTokens (computed over concatenated
// source, approximated here as len(source)/4 to avoid a tokenizer
// dependency the spec does not name).
func (le *LiftingEngine) Batches(scope string, batchSize, maxBatchTokens int) []Batch {
	var unlifted []*Entity
	for _, e := range le.store.AllEntities() {
		if scope != "" && !strings.HasPrefix(e.FilePath, scope) {
			continue
		}
		if le.statusOf(e.ID) == StatusLifted {
			continue
		}
		unlifted = append(unlifted, e)
	}
	sort.Slice(unlifted, func(i, j int) bool { return unlifted[i].ID < unlifted[j].ID })

	var batches []Batch
	var cur Batch
	curTokens := 0
	for _, e := range unlifted {
		tokens := estimateTokens(e.Source)
		if len(cur.EntityIDs) > 0 && (len(cur.EntityIDs) >= batchSize || curTokens+tokens > maxBatchTokens) {
			batches = append(batches, cur)
			cur = Batch{Index: len(batches)}
			curTokens = 0
		}
		verdict := le.thresholds.Classify(e.ComplexityHints)
		switch verdict {
		case VerdictAccept:
			// Accepted silently: apply empty-diff features directly, never
			// surfaced to the agent as a batch member.
			le.markStatus(e.ID, StatusLifted)
			continue
		case VerdictReview:
			if cur.ReviewCandidates == nil {
				cur.ReviewCandidates = make(map[string][]string)
			}
			cur.ReviewCandidates[e.ID] = e.Features
			le.markStatus(e.ID, StatusReview)
		default:
			le.markStatus(e.ID, StatusUnlifted)
		}
		cur.EntityIDs = append(cur.EntityIDs, e.ID)
		curTokens += tokens
	}
	if len(cur.EntityIDs) > 0 {
		cur.Index = len(batches)
		batches = append(batches, cur)
	}
	return batches
}

func estimateTokens(source string) int {
	if source == "" {
		return 0
	}
	return len(source)/4 + 1
}

// SubmitResult is the outcome of submit_lift_results for a single key.
type SubmitResult struct {
	EntityID string
	Applied  bool
	Reason   string // populated when Applied is false
}

// SubmitLiftResults applies a map of id -> features (§4.3 Submission).
// For each key: verify the id exists and is currently unlifted or in
// review; replace features after normalization; record provenance;
// unmatched keys are reported and do not modify the graph. Valid keys are
// still applied even if other keys in the same call are invalid (§7
// propagation policy: partial submissions are atomic per-key).
func (le *LiftingEngine) SubmitLiftResults(submissions map[string][]string) []SubmitResult {
	results := make([]SubmitResult, 0, len(submissions))

	ids := make([]string, 0, len(submissions))
	for id := range submissions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		features := submissions[id]
		status := le.statusOf(id)
		e, ok := le.store.GetEntity(id)
		if !ok {
			results = append(results, SubmitResult{EntityID: id, Applied: false, Reason: "unknown entity"})
			continue
		}
		if status == StatusLifted {
			results = append(results, SubmitResult{EntityID: id, Applied: false, Reason: "already lifted"})
			continue
		}

		if le.embedding != nil {
			le.embedding.InvalidateEntity(e)
		}
		e.Features = features
		e.Provenance = ProvenanceLLM
		le.store.UpsertEntity(*e, true)
		le.markStatus(id, StatusLifted)
		results = append(results, SubmitResult{EntityID: id, Applied: true})
	}

	return results
}

func (le *LiftingEngine) statusOf(id string) LiftStatus {
	le.mu.Lock()
	defer le.mu.Unlock()
	return le.statuses[id]
}

// Status reports an entity's current lifting state for callers outside
// the package (e.g. the update_rpg/submit_lift_results tool handlers
// deciding whether a submission is a first lift or a re-lift).
func (le *LiftingEngine) Status(id string) LiftStatus {
	return le.statusOf(id)
}

// MarkForRelift resets an entity back to unlifted, used when update_rpg
// re-parses a modified file: the entity's structure may have changed
// underneath its existing features, so it rejoins the lifting batches
// rather than being treated as already handled. The relift marker
// survives the status reset so submit_lift_results can still recognize
// the eventual resubmission as a re-lift of a modified entity rather
// than a first lift, and route it through drift classification.
func (le *LiftingEngine) MarkForRelift(id string) {
	le.mu.Lock()
	le.statuses[id] = StatusUnlifted
	le.relift[id] = true
	le.mu.Unlock()
}

// NeedsDriftClassification reports whether id is awaiting a re-lift
// triggered by a file modification (§4.5 Algorithm 3): its status was
// reset to unlifted by MarkForRelift, but it was lifted before, so its
// next submission must be compared against its prior features rather
// than treated as a plain first-time overwrite.
func (le *LiftingEngine) NeedsDriftClassification(id string) bool {
	le.mu.Lock()
	defer le.mu.Unlock()
	return le.relift[id]
}

// ConsumeRelift clears id's re-lift marker once its drift classification
// has been applied, so a later ordinary submission for the same id isn't
// misrouted through the drift path again.
func (le *LiftingEngine) ConsumeRelift(id string) {
	le.mu.Lock()
	defer le.mu.Unlock()
	delete(le.relift, id)
}

// MarkLifted records id as fully lifted. The drift-classification path
// in submit_lift_results calls this after Evolution.ApplyModification
// records the new features, since that path bypasses the plain-overwrite
// SubmitLiftResults above, which marks status itself.
func (le *LiftingEngine) MarkLifted(id string) {
	le.markStatus(id, StatusLifted)
}

// StatusCounts reports how many tracked entities currently sit in each
// lifting status, for the lifting_status tool's summary view. Entities
// never yet surfaced in a batch (no recorded status) are not counted.
func (le *LiftingEngine) StatusCounts() map[LiftStatus]int {
	le.mu.Lock()
	defer le.mu.Unlock()
	counts := make(map[LiftStatus]int)
	for _, status := range le.statuses {
		counts[status]++
	}
	return counts
}

func (le *LiftingEngine) markStatus(id string, status LiftStatus) {
	le.mu.Lock()
	defer le.mu.Unlock()
	le.statuses[id] = status
}

// FileSynthesisBatch is a per-file feature bag surfaced for abstraction
// into 3-6 holistic features once every entity in the file is lifted
// (§4.3 File synthesis).
type FileSynthesisBatch struct {
	Index     int
	FilePaths []string
}

// FilesReadyForSynthesis returns the files whose entities are all lifted
// but which have not yet had synthesis results submitted.
func (le *LiftingEngine) FilesReadyForSynthesis() []string {
	le.mu.Lock()
	defer le.mu.Unlock()

	filesSeen := make(map[string]bool)
	filesAllLifted := make(map[string]bool)
	for _, e := range le.store.AllEntities() {
		filesSeen[e.FilePath] = true
	}
	for file := range filesSeen {
		allLifted := true
		for _, id := range le.store.EntitiesInFile(file) {
			if le.statuses[id] != StatusLifted {
				allLifted = false
				break
			}
		}
		if allLifted && !le.fileDone[file] {
			filesAllLifted[file] = true
		}
	}

	out := sortedKeys(filesAllLifted)
	return out
}

// SubmitFileSyntheses records per-file holistic features (3-6 per file)
// onto that file's Module entity, if one exists in the store (identified
// by the entity id "<file path>:module" — the parser collaborator's
// contract for a file-level Module entity).
func (le *LiftingEngine) SubmitFileSyntheses(syntheses map[string][]string) []SubmitResult {
	results := make([]SubmitResult, 0, len(syntheses))

	paths := make([]string, 0, len(syntheses))
	for p := range syntheses {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, filePath := range paths {
		features := syntheses[filePath]
		moduleID := filePath + ":module"
		e, ok := le.store.GetEntity(moduleID)
		if !ok {
			results = append(results, SubmitResult{EntityID: filePath, Applied: false, Reason: "no module entity for file"})
			continue
		}
		if le.embedding != nil {
			le.embedding.InvalidateEntity(e)
		}
		e.Features = features
		le.store.UpsertEntity(*e, true)
		le.mu.Lock()
		le.fileDone[filePath] = true
		le.mu.Unlock()
		results = append(results, SubmitResult{EntityID: filePath, Applied: true})
	}
	return results
}
