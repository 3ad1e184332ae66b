// Package service wires the Repository Planning Graph engines into a
// single process-scoped handle the Protocol Facade tools share (§9
// Design Notes: "global state lives in one process-scoped store").
package service

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rpgmcp/rpgmcp/internal/config"
	"github.com/rpgmcp/rpgmcp/internal/rpg"
)

// Service bundles the graph store and every engine that operates over
// it, constructed once at process start and shared by every registered
// tool.
type Service struct {
	Cfg       *config.Config
	Store     *rpg.Store
	Lifting   *rpg.LiftingEngine
	Evolution *rpg.EvolutionEngine
	Search    *rpg.SearchEngine
	Hierarchy *rpg.HierarchyEngine
	Embedding *rpg.EmbeddingBoundary
	Builder   *rpg.Builder
	Ignore    *rpg.IgnoreMatcher

	dir    string // .rpg directory holding persisted state
	logger *slog.Logger
}

// GraphPath returns the path to the persisted graph file.
func (s *Service) GraphPath() string { return filepath.Join(s.dir, "graph.json") }

// PendingPath returns the path to the persisted pending-routing file.
func (s *Service) PendingPath() string { return filepath.Join(s.dir, "pending_routing.json") }

// EmbeddingsMetaPath returns the path to the embedding fingerprint manifest.
func (s *Service) EmbeddingsMetaPath() string { return filepath.Join(s.dir, "embeddings.meta.json") }

// New constructs a Service over dir (the repository's .rpg directory),
// loading a persisted graph if one exists or starting from an empty
// store otherwise (§5 Persisted files). collaborator may be nil (no
// parser wired — build_rpg/update_rpg will report KindParseCollaborator
// errors until one is supplied); embedder may be nil (search degrades to
// lexical-only, §4.7).
func New(cfg *config.Config, dir string, parser rpg.ParserCollaborator, embedder rpg.EmbeddingCollaborator, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := loadOrNewStore(filepath.Join(dir, "graph.json"), logger)
	if err != nil {
		return nil, err
	}
	if err := store.LoadPendingRouting(filepath.Join(dir, "pending_routing.json")); err != nil {
		logger.Warn("no pending-routing state loaded", "error", err)
	}

	ignore := loadIgnore(dir)

	svc := &Service{
		Cfg:   cfg,
		Store: store,
		dir:   dir,
		Lifting: rpg.NewLiftingEngine(store, rpg.LiftingThresholds{
			AutoLiftMaxBranches: cfg.Encoding.AutoLiftMaxBranches,
			AutoLiftMaxLoops:    cfg.Encoding.AutoLiftMaxLoops,
			AutoLiftMaxCalls:    cfg.Encoding.AutoLiftMaxCalls,
			ReviewBranches:      cfg.Encoding.ReviewBranches,
			ReviewCalls:         cfg.Encoding.ReviewCalls,
		}),
		Evolution: rpg.NewEvolutionEngine(store, rpg.DriftThresholds{
			IgnoreThreshold: cfg.Encoding.DriftIgnoreThreshold,
			AutoThreshold:   cfg.Encoding.DriftAutoThreshold,
		}),
		Hierarchy: rpg.NewHierarchyEngine(store, rpg.ClusterConfig{
			SizeThreshold: cfg.Hierarchy.ClusterSizeThreshold,
			TargetSize:    cfg.Hierarchy.ClusterTargetSize,
		}),
		logger: logger,
	}

	svc.Embedding = rpg.NewEmbeddingBoundary(embedder, logger)
	svc.Lifting.SetEmbedding(svc.Embedding)
	svc.Evolution.SetEmbedding(svc.Embedding)

	var searchEmbedder rpg.Embedder
	if cfg.Navigation.EmbeddingEnabled && embedder != nil {
		searchEmbedder = svc.Embedding
		svc.warmEmbeddings(store)
	}
	svc.Search = rpg.NewSearchEngine(store, searchEmbedder, rpg.SearchWeights{
		Semantic: cfg.Navigation.SemanticWeight,
		Lexical:  cfg.Navigation.LexicalWeight,
	})
	svc.Builder = rpg.NewBuilder(store, parser, ignore, logger)
	svc.Ignore = ignore

	return svc, nil
}

// warmEmbeddings consults the persisted fingerprint manifest to find
// entities whose features are new or changed since the last process ran,
// and pre-fetches their vectors so the first search isn't cold (§4.7
// incremental sync: SyncMeta decides what needs regenerating, Embed does
// the regenerating).
func (s *Service) warmEmbeddings(store *rpg.Store) {
	stale := s.Embedding.SyncMeta(store, s.EmbeddingsMetaPath())
	if len(stale) == 0 {
		return
	}
	s.logger.Info("warming embeddings for changed entities", "count", len(stale))
	for _, id := range stale {
		e, ok := store.GetEntity(id)
		if !ok {
			continue
		}
		for _, f := range e.Features {
			s.Embedding.Embed(f)
		}
	}
}

func loadOrNewStore(path string, logger *slog.Logger) (*rpg.Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return rpg.NewStore(), nil
	}
	store, err := rpg.Load(path)
	if err != nil {
		logger.Warn("graph file failed to load, starting empty", "path", path, "error", err)
		return rpg.NewStore(), nil
	}
	return store, nil
}

func loadIgnore(dir string) *rpg.IgnoreMatcher {
	data, err := os.ReadFile(filepath.Join(filepath.Dir(dir), ".rpgignore"))
	if err != nil {
		return nil
	}
	return rpg.ParseIgnore(string(data))
}

// DiffBoost converts the configured navigation diff-boost multipliers.
func (s *Service) DiffBoost() rpg.DiffBoost {
	return rpg.DiffBoost{
		Changed: s.Cfg.Navigation.DiffBoostChanged,
		OneHop:  s.Cfg.Navigation.DiffBoost1Hop,
		TwoHop:  s.Cfg.Navigation.DiffBoost2Hop,
	}
}

// Flush persists the graph, pending-routing queue, and embedding
// fingerprint manifest to disk (§5 recoverability: "a crash between
// steps leaves the on-disk state at the last completed step, never
// partially written").
func (s *Service) Flush() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := s.Store.Save(s.GraphPath()); err != nil {
		return err
	}
	if err := s.Store.SavePendingRouting(s.PendingPath()); err != nil {
		return err
	}
	if s.Embedding.Configured() {
		if err := s.Embedding.SaveMeta(s.Store, s.EmbeddingsMetaPath()); err != nil {
			return err
		}
	}
	return nil
}
