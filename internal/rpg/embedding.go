package rpg

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sort"
	"time"
)

// EmbeddingCollaborator maps a feature string to a fixed-dimension
// vector. Supplied by the caller (cmd entrypoint wiring); the boundary
// reaches it only through Embed, which the service also calls at process
// start to warm vectors whose fingerprints changed (§4.7: "out-of-scope
// collaborator... the core owns calling it").
type EmbeddingCollaborator interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// embeddingRetryConfig mirrors internal/emergent/client.go's retry shape,
// repurposed from wrapping the remote graph API to wrapping the
// embedding collaborator (§4.7).
type embeddingRetryConfig struct {
	maxRetries          int
	initialBackoff      time.Duration
	maxBackoff          time.Duration
	longOutageInterval  time.Duration
	longOutageThreshold int
}

func defaultEmbeddingRetryConfig() embeddingRetryConfig {
	return embeddingRetryConfig{
		maxRetries:          5,
		initialBackoff:      500 * time.Millisecond,
		maxBackoff:          1 * time.Minute,
		longOutageInterval:  5 * time.Minute,
		longOutageThreshold: 20,
	}
}

func shouldRetryEmbedding(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	switch err.Error() {
	case "EOF", "unexpected EOF", "connection reset by peer", "broken pipe":
		return true
	}
	return false
}

// EmbeddingBoundary mediates every call to the embedding collaborator:
// retry/backoff, fingerprint-keyed caching, and cache invalidation on
// feature mutation (§4.7). A nil Collaborator means "absent" — Embed
// always returns ok=false so the Search Engine degrades to lexical-only.
type EmbeddingBoundary struct {
	collaborator EmbeddingCollaborator
	logger       *slog.Logger
	retry        embeddingRetryConfig

	cache map[string][]float64 // feature fingerprint -> vector
}

// NewEmbeddingBoundary creates a boundary. collaborator may be nil.
func NewEmbeddingBoundary(collaborator EmbeddingCollaborator, logger *slog.Logger) *EmbeddingBoundary {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingBoundary{
		collaborator: collaborator,
		logger:       logger,
		retry:        defaultEmbeddingRetryConfig(),
		cache:        make(map[string][]float64),
	}
}

// Configured reports whether an embedding collaborator is wired in.
func (b *EmbeddingBoundary) Configured() bool {
	return b.collaborator != nil
}

// Fingerprint hashes a normalized, sorted feature string into the cache
// key used for invalidation-on-mutation (§4.7).
func Fingerprint(feature string) string {
	sum := sha256.Sum256([]byte(feature))
	return hex.EncodeToString(sum[:])
}

// Embed implements the Embedder interface search.go depends on.
func (b *EmbeddingBoundary) Embed(text string) ([]float64, bool) {
	if b.collaborator == nil {
		return nil, false
	}
	fp := Fingerprint(text)
	if v, ok := b.cache[fp]; ok {
		return v, true
	}

	v, err := b.callWithRetry(context.Background(), text)
	if err != nil {
		b.logger.Warn("embedding call failed after retries", "error", err)
		return nil, false
	}
	b.cache[fp] = v
	return v, true
}

// Invalidate drops a cached vector for a feature string whose owning
// entity just mutated (§4.7: "invalidated the instant its entity's
// features mutate").
func (b *EmbeddingBoundary) Invalidate(feature string) {
	delete(b.cache, Fingerprint(feature))
}

// InvalidateEntity invalidates every feature of an entity. Called by the
// Lifting and Evolution engines right before they overwrite an entity's
// features, so the cache never answers a lookup for the old text once
// the entity has moved on.
func (b *EmbeddingBoundary) InvalidateEntity(e *Entity) {
	for _, f := range e.Features {
		b.Invalidate(f)
	}
}

func (b *EmbeddingBoundary) callWithRetry(ctx context.Context, text string) ([]float64, error) {
	var lastErr error
	consecutiveFailures := 0

	for attempt := 0; b.retry.maxRetries < 0 || attempt <= b.retry.maxRetries; attempt++ {
		if attempt > 0 {
			inLongOutage := consecutiveFailures >= b.retry.longOutageThreshold
			var backoff time.Duration
			if inLongOutage {
				backoff = b.retry.longOutageInterval
			} else {
				multiplier := 1 << uint(attempt-1)
				backoff = b.retry.initialBackoff * time.Duration(multiplier)
				if backoff > b.retry.maxBackoff {
					backoff = b.retry.maxBackoff
				}
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		v, err := b.collaborator.Embed(ctx, text)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !shouldRetryEmbedding(err) {
			return nil, wrapErr(KindEmbeddingCollaborator, err, "embedding call failed")
		}
		consecutiveFailures++
	}
	return nil, wrapErr(KindEmbeddingCollaborator, lastErr, "embedding call failed after retries")
}

// embeddingsMeta is the on-disk fingerprint manifest comparing persisted
// embedding fingerprints to current entity fingerprints, to decide which
// vectors need regenerating on process start (§4.7 incremental sync).
type embeddingsMeta struct {
	Fingerprints map[string]string `json:"fingerprints"` // entity id -> feature fingerprint at last embed
}

// SyncMeta compares store's current entity feature-fingerprints against
// the persisted metaPath manifest and returns the ids needing
// re-embedding (new entities, or entities whose features changed since
// last sync). A corrupt or unreadable metaPath is treated as "everything
// needs regenerating" rather than a hard failure (§4.7, §5 recoverability).
// Called once at service startup to warm the embedding cache for
// whatever changed while the process was down.
func (b *EmbeddingBoundary) SyncMeta(store *Store, metaPath string) []string {
	data, err := os.ReadFile(metaPath)
	var meta embeddingsMeta
	if err == nil {
		if jsonErr := json.Unmarshal(data, &meta); jsonErr != nil {
			meta = embeddingsMeta{}
		}
	}
	if meta.Fingerprints == nil {
		meta.Fingerprints = make(map[string]string)
	}

	var stale []string
	for _, e := range store.AllEntities() {
		fp := entityFeatureFingerprint(e)
		if meta.Fingerprints[e.ID] != fp {
			stale = append(stale, e.ID)
		}
	}
	sort.Strings(stale)
	return stale
}

// SaveMeta persists the current fingerprint manifest for every entity in
// store to metaPath.
func (b *EmbeddingBoundary) SaveMeta(store *Store, metaPath string) error {
	meta := embeddingsMeta{Fingerprints: make(map[string]string)}
	for _, e := range store.AllEntities() {
		meta.Fingerprints[e.ID] = entityFeatureFingerprint(e)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return wrapErr(KindCorruptStore, err, "marshaling embeddings meta")
	}
	return atomicWriteFile(metaPath, data)
}

func entityFeatureFingerprint(e *Entity) string {
	joined := ""
	for i, f := range e.Features {
		if i > 0 {
			joined += "\x00"
		}
		joined += f
	}
	return Fingerprint(joined)
}
