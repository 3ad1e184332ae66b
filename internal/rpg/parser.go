package rpg

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"path"
	"sort"
	"strings"
	"time"
)

// ParsedFile is one file's contribution from the parser collaborator:
// the entity tuples it extracted, each paired with its raw (symbolic,
// unresolved) dependency hints (§9 Polymorphism: "input file bytes +
// language tag; output entity tuples + dependency hints").
type ParsedFile struct {
	Entities []Entity
	Hints    map[string][]DependencyHint // entity id -> its dependency hints
}

// ParserCollaborator extracts entity tuples and dependency hints from a
// single file's contents. Supplied by the caller (cmd entrypoint
// wiring); the core never dials it directly (§1 Non-goals).
type ParserCollaborator interface {
	Parse(ctx context.Context, filePath string, language string, contents []byte) (ParsedFile, error)
}

// parserRetryConfig mirrors the embedding boundary's retry shape (§4.7),
// reused here since a parser collaborator may itself be a sandboxed
// subprocess or remote service subject to the same transient failures.
type parserRetryConfig struct {
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func defaultParserRetryConfig() parserRetryConfig {
	return parserRetryConfig{
		maxRetries:     3,
		initialBackoff: 250 * time.Millisecond,
		maxBackoff:     10 * time.Second,
	}
}

func shouldRetryParse(err error) bool {
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
	switch err.Error() {
	case "EOF", "unexpected EOF", "connection reset by peer", "broken pipe":
		return true
	}
	return false
}

// Builder walks a repository tree, calls the parser collaborator per
// file, and installs the resulting entities and dependency edges into
// the store (§4.2, §9 Polymorphism). It owns the only call site for
// ParserCollaborator.Parse; no other component dials it.
type Builder struct {
	store      *Store
	parser     ParserCollaborator
	ignore     *IgnoreMatcher
	logger     *slog.Logger
	retry      parserRetryConfig
}

// NewBuilder creates a Builder over store. ignore may be nil (no
// .rpgignore rules).
func NewBuilder(store *Store, parser ParserCollaborator, ignore *IgnoreMatcher, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: store, parser: parser, ignore: ignore, logger: logger, retry: defaultParserRetryConfig()}
}

// FileSource is one file to build, supplied by the caller's directory
// walk (the filesystem walk itself is out of scope for this package —
// §1 Non-goals name the VCS/filesystem probe as the caller's concern).
type FileSource struct {
	Path     string
	Language string
	Contents []byte
}

// BuildResult summarizes one Build call.
type BuildResult struct {
	FilesParsed     int
	EntitiesUpserted int
	EdgesResolved   int
	DroppedHints    int
	Errors          []error
}

// Build parses every file in files not excluded by the ignore matcher,
// upserts their entities (preserving existing features across rebuild,
// per the round-trip law that a rebuild over unchanged source is a
// no-op on agent-authored data — overwriteFeatures is false), resolves
// dependency hints, then materializes containment and re-grounds
// anchors.
func (b *Builder) Build(ctx context.Context, files []FileSource) BuildResult {
	var result BuildResult
	allHints := make(map[string][]DependencyHint)

	sorted := append([]FileSource(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	for _, f := range sorted {
		if b.ignore != nil && b.ignore.Match(f.Path) {
			continue
		}
		parsed, err := b.parseWithRetry(ctx, f.Path, f.Language, f.Contents)
		if err != nil {
			result.Errors = append(result.Errors, wrapErr(KindParseCollaborator, err, "parsing %q", f.Path))
			continue
		}
		result.FilesParsed++
		for _, e := range parsed.Entities {
			b.store.UpsertEntity(e, false)
			result.EntitiesUpserted++
		}
		for id, hints := range parsed.Hints {
			allHints[id] = hints
		}
	}

	resolver := b.resolver()
	ids := make([]string, 0, len(allHints))
	for id := range allHints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		resolved := b.store.ResolveDependencyHints(id, allHints[id], resolver)
		result.EdgesResolved += len(resolved)
		result.DroppedHints += len(allHints[id]) - len(resolved)
	}

	b.store.MaterializeContains()
	b.store.Ground()
	return result
}

// resolver maps a symbolic hint (an imported module path, or an
// unqualified invoked-symbol name) to a concrete entity id: first by
// exact id match, then by unqualified trailing-symbol match against
// every known entity, tie-broken lexicographically for determinism.
func (b *Builder) resolver() func(hint string) string {
	return func(hint string) string {
		if _, ok := b.store.GetEntity(hint); ok {
			return hint
		}
		var candidates []string
		for _, e := range b.store.AllEntities() {
			if trailingSymbol(e.ID) == hint || strings.HasSuffix(e.ID, "::"+hint) {
				candidates = append(candidates, e.ID)
			}
		}
		if len(candidates) == 0 {
			return ""
		}
		sort.Strings(candidates)
		return candidates[0]
	}
}

// trailingSymbol returns the final ":"- or "::"-delimited segment of an
// entity id ("file_path:(ClassName::)?symbol").
func trailingSymbol(entityID string) string {
	idx := strings.LastIndex(entityID, ":")
	if idx < 0 {
		return entityID
	}
	tail := entityID[idx+1:]
	if i := strings.LastIndex(tail, "::"); i >= 0 {
		return tail[i+2:]
	}
	return tail
}

func (b *Builder) parseWithRetry(ctx context.Context, filePath, language string, contents []byte) (ParsedFile, error) {
	if b.parser == nil {
		return ParsedFile{}, errors.New("no parser collaborator configured")
	}
	var lastErr error
	for attempt := 0; attempt <= b.retry.maxRetries; attempt++ {
		if attempt > 0 {
			multiplier := 1 << uint(attempt-1)
			backoff := b.retry.initialBackoff * time.Duration(multiplier)
			if backoff > b.retry.maxBackoff {
				backoff = b.retry.maxBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ParsedFile{}, ctx.Err()
			}
		}
		parsed, err := b.parser.Parse(ctx, filePath, language, contents)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
		if !shouldRetryParse(err) {
			return ParsedFile{}, err
		}
	}
	return ParsedFile{}, lastErr
}

// IgnoreMatcher is a small gitignore-style path matcher: one pattern per
// line, "#" comments, "!" negation, trailing "/" for directory-only
// patterns, "*"/"?" globs via path.Match. There is no ecosystem
// gitignore library in the example pack this module draws from, so this
// is hand-rolled on the standard path package rather than imported.
type IgnoreMatcher struct {
	rules []ignoreRule
}

type ignoreRule struct {
	pattern  string
	negate   bool
	dirOnly  bool
}

// ParseIgnore builds an IgnoreMatcher from the lines of a .rpgignore file.
func ParseIgnore(contents string) *IgnoreMatcher {
	var rules []ignoreRule
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		rule := ignoreRule{pattern: trimmed}
		if strings.HasPrefix(rule.pattern, "!") {
			rule.negate = true
			rule.pattern = rule.pattern[1:]
		}
		if strings.HasSuffix(rule.pattern, "/") {
			rule.dirOnly = true
			rule.pattern = strings.TrimSuffix(rule.pattern, "/")
		}
		rule.pattern = strings.TrimPrefix(rule.pattern, "/")
		rules = append(rules, rule)
	}
	return &IgnoreMatcher{rules: rules}
}

// Match reports whether filePath (repository-relative, "/"-separated)
// is excluded. Later rules override earlier ones, mirroring gitignore
// precedence; a dirOnly rule matches filePath or any of its ancestor
// directories.
func (m *IgnoreMatcher) Match(filePath string) bool {
	if m == nil {
		return false
	}
	excluded := false
	for _, r := range m.rules {
		if matchIgnoreRule(r, filePath) {
			excluded = !r.negate
		}
	}
	return excluded
}

func matchIgnoreRule(r ignoreRule, filePath string) bool {
	if r.dirOnly {
		for _, dir := range ancestorDirs(filePath) {
			if ok, _ := path.Match(r.pattern, dir); ok {
				return true
			}
		}
		return false
	}
	if ok, _ := path.Match(r.pattern, filePath); ok {
		return true
	}
	if ok, _ := path.Match(r.pattern, path.Base(filePath)); ok {
		return true
	}
	return false
}

func ancestorDirs(filePath string) []string {
	var dirs []string
	dir := path.Dir(filePath)
	for dir != "." && dir != "/" && dir != "" {
		dirs = append(dirs, path.Base(dir))
		dir = path.Dir(dir)
	}
	return dirs
}
