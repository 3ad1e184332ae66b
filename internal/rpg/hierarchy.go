package rpg

import (
	"regexp"
	"sort"
	"strings"
)

// pascalCaseRegex mirrors the validation internal/guards applies to area
// names, duplicated here since the rpg package must not import guards
// (guards imports rpg, not the reverse).
var pascalCaseRegex = regexp.MustCompile(`^([A-Z][a-z0-9]*)+$`)

// DiscoveredArea is one PascalCase area name proposed during domain
// discovery (phase one of the two-phase dialog, §4.6).
type DiscoveredArea struct {
	Name string
}

// Assignment is one file-assignment row from phase two of the dialog: a
// leaf entity routed to a full three-segment hierarchy path, or "keep"
// (only meaningful during re-routing, where it references the entity's
// current path).
type Assignment struct {
	EntityID string
	Keep     bool
	Area     string
	Category string
	Subcategory string
}

// AssignmentResult reports whether a single row was applied.
type AssignmentResult struct {
	EntityID string
	Applied  bool
	Reason   string
}

// HierarchyEngine runs the two-phase agent dialog and installs V_H nodes
// (§4.6).
type HierarchyEngine struct {
	store         *Store
	clusterConfig ClusterConfig
}

// ClusterConfig configures deterministic clustering for large repos.
type ClusterConfig struct {
	SizeThreshold int // repos with more files than this get clustered
	TargetSize    int // target files per cluster
}

// NewHierarchyEngine creates a HierarchyEngine over store.
func NewHierarchyEngine(store *Store, cfg ClusterConfig) *HierarchyEngine {
	return &HierarchyEngine{store: store, clusterConfig: cfg}
}

// InstallAreas records the discovered area set by installing a bare
// HierarchyNode (depth 1) for each, so AreaMustBeKnown validation and
// KnownAreas() have something to check against even before any file is
// assigned.
func (he *HierarchyEngine) InstallAreas(areas []DiscoveredArea) []AssignmentResult {
	results := make([]AssignmentResult, 0, len(areas))
	for _, a := range areas {
		if !pascalCase(a.Name) {
			results = append(results, AssignmentResult{EntityID: a.Name, Applied: false, Reason: "area is not PascalCase"})
			continue
		}
		he.store.UpsertHierarchyNode(HierarchyNode{Path: a.Name})
		results = append(results, AssignmentResult{EntityID: a.Name, Applied: true})
	}
	return results
}

// ApplyAssignments validates and applies a batch of file-assignment rows
// (§4.6 Validation). Rejected rows are reported; accepted rows install
// any missing category/subcategory hierarchy nodes, assign the entity's
// hierarchy path, and leave reaggregation to Store.AssignHierarchyPath.
func (he *HierarchyEngine) ApplyAssignments(assignments []Assignment) []AssignmentResult {
	knownAreas := make(map[string]bool)
	for _, a := range he.store.KnownAreas() {
		knownAreas[a] = true
	}

	results := make([]AssignmentResult, 0, len(assignments))
	for _, a := range assignments {
		if a.Keep {
			results = append(results, AssignmentResult{EntityID: a.EntityID, Applied: true})
			continue
		}

		if !pascalCase(a.Area) {
			results = append(results, AssignmentResult{EntityID: a.EntityID, Applied: false, Reason: "area is not PascalCase"})
			continue
		}
		if !lowercasePhrase(a.Category) {
			results = append(results, AssignmentResult{EntityID: a.EntityID, Applied: false, Reason: "category must be a lowercase three-to-five-word phrase"})
			continue
		}
		if !lowercasePhrase(a.Subcategory) {
			results = append(results, AssignmentResult{EntityID: a.EntityID, Applied: false, Reason: "subcategory must be a lowercase three-to-five-word phrase"})
			continue
		}
		if !knownAreas[a.Area] {
			results = append(results, AssignmentResult{EntityID: a.EntityID, Applied: false, Reason: "area was not part of the discovered domain set"})
			continue
		}

		areaPath := a.Area
		categoryPath := areaPath + "/" + a.Category
		subcatPath := categoryPath + "/" + a.Subcategory

		he.ensureNode(areaPath)
		he.ensureNode(categoryPath)
		he.ensureNode(subcatPath)

		if err := he.store.AssignHierarchyPath(a.EntityID, subcatPath); err != nil {
			results = append(results, AssignmentResult{EntityID: a.EntityID, Applied: false, Reason: err.Error()})
			continue
		}
		results = append(results, AssignmentResult{EntityID: a.EntityID, Applied: true})
	}
	return results
}

func (he *HierarchyEngine) ensureNode(path string) {
	if _, ok := he.store.GetHierarchyNode(path); !ok {
		he.store.UpsertHierarchyNode(HierarchyNode{Path: path})
	}
}

func pascalCase(s string) bool {
	return s != "" && pascalCaseRegex.MatchString(s)
}

func lowercasePhrase(s string) bool {
	if s == "" || s != strings.ToLower(s) {
		return false
	}
	words := strings.Fields(s)
	return len(words) >= 3 && len(words) <= 5
}

// Cluster is one deterministic partition of files for large-repo
// discovery (§4.6: repos over the size threshold are partitioned into
// target-size clusters before domain discovery runs per cluster).
type Cluster struct {
	Index int
	Files []string
}

// ClusterFiles partitions files into deterministic clusters if the repo
// exceeds the configured size threshold; otherwise returns a single
// cluster containing every file.
func (he *HierarchyEngine) ClusterFiles(files []string) []Cluster {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	if len(sorted) <= he.clusterConfig.SizeThreshold {
		return []Cluster{{Index: 0, Files: sorted}}
	}

	target := he.clusterConfig.TargetSize
	if target <= 0 {
		target = len(sorted)
	}
	var clusters []Cluster
	for i := 0; i < len(sorted); i += target {
		end := i + target
		if end > len(sorted) {
			end = len(sorted)
		}
		clusters = append(clusters, Cluster{Index: len(clusters), Files: sorted[i:end]})
	}
	return clusters
}

// CandidatePaths ranks existing subcategory (three-segment) hierarchy
// nodes by Jaccard similarity of their aggregated features against
// features, returning the top limit paths. Used to compute the
// candidatePaths argument to EvolutionEngine.ApplyModification and
// EnqueueInsertionRouting, since ranking candidates is the Hierarchy
// Engine's concern rather than the Evolution Engine's (§4.5).
func (he *HierarchyEngine) CandidatePaths(features []string, limit int) []string {
	type scored struct {
		path     string
		distance float64
	}
	normalized := normalizeFeatures(features)

	var candidates []scored
	for _, node := range he.store.AllHierarchyNodes() {
		if len(splitPath(node.Path)) != 3 {
			continue
		}
		candidates = append(candidates, scored{
			path:     node.Path,
			distance: jaccardDistance(normalized, node.Features),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].path < candidates[j].path
	})

	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, candidates[i].path)
	}
	return out
}

// RepresentativeSample picks up to n files from a cluster, evenly spaced
// by index, as the sample domain discovery runs over — deterministic and
// independent of file content.
func RepresentativeSample(cluster Cluster, n int) []string {
	if n <= 0 || len(cluster.Files) <= n {
		return cluster.Files
	}
	step := float64(len(cluster.Files)) / float64(n)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := int(float64(i) * step)
		out = append(out, cluster.Files[idx])
	}
	return out
}
