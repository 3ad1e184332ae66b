package guards

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// pascalCaseRegex matches a PascalCase area name: one or more capitalized words.
var pascalCaseRegex = regexp.MustCompile(`^([A-Z][a-z0-9]*)+$`)

// EntityMustExist is a HARD_BLOCK: the referenced entity must exist in the
// current graph. Used by fetch/mutate operations that take an entity id.
var EntityMustExist = NewGuardFunc("entity_must_exist", func(_ context.Context, gctx *GuardContext) Result {
	if gctx.EntityID == "" || gctx.EntityExists {
		return Pass("entity_must_exist")
	}
	return Fail("entity_must_exist", HardBlock,
		fmt.Sprintf("no entity with id %q exists in the graph", gctx.EntityID),
		"Check the id with search_node or fetch_node before retrying.",
	)
})

// NotStale is a HARD_BLOCK: a mutation whose submitted graph_revision
// no longer matches the store's current revision is rejected outright
// (§7 StaleRevision, §4.5 stale-decision protection).
var NotStale = NewGuardFunc("not_stale", func(_ context.Context, gctx *GuardContext) Result {
	if !gctx.Stale() {
		return Pass("not_stale")
	}
	return Fail("not_stale", HardBlock,
		fmt.Sprintf("submission references graph_revision %d but the store is at %d", gctx.SubmittedRevision, gctx.CurrentRevision),
		"Refetch the current state and resubmit against the latest graph_revision.",
	)
})

// ValidHierarchyPath is a HARD_BLOCK: a routing decision naming an existing
// path must actually name one. The caller is expected to have already
// handled the literal "keep" sentinel before populating HierarchyPath.
var ValidHierarchyPath = NewGuardFunc("valid_hierarchy_path", func(_ context.Context, gctx *GuardContext) Result {
	if gctx.HierarchyPath == "" || gctx.HierarchyPathValid {
		return Pass("valid_hierarchy_path")
	}
	return Fail("valid_hierarchy_path", HardBlock,
		fmt.Sprintf("hierarchy path %q does not name an existing Area/category/subcategory node", gctx.HierarchyPath),
		"Use get_routing_candidates or build_semantic_hierarchy to see valid paths.",
	)
})

// PascalCaseArea is a HARD_BLOCK: the area segment of a hierarchy path
// assignment must be PascalCase (§4.6).
func PascalCaseArea(area string) Result {
	name := "pascal_case_area"
	if area == "" || pascalCaseRegex.MatchString(area) {
		return Pass(name)
	}
	return Fail(name, HardBlock,
		fmt.Sprintf("area %q is not PascalCase", area),
		"Use a PascalCase area name, e.g. \"Auth\" or \"DataPipeline\".",
	)
}

// LowercasePhrase is a HARD_BLOCK: category/subcategory segments must be
// lowercase three-to-five-word phrases (§4.6).
func LowercasePhrase(fieldName, value string) Result {
	name := "lowercase_phrase_" + fieldName
	if value == "" {
		return Fail(name, HardBlock,
			fmt.Sprintf("%s is required for a non-keep assignment", fieldName),
			"Supply all three hierarchy levels: area, category, subcategory.",
		)
	}
	if value != strings.ToLower(value) {
		return Fail(name, HardBlock,
			fmt.Sprintf("%s %q must be lowercase", fieldName, value),
			"Lowercase the phrase, e.g. \"token validation\".",
		)
	}
	words := strings.Fields(value)
	if len(words) < 3 || len(words) > 5 {
		return Fail(name, HardBlock,
			fmt.Sprintf("%s %q must be a three-to-five-word phrase, got %d words", fieldName, value, len(words)),
			"Rephrase to three to five words.",
		)
	}
	return Pass(name)
}

// AreaMustBeKnown is a HARD_BLOCK: an assignment may only cite an area
// from the set discovered during domain discovery; no ad-hoc areas (§4.6).
var AreaMustBeKnown = NewGuardFunc("area_must_be_known", func(_ context.Context, gctx *GuardContext) Result {
	if gctx.HierarchyPath == "" || len(gctx.KnownAreas) == 0 {
		return Pass("area_must_be_known")
	}
	area := strings.SplitN(gctx.HierarchyPath, "/", 2)[0]
	for _, a := range gctx.KnownAreas {
		if a == area {
			return Pass("area_must_be_known")
		}
	}
	return Fail("area_must_be_known", HardBlock,
		fmt.Sprintf("area %q was not part of the discovered domain set", area),
		fmt.Sprintf("Choose one of: %s", strings.Join(gctx.KnownAreas, ", ")),
	)
})

// DriftRequiresRoute is a WARNING: an auto-zone drift classification
// flags the entity for mandatory re-route; this is advisory on the
// lifting-submission response, not itself blocking — the engine always
// enqueues it to pending-routing regardless of whether the caller acts.
var DriftRequiresRoute = NewGuardFunc("drift_requires_route", func(_ context.Context, gctx *GuardContext) Result {
	if gctx.DriftZone != "auto" {
		return Pass("drift_requires_route")
	}
	return Fail("drift_requires_route", Warning,
		"feature drift exceeded the auto-route threshold; this entity was queued to pending-routing for mandatory re-route",
		"Call get_routing_candidates and submit_routing_decisions to resolve it, or it will drain to the Jaccard-nearest area at finalize_lifting.",
	)
})

// RoutingGuards returns the guard set for submit_routing_decisions.
func RoutingGuards() []Guard {
	return []Guard{NotStale, ValidHierarchyPath, AreaMustBeKnown}
}

// LiftingGuards returns the guard set for submit_lift_results.
func LiftingGuards() []Guard {
	return []Guard{NotStale, EntityMustExist, DriftRequiresRoute}
}

// QueryGuards returns the guard set for read-only operations taking an entity id.
func QueryGuards() []Guard {
	return []Guard{EntityMustExist}
}
