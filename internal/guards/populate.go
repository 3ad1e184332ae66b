package guards

import "github.com/rpgmcp/rpgmcp/internal/rpg"

// PopulateFromStore fills the state fields of gctx (everything except
// EntityID, HierarchyPath, Force, SubmittedRevision, DriftZone, which the
// caller sets before invoking a guard Runner) by reading the current
// graph. This replaces a remote ExpandGraph round trip with direct local
// lookups, since the GraphStore lives in-process (§5).
func PopulateFromStore(store *rpg.Store, gctx *GuardContext) {
	gctx.CurrentRevision = store.Revision()

	if gctx.EntityID != "" {
		_, gctx.EntityExists = store.GetEntity(gctx.EntityID)
	}

	if gctx.HierarchyPath != "" {
		_, gctx.HierarchyPathValid = store.GetHierarchyNode(gctx.HierarchyPath)
	}

	gctx.KnownAreas = store.KnownAreas()
}
