package invalidate

import (
	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/changes"
	"github.com/incbuild/incc/pkg/logging"
	"github.com/incbuild/incc/pkg/vfs"
)

// inheritanceContexts are the contexts that propagate unconditionally on an
// extra-hash change. Local inheritance behaves as inheritance within a
// cycle; it simply never appears across sources.
var inheritanceContexts = []analysis.DependencyContext{
	analysis.DependencyByInheritance,
	analysis.LocalDependencyByInheritance,
}

// dependentsOfChange applies the name-hashing rules to one API change and
// returns the classes it invalidates:
//
//   - inheritance dependents, transitively, when the extra hash moved;
//   - member-ref dependents whose used names intersect the changed names;
//   - every member-ref dependent, when the changed class is macro-bearing
//     or gone.
//
// Member-ref dependents of transitive inheritors are not chased here; the
// inheritors get recompiled and their own hash diffs drive the next round.
func dependentsOfChange(r *analysis.Relations, ch changes.APIChange, external bool) map[string]struct{} {
	out := make(map[string]struct{})

	direct := func(ctxs ...analysis.DependencyContext) []string {
		if external {
			return r.ExternalDependents(ch.Class, ctxs...)
		}
		return r.InternalDependents(ch.Class, ctxs...)
	}

	if ch.ExtraChanged || ch.Removed {
		frontier := direct(inheritanceContexts...)
		for len(frontier) > 0 {
			var next []string
			for _, class := range frontier {
				if _, seen := out[class]; seen {
					continue
				}
				out[class] = struct{}{}
				next = append(next, r.InternalDependents(class, inheritanceContexts...)...)
			}
			frontier = next
		}
	}

	for _, class := range direct(analysis.DependencyByMemberRef) {
		if _, seen := out[class]; seen {
			continue
		}
		if ch.Affects(r.UsedNamesOf(class)) {
			out[class] = struct{}{}
		}
	}
	return out
}

// removedClassChange models a class that no longer exists; every dependent
// is affected.
func removedClassChange(class string, api analysis.AnalyzedClass) changes.APIChange {
	return changes.APIChange{
		Class:        class,
		APIChanged:   true,
		ExtraChanged: true,
		HasMacro:     api.HasMacro,
		Removed:      true,
	}
}

// simpleName strips the package prefix off a dotted binary name; used names
// are simple identifiers.
func simpleName(binary string) string {
	for i := len(binary) - 1; i >= 0; i-- {
		if binary[i] == '.' {
			return binary[i+1:]
		}
	}
	return binary
}

// sourcesOf maps invalidated classes to the sources that own them. Classes
// without an owner (already removed) are skipped.
func sourcesOf(r *analysis.Relations, classes map[string]struct{}) map[vfs.FileRef]struct{} {
	out := make(map[vfs.FileRef]struct{}, len(classes))
	for class := range classes {
		if src, ok := r.SourceOf(class); ok {
			out[src] = struct{}{}
		}
	}
	return out
}

// initialInvalidation expands the detector's findings into the first cycle's
// invalidated classes and sources.
func initialInvalidation(prev *analysis.Analysis, initial *changes.InitialChanges, relationsDebug bool) (map[string]struct{}, map[vfs.FileRef]struct{}) {
	invClasses := make(map[string]struct{})
	invSrcs := make(map[vfs.FileRef]struct{})

	for src := range initial.Added {
		invSrcs[src] = struct{}{}
	}
	for src := range initial.Modified {
		invSrcs[src] = struct{}{}
	}
	for product := range initial.RemovedProducts {
		if owner, ok := prev.Relations.OwnerOfProduct(product); ok {
			invSrcs[owner] = struct{}{}
		}
	}

	// A removed source is never recompiled; its classes vanish and their
	// dependents must be rebuilt against a world without them.
	for src := range initial.Removed {
		for _, class := range prev.Relations.ClassesOf(src) {
			api, _ := prev.InternalAPI(class)
			ch := removedClassChange(class, api)
			for dep := range dependentsOfChange(prev.Relations, ch, false) {
				invClasses[dep] = struct{}{}
			}
		}
	}

	// A changed library only implicates classes that actually use a name it
	// provides; a jar nobody references by name recompiles nothing.
	allScopes := analysis.ScopeDefault | analysis.ScopeImplicit | analysis.ScopePatMatTarget
	for _, lib := range initial.Libraries {
		names := prev.Relations.BinaryNamesOfLibrary(lib)
		for _, src := range prev.Relations.UsersOfLibrary(lib) {
			for _, class := range prev.Relations.ClassesOf(src) {
				for _, bin := range names {
					if prev.Relations.UsesName(class, simpleName(bin), allScopes) {
						invClasses[class] = struct{}{}
						break
					}
				}
			}
		}
	}

	for _, ch := range initial.External {
		for dep := range dependentsOfChange(prev.Relations, ch, true) {
			invClasses[dep] = struct{}{}
		}
	}

	for src := range sourcesOf(prev.Relations, invClasses) {
		invSrcs[src] = struct{}{}
	}
	// Classes of directly invalidated sources count as invalidated too, so
	// cycle accounting sees one consistent class set.
	for src := range invSrcs {
		if _, removed := initial.Removed[src]; removed {
			continue
		}
		for _, class := range prev.Relations.ClassesOf(src) {
			invClasses[class] = struct{}{}
		}
	}

	if relationsDebug {
		logging.Trace("initial invalidation", "classes", len(invClasses), "sources", len(invSrcs))
	}
	return invClasses, invSrcs
}
