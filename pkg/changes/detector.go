// Package changes computes the initial change set of a run: what differs
// between the previous analysis and the world as it looks now.
package changes

import (
	"sort"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/apihash"
	"github.com/incbuild/incc/pkg/compile"
	"github.com/incbuild/incc/pkg/logging"
	"github.com/incbuild/incc/pkg/stamp"
	"github.com/incbuild/incc/pkg/vfs"
)

// APIChange describes one class whose observable API differs from what the
// previous analysis recorded. For external classes Class is the binary
// name; for internal classes (cycle feedback) it is the source class name.
type APIChange struct {
	Class        string
	APIChanged   bool
	ExtraChanged bool
	HasMacro     bool
	// Removed means the class no longer resolves at all; every dependent
	// must be treated as affected.
	Removed bool
	// ChangedNames maps names with a changed hash to the scopes affected.
	ChangedNames map[string]analysis.ScopeSet
}

// Affects reports whether the change can invalidate a member-ref dependent
// that uses the given names.
func (c APIChange) Affects(used map[string]analysis.ScopeSet) bool {
	if c.Removed || c.HasMacro {
		return true
	}
	for name, scopes := range c.ChangedNames {
		if s, ok := used[name]; ok && s&scopes != 0 {
			return true
		}
	}
	return false
}

// InitialChanges is the change detector's result.
type InitialChanges struct {
	Added           map[vfs.FileRef]struct{}
	Removed         map[vfs.FileRef]struct{}
	Modified        map[vfs.FileRef]struct{}
	RemovedProducts map[vfs.FileRef]struct{}
	Libraries       []vfs.FileRef
	External        []APIChange
}

// IsEmpty reports whether nothing changed since the previous analysis.
func (c *InitialChanges) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0 &&
		len(c.RemovedProducts) == 0 && len(c.Libraries) == 0 && len(c.External) == 0
}

// DependencyChanges shapes the library and external deltas for the compiler.
func (c *InitialChanges) DependencyChanges() compile.DependencyChanges {
	var out compile.DependencyChanges
	out.ModifiedLibraries = append(out.ModifiedLibraries, c.Libraries...)
	for _, e := range c.External {
		out.ModifiedClasses = append(out.ModifiedClasses, e.Class)
	}
	sort.Slice(out.ModifiedLibraries, func(i, j int) bool { return out.ModifiedLibraries[i] < out.ModifiedLibraries[j] })
	sort.Strings(out.ModifiedClasses)
	return out
}

// Detect compares the previous analysis against the current input set and
// the stamp oracle. An unreadable source stamps as unavailable and counts as
// modified.
func Detect(prev *analysis.Analysis, sources []vfs.VirtualFile, oracle *stamp.Oracle, lookup compile.Lookup) *InitialChanges {
	c := &InitialChanges{
		Added:           make(map[vfs.FileRef]struct{}),
		Removed:         make(map[vfs.FileRef]struct{}),
		Modified:        make(map[vfs.FileRef]struct{}),
		RemovedProducts: make(map[vfs.FileRef]struct{}),
	}

	current := make(map[vfs.FileRef]struct{}, len(sources))
	for _, s := range sources {
		current[s.Ref()] = struct{}{}
	}

	for ref := range current {
		recorded, known := prev.Stamps.Sources[ref]
		if !known {
			c.Added[ref] = struct{}{}
			continue
		}
		now, err := oracle.Source(ref)
		if err != nil || !stamp.Equiv(recorded, now) {
			c.Modified[ref] = struct{}{}
		}
	}
	for ref := range prev.Stamps.Sources {
		if _, ok := current[ref]; !ok {
			c.Removed[ref] = struct{}{}
		}
	}

	for ref, recorded := range prev.Stamps.Products {
		if !stamp.Equiv(recorded, oracle.Product(ref)) {
			c.RemovedProducts[ref] = struct{}{}
		}
	}

	for ref, recorded := range prev.Stamps.Libraries {
		if !stamp.Equiv(recorded, oracle.Library(ref)) {
			c.Libraries = append(c.Libraries, ref)
		}
	}
	sort.Slice(c.Libraries, func(i, j int) bool { return c.Libraries[i] < c.Libraries[j] })

	for binary, recorded := range prev.APIs.External {
		now, ok := compile.ExternalAPI(lookup, binary)
		if !ok {
			c.External = append(c.External, APIChange{Class: binary, Removed: true, HasMacro: recorded.HasMacro})
			continue
		}
		if ch, changed := Compare(recorded, now); changed {
			// Dependents are keyed by the binary name they resolve through.
			ch.Class = binary
			c.External = append(c.External, ch)
		}
	}
	sort.Slice(c.External, func(i, j int) bool { return c.External[i].Class < c.External[j].Class })

	if !c.IsEmpty() {
		logging.Debug("initial changes",
			"added", len(c.Added), "removed", len(c.Removed), "modified", len(c.Modified),
			"staleProducts", len(c.RemovedProducts), "libraries", len(c.Libraries), "external", len(c.External))
	}
	return c
}

// Compare diffs two records of the same class and reports whether anything
// the invalidation rules care about moved.
func Compare(before, after analysis.AnalyzedClass) (APIChange, bool) {
	ch := APIChange{
		Class:        after.Name,
		APIChanged:   before.APIHash != after.APIHash,
		ExtraChanged: before.ExtraHash != after.ExtraHash,
		HasMacro:     before.HasMacro || after.HasMacro,
		ChangedNames: apihash.ChangedNames(before.NameHashes, after.NameHashes),
	}
	if ch.Class == "" {
		ch.Class = before.Name
	}
	changed := ch.APIChanged || ch.ExtraChanged || len(ch.ChangedNames) > 0
	return ch, changed
}
