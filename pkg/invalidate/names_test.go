package invalidate

import (
	"testing"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/changes"
	"github.com/incbuild/incc/pkg/vfs"
)

// relationsFixture: B member-refs A using foo; C inherits from A; D inherits
// from C; E member-refs A but uses only bar.
func relationsFixture() *analysis.Relations {
	r := analysis.NewRelations()
	r.AddClass("a.src", "A")
	r.AddClass("b.src", "B")
	r.AddClass("c.src", "C")
	r.AddClass("d.src", "D")
	r.AddClass("e.src", "E")

	r.AddInternalDependency(analysis.InternalDependency{From: "B", To: "A", Context: analysis.DependencyByMemberRef})
	r.AddUsedName("B", "foo", analysis.ScopeDefault)

	r.AddInternalDependency(analysis.InternalDependency{From: "C", To: "A", Context: analysis.DependencyByInheritance})
	r.AddInternalDependency(analysis.InternalDependency{From: "D", To: "C", Context: analysis.DependencyByInheritance})

	r.AddInternalDependency(analysis.InternalDependency{From: "E", To: "A", Context: analysis.DependencyByMemberRef})
	r.AddUsedName("E", "bar", analysis.ScopeDefault)
	return r
}

func TestMemberRefInvalidationPrunedByUsedNames(t *testing.T) {
	r := relationsFixture()
	ch := changes.APIChange{
		Class:        "A",
		APIChanged:   true,
		ChangedNames: map[string]analysis.ScopeSet{"foo": analysis.ScopeDefault},
	}

	deps := dependentsOfChange(r, ch, false)
	if _, ok := deps["B"]; !ok {
		t.Errorf("B uses changed name foo and must be invalidated: %v", deps)
	}
	if _, ok := deps["E"]; ok {
		t.Errorf("E uses only bar and must survive: %v", deps)
	}
}

func TestInheritanceInvalidationIsTransitiveAndUnconditional(t *testing.T) {
	r := relationsFixture()
	ch := changes.APIChange{Class: "A", ExtraChanged: true}

	deps := dependentsOfChange(r, ch, false)
	if _, ok := deps["C"]; !ok {
		t.Errorf("direct inheritor C must be invalidated: %v", deps)
	}
	if _, ok := deps["D"]; !ok {
		t.Errorf("transitive inheritor D must be invalidated: %v", deps)
	}
}

func TestLocalInheritancePropagatesAsInheritance(t *testing.T) {
	r := analysis.NewRelations()
	r.AddClass("a.src", "A")
	r.AddClass("b.src", "B")
	r.AddInternalDependency(analysis.InternalDependency{From: "B", To: "A", Context: analysis.LocalDependencyByInheritance})

	deps := dependentsOfChange(r, changes.APIChange{Class: "A", ExtraChanged: true}, false)
	if _, ok := deps["B"]; !ok {
		t.Errorf("local inheritance must propagate within the cycle: %v", deps)
	}
}

func TestMacroChangesInvalidateEveryMemberRefDependent(t *testing.T) {
	r := relationsFixture()
	ch := changes.APIChange{Class: "A", APIChanged: true, HasMacro: true}

	deps := dependentsOfChange(r, ch, false)
	if _, ok := deps["B"]; !ok {
		t.Errorf("macro user B must be invalidated: %v", deps)
	}
	if _, ok := deps["E"]; !ok {
		t.Errorf("macro change is conservative, E must be invalidated too: %v", deps)
	}
}

func TestLibraryDeltaInvalidatesOnlyNameUsers(t *testing.T) {
	prev := analysis.Empty()
	lib := analysis.LibraryDependency{File: "lib/core.jar", BinaryName: "core.Widget"}
	err := prev.AddSource(analysis.SourceEntry{
		Source:    "user.src",
		Classes:   []analysis.AnalyzedClass{{Name: "User"}},
		Libraries: []analysis.LibraryDependency{lib},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = prev.AddSource(analysis.SourceEntry{
		Source:    "bystander.src",
		Classes:   []analysis.AnalyzedClass{{Name: "Bystander"}},
		Libraries: []analysis.LibraryDependency{lib},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Only User references the library class by name.
	prev.AddUsedName("User", analysis.UsedName{Name: "Widget", Scopes: analysis.ScopeDefault})

	initial := &changes.InitialChanges{
		Added:           map[vfs.FileRef]struct{}{},
		Removed:         map[vfs.FileRef]struct{}{},
		Modified:        map[vfs.FileRef]struct{}{},
		RemovedProducts: map[vfs.FileRef]struct{}{},
		Libraries:       []vfs.FileRef{"lib/core.jar"},
	}
	_, invSrcs := initialInvalidation(prev, initial, false)
	if _, ok := invSrcs["user.src"]; !ok {
		t.Errorf("name user must be invalidated by the library delta: %v", invSrcs)
	}
	if _, ok := invSrcs["bystander.src"]; ok {
		t.Errorf("source that never uses the library's names must survive: %v", invSrcs)
	}
}

func TestInitialInvalidationOfRemovedSource(t *testing.T) {
	prev := analysis.Empty()
	err := prev.AddSource(analysis.SourceEntry{
		Source:  "a.src",
		Classes: []analysis.AnalyzedClass{{Name: "A"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = prev.AddSource(analysis.SourceEntry{
		Source:  "b.src",
		Classes: []analysis.AnalyzedClass{{Name: "B"}},
		InternalDeps: []analysis.InternalDependency{
			{From: "B", To: "A", Context: analysis.DependencyByMemberRef},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	prev.AddUsedName("B", analysis.UsedName{Name: "A", Scopes: analysis.ScopeDefault})

	initial := &changes.InitialChanges{
		Added:           map[vfs.FileRef]struct{}{},
		Removed:         map[vfs.FileRef]struct{}{"a.src": {}},
		Modified:        map[vfs.FileRef]struct{}{},
		RemovedProducts: map[vfs.FileRef]struct{}{},
	}
	invClasses, invSrcs := initialInvalidation(prev, initial, false)
	if _, ok := invClasses["B"]; !ok {
		t.Errorf("dependent of removed class must be invalidated: %v", invClasses)
	}
	if _, ok := invSrcs["b.src"]; !ok {
		t.Errorf("owner of invalidated class must be recompiled: %v", invSrcs)
	}
	if _, ok := invSrcs["a.src"]; ok {
		t.Errorf("removed source must not be scheduled for recompilation: %v", invSrcs)
	}
}
