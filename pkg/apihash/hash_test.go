package apihash

import (
	"testing"

	"github.com/incbuild/incc/pkg/analysis"
)

func classWith(name string, members ...analysis.NamedShape) *analysis.ClassLike {
	return &analysis.ClassLike{Name: name, Kind: analysis.ClassDef, Public: members}
}

func TestAPIHashIsStable(t *testing.T) {
	a := classWith("A", analysis.NamedShape{Name: "foo", Shape: "def foo(): Int"})
	b := classWith("A", analysis.NamedShape{Name: "foo", Shape: "def foo(): Int"})
	if API(a) != API(b) {
		t.Errorf("identical shapes must hash identically")
	}
}

func TestAPIHashChangesWithShape(t *testing.T) {
	before := classWith("A", analysis.NamedShape{Name: "foo", Shape: "def foo(): Int"})
	after := classWith("A", analysis.NamedShape{Name: "foo", Shape: "def foo(): Long"})
	if API(before) == API(after) {
		t.Errorf("changed member shape must change the api hash")
	}
}

func TestTraitExtraHashIncludesPrivate(t *testing.T) {
	trait := &analysis.ClassLike{
		Name: "T", Kind: analysis.Trait,
		Public:  []analysis.NamedShape{{Name: "foo", Shape: "def foo(): Int"}},
		Private: []analysis.NamedShape{{Name: "buf", Shape: "val buf: Array[Byte]"}},
	}
	changed := &analysis.ClassLike{
		Name: "T", Kind: analysis.Trait,
		Public:  []analysis.NamedShape{{Name: "foo", Shape: "def foo(): Int"}},
		Private: []analysis.NamedShape{{Name: "buf", Shape: "val buf: List[Byte]"}},
	}
	if API(trait) != API(changed) {
		t.Fatalf("private members must not affect the api hash")
	}
	if Extra(trait) == Extra(changed) {
		t.Errorf("trait private members must affect the extra hash")
	}

	// For plain classes private members affect neither hash.
	cls := &analysis.ClassLike{Name: "C", Kind: analysis.ClassDef, Private: trait.Private}
	clsChanged := &analysis.ClassLike{Name: "C", Kind: analysis.ClassDef, Private: changed.Private}
	if Extra(cls) != Extra(clsChanged) {
		t.Errorf("class private members must not affect the extra hash")
	}
}

func TestNamesPrunesToChangedName(t *testing.T) {
	before := classWith("A",
		analysis.NamedShape{Name: "foo", Shape: "def foo(): Int"},
		analysis.NamedShape{Name: "bar", Shape: "def bar(): String"},
	)
	after := classWith("A",
		analysis.NamedShape{Name: "foo", Shape: "def foo(): Long"},
		analysis.NamedShape{Name: "bar", Shape: "def bar(): String"},
	)
	changed := ChangedNames(Names(before, Options{}), Names(after, Options{}))
	if len(changed) != 1 {
		t.Fatalf("expected exactly one changed name, got %v", changed)
	}
	if _, ok := changed["foo"]; !ok {
		t.Errorf("expected foo to be the changed name, got %v", changed)
	}
}

func TestChangedNamesSeesRemovals(t *testing.T) {
	before := classWith("A",
		analysis.NamedShape{Name: "foo", Shape: "def foo(): Int"},
		analysis.NamedShape{Name: "gone", Shape: "def gone(): Unit"},
	)
	after := classWith("A",
		analysis.NamedShape{Name: "foo", Shape: "def foo(): Int"},
	)
	changed := ChangedNames(Names(before, Options{}), Names(after, Options{}))
	if _, ok := changed["gone"]; !ok {
		t.Errorf("removed name must appear changed, got %v", changed)
	}
	if _, ok := changed["foo"]; ok {
		t.Errorf("unchanged name must not appear, got %v", changed)
	}
}

func TestCompanionsMergeHalves(t *testing.T) {
	class := classWith("A", analysis.NamedShape{Name: "foo", Shape: "def foo(): Int"})
	object := &analysis.ClassLike{
		Name: "A", Kind: analysis.Module,
		Public: []analysis.NamedShape{{Name: "apply", Shape: "def apply(): A"}},
	}

	api, extra, names, hasMacro := Companions(class, object, Options{})
	if api == 0 || extra == 0 {
		t.Fatalf("merged hashes should be non-trivial")
	}
	if hasMacro {
		t.Errorf("neither half has a macro")
	}
	nameSet := make(map[string]bool)
	for _, n := range names {
		nameSet[n.Name] = true
	}
	if !nameSet["foo"] || !nameSet["apply"] {
		t.Errorf("companion name hashes must cover both halves, got %v", names)
	}

	// Changing only the object half must change the merged hash.
	object2 := &analysis.ClassLike{
		Name: "A", Kind: analysis.Module,
		Public: []analysis.NamedShape{{Name: "apply", Shape: "def apply(n: Int): A"}},
	}
	api2, _, _, _ := Companions(class, object2, Options{})
	if api == api2 {
		t.Errorf("object-half change must change the merged api hash")
	}
}

func TestOptimizedSealedFoldsChildrenIntoParent(t *testing.T) {
	sealed := &analysis.ClassLike{
		Name: "Expr", Kind: analysis.Trait,
		SealedChildren: []string{"Lit", "Add"},
	}
	grown := &analysis.ClassLike{
		Name: "Expr", Kind: analysis.Trait,
		SealedChildren: []string{"Lit", "Add", "Mul"},
	}

	plain := ChangedNames(Names(sealed, Options{}), Names(grown, Options{}))
	if _, ok := plain["Mul"]; !ok {
		t.Errorf("default hashing keys the new child under its own name, got %v", plain)
	}

	opt := ChangedNames(Names(sealed, Options{OptimizedSealed: true}), Names(grown, Options{OptimizedSealed: true}))
	if _, ok := opt["Expr"]; !ok {
		t.Errorf("optimized hashing keys child changes under the parent, got %v", opt)
	}
}
