package analysis

import (
	"reflect"
	"testing"
)

func TestRelationsClassOwnership(t *testing.T) {
	r := NewRelations()
	r.AddClass("a.src", "A")
	r.AddClass("a.src", "AHelper")
	r.AddClass("b.src", "B")

	if got := r.ClassesOf("a.src"); !reflect.DeepEqual(got, []string{"A", "AHelper"}) {
		t.Errorf("ClassesOf(a.src) = %v", got)
	}
	src, ok := r.SourceOf("B")
	if !ok || src != "b.src" {
		t.Errorf("SourceOf(B) = %v %v", src, ok)
	}
}

func TestRelationsDependentsByContext(t *testing.T) {
	r := NewRelations()
	r.AddInternalDependency(InternalDependency{From: "B", To: "A", Context: DependencyByMemberRef})
	r.AddInternalDependency(InternalDependency{From: "C", To: "A", Context: DependencyByInheritance})

	if got := r.InternalDependents("A", DependencyByMemberRef); !reflect.DeepEqual(got, []string{"B"}) {
		t.Errorf("member-ref dependents = %v", got)
	}
	if got := r.InternalDependents("A", DependencyByInheritance); !reflect.DeepEqual(got, []string{"C"}) {
		t.Errorf("inheritance dependents = %v", got)
	}
	if got := r.InternalDependents("A", DependencyByMemberRef, DependencyByInheritance); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("combined dependents = %v", got)
	}
}

func TestRelationsProductClassNameBijection(t *testing.T) {
	r := NewRelations()
	r.AddProductClassName("pkg.A", "pkg.A", "out/pkg/A.class")

	bin, ok := r.BinaryOf("pkg.A")
	if !ok || bin != "pkg.A" {
		t.Errorf("BinaryOf = %v %v", bin, ok)
	}
	cls, ok := r.ClassOfBinary("pkg.A")
	if !ok || cls != "pkg.A" {
		t.Errorf("ClassOfBinary = %v %v", cls, ok)
	}
}

func TestRelationsUsedNames(t *testing.T) {
	r := NewRelations()
	r.AddUsedName("B", "foo", ScopeDefault)
	r.AddUsedName("B", "foo", ScopeImplicit)

	if !r.UsesName("B", "foo", ScopeDefault) {
		t.Errorf("expected default-scope use of foo")
	}
	if !r.UsesName("B", "foo", ScopeImplicit) {
		t.Errorf("scopes must accumulate")
	}
	if r.UsesName("B", "foo", ScopePatMatTarget) {
		t.Errorf("unrecorded scope must not match")
	}
	if r.UsesName("B", "bar", ScopeDefault) {
		t.Errorf("unrecorded name must not match")
	}
}

func TestRelationsDropSource(t *testing.T) {
	r := NewRelations()
	r.AddClass("a.src", "A")
	r.AddClass("b.src", "B")
	r.AddProduct("a.src", "out/A.class")
	r.AddLibrary("a.src", "lib/core.jar", "lib.Core")
	r.AddInternalDependency(InternalDependency{From: "A", To: "B", Context: DependencyByMemberRef})
	r.AddInternalDependency(InternalDependency{From: "B", To: "A", Context: DependencyByMemberRef})
	r.AddUsedName("A", "b", ScopeDefault)
	r.AddProductClassName("A", "A", "out/A.class")

	r.DropSource("a.src")

	if got := r.ClassesOf("a.src"); len(got) != 0 {
		t.Errorf("classes survived drop: %v", got)
	}
	if got := r.ProductsOf("a.src"); len(got) != 0 {
		t.Errorf("products survived drop: %v", got)
	}
	if _, ok := r.BinaryOf("A"); ok {
		t.Errorf("productClassName survived drop")
	}
	if r.UsesName("A", "b", ScopeDefault) {
		t.Errorf("used names survived drop")
	}
	// The survivor's edge to the dropped class stays; it is keyed by B.
	if got := r.InternalDependents("A", DependencyByMemberRef); !reflect.DeepEqual(got, []string{"B"}) {
		t.Errorf("surviving reverse edge lost: %v", got)
	}
}

func TestRelationsCopyIsDeep(t *testing.T) {
	r := NewRelations()
	r.AddClass("a.src", "A")
	r.AddUsedName("A", "foo", ScopeDefault)

	c := r.Copy()
	c.AddClass("a.src", "A2")
	c.AddUsedName("A", "bar", ScopeDefault)

	if got := r.ClassesOf("a.src"); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("copy mutation leaked into original: %v", got)
	}
	if r.UsesName("A", "bar", ScopeDefault) {
		t.Errorf("used-name mutation leaked into original")
	}
}
