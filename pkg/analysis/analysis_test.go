package analysis

import (
	"errors"
	"testing"

	"github.com/incbuild/incc/pkg/stamp"
	"github.com/incbuild/incc/pkg/vfs"
)

func entryA() SourceEntry {
	return SourceEntry{
		Source: "a.src",
		Stamp:  stamp.Hash([]byte("class A")),
		Classes: []AnalyzedClass{
			{Name: "A", APIHash: 11, ExtraHash: 12, CompileTime: 1},
		},
		NonLocalProducts: []NonLocalProduct{
			{Class: "A", Binary: "A", File: "out/A.class", Stamp: stamp.LastModified(1)},
		},
	}
}

func TestAddSourceAndLookups(t *testing.T) {
	a := Empty()
	if err := a.AddSource(entryA()); err != nil {
		t.Fatalf("AddSource() unexpected error: %v", err)
	}

	if !a.HasSource("a.src") {
		t.Errorf("source missing after AddSource")
	}
	api, ok := a.InternalAPI("A")
	if !ok || api.APIHash != 11 {
		t.Errorf("InternalAPI(A) = %+v %v", api, ok)
	}
	if owner, ok := a.Relations.OwnerOfProduct("out/A.class"); !ok || owner != "a.src" {
		t.Errorf("OwnerOfProduct = %v %v", owner, ok)
	}
}

func TestAddSourceRejectsBinaryCollision(t *testing.T) {
	a := Empty()
	if err := a.AddSource(entryA()); err != nil {
		t.Fatalf("AddSource() unexpected error: %v", err)
	}

	clash := SourceEntry{
		Source:  "imposter.src",
		Stamp:   stamp.Hash([]byte("class Imposter")),
		Classes: []AnalyzedClass{{Name: "Imposter"}},
		NonLocalProducts: []NonLocalProduct{
			{Class: "Imposter", Binary: "A", File: "out/A2.class"},
		},
	}
	err := a.AddSource(clash)
	if !errors.Is(err, ErrInconsistent) {
		t.Errorf("expected ErrInconsistent for binary name collision, got %v", err)
	}
}

func TestAddSourceDropsSelfDependencies(t *testing.T) {
	a := Empty()
	e := entryA()
	e.InternalDeps = []InternalDependency{
		{From: "A", To: "A", Context: DependencyByMemberRef},
	}
	if err := a.AddSource(e); err != nil {
		t.Fatalf("AddSource() unexpected error: %v", err)
	}
	if deps := a.Relations.InternalDependenciesOf("A"); len(deps) != 0 {
		t.Errorf("self-dependency survived: %v", deps)
	}
}

func TestMergeEmptyIsIdentity(t *testing.T) {
	a := Empty()
	if err := a.AddSource(entryA()); err != nil {
		t.Fatalf("AddSource() unexpected error: %v", err)
	}

	merged, err := a.Merge(Empty())
	if err != nil {
		t.Fatalf("Merge() unexpected error: %v", err)
	}
	if len(merged.Stamps.Sources) != 1 {
		t.Errorf("merge with empty changed source count: %d", len(merged.Stamps.Sources))
	}
	api, ok := merged.InternalAPI("A")
	if !ok || api.APIHash != 11 {
		t.Errorf("merge with empty lost API: %+v %v", api, ok)
	}
}

func TestMergeReplacesOverlappingSourceWholesale(t *testing.T) {
	a := Empty()
	e := entryA()
	e.Classes = append(e.Classes, AnalyzedClass{Name: "AOld", APIHash: 99})
	if err := a.AddSource(e); err != nil {
		t.Fatalf("AddSource() unexpected error: %v", err)
	}

	delta := Empty()
	replacement := SourceEntry{
		Source:  "a.src",
		Stamp:   stamp.Hash([]byte("class A v2")),
		Classes: []AnalyzedClass{{Name: "A", APIHash: 21, CompileTime: 2}},
		NonLocalProducts: []NonLocalProduct{
			{Class: "A", Binary: "A", File: "out/A.class", Stamp: stamp.LastModified(2)},
		},
	}
	if err := delta.AddSource(replacement); err != nil {
		t.Fatalf("AddSource() unexpected error: %v", err)
	}

	merged, err := a.Merge(delta)
	if err != nil {
		t.Fatalf("Merge() unexpected error: %v", err)
	}
	api, ok := merged.InternalAPI("A")
	if !ok || api.APIHash != 21 {
		t.Errorf("replacement did not win: %+v", api)
	}
	if _, ok := merged.InternalAPI("AOld"); ok {
		t.Errorf("stale class of the replaced source survived the merge")
	}
	if !stamp.Equiv(merged.Stamps.Sources["a.src"], replacement.Stamp) {
		t.Errorf("stamp of replaced source not updated")
	}

	// The original is an unchanged snapshot.
	if api, _ := a.InternalAPI("A"); api.APIHash != 11 {
		t.Errorf("merge mutated its receiver")
	}
}

func TestDropSourcesRemovesEveryTrace(t *testing.T) {
	a := Empty()
	if err := a.AddSource(entryA()); err != nil {
		t.Fatalf("AddSource() unexpected error: %v", err)
	}
	e := SourceEntry{
		Source:  "b.src",
		Stamp:   stamp.Hash([]byte("class B")),
		Classes: []AnalyzedClass{{Name: "B", APIHash: 31}},
		Libraries: []LibraryDependency{
			{File: "lib/only-b.jar", BinaryName: "lib.OnlyB", Stamp: stamp.Hash([]byte("jar"))},
		},
	}
	if err := a.AddSource(e); err != nil {
		t.Fatalf("AddSource() unexpected error: %v", err)
	}

	dropped := a.DropSources(map[vfs.FileRef]struct{}{"b.src": {}})
	if dropped.HasSource("b.src") {
		t.Errorf("dropped source still present")
	}
	if _, ok := dropped.InternalAPI("B"); ok {
		t.Errorf("dropped class API still present")
	}
	if _, ok := dropped.Stamps.Libraries["lib/only-b.jar"]; ok {
		t.Errorf("library referenced only by the dropped source still stamped")
	}
	if !dropped.HasSource("a.src") {
		t.Errorf("unrelated source lost")
	}
}
