package analysis

import (
	"errors"
	"fmt"
	"sort"

	"github.com/incbuild/incc/pkg/stamp"
	"github.com/incbuild/incc/pkg/vfs"
)

// ErrInconsistent reports an invariant violation discovered while merging,
// such as two sources claiming the same binary class name.
var ErrInconsistent = errors.New("inconsistent analysis")

// Stamps records the observed state of every file the analysis refers to.
type Stamps struct {
	Sources   map[vfs.FileRef]stamp.Stamp
	Products  map[vfs.FileRef]stamp.Stamp
	Libraries map[vfs.FileRef]stamp.Stamp
}

func newStamps() Stamps {
	return Stamps{
		Sources:   make(map[vfs.FileRef]stamp.Stamp),
		Products:  make(map[vfs.FileRef]stamp.Stamp),
		Libraries: make(map[vfs.FileRef]stamp.Stamp),
	}
}

// APIs holds the hashed class records: internal classes keyed by source
// class name, external ones keyed by the binary name they were resolved
// through.
type APIs struct {
	Internal map[string]AnalyzedClass
	External map[string]AnalyzedClass
}

func newAPIs() APIs {
	return APIs{
		Internal: make(map[string]AnalyzedClass),
		External: make(map[string]AnalyzedClass),
	}
}

// Analysis is the complete record of one compile state. Treat values as
// immutable once published: DropSources and Merge return fresh values, and
// the engine snapshots before merging. The only code that mutates an
// Analysis in place is the callback assembling its own cycle delta.
type Analysis struct {
	Stamps       Stamps
	APIs         APIs
	Relations    *Relations
	Infos        map[vfs.FileRef]SourceInfo
	Compilations []Compilation
}

// Empty returns a fresh analysis with no sources.
func Empty() *Analysis {
	return &Analysis{
		Stamps:    newStamps(),
		APIs:      newAPIs(),
		Relations: NewRelations(),
		Infos:     make(map[vfs.FileRef]SourceInfo),
	}
}

// SourceEntry is the addSource argument bundle: everything one compile cycle
// learned about a single source.
type SourceEntry struct {
	Source           vfs.FileRef
	Stamp            stamp.Stamp
	Classes          []AnalyzedClass
	Info             SourceInfo
	NonLocalProducts []NonLocalProduct
	LocalProducts    []LocalProduct
	InternalDeps     []InternalDependency
	ExternalDeps     []ExternalDependency
	Libraries        []LibraryDependency
}

// AddSource registers everything one cycle learned about a source. The
// productClassName bijection is checked here: a binary name already owned by
// a different class is fatal.
func (a *Analysis) AddSource(e SourceEntry) error {
	a.Stamps.Sources[e.Source] = e.Stamp
	for _, c := range e.Classes {
		a.Relations.AddClass(e.Source, c.Name)
		a.APIs.Internal[c.Name] = c
	}
	for _, p := range e.NonLocalProducts {
		if owner, ok := a.Relations.ClassOfBinary(p.Binary); ok && owner != p.Class {
			return fmt.Errorf("%w: binary class %q claimed by %q and %q", ErrInconsistent, p.Binary, owner, p.Class)
		}
		a.Relations.AddProduct(e.Source, p.File)
		a.Relations.AddProductClassName(p.Class, p.Binary, p.File)
		a.Stamps.Products[p.File] = p.Stamp
	}
	for _, p := range e.LocalProducts {
		a.Relations.AddProduct(e.Source, p.File)
		a.Stamps.Products[p.File] = p.Stamp
	}
	for _, d := range e.InternalDeps {
		if d.From == d.To {
			continue
		}
		a.Relations.AddInternalDependency(d)
	}
	for _, d := range e.ExternalDeps {
		a.Relations.AddExternalDependency(d)
		a.APIs.External[d.ToBinary] = d.To
	}
	for _, l := range e.Libraries {
		a.Relations.AddLibrary(e.Source, l.File, l.BinaryName)
		a.Stamps.Libraries[l.File] = l.Stamp
	}
	a.Infos[e.Source] = e.Info
	return nil
}

// AddUsedName records a name use on a class.
func (a *Analysis) AddUsedName(class string, used UsedName) {
	a.Relations.AddUsedName(class, used.Name, used.Scopes)
}

// AddCompilation appends a compile-cycle record.
func (a *Analysis) AddCompilation(c Compilation) {
	a.Compilations = append(a.Compilations, c)
}

// Sources lists the sources known to this analysis, sorted.
func (a *Analysis) Sources() []vfs.FileRef {
	out := make([]vfs.FileRef, 0, len(a.Stamps.Sources))
	for s := range a.Stamps.Sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasSource reports whether src is part of this analysis.
func (a *Analysis) HasSource(src vfs.FileRef) bool {
	_, ok := a.Stamps.Sources[src]
	return ok
}

// InternalAPI looks up the hashed record for an internal class.
func (a *Analysis) InternalAPI(class string) (AnalyzedClass, bool) {
	c, ok := a.APIs.Internal[class]
	return c, ok
}

// Copy deep-copies the analysis so the original can serve as an immutable
// snapshot while the copy is extended.
func (a *Analysis) Copy() *Analysis {
	c := Empty()
	for k, v := range a.Stamps.Sources {
		c.Stamps.Sources[k] = v
	}
	for k, v := range a.Stamps.Products {
		c.Stamps.Products[k] = v
	}
	for k, v := range a.Stamps.Libraries {
		c.Stamps.Libraries[k] = v
	}
	for k, v := range a.APIs.Internal {
		c.APIs.Internal[k] = v
	}
	for k, v := range a.APIs.External {
		c.APIs.External[k] = v
	}
	c.Relations = a.Relations.Copy()
	for k, v := range a.Infos {
		c.Infos[k] = v
	}
	c.Compilations = append([]Compilation(nil), a.Compilations...)
	return c
}

// DropSources returns a copy of the analysis with every trace of the given
// sources removed: stamps, class APIs, relations, products, infos.
func (a *Analysis) DropSources(srcs map[vfs.FileRef]struct{}) *Analysis {
	c := a.Copy()
	for src := range srcs {
		for _, class := range c.Relations.ClassesOf(src) {
			delete(c.APIs.Internal, class)
		}
		for _, p := range c.Relations.ProductsOf(src) {
			delete(c.Stamps.Products, p)
		}
		c.Relations.DropSource(src)
		delete(c.Stamps.Sources, src)
		delete(c.Infos, src)
	}
	// Library stamps for entries no longer referenced by anyone are dropped
	// so a removed source cannot pin a stale library delta.
	referenced := make(map[vfs.FileRef]struct{})
	for _, l := range c.Relations.AllLibraries() {
		referenced[l] = struct{}{}
	}
	for l := range c.Stamps.Libraries {
		if _, ok := referenced[l]; !ok {
			delete(c.Stamps.Libraries, l)
		}
	}
	return c
}

// Merge folds other into a and returns the result. For any source present in
// both, other wins wholesale: the prior record is dropped first, so a
// recompiled source fully replaces its previous entry. Merging an empty
// delta is the identity.
func (a *Analysis) Merge(other *Analysis) (*Analysis, error) {
	overlap := make(map[vfs.FileRef]struct{})
	for src := range other.Stamps.Sources {
		if a.HasSource(src) {
			overlap[src] = struct{}{}
		}
	}
	var c *Analysis
	if len(overlap) > 0 {
		c = a.DropSources(overlap)
	} else {
		c = a.Copy()
	}

	for _, src := range other.Sources() {
		entry, err := other.entryFor(src)
		if err != nil {
			return nil, err
		}
		if err := c.AddSource(entry); err != nil {
			return nil, err
		}
		for _, class := range other.Relations.ClassesOf(src) {
			for name, scopes := range other.Relations.UsedNamesOf(class) {
				c.Relations.AddUsedName(class, name, scopes)
			}
		}
	}
	c.Compilations = append(c.Compilations, other.Compilations...)
	return c, nil
}

// entryFor reassembles the SourceEntry view of one source, the inverse of
// AddSource.
func (a *Analysis) entryFor(src vfs.FileRef) (SourceEntry, error) {
	e := SourceEntry{
		Source: src,
		Stamp:  a.Stamps.Sources[src],
		Info:   a.Infos[src],
	}
	nonLocalFiles := make(map[vfs.FileRef]struct{})
	for _, class := range a.Relations.ClassesOf(src) {
		api, ok := a.APIs.Internal[class]
		if !ok {
			return e, fmt.Errorf("%w: class %q of %s has no API record", ErrInconsistent, class, src)
		}
		e.Classes = append(e.Classes, api)
		e.InternalDeps = append(e.InternalDeps, a.Relations.InternalDependenciesOf(class)...)
		for _, ctx := range []DependencyContext{DependencyByMemberRef, DependencyByInheritance, LocalDependencyByInheritance} {
			for _, bin := range a.Relations.external[ctx].forward(class) {
				e.ExternalDeps = append(e.ExternalDeps, ExternalDependency{
					From:     class,
					ToBinary: bin,
					To:       a.APIs.External[bin],
					Context:  ctx,
				})
			}
		}
		if bin, ok := a.Relations.BinaryOf(class); ok {
			for _, p := range a.Relations.ProductsOfClass(class) {
				e.NonLocalProducts = append(e.NonLocalProducts, NonLocalProduct{
					Class: class, Binary: bin, File: p, Stamp: a.Stamps.Products[p],
				})
				nonLocalFiles[p] = struct{}{}
			}
		}
	}
	for _, p := range a.Relations.ProductsOf(src) {
		if _, ok := nonLocalFiles[p]; ok {
			continue
		}
		e.LocalProducts = append(e.LocalProducts, LocalProduct{File: p, Stamp: a.Stamps.Products[p]})
	}
	for _, l := range a.Relations.LibrariesOf(src) {
		var binary string
		for _, b := range a.Relations.libraryClassNames.forward(string(l)) {
			binary = b
			break
		}
		e.Libraries = append(e.Libraries, LibraryDependency{File: l, BinaryName: binary, Stamp: a.Stamps.Libraries[l]})
	}
	return e, nil
}

