package analysis

import (
	"sort"

	"github.com/incbuild/incc/pkg/vfs"
)

// rel is a bidirectional string relation: a forward map plus its inverse,
// kept in lockstep so reverse lookups cost one map access.
type rel struct {
	fwd map[string]map[string]struct{}
	rev map[string]map[string]struct{}
}

func newRel() *rel {
	return &rel{
		fwd: make(map[string]map[string]struct{}),
		rev: make(map[string]map[string]struct{}),
	}
}

func (r *rel) add(k, v string) {
	if r.fwd[k] == nil {
		r.fwd[k] = make(map[string]struct{})
	}
	r.fwd[k][v] = struct{}{}
	if r.rev[v] == nil {
		r.rev[v] = make(map[string]struct{})
	}
	r.rev[v][k] = struct{}{}
}

// removeKey drops every pair with the given forward key.
func (r *rel) removeKey(k string) {
	for v := range r.fwd[k] {
		delete(r.rev[v], k)
		if len(r.rev[v]) == 0 {
			delete(r.rev, v)
		}
	}
	delete(r.fwd, k)
}

func (r *rel) forward(k string) []string {
	return sortedKeys(r.fwd[k])
}

func (r *rel) reverse(v string) []string {
	return sortedKeys(r.rev[v])
}

func (r *rel) firstForward(k string) (string, bool) {
	for v := range r.fwd[k] {
		return v, true
	}
	return "", false
}

func (r *rel) firstReverse(v string) (string, bool) {
	for k := range r.rev[v] {
		return k, true
	}
	return "", false
}

func (r *rel) copy() *rel {
	c := newRel()
	for k, vs := range r.fwd {
		for v := range vs {
			c.add(k, v)
		}
	}
	return c
}

func (r *rel) pairCount() int {
	n := 0
	for _, vs := range r.fwd {
		n += len(vs)
	}
	return n
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Relations is the forward/reverse map algebra tying sources, classes,
// binary names, artifacts and used names together. All identifiers are
// stable strings: class names as written, file refs as logical paths.
type Relations struct {
	srcClasses *rel // source ref -> source class name
	products   *rel // source ref -> product file ref
	libraries  *rel // source ref -> library file ref

	internal map[DependencyContext]*rel // from class -> to class
	external map[DependencyContext]*rel // from class -> to binary name

	productClassName  *rel // source class -> binary class name (non-local only)
	classProducts     *rel // source class -> product file ref (non-local only)
	libraryClassNames *rel // library file ref -> binary names resolved to it

	usedNames map[string]map[string]ScopeSet // class -> name -> scopes
}

func NewRelations() *Relations {
	return &Relations{
		srcClasses: newRel(),
		products:   newRel(),
		libraries:  newRel(),
		internal: map[DependencyContext]*rel{
			DependencyByMemberRef:        newRel(),
			DependencyByInheritance:      newRel(),
			LocalDependencyByInheritance: newRel(),
		},
		external: map[DependencyContext]*rel{
			DependencyByMemberRef:        newRel(),
			DependencyByInheritance:      newRel(),
			LocalDependencyByInheritance: newRel(),
		},
		productClassName:  newRel(),
		classProducts:     newRel(),
		libraryClassNames: newRel(),
		usedNames:         make(map[string]map[string]ScopeSet),
	}
}

func (r *Relations) Copy() *Relations {
	c := &Relations{
		srcClasses:        r.srcClasses.copy(),
		products:          r.products.copy(),
		libraries:         r.libraries.copy(),
		internal:          make(map[DependencyContext]*rel, len(r.internal)),
		external:          make(map[DependencyContext]*rel, len(r.external)),
		productClassName:  r.productClassName.copy(),
		classProducts:     r.classProducts.copy(),
		libraryClassNames: r.libraryClassNames.copy(),
		usedNames:         make(map[string]map[string]ScopeSet, len(r.usedNames)),
	}
	for ctx, rr := range r.internal {
		c.internal[ctx] = rr.copy()
	}
	for ctx, rr := range r.external {
		c.external[ctx] = rr.copy()
	}
	for class, names := range r.usedNames {
		nn := make(map[string]ScopeSet, len(names))
		for n, s := range names {
			nn[n] = s
		}
		c.usedNames[class] = nn
	}
	return c
}

// AddClass binds a source class name to its owning source.
func (r *Relations) AddClass(src vfs.FileRef, class string) {
	r.srcClasses.add(string(src), class)
}

// ClassesOf lists the source class names defined in src.
func (r *Relations) ClassesOf(src vfs.FileRef) []string {
	return r.srcClasses.forward(string(src))
}

// SourceOf finds the source owning a class. Every class lives in exactly one
// source.
func (r *Relations) SourceOf(class string) (vfs.FileRef, bool) {
	s, ok := r.srcClasses.firstReverse(class)
	return vfs.FileRef(s), ok
}

// AddProduct binds an emitted artifact to its source.
func (r *Relations) AddProduct(src, product vfs.FileRef) {
	r.products.add(string(src), string(product))
}

// ProductsOf lists the artifacts emitted for src.
func (r *Relations) ProductsOf(src vfs.FileRef) []vfs.FileRef {
	return toRefs(r.products.forward(string(src)))
}

// OwnerOfProduct finds the source a product was emitted for.
func (r *Relations) OwnerOfProduct(product vfs.FileRef) (vfs.FileRef, bool) {
	s, ok := r.products.firstReverse(string(product))
	return vfs.FileRef(s), ok
}

// AllProducts lists every tracked artifact.
func (r *Relations) AllProducts() []vfs.FileRef {
	seen := make(map[string]struct{})
	for _, vs := range r.products.fwd {
		for v := range vs {
			seen[v] = struct{}{}
		}
	}
	return toRefs(sortedKeys(seen))
}

// AddLibrary binds a classpath entry (and the binary name resolved to it) to
// a source.
func (r *Relations) AddLibrary(src, library vfs.FileRef, binaryName string) {
	r.libraries.add(string(src), string(library))
	if binaryName != "" {
		r.libraryClassNames.add(string(library), binaryName)
	}
}

// LibrariesOf lists the classpath entries src depends on.
func (r *Relations) LibrariesOf(src vfs.FileRef) []vfs.FileRef {
	return toRefs(r.libraries.forward(string(src)))
}

// UsersOfLibrary lists the sources depending on a classpath entry.
func (r *Relations) UsersOfLibrary(library vfs.FileRef) []vfs.FileRef {
	return toRefs(r.libraries.reverse(string(library)))
}

// AllLibraries lists every referenced classpath entry.
func (r *Relations) AllLibraries() []vfs.FileRef {
	seen := make(map[string]struct{})
	for _, vs := range r.libraries.fwd {
		for v := range vs {
			seen[v] = struct{}{}
		}
	}
	return toRefs(sortedKeys(seen))
}

// AddInternalDependency records a class-to-class edge. Self-edges are the
// caller's bug; they are dropped at the callback boundary.
func (r *Relations) AddInternalDependency(d InternalDependency) {
	r.internal[d.Context].add(d.From, d.To)
}

// AddExternalDependency records a class-to-binary edge.
func (r *Relations) AddExternalDependency(d ExternalDependency) {
	r.external[d.Context].add(d.From, d.ToBinary)
}

// InternalDependents lists classes that depend on the given class in any of
// the supplied contexts.
func (r *Relations) InternalDependents(class string, ctxs ...DependencyContext) []string {
	seen := make(map[string]struct{})
	for _, ctx := range ctxs {
		for _, from := range r.internal[ctx].reverse(class) {
			seen[from] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// ExternalDependents lists classes that depend on the given binary name in
// any of the supplied contexts.
func (r *Relations) ExternalDependents(binary string, ctxs ...DependencyContext) []string {
	seen := make(map[string]struct{})
	for _, ctx := range ctxs {
		for _, from := range r.external[ctx].reverse(binary) {
			seen[from] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// InternalDependenciesOf lists the classes the given class depends on, over
// all contexts.
func (r *Relations) InternalDependenciesOf(class string) []InternalDependency {
	var out []InternalDependency
	for _, ctx := range []DependencyContext{DependencyByMemberRef, DependencyByInheritance, LocalDependencyByInheritance} {
		for _, to := range r.internal[ctx].forward(class) {
			out = append(out, InternalDependency{From: class, To: to, Context: ctx})
		}
	}
	return out
}

// AddProductClassName binds a non-local source class to its binary name and
// the artifact emitted for it.
func (r *Relations) AddProductClassName(class, binary string, product vfs.FileRef) {
	r.productClassName.add(class, binary)
	r.classProducts.add(class, string(product))
}

// ProductsOfClass lists the non-local artifacts emitted for one class.
func (r *Relations) ProductsOfClass(class string) []vfs.FileRef {
	return toRefs(r.classProducts.forward(class))
}

// BinaryOf maps a non-local source class to its binary class name.
func (r *Relations) BinaryOf(class string) (string, bool) {
	return r.productClassName.firstForward(class)
}

// ClassOfBinary maps a binary class name back to the source class that
// produced it.
func (r *Relations) ClassOfBinary(binary string) (string, bool) {
	return r.productClassName.firstReverse(binary)
}

// BinaryNamesOfLibrary lists the binary class names that resolved to a
// classpath entry.
func (r *Relations) BinaryNamesOfLibrary(library vfs.FileRef) []string {
	return r.libraryClassNames.forward(string(library))
}

// LibraryForBinary finds the classpath entry a binary name resolved to, if
// it was recorded as a library dependency.
func (r *Relations) LibraryForBinary(binary string) (vfs.FileRef, bool) {
	l, ok := r.libraryClassNames.firstReverse(binary)
	return vfs.FileRef(l), ok
}

// AddUsedName records that class references name under the given scopes.
func (r *Relations) AddUsedName(class, name string, scopes ScopeSet) {
	if r.usedNames[class] == nil {
		r.usedNames[class] = make(map[string]ScopeSet)
	}
	r.usedNames[class][name] |= scopes
}

// UsedNamesOf returns the name->scopes map for a class. The returned map is
// the live store; callers must not mutate it.
func (r *Relations) UsedNamesOf(class string) map[string]ScopeSet {
	return r.usedNames[class]
}

// UsesName reports whether class references name in any of the scopes.
func (r *Relations) UsesName(class, name string, scopes ScopeSet) bool {
	s, ok := r.usedNames[class][name]
	return ok && s&scopes != 0
}

// DropSource removes every relation owned by src: its classes, their
// outgoing dependency edges and used names, its products and library edges.
// Edges from surviving classes to dropped ones stay; they are keyed by the
// survivor.
func (r *Relations) DropSource(src vfs.FileRef) {
	for _, class := range r.srcClasses.forward(string(src)) {
		for _, rr := range r.internal {
			rr.removeKey(class)
		}
		for _, rr := range r.external {
			rr.removeKey(class)
		}
		r.productClassName.removeKey(class)
		r.classProducts.removeKey(class)
		delete(r.usedNames, class)
	}
	r.srcClasses.removeKey(string(src))
	r.products.removeKey(string(src))
	r.libraries.removeKey(string(src))
}

// InternalClassGraph flattens the internal dependency maps into edges, for
// diagnostics and graph export.
func (r *Relations) InternalClassGraph() []InternalDependency {
	var out []InternalDependency
	for _, ctx := range []DependencyContext{DependencyByMemberRef, DependencyByInheritance, LocalDependencyByInheritance} {
		rr := r.internal[ctx]
		for _, from := range sortedKeys(setOfKeys(rr.fwd)) {
			for _, to := range rr.forward(from) {
				out = append(out, InternalDependency{From: from, To: to, Context: ctx})
			}
		}
	}
	return out
}

// PairCounts summarizes relation sizes, used by relations-debug logging.
func (r *Relations) PairCounts() map[string]int {
	return map[string]int{
		"srcClasses":       r.srcClasses.pairCount(),
		"products":         r.products.pairCount(),
		"libraries":        r.libraries.pairCount(),
		"memberRef":        r.internal[DependencyByMemberRef].pairCount(),
		"inheritance":      r.internal[DependencyByInheritance].pairCount(),
		"localInheritance": r.internal[LocalDependencyByInheritance].pairCount(),
		"external":         r.external[DependencyByMemberRef].pairCount() + r.external[DependencyByInheritance].pairCount() + r.external[LocalDependencyByInheritance].pairCount(),
		"productClassName": r.productClassName.pairCount(),
	}
}

func setOfKeys(m map[string]map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func toRefs(ss []string) []vfs.FileRef {
	if len(ss) == 0 {
		return nil
	}
	out := make([]vfs.FileRef, len(ss))
	for i, s := range ss {
		out[i] = vfs.FileRef(s)
	}
	return out
}
