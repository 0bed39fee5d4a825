// Package apihash digests class API shapes into the 64-bit hashes the
// invalidation rules compare: the public api hash, the extra hash that folds
// in trait private members, and per-name hashes.
package apihash

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/incbuild/incc/pkg/analysis"
)

// Options tunes hash computation.
type Options struct {
	// OptimizedSealed folds the names of sealed children into the parent's
	// own name hash (pattern-match scope) instead of hashing each child name
	// separately, so adding a child changes the parent's name hash rather
	// than only the new child's own name.
	OptimizedSealed bool
}

// API digests the public interface of one definition.
func API(cl *analysis.ClassLike) uint64 {
	if cl == nil {
		return 0
	}
	d := xxhash.New()
	writeString(d, cl.Name)
	writeByte(d, byte(cl.Kind))
	writeShapes(d, cl.Public)
	return d.Sum64()
}

// Extra digests the inheritance-relevant interface: the public api plus, for
// traits, private members, because a trait's private members are woven into
// its inheritors.
func Extra(cl *analysis.ClassLike) uint64 {
	if cl == nil {
		return 0
	}
	d := xxhash.New()
	writeUint64(d, API(cl))
	if cl.Kind == analysis.Trait {
		writeShapes(d, cl.Private)
	}
	return d.Sum64()
}

// Names produces per-name digests over the public members of one
// definition. Multiple members with the same name and scope (overloads)
// fold into one hash.
func Names(cl *analysis.ClassLike, opts Options) []analysis.NameHash {
	if cl == nil {
		return nil
	}
	type key struct {
		name  string
		scope analysis.ScopeSet
	}
	digests := make(map[key]*xxhash.Digest)
	feed := func(name string, scope analysis.ScopeSet, shape string) {
		k := key{name, scope}
		d, ok := digests[k]
		if !ok {
			d = xxhash.New()
			writeString(d, name)
			digests[k] = d
		}
		writeString(d, shape)
	}
	for _, m := range shapesSorted(cl.Public) {
		scope := m.Scope
		if scope == 0 {
			scope = analysis.ScopeDefault
		}
		feed(m.Name, scope, m.Shape)
	}
	for _, child := range cl.SealedChildren {
		if opts.OptimizedSealed {
			// Child set changes hash under the parent's own name.
			feed(cl.Name, analysis.ScopePatMatTarget, child)
		} else {
			feed(child, analysis.ScopeDefault, "sealed:"+cl.Name)
		}
	}
	out := make([]analysis.NameHash, 0, len(digests))
	for k, d := range digests {
		out = append(out, analysis.NameHash{Name: k.name, Scope: k.scope, Hash: d.Sum64()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}

// Companions digests the merged class-half and object-half of a definition.
// Either half may be nil. The api and extra hashes combine both halves; name
// hashes are the union, combining digests where both halves define a name.
func Companions(class, object *analysis.ClassLike, opts Options) (api, extra uint64, names []analysis.NameHash, hasMacro bool) {
	d := xxhash.New()
	writeUint64(d, API(class))
	writeUint64(d, API(object))
	api = d.Sum64()

	d.Reset()
	writeUint64(d, Extra(class))
	writeUint64(d, Extra(object))
	extra = d.Sum64()

	names = mergeNameHashes(Names(class, opts), Names(object, opts))
	hasMacro = (class != nil && class.HasMacro) || (object != nil && object.HasMacro)
	return api, extra, names, hasMacro
}

func mergeNameHashes(a, b []analysis.NameHash) []analysis.NameHash {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	type key struct {
		name  string
		scope analysis.ScopeSet
	}
	merged := make(map[key]uint64, len(a)+len(b))
	for _, h := range a {
		merged[key{h.Name, h.Scope}] = h.Hash
	}
	for _, h := range b {
		k := key{h.Name, h.Scope}
		if prev, ok := merged[k]; ok {
			d := xxhash.New()
			writeUint64(d, prev)
			writeUint64(d, h.Hash)
			merged[k] = d.Sum64()
		} else {
			merged[k] = h.Hash
		}
	}
	out := make([]analysis.NameHash, 0, len(merged))
	for k, h := range merged {
		out = append(out, analysis.NameHash{Name: k.name, Scope: k.scope, Hash: h})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}

// ChangedNames diffs two name-hash lists and returns the names (with scopes)
// whose hash changed, appeared, or disappeared.
func ChangedNames(before, after []analysis.NameHash) map[string]analysis.ScopeSet {
	type key struct {
		name  string
		scope analysis.ScopeSet
	}
	prev := make(map[key]uint64, len(before))
	for _, h := range before {
		prev[key{h.Name, h.Scope}] = h.Hash
	}
	changed := make(map[string]analysis.ScopeSet)
	seen := make(map[key]struct{}, len(after))
	for _, h := range after {
		k := key{h.Name, h.Scope}
		seen[k] = struct{}{}
		if p, ok := prev[k]; !ok || p != h.Hash {
			changed[h.Name] |= h.Scope
		}
	}
	for k := range prev {
		if _, ok := seen[k]; !ok {
			changed[k.name] |= k.scope
		}
	}
	return changed
}

func shapesSorted(shapes []analysis.NamedShape) []analysis.NamedShape {
	out := append([]analysis.NamedShape(nil), shapes...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Shape < out[j].Shape
	})
	return out
}

func writeShapes(d *xxhash.Digest, shapes []analysis.NamedShape) {
	for _, m := range shapesSorted(shapes) {
		writeString(d, m.Name)
		writeByte(d, byte(m.Scope))
		writeString(d, m.Shape)
	}
}

func writeString(d *xxhash.Digest, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	_, _ = d.Write(n[:])
	_, _ = d.WriteString(s)
}

func writeByte(d *xxhash.Digest, b byte) {
	_, _ = d.Write([]byte{b})
}

func writeUint64(d *xxhash.Digest, v uint64) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], v)
	_, _ = d.Write(n[:])
}
