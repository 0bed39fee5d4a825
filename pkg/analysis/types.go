// Package analysis holds the immutable result of incremental compilation
// bookkeeping: stamps, class APIs, relations between sources, classes and
// artifacts, and per-source diagnostics.
package analysis

import (
	"github.com/incbuild/incc/pkg/stamp"
	"github.com/incbuild/incc/pkg/vfs"
)

// ScopeSet is a bitset of use scopes for a referenced name.
type ScopeSet uint8

const (
	// ScopeDefault marks an ordinary reference.
	ScopeDefault ScopeSet = 1 << iota
	// ScopeImplicit marks a reference resolved through implicit search.
	ScopeImplicit
	// ScopePatMatTarget marks a name used as a pattern-match target type.
	ScopePatMatTarget
)

// Has reports whether all scopes in other are present.
func (s ScopeSet) Has(other ScopeSet) bool { return s&other == other }

// UsedName is a simple-identifier reference from one class to a name it did
// not declare.
type UsedName struct {
	Name   string
	Scopes ScopeSet
}

// NameHash is a per-public-name digest. Member-ref invalidation only fires
// for dependents that use a name whose hash changed.
type NameHash struct {
	Name  string
	Scope ScopeSet
	Hash  uint64
}

// DefinitionKind classifies a top-level definition in the analyzed language.
type DefinitionKind uint8

const (
	ClassDef DefinitionKind = iota
	Trait
	Module
	PackageModule
)

func (k DefinitionKind) String() string {
	switch k {
	case ClassDef:
		return "class"
	case Trait:
		return "trait"
	case Module:
		return "module"
	default:
		return "packageModule"
	}
}

// IsModuleLike reports whether the definition is an object-half companion.
func (k DefinitionKind) IsModuleLike() bool { return k == Module || k == PackageModule }

// NamedShape is one named member of a class API together with an opaque
// serialized form of its shape, as extracted by the compiler.
type NamedShape struct {
	Name  string
	Scope ScopeSet
	Shape string
}

// ClassLike is the API shape of one top-level definition as reported by the
// compiler through the callback. The engine never inspects shapes; it only
// hashes them.
type ClassLike struct {
	Name           string
	Kind           DefinitionKind
	HasMacro       bool
	Public         []NamedShape
	Private        []NamedShape // folded into the extra hash for traits
	SealedChildren []string
}

// Companions pairs the class half and the object half of a definition.
// Either side may be nil.
type Companions struct {
	Class  *ClassLike
	Object *ClassLike
}

// AnalyzedClass is the hashed API record for one source class, the unit the
// invalidation rules operate on.
type AnalyzedClass struct {
	CompileTime int64 // start of the compilation that produced this record, ns
	Name        string
	APIHash     uint64
	ExtraHash   uint64 // includes trait private members; inheritance driver
	NameHashes  []NameHash
	HasMacro    bool

	// API carries the full shapes only when api-debug is on.
	API *Companions
}

// DependencyContext distinguishes how one class depends on another, because
// the invalidation rules differ per context.
type DependencyContext uint8

const (
	// DependencyByMemberRef fires only when a used name's hash changed.
	DependencyByMemberRef DependencyContext = iota
	// DependencyByInheritance fires whenever the parent's extra hash changed.
	DependencyByInheritance
	// LocalDependencyByInheritance is inheritance from a local (non-exported)
	// class; it propagates as inheritance within a cycle but not across.
	LocalDependencyByInheritance
)

func (c DependencyContext) String() string {
	switch c {
	case DependencyByMemberRef:
		return "memberRef"
	case DependencyByInheritance:
		return "inheritance"
	default:
		return "localInheritance"
	}
}

// InternalDependency is a class-to-class edge within the compile unit.
// From and To are always distinct.
type InternalDependency struct {
	From    string
	To      string
	Context DependencyContext
}

// ExternalDependency is a class-to-binary edge leaving the compile unit,
// carrying the external API observed when the edge was recorded.
type ExternalDependency struct {
	From     string
	ToBinary string
	To       AnalyzedClass
	Context  DependencyContext
}

// LibraryDependency is an edge to a classpath entry that has no analysis.
type LibraryDependency struct {
	File       vfs.FileRef
	BinaryName string
	Stamp      stamp.Stamp
}

// NonLocalProduct is an emitted class artifact exported to the binary class
// namespace.
type NonLocalProduct struct {
	Class  string // source class name
	Binary string // binary class name
	File   vfs.FileRef
	Stamp  stamp.Stamp
}

// LocalProduct is an emitted artifact invisible outside its source, such as
// an anonymous or nested local class. Local products have no binary/src
// reverse mapping.
type LocalProduct struct {
	File  vfs.FileRef
	Stamp stamp.Stamp
}

// Severity ranks a compiler diagnostic.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	default:
		return "error"
	}
}

// Position locates a diagnostic inside a source.
type Position struct {
	Source vfs.FileRef
	Line   int
	Column int
}

// Problem is one compiler diagnostic. Problems are not errors to the engine;
// they ride along in SourceInfo.
type Problem struct {
	Category string
	Position Position
	Message  string
	Severity Severity
}

// SourceInfo carries per-source diagnostics and entry-point candidates,
// separated into what the compiler already reported to the user and what it
// buffered silently.
type SourceInfo struct {
	Reported    []Problem
	Unreported  []Problem
	MainClasses []string
}

// Compilation records one compile cycle.
type Compilation struct {
	StartNanos int64
	Output     vfs.FileRef
}
