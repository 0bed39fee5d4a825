// Package compile defines the boundary between the incremental engine and
// the actual compiler: the compile function, the callback capability set the
// compiler reports through, and the classpath lookup.
package compile

import (
	"context"
	"errors"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/classfiles"
	"github.com/incbuild/incc/pkg/vfs"
)

// ErrCompileFailed is the compile function's failure result. The driver
// rolls back emitted artifacts and returns the previous analysis.
var ErrCompileFailed = errors.New("compilation failed")

// ErrCancelled reports cooperative cancellation observed by the compiler.
// The driver swallows it: rollback, info log, no-change result.
var ErrCancelled = errors.New("compilation cancelled")

// AnalysisCallback is the capability set the compiler sees. All mutating
// operations are fire-and-forget and safe under parallel invocation by
// compiler threads; ordering is only guaranteed per source by the compiler's
// own phase structure.
type AnalysisCallback interface {
	StartSource(src vfs.VirtualFile)
	Problem(category string, pos analysis.Position, msg string, severity analysis.Severity, reported bool)
	ClassDependency(onClass, fromClass string, ctx analysis.DependencyContext)
	BinaryDependency(classFile vfs.FileRef, onBinaryName, fromClass string, fromSrc vfs.FileRef, ctx analysis.DependencyContext)
	GeneratedNonLocalClass(src, classFile vfs.FileRef, binaryName, srcClassName string)
	GeneratedLocalClass(src, classFile vfs.FileRef)
	API(src vfs.FileRef, api analysis.ClassLike)
	MainClass(src vfs.FileRef, name string)
	UsedName(className, name string, scopes analysis.ScopeSet)
	DependencyPhaseCompleted()
	APIPhaseCompleted()
	ClassesInOutputJar() []string
	Enabled() bool
}

// DependencyChanges summarizes the upstream deltas handed to the compiler so
// it can force retyping against modified classpath entries.
type DependencyChanges struct {
	ModifiedLibraries []vfs.FileRef
	ModifiedClasses   []string
}

// IsEmpty reports whether there is nothing upstream to react to.
func (c DependencyChanges) IsEmpty() bool {
	return len(c.ModifiedLibraries) == 0 && len(c.ModifiedClasses) == 0
}

// Func performs one full compile step over the given sources. It must report
// through the callback, write artifacts through the manager, and return
// ErrCancelled or an error wrapping ErrCompileFailed on failure.
type Func func(ctx context.Context, sources []vfs.VirtualFile, changes DependencyChanges, cb AnalysisCallback, mgr classfiles.Manager) error

// Lookup resolves binary class names outside the compile unit: to a
// classpath entry, and to the analysis of an upstream compile unit when one
// exists.
type Lookup interface {
	OnClasspath(binaryName string) (vfs.VirtualFile, bool)
	AnalysisFor(binaryName string) (*analysis.Analysis, bool)
}

// ExternalAPI resolves a binary name to the hashed class record of the
// upstream unit that produced it. A miss means the dependency is a plain
// library dependency.
func ExternalAPI(lookup Lookup, binaryName string) (analysis.AnalyzedClass, bool) {
	if lookup == nil {
		return analysis.AnalyzedClass{}, false
	}
	upstream, ok := lookup.AnalysisFor(binaryName)
	if !ok || upstream == nil {
		return analysis.AnalyzedClass{}, false
	}
	class, ok := upstream.Relations.ClassOfBinary(binaryName)
	if !ok {
		return analysis.AnalyzedClass{}, false
	}
	return upstream.InternalAPI(class)
}

// NoLookup is a Lookup that resolves nothing; every external reference
// becomes a library dependency miss.
type NoLookup struct{}

func (NoLookup) OnClasspath(string) (vfs.VirtualFile, bool) { return nil, false }

func (NoLookup) AnalysisFor(string) (*analysis.Analysis, bool) { return nil, false }
