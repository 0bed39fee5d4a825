// Package callback implements the sink the compiler reports into during one
// compile cycle. A Builder is alive for exactly one cycle, accepts concurrent
// writes from compiler threads, and finalizes into an Analysis delta.
package callback

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/apihash"
	"github.com/incbuild/incc/pkg/classfiles"
	"github.com/incbuild/incc/pkg/compile"
	"github.com/incbuild/incc/pkg/logging"
	"github.com/incbuild/incc/pkg/stamp"
	"github.com/incbuild/incc/pkg/vfs"
)

// ErrDoubleGet reports a second Get on the same Builder: a bug in the
// compiler integration.
var ErrDoubleGet = errors.New("analysis callback finalized twice")

// ErrDoubleStart reports a repeated StartSource for one source within a
// cycle, caught in strict mode.
var ErrDoubleStart = errors.New("source started twice in one cycle")

// Options tunes callback behavior per run.
type Options struct {
	// Strict asserts a single StartSource per source per cycle.
	Strict bool
	// APIDebug retains full API shapes on the produced AnalyzedClass records.
	APIDebug bool
	// OptimizedSealed is passed through to name-hash computation.
	OptimizedSealed bool
	// LangExtension marks sources of the analyzed language; only those can
	// flag a source as macro-bearing.
	LangExtension string
}

// DefaultLangExtension is the source suffix of the analyzed language.
const DefaultLangExtension = ".src"

type nonLocalEntry struct {
	class  string
	binary string
	file   vfs.FileRef
}

type problemBuf struct {
	reported   []analysis.Problem
	unreported []analysis.Problem
}

// Builder is the live callback for one cycle. All exported mutators are safe
// for concurrent use; Get may be called once, after the compile step has
// returned.
type Builder struct {
	opts       Options
	prev       *analysis.Analysis
	lookup     compile.Lookup
	oracle     *stamp.Oracle
	manager    classfiles.Manager
	output     vfs.FileRef
	startNanos int64

	mu          sync.Mutex
	fatal       error
	finalized   bool
	sources     map[vfs.FileRef]vfs.VirtualFile
	classAPIs   map[string]*analysis.ClassLike
	objectAPIs  map[string]*analysis.ClassLike
	classesOf   map[vfs.FileRef]map[string]struct{}
	srcOfClass  map[string]vfs.FileRef
	intDeps     []analysis.InternalDependency
	extDeps     []analysis.ExternalDependency
	libDeps     map[vfs.FileRef]map[vfs.FileRef]analysis.LibraryDependency
	prodToClass map[vfs.FileRef]string
	binToClass  map[string]string
	binaryNames map[vfs.FileRef]string
	nonLocal    map[vfs.FileRef][]nonLocalEntry
	local       map[vfs.FileRef][]vfs.FileRef
	mains       map[vfs.FileRef][]string
	used        map[string]map[string]analysis.ScopeSet
	problems    map[vfs.FileRef]*problemBuf
	orphans     []analysis.Problem
	macroSrcs   map[vfs.FileRef]struct{}
}

// New creates the callback for one cycle. prev may be nil when no previous
// analysis exists; startNanos is the cycle's compilation timestamp; output
// identifies the artifact directory recorded in the Compilation entry.
func New(opts Options, prev *analysis.Analysis, lookup compile.Lookup, oracle *stamp.Oracle, manager classfiles.Manager, output vfs.FileRef, startNanos int64) *Builder {
	if opts.LangExtension == "" {
		opts.LangExtension = DefaultLangExtension
	}
	if prev == nil {
		prev = analysis.Empty()
	}
	return &Builder{
		opts:        opts,
		prev:        prev,
		lookup:      lookup,
		oracle:      oracle,
		manager:     manager,
		output:      output,
		startNanos:  startNanos,
		sources:     make(map[vfs.FileRef]vfs.VirtualFile),
		classAPIs:   make(map[string]*analysis.ClassLike),
		objectAPIs:  make(map[string]*analysis.ClassLike),
		classesOf:   make(map[vfs.FileRef]map[string]struct{}),
		srcOfClass:  make(map[string]vfs.FileRef),
		libDeps:     make(map[vfs.FileRef]map[vfs.FileRef]analysis.LibraryDependency),
		prodToClass: make(map[vfs.FileRef]string),
		binToClass:  make(map[string]string),
		binaryNames: make(map[vfs.FileRef]string),
		nonLocal:    make(map[vfs.FileRef][]nonLocalEntry),
		local:       make(map[vfs.FileRef][]vfs.FileRef),
		mains:       make(map[vfs.FileRef][]string),
		used:        make(map[string]map[string]analysis.ScopeSet),
		problems:    make(map[vfs.FileRef]*problemBuf),
		macroSrcs:   make(map[vfs.FileRef]struct{}),
	}
}

// Enabled reports whether the compiler should bother reporting at all.
func (b *Builder) Enabled() bool { return true }

// StartSource registers a source entering compilation.
func (b *Builder) StartSource(src vfs.VirtualFile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, seen := b.sources[src.Ref()]; seen && b.opts.Strict {
		b.fatal = fmt.Errorf("%w: %s", ErrDoubleStart, src.Ref())
		return
	}
	b.sources[src.Ref()] = src
	if b.classesOf[src.Ref()] == nil {
		b.classesOf[src.Ref()] = make(map[string]struct{})
	}
}

// Problem buffers one compiler diagnostic. Diagnostics without a source
// position have nowhere to attach; they are kept aside and surfaced through
// OrphanProblems.
func (b *Builder) Problem(category string, pos analysis.Position, msg string, severity analysis.Severity, reported bool) {
	p := analysis.Problem{Category: category, Position: pos, Message: msg, Severity: severity}
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos.Source == "" {
		logging.Debug("diagnostic without source position", "category", category, "message", msg)
		b.orphans = append(b.orphans, p)
		return
	}
	buf := b.problems[pos.Source]
	if buf == nil {
		buf = &problemBuf{}
		b.problems[pos.Source] = buf
	}
	if reported {
		buf.reported = append(buf.reported, p)
	} else {
		buf.unreported = append(buf.unreported, p)
	}
}

// ClassDependency records an internal class-to-class edge. Self-dependencies
// are dropped here so relations never carry them.
func (b *Builder) ClassDependency(onClass, fromClass string, ctx analysis.DependencyContext) {
	if onClass == fromClass {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.intDeps = append(b.intDeps, analysis.InternalDependency{From: fromClass, To: onClass, Context: ctx})
}

// BinaryDependency resolves a dependency on a binary class name. Resolution
// order: a class known to the previous analysis, a class generated earlier in
// this compile, an external class with an analysis, and finally a plain
// library dependency.
func (b *Builder) BinaryDependency(classFile vfs.FileRef, onBinaryName, fromClass string, fromSrc vfs.FileRef, ctx analysis.DependencyContext) {
	if cls, ok := b.prev.Relations.ClassOfBinary(onBinaryName); ok {
		b.ClassDependency(cls, fromClass, ctx)
		return
	}

	b.mu.Lock()
	cls, thisCycle := b.binToClass[onBinaryName]
	if !thisCycle {
		cls, thisCycle = b.prodToClass[classFile]
	}
	b.mu.Unlock()
	if thisCycle {
		b.ClassDependency(cls, fromClass, ctx)
		return
	}

	if api, ok := compile.ExternalAPI(b.lookup, onBinaryName); ok {
		b.mu.Lock()
		b.extDeps = append(b.extDeps, analysis.ExternalDependency{
			From: fromClass, ToBinary: onBinaryName, To: api, Context: ctx,
		})
		b.mu.Unlock()
		return
	}

	dep := analysis.LibraryDependency{
		File:       classFile,
		BinaryName: onBinaryName,
		Stamp:      b.oracle.Library(classFile),
	}
	b.mu.Lock()
	if b.libDeps[fromSrc] == nil {
		b.libDeps[fromSrc] = make(map[vfs.FileRef]analysis.LibraryDependency)
	}
	b.libDeps[fromSrc][classFile] = dep
	b.binaryNames[classFile] = onBinaryName
	b.mu.Unlock()
}

// GeneratedNonLocalClass records an exported artifact and its binary/src
// naming, and feeds the product-to-source map BinaryDependency consults.
func (b *Builder) GeneratedNonLocalClass(src, classFile vfs.FileRef, binaryName, srcClassName string) {
	b.mu.Lock()
	if b.classesOf[src] == nil {
		b.classesOf[src] = make(map[string]struct{})
	}
	b.classesOf[src][srcClassName] = struct{}{}
	b.srcOfClass[srcClassName] = src
	b.prodToClass[classFile] = srcClassName
	b.binToClass[binaryName] = srcClassName
	b.nonLocal[src] = append(b.nonLocal[src], nonLocalEntry{class: srcClassName, binary: binaryName, file: classFile})
	b.mu.Unlock()

	b.oracle.Invalidate(classFile)
	b.manager.Generated([]vfs.FileRef{classFile})
}

// GeneratedLocalClass records an artifact invisible outside its source.
func (b *Builder) GeneratedLocalClass(src, classFile vfs.FileRef) {
	b.mu.Lock()
	b.local[src] = append(b.local[src], classFile)
	b.mu.Unlock()

	b.oracle.Invalidate(classFile)
	b.manager.Generated([]vfs.FileRef{classFile})
}

// API accepts the extracted shape of one definition. Class-like halves and
// object-like halves land in separate tables and are merged as companions at
// finalization.
func (b *Builder) API(src vfs.FileRef, api analysis.ClassLike) {
	cl := api
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.classesOf[src] == nil {
		b.classesOf[src] = make(map[string]struct{})
	}
	b.classesOf[src][cl.Name] = struct{}{}
	b.srcOfClass[cl.Name] = src
	if cl.Kind.IsModuleLike() {
		b.objectAPIs[cl.Name] = &cl
	} else {
		b.classAPIs[cl.Name] = &cl
	}
	if cl.HasMacro && strings.HasSuffix(string(src), b.opts.LangExtension) {
		b.macroSrcs[src] = struct{}{}
	}
}

// MainClass buffers an entry-point candidate.
func (b *Builder) MainClass(src vfs.FileRef, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mains[src] = append(b.mains[src], name)
}

// UsedName records that className references name under the given scopes.
func (b *Builder) UsedName(className, name string, scopes analysis.ScopeSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used[className] == nil {
		b.used[className] = make(map[string]analysis.ScopeSet)
	}
	b.used[className][name] |= scopes
}

// DependencyPhaseCompleted forwards the phase boundary to a manager that
// cares.
func (b *Builder) DependencyPhaseCompleted() {
	if pa, ok := b.manager.(classfiles.PhaseAware); ok {
		pa.DependencyPhaseCompleted()
	}
}

// APIPhaseCompleted forwards the phase boundary to a manager that cares.
func (b *Builder) APIPhaseCompleted() {
	if pa, ok := b.manager.(classfiles.PhaseAware); ok {
		pa.APIPhaseCompleted()
	}
}

// ClassesInOutputJar asks the manager for jar contents, when it knows.
func (b *Builder) ClassesInOutputJar() []string {
	if ja, ok := b.manager.(classfiles.JarAware); ok {
		return ja.ClassesInOutputJar()
	}
	return nil
}

// OrphanProblems returns diagnostics that carried no source position.
func (b *Builder) OrphanProblems() []analysis.Problem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]analysis.Problem(nil), b.orphans...)
}

// Get finalizes the cycle into an Analysis delta. It may be called exactly
// once, after the compile step has returned; the lock taken here establishes
// the happens-before edge over all prior writes.
func (b *Builder) Get() (*analysis.Analysis, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return nil, ErrDoubleGet
	}
	b.finalized = true
	if b.fatal != nil {
		return nil, b.fatal
	}

	delta := analysis.Empty()
	for src := range b.sources {
		entry, err := b.entryFor(src)
		if err != nil {
			return nil, err
		}
		if err := delta.AddSource(entry); err != nil {
			return nil, err
		}
	}
	for class, names := range b.used {
		for name, scopes := range names {
			delta.AddUsedName(class, analysis.UsedName{Name: name, Scopes: scopes})
		}
	}
	delta.AddCompilation(analysis.Compilation{StartNanos: b.startNanos, Output: b.output})
	return delta, nil
}

// entryFor assembles the AddSource bundle for one seen source. Callers hold
// b.mu.
func (b *Builder) entryFor(src vfs.FileRef) (analysis.SourceEntry, error) {
	e := analysis.SourceEntry{Source: src}

	st, err := b.oracle.Source(src)
	if err != nil {
		// The stamp will read as changed next run, which is the safe side.
		logging.Warn("source became unreadable during compile", "source", src, "error", err)
		st = stamp.Empty
	}
	e.Stamp = st

	for class := range b.classesOf[src] {
		api, extra, names, hasMacro := apihash.Companions(
			b.classAPIs[class], b.objectAPIs[class],
			apihash.Options{OptimizedSealed: b.opts.OptimizedSealed},
		)
		if _, macroSrc := b.macroSrcs[src]; macroSrc {
			// The whole source is macro-bearing; every class it defines
			// propagates conservatively.
			hasMacro = true
		}
		ac := analysis.AnalyzedClass{
			CompileTime: b.startNanos,
			Name:        class,
			APIHash:     api,
			ExtraHash:   extra,
			NameHashes:  names,
			HasMacro:    hasMacro,
		}
		if b.opts.APIDebug {
			ac.API = &analysis.Companions{Class: b.classAPIs[class], Object: b.objectAPIs[class]}
		}
		e.Classes = append(e.Classes, ac)
	}

	owned := b.classesOf[src]
	for _, d := range b.intDeps {
		if _, ok := owned[d.From]; ok {
			e.InternalDeps = append(e.InternalDeps, d)
		}
	}
	for _, d := range b.extDeps {
		if _, ok := owned[d.From]; ok {
			e.ExternalDeps = append(e.ExternalDeps, d)
		}
	}
	for _, dep := range b.libDeps[src] {
		e.Libraries = append(e.Libraries, dep)
	}
	for _, p := range b.nonLocal[src] {
		e.NonLocalProducts = append(e.NonLocalProducts, analysis.NonLocalProduct{
			Class: p.class, Binary: p.binary, File: p.file, Stamp: b.oracle.Product(p.file),
		})
	}
	for _, f := range b.local[src] {
		e.LocalProducts = append(e.LocalProducts, analysis.LocalProduct{File: f, Stamp: b.oracle.Product(f)})
	}

	if buf := b.problems[src]; buf != nil {
		e.Info.Reported = buf.reported
		e.Info.Unreported = buf.unreported
	}
	e.Info.MainClasses = b.mains[src]
	return e, nil
}
