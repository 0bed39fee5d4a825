package compile

import (
	"context"
	"sync"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/classfiles"
	"github.com/incbuild/incc/pkg/vfs"
)

// ScriptedClass is one definition a scripted compiler plays back: its API
// shape, artifacts, dependencies and used names.
type ScriptedClass struct {
	API        analysis.ClassLike
	Binary     string
	File       vfs.FileRef
	LocalFiles []vfs.FileRef
	Deps       []analysis.InternalDependency // From is ignored, the class itself is the dependent
	BinaryDeps []struct {
		File    vfs.FileRef
		Binary  string
		Context analysis.DependencyContext
	}
	UsedNames map[string]analysis.ScopeSet
	Main      string
}

// ScriptedUnit is everything a scripted compiler knows about one source.
type ScriptedUnit struct {
	Source   vfs.FileRef
	Classes  []ScriptedClass
	Problems []analysis.Problem
}

// Scripted is a compile function fixture: a fake compiler that replays
// pre-recorded units for whatever sources it is asked to compile. Tests
// mutate Units between runs to simulate edits.
type Scripted struct {
	mu    sync.Mutex
	Units map[vfs.FileRef]*ScriptedUnit
	// PutFile materializes a product so the stamp oracle can observe it.
	PutFile func(ref vfs.FileRef, content []byte)
	// Fail, when set, is returned instead of compiling.
	Fail error
	// Calls records the source sets of every invocation.
	Calls [][]vfs.FileRef
	// Changes records the DependencyChanges of every invocation.
	Changes []DependencyChanges
}

func NewScripted() *Scripted {
	return &Scripted{Units: make(map[vfs.FileRef]*ScriptedUnit)}
}

// SetUnit registers or replaces the unit played for one source.
func (s *Scripted) SetUnit(u *ScriptedUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Units[u.Source] = u
}

// Compile is the compile.Func implementation.
func (s *Scripted) Compile(_ context.Context, sources []vfs.VirtualFile, ch DependencyChanges, cb AnalysisCallback, _ classfiles.Manager) error {
	s.mu.Lock()
	refs := make([]vfs.FileRef, 0, len(sources))
	for _, src := range sources {
		refs = append(refs, src.Ref())
	}
	s.Calls = append(s.Calls, refs)
	s.Changes = append(s.Changes, ch)
	fail := s.Fail
	s.mu.Unlock()
	if fail != nil {
		return fail
	}

	for _, src := range sources {
		cb.StartSource(src)
	}
	// Artifacts first so binary deps between the compiled sources resolve
	// internally, as a real compiler's phase order guarantees.
	for _, src := range sources {
		unit := s.unit(src.Ref())
		if unit == nil {
			continue
		}
		for _, c := range unit.Classes {
			if c.Binary != "" && c.File != "" {
				if s.PutFile != nil {
					s.PutFile(c.File, []byte(c.Binary))
				}
				cb.GeneratedNonLocalClass(unit.Source, c.File, c.Binary, c.API.Name)
			}
			for _, lf := range c.LocalFiles {
				if s.PutFile != nil {
					s.PutFile(lf, []byte(c.API.Name))
				}
				cb.GeneratedLocalClass(unit.Source, lf)
			}
		}
	}
	for _, src := range sources {
		unit := s.unit(src.Ref())
		if unit == nil {
			continue
		}
		for _, c := range unit.Classes {
			cb.API(unit.Source, c.API)
			for _, d := range c.Deps {
				cb.ClassDependency(d.To, c.API.Name, d.Context)
			}
			for _, d := range c.BinaryDeps {
				cb.BinaryDependency(d.File, d.Binary, c.API.Name, unit.Source, d.Context)
			}
			for name, scopes := range c.UsedNames {
				cb.UsedName(c.API.Name, name, scopes)
			}
			if c.Main != "" {
				cb.MainClass(unit.Source, c.Main)
			}
		}
		for _, p := range unit.Problems {
			cb.Problem(p.Category, p.Position, p.Message, p.Severity, true)
		}
	}
	cb.DependencyPhaseCompleted()
	cb.APIPhaseCompleted()
	return nil
}

func (s *Scripted) unit(ref vfs.FileRef) *ScriptedUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Units[ref]
}

// CallCount reports how many times the compiler ran.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
