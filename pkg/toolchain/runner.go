package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/classfiles"
	"github.com/incbuild/incc/pkg/compile"
	"github.com/incbuild/incc/pkg/logging"
	"github.com/incbuild/incc/pkg/vfs"
)

// Executor runs the external compiler and returns its raw report output.
// Split out so tests can substitute a scripted implementation.
type Executor interface {
	RunCompile(ctx context.Context, workspace string, args []string) ([]byte, error)
}

// DefaultExecutor shells out to the configured compiler command.
type DefaultExecutor struct {
	Command string
}

// RunCompile executes the compiler and returns its stdout. It respects the
// provided context for cancellation.
func (e *DefaultExecutor) RunCompile(ctx context.Context, workspace string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Dir = workspace
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, compile.ErrCancelled
		}
		return nil, fmt.Errorf("%w: %s: %v", compile.ErrCompileFailed, e.Command, err)
	}
	return output, nil
}

// Func builds a compile function that invokes the external compiler and
// replays its report into the callback. The compiler receives the output
// directory, the upstream deltas, and the source paths.
func Func(exe Executor, conv vfs.Converter, workspace, output string) compile.Func {
	return func(ctx context.Context, sources []vfs.VirtualFile, ch compile.DependencyChanges, cb compile.AnalysisCallback, mgr classfiles.Manager) error {
		args := []string{"--output", output, "--report", "json"}
		for _, lib := range ch.ModifiedLibraries {
			args = append(args, "--changed-library", conv.ToPath(lib))
		}
		for _, cls := range ch.ModifiedClasses {
			args = append(args, "--changed-class", cls)
		}
		for _, s := range sources {
			args = append(args, conv.ToPath(s.Ref()))
		}

		logging.Debug("invoking compiler", "sources", len(sources), "args", len(args))
		raw, err := exe.RunCompile(ctx, workspace, args)
		if err != nil {
			return err
		}
		report, err := ParseReport(raw)
		if err != nil {
			return errors.Join(compile.ErrCompileFailed, err)
		}
		return Replay(report, sources, conv, cb)
	}
}

// Replay walks a compile report and issues the callback operations the
// compiler would have made in-process: sources first, then per-class
// products, APIs, dependencies, used names and diagnostics.
func Replay(report *Report, sources []vfs.VirtualFile, conv vfs.Converter, cb compile.AnalysisCallback) error {
	if !cb.Enabled() {
		return nil
	}
	bySrc := make(map[vfs.FileRef]vfs.VirtualFile, len(sources))
	for _, s := range sources {
		bySrc[s.Ref()] = s
	}

	for _, sr := range report.Sources {
		ref := conv.ToRef(sr.Path)
		vf, ok := bySrc[ref]
		if !ok {
			return fmt.Errorf("%w: report covers %s which was not requested", compile.ErrCompileFailed, ref)
		}
		cb.StartSource(vf)
	}

	// Products before dependencies, so binary deps on classes generated in
	// this step resolve internally.
	for _, sr := range report.Sources {
		ref := conv.ToRef(sr.Path)
		for _, c := range sr.Classes {
			if c.Binary != "" && c.File != "" {
				cb.GeneratedNonLocalClass(ref, conv.ToRef(c.File), c.Binary, c.Name)
			}
			for _, lf := range c.LocalFiles {
				cb.GeneratedLocalClass(ref, conv.ToRef(lf))
			}
		}
	}

	for _, sr := range report.Sources {
		ref := conv.ToRef(sr.Path)
		for _, c := range sr.Classes {
			kind, _ := parseKind(c.Kind)
			cl := analysis.ClassLike{
				Name:           c.Name,
				Kind:           kind,
				HasMacro:       c.HasMacro,
				SealedChildren: c.SealedChildren,
			}
			for _, m := range c.Public {
				cl.Public = append(cl.Public, analysis.NamedShape{Name: m.Name, Scope: parseScope(m.Scope), Shape: m.Shape})
			}
			for _, m := range c.Private {
				cl.Private = append(cl.Private, analysis.NamedShape{Name: m.Name, Scope: parseScope(m.Scope), Shape: m.Shape})
			}
			cb.API(ref, cl)

			for _, d := range c.InternalDeps {
				ctx, _ := parseContext(d.Context)
				cb.ClassDependency(d.On, c.Name, ctx)
			}
			for _, d := range c.BinaryDeps {
				ctx, _ := parseContext(d.Context)
				cb.BinaryDependency(conv.ToRef(d.File), d.Binary, c.Name, ref, ctx)
			}
			for _, u := range c.UsedNames {
				cb.UsedName(c.Name, u.Name, parseScopes(u.Scopes))
			}
		}
		for _, p := range sr.Problems {
			cb.Problem(p.Category, analysis.Position{Source: ref, Line: p.Line, Column: p.Column}, p.Message, parseSeverity(p.Severity), p.Reported)
		}
		for _, m := range sr.MainClasses {
			cb.MainClass(ref, m)
		}
	}
	cb.DependencyPhaseCompleted()
	cb.APIPhaseCompleted()
	return nil
}
