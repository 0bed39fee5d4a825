// Package driver glues change detection, the invalidation engine and the
// class-file manager into one incremental compile run.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/callback"
	"github.com/incbuild/incc/pkg/changes"
	"github.com/incbuild/incc/pkg/classfiles"
	"github.com/incbuild/incc/pkg/compile"
	"github.com/incbuild/incc/pkg/config"
	"github.com/incbuild/incc/pkg/events"
	"github.com/incbuild/incc/pkg/invalidate"
	"github.com/incbuild/incc/pkg/logging"
	"github.com/incbuild/incc/pkg/stamp"
	"github.com/incbuild/incc/pkg/vfs"
)

// Result is what a run produced. When Changed is false, Analysis is the
// previous analysis, untouched.
type Result struct {
	Changed  bool
	Analysis *analysis.Analysis
	Stats    invalidate.Stats
}

// Driver runs incremental compilations. One Driver may serve many runs; each
// run gets its own stamp oracle and class-file manager.
type Driver struct {
	cfg     *config.Config
	conv    vfs.Converter
	lookup  compile.Lookup
	compile compile.Func
	bus     events.Publisher
}

func New(cfg *config.Config, conv vfs.Converter, lookup compile.Lookup, fn compile.Func, bus events.Publisher) *Driver {
	if lookup == nil {
		lookup = compile.NoLookup{}
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &Driver{cfg: cfg, conv: conv, lookup: lookup, compile: fn, bus: bus}
}

// Run performs one incremental compilation over the given sources against
// the previous analysis. prev may be nil for a clean build. Cancellation is
// cooperative through ctx; a cancelled run rolls back and reports no change.
func (d *Driver) Run(ctx context.Context, sources []vfs.VirtualFile, prev *analysis.Analysis) (Result, error) {
	runID := uuid.New().String()
	ctx = logging.WithRunID(ctx, runID)
	start := time.Now()

	if prev == nil {
		prev = analysis.Empty()
	}
	oracle := stamp.NewOracle(d.conv)

	d.publishStatus("detecting", "detecting changes", 0, 0)
	initial := changes.Detect(prev, sources, oracle, d.lookup)
	if initial.IsEmpty() {
		logging.InfoContext(ctx, "nothing to compile", "sources", len(sources))
		d.publishStatus("committed", "up to date", 0, 0)
		return Result{Changed: false, Analysis: prev}, nil
	}

	manager, err := d.newManager()
	if err != nil {
		return Result{Changed: false, Analysis: prev}, err
	}

	engine := invalidate.New(invalidate.Options{
		MaxCycles:            d.cfg.MaxCycles,
		RecompileAllFraction: d.cfg.RecompileAllFraction,
		RelationsDebug:       d.cfg.RelationsDebug,
		Callback: callback.Options{
			Strict:          d.cfg.Strict,
			APIDebug:        d.cfg.APIDebug,
			OptimizedSealed: d.cfg.OptimizedSealed,
			LangExtension:   d.cfg.SourceExt,
		},
	}, oracle, d.lookup, manager, d.compile, d.bus, d.conv.ToRef(d.cfg.Output))

	final, stats, err := engine.Run(ctx, sources, prev, initial)
	switch {
	case err == nil:
		if err := manager.Complete(true); err != nil {
			return Result{Changed: false, Analysis: prev}, fmt.Errorf("committing class files: %w", err)
		}
	case errors.Is(err, compile.ErrCancelled):
		logging.InfoContext(ctx, "compilation cancelled, keeping previous state")
		if cerr := manager.Complete(false); cerr != nil {
			logging.ErrorContext(ctx, "rollback after cancellation failed", "error", cerr)
		}
		d.publishStatus("cancelled", "cancelled", stats.Cycles, 0)
		return Result{Changed: false, Analysis: prev, Stats: stats}, nil
	default:
		if cerr := manager.Complete(false); cerr != nil {
			logging.ErrorContext(ctx, "rollback failed", "error", cerr)
		}
		d.publishStatus("rolled_back", err.Error(), stats.Cycles, 0)
		return Result{Changed: false, Analysis: prev, Stats: stats}, err
	}

	duration := time.Since(start)
	logging.InfoContext(ctx, "compilation finished",
		"cycles", stats.Cycles, "recompiled", stats.Recompiled,
		"pruned", stats.Pruned, "durationMs", duration.Milliseconds())
	_ = d.bus.Publish(events.TopicRunStatus, "finished", events.RunSummary{
		Changed:     true,
		Cycles:      stats.Cycles,
		Recompiled:  stats.Recompiled,
		DurationMs:  duration.Milliseconds(),
		MainClasses: mainClasses(final),
	})
	return Result{Changed: true, Analysis: final, Stats: stats}, nil
}

func (d *Driver) newManager() (classfiles.Manager, error) {
	if d.cfg.Transactional {
		return classfiles.NewTransactional(d.conv, d.cfg.Backup)
	}
	return classfiles.NewDeleteImmediately(d.conv), nil
}

func (d *Driver) publishStatus(state, msg string, cycle, invalidated int) {
	_ = d.bus.Publish(events.TopicRunStatus, state, events.RunStatus{
		State:       state,
		Message:     msg,
		Cycle:       cycle,
		Invalidated: invalidated,
	})
}

// mainClasses collects entry-point candidates across the analysis, sorted.
func mainClasses(a *analysis.Analysis) []string {
	var out []string
	for _, info := range a.Infos {
		out = append(out, info.MainClasses...)
	}
	sort.Strings(out)
	return out
}
