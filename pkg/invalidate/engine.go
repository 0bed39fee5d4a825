// Package invalidate drives the recompile cycle: prune, compile, merge,
// recompute, until the set of invalidated classes reaches a fixed point.
package invalidate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/callback"
	"github.com/incbuild/incc/pkg/changes"
	"github.com/incbuild/incc/pkg/classfiles"
	"github.com/incbuild/incc/pkg/compile"
	"github.com/incbuild/incc/pkg/events"
	"github.com/incbuild/incc/pkg/graph"
	"github.com/incbuild/incc/pkg/logging"
	"github.com/incbuild/incc/pkg/stamp"
	"github.com/incbuild/incc/pkg/vfs"
)

// ErrCycleLimit reports that invalidation did not reach a fixed point within
// the configured number of cycles.
var ErrCycleLimit = errors.New("invalidation cycle limit exceeded")

// Options tunes the engine.
type Options struct {
	// MaxCycles bounds pathological invalidation cascades.
	MaxCycles int
	// RecompileAllFraction escalates to a full recompile once the invalidated
	// fraction of sources passes this threshold. Escalation happens only at
	// cycle boundaries, before pruning.
	RecompileAllFraction float64
	// RelationsDebug traces relation sizes and reports class dependency
	// cycles at end of run.
	RelationsDebug bool
	// Callback options are handed to each cycle's fresh callback.
	Callback callback.Options
}

// Stats summarizes one engine run.
type Stats struct {
	Cycles     int
	Recompiled int
	Pruned     int
}

// Engine owns one run's recompile loop. The external compile function and
// the class-file manager are supplied; the engine never touches artifacts
// directly.
type Engine struct {
	opts    Options
	oracle  *stamp.Oracle
	lookup  compile.Lookup
	manager classfiles.Manager
	compile compile.Func
	bus     events.Publisher
	output  vfs.FileRef

	// clock supplies compilation timestamps; injectable for tests.
	clock func() int64
}

func New(opts Options, oracle *stamp.Oracle, lookup compile.Lookup, manager classfiles.Manager, fn compile.Func, bus events.Publisher, output vfs.FileRef) *Engine {
	if opts.MaxCycles <= 0 {
		opts.MaxCycles = 16
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &Engine{
		opts:    opts,
		oracle:  oracle,
		lookup:  lookup,
		manager: manager,
		compile: fn,
		bus:     bus,
		output:  output,
		clock:   func() int64 { return time.Now().UnixNano() },
	}
}

// SetClock replaces the compilation timestamp source.
func (e *Engine) SetClock(clock func() int64) { e.clock = clock }

// Run executes the cycle loop and returns the final analysis and run stats.
// The caller owns manager completion; Run only deletes through it.
func (e *Engine) Run(ctx context.Context, sources []vfs.VirtualFile, prev *analysis.Analysis, initial *changes.InitialChanges) (*analysis.Analysis, Stats, error) {
	var stats Stats
	bySrc := make(map[vfs.FileRef]vfs.VirtualFile, len(sources))
	for _, s := range sources {
		bySrc[s.Ref()] = s
	}

	a := prev
	if len(initial.Removed) > 0 {
		if err := e.pruneSources(a, initial.Removed, &stats); err != nil {
			return nil, stats, err
		}
		a = a.DropSources(initial.Removed)
	}

	invClasses, invSrcs := initialInvalidation(prev, initial, e.opts.RelationsDebug)
	// A source can be implicated (as owner of a stale product, say) yet no
	// longer be part of the input set; those have nothing to recompile.
	for ref := range invSrcs {
		if _, ok := bySrc[ref]; !ok {
			delete(invSrcs, ref)
		}
	}
	depChanges := initial.DependencyChanges()

	for cycle := 1; len(invSrcs) > 0; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, fmt.Errorf("between cycles: %w", compile.ErrCancelled)
		}
		if cycle > e.opts.MaxCycles {
			return nil, stats, fmt.Errorf("%w: still %d invalidated sources after %d cycles",
				ErrCycleLimit, len(invSrcs), e.opts.MaxCycles)
		}

		if frac := float64(len(invSrcs)) / float64(len(sources)); len(sources) > 0 &&
			frac > e.opts.RecompileAllFraction && len(invSrcs) < len(sources) {
			logging.Info("escalating to full recompile",
				"invalidated", len(invSrcs), "total", len(sources), "fraction", frac)
			for ref := range bySrc {
				invSrcs[ref] = struct{}{}
				for _, class := range a.Relations.ClassesOf(ref) {
					invClasses[class] = struct{}{}
				}
			}
		}

		e.publishStatus("compiling", fmt.Sprintf("cycle %d", cycle), cycle, len(invSrcs))
		logging.Debug("invalidation cycle", "cycle", cycle, "sources", len(invSrcs), "classes", len(invClasses))

		pruned := stats.Pruned
		if err := e.pruneSources(a, invSrcs, &stats); err != nil {
			return nil, stats, err
		}
		working := a.DropSources(invSrcs)

		cycleSources := make([]vfs.VirtualFile, 0, len(invSrcs))
		for ref := range invSrcs {
			if vf, ok := bySrc[ref]; ok {
				cycleSources = append(cycleSources, vf)
			}
		}
		sort.Slice(cycleSources, func(i, j int) bool { return cycleSources[i].Ref() < cycleSources[j].Ref() })

		cb := callback.New(e.opts.Callback, a, e.lookup, e.oracle, e.manager, e.output, e.clock())
		if err := e.compile(ctx, cycleSources, depChanges, cb, e.manager); err != nil {
			if errors.Is(err, context.Canceled) {
				err = compile.ErrCancelled
			}
			return nil, stats, fmt.Errorf("cycle %d: %w", cycle, err)
		}
		delta, err := cb.Get()
		if err != nil {
			return nil, stats, fmt.Errorf("cycle %d: %w", cycle, err)
		}
		next, err := working.Merge(delta)
		if err != nil {
			return nil, stats, fmt.Errorf("cycle %d: %w", cycle, err)
		}
		stats.Cycles = cycle
		stats.Recompiled += len(cycleSources)

		apiChanges := cycleAPIChanges(a, next, invSrcs)
		invClasses = make(map[string]struct{})
		for _, ch := range apiChanges {
			for dep := range dependentsOfChange(next.Relations, ch, false) {
				invClasses[dep] = struct{}{}
			}
		}
		invSrcs = sourcesOf(next.Relations, invClasses)

		changedNames := make([]string, 0, len(apiChanges))
		for _, ch := range apiChanges {
			changedNames = append(changedNames, ch.Class)
		}
		sort.Strings(changedNames)
		_ = e.bus.Publish(events.TopicCycle, "cycle_done", events.CycleSummary{
			Cycle:           cycle,
			Recompiled:      len(cycleSources),
			PrunedProducts:  stats.Pruned - pruned,
			ChangedClasses:  changedNames,
			NextInvalidated: len(invSrcs),
		})

		a = next
		depChanges = compile.DependencyChanges{ModifiedClasses: changedNames}
		if e.opts.RelationsDebug {
			logging.Trace("relations after cycle", "cycle", cycle, "counts", fmt.Sprintf("%v", a.Relations.PairCounts()))
		}
	}

	if e.opts.RelationsDebug {
		e.reportClassCycles(a)
	}
	return a, stats, nil
}

// pruneSources deletes the artifacts owned by the given sources through the
// class-file manager and forgets their cached product stamps.
func (e *Engine) pruneSources(a *analysis.Analysis, srcs map[vfs.FileRef]struct{}, stats *Stats) error {
	var products []vfs.FileRef
	for src := range srcs {
		products = append(products, a.Relations.ProductsOf(src)...)
	}
	if len(products) == 0 {
		return nil
	}
	sort.Slice(products, func(i, j int) bool { return products[i] < products[j] })
	if err := e.manager.Delete(products); err != nil {
		return fmt.Errorf("pruning products: %w", err)
	}
	for _, p := range products {
		e.oracle.Invalidate(p)
	}
	stats.Pruned += len(products)
	return nil
}

// cycleAPIChanges diffs the API hashes of every class owned by the sources
// just recompiled. A class that disappeared counts as removed; macro-bearing
// classes count as changed whenever recompiled, because their expansions are
// baked into dependents.
func cycleAPIChanges(before, after *analysis.Analysis, recompiled map[vfs.FileRef]struct{}) []changes.APIChange {
	var out []changes.APIChange
	// Classes new in a cycle have no previous hash to diff, and nothing can
	// depend on them through relations recorded earlier; only previously
	// known classes feed back.
	for src := range recompiled {
		for _, class := range before.Relations.ClassesOf(src) {
			oldAPI, _ := before.InternalAPI(class)
			newAPI, ok := after.InternalAPI(class)
			if !ok {
				out = append(out, removedClassChange(class, oldAPI))
				continue
			}
			ch, changed := changes.Compare(oldAPI, newAPI)
			if oldAPI.HasMacro || newAPI.HasMacro {
				ch.HasMacro = true
				changed = true
			}
			if changed {
				out = append(out, ch)
			}
		}
	}
	return out
}

func (e *Engine) publishStatus(state, msg string, cycle, invalidated int) {
	_ = e.bus.Publish(events.TopicRunStatus, state, events.RunStatus{
		State:       state,
		Message:     msg,
		Cycle:       cycle,
		Invalidated: invalidated,
	})
}

// reportClassCycles logs strongly connected components of the internal class
// graph. Mutually recursive classes are the usual reason an invalidation
// needs several cycles to settle.
func (e *Engine) reportClassCycles(a *analysis.Analysis) {
	cg := graph.FromRelations(a.Relations)
	cycles := cg.Cycles()
	if len(cycles) == 0 {
		logging.Trace("no class dependency cycles", "classes", cg.Size())
		return
	}
	for _, cyc := range cycles {
		logging.Trace("class dependency cycle", "members", fmt.Sprintf("%v", cyc))
	}
}
