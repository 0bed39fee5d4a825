package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/config"
	"github.com/incbuild/incc/pkg/driver"
	"github.com/incbuild/incc/pkg/events"
	"github.com/incbuild/incc/pkg/logging"
	"github.com/incbuild/incc/pkg/toolchain"
	"github.com/incbuild/incc/pkg/vfs"
	"github.com/incbuild/incc/pkg/watcher"
	"github.com/incbuild/incc/pkg/web"
)

func main() {
	flags := pflag.NewFlagSet("incc", pflag.ExitOnError)
	flags.String("workspace", ".", "Path to the compile unit root")
	flags.String("output", "out/classes", "Directory receiving emitted class files")
	flags.String("backup", "out/backup", "Staging area for transactional rollback")
	flags.String("compiler", "", "External compiler command")
	flags.String("source-ext", ".src", "Source file extension")
	flags.Bool("strict", false, "Assert single start-source per cycle")
	flags.Bool("api-debug", false, "Retain full API shapes in memory")
	flags.Bool("optimized-sealed", false, "Optimized name hashing for sealed hierarchies")
	flags.Bool("relations-debug", false, "Trace relation sizes per cycle and report class cycles")
	flags.Bool("transactional", true, "Roll back class files on failure")
	flags.Float64("recompile-all-fraction", 0.5, "Escalate to full recompile past this fraction")
	flags.Int("max-cycles", 16, "Hard cap on invalidation cycles")
	flags.Bool("watch", false, "Recompile on source changes")
	flags.Bool("web", false, "Serve the analysis inspector")
	flags.Int("port", 8080, "Inspector port (with --web)")
	flags.CountP("verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applyVerbosity(cfg)

	if cfg.Compiler == "" {
		fmt.Fprintln(os.Stderr, "Error: --compiler is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv := vfs.NewOSConverter(cfg.Workspace)
	fn := toolchain.Func(&toolchain.DefaultExecutor{Command: cfg.Compiler}, conv, cfg.Workspace, cfg.Output)

	var bus events.Publisher = events.Discard{}
	var server *web.Server
	if cfg.WebMode {
		b := events.NewBus()
		bus = b
		server = web.NewServer(b)
		go func() {
			if err := server.Start(cfg.Port); err != nil {
				logging.Fatal("inspector server failed", "error", err)
			}
		}()
	}

	drv := driver.New(cfg, conv, nil, fn, bus)

	sources, err := findSources(cfg, conv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logging.Info("compiling", "workspace", cfg.Workspace, "sources", len(sources))

	result, err := drv.Run(ctx, sources, analysis.Empty())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if server != nil {
		server.SetAnalysis(result.Analysis)
	}

	if !cfg.Watch {
		if cfg.WebMode {
			<-ctx.Done()
		}
		return
	}

	if err := watchLoop(ctx, cfg, conv, drv, server, result.Analysis); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// watchLoop recompiles on every debounced source change until interrupted.
// The analysis is carried in memory between runs.
func watchLoop(ctx context.Context, cfg *config.Config, conv vfs.Converter, drv *driver.Driver, server *web.Server, prev *analysis.Analysis) error {
	fw, err := watcher.NewFileWatcher(cfg.Workspace, cfg.SourceExt,
		filepath.Join(cfg.Workspace, cfg.Output), filepath.Join(cfg.Workspace, cfg.Backup))
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	defer fw.Stop()

	deb := watcher.NewDebouncer(fw.Events(), 300*time.Millisecond, 3*time.Second)
	deb.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Info("watch mode stopped")
			return nil
		case event, ok := <-deb.Events():
			if !ok {
				return nil
			}
			logging.Info("source changes detected", "files", len(event.Paths))
			sources, err := findSources(cfg, conv)
			if err != nil {
				logging.Error("scanning sources failed", "error", err)
				continue
			}
			result, err := drv.Run(ctx, sources, prev)
			if err != nil {
				logging.Error("compilation failed", "error", err)
				continue
			}
			prev = result.Analysis
			if server != nil {
				server.SetAnalysis(result.Analysis)
			}
		}
	}
}

// findSources walks the workspace for files with the configured extension,
// skipping the output and backup trees.
func findSources(cfg *config.Config, conv vfs.Converter) ([]vfs.VirtualFile, error) {
	skip := map[string]struct{}{
		filepath.Clean(filepath.Join(cfg.Workspace, cfg.Output)): {},
		filepath.Clean(filepath.Join(cfg.Workspace, cfg.Backup)): {},
	}
	var out []vfs.VirtualFile
	err := filepath.WalkDir(cfg.Workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, ok := skip[filepath.Clean(path)]; ok {
				return filepath.SkipDir
			}
			if strings.HasPrefix(d.Name(), ".") && filepath.Clean(path) != filepath.Clean(cfg.Workspace) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, cfg.SourceExt) {
			out = append(out, conv.ToVirtualFile(conv.ToRef(path)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning sources: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref() < out[j].Ref() })
	return out, nil
}

func applyVerbosity(cfg *config.Config) {
	switch {
	case cfg.Verbosity == "trace" || cfg.VerboseCnt >= 2:
		logging.SetLevel(logging.LevelTrace)
	case cfg.Verbosity == "debug" || cfg.VerboseCnt == 1:
		logging.SetLevel(slog.LevelDebug)
	case cfg.Verbosity == "warn":
		logging.SetLevel(slog.LevelWarn)
	}
}
