// Package watcher drives watch mode: it observes the workspace for source
// changes and emits debounced batches the driver reacts to with a new
// incremental run.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/incbuild/incc/pkg/logging"
)

// ChangeType represents the kind of file change detected
type ChangeType int

const (
	// ChangeTypeSource is a change to a source of the compiled language.
	ChangeTypeSource ChangeType = iota
	// ChangeTypeOutput is a change under the output or backup directories;
	// the engine itself causes these and watch mode ignores them.
	ChangeTypeOutput
)

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// FileWatcher watches a workspace for source file changes
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	workspace string
	sourceExt string
	ignore    []string // directory prefixes to ignore (output, backup)
	events    chan ChangeEvent
	done      chan struct{}
}

// NewFileWatcher creates a watcher for sources with the given extension
// under workspace. Paths under the ignore directories never produce events.
func NewFileWatcher(workspace, sourceExt string, ignore ...string) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	abs := make([]string, 0, len(ignore))
	for _, dir := range ignore {
		if a, err := filepath.Abs(dir); err == nil {
			abs = append(abs, a)
		}
	}
	return &FileWatcher{
		watcher:   w,
		workspace: workspace,
		sourceExt: sourceExt,
		ignore:    abs,
		events:    make(chan ChangeEvent, 100),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching every directory under the workspace.
func (fw *FileWatcher) Start(ctx context.Context) error {
	err := filepath.WalkDir(fw.workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if fw.ignored(path) || strings.HasPrefix(d.Name(), ".") && path != fw.workspace {
				return filepath.SkipDir
			}
			return fw.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching workspace: %w", err)
	}

	logging.Info("started watching workspace", "path", fw.workspace, "ext", fw.sourceExt)
	go fw.run(ctx)
	return nil
}

// Events returns the channel change batches arrive on.
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Stop ends watching and closes the event channel.
func (fw *FileWatcher) Stop() error {
	close(fw.done)
	return fw.watcher.Close()
}

func (fw *FileWatcher) run(ctx context.Context) {
	defer close(fw.events)
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if fw.ignored(event.Name) {
		return
	}
	// New directories need a watch too.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = fw.watcher.Add(event.Name)
			return
		}
	}
	if !strings.HasSuffix(event.Name, fw.sourceExt) {
		return
	}
	fw.events <- ChangeEvent{
		Type:      ChangeTypeSource,
		Paths:     []string{event.Name},
		Timestamp: time.Now(),
	}
}

func (fw *FileWatcher) ignored(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range fw.ignore {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
