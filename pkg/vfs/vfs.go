// Package vfs defines the logical file identifiers the engine works with.
// Everything filesystem-facing passes through a Converter, so the core never
// touches absolute paths directly.
package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileRef is an opaque logical path. Two refs are the same file iff they are
// equal as strings.
type FileRef string

func (r FileRef) String() string { return string(r) }

// VirtualFile couples a FileRef with access to the underlying content, which
// the stamp oracle turns into content stamps.
type VirtualFile interface {
	Ref() FileRef
	Content() ([]byte, error)
	LastModified() (int64, error) // nanoseconds since epoch
}

// Converter maps between on-disk paths and logical refs. All identifiers
// stored in an Analysis are refs produced by a Converter.
type Converter interface {
	ToRef(path string) FileRef
	ToPath(ref FileRef) string
	ToVirtualFile(ref FileRef) VirtualFile
}

// OSConverter is a Converter rooted at a workspace directory. Refs are
// slash-separated paths relative to the root; paths outside the root keep
// their absolute form so library jars on other volumes still get stable ids.
type OSConverter struct {
	Root string
}

func NewOSConverter(root string) *OSConverter {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return &OSConverter{Root: abs}
}

func (c *OSConverter) ToRef(path string) FileRef {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if rel, err := filepath.Rel(c.Root, abs); err == nil && !strings.HasPrefix(rel, "..") {
		return FileRef(filepath.ToSlash(rel))
	}
	return FileRef(filepath.ToSlash(abs))
}

func (c *OSConverter) ToPath(ref FileRef) string {
	p := filepath.FromSlash(string(ref))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

func (c *OSConverter) ToVirtualFile(ref FileRef) VirtualFile {
	return &osFile{ref: ref, path: c.ToPath(ref)}
}

type osFile struct {
	ref  FileRef
	path string
}

func (f *osFile) Ref() FileRef { return f.ref }

func (f *osFile) Content() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.ref, err)
	}
	return data, nil
}

func (f *osFile) LastModified() (int64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.ref, err)
	}
	return info.ModTime().UnixNano(), nil
}
