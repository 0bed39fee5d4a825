package stamp

import (
	"fmt"
	"sync"

	"github.com/incbuild/incc/pkg/vfs"
)

// Oracle produces source, product and library stamps on demand, memoized for
// the lifetime of one compile run. Sources and libraries are content-hashed;
// products use their modification time, which is cheap and sufficient because
// the engine itself is the only writer of products during a run.
type Oracle struct {
	conv vfs.Converter

	mu        sync.Mutex
	sources   map[vfs.FileRef]Stamp
	products  map[vfs.FileRef]Stamp
	libraries map[vfs.FileRef]Stamp
}

func NewOracle(conv vfs.Converter) *Oracle {
	return &Oracle{
		conv:      conv,
		sources:   make(map[vfs.FileRef]Stamp),
		products:  make(map[vfs.FileRef]Stamp),
		libraries: make(map[vfs.FileRef]Stamp),
	}
}

// Source stamps a source file by content hash. A read failure returns
// ErrUnavailable; callers treat that as changed.
func (o *Oracle) Source(ref vfs.FileRef) (Stamp, error) {
	o.mu.Lock()
	if s, ok := o.sources[ref]; ok {
		o.mu.Unlock()
		return s, nil
	}
	o.mu.Unlock()

	content, err := o.conv.ToVirtualFile(ref).Content()
	if err != nil {
		return Empty, fmt.Errorf("source %s: %w", ref, ErrUnavailable)
	}
	s := Hash(content)

	o.mu.Lock()
	o.sources[ref] = s
	o.mu.Unlock()
	return s, nil
}

// Product stamps an emitted class file by modification time. A missing
// product stamps as Empty, which reads as "removed".
func (o *Oracle) Product(ref vfs.FileRef) Stamp {
	o.mu.Lock()
	if s, ok := o.products[ref]; ok {
		o.mu.Unlock()
		return s
	}
	o.mu.Unlock()

	s := Empty
	if nanos, err := o.conv.ToVirtualFile(ref).LastModified(); err == nil {
		s = LastModified(nanos)
	}

	o.mu.Lock()
	o.products[ref] = s
	o.mu.Unlock()
	return s
}

// Library stamps a classpath entry by content hash. A library that no longer
// resolves stamps as Empty, which reads as "removed".
func (o *Oracle) Library(ref vfs.FileRef) Stamp {
	o.mu.Lock()
	if s, ok := o.libraries[ref]; ok {
		o.mu.Unlock()
		return s
	}
	o.mu.Unlock()

	s := Empty
	if content, err := o.conv.ToVirtualFile(ref).Content(); err == nil {
		s = Hash(content)
	}

	o.mu.Lock()
	o.libraries[ref] = s
	o.mu.Unlock()
	return s
}

// Invalidate drops the cached stamp for a product, so the next read observes
// the post-compile state. The engine calls this after pruning or rewriting
// class files mid-run.
func (o *Oracle) Invalidate(ref vfs.FileRef) {
	o.mu.Lock()
	delete(o.products, ref)
	o.mu.Unlock()
}

// InvalidateSource drops the cached stamp for a source, so the next read
// hashes the file again.
func (o *Oracle) InvalidateSource(ref vfs.FileRef) {
	o.mu.Lock()
	delete(o.sources, ref)
	o.mu.Unlock()
}
