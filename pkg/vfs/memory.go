package vfs

import (
	"fmt"
	"sync"
)

// MapConverter is an in-memory Converter used by tests and by compile
// harnesses that synthesize sources. Files live in a mutex-guarded map keyed
// by ref; the path form and the ref form coincide.
type MapConverter struct {
	mu    sync.Mutex
	files map[FileRef]*memFile
	clock int64
}

func NewMapConverter() *MapConverter {
	return &MapConverter{files: make(map[FileRef]*memFile)}
}

// Put creates or replaces a file, bumping its modification time.
func (c *MapConverter) Put(ref FileRef, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	c.files[ref] = &memFile{ref: ref, content: append([]byte(nil), content...), modified: c.clock}
}

// Remove deletes a file; subsequent reads fail.
func (c *MapConverter) Remove(ref FileRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, ref)
}

// Exists reports whether ref currently resolves to content.
func (c *MapConverter) Exists(ref FileRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[ref]
	return ok
}

func (c *MapConverter) ToRef(path string) FileRef { return FileRef(path) }

func (c *MapConverter) ToPath(ref FileRef) string { return string(ref) }

func (c *MapConverter) ToVirtualFile(ref FileRef) VirtualFile {
	return &memHandle{conv: c, ref: ref}
}

type memFile struct {
	ref      FileRef
	content  []byte
	modified int64
}

// memHandle resolves lazily so a handle taken before Put/Remove observes the
// current state at read time, like an os file would.
type memHandle struct {
	conv *MapConverter
	ref  FileRef
}

func (h *memHandle) Ref() FileRef { return h.ref }

func (h *memHandle) Content() ([]byte, error) {
	h.conv.mu.Lock()
	defer h.conv.mu.Unlock()
	f, ok := h.conv.files[h.ref]
	if !ok {
		return nil, fmt.Errorf("reading %s: file does not exist", h.ref)
	}
	return append([]byte(nil), f.content...), nil
}

func (h *memHandle) LastModified() (int64, error) {
	h.conv.mu.Lock()
	defer h.conv.mu.Unlock()
	f, ok := h.conv.files[h.ref]
	if !ok {
		return 0, fmt.Errorf("stat %s: file does not exist", h.ref)
	}
	return f.modified, nil
}
