// Package classfiles owns the lifecycle of emitted class artifacts for one
// compile run: what was generated, what was deleted, and how to undo all of
// it when the run fails.
package classfiles

import (
	"fmt"
	"os"

	"github.com/incbuild/incc/pkg/logging"
	"github.com/incbuild/incc/pkg/vfs"
)

// Manager tracks artifact mutations for one compile run across cycles.
// Complete must be called exactly once, after the last cycle.
type Manager interface {
	// Generated records artifacts written by the compiler.
	Generated(classes []vfs.FileRef)
	// Delete removes artifacts, possibly by staging them for restore.
	Delete(classes []vfs.FileRef) error
	// Complete finishes the run. On success staged state is discarded; on
	// failure the on-disk output set is restored to what the manager
	// observed at creation.
	Complete(success bool) error
}

// PhaseAware managers want to know when the compiler finishes its dependency
// and API phases, for instance to start packaging early. Both managers here
// ignore phases; the callback forwards to any manager that cares.
type PhaseAware interface {
	DependencyPhaseCompleted()
	APIPhaseCompleted()
}

// JarAware managers can enumerate classes already present in an output jar.
type JarAware interface {
	ClassesInOutputJar() []string
}

// DeleteImmediately unlinks on Delete and treats Complete as a no-op. Use it
// when rollback is not required.
type DeleteImmediately struct {
	conv      vfs.Converter
	generated []vfs.FileRef
}

func NewDeleteImmediately(conv vfs.Converter) *DeleteImmediately {
	return &DeleteImmediately{conv: conv}
}

func (m *DeleteImmediately) Generated(classes []vfs.FileRef) {
	m.generated = append(m.generated, classes...)
}

func (m *DeleteImmediately) Delete(classes []vfs.FileRef) error {
	for _, c := range classes {
		path := m.conv.ToPath(c)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting %s: %w", c, err)
		}
	}
	return nil
}

func (m *DeleteImmediately) Complete(success bool) error {
	if !success {
		logging.Debug("delete-immediately manager cannot roll back", "generated", len(m.generated))
	}
	return nil
}

// TrackedGenerated lists what the manager saw generated, for end-of-run
// accounting.
func (m *DeleteImmediately) TrackedGenerated() []vfs.FileRef {
	return append([]vfs.FileRef(nil), m.generated...)
}
