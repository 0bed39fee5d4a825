package classfiles

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/incbuild/incc/pkg/logging"
	"github.com/incbuild/incc/pkg/vfs"
)

const manifestName = "manifest.txt"

// Transactional stages deletions instead of unlinking them, so a failed run
// can restore the exact artifact set observed at manager creation. Each run
// stages under backup/<uuid>/ with an append-only manifest, which makes
// restoration idempotent and recoverable after a crash.
type Transactional struct {
	conv     vfs.Converter
	dir      string // staging directory for this run
	mu       sync.Mutex
	staged   map[string]string // original path -> staged path
	created  []string          // paths generated this run
	manifest *os.File
	done     bool
}

// NewTransactional creates a staging area under backupDir. Leftover staging
// areas from crashed runs are restored first, so the workspace is consistent
// before the new run begins.
func NewTransactional(conv vfs.Converter, backupDir string) (*Transactional, error) {
	if err := RecoverStaged(conv, backupDir); err != nil {
		return nil, err
	}
	dir := filepath.Join(backupDir, uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}
	mf, err := os.OpenFile(filepath.Join(dir, manifestName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating staging manifest: %w", err)
	}
	return &Transactional{
		conv:     conv,
		dir:      dir,
		staged:   make(map[string]string),
		manifest: mf,
	}, nil
}

func (m *Transactional) Generated(classes []vfs.FileRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range classes {
		path := m.conv.ToPath(c)
		m.created = append(m.created, path)
		fmt.Fprintf(m.manifest, "generated\t%s\n", path)
	}
	_ = m.manifest.Sync()
}

// Delete moves artifacts into the staging area. Files staged once stay
// staged; deleting an artifact generated earlier in this run just unlinks
// it, there is nothing older to restore.
func (m *Transactional) Delete(classes []vfs.FileRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range classes {
		path := m.conv.ToPath(c)
		generatedThisRun := false
		for _, p := range m.created {
			if p == path {
				generatedThisRun = true
				break
			}
		}
		if generatedThisRun {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("deleting %s: %w", c, err)
			}
			continue
		}
		if _, ok := m.staged[path]; ok {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		stagedName := fmt.Sprintf("%06d", len(m.staged))
		stagedPath := filepath.Join(m.dir, stagedName)
		fmt.Fprintf(m.manifest, "staged\t%s\t%s\n", path, stagedName)
		_ = m.manifest.Sync()
		if err := os.Rename(path, stagedPath); err != nil {
			return fmt.Errorf("staging %s: %w", c, err)
		}
		m.staged[path] = stagedPath
	}
	return nil
}

// Complete discards the staging area on success. On failure it restores
// every staged file and unlinks everything generated this run, leaving the
// on-disk output set equal to the set observed at creation.
func (m *Transactional) Complete(success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	m.done = true
	_ = m.manifest.Close()

	if !success {
		for _, path := range m.created {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logging.Warn("could not remove generated artifact", "path", path, "error", err)
			}
		}
		for path, stagedPath := range m.staged {
			if err := restoreFile(stagedPath, path); err != nil {
				return fmt.Errorf("restoring %s: %w", path, err)
			}
		}
		logging.Info("rolled back class files", "restored", len(m.staged), "removed", len(m.created))
	}
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("discarding staging area: %w", err)
	}
	return nil
}

// TrackedGenerated lists what the manager saw generated, for end-of-run
// accounting.
func (m *Transactional) TrackedGenerated() []vfs.FileRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]vfs.FileRef, 0, len(m.created))
	for _, p := range m.created {
		out = append(out, m.conv.ToRef(p))
	}
	return out
}

// restoreFile moves a staged file back. Restoration is idempotent: a staged
// file already restored (or never staged because the rename crashed midway)
// is skipped.
func restoreFile(stagedPath, path string) error {
	if _, err := os.Stat(stagedPath); os.IsNotExist(err) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	_ = os.Remove(path)
	return os.Rename(stagedPath, path)
}

// RecoverStaged inspects backupDir for staging areas left by crashed runs,
// restores their staged files, removes their generated files, and deletes
// the areas. Safe to call when backupDir does not exist.
func RecoverStaged(conv vfs.Converter, backupDir string) error {
	entries, err := os.ReadDir(backupDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspecting staging areas: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(backupDir, e.Name())
		if err := recoverOne(dir); err != nil {
			return fmt.Errorf("recovering staging area %s: %w", dir, err)
		}
		logging.Warn("recovered staging area from interrupted run", "dir", dir)
	}
	return nil
}

func recoverOne(dir string) error {
	mf, err := os.Open(filepath.Join(dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			// No manifest written yet means nothing was touched.
			return os.RemoveAll(dir)
		}
		return err
	}
	defer mf.Close()

	scanner := bufio.NewScanner(mf)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		switch {
		case len(fields) == 2 && fields[0] == "generated":
			if err := os.Remove(fields[1]); err != nil && !os.IsNotExist(err) {
				return err
			}
		case len(fields) == 3 && fields[0] == "staged":
			if err := restoreFile(filepath.Join(dir, fields[2]), fields[1]); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
