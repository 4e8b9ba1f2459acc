package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Workspace is a job's private working directory. All intermediate
// artifacts (spooled source, reduced video, extracted audio, transcript)
// live under Dir. Cleanup removes the directory exactly once no matter how
// many paths reach it; a second call returns the first call's result.
type Workspace struct {
	Dir string

	once       sync.Once
	cleanupErr error
}

// NewWorkspace creates the working directory for a job under baseDir.
func NewWorkspace(baseDir, jobID string) (*Workspace, error) {
	dir := filepath.Join(baseDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// OpenWorkspace wraps an existing working directory, for jobs dequeued
// after their upload was already spooled to disk.
func OpenWorkspace(dir string) *Workspace {
	return &Workspace{Dir: dir}
}

// Path returns the path of a named artifact inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Cleanup removes the working directory and everything in it. Safe to call
// from multiple cleanup paths; only the first call removes anything.
func (w *Workspace) Cleanup() error {
	w.once.Do(func() {
		w.cleanupErr = os.RemoveAll(w.Dir)
	})
	return w.cleanupErr
}
