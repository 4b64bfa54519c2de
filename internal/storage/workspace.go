package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrWorkspaceRemoved is returned when a removed workspace is used.
var ErrWorkspaceRemoved = errors.New("workspace has been removed")

// ErrInvalidName is returned for workspace entry names that are not plain file names.
var ErrInvalidName = errors.New("invalid workspace entry name")

// Workspace is an ephemeral flat file store owned by a single export job.
// Entries are addressed by plain names; Path exposes them to external tools
// such as ffmpeg that operate on file sequences.
type Workspace struct {
	mu      sync.Mutex
	dir     string
	removed bool
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the on-disk path of an entry. Patterns such as "frame%d.png"
// are passed through unchanged.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// WriteFile creates or replaces the named entry with the contents of r.
func (w *Workspace) WriteFile(name string, r io.Reader) error {
	if err := w.check(name); err != nil {
		return err
	}

	f, err := os.OpenFile(w.Path(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// ReadFile returns the contents of the named entry.
func (w *Workspace) ReadFile(name string) ([]byte, error) {
	if err := w.check(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(w.Path(name)) // #nosec G304 - name is validated above
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Remove deletes the workspace and everything in it. It is safe to call
// more than once.
func (w *Workspace) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.removed {
		return nil
	}
	w.removed = true
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

func (w *Workspace) check(name string) error {
	w.mu.Lock()
	removed := w.removed
	w.mu.Unlock()
	if removed {
		return ErrWorkspaceRemoved
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
