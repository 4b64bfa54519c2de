package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	storage := setupTestStorage(t)
	ws, err := storage.NewWorkspace(context.Background(), "ws")
	if err != nil {
		t.Fatalf("NewWorkspace() error = %v", err)
	}
	t.Cleanup(func() { _ = ws.Remove() })
	return ws
}

func TestWorkspace_WriteAndRead(t *testing.T) {
	ws := newTestWorkspace(t)

	if err := ws.WriteFile("frame0.png", bytes.NewReader([]byte("png-bytes"))); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := ws.ReadFile("frame0.png")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("got %q, want %q", string(data), "png-bytes")
	}

	if ws.Path("frame0.png") != filepath.Join(ws.Dir(), "frame0.png") {
		t.Errorf("unexpected path %s", ws.Path("frame0.png"))
	}
}

func TestWorkspace_RejectsInvalidNames(t *testing.T) {
	ws := newTestWorkspace(t)

	for _, name := range []string{"", "../escape.png", "sub/frame.png", ".hidden"} {
		err := ws.WriteFile(name, bytes.NewReader(nil))
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("WriteFile(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestWorkspace_Remove(t *testing.T) {
	ws := newTestWorkspace(t)
	_ = ws.WriteFile("output.mp4", bytes.NewReader([]byte("mp4")))

	if err := ws.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Errorf("workspace dir still exists")
	}

	// second call is a no-op
	if err := ws.Remove(); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}

	_, err := ws.ReadFile("output.mp4")
	if !errors.Is(err, ErrWorkspaceRemoved) {
		t.Errorf("expected ErrWorkspaceRemoved, got %v", err)
	}
}
