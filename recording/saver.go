package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// DirectorySaver writes artifacts into a directory. It is the download side
// effect for hosts without a browser save dialog.
type DirectorySaver struct {
	Dir string
}

// Save writes a.Data to Dir/a.Filename. Path separators in the filename are
// not honoured; only its base name is used.
func (d DirectorySaver) Save(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.Filename == "" {
		return errors.New("artifact has no filename")
	}

	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}

	path := filepath.Join(d.Dir, filepath.Base(a.Filename))
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "DirectorySaver.Save",
		"path":     path,
		"size":     len(a.Data),
	}).Info("Recording artifact saved")

	return nil
}

// MemorySaver keeps saved artifacts in memory.
type MemorySaver struct {
	mu        sync.Mutex
	artifacts []Artifact
}

// Save appends a.
func (m *MemorySaver) Save(_ context.Context, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, a)
	return nil
}

// Artifacts returns every saved artifact in save order.
func (m *MemorySaver) Artifacts() []Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Artifact, len(m.artifacts))
	copy(out, m.artifacts)
	return out
}
