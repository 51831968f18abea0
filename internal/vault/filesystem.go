package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cms-go/internal/cms"
)

// FileSystemVault stores archives as files:
//
//	<root>/
//	  <providerID>/
//	    <name>     (one encrypted archive per generation)
type FileSystemVault struct {
	name string
	root string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	return &FileSystemVault{name: name, root: root}, nil
}

// PutSnapshot writes the archive atomically (temp file + rename).
func (v *FileSystemVault) PutSnapshot(ctx context.Context, providerID, name string, r io.Reader, size int64) error {
	if err := checkKey(providerID, name); err != nil {
		return err
	}
	dir := filepath.Join(v.root, providerID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create provider directory: %w", err)
	}
	return v.writeFile(filepath.Join(dir, name), r, size)
}

// GetSnapshot writes the named archive to w.
func (v *FileSystemVault) GetSnapshot(ctx context.Context, providerID, name string, w io.Writer) error {
	if err := checkKey(providerID, name); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(v.root, providerID, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("snapshot %s/%s: %w", providerID, name, cms.ErrNotFound)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the archive names for a provider. Leftover temp
// files from interrupted writes are skipped.
func (v *FileSystemVault) ListSnapshots(ctx context.Context, providerID string) ([]string, error) {
	if err := checkSegment("provider id", providerID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(v.root, providerID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// DeleteSnapshot removes the named archive. Missing archives are ignored.
func (v *FileSystemVault) DeleteSnapshot(ctx context.Context, providerID, name string) error {
	if err := checkKey(providerID, name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(v.root, providerID, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault root is an accessible directory.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}
	return nil
}

func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ cms.SnapshotVault = (*FileSystemVault)(nil)
