package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"cms-go/internal/cms"
)

// MemoryVault is an in-memory SnapshotVault, useful for tests and for
// instances that only need warm starts within one process lifetime.
// It is safe for concurrent use.
type MemoryVault struct {
	name      string
	snapshots map[string]map[string][]byte // provider -> name -> archive
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		snapshots: make(map[string]map[string][]byte),
	}
}

// PutSnapshot stores an archive. Storing the same name twice replaces it.
func (m *MemoryVault) PutSnapshot(ctx context.Context, providerID, name string, r io.Reader, size int64) error {
	if err := checkKey(providerID, name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snapshots[providerID] == nil {
		m.snapshots[providerID] = make(map[string][]byte)
	}
	m.snapshots[providerID][name] = data
	return nil
}

// GetSnapshot writes the named archive to w.
func (m *MemoryVault) GetSnapshot(ctx context.Context, providerID, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.snapshots[providerID][name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("snapshot %s/%s: %w", providerID, name, cms.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the names stored for a provider.
func (m *MemoryVault) ListSnapshots(ctx context.Context, providerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.snapshots[providerID]))
	for name := range m.snapshots[providerID] {
		names = append(names, name)
	}
	return names, nil
}

// DeleteSnapshot removes the named archive. Missing archives are ignored.
func (m *MemoryVault) DeleteSnapshot(ctx context.Context, providerID, name string) error {
	if err := checkKey(providerID, name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots[providerID], name)
	return nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ cms.SnapshotVault = (*MemoryVault)(nil)
