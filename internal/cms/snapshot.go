package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SnapshotVault stores encrypted generation archives per provider.
// Names are opaque to the vault; ListSnapshots returns them in any order.
type SnapshotVault interface {
	PutSnapshot(ctx context.Context, providerID, name string, r io.Reader, size int64) error
	GetSnapshot(ctx context.Context, providerID, name string, w io.Writer) error
	ListSnapshots(ctx context.Context, providerID string) ([]string, error)
	DeleteSnapshot(ctx context.Context, providerID, name string) error

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}

// Encryptor encrypts snapshot archives with a public key. Decryption requires
// unlocking the private key with a passphrase.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a context for the session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether the key material exists.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

const snapshotFormat = 1

// SnapshotInfo identifies one archived generation.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	CommitSHA string    `json:"commitSha"`
	CreatedAt time.Time `json:"createdAt"`
}

// SnapshotName encodes the creation time and commit so names sort chronologically.
func SnapshotName(createdAt time.Time, commitSHA string) string {
	if commitSHA == "" {
		commitSHA = "unknown"
	}
	return fmt.Sprintf("%020d-%s", createdAt.UTC().UnixNano(), commitSHA)
}

// ParseSnapshotName reverses SnapshotName.
func ParseSnapshotName(name string) (SnapshotInfo, error) {
	stamp, sha, ok := strings.Cut(name, "-")
	if !ok {
		return SnapshotInfo{}, Validationf("malformed snapshot name %q", name)
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return SnapshotInfo{}, Validationf("malformed snapshot name %q", name)
	}
	return SnapshotInfo{Name: name, CommitSHA: sha, CreatedAt: time.Unix(0, nanos).UTC()}, nil
}

type snapshotManifest struct {
	Format      int              `json:"format"`
	ProviderID  string           `json:"providerId"`
	CommitSHA   string           `json:"commitSha"`
	CreatedAt   time.Time        `json:"createdAt"`
	Locale      string           `json:"defaultLocale"`
	Directories []*DirectoryItem `json:"directories"`
	Items       []*ContentItem   `json:"items"`
}

// DefaultSnapshotRetention is the number of archives kept per provider.
const DefaultSnapshotRetention = 10

// SnapshotArchiver writes generations to a vault and restores them.
type SnapshotArchiver struct {
	vault      SnapshotVault
	encryptor  Encryptor
	passphrase string
	retain     int
	clock      Clock
	logger     Logger

	mu      sync.Mutex
	lastSHA map[string]string // provider -> commit of the newest archive
}

// NewSnapshotArchiver creates an archiver that keeps the newest retain
// archives per provider; retain <= 0 keeps every archive. passphrase may be
// empty, in which case archives can be written but not restored.
func NewSnapshotArchiver(vault SnapshotVault, encryptor Encryptor, passphrase string, retain int, clock Clock, logger Logger) *SnapshotArchiver {
	return &SnapshotArchiver{
		vault:      vault,
		encryptor:  encryptor,
		passphrase: passphrase,
		retain:     retain,
		clock:      clock,
		logger:     logger,
		lastSHA:    make(map[string]string),
	}
}

// Keep archives g when its commit differs from the provider's newest archive,
// then prunes down to the retention count. It returns the new archive name,
// or "" when g was already archived. Restored generations are never archived.
func (a *SnapshotArchiver) Keep(ctx context.Context, g *Generation) (string, error) {
	if g.Restored {
		return "", nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	last, known := a.lastSHA[g.ProviderID]
	if !known {
		infos, err := a.List(ctx, g.ProviderID)
		if err != nil {
			return "", err
		}
		if len(infos) > 0 {
			last = infos[0].CommitSHA
			a.lastSHA[g.ProviderID] = last
		}
	}
	if g.CommitSHA != "" && g.CommitSHA == last {
		return "", nil
	}

	name, err := a.Archive(ctx, g)
	if err != nil {
		return "", err
	}
	a.lastSHA[g.ProviderID] = g.CommitSHA
	if _, err := a.Prune(ctx, g.ProviderID); err != nil {
		return name, err
	}
	return name, nil
}

// Prune deletes all but the newest archives of providerID and returns how
// many were removed.
func (a *SnapshotArchiver) Prune(ctx context.Context, providerID string) (int, error) {
	if a.retain <= 0 {
		return 0, nil
	}
	infos, err := a.List(ctx, providerID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range infos[min(a.retain, len(infos)):] {
		if err := a.vault.DeleteSnapshot(ctx, providerID, info.Name); err != nil {
			return removed, fmt.Errorf("pruning snapshot %s: %w", info.Name, err)
		}
		removed++
	}
	if removed > 0 {
		a.logger.Debug("snapshots pruned", "provider", providerID, "removed", removed)
	}
	return removed, nil
}

// Archive encrypts g and stores it. Returns the snapshot name.
func (a *SnapshotArchiver) Archive(ctx context.Context, g *Generation) (string, error) {
	now := a.clock.Now().UTC()
	m := snapshotManifest{
		Format:      snapshotFormat,
		ProviderID:  g.ProviderID,
		CommitSHA:   g.CommitSHA,
		CreatedAt:   now,
		Locale:      g.locDef,
		Directories: g.DirectoryList(),
		Items:       g.ordered,
	}
	plain, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	var sealed bytes.Buffer
	if err := a.encryptor.Encrypt(bytes.NewReader(plain), &sealed); err != nil {
		return "", fmt.Errorf("encrypting snapshot: %w", err)
	}

	name := SnapshotName(now, g.CommitSHA)
	if err := a.vault.PutSnapshot(ctx, g.ProviderID, name, &sealed, int64(sealed.Len())); err != nil {
		return "", fmt.Errorf("storing snapshot %s: %w", name, err)
	}
	return name, nil
}

// List returns the snapshots of providerID, newest first. Unparseable names are skipped.
func (a *SnapshotArchiver) List(ctx context.Context, providerID string) ([]SnapshotInfo, error) {
	names, err := a.vault.ListSnapshots(ctx, providerID)
	if err != nil {
		return nil, err
	}
	infos := make([]SnapshotInfo, 0, len(names))
	for _, n := range names {
		info, err := ParseSnapshotName(n)
		if err != nil {
			a.logger.Debug("ignoring foreign snapshot object", "provider", providerID, "name", n)
			continue
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(x, y SnapshotInfo) int { return y.CreatedAt.Compare(x.CreatedAt) })
	return infos, nil
}

// Restore loads the named snapshot. The returned generation is marked Restored.
func (a *SnapshotArchiver) Restore(ctx context.Context, providerID, name string) (*Generation, error) {
	if a.passphrase == "" {
		return nil, fmt.Errorf("restoring snapshot: no passphrase configured")
	}
	dec, err := a.encryptor.Unlock(a.passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking snapshot key: %w", err)
	}

	var sealed bytes.Buffer
	if err := a.vault.GetSnapshot(ctx, providerID, name, &sealed); err != nil {
		return nil, fmt.Errorf("fetching snapshot %s: %w", name, err)
	}
	var plain bytes.Buffer
	if err := dec.Decrypt(&sealed, &plain); err != nil {
		return nil, fmt.Errorf("%w: decrypting snapshot %s: %v", ErrDecode, name, err)
	}

	var m snapshotManifest
	if err := json.Unmarshal(plain.Bytes(), &m); err != nil {
		return nil, fmt.Errorf("%w: snapshot %s: %v", ErrDecode, name, err)
	}
	if m.Format != snapshotFormat {
		return nil, fmt.Errorf("%w: snapshot %s has format %d", ErrDecode, name, m.Format)
	}
	return a.rebuild(m), nil
}

// RestoreLatest restores the newest snapshot of providerID.
// Returns ErrNotFound when none exists.
func (a *SnapshotArchiver) RestoreLatest(ctx context.Context, providerID string) (*Generation, error) {
	infos, err := a.List(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no snapshot for provider %s", ErrNotFound, providerID)
	}
	return a.Restore(ctx, providerID, infos[0].Name)
}

// rebuild reconstructs the tree from the flat directory list, re-validating
// every parent link.
func (a *SnapshotArchiver) rebuild(m snapshotManifest) *Generation {
	tree := NewTree()
	parents := make(map[string]string, len(m.Directories))
	for _, d := range m.Directories {
		parents[d.ID] = d.ParentID
		d.ParentID = ""
		d.ChildIDs = nil
		if err := tree.Add(d); err != nil {
			a.logger.Warn("snapshot directory skipped", "path", d.Path, "error", err)
		}
	}
	for _, d := range tree.All() {
		p := tree.Get(parents[d.ID])
		if p == nil {
			continue
		}
		if err := tree.Attach(d, p); err != nil {
			a.logger.Warn("snapshot directory left unparented", "path", d.Path, "error", err)
		}
	}
	tree.SortChildren()

	g := NewGeneration(m.ProviderID, m.CommitSHA, tree, m.Items, m.Locale)
	g.Restored = true
	return g
}
