package fs

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"cms-go/internal/cms"
)

// IgnoreFileName is read from the content root and merged with configured patterns.
const IgnoreFileName = ".cmsignore"

// ContentDir is a RemoteTree over a local directory. Blob SHAs are computed
// the way git computes them, so optimistic concurrency behaves like the
// GitHub remote. The head "commit" is a digest of the tree's file metadata.
type ContentDir struct {
	root   string
	ignore *IgnoreMatcher
	logger cms.Logger

	// mu serializes writes so SHA checks and renames are atomic with respect to each other.
	mu sync.Mutex
}

// NewContentDir opens root. Patterns are combined with the root's .cmsignore.
func NewContentDir(root string, patterns []string, logger cms.Logger) (*ContentDir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat content root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content root is not a directory: %s", abs)
	}
	filePatterns, err := ParseIgnoreFile(filepath.Join(abs, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	all := append(slices.Clone(defaultIgnorePatterns), patterns...)
	all = append(all, filePatterns...)
	return &ContentDir{root: abs, ignore: NewIgnoreMatcher(all), logger: logger}, nil
}

// Root returns the absolute content root.
func (d *ContentDir) Root() string { return d.root }

// resolve maps a repository path to a local path, rejecting escapes from root.
func (d *ContentDir) resolve(p string) (string, string, error) {
	p = cms.NormalizePath(p)
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", "", cms.Validationf("path %q escapes the content root", p)
		}
	}
	return p, filepath.Join(d.root, filepath.FromSlash(p)), nil
}

func (d *ContentDir) ListTree(ctx context.Context, p string) ([]cms.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, local, err := d.resolve(p)
	if err != nil {
		return nil, cms.Wrap("list", p, err)
	}
	dirEntries, err := os.ReadDir(local)
	if err != nil {
		return nil, cms.Wrap("list", rel, mapOSError(err))
	}
	entries := make([]cms.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		child := cms.JoinPath(rel, de.Name())
		if d.ignore.Match(filepath.FromSlash(child)) {
			continue
		}
		switch {
		case de.IsDir():
			entries = append(entries, cms.Entry{Name: de.Name(), Path: child, Type: cms.EntryDir})
		case de.Type().IsRegular():
			entries = append(entries, cms.Entry{
				Name:   de.Name(),
				Path:   child,
				Type:   cms.EntryFile,
				RawURL: "file://" + filepath.ToSlash(filepath.Join(local, de.Name())),
			})
		default:
			d.logger.Debug("skipping non-regular file", "path", child)
		}
	}
	return entries, nil
}

func (d *ContentDir) GetFileContent(ctx context.Context, p string) (*cms.FileContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, local, err := d.resolve(p)
	if err != nil {
		return nil, cms.Wrap("get", p, err)
	}
	data, err := readRegular(local)
	if err != nil {
		return nil, cms.Wrap("get", rel, err)
	}
	return &cms.FileContent{Content: string(data), SHA: cms.BlobSHA(data)}, nil
}

// GetCommitHistory reports a single pseudo-commit dated at the file's
// modification time. A local directory has no history beyond that.
func (d *ContentDir) GetCommitHistory(ctx context.Context, p string) ([]cms.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, local, err := d.resolve(p)
	if err != nil {
		return nil, cms.Wrap("history", p, err)
	}
	info, err := os.Stat(local)
	if err != nil {
		return nil, cms.Wrap("history", rel, mapOSError(err))
	}
	return []cms.Commit{{
		SHA:     fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size()),
		Message: "working tree",
		Date:    info.ModTime().UTC(),
	}}, nil
}

func (d *ContentDir) CreateOrUpdateFile(ctx context.Context, p, content, message, expectedSHA string) (*cms.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, local, err := d.resolve(p)
	if err != nil {
		return nil, cms.Wrap("write", p, err)
	}
	if rel == "" {
		return nil, cms.Wrap("write", p, cms.Validationf("empty path"))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.currentSHA(local)
	if err != nil {
		return nil, cms.Wrap("write", rel, err)
	}
	if current != expectedSHA {
		return nil, cms.Wrap("write", rel, fmt.Errorf("%w: expected %q, current %q", cms.ErrConflict, expectedSHA, current))
	}
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return nil, cms.Wrap("write", rel, fmt.Errorf("creating parent directory: %w", err))
	}
	data := []byte(content)
	if err := writeFileAtomic(local, data); err != nil {
		return nil, cms.Wrap("write", rel, err)
	}
	d.logger.Debug("file written", "path", rel, "message", message)

	head, err := d.digest(ctx)
	if err != nil {
		d.logger.Warn("computing tree digest failed", "error", err)
	}
	return &cms.CommitResult{CommitSHA: head, ContentSHA: cms.BlobSHA(data), Path: rel}, nil
}

func (d *ContentDir) DeleteFile(ctx context.Context, p, message, sha string) (*cms.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, local, err := d.resolve(p)
	if err != nil {
		return nil, cms.Wrap("delete", p, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.currentSHA(local)
	if err != nil {
		return nil, cms.Wrap("delete", rel, err)
	}
	if current == "" {
		return nil, cms.Wrap("delete", rel, cms.ErrNotFound)
	}
	if sha == "" || current != sha {
		return nil, cms.Wrap("delete", rel, fmt.Errorf("%w: expected %q, current %q", cms.ErrConflict, sha, current))
	}
	if err := os.Remove(local); err != nil {
		return nil, cms.Wrap("delete", rel, mapOSError(err))
	}
	d.logger.Debug("file deleted", "path", rel, "message", message)

	head, err := d.digest(ctx)
	if err != nil {
		d.logger.Warn("computing tree digest failed", "error", err)
	}
	return &cms.CommitResult{CommitSHA: head, Path: rel}, nil
}

// GetLatestCommitSHA digests every non-ignored file's path, size,
// modification time and platform signature. The branch is ignored.
func (d *ContentDir) GetLatestCommitSHA(ctx context.Context, _ string) (string, error) {
	head, err := d.digest(ctx)
	if err != nil {
		return "", cms.Wrap("head", "", err)
	}
	return head, nil
}

func (d *ContentDir) digest(ctx context.Context) (string, error) {
	h := sha1.New()
	err := filepath.WalkDir(d.root, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil || rel == "." {
			return err
		}
		if d.ignore.Match(rel) {
			if de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !de.Type().IsRegular() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00%s\n", filepath.ToSlash(rel), info.Size(), info.ModTime().UnixNano(), fileSignature(info))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking content root: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// currentSHA returns the blob SHA at local, or "" if no file exists.
func (d *ContentDir) currentSHA(local string) (string, error) {
	data, err := readRegular(local)
	if errors.Is(err, cms.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cms.BlobSHA(data), nil
}

func readRegular(local string) ([]byte, error) {
	f, err := os.Open(local)
	if err != nil {
		return nil, mapOSError(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, cms.Validationf("not a regular file")
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// writeFileAtomic writes data using a temp file and rename.
func writeFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

func mapOSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", cms.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", cms.ErrForbidden, err)
	}
	return err
}

// Compile-time check that ContentDir implements cms.RemoteTree
var _ cms.RemoteTree = (*ContentDir)(nil)
