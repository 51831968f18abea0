package remote

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"

	"cms-go/internal/cms"
)

type memoryFile struct {
	content string
	sha     string
	history []cms.Commit // newest first
}

type memoryLink struct {
	parent, name, target string
}

// MemoryTree is an in-process RemoteTree. Every write is a commit that moves
// the branch head. It can inject failures and directory links, which makes
// it the remote used by tests.
type MemoryTree struct {
	mu       sync.Mutex
	branch   string
	clock    cms.Clock
	files    map[string]*memoryFile
	links    []memoryLink
	failures map[string]error
	head     string
	seq      int
	calls    map[string]int
}

// NewMemoryTree creates an empty repository on branch.
func NewMemoryTree(branch string, clock cms.Clock) *MemoryTree {
	if branch == "" {
		branch = "main"
	}
	m := &MemoryTree{
		branch:   branch,
		clock:    clock,
		files:    make(map[string]*memoryFile),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
	m.head = m.nextCommitSHA("init")
	return m
}

// Put stores content at p as a new commit and returns the blob SHA.
func (m *MemoryTree) Put(p, content string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(cms.NormalizePath(p), content, "Put "+p)
}

// Remove deletes p as a new commit.
func (m *MemoryTree) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = cms.NormalizePath(p)
	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		m.head = m.nextCommitSHA("Remove " + p)
	}
}

// Link adds a directory entry called name under parent whose path is target.
// Pointing target at an ancestor produces a loop in the listing.
func (m *MemoryTree) Link(parent, name, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, memoryLink{
		parent: cms.NormalizePath(parent),
		name:   name,
		target: cms.NormalizePath(target),
	})
}

// Fail makes op on p return err until cleared with a nil err.
// op is one of "list", "get", "history", "write", "delete" or "head" (p ignored).
func (m *MemoryTree) Fail(op, p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op + ":" + cms.NormalizePath(p)
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// SetHead overrides the branch head SHA.
func (m *MemoryTree) SetHead(sha string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = sha
}

// Calls returns how many times op was invoked on p.
func (m *MemoryTree) Calls(op, p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op+":"+cms.NormalizePath(p)]
}

// SHA returns the blob SHA stored at p, or "".
func (m *MemoryTree) SHA(p string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[cms.NormalizePath(p)]; ok {
		return f.sha
	}
	return ""
}

func (m *MemoryTree) ListTree(ctx context.Context, p string) ([]cms.Entry, error) {
	p = cms.NormalizePath(p)
	if err := m.begin(ctx, "list", p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make(map[string]cms.Entry)
	for fp, f := range m.files {
		if !cms.HasPathPrefix(fp, p) || fp == p {
			continue
		}
		rest := strings.TrimPrefix(strings.TrimPrefix(fp, p), "/")
		first, _, nested := strings.Cut(rest, "/")
		child := cms.JoinPath(p, first)
		if nested {
			entries[first] = cms.Entry{Name: first, Path: child, Type: cms.EntryDir}
			continue
		}
		entries[first] = cms.Entry{Name: first, Path: child, SHA: f.sha, Type: cms.EntryFile, RawURL: "memory://" + child}
	}
	for _, l := range m.links {
		if l.parent == p {
			entries[l.name] = cms.Entry{Name: l.name, Path: l.target, Type: cms.EntryDir}
		}
	}
	if len(entries) == 0 && p != "" {
		return nil, cms.Wrap("list", p, cms.ErrNotFound)
	}

	out := make([]cms.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b cms.Entry) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *MemoryTree) GetFileContent(ctx context.Context, p string) (*cms.FileContent, error) {
	p = cms.NormalizePath(p)
	if err := m.begin(ctx, "get", p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	if !ok {
		return nil, cms.Wrap("get", p, cms.ErrNotFound)
	}
	return &cms.FileContent{Content: f.content, SHA: f.sha}, nil
}

func (m *MemoryTree) GetCommitHistory(ctx context.Context, p string) ([]cms.Commit, error) {
	p = cms.NormalizePath(p)
	if err := m.begin(ctx, "history", p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	if !ok {
		return []cms.Commit{}, nil
	}
	return slices.Clone(f.history), nil
}

func (m *MemoryTree) CreateOrUpdateFile(ctx context.Context, p, content, message, expectedSHA string) (*cms.CommitResult, error) {
	p = cms.NormalizePath(p)
	if err := m.begin(ctx, "write", p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current := ""
	if f, ok := m.files[p]; ok {
		current = f.sha
	}
	if current != expectedSHA {
		return nil, cms.Wrap("write", p, fmt.Errorf("%w: expected %q, current %q", cms.ErrConflict, expectedSHA, current))
	}
	sha := m.write(p, content, message)
	return &cms.CommitResult{CommitSHA: m.head, ContentSHA: sha, Path: p}, nil
}

func (m *MemoryTree) DeleteFile(ctx context.Context, p, message, sha string) (*cms.CommitResult, error) {
	p = cms.NormalizePath(p)
	if err := m.begin(ctx, "delete", p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	if !ok {
		return nil, cms.Wrap("delete", p, cms.ErrNotFound)
	}
	if sha == "" || f.sha != sha {
		return nil, cms.Wrap("delete", p, fmt.Errorf("%w: expected %q, current %q", cms.ErrConflict, sha, f.sha))
	}
	delete(m.files, p)
	m.head = m.nextCommitSHA(message)
	return &cms.CommitResult{CommitSHA: m.head, Path: p}, nil
}

func (m *MemoryTree) GetLatestCommitSHA(ctx context.Context, branch string) (string, error) {
	if err := m.begin(ctx, "head", ""); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if branch != "" && branch != m.branch {
		return "", cms.Wrap("head", branch, cms.ErrNotFound)
	}
	return m.head, nil
}

// begin counts the call and returns any injected failure.
func (m *MemoryTree) begin(ctx context.Context, op, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op + ":" + p
	m.calls[key]++
	if err, ok := m.failures[key]; ok {
		return cms.Wrap(op, p, err)
	}
	return nil
}

// write must be called with mu held.
func (m *MemoryTree) write(p, content, message string) string {
	m.head = m.nextCommitSHA(message)
	sha := cms.BlobSHA([]byte(content))
	f, ok := m.files[p]
	if !ok {
		f = &memoryFile{}
		m.files[p] = f
	}
	f.content = content
	f.sha = sha
	f.history = append([]cms.Commit{{
		SHA:     m.head,
		Message: message,
		Author:  "memory",
		Date:    m.clock.Now().UTC(),
	}}, f.history...)
	return sha
}

func (m *MemoryTree) nextCommitSHA(message string) string {
	m.seq++
	sum := sha1.Sum(fmt.Appendf(nil, "commit %d %s", m.seq, message))
	return hex.EncodeToString(sum[:])
}

var _ cms.RemoteTree = (*MemoryTree)(nil)
