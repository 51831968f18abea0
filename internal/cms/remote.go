package cms

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// EntryType distinguishes files from directories in a tree listing.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// Entry is one element of a non-recursive tree listing.
type Entry struct {
	Name   string
	Path   string
	SHA    string
	Type   EntryType
	RawURL string
}

// FileContent is a decoded file body together with its blob SHA.
type FileContent struct {
	Content string
	SHA     string
}

// Commit is one element of a file's commit history.
type Commit struct {
	SHA     string
	Message string
	Author  string
	Date    time.Time
}

// CommitResult describes the outcome of a successful write.
// ContentSHA is the new blob SHA of the written file (empty for deletes).
type CommitResult struct {
	CommitSHA  string
	ContentSHA string
	Path       string
}

// RemoteTree provides single, non-recursive calls against a content repository.
// Implementations hold no cache and perform no recursion.
type RemoteTree interface {
	// ListTree lists the entries directly under path.
	// Returns ErrNotFound if the path is absent and ErrUnauthorized if the token is rejected.
	ListTree(ctx context.Context, path string) ([]Entry, error)

	// GetFileContent fetches and decodes a file. Returns ErrDecode on malformed payloads.
	GetFileContent(ctx context.Context, path string) (*FileContent, error)

	// GetCommitHistory returns the commits touching path, newest first.
	GetCommitHistory(ctx context.Context, path string) ([]Commit, error)

	// CreateOrUpdateFile writes content to path. expectedSHA is the blob SHA the
	// caller believes is current; it must be empty only for brand-new files.
	// A stale expectedSHA fails with ErrConflict.
	CreateOrUpdateFile(ctx context.Context, path, content, message, expectedSHA string) (*CommitResult, error)

	// DeleteFile removes path. sha is mandatory and must match the current blob SHA.
	DeleteFile(ctx context.Context, path, message, sha string) (*CommitResult, error)

	// GetLatestCommitSHA returns the head commit SHA of branch.
	// An empty branch means the configured branch.
	GetLatestCommitSHA(ctx context.Context, branch string) (string, error)
}

// Markdown is the external rendering collaborator. Both methods are pure.
type Markdown interface {
	// RenderHTML converts a Markdown body to sanitized HTML.
	RenderHTML(markdown string) (string, error)

	// ParseFrontMatter decodes the text between the front-matter delimiters
	// into a flat, case-preserving key/value map.
	ParseFrontMatter(block string) (map[string]string, error)
}

// BlobSHA returns the git blob id of content, the SHA-1 of
// "blob <len>\x00" followed by content. Local remotes use it so their SHAs
// agree with what a git host would report.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
