package testutil

import (
	"testing"

	"cms-go/internal/cms"
	"cms-go/internal/markdown"
	"cms-go/internal/remote"
)

// NewTestRemote creates an in-memory repository on branch "main" holding
// files (path -> content).
func NewTestRemote(t *testing.T, clock cms.Clock, files map[string]string) *remote.MemoryTree {
	t.Helper()

	tree := remote.NewMemoryTree("main", clock)
	for p, content := range files {
		tree.Put(p, content)
	}
	return tree
}

// NewTestProvider creates a provider over tree with the goldmark renderer.
// Unset options default to ID "docs", owner "acme", repository "site".
func NewTestProvider(t *testing.T, opts cms.ProviderOptions, tree cms.RemoteTree, clock cms.Clock, logger cms.Logger, options ...cms.ProviderOption) *cms.Provider {
	t.Helper()

	if opts.ID == "" {
		opts.ID = "docs"
	}
	if opts.Owner == "" && opts.Repository == "" {
		opts.Owner, opts.Repository = "acme", "site"
	}
	return cms.NewProvider(opts, tree, markdown.New(), clock, logger, options...)
}
