package cms

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// TreeBuilder walks the remote tree and builds the directory graph.
type TreeBuilder struct {
	opts     ProviderOptions
	rules    LocaleRules
	remote   RemoteTree
	markdown Markdown
	logger   Logger
}

// BuildResult is the outcome of one walk: the directory tree plus the file
// entries found in each directory, so files need not be listed twice.
type BuildResult struct {
	Tree  *Tree
	Root  *DirectoryItem
	Files map[*DirectoryItem][]Entry
}

// NewTreeBuilder creates a TreeBuilder for the provider described by opts.
func NewTreeBuilder(opts ProviderOptions, remote RemoteTree, markdown Markdown, logger Logger) *TreeBuilder {
	opts = opts.withDefaults()
	return &TreeBuilder{
		opts:     opts,
		rules:    opts.localeRules(),
		remote:   remote,
		markdown: markdown,
		logger:   logger,
	}
}

// Build walks breadth first from root, visiting each path at most once.
// Failure to list root aborts the walk; failures below root skip only the
// affected subtree.
func (b *TreeBuilder) Build(ctx context.Context, root string) (*BuildResult, error) {
	root = NormalizePath(root)
	tree := NewTree()
	res := &BuildResult{Tree: tree, Files: make(map[*DirectoryItem][]Entry)}

	rootName := path.Base(root)
	if root == "" {
		rootName = b.opts.ID
	}
	res.Root = b.newDirectory(root, rootName)
	if err := tree.Add(res.Root); err != nil {
		return nil, err
	}

	visited := map[string]bool{root: true}
	queue := []*DirectoryItem{res.Root}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]

		entries, err := b.remote.ListTree(ctx, current.Path)
		if err != nil {
			if current == res.Root || ctx.Err() != nil {
				return nil, fmt.Errorf("listing %q: %w", current.Path, err)
			}
			b.logger.Warn("skipping unreadable directory", "path", current.Path, "error", err)
			continue
		}

		for _, e := range entries {
			switch e.Type {
			case EntryFile:
				res.Files[current] = append(res.Files[current], e)
			case EntryDir:
				child := b.visitDirectory(tree, current, e, visited)
				if child != nil {
					queue = append(queue, child)
				}
			}
		}
	}

	if err := b.applyMetadata(ctx, res); err != nil {
		return nil, err
	}
	tree.SortChildren()
	return res, nil
}

func (b *TreeBuilder) visitDirectory(tree *Tree, parent *DirectoryItem, e Entry, visited map[string]bool) *DirectoryItem {
	p := NormalizePath(e.Path)
	if p == "" && e.Name != "" {
		p = JoinPath(parent.Path, e.Name)
	}
	if visited[p] {
		b.logger.Warn("directory already visited, not descending again", "path", p, "parent", parent.Path)
		return nil
	}
	visited[p] = true

	name := e.Name
	if name == "" {
		name = path.Base(p)
	}
	child := b.newDirectory(p, name)
	if err := tree.Add(child); err != nil {
		b.logger.Warn("skipping directory", "path", p, "error", err)
		return nil
	}
	if err := tree.Attach(child, parent); err != nil {
		b.logger.Warn("directory left unparented", "path", p, "parent", parent.Path, "error", err)
	}
	return child
}

func (b *TreeBuilder) newDirectory(p, name string) *DirectoryItem {
	return &DirectoryItem{
		ID:         StableID("dir", p, name, b.opts.ID),
		Path:       p,
		Name:       name,
		Locale:     b.rules.ExtractLocale(p, b.opts.ContentPath),
		ProviderID: b.opts.ID,
	}
}

// applyMetadata reads each directory's sentinel file and applies its front matter.
func (b *TreeBuilder) applyMetadata(ctx context.Context, res *BuildResult) error {
	for _, dir := range res.Tree.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		sentinel, ok := b.findSentinel(res.Files[dir])
		if !ok {
			continue
		}
		file, err := b.remote.GetFileContent(ctx, NormalizePath(sentinel.Path))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("reading directory metadata failed", "path", sentinel.Path, "error", err)
			continue
		}
		block, _, found := SplitFrontMatter(file.Content)
		if !found {
			continue
		}
		fields, err := b.markdown.ParseFrontMatter(block)
		if err != nil {
			b.logger.Warn("directory metadata unreadable", "path", sentinel.Path, "error", err)
			continue
		}
		b.applyFields(res.Tree, dir, fields)
	}
	return nil
}

func (b *TreeBuilder) findSentinel(files []Entry) (Entry, bool) {
	for _, f := range files {
		name := f.Name
		if name == "" {
			name = path.Base(f.Path)
		}
		if strings.EqualFold(name, b.opts.IndexFile) {
			return f, true
		}
	}
	return Entry{}, false
}

func (b *TreeBuilder) applyFields(tree *Tree, dir *DirectoryItem, fields map[string]string) {
	for rawKey, raw := range fields {
		value := strings.TrimSpace(raw)
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(rawKey)), "-", "_")
		switch key {
		case "id":
			if value == "" {
				continue
			}
			if err := tree.Rekey(dir, value); err != nil {
				b.logger.Warn("ignoring explicit directory id", "path", dir.Path, "id", value, "error", err)
			}
		case "title":
			if value != "" {
				dir.Name = value
			}
		case "description":
			dir.Description = value
		case "order", "weight":
			if n, err := strconv.Atoi(value); err == nil {
				dir.Order = n
			}
		default:
			if strings.HasPrefix(key, "seo_") && dir.SEO.set(strings.TrimPrefix(key, "seo_"), value) {
				continue
			}
			if dir.Metadata == nil {
				dir.Metadata = make(map[string]MetadataValue)
			}
			dir.Metadata[rawKey] = InferMetadataValue(value)
		}
	}
}
