package cms

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"
)

// Generation is one complete, immutable snapshot of a provider's content.
// It is built privately and never mutated after the cache publishes it.
type Generation struct {
	ProviderID string
	CommitSHA  string
	LoadedAt   time.Time
	ExpiresAt  time.Time

	// Restored marks a generation loaded from a snapshot archive rather than the remote.
	Restored bool

	Items       map[string]*ContentItem
	Directories map[string]*DirectoryItem

	tree    *Tree
	ordered []*ContentItem
	byPath  map[string]*ContentItem
	byURL   map[string][]*ContentItem
	epoch   uint64

	locOnce sync.Once
	loc     *LocalizationInfo
	locDef  string
}

// NewGeneration links items to their directories and indexes everything.
// Items whose DirectoryID is unknown to tree are kept but left without a directory.
func NewGeneration(providerID, commitSHA string, tree *Tree, items []*ContentItem, defaultLocale string) *Generation {
	if tree == nil {
		tree = NewTree()
	}
	g := &Generation{
		ProviderID:  providerID,
		CommitSHA:   commitSHA,
		Items:       make(map[string]*ContentItem, len(items)),
		Directories: make(map[string]*DirectoryItem, tree.Len()),
		tree:        tree,
		byPath:      make(map[string]*ContentItem, len(items)),
		byURL:       make(map[string][]*ContentItem, len(items)),
		locDef:      defaultLocale,
	}
	for _, d := range tree.All() {
		g.Directories[d.ID] = d
	}

	ordered := slices.Clone(items)
	slices.SortFunc(ordered, func(a, b *ContentItem) int { return cmp.Compare(a.Path, b.Path) })
	for _, it := range ordered {
		if _, dup := g.Items[it.ID]; dup {
			continue
		}
		if d := g.Directories[it.DirectoryID]; d != nil {
			d.addItem(it)
		} else {
			it.DirectoryID = ""
		}
		g.Items[it.ID] = it
		g.byPath[it.Path] = it
		key := strings.ToLower(it.URL)
		g.byURL[key] = append(g.byURL[key], it)
		g.ordered = append(g.ordered, it)
	}
	return g
}

// List returns every item ordered by path. The slice is a copy; the items are shared.
func (g *Generation) List() []*ContentItem {
	return slices.Clone(g.ordered)
}

// Item returns the item with id, or nil.
func (g *Generation) Item(id string) *ContentItem { return g.Items[id] }

// ItemByPath returns the item at the repository path p, or nil.
func (g *Generation) ItemByPath(p string) *ContentItem { return g.byPath[NormalizePath(p)] }

// ItemByURL returns the item served at url. Translations share a URL, so
// locale picks among them; an empty locale prefers the default locale.
func (g *Generation) ItemByURL(url, locale string) *ContentItem {
	candidates := g.byURL[strings.ToLower(NormalizePath(url))]
	if len(candidates) == 0 {
		return nil
	}
	want := locale
	if want == "" {
		want = g.locDef
	}
	for _, it := range candidates {
		if strings.EqualFold(it.Locale, want) {
			return it
		}
	}
	if locale != "" {
		return nil
	}
	return candidates[0]
}

// Directory returns the directory with id, or nil.
func (g *Generation) Directory(id string) *DirectoryItem { return g.Directories[id] }

// DirectoryByPath returns the directory at p, or nil.
func (g *Generation) DirectoryByPath(p string) *DirectoryItem { return g.tree.ByPath(NormalizePath(p)) }

// DirectoryList returns every directory ordered by path.
func (g *Generation) DirectoryList() []*DirectoryItem { return g.tree.All() }

// RootDirectories returns the directories without a parent.
func (g *Generation) RootDirectories() []*DirectoryItem { return g.tree.Roots() }

// Localization returns the translation index, computed once per generation.
func (g *Generation) Localization() *LocalizationInfo {
	g.locOnce.Do(func() {
		g.loc = BuildLocalization(g.ordered, g.locDef)
	})
	return g.loc
}

// Fresh reports whether g may be served without refilling at now.
func (g *Generation) Fresh(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}
