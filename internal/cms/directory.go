package cms

import (
	"cmp"
	"slices"
)

// DirectoryItem is a node in the content tree.
//
// Ownership flows downwards: a directory owns its children and items, while
// the parent pointer and ContentItem.Directory are weak back-references.
type DirectoryItem struct {
	ID          string                   `json:"id"`
	Path        string                   `json:"path"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Locale      string                   `json:"locale"`
	Order       int                      `json:"order"`
	ProviderID  string                   `json:"providerId"`
	Metadata    map[string]MetadataValue `json:"metadata,omitempty"`
	SEO         SEO                      `json:"seo"`
	ParentID    string                   `json:"parentId,omitempty"`
	ChildIDs    []string                 `json:"childIds,omitempty"`

	parent   *DirectoryItem
	children []*DirectoryItem
	items    []*ContentItem
}

func (d *DirectoryItem) Parent() *DirectoryItem     { return d.parent }
func (d *DirectoryItem) Children() []*DirectoryItem { return d.children }
func (d *DirectoryItem) Items() []*ContentItem      { return d.items }

// IsAncestorOf reports whether d appears on other's parent chain.
func (d *DirectoryItem) IsAncestorOf(other *DirectoryItem) bool {
	seen := make(map[*DirectoryItem]bool)
	for p := other.parent; p != nil; p = p.parent {
		if p == d {
			return true
		}
		if seen[p] {
			return false
		}
		seen[p] = true
	}
	return false
}

// Descendants returns every directory below d, depth first.
func (d *DirectoryItem) Descendants() []*DirectoryItem {
	var out []*DirectoryItem
	stack := slices.Clone(d.children)
	seen := map[*DirectoryItem]bool{d: true}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		stack = append(stack, n.children...)
	}
	return out
}

// Breadcrumbs returns the chain of directories from the root down to d.
func (d *DirectoryItem) Breadcrumbs() []*DirectoryItem {
	var chain []*DirectoryItem
	seen := make(map[*DirectoryItem]bool)
	for n := d; n != nil && !seen[n]; n = n.parent {
		seen[n] = true
		chain = append(chain, n)
	}
	slices.Reverse(chain)
	return chain
}

// Tree is the mutable directory graph used while a generation is being built.
// It enforces the tree invariant: no directory may become its own ancestor.
type Tree struct {
	dirs   map[string]*DirectoryItem
	byPath map[string]*DirectoryItem
}

func NewTree() *Tree {
	return &Tree{
		dirs:   make(map[string]*DirectoryItem),
		byPath: make(map[string]*DirectoryItem),
	}
}

// Add registers an unparented directory. Duplicate ids or paths are rejected.
func (t *Tree) Add(d *DirectoryItem) error {
	if _, ok := t.dirs[d.ID]; ok {
		return Validationf("duplicate directory id %s", d.ID)
	}
	if _, ok := t.byPath[d.Path]; ok {
		return Validationf("duplicate directory path %q", d.Path)
	}
	t.dirs[d.ID] = d
	t.byPath[d.Path] = d
	return nil
}

// Get returns the directory with id, or nil.
func (t *Tree) Get(id string) *DirectoryItem { return t.dirs[id] }

// ByPath returns the directory at path, or nil.
func (t *Tree) ByPath(path string) *DirectoryItem { return t.byPath[path] }

// Len returns the number of directories.
func (t *Tree) Len() int { return len(t.dirs) }

// All returns every directory ordered by path.
func (t *Tree) All() []*DirectoryItem {
	out := make([]*DirectoryItem, 0, len(t.dirs))
	for _, d := range t.dirs {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *DirectoryItem) int { return cmp.Compare(a.Path, b.Path) })
	return out
}

// Roots returns the directories without a parent, ordered by path.
func (t *Tree) Roots() []*DirectoryItem {
	var out []*DirectoryItem
	for _, d := range t.All() {
		if d.parent == nil {
			out = append(out, d)
		}
	}
	return out
}

// Attach makes child a child of parent, detaching it from any previous parent.
// Fails with ErrValidation, leaving the tree unchanged, if the link would create a cycle.
func (t *Tree) Attach(child, parent *DirectoryItem) error {
	if t.dirs[child.ID] != child || t.dirs[parent.ID] != parent {
		return Validationf("directory not part of this tree")
	}
	if child == parent || child.IsAncestorOf(parent) {
		return Validationf("attaching %q under %q would create a cycle", child.Path, parent.Path)
	}
	if child.parent == parent {
		return nil
	}
	t.detach(child)
	child.parent = parent
	child.ParentID = parent.ID
	parent.children = append(parent.children, child)
	parent.ChildIDs = append(parent.ChildIDs, child.ID)
	return nil
}

// Move re-parents the directory id under newParentID. An empty newParentID
// makes it a root. All validation happens before any state is touched.
func (t *Tree) Move(id, newParentID string) error {
	d := t.dirs[id]
	if d == nil {
		return Validationf("directory %s not found", id)
	}
	if newParentID == "" {
		t.detach(d)
		return nil
	}
	p := t.dirs[newParentID]
	if p == nil {
		return Validationf("target directory %s not found", newParentID)
	}
	return t.Attach(d, p)
}

func (t *Tree) detach(d *DirectoryItem) {
	p := d.parent
	if p == nil {
		return
	}
	p.children = slices.DeleteFunc(p.children, func(c *DirectoryItem) bool { return c == d })
	p.ChildIDs = slices.DeleteFunc(p.ChildIDs, func(id string) bool { return id == d.ID })
	d.parent = nil
	d.ParentID = ""
}

// Rekey changes a directory's id, keeping every link consistent.
func (t *Tree) Rekey(d *DirectoryItem, newID string) error {
	if newID == d.ID {
		return nil
	}
	if t.dirs[d.ID] != d {
		return Validationf("directory not part of this tree")
	}
	if _, taken := t.dirs[newID]; taken {
		return Validationf("directory id %s already in use", newID)
	}
	delete(t.dirs, d.ID)
	old := d.ID
	d.ID = newID
	t.dirs[newID] = d
	if d.parent != nil {
		for i, id := range d.parent.ChildIDs {
			if id == old {
				d.parent.ChildIDs[i] = newID
			}
		}
	}
	for _, c := range d.children {
		c.ParentID = newID
	}
	for _, it := range d.items {
		it.DirectoryID = newID
	}
	return nil
}

// SortChildren orders every child list by (Order, Name, Path).
func (t *Tree) SortChildren() {
	for _, d := range t.dirs {
		slices.SortFunc(d.children, compareDirectories)
		d.ChildIDs = d.ChildIDs[:0]
		for _, c := range d.children {
			d.ChildIDs = append(d.ChildIDs, c.ID)
		}
	}
}

func compareDirectories(a, b *DirectoryItem) int {
	return cmp.Or(
		cmp.Compare(a.Order, b.Order),
		cmp.Compare(a.Name, b.Name),
		cmp.Compare(a.Path, b.Path),
	)
}

// addItem links an item to d. Only used while building a generation.
func (d *DirectoryItem) addItem(item *ContentItem) {
	item.directory = d
	item.DirectoryID = d.ID
	d.items = append(d.items, item)
}
