package cms

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"
)

// Sort keys accepted by Query.SortBy.
const (
	SortCreated      = "created"
	SortTitle        = "title"
	SortAuthor       = "author"
	SortLastModified = "lastModified"
	SortOrder        = "order"
	SortSlug         = "slug"
	SortReadTime     = "readTime"
)

// queryCheckEvery is how many items the filter loop processes between
// cancellation checks.
const queryCheckEvery = 256

// Query is a compound, conjunctive filter over a generation's items.
// Zero values are no-ops.
type Query struct {
	DirectoryPrefix string
	Category        string
	Tag             string
	Locale          string
	LocalizationID  string
	ProviderID      string
	IncludeIDs      []string
	ExcludeIDs      []string
	Featured        *bool
	From            *time.Time
	To              *time.Time
	Search          string
	Status          string

	// SortBy defaults to SortCreated. Descending is ignored when SortBy is
	// empty: the default order is always newest first.
	SortBy     string
	Descending bool

	Skip int
	Take int
}

// QueryResult holds one page of matches and the total before pagination.
type QueryResult struct {
	Items []*ContentItem `json:"items"`
	Total int            `json:"total"`
}

// ApplyQuery filters, sorts and paginates items. items is not modified.
func ApplyQuery(ctx context.Context, items []*ContentItem, q Query) (*QueryResult, error) {
	if q.SortBy != "" && sortKey(q.SortBy) == nil {
		return nil, Validationf("unknown sort key %q", q.SortBy)
	}
	if q.Skip < 0 || q.Take < 0 {
		return nil, Validationf("skip and take must not be negative")
	}

	preds := q.predicates()
	matched := make([]*ContentItem, 0, len(items))
	for i, it := range items {
		if i%queryCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if matchesAll(it, preds) {
			matched = append(matched, it)
		}
	}

	key, desc := sortKey(q.SortBy), q.Descending
	if q.SortBy == "" {
		key, desc = sortKey(SortCreated), true
	}
	slices.SortStableFunc(matched, func(a, b *ContentItem) int {
		c := key(a, b)
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})

	res := &QueryResult{Total: len(matched)}
	start := min(q.Skip, len(matched))
	end := len(matched)
	if q.Take > 0 {
		end = min(start+q.Take, end)
	}
	res.Items = matched[start:end]
	return res, nil
}

type predicate func(*ContentItem) bool

func matchesAll(it *ContentItem, preds []predicate) bool {
	for _, p := range preds {
		if !p(it) {
			return false
		}
	}
	return true
}

// predicates returns the active filters in evaluation order.
func (q Query) predicates() []predicate {
	var preds []predicate
	if prefix := NormalizePath(q.DirectoryPrefix); prefix != "" {
		preds = append(preds, func(it *ContentItem) bool { return HasPathPrefix(it.Path, prefix) })
	}
	if c := strings.TrimSpace(q.Category); c != "" {
		preds = append(preds, func(it *ContentItem) bool { return containsFold(it.Categories, c) })
	}
	if t := strings.TrimSpace(q.Tag); t != "" {
		preds = append(preds, func(it *ContentItem) bool { return containsFold(it.Tags, t) })
	}
	if l := strings.TrimSpace(q.Locale); l != "" {
		preds = append(preds, func(it *ContentItem) bool { return strings.EqualFold(it.Locale, l) })
	}
	if q.LocalizationID != "" {
		preds = append(preds, func(it *ContentItem) bool { return it.ContentID == q.LocalizationID })
	}
	if q.ProviderID != "" {
		preds = append(preds, func(it *ContentItem) bool { return it.ProviderID == q.ProviderID })
	}
	if len(q.IncludeIDs) > 0 {
		include := toSet(q.IncludeIDs)
		preds = append(preds, func(it *ContentItem) bool { return include[it.ID] })
	}
	if len(q.ExcludeIDs) > 0 {
		exclude := toSet(q.ExcludeIDs)
		preds = append(preds, func(it *ContentItem) bool { return !exclude[it.ID] })
	}
	if q.Featured != nil {
		want := *q.Featured
		preds = append(preds, func(it *ContentItem) bool { return it.IsFeatured == want })
	}
	if q.From != nil || q.To != nil {
		from, to := q.From, q.To
		preds = append(preds, func(it *ContentItem) bool {
			if from != nil && it.DateCreated.Before(*from) {
				return false
			}
			if to != nil && it.DateCreated.After(*to) {
				return false
			}
			return true
		})
	}
	if terms := strings.Fields(strings.ToLower(q.Search)); len(terms) > 0 {
		preds = append(preds, func(it *ContentItem) bool { return matchesSearch(it, terms) })
	}
	if s := strings.TrimSpace(q.Status); s != "" {
		preds = append(preds, func(it *ContentItem) bool { return strings.EqualFold(it.Status, s) })
	}
	return preds
}

// matchesSearch reports whether any term occurs in the item's searchable text.
func matchesSearch(it *ContentItem, terms []string) bool {
	fields := []string{
		strings.ToLower(it.Title),
		strings.ToLower(it.Description),
		strings.ToLower(it.Content),
	}
	for _, c := range it.Categories {
		fields = append(fields, strings.ToLower(c))
	}
	for _, t := range it.Tags {
		fields = append(fields, strings.ToLower(t))
	}
	for _, term := range terms {
		for _, f := range fields {
			if strings.Contains(f, term) {
				return true
			}
		}
	}
	return false
}

func sortKey(name string) func(a, b *ContentItem) int {
	switch strings.ToLower(name) {
	case "", "created", "datecreated", "date":
		return func(a, b *ContentItem) int { return a.DateCreated.Compare(b.DateCreated) }
	case "title":
		return func(a, b *ContentItem) int { return cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)) }
	case "author":
		return func(a, b *ContentItem) int { return cmp.Compare(strings.ToLower(a.Author), strings.ToLower(b.Author)) }
	case "lastmodified", "modified":
		return func(a, b *ContentItem) int { return a.ModifiedOrCreated().Compare(b.ModifiedOrCreated()) }
	case "order":
		return func(a, b *ContentItem) int { return cmp.Compare(a.Order, b.Order) }
	case "slug":
		return func(a, b *ContentItem) int { return cmp.Compare(a.Slug, b.Slug) }
	case "readtime", "read-time", "readtimeminutes":
		return func(a, b *ContentItem) int { return cmp.Compare(a.ReadTimeMinutes, b.ReadTimeMinutes) }
	}
	return nil
}

func containsFold(list []string, v string) bool {
	return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, v) })
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
