package cms_test

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"cms-go/internal/cms"
)

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func queryItems() []*cms.ContentItem {
	return []*cms.ContentItem{
		{ID: "1", Path: "content/blog/a.md", Title: "Alpha", Author: "zoe", DateCreated: day(1), Tags: []string{"Go"},
			Categories: []string{"news"}, Locale: "en", ContentID: "blog/a", Status: cms.StatusPublished, Order: 3, IsFeatured: true},
		{ID: "2", Path: "content/blog/b.md", Title: "bravo", Author: "adam", DateCreated: day(3), Tags: []string{"rust"},
			Categories: []string{"news"}, Locale: "en", ContentID: "blog/b", Status: cms.StatusDraft, Order: 1},
		{ID: "3", Path: "content/fr/blog/a.md", Title: "Alpha FR", DateCreated: day(2), Tags: []string{"go"},
			Locale: "fr", ContentID: "blog/a", Status: cms.StatusPublished, Order: 2, Description: "Une introduction"},
		{ID: "4", Path: "content/guides/setup.md", Title: "Setup", DateCreated: day(3), Content: "<p>Install the toolchain</p>",
			Locale: "en", ContentID: "guides/setup", Status: cms.StatusPublished},
	}
}

func idsOf(items []*cms.ContentItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestApplyQuery_Filters(t *testing.T) {
	yes := true
	from, to := day(2), day(2)
	tests := []struct {
		name string
		q    cms.Query
		want []string
	}{
		{"default order is newest first, ties by path", cms.Query{}, []string{"2", "4", "3", "1"}},
		{"directory prefix on segment boundary", cms.Query{DirectoryPrefix: "/content/blog/"}, []string{"2", "1"}},
		{"category", cms.Query{Category: "NEWS"}, []string{"2", "1"}},
		{"tag is case-insensitive", cms.Query{Tag: "go"}, []string{"3", "1"}},
		{"locale", cms.Query{Locale: "fr"}, []string{"3"}},
		{"localization id", cms.Query{LocalizationID: "blog/a"}, []string{"3", "1"}},
		{"include and exclude", cms.Query{IncludeIDs: []string{"1", "2", "3"}, ExcludeIDs: []string{"2"}}, []string{"3", "1"}},
		{"featured", cms.Query{Featured: &yes}, []string{"1"}},
		{"date range is inclusive", cms.Query{From: &from, To: &to}, []string{"3"}},
		{"search matches any term", cms.Query{Search: "toolchain introduction"}, []string{"4", "3"}},
		{"search in tags", cms.Query{Search: "RUST"}, []string{"2"}},
		{"status", cms.Query{Status: "draft"}, []string{"2"}},
		{"filters combine", cms.Query{Tag: "go", Locale: "en"}, []string{"1"}},
		{"category and tag intersect", cms.Query{Category: "news", Tag: "go"}, []string{"1"}},
		{"no match", cms.Query{Tag: "go", Status: "draft"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := cms.ApplyQuery(context.Background(), queryItems(), tt.q)
			if err != nil {
				t.Fatalf("ApplyQuery() error = %v", err)
			}
			if got := idsOf(res.Items); !slices.Equal(got, tt.want) {
				t.Errorf("ApplyQuery() = %v, want %v", got, tt.want)
			}
			if res.Total != len(tt.want) {
				t.Errorf("Total = %d, want %d", res.Total, len(tt.want))
			}
		})
	}
}

func TestApplyQuery_FiltersIntersect(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		a, b cms.Query
	}{
		{"category and tag", cms.Query{Category: "news"}, cms.Query{Tag: "go"}},
		{"category and status", cms.Query{Category: "news"}, cms.Query{Status: "draft"}},
		{"tag and locale", cms.Query{Tag: "go"}, cms.Query{Locale: "fr"}},
		{"directory and search", cms.Query{DirectoryPrefix: "content/blog"}, cms.Query{Search: "alpha"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, err := cms.ApplyQuery(ctx, queryItems(), tt.a)
			if err != nil {
				t.Fatalf("ApplyQuery() error = %v", err)
			}
			right, err := cms.ApplyQuery(ctx, queryItems(), tt.b)
			if err != nil {
				t.Fatalf("ApplyQuery() error = %v", err)
			}
			want := []string{}
			for _, id := range idsOf(left.Items) {
				if slices.Contains(idsOf(right.Items), id) {
					want = append(want, id)
				}
			}

			combined := tt.a
			combined.Tag = cmp.Or(tt.a.Tag, tt.b.Tag)
			combined.Category = cmp.Or(tt.a.Category, tt.b.Category)
			combined.Status = cmp.Or(tt.a.Status, tt.b.Status)
			combined.Locale = cmp.Or(tt.a.Locale, tt.b.Locale)
			combined.DirectoryPrefix = cmp.Or(tt.a.DirectoryPrefix, tt.b.DirectoryPrefix)
			combined.Search = cmp.Or(tt.a.Search, tt.b.Search)
			res, err := cms.ApplyQuery(ctx, queryItems(), combined)
			if err != nil {
				t.Fatalf("ApplyQuery() error = %v", err)
			}
			if got := idsOf(res.Items); !slices.Equal(got, want) {
				t.Errorf("ApplyQuery(combined) = %v, want intersection %v", got, want)
			}
		})
	}
}

func TestApplyQuery_LocaleFromPath(t *testing.T) {
	rules := cms.LocaleRules{Enabled: true, Default: "de"}
	const root = "blog-root"
	paths := []string{"en/blog/post.md", "blog/post.md"}
	items := make([]*cms.ContentItem, len(paths))
	for i, p := range paths {
		items[i] = &cms.ContentItem{ID: p, Path: p, Locale: rules.ExtractLocale(p, root), DateCreated: day(1)}
	}

	tests := []struct {
		locale string
		want   []string
	}{
		{"en", []string{"en/blog/post.md"}},
		{"de", []string{"blog/post.md"}},
		{"fr", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			res, err := cms.ApplyQuery(context.Background(), items, cms.Query{Locale: tt.locale})
			if err != nil {
				t.Fatalf("ApplyQuery() error = %v", err)
			}
			if got := idsOf(res.Items); !slices.Equal(got, tt.want) {
				t.Errorf("ApplyQuery(locale %s) = %v, want %v", tt.locale, got, tt.want)
			}
		})
	}
}

func TestApplyQuery_Sort(t *testing.T) {
	tests := []struct {
		sortBy string
		desc   bool
		want   []string
	}{
		{cms.SortTitle, false, []string{"1", "3", "2", "4"}},
		{cms.SortAuthor, false, []string{"3", "4", "2", "1"}},
		{cms.SortOrder, true, []string{"1", "3", "2", "4"}},
		{cms.SortCreated, false, []string{"1", "3", "2", "4"}},
		{"date", true, []string{"2", "4", "3", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.sortBy, func(t *testing.T) {
			res, err := cms.ApplyQuery(context.Background(), queryItems(), cms.Query{SortBy: tt.sortBy, Descending: tt.desc})
			if err != nil {
				t.Fatalf("ApplyQuery() error = %v", err)
			}
			if got := idsOf(res.Items); !slices.Equal(got, tt.want) {
				t.Errorf("ApplyQuery() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyQuery_Pagination(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		skip, take int
		want       []string
	}{
		{0, 2, []string{"2", "4"}},
		{2, 2, []string{"3", "1"}},
		{3, 0, []string{"1"}},
		{10, 5, []string{}},
	}
	for _, tt := range tests {
		res, err := cms.ApplyQuery(ctx, queryItems(), cms.Query{Skip: tt.skip, Take: tt.take})
		if err != nil {
			t.Fatalf("ApplyQuery() error = %v", err)
		}
		if got := idsOf(res.Items); !slices.Equal(got, tt.want) || res.Total != 4 {
			t.Errorf("skip=%d take=%d: got %v (total %d), want %v (total 4)", tt.skip, tt.take, got, res.Total, tt.want)
		}
	}
}

func TestApplyQuery_Invalid(t *testing.T) {
	tests := []struct {
		name string
		q    cms.Query
	}{
		{"unknown sort", cms.Query{SortBy: "popularity"}},
		{"negative skip", cms.Query{Skip: -1}},
		{"negative take", cms.Query{Take: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := cms.ApplyQuery(context.Background(), queryItems(), tt.q); !errors.Is(err, cms.ErrValidation) {
				t.Errorf("ApplyQuery() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestApplyQuery_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cms.ApplyQuery(ctx, queryItems(), cms.Query{}); !errors.Is(err, context.Canceled) {
		t.Errorf("ApplyQuery() error = %v, want context.Canceled", err)
	}
}
